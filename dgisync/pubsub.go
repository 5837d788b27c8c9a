package dgisync

import (
	"context"
	"io"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"github.com/gin-gonic/gin"
)

// wakeSuppressWindow bounds how often one queue's wake message is published;
// bursts inside the window collapse into a single publish.
const wakeSuppressWindow = 2 * time.Second

func wakeSuppressionKey(queueType models.IntegrationType) string {
	return "queue:wake:suppress:" + string(queueType)
}

var (
	processorsMu sync.RWMutex
	processors   = map[models.IntegrationType]*QueueProcessor{}
)

// RegisterProcessor makes a running processor reachable by wake messages.
func RegisterProcessor(p *QueueProcessor) {
	processorsMu.Lock()
	processors[p.QueueType] = p
	processorsMu.Unlock()
}

// WakeQueue nudges the local processor for one queue type, if any.
func WakeQueue(queueType models.IntegrationType) {
	processorsMu.RLock()
	p := processors[queueType]
	processorsMu.RUnlock()
	if p != nil {
		p.Wake()
	}
}

// PublishWake nudges the local poller and, when push is enabled, publishes a
// wake message so other instances re-poll too. A redis suppression key
// debounces the publish side; the worker clears it after each completed
// cycle. Best-effort on every leg.
func PublishWake(ctx context.Context, msg config.QueueWakeMessage) {
	queueType, ok := parseQueueType(msg.QueueType)
	if !ok {
		return
	}
	WakeQueue(queueType)
	if !config.QueueWakePushEnabled() {
		return
	}

	key := wakeSuppressionKey(queueType)
	if _, suppressed, err := config.GetRedisValue(key); err == nil && suppressed {
		return
	}
	if err := config.SetRedisValue(key, "1", wakeSuppressWindow); err != nil {
		config.LogError(config.GetLogger(), "dgisync", "PublishWake", "set suppression key", msg.InvoiceId, err)
	}
	if _, err := config.PublishQueueWake(ctx, msg); err != nil {
		config.LogError(config.GetLogger(), "dgisync", "PublishWake", msg.QueueType, msg.InvoiceId, err)
	}
}

// QueueWakePushHandler receives Pub/Sub push deliveries of wake messages and
// triggers an immediate re-poll of the matching queue. Always 204: a bad
// message should be dropped, not redelivered forever.
func QueueWakePushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.QueueWakePushEnabled() {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := utils.UnmarshalFromJSON(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var msg config.QueueWakeMessage
		if err := utils.UnmarshalFromJSON(envelope.Message.Data, &msg); err != nil {
			c.Status(204)
			return
		}

		if queueType, ok := parseQueueType(msg.QueueType); ok {
			WakeQueue(queueType)
		}
		c.Status(204)
	}
}
