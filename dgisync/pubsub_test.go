package dgisync

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

func TestPublishWake_NudgesLocalProcessor(t *testing.T) {
	t.Setenv("QUEUE_WAKE_PUSH_ENABLED", "false")

	p := &QueueProcessor{
		QueueType: models.IntegrationTypePdf,
		wake:      make(chan struct{}, 1),
	}
	RegisterProcessor(p)

	PublishWake(context.Background(), config.QueueWakeMessage{
		BusinessId: "biz-1",
		QueueType:  string(models.IntegrationTypePdf),
		InvoiceId:  7,
	})

	select {
	case <-p.wake:
	default:
		t.Fatal("expected the pdf processor to be woken")
	}
}

func TestPublishWake_IgnoresUnknownQueueType(t *testing.T) {
	t.Setenv("QUEUE_WAKE_PUSH_ENABLED", "false")

	p := &QueueProcessor{
		QueueType: models.IntegrationTypeEmail,
		wake:      make(chan struct{}, 1),
	}
	RegisterProcessor(p)

	PublishWake(context.Background(), config.QueueWakeMessage{
		BusinessId: "biz-1",
		QueueType:  "carrier-pigeon",
		InvoiceId:  7,
	})

	select {
	case <-p.wake:
		t.Fatal("unknown queue type must not wake any processor")
	default:
	}
}
