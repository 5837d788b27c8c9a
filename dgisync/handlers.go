package dgisync

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var validate = validator.New()

// WebhookHandler is the inbound callback surface. External callers
// authenticate with a shared secret header, not a bearer token.
func WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
		if secret != "" && c.GetHeader("X-Webhook-Secret") != secret {
			c.JSON(http.StatusUnauthorized, WebhookResponse{Success: false, Message: "invalid webhook secret"})
			return
		}

		var payload WebhookPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, WebhookResponse{Success: false, Message: "invalid payload"})
			return
		}
		if err := validate.Struct(payload); err != nil {
			c.JSON(http.StatusBadRequest, WebhookResponse{Success: false, Message: "invoice_id or invoice_number is required"})
			return
		}

		result, err := Reconcile(c.Request.Context(), nil, payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, WebhookResponse{Success: false, Message: err.Error()})
			return
		}
		if !result.Found {
			c.JSON(http.StatusNotFound, WebhookResponse{Success: false, Message: "invoice not found"})
			return
		}

		c.JSON(http.StatusOK, WebhookResponse{
			Success:  true,
			RecordId: result.Invoice.ID,
			Status:   string(result.Status),
			Message:  "reconciled",
		})
	}
}

// ConfigStatusHandler reports whether a queue type has an active endpoint
// configured, without exposing credentials.
func ConfigStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		queueType, ok := parseQueueType(c.Param("queueType"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue type"})
			return
		}

		cfg, err := models.GetActiveConfig(c.Request.Context(), nil, businessId, queueType)
		if errors.Is(err, models.ErrNoActiveConfig) {
			c.JSON(http.StatusOK, ConfigStatusResponse{QueueType: string(queueType), Configured: false})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		updatedAt := cfg.UpdatedAt.UTC().Format(time.RFC3339)
		c.JSON(http.StatusOK, ConfigStatusResponse{
			QueueType:  string(queueType),
			Configured: true,
			ConfigName: cfg.Name,
			ApiUrl:     cfg.ApiUrl,
			AuthType:   cfg.AuthType,
			Retries:    cfg.RetryAttempts,
			TimeoutSec: cfg.TimeoutSeconds,
			UpdatedAt:  &updatedAt,
		})
	}
}

// ValidationLogsHandler lists the audit trail for one invoice, newest first.
func ValidationLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		limit := 50
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		db := config.GetDB().WithContext(c.Request.Context())
		entries, err := models.GetValidationLogsForInvoice(db, businessId, invoiceId, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]ValidationLogResponse, 0, len(entries))
		for _, entry := range entries {
			items = append(items, ValidationLogResponse{
				ID:                entry.ID,
				JobId:             entry.JobId,
				QueueType:         string(entry.QueueType),
				HttpStatus:        entry.HttpStatus,
				Status:            entry.Status,
				ValidationResult:  entry.ValidationResult,
				ExternalReference: entry.ExternalReference,
				DurationMs:        entry.DurationMs,
				RetryCount:        entry.RetryCount,
				CreatedAt:         entry.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// RetryJobHandler is the manual retry path: it re-queues the latest failed
// job for one queue type and moves a sent-error invoice back to
// queued-for-delivery. Sent-error is always recoverable.
func RetryJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		var req RetryJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		queueType, ok := parseQueueType(req.QueueType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue type"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())

		var job models.InvoiceQueueJob
		err = db.Where("business_id = ? AND invoice_id = ? AND queue_type = ? AND status = ?",
			businessId, invoiceId, queueType, models.JobStatusFailed).
			Order("id desc").
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no failed job for this queue"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := db.Model(&models.InvoiceQueueJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     models.JobStatusPending,
				"attempts":   0,
				"last_error": nil,
			}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		invoice, err := models.GetInvoiceById(c.Request.Context(), db, businessId, invoiceId)
		if err == nil && invoice.CurrentStatus == models.InvoiceStatusSentError {
			if _, err := TransitionInvoice(db, invoice, models.InvoiceStatusQueuedForDelivery, nil); err != nil {
				config.LogError(config.GetLogger(), "dgisync", "RetryJobHandler", "requeue invoice", invoiceId, err)
			}
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		PublishWake(c.Request.Context(), config.QueueWakeMessage{
			BusinessId:    businessId,
			QueueType:     string(queueType),
			InvoiceId:     invoiceId,
			CorrelationId: cid,
		})

		c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.ID})
	}
}

// PdfUrlHandler hands out a short-lived signed download URL for the stored
// invoice PDF. The object itself never flows through this service.
func PdfUrlHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		invoice, err := models.GetInvoiceById(c.Request.Context(), nil, businessId, invoiceId)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if invoice.PdfObjectKey == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no pdf stored for this invoice"})
			return
		}

		url, err := utils.SignedDownloadURL(invoice.PdfObjectKey, 15*time.Minute)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"url":       url,
			"filename":  invoice.PdfFilename,
			"expiresIn": int((15 * time.Minute).Seconds()),
		})
	}
}

func resolveBusinessID(c *gin.Context) (string, error) {
	if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); ok && strings.TrimSpace(businessId) != "" {
		return businessId, nil
	}
	businessId := strings.TrimSpace(c.Query("business_id"))
	if businessId == "" {
		businessId = strings.TrimSpace(c.GetHeader("x-business-id"))
	}
	if businessId == "" {
		return "", errors.New("business_id is required")
	}
	// The tenant guard keys off this context value; set it so every query
	// downstream of this handler is scoped automatically.
	c.Request = c.Request.WithContext(utils.SetBusinessIdInContext(c.Request.Context(), businessId))
	return businessId, nil
}

func parseQueueType(raw string) (models.IntegrationType, bool) {
	queueType := models.IntegrationType(strings.ToLower(strings.TrimSpace(raw)))
	switch queueType {
	case models.IntegrationTypeValidation, models.IntegrationTypePdf, models.IntegrationTypeEmail:
		return queueType, true
	}
	return "", false
}
