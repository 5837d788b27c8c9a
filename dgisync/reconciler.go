package dgisync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"gorm.io/gorm"
)

const logStatusWebhook = "webhook"

type ReconcileResult struct {
	Found   bool
	Invoice *models.Invoice
	Status  models.InvoiceStatus
}

// Reconcile applies an out-of-band callback to an invoice: partial update of
// only the fields present in the payload, idempotent under replay. The
// webhook never creates records; an unmatched identifier reports not-found.
func Reconcile(ctx context.Context, db *gorm.DB, payload WebhookPayload) (*ReconcileResult, error) {
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	logger := config.GetLogger()

	invoice, err := lookupInvoice(db, payload)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ReconcileResult{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	setIfPresent := func(column, value string) {
		if value != "" {
			updates[column] = value
		}
	}
	setIfPresent("authorization_code", payload.AuthorizationCode)
	setIfPresent("external_reference", payload.ExternalReference)
	setIfPresent("qr_payload", payload.QrPayload)
	setIfPresent("issuer_name", payload.IssuerName)
	setIfPresent("issuer_tax_id", payload.IssuerTaxId)
	setIfPresent("observations", payload.Message)

	// A webhook-delivered PDF is stored in GCS; only metadata lands on the
	// record. A bad or unstorable document does not block the rest of the
	// update.
	if payload.Pdf != nil && payload.Pdf.Base64 != "" {
		data, decErr := base64.StdEncoding.DecodeString(payload.Pdf.Base64)
		if decErr != nil {
			config.LogError(logger, "dgisync", "Reconcile", "decode pdf payload", invoice.ID, decErr)
		} else {
			filename := payload.Pdf.Filename
			if filename == "" {
				filename = invoice.InvoiceNumber + ".pdf"
			}
			objectKey := fmt.Sprintf("invoices/%s/%d/%s", invoice.BusinessId, invoice.ID, filename)
			if upErr := utils.UploadBytesToGCS(ctx, objectKey, data, "application/pdf"); upErr != nil {
				config.LogError(logger, "dgisync", "Reconcile", "upload pdf", invoice.ID, upErr)
			} else {
				size := payload.Pdf.Size
				if size == 0 {
					size = int64(len(data))
				}
				updates["pdf_object_key"] = objectKey
				updates["pdf_filename"] = filename
				updates["pdf_size"] = size
			}
		}
	}

	newStatus := ParseWebhookStatus(payload.Status)
	if newStatus == "" {
		newStatus = ParseWebhookStatus(payload.ExternalStatus)
	}
	if newStatus != "" && CanWebhookTransition(invoice.CurrentStatus, newStatus) {
		updates["current_status"] = newStatus
		if newStatus == models.InvoiceStatusValidated || newStatus == models.InvoiceStatusRejected {
			updates["pending_validation"] = false
		}
	}

	if len(updates) > 0 {
		if err := db.Model(&models.Invoice{}).
			Where("id = ? AND business_id = ?", invoice.ID, invoice.BusinessId).
			Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	if hasDeliveryOutcome(payload) {
		appendWebhookLog(db, invoice, payload, newStatus)
	}

	finalStatus := invoice.CurrentStatus
	if s, ok := updates["current_status"].(models.InvoiceStatus); ok {
		finalStatus = s
	}
	invoice.CurrentStatus = finalStatus
	return &ReconcileResult{Found: true, Invoice: invoice, Status: finalStatus}, nil
}

// lookupInvoice resolves by id first, falling back to the business key.
// BusinessId scopes the lookup when the caller provides it.
func lookupInvoice(db *gorm.DB, payload WebhookPayload) (*models.Invoice, error) {
	if payload.InvoiceId > 0 {
		var invoice models.Invoice
		q := db.Where("id = ?", payload.InvoiceId)
		if payload.BusinessId != "" {
			q = q.Where("business_id = ?", payload.BusinessId)
		}
		err := q.Take(&invoice).Error
		if err == nil {
			return &invoice, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if payload.InvoiceNumber != "" {
		var invoice models.Invoice
		q := db.Where("invoice_number = ?", payload.InvoiceNumber)
		if payload.BusinessId != "" {
			q = q.Where("business_id = ?", payload.BusinessId)
		}
		err := q.Take(&invoice).Error
		if err == nil {
			return &invoice, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, gorm.ErrRecordNotFound
}

func hasDeliveryOutcome(payload WebhookPayload) bool {
	return payload.AuthorizationCode != "" || payload.ExternalStatus != "" || payload.ExternalReference != ""
}

// appendWebhookLog mirrors the queue processors' audit logging so the trail
// is complete regardless of which path produced the transition.
func appendWebhookLog(db *gorm.DB, invoice *models.Invoice, payload WebhookPayload, newStatus models.InvoiceStatus) {
	// The stored request omits the PDF body; the document itself lives in
	// GCS.
	slim := payload
	slim.Pdf = nil
	raw, _ := json.Marshal(slim)

	verdict := ""
	switch newStatus {
	case models.InvoiceStatusValidated:
		verdict = models.ValidationResultApproved
	case models.InvoiceStatusRejected:
		verdict = models.ValidationResultRejected
	}

	entry := &models.ValidationLogEntry{
		BusinessId:        invoice.BusinessId,
		InvoiceId:         invoice.ID,
		QueueType:         models.IntegrationTypeValidation,
		RequestJSON:       raw,
		Status:            logStatusWebhook,
		ValidationResult:  verdict,
		ExternalReference: payload.ExternalReference,
	}
	if err := models.AppendValidationLog(db, entry); err != nil {
		config.LogError(config.GetLogger(), "dgisync", "appendWebhookLog", "append validation log", invoice.ID, err)
	}
}
