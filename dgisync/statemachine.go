package dgisync

import (
	"strings"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"gorm.io/gorm"
)

// forwardTransitions is the legal set of status moves a queue processor or
// the eligibility workflow may make. Backward moves are reserved for webhook
// corrections. Sent -> QueuedForDelivery exists because "sent" is terminal
// per delivery channel only: an invoice already emailed may still be queued
// for PDF delivery.
var forwardTransitions = map[models.InvoiceStatus][]models.InvoiceStatus{
	models.InvoiceStatusDraft:             {models.InvoiceStatusPendingValidation},
	models.InvoiceStatusPendingValidation: {models.InvoiceStatusValidated, models.InvoiceStatusRejected},
	models.InvoiceStatusRejected:          {models.InvoiceStatusPendingValidation},
	models.InvoiceStatusValidated:         {models.InvoiceStatusQueuedForDelivery},
	models.InvoiceStatusQueuedForDelivery: {models.InvoiceStatusSent, models.InvoiceStatusSentError},
	models.InvoiceStatusSentError:         {models.InvoiceStatusQueuedForDelivery},
	models.InvoiceStatusSent:              {models.InvoiceStatusQueuedForDelivery},
}

func CanTransition(from, to models.InvoiceStatus) bool {
	for _, allowed := range forwardTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanWebhookTransition is the webhook's wider rule set: the webhook is a
// first-class transition source and may also correct a record backward.
// Replaying the same callback (from == to) is allowed so reconciliation
// stays idempotent.
func CanWebhookTransition(from, to models.InvoiceStatus) bool {
	if !KnownStatus(to) {
		return false
	}
	return true
}

func KnownStatus(s models.InvoiceStatus) bool {
	switch s {
	case models.InvoiceStatusDraft,
		models.InvoiceStatusPendingValidation,
		models.InvoiceStatusValidated,
		models.InvoiceStatusRejected,
		models.InvoiceStatusQueuedForDelivery,
		models.InvoiceStatusSent,
		models.InvoiceStatusSentError:
		return true
	}
	return false
}

// ParseWebhookStatus maps the loose status vocabulary external systems send
// into the internal state machine. Empty string means "no recognizable
// status in the payload".
func ParseWebhookStatus(raw string) models.InvoiceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return models.InvoiceStatusDraft
	case "pending_validation", "pending":
		return models.InvoiceStatusPendingValidation
	case "validated", "approved":
		return models.InvoiceStatusValidated
	case "rejected":
		return models.InvoiceStatusRejected
	case "queued_for_delivery", "queued":
		return models.InvoiceStatusQueuedForDelivery
	case "sent":
		return models.InvoiceStatusSent
	case "sent_error", "sent-error", "error":
		return models.InvoiceStatusSentError
	default:
		return ""
	}
}

// TransitionInvoice moves the invoice to a new status with a conditional
// update guarded on the current status, so a concurrent writer cannot
// interleave between read and write. Extra columns ride along in the same
// update. Returns false without error when the transition is not legal or
// the guard missed.
func TransitionInvoice(db *gorm.DB, invoice *models.Invoice, to models.InvoiceStatus, extra map[string]interface{}) (bool, error) {
	if invoice.CurrentStatus == to {
		if len(extra) == 0 {
			return true, nil
		}
		err := db.Model(&models.Invoice{}).
			Where("id = ? AND business_id = ?", invoice.ID, invoice.BusinessId).
			Updates(extra).Error
		return err == nil, err
	}
	if !CanTransition(invoice.CurrentStatus, to) {
		return false, nil
	}

	updates := map[string]interface{}{"current_status": to}
	for column, value := range extra {
		updates[column] = value
	}
	res := db.Model(&models.Invoice{}).
		Where("id = ? AND business_id = ? AND current_status = ?", invoice.ID, invoice.BusinessId, invoice.CurrentStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		invoice.CurrentStatus = to
		return true, nil
	}
	return false, nil
}
