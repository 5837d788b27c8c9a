package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/dgisync"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"gorm.io/gorm"
)

var ErrNotEligible = errors.New("invoice is not eligible for this queue")

// QueueInvoiceForValidation marks an invoice eligible for the validation
// queue and ensures exactly one open job exists for it. A rejected invoice
// may re-enter after correction.
func QueueInvoiceForValidation(ctx context.Context, db *gorm.DB, businessId string, invoiceId int) (*models.InvoiceQueueJob, error) {
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	invoice, err := models.GetInvoiceById(ctx, db, businessId, invoiceId)
	if err != nil {
		return nil, err
	}

	extra := map[string]interface{}{"pending_validation": true}
	switch invoice.CurrentStatus {
	case models.InvoiceStatusDraft, models.InvoiceStatusRejected:
		ok, err := dgisync.TransitionInvoice(db, invoice, models.InvoiceStatusPendingValidation, extra)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotEligible
		}
	case models.InvoiceStatusPendingValidation:
		if err := db.Model(&models.Invoice{}).
			Where("id = ? AND business_id = ?", invoice.ID, invoice.BusinessId).
			Updates(extra).Error; err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotEligible
	}

	job, err := ensureJob(db, businessId, invoiceId, models.IntegrationTypeValidation)
	if err != nil {
		return nil, err
	}
	notifyQueue(ctx, businessId, invoiceId, models.IntegrationTypeValidation)
	return job, nil
}

// QueueInvoiceForDelivery queues a validated invoice for PDF or email
// delivery. Sent-error re-queues (always recoverable), and an invoice
// already sent on one channel may be queued on another.
func QueueInvoiceForDelivery(ctx context.Context, db *gorm.DB, businessId string, invoiceId int, queueType models.IntegrationType) (*models.InvoiceQueueJob, error) {
	if queueType != models.IntegrationTypePdf && queueType != models.IntegrationTypeEmail {
		return nil, ErrNotEligible
	}
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	invoice, err := models.GetInvoiceById(ctx, db, businessId, invoiceId)
	if err != nil {
		return nil, err
	}

	switch invoice.CurrentStatus {
	case models.InvoiceStatusValidated, models.InvoiceStatusSentError, models.InvoiceStatusSent:
		ok, err := dgisync.TransitionInvoice(db, invoice, models.InvoiceStatusQueuedForDelivery, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotEligible
		}
	case models.InvoiceStatusQueuedForDelivery:
		// Already queued; just make sure a job exists.
	default:
		return nil, ErrNotEligible
	}

	job, err := ensureJob(db, businessId, invoiceId, queueType)
	if err != nil {
		return nil, err
	}
	notifyQueue(ctx, businessId, invoiceId, queueType)
	return job, nil
}

// ensureJob returns the open job for (invoice, queue type), creating one if
// none is pending or processing. One open job per pair at a time.
func ensureJob(db *gorm.DB, businessId string, invoiceId int, queueType models.IntegrationType) (*models.InvoiceQueueJob, error) {
	var existing models.InvoiceQueueJob
	err := db.Where("business_id = ? AND invoice_id = ? AND queue_type = ? AND status IN ?",
		businessId, invoiceId, queueType, []string{models.JobStatusPending, models.JobStatusProcessing}).
		Order("id desc").
		Take(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	job := models.InvoiceQueueJob{
		BusinessId: businessId,
		InvoiceId:  invoiceId,
		QueueType:  queueType,
		Status:     models.JobStatusPending,
	}
	if err := db.Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// notifyQueue nudges the poller for the queue an invoice just became
// eligible on. Best-effort.
func notifyQueue(ctx context.Context, businessId string, invoiceId int, queueType models.IntegrationType) {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	dgisync.PublishWake(ctx, config.QueueWakeMessage{
		BusinessId:    businessId,
		QueueType:     string(queueType),
		InvoiceId:     invoiceId,
		CorrelationId: cid,
	})
}
