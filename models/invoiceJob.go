package models

import (
	"time"

	"gorm.io/gorm"
)

// InvoiceQueueJob is one pending unit of work tying an invoice to one
// external integration. Terminal at SENT or FAILED; PENDING is re-enterable
// (retry-after-failure, manual retry, webhook-driven retry).
type InvoiceQueueJob struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	InvoiceId  int             `gorm:"index;not null" json:"invoice_id"`
	QueueType  IntegrationType `gorm:"size:20;not null;index" json:"queue_type"`
	Status     string          `gorm:"size:20;not null;default:'PENDING';index" json:"status"`

	// Priority is optional; NULL sorts as lowest.
	Priority *int `gorm:"default:null" json:"priority"`

	Attempts    int        `gorm:"default:0" json:"attempts"`
	LastError   *string    `gorm:"type:text" json:"last_error"`
	ClaimedAt   *time.Time `json:"claimed_at"`
	ClaimedBy   *string    `gorm:"size:100" json:"claimed_by"`
	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SelectPendingJobs returns up to limit claimable jobs for one queue type,
// priority first (NULL last), oldest first. PROCESSING rows whose claim is
// older than staleBefore are re-eligible (worker crashed mid-job).
func SelectPendingJobs(db *gorm.DB, businessId string, queueType IntegrationType, limit int, staleBefore time.Time) ([]InvoiceQueueJob, error) {
	var jobs []InvoiceQueueJob
	q := db.Where("queue_type = ?", queueType).
		Where(`
			status = ?
			OR (status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?)
		`, JobStatusPending, JobStatusProcessing, staleBefore).
		Order("priority IS NULL, priority DESC, created_at ASC").
		Limit(limit)
	if businessId != "" {
		q = q.Where("business_id = ?", businessId)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ClaimJob atomically moves one job to PROCESSING. The conditional update is
// the serialization point: given two concurrent claims exactly one sees
// RowsAffected == 1. Claim-then-act, never act-then-claim.
func ClaimJob(db *gorm.DB, jobID int, workerID string, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	res := db.Model(&InvoiceQueueJob{}).
		Where("id = ?", jobID).
		Where(`
			status = ?
			OR (status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?)
		`, JobStatusPending, JobStatusProcessing, staleBefore).
		Updates(map[string]interface{}{
			"status":     JobStatusProcessing,
			"claimed_at": &now,
			"claimed_by": &workerID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (j InvoiceQueueJob) GetCursor() string {
	return j.CreatedAt.String()
}
