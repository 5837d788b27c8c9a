package models

import (
	"time"

	"gorm.io/gorm"
)

// ValidationLogEntry is the append-only audit record of one external call
// attempt (or one webhook-driven correction). Never mutated after creation.
type ValidationLogEntry struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	InvoiceId  int             `gorm:"index;not null" json:"invoice_id"`
	JobId      *int            `gorm:"index" json:"job_id"`
	QueueType  IntegrationType `gorm:"size:20;index" json:"queue_type"`

	RequestJSON  []byte `gorm:"type:json" json:"request"`
	ResponseJSON []byte `gorm:"type:json" json:"response"`

	HttpStatus int `gorm:"default:0" json:"http_status"`

	// Status is the pipeline-level outcome: success / http_error / timeout /
	// network_error / config_error / webhook.
	Status string `gorm:"size:32;not null" json:"status"`

	// ValidationResult is the business-level verdict extracted from the
	// response: approved / rejected / error.
	ValidationResult  string `gorm:"size:20" json:"validation_result"`
	ExternalReference string `gorm:"size:255" json:"external_reference"`

	DurationMs int64 `gorm:"default:0" json:"duration_ms"`
	RetryCount int   `gorm:"default:0" json:"retry_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AppendValidationLog inserts one audit row. Insert-only on purpose; there
// is no update path for log entries.
func AppendValidationLog(db *gorm.DB, entry *ValidationLogEntry) error {
	return db.Create(entry).Error
}

func GetValidationLogsForInvoice(db *gorm.DB, businessId string, invoiceId int, limit int) ([]ValidationLogEntry, error) {
	var entries []ValidationLogEntry
	q := db.Where("business_id = ? AND invoice_id = ?", businessId, invoiceId).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
