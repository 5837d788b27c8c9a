package models

// InvoiceStatus is the authoritative state-machine position of an invoice.
// Transitions are validated by dgisync.CanTransition; nothing else should
// write CurrentStatus directly.
type InvoiceStatus string

const (
	InvoiceStatusDraft             InvoiceStatus = "Draft"
	InvoiceStatusPendingValidation InvoiceStatus = "PendingValidation"
	InvoiceStatusValidated         InvoiceStatus = "Validated"
	InvoiceStatusRejected          InvoiceStatus = "Rejected"
	InvoiceStatusQueuedForDelivery InvoiceStatus = "QueuedForDelivery"
	InvoiceStatusSent              InvoiceStatus = "Sent"
	InvoiceStatusSentError         InvoiceStatus = "SentError"
)

// IntegrationType discriminates which external endpoint a config or queue
// job targets.
type IntegrationType string

const (
	IntegrationTypeValidation IntegrationType = "validation"
	IntegrationTypePdf        IntegrationType = "pdf"
	IntegrationTypeEmail      IntegrationType = "email"
)

// Queue job statuses for InvoiceQueueJob.Status.
// Keep these as strings (DB values) for backwards compatibility.
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusSent       = "SENT"
	JobStatusFailed     = "FAILED"
)

// Auth schemes for IntegrationConfig.AuthType.
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeBearer = "bearer"
	AuthTypeApiKey = "api_key"
)

// Validation results extracted from external responses.
const (
	ValidationResultApproved = "approved"
	ValidationResultRejected = "rejected"
	ValidationResultError    = "error"
)
