package dgisync

import "time"

// OutcomeKind is the closed taxonomy of executor results. The caller decides
// what to do with each kind; the executor only reports.
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeHttpError    OutcomeKind = "http_error"
	OutcomeTimeout      OutcomeKind = "timeout"
	OutcomeNetworkError OutcomeKind = "network_error"
)

// Outcome is the normalized result of one executor invocation: the final
// attempt's result plus totals across the whole retry loop. Execute never
// returns an error; every failure mode is an Outcome.
type Outcome struct {
	Kind       OutcomeKind
	HttpStatus int
	Body       map[string]interface{}
	RawBody    []byte
	Message    string
	Attempts   int
	Elapsed    time.Duration
}

// AttemptInfo describes one attempt inside the retry loop, including
// attempts that were later retried.
type AttemptInfo struct {
	Index      int
	Kind       OutcomeKind
	HttpStatus int
	RawBody    []byte
	Duration   time.Duration
	Message    string
}

// ExecuteRequest is one fully-decided delivery call: the executor runs the
// retry loop end-to-end and reports, it never chooses retry policy itself.
type ExecuteRequest struct {
	Url        string
	Method     string
	Headers    map[string]string
	Body       map[string]interface{}
	Timeout    time.Duration
	MaxRetries int

	AuthType     string
	AuthUsername string
	AuthPassword string
	AuthToken    string
	ApiKeyHeader string
	ApiKey       string

	// BackoffUnit scales the linear backoff between attempts. Zero means
	// one second per attempt index.
	BackoffUnit time.Duration

	// OnAttempt observes every attempt as it completes, retried ones
	// included. Audit logging hangs off this.
	OnAttempt func(a AttemptInfo)
}

type WebhookPdf struct {
	Id       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Base64   string `json:"content_base64"`
}

// WebhookPayload is the inbound callback body. Only the identifier is
// required; every other field is applied only when present.
type WebhookPayload struct {
	InvoiceId     int    `json:"invoice_id" validate:"required_without=InvoiceNumber"`
	InvoiceNumber string `json:"invoice_number" validate:"required_without=InvoiceId"`
	BusinessId    string `json:"business_id"`

	Status            string `json:"status"`
	AuthorizationCode string `json:"authorization_code"`
	Message           string `json:"message"`
	ExternalStatus    string `json:"external_status"`
	ExternalReference string `json:"external_reference"`
	QrPayload         string `json:"qr_payload"`
	IssuerName        string `json:"issuer_name"`
	IssuerTaxId       string `json:"issuer_tax_id"`

	Pdf *WebhookPdf `json:"pdf"`
}

type WebhookResponse struct {
	Success  bool   `json:"success"`
	RecordId int    `json:"record_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

type ConfigStatusResponse struct {
	QueueType  string  `json:"queueType"`
	Configured bool    `json:"configured"`
	ConfigName string  `json:"configName,omitempty"`
	ApiUrl     string  `json:"apiUrl,omitempty"`
	AuthType   string  `json:"authType,omitempty"`
	Retries    int     `json:"retryAttempts"`
	TimeoutSec int     `json:"timeoutSeconds"`
	UpdatedAt  *string `json:"updatedAt,omitempty"`
}

type ValidationLogResponse struct {
	ID                int    `json:"id"`
	JobId             *int   `json:"jobId"`
	QueueType         string `json:"queueType"`
	HttpStatus        int    `json:"httpStatus"`
	Status            string `json:"status"`
	ValidationResult  string `json:"validationResult"`
	ExternalReference string `json:"externalReference"`
	DurationMs        int64  `json:"durationMs"`
	RetryCount        int    `json:"retryCount"`
	CreatedAt         string `json:"createdAt"`
}

type RetryJobRequest struct {
	QueueType string `json:"queue_type" binding:"required"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
