package dgisync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/mapping"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const logStatusMalformed = "malformed_response"
const logStatusConfigError = "config_error"

// QueueProcessor owns one queue type's polling state exclusively; there is
// no shared mutable flag between queues. Three instances (validation, pdf,
// email) share this logic against different integration configs.
type QueueProcessor struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	QueueType    models.IntegrationType
	WorkerID     string
	BatchSize    int
	PollInterval time.Duration
	ClaimTTL     time.Duration
	WakeDelay    time.Duration
	BackoffUnit  time.Duration

	wake chan struct{}
}

func NewQueueProcessor(queueType models.IntegrationType) *QueueProcessor {
	return &QueueProcessor{
		Logger:       config.GetLogger(),
		QueueType:    queueType,
		WorkerID:     string(queueType) + "-" + uuid.NewString(),
		BatchSize:    intFromEnv("QUEUE_BATCH_SIZE", 5),
		PollInterval: time.Duration(intFromEnv("QUEUE_POLL_INTERVAL_SECONDS", 30)) * time.Second,
		ClaimTTL:     time.Duration(intFromEnv("QUEUE_CLAIM_TTL_SECONDS", 300)) * time.Second,
		WakeDelay:    2 * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

func (p *QueueProcessor) db() *gorm.DB {
	if p.DB != nil {
		return p.DB
	}
	return config.GetDB()
}

// Wake requests an immediate re-poll. Non-blocking; a burst of wakes while
// a cycle is pending collapses into one.
func (p *QueueProcessor) Wake() {
	if p.wake == nil {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run polls on a fixed interval plus event-triggered wakes until the
// context is canceled.
func (p *QueueProcessor) Run(ctx context.Context) {
	if p.wake == nil {
		p.wake = make(chan struct{}, 1)
	}
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
			// Debounce so a burst of eligibility changes produces one cycle.
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.WakeDelay):
			}
		}
		p.ProcessOnce(ctx)
	}
}

// ProcessOnce runs one polling cycle and returns the number of jobs claimed.
func (p *QueueProcessor) ProcessOnce(ctx context.Context) int {
	leaseTTL := p.PollInterval
	if leaseTTL < 10*time.Second {
		leaseTTL = 10 * time.Second
	}
	release, ok := acquirePollLease(ctx, p.QueueType, leaseTTL)
	if !ok {
		return 0
	}
	defer release()

	db := p.db()
	if db == nil {
		return 0
	}

	staleBefore := time.Now().UTC().Add(-p.ClaimTTL)
	jobs, err := models.SelectPendingJobs(db, "", p.QueueType, p.batchSize(), staleBefore)
	if err != nil {
		config.LogError(p.Logger, "dgisync", "ProcessOnce", "select pending jobs", nil, err)
		return 0
	}

	claimed := 0
	for _, job := range jobs {
		ok, err := models.ClaimJob(db, job.ID, p.WorkerID, staleBefore)
		if err != nil {
			config.LogError(p.Logger, "dgisync", "ProcessOnce", "claim job", job.ID, err)
			continue
		}
		if !ok {
			// Lost the claim race to another instance.
			continue
		}
		claimed++
		p.runClaimed(ctx, job)
	}

	// The cycle ran; let the next eligibility change publish a fresh wake.
	if err := config.RemoveRedisKey(wakeSuppressionKey(p.QueueType)); err != nil {
		config.LogError(p.Logger, "dgisync", "ProcessOnce", "clear wake suppression", nil, err)
	}
	return claimed
}

func (p *QueueProcessor) batchSize() int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	return 5
}

// runClaimed isolates one job so a panic cannot stop the remaining jobs in
// the same cycle.
func (p *QueueProcessor) runClaimed(ctx context.Context, job models.InvoiceQueueJob) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic processing job %d: %v", job.ID, r)
			config.LogError(p.Logger, "dgisync", "runClaimed", "job panic", job.ID, err)
			p.returnJobPending(p.db(), job, job.Attempts+1, err.Error())
		}
	}()
	p.processJob(ctx, job)
}

func (p *QueueProcessor) processJob(ctx context.Context, job models.InvoiceQueueJob) {
	db := p.db()

	invoice, err := models.GetInvoiceById(ctx, db, job.BusinessId, job.InvoiceId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.failConfig(db, job, nil, "configuration error: invoice not found")
			return
		}
		// Store hiccup, not a data problem: retry on a later cycle without
		// consuming an attempt.
		p.returnJobPending(db, job, job.Attempts, "invoice lookup failed: "+err.Error())
		return
	}

	cfg, err := models.GetActiveConfig(ctx, db, job.BusinessId, p.QueueType)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveConfig) {
			p.failConfig(db, job, invoice, fmt.Sprintf("configuration error: no active %s config", p.QueueType))
			return
		}
		// Store hiccup, not a config problem: retry on a later cycle
		// without consuming an attempt.
		p.returnJobPending(db, job, job.Attempts, "config lookup failed: "+err.Error())
		return
	}

	requestSpec, err := mapping.DecodeMapping(cfg.RequestMappingJSON)
	if err != nil {
		p.failConfig(db, job, invoice, "configuration error: malformed request mapping: "+err.Error())
		return
	}
	responseSpec, err := mapping.DecodeMapping(cfg.ResponseMappingJSON)
	if err != nil {
		p.failConfig(db, job, invoice, "configuration error: malformed response mapping: "+err.Error())
		return
	}

	buildCtx, err := p.buildContext(ctx, db, invoice, cfg)
	if err != nil {
		p.failConfig(db, job, invoice, "configuration error: cannot build mapping context: "+err.Error())
		return
	}

	headers, err := decodeHeaders(cfg.HeadersJSON)
	if err != nil {
		p.failConfig(db, job, invoice, "configuration error: malformed headers: "+err.Error())
		return
	}

	payload := mapping.BuildRequest(requestSpec, buildCtx)
	rawRequest, _ := json.Marshal(payload)

	// Validation retries across polling cycles (the job goes back to
	// pending); pdf/email retry inside the executor call. Two named
	// strategies with different failure-storm characteristics.
	maxRetries := 0
	if p.QueueType != models.IntegrationTypeValidation {
		maxRetries = cfg.RetryAttempts
	}

	outcome := Execute(ctx, ExecuteRequest{
		Url:          cfg.ApiUrl,
		Method:       http.MethodPost,
		Headers:      mapping.ResolveHeaders(headers, buildCtx),
		Body:         payload,
		Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxRetries:   maxRetries,
		AuthType:     cfg.AuthType,
		AuthUsername: cfg.AuthUsername,
		AuthPassword: cfg.AuthPassword,
		AuthToken:    cfg.AuthToken,
		ApiKeyHeader: cfg.ApiKeyHeader,
		ApiKey:       cfg.ApiKey,
		BackoffUnit:  p.BackoffUnit,
		OnAttempt: func(a AttemptInfo) {
			if a.Kind == OutcomeSuccess {
				// The success row is written after extraction so it can
				// carry the verdict.
				return
			}
			p.appendLog(db, job, rawRequest, a.RawBody, a.HttpStatus, string(a.Kind), "", "", a.Duration, job.Attempts+a.Index)
		},
	})

	if outcome.Kind == OutcomeSuccess {
		p.handleSuccess(db, job, invoice, cfg, responseSpec, rawRequest, outcome)
		return
	}

	lastErr := outcome.Message
	if lastErr == "" {
		lastErr = fmt.Sprintf("%s (http %d)", outcome.Kind, outcome.HttpStatus)
	}
	p.handleFailure(db, job, invoice, cfg, outcome.Attempts, lastErr)
}

func (p *QueueProcessor) handleSuccess(db *gorm.DB, job models.InvoiceQueueJob, invoice *models.Invoice, cfg *models.IntegrationConfig, responseSpec map[string]interface{}, rawRequest []byte, outcome Outcome) {
	extracted := mapping.ExtractResponse(responseSpec, outcome.Body)
	verdict := strings.ToLower(strings.TrimSpace(asString(extracted["validation_result"])))
	extRef := asString(extracted["external_reference"])
	finalRetry := job.Attempts + outcome.Attempts - 1

	if p.QueueType != models.IntegrationTypeValidation {
		updates := map[string]interface{}{"observations": ""}
		if extRef != "" {
			updates["external_reference"] = extRef
		}
		p.transitionOrLog(db, invoice, models.InvoiceStatusSent, updates)
		p.appendLog(db, job, rawRequest, outcome.RawBody, outcome.HttpStatus, string(OutcomeSuccess), "", extRef, outcome.Elapsed, finalRetry)
		p.markJobSent(db, job)
		return
	}

	switch verdict {
	case models.ValidationResultApproved:
		p.transitionOrLog(db, invoice, models.InvoiceStatusValidated, approvedUpdates(extracted))
		p.appendLog(db, job, rawRequest, outcome.RawBody, outcome.HttpStatus, string(OutcomeSuccess), verdict, extRef, outcome.Elapsed, finalRetry)
		p.markJobSent(db, job)

	case models.ValidationResultRejected:
		reason := asString(extracted["message"])
		if reason == "" {
			reason = "invoice rejected by external validator"
		}
		p.transitionOrLog(db, invoice, models.InvoiceStatusRejected, map[string]interface{}{
			"observations":       reason,
			"pending_validation": false,
		})
		p.appendLog(db, job, rawRequest, outcome.RawBody, outcome.HttpStatus, string(OutcomeSuccess), verdict, extRef, outcome.Elapsed, finalRetry)
		// The call itself succeeded; a rejection needs a corrected record
		// and a fresh job, never an automatic retry.
		p.markJobSent(db, job)

	default:
		// 2xx but no recognizable verdict: possibly a transient upstream
		// bug, retried like a transient error.
		p.appendLog(db, job, rawRequest, outcome.RawBody, outcome.HttpStatus, logStatusMalformed, verdict, extRef, outcome.Elapsed, finalRetry)
		p.handleFailure(db, job, invoice, cfg, outcome.Attempts, "response is missing validation_result")
	}
}

func (p *QueueProcessor) handleFailure(db *gorm.DB, job models.InvoiceQueueJob, invoice *models.Invoice, cfg *models.IntegrationConfig, attemptsMade int, lastErr string) {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	newAttempts := job.Attempts + attemptsMade

	if newAttempts < cfg.RetryAttempts+1 {
		p.returnJobPending(db, job, newAttempts, lastErr)
		return
	}

	p.failJobTerminal(db, job, newAttempts, lastErr)
	if invoice == nil {
		return
	}
	if p.QueueType == models.IntegrationTypeValidation {
		// No terminal validation-failure state exists; the record keeps its
		// position and surfaces the reason through observations so a fixed
		// config plus manual retry can pick it back up.
		p.updateObservations(db, invoice, lastErr)
		return
	}
	if ok := p.transitionOrLog(db, invoice, models.InvoiceStatusSentError, map[string]interface{}{"observations": lastErr}); !ok {
		p.updateObservations(db, invoice, lastErr)
	}
}

// failConfig is the fatal path: the job goes straight to failed without
// consuming any retry attempt, and the record gets a descriptive
// observations string.
func (p *QueueProcessor) failConfig(db *gorm.DB, job models.InvoiceQueueJob, invoice *models.Invoice, reason string) {
	p.appendLog(db, job, nil, nil, 0, logStatusConfigError, "", "", 0, job.Attempts)
	p.failJobTerminal(db, job, job.Attempts, reason)
	if invoice == nil {
		return
	}
	if p.QueueType == models.IntegrationTypeValidation {
		p.updateObservations(db, invoice, reason)
		return
	}
	if ok := p.transitionOrLog(db, invoice, models.InvoiceStatusSentError, map[string]interface{}{"observations": reason}); !ok {
		p.updateObservations(db, invoice, reason)
	}
}

func (p *QueueProcessor) transitionOrLog(db *gorm.DB, invoice *models.Invoice, to models.InvoiceStatus, extra map[string]interface{}) bool {
	ok, err := TransitionInvoice(db, invoice, to, extra)
	if err != nil {
		config.LogError(p.Logger, "dgisync", "transitionOrLog", string(to), invoice.ID, err)
		return false
	}
	if !ok {
		p.Logger.WithFields(logrus.Fields{
			"invoice_id": invoice.ID,
			"from":       invoice.CurrentStatus,
			"to":         to,
			"queue_type": p.QueueType,
		}).Warn("illegal or raced status transition skipped")
	}
	return ok
}

func (p *QueueProcessor) updateObservations(db *gorm.DB, invoice *models.Invoice, reason string) {
	if err := db.Model(&models.Invoice{}).
		Where("id = ? AND business_id = ?", invoice.ID, invoice.BusinessId).
		Update("observations", reason).Error; err != nil {
		config.LogError(p.Logger, "dgisync", "updateObservations", "update invoice", invoice.ID, err)
	}
}

func (p *QueueProcessor) markJobSent(db *gorm.DB, job models.InvoiceQueueJob) {
	now := time.Now().UTC()
	if err := db.Model(&models.InvoiceQueueJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusSent,
			"processed_at": &now,
			"last_error":   nil,
		}).Error; err != nil {
		config.LogError(p.Logger, "dgisync", "markJobSent", "update job", job.ID, err)
	}
}

func (p *QueueProcessor) returnJobPending(db *gorm.DB, job models.InvoiceQueueJob, attempts int, lastErr string) {
	if err := db.Model(&models.InvoiceQueueJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     models.JobStatusPending,
			"attempts":   attempts,
			"last_error": lastErr,
		}).Error; err != nil {
		config.LogError(p.Logger, "dgisync", "returnJobPending", "update job", job.ID, err)
	}
}

func (p *QueueProcessor) failJobTerminal(db *gorm.DB, job models.InvoiceQueueJob, attempts int, lastErr string) {
	now := time.Now().UTC()
	if err := db.Model(&models.InvoiceQueueJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"attempts":     attempts,
			"last_error":   lastErr,
			"processed_at": &now,
		}).Error; err != nil {
		config.LogError(p.Logger, "dgisync", "failJobTerminal", "update job", job.ID, err)
	}
}

func (p *QueueProcessor) appendLog(db *gorm.DB, job models.InvoiceQueueJob, request []byte, response []byte, httpStatus int, status string, verdict string, extRef string, duration time.Duration, retryCount int) {
	jobID := job.ID
	entry := &models.ValidationLogEntry{
		BusinessId:        job.BusinessId,
		InvoiceId:         job.InvoiceId,
		JobId:             &jobID,
		QueueType:         p.QueueType,
		RequestJSON:       request,
		ResponseJSON:      response,
		HttpStatus:        httpStatus,
		Status:            status,
		ValidationResult:  verdict,
		ExternalReference: extRef,
		DurationMs:        duration.Milliseconds(),
		RetryCount:        retryCount,
	}
	if err := models.AppendValidationLog(db, entry); err != nil {
		config.LogError(p.Logger, "dgisync", "appendLog", "append validation log", job.ID, err)
	}
}

// buildContext assembles the record plus its read-only related entities
// into the shape the mapping engine traverses. Missing related entities are
// omitted rather than fatal; the mapping decides which paths are required.
func (p *QueueProcessor) buildContext(ctx context.Context, db *gorm.DB, invoice *models.Invoice, cfg *models.IntegrationConfig) (map[string]interface{}, error) {
	composite := map[string]interface{}{
		"invoice": invoice,
		"items":   invoice.Items,
		"config":  cfg,
	}
	if customer, err := models.GetCustomerById(ctx, db, invoice.BusinessId, invoice.CustomerId); err == nil {
		composite["client"] = customer
	}
	if invoice.SalesOrderId != 0 {
		if order, err := models.GetSalesOrderById(ctx, db, invoice.BusinessId, invoice.SalesOrderId); err == nil {
			composite["order"] = order
		}
	}
	return mapping.ToContext(composite)
}

func decodeHeaders(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var headers map[string]string
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

func approvedUpdates(extracted map[string]interface{}) map[string]interface{} {
	updates := map[string]interface{}{
		"pending_validation": false,
		"observations":       "",
	}
	copyField := func(field, column string) {
		if v := asString(extracted[field]); v != "" {
			updates[column] = v
		}
	}
	copyField("authorization_code", "authorization_code")
	copyField("external_reference", "external_reference")
	copyField("qr_payload", "qr_payload")
	copyField("issuer_name", "issuer_name")
	copyField("issuer_tax_id", "issuer_tax_id")
	if v := asString(extracted["message"]); v != "" {
		updates["observations"] = v
	}
	return updates
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func intFromEnv(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
