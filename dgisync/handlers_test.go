package dgisync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("QUEUE_WAKE_PUSH_ENABLED", "false")

	db := newTestDB(t)
	prev := config.GetDB()
	config.SetDB(db)
	restore := func() { config.SetDB(prev) }

	r := gin.New()
	r.POST("/webhook", WebhookHandler())
	r.GET("/api/integrations/:queueType/status", ConfigStatusHandler())
	r.GET("/api/invoices/:id/validation-logs", ValidationLogsHandler())
	r.POST("/api/invoices/:id/retry", RetryJobHandler())
	r.GET("/api/invoices/:id/pdf-url", PdfUrlHandler())
	return r, restore
}

func doJSON(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_ReconcilesAndReports(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()
	db := config.GetDB()

	invoice := seedInvoice(t, db, models.InvoiceStatusPendingValidation, true)

	w := doJSON(r, http.MethodPost, "/webhook",
		`{"invoice_id": `+itoa(invoice.ID)+`, "status": "validated", "authorization_code": "CAE-1"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp WebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.RecordId != invoice.ID || resp.Status != string(models.InvoiceStatusValidated) {
		t.Fatalf("unexpected response: %+v", resp)
	}

	got := reloadInvoice(t, db, invoice.ID)
	if got.CurrentStatus != models.InvoiceStatusValidated || got.AuthorizationCode != "CAE-1" {
		t.Fatalf("webhook did not apply: %+v", got)
	}
}

func TestWebhookHandler_RequiresAnIdentifier(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()

	w := doJSON(r, http.MethodPost, "/webhook", `{"status": "validated"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookHandler_UnknownInvoiceIs404(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()

	w := doJSON(r, http.MethodPost, "/webhook", `{"invoice_id": 999999, "status": "validated"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookHandler_SharedSecret(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()
	t.Setenv("WEBHOOK_SECRET", "s3cret")

	w := doJSON(r, http.MethodPost, "/webhook", `{"invoice_id": 1}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret must be 401, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/webhook", `{"invoice_id": 999999}`,
		map[string]string{"X-Webhook-Secret": "s3cret"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("correct secret must pass auth, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConfigStatusHandler(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()
	db := config.GetDB()

	headers := map[string]string{"x-business-id": "biz-1"}

	w := doJSON(r, http.MethodGet, "/api/integrations/validation/status", "", headers)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp ConfigStatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Configured {
		t.Fatal("no config seeded, should not report configured")
	}

	seedConfig(t, db, models.IntegrationTypeValidation, "https://dgi.example/validate", 2, `{}`, `{}`)

	w = doJSON(r, http.MethodGet, "/api/integrations/validation/status", "", headers)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Configured || resp.ApiUrl != "https://dgi.example/validate" {
		t.Fatalf("unexpected status response: %+v", resp)
	}

	w = doJSON(r, http.MethodGet, "/api/integrations/fax/status", "", headers)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown queue type must be 400, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/integrations/validation/status", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing business id must be 401, got %d", w.Code)
	}
}

func TestValidationLogsHandler(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()
	db := config.GetDB()

	invoice := seedInvoice(t, db, models.InvoiceStatusValidated, false)
	for i := 0; i < 3; i++ {
		entry := models.ValidationLogEntry{
			BusinessId: invoice.BusinessId,
			InvoiceId:  invoice.ID,
			QueueType:  models.IntegrationTypeValidation,
			Status:     string(OutcomeHttpError),
			HttpStatus: 500,
		}
		if err := db.Create(&entry).Error; err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	w := doJSON(r, http.MethodGet, "/api/invoices/"+itoa(invoice.ID)+"/validation-logs?limit=2", "",
		map[string]string{"x-business-id": "biz-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Items []ValidationLogResponse `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("limit not applied, got %d items", len(resp.Items))
	}
}

func TestRetryJobHandler_RequeuesFailedJob(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()
	db := config.GetDB()

	invoice := seedInvoice(t, db, models.InvoiceStatusSentError, false)
	job := seedJob(t, db, invoice, models.IntegrationTypeEmail)
	lastError := "connection refused"
	if err := db.Model(&models.InvoiceQueueJob{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     models.JobStatusFailed,
			"attempts":   3,
			"last_error": &lastError,
		}).Error; err != nil {
		t.Fatalf("seed failed job: %v", err)
	}

	w := doJSON(r, http.MethodPost, "/api/invoices/"+itoa(invoice.ID)+"/retry",
		`{"queue_type": "email"}`, map[string]string{"x-business-id": "biz-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	gotJob := reloadJob(t, db, job.ID)
	if gotJob.Status != models.JobStatusPending || gotJob.Attempts != 0 || gotJob.LastError != nil {
		t.Fatalf("job not reset: %+v", gotJob)
	}

	gotInvoice := reloadInvoice(t, db, invoice.ID)
	if gotInvoice.CurrentStatus != models.InvoiceStatusQueuedForDelivery {
		t.Fatalf("sent-error invoice must be requeued, got %s", gotInvoice.CurrentStatus)
	}
}

func TestRetryJobHandler_NoFailedJobIs404(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()
	db := config.GetDB()

	invoice := seedInvoice(t, db, models.InvoiceStatusValidated, false)

	w := doJSON(r, http.MethodPost, "/api/invoices/"+itoa(invoice.ID)+"/retry",
		`{"queue_type": "pdf"}`, map[string]string{"x-business-id": "biz-1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPdfUrlHandler_NoStoredPdf(t *testing.T) {
	r, restore := newTestRouter(t)
	defer restore()
	db := config.GetDB()

	invoice := seedInvoice(t, db, models.InvoiceStatusSent, false)

	w := doJSON(r, http.MethodGet, "/api/invoices/"+itoa(invoice.ID)+"/pdf-url", "",
		map[string]string{"x-business-id": "biz-1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a stored pdf, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/api/invoices/999999/pdf-url", "",
		map[string]string{"x-business-id": "biz-1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown invoice, got %d", w.Code)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
