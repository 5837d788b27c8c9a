package dgisync

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

func TestReconcile_UnknownInvoiceIsNotFound(t *testing.T) {
	db := newTestDB(t)

	result, err := Reconcile(context.Background(), db, WebhookPayload{
		InvoiceId: 424242,
		Status:    "validated",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Found {
		t.Fatal("unknown invoice must report not-found")
	}

	var logCount int64
	db.Model(&models.ValidationLogEntry{}).Count(&logCount)
	if logCount != 0 {
		t.Fatalf("not-found callbacks must not write logs, got %d", logCount)
	}
}

func TestReconcile_PartialUpdateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusPendingValidation, true)

	payload := WebhookPayload{
		InvoiceId:         invoice.ID,
		Status:            "validated",
		AuthorizationCode: "CAE-777",
		IssuerName:        "DGI",
	}

	for i := 0; i < 2; i++ {
		result, err := Reconcile(context.Background(), db, payload)
		if err != nil {
			t.Fatalf("reconcile pass %d: %v", i+1, err)
		}
		if !result.Found || result.Status != models.InvoiceStatusValidated {
			t.Fatalf("pass %d: unexpected result %+v", i+1, result)
		}
	}

	got := reloadInvoice(t, db, invoice.ID)
	if got.CurrentStatus != models.InvoiceStatusValidated {
		t.Fatalf("expected Validated, got %s", got.CurrentStatus)
	}
	if got.AuthorizationCode != "CAE-777" || got.IssuerName != "DGI" {
		t.Fatalf("payload fields not applied: %+v", got)
	}
	if got.PendingValidation == nil || *got.PendingValidation {
		t.Fatal("pending_validation must clear on a validated webhook")
	}
	// Replaying the same delivery outcome logs once per received callback.
	entries := countLogs(t, db, invoice.ID)
	if len(entries) != 2 {
		t.Fatalf("expected one webhook log per callback, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Status != logStatusWebhook || entry.ValidationResult != models.ValidationResultApproved {
			t.Fatalf("unexpected webhook log entry: %+v", entry)
		}
	}
}

func TestReconcile_FallsBackToInvoiceNumber(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusQueuedForDelivery, false)

	result, err := Reconcile(context.Background(), db, WebhookPayload{
		InvoiceNumber:     invoice.InvoiceNumber,
		BusinessId:        invoice.BusinessId,
		Status:            "sent",
		ExternalReference: "ext-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Found || result.Invoice.ID != invoice.ID {
		t.Fatalf("invoice_number lookup failed: %+v", result)
	}

	got := reloadInvoice(t, db, invoice.ID)
	if got.CurrentStatus != models.InvoiceStatusSent || got.ExternalReference != "ext-9" {
		t.Fatalf("unexpected row state: %+v", got)
	}
}

func TestReconcile_AbsentFieldsAreLeftAlone(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusValidated, false)
	if err := db.Model(&models.Invoice{}).Where("id = ?", invoice.ID).
		Updates(map[string]interface{}{"observations": "keep me", "qr_payload": "QR-1"}).Error; err != nil {
		t.Fatalf("seed fields: %v", err)
	}

	_, err := Reconcile(context.Background(), db, WebhookPayload{
		InvoiceId:         invoice.ID,
		AuthorizationCode: "CAE-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := reloadInvoice(t, db, invoice.ID)
	if got.Observations != "keep me" || got.QrPayload != "QR-1" {
		t.Fatalf("fields absent from the payload must survive: %+v", got)
	}
	if got.AuthorizationCode != "CAE-1" {
		t.Fatalf("present field not applied: %q", got.AuthorizationCode)
	}
	if got.CurrentStatus != models.InvoiceStatusValidated {
		t.Fatalf("no status in payload means no transition, got %s", got.CurrentStatus)
	}
}

func TestReconcile_BadPdfDoesNotBlockOtherUpdates(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusQueuedForDelivery, false)

	result, err := Reconcile(context.Background(), db, WebhookPayload{
		InvoiceId:         invoice.ID,
		Status:            "sent",
		AuthorizationCode: "CAE-3",
		Pdf: &WebhookPdf{
			Filename: "factura.pdf",
			Base64:   "!!!not-base64!!!",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Found {
		t.Fatal("invoice should resolve")
	}

	got := reloadInvoice(t, db, invoice.ID)
	if got.CurrentStatus != models.InvoiceStatusSent || got.AuthorizationCode != "CAE-3" {
		t.Fatalf("other updates must still apply: %+v", got)
	}
	if got.PdfObjectKey != "" {
		t.Fatalf("undecodable pdf must not record metadata: %q", got.PdfObjectKey)
	}
}

func TestReconcile_ExternalStatusFallback(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusQueuedForDelivery, false)

	_, err := Reconcile(context.Background(), db, WebhookPayload{
		InvoiceId:      invoice.ID,
		ExternalStatus: "error",
		Message:        "mailbox unavailable",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := reloadInvoice(t, db, invoice.ID)
	if got.CurrentStatus != models.InvoiceStatusSentError {
		t.Fatalf("external_status must drive the transition when status is absent, got %s", got.CurrentStatus)
	}
	if got.Observations != "mailbox unavailable" {
		t.Fatalf("message must land in observations: %q", got.Observations)
	}
}
