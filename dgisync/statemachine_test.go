package dgisync

import (
	"testing"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.InvoiceStatus
		want     bool
	}{
		{models.InvoiceStatusDraft, models.InvoiceStatusPendingValidation, true},
		{models.InvoiceStatusPendingValidation, models.InvoiceStatusValidated, true},
		{models.InvoiceStatusPendingValidation, models.InvoiceStatusRejected, true},
		{models.InvoiceStatusRejected, models.InvoiceStatusPendingValidation, true},
		{models.InvoiceStatusValidated, models.InvoiceStatusQueuedForDelivery, true},
		{models.InvoiceStatusQueuedForDelivery, models.InvoiceStatusSent, true},
		{models.InvoiceStatusQueuedForDelivery, models.InvoiceStatusSentError, true},
		{models.InvoiceStatusSentError, models.InvoiceStatusQueuedForDelivery, true},
		{models.InvoiceStatusSent, models.InvoiceStatusQueuedForDelivery, true},

		{models.InvoiceStatusDraft, models.InvoiceStatusValidated, false},
		{models.InvoiceStatusDraft, models.InvoiceStatusSent, false},
		{models.InvoiceStatusValidated, models.InvoiceStatusDraft, false},
		{models.InvoiceStatusValidated, models.InvoiceStatusSent, false},
		{models.InvoiceStatusRejected, models.InvoiceStatusValidated, false},
		{models.InvoiceStatusSent, models.InvoiceStatusDraft, false},
		{models.InvoiceStatusPendingValidation, models.InvoiceStatusQueuedForDelivery, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanWebhookTransition_AllowsBackwardAndReplay(t *testing.T) {
	if !CanWebhookTransition(models.InvoiceStatusSent, models.InvoiceStatusRejected) {
		t.Error("webhook corrections may move backward")
	}
	if !CanWebhookTransition(models.InvoiceStatusValidated, models.InvoiceStatusValidated) {
		t.Error("webhook replays (from == to) must be allowed")
	}
	if CanWebhookTransition(models.InvoiceStatusValidated, models.InvoiceStatus("exploded")) {
		t.Error("unknown target statuses must be refused")
	}
}

func TestParseWebhookStatus(t *testing.T) {
	cases := map[string]models.InvoiceStatus{
		"validated":   models.InvoiceStatusValidated,
		"Approved":    models.InvoiceStatusValidated,
		"REJECTED":    models.InvoiceStatusRejected,
		"sent":        models.InvoiceStatusSent,
		"sent_error":  models.InvoiceStatusSentError,
		"sent-error":  models.InvoiceStatusSentError,
		"error":       models.InvoiceStatusSentError,
		"queued":      models.InvoiceStatusQueuedForDelivery,
		" pending ":   models.InvoiceStatusPendingValidation,
		"draft":       models.InvoiceStatusDraft,
		"in_progress": "",
		"":            "",
	}
	for raw, want := range cases {
		if got := ParseWebhookStatus(raw); got != want {
			t.Errorf("ParseWebhookStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestTransitionInvoice_GuardsOnCurrentStatus(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusPendingValidation, true)

	ok, err := TransitionInvoice(db, invoice, models.InvoiceStatusValidated, map[string]interface{}{
		"authorization_code": "A-1",
	})
	if err != nil || !ok {
		t.Fatalf("expected transition to apply, got ok=%v err=%v", ok, err)
	}
	if invoice.CurrentStatus != models.InvoiceStatusValidated {
		t.Fatalf("in-memory status not advanced: %s", invoice.CurrentStatus)
	}

	got := reloadInvoice(t, db, invoice.ID)
	if got.CurrentStatus != models.InvoiceStatusValidated || got.AuthorizationCode != "A-1" {
		t.Fatalf("row not updated: %+v", got)
	}

	// A stale reader still holding the old status must lose the guard.
	stale := *invoice
	stale.CurrentStatus = models.InvoiceStatusPendingValidation
	ok, err = TransitionInvoice(db, &stale, models.InvoiceStatusRejected, nil)
	if err != nil {
		t.Fatalf("guard miss is not an error: %v", err)
	}
	if ok {
		t.Fatal("stale guard must not win")
	}
	if got := reloadInvoice(t, db, invoice.ID); got.CurrentStatus != models.InvoiceStatusValidated {
		t.Fatalf("row must be untouched after a guard miss, got %s", got.CurrentStatus)
	}
}

func TestTransitionInvoice_SameStatusAppliesExtras(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusValidated, false)

	ok, err := TransitionInvoice(db, invoice, models.InvoiceStatusValidated, map[string]interface{}{
		"observations": "refreshed",
	})
	if err != nil || !ok {
		t.Fatalf("same-status update should succeed, got ok=%v err=%v", ok, err)
	}
	if got := reloadInvoice(t, db, invoice.ID); got.Observations != "refreshed" {
		t.Fatalf("extra columns not applied: %q", got.Observations)
	}
}

func TestTransitionInvoice_IllegalMoveIsRefused(t *testing.T) {
	db := newTestDB(t)
	invoice := seedInvoice(t, db, models.InvoiceStatusDraft, false)

	ok, err := TransitionInvoice(db, invoice, models.InvoiceStatusSent, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("Draft -> Sent must be refused")
	}
	if got := reloadInvoice(t, db, invoice.ID); got.CurrentStatus != models.InvoiceStatusDraft {
		t.Fatalf("row must be untouched, got %s", got.CurrentStatus)
	}
}
