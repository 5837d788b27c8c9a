package dgisync

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

func TestExecute_TwoTimeoutsThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultado": {"estado": "approved"}}`))
	}))
	defer srv.Close()

	var observed []AttemptInfo
	outcome := Execute(context.Background(), ExecuteRequest{
		Url:         srv.URL,
		Timeout:     50 * time.Millisecond,
		MaxRetries:  2,
		BackoffUnit: time.Millisecond,
		OnAttempt: func(a AttemptInfo) {
			observed = append(observed, a)
		},
	})

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", outcome.Kind, outcome.Message)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if len(observed) != 3 {
		t.Fatalf("expected 3 attempt callbacks, got %d", len(observed))
	}
	if observed[0].Kind != OutcomeTimeout || observed[1].Kind != OutcomeTimeout {
		t.Fatalf("expected first two attempts to time out, got %s %s", observed[0].Kind, observed[1].Kind)
	}
	if observed[2].Kind != OutcomeSuccess {
		t.Fatalf("expected final attempt success, got %s", observed[2].Kind)
	}
	if estado, _ := outcome.Body["resultado"].(map[string]interface{}); estado["estado"] != "approved" {
		t.Fatalf("expected parsed body, got %v", outcome.Body)
	}
}

func TestExecute_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "invalid invoice"}`))
	}))
	defer srv.Close()

	outcome := Execute(context.Background(), ExecuteRequest{
		Url:         srv.URL,
		Timeout:     time.Second,
		MaxRetries:  3,
		BackoffUnit: time.Millisecond,
	})

	if outcome.Kind != OutcomeHttpError {
		t.Fatalf("expected http_error, got %s", outcome.Kind)
	}
	if outcome.HttpStatus != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", outcome.HttpStatus)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx must not be retried, server saw %d calls", got)
	}
	if outcome.Body["error"] != "invalid invoice" {
		t.Fatalf("non-2xx body should still be parsed, got %v", outcome.Body)
	}
}

func TestExecute_ServerErrorIsRetriedUntilExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	outcome := Execute(context.Background(), ExecuteRequest{
		Url:         srv.URL,
		Timeout:     time.Second,
		MaxRetries:  2,
		BackoffUnit: time.Millisecond,
	})

	if outcome.Kind != OutcomeHttpError || outcome.HttpStatus != http.StatusBadGateway {
		t.Fatalf("expected http_error 502, got %s %d", outcome.Kind, outcome.HttpStatus)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("server saw %d calls, want 3", got)
	}
}

func TestExecute_NetworkErrorOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	outcome := Execute(context.Background(), ExecuteRequest{
		Url:         srv.URL,
		Timeout:     time.Second,
		MaxRetries:  1,
		BackoffUnit: time.Millisecond,
	})

	if outcome.Kind != OutcomeNetworkError {
		t.Fatalf("expected network_error, got %s", outcome.Kind)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("network errors are retryable, got %d attempts", outcome.Attempts)
	}
	if outcome.Message == "" {
		t.Fatal("network_error must carry a message")
	}
}

func TestExecute_NonJSONSuccessBodyIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	outcome := Execute(context.Background(), ExecuteRequest{
		Url:         srv.URL,
		Timeout:     time.Second,
		MaxRetries:  1,
		BackoffUnit: time.Millisecond,
	})

	if outcome.Kind != OutcomeNetworkError {
		t.Fatalf("expected non-JSON 2xx to be a retryable failure, got %s", outcome.Kind)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}
}

func TestExecute_AuthSchemes(t *testing.T) {
	var gotAuth, gotApiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotApiKey = r.Header.Get("X-Store-Key")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	Execute(context.Background(), ExecuteRequest{
		Url:       srv.URL,
		Timeout:   time.Second,
		AuthType:  models.AuthTypeBearer,
		AuthToken: "tok-1",
	})
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("bearer auth not applied: %q", gotAuth)
	}

	Execute(context.Background(), ExecuteRequest{
		Url:          srv.URL,
		Timeout:      time.Second,
		AuthType:     models.AuthTypeApiKey,
		ApiKeyHeader: "X-Store-Key",
		ApiKey:       "key-9",
	})
	if gotApiKey != "key-9" {
		t.Fatalf("api key header not applied: %q", gotApiKey)
	}

	Execute(context.Background(), ExecuteRequest{
		Url:          srv.URL,
		Timeout:      time.Second,
		AuthType:     models.AuthTypeBasic,
		AuthUsername: "ana",
		AuthPassword: "secret",
	})
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("ana:secret"))
	if gotAuth != want {
		t.Fatalf("basic auth not applied: %q", gotAuth)
	}
}

func TestExecute_SendsJSONBodyAndHeaders(t *testing.T) {
	var gotContentType, gotCustom, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Store-Token")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	outcome := Execute(context.Background(), ExecuteRequest{
		Url:     srv.URL,
		Timeout: time.Second,
		Headers: map[string]string{"X-Store-Token": "tok"},
		Body:    map[string]interface{}{"customer": map[string]interface{}{"name": "Ana"}},
	})

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome.Kind)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if gotCustom != "tok" {
		t.Fatalf("custom header not sent: %q", gotCustom)
	}
	if gotBody != `{"customer":{"name":"Ana"}}` {
		t.Fatalf("unexpected body %q", gotBody)
	}
}
