package dgisync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

// Execute performs one delivery call with a per-attempt timeout and linear
// backoff (attempt index * BackoffUnit between attempts). Up to MaxRetries
// additional attempts are made after the first; timeouts, network errors,
// unparsable responses and 5xx answers are retried, 2xx and other HTTP
// errors stop the loop. The low-aggression linear policy is deliberate:
// these are invoice-level calls, not high-QPS traffic.
func Execute(ctx context.Context, req ExecuteRequest) Outcome {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoffUnit := req.BackoffUnit
	if backoffUnit <= 0 {
		backoffUnit = time.Second
	}

	var rawRequest []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return Outcome{
				Kind:     OutcomeNetworkError,
				Message:  "encode request body: " + err.Error(),
				Attempts: 0,
			}
		}
		rawRequest = encoded
	}

	client := &http.Client{}
	started := time.Now()
	attempts := 0
	var last Outcome

	for attempt := 0; attempt <= req.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				last.Message = "canceled while waiting to retry: " + ctx.Err().Error()
				last.Attempts = attempts
				last.Elapsed = time.Since(started)
				return last
			case <-time.After(time.Duration(attempt) * backoffUnit):
			}
		}

		attemptStart := time.Now()
		last = doAttempt(ctx, client, method, rawRequest, req, timeout)
		attempts++

		if req.OnAttempt != nil {
			req.OnAttempt(AttemptInfo{
				Index:      attempt,
				Kind:       last.Kind,
				HttpStatus: last.HttpStatus,
				RawBody:    last.RawBody,
				Duration:   time.Since(attemptStart),
				Message:    last.Message,
			})
		}

		if !retryable(last) {
			break
		}
	}

	last.Attempts = attempts
	last.Elapsed = time.Since(started)
	return last
}

func doAttempt(ctx context.Context, client *http.Client, method string, rawRequest []byte, req ExecuteRequest, timeout time.Duration) Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if rawRequest != nil {
		bodyReader = bytes.NewReader(rawRequest)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.Url, bodyReader)
	if err != nil {
		return Outcome{Kind: OutcomeNetworkError, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	applyAuth(httpReq, req)

	resp, err := client.Do(httpReq)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return Outcome{Kind: OutcomeTimeout, Message: "request timed out"}
		}
		return Outcome{Kind: OutcomeNetworkError, Message: err.Error()}
	}
	defer resp.Body.Close()

	rawBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return Outcome{Kind: OutcomeTimeout, Message: "request timed out reading response"}
		}
		return Outcome{Kind: OutcomeNetworkError, Message: readErr.Error()}
	}

	var parsed map[string]interface{}
	parseErr := json.Unmarshal(rawBody, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if parseErr != nil {
			// A 2xx that is not JSON might be a transient upstream bug;
			// report it as retryable rather than a success with no fields.
			return Outcome{
				Kind:       OutcomeNetworkError,
				HttpStatus: resp.StatusCode,
				RawBody:    rawBody,
				Message:    "response is not valid JSON",
			}
		}
		return Outcome{
			Kind:       OutcomeSuccess,
			HttpStatus: resp.StatusCode,
			Body:       parsed,
			RawBody:    rawBody,
		}
	}

	return Outcome{
		Kind:       OutcomeHttpError,
		HttpStatus: resp.StatusCode,
		Body:       parsed,
		RawBody:    rawBody,
		Message:    "http " + resp.Status,
	}
}

func retryable(o Outcome) bool {
	switch o.Kind {
	case OutcomeTimeout, OutcomeNetworkError:
		return true
	case OutcomeHttpError:
		return o.HttpStatus >= 500
	default:
		return false
	}
}

func applyAuth(httpReq *http.Request, req ExecuteRequest) {
	switch req.AuthType {
	case models.AuthTypeBasic:
		httpReq.SetBasicAuth(req.AuthUsername, req.AuthPassword)
	case models.AuthTypeBearer:
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	case models.AuthTypeApiKey:
		header := strings.TrimSpace(req.ApiKeyHeader)
		if header == "" {
			header = "X-API-Key"
		}
		httpReq.Header.Set(header, req.ApiKey)
	}
}
