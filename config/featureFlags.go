package config

import (
	"os"
	"strings"
)

// QueuePollersEnabled gates the background queue pollers.
// Disable when running the HTTP surface only (e.g. webhook-only deployments).
//
// Set via env:
// - QUEUE_POLLERS_ENABLED=false
func QueuePollersEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_POLLERS_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// QueueWakePushEnabled gates the Pub/Sub push endpoint that nudges a queue
// into an immediate re-poll after an eligibility change.
//
// Set via env:
// - QUEUE_WAKE_PUSH_ENABLED=false
func QueueWakePushEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_WAKE_PUSH_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
