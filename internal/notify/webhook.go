package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookClient is a shared, bounded-timeout HTTP client for the
// gotify/ntfy/discord/slack drivers. Grounded on
// modules/httpclient/config.go's timeout knobs, without its retry/circuit
// breaker machinery — C4 drivers must never retry (spec.md §4.4).
func newWebhookClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// postJSON issues a single POST with a JSON body and classifies the
// response per spec.md §4.4's {transport, auth, target_rejected, timeout}.
func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Err: fmt.Errorf("marshal payload: %w", err), Kind: FailureTargetRejected}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: fmt.Errorf("build request: %w", err), Kind: FailureTargetRejected}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Err: fmt.Errorf("send: %w", err), Kind: FailureTimeout}
		}
		return Outcome{Err: fmt.Errorf("send: %w", err), Kind: FailureTransport}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{OK: true}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Outcome{Err: fmt.Errorf("webhook returned %d", resp.StatusCode), Kind: FailureAuth}
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Outcome{Err: fmt.Errorf("webhook returned %d", resp.StatusCode), Kind: FailureTargetRejected}
	default:
		return Outcome{Err: fmt.Errorf("webhook returned %d", resp.StatusCode), Kind: FailureTransport}
	}
}
