package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NtfyDriver sends via an ntfy topic. Delivery URL shape:
// "ntfy://host[:port]/topic". The request always goes over https; any
// user:pass in the URL is not sent, and plain http is not supported.
type NtfyDriver struct {
	client *http.Client
}

func NewNtfyDriver() *NtfyDriver {
	return &NtfyDriver{client: newWebhookClient(10 * time.Second)}
}

func (d *NtfyDriver) Schemes() []string { return []string{"ntfy"} }

func (d *NtfyDriver) Send(ctx context.Context, deliveryURL, title, body string, level Level) Outcome {
	u, err := url.Parse(deliveryURL)
	if err != nil {
		return Outcome{Err: fmt.Errorf("parse ntfy url: %w", err), Kind: FailureTargetRejected}
	}
	topic := strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		return Outcome{Err: fmt.Errorf("ntfy url missing topic"), Kind: FailureTargetRejected}
	}
	endpoint := fmt.Sprintf("https://%s/%s", u.Host, topic)

	req := map[string]any{
		"topic":    topic,
		"title":    title,
		"message":  body,
		"priority": ntfyPriorityFor(level),
	}
	out := postJSON(ctx, d.client, endpoint, req)
	if out.OK {
		out.ChannelName = "ntfy"
	}
	return out
}

func ntfyPriorityFor(level Level) int {
	switch level {
	case LevelCritical:
		return 5
	case LevelWarning:
		return 4
	default:
		return 3
	}
}
