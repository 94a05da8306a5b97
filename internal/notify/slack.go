package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SlackDriver sends via a Slack incoming webhook. Delivery URL shape:
// "slack://hooks.slack.com/services/<T>/<B>/<X>" — the native webhook
// path carried through unmodified after the scheme swap.
type SlackDriver struct {
	client *http.Client
}

func NewSlackDriver() *SlackDriver {
	return &SlackDriver{client: newWebhookClient(10 * time.Second)}
}

func (d *SlackDriver) Schemes() []string { return []string{"slack"} }

func (d *SlackDriver) Send(ctx context.Context, deliveryURL, title, body string, level Level) Outcome {
	u, err := url.Parse(deliveryURL)
	if err != nil {
		return Outcome{Err: fmt.Errorf("parse slack url: %w", err), Kind: FailureTargetRejected}
	}
	if u.Host == "" || !strings.HasPrefix(u.Path, "/services/") {
		return Outcome{Err: fmt.Errorf("slack url missing webhook path"), Kind: FailureTargetRejected}
	}
	endpoint := fmt.Sprintf("https://%s%s", u.Host, u.Path)

	text := fmt.Sprintf("*%s*\n%s", title, body)
	out := postJSON(ctx, d.client, endpoint, map[string]any{"text": text})
	if out.OK {
		out.ChannelName = "slack"
	}
	return out
}
