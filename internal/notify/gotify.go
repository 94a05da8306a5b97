package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// GotifyDriver sends via a Gotify server's REST push endpoint.
// Delivery URL shape: gotify://<token>@<host>[:port][/path], e.g.
// "gotify://Az5TxkMWkwa40yn@push.example.com". "gotifys://" forces https.
type GotifyDriver struct {
	client *http.Client
}

func NewGotifyDriver() *GotifyDriver {
	return &GotifyDriver{client: newWebhookClient(10 * time.Second)}
}

func (d *GotifyDriver) Schemes() []string { return []string{"gotify", "gotifys"} }

func (d *GotifyDriver) Send(ctx context.Context, deliveryURL, title, body string, level Level) Outcome {
	u, err := url.Parse(deliveryURL)
	if err != nil {
		return Outcome{Err: fmt.Errorf("parse gotify url: %w", err), Kind: FailureTargetRejected}
	}
	token := u.User.Username()
	if token == "" {
		return Outcome{Err: fmt.Errorf("gotify url missing token"), Kind: FailureTargetRejected}
	}
	scheme := "https"
	if u.Scheme == "gotify" {
		scheme = "http"
	}
	endpoint := fmt.Sprintf("%s://%s/message?token=%s", scheme, u.Host, url.QueryEscape(token))

	out := postJSON(ctx, d.client, endpoint, map[string]any{
		"title":    title,
		"message":  body,
		"priority": priorityFor(level),
	})
	if out.OK {
		out.ChannelName = "gotify"
	}
	return out
}

func priorityFor(level Level) int {
	switch level {
	case LevelCritical:
		return 8
	case LevelWarning:
		return 5
	default:
		return 2
	}
}
