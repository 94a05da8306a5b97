package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DiscordDriver sends via a Discord incoming webhook. Delivery URL shape:
// "discord://<webhook_id>/<webhook_token>".
type DiscordDriver struct {
	client *http.Client
}

func NewDiscordDriver() *DiscordDriver {
	return &DiscordDriver{client: newWebhookClient(10 * time.Second)}
}

func (d *DiscordDriver) Schemes() []string { return []string{"discord"} }

func (d *DiscordDriver) Send(ctx context.Context, deliveryURL, title, body string, level Level) Outcome {
	u, err := url.Parse(deliveryURL)
	if err != nil {
		return Outcome{Err: fmt.Errorf("parse discord url: %w", err), Kind: FailureTargetRejected}
	}
	webhookID := u.Host
	webhookToken := strings.TrimPrefix(u.Path, "/")
	if webhookID == "" || webhookToken == "" {
		return Outcome{Err: fmt.Errorf("discord url missing webhook id/token"), Kind: FailureTargetRejected}
	}
	endpoint := fmt.Sprintf("https://discord.com/api/webhooks/%s/%s", webhookID, webhookToken)

	content := fmt.Sprintf("**%s**\n%s", title, body)
	out := postJSON(ctx, d.client, endpoint, map[string]any{"content": content})
	if out.OK {
		out.ChannelName = "discord"
	}
	return out
}
