package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// DiscordDriver always targets discord.com/api/webhooks/... directly (the
// webhook path carries the id/token, nothing else is configurable), so
// there is no injectable endpoint for a local server to stand in for a
// successful round trip; only the pre-flight validation is exercised here.
func TestDiscordDriverRejectsMissingIDOrToken(t *testing.T) {
	d := NewDiscordDriver()

	out := d.Send(context.Background(), "discord:///only-token", "t", "b", LevelInfo)
	assert.False(t, out.OK)
	assert.Equal(t, FailureTargetRejected, out.Kind)

	out = d.Send(context.Background(), "discord://only-id", "t", "b", LevelInfo)
	assert.False(t, out.OK)
	assert.Equal(t, FailureTargetRejected, out.Kind)
}
