package notify

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The happy path dials real SMTP (always TLS, implicit or STARTTLS — see
// mailto.go) and isn't worth faking a TLS-speaking SMTP server for; these
// cases cover the URL parsing this driver is actually responsible for.

func TestRecipientFromURLOpaqueForm(t *testing.T) {
	u, err := url.Parse("mailto:dest@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "dest@example.com", recipientFromURL(u))
}

func TestRecipientFromURLAuthorityForm(t *testing.T) {
	u, err := url.Parse("mailto://dest@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "dest@example.com", recipientFromURL(u))
}

func TestRecipientFromURLVerifiedScheme(t *testing.T) {
	u, err := url.Parse("mailtov://dest@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "dest@example.com", recipientFromURL(u))
}

func TestRecipientFromURLEmptyWhenNothingUsable(t *testing.T) {
	u, err := url.Parse("mailto://")
	assert.NoError(t, err)
	assert.Equal(t, "", recipientFromURL(u))
}

func TestMailtoDriverRejectsInvalidRecipientAddress(t *testing.T) {
	d := NewMailtoDriver(SMTPConfig{Host: "localhost", Port: 2525, From: "noreply@example.com"})
	out := d.Send(context.Background(), "mailto://", "t", "b", LevelInfo)
	assert.False(t, out.OK)
	assert.Equal(t, FailureTargetRejected, out.Kind)
}

func TestMailtoDriverSchemesPerConstructor(t *testing.T) {
	assert.ElementsMatch(t, []string{"mailto", "mailtos"}, NewMailtoDriver(SMTPConfig{}).Schemes())
	assert.ElementsMatch(t, []string{"mailtov"}, NewVerifiedMailtoDriver(SMTPConfig{}).Schemes())
}
