// Package notify implements the Notifier Drivers component: pluggable,
// synchronous delivery backends selected by URL scheme. Drivers never
// retry — retries are the caller's concern (spec.md §4.4) — and each
// enforces its own per-send timeout.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pypeaday/soonish/internal/modkit"
)

// FailureKind classifies a driver-level send failure per spec.md §4.4.
type FailureKind string

const (
	FailureTransport      FailureKind = "transport"
	FailureAuth           FailureKind = "auth"
	FailureTargetRejected FailureKind = "target_rejected"
	FailureTimeout        FailureKind = "timeout"
)

// Level mirrors the notification severities used throughout C5-C8.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Outcome is what a driver returns for one send attempt. It is always
// returned, never raised — C5 aggregates these into its delivery report.
type Outcome struct {
	OK          bool
	ChannelName string
	Err         error
	Kind        FailureKind
}

// Driver is a pure send function keyed by URL scheme (spec.md §4.4).
type Driver interface {
	// Schemes returns the URL scheme(s) this driver handles, lowercase.
	Schemes() []string
	Send(ctx context.Context, deliveryURL, title, body string, level Level) Outcome
}

// toKindErr converts a driver Outcome into the §7 error taxonomy, for
// callers (C5/C7) that want a uniform error rather than the raw Outcome.
func (o Outcome) toKindErr() error {
	if o.OK {
		return nil
	}
	switch o.Kind {
	case FailureTargetRejected:
		return modkit.Wrap(modkit.KindPermanentTarget, "notifier send rejected", o.Err)
	case FailureAuth:
		return modkit.Wrap(modkit.KindAuth, "notifier auth failed", o.Err)
	default:
		return modkit.Wrap(modkit.KindTransient, "notifier send failed", o.Err)
	}
}

// ParseScheme extracts the lowercase scheme from a delivery URL, or an
// error tagged KindValidation if the URL is unparseable (spec.md §7:
// "bad URL scheme" is rejected at the boundary).
func ParseScheme(deliveryURL string) (string, error) {
	u, err := url.Parse(deliveryURL)
	if err != nil || u.Scheme == "" {
		return "", modkit.Wrap(modkit.KindValidation, fmt.Sprintf("invalid delivery url %q", deliveryURL), err)
	}
	return strings.ToLower(u.Scheme), nil
}
