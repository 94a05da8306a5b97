// Package schedule implements the Reminder Schedule Registry (C6): a thin
// layer over the durable timer primitive that derives deterministic
// schedule ids and knows how to rebuild or tear down an event's reminder
// set in bulk.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/pypeaday/soonish/internal/durabletimer"
	"github.com/pypeaday/soonish/internal/modkit"
)

// ScheduleID returns the deterministic id from spec.md §4.6:
// "event-{event_id}-sub-{subscription_id}-reminder-{offset_seconds}s".
// Deterministic construction is what makes create_for/delete_for
// idempotent — recomputing the same id for the same triple is always a
// no-op against an existing timer.
func ScheduleID(eventID, subscriptionID, offsetSeconds int64) string {
	return fmt.Sprintf("event-%d-sub-%d-reminder-%ds", eventID, subscriptionID, offsetSeconds)
}

// EventPrefix is the prefix every schedule id for an event shares, used
// by delete_for to enumerate them.
func EventPrefix(eventID int64) string {
	return fmt.Sprintf("event-%d-", eventID)
}

// Payload is what fires when a reminder timer goes off; C7 decodes it.
type Payload struct {
	EventID        int64
	SubscriptionID int64
	OffsetSeconds  int64
}

func (p Payload) Encode() []byte {
	return []byte(fmt.Sprintf("%d:%d:%d", p.EventID, p.SubscriptionID, p.OffsetSeconds))
}

func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	_, err := fmt.Sscanf(string(raw), "%d:%d:%d", &p.EventID, &p.SubscriptionID, &p.OffsetSeconds)
	if err != nil {
		return Payload{}, modkit.Wrap(modkit.KindValidation, "decode reminder payload", err)
	}
	return p, nil
}

// Registry is C6.
type Registry struct {
	timer  durabletimer.Timer
	logger modkit.Logger
}

func New(timer durabletimer.Timer, logger modkit.Logger) *Registry {
	return &Registry{timer: timer, logger: logger}
}

// CreateFor implements spec.md §4.6 create_for: for each (subscription,
// offset) pair compute the trigger instant; skip silently if it has
// already passed; otherwise schedule it. Returns the effective schedule
// ids (including pre-existing ones, since creation is a no-op on
// duplicates — spec.md's idempotence law).
func (r *Registry) CreateFor(ctx context.Context, eventID int64, startDate time.Time, offsetsBySubscription map[int64][]int64, now time.Time) ([]string, error) {
	var created []string
	for subID, offsets := range offsetsBySubscription {
		for _, offset := range offsets {
			trigger := startDate.Add(-time.Duration(offset) * time.Second)
			if !trigger.After(now) {
				r.logger.Info("skipping reminder schedule: trigger already passed",
					"event_id", eventID, "subscription_id", subID, "offset_seconds", offset)
				continue
			}
			id := ScheduleID(eventID, subID, offset)
			payload := Payload{EventID: eventID, SubscriptionID: subID, OffsetSeconds: offset}
			if err := r.timer.ScheduleAt(ctx, id, trigger, payload.Encode()); err != nil {
				return created, err
			}
			created = append(created, id)
		}
	}
	return created, nil
}

// DeleteFor implements spec.md §4.6 delete_for: cancel every schedule
// whose id starts with the event's prefix. Best-effort — a missing
// schedule is not an error.
func (r *Registry) DeleteFor(ctx context.Context, eventID int64) ([]string, error) {
	entries, err := r.timer.ListByPrefix(ctx, EventPrefix(eventID))
	if err != nil {
		return nil, err
	}
	var cancelled []string
	for _, e := range entries {
		if err := r.timer.Cancel(ctx, e.ID); err != nil {
			r.logger.Warn("failed to cancel schedule", "schedule_id", e.ID, "error", err)
			continue
		}
		cancelled = append(cancelled, e.ID)
	}
	return cancelled, nil
}
