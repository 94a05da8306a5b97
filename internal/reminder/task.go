// Package reminder implements the Reminder Task (C7): the short-lived
// durable task triggered when a C6 schedule fires.
package reminder

import (
	"context"
	"fmt"

	"github.com/pypeaday/soonish/internal/dispatch"
	"github.com/pypeaday/soonish/internal/durabletimer"
	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/notify"
	"github.com/pypeaday/soonish/internal/schedule"
	"github.com/pypeaday/soonish/internal/store"
)

// Task wires C7: decode the fired payload, load current event details,
// compose the message, and dispatch to the single subscription.
type Task struct {
	events     *store.EventRepo
	dispatcher *dispatch.Dispatcher
	logger     modkit.Logger
	retry      modkit.RetryPolicy
}

func New(events *store.EventRepo, dispatcher *dispatch.Dispatcher, logger modkit.Logger) *Task {
	return &Task{events: events, dispatcher: dispatcher, logger: logger, retry: modkit.DefaultRetryPolicy}
}

// Handler adapts Task.Run to durabletimer.Handler, for registration with
// C1's sweeper.
func (t *Task) Handler() durabletimer.Handler {
	return func(ctx context.Context, id string, payload []byte) error {
		outcome, err := t.Run(ctx, id, payload)
		if err != nil {
			return err
		}
		t.logger.Info("reminder task completed", "schedule_id", id, "outcome", outcome)
		return nil
	}
}

// Run implements spec.md §4.7 steps 1-4.
func (t *Task) Run(ctx context.Context, scheduleID string, rawPayload []byte) (string, error) {
	p, err := schedule.DecodePayload(rawPayload)
	if err != nil {
		return "", err
	}

	ev, err := t.events.ByID(ctx, p.EventID)
	if err != nil {
		if modkit.GetKind(err) == modkit.KindNotFound {
			return "event_not_found", nil
		}
		return "", err
	}

	title, body := ComposeMessage(ev, p.OffsetSeconds)

	err = modkit.Retry(ctx, t.retry, func(ctx context.Context) error {
		report, dispatchErr := t.dispatcher.DispatchToSubscription(ctx, scheduleID, p.SubscriptionID, title, body, notify.LevelWarning)
		if dispatchErr != nil {
			return dispatchErr
		}
		if report.Failed > 0 && report.Success == 0 {
			return modkit.NewError(modkit.KindTransient, "reminder dispatch: all channels failed")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reminder dispatched for subscription %d", p.SubscriptionID), nil
}
