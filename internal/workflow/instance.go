package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pypeaday/soonish/internal/audit"
	"github.com/pypeaday/soonish/internal/clock"
	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/notify"
	"github.com/pypeaday/soonish/internal/schedule"
	"github.com/pypeaday/soonish/internal/store"
)

// defaultWaitHorizon bounds the Active wait when an event has no end_date
// (spec.md §4.8: "a bounded default wait of 365 days").
const defaultWaitHorizon = 365 * 24 * time.Hour

// instance is one running C8 workflow: single-threaded signal handling per
// event via its own mailbox goroutine (spec.md §5 "single-threaded
// cooperative" per workflow id).
type instance struct {
	workflowID string
	eventID    int64

	events    *store.EventRepo
	subs      *store.SubscriptionRepo
	states    *store.WorkflowStateRepo
	schedules *schedule.Registry
	dispatch  dispatchFunc
	clock     clock.Clock
	logger    modkit.Logger
	retry     modkit.RetryPolicy
	audit     *audit.Emitter

	mailbox chan Signal
	done    chan struct{}
}

// dispatchFunc matches dispatch.Dispatcher.DispatchToEvent's signature
// narrowly, so this package does not need to import internal/dispatch
// directly for its broadcast calls (kept injectable for tests).
type dispatchFunc func(ctx context.Context, triggerKey string, eventID int64, title, body string, level notify.Level) error

func newInstance(workflowID string, eventID int64, deps instanceDeps) *instance {
	return &instance{
		workflowID: workflowID,
		eventID:    eventID,
		events:     deps.Events,
		subs:       deps.Subs,
		states:     deps.States,
		schedules:  deps.Schedules,
		dispatch:   deps.Dispatch,
		clock:      deps.Clock,
		logger:     deps.Logger,
		retry:      modkit.DefaultRetryPolicy,
		audit:      deps.Audit,
		mailbox:    make(chan Signal, 64),
		done:       make(chan struct{}),
	}
}

type instanceDeps struct {
	Events    *store.EventRepo
	Subs      *store.SubscriptionRepo
	States    *store.WorkflowStateRepo
	Schedules *schedule.Registry
	Dispatch  dispatchFunc
	Clock     clock.Clock
	Logger    modkit.Logger
	Audit     *audit.Emitter
}

// run is the instance's whole lifecycle: Initializing -> Active -> Terminal.
// It is meant to be launched in its own goroutine by the Engine.
func (in *instance) run(ctx context.Context) {
	defer close(in.done)

	terminal, result := in.initialize(ctx)
	if terminal {
		in.logger.Info("workflow terminal at start", "workflow_id", in.workflowID, "result", result)
		return
	}

	result = in.active(ctx)
	in.logger.Info("workflow terminal", "workflow_id", in.workflowID, "result", result)
}

// initialize implements spec.md §4.8's "Start (Initializing)" transition.
func (in *instance) initialize(ctx context.Context) (terminal bool, result string) {
	ev, err := in.events.ByID(ctx, in.eventID)
	if err != nil {
		if modkit.GetKind(err) == modkit.KindNotFound {
			_ = in.states.Upsert(ctx, store.WorkflowState{WorkflowID: in.workflowID, EventID: in.eventID, State: store.WorkflowMissing})
			in.audit.WorkflowStateChanged(in.workflowID, in.eventID, string(store.WorkflowMissing))
			return true, "missing"
		}
		in.logger.Error("workflow initialize: load event failed", "workflow_id", in.workflowID, "error", err.Error())
		_ = in.states.Upsert(ctx, store.WorkflowState{WorkflowID: in.workflowID, EventID: in.eventID, State: store.WorkflowMissing})
		in.audit.WorkflowStateChanged(in.workflowID, in.eventID, string(store.WorkflowMissing))
		return true, "missing"
	}

	if err := in.reconcileAll(ctx, ev); err != nil {
		in.logger.Error("workflow initialize: schedule reconciliation failed", "workflow_id", in.workflowID, "error", err.Error())
		_ = in.states.Upsert(ctx, store.WorkflowState{WorkflowID: in.workflowID, EventID: in.eventID, State: store.WorkflowMissing})
		in.audit.WorkflowStateChanged(in.workflowID, in.eventID, string(store.WorkflowMissing))
		return true, "missing"
	}

	_ = in.states.Upsert(ctx, store.WorkflowState{WorkflowID: in.workflowID, EventID: in.eventID, State: store.WorkflowActive})
	in.audit.WorkflowStateChanged(in.workflowID, in.eventID, string(store.WorkflowActive))
	return false, ""
}

// active implements spec.md §4.8's Active state: block on end_date, a
// cancel signal, or handle inline signals, until termination.
func (in *instance) active(ctx context.Context) string {
	for {
		ev, err := in.events.ByID(ctx, in.eventID)
		if err != nil {
			return in.terminate(ctx, "missing")
		}

		wait := defaultWaitHorizon
		if ev.EndDate != nil {
			until := ev.EndDate.Sub(in.clock.Now())
			if until < 0 {
				until = 0
			}
			wait = until
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return in.terminate(ctx, "cancelled")
		case <-timer.C:
			return in.terminate(ctx, "completed")
		case sig := <-in.mailbox:
			timer.Stop()
			if sig.Name == SignalCancelEvent {
				in.handleCancel(ctx)
				return in.terminate(ctx, "cancelled")
			}
			in.handleInline(ctx, sig)
		}
	}
}

// handleInline processes participant_added/event_updated without leaving
// Active (spec.md §4.8).
func (in *instance) handleInline(ctx context.Context, sig Signal) {
	switch sig.Name {
	case SignalParticipantAdded:
		p, ok := sig.Payload.(ParticipantAddedPayload)
		if !ok {
			in.logger.Error("workflow: bad participant_added payload", "workflow_id", in.workflowID)
			return
		}
		in.handleParticipantAdded(ctx, p)
	case SignalEventUpdated:
		p, ok := sig.Payload.(EventUpdatedPayload)
		if !ok {
			in.logger.Error("workflow: bad event_updated payload", "workflow_id", in.workflowID)
			return
		}
		in.handleEventUpdated(ctx, p)
	default:
		in.logger.Error("workflow: unknown inline signal", "workflow_id", in.workflowID, "signal", sig.Name)
	}
}

func (in *instance) handleParticipantAdded(ctx context.Context, p ParticipantAddedPayload) {
	ev, err := in.events.ByID(ctx, in.eventID)
	if err != nil {
		in.logger.Error("participant_added: load event failed", "workflow_id", in.workflowID, "error", err.Error())
		return
	}
	sub, err := in.subs.ByID(ctx, p.SubscriptionID)
	if err != nil {
		in.logger.Error("participant_added: load subscription failed", "workflow_id", in.workflowID, "error", err.Error())
		return
	}
	offsets := make([]int64, 0, len(sub.Reminders))
	for _, r := range sub.Reminders {
		offsets = append(offsets, r.OffsetSeconds)
	}
	err = modkit.Retry(ctx, in.retry, func(ctx context.Context) error {
		_, e := in.schedules.CreateFor(ctx, in.eventID, ev.StartDate, map[int64][]int64{p.SubscriptionID: offsets}, in.clock.Now())
		return e
	})
	if err != nil {
		in.logger.Error("participant_added: schedule create failed", "workflow_id", in.workflowID, "error", err.Error())
	}
}

func (in *instance) handleEventUpdated(ctx context.Context, p EventUpdatedPayload) {
	_, startDateChanged, err := in.events.Update(ctx, in.eventID, store.UpdateEventInput{
		Name: p.Name, Description: p.Description, StartDate: p.StartDate, EndDate: p.EndDate, Location: p.Location,
	})
	if err != nil {
		in.logger.Error("event_updated: store update failed", "workflow_id", in.workflowID, "error", err.Error())
		return
	}

	if startDateChanged {
		err = modkit.Retry(ctx, in.retry, func(ctx context.Context) error {
			if _, e := in.schedules.DeleteFor(ctx, in.eventID); e != nil {
				return e
			}
			updated, e := in.events.ByID(ctx, in.eventID)
			if e != nil {
				return e
			}
			return in.reconcileAll(ctx, updated)
		})
		if err != nil {
			in.logger.Error("event_updated: schedule rebuild failed", "workflow_id", in.workflowID, "error", err.Error())
		}
	}

	updated, err := in.events.ByID(ctx, in.eventID)
	if err != nil {
		return
	}
	title := fmt.Sprintf("Event Updated: %s", updated.Name)
	if dispatchErr := in.dispatch(ctx, in.workflowID+":updated", in.eventID, title, "The event has been updated.", notify.LevelInfo); dispatchErr != nil {
		in.logger.Warn("event_updated: broadcast failed (non-fatal)", "workflow_id", in.workflowID, "error", dispatchErr.Error())
	}
}

func (in *instance) handleCancel(ctx context.Context) {
	_ = in.states.Upsert(ctx, store.WorkflowState{WorkflowID: in.workflowID, EventID: in.eventID, State: store.WorkflowActive, Cancelled: true})
	if err := in.dispatch(ctx, in.workflowID+":cancelled", in.eventID, "Event Cancelled", "This event has been cancelled.", notify.LevelCritical); err != nil {
		in.logger.Warn("cancel_event: broadcast failed (non-fatal)", "workflow_id", in.workflowID, "error", err.Error())
	}
}

// terminate implements spec.md §4.8's Termination transition. The passed-in
// ctx may already be cancelled (e.g. Engine.Terminate's graceful-cancel
// path), but schedule deletion and the terminal state write must still run,
// so cleanup uses its own background context rather than ctx.
func (in *instance) terminate(ctx context.Context, reason string) string {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := in.schedules.DeleteFor(cleanupCtx, in.eventID)
	if err != nil {
		in.logger.Warn("terminate: schedule delete failed (non-fatal)", "workflow_id", in.workflowID, "error", err.Error())
	}

	state := store.WorkflowCompleted
	cancelled := false
	if reason == "cancelled" {
		state = store.WorkflowCancelled
		cancelled = true
	} else if reason == "missing" {
		state = store.WorkflowMissing
	}
	_ = in.states.Upsert(cleanupCtx, store.WorkflowState{WorkflowID: in.workflowID, EventID: in.eventID, State: state, Cancelled: cancelled})
	in.audit.WorkflowStateChanged(in.workflowID, in.eventID, string(state))

	return fmt.Sprintf("Event %d %s", in.eventID, reason)
}

// reconcileAll rebuilds the full schedule set from current store truth
// (spec.md §4.8 Start transition and the event_updated start_date-changed
// path share this).
func (in *instance) reconcileAll(ctx context.Context, ev *store.Event) error {
	subs, err := in.subs.ByEvent(ctx, ev.ID)
	if err != nil {
		return err
	}
	offsets := make(map[int64][]int64, len(subs))
	for _, sub := range subs {
		offs := make([]int64, 0, len(sub.Reminders))
		for _, r := range sub.Reminders {
			offs = append(offs, r.OffsetSeconds)
		}
		offsets[sub.ID] = offs
	}
	_, err = in.schedules.CreateFor(ctx, ev.ID, ev.StartDate, offsets, in.clock.Now())
	return err
}
