// Package workflow implements the Event Lifecycle Workflow (C8): one
// instance per event, serialized signal handling via a per-instance
// mailbox goroutine. The instance registry (map keyed by workflow id,
// guarded by a mutex, one goroutine per entry) is grounded on
// modules/eventbus/memory.go's subscription map shape, narrowed from a
// general topic bus to a single-subscriber-per-key mailbox.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/pypeaday/soonish/internal/audit"
	"github.com/pypeaday/soonish/internal/clock"
	"github.com/pypeaday/soonish/internal/dispatch"
	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/notify"
	"github.com/pypeaday/soonish/internal/schedule"
	"github.com/pypeaday/soonish/internal/store"
)

// Engine runs and routes signals to workflow instances.
type Engine struct {
	events     *store.EventRepo
	subs       *store.SubscriptionRepo
	states     *store.WorkflowStateRepo
	schedules  *schedule.Registry
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     modkit.Logger
	audit      *audit.Emitter

	mu        sync.Mutex
	instances map[string]*instance
	cancels   map[string]context.CancelFunc
}

func NewEngine(events *store.EventRepo, subs *store.SubscriptionRepo, states *store.WorkflowStateRepo, schedules *schedule.Registry, dispatcher *dispatch.Dispatcher, clk clock.Clock, logger modkit.Logger, auditor *audit.Emitter) *Engine {
	return &Engine{
		events: events, subs: subs, states: states, schedules: schedules, dispatcher: dispatcher, clock: clk, logger: logger, audit: auditor,
		instances: make(map[string]*instance),
		cancels:   make(map[string]context.CancelFunc),
	}
}

func (e *Engine) dispatchToEvent(ctx context.Context, triggerKey string, eventID int64, title, body string, level notify.Level) error {
	_, err := e.dispatcher.DispatchToEvent(ctx, triggerKey, eventID, title, body, level)
	return err
}

// StartEvent launches a new workflow instance for eventID under
// workflowID, or is a no-op if one is already running (spec.md §4.9
// start_event). The instance runs under its own context derived from
// context.Background, so its lifetime is independent of the caller's ctx,
// which StartEvent does not use; the instance records its own state once
// it initializes.
func (e *Engine) StartEvent(ctx context.Context, workflowID string, eventID int64) error {
	e.mu.Lock()
	if _, exists := e.instances[workflowID]; exists {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	in := newInstance(workflowID, eventID, instanceDeps{
		Events: e.events, Subs: e.subs, States: e.states, Schedules: e.schedules,
		Dispatch: e.dispatchToEvent, Clock: e.clock, Logger: e.logger, Audit: e.audit,
	})
	e.instances[workflowID] = in
	e.cancels[workflowID] = cancel
	e.mu.Unlock()

	go in.run(runCtx)
	return nil
}

// Signal delivers a signal to a running instance's mailbox (spec.md §4.9
// signal). Returns once the signal is accepted into the mailbox — not
// once the handler has executed — matching the facade's synchronous
// contract. Signals to unknown or terminated workflows are dropped
// (spec.md §4.8 "signals arriving after termination are dropped").
func (e *Engine) Signal(ctx context.Context, workflowID string, sig Signal) error {
	e.mu.Lock()
	in, ok := e.instances[workflowID]
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("signal to unknown workflow dropped", "workflow_id", workflowID, "signal", sig.Name)
		return nil
	}

	select {
	case in.mailbox <- sig:
		return nil
	case <-in.done:
		e.logger.Warn("signal to terminated workflow dropped", "workflow_id", workflowID, "signal", sig.Name)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return modkit.NewError(modkit.KindTransient, "workflow mailbox full")
	}
}

// QueryStatus implements spec.md §4.9 query_status.
func (e *Engine) QueryStatus(ctx context.Context, workflowID string) (*store.WorkflowState, error) {
	return e.states.ByWorkflowID(ctx, workflowID)
}

// Terminate stops a running instance's goroutine, if any (spec.md §4.9
// terminate). It does not itself run the Termination transition's
// side effects beyond cancelling the instance's context — the instance's
// own select loop observes ctx.Done and runs terminate("cancelled").
func (e *Engine) Terminate(workflowID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[workflowID]
	if ok {
		delete(e.cancels, workflowID)
		delete(e.instances, workflowID)
	}
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Rehydrate relaunches every non-terminal workflow found in the store,
// satisfying spec.md §5's "evict and rehydrate... without observable
// difference": a restarted process picks every Active/Initializing
// workflow back up and resumes waiting on end_date/signals.
func (e *Engine) Rehydrate(ctx context.Context) error {
	states, err := e.states.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, ws := range states {
		if err := e.StartEvent(ctx, ws.WorkflowID, ws.EventID); err != nil {
			e.logger.Error("rehydrate: failed to restart workflow", "workflow_id", ws.WorkflowID, "error", err.Error())
		}
	}
	return nil
}
