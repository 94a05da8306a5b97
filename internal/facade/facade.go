// Package facade implements the Orchestration Facade (C9): the thin
// interface the external API layer uses to start, signal, query and
// terminate event workflows (spec.md §4.9). It does no business logic of
// its own — everything here is a direct pass-through to C8's Engine.
package facade

import (
	"context"

	"github.com/pypeaday/soonish/internal/workflow"
)

type Facade struct {
	engine *workflow.Engine
}

func New(engine *workflow.Engine) *Facade {
	return &Facade{engine: engine}
}

// StartEvent launches the workflow for an already-persisted event
// (spec.md §4.9 start_event). The caller is responsible for having
// created the Event row (with its workflow_id) via C2 first.
func (f *Facade) StartEvent(ctx context.Context, eventID int64, workflowID string) error {
	return f.engine.StartEvent(ctx, workflowID, eventID)
}

// Signal delivers participant_added/event_updated/cancel_event to the
// named workflow (spec.md §4.9 signal / §6 "Signals emitted from API to
// C8"). Returns once the signal is accepted into the instance's in-memory
// mailbox, not once the handler has run; the mailbox is not persisted, so
// a signal still queued when the process stops is lost.
func (f *Facade) Signal(ctx context.Context, workflowID string, name workflow.SignalName, payload any) error {
	return f.engine.Signal(ctx, workflowID, workflow.Signal{Name: name, Payload: payload})
}

// QueryStatus implements spec.md §4.9 query_status.
func (f *Facade) QueryStatus(ctx context.Context, workflowID string) (Status, error) {
	ws, err := f.engine.QueryStatus(ctx, workflowID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		EventID:     ws.EventID,
		IsCancelled: ws.Cancelled,
		State:       string(ws.State),
	}, nil
}

// Status is query_status's return shape: "{event_id, is_cancelled, event_data}" —
// event_data is left to the caller to fetch via C2 using EventID, since the
// facade stays thin (spec.md §4.9).
type Status struct {
	EventID     int64
	IsCancelled bool
	State       string
}

// Terminate implements spec.md §4.9 terminate.
func (f *Facade) Terminate(workflowID string) {
	f.engine.Terminate(workflowID)
}
