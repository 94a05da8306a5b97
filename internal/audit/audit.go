// Package audit emits structured lifecycle events for the workflow engine
// as CloudEvents, grounded on modules/database's EmitEvent-on-lifecycle
// pattern (connect/disconnect/config-loaded emitted as
// modular.NewCloudEvent), narrowed here to a single sink (structured log)
// since Soonish has no pub/sub event bus of its own for these (spec.md
// Non-goals exclude an observability layer, but the emission shape itself
// is carried from the teacher regardless).
package audit

import (
	"encoding/json"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/pypeaday/soonish/internal/modkit"
)

const source = "soonish/workflow"

// Emitter builds and logs one CloudEvent per workflow state transition
// (spec.md §4.8's Initializing/Active/Terminal states).
type Emitter struct {
	logger modkit.Logger
}

func NewEmitter(logger modkit.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// WorkflowStateChanged records a C8 instance's transition. Encoding or
// logging failure here is never allowed to affect the workflow itself —
// it is swallowed after a warning.
func (e *Emitter) WorkflowStateChanged(workflowID string, eventID int64, state string) {
	ev := cloudevents.NewEvent()
	ev.SetID(uuid.NewString())
	ev.SetType("soonish.workflow.state_changed")
	ev.SetSource(source)
	ev.SetTime(time.Now().UTC())
	if err := ev.SetData(cloudevents.ApplicationJSON, map[string]any{
		"workflow_id": workflowID,
		"event_id":    eventID,
		"state":       state,
	}); err != nil {
		e.logger.Warn("audit: encode workflow state event failed", "error", err.Error())
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("audit: marshal workflow state event failed", "error", err.Error())
		return
	}
	e.logger.Info("workflow state changed", "cloudevent", string(raw))
}
