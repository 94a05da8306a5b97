package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// WorkflowLifecycleState is the persisted projection of C8's state
// machine (spec.md §4.8), durable enough that a process restart can
// rehydrate which events still need an active workflow loop.
type WorkflowLifecycleState string

const (
	WorkflowInitializing WorkflowLifecycleState = "initializing"
	WorkflowActive       WorkflowLifecycleState = "active"
	WorkflowCompleted    WorkflowLifecycleState = "completed"
	WorkflowCancelled    WorkflowLifecycleState = "cancelled"
	WorkflowMissing      WorkflowLifecycleState = "missing"
)

type WorkflowState struct {
	WorkflowID string
	EventID    int64
	State      WorkflowLifecycleState
	Cancelled  bool
	UpdatedAt  time.Time
}

func (s WorkflowState) IsTerminal() bool {
	return s.State == WorkflowCompleted || s.State == WorkflowCancelled || s.State == WorkflowMissing
}

type WorkflowStateRepo struct{ db *sql.DB }

func NewWorkflowStateRepo(db *DB) *WorkflowStateRepo { return &WorkflowStateRepo{db: db.Conn()} }

func (r *WorkflowStateRepo) Upsert(ctx context.Context, ws WorkflowState) error {
	ws.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_states (workflow_id, event_id, state, cancelled, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (workflow_id) DO UPDATE SET state=$3, cancelled=$4, updated_at=$5`,
		ws.WorkflowID, ws.EventID, string(ws.State), ws.Cancelled, ws.UpdatedAt,
	)
	return err
}

func (r *WorkflowStateRepo) ByWorkflowID(ctx context.Context, workflowID string) (*WorkflowState, error) {
	var ws WorkflowState
	var state string
	err := r.db.QueryRowContext(ctx,
		`SELECT workflow_id, event_id, state, cancelled, updated_at FROM workflow_states WHERE workflow_id=$1`, workflowID,
	).Scan(&ws.WorkflowID, &ws.EventID, &state, &ws.Cancelled, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("workflow state")
		}
		return nil, err
	}
	ws.State = WorkflowLifecycleState(state)
	return &ws, nil
}

// ListNonTerminal powers rehydration on process start: every workflow that
// was Initializing or Active when the process last stopped needs its
// Active-wait loop relaunched (spec.md §5 "evict and rehydrate... without
// observable difference").
func (r *WorkflowStateRepo) ListNonTerminal(ctx context.Context) ([]WorkflowState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT workflow_id, event_id, state, cancelled, updated_at FROM workflow_states WHERE state IN ($1,$2)`,
		string(WorkflowInitializing), string(WorkflowActive),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkflowState
	for rows.Next() {
		var ws WorkflowState
		var state string
		if err := rows.Scan(&ws.WorkflowID, &ws.EventID, &state, &ws.Cancelled, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		ws.State = WorkflowLifecycleState(state)
		out = append(out, ws)
	}
	return out, rows.Err()
}
