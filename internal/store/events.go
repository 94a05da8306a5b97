package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pypeaday/soonish/internal/modkit"
)

type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db.Conn()} }

type CreateEventInput struct {
	Name            string
	Description     *string
	StartDate       time.Time
	EndDate         *time.Time
	Timezone        string
	Location        *string
	IsPublic        bool
	OrganizerUserID int64
	WorkflowID      string
}

func (r *EventRepo) Create(ctx context.Context, in CreateEventInput) (*Event, error) {
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return nil, modkit.NewError(modkit.KindValidation, "end_date before start_date")
	}
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO events (name, description, start_date, end_date, timezone, location, is_public, organizer_user_id, workflow_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		RETURNING id, name, description, start_date, end_date, timezone, location, is_public, organizer_user_id, workflow_id, created_at, updated_at`,
		in.Name, in.Description, in.StartDate.UTC(), nullableTime(in.EndDate), in.Timezone, in.Location, in.IsPublic, in.OrganizerUserID, in.WorkflowID, now,
	)
	return scanEvent(row)
}

type UpdateEventInput struct {
	Name        *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time
	Location    *string
}

// Update applies only the non-nil fields and returns whether start_date
// changed, so C8 knows whether to reconcile schedules (spec.md §4.8).
func (r *EventRepo) Update(ctx context.Context, id int64, in UpdateEventInput) (ev *Event, startDateChanged bool, err error) {
	current, err := r.ByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	name := current.Name
	if in.Name != nil {
		name = *in.Name
	}
	description := current.Description
	if in.Description != nil {
		description = in.Description
	}
	startDate := current.StartDate
	if in.StartDate != nil {
		startDate = *in.StartDate
	}
	endDate := current.EndDate
	if in.EndDate != nil {
		endDate = in.EndDate
	}
	location := current.Location
	if in.Location != nil {
		location = in.Location
	}
	if endDate != nil && endDate.Before(startDate) {
		return nil, false, modkit.NewError(modkit.KindValidation, "end_date before start_date")
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE events SET name=$1, description=$2, start_date=$3, end_date=$4, location=$5, updated_at=$6
		WHERE id=$7
		RETURNING id, name, description, start_date, end_date, timezone, location, is_public, organizer_user_id, workflow_id, created_at, updated_at`,
		name, description, startDate.UTC(), nullableTime(endDate), location, time.Now().UTC(), id,
	)
	updated, err := scanEvent(row)
	if err != nil {
		return nil, false, err
	}
	return updated, in.StartDate != nil && !in.StartDate.Equal(current.StartDate), nil
}

func (r *EventRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	return err
}

func (r *EventRepo) ByID(ctx context.Context, id int64) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, start_date, end_date, timezone, location, is_public, organizer_user_id, workflow_id, created_at, updated_at
		FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

func (r *EventRepo) ByWorkflowID(ctx context.Context, workflowID string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, start_date, end_date, timezone, location, is_public, organizer_user_id, workflow_id, created_at, updated_at
		FROM events WHERE workflow_id = $1`, workflowID)
	return scanEvent(row)
}

func (r *EventRepo) ListPublic(ctx context.Context, skip, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, start_date, end_date, timezone, location, is_public, organizer_user_id, workflow_id, created_at, updated_at
		FROM events WHERE is_public = true ORDER BY start_date ASC LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListVisibleForUser is public ∪ organized ∪ subscribed (spec.md §4.2; the
// invitation leg of can_view is checked separately since invitations are
// keyed by email, not user id).
func (r *EventRepo) ListVisibleForUser(ctx context.Context, userID int64, skip, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT e.id, e.name, e.description, e.start_date, e.end_date, e.timezone, e.location, e.is_public, e.organizer_user_id, e.workflow_id, e.created_at, e.updated_at
		FROM events e
		LEFT JOIN subscriptions s ON s.event_id = e.id AND s.user_id = $1
		WHERE e.is_public = true OR e.organizer_user_id = $1 OR s.id IS NOT NULL
		ORDER BY e.start_date ASC LIMIT $2 OFFSET $3`, userID, limit, skip)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// CanView is: public ∨ organizer ∨ subscriber ∨ holder of a valid, unused
// invitation. This spec.md Open Question is resolved here by checking the
// invitation leg against inviteeEmail (empty string skips that check).
func (r *EventRepo) CanView(ctx context.Context, eventID, userID int64, inviteeEmail string, now time.Time) (bool, error) {
	ev, err := r.ByID(ctx, eventID)
	if err != nil {
		return false, err
	}
	if ev.IsPublic || ev.OrganizerUserID == userID {
		return true, nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE event_id=$1 AND user_id=$2)`, eventID, userID,
	).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	if inviteeEmail == "" {
		return false, nil
	}
	var inv EventInvitation
	row := r.db.QueryRowContext(ctx,
		`SELECT id, token, event_id, email, invited_by_user_id, expires_at, used_at
		 FROM event_invitations WHERE event_id=$1 AND LOWER(email)=LOWER($2) ORDER BY id DESC LIMIT 1`, eventID, inviteeEmail)
	if err := row.Scan(&inv.ID, &inv.Token, &inv.EventID, &inv.Email, &inv.InvitedByUserID, &inv.ExpiresAt, &inv.UsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return inv.Valid(now), nil
}

func scanEvent(row *sql.Row) (*Event, error) {
	var e Event
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &e.StartDate, &e.EndDate, &e.Timezone, &e.Location, &e.IsPublic, &e.OrganizerUserID, &e.WorkflowID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("event")
		}
		return nil, err
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.StartDate, &e.EndDate, &e.Timezone, &e.Location, &e.IsPublic, &e.OrganizerUserID, &e.WorkflowID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
