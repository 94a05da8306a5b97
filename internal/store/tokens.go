package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/pypeaday/soonish/internal/modkit"
)

type UnsubscribeTokenRepo struct{ db *sql.DB }

func NewUnsubscribeTokenRepo(db *DB) *UnsubscribeTokenRepo { return &UnsubscribeTokenRepo{db: db.Conn()} }

// NewToken generates a uniformly random token of at least 256 bits
// (spec.md §3: "uniformly random, ≥256 bits"), base64url-encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", modkit.Wrap(modkit.KindTransient, "generate token", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (r *UnsubscribeTokenRepo) Create(ctx context.Context, subscriptionID int64) (*UnsubscribeToken, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := UnsubscribeToken{
		Token:          token,
		SubscriptionID: subscriptionID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(DefaultUnsubscribeTokenTTL),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO unsubscribe_tokens (token, subscription_id, created_at, expires_at) VALUES ($1,$2,$3,$4)`,
		t.Token, t.SubscriptionID, t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *UnsubscribeTokenRepo) ByToken(ctx context.Context, token string) (*UnsubscribeToken, error) {
	var t UnsubscribeToken
	err := r.db.QueryRowContext(ctx,
		`SELECT token, subscription_id, created_at, used_at, expires_at FROM unsubscribe_tokens WHERE token=$1`, token,
	).Scan(&t.Token, &t.SubscriptionID, &t.CreatedAt, &t.UsedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("unsubscribe token")
		}
		return nil, err
	}
	return &t, nil
}

// Use marks the token used, one-shot (spec.md §3 lifecycle).
func (r *UnsubscribeTokenRepo) Use(ctx context.Context, token string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE unsubscribe_tokens SET used_at=$1 WHERE token=$2 AND used_at IS NULL`, now, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return modkit.NewError(modkit.KindConflict, "unsubscribe token already used or missing")
	}
	return nil
}

type EventInvitationRepo struct{ db *sql.DB }

func NewEventInvitationRepo(db *DB) *EventInvitationRepo { return &EventInvitationRepo{db: db.Conn()} }

func (r *EventInvitationRepo) Create(ctx context.Context, eventID, invitedByUserID int64, email string) (*EventInvitation, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var inv EventInvitation
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO event_invitations (token, event_id, email, invited_by_user_id, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, token, event_id, email, invited_by_user_id, expires_at, used_at`,
		token, eventID, email, invitedByUserID, now.Add(DefaultInvitationTTL),
	).Scan(&inv.ID, &inv.Token, &inv.EventID, &inv.Email, &inv.InvitedByUserID, &inv.ExpiresAt, &inv.UsedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *EventInvitationRepo) ByToken(ctx context.Context, token string) (*EventInvitation, error) {
	var inv EventInvitation
	err := r.db.QueryRowContext(ctx,
		`SELECT id, token, event_id, email, invited_by_user_id, expires_at, used_at FROM event_invitations WHERE token=$1`, token,
	).Scan(&inv.ID, &inv.Token, &inv.EventID, &inv.Email, &inv.InvitedByUserID, &inv.ExpiresAt, &inv.UsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("event invitation")
		}
		return nil, err
	}
	return &inv, nil
}

func (r *EventInvitationRepo) Use(ctx context.Context, token string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE event_invitations SET used_at=$1 WHERE token=$2 AND used_at IS NULL`, now, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return modkit.NewError(modkit.KindConflict, "invitation already used or missing")
	}
	return nil
}
