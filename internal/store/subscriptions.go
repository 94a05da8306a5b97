package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pypeaday/soonish/internal/modkit"
)

type SubscriptionRepo struct {
	db *sql.DB
}

func NewSubscriptionRepo(db *DB) *SubscriptionRepo { return &SubscriptionRepo{db: db.Conn()} }

type Selector struct {
	IntegrationID *int64
	Tag           *string
}

type CreateSubscriptionInput struct {
	EventID        int64
	UserID         int64
	Selectors      []Selector
	ReminderOffsets []int64
}

// Create enforces the (event_id, user_id) uniqueness invariant (spec.md §3
// invariant #5 / §8 Scenario F): a duplicate subscribe is a conflict, not a
// second row.
func (r *SubscriptionRepo) Create(ctx context.Context, in CreateSubscriptionInput) (*Subscription, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE event_id=$1 AND user_id=$2)`, in.EventID, in.UserID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, conflict("subscription already exists for this event and user")
	}

	now := time.Now().UTC()
	var sub Subscription
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO subscriptions (event_id, user_id, created_at) VALUES ($1,$2,$3) RETURNING id, event_id, user_id, created_at`,
		in.EventID, in.UserID, now,
	).Scan(&sub.ID, &sub.EventID, &sub.UserID, &sub.CreatedAt); err != nil {
		return nil, err
	}

	for _, sel := range in.Selectors {
		if (sel.IntegrationID == nil) == (sel.Tag == nil) {
			return nil, modkit.NewError(modkit.KindValidation, "selector must carry exactly one of integration_id or tag")
		}
		var tag *string
		if sel.Tag != nil {
			t := NormalizeTag(*sel.Tag)
			tag = &t
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscription_selectors (subscription_id, integration_id, tag) VALUES ($1,$2,$3)`,
			sub.ID, sel.IntegrationID, tag,
		); err != nil {
			return nil, err
		}
	}

	for _, offset := range in.ReminderOffsets {
		if offset < 0 {
			return nil, modkit.NewError(modkit.KindValidation, "reminder offset must be non-negative")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscription_reminders (subscription_id, offset_seconds) VALUES ($1,$2)`,
			sub.ID, offset,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.ByID(ctx, sub.ID)
}

func (r *SubscriptionRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	return err
}

func (r *SubscriptionRepo) ByID(ctx context.Context, id int64) (*Subscription, error) {
	var sub Subscription
	err := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, created_at FROM subscriptions WHERE id=$1`, id,
	).Scan(&sub.ID, &sub.EventID, &sub.UserID, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("subscription")
		}
		return nil, err
	}
	if err := r.loadSelectorsAndReminders(ctx, []*Subscription{&sub}); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepo) ByEventAndUser(ctx context.Context, eventID, userID int64) (*Subscription, error) {
	var sub Subscription
	err := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, created_at FROM subscriptions WHERE event_id=$1 AND user_id=$2`, eventID, userID,
	).Scan(&sub.ID, &sub.EventID, &sub.UserID, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("subscription")
		}
		return nil, err
	}
	return &sub, nil
}

// ByEvent loads every subscription of an event plus its selectors, user and
// the user's integrations, batched into a fixed small number of queries
// (one per table) rather than one query per subscription row, satisfying
// spec.md §4.2's "single eager query, no N+1" in spirit.
func (r *SubscriptionRepo) ByEvent(ctx context.Context, eventID int64) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, event_id, user_id, created_at FROM subscriptions WHERE event_id=$1`, eventID)
	if err != nil {
		return nil, err
	}
	var subs []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.EventID, &s.UserID, &s.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		subs = append(subs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return subs, nil
	}

	ptrs := make([]*Subscription, len(subs))
	for i := range subs {
		ptrs[i] = &subs[i]
	}
	if err := r.loadSelectorsAndReminders(ctx, ptrs); err != nil {
		return nil, err
	}
	if err := r.loadUsersAndIntegrations(ctx, ptrs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *SubscriptionRepo) loadSelectorsAndReminders(ctx context.Context, subs []*Subscription) error {
	byID := make(map[int64]*Subscription, len(subs))
	ids := make([]any, len(subs))
	for i, s := range subs {
		byID[s.ID] = s
		ids[i] = s.ID
	}

	selRows, err := r.db.QueryContext(ctx, inQuery(`SELECT id, subscription_id, integration_id, tag FROM subscription_selectors WHERE subscription_id IN (%s)`, ids), ids...)
	if err != nil {
		return err
	}
	defer selRows.Close()
	for selRows.Next() {
		var sel SubscriptionSelector
		if err := selRows.Scan(&sel.ID, &sel.SubscriptionID, &sel.IntegrationID, &sel.Tag); err != nil {
			return err
		}
		if s, ok := byID[sel.SubscriptionID]; ok {
			s.Selectors = append(s.Selectors, sel)
		}
	}
	if err := selRows.Err(); err != nil {
		return err
	}

	remRows, err := r.db.QueryContext(ctx, inQuery(`SELECT id, subscription_id, offset_seconds FROM subscription_reminders WHERE subscription_id IN (%s)`, ids), ids...)
	if err != nil {
		return err
	}
	defer remRows.Close()
	for remRows.Next() {
		var rem SubscriptionReminder
		if err := remRows.Scan(&rem.ID, &rem.SubscriptionID, &rem.OffsetSeconds); err != nil {
			return err
		}
		if s, ok := byID[rem.SubscriptionID]; ok {
			s.Reminders = append(s.Reminders, rem)
		}
	}
	return remRows.Err()
}

// loadUsersAndIntegrations batches User and User.Integrations in one query
// per table, keyed by the deduplicated set of subscriber user ids, so
// resolving a broadcast's subscribers never issues a per-subscription or
// per-selector integration query (spec.md §4.2: "single eager query, no
// N+1"). A user with zero integrations still gets a non-nil (empty) slice,
// marking it loaded so internal/resolver can tell "preloaded, no matches"
// apart from "not preloaded, fall back to a direct lookup".
func (r *SubscriptionRepo) loadUsersAndIntegrations(ctx context.Context, subs []*Subscription) error {
	userIDSet := make(map[int64]struct{})
	for _, s := range subs {
		userIDSet[s.UserID] = struct{}{}
	}
	ids := make([]any, 0, len(userIDSet))
	for id := range userIDSet {
		ids = append(ids, id)
	}

	users := make(map[int64]*User, len(ids))
	rows, err := r.db.QueryContext(ctx, inQuery(`SELECT id, email, display_name, password_hash, is_verified, created_at FROM users WHERE id IN (%s)`, ids), ids...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.IsVerified, &u.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		u.Integrations = []Integration{}
		users[u.ID] = &u
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	integRows, err := r.db.QueryContext(ctx, inQuery(`SELECT id, user_id, name, tag, is_active, type, delivery_url_cipher, config_cipher, created_at FROM integrations WHERE user_id IN (%s)`, ids), ids...)
	if err != nil {
		return err
	}
	integs, err := scanIntegrations(integRows)
	if err != nil {
		return err
	}
	for _, integ := range integs {
		if u, ok := users[integ.UserID]; ok {
			u.Integrations = append(u.Integrations, integ)
		}
	}

	for _, s := range subs {
		s.User = users[s.UserID]
	}
	return nil
}

// inQuery renders tpl's "%s" placeholder as a "$1,$2,..." list sized to
// len(ids), so the batched lookups above stay a single round trip per table
// regardless of how many subscriptions were fetched.
func inQuery(tpl string, ids []any) string {
	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf(tpl, strings.Join(placeholders, ","))
}
