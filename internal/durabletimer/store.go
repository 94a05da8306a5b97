package durabletimer

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"
)

// Entry is one durable, one-shot schedule: fire Handler(ID, Payload) at or
// after FireAt, exactly once, surviving process restarts.
type Entry struct {
	ID      string
	FireAt  time.Time
	Payload []byte
	Fired   bool
}

// ErrNotFound is returned by Store.MarkFired when id is unknown; Delete
// of an unknown id is a no-op (spec.md §4.1: "cancel(id) removes a not-yet-fired
// schedule" — missing is fine, best-effort).
var ErrNotFound = errors.New("durable timer: entry not found")

// Store persists Entries. Create is idempotent: creating a duplicate id is a
// no-op regardless of FireAt/Payload, matching spec.md's "creating with a
// duplicate id is a no-op (idempotent)".
type Store interface {
	Create(ctx context.Context, e Entry) (created bool, err error)
	Delete(ctx context.Context, id string) error
	DueBefore(ctx context.Context, before time.Time) ([]Entry, error)
	MarkFired(ctx context.Context, id string) error
	ListByPrefix(ctx context.Context, prefix string) ([]Entry, error)
}

// MemoryStore is an in-process Store for tests and for the in-memory
// deployment mode; it does not survive process restarts by itself.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Create(_ context.Context, e Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[e.ID]; exists {
		return false, nil
	}
	m.entries[e.ID] = e
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) DueBefore(_ context.Context, before time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Entry
	for _, e := range m.entries {
		if !e.Fired && !e.FireAt.After(before) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	return due, nil
}

func (m *MemoryStore) MarkFired(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Fired = true
	m.entries[id] = e
	return nil
}

func (m *MemoryStore) ListByPrefix(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for id, e := range m.entries {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			out = append(out, e)
		}
	}
	return out, nil
}

// SQLStore persists Entries in the same relational store as the rest of C2,
// grounded on modules/database's plain database/sql usage. Surviving a
// process restart is exactly the point of this Store: the sweeper reads due
// entries from here (DueBefore) on every pass, including its first one at
// startup.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Create(ctx context.Context, e Entry) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO durable_timers (id, fire_at, payload, fired) VALUES ($1, $2, $3, false)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.FireAt.UTC(), e.Payload,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM durable_timers WHERE id = $1`, id)
	return err
}

func (s *SQLStore) DueBefore(ctx context.Context, before time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fire_at, payload FROM durable_timers WHERE fired = false AND fire_at <= $1 ORDER BY fire_at ASC`,
		before.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.FireAt, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkFired(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE durable_timers SET fired = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fire_at, payload, fired FROM durable_timers WHERE id LIKE $1`,
		prefix+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.FireAt, &e.Payload, &e.Fired); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
