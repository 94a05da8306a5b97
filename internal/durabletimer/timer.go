package durabletimer

import (
	"context"
	"time"

	"github.com/pypeaday/soonish/internal/clock"
	"github.com/pypeaday/soonish/internal/modkit"
)

// Handler executes a fired timer's payload. Returning a KindTransient error
// makes the sweeper retry the same entry on its next pass (it is not marked
// fired); any other error or nil marks the entry fired and it will not be
// retried — spec.md's "at most one attempt per reminder firing" from the
// Handler's own perspective is the caller's (C7's) job via modkit.Retry.
type Handler func(ctx context.Context, id string, payload []byte) error

// Timer is the C1 "Clock & Durable Timer" contract: schedule_at / cancel,
// surviving process restarts, late firings still fire once promptly.
type Timer interface {
	ScheduleAt(ctx context.Context, id string, at time.Time, payload []byte) error
	Cancel(ctx context.Context, id string) error
	ListByPrefix(ctx context.Context, prefix string) ([]Entry, error)
}

// Registry is the production Timer: a Store for durability plus a Sweeper
// goroutine that polls for due, unfired entries and dispatches them to
// Handler. Conceptually the persistent min-heap + sweeper spec.md §4.1
// describes as the thing "the implementation must either build... or
// delegate to a durable workflow engine" — here, built.
type Registry struct {
	store       Store
	clock       clock.Clock
	handler     Handler
	logger      modkit.Logger
	pollEvery   time.Duration
	driftBudget time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Registry)

func WithPollInterval(d time.Duration) Option { return func(r *Registry) { r.pollEvery = d } }

func NewRegistry(store Store, clk clock.Clock, handler Handler, logger modkit.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		clock:       clk,
		handler:     handler,
		logger:      logger,
		pollEvery:   1 * time.Second,
		driftBudget: 5 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) ScheduleAt(ctx context.Context, id string, at time.Time, payload []byte) error {
	created, err := r.store.Create(ctx, Entry{ID: id, FireAt: at, Payload: payload})
	if err != nil {
		return modkit.Wrap(modkit.KindTransient, "create durable timer "+id, err)
	}
	if !created {
		r.logger.Debug("durable timer create: already exists, no-op", "id", id)
	}
	return nil
}

func (r *Registry) Cancel(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return modkit.Wrap(modkit.KindTransient, "cancel durable timer "+id, err)
	}
	return nil
}

func (r *Registry) ListByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	return r.store.ListByPrefix(ctx, prefix)
}

// Start launches the sweeper loop, which also performs an immediate sweep so
// entries that became due while the process was down ("late firings") fire
// promptly on restart instead of waiting for the next tick.
func (r *Registry) Start(ctx context.Context) error {
	sweepCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(sweepCtx)
	return nil
}

func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	r.sweep(ctx) // catch up immediately on start
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	due, err := r.store.DueBefore(ctx, r.clock.Now())
	if err != nil {
		r.logger.Error("durable timer sweep: list due failed", "error", err.Error())
		return
	}
	for _, e := range due {
		if err := r.handler(ctx, e.ID, e.Payload); err != nil {
			r.logger.Error("durable timer handler failed", "id", e.ID, "error", err.Error())
			if modkit.IsTransient(err) {
				continue
			}
		}
		if err := r.store.MarkFired(ctx, e.ID); err != nil {
			r.logger.Error("durable timer mark fired failed", "id", e.ID, "error", err.Error())
		}
	}
}
