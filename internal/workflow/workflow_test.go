package workflow

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pypeaday/soonish/internal/audit"
	"github.com/pypeaday/soonish/internal/clock"
	"github.com/pypeaday/soonish/internal/durabletimer"
	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/notify"
	"github.com/pypeaday/soonish/internal/schedule"
	"github.com/pypeaday/soonish/internal/store"
)

func quietLogger() modkit.Logger { return modkit.NewSlogLogger(slog.LevelError + 1) }

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(conn, "sqlite"))
	t.Cleanup(func() { conn.Close() })
	return store.NewDBFromConn(conn)
}

func newTestSchedules(t *testing.T) (*schedule.Registry, durabletimer.Timer) {
	t.Helper()
	timer := durabletimer.NewRegistry(durabletimer.NewMemoryStore(), clock.System{}, func(context.Context, string, []byte) error { return nil }, quietLogger())
	return schedule.New(timer, quietLogger()), timer
}

// recordingDispatch is a dispatchFunc stub that records every broadcast
// an instance makes, so tests can assert cancellation/update notices fired
// without needing a real Dispatcher.
type recordingDispatch struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingDispatch) fn(_ context.Context, triggerKey string, _ int64, _, _ string, _ notify.Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, triggerKey)
	return nil
}

func (r *recordingDispatch) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestDeps(t *testing.T, db *store.DB, clk clock.Clock, dispatch *recordingDispatch) (instanceDeps, durabletimer.Timer) {
	schedules, timer := newTestSchedules(t)
	return instanceDeps{
		Events:    store.NewEventRepo(db),
		Subs:      store.NewSubscriptionRepo(db),
		States:    store.NewWorkflowStateRepo(db),
		Schedules: schedules,
		Dispatch:  dispatch.fn,
		Clock:     clk,
		Logger:    quietLogger(),
		Audit:     audit.NewEmitter(quietLogger()),
	}, timer
}

func TestInitializeMarksMissingWhenEventNotFound(t *testing.T) {
	db := newTestDB(t)
	deps, _ := newTestDeps(t, db, clock.System{}, &recordingDispatch{})
	in := newInstance("wf-missing", 999, deps)

	terminal, result := in.initialize(context.Background())
	assert.True(t, terminal)
	assert.Equal(t, "missing", result)

	ws, err := store.NewWorkflowStateRepo(db).ByWorkflowID(context.Background(), "wf-missing")
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowMissing, ws.State)
}

func TestInitializeReconcilesSchedulesAndGoesActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "organizer@example.com", "Org")
	require.NoError(t, err)
	subscriber, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "sub@example.com", "Sub")
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{
		Name: "Launch", StartDate: time.Now().Add(time.Hour), Timezone: "UTC",
		OrganizerUserID: organizer.ID, WorkflowID: "wf-active",
	})
	require.NoError(t, err)
	_, err = store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{
		EventID: ev.ID, UserID: subscriber.ID, ReminderOffsets: []int64{60},
	})
	require.NoError(t, err)

	deps, timer := newTestDeps(t, db, clock.System{}, &recordingDispatch{})
	in := newInstance(ev.WorkflowID, ev.ID, deps)

	terminal, _ := in.initialize(ctx)
	assert.False(t, terminal)

	ws, err := store.NewWorkflowStateRepo(db).ByWorkflowID(ctx, ev.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowActive, ws.State)

	entries, err := timer.ListByPrefix(ctx, schedule.EventPrefix(ev.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestActiveTerminatesAsCompletedWhenEndDatePasses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "organizer@example.com", "Org")
	require.NoError(t, err)
	fixed := clock.NewFixed(time.Now())
	endDate := fixed.Now().Add(-time.Second)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{
		Name: "Past", StartDate: fixed.Now().Add(-time.Hour), EndDate: &endDate, Timezone: "UTC",
		OrganizerUserID: organizer.ID, WorkflowID: "wf-completed",
	})
	require.NoError(t, err)

	deps, _ := newTestDeps(t, db, fixed, &recordingDispatch{})
	in := newInstance(ev.WorkflowID, ev.ID, deps)

	result := in.active(ctx)
	assert.Contains(t, result, "completed")

	ws, err := store.NewWorkflowStateRepo(db).ByWorkflowID(ctx, ev.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowCompleted, ws.State)
}

func TestActiveHandlesCancelSignalAndBroadcasts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "organizer@example.com", "Org")
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{
		Name: "Cancel Me", StartDate: time.Now().Add(time.Hour), Timezone: "UTC",
		OrganizerUserID: organizer.ID, WorkflowID: "wf-cancel",
	})
	require.NoError(t, err)

	dispatch := &recordingDispatch{}
	deps, _ := newTestDeps(t, db, clock.System{}, dispatch)
	in := newInstance(ev.WorkflowID, ev.ID, deps)
	in.mailbox <- Signal{Name: SignalCancelEvent}

	result := in.active(ctx)
	assert.Contains(t, result, "cancelled")
	assert.Equal(t, 1, dispatch.count())

	ws, err := store.NewWorkflowStateRepo(db).ByWorkflowID(ctx, ev.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowCancelled, ws.State)
	assert.True(t, ws.Cancelled)
}

func TestActiveHandlesParticipantAddedInline(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "organizer@example.com", "Org")
	require.NoError(t, err)
	newSubscriber, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "late@example.com", "Late")
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{
		Name: "Growing", StartDate: time.Now().Add(time.Hour), Timezone: "UTC",
		OrganizerUserID: organizer.ID, WorkflowID: "wf-participant",
	})
	require.NoError(t, err)
	sub, err := store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{
		EventID: ev.ID, UserID: newSubscriber.ID, ReminderOffsets: []int64{60},
	})
	require.NoError(t, err)

	deps, timer := newTestDeps(t, db, clock.System{}, &recordingDispatch{})
	in := newInstance(ev.WorkflowID, ev.ID, deps)
	in.mailbox <- Signal{Name: SignalParticipantAdded, Payload: ParticipantAddedPayload{SubscriptionID: sub.ID, UserID: newSubscriber.ID}}

	done := make(chan string, 1)
	go func() { done <- in.active(ctx) }()

	// The new subscriber's schedule exists while the instance is active.
	require.Eventually(t, func() bool {
		entries, err := timer.ListByPrefix(ctx, schedule.EventPrefix(ev.ID))
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond)

	// Cancelling terminates the instance, which deletes every schedule of
	// the event.
	in.mailbox <- Signal{Name: SignalCancelEvent}
	<-done

	entries, err := timer.ListByPrefix(ctx, schedule.EventPrefix(ev.ID))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
