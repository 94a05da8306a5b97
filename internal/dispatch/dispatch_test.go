package dispatch

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pypeaday/soonish/internal/crypto"
	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/notify"
	"github.com/pypeaday/soonish/internal/resolver"
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

func newTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	c, err := crypto.NewCipher(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	return c
}

// fakeDriver records every send and answers deterministically per scheme,
// letting tests steer success/failure without a real transport.
type fakeDriver struct {
	schemes []string
	fail    bool

	mu    sync.Mutex
	sends []string
}

func (f *fakeDriver) Schemes() []string { return f.schemes }

func (f *fakeDriver) Send(_ context.Context, deliveryURL, _, _ string, _ notify.Level) notify.Outcome {
	f.mu.Lock()
	f.sends = append(f.sends, deliveryURL)
	f.mu.Unlock()
	if f.fail {
		return notify.Outcome{OK: false, Err: assert.AnError, Kind: notify.FailureTransport}
	}
	return notify.Outcome{OK: true, ChannelName: "fake"}
}

func (f *fakeDriver) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func newDispatcher(t *testing.T, driver *fakeDriver) (*Dispatcher, *store.DB, *store.IntegrationService) {
	db := newTestDB(t)
	cipher := newTestCipher(t)
	integrations := store.NewIntegrationRepo(db)
	integrationSvc := store.NewIntegrationService(integrations, cipher)
	res := resolver.New(integrations, integrationSvc, quietLogger())
	reg := notify.NewRegistry()
	reg.Register(driver)
	d := New(store.NewSubscriptionRepo(db), res, reg, NewMemoryDedupeLock(), quietLogger())
	return d, db, integrationSvc
}

func TestDispatchToSubscriptionReportsNoChannelsWithoutSelectors(t *testing.T) {
	driver := &fakeDriver{schemes: []string{"fake"}}
	d, db, _ := newDispatcher(t, driver)
	ctx := context.Background()

	user, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "u@example.com", "U")
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{Name: "E", StartDate: time.Now().Add(time.Hour), Timezone: "UTC", OrganizerUserID: user.ID, WorkflowID: "wf-1"})
	require.NoError(t, err)
	sub, err := store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{EventID: ev.ID, UserID: user.ID})
	require.NoError(t, err)

	report, err := d.DispatchToSubscription(ctx, "trigger-1", sub.ID, "t", "b", notify.LevelInfo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Success)
}

func TestDispatchToSubscriptionSendsToResolvedEndpoint(t *testing.T) {
	driver := &fakeDriver{schemes: []string{"fake"}}
	d, db, svc := newDispatcher(t, driver)
	ctx := context.Background()

	user, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "u@example.com", "U")
	require.NoError(t, err)
	integ, err := svc.Create(ctx, store.CreateIntegrationRequest{UserID: user.ID, Name: "n", Tag: "work", Type: store.IntegrationGotify, DeliveryURL: "fake://target"})
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{Name: "E", StartDate: time.Now().Add(time.Hour), Timezone: "UTC", OrganizerUserID: user.ID, WorkflowID: "wf-2"})
	require.NoError(t, err)
	id := integ.ID
	sub, err := store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{
		EventID: ev.ID, UserID: user.ID, Selectors: []store.Selector{{IntegrationID: &id}},
	})
	require.NoError(t, err)

	report, err := d.DispatchToSubscription(ctx, "trigger-2", sub.ID, "t", "b", notify.LevelInfo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, driver.sendCount())
}

func TestDispatchToEventFallsBackToMailForSelectorlessSubscriber(t *testing.T) {
	driver := &fakeDriver{schemes: []string{"mailto", "mailtov"}}
	d, db, _ := newDispatcher(t, driver)
	ctx := context.Background()

	organizer, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "organizer@example.com", "Org")
	require.NoError(t, err)
	subscriber, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "subscriber@example.com", "Sub")
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{Name: "E", StartDate: time.Now().Add(time.Hour), Timezone: "UTC", OrganizerUserID: organizer.ID, WorkflowID: "wf-3"})
	require.NoError(t, err)
	_, err = store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{EventID: ev.ID, UserID: subscriber.ID})
	require.NoError(t, err)

	report, err := d.DispatchToEvent(ctx, "trigger-3", ev.ID, "t", "b", notify.LevelInfo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalSubscribers)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, driver.sendCount())
}

func TestDedupeLockPreventsDoubleSendForSameTrigger(t *testing.T) {
	driver := &fakeDriver{schemes: []string{"fake"}}
	d, db, svc := newDispatcher(t, driver)
	ctx := context.Background()

	user, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "u@example.com", "U")
	require.NoError(t, err)
	integ, err := svc.Create(ctx, store.CreateIntegrationRequest{UserID: user.ID, Name: "n", Tag: "work", Type: store.IntegrationGotify, DeliveryURL: "fake://target"})
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{Name: "E", StartDate: time.Now().Add(time.Hour), Timezone: "UTC", OrganizerUserID: user.ID, WorkflowID: "wf-4"})
	require.NoError(t, err)
	id := integ.ID
	sub, err := store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{EventID: ev.ID, UserID: user.ID, Selectors: []store.Selector{{IntegrationID: &id}}})
	require.NoError(t, err)

	_, err = d.DispatchToSubscription(ctx, "same-trigger", sub.ID, "t", "b", notify.LevelInfo)
	require.NoError(t, err)
	report, err := d.DispatchToSubscription(ctx, "same-trigger", sub.ID, "t", "b", notify.LevelInfo)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Success)
	assert.Equal(t, "deduped", report.Channels[0].ChannelName)
	assert.Equal(t, 1, driver.sendCount())
}

func TestDispatchToEventIsolatesPerSubscriberFailures(t *testing.T) {
	driver := &fakeDriver{schemes: []string{"fake"}}
	d, db, svc := newDispatcher(t, driver)
	ctx := context.Background()

	organizer, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "organizer@example.com", "Org")
	require.NoError(t, err)
	ev, err := store.NewEventRepo(db).Create(ctx, store.CreateEventInput{Name: "E", StartDate: time.Now().Add(time.Hour), Timezone: "UTC", OrganizerUserID: organizer.ID, WorkflowID: "wf-5"})
	require.NoError(t, err)

	withChannel, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "with@example.com", "With")
	require.NoError(t, err)
	integ, err := svc.Create(ctx, store.CreateIntegrationRequest{UserID: withChannel.ID, Name: "n", Tag: "work", Type: store.IntegrationGotify, DeliveryURL: "fake://a"})
	require.NoError(t, err)
	id := integ.ID
	_, err = store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{EventID: ev.ID, UserID: withChannel.ID, Selectors: []store.Selector{{IntegrationID: &id}}})
	require.NoError(t, err)

	withoutChannel, _, err := store.NewUserRepo(db).GetOrCreateByEmail(ctx, "without@example.com", "Without")
	require.NoError(t, err)
	tag := "nonexistent"
	_, err = store.NewSubscriptionRepo(db).Create(ctx, store.CreateSubscriptionInput{EventID: ev.ID, UserID: withoutChannel.ID, Selectors: []store.Selector{{Tag: &tag}}})
	require.NoError(t, err)

	report, err := d.DispatchToEvent(ctx, "trigger-iso", ev.ID, "t", "b", notify.LevelInfo)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalSubscribers)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, report.Failed)
}
