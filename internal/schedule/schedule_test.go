package schedule

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pypeaday/soonish/internal/durabletimer"
	"github.com/pypeaday/soonish/internal/modkit"
)

func quietLogger() modkit.Logger { return modkit.NewSlogLogger(slog.LevelError + 1) }

func TestScheduleIDIsDeterministic(t *testing.T) {
	assert.Equal(t, "event-1-sub-2-reminder-3600s", ScheduleID(1, 2, 3600))
	assert.Equal(t, ScheduleID(1, 2, 3600), ScheduleID(1, 2, 3600))
}

func TestPayloadRoundTrips(t *testing.T) {
	p := Payload{EventID: 7, SubscriptionID: 9, OffsetSeconds: 1800}
	decoded, err := DecodePayload(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	_, err := DecodePayload([]byte("not-a-payload"))
	require.Error(t, err)
	assert.Equal(t, modkit.KindValidation, modkit.GetKind(err))
}

func newTestRegistry() (*Registry, *durabletimer.Registry) {
	store := durabletimer.NewMemoryStore()
	timer := durabletimer.NewRegistry(store, clockStub{}, func(context.Context, string, []byte) error { return nil }, quietLogger())
	return New(timer, quietLogger()), timer
}

type clockStub struct{}

func (clockStub) Now() time.Time { return time.Now() }

func TestCreateForSchedulesFutureOffsetsAndSkipsPast(t *testing.T) {
	reg, timer := newTestRegistry()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(2 * time.Hour)

	ids, err := reg.CreateFor(ctx, 1, start, map[int64][]int64{
		10: {3600, 7200 * 2}, // 1h before (future), 4h before (already past relative to now)
	}, now)
	require.NoError(t, err)
	assert.Equal(t, []string{ScheduleID(1, 10, 3600)}, ids)

	entries, err := timer.ListByPrefix(ctx, EventPrefix(1))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, ScheduleID(1, 10, 3600), entries[0].ID)
}

func TestCreateForIsIdempotent(t *testing.T) {
	reg, timer := newTestRegistry()
	ctx := context.Background()
	now := time.Now()
	start := now.Add(time.Hour)

	_, err := reg.CreateFor(ctx, 2, start, map[int64][]int64{5: {60}}, now)
	require.NoError(t, err)
	_, err = reg.CreateFor(ctx, 2, start, map[int64][]int64{5: {60}}, now)
	require.NoError(t, err)

	entries, err := timer.ListByPrefix(ctx, EventPrefix(2))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeleteForCancelsOnlyMatchingEvent(t *testing.T) {
	reg, timer := newTestRegistry()
	ctx := context.Background()
	now := time.Now()
	start := now.Add(time.Hour)

	_, err := reg.CreateFor(ctx, 3, start, map[int64][]int64{1: {60}}, now)
	require.NoError(t, err)
	_, err = reg.CreateFor(ctx, 4, start, map[int64][]int64{1: {60}}, now)
	require.NoError(t, err)

	cancelled, err := reg.DeleteFor(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{ScheduleID(3, 1, 60)}, cancelled)

	entries, err := timer.ListByPrefix(ctx, EventPrefix(4))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = timer.ListByPrefix(ctx, EventPrefix(3))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
