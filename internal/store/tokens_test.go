package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pypeaday/soonish/internal/modkit"
)

func TestUnsubscribeTokenIsOneShot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer := mustUser(t, db, "organizer@example.com")
	subscriber := mustUser(t, db, "subscriber@example.com")
	ev := mustEvent(t, db, organizer.ID, "wf-tok")
	sub, err := NewSubscriptionRepo(db).Create(ctx, CreateSubscriptionInput{EventID: ev.ID, UserID: subscriber.ID})
	require.NoError(t, err)

	repo := NewUnsubscribeTokenRepo(db)
	tok, err := repo.Create(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, tok.Valid(tok.CreatedAt))

	require.NoError(t, repo.Use(ctx, tok.Token))

	err = repo.Use(ctx, tok.Token)
	require.Error(t, err)
	assert.Equal(t, modkit.KindConflict, modkit.GetKind(err))
}

func TestUnsubscribeTokenByTokenNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewUnsubscribeTokenRepo(db)
	_, err := repo.ByToken(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, modkit.KindNotFound, modkit.GetKind(err))
}

func TestEventInvitationIsOneShot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer := mustUser(t, db, "organizer@example.com")
	ev := mustEvent(t, db, organizer.ID, "wf-invite-tok")
	repo := NewEventInvitationRepo(db)

	inv, err := repo.Create(ctx, ev.ID, organizer.ID, "Invitee@Example.com")
	require.NoError(t, err)
	assert.True(t, inv.Valid(inv.ExpiresAt.Add(-1)))

	require.NoError(t, repo.Use(ctx, inv.Token))

	err = repo.Use(ctx, inv.Token)
	require.Error(t, err)
	assert.Equal(t, modkit.KindConflict, modkit.GetKind(err))
}
