package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
)

func TestMemorySessionLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	session := models.Session{
		ID:        "session-1",
		TrainerID: "trainer-1",
		UserID:    "user-1",
		Status:    models.SessionStatusScheduled,
		CreatedAt: time.Now(),
	}
	require.NoError(t, m.CreateSession(ctx, session))

	got, err := m.GetSession(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "trainer-1", got.TrainerID)
	assert.Equal(t, "user-1", got.UserID)

	require.NoError(t, m.DeleteSession(ctx, "session-1"))
	_, err = m.GetSession(ctx, "session-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryGetUnknownSession(t *testing.T) {
	m := NewMemory()
	_, err := m.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryParticipants(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	count, err := m.CountParticipants(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, m.AddParticipant(ctx, "session-1", "trainer-1"))
	require.NoError(t, m.AddParticipant(ctx, "session-1", "user-1"))
	// Re-joining must not double count.
	require.NoError(t, m.AddParticipant(ctx, "session-1", "user-1"))

	count, err = m.CountParticipants(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, m.RemoveParticipant(ctx, "session-1", "user-1"))
	count, err = m.CountParticipants(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Removing a participant that never joined is a no-op.
	require.NoError(t, m.RemoveParticipant(ctx, "session-1", "ghost"))
}
