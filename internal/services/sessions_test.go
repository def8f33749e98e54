package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lojf/paygate/internal/models"
)

func newSession(t *testing.T, s *SessionStore, ref string, expires time.Time) *models.PaymentSession {
	t.Helper()
	sess := &models.PaymentSession{
		SessionID:  uuid.NewString(),
		UserID:     42,
		PaymentRef: ref,
		PaymentURL: "https://paypal.test/approve",
		ExpiresAt:  expires,
	}
	require.NoError(t, s.Create(context.Background(), sess))
	return sess
}

func TestSessionStore_SetStatusOnlyFromPending(t *testing.T) {
	s := NewSessionStore(newTestDB(t))
	ctx := context.Background()
	sess := newSession(t, s, "REF-1", utcNow().Add(time.Hour))

	got, err := s.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)

	ok, err := s.SetStatus(ctx, sess.SessionID, models.SessionCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetStatus(ctx, sess.SessionID, models.SessionExpired)
	require.NoError(t, err)
	assert.False(t, ok, "a completed session cannot expire")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_ListExpired(t *testing.T) {
	s := NewSessionStore(newTestDB(t))
	ctx := context.Background()
	now := utcNow()

	late := newSession(t, s, "REF-LATE", now.Add(-time.Minute))
	older := newSession(t, s, "REF-OLDER", now.Add(-time.Hour))
	newSession(t, s, "REF-LIVE", now.Add(time.Minute))
	done := newSession(t, s, "REF-DONE", now.Add(-2*time.Hour))
	require.NoError(t, s.CompleteByRef(ctx, "REF-DONE"))

	list, err := s.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.SessionID, list[0].SessionID)
	assert.Equal(t, late.SessionID, list[1].SessionID)

	got, err := s.Get(ctx, done.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)

	list, err = s.ListExpired(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
