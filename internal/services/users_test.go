package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lojf/paygate/internal/models"
)

func TestAccessLedger_UpsertIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.users.Upsert(ctx, UserProfile{UserID: 10, Username: "old", FirstName: "A"}))
	require.NoError(t, e.users.MarkPaid(ctx, 10))
	require.NoError(t, e.users.Upsert(ctx, UserProfile{UserID: 10, Username: "new", FirstName: "B"}))

	u, err := e.users.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "new", u.Username)
	assert.Equal(t, "B", u.FirstName)
	assert.True(t, u.HasPaid, "upsert must not reset access")

	var n int64
	require.NoError(t, e.db.Model(&models.User{}).Where("user_id = ?", 10).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestAccessLedger_UnknownUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	paid, err := e.users.HasPaid(ctx, 404)
	require.NoError(t, err)
	assert.False(t, paid)

	_, err = e.users.Get(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccessLedger_MarkPaidIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.users.MarkPaid(ctx, 7))
	first, err := e.users.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, first.PaidAt)

	require.NoError(t, e.users.MarkPaid(ctx, 7))
	second, err := e.users.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, second.HasPaid)
	assert.True(t, first.PaidAt.Equal(*second.PaidAt), "paid_at must not move")
}

func TestAccessLedger_InviteRequiresPayment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.users.Upsert(ctx, UserProfile{UserID: 3}))

	assert.ErrorIs(t, e.users.MarkInviteSent(ctx, 3), ErrNotPaid)
	claimed, err := e.users.ClaimInvite(ctx, 3)
	require.NoError(t, err)
	assert.False(t, claimed)

	has, err := e.users.HasInvite(ctx, 3)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAccessLedger_MarkInviteSentIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.users.MarkPaid(ctx, 3))

	require.NoError(t, e.users.MarkInviteSent(ctx, 3))
	require.NoError(t, e.users.MarkInviteSent(ctx, 3))

	u, err := e.users.Get(ctx, 3)
	require.NoError(t, err)
	assert.True(t, u.InviteSent)
	assert.NotNil(t, u.InviteSentAt)
	assert.Nil(t, u.InviteClaimedAt)
}

func TestAccessLedger_ClaimInviteSingleWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.users.MarkPaid(ctx, 11))

	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.users.ClaimInvite(ctx, 11)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	// Releasing lets a later attempt retry.
	require.NoError(t, e.users.ReleaseInvite(ctx, 11))
	ok, err := e.users.ClaimInvite(ctx, 11)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccessLedger_Stats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, e.users.Upsert(ctx, UserProfile{UserID: id}))
	}
	require.NoError(t, e.users.MarkPaid(ctx, 1))
	require.NoError(t, e.users.MarkPaid(ctx, 2))
	require.NoError(t, e.users.MarkInviteSent(ctx, 1))

	for _, key := range []string{"bitcoin", "bitcoin", "bank_transfer"} {
		p, err := e.payments.Create(ctx, 1, e.mustMethod(t, key))
		require.NoError(t, err)
		_, err = e.payments.Transition(ctx, p.PaymentRef, models.StatusCompleted, TransitionOpts{})
		require.NoError(t, err)
	}
	_, err := e.payments.Create(ctx, 3, e.mustMethod(t, "bitcoin"))
	require.NoError(t, err)

	s, err := e.users.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.TotalUsers)
	assert.Equal(t, int64(2), s.PaidUsers)
	assert.Equal(t, int64(1), s.InvitedUsers)
	assert.Equal(t, int64(1), s.PendingPayments)
	assert.True(t, s.Revenue["USD"].Equal(decimal.NewFromInt(20)), "USD %s", s.Revenue["USD"])
	assert.True(t, s.Revenue["INR"].Equal(decimal.NewFromInt(100)), "INR %s", s.Revenue["INR"])
}
