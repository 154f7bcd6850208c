package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/repository"
)

func newCreditHarness(t *testing.T) (context.Context, *repository.MemoryStore, *CreditService) {
	t.Helper()
	store := repository.NewMemoryStore()
	return context.Background(), store, NewCreditService(store.Credits(), nil)
}

func TestCreditReserve(t *testing.T) {
	ctx, store, svc := newCreditHarness(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Credits().SetBalance(ctx, "stu-1", 5000))

	require.NoError(t, svc.Reserve(ctx, "stu-1", "bk-1", 3000, now))

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance)

	entries := store.CreditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-3000), entries[0].AmountCents)
	assert.Equal(t, "reserved", entries[0].Reason)
	assert.Equal(t, "bk-1", entries[0].BookingID)
}

func TestCreditReserveInsufficient(t *testing.T) {
	ctx, store, svc := newCreditHarness(t)
	now := time.Now().UTC()
	require.NoError(t, store.Credits().SetBalance(ctx, "stu-1", 1000))

	err := svc.Reserve(ctx, "stu-1", "bk-1", 3000, now)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
	assert.Empty(t, store.CreditEntries())
}

func TestCreditReleaseRestoresBalance(t *testing.T) {
	ctx, store, svc := newCreditHarness(t)
	now := time.Now().UTC()
	require.NoError(t, store.Credits().SetBalance(ctx, "stu-1", 5000))
	require.NoError(t, svc.Reserve(ctx, "stu-1", "bk-1", 3000, now))

	require.NoError(t, svc.Release(ctx, "stu-1", "bk-1", 3000, now))

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)

	entries := store.CreditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "released", entries[1].Reason)
	assert.Equal(t, int64(3000), entries[1].AmountCents)
}

func TestCreditForfeitWritesZeroMovementEntry(t *testing.T) {
	ctx, store, svc := newCreditHarness(t)
	now := time.Now().UTC()
	require.NoError(t, store.Credits().SetBalance(ctx, "stu-1", 5000))
	require.NoError(t, svc.Reserve(ctx, "stu-1", "bk-1", 3000, now))

	require.NoError(t, svc.Forfeit(ctx, "stu-1", "bk-1", 3000, now))

	// Reservation already took the money; forfeit only closes the history
	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance)

	entries := store.CreditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "forfeited", entries[1].Reason)
	assert.Zero(t, entries[1].AmountCents)
}

func TestCreditGrant(t *testing.T) {
	ctx, store, svc := newCreditHarness(t)
	now := time.Now().UTC()

	require.NoError(t, svc.Grant(ctx, "stu-1", "bk-1", 4250, "late_cancellation", now))

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4250), balance)

	entries := store.CreditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "late_cancellation", entries[0].Reason)
}

func TestCreditZeroAmountsAreNoOps(t *testing.T) {
	ctx, store, svc := newCreditHarness(t)
	now := time.Now().UTC()

	require.NoError(t, svc.Reserve(ctx, "stu-1", "bk-1", 0, now))
	require.NoError(t, svc.Release(ctx, "stu-1", "bk-1", 0, now))
	require.NoError(t, svc.Forfeit(ctx, "stu-1", "bk-1", 0, now))
	require.NoError(t, svc.Grant(ctx, "stu-1", "bk-1", 0, "bonus", now))

	assert.Empty(t, store.CreditEntries())
}
