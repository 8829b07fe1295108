package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Accounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.InsertAccounts(ctx, []*Account{
		{Login: 2002, UserID: 7, ChallengeID: 100, AccountSize: 50000},
		{Login: 1001, UserID: 7, ChallengeID: 100, AccountSize: 100000},
		{Login: 3003, UserID: 8, ChallengeID: 200, AccountSize: 25000},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Duplicate logins are ignored.
	n, err = store.InsertAccounts(ctx, []*Account{{Login: 1001, UserID: 99}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1001), all[0].Login) // sorted by login
	assert.Equal(t, int64(7), all[0].UserID)   // original row kept

	byUser, err := store.AccountsByUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byChallenge, err := store.AccountsByChallenge(ctx, 200)
	require.NoError(t, err)
	require.Len(t, byChallenge, 1)
	assert.Equal(t, int64(3003), byChallenge[0].Login)
}

func TestMemoryStore_RecentTradesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Inserted out of close order on purpose.
	_, err := store.InsertTrades(ctx, []*Trade{
		newTrade(1),
		newTrade(3),
		newTrade(0),
		newTrade(2),
	})
	require.NoError(t, err)

	trades, err := store.RecentTrades(ctx, 1001, 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "trade-3", trades[0].Identifier)
	assert.Equal(t, "trade-2", trades[1].Identifier)
	assert.Equal(t, "trade-1", trades[2].Identifier)
}

func TestMemoryStore_TradeDedup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.InsertTrades(ctx, []*Trade{newTrade(0), newTrade(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.InsertTrades(ctx, []*Trade{newTrade(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStore_UnknownLoginReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	trades, err := store.RecentTrades(ctx, 999, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestMemoryStore_RecentTradesForLogins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := newTrade(0)
	b := newTrade(1)
	b.Identifier = "other-1"
	b.AccountLogin = 2002
	c := newTrade(2)
	c.Identifier = "third-1"
	c.AccountLogin = 3003

	_, err := store.InsertTrades(ctx, []*Trade{a, b, c})
	require.NoError(t, err)

	trades, err := store.RecentTradesForLogins(ctx, []int64{1001, 2002}, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.NotEqual(t, int64(3003), tr.AccountLogin)
	}
}

func TestMemoryStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Latest(ctx, 1001)
	assert.ErrorIs(t, err, ErrNotFound)

	first := &Snapshot{
		ID:           "rm_1",
		AccountLogin: 1001,
		Timestamp:    testBase,
		RiskScore:    40,
		RiskSignals:  []string{SignalLowWinRatio},
	}
	require.NoError(t, store.Save(ctx, first))

	second := &Snapshot{
		ID:           "rm_2",
		AccountLogin: 1001,
		Timestamp:    testBase.Add(5 * time.Minute),
		RiskScore:    85,
		RiskSignals:  []string{SignalLowWinRatio, SignalExcessiveDrawdown},
	}
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Latest(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "rm_2", got.ID)
	assert.Equal(t, 85.0, got.RiskScore)
	assert.Len(t, got.RiskSignals, 2)

	// The returned snapshot is a copy: mutating it leaves the store intact.
	got.RiskSignals[0] = "tampered"
	again, err := store.Latest(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, SignalLowWinRatio, again.RiskSignals[0])
}
