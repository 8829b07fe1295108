package importer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propguard/riskwatch/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAccounts(t *testing.T) {
	csv := `login,user_id,challenge_id,account_size,platform,phase
1001,7,100,100000,mt5,1
2002,8,200,50000,mt4,2
`
	path := writeCSV(t, "accounts.csv", csv)
	store := risk.NewMemoryStore()

	parsed, inserted, err := New(store, testLogger()).LoadAccounts(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, parsed)
	assert.Equal(t, 2, inserted)

	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, int64(1001), accounts[0].Login)
	assert.Equal(t, "mt5", accounts[0].Platform)
	assert.Equal(t, 100000.0, accounts[0].AccountSize)
}

func TestLoadAccounts_SkipsExistingLogins(t *testing.T) {
	csv := `login,user_id,challenge_id,account_size,platform,phase
1001,7,100,100000,mt5,1
`
	path := writeCSV(t, "accounts.csv", csv)
	store := risk.NewMemoryStore()
	_, err := store.InsertAccounts(context.Background(), []*risk.Account{{Login: 1001, UserID: 99}})
	require.NoError(t, err)

	parsed, inserted, err := New(store, testLogger()).LoadAccounts(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, parsed)
	assert.Equal(t, 0, inserted)
}

func TestLoadAccounts_BadLoginFails(t *testing.T) {
	csv := `login,user_id
not-a-number,7
`
	path := writeCSV(t, "accounts.csv", csv)

	_, _, err := New(risk.NewMemoryStore(), testLogger()).LoadAccounts(context.Background(), path)
	assert.Error(t, err)
}

func TestLoadTrades(t *testing.T) {
	csv := `identifier,trading_account_login,action,symbol,opened_at,closed_at,open_price,close_price,lot_size,contract_size,profit,swap,commission,price_sl,price_tp
tr-1,1001,0,EURUSD,2025-06-01 12:00:00,2025-06-01 12:05:00,1.1000,1.1010,1.0,100000,100,-0.5,-2,1.0950,
tr-2,1001,1,XAUUSD,2025-06-01T13:00:00Z,2025-06-01T13:00:30Z,2400.5,2399.0,0.5,100,-75,0,0,null,2410
`
	path := writeCSV(t, "trades.csv", csv)
	store := risk.NewMemoryStore()

	parsed, inserted, err := New(store, testLogger()).LoadTrades(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, parsed)
	assert.Equal(t, 2, inserted)

	trades, err := store.RecentTrades(context.Background(), 1001, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Most recent close first.
	second := trades[0]
	assert.Equal(t, "tr-2", second.Identifier)
	assert.Equal(t, risk.ActionSell, second.Action)
	assert.Nil(t, second.StopLoss)
	require.NotNil(t, second.TakeProfit)
	assert.Equal(t, 2410.0, *second.TakeProfit)
	assert.Equal(t, 30*time.Second, second.Duration())

	first := trades[1]
	assert.Equal(t, risk.ActionBuy, first.Action)
	require.NotNil(t, first.StopLoss)
	assert.Equal(t, 1.0950, *first.StopLoss)
	assert.Nil(t, first.TakeProfit)
	assert.Equal(t, -0.5, first.Swap)
}

func TestLoadTrades_DedupsWithinFile(t *testing.T) {
	csv := `identifier,trading_account_login,action,symbol,opened_at,closed_at,profit
tr-1,1001,buy,EURUSD,2025-06-01 12:00:00,2025-06-01 12:05:00,100
tr-1,1001,buy,EURUSD,2025-06-01 12:00:00,2025-06-01 12:05:00,100
`
	path := writeCSV(t, "trades.csv", csv)
	store := risk.NewMemoryStore()

	parsed, inserted, err := New(store, testLogger()).LoadTrades(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, parsed)
	assert.Equal(t, 1, inserted)
}

func TestLoadTrades_PandasIndexColumnIgnored(t *testing.T) {
	csv := `Unnamed: 0,identifier,trading_account_login,action,symbol,opened_at,closed_at,profit
0,tr-1,1001,buy,EURUSD,2025-06-01 12:00:00,2025-06-01 12:05:00,100
`
	path := writeCSV(t, "trades.csv", csv)
	store := risk.NewMemoryStore()

	parsed, inserted, err := New(store, testLogger()).LoadTrades(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, parsed)
	assert.Equal(t, 1, inserted)
}

func TestLoadTrades_MissingTimestampFails(t *testing.T) {
	csv := `identifier,trading_account_login,action,symbol,opened_at,closed_at,profit
tr-1,1001,buy,EURUSD,yesterday,2025-06-01 12:05:00,100
`
	path := writeCSV(t, "trades.csv", csv)

	_, _, err := New(risk.NewMemoryStore(), testLogger()).LoadTrades(context.Background(), path)
	assert.Error(t, err)
}

func TestLoad_MissingFileFails(t *testing.T) {
	im := New(risk.NewMemoryStore(), testLogger())

	_, _, err := im.LoadAccounts(context.Background(), "/does/not/exist.csv")
	assert.Error(t, err)

	_, _, err = im.LoadTrades(context.Background(), "/does/not/exist.csv")
	assert.Error(t, err)
}
