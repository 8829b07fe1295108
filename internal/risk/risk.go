// Package risk implements rolling-window risk analytics for trading accounts.
//
// Each evaluation reduces an account's most recent closed trades to a set of
// named statistics (win ratio, profit factor, drawdown, stop-loss discipline,
// high-frequency and layering patterns), combines them into a 0-100 composite
// score, and tags the threshold breaches as named risk signals. Scores above
// the alert threshold trigger an outbound webhook.
package risk

import (
	"context"
	"errors"
	"time"
)

// Action is the direction of a trade.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// ErrNotFound is returned by stores when no matching row exists.
var ErrNotFound = errors.New("not found")

// Trade is a single closed trade as supplied by the ingestion pipeline.
// Trades are read-only to this package.
type Trade struct {
	Identifier   string    `json:"identifier"`
	AccountLogin int64     `json:"trading_account_login"`
	Action       Action    `json:"action"`
	Symbol       string    `json:"symbol"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at"`
	OpenPrice    float64   `json:"open_price"`
	ClosePrice   float64   `json:"close_price"`
	LotSize      float64   `json:"lot_size"`
	ContractSize float64   `json:"contract_size"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	StopLoss     *float64  `json:"price_sl,omitempty"`
	TakeProfit   *float64  `json:"price_tp,omitempty"`
}

// Duration returns the holding time of the trade.
func (t *Trade) Duration() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}

// Account is a trading account known to the platform.
type Account struct {
	Login       int64   `json:"login"`
	UserID      int64   `json:"user_id"`
	ChallengeID int64   `json:"challenge_id"`
	AccountSize float64 `json:"account_size"`
	Platform    string  `json:"platform"`
	Phase       int     `json:"phase"`
}

// Stats are the statistical fields of one evaluation, before scoring.
type Stats struct {
	WinRatio       float64   `json:"win_ratio"`
	ProfitFactor   float64   `json:"profit_factor"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	StopLossUsed   float64   `json:"stop_loss_used"`
	TakeProfitUsed float64   `json:"take_profit_used"`
	HFTCount       int       `json:"hft_count"`
	MaxLayering    int       `json:"max_layering"`
	LastTradeAt    time.Time `json:"last_trade_at"`
}

// Snapshot is one persisted evaluation of one account. Snapshots are
// append-only; they are never mutated after creation.
type Snapshot struct {
	ID           string    `json:"id"`
	AccountLogin int64     `json:"account_login"`
	Timestamp    time.Time `json:"timestamp"`
	Stats
	RiskScore   float64  `json:"risk_score"`
	RiskSignals []string `json:"risk_signals"`
}

// TradeStore supplies accounts and trade windows from persistent storage.
//
// Recent* methods return trades ordered by close time, most recent first.
// They return an empty slice, not an error, for unknown logins.
type TradeStore interface {
	ListAccounts(ctx context.Context) ([]*Account, error)
	AccountsByUser(ctx context.Context, userID int64) ([]*Account, error)
	AccountsByChallenge(ctx context.Context, challengeID int64) ([]*Account, error)
	RecentTrades(ctx context.Context, login int64, limit int) ([]*Trade, error)
	RecentTradesForLogins(ctx context.Context, logins []int64, limit int) ([]*Trade, error)
	InsertAccounts(ctx context.Context, accounts []*Account) (int, error)
	InsertTrades(ctx context.Context, trades []*Trade) (int, error)
}

// SnapshotStore persists evaluation snapshots (append-only).
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Latest(ctx context.Context, login int64) (*Snapshot, error)
}
