package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is the PostgreSQL-backed TradeStore + SnapshotStore.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they don't exist. Matches the goose
// migrations under migrations/.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			login         BIGINT PRIMARY KEY,
			user_id       BIGINT NOT NULL,
			challenge_id  BIGINT NOT NULL,
			account_size  NUMERIC(18,2) NOT NULL,
			platform      VARCHAR(32) NOT NULL DEFAULT '',
			phase         INT NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts (user_id);
		CREATE INDEX IF NOT EXISTS idx_accounts_challenge ON accounts (challenge_id);

		CREATE TABLE IF NOT EXISTS trades (
			identifier             VARCHAR(64) PRIMARY KEY,
			trading_account_login  BIGINT NOT NULL,
			action                 VARCHAR(8) NOT NULL,
			symbol                 VARCHAR(32) NOT NULL,
			opened_at              TIMESTAMPTZ NOT NULL,
			closed_at              TIMESTAMPTZ NOT NULL,
			open_price             DOUBLE PRECISION NOT NULL,
			close_price            DOUBLE PRECISION NOT NULL,
			lot_size               DOUBLE PRECISION NOT NULL,
			contract_size          DOUBLE PRECISION NOT NULL,
			profit                 DOUBLE PRECISION NOT NULL,
			swap                   DOUBLE PRECISION NOT NULL DEFAULT 0,
			commission             DOUBLE PRECISION NOT NULL DEFAULT 0,
			price_sl               DOUBLE PRECISION,
			price_tp               DOUBLE PRECISION
		);

		CREATE INDEX IF NOT EXISTS idx_trades_login_closed
			ON trades (trading_account_login, closed_at DESC);

		CREATE TABLE IF NOT EXISTS risk_metrics (
			id               VARCHAR(36) PRIMARY KEY,
			account_login    BIGINT NOT NULL,
			evaluated_at     TIMESTAMPTZ NOT NULL,
			win_ratio        DOUBLE PRECISION NOT NULL CHECK (win_ratio >= 0 AND win_ratio <= 1),
			profit_factor    DOUBLE PRECISION NOT NULL CHECK (profit_factor >= 0),
			max_drawdown     DOUBLE PRECISION NOT NULL CHECK (max_drawdown >= 0 AND max_drawdown <= 1),
			stop_loss_used   DOUBLE PRECISION NOT NULL CHECK (stop_loss_used >= 0 AND stop_loss_used <= 1),
			take_profit_used DOUBLE PRECISION NOT NULL CHECK (take_profit_used >= 0 AND take_profit_used <= 1),
			hft_count        INT NOT NULL,
			max_layering     INT NOT NULL,
			risk_score       DOUBLE PRECISION NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
			risk_signals     TEXT[] NOT NULL DEFAULT '{}',
			last_trade_at    TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_risk_metrics_login
			ON risk_metrics (account_login, evaluated_at DESC);
	`)
	return err
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.queryAccounts(ctx, `
		SELECT login, user_id, challenge_id, account_size, platform, phase
		FROM accounts ORDER BY login`)
}

func (s *PostgresStore) AccountsByUser(ctx context.Context, userID int64) ([]*Account, error) {
	return s.queryAccounts(ctx, `
		SELECT login, user_id, challenge_id, account_size, platform, phase
		FROM accounts WHERE user_id = $1 ORDER BY login`, userID)
}

func (s *PostgresStore) AccountsByChallenge(ctx context.Context, challengeID int64) ([]*Account, error) {
	return s.queryAccounts(ctx, `
		SELECT login, user_id, challenge_id, account_size, platform, phase
		FROM accounts WHERE challenge_id = $1 ORDER BY login`, challengeID)
}

func (s *PostgresStore) queryAccounts(ctx context.Context, query string, args ...any) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Login, &a.UserID, &a.ChallengeID, &a.AccountSize, &a.Platform, &a.Phase); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

const tradeColumns = `identifier, trading_account_login, action, symbol,
	opened_at, closed_at, open_price, close_price, lot_size, contract_size,
	profit, swap, commission, price_sl, price_tp`

func (s *PostgresStore) RecentTrades(ctx context.Context, login int64, limit int) ([]*Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE trading_account_login = $1
		ORDER BY closed_at DESC
		LIMIT $2`, login, limit)
}

func (s *PostgresStore) RecentTradesForLogins(ctx context.Context, logins []int64, limit int) ([]*Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE trading_account_login = ANY($1)
		ORDER BY closed_at DESC
		LIMIT $2`, pq.Array(logins), limit)
}

func (s *PostgresStore) queryTrades(ctx context.Context, query string, args ...any) ([]*Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Trade
	for rows.Next() {
		var t Trade
		var sl, tp sql.NullFloat64
		if err := rows.Scan(
			&t.Identifier, &t.AccountLogin, &t.Action, &t.Symbol,
			&t.OpenedAt, &t.ClosedAt, &t.OpenPrice, &t.ClosePrice,
			&t.LotSize, &t.ContractSize, &t.Profit, &t.Swap, &t.Commission,
			&sl, &tp,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if sl.Valid {
			v := sl.Float64
			t.StopLoss = &v
		}
		if tp.Valid {
			v := tp.Float64
			t.TakeProfit = &v
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

// InsertAccounts bulk-inserts accounts, skipping logins that already exist.
// Returns the number actually inserted.
func (s *PostgresStore) InsertAccounts(ctx context.Context, accounts []*Account) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, a := range accounts {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (login, user_id, challenge_id, account_size, platform, phase)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (login) DO NOTHING`,
			a.Login, a.UserID, a.ChallengeID, a.AccountSize, a.Platform, a.Phase,
		)
		if err != nil {
			return 0, fmt.Errorf("insert account %d: %w", a.Login, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// InsertTrades bulk-inserts trades, deduplicating on identifier.
// Returns the number actually inserted.
func (s *PostgresStore) InsertTrades(ctx context.Context, trades []*Trade) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (identifier) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, t := range trades {
		res, err := stmt.ExecContext(ctx,
			t.Identifier, t.AccountLogin, t.Action, t.Symbol,
			t.OpenedAt, t.ClosedAt, t.OpenPrice, t.ClosePrice,
			t.LotSize, t.ContractSize, t.Profit, t.Swap, t.Commission,
			nullable(t.StopLoss), nullable(t.TakeProfit),
		)
		if err != nil {
			return 0, fmt.Errorf("insert trade %s: %w", t.Identifier, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	signals := snap.RiskSignals
	if signals == nil {
		signals = []string{} // nil would encode as SQL NULL
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_metrics (
			id, account_login, evaluated_at, win_ratio, profit_factor,
			max_drawdown, stop_loss_used, take_profit_used, hft_count,
			max_layering, risk_score, risk_signals, last_trade_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		snap.ID, snap.AccountLogin, snap.Timestamp, snap.WinRatio, snap.ProfitFactor,
		snap.MaxDrawdown, snap.StopLossUsed, snap.TakeProfitUsed, snap.HFTCount,
		snap.MaxLayering, snap.RiskScore, pq.Array(signals), snap.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot for %d: %w", snap.AccountLogin, err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, login int64) (*Snapshot, error) {
	var snap Snapshot
	var signals pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_login, evaluated_at, win_ratio, profit_factor,
		       max_drawdown, stop_loss_used, take_profit_used, hft_count,
		       max_layering, risk_score, risk_signals, last_trade_at
		FROM risk_metrics
		WHERE account_login = $1
		ORDER BY evaluated_at DESC
		LIMIT 1`, login,
	).Scan(
		&snap.ID, &snap.AccountLogin, &snap.Timestamp, &snap.WinRatio, &snap.ProfitFactor,
		&snap.MaxDrawdown, &snap.StopLossUsed, &snap.TakeProfitUsed, &snap.HFTCount,
		&snap.MaxLayering, &snap.RiskScore, &signals, &snap.LastTradeAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot for %d: %w", login, err)
	}
	snap.RiskSignals = []string(signals)
	return &snap, nil
}
