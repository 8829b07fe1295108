// Package importer bulk-loads historical accounts and trades from CSV files.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/propguard/riskwatch/internal/retry"
	"github.com/propguard/riskwatch/internal/risk"
)

// batchSize is the number of rows inserted per transaction.
const batchSize = 500

// timeLayouts accepted for opened_at/closed_at columns.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Importer loads CSV exports into the trade store.
type Importer struct {
	store  risk.TradeStore
	logger *slog.Logger
}

// New creates an importer writing into the given store.
func New(store risk.TradeStore, logger *slog.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// LoadAccounts reads an accounts CSV and inserts the rows, skipping logins
// that already exist. Returns (parsed, inserted).
func (im *Importer) LoadAccounts(ctx context.Context, path string) (int, int, error) {
	var accounts []*risk.Account

	err := im.forEachRow(path, func(row map[string]string, line int) error {
		a, err := parseAccount(row)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		accounts = append(accounts, a)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	inserted, err := im.insertAccounts(ctx, accounts)
	if err != nil {
		return len(accounts), inserted, err
	}
	im.logger.Info("accounts loaded", "parsed", len(accounts), "inserted", inserted)
	return len(accounts), inserted, nil
}

// LoadTrades reads a trades CSV and inserts the rows in batches,
// deduplicating on identifier (first occurrence wins, matching the store's
// conflict handling). Returns (parsed, inserted).
func (im *Importer) LoadTrades(ctx context.Context, path string) (int, int, error) {
	seen := make(map[string]bool)
	var batch []*risk.Trade
	parsed, inserted := 0, 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.insertTrades(ctx, batch)
		inserted += n
		batch = batch[:0]
		return err
	}

	err := im.forEachRow(path, func(row map[string]string, line int) error {
		t, err := parseTrade(row)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if seen[t.Identifier] {
			return nil
		}
		seen[t.Identifier] = true
		parsed++

		batch = append(batch, t)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return parsed, inserted, err
	}
	if err := flush(); err != nil {
		return parsed, inserted, err
	}

	im.logger.Info("trades loaded", "parsed", parsed, "inserted", inserted)
	return parsed, inserted, nil
}

// insertAccounts writes with retry: bulk loads often race freshly started
// databases.
func (im *Importer) insertAccounts(ctx context.Context, accounts []*risk.Account) (int, error) {
	var inserted int
	err := retry.Do(ctx, 3, time.Second, func() error {
		n, err := im.store.InsertAccounts(ctx, accounts)
		inserted = n
		return err
	})
	return inserted, err
}

func (im *Importer) insertTrades(ctx context.Context, trades []*risk.Trade) (int, error) {
	var inserted int
	err := retry.Do(ctx, 3, time.Second, func() error {
		n, err := im.store.InsertTrades(ctx, trades)
		inserted = n
		return err
	})
	return inserted, err
}

// forEachRow streams the CSV, mapping each record to a header-keyed row.
// Unnamed index columns (pandas exports) are ignored.
func (im *Importer) forEachRow(path string, fn func(row map[string]string, line int) error) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator CLI flags
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.ToLower(header[i]))
	}

	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		line++

		row := make(map[string]string, len(header))
		for i, name := range header {
			if name == "" || strings.HasPrefix(name, "unnamed") {
				continue
			}
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			}
		}
		if err := fn(row, line); err != nil {
			return err
		}
	}
}

func parseAccount(row map[string]string) (*risk.Account, error) {
	login, err := strconv.ParseInt(row["login"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("login %q: %w", row["login"], err)
	}
	userID, _ := strconv.ParseInt(row["user_id"], 10, 64)
	challengeID, _ := strconv.ParseInt(row["challenge_id"], 10, 64)
	size, _ := strconv.ParseFloat(row["account_size"], 64)
	phase, _ := strconv.Atoi(row["phase"])

	return &risk.Account{
		Login:       login,
		UserID:      userID,
		ChallengeID: challengeID,
		AccountSize: size,
		Platform:    row["platform"],
		Phase:       phase,
	}, nil
}

func parseTrade(row map[string]string) (*risk.Trade, error) {
	if row["identifier"] == "" {
		return nil, fmt.Errorf("missing identifier")
	}
	login, err := strconv.ParseInt(row["trading_account_login"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("trading_account_login %q: %w", row["trading_account_login"], err)
	}
	openedAt, err := parseTime(row["opened_at"])
	if err != nil {
		return nil, fmt.Errorf("opened_at: %w", err)
	}
	closedAt, err := parseTime(row["closed_at"])
	if err != nil {
		return nil, fmt.Errorf("closed_at: %w", err)
	}

	t := &risk.Trade{
		Identifier:   row["identifier"],
		AccountLogin: login,
		Action:       parseAction(row["action"]),
		Symbol:       row["symbol"],
		OpenedAt:     openedAt,
		ClosedAt:     closedAt,
	}
	t.OpenPrice, _ = strconv.ParseFloat(row["open_price"], 64)
	t.ClosePrice, _ = strconv.ParseFloat(row["close_price"], 64)
	t.LotSize, _ = strconv.ParseFloat(row["lot_size"], 64)
	t.ContractSize, _ = strconv.ParseFloat(row["contract_size"], 64)
	t.Profit, _ = strconv.ParseFloat(row["profit"], 64)
	t.Swap, _ = strconv.ParseFloat(row["swap"], 64)
	t.Commission, _ = strconv.ParseFloat(row["commission"], 64)
	t.StopLoss = parseOptionalFloat(row["price_sl"])
	t.TakeProfit = parseOptionalFloat(row["price_tp"])

	return t, nil
}

// parseAction accepts both the platform's numeric encoding (0=buy, 1=sell)
// and plain strings.
func parseAction(v string) risk.Action {
	switch strings.ToLower(v) {
	case "0", "buy":
		return risk.ActionBuy
	case "1", "sell":
		return risk.ActionSell
	default:
		return risk.Action(strings.ToLower(v))
	}
}

func parseOptionalFloat(v string) *float64 {
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "nan") {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}
