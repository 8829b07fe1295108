package risk

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory TradeStore + SnapshotStore for demo mode and
// tests. Data does not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[int64]*Account
	trades    []*Trade
	tradeIDs  map[string]bool
	snapshots map[int64][]*Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[int64]*Account),
		tradeIDs:  make(map[string]bool),
		snapshots: make(map[int64][]*Snapshot),
	}
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Login < result[j].Login })
	return result, nil
}

func (s *MemoryStore) AccountsByUser(ctx context.Context, userID int64) ([]*Account, error) {
	return s.accountsWhere(func(a *Account) bool { return a.UserID == userID })
}

func (s *MemoryStore) AccountsByChallenge(ctx context.Context, challengeID int64) ([]*Account, error) {
	return s.accountsWhere(func(a *Account) bool { return a.ChallengeID == challengeID })
}

func (s *MemoryStore) accountsWhere(match func(*Account) bool) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Account
	for _, a := range s.accounts {
		if match(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Login < result[j].Login })
	return result, nil
}

func (s *MemoryStore) RecentTrades(ctx context.Context, login int64, limit int) ([]*Trade, error) {
	return s.recentWhere(func(t *Trade) bool { return t.AccountLogin == login }, limit)
}

func (s *MemoryStore) RecentTradesForLogins(ctx context.Context, logins []int64, limit int) ([]*Trade, error) {
	set := make(map[int64]bool, len(logins))
	for _, l := range logins {
		set[l] = true
	}
	return s.recentWhere(func(t *Trade) bool { return set[t.AccountLogin] }, limit)
}

// recentWhere returns matching trades ordered by close time descending,
// capped at limit.
func (s *MemoryStore) recentWhere(match func(*Trade) bool, limit int) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Trade
	for _, t := range s.trades {
		if match(t) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClosedAt.After(result[j].ClosedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) InsertAccounts(ctx context.Context, accounts []*Account) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, a := range accounts {
		if _, exists := s.accounts[a.Login]; exists {
			continue
		}
		copied := *a
		s.accounts[a.Login] = &copied
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) InsertTrades(ctx context.Context, trades []*Trade) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, t := range trades {
		if s.tradeIDs[t.Identifier] {
			continue
		}
		copied := *t
		s.trades = append(s.trades, &copied)
		s.tradeIDs[t.Identifier] = true
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *snap
	copied.RiskSignals = append([]string(nil), snap.RiskSignals...)
	s.snapshots[snap.AccountLogin] = append(s.snapshots[snap.AccountLogin], &copied)
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, login int64) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[login]
	if len(history) == 0 {
		return nil, ErrNotFound
	}

	latest := *history[len(history)-1]
	latest.RiskSignals = append([]string(nil), latest.RiskSignals...)
	return &latest, nil
}
