package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and when the server runs
// without a database. All conditional transitions happen under one mutex, so
// it gives the same atomicity guarantees as the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	rounds  map[string]*Round
	bets    map[string]*Bet
	players map[string]*Player
	entries []LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:  make(map[string]*Round),
		bets:    make(map[string]*Bet),
		players: make(map[string]*Player),
	}
}

func (s *MemoryStore) CreateRound(ctx context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRound(ctx context.Context, id string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateRoundStatus(ctx context.Context, id string, status RoundStatus, startTime, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	if !startTime.IsZero() {
		r.StartTime = startTime
	}
	if !endTime.IsZero() {
		r.EndTime = endTime
	}
	return nil
}

func (s *MemoryStore) ListCompletedRounds(ctx context.Context, limit, offset int) ([]Round, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Round
	for _, r := range s.rounds {
		if r.Status == RoundCompleted {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *MemoryStore) CreateBet(ctx context.Context, b *Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bets[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBet(ctx context.Context, id string) (*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) SettleCashout(ctx context.Context, betID string, multiplier, amount float64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != BetActive {
		return false, nil
	}
	b.Status = BetCashedOut
	b.CashoutMultiplier = multiplier
	b.CashoutAmount = amount
	b.CashoutAt = at
	return true, nil
}

func (s *MemoryStore) SettleLoss(ctx context.Context, betID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != BetActive {
		return false, nil
	}
	b.Status = BetLost
	return true, nil
}

func (s *MemoryStore) ListBetsByRound(ctx context.Context, roundID string) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListActiveBetsByRound(ctx context.Context, roundID string) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == BetActive {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreatePlayer(ctx context.Context, p *Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.players {
		if existing.Username == p.Username {
			return ErrDuplicateUsername
		}
	}
	cp := *p
	s.players[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPlayer(ctx context.Context, id string) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPlayers(ctx context.Context) ([]Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) AdjustBalance(ctx context.Context, playerID string, asset Asset, delta float64) (Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return Balances{}, ErrNotFound
	}
	if p.Balances.Get(asset)+delta < 0 {
		return p.Balances, ErrInsufficientFunds
	}
	p.Balances.add(asset, delta)
	return p.Balances, nil
}

func (s *MemoryStore) AppendEntry(ctx context.Context, e *LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemoryStore) ListEntriesByPlayer(ctx context.Context, playerID string) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LedgerEntry
	for _, e := range s.entries {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	return out, nil
}
