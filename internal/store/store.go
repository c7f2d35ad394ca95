package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// RoundStore persists rounds. UpdateRoundStatus overwrites status plus
// whichever of the two timestamps is non-zero; seed, hash and crash point are
// fixed at creation.
type RoundStore interface {
	CreateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, id string) (*Round, error)
	UpdateRoundStatus(ctx context.Context, id string, status RoundStatus, startTime, endTime time.Time) error
	ListCompletedRounds(ctx context.Context, limit, offset int) ([]Round, int, error)
}

// BetStore persists bets. The settle methods are atomic conditional
// transitions: they move a bet out of active exactly once and report whether
// this call was the one that won. A false return with a nil error means the
// bet was already in a terminal state.
type BetStore interface {
	CreateBet(ctx context.Context, b *Bet) error
	GetBet(ctx context.Context, id string) (*Bet, error)
	SettleCashout(ctx context.Context, betID string, multiplier, amount float64, at time.Time) (bool, error)
	SettleLoss(ctx context.Context, betID string) (bool, error)
	ListBetsByRound(ctx context.Context, roundID string) ([]Bet, error)
	ListActiveBetsByRound(ctx context.Context, roundID string) ([]Bet, error)
}

// PlayerStore persists players and their balances. AdjustBalance applies a
// delta atomically and fails with ErrInsufficientFunds if the result would be
// negative, leaving the balance untouched.
type PlayerStore interface {
	CreatePlayer(ctx context.Context, p *Player) error
	GetPlayer(ctx context.Context, id string) (*Player, error)
	ListPlayers(ctx context.Context) ([]Player, error)
	AdjustBalance(ctx context.Context, playerID string, asset Asset, delta float64) (Balances, error)
}

// LedgerStore is append-only.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e *LedgerEntry) error
	ListEntriesByPlayer(ctx context.Context, playerID string) ([]LedgerEntry, error)
}

// Store is the full persistence surface the engine runs against.
type Store interface {
	RoundStore
	BetStore
	PlayerStore
	LedgerStore
}
