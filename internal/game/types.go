package game

import (
	"context"
	"errors"
	"time"

	"cryptocrash/internal/store"
)

// Events published over the notification channel.
const (
	EventRoundCreated    = "round.created"
	EventRoundStarted    = "round.started"
	EventMultiplierTick  = "multiplier.tick"
	EventRoundCrashed    = "round.crashed"
	EventBetAccepted     = "bet.accepted"
	EventBetRejected     = "bet.rejected"
	EventCashoutAccepted = "cashout.accepted"
	EventCashoutRejected = "cashout.rejected"
)

var (
	ErrRoundInProgress = errors.New("a round is already pending or active")
	ErrBettingClosed   = errors.New("betting is closed")
	ErrRoundNotActive  = errors.New("round not active")
	ErrAlreadyCrashed  = errors.New("round already crashed")
	ErrBetNotFound     = errors.New("bet not found")
	ErrAlreadySettled  = errors.New("bet already settled")
)

// Publisher is the notification channel collaborator. Broadcast goes to every
// subscriber, SendTo to a single recipient. Both are best-effort; nothing in
// the engine waits on delivery.
type Publisher interface {
	Broadcast(event string, data interface{})
	SendTo(playerID, event string, data interface{})
}

// PriceSource is the price oracle collaborator.
type PriceSource interface {
	GetPrices(ctx context.Context) (map[store.Asset]float64, error)
}

type BetRequest struct {
	PlayerID  string  `json:"player_id"`
	USDAmount float64 `json:"usd_amount"`
	Asset     string  `json:"asset"`
}

type BetResult struct {
	Bet      *store.Bet     `json:"bet"`
	RoundID  string         `json:"round_id"`
	Balances store.Balances `json:"balances"`
}

type CashoutRequest struct {
	PlayerID string `json:"player_id"`
	BetID    string `json:"bet_id"`
}

type CashoutResult struct {
	Bet        *store.Bet     `json:"bet"`
	Multiplier float64        `json:"multiplier"`
	Payout     float64        `json:"payout"`
	FiatValue  float64        `json:"fiat_value"`
	Balances   store.Balances `json:"balances"`
}

// RoundSnapshot is the public view of the current round. The crash point and
// seed are withheld until the round completes.
type RoundSnapshot struct {
	IsActive   bool              `json:"is_active"`
	ID         string            `json:"id,omitempty"`
	RoundID    string            `json:"round_id,omitempty"`
	Hash       string            `json:"hash,omitempty"`
	Status     store.RoundStatus `json:"status,omitempty"`
	Multiplier float64           `json:"multiplier,omitempty"`
	ElapsedMs  int64             `json:"elapsed_ms,omitempty"`
	StartTime  time.Time         `json:"start_time,omitempty"`
}
