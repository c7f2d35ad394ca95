package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"cryptocrash/internal/store"
	"cryptocrash/internal/wallet"
)

// PlaceBet stakes fiat on the current pending round, converting it into asset
// units at the oracle price. Validation failures and InsufficientFunds reject
// with zero side effects. Bets against an active round are refused; if no
// round exists yet, one is created so the bet joins the next one.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (*BetResult, error) {
	if req.PlayerID == "" {
		return nil, fmt.Errorf("player ID is required")
	}
	if req.USDAmount <= 0 {
		return nil, fmt.Errorf("bet amount must be greater than zero")
	}
	asset, err := store.ParseBetAsset(req.Asset)
	if err != nil {
		return nil, err
	}

	round, err := e.pendingRound(ctx)
	if err != nil {
		e.pub.SendTo(req.PlayerID, EventBetRejected, map[string]interface{}{
			"reason": err.Error(),
		})
		return nil, err
	}

	prices, err := e.prices.GetPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	price := prices[asset]
	if price <= 0 {
		return nil, fmt.Errorf("price not available for %s", asset)
	}
	assetAmount := req.USDAmount / price

	bet := &store.Bet{
		ID:               uuid.NewString(),
		PlayerID:         req.PlayerID,
		RoundID:          round.ID,
		USDAmount:        req.USDAmount,
		AssetAmount:      assetAmount,
		Asset:            asset,
		PriceAtPlacement: price,
		Status:           store.BetActive,
		CreatedAt:        time.Now(),
	}

	op := wallet.Op{
		PlayerID:   req.PlayerID,
		BetID:      bet.ID,
		Asset:      asset,
		Amount:     assetAmount,
		FiatAmount: req.USDAmount,
		Price:      price,
	}
	balances, _, err := e.ledger.Debit(ctx, op)
	if err != nil {
		e.pub.SendTo(req.PlayerID, EventBetRejected, map[string]interface{}{
			"reason": err.Error(),
		})
		return nil, err
	}

	if err := e.store.CreateBet(ctx, bet); err != nil {
		e.ledger.Refund(ctx, op)
		return nil, fmt.Errorf("create bet: %w", err)
	}

	log.Printf("[BET] Player %s staked %.2f USD (%f %s) on %s", req.PlayerID, req.USDAmount, assetAmount, asset.Symbol(), round.RoundID)

	e.pub.Broadcast(EventBetAccepted, map[string]interface{}{
		"player_id":  req.PlayerID,
		"bet_id":     bet.ID,
		"round_id":   round.RoundID,
		"usd_amount": req.USDAmount,
		"asset":      asset,
	})

	return &BetResult{Bet: bet, RoundID: round.RoundID, Balances: balances}, nil
}

// pendingRound returns the round currently accepting bets, creating the next
// one when nothing is in flight. The single-round invariant holds either way:
// creation goes through the same compare-and-swap as the scheduler.
func (e *Engine) pendingRound(ctx context.Context) (store.Round, error) {
	round, _, ok := e.currentRound()
	if ok {
		if round.Status != store.RoundPending {
			return store.Round{}, ErrBettingClosed
		}
		return round, nil
	}

	if _, err := e.StartRound(ctx); err != nil && !errors.Is(err, ErrRoundInProgress) {
		return store.Round{}, err
	}

	round, _, ok = e.currentRound()
	if !ok || round.Status != store.RoundPending {
		return store.Round{}, ErrBettingClosed
	}
	return round, nil
}

// Cashout arbitrates the race between a player's cashout and the round's
// crash. It succeeds iff the round is active, the freshly recomputed
// multiplier is still below the crash point, and this call wins the atomic
// active -> cashed_out transition. Whoever loses the race observes the bet
// already settled; the same request never succeeds twice.
func (e *Engine) Cashout(ctx context.Context, req CashoutRequest) (*CashoutResult, error) {
	res, err := e.resolveCashout(ctx, req)
	if err != nil {
		e.pub.SendTo(req.PlayerID, EventCashoutRejected, map[string]interface{}{
			"bet_id": req.BetID,
			"reason": err.Error(),
		})
		return nil, err
	}

	e.pub.Broadcast(EventCashoutAccepted, map[string]interface{}{
		"player_id":  req.PlayerID,
		"bet_id":     req.BetID,
		"multiplier": res.Multiplier,
		"payout":     res.Payout,
		"asset":      res.Bet.Asset,
	})
	return res, nil
}

func (e *Engine) resolveCashout(ctx context.Context, req CashoutRequest) (*CashoutResult, error) {
	if req.PlayerID == "" || req.BetID == "" {
		return nil, fmt.Errorf("player ID and bet ID are required")
	}

	round, elapsed, ok := e.currentRound()
	if !ok || round.Status != store.RoundActive {
		return nil, ErrRoundNotActive
	}

	// Authoritative multiplier: recomputed now, never the last broadcast tick.
	mult := MultiplierAt(elapsed, e.cfg.GrowthRate)
	if mult >= round.CrashPoint {
		return nil, ErrAlreadyCrashed
	}

	bet, err := e.store.GetBet(ctx, req.BetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBetNotFound
	}
	if err != nil {
		return nil, err
	}
	if bet.PlayerID != req.PlayerID || bet.RoundID != round.ID {
		return nil, ErrBetNotFound
	}
	if bet.Status != store.BetActive {
		return nil, ErrAlreadySettled
	}

	// Price fetched before the transition so an oracle failure rejects the
	// request without any mutation.
	prices, err := e.prices.GetPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	price := prices[bet.Asset]
	if price <= 0 {
		return nil, fmt.Errorf("price not available for %s", bet.Asset)
	}

	winnings := bet.AssetAmount * mult
	now := time.Now()

	won, err := e.store.SettleCashout(ctx, bet.ID, mult, winnings, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBetNotFound
	}
	if err != nil {
		return nil, err
	}
	if !won {
		// Crash settlement or a duplicate request got there first.
		return nil, ErrAlreadySettled
	}

	fiatValue := winnings * price
	balances, _, err := e.ledger.Credit(ctx, wallet.Op{
		PlayerID:   req.PlayerID,
		BetID:      bet.ID,
		Asset:      bet.Asset,
		Amount:     winnings,
		FiatAmount: fiatValue,
		Price:      price,
	})
	if err != nil {
		// The bet is settled; the credit must not be lost.
		log.Printf("[CASHOUT] Credit failed for bet %s: %v", bet.ID, err)
		return nil, err
	}

	bet.Status = store.BetCashedOut
	bet.CashoutMultiplier = mult
	bet.CashoutAmount = winnings
	bet.CashoutAt = now

	log.Printf("[CASHOUT] Player %s cashed out at %.2fx (%f %s, %.2f USD)", req.PlayerID, mult, winnings, bet.Asset.Symbol(), fiatValue)

	return &CashoutResult{
		Bet:        bet,
		Multiplier: mult,
		Payout:     winnings,
		FiatValue:  fiatValue,
		Balances:   balances,
	}, nil
}
