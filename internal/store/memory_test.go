package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseBetAsset(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Asset
		wantErr bool
	}{
		{name: "Bitcoin", input: "bitcoin", want: AssetBitcoin},
		{name: "Ethereum", input: "ethereum", want: AssetEthereum},
		{name: "Fiat is not bettable", input: "usd", wantErr: true},
		{name: "Unknown", input: "dogecoin", wantErr: true},
		{name: "Empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBetAsset(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBetAsset(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseBetAsset(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMemoryStore_SettleCashout_OnlyOnce(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	bet := &Bet{ID: uuid.NewString(), PlayerID: uuid.NewString(), RoundID: uuid.NewString(), Status: BetActive}
	if err := st.CreateBet(ctx, bet); err != nil {
		t.Fatalf("CreateBet() error = %v", err)
	}

	won, err := st.SettleCashout(ctx, bet.ID, 1.5, 0.003, time.Now())
	if err != nil {
		t.Fatalf("SettleCashout() error = %v", err)
	}
	if !won {
		t.Fatal("SettleCashout() on an active bet reported lost race")
	}

	// Every later transition attempt must lose.
	if won, _ := st.SettleCashout(ctx, bet.ID, 2.0, 0.004, time.Now()); won {
		t.Error("second SettleCashout() won on a settled bet")
	}
	if won, _ := st.SettleLoss(ctx, bet.ID); won {
		t.Error("SettleLoss() won on a cashed-out bet")
	}

	stored, err := st.GetBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("GetBet() error = %v", err)
	}
	if stored.Status != BetCashedOut {
		t.Errorf("bet status = %v, want %v", stored.Status, BetCashedOut)
	}
	if stored.CashoutMultiplier != 1.5 {
		t.Errorf("cashout multiplier = %v, want the first settlement's 1.5", stored.CashoutMultiplier)
	}
}

func TestMemoryStore_SettleLoss_DoesNotOverwriteCashout(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	bet := &Bet{ID: uuid.NewString(), Status: BetActive}
	if err := st.CreateBet(ctx, bet); err != nil {
		t.Fatalf("CreateBet() error = %v", err)
	}
	if won, err := st.SettleLoss(ctx, bet.ID); err != nil || !won {
		t.Fatalf("SettleLoss() = %v, %v, want win", won, err)
	}
	if won, _ := st.SettleCashout(ctx, bet.ID, 1.5, 0.003, time.Now()); won {
		t.Error("SettleCashout() won on a lost bet")
	}
}

func TestMemoryStore_SettleUnknownBet(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, err := st.SettleCashout(ctx, uuid.NewString(), 1.5, 0.003, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("SettleCashout() error = %v, want %v", err, ErrNotFound)
	}
	if _, err := st.SettleLoss(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("SettleLoss() error = %v, want %v", err, ErrNotFound)
	}
}

func TestMemoryStore_AdjustBalance(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	player := &Player{ID: uuid.NewString(), Username: "alice", Balances: Balances{USD: 100}}
	if err := st.CreatePlayer(ctx, player); err != nil {
		t.Fatalf("CreatePlayer() error = %v", err)
	}

	balances, err := st.AdjustBalance(ctx, player.ID, AssetUSD, -40)
	if err != nil {
		t.Fatalf("AdjustBalance() error = %v", err)
	}
	if balances.USD != 60 {
		t.Errorf("USD balance = %v, want 60", balances.USD)
	}

	// Overdraw is refused and leaves the balance alone.
	if _, err := st.AdjustBalance(ctx, player.ID, AssetUSD, -100); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("AdjustBalance() error = %v, want %v", err, ErrInsufficientFunds)
	}
	stored, err := st.GetPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayer() error = %v", err)
	}
	if stored.Balances.USD != 60 {
		t.Errorf("USD balance after refused overdraw = %v, want 60", stored.Balances.USD)
	}

	if _, err := st.AdjustBalance(ctx, uuid.NewString(), AssetUSD, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("AdjustBalance() for unknown player error = %v, want %v", err, ErrNotFound)
	}
}

func TestMemoryStore_DuplicateUsername(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.CreatePlayer(ctx, &Player{ID: uuid.NewString(), Username: "alice"}); err != nil {
		t.Fatalf("CreatePlayer() error = %v", err)
	}
	err := st.CreatePlayer(ctx, &Player{ID: uuid.NewString(), Username: "alice"})
	if !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("CreatePlayer() error = %v, want %v", err, ErrDuplicateUsername)
	}
}

func TestMemoryStore_UpdateRoundStatus(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	scheduled := time.Now().Add(5 * time.Second)
	round := &Round{ID: uuid.NewString(), RoundID: "round-1", Status: RoundPending, StartTime: scheduled}
	if err := st.CreateRound(ctx, round); err != nil {
		t.Fatalf("CreateRound() error = %v", err)
	}

	// Activation rewrites the start to the actual instant.
	actualStart := time.Now()
	if err := st.UpdateRoundStatus(ctx, round.ID, RoundActive, actualStart, time.Time{}); err != nil {
		t.Fatalf("UpdateRoundStatus() error = %v", err)
	}
	stored, err := st.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("GetRound() error = %v", err)
	}
	if !stored.StartTime.Equal(actualStart) {
		t.Errorf("start time = %v, want the activation instant %v", stored.StartTime, actualStart)
	}

	// Completion sets the end time and leaves the start alone.
	end := time.Now()
	if err := st.UpdateRoundStatus(ctx, round.ID, RoundCompleted, time.Time{}, end); err != nil {
		t.Fatalf("UpdateRoundStatus() error = %v", err)
	}
	stored, err = st.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("GetRound() error = %v", err)
	}
	if !stored.StartTime.Equal(actualStart) {
		t.Errorf("start time = %v, changed by completion", stored.StartTime)
	}
	if !stored.EndTime.Equal(end) {
		t.Errorf("end time = %v, want %v", stored.EndTime, end)
	}

	if err := st.UpdateRoundStatus(ctx, uuid.NewString(), RoundCompleted, time.Time{}, end); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRoundStatus() for unknown round error = %v, want %v", err, ErrNotFound)
	}
}

func TestMemoryStore_ListCompletedRounds(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		round := &Round{
			ID:        uuid.NewString(),
			RoundID:   fmt.Sprintf("round-%d", i),
			Status:    RoundCompleted,
			StartTime: base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.CreateRound(ctx, round); err != nil {
			t.Fatalf("CreateRound() error = %v", err)
		}
	}
	// A pending round must not show up in history.
	if err := st.CreateRound(ctx, &Round{ID: uuid.NewString(), RoundID: "round-pending", Status: RoundPending, StartTime: base.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateRound() error = %v", err)
	}

	rounds, total, err := st.ListCompletedRounds(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListCompletedRounds() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %v, want 5", total)
	}
	if len(rounds) != 2 {
		t.Fatalf("page size = %v, want 2", len(rounds))
	}
	// Newest first.
	if rounds[0].RoundID != "round-4" || rounds[1].RoundID != "round-3" {
		t.Errorf("page = [%s, %s], want newest first", rounds[0].RoundID, rounds[1].RoundID)
	}

	rounds, _, err = st.ListCompletedRounds(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListCompletedRounds() error = %v", err)
	}
	if len(rounds) != 1 || rounds[0].RoundID != "round-0" {
		t.Errorf("last page wrong: %+v", rounds)
	}

	rounds, _, err = st.ListCompletedRounds(ctx, 2, 10)
	if err != nil {
		t.Fatalf("ListCompletedRounds() error = %v", err)
	}
	if len(rounds) != 0 {
		t.Errorf("offset past end returned %d rounds, want 0", len(rounds))
	}
}

func TestMemoryStore_ListActiveBetsByRound(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	roundID := uuid.NewString()

	active := &Bet{ID: uuid.NewString(), RoundID: roundID, Status: BetActive}
	settled := &Bet{ID: uuid.NewString(), RoundID: roundID, Status: BetActive}
	elsewhere := &Bet{ID: uuid.NewString(), RoundID: uuid.NewString(), Status: BetActive}
	for _, b := range []*Bet{active, settled, elsewhere} {
		if err := st.CreateBet(ctx, b); err != nil {
			t.Fatalf("CreateBet() error = %v", err)
		}
	}
	if _, err := st.SettleLoss(ctx, settled.ID); err != nil {
		t.Fatalf("SettleLoss() error = %v", err)
	}

	bets, err := st.ListActiveBetsByRound(ctx, roundID)
	if err != nil {
		t.Fatalf("ListActiveBetsByRound() error = %v", err)
	}
	if len(bets) != 1 || bets[0].ID != active.ID {
		t.Errorf("active bets = %+v, want only the unsettled bet of this round", bets)
	}
}

func TestMemoryStore_CopiesOut(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	round := &Round{ID: uuid.NewString(), RoundID: "round-1", Status: RoundPending}
	if err := st.CreateRound(ctx, round); err != nil {
		t.Fatalf("CreateRound() error = %v", err)
	}

	got, err := st.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("GetRound() error = %v", err)
	}
	got.Status = RoundCompleted // mutating the copy must not leak in

	again, err := st.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("GetRound() error = %v", err)
	}
	if again.Status != RoundPending {
		t.Errorf("round status = %v, want %v", again.Status, RoundPending)
	}
}
