package wallet

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"cryptocrash/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewLedger(st, st), st
}

func createTestPlayer(t *testing.T, st *store.MemoryStore, usd float64) *store.Player {
	t.Helper()
	player := &store.Player{
		ID:        uuid.NewString(),
		Username:  "player-" + uuid.NewString()[:8],
		Balances:  store.Balances{USD: usd},
		CreatedAt: time.Now(),
	}
	if err := st.CreatePlayer(context.Background(), player); err != nil {
		t.Fatalf("CreatePlayer() error = %v", err)
	}
	return player
}

func TestDebit(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	player := createTestPlayer(t, st, 1000)

	balances, entry, err := ledger.Debit(ctx, Op{
		PlayerID:   player.ID,
		BetID:      uuid.NewString(),
		Asset:      store.AssetBitcoin,
		Amount:     0.002,
		FiatAmount: 100,
		Price:      50000,
	})
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}

	if balances.USD != 900 {
		t.Errorf("USD balance = %v, want 900", balances.USD)
	}
	if entry.Kind != store.EntryBet {
		t.Errorf("entry kind = %v, want %v", entry.Kind, store.EntryBet)
	}
	if len(entry.TxHash) != 64 {
		t.Errorf("tx hash length = %v, want 64", len(entry.TxHash))
	}

	entries, err := st.ListEntriesByPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("ListEntriesByPlayer() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	player := createTestPlayer(t, st, 50)

	_, _, err := ledger.Debit(ctx, Op{
		PlayerID:   player.ID,
		Asset:      store.AssetBitcoin,
		Amount:     0.002,
		FiatAmount: 100,
		Price:      50000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Debit() error = %v, want %v", err, store.ErrInsufficientFunds)
	}

	// Nothing moved, nothing was recorded.
	stored, err := st.GetPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayer() error = %v", err)
	}
	if stored.Balances.USD != 50 {
		t.Errorf("USD balance = %v, want 50", stored.Balances.USD)
	}
	entries, err := st.ListEntriesByPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("ListEntriesByPlayer() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ledger has %d entries, want 0", len(entries))
	}
}

func TestDebit_Validation(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	player := createTestPlayer(t, st, 1000)

	tests := []struct {
		name string
		op   Op
	}{
		{name: "Missing player", op: Op{Asset: store.AssetBitcoin, Amount: 0.002, FiatAmount: 100}},
		{name: "Zero amount", op: Op{PlayerID: player.ID, Asset: store.AssetBitcoin, Amount: 0, FiatAmount: 100}},
		{name: "Negative fiat", op: Op{PlayerID: player.ID, Asset: store.AssetBitcoin, Amount: 0.002, FiatAmount: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ledger.Debit(ctx, tt.op); err == nil {
				t.Error("Debit() expected error")
			}
		})
	}
}

func TestCredit(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	player := createTestPlayer(t, st, 900)

	balances, entry, err := ledger.Credit(ctx, Op{
		PlayerID:   player.ID,
		BetID:      uuid.NewString(),
		Asset:      store.AssetBitcoin,
		Amount:     0.003,
		FiatAmount: 150,
		Price:      50000,
	})
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}

	if math.Abs(balances.Bitcoin-0.003) > 1e-9 {
		t.Errorf("BTC balance = %v, want 0.003", balances.Bitcoin)
	}
	if balances.USD != 900 {
		t.Errorf("USD balance = %v, want unchanged 900", balances.USD)
	}
	if entry.Kind != store.EntryCashout {
		t.Errorf("entry kind = %v, want %v", entry.Kind, store.EntryCashout)
	}
}

func TestRefund(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	player := createTestPlayer(t, st, 1000)

	op := Op{
		PlayerID:   player.ID,
		BetID:      uuid.NewString(),
		Asset:      store.AssetBitcoin,
		Amount:     0.002,
		FiatAmount: 100,
		Price:      50000,
	}
	if _, _, err := ledger.Debit(ctx, op); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}

	ledger.Refund(ctx, op)

	stored, err := st.GetPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayer() error = %v", err)
	}
	if stored.Balances.USD != 1000 {
		t.Errorf("USD balance after refund = %v, want 1000", stored.Balances.USD)
	}

	// The debit's entry stays on the books, so the refund gets its own.
	entries, err := st.ListEntriesByPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("ListEntriesByPlayer() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger has %d entries, want debit + refund", len(entries))
	}
	if entries[1].Kind != store.EntryRefund {
		t.Errorf("second entry kind = %v, want %v", entries[1].Kind, store.EntryRefund)
	}

	// Replay must still land exactly on the stored balances.
	replayed, err := ledger.Reconcile(ctx, player.ID, store.Balances{USD: 1000})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if replayed.USD != stored.Balances.USD {
		t.Errorf("replayed USD = %v, stored %v", replayed.USD, stored.Balances.USD)
	}
}

// failingEntryStore refuses every append, simulating a ledger outage.
type failingEntryStore struct {
	store.LedgerStore
}

func (f *failingEntryStore) AppendEntry(ctx context.Context, e *store.LedgerEntry) error {
	return errors.New("append failed")
}

// A balance change whose ledger entry cannot be written must not survive.
func TestDebit_AppendFailureRollsBack(t *testing.T) {
	st := store.NewMemoryStore()
	ledger := NewLedger(st, &failingEntryStore{LedgerStore: st})
	ctx := context.Background()
	player := createTestPlayer(t, st, 1000)

	_, _, err := ledger.Debit(ctx, Op{
		PlayerID:   player.ID,
		BetID:      uuid.NewString(),
		Asset:      store.AssetBitcoin,
		Amount:     0.002,
		FiatAmount: 100,
		Price:      50000,
	})
	if err == nil {
		t.Fatal("Debit() expected error when the entry cannot be appended")
	}

	stored, err := st.GetPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayer() error = %v", err)
	}
	if stored.Balances.USD != 1000 {
		t.Errorf("USD balance after failed Debit = %v, want 1000", stored.Balances.USD)
	}
	entries, err := st.ListEntriesByPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("ListEntriesByPlayer() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ledger has %d entries after failed Debit, want 0", len(entries))
	}
}

func TestCredit_AppendFailureRollsBack(t *testing.T) {
	st := store.NewMemoryStore()
	ledger := NewLedger(st, &failingEntryStore{LedgerStore: st})
	ctx := context.Background()
	player := createTestPlayer(t, st, 900)

	_, _, err := ledger.Credit(ctx, Op{
		PlayerID:   player.ID,
		BetID:      uuid.NewString(),
		Asset:      store.AssetBitcoin,
		Amount:     0.003,
		FiatAmount: 150,
		Price:      50000,
	})
	if err == nil {
		t.Fatal("Credit() expected error when the entry cannot be appended")
	}

	stored, err := st.GetPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayer() error = %v", err)
	}
	if stored.Balances.Bitcoin != 0 {
		t.Errorf("BTC balance after failed Credit = %v, want 0", stored.Balances.Bitcoin)
	}
}

// Concurrent stakes against one balance must admit exactly as many as the
// balance covers.
func TestDebit_Concurrent(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	player := createTestPlayer(t, st, 1000)

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = ledger.Debit(ctx, Op{
				PlayerID:   player.ID,
				BetID:      uuid.NewString(),
				Asset:      store.AssetBitcoin,
				Amount:     0.002,
				FiatAmount: 100,
				Price:      50000,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 10 {
		t.Errorf("debits succeeded %d times, want 10 from a 1000 balance", succeeded)
	}

	stored, err := st.GetPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayer() error = %v", err)
	}
	if stored.Balances.USD != 0 {
		t.Errorf("USD balance = %v, want 0", stored.Balances.USD)
	}
	entries, err := st.ListEntriesByPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("ListEntriesByPlayer() error = %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("ledger has %d entries, want 10", len(entries))
	}
}

// Replaying the ledger over the opening balances must land exactly on the
// stored balances; a mismatch means a change escaped the ledger.
func TestReconcile(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	opening := store.Balances{USD: 1000}
	player := createTestPlayer(t, st, opening.USD)

	ops := []struct {
		credit bool
		op     Op
	}{
		{op: Op{PlayerID: player.ID, Asset: store.AssetBitcoin, Amount: 0.002, FiatAmount: 100, Price: 50000}},
		{op: Op{PlayerID: player.ID, Asset: store.AssetEthereum, Amount: 0.05, FiatAmount: 150, Price: 3000}},
		{credit: true, op: Op{PlayerID: player.ID, Asset: store.AssetBitcoin, Amount: 0.003, FiatAmount: 150, Price: 50000}},
	}
	for _, o := range ops {
		var err error
		if o.credit {
			_, _, err = ledger.Credit(ctx, o.op)
		} else {
			_, _, err = ledger.Debit(ctx, o.op)
		}
		if err != nil {
			t.Fatalf("ledger op error = %v", err)
		}
	}

	replayed, err := ledger.Reconcile(ctx, player.ID, opening)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	stored, err := st.GetPlayer(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayer() error = %v", err)
	}

	if math.Abs(replayed.USD-stored.Balances.USD) > 1e-9 {
		t.Errorf("replayed USD = %v, stored %v", replayed.USD, stored.Balances.USD)
	}
	if math.Abs(replayed.Bitcoin-stored.Balances.Bitcoin) > 1e-9 {
		t.Errorf("replayed BTC = %v, stored %v", replayed.Bitcoin, stored.Balances.Bitcoin)
	}
	if math.Abs(replayed.Ethereum-stored.Balances.Ethereum) > 1e-9 {
		t.Errorf("replayed ETH = %v, stored %v", replayed.Ethereum, stored.Balances.Ethereum)
	}
}

func TestWalletView(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()
	player := createTestPlayer(t, st, 500)
	if _, err := st.AdjustBalance(ctx, player.ID, store.AssetBitcoin, 0.01); err != nil {
		t.Fatalf("AdjustBalance() error = %v", err)
	}

	prices := map[store.Asset]float64{
		store.AssetBitcoin:  50000,
		store.AssetEthereum: 3000,
	}
	view, err := ledger.WalletView(ctx, player.ID, prices)
	if err != nil {
		t.Fatalf("WalletView() error = %v", err)
	}

	if got := view.Wallets[store.AssetBitcoin].USDEquivalent; math.Abs(got-500) > 1e-6 {
		t.Errorf("BTC USD equivalent = %v, want 500", got)
	}
	if math.Abs(view.TotalUSDValue-1000) > 1e-6 {
		t.Errorf("total USD value = %v, want 1000", view.TotalUSDValue)
	}

	if _, err := ledger.WalletView(ctx, uuid.NewString(), prices); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("WalletView() for unknown player error = %v, want %v", err, store.ErrNotFound)
	}
}
