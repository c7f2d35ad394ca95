package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptocrash/internal/store"
)

// newTransactionHash generates a mock transaction hash for ledger entries
func newTransactionHash() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Op describes one balance-affecting operation. Amount is in asset units,
// FiatAmount is the fiat side of the conversion, Price the asset price at the
// time of the operation.
type Op struct {
	PlayerID   string
	BetID      string
	Asset      store.Asset
	Amount     float64
	FiatAmount float64
	Price      float64
}

// Ledger owns all wallet mutations. Every balance change is paired with
// exactly one appended entry, and operations for the same player serialize on
// a per-player lock so concurrent read-modify-write traffic cannot lose
// updates. Different players never contend.
type Ledger struct {
	players store.PlayerStore
	entries store.LedgerStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(players store.PlayerStore, entries store.LedgerStore) *Ledger {
	return &Ledger{
		players: players,
		entries: entries,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) playerLock(playerID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[playerID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[playerID] = lock
	}
	return lock
}

// Debit consumes a bet stake: the fiat balance drops by op.FiatAmount and a
// "bet" entry records the conversion into op.Amount asset units. Fails with
// store.ErrInsufficientFunds before touching anything. A balance change whose
// entry cannot be appended is rolled back, so the change-entry pairing holds
// on every path out of here.
func (l *Ledger) Debit(ctx context.Context, op Op) (store.Balances, *store.LedgerEntry, error) {
	if err := validateOp(op); err != nil {
		return store.Balances{}, nil, err
	}

	lock := l.playerLock(op.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	balances, err := l.players.AdjustBalance(ctx, op.PlayerID, store.AssetUSD, -op.FiatAmount)
	if err != nil {
		return store.Balances{}, nil, err
	}

	entry, err := l.append(ctx, op, store.EntryBet)
	if err != nil {
		if _, rbErr := l.players.AdjustBalance(ctx, op.PlayerID, store.AssetUSD, op.FiatAmount); rbErr != nil {
			log.Printf("[WALLET] Rollback of %.2f debit for player %s failed: %v", op.FiatAmount, op.PlayerID, rbErr)
		}
		return store.Balances{}, nil, err
	}
	return balances, entry, nil
}

// Credit pays out a cashout: the asset balance grows by op.Amount and a
// "cashout" entry records it with its fiat equivalent. Rolls the credit back
// when the entry cannot be appended.
func (l *Ledger) Credit(ctx context.Context, op Op) (store.Balances, *store.LedgerEntry, error) {
	if err := validateOp(op); err != nil {
		return store.Balances{}, nil, err
	}

	lock := l.playerLock(op.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	balances, err := l.players.AdjustBalance(ctx, op.PlayerID, op.Asset, op.Amount)
	if err != nil {
		return store.Balances{}, nil, err
	}

	entry, err := l.append(ctx, op, store.EntryCashout)
	if err != nil {
		if _, rbErr := l.players.AdjustBalance(ctx, op.PlayerID, op.Asset, -op.Amount); rbErr != nil {
			log.Printf("[WALLET] Rollback of %f %s credit for player %s failed: %v", op.Amount, op.Asset.Symbol(), op.PlayerID, rbErr)
		}
		return store.Balances{}, nil, err
	}
	return balances, entry, nil
}

// Refund undoes a debit whose bet never got created. The debit's entry is
// already on the books, so the restored balance gets its own "refund" entry;
// replaying the ledger still lands exactly on the stored balances.
func (l *Ledger) Refund(ctx context.Context, op Op) {
	lock := l.playerLock(op.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := l.players.AdjustBalance(ctx, op.PlayerID, store.AssetUSD, op.FiatAmount); err != nil {
		log.Printf("[WALLET] Refund of %.2f for player %s failed: %v", op.FiatAmount, op.PlayerID, err)
		return
	}

	reversal := op
	reversal.Asset = store.AssetUSD
	reversal.Amount = op.FiatAmount
	if _, err := l.append(ctx, reversal, store.EntryRefund); err != nil {
		log.Printf("[WALLET] Refund entry for player %s failed: %v", op.PlayerID, err)
	}
}

func (l *Ledger) append(ctx context.Context, op Op, kind store.EntryKind) (*store.LedgerEntry, error) {
	entry := &store.LedgerEntry{
		ID:          uuid.NewString(),
		PlayerID:    op.PlayerID,
		BetID:       op.BetID,
		Asset:       op.Asset,
		Amount:      op.Amount,
		FiatAmount:  op.FiatAmount,
		PriceAtTime: op.Price,
		Kind:        kind,
		TxHash:      newTransactionHash(),
		CreatedAt:   time.Now(),
	}
	if err := l.entries.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}

func validateOp(op Op) error {
	if op.PlayerID == "" {
		return fmt.Errorf("player ID is required")
	}
	if op.Amount <= 0 {
		return fmt.Errorf("amount must be greater than zero")
	}
	if op.FiatAmount < 0 {
		return fmt.Errorf("fiat amount must not be negative")
	}
	return nil
}

// AssetBalance is one wallet line with its fiat equivalent for display.
type AssetBalance struct {
	Balance       float64 `json:"balance"`
	USDEquivalent float64 `json:"usd_equivalent,omitempty"`
}

// View is the wallet as shown to a player.
type View struct {
	Wallets       map[store.Asset]AssetBalance `json:"wallets"`
	TotalUSDValue float64                      `json:"total_usd_value"`
}

// WalletView values the player's holdings at the given prices. Settlement
// never uses these figures; they are display only.
func (l *Ledger) WalletView(ctx context.Context, playerID string, prices map[store.Asset]float64) (*View, error) {
	player, err := l.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	view := &View{Wallets: make(map[store.Asset]AssetBalance)}
	view.Wallets[store.AssetUSD] = AssetBalance{Balance: player.Balances.USD}
	view.TotalUSDValue = player.Balances.USD

	for _, asset := range store.BetAssets {
		balance := player.Balances.Get(asset)
		usd := balance * prices[asset]
		view.Wallets[asset] = AssetBalance{Balance: balance, USDEquivalent: usd}
		view.TotalUSDValue += usd
	}
	return view, nil
}

// Reconcile replays a player's ledger entries over an opening balance set.
// The result must match the stored balances exactly; a mismatch means a
// balance change escaped the ledger.
func (l *Ledger) Reconcile(ctx context.Context, playerID string, opening store.Balances) (store.Balances, error) {
	entries, err := l.entries.ListEntriesByPlayer(ctx, playerID)
	if err != nil {
		return store.Balances{}, err
	}

	result := opening
	for _, e := range entries {
		switch e.Kind {
		case store.EntryBet:
			result.USD -= e.FiatAmount
		case store.EntryRefund:
			result.USD += e.FiatAmount
		case store.EntryCashout:
			switch e.Asset {
			case store.AssetBitcoin:
				result.Bitcoin += e.Amount
			case store.AssetEthereum:
				result.Ethereum += e.Amount
			case store.AssetUSD:
				result.USD += e.Amount
			}
		}
	}
	return result, nil
}
