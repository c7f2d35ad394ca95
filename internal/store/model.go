package store

import (
	"fmt"
	"time"
)

// Asset is the closed set of currencies a wallet can hold. Bets are staked in
// fiat and converted into one of the crypto assets at placement time.
type Asset string

const (
	AssetUSD      Asset = "usd"
	AssetBitcoin  Asset = "bitcoin"
	AssetEthereum Asset = "ethereum"
)

// BetAssets lists the assets a bet may be converted into.
var BetAssets = []Asset{AssetBitcoin, AssetEthereum}

// ParseBetAsset validates an asset name for bet placement. Fiat is not bettable.
func ParseBetAsset(s string) (Asset, error) {
	switch Asset(s) {
	case AssetBitcoin:
		return AssetBitcoin, nil
	case AssetEthereum:
		return AssetEthereum, nil
	default:
		return "", fmt.Errorf("unsupported asset: %q", s)
	}
}

func (a Asset) Symbol() string {
	switch a {
	case AssetUSD:
		return "USD"
	case AssetBitcoin:
		return "BTC"
	case AssetEthereum:
		return "ETH"
	}
	return string(a)
}

type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

type BetStatus string

const (
	BetActive    BetStatus = "active"
	BetCashedOut BetStatus = "cashed_out"
	BetLost      BetStatus = "lost"
)

type EntryKind string

const (
	EntryBet     EntryKind = "bet"
	EntryCashout EntryKind = "cashout"
	EntryRefund  EntryKind = "refund"
)

// Round is one crash round. CrashPoint is derived once from Seed and RoundID at
// creation and never recomputed; Seed stays hidden until Status is completed.
type Round struct {
	ID         string                `json:"id"`
	RoundID    string                `json:"round_id"`
	Seed       string                `json:"-"`
	Hash       string                `json:"hash"`
	CrashPoint float64               `json:"-"`
	Status     RoundStatus           `json:"status"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time,omitempty"`
	Prices     map[Asset]float64     `json:"prices"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Bet transitions active -> cashed_out or active -> lost, exactly once.
type Bet struct {
	ID                string    `json:"id"`
	PlayerID          string    `json:"player_id"`
	RoundID           string    `json:"round_id"`
	USDAmount         float64   `json:"usd_amount"`
	AssetAmount       float64   `json:"asset_amount"`
	Asset             Asset     `json:"asset"`
	PriceAtPlacement  float64   `json:"price_at_placement"`
	Status            BetStatus `json:"status"`
	CashoutMultiplier float64   `json:"cashout_multiplier,omitempty"`
	CashoutAmount     float64   `json:"cashout_amount,omitempty"`
	CashoutAt         time.Time `json:"cashout_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Balances holds one balance per supported asset plus fiat. The fields are
// explicit so every asset is handled exhaustively rather than through an
// open-ended map.
type Balances struct {
	USD      float64 `json:"usd"`
	Bitcoin  float64 `json:"bitcoin"`
	Ethereum float64 `json:"ethereum"`
}

func (b Balances) Get(a Asset) float64 {
	switch a {
	case AssetUSD:
		return b.USD
	case AssetBitcoin:
		return b.Bitcoin
	case AssetEthereum:
		return b.Ethereum
	}
	return 0
}

func (b *Balances) add(a Asset, delta float64) {
	switch a {
	case AssetUSD:
		b.USD += delta
	case AssetBitcoin:
		b.Bitcoin += delta
	case AssetEthereum:
		b.Ethereum += delta
	}
}

type Player struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Balances  Balances  `json:"balances"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is an immutable record of a balance change. Entries are only ever
// appended, never updated or deleted.
type LedgerEntry struct {
	ID          string    `json:"id"`
	PlayerID    string    `json:"player_id"`
	BetID       string    `json:"bet_id,omitempty"`
	Asset       Asset     `json:"asset"`
	Amount      float64   `json:"amount"`
	FiatAmount  float64   `json:"fiat_amount"`
	PriceAtTime float64   `json:"price_at_time"`
	Kind        EntryKind `json:"kind"`
	TxHash      string    `json:"tx_hash"`
	CreatedAt   time.Time `json:"created_at"`
}
