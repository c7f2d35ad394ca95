package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	_ "github.com/joho/godotenv/autoload"

	"cryptocrash/internal/database"
	"cryptocrash/internal/game"
	"cryptocrash/internal/store"
)

// Seeds the database with sample players and a short history of completed
// rounds so the API has something to show on a fresh install.
func main() {
	db := database.New()
	defer db.Close()

	if db.Health()["status"] != "up" {
		log.Fatal("[SEED] Database is not reachable")
	}

	st := store.NewPostgresStore(db.DB())
	ctx := context.Background()

	players := seedPlayers(ctx, st)
	seedRounds(ctx, st, players)

	log.Println("[SEED] Done")
}

func seedPlayers(ctx context.Context, st *store.PostgresStore) []store.Player {
	names := []string{"Alice", "Bob", "Charlie", "Dave", "Eve"}

	var out []store.Player
	for _, name := range names {
		player := store.Player{
			ID:        uuid.NewString(),
			Username:  name,
			Balances:  store.Balances{USD: 1000},
			CreatedAt: time.Now(),
		}
		if err := st.CreatePlayer(ctx, &player); err != nil {
			log.Printf("[SEED] Skipping player %s: %v", name, err)
			continue
		}
		log.Printf("[SEED] Created player %s", name)
		out = append(out, player)
	}
	return out
}

func seedRounds(ctx context.Context, st *store.PostgresStore, players []store.Player) {
	basePrices := map[store.Asset]float64{
		store.AssetBitcoin:  50000,
		store.AssetEthereum: 3000,
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		seed := game.GenerateSeed()
		roundID := fmt.Sprintf("round-%d", now.Add(-time.Duration(5-i)*time.Minute).UnixMilli())
		crashPoint, hash := game.DeriveCrashPoint(seed, roundID)

		start := now.Add(-time.Duration(5-i) * time.Minute)
		end := start.Add(game.CrashDelay(crashPoint, game.DefaultGrowthRate))

		round := store.Round{
			ID:         uuid.NewString(),
			RoundID:    roundID,
			Seed:       seed,
			Hash:       hash,
			CrashPoint: crashPoint,
			Status:     store.RoundCompleted,
			StartTime:  start,
			EndTime:    end,
			Prices:     basePrices,
			CreatedAt:  start,
		}
		if err := st.CreateRound(ctx, &round); err != nil {
			log.Fatalf("[SEED] Create round: %v", err)
		}

		if len(players) > 0 {
			player := players[i%len(players)]
			seedBet(ctx, st, &round, &player, basePrices)
		}

		log.Printf("[SEED] Created round %s (crash %.2fx)", roundID, crashPoint)
	}
}

func seedBet(ctx context.Context, st *store.PostgresStore, round *store.Round, player *store.Player, prices map[store.Asset]float64) {
	const stake = 50.0
	price := prices[store.AssetBitcoin]
	assetAmount := stake / price

	bet := store.Bet{
		ID:               uuid.NewString(),
		PlayerID:         player.ID,
		RoundID:          round.ID,
		USDAmount:        stake,
		AssetAmount:      assetAmount,
		Asset:            store.AssetBitcoin,
		PriceAtPlacement: price,
		Status:           store.BetActive,
		CreatedAt:        round.StartTime,
	}
	if err := st.CreateBet(ctx, &bet); err != nil {
		log.Fatalf("[SEED] Create bet: %v", err)
	}

	if _, err := st.AdjustBalance(ctx, player.ID, store.AssetUSD, -stake); err != nil {
		log.Fatalf("[SEED] Debit stake: %v", err)
	}
	entry := store.LedgerEntry{
		ID:          uuid.NewString(),
		PlayerID:    player.ID,
		BetID:       bet.ID,
		Asset:       store.AssetBitcoin,
		Amount:      assetAmount,
		FiatAmount:  stake,
		PriceAtTime: price,
		Kind:        store.EntryBet,
		TxHash:      game.GenerateSeed() + game.GenerateSeed(),
		CreatedAt:   round.StartTime,
	}
	if err := st.AppendEntry(ctx, &entry); err != nil {
		log.Fatalf("[SEED] Append ledger entry: %v", err)
	}

	// Half the seeded bets cash out midway, the rest ride to the crash.
	if round.CrashPoint > 2 {
		mult := game.MultiplierAt(game.CrashDelay(round.CrashPoint, game.DefaultGrowthRate)/2, game.DefaultGrowthRate)
		winnings := assetAmount * mult
		if _, err := st.SettleCashout(ctx, bet.ID, mult, winnings, round.EndTime); err != nil {
			log.Fatalf("[SEED] Settle cashout: %v", err)
		}
		if _, err := st.AdjustBalance(ctx, player.ID, store.AssetBitcoin, winnings); err != nil {
			log.Fatalf("[SEED] Credit winnings: %v", err)
		}
		payout := store.LedgerEntry{
			ID:          uuid.NewString(),
			PlayerID:    player.ID,
			BetID:       bet.ID,
			Asset:       store.AssetBitcoin,
			Amount:      winnings,
			FiatAmount:  winnings * price,
			PriceAtTime: price,
			Kind:        store.EntryCashout,
			TxHash:      game.GenerateSeed() + game.GenerateSeed(),
			CreatedAt:   round.EndTime,
		}
		if err := st.AppendEntry(ctx, &payout); err != nil {
			log.Fatalf("[SEED] Append payout entry: %v", err)
		}
	} else {
		if _, err := st.SettleLoss(ctx, bet.ID); err != nil {
			log.Fatalf("[SEED] Settle loss: %v", err)
		}
	}
}
