package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore implements Store on top of database/sql with the pgx driver.
// Conditional transitions (bet settlement, balance adjustments) are expressed
// as guarded UPDATEs so the database row is the only critical section.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func balanceColumn(a Asset) (string, error) {
	switch a {
	case AssetUSD:
		return "usd_balance", nil
	case AssetBitcoin:
		return "btc_balance", nil
	case AssetEthereum:
		return "eth_balance", nil
	}
	return "", fmt.Errorf("unsupported asset: %q", a)
}

func (s *PostgresStore) CreateRound(ctx context.Context, r *Round) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rounds (id, round_id, seed, hash, crash_point, status, start_time, btc_price, eth_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.RoundID, r.Seed, r.Hash, r.CrashPoint, r.Status, r.StartTime,
		r.Prices[AssetBitcoin], r.Prices[AssetEthereum], r.CreatedAt)
	return err
}

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, round_id, seed, hash, crash_point, status, start_time, end_time, btc_price, eth_price, created_at
		FROM rounds WHERE id = $1`, id)
	return scanRound(row)
}

func scanRound(row *sql.Row) (*Round, error) {
	var r Round
	var endTime sql.NullTime
	var btcPrice, ethPrice float64
	err := row.Scan(&r.ID, &r.RoundID, &r.Seed, &r.Hash, &r.CrashPoint, &r.Status,
		&r.StartTime, &endTime, &btcPrice, &ethPrice, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		r.EndTime = endTime.Time
	}
	r.Prices = map[Asset]float64{AssetBitcoin: btcPrice, AssetEthereum: ethPrice}
	return &r, nil
}

func (s *PostgresStore) UpdateRoundStatus(ctx context.Context, id string, status RoundStatus, startTime, endTime time.Time) error {
	set := []string{"status = $1"}
	args := []interface{}{status}
	if !startTime.IsZero() {
		args = append(args, startTime)
		set = append(set, fmt.Sprintf("start_time = $%d", len(args)))
	}
	if !endTime.IsZero() {
		args = append(args, endTime)
		set = append(set, fmt.Sprintf("end_time = $%d", len(args)))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE rounds SET %s WHERE id = $%d`, strings.Join(set, ", "), len(args)), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) ListCompletedRounds(ctx context.Context, limit, offset int) ([]Round, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rounds WHERE status = 'completed'`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, seed, hash, crash_point, status, start_time, end_time, btc_price, eth_price, created_at
		FROM rounds WHERE status = 'completed'
		ORDER BY start_time DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		var endTime sql.NullTime
		var btcPrice, ethPrice float64
		if err := rows.Scan(&r.ID, &r.RoundID, &r.Seed, &r.Hash, &r.CrashPoint, &r.Status,
			&r.StartTime, &endTime, &btcPrice, &ethPrice, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		if endTime.Valid {
			r.EndTime = endTime.Time
		}
		r.Prices = map[Asset]float64{AssetBitcoin: btcPrice, AssetEthereum: ethPrice}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) CreateBet(ctx context.Context, b *Bet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bets (id, player_id, round_id, usd_amount, asset_amount, asset, price_at_placement, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.PlayerID, b.RoundID, b.USDAmount, b.AssetAmount, b.Asset, b.PriceAtPlacement, b.Status, b.CreatedAt)
	return err
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*Bet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, player_id, round_id, usd_amount, asset_amount, asset, price_at_placement,
		       status, cashout_multiplier, cashout_amount, cashout_at, created_at
		FROM bets WHERE id = $1`, id)
	var b Bet
	var mult, amount sql.NullFloat64
	var at sql.NullTime
	err := row.Scan(&b.ID, &b.PlayerID, &b.RoundID, &b.USDAmount, &b.AssetAmount, &b.Asset,
		&b.PriceAtPlacement, &b.Status, &mult, &amount, &at, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CashoutMultiplier = mult.Float64
	b.CashoutAmount = amount.Float64
	if at.Valid {
		b.CashoutAt = at.Time
	}
	return &b, nil
}

func (s *PostgresStore) SettleCashout(ctx context.Context, betID string, multiplier, amount float64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bets SET status = 'cashed_out', cashout_multiplier = $1, cashout_amount = $2, cashout_at = $3
		WHERE id = $4 AND status = 'active'`,
		multiplier, amount, at, betID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish a lost race from a missing bet.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bets WHERE id = $1)`, betID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) SettleLoss(ctx context.Context, betID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bets SET status = 'lost' WHERE id = $1 AND status = 'active'`, betID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) ListBetsByRound(ctx context.Context, roundID string) ([]Bet, error) {
	return s.listBets(ctx, roundID, false)
}

func (s *PostgresStore) ListActiveBetsByRound(ctx context.Context, roundID string) ([]Bet, error) {
	return s.listBets(ctx, roundID, true)
}

func (s *PostgresStore) listBets(ctx context.Context, roundID string, activeOnly bool) ([]Bet, error) {
	query := `
		SELECT id, player_id, round_id, usd_amount, asset_amount, asset, price_at_placement,
		       status, cashout_multiplier, cashout_amount, cashout_at, created_at
		FROM bets WHERE round_id = $1`
	if activeOnly {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		var b Bet
		var mult, amount sql.NullFloat64
		var at sql.NullTime
		if err := rows.Scan(&b.ID, &b.PlayerID, &b.RoundID, &b.USDAmount, &b.AssetAmount, &b.Asset,
			&b.PriceAtPlacement, &b.Status, &mult, &amount, &at, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CashoutMultiplier = mult.Float64
		b.CashoutAmount = amount.Float64
		if at.Valid {
			b.CashoutAt = at.Time
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *Player) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, username, usd_balance, btc_balance, eth_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Username, p.Balances.USD, p.Balances.Bitcoin, p.Balances.Ethereum, p.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "players_username_key") {
		return ErrDuplicateUsername
	}
	return err
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, usd_balance, btc_balance, eth_balance, created_at
		FROM players WHERE id = $1`, id)
	var p Player
	err := row.Scan(&p.ID, &p.Username, &p.Balances.USD, &p.Balances.Bitcoin, &p.Balances.Ethereum, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context) ([]Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, usd_balance, btc_balance, eth_balance, created_at
		FROM players ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.Username, &p.Balances.USD, &p.Balances.Bitcoin, &p.Balances.Ethereum, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, playerID string, asset Asset, delta float64) (Balances, error) {
	col, err := balanceColumn(asset)
	if err != nil {
		return Balances{}, err
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE players SET %s = %s + $1
		WHERE id = $2 AND %s + $1 >= 0
		RETURNING usd_balance, btc_balance, eth_balance`, col, col, col),
		delta, playerID)

	var b Balances
	err = row.Scan(&b.USD, &b.Bitcoin, &b.Ethereum)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the player is missing or the guard rejected the delta.
		var exists bool
		if qerr := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM players WHERE id = $1)`, playerID).Scan(&exists); qerr != nil {
			return Balances{}, qerr
		}
		if !exists {
			return Balances{}, ErrNotFound
		}
		return Balances{}, ErrInsufficientFunds
	}
	if err != nil {
		return Balances{}, err
	}
	return b, nil
}

func (s *PostgresStore) AppendEntry(ctx context.Context, e *LedgerEntry) error {
	betID := sql.NullString{String: e.BetID, Valid: e.BetID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, player_id, bet_id, asset, amount, fiat_amount, price_at_time, kind, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.PlayerID, betID, e.Asset, e.Amount, e.FiatAmount, e.PriceAtTime, e.Kind, e.TxHash, e.CreatedAt)
	return err
}

func (s *PostgresStore) ListEntriesByPlayer(ctx context.Context, playerID string) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, bet_id, asset, amount, fiat_amount, price_at_time, kind, tx_hash, created_at
		FROM ledger_entries WHERE player_id = $1 ORDER BY created_at`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var betID sql.NullString
		if err := rows.Scan(&e.ID, &e.PlayerID, &betID, &e.Asset, &e.Amount, &e.FiatAmount,
			&e.PriceAtTime, &e.Kind, &e.TxHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BetID = betID.String
		out = append(out, e)
	}
	return out, rows.Err()
}
