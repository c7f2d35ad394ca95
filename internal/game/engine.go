package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cryptocrash/internal/store"
	"cryptocrash/internal/wallet"
)

const (
	settleAttempts = 10
	settleBackoff  = 100 * time.Millisecond
)

type Config struct {
	GrowthRate       float64       // multiplier growth per second
	TickInterval     time.Duration // broadcast cadence
	PendingWindow    time.Duration // betting window before a round activates
	ScheduleInterval time.Duration // cadence of new round creation
}

func DefaultConfig() Config {
	return Config{
		GrowthRate:       DefaultGrowthRate,
		TickInterval:     TickInterval,
		PendingWindow:    5 * time.Second,
		ScheduleInterval: 10 * time.Second,
	}
}

// Engine owns the single in-flight round and every transition it goes
// through: pending on creation, active when the betting window closes,
// completed at the crash instant. The crash timer and the broadcast loop are
// both bound to the round they were armed for, and ending a round cancels
// them before anything else proceeds.
type Engine struct {
	store  store.Store
	ledger *wallet.Ledger
	prices PriceSource
	pub    Publisher
	cfg    Config

	// roundOpen is the round-existence flag. Creation only proceeds after a
	// successful compare-and-swap, so two near-simultaneous scheduler ticks
	// cannot both create a round.
	roundOpen atomic.Bool

	mu            sync.Mutex
	current       *store.Round
	startedAt     time.Time
	activateTimer *time.Timer
	crashTimer    *time.Timer
	tickStop      chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewEngine(st store.Store, ledger *wallet.Ledger, prices PriceSource, pub Publisher, cfg Config) *Engine {
	if cfg.GrowthRate <= 0 {
		cfg.GrowthRate = DefaultGrowthRate
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = TickInterval
	}
	if cfg.PendingWindow <= 0 {
		cfg.PendingWindow = 5 * time.Second
	}
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = 10 * time.Second
	}
	return &Engine{
		store:    st,
		ledger:   ledger,
		prices:   prices,
		pub:      pub,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start launches the round scheduler.
func (e *Engine) Start() {
	go e.scheduleLoop()
}

// Stop halts the scheduler and force-ends any round in flight.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	if err := e.ForceEnd(context.Background()); err != nil && !errors.Is(err, ErrRoundNotActive) {
		log.Printf("[GAME] Stop: %v", err)
	}
}

func (e *Engine) scheduleLoop() {
	ticker := time.NewTicker(e.cfg.ScheduleInterval)
	defer ticker.Stop()

	// Kick off the first round immediately rather than waiting a full cycle.
	if _, err := e.StartRound(context.Background()); err != nil && !errors.Is(err, ErrRoundInProgress) {
		log.Printf("[GAME] Initial round creation failed, retrying on next cycle: %v", err)
	}

	for {
		select {
		case <-e.stopChan:
			log.Println("[GAME] Scheduler stopped")
			return
		case <-ticker.C:
			if _, err := e.StartRound(context.Background()); err != nil && !errors.Is(err, ErrRoundInProgress) {
				log.Printf("[GAME] Round creation failed, retrying on next cycle: %v", err)
			}
		}
	}
}

// StartRound creates the next pending round. The round-existence flag is
// claimed first; any failure after that releases it so the next scheduling
// attempt can retry. No half-created round is ever persisted.
func (e *Engine) StartRound(ctx context.Context) (*store.Round, error) {
	if !e.roundOpen.CompareAndSwap(false, true) {
		return nil, ErrRoundInProgress
	}

	prices, err := e.prices.GetPrices(ctx)
	if err != nil {
		e.roundOpen.Store(false)
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	now := time.Now()
	seed := GenerateSeed()
	roundID := fmt.Sprintf("round-%d", now.UnixMilli())
	crashPoint, hash := DeriveCrashPoint(seed, roundID)

	round := &store.Round{
		ID:         uuid.NewString(),
		RoundID:    roundID,
		Seed:       seed,
		Hash:       hash,
		CrashPoint: crashPoint,
		Status:     store.RoundPending,
		StartTime:  now.Add(e.cfg.PendingWindow),
		Prices:     prices,
		CreatedAt:  now,
	}

	if err := e.store.CreateRound(ctx, round); err != nil {
		e.roundOpen.Store(false)
		return nil, fmt.Errorf("create round: %w", err)
	}

	e.mu.Lock()
	e.current = round
	e.activateTimer = time.AfterFunc(e.cfg.PendingWindow, func() {
		e.activateRound(round.ID)
	})
	e.mu.Unlock()

	log.Printf("\n=== ROUND %s ===", roundID)
	log.Printf("[FAIR] Hash: %s...", hash[:16])
	log.Printf("[FAIR] Crash Point: %.2fx (HIDDEN)", crashPoint)

	e.pub.Broadcast(EventRoundCreated, map[string]interface{}{
		"round_id":   roundID,
		"hash":       hash,
		"start_time": round.StartTime,
	})

	return round, nil
}

// activateRound flips pending to active, arms the one-shot crash timer for
// the analytically solved crash instant and starts the broadcast loop.
func (e *Engine) activateRound(id string) {
	e.mu.Lock()
	if e.current == nil || e.current.ID != id || e.current.Status != store.RoundPending {
		e.mu.Unlock()
		return
	}

	now := time.Now()
	e.current.Status = store.RoundActive
	e.current.StartTime = now
	e.startedAt = now
	e.activateTimer = nil

	roundID := e.current.RoundID
	crashPoint := e.current.CrashPoint
	delay := CrashDelay(crashPoint, e.cfg.GrowthRate)
	e.crashTimer = time.AfterFunc(delay, func() {
		if err := e.EndRound(context.Background(), id); err != nil {
			log.Printf("[ROUND] Crash-timer end failed: %v", err)
		}
	})
	stop := make(chan struct{})
	e.tickStop = stop
	e.mu.Unlock()

	// Persist the real activation instant; the scheduled start drifts from it
	// by however long the pending window actually took.
	if err := e.store.UpdateRoundStatus(context.Background(), id, store.RoundActive, now, time.Time{}); err != nil {
		log.Printf("[ROUND] Failed to persist activation of %s: %v", roundID, err)
	}

	log.Printf("[ROUND] %s running, crash in %s", roundID, delay)

	// Crash point stays hidden until the crash itself.
	e.pub.Broadcast(EventRoundStarted, map[string]interface{}{
		"round_id":   roundID,
		"start_time": now,
	})

	go e.tickLoop(id, roundID, now, crashPoint, stop)
}

// tickLoop pushes display updates every tick. It also recomputes the
// authoritative multiplier and triggers the end of the round if it ever
// observes the crash point before the timer fires; EndRound being idempotent
// makes the duplicate trigger harmless.
func (e *Engine) tickLoop(id, roundID string, startedAt time.Time, crashPoint float64, stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed := time.Since(startedAt)
			mult := MultiplierAt(elapsed, e.cfg.GrowthRate)
			if mult >= crashPoint {
				if err := e.EndRound(context.Background(), id); err != nil {
					log.Printf("[ROUND] Tick-detected end failed: %v", err)
				}
				return
			}
			e.pub.Broadcast(EventMultiplierTick, map[string]interface{}{
				"round_id":   roundID,
				"multiplier": mult,
				"elapsed_ms": elapsed.Milliseconds(),
			})
		}
	}
}

// EndRound completes the round and settles every bet still active as lost.
// Idempotent: a second trigger (late timer, tick race, admin force-end) is a
// no-op. Timers and the broadcast loop are cancelled before returning, so no
// stale event from this round can reach clients for the next one.
func (e *Engine) EndRound(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.current == nil || e.current.ID != id || e.current.Status == store.RoundCompleted {
		e.mu.Unlock()
		return nil
	}

	round := e.current
	round.Status = store.RoundCompleted
	round.EndTime = time.Now()

	if e.activateTimer != nil {
		e.activateTimer.Stop()
		e.activateTimer = nil
	}
	if e.crashTimer != nil {
		e.crashTimer.Stop()
		e.crashTimer = nil
	}
	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}
	e.current = nil
	e.mu.Unlock()

	if err := e.store.UpdateRoundStatus(ctx, round.ID, store.RoundCompleted, time.Time{}, round.EndTime); err != nil {
		log.Printf("[ROUND] Failed to persist completion of %s: %v", round.RoundID, err)
	}

	settleErr := e.settleRemaining(ctx, round)

	e.pub.Broadcast(EventRoundCrashed, map[string]interface{}{
		"round_id":    round.RoundID,
		"crash_point": round.CrashPoint,
		"seed":        round.Seed,
		"hash":        round.Hash,
	})

	log.Printf("=== ROUND %s ENDED at %.2fx ===\n", round.RoundID, round.CrashPoint)

	// Only release the flag once settlement is done; the next round must not
	// start while this one still has active bets.
	e.roundOpen.Store(false)
	return settleErr
}

// settleRemaining forces every bet still active to lost. The pass is retried
// until a listing comes back empty; a completed round with active bets left
// behind is a correctness bug, not an acceptable state. The per-bet
// transition is conditional, so a cashout that won its race is never
// overwritten.
func (e *Engine) settleRemaining(ctx context.Context, round *store.Round) error {
	var lastErr error
	for attempt := 0; attempt < settleAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(settleBackoff)
		}

		bets, err := e.store.ListActiveBetsByRound(ctx, round.ID)
		if err != nil {
			lastErr = err
			continue
		}
		if len(bets) == 0 {
			return nil
		}

		log.Printf("[ROUND END] Settling %d remaining bets as lost", len(bets))
		lastErr = nil
		for _, bet := range bets {
			if _, err := e.store.SettleLoss(ctx, bet.ID); err != nil {
				lastErr = err
				continue
			}
			log.Printf("[LOSS] Player %s lost %.2f USD", bet.PlayerID, bet.USDAmount)
		}
		// Loop once more to confirm the listing is empty.
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("settlement of round %s did not converge", round.RoundID)
	}
	log.Printf("[ROUND END] Settlement incomplete for %s: %v", round.RoundID, lastErr)
	return lastErr
}

// ForceEnd is the administrative end-round path. It completes the current
// round, cancelling its timers and broadcast loop synchronously.
func (e *Engine) ForceEnd(ctx context.Context) error {
	e.mu.Lock()
	current := e.current
	e.mu.Unlock()
	if current == nil {
		return ErrRoundNotActive
	}
	return e.EndRound(ctx, current.ID)
}

// Snapshot returns the public view of the current round. The multiplier is
// recomputed from wall-clock elapsed time at the moment of the call.
func (e *Engine) Snapshot() RoundSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return RoundSnapshot{IsActive: false}
	}

	snap := RoundSnapshot{
		ID:        e.current.ID,
		RoundID:   e.current.RoundID,
		Hash:      e.current.Hash,
		Status:    e.current.Status,
		StartTime: e.current.StartTime,
	}
	if e.current.Status == store.RoundActive {
		elapsed := time.Since(e.startedAt)
		snap.IsActive = true
		snap.Multiplier = MultiplierAt(elapsed, e.cfg.GrowthRate)
		snap.ElapsedMs = elapsed.Milliseconds()
	}
	return snap
}

// currentRound returns a copy of the in-flight round plus elapsed active time.
func (e *Engine) currentRound() (store.Round, time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return store.Round{}, 0, false
	}
	return *e.current, time.Since(e.startedAt), true
}

// VerifyRound exposes the fairness check for a completed round. The seed is
// never disclosed while the round can still be played.
type VerifyResult struct {
	RoundID              string  `json:"round_id"`
	Seed                 string  `json:"seed"`
	Hash                 string  `json:"hash"`
	StoredCrashPoint     float64 `json:"stored_crash_point"`
	RecomputedCrashPoint float64 `json:"recomputed_crash_point"`
	IsValid              bool    `json:"is_valid"`
}

func (e *Engine) VerifyRound(ctx context.Context, id string) (*VerifyResult, error) {
	round, err := e.store.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if round.Status != store.RoundCompleted {
		return nil, fmt.Errorf("round %s is not completed yet", round.RoundID)
	}

	recomputed, valid := VerifyCrashPoint(round.Seed, round.RoundID, round.CrashPoint)
	return &VerifyResult{
		RoundID:              round.RoundID,
		Seed:                 round.Seed,
		Hash:                 round.Hash,
		StoredCrashPoint:     round.CrashPoint,
		RecomputedCrashPoint: recomputed,
		IsValid:              valid,
	}, nil
}
