package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"cryptocrash/internal/game"
	"cryptocrash/internal/store"
)

// Game handlers

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	return c.JSON(s.engine.Snapshot())
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.PlayerID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Player ID is required",
		})
	}

	result, err := s.engine.PlaceBet(c.Context(), req)
	if err != nil {
		return c.Status(betErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(201).JSON(result)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.PlayerID == "" || req.BetID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Player ID and Bet ID are required",
		})
	}

	result, err := s.engine.Cashout(c.Context(), req)
	if err != nil {
		return c.Status(cashoutErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(result)
}

func (s *FiberServer) forceEndHandler(c *fiber.Ctx) error {
	if err := s.engine.ForceEnd(c.Context()); err != nil {
		if errors.Is(err, game.ErrRoundNotActive) {
			return c.Status(409).JSON(fiber.Map{
				"error": "No round to end",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Round ended",
	})
}

func (s *FiberServer) getRoundHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	page := c.QueryInt("page", 1)
	if limit < 1 {
		limit = 10
	}
	if page < 1 {
		page = 1
	}

	rounds, total, err := s.store.ListCompletedRounds(c.Context(), limit, (page-1)*limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load round history",
		})
	}

	out := make([]fiber.Map, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, completedRoundJSON(&r))
	}

	totalPages := (total + limit - 1) / limit
	return c.JSON(fiber.Map{
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": totalPages,
		"rounds":      out,
	})
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	round, err := s.store.GetRound(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Round not found",
		})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load round",
		})
	}

	bets, err := s.store.ListBetsByRound(c.Context(), round.ID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load bets",
		})
	}

	roundJSON := fiber.Map{
		"id":         round.ID,
		"round_id":   round.RoundID,
		"status":     round.Status,
		"hash":       round.Hash,
		"start_time": round.StartTime,
		"prices":     round.Prices,
	}
	// The seed and crash point stay hidden until the round completes.
	if round.Status == store.RoundCompleted {
		roundJSON["seed"] = round.Seed
		roundJSON["crash_point"] = round.CrashPoint
		roundJSON["end_time"] = round.EndTime
	}

	return c.JSON(fiber.Map{
		"round": roundJSON,
		"bets":  bets,
	})
}

func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	result, err := s.engine.VerifyRound(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Round not found",
		})
	}
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(result)
}

func completedRoundJSON(r *store.Round) fiber.Map {
	return fiber.Map{
		"id":          r.ID,
		"round_id":    r.RoundID,
		"start_time":  r.StartTime,
		"end_time":    r.EndTime,
		"crash_point": r.CrashPoint,
		"hash":        r.Hash,
	}
}

func betErrorStatus(err error) int {
	if errors.Is(err, store.ErrInsufficientFunds) {
		return 402
	}
	if errors.Is(err, store.ErrNotFound) {
		return 404
	}
	return 400
}

func cashoutErrorStatus(err error) int {
	if errors.Is(err, game.ErrBetNotFound) {
		return 404
	}
	return 400
}

// Player handlers

func (s *FiberServer) createPlayerHandler(c *fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body.Username == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Username is required",
		})
	}

	player := &store.Player{
		ID:       uuid.NewString(),
		Username: body.Username,
		Balances: store.Balances{
			USD: float64(getEnvAsInt("STARTING_USD_BALANCE", 1000)),
		},
		CreatedAt: time.Now(),
	}

	if err := s.store.CreatePlayer(c.Context(), player); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return c.Status(400).JSON(fiber.Map{
				"error": "Username already taken",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to create player",
		})
	}

	return c.Status(201).JSON(fiber.Map{
		"message": "Player created successfully",
		"player":  player,
	})
}

func (s *FiberServer) listPlayersHandler(c *fiber.Ctx) error {
	players, err := s.store.ListPlayers(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load players",
		})
	}
	return c.JSON(fiber.Map{
		"count":   len(players),
		"players": players,
	})
}

func (s *FiberServer) getPlayerHandler(c *fiber.Ctx) error {
	player, err := s.store.GetPlayer(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Player not found",
		})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load player",
		})
	}
	return c.JSON(fiber.Map{
		"player": player,
	})
}

func (s *FiberServer) getWalletHandler(c *fiber.Ctx) error {
	playerID := c.Params("id")

	priceMap, err := s.oracle.GetPrices(c.Context())
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Prices unavailable",
		})
	}

	view, err := s.ledger.WalletView(c.Context(), playerID, priceMap)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Player not found",
		})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load wallet",
		})
	}
	return c.JSON(view)
}
