package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	// Apply CORS middleware
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	// Basic routes
	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	// Game routes
	api.Get("/game/state", s.getGameStateHandler)
	api.Post("/game/bet", s.placeBetHandler)
	api.Post("/game/cashout", s.cashoutHandler)
	api.Post("/game/end", s.forceEndHandler)
	api.Get("/game/history", s.getRoundHistoryHandler)
	api.Get("/game/rounds/:id", s.getRoundHandler)
	api.Get("/game/rounds/:id/verify", s.verifyRoundHandler)

	// Player routes
	api.Post("/players", s.createPlayerHandler)
	api.Get("/players", s.listPlayersHandler)
	api.Get("/players/:id", s.getPlayerHandler)
	api.Get("/players/:id/wallet", s.getWalletHandler)

	// WebSocket route
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	cacheHealth := map[string]string{"status": "down"}
	if s.cache != nil {
		cacheHealth = s.cache.Health()
	}
	health := fiber.Map{
		"database": s.db.Health(),
		"cache":    cacheHealth,
		"game": fiber.Map{
			"status":            "running",
			"round":             s.engine.Snapshot(),
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	return c.JSON(health)
}
