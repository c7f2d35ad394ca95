package server

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"cryptocrash/internal/cache"
	"cryptocrash/internal/database"
	"cryptocrash/internal/game"
	"cryptocrash/internal/prices"
	"cryptocrash/internal/store"
	"cryptocrash/internal/wallet"
)

type FiberServer struct {
	*fiber.App

	db     database.Service
	cache  cache.Service
	store  store.Store
	oracle *prices.Oracle
	ledger *wallet.Ledger
	engine *game.Engine
	hub    *game.Hub
}

func New() *FiberServer {
	// Initialize database
	db := database.New()

	var st store.Store
	if db.Health()["status"] == "up" {
		st = store.NewPostgresStore(db.DB())
	} else {
		log.Println("[SERVER] Database unavailable, running on in-memory store")
		st = store.NewMemoryStore()
	}

	// Initialize Redis cache; the oracle degrades to its in-process cache
	// when Redis is down.
	redisService := cache.New()
	var redisClient *redis.Client
	if redisService != nil {
		redisClient = redisService.GetClient()
	}

	oracle := prices.New(redisClient)
	hub := game.NewHub()
	ledger := wallet.NewLedger(st, st)
	engine := game.NewEngine(st, ledger, oracle, hub, engineConfig())

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "cryptocrash",
			AppName:       "cryptocrash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:     db,
		cache:  redisService,
		store:  st,
		oracle: oracle,
		ledger: ledger,
		engine: engine,
		hub:    hub,
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	// Start game components
	go hub.Run()
	engine.Start()

	log.Println("[SERVER] Round engine started")

	return server
}

func engineConfig() game.Config {
	cfg := game.DefaultConfig()
	if ms := getEnvAsInt("GAME_INTERVAL", 0); ms > 0 {
		cfg.ScheduleInterval = time.Duration(ms) * time.Millisecond
	}
	if ms := getEnvAsInt("BETTING_WINDOW", 0); ms > 0 {
		cfg.PendingWindow = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

// Shutdown gracefully shuts down the server and game components
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.engine != nil {
		s.engine.Stop()
	}

	// Close connections
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
