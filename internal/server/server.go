package server

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/joho/godotenv/autoload"

	"crashpilot/internal/cache"
	"crashpilot/internal/database"
	"crashpilot/internal/game"
	"crashpilot/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db          database.Service
	cache       cache.Service
	gameManager *game.Manager
	gameHub     *game.Hub
	balances    *ledger.RedisBalanceLedger
	bank        *ledger.RedisBankLedger
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for ledger functionality")
	}

	hub := game.NewHub()

	balances := ledger.NewRedisBalanceLedger(redisService.GetClient())
	bank := ledger.NewRedisBankLedger(redisService.GetClient())

	var recorder ledger.TransactionRecorder = ledger.NopRecorder{}
	if db != nil {
		recorder = ledger.NewPgTransactionRecorder(db.Pool())
	} else {
		log.Println("[SERVER] No database, transaction audit log disabled")
	}

	cfg := game.DefaultConfig()
	cfg.AdminUserIDs = adminUserIDs()

	manager := game.NewManager(cfg, hub, balances, bank, recorder)
	manager.SetHistoryStore(game.NewRedisHistoryStore(redisService.GetClient(), cfg.HistorySize))

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashpilot",
			AppName:       "crashpilot",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:          db,
		cache:       redisService,
		gameManager: manager,
		gameHub:     hub,
		balances:    balances,
		bank:        bank,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	manager.Start()

	log.Println("[SERVER] Round engine started")

	return server
}

// Shutdown stops the round loop and closes connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.gameManager != nil {
		s.gameManager.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func adminUserIDs() []string {
	raw := os.Getenv("ADMIN_USER_IDS")
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
