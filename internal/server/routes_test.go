package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"crashpilot/internal/game"
	"crashpilot/internal/ledger"
)

func newTestServer(t *testing.T) *FiberServer {
	t.Helper()

	cfg := game.DefaultConfig()
	cfg.BettingWindow = 200 * time.Millisecond
	cfg.CrashPause = 20 * time.Millisecond
	cfg.TickInterval = 5 * time.Millisecond

	hub := game.NewHub()
	led := ledger.NewMemoryLedger()
	manager := game.NewManager(cfg, hub, led, led, nil)
	manager.Start()
	t.Cleanup(manager.Stop)

	s := &FiberServer{
		App:         fiber.New(),
		gameManager: manager,
		gameHub:     hub,
	}
	s.App.Get("/api/v1/game/state", s.getGameStateHandler)
	s.App.Get("/api/v1/game/history", s.getHistoryHandler)
	s.App.Post("/api/v1/game/bet", s.placeBetHandler)
	s.App.Post("/api/v1/game/cashout", s.cashoutHandler)
	return s
}

func TestHealthHandler(t *testing.T) {
	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Server is running",
		})
	})

	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status OK; got %v", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("could not unmarshal response: %v", err)
	}

	if result["status"] != "ok" {
		t.Errorf("expected status to be 'ok'; got %v", result["status"])
	}
}

func TestGetGameStateHandler(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest("GET", "/api/v1/game/state", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status OK; got %v", resp.Status)
	}

	body, _ := io.ReadAll(resp.Body)
	var snap game.RoundSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("could not unmarshal snapshot: %v", err)
	}

	switch snap.Status {
	case game.StatusWaiting, game.StatusCounting, game.StatusFlying, game.StatusCrashed:
	default:
		t.Errorf("unexpected round status %q", snap.Status)
	}
	if snap.Status != game.StatusCrashed && snap.CrashPoint != 0 {
		t.Errorf("crash point %v leaked before crash", snap.CrashPoint)
	}
}

func TestGetHistoryHandler(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest("GET", "/api/v1/game/history?limit=5", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status OK; got %v", resp.Status)
	}

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		History []game.Outcome `json:"history"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("could not unmarshal history: %v", err)
	}
	if len(result.History) > 5 {
		t.Errorf("history returned %d entries, limit was 5", len(result.History))
	}
}

func TestPlaceBetHandler_Validation(t *testing.T) {
	s := newTestServer(t)

	t.Run("missing user id", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/api/v1/game/bet", strings.NewReader(`{"amount": 1.0}`))
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.App.Test(req)
		if err != nil {
			t.Fatalf("could not perform request: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400; got %v", resp.Status)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/api/v1/game/bet", strings.NewReader(`{`))
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.App.Test(req)
		if err != nil {
			t.Fatalf("could not perform request: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400; got %v", resp.Status)
		}
	})
}

func TestCashoutHandler_Validation(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest("POST", "/api/v1/game/cashout", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400; got %v", resp.Status)
	}
}
