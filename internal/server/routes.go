package server

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"crashpilot/internal/game"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/game/state", s.getGameStateHandler)
	api.Get("/game/history", s.getHistoryHandler)
	api.Post("/game/bet", s.placeBetHandler)
	api.Post("/game/cashout", s.cashoutHandler)
	api.Get("/user/:userId/balance", s.getUserBalanceHandler)
	api.Post("/user/:userId/balance", s.setUserBalanceHandler)
	api.Post("/bank/:mode/balance", s.setBankBalanceHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"cache": s.cache.Health(),
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.gameHub.ClientCount(),
			"rtp_real":          s.gameManager.RTP().CurrentRTP(game.ModeReal),
			"rtp_demo":          s.gameManager.RTP().CurrentRTP(game.ModeDemo),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	return c.JSON(health)
}

// getGameStateHandler returns a snapshot of the live round.
func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	return c.JSON(s.gameManager.CurrentRound())
}

// getHistoryHandler returns past outcomes, most recent first.
func (s *FiberServer) getHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	return c.JSON(fiber.Map{
		"history": s.gameManager.History(limit),
	})
}

// placeBetHandler handles bet placement requests.
func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	resp := s.gameManager.PlaceBet(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}
	return c.JSON(resp)
}

// cashoutHandler handles cashout requests.
func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	resp := s.gameManager.Cashout(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	mode := c.Query("mode", string(game.ModeReal))

	balance, err := s.balances.GetBalance(c.Context(), userID, mode)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"mode":    mode,
		"balance": balance,
	})
}

// setUserBalanceHandler overwrites a balance. Admin/testing surface.
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var body struct {
		Balance float64 `json:"balance"`
		Mode    string  `json:"mode"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body.Mode == "" {
		body.Mode = string(game.ModeReal)
	}

	if err := s.balances.SetBalance(c.Context(), userID, body.Mode, body.Balance); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to set balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"mode":    body.Mode,
		"balance": body.Balance,
	})
}

// setBankBalanceHandler seeds the casino reserve. Admin/testing surface.
func (s *FiberServer) setBankBalanceHandler(c *fiber.Ctx) error {
	mode := c.Params("mode")
	if mode != string(game.ModeReal) && mode != string(game.ModeDemo) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Mode must be real or demo",
		})
	}

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := s.bank.SetBankBalance(c.Context(), mode, body.Balance); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to set bank balance",
		})
	}

	return c.JSON(fiber.Map{
		"mode":    mode,
		"balance": body.Balance,
	})
}

// gameWebSocketHandler subscribes a connection to the push feed and
// accepts bet/cashout commands over the socket.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	log.Printf("[WS] New connection from user: %s", userID)

	client := s.gameHub.RegisterClient(conn, userID)
	client.SendSnapshot(s.gameManager.CurrentRound())

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", userID, err)
			s.gameHub.UnregisterClient(client)
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg map[string]interface{}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}
		msgType, ok := clientMsg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bet":
			amount, _ := strconv.ParseFloat(fmt.Sprintf("%v", clientMsg["amount"]), 64)
			mode := game.Mode(fmt.Sprintf("%v", clientMsg["mode"]))
			if mode != game.ModeDemo {
				mode = game.ModeReal
			}

			resp := s.gameManager.PlaceBet(game.BetRequest{
				UserID: userID,
				Amount: amount,
				Mode:   mode,
			})

			respJSON, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, respJSON)

		case "cashout":
			resp := s.gameManager.Cashout(game.CashoutRequest{UserID: userID})

			respJSON, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, respJSON)

		case "ping":
			pongJSON, _ := json.Marshal(map[string]string{"type": "pong"})
			conn.WriteMessage(websocket.TextMessage, pongJSON)
		}
	}
}
