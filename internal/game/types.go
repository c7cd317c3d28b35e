package game

import (
	"time"
)

// Mode selects which bank and balance pool a bet draws from.
type Mode string

const (
	ModeReal Mode = "real"
	ModeDemo Mode = "demo"
)

// RoundStatus is the phase of the single live round.
type RoundStatus string

const (
	StatusWaiting  RoundStatus = "waiting"
	StatusCounting RoundStatus = "counting"
	StatusFlying   RoundStatus = "flying"
	StatusCrashed  RoundStatus = "crashed"
)

// RoundPlayer is one participant's state within the current round.
// Created when a bet is accepted during counting, mutated once when a
// cashout succeeds during flying, read-only after the crash.
type RoundPlayer struct {
	UserID            string  `json:"user_id,omitempty"`
	DisplayName       string  `json:"display_name"`
	IsBot             bool    `json:"is_bot"`
	BetAmount         float64 `json:"bet_amount"`
	Mode              Mode    `json:"mode"`
	CashedOut         bool    `json:"cashed_out"`
	CashoutMultiplier float64 `json:"cashout_multiplier,omitempty"`
	WinAmount         float64 `json:"win_amount"`

	autoCashoutAt float64 // bots only, drawn once per round
}

// Round is the single live game instance.
type Round struct {
	RoundID           string         `json:"round_id"`
	Status            RoundStatus    `json:"status"`
	CurrentMultiplier float64        `json:"current_multiplier"`
	CrashPoint        float64        `json:"-"` // hidden until crashed
	StartTime         time.Time      `json:"start_time"`
	EndBetTime        time.Time      `json:"end_bet_time"`
	Players           []*RoundPlayer `json:"players"`
}

// RoundSnapshot is the copy-on-read view pushed to observers. CrashPoint
// is only populated once the round has crashed.
type RoundSnapshot struct {
	RoundID           string        `json:"round_id"`
	Status            RoundStatus   `json:"status"`
	CurrentMultiplier float64       `json:"current_multiplier"`
	CrashPoint        float64       `json:"crash_point,omitempty"`
	StartTime         time.Time     `json:"start_time"`
	EndBetTime        time.Time     `json:"end_bet_time"`
	Players           []RoundPlayer `json:"players"`
}

// Outcome is one completed round's entry in the history ring.
type Outcome struct {
	RoundID         string  `json:"round_id"`
	CrashPoint      float64 `json:"crash_point"`
	FinalMultiplier float64 `json:"final_multiplier"`
}

type BetRequest struct {
	UserID       string           `json:"user_id"`
	Amount       float64          `json:"amount"`
	Mode         Mode             `json:"mode"`
	ResponseChan chan BetResponse `json:"-"`
}

type BetResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Balance float64 `json:"balance,omitempty"`
	Err     error   `json:"-"`
}

type CashoutRequest struct {
	UserID       string               `json:"user_id"`
	ResponseChan chan CashoutResponse `json:"-"`
}

type CashoutResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	Multiplier float64 `json:"multiplier,omitempty"`
	WinAmount  float64 `json:"win_amount,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
	Err        error   `json:"-"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type BetPlacedMessage struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
	Mode   Mode    `json:"mode"`
}

type CashoutMessage struct {
	UserID     string  `json:"user_id"`
	Multiplier float64 `json:"multiplier"`
	WinAmount  float64 `json:"win_amount"`
}
