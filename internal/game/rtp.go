package game

import (
	"sync"
	"time"
)

// TargetRTP is the long-run payout ratio the generator steers toward.
const TargetRTP = 0.70

// rtpState holds one bank mode's rolling counters for the current
// calendar day.
type rtpState struct {
	dailyStakeIn  float64
	dailyPayout   float64
	lastResetDate string // YYYY-MM-DD
}

// RTPTracker tracks deposits-into-bank and payouts-from-bank per mode,
// resetting counters at day rollover. Safe for concurrent use.
type RTPTracker struct {
	mu     sync.Mutex
	states map[Mode]*rtpState
	now    func() time.Time
}

func NewRTPTracker() *RTPTracker {
	return &RTPTracker{
		states: make(map[Mode]*rtpState),
		now:    time.Now,
	}
}

func (t *RTPTracker) state(mode Mode) *rtpState {
	s, ok := t.states[mode]
	if !ok {
		s = &rtpState{lastResetDate: t.today()}
		t.states[mode] = s
	}
	if s.lastResetDate != t.today() {
		s.dailyStakeIn = 0
		s.dailyPayout = 0
		s.lastResetDate = t.today()
	}
	return s
}

func (t *RTPTracker) today() string {
	return t.now().Format("2006-01-02")
}

// RecordFlow adds one settled round's totals to the daily counters.
// Called exactly once per round at settlement.
func (t *RTPTracker) RecordFlow(mode Mode, stakeIn, payoutOut float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(mode)
	s.dailyStakeIn += stakeIn
	s.dailyPayout += payoutOut
}

// CurrentRTP returns dailyPayout/dailyStakeIn for the mode, or 0 when no
// stake has been recorded today.
func (t *RTPTracker) CurrentRTP(mode Mode) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(mode)
	if s.dailyStakeIn == 0 {
		return 0
	}
	return s.dailyPayout / s.dailyStakeIn
}
