package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"crashpilot/internal/ledger"
)

// Config carries the engine's timing and table knobs. Tests shrink the
// durations; production uses DefaultConfig.
type Config struct {
	BettingWindow time.Duration
	CrashPause    time.Duration
	TickInterval  time.Duration

	BaseSpeed    float64 // multiplier growth, units per second
	Acceleration float64 // exponential growth rate

	MinBet float64
	MaxBet float64

	// AdminUserIDs are excluded from the effective stake pool whenever at
	// least one non-admin real-money bet exists in the round. Their bets
	// still pay out normally.
	AdminUserIDs []string

	BotRoster   []BotProfile
	HistorySize int
}

func DefaultConfig() Config {
	return Config{
		BettingWindow: 5 * time.Second,
		CrashPause:    5 * time.Second,
		TickInterval:  100 * time.Millisecond,
		BaseSpeed:     0.1,
		Acceleration:  0.05,
		MinBet:        0.1,
		MaxBet:        10000,
		BotRoster:     DefaultBotRoster,
		HistorySize:   50,
	}
}

// Broadcaster receives every round snapshot and event the engine emits.
// *Hub satisfies it; tests substitute a recorder.
type Broadcaster interface {
	Broadcast(message interface{})
}

// HistoryStore persists completed-round outcomes beyond process restarts.
// Optional; nil keeps history in memory only.
type HistoryStore interface {
	Append(ctx context.Context, o Outcome)
	Recent(ctx context.Context, limit int) ([]Outcome, error)
}

// Manager owns the single live round and drives it through its phases on
// a fixed clock. All round mutations are serialized through the loop
// goroutine: bets and cashouts arrive on channels, ticks and phase
// transitions come from timers, so no two mutations ever interleave.
type Manager struct {
	cfg      Config
	hub      Broadcaster
	balances ledger.BalanceLedger
	bank     ledger.BankLedger
	tx       ledger.TransactionRecorder
	rtp      *RTPTracker
	gen      *Generator

	ctx      context.Context
	adminSet map[string]bool
	rng      *rand.Rand

	stateMu sync.RWMutex
	round   *Round
	history []Outcome // most-recent-first, capped at cfg.HistorySize

	historyStore HistoryStore

	betCh     chan BetRequest
	cashoutCh chan CashoutRequest
	stopCh    chan struct{}
	stopOnce  sync.Once
	roundSeq  int
}

func NewManager(cfg Config, hub Broadcaster, balances ledger.BalanceLedger, bank ledger.BankLedger, tx ledger.TransactionRecorder) *Manager {
	if tx == nil {
		tx = ledger.NopRecorder{}
	}
	adminSet := make(map[string]bool, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		adminSet[id] = true
	}
	return &Manager{
		cfg:       cfg,
		hub:       hub,
		balances:  balances,
		bank:      bank,
		tx:        tx,
		rtp:       NewRTPTracker(),
		gen:       NewGenerator(),
		ctx:       context.Background(),
		adminSet:  adminSet,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		betCh:     make(chan BetRequest, 1000),
		cashoutCh: make(chan CashoutRequest, 1000),
		stopCh:    make(chan struct{}),
	}
}

// SetHistoryStore attaches an optional persistent outcome store. Must be
// called before Start.
func (m *Manager) SetHistoryStore(s HistoryStore) {
	m.historyStore = s
	if s == nil {
		return
	}
	recent, err := s.Recent(m.ctx, m.cfg.HistorySize)
	if err != nil {
		log.Printf("[GAME] History restore failed: %v", err)
		return
	}
	m.stateMu.Lock()
	m.history = recent
	m.stateMu.Unlock()
}

// RTP exposes the tracker for health reporting.
func (m *Manager) RTP() *RTPTracker { return m.rtp }

func (m *Manager) Start() {
	go m.gameLoop()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) gameLoop() {
	for {
		select {
		case <-m.stopCh:
			log.Println("[GAME] Round loop stopped")
			return
		default:
			m.safeRunRound()
		}
	}
}

// safeRunRound isolates one round. A panic in the tick loop must not
// leave the round stuck in flying: we log it, park the round in waiting,
// and let the outer loop start fresh.
func (m *Manager) safeRunRound() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[GAME] Round loop panic, restarting: %v", r)
			m.stateMu.Lock()
			if m.round != nil {
				m.round.Status = StatusWaiting
			}
			m.stateMu.Unlock()
			m.pause(m.cfg.CrashPause)
		}
	}()
	m.runRound()
}

func (m *Manager) runRound() {
	m.roundSeq++
	now := time.Now()

	round := &Round{
		RoundID:           fmt.Sprintf("R%d-%d", now.Unix(), m.roundSeq),
		Status:            StatusCounting,
		CurrentMultiplier: 1.00,
		StartTime:         now,
		EndBetTime:        now.Add(m.cfg.BettingWindow),
		Players:           materializeBots(m.cfg.BotRoster, m.rng),
	}

	m.stateMu.Lock()
	m.round = round
	m.stateMu.Unlock()

	log.Printf("[GAME] Round %s counting, window %s", round.RoundID, m.cfg.BettingWindow)
	m.broadcastEvent("round_start")

	// Betting window: accept bets, reject early cashouts.
	bettingTimer := time.NewTimer(m.cfg.BettingWindow)
	for open := true; open; {
		select {
		case <-bettingTimer.C:
			open = false
		case bet := <-m.betCh:
			m.processBet(bet)
		case co := <-m.cashoutCh:
			reject(co.ResponseChan, CashoutResponse{Message: "round not flying", Err: ErrInvalidState})
		case <-m.stopCh:
			bettingTimer.Stop()
			return
		}
	}

	// Window closed: pick the hidden crash point and launch.
	crashPoint := m.pickCrashPoint()

	m.stateMu.Lock()
	m.round.Status = StatusFlying
	m.round.CrashPoint = crashPoint
	m.stateMu.Unlock()

	log.Printf("[GAME] Round %s flying, crash at %.2fx (hidden)", round.RoundID, crashPoint)
	m.broadcastEvent("round_flying")

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	flightStart := time.Now()

	for flying := true; flying; {
		select {
		case <-ticker.C:
			flying = !m.tick(flightStart)
		case co := <-m.cashoutCh:
			m.processCashout(co)
		case bet := <-m.betCh:
			reject(bet.ResponseChan, BetResponse{Message: "betting window closed", Err: ErrWindowClosed})
		case <-m.stopCh:
			return
		}
	}

	m.settle()

	log.Printf("[GAME] Round %s ended at %.2fx", round.RoundID, crashPoint)
	m.pause(m.cfg.CrashPause)

	m.stateMu.Lock()
	m.round.Status = StatusWaiting
	m.stateMu.Unlock()
}

// tick advances the multiplier one step and reports whether the round
// crashed. Bots whose threshold is reached are cashed out at the tick's
// multiplier, not their threshold.
func (m *Manager) tick(flightStart time.Time) (crashed bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	elapsed := time.Since(flightStart).Seconds()
	mult := flightMultiplier(elapsed, m.cfg.BaseSpeed, m.cfg.Acceleration)
	if mult < m.round.CurrentMultiplier {
		mult = m.round.CurrentMultiplier
	}

	if mult >= m.round.CrashPoint {
		m.round.CurrentMultiplier = m.round.CrashPoint
		m.round.Status = StatusCrashed
		m.broadcastEventLocked("crash")
		return true
	}

	m.round.CurrentMultiplier = mult
	for _, p := range m.round.Players {
		if p.IsBot && !p.CashedOut && p.autoCashoutAt > 0 && mult >= p.autoCashoutAt {
			p.CashedOut = true
			p.CashoutMultiplier = mult
			p.WinAmount = roundCents(p.BetAmount * mult)
		}
	}
	m.broadcastEventLocked("tick")
	return false
}

// flightMultiplier maps elapsed flight time to the displayed multiplier.
func flightMultiplier(elapsed, baseSpeed, acceleration float64) float64 {
	mult := 1.0 + elapsed*baseSpeed*math.Exp(elapsed*acceleration)
	return math.Floor(mult*100) / 100
}

// pickCrashPoint assembles the generator inputs from the current round
// and ledgers. Ledger read failures degrade to zero balances, which the
// generator treats as a starved bank.
func (m *Manager) pickCrashPoint() float64 {
	realStake, demoStake := m.effectiveStakes()

	realBank, err := m.bank.GetBankBalance(m.ctx, string(ModeReal))
	if err != nil {
		log.Printf("[GAME] Bank read failed (real): %v", err)
	}
	demoBank, err := m.bank.GetBankBalance(m.ctx, string(ModeDemo))
	if err != nil {
		log.Printf("[GAME] Bank read failed (demo): %v", err)
	}

	return m.gen.Generate(realStake, demoStake, realBank, demoBank,
		m.rtp.CurrentRTP(ModeReal), m.rtp.CurrentRTP(ModeDemo))
}

// effectiveStakes totals the non-bot stakes per mode. Admin bets are
// excluded whenever at least one non-admin real-money bet exists, so a
// privileged account cannot steer the payout engine while genuine
// customers are playing.
func (m *Manager) effectiveStakes() (real, demo float64) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	hasNonAdminReal := false
	for _, p := range m.round.Players {
		if !p.IsBot && p.Mode == ModeReal && !m.adminSet[p.UserID] {
			hasNonAdminReal = true
			break
		}
	}

	for _, p := range m.round.Players {
		if p.IsBot {
			continue
		}
		if hasNonAdminReal && m.adminSet[p.UserID] {
			continue
		}
		switch p.Mode {
		case ModeReal:
			real += p.BetAmount
		case ModeDemo:
			demo += p.BetAmount
		}
	}
	return real, demo
}

// PlaceBet submits a bet to the round loop and waits for the outcome.
func (m *Manager) PlaceBet(req BetRequest) BetResponse {
	respChan := make(chan BetResponse, 1)
	req.ResponseChan = respChan

	select {
	case m.betCh <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(5 * time.Second):
			return BetResponse{Message: "bet timeout"}
		}
	default:
		return BetResponse{Message: "bet queue full"}
	}
}

// Cashout submits a cashout to the round loop and waits for the outcome.
func (m *Manager) Cashout(req CashoutRequest) CashoutResponse {
	respChan := make(chan CashoutResponse, 1)
	req.ResponseChan = respChan

	select {
	case m.cashoutCh <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(5 * time.Second):
			return CashoutResponse{Message: "cashout timeout"}
		}
	default:
		return CashoutResponse{Message: "cashout queue full"}
	}
}

func (m *Manager) processBet(req BetRequest) {
	resp := BetResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	if req.Mode == "" {
		req.Mode = ModeReal
	}
	if req.Mode != ModeReal && req.Mode != ModeDemo {
		resp.Message = "unknown mode"
		resp.Err = ErrInvalidState
		return
	}
	if req.Amount < m.cfg.MinBet || req.Amount > m.cfg.MaxBet {
		resp.Message = fmt.Sprintf("bet must be between %.2f and %.2f", m.cfg.MinBet, m.cfg.MaxBet)
		resp.Err = ErrInvalidState
		return
	}

	m.stateMu.RLock()
	status := m.round.Status
	endBetTime := m.round.EndBetTime
	duplicate := m.findPlayerLocked(req.UserID) != nil
	m.stateMu.RUnlock()

	if status != StatusCounting {
		resp.Message = "betting is closed"
		resp.Err = ErrInvalidState
		return
	}
	if time.Now().After(endBetTime) {
		resp.Message = "betting window closed"
		resp.Err = ErrWindowClosed
		return
	}
	if duplicate {
		resp.Message = "bet already placed this round"
		resp.Err = ErrDuplicateAction
		return
	}

	newBalance, err := m.balances.AdjustBalance(m.ctx, req.UserID, string(req.Mode), -req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			resp.Message = "insufficient balance"
			resp.Err = ErrInsufficientFunds
		} else {
			log.Printf("[GAME] Balance debit failed for %s: %v", req.UserID, err)
			resp.Message = "ledger unavailable"
			resp.Err = ErrInvalidState
		}
		return
	}

	m.stateMu.Lock()
	m.round.Players = append(m.round.Players, &RoundPlayer{
		UserID:      req.UserID,
		DisplayName: req.UserID,
		BetAmount:   req.Amount,
		Mode:        req.Mode,
	})
	m.stateMu.Unlock()

	m.tx.RecordTransaction(m.ctx, req.UserID, -req.Amount, "bet", string(req.Mode))

	resp.Success = true
	resp.Balance = newBalance
	resp.Message = "bet placed"

	m.hub.Broadcast(WSMessage{Type: "bet_placed", Data: BetPlacedMessage{
		UserID: req.UserID,
		Amount: req.Amount,
		Mode:   req.Mode,
	}})
	log.Printf("[GAME] Bet %.2f %s by %s", req.Amount, req.Mode, req.UserID)
}

func (m *Manager) processCashout(req CashoutRequest) {
	resp := CashoutResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	m.stateMu.RLock()
	status := m.round.Status
	mult := m.round.CurrentMultiplier
	player := m.findPlayerLocked(req.UserID)
	m.stateMu.RUnlock()

	if status != StatusFlying {
		resp.Message = "round not flying"
		resp.Err = ErrInvalidState
		return
	}
	if player == nil {
		resp.Message = "no bet this round"
		resp.Err = ErrNotFound
		return
	}
	if player.CashedOut {
		resp.Message = "already cashed out"
		resp.Err = ErrDuplicateAction
		return
	}

	win := roundCents(player.BetAmount * mult)

	newBalance, err := m.balances.AdjustBalance(m.ctx, req.UserID, string(player.Mode), win)
	if err != nil {
		log.Printf("[GAME] Cashout credit failed for %s: %v", req.UserID, err)
		resp.Message = "ledger unavailable"
		resp.Err = ErrInvalidState
		return
	}

	m.stateMu.Lock()
	player.CashedOut = true
	player.CashoutMultiplier = mult
	player.WinAmount = win
	m.stateMu.Unlock()

	m.tx.RecordTransaction(m.ctx, req.UserID, win, "win", string(player.Mode))

	resp.Success = true
	resp.Multiplier = mult
	resp.WinAmount = win
	resp.Balance = newBalance
	resp.Message = fmt.Sprintf("cashed out at %.2fx", mult)

	m.hub.Broadcast(WSMessage{Type: "cashout", Data: CashoutMessage{
		UserID:     req.UserID,
		Multiplier: mult,
		WinAmount:  win,
	}})
	log.Printf("[GAME] Cashout %.2fx by %s (win %.2f)", mult, req.UserID, win)
}

// findPlayerLocked returns the non-bot entry for userID. Callers hold
// stateMu.
func (m *Manager) findPlayerLocked(userID string) *RoundPlayer {
	for _, p := range m.round.Players {
		if !p.IsBot && p.UserID == userID {
			return p
		}
	}
	return nil
}

// settle closes the books for the crashed round: per-mode stake and
// payout totals flow into the bank and the RTP tracker, the outcome joins
// the history ring. Winners were credited at cashout time; losers already
// paid at bet time. Per-player failures are logged and skipped, never
// aborting the rest of the round.
func (m *Manager) settle() {
	m.stateMu.RLock()
	round := m.round
	players := make([]*RoundPlayer, len(round.Players))
	copy(players, round.Players)
	crashPoint := round.CrashPoint
	finalMult := round.CurrentMultiplier
	roundID := round.RoundID
	m.stateMu.RUnlock()

	stakeIn := map[Mode]float64{}
	payoutOut := map[Mode]float64{}

	for _, p := range players {
		if p.IsBot {
			continue
		}
		stakeIn[p.Mode] += p.BetAmount
		if p.CashedOut {
			payoutOut[p.Mode] += p.WinAmount
		} else {
			m.tx.RecordTransaction(m.ctx, p.UserID, 0, "loss", string(p.Mode))
		}
	}

	for _, mode := range []Mode{ModeReal, ModeDemo} {
		in, out := stakeIn[mode], payoutOut[mode]
		if in == 0 && out == 0 {
			continue
		}
		if _, err := m.bank.AdjustBankBalance(m.ctx, string(mode), in-out); err != nil {
			log.Printf("[GAME] Bank settlement failed for mode %s: %v", mode, err)
		}
		m.rtp.RecordFlow(mode, in, out)
	}

	outcome := Outcome{RoundID: roundID, CrashPoint: crashPoint, FinalMultiplier: finalMult}

	m.stateMu.Lock()
	m.history = append([]Outcome{outcome}, m.history...)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[:m.cfg.HistorySize]
	}
	m.stateMu.Unlock()

	if m.historyStore != nil {
		go m.historyStore.Append(m.ctx, outcome)
	}
}

// CurrentRound returns a copy-on-read snapshot. The crash point is only
// revealed once the round has crashed.
func (m *Manager) CurrentRound() RoundSnapshot {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() RoundSnapshot {
	if m.round == nil {
		return RoundSnapshot{Status: StatusWaiting, CurrentMultiplier: 1.00}
	}
	snap := RoundSnapshot{
		RoundID:           m.round.RoundID,
		Status:            m.round.Status,
		CurrentMultiplier: m.round.CurrentMultiplier,
		StartTime:         m.round.StartTime,
		EndBetTime:        m.round.EndBetTime,
		Players:           make([]RoundPlayer, len(m.round.Players)),
	}
	if m.round.Status == StatusCrashed {
		snap.CrashPoint = m.round.CrashPoint
	}
	for i, p := range m.round.Players {
		snap.Players[i] = *p
	}
	return snap
}

// History returns up to limit past outcomes, most recent first.
func (m *Manager) History(limit int) []Outcome {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]Outcome, limit)
	copy(out, m.history[:limit])
	return out
}

func (m *Manager) broadcastEvent(event string) {
	m.stateMu.RLock()
	snap := m.snapshotLocked()
	m.stateMu.RUnlock()
	m.hub.Broadcast(WSMessage{Type: event, Data: snap})
}

// broadcastEventLocked is the tick-path variant; callers hold stateMu.
func (m *Manager) broadcastEventLocked(event string) {
	m.hub.Broadcast(WSMessage{Type: event, Data: m.snapshotLocked()})
}

// pause sleeps for d but wakes immediately on Stop.
func (m *Manager) pause(d time.Duration) {
	select {
	case <-time.After(d):
	case <-m.stopCh:
	}
}

func reject[T any](ch chan T, resp T) {
	if ch != nil {
		ch <- resp
	}
}
