package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crashpilot/internal/ledger"
)

// recordingBroadcaster captures everything the engine emits.
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []WSMessage
}

func (b *recordingBroadcaster) Broadcast(message interface{}) {
	msg, ok := message.(WSMessage)
	if !ok {
		return
	}
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) snapshotsOf(event string) []RoundSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []RoundSnapshot
	for _, m := range b.messages {
		if m.Type == event {
			if snap, ok := m.Data.(RoundSnapshot); ok {
				out = append(out, snap)
			}
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BettingWindow = 300 * time.Millisecond
	cfg.CrashPause = 30 * time.Millisecond
	cfg.TickInterval = 5 * time.Millisecond
	cfg.BaseSpeed = 2.0
	cfg.BotRoster = nil
	return cfg
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *ledger.MemoryLedger, *recordingBroadcaster) {
	t.Helper()
	led := ledger.NewMemoryLedger()
	led.SetBankBalance(context.Background(), string(ModeReal), 1000)
	led.SetBankBalance(context.Background(), string(ModeDemo), 1000)
	bc := &recordingBroadcaster{}
	m := NewManager(cfg, bc, led, led, nil)
	return m, led, bc
}

func waitForStatus(t *testing.T, m *Manager, status RoundStatus) RoundSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.CurrentRound()
		if snap.Status == status {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("round never reached status %s", status)
	return RoundSnapshot{}
}

func waitForHistory(t *testing.T, m *Manager, n int) []Outcome {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if h := m.History(0); len(h) >= n {
			return h
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("history never reached %d entries", n)
	return nil
}

func nonBots(snap RoundSnapshot) []RoundPlayer {
	var out []RoundPlayer
	for _, p := range snap.Players {
		if !p.IsBot {
			out = append(out, p)
		}
	}
	return out
}

func TestManager_PlaceBetAndDuplicate(t *testing.T) {
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "alice", string(ModeReal), 10)

	m.Start()
	defer m.Stop()
	waitForStatus(t, m, StatusCounting)

	first := m.PlaceBet(BetRequest{UserID: "alice", Amount: 1.0, Mode: ModeReal})
	if !first.Success {
		t.Fatalf("first bet rejected: %s", first.Message)
	}
	if first.Balance != 9 {
		t.Errorf("balance after bet = %v, want 9", first.Balance)
	}

	second := m.PlaceBet(BetRequest{UserID: "alice", Amount: 1.0, Mode: ModeReal})
	if second.Success {
		t.Fatal("second bet in same round accepted")
	}
	if !errors.Is(second.Err, ErrDuplicateAction) {
		t.Errorf("second bet error = %v, want ErrDuplicateAction", second.Err)
	}
}

func TestManager_InsufficientFunds(t *testing.T) {
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "bob", string(ModeReal), 0.5)

	m.Start()
	defer m.Stop()
	waitForStatus(t, m, StatusCounting)

	resp := m.PlaceBet(BetRequest{UserID: "bob", Amount: 1.0, Mode: ModeReal})
	if resp.Success {
		t.Fatal("bet above balance accepted")
	}
	if !errors.Is(resp.Err, ErrInsufficientFunds) {
		t.Errorf("error = %v, want ErrInsufficientFunds", resp.Err)
	}

	if bal, _ := led.GetBalance(context.Background(), "bob", string(ModeReal)); bal != 0.5 {
		t.Errorf("balance mutated to %v on rejected bet", bal)
	}
	if players := nonBots(m.CurrentRound()); len(players) != 0 {
		t.Errorf("rejected bet added %d player(s) to the round", len(players))
	}
}

func TestManager_CashoutOnceThenDuplicate(t *testing.T) {
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "carol", string(ModeReal), 10)

	m.Start()
	defer m.Stop()
	waitForStatus(t, m, StatusCounting)

	if resp := m.PlaceBet(BetRequest{UserID: "carol", Amount: 2.0, Mode: ModeReal}); !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}

	waitForStatus(t, m, StatusFlying)

	first := m.Cashout(CashoutRequest{UserID: "carol"})
	if !first.Success {
		t.Fatalf("cashout rejected: %s", first.Message)
	}
	if first.Multiplier < 1.0 {
		t.Errorf("cashout multiplier %v below 1.0", first.Multiplier)
	}
	want := roundCents(2.0 * first.Multiplier)
	if first.WinAmount != want {
		t.Errorf("win = %v, want bet x multiplier = %v", first.WinAmount, want)
	}

	second := m.Cashout(CashoutRequest{UserID: "carol"})
	if second.Success {
		t.Fatal("second cashout accepted")
	}
	if !errors.Is(second.Err, ErrDuplicateAction) {
		t.Errorf("second cashout error = %v, want ErrDuplicateAction", second.Err)
	}
}

func TestManager_CashoutWithoutBet(t *testing.T) {
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "dave", string(ModeReal), 10)

	m.Start()
	defer m.Stop()
	waitForStatus(t, m, StatusCounting)
	if resp := m.PlaceBet(BetRequest{UserID: "dave", Amount: 1.0, Mode: ModeReal}); !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}
	waitForStatus(t, m, StatusFlying)

	resp := m.Cashout(CashoutRequest{UserID: "nobody"})
	if resp.Success {
		t.Fatal("cashout without bet accepted")
	}
	if !errors.Is(resp.Err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", resp.Err)
	}
}

func TestManager_BetWhileFlyingRejected(t *testing.T) {
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "erin", string(ModeReal), 10)
	led.SetBalance(context.Background(), "frank", string(ModeReal), 10)

	m.Start()
	defer m.Stop()
	waitForStatus(t, m, StatusCounting)
	if resp := m.PlaceBet(BetRequest{UserID: "erin", Amount: 1.0, Mode: ModeReal}); !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}
	waitForStatus(t, m, StatusFlying)

	resp := m.PlaceBet(BetRequest{UserID: "frank", Amount: 1.0, Mode: ModeReal})
	if resp.Success {
		t.Fatal("bet during flight accepted")
	}
	if !errors.Is(resp.Err, ErrWindowClosed) {
		t.Errorf("error = %v, want ErrWindowClosed", resp.Err)
	}
}

func TestManager_WindowClosedBeforeStatusFlip(t *testing.T) {
	// A bet arriving after endBetTime is rejected with WindowClosed even
	// while the status still reads counting.
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "grace", string(ModeReal), 10)

	m.round = &Round{
		RoundID:           "R-test",
		Status:            StatusCounting,
		CurrentMultiplier: 1.0,
		StartTime:         time.Now().Add(-time.Second),
		EndBetTime:        time.Now().Add(-time.Millisecond),
	}

	respChan := make(chan BetResponse, 1)
	m.processBet(BetRequest{UserID: "grace", Amount: 1.0, Mode: ModeReal, ResponseChan: respChan})

	resp := <-respChan
	if resp.Success {
		t.Fatal("late bet accepted")
	}
	if !errors.Is(resp.Err, ErrWindowClosed) {
		t.Errorf("error = %v, want ErrWindowClosed", resp.Err)
	}
}

func TestManager_MultiplierMonotonicUntilCrash(t *testing.T) {
	m, _, bc := newTestManager(t, testConfig())

	m.Start()
	defer m.Stop()
	history := waitForHistory(t, m, 1)

	crashes := bc.snapshotsOf("crash")
	if len(crashes) == 0 {
		t.Fatal("no crash snapshot broadcast")
	}
	final := crashes[0]

	prev := 1.0
	for _, snap := range bc.snapshotsOf("tick") {
		if snap.RoundID != final.RoundID {
			continue
		}
		if snap.CurrentMultiplier < prev {
			t.Fatalf("multiplier decreased: %.2f after %.2f", snap.CurrentMultiplier, prev)
		}
		prev = snap.CurrentMultiplier
	}
	if final.CrashPoint < 1.0 {
		t.Errorf("revealed crash point %.2f below 1.00", final.CrashPoint)
	}
	if final.CurrentMultiplier != final.CrashPoint {
		t.Errorf("final multiplier %.2f != crash point %.2f", final.CurrentMultiplier, final.CrashPoint)
	}
	if history[0].FinalMultiplier != history[0].CrashPoint {
		t.Errorf("history outcome final %.2f != crash %.2f", history[0].FinalMultiplier, history[0].CrashPoint)
	}
}

func TestManager_IdleRoundsKeepRunning(t *testing.T) {
	// Rounds with no bets at all still complete so history and timing
	// stay continuous for observers.
	m, _, _ := newTestManager(t, testConfig())

	m.Start()
	defer m.Stop()

	history := waitForHistory(t, m, 2)
	for _, o := range history {
		if o.CrashPoint < 1.0 {
			t.Errorf("idle round crash point %.2f below 1.00", o.CrashPoint)
		}
	}
}

func TestManager_BotAutoCashout(t *testing.T) {
	cfg := testConfig()
	cfg.BaseSpeed = 8.0
	cfg.BotRoster = []BotProfile{
		{Name: "Steady", MinBet: 1.0, MaxBet: 1.0, MinCashout: 1.05, MaxCashout: 1.05},
	}
	m, led, _ := newTestManager(t, cfg)

	m.Start()
	defer m.Stop()

	waitForStatus(t, m, StatusCrashed)
	snap := m.CurrentRound()

	var bot *RoundPlayer
	for i := range snap.Players {
		if snap.Players[i].IsBot {
			bot = &snap.Players[i]
		}
	}
	if bot == nil {
		t.Fatal("bot missing from round")
	}
	if !bot.CashedOut {
		t.Fatalf("bot never auto-cashed (crash at %.2f)", snap.CrashPoint)
	}
	if bot.CashoutMultiplier < 1.05 {
		t.Errorf("bot cashed at %.2f, below its 1.05 threshold", bot.CashoutMultiplier)
	}
	if want := roundCents(bot.BetAmount * bot.CashoutMultiplier); bot.WinAmount != want {
		t.Errorf("bot win = %v, want %v", bot.WinAmount, want)
	}

	// Bots never touch the ledgers.
	if bank, _ := led.GetBankBalance(context.Background(), string(ModeDemo)); bank != 1000 {
		t.Errorf("bot activity moved the demo bank to %v", bank)
	}
}

func TestManager_ConcurrentBetsSameUser(t *testing.T) {
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "heidi", string(ModeReal), 100)

	m.Start()
	defer m.Stop()
	waitForStatus(t, m, StatusCounting)

	const attempts = 10
	results := make(chan BetResponse, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.PlaceBet(BetRequest{UserID: "heidi", Amount: 1.0, Mode: ModeReal})
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for resp := range results {
		if resp.Success {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("%d concurrent bets accepted for one user, want exactly 1", accepted)
	}
}

func TestManager_SettlementFlows(t *testing.T) {
	m, led, _ := newTestManager(t, testConfig())
	led.SetBalance(context.Background(), "ivan", string(ModeReal), 10)

	m.Start()
	defer m.Stop()
	waitForStatus(t, m, StatusCounting)

	if resp := m.PlaceBet(BetRequest{UserID: "ivan", Amount: 3.0, Mode: ModeReal}); !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}

	// Let the round crash without cashing out: the stake is forfeit.
	waitForHistory(t, m, 1)

	if bank, _ := led.GetBankBalance(context.Background(), string(ModeReal)); bank != 1003 {
		t.Errorf("bank after losing round = %v, want 1003", bank)
	}
	if bal, _ := led.GetBalance(context.Background(), "ivan", string(ModeReal)); bal != 7 {
		t.Errorf("player balance = %v, want 7", bal)
	}
	if rtp := m.RTP().CurrentRTP(ModeReal); rtp != 0 {
		t.Errorf("RTP after pure-loss round = %v, want 0", rtp)
	}
}

func TestFlightMultiplier(t *testing.T) {
	if got := flightMultiplier(0, 0.1, 0.05); got != 1.0 {
		t.Errorf("multiplier at t=0 is %v, want 1.00", got)
	}

	prev := 0.0
	for ts := 0.0; ts < 30; ts += 0.1 {
		mult := flightMultiplier(ts, 0.1, 0.05)
		if mult < prev {
			t.Fatalf("flight curve decreased at t=%.1f: %.2f < %.2f", ts, mult, prev)
		}
		prev = mult
	}
}
