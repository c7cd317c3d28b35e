package game

import (
	"fmt"
	"math/rand"
)

// BotProfile describes one synthetic player's risk appetite. Bots keep
// the table visually populated and exercise the auto-cashout path; their
// stakes are cosmetic and never touch any ledger or the effective stake
// pool.
type BotProfile struct {
	Name       string
	MinBet     float64
	MaxBet     float64
	MinCashout float64
	MaxCashout float64
}

// DefaultBotRoster is the fixed roster materialized into every round.
var DefaultBotRoster = []BotProfile{
	{Name: "SlowHand", MinBet: 0.5, MaxBet: 2.0, MinCashout: 1.15, MaxCashout: 1.60},
	{Name: "Cruiser", MinBet: 1.0, MaxBet: 5.0, MinCashout: 1.50, MaxCashout: 2.50},
	{Name: "Cruiser2", MinBet: 0.8, MaxBet: 4.0, MinCashout: 1.40, MaxCashout: 2.20},
	{Name: "MoonShot", MinBet: 0.3, MaxBet: 1.5, MinCashout: 2.50, MaxCashout: 8.00},
}

// materializeBots draws one bet and one auto-cashout threshold per profile
// for a fresh round.
func materializeBots(roster []BotProfile, rng *rand.Rand) []*RoundPlayer {
	players := make([]*RoundPlayer, 0, len(roster))
	for i, p := range roster {
		players = append(players, &RoundPlayer{
			UserID:        fmt.Sprintf("bot-%d", i),
			DisplayName:   p.Name,
			IsBot:         true,
			BetAmount:     roundCents(p.MinBet + rng.Float64()*(p.MaxBet-p.MinBet)),
			Mode:          ModeDemo,
			autoCashoutAt: roundCents(p.MinCashout + rng.Float64()*(p.MaxCashout-p.MinCashout)),
		})
	}
	return players
}

func roundCents(v float64) float64 {
	return float64(int(v*100)) / 100
}
