package game

import (
	crand "crypto/rand"
	"log"
	"math"
	"math/big"
	"sync"
)

// Bank-health tiers. Below the low-water mark the round almost always
// busts immediately; between the marks payouts stay conservative; above
// the high-water mark the RTP feedback loop takes over.
const (
	bankLowWater  = 50.0
	bankHighWater = 200.0

	// Stakes at or above this total get tighter, lower-variance
	// distributions in every branch.
	largeStake = 0.7

	// Streak thresholds for smoothing-state updates.
	highStreakMark = 4.0
	lowStreakMark  = 1.5
)

// SmoothingState is the generator's feedback memory: streak counters plus
// an evolving LCG seed. Owned exclusively by the Generator, never exposed
// to clients.
type SmoothingState struct {
	HighStreak int
	LowStreak  int
	Seed       int64
}

// lcgNext advances the seed one linear-congruential step.
func (s *SmoothingState) lcgNext() float64 {
	s.Seed = (s.Seed*9301 + 49297) % 233280
	return float64(s.Seed) / 233280.0
}

// Generator selects the hidden multiplier at which each round ends,
// steering the long-run payout ratio toward TargetRTP while damping
// detectable streak patterns. Safe for concurrent use, though in practice
// only the round loop calls it.
type Generator struct {
	mu        sync.Mutex
	smoothing SmoothingState

	// randFn sources branch-selection randomness. The default blends the
	// LCG stream with a crypto draw so outcomes are smoothed but not
	// reproducible from the seed alone. Tests may replace it.
	randFn func() float64
}

func NewGenerator() *Generator {
	g := &Generator{
		smoothing: SmoothingState{Seed: cryptoInt64(233280)},
	}
	g.randFn = g.blendedRand
	return g
}

func (g *Generator) blendedRand() float64 {
	lcg := g.smoothing.lcgNext()
	r := math.Mod(lcg+cryptoFloat64(), 1.0)
	return r
}

func cryptoFloat64() float64 {
	return float64(cryptoInt64(1<<53)) / float64(int64(1)<<53)
}

func cryptoInt64(max int64) int64 {
	n, err := crand.Int(crand.Reader, big.NewInt(max))
	if err != nil {
		// crypto/rand failing is a platform fault; fall back to zero and
		// let the LCG stream carry the entropy.
		log.Printf("[GAME] crypto rand failed: %v", err)
		return 0
	}
	return n.Int64()
}

// Generate picks the crash point for the next round. Stake totals are the
// effective pool (admin bets already excluded by the caller), RTP values
// are ratios in [0,1+). The result is always >= 1.00.
func (g *Generator) Generate(effectiveRealStake, effectiveDemoStake, realBank, demoBank, rtpReal, rtpDemo float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var crash float64
	switch {
	case effectiveRealStake > 0:
		crash = g.tierByBank(realBank, effectiveRealStake, rtpReal)
	case effectiveDemoStake > 0:
		crash = g.tierByBank(demoBank, effectiveDemoStake, rtpDemo)
	default:
		// House-idle round: nobody is staked, draw flat so observers
		// still see a lively history.
		crash = 1.5 + g.randFn()*15.0
	}

	if crash < 1.00 {
		crash = 1.00
	}
	crash = math.Floor(crash*100) / 100

	g.updateSmoothing(crash)
	return crash
}

// tierByBank gates the distribution on bank health before any RTP logic
// runs. A starved bank ends rounds almost immediately regardless of the
// payout target.
func (g *Generator) tierByBank(bank, stake, rtp float64) float64 {
	switch {
	case bank < bankLowWater:
		if g.randFn() < 0.90 {
			return g.uniform(1.00, 1.10)
		}
		return g.uniform(1.10, 1.40)
	case bank < bankHighWater:
		if g.randFn() < 0.80 {
			return g.uniform(1.00, 1.15)
		}
		return g.uniform(1.00, 1.40)
	default:
		return g.branchByRTP(rtp, stake)
	}
}

// branchByRTP compares today's payout ratio against a jittered target and
// routes to a winning, balanced or losing distribution.
func (g *Generator) branchByRTP(rtp, stake float64) float64 {
	rtpPct := rtp * 100
	adjustedTarget := TargetRTP*100 + g.uniform(-5, 5)

	var bands []band
	switch {
	case rtpPct < adjustedTarget-8:
		bands = winningBands(stake >= largeStake)
	case math.Abs(rtpPct-adjustedTarget) <= 3:
		bands = balancedBands(stake >= largeStake)
	default:
		bands = losingBands(stake >= largeStake)
	}

	bands = applyStreakBias(bands, g.smoothing.HighStreak, g.smoothing.LowStreak)
	return g.sample(bands)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.randFn()*(hi-lo)
}

// band is one slice of a branch distribution: probability mass p assigned
// to the uniform range [lo, hi).
type band struct {
	p      float64
	lo, hi float64
}

// Winning branch: biased toward higher crash points to push RTP up.
// Large stakes get the tighter table.
func winningBands(large bool) []band {
	if large {
		return []band{
			{0.45, 1.40, 2.20},
			{0.40, 2.20, 4.00},
			{0.15, 4.00, 8.00},
		}
	}
	return []band{
		{0.30, 1.50, 2.50},
		{0.40, 2.50, 5.00},
		{0.30, 5.00, 12.00},
	}
}

// Balanced branch: roughly neutral around the target.
func balancedBands(large bool) []band {
	if large {
		return []band{
			{0.50, 1.00, 1.40},
			{0.35, 1.40, 2.40},
			{0.12, 2.40, 4.00},
			{0.03, 4.00, 7.00},
		}
	}
	return []band{
		{0.40, 1.00, 1.50},
		{0.35, 1.50, 2.80},
		{0.20, 2.80, 5.00},
		{0.05, 5.00, 10.00},
	}
}

// Losing branch: mass concentrated near 1.0x to pull RTP down.
func losingBands(large bool) []band {
	if large {
		return []band{
			{0.80, 1.00, 1.15},
			{0.15, 1.15, 1.50},
			{0.05, 1.50, 2.50},
		}
	}
	return []band{
		{0.70, 1.00, 1.25},
		{0.20, 1.25, 1.80},
		{0.10, 1.80, 3.00},
	}
}

// applyStreakBias shifts probability mass against the running streak:
// consecutive low rounds move mass from the lowest band to the highest
// (a rebound becomes likelier), consecutive high rounds do the opposite.
// At most half of the source band's mass moves.
func applyStreakBias(bands []band, highStreak, lowStreak int) []band {
	if len(bands) < 2 || (highStreak == 0 && lowStreak == 0) {
		return bands
	}
	out := make([]band, len(bands))
	copy(out, bands)

	first, last := 0, len(out)-1
	if lowStreak > 0 {
		shift := math.Min(0.08*float64(lowStreak), out[first].p/2)
		out[first].p -= shift
		out[last].p += shift
	}
	if highStreak > 0 {
		shift := math.Min(0.08*float64(highStreak), out[last].p/2)
		out[last].p -= shift
		out[first].p += shift
	}
	return out
}

// sample draws a band by cumulative probability, then a uniform value
// inside it. Masses may not sum to exactly 1 after biasing; the final
// band absorbs the remainder.
func (g *Generator) sample(bands []band) float64 {
	r := g.randFn()
	var total float64
	for _, b := range bands {
		total += b.p
	}
	r *= total

	var cum float64
	for _, b := range bands {
		cum += b.p
		if r < cum {
			return g.uniform(b.lo, b.hi)
		}
	}
	last := bands[len(bands)-1]
	return g.uniform(last.lo, last.hi)
}

func (g *Generator) updateSmoothing(crash float64) {
	switch {
	case crash >= highStreakMark:
		g.smoothing.HighStreak++
		g.smoothing.LowStreak = 0
	case crash <= lowStreakMark:
		g.smoothing.LowStreak++
		g.smoothing.HighStreak = 0
	default:
		g.smoothing.HighStreak = 0
		g.smoothing.LowStreak = 0
	}
}

// Streaks reports the current smoothing counters. Diagnostic surface for
// the health endpoint and tests.
func (g *Generator) Streaks() (high, low int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.smoothing.HighStreak, g.smoothing.LowStreak
}
