// Package stats implements the per-run Elo tracker, sharpness-weighted
// quality aggregation, and the SPRT-style early-stop test.
package stats

import (
	"math"
	"sync"
	"sync/atomic"
)

const (
	eloK        = 32
	eloDivisor  = 400
	startingElo = 1000

	criticalThreshold = 0.05
	successRegretMax  = 0.02
	severeRegretMin   = 0.20
)

// PlayerStats accumulates the per-player metric sums used to derive DQI,
// CMA and blunder rate.
type PlayerStats struct {
	SumWeightedSqErr float64
	SumWeights       float64
	CriticalTotal    int64
	CriticalSuccess  int64
	SevereErrors     int64
	MovesAnalyzed    int64
	Crashes          atomic.Int64
}

// DQI returns the sharpness-weighted decision quality index, 0 if no
// weighted moves have been recorded.
func (p *PlayerStats) DQI() float64 {
	if p.SumWeights <= 0 {
		return 0
	}
	return 100 * (1 - math.Sqrt(p.SumWeightedSqErr/p.SumWeights))
}

// CMA returns the critical-move-accuracy percentage, 0 if no critical
// positions occurred.
func (p *PlayerStats) CMA() float64 {
	if p.CriticalTotal <= 0 {
		return 0
	}
	return 100 * float64(p.CriticalSuccess) / float64(p.CriticalTotal)
}

// Blunder returns the severe-error percentage, 0 if no moves were analyzed.
func (p *PlayerStats) Blunder() float64 {
	if p.MovesAnalyzed <= 0 {
		return 0
	}
	return 100 * float64(p.SevereErrors) / float64(p.MovesAnalyzed)
}

// Tracker holds the shared, mutex-serialized Elo and quality state for one
// run. Games and crash counters are atomic; Elo and the weighted sums are
// guarded by mu.
type Tracker struct {
	mu           sync.Mutex
	p1Elo, p2Elo int
	games        atomic.Int64
	P1, P2       PlayerStats
}

// NewTracker returns a tracker with both players starting at 1000 Elo.
func NewTracker() *Tracker {
	return &Tracker{p1Elo: startingElo, p2Elo: startingElo}
}

// Elo returns the current rating pair.
func (t *Tracker) Elo() (p1, p2 int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p1Elo, t.p2Elo
}

// Games returns the number of completed legs counted into the Elo ladder.
func (t *Tracker) Games() int64 { return t.games.Load() }

// UpdateElo applies one leg's outcome (score from P1's perspective, in
// {0, 0.5, 1}) to both ratings, preserving p1+p2 (Elo conservation).
func (t *Tracker) UpdateElo(score float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expected := 1 / (1 + math.Pow(10, float64(t.p2Elo-t.p1Elo)/eloDivisor))
	delta := int(math.Round(eloK * (score - expected)))
	t.p1Elo += delta
	t.p2Elo -= delta
	t.games.Add(1)
}

// AddMetrics records one evaluated move for the given player (1 or 2).
func (t *Tracker) AddMetrics(player int, regret, sharpness float64) {
	ps := t.statsFor(player)

	weight := 1 + 10*sharpness*sharpness
	critical := sharpness > criticalThreshold
	criticalSuccess := critical && regret < successRegretMax
	severe := regret > severeRegretMin

	t.mu.Lock()
	defer t.mu.Unlock()

	ps.SumWeightedSqErr += weight * regret * regret
	ps.SumWeights += weight
	ps.MovesAnalyzed++
	if critical {
		ps.CriticalTotal++
		if criticalSuccess {
			ps.CriticalSuccess++
		}
	}
	if severe {
		ps.SevereErrors++
	}
}

// IncrCrash increments the given player's crash counter (lock-free, per the
// spec's "crashes (atomic)").
func (t *Tracker) IncrCrash(player int) {
	t.statsFor(player).Crashes.Add(1)
}

func (t *Tracker) statsFor(player int) *PlayerStats {
	if player == 1 {
		return &t.P1
	}
	return &t.P2
}

// Regret returns max(0, pBest-pPlayed); Sharpness returns max(0, pBest-pSecond).
func Regret(pBest, pPlayed float64) float64 {
	return math.Max(0, pBest-pPlayed)
}

func Sharpness(pBest, pSecond float64) float64 {
	return math.Max(0, pBest-pSecond)
}

// IsGarbageTime reports whether a position is so decided that move quality
// should not be counted.
func IsGarbageTime(pBest float64) bool {
	return pBest < 0.05
}

// sprtEpsilon absorbs floating point slack in the "impossible to recover"
// boundary test.
const sprtEpsilon = 1e-9

// ShouldStop evaluates the one-sided z-test early-stopping rule over pair
// counts. risk<=0 or pairsDone<minPairs means the test never fires.
func ShouldStop(pairsDone, minPairs, maxPairs int, wins, losses, draws int, risk float64) bool {
	if risk <= 0 || pairsDone < minPairs {
		return false
	}

	n := float64(maxPairs)
	mu := n / 2
	sigma := math.Sqrt(n) / 2
	s1 := float64(wins) + 0.5*float64(draws)
	s2 := float64(losses) + 0.5*float64(draws)
	rem := n - float64(pairsDone)

	z := func(s float64) float64 {
		return 0.5 * math.Erfc((s-mu)/sigma/math.Sqrt2)
	}

	if s1 > mu && z(s1) < risk {
		return true
	}
	if s2 > mu && z(s2) < risk {
		return true
	}
	if s1+rem < mu+sprtEpsilon && z(s1+rem) > risk {
		return true
	}
	return false
}
