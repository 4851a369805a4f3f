package allocation

import (
	"math"

	"github.com/vaultpilot/allocator/internal/domain"
)

// scoredStrategy is the per-strategy working state of one tier computation.
type scoredStrategy struct {
	score  float64
	weak   bool
	apy    float64
	avgAPY float64
	old    float64
}

// score rates a strategy by its current yield, halving it when the yield has
// fallen more than LossThreshold below the historical average.
func (p Policy) score(s domain.Strategy) scoredStrategy {
	apy := s.APY()
	avg := s.AvgAPY()
	weak := apy < avg-p.LossThreshold

	score := apy
	if weak {
		score /= 2
	}
	return scoredStrategy{
		score:  math.Max(score, minScore),
		weak:   weak,
		apy:    apy,
		avgAPY: avg,
		old:    s.Allocation(),
	}
}

// reason explains the direction of a strategy's change.
func (s scoredStrategy) reason() string {
	switch {
	case s.weak:
		return ReasonWeak
	case s.apy > s.avgAPY:
		return ReasonStrong
	default:
		return ReasonNeutral
	}
}

// maxScoreIndex returns the first index holding the highest score.
func maxScoreIndex(scored []scoredStrategy) int {
	best := 0
	for i := 1; i < len(scored); i++ {
		if scored[i].score > scored[best].score {
			best = i
		}
	}
	return best
}
