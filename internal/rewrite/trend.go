// CLAUDE:SUMMARY Trend classification and loop-breaking — four-way outcome codes plus the S1-S4 stop rules
package rewrite

import (
	"github.com/hazyhaar/redline/internal/db"
)

const (
	TrendImproving          = "improving"
	TrendPartialImprovement = "partial_improvement"
	TrendStagnant           = "stagnant"
	TrendRegressing         = "regressing"
)

const (
	StopMaxCycles       = "max_cycles_reached"
	StopNoImprovement   = "no_improvement"
	StopDegradation     = "quality_degradation"
	StopOscillation     = "oscillation_detected"
	StopApprovedContent = "approved_content"
	StopCapExceeded     = "cap_exceeded"
	StopTimeout         = "timeout"
	StopRewriterError   = "rewriter_error"
)

// ClassifyTrend maps the child-vs-parent deltas to an outcome and code.
// aeoDelta is child minus parent AEO; aiDelta is parent minus child
// AI-likeness (lower AI-likeness is better, so positive is improvement).
// Rows are evaluated in table order; a regression on either axis wins
// over stagnation.
func ClassifyTrend(aeoDelta, aiDelta float64) (outcome string, code int) {
	switch {
	case aeoDelta >= 5 && aiDelta >= 5:
		return TrendImproving, 1
	case aeoDelta >= 5:
		return TrendPartialImprovement, 2
	case aeoDelta <= -5 || aiDelta <= -5:
		return TrendRegressing, 4
	default:
		return TrendStagnant, 3
	}
}

// maxChainCycles is the S1 bound on cycles along one rewrite chain.
const maxChainCycles = 3

// oscillationSpan is the S4 bound on the spread of the last three child
// AEO totals.
const oscillationSpan = 3.0

// CheckStopRules evaluates S1-S4 over the blog's recent cycles, newest
// first, before a next cycle may be produced. It returns the stop reason
// or empty when a next cycle is allowed.
func CheckStopRules(cycles []*db.RewriteCycle) string {
	if len(cycles) == 0 {
		return ""
	}

	// S4: the last three child AEO totals oscillate inside a narrow band.
	// Checked first so a tight oscillation is named as such rather than
	// falling through to the generic cycle cap.
	var totals []float64
	for _, c := range cycles {
		if c.ChildAEOTotal != nil {
			totals = append(totals, *c.ChildAEOTotal)
		}
		if len(totals) == 3 {
			break
		}
	}
	if len(totals) == 3 {
		lo, hi := totals[0], totals[0]
		for _, t := range totals[1:] {
			if t < lo {
				lo = t
			}
			if t > hi {
				hi = t
			}
		}
		if hi-lo < oscillationSpan {
			return StopOscillation
		}
	}

	// S3: most recent cycle regressed.
	if latest := cycles[0]; latest.TrendOutcome != nil && *latest.TrendOutcome == TrendRegressing {
		return StopDegradation
	}

	// S2: two consecutive stagnant cycles.
	if len(cycles) >= 2 {
		first, second := cycles[0], cycles[1]
		if first.TrendOutcome != nil && second.TrendOutcome != nil &&
			*first.TrendOutcome == TrendStagnant && *second.TrendOutcome == TrendStagnant {
			return StopNoImprovement
		}
	}

	// S1: three cycles along the chain.
	if len(cycles) >= maxChainCycles {
		return StopMaxCycles
	}

	return ""
}
