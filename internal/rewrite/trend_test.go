package rewrite

import (
	"strings"
	"testing"

	"github.com/hazyhaar/redline/internal/db"
)

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		name     string
		aeoDelta float64
		aiDelta  float64
		outcome  string
		code     int
	}{
		{"BothImprove", 7, 6, TrendImproving, 1},
		{"ExactThresholds", 5, 5, TrendImproving, 1},
		{"AEOOnly", 7, 2, TrendPartialImprovement, 2},
		{"AEOUpAIFlat", 5, 0, TrendPartialImprovement, 2},
		{"Flat", 0, 0, TrendStagnant, 3},
		{"SmallWobble", 4.9, 4.9, TrendStagnant, 3},
		{"SmallNegative", -4.9, 0, TrendStagnant, 3},
		{"AEODrops", -5, 0, TrendRegressing, 4},
		{"AIDegrades", 0, -5, TrendRegressing, 4},
		{"BothCollapse", -10, -10, TrendRegressing, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, code := ClassifyTrend(tc.aeoDelta, tc.aiDelta)
			if outcome != tc.outcome || code != tc.code {
				t.Errorf("ClassifyTrend(%v, %v) = (%s, %d), want (%s, %d)",
					tc.aeoDelta, tc.aiDelta, outcome, code, tc.outcome, tc.code)
			}
		})
	}
}

func cycleWith(trend string, childAEO float64) *db.RewriteCycle {
	return &db.RewriteCycle{
		TrendOutcome:  &trend,
		ChildAEOTotal: &childAEO,
		RewriteStatus: "completed",
	}
}

func TestCheckStopRules(t *testing.T) {
	t.Run("EmptyChainContinues", func(t *testing.T) {
		if reason := CheckStopRules(nil); reason != "" {
			t.Errorf("reason = %q, want none", reason)
		}
	})

	t.Run("SingleImprovingContinues", func(t *testing.T) {
		cycles := []*db.RewriteCycle{cycleWith(TrendImproving, 72)}
		if reason := CheckStopRules(cycles); reason != "" {
			t.Errorf("reason = %q, want none", reason)
		}
	})

	t.Run("RegressionStops", func(t *testing.T) {
		cycles := []*db.RewriteCycle{cycleWith(TrendRegressing, 60)}
		if reason := CheckStopRules(cycles); reason != StopDegradation {
			t.Errorf("reason = %q, want %s", reason, StopDegradation)
		}
	})

	t.Run("TwoStagnantStop", func(t *testing.T) {
		cycles := []*db.RewriteCycle{
			cycleWith(TrendStagnant, 70),
			cycleWith(TrendStagnant, 69),
		}
		if reason := CheckStopRules(cycles); reason != StopNoImprovement {
			t.Errorf("reason = %q, want %s", reason, StopNoImprovement)
		}
	})

	t.Run("OscillationStops", func(t *testing.T) {
		// Child AEO totals 70.8, 72.5, 71.0 span 1.7 < 3.0.
		cycles := []*db.RewriteCycle{
			cycleWith(TrendPartialImprovement, 70.8),
			cycleWith(TrendStagnant, 72.5),
			cycleWith(TrendPartialImprovement, 71.0),
		}
		if reason := CheckStopRules(cycles); reason != StopOscillation {
			t.Errorf("reason = %q, want %s", reason, StopOscillation)
		}
	})

	t.Run("ThreeCyclesStop", func(t *testing.T) {
		cycles := []*db.RewriteCycle{
			cycleWith(TrendImproving, 90),
			cycleWith(TrendImproving, 75),
			cycleWith(TrendImproving, 60),
		}
		if reason := CheckStopRules(cycles); reason != StopMaxCycles {
			t.Errorf("reason = %q, want %s", reason, StopMaxCycles)
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	triggers := []Trigger{
		{ID: "T1", Type: TriggerAEOTotalLow, Metric: "aeo_total", Value: 65, Bound: 70},
		{ID: "T2", Type: TriggerAEOPillarCritical, Metric: "aeo_answerability", Value: 12, Bound: 15},
	}

	prompt := BuildPrompt("The original body.", triggers)

	for _, want := range []string{
		"ORIGINAL CONTENT:\nThe original body.",
		"REQUIRED FIXES:",
		"first 120 words",
		"STRICT PROHIBITIONS:",
		"OUTPUT REQUIREMENTS:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	t.Run("Deterministic", func(t *testing.T) {
		if BuildPrompt("The original body.", triggers) != prompt {
			t.Error("prompt not deterministic for identical inputs")
		}
	})

	t.Run("DuplicateTriggerIDsCollapse", func(t *testing.T) {
		doubled := append(triggers, triggers...)
		if BuildPrompt("The original body.", doubled) != prompt {
			t.Error("duplicate trigger ids changed the prompt")
		}
	})
}
