package scorer

import (
	"encoding/json"
	"testing"

	"github.com/hazyhaar/redline/internal/fault"
)

const structuredSample = `# Answer engine checklist

The short answer is that 42 percent of structured pages get cited, and the gap widened in 2024 when answer engines began preferring extractable content over prose, so structure is the single highest-leverage fix available today.

## What to change

- Lead with the answer
- Use one H1 and several H2 sections
- Keep sentences between 10 and 20 words
- Cite at least 2 sources
- Add 3 numeric facts
- Mention the year 2025 explicitly

## Sources

See https://example.com/research and https://example.org/study for the underlying data.`

func TestScoreAEOValidation(t *testing.T) {
	if _, err := ScoreAEO("  "); !fault.Is(err, fault.Validation) {
		t.Fatalf("empty content: err = %v, want validation", err)
	}
}

func TestScoreAEOPillars(t *testing.T) {
	result, err := ScoreAEO(structuredSample)
	if err != nil {
		t.Fatalf("scoring: %v", err)
	}

	if result.RubricVersion != "1.0.0" {
		t.Errorf("rubric_version = %q, want 1.0.0", result.RubricVersion)
	}
	if len(result.Pillars) != 7 {
		t.Fatalf("pillars = %d, want 7", len(result.Pillars))
	}

	var maxSum, scoreSum float64
	for _, p := range result.Pillars {
		maxSum += p.MaxScore
		scoreSum += p.Score
		if p.Score < 0 || p.Score > p.MaxScore {
			t.Errorf("pillar %s score = %v, outside [0, %v]", p.Key, p.Score, p.MaxScore)
		}
		if len(p.Reasons) == 0 {
			t.Errorf("pillar %s has no reasons", p.Key)
		}
	}
	if maxSum != 100 {
		t.Errorf("pillar max sum = %v, want 100", maxSum)
	}
	if scoreSum != result.TotalScore {
		t.Errorf("total = %v, pillar sum = %v", result.TotalScore, scoreSum)
	}
	if result.TotalScore > 100 {
		t.Errorf("total = %v, exceeds 100", result.TotalScore)
	}

	t.Run("AnswerabilityFull", func(t *testing.T) {
		p := result.Pillar("aeo_answerability")
		if p == nil || p.Score != 25 {
			t.Errorf("answerability = %+v, want score 25 (lead answer + H1)", p)
		}
	})

	t.Run("StructureFull", func(t *testing.T) {
		p := result.Pillar("aeo_structure")
		if p == nil || p.Score != 20 {
			t.Errorf("structure = %+v, want score 20 (hierarchy + 6 list items)", p)
		}
	})

	t.Run("SpecificityFull", func(t *testing.T) {
		p := result.Pillar("aeo_specificity")
		if p == nil || p.Score != 20 {
			t.Errorf("specificity = %+v, want score 20 (numerics + years)", p)
		}
	})

	t.Run("TrustFull", func(t *testing.T) {
		p := result.Pillar("aeo_trust")
		if p == nil || p.Score != 15 {
			t.Errorf("trust = %+v, want score 15 (2 links, no fluff)", p)
		}
	})

	t.Run("FreshnessFull", func(t *testing.T) {
		p := result.Pillar("aeo_freshness")
		if p == nil || p.Score != 5 {
			t.Errorf("freshness = %+v, want score 5 (years cited)", p)
		}
	})
}

func TestScoreAEODeterminism(t *testing.T) {
	first, err := ScoreAEO(structuredSample)
	if err != nil {
		t.Fatalf("scoring: %v", err)
	}
	second, err := ScoreAEO(structuredSample)
	if err != nil {
		t.Fatalf("scoring again: %v", err)
	}

	if first.TotalScore != second.TotalScore {
		t.Errorf("total = %v then %v, want identical", first.TotalScore, second.TotalScore)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("full result differs between identical inputs")
	}
}

func TestScoreAEOFluffPenalty(t *testing.T) {
	fluffy := structuredSample + "\n\nIn today's world, needless to say, this is a game changer."
	result, err := ScoreAEO(fluffy)
	if err != nil {
		t.Fatalf("scoring: %v", err)
	}
	p := result.Pillar("aeo_trust")
	if p == nil || p.Score != 10 {
		t.Errorf("trust with fluff = %+v, want 10 (citation points only)", p)
	}
	if result.Signals.FluffPhraseHits < 3 {
		t.Errorf("fluff hits = %d, want >= 3", result.Signals.FluffPhraseHits)
	}
}

func TestExtractAEOSignals(t *testing.T) {
	signals := ExtractAEOSignals(structuredSample)

	if signals.H1Count != 1 {
		t.Errorf("h1_count = %d, want 1", signals.H1Count)
	}
	if signals.H2Count != 2 {
		t.Errorf("h2_count = %d, want 2", signals.H2Count)
	}
	if !signals.HasProperHierarchy {
		t.Error("hierarchy not detected")
	}
	if signals.ListItemCount != 6 {
		t.Errorf("list_item_count = %d, want 6", signals.ListItemCount)
	}
	if signals.LinkCount != 2 {
		t.Errorf("link_count = %d, want 2", signals.LinkCount)
	}

	// Years deduplicate and sort.
	want := []string{"2024", "2025"}
	if len(signals.YearsCited) != len(want) {
		t.Fatalf("years = %v, want %v", signals.YearsCited, want)
	}
	for i, y := range want {
		if signals.YearsCited[i] != y {
			t.Errorf("years[%d] = %q, want %q", i, signals.YearsCited[i], y)
		}
	}

	t.Run("EmptyContent", func(t *testing.T) {
		empty := ExtractAEOSignals("")
		if empty.WordCount != 0 || empty.H1Count != 0 {
			t.Errorf("empty signals = %+v, want zeroed", empty)
		}
	})
}
