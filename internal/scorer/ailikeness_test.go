package scorer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hazyhaar/redline/internal/fault"
)

const humanSample = `I wasn't sure this would work, honestly. We tried the migration on a Tuesday because traffic dips then, and it broke twice before lunch.

The second failure was my fault... I'd fat-fingered a config path. Rolling back took nine minutes, which felt like an hour.

What finally fixed it? A colleague noticed the connection pool was starving. One line changed, and everything settled down. We shipped by Friday.`

func aiSample() string {
	// Dense with rubric signals: AI phrases, hedging, disclaimers,
	// uniform structure.
	return `In this article we delve into the robust ecosystem of content tooling. It's important to note that we leverage a comprehensive platform. Generally speaking the landscape of options is typically vast. Please note that results may be varied. Keep in mind that you should usually consult a professional. Firstly the system is holistic. Secondly the approach is state of the art. Moreover the paradigm shift is a game changer. Furthermore we utilize and optimize and streamline everything. Finally in conclusion the tapestry of features is a plethora of value.`
}

func TestScoreAILikenessValidation(t *testing.T) {
	t.Run("EmptyText", func(t *testing.T) {
		_, err := ScoreAILikeness("   ")
		if !fault.Is(err, fault.Validation) {
			t.Fatalf("err = %v, want validation", err)
		}
	})

	t.Run("FourTokens", func(t *testing.T) {
		_, err := ScoreAILikeness("one two three four")
		if !fault.Is(err, fault.Validation) {
			t.Fatalf("err = %v, want validation", err)
		}
	})

	t.Run("FiveTokens", func(t *testing.T) {
		result, err := ScoreAILikeness("one two three four five")
		if err != nil {
			t.Fatalf("five tokens should score: %v", err)
		}
		if result.RawResponse.Metadata.WordCount != 5 {
			t.Errorf("word_count = %d, want 5", result.RawResponse.Metadata.WordCount)
		}
	})
}

func TestScoreAILikenessDeterminism(t *testing.T) {
	first, err := ScoreAILikeness(aiSample())
	if err != nil {
		t.Fatalf("scoring: %v", err)
	}
	second, err := ScoreAILikeness(aiSample())
	if err != nil {
		t.Fatalf("scoring again: %v", err)
	}

	if first.Score != second.Score {
		t.Errorf("score = %v then %v, want identical", first.Score, second.Score)
	}

	// Componentwise equality modulo timestamp.
	a, _ := json.Marshal(first.RawResponse)
	b, _ := json.Marshal(second.RawResponse)
	if string(a) != string(b) {
		t.Errorf("raw_response differs between identical inputs:\n%s\n%s", a, b)
	}
}

func TestScoreAILikenessEnvelope(t *testing.T) {
	result, err := ScoreAILikeness(aiSample())
	if err != nil {
		t.Fatalf("scoring: %v", err)
	}

	if result.ModelVersion != "rubric_v1.0.0" {
		t.Errorf("model_version = %q, want rubric_v1.0.0", result.ModelVersion)
	}
	if result.RawResponse.RubricVersion != "1.0.0" {
		t.Errorf("rubric_version = %q, want 1.0.0", result.RawResponse.RubricVersion)
	}
	if result.Timestamp == "" {
		t.Error("timestamp missing")
	}

	sub := result.RawResponse.Subscores
	sum := sub.PredictabilityEntropy.Score + sub.SentenceUniformity.Score +
		sub.GenericLanguage.Score + sub.StructuralTemplates.Score +
		sub.LackOfFriction.Score + sub.OverPolish.Score
	if sum != result.RawResponse.TotalScore {
		t.Errorf("total_score = %v, subscore sum = %v", result.RawResponse.TotalScore, sum)
	}
	if result.Score > 100 {
		t.Errorf("score = %v, exceeds 100", result.Score)
	}

	caps := []struct {
		name string
		cs   CategoryScore
		max  float64
	}{
		{"predictability_entropy", sub.PredictabilityEntropy, 25},
		{"sentence_uniformity", sub.SentenceUniformity, 20},
		{"generic_language", sub.GenericLanguage, 20},
		{"structural_templates", sub.StructuralTemplates, 15},
		{"lack_of_friction", sub.LackOfFriction, 10},
		{"over_polish", sub.OverPolish, 10},
	}
	for _, c := range caps {
		if c.cs.MaxScore != c.max {
			t.Errorf("%s max_score = %v, want %v", c.name, c.cs.MaxScore, c.max)
		}
		if c.cs.Score < 0 || c.cs.Score > c.max {
			t.Errorf("%s score = %v, outside [0, %v]", c.name, c.cs.Score, c.max)
		}
	}
}

func TestScoreAILikenessSignals(t *testing.T) {
	result, err := ScoreAILikeness(aiSample())
	if err != nil {
		t.Fatalf("scoring: %v", err)
	}
	sub := result.RawResponse.Subscores

	t.Run("AIPhrasesDetected", func(t *testing.T) {
		// The sample carries well over five listed phrases, so the phrase
		// component alone is 15.
		if sub.GenericLanguage.Score < 15 {
			t.Errorf("generic_language score = %v, want >= 15", sub.GenericLanguage.Score)
		}
		if len(sub.GenericLanguage.Evidence) == 0 {
			t.Error("generic_language evidence is empty")
		}
	})

	t.Run("FormulaicOpening", func(t *testing.T) {
		if sub.StructuralTemplates.Score < 8 {
			t.Errorf("structural_templates score = %v, want >= 8 for 'In this article' opening", sub.StructuralTemplates.Score)
		}
	})

	t.Run("HedgingDetected", func(t *testing.T) {
		// "generally speaking", "typically", "usually", "may be",
		// "consult a professional" all appear.
		if sub.OverPolish.Score < 7 {
			t.Errorf("over_polish score = %v, want >= 7", sub.OverPolish.Score)
		}
	})

	t.Run("HumanTextScoresLower", func(t *testing.T) {
		human, err := ScoreAILikeness(humanSample)
		if err != nil {
			t.Fatalf("scoring human sample: %v", err)
		}
		if human.Score >= result.Score {
			t.Errorf("human score %v >= ai score %v", human.Score, result.Score)
		}
	})
}

func TestScoreAILikenessEvidenceStable(t *testing.T) {
	first, _ := ScoreAILikeness(aiSample())
	second, _ := ScoreAILikeness(aiSample())

	a := first.RawResponse.Subscores.GenericLanguage.Evidence
	b := second.RawResponse.Subscores.GenericLanguage.Evidence
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Errorf("evidence order not stable:\n%v\n%v", a, b)
	}
}
