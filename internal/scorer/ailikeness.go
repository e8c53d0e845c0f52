// CLAUDE:SUMMARY AI-likeness rubric v1.0.0 — six deterministic heuristic categories with evidence, hard total cap at 100
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// AIRubricVersion freezes the thresholds below. Any change to a constant
// in this file requires a bumped version string.
const AIRubricVersion = "1.0.0"

// aiPhrases are common AI-generated phrases, matched case-insensitively.
var aiPhrases = []string{
	"it's important to note",
	"it's worth noting",
	"it's crucial to",
	"it's essential to",
	"in today's world",
	"in today's digital age",
	"in conclusion",
	"to summarize",
	"in summary",
	"as an ai",
	"i don't have personal",
	"i cannot provide",
	"delve into",
	"dive into",
	"navigate the",
	"landscape of",
	"realm of",
	"tapestry of",
	"myriad of",
	"plethora of",
	"it's no secret that",
	"the fact of the matter",
	"at the end of the day",
	"game changer",
	"paradigm shift",
	"cutting edge",
	"state of the art",
	"leverage",
	"utilize",
	"facilitate",
	"optimize",
	"streamline",
	"robust",
	"comprehensive",
	"holistic",
	"synergy",
	"ecosystem",
}

// templateOpenings are formulaic first-sentence patterns.
var templateOpenings = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^In this (article|post|guide|blog)`),
	regexp.MustCompile(`(?i)^(Welcome to|Introduction to)`),
	regexp.MustCompile(`(?i)^(Have you ever|Are you|Do you)`),
	regexp.MustCompile(`(?i)^(Imagine|Picture this|Consider)`),
	regexp.MustCompile(`(?i)^(Let's|Let us) (explore|discuss|examine|dive into)`),
}

// safetyPhrases are hedging markers.
var safetyPhrases = []string{
	"generally speaking",
	"in most cases",
	"typically",
	"usually",
	"often",
	"may be",
	"might be",
	"could be",
	"it depends",
	"varies depending",
	"consult a professional",
	"seek expert advice",
}

// Transition adverbs (firstly, secondly, ...) are counted in both the
// generic-language category (adverb overuse) and the structural-templates
// category (transitions). The dual counting is intentional: they signal
// both generic language and templated structure.
var transitionPhrases = []string{
	"firstly", "secondly", "thirdly", "finally", "moreover",
	"furthermore", "additionally", "in addition", "however", "nevertheless",
}

var disclaimerPhrases = []string{
	"please note", "keep in mind", "be aware", "remember that",
	"it is important", "you should know",
}

var informalMarkers = []string{"lol", "haha", "omg", "btw", "tbh", "...", "!!", "??"}

var (
	wordRe         = regexp.MustCompile(`\b\w+\b`)
	sentenceSplit  = regexp.MustCompile(`[.!?]+`)
	adverbRe       = regexp.MustCompile(`\b\w+ly\b`)
	contractionRe  = regexp.MustCompile(`\b\w+'\w+\b`)
	numberedItemRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
)

// CategoryScore is one rubric category with evidence excerpts.
type CategoryScore struct {
	Score       float64  `json:"score"`
	MaxScore    float64  `json:"max_score"`
	Percentage  float64  `json:"percentage"`
	Explanation string   `json:"explanation"`
	Evidence    []string `json:"evidence"`
}

// AISubscores carries the six categories in rubric order.
type AISubscores struct {
	PredictabilityEntropy CategoryScore `json:"predictability_entropy"`
	SentenceUniformity    CategoryScore `json:"sentence_uniformity"`
	GenericLanguage       CategoryScore `json:"generic_language"`
	StructuralTemplates   CategoryScore `json:"structural_templates"`
	LackOfFriction        CategoryScore `json:"lack_of_friction"`
	OverPolish            CategoryScore `json:"over_polish"`
}

// AIRawResponse is the full rubric output under the versioned envelope.
type AIRawResponse struct {
	RubricVersion string      `json:"rubric_version"`
	TotalScore    float64     `json:"total_score"`
	Subscores     AISubscores `json:"subscores"`
	Metadata      AIMetadata  `json:"metadata"`
}

type AIMetadata struct {
	TextLength int `json:"text_length"`
	WordCount  int `json:"word_count"`
}

// AIResult is the database-compatible scoring result. Only Timestamp
// varies between calls on the same input.
type AIResult struct {
	ModelVersion string        `json:"model_version"`
	Timestamp    string        `json:"timestamp"`
	Score        float64       `json:"score"`
	RawResponse  AIRawResponse `json:"raw_response"`
}

// ScoreAILikeness scores text for AI-likeness on rubric v1.0.0.
// Higher is more AI-like. Fails with validation on empty text or fewer
// than 5 tokens, and with internal if the category sum ever exceeds 100
// (a scoring-logic bug; never clamped).
func ScoreAILikeness(text string) (*AIResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fault.New(fault.Validation, "text cannot be empty")
	}

	words := wordRe.FindAllString(text, -1)
	if len(words) < 5 {
		return nil, fault.New(fault.Validation, "text too short (minimum 5 words required)")
	}

	predictability := scorePredictabilityEntropy(words)
	uniformity := scoreSentenceUniformity(text)
	generic := scoreGenericLanguage(text)
	templates := scoreStructuralTemplates(text)
	friction := scoreLackOfFriction(text, words)
	polish := scoreOverPolish(text)

	total := predictability.Score + uniformity.Score + generic.Score +
		templates.Score + friction.Score + polish.Score

	if total > 100.0 {
		return nil, fault.New(fault.Internal,
			"rubric scoring error: total_score=%.2f exceeds maximum of 100.0", total)
	}

	return &AIResult{
		ModelVersion: "rubric_v" + AIRubricVersion,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Score:        total,
		RawResponse: AIRawResponse{
			RubricVersion: AIRubricVersion,
			TotalScore:    total,
			Subscores: AISubscores{
				PredictabilityEntropy: predictability,
				SentenceUniformity:    uniformity,
				GenericLanguage:       generic,
				StructuralTemplates:   templates,
				LackOfFriction:        friction,
				OverPolish:            polish,
			},
			Metadata: AIMetadata{
				TextLength: len(text),
				WordCount:  len(words),
			},
		},
	}, nil
}

// Category 1: predictability & entropy (0-25).
func scorePredictabilityEntropy(words []string) CategoryScore {
	if len(words) < 10 {
		return CategoryScore{
			MaxScore:    25,
			Explanation: "Text too short to analyze entropy (< 10 words)",
			Evidence:    []string{},
		}
	}

	var signals, evidence []string
	score := 0.0

	// Lexical diversity (10 points)
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
	}
	diversity := float64(len(unique)) / float64(len(words))
	switch {
	case diversity < 0.4:
		score += 10
		signals = append(signals, fmt.Sprintf("Very low lexical diversity (%.2f)", diversity))
	case diversity < 0.5:
		score += 7
		signals = append(signals, fmt.Sprintf("Low lexical diversity (%.2f)", diversity))
	case diversity < 0.6:
		score += 4
		signals = append(signals, fmt.Sprintf("Moderate lexical diversity (%.2f)", diversity))
	default:
		signals = append(signals, fmt.Sprintf("High lexical diversity (%.2f)", diversity))
	}

	// Word length variance (8 points)
	var sum float64
	for _, w := range words {
		sum += float64(len(w))
	}
	avg := sum / float64(len(words))
	var variance float64
	for _, w := range words {
		d := float64(len(w)) - avg
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(words)))
	switch {
	case stdDev < 2.0:
		score += 8
		signals = append(signals, fmt.Sprintf("Very uniform word lengths (σ=%.2f)", stdDev))
	case stdDev < 2.5:
		score += 5
		signals = append(signals, fmt.Sprintf("Low word length variance (σ=%.2f)", stdDev))
	default:
		signals = append(signals, fmt.Sprintf("Natural word length variance (σ=%.2f)", stdDev))
	}

	// Repetition patterns (7 points)
	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[strings.ToLower(w)]++
	}
	topWord, topCount := "", 0
	for _, w := range words {
		lw := strings.ToLower(w)
		if freq[lw] > topCount {
			topWord, topCount = lw, freq[lw]
		}
	}
	repetition := float64(topCount) / float64(len(words))
	switch {
	case repetition > 0.05:
		score += 7
		signals = append(signals, fmt.Sprintf("High word repetition: '%s' (%.2f%%)", topWord, repetition*100))
		evidence = append(evidence, fmt.Sprintf("Most repeated: '%s' (%dx)", topWord, topCount))
	case repetition > 0.03:
		score += 4
		signals = append(signals, fmt.Sprintf("Moderate word repetition: '%s' (%.2f%%)", topWord, repetition*100))
		evidence = append(evidence, fmt.Sprintf("Most repeated: '%s' (%dx)", topWord, topCount))
	default:
		signals = append(signals, fmt.Sprintf("Low word repetition (%.2f%%)", repetition*100))
	}

	return category(score, 25, signals, evidence)
}

// Category 2: sentence & paragraph uniformity (0-20).
func scoreSentenceUniformity(text string) CategoryScore {
	sentences := splitSentences(text)
	if len(sentences) < 3 {
		return CategoryScore{
			MaxScore:    20,
			Explanation: "Text too short to analyze uniformity (< 3 sentences)",
			Evidence:    []string{},
		}
	}

	var signals, evidence []string
	score := 0.0

	// Sentence length uniformity (12 points)
	lengths := make([]int, len(sentences))
	for i, s := range sentences {
		lengths[i] = len(strings.Fields(s))
	}
	avg, cv := coefficientOfVariation(lengths)
	switch {
	case cv < 0.3:
		score += 12
		signals = append(signals, fmt.Sprintf("Very uniform sentence lengths (CV=%.2f)", cv))
		sample := lengths
		if len(sample) > 5 {
			sample = sample[:5]
		}
		evidence = append(evidence, fmt.Sprintf("Sentence lengths: %v (avg=%.1f)", sample, avg))
	case cv < 0.5:
		score += 7
		signals = append(signals, fmt.Sprintf("Moderately uniform sentences (CV=%.2f)", cv))
	default:
		signals = append(signals, fmt.Sprintf("Natural sentence length variance (CV=%.2f)", cv))
	}

	// Paragraph uniformity (8 points)
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(p))
		}
	}
	if len(paragraphs) >= 3 {
		paraLengths := make([]int, len(paragraphs))
		for i, p := range paragraphs {
			paraLengths[i] = len(strings.Fields(p))
		}
		paraAvg, paraCV := coefficientOfVariation(paraLengths)
		switch {
		case paraCV < 0.3:
			score += 8
			signals = append(signals, fmt.Sprintf("Very uniform paragraph lengths (CV=%.2f)", paraCV))
			sample := paraLengths
			if len(sample) > 3 {
				sample = sample[:3]
			}
			evidence = append(evidence, fmt.Sprintf("Paragraph lengths: %v (avg=%.1f)", sample, paraAvg))
		case paraCV < 0.5:
			score += 4
			signals = append(signals, fmt.Sprintf("Moderately uniform paragraphs (CV=%.2f)", paraCV))
		default:
			signals = append(signals, fmt.Sprintf("Natural paragraph variance (CV=%.2f)", paraCV))
		}
	} else {
		signals = append(signals, "Too few paragraphs to analyze uniformity")
	}

	return category(score, 20, signals, evidence)
}

// Category 3: generic language & clichés (0-20).
func scoreGenericLanguage(text string) CategoryScore {
	lower := strings.ToLower(text)
	var signals, evidence []string
	score := 0.0

	// AI phrase detection (15 points)
	var found []string
	for _, phrase := range aiPhrases {
		if strings.Contains(lower, phrase) {
			found = append(found, phrase)
		}
	}
	switch {
	case len(found) >= 5:
		score += 15
		signals = append(signals, fmt.Sprintf("Found %d AI-like phrases: %s...", len(found), quoteJoin(found[:3])))
		evidence = append(evidence, found[:5]...)
	case len(found) >= 3:
		score += 10
		signals = append(signals, fmt.Sprintf("Found %d AI-like phrases: %s", len(found), quoteJoin(found)))
		evidence = append(evidence, found...)
	case len(found) >= 1:
		score += 5
		signals = append(signals, fmt.Sprintf("Found %d AI-like phrase(s): %s", len(found), quoteJoin(found)))
		evidence = append(evidence, found...)
	default:
		signals = append(signals, "No common AI phrases detected")
	}

	// Adverb overuse (5 points)
	adverbs := adverbRe.FindAllString(lower, -1)
	wordCount := len(strings.Fields(lower))
	ratio := 0.0
	if wordCount > 0 {
		ratio = float64(len(adverbs)) / float64(wordCount)
	}
	switch {
	case ratio > 0.05:
		score += 5
		sample := adverbs
		if len(sample) > 5 {
			sample = sample[:5]
		}
		signals = append(signals, fmt.Sprintf("High adverb usage (%.2f%%): %s...", ratio*100, strings.Join(sample, ", ")))
		evidence = append(evidence, "Adverbs: "+strings.Join(sample, ", "))
	case ratio > 0.03:
		score += 2
		signals = append(signals, fmt.Sprintf("Moderate adverb usage (%.2f%%)", ratio*100))
	default:
		signals = append(signals, fmt.Sprintf("Normal adverb usage (%.2f%%)", ratio*100))
	}

	return category(score, 20, signals, evidence)
}

// Category 4: structural template signals (0-15).
func scoreStructuralTemplates(text string) CategoryScore {
	var signals, evidence []string
	score := 0.0

	// Formulaic openings (8 points)
	firstSentence := text
	if i := strings.Index(text, "."); i >= 0 {
		firstSentence = text[:i]
	} else if len(text) > 200 {
		firstSentence = text[:200]
	}
	matched := false
	for _, re := range templateOpenings {
		if re.MatchString(firstSentence) {
			matched = true
			break
		}
	}
	if matched {
		score += 8
		snippet := firstSentence
		if len(snippet) > 60 {
			snippet = snippet[:60] + "..."
		}
		signals = append(signals, fmt.Sprintf("Formulaic opening: '%s'", snippet))
		evidence = append(evidence, fmt.Sprintf("Opening: '%s'", snippet))
	} else {
		signals = append(signals, "Natural opening")
	}

	// Numbered lists (4 points)
	numbered := numberedItemRe.FindAllString(text, -1)
	switch {
	case len(numbered) >= 5:
		score += 4
		signals = append(signals, fmt.Sprintf("Heavy list structure (%d items)", len(numbered)))
		evidence = append(evidence, fmt.Sprintf("Numbered list items: %d", len(numbered)))
	case len(numbered) >= 3:
		score += 2
		signals = append(signals, fmt.Sprintf("Moderate list structure (%d items)", len(numbered)))
		evidence = append(evidence, fmt.Sprintf("Numbered list items: %d", len(numbered)))
	default:
		signals = append(signals, "Minimal list structure")
	}

	// Transition phrases (3 points)
	lower := strings.ToLower(text)
	var transitions []string
	for _, t := range transitionPhrases {
		if strings.Contains(lower, t) {
			transitions = append(transitions, t)
		}
	}
	switch {
	case len(transitions) >= 4:
		score += 3
		signals = append(signals, "Heavy transition usage: "+quoteJoin(transitions[:4]))
		evidence = append(evidence, transitions[:4]...)
	case len(transitions) >= 2:
		score += 1.5
		signals = append(signals, "Moderate transition usage: "+quoteJoin(transitions))
		evidence = append(evidence, transitions...)
	default:
		signals = append(signals, "Minimal transition usage")
	}

	return category(score, 15, signals, evidence)
}

// Category 5: lack of human friction (0-10).
func scoreLackOfFriction(text string, words []string) CategoryScore {
	var signals, evidence []string
	score := 0.0

	// Perfect capitalization (4 points)
	sentences := splitSentences(text)
	if len(sentences) > 0 {
		capitalized := 0
		for _, s := range sentences {
			r := []rune(s)
			if len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z' {
				capitalized++
			}
		}
		ratio := float64(capitalized) / float64(len(sentences))
		if ratio == 1.0 && len(sentences) >= 3 {
			score += 4
			signals = append(signals, "Perfect sentence capitalization")
			evidence = append(evidence, fmt.Sprintf("All %d sentences capitalized", len(sentences)))
		} else {
			signals = append(signals, fmt.Sprintf("Natural capitalization (%.0f%%)", ratio*100))
		}
	} else {
		signals = append(signals, "No sentences to analyze")
	}

	// Lack of contractions (3 points)
	contractions := contractionRe.FindAllString(text, -1)
	ratio := 0.0
	if len(words) > 0 {
		ratio = float64(len(contractions)) / float64(len(words))
	}
	switch {
	case ratio < 0.01:
		score += 3
		signals = append(signals, "Very few contractions (formal)")
		evidence = append(evidence, fmt.Sprintf("Contractions: %d/%d words", len(contractions), len(words)))
	case ratio < 0.02:
		score += 1.5
		signals = append(signals, "Few contractions")
	default:
		signals = append(signals, fmt.Sprintf("Natural contraction usage (%.2f%%)", ratio*100))
	}

	// Lack of informal markers (3 points)
	lower := strings.ToLower(text)
	var informal []string
	for _, m := range informalMarkers {
		if strings.Contains(lower, m) {
			informal = append(informal, m)
		}
	}
	if len(informal) == 0 && len(words) > 50 {
		score += 3
		signals = append(signals, "No informal markers (very formal)")
		evidence = append(evidence, "No informal markers found")
	} else if len(informal) > 0 {
		sample := informal
		if len(sample) > 3 {
			sample = sample[:3]
		}
		signals = append(signals, "Natural informality: "+quoteJoin(sample))
	}

	return category(score, 10, signals, evidence)
}

// Category 6: over-polish & safety tone (0-10).
func scoreOverPolish(text string) CategoryScore {
	lower := strings.ToLower(text)
	var signals, evidence []string
	score := 0.0

	// Safety/hedging phrases (7 points)
	var hedges []string
	for _, p := range safetyPhrases {
		if strings.Contains(lower, p) {
			hedges = append(hedges, p)
		}
	}
	switch {
	case len(hedges) >= 4:
		score += 7
		signals = append(signals, "Heavy hedging language: "+quoteJoin(hedges[:4]))
		evidence = append(evidence, hedges[:4]...)
	case len(hedges) >= 2:
		score += 4
		signals = append(signals, "Moderate hedging: "+quoteJoin(hedges))
		evidence = append(evidence, hedges...)
	case len(hedges) >= 1:
		score += 2
		signals = append(signals, "Some hedging: "+quoteJoin(hedges))
		evidence = append(evidence, hedges...)
	default:
		signals = append(signals, "No hedging detected")
	}

	// Disclaimer patterns (3 points)
	var disclaimers []string
	for _, d := range disclaimerPhrases {
		if strings.Contains(lower, d) {
			disclaimers = append(disclaimers, d)
		}
	}
	switch {
	case len(disclaimers) >= 2:
		score += 3
		signals = append(signals, "Multiple disclaimers: "+quoteJoin(disclaimers))
		evidence = append(evidence, disclaimers...)
	case len(disclaimers) >= 1:
		score += 1.5
		signals = append(signals, "Some disclaimers: "+quoteJoin(disclaimers))
		evidence = append(evidence, disclaimers...)
	default:
		signals = append(signals, "No disclaimers")
	}

	return category(score, 10, signals, evidence)
}

func category(score, max float64, signals, evidence []string) CategoryScore {
	if evidence == nil {
		evidence = []string{}
	}
	return CategoryScore{
		Score:       score,
		MaxScore:    max,
		Percentage:  score / max * 100,
		Explanation: strings.Join(signals, " | "),
		Evidence:    evidence,
	}
}

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	var sentences []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func coefficientOfVariation(lengths []int) (avg, cv float64) {
	var sum float64
	for _, l := range lengths {
		sum += float64(l)
	}
	avg = sum / float64(len(lengths))
	var variance float64
	for _, l := range lengths {
		d := float64(l) - avg
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(lengths)))
	if avg > 0 {
		cv = stdDev / avg
	}
	return avg, cv
}

func quoteJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ", ")
}

// AILikenessScorer adapts ScoreAILikeness to the registry capability.
type AILikenessScorer struct{}

func NewAILikenessScorer() Scorer { return &AILikenessScorer{} }

func (s *AILikenessScorer) ID() string      { return "ai_likeness_rubric" }
func (s *AILikenessScorer) Version() string { return "rubric_v" + AIRubricVersion }

func (s *AILikenessScorer) Score(_ context.Context, text string) (*Outcome, error) {
	result, err := ScoreAILikeness(text)
	if err != nil {
		return nil, err
	}
	details, err := json.Marshal(result)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "marshaling rubric result")
	}
	return &Outcome{
		Kind:     KindDetector,
		Provider: s.ID(),
		Score:    result.Score,
		Details:  string(details),
	}, nil
}
