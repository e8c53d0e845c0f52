// CLAUDE:SUMMARY AEO rubric v1.0.0 — regex signal extraction plus seven weighted pillars summing to 100
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/redline/internal/fault"
)

// AEORubricVersion freezes the pillar weights and thresholds below.
const AEORubricVersion = "1.0.0"

// DefaultQueryIntent labels the signal-based scorer's rows; it evaluates
// content without a specific query context.
const DefaultQueryIntent = "default"

// fluffPhrases detect generic filler content.
var fluffPhrases = []string{
	"in today's world",
	"it is important to note",
	"needless to say",
	"at the end of the day",
	"all things considered",
	"last but not least",
	"in conclusion",
	"without further ado",
	"let's dive in",
	"game changer",
}

var (
	h1Re          = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	h2Re          = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	h3Re          = regexp.MustCompile(`(?m)^###\s+(.+)$`)
	listItemRe    = regexp.MustCompile(`(?m)^(\s*[-*]|\s*\d+\.)\s+(.+)$`)
	yearRe        = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	urlRe         = regexp.MustCompile(`https?://[^\s)]+`)
	numericFactRe = regexp.MustCompile(`\b\d+(\.\d+)?%?`)
)

// AEOSignals are the raw deterministic measurements extracted before
// scoring. Extraction is regex-based with no external calls.
type AEOSignals struct {
	WordCount          int      `json:"word_count"`
	SentenceCount      int      `json:"sentence_count"`
	AvgSentenceLength  float64  `json:"avg_sentence_length"`
	H1Count            int      `json:"h1_count"`
	H2Count            int      `json:"h2_count"`
	H3Count            int      `json:"h3_count"`
	ListItemCount      int      `json:"list_item_count"`
	HasProperHierarchy bool     `json:"has_proper_hierarchy"`
	First120Words      string   `json:"first_120_words"`
	LinkCount          int      `json:"link_count"`
	NumericDataPoints  int      `json:"numeric_data_points"`
	YearsCited         []string `json:"years_cited"`
	FluffPhraseHits    int      `json:"fluff_phrase_hits"`
	LongParagraphCount int      `json:"long_paragraph_count"`
}

// PillarScore is one AEO pillar with its reasons.
type PillarScore struct {
	Key      string   `json:"key"`
	Score    float64  `json:"score"`
	MaxScore float64  `json:"max_score"`
	Reasons  []string `json:"reasons"`
}

// AEOResult is the deterministic AEO scoring output. Pillar enumeration
// order is fixed.
type AEOResult struct {
	TotalScore    float64       `json:"total_score"`
	RubricVersion string        `json:"rubric_version"`
	Pillars       []PillarScore `json:"pillars"`
	Signals       AEOSignals    `json:"signals"`
}

// Pillar returns the named pillar, or nil.
func (r *AEOResult) Pillar(key string) *PillarScore {
	for i := range r.Pillars {
		if r.Pillars[i].Key == key {
			return &r.Pillars[i]
		}
	}
	return nil
}

// ExtractAEOSignals measures content structure, authority and readability
// signals from markdown text.
func ExtractAEOSignals(content string) AEOSignals {
	if content == "" {
		return AEOSignals{YearsCited: []string{}}
	}

	lines := strings.Split(content, "\n")
	words := strings.Fields(content)

	first120 := words
	if len(first120) > 120 {
		first120 = first120[:120]
	}

	h1 := h1Re.FindAllString(content, -1)
	h2 := h2Re.FindAllString(content, -1)
	h3 := h3Re.FindAllString(content, -1)

	lower := strings.ToLower(content)
	fluffHits := 0
	for _, phrase := range fluffPhrases {
		fluffHits += strings.Count(lower, phrase)
	}

	yearSet := make(map[string]struct{})
	for _, y := range yearRe.FindAllString(content, -1) {
		yearSet[y] = struct{}{}
	}
	years := make([]string, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Strings(years)

	sentences := splitSentences(content)
	avgLen := 0.0
	if len(sentences) > 0 {
		avgLen = math.Round(float64(len(words))/float64(len(sentences))*100) / 100
	}

	longParagraphs := 0
	for _, line := range lines {
		if len(strings.Fields(line)) > 60 {
			longParagraphs++
		}
	}

	return AEOSignals{
		WordCount:          len(words),
		SentenceCount:      len(sentences),
		AvgSentenceLength:  avgLen,
		H1Count:            len(h1),
		H2Count:            len(h2),
		H3Count:            len(h3),
		ListItemCount:      len(listItemRe.FindAllString(content, -1)),
		HasProperHierarchy: len(h1) > 0 && (len(h2) > 0 || len(h3) > 0),
		First120Words:      strings.Join(first120, " "),
		LinkCount:          len(urlRe.FindAllString(content, -1)),
		NumericDataPoints:  len(numericFactRe.FindAllString(content, -1)),
		YearsCited:         years,
		FluffPhraseHits:    fluffHits,
		LongParagraphCount: longParagraphs,
	}
}

// ScoreAEO scores content on AEO rubric v1.0.0. Same input yields an
// identical total, rounded to two decimals. Fails with internal if the
// pillar sum ever exceeds 100.
func ScoreAEO(content string) (*AEOResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fault.New(fault.Validation, "content cannot be empty")
	}

	signals := ExtractAEOSignals(content)

	// Pillar 1: answerability & intent match (max 25)
	p1 := PillarScore{Key: "aeo_answerability", MaxScore: 25}
	if len(strings.Fields(signals.First120Words)) > 20 {
		p1.Score += 15
		p1.Reasons = append(p1.Reasons, "Content present in 'Answer First' window (First 120 words).")
	} else {
		p1.Reasons = append(p1.Reasons, "Introductory content is too sparse (< 20 words).")
	}
	if signals.H1Count > 0 {
		p1.Score += 10
		p1.Reasons = append(p1.Reasons, "H1 detected, signaling clear topic intent.")
	} else {
		p1.Reasons = append(p1.Reasons, "No H1 detected; topic intent unclear.")
	}
	p1.Score = math.Min(p1.Score, p1.MaxScore)

	// Pillar 2: structural extractability (max 20)
	p2 := PillarScore{Key: "aeo_structure", MaxScore: 20}
	if signals.HasProperHierarchy {
		p2.Score += 10
		p2.Reasons = append(p2.Reasons, "Proper header hierarchy detected (H1 -> H2/H3).")
	} else {
		p2.Reasons = append(p2.Reasons, "Weak header hierarchy.")
	}
	switch {
	case signals.ListItemCount > 5:
		p2.Score += 10
		p2.Reasons = append(p2.Reasons, fmt.Sprintf("Strong use of lists (%d items).", signals.ListItemCount))
	case signals.ListItemCount > 0:
		p2.Score += 5
		p2.Reasons = append(p2.Reasons, fmt.Sprintf("Moderate use of lists (%d items).", signals.ListItemCount))
	default:
		p2.Reasons = append(p2.Reasons, "No lists detected.")
	}
	p2.Score = math.Min(p2.Score, p2.MaxScore)

	// Pillar 3: specificity & factual density (max 20)
	p3 := PillarScore{Key: "aeo_specificity", MaxScore: 20}
	switch {
	case signals.NumericDataPoints >= 3:
		p3.Score += 10
		p3.Reasons = append(p3.Reasons, fmt.Sprintf("High density of numeric facts (%d).", signals.NumericDataPoints))
	case signals.NumericDataPoints > 0:
		p3.Score += 5
		p3.Reasons = append(p3.Reasons, fmt.Sprintf("Some numeric facts detected (%d).", signals.NumericDataPoints))
	default:
		p3.Reasons = append(p3.Reasons, "No numeric data points found.")
	}
	if len(signals.YearsCited) > 0 {
		p3.Score += 10
		p3.Reasons = append(p3.Reasons, "Specific temporal entities (years) detected.")
	} else if signals.WordCount > 600 {
		p3.Score += 5
		p3.Reasons = append(p3.Reasons, "Content length suggests detail, though specific entities low.")
	} else {
		p3.Reasons = append(p3.Reasons, "Low specificity/entity density.")
	}
	p3.Score = math.Min(p3.Score, p3.MaxScore)

	// Pillar 4: trust & authority signals (max 15)
	p4 := PillarScore{Key: "aeo_trust", MaxScore: 15}
	switch {
	case signals.LinkCount >= 2:
		p4.Score += 10
		p4.Reasons = append(p4.Reasons, fmt.Sprintf("Strong citation profile (%d external links).", signals.LinkCount))
	case signals.LinkCount == 1:
		p4.Score += 5
		p4.Reasons = append(p4.Reasons, "Single citation detected.")
	default:
		p4.Reasons = append(p4.Reasons, "No external citations.")
	}
	if signals.FluffPhraseHits == 0 {
		p4.Score += 5
		p4.Reasons = append(p4.Reasons, "Clean, concise language (0 fluff phrases).")
	} else {
		p4.Reasons = append(p4.Reasons, fmt.Sprintf("Fluff detected (%d instances). Penalty applied.", signals.FluffPhraseHits))
	}
	p4.Score = math.Min(p4.Score, p4.MaxScore)

	// Pillar 5: query coverage breadth (max 10)
	p5 := PillarScore{Key: "aeo_coverage", MaxScore: 10}
	switch {
	case signals.WordCount > 800:
		p5.Score += 10
		p5.Reasons = append(p5.Reasons, "Comprehensive depth (>800 words).")
	case signals.WordCount > 400:
		p5.Score += 6
		p5.Reasons = append(p5.Reasons, "Moderate depth (>400 words).")
	default:
		p5.Score += 2
		p5.Reasons = append(p5.Reasons, fmt.Sprintf("Shallow coverage (%d words).", signals.WordCount))
	}
	p5.Score = math.Min(p5.Score, p5.MaxScore)

	// Pillar 6: freshness & temporal clarity (max 5)
	p6 := PillarScore{Key: "aeo_freshness", MaxScore: 5}
	if len(signals.YearsCited) > 0 {
		p6.Score += 5
		p6.Reasons = append(p6.Reasons, fmt.Sprintf("Explicit temporal anchoring (%d years detected).", len(signals.YearsCited)))
	} else {
		p6.Reasons = append(p6.Reasons, "No specific years mentioned.")
	}

	// Pillar 7: machine readability (max 5)
	p7 := PillarScore{Key: "aeo_readability", MaxScore: 5}
	switch {
	case signals.AvgSentenceLength >= 10 && signals.AvgSentenceLength <= 20:
		p7.Score += 5
		p7.Reasons = append(p7.Reasons, fmt.Sprintf("Optimal sentence length (%g words).", signals.AvgSentenceLength))
	case signals.AvgSentenceLength > 5 && signals.AvgSentenceLength < 30:
		p7.Score += 3
		p7.Reasons = append(p7.Reasons, fmt.Sprintf("Acceptable sentence length (%g words).", signals.AvgSentenceLength))
	default:
		p7.Score += 1
		p7.Reasons = append(p7.Reasons, fmt.Sprintf("Sentence length suboptimal (%g words).", signals.AvgSentenceLength))
	}

	pillars := []PillarScore{p1, p2, p3, p4, p5, p6, p7}
	total := 0.0
	for _, p := range pillars {
		total += p.Score
	}
	total = math.Round(total*100) / 100

	if total > 100.0 {
		return nil, fault.New(fault.Internal, "calculated AEO score %.2f exceeds 100.0", total)
	}

	return &AEOResult{
		TotalScore:    total,
		RubricVersion: AEORubricVersion,
		Pillars:       pillars,
		Signals:       signals,
	}, nil
}

// AEOScorer adapts ScoreAEO to the registry capability.
type AEOScorer struct{}

func NewAEOScorer() Scorer { return &AEOScorer{} }

func (s *AEOScorer) ID() string      { return "aeo_rubric" }
func (s *AEOScorer) Version() string { return AEORubricVersion }

func (s *AEOScorer) Score(_ context.Context, text string) (*Outcome, error) {
	result, err := ScoreAEO(text)
	if err != nil {
		return nil, err
	}
	rationale, err := json.Marshal(result)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "marshaling AEO result")
	}
	return &Outcome{
		Kind:     KindAEO,
		Provider: DefaultQueryIntent,
		Score:    result.TotalScore,
		Details:  string(rationale),
	}, nil
}
