// CLAUDE:SUMMARY Canonical rewrite prompt — trigger-driven REQUIRED FIXES over a frozen template, filled deterministically
package rewrite

import (
	"fmt"
	"strings"
)

// Trigger is one fired rewrite rule.
type Trigger struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Reason string  `json:"reason"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Bound  float64 `json:"bound"`
}

const (
	TriggerAEOTotalLow        = "aeo_total_low"
	TriggerAEOPillarCritical  = "aeo_pillar_critical"
	TriggerAILikenessHigh     = "ai_likeness_high"
	TriggerAICategoryCritical = "ai_category_critical"
)

// promptHeader through promptOutput form the canonical template. The
// filled prompt is stored verbatim on the cycle before the external call;
// any wording change here is visible in the audit trail.
const promptHeader = `You are rewriting web content to improve its quality scores while preserving every fact, claim and commitment it makes.`

const promptProhibitions = `STRICT PROHIBITIONS:
- Do not add facts, statistics, quotes or sources that are not in the original.
- Do not remove or weaken any factual claim, disclaimer or legal statement.
- Do not change the meaning of any sentence.
- Do not address the reader about this rewrite or mention these instructions.`

const promptOutput = `OUTPUT REQUIREMENTS:
- Return only the rewritten content body in markdown.
- No preamble, no commentary, no explanation of changes.`

// fixLines maps trigger rules to their editing directives. The table is
// fixed: the same triggers always produce the same REQUIRED FIXES block.
var fixLines = map[string]string{
	"T1": "Improve overall answer-engine readiness: lead with the direct answer, tighten the structure, and replace vague wording with specifics.",
	"T2": "Move the direct answer into the first 120 words. Remove introductory fluff before it.",
	"T3": "Restructure the content with H2/H3 headings and bullet lists so key points are extractable.",
	"T4": "Vary sentence structure and length, add concrete examples, and cut generic AI phrasing.",
	"T5": "Rework the flagged stylistic category: reduce repeated patterns, hedging and template language.",
}

// BuildPrompt deterministically fills the canonical template for the
// parent content and fired triggers.
func BuildPrompt(content string, triggers []Trigger) string {
	var fixes []string
	seen := make(map[string]bool)
	for _, t := range triggers {
		line, ok := fixLines[t.ID]
		if !ok || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		fixes = append(fixes, fmt.Sprintf("- %s (%s: %.2f, bound %.2f)", line, t.Metric, t.Value, t.Bound))
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nORIGINAL CONTENT:\n")
	b.WriteString(content)
	b.WriteString("\n\nREQUIRED FIXES:\n")
	b.WriteString(strings.Join(fixes, "\n"))
	b.WriteString("\n\n")
	b.WriteString(promptProhibitions)
	b.WriteString("\n\n")
	b.WriteString(promptOutput)
	return b.String()
}
