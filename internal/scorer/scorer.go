// Package scorer holds the deterministic scoring engines (AI-likeness
// rubric v1.0.0, AEO rubric v1.0.0) and the registry that enumerates
// pluggable scorers for the evaluation pipeline. Scoring functions are
// pure: no I/O, no randomness, no logging; only the result timestamp
// varies between calls on the same input.
package scorer

import "context"

// Outcome is the provider-neutral result a scorer hands the pipeline.
// Kind routes the row to the right table: detector outcomes become
// detector_scores rows keyed by Provider, AEO outcomes become aeo_scores
// rows keyed by Provider as the query intent.
type Outcome struct {
	Kind     string  // "detector" or "aeo"
	Provider string  // detector provider id, or query intent
	Score    float64 // 0..100
	Details  string  // detector details JSON, or AEO rationale JSON
}

const (
	KindDetector = "detector"
	KindAEO      = "aeo"
)

// Scorer is the pluggable capability the registry stores and the
// pipeline fans out to.
type Scorer interface {
	// ID returns the registry identifier (e.g. "ai_likeness_rubric").
	ID() string
	// Version returns the scorer's rubric/model version string.
	Version() string
	// Score evaluates text. Deterministic scorers ignore ctx; LLM-backed
	// scorers honor its deadline.
	Score(ctx context.Context, text string) (*Outcome, error)
}

// Factory builds a scorer instance. The registry stores factories, not
// instances, so configuration decides what actually runs.
type Factory func() Scorer

// Metadata describes a registered scorer by name and version.
type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
