// CLAUDE:SUMMARY Evaluation pipeline — idempotent run creation, scorer fan-out through the registry, fan-in finalization
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/fault"
	"github.com/hazyhaar/redline/internal/runner"
	"github.com/hazyhaar/redline/internal/scorer"
)

// ScorerTimeout bounds one scoring unit. The deterministic rubrics finish
// in microseconds; the deadline exists for LLM-backed detectors if one is
// ever registered.
const ScorerTimeout = 60 * time.Second

// scorerRetries is how many extra attempts a scorer task gets. The
// check-then-insert guards in the store make retries safe.
const scorerRetries = 3

// ModelConfig is the immutable configuration snapshot frozen into each
// run.
type ModelConfig struct {
	EnabledDetectors []string          `json:"enabled_detectors"`
	ScorerVersions   map[string]string `json:"scorer_versions"`
}

// Pipeline creates evaluation runs and fans them out to the registered
// scorers through the workflow runner.
type Pipeline struct {
	db       *db.DB
	registry *scorer.Registry
	runner   *runner.Runner
	logger   *slog.Logger
	enabled  []string
	inflight sync.WaitGroup
}

func New(database *db.DB, registry *scorer.Registry, r *runner.Runner, enabled []string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		db:       database,
		registry: registry,
		runner:   r,
		logger:   logger,
		enabled:  enabled,
	}
}

// StartEvaluation creates (or returns) the evaluation run for a version.
//
// Approved content is not re-evaluated: when the blog's current approval
// points at this exact version the call fails with approved_content.
// While a prior run for the version is still processing, that run is
// returned instead of creating a second one (state-based deduplication).
func (p *Pipeline) StartEvaluation(ctx context.Context, versionID string, triggeredBy *string) (*db.EvaluationRun, error) {
	version, err := p.db.GetVersion(versionID)
	if err != nil {
		return nil, err
	}

	approval, err := p.db.CurrentApproval(version.BlogID)
	if err != nil {
		return nil, err
	}
	if approval != nil && approval.ApprovedVersionID == versionID {
		return nil, fault.New(fault.ApprovedContent, "version %s is the blog's approved content", versionID)
	}

	if existing, err := p.db.ProcessingRunForVersion(versionID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	scorers, err := p.registry.Active(p.enabled)
	if err != nil {
		return nil, err
	}

	cfg := ModelConfig{
		EnabledDetectors: p.enabled,
		ScorerVersions:   make(map[string]string, len(scorers)),
	}
	for _, s := range scorers {
		cfg.ScorerVersions[s.ID()] = s.Version()
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "marshaling model config")
	}

	run, err := p.db.CreateEvaluationRun(versionID, triggeredBy, string(cfgJSON))
	if err != nil {
		return nil, err
	}

	p.logger.Info("evaluation run created",
		"run_id", run.ID,
		"version_id", versionID,
		"scorers", len(scorers),
	)

	p.dispatch(run, version, scorers)
	return run, nil
}

// dispatch fans the run out to scorer tasks and arranges the fan-in
// finalization. Scorer tasks proceed independently; finalize waits for
// every task to report success or failure.
func (p *Pipeline) dispatch(run *db.EvaluationRun, version *db.Version, scorers []scorer.Scorer) {
	group := runner.NewGroup()

	for _, s := range scorers {
		s := s
		err := group.Go(p.runner, runner.Task{
			IdempotencyKey: "score:" + run.ID + ":" + s.ID(),
			Name:           "score/" + s.ID(),
			MaxRetries:     scorerRetries,
			Timeout:        ScorerTimeout,
			Run: func(ctx context.Context) error {
				return p.runScorer(ctx, run.ID, s, version.Content)
			},
		})
		if err != nil {
			p.logger.Error("submitting scorer task", "run_id", run.ID, "scorer", s.ID(), "error", err)
		}
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		outcomes := group.Wait()
		p.finalize(run, version, outcomes)
	}()
}

// runScorer executes one scorer and records its row. A retry that finds
// the row already present completes without a second insert.
func (p *Pipeline) runScorer(ctx context.Context, runID string, s scorer.Scorer, content string) error {
	outcome, err := s.Score(ctx, content)
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case scorer.KindDetector:
		inserted, err := p.db.InsertDetectorScore(runID, outcome.Provider, outcome.Score, outcome.Details)
		if err != nil {
			return err
		}
		if !inserted {
			p.logger.Info("detector score already recorded", "run_id", runID, "provider", outcome.Provider)
		}
	case scorer.KindAEO:
		inserted, err := p.db.InsertAEOScore(runID, outcome.Provider, outcome.Score, outcome.Details)
		if err != nil {
			return err
		}
		if !inserted {
			p.logger.Info("aeo score already recorded", "run_id", runID, "query_intent", outcome.Provider)
		}
	default:
		return fault.New(fault.Internal, "scorer %s produced unknown outcome kind %q", s.ID(), outcome.Kind)
	}
	return nil
}

// finalize closes the run based on the task outcomes and then checks for
// score regressions against the previous completed run.
func (p *Pipeline) finalize(run *db.EvaluationRun, version *db.Version, outcomes []runner.Outcome) {
	succeeded, failed := 0, 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			p.logger.Error("scorer task failed", "run_id", run.ID, "task", o.Name, "error", o.Err)
		} else {
			succeeded++
		}
	}

	status := "completed"
	switch {
	case succeeded == 0:
		status = "failed"
	case failed > 0:
		status = "partial_failure"
	}

	if err := p.db.FinalizeRun(run.ID, status); err != nil {
		p.logger.Error("finalizing run", "run_id", run.ID, "error", err)
		return
	}

	p.logger.Info("evaluation run finalized",
		"run_id", run.ID,
		"status", status,
		"succeeded", succeeded,
		"failed", failed,
	)

	if status != "failed" {
		p.detectRegression(run, version)
	}
}

// Evaluation bundles a run with its attached score rows for read paths.
type Evaluation struct {
	Run            *db.EvaluationRun   `json:"run"`
	DetectorScores []*db.DetectorScore `json:"detector_scores"`
	AEOScores      []*db.AEOScore      `json:"aeo_scores"`
}

// GetEvaluation returns a run and its scores.
func (p *Pipeline) GetEvaluation(runID string) (*Evaluation, error) {
	run, err := p.db.GetEvaluationRun(runID)
	if err != nil {
		return nil, err
	}
	detectors, err := p.db.GetDetectorScores(runID)
	if err != nil {
		return nil, err
	}
	aeo, err := p.db.GetAEOScores(runID)
	if err != nil {
		return nil, err
	}
	return &Evaluation{Run: run, DetectorScores: detectors, AEOScores: aeo}, nil
}

// Wait blocks until all in-flight evaluation work, including
// finalization, has drained.
func (p *Pipeline) Wait() {
	p.runner.Wait()
	p.inflight.Wait()
}
