// CLAUDE:SUMMARY Rewrite orchestrator — trigger evaluation, TOCTOU-safe execution, child version append, trend recording
package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/fault"
	"github.com/hazyhaar/redline/internal/runner"
	"github.com/hazyhaar/redline/internal/scorer"
)

// StartEvaluator triggers an evaluation run for a freshly appended child
// version. Wired to the evaluation pipeline in main.
type StartEvaluator func(ctx context.Context, versionID string, triggeredBy *string) error

// Orchestrator runs bounded rewrite cycles. Everything here is
// deterministic except the Rewriter.Generate call.
type Orchestrator struct {
	db        *db.DB
	rewriter  Rewriter
	runner    *runner.Runner
	evaluate  StartEvaluator
	logger    *slog.Logger
	maxCycles int
	timeout   time.Duration
	inflight  chan struct{}
}

type Config struct {
	MaxCycles int           // per-blog rewrite cap (default 10)
	Timeout   time.Duration // Rewriter call deadline (default 120s)
}

func NewOrchestrator(database *db.DB, rw Rewriter, r *runner.Runner, evaluate StartEvaluator, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Orchestrator{
		db:        database,
		rewriter:  rw,
		runner:    r,
		evaluate:  evaluate,
		logger:    logger,
		maxCycles: cfg.MaxCycles,
		timeout:   cfg.Timeout,
	}
}

// parentScores are the trigger inputs loaded from the parent's latest
// completed run.
type parentScores struct {
	AEO      *scorer.AEOResult
	AEOTotal float64
	HasAEO   bool
	AITotal  float64
	AIRaw    *scorer.AIRawResponse
	HasAI    bool
}

// EvaluateTriggers applies the T1-T5 rule table to the parent's scores.
// A rule whose input is missing is not evaluable; evaluable reports
// whether every rule had its input.
func EvaluateTriggers(s parentScores) (triggers []Trigger, evaluable bool) {
	evaluable = s.HasAEO && s.AEO != nil && s.HasAI && s.AIRaw != nil

	if s.HasAEO {
		if s.AEOTotal < 70 {
			triggers = append(triggers, Trigger{
				ID: "T1", Type: TriggerAEOTotalLow,
				Reason: "AEO total below threshold",
				Metric: "aeo_total", Value: s.AEOTotal, Bound: 70,
			})
		}
		if s.AEO != nil {
			if p := s.AEO.Pillar("aeo_answerability"); p != nil && p.Score < 15 {
				triggers = append(triggers, Trigger{
					ID: "T2", Type: TriggerAEOPillarCritical,
					Reason: "answerability pillar critical",
					Metric: "aeo_answerability", Value: p.Score, Bound: 15,
				})
			}
			if p := s.AEO.Pillar("aeo_structure"); p != nil && p.Score < 12 {
				triggers = append(triggers, Trigger{
					ID: "T3", Type: TriggerAEOPillarCritical,
					Reason: "structure pillar critical",
					Metric: "aeo_structure", Value: p.Score, Bound: 12,
				})
			}
		}
	}

	if s.HasAI {
		if s.AITotal > 60 {
			triggers = append(triggers, Trigger{
				ID: "T4", Type: TriggerAILikenessHigh,
				Reason: "AI-likeness total above threshold",
				Metric: "ai_likeness_total", Value: s.AITotal, Bound: 60,
			})
		}
		if s.AIRaw != nil {
			categories := []struct {
				key string
				cs  scorer.CategoryScore
			}{
				{"predictability_entropy", s.AIRaw.Subscores.PredictabilityEntropy},
				{"sentence_uniformity", s.AIRaw.Subscores.SentenceUniformity},
				{"generic_language", s.AIRaw.Subscores.GenericLanguage},
				{"structural_templates", s.AIRaw.Subscores.StructuralTemplates},
				{"lack_of_friction", s.AIRaw.Subscores.LackOfFriction},
				{"over_polish", s.AIRaw.Subscores.OverPolish},
			}
			for _, c := range categories {
				if c.cs.MaxScore > 0 && c.cs.Score/c.cs.MaxScore > 0.70 {
					triggers = append(triggers, Trigger{
						ID: "T5", Type: TriggerAICategoryCritical,
						Reason: fmt.Sprintf("AI-likeness category %s critical", c.key),
						Metric: c.key, Value: c.cs.Score, Bound: c.cs.MaxScore * 0.70,
					})
					break
				}
			}
		}
	}

	return triggers, evaluable
}

// Orchestrate evaluates the rewrite rules for a version and, when they
// fire, inserts a pending cycle and hands execution to the workflow
// runner. The returned cycle is pending; scenario failures inside the
// task (approval races, caps, rewriter errors) close it as terminal.
func (o *Orchestrator) Orchestrate(ctx context.Context, versionID string, triggeredBy *string) (*db.RewriteCycle, error) {
	parent, err := o.db.GetVersion(versionID)
	if err != nil {
		return nil, err
	}

	run, err := o.db.LatestCompletedRunForVersion(versionID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fault.New(fault.Validation, "version %s has no completed evaluation", versionID)
	}

	scores, err := o.loadScores(run)
	if err != nil {
		return nil, err
	}

	triggers, evaluable := EvaluateTriggers(scores)
	if !evaluable {
		// Conservative stance on partial runs: a trigger whose input is
		// missing is not evaluable, and the orchestrator refuses rather
		// than firing on partial data.
		o.logger.Info("rewrite decision", "version_id", versionID, "decision", "not_evaluable", "run_id", run.ID)
		return nil, fault.New(fault.Validation, "run %s is missing scorer inputs; triggers not evaluable", run.ID)
	}
	if len(triggers) == 0 {
		o.logger.Info("rewrite decision", "version_id", versionID, "decision", "no_rewrite_required")
		return nil, nil
	}

	// Loop-breaking gates the production of a next cycle.
	recent, err := o.db.RecentCyclesForBlog(parent.BlogID, 10)
	if err != nil {
		return nil, err
	}
	if reason := CheckStopRules(closedCycles(recent)); reason != "" {
		o.logger.Info("rewrite decision", "version_id", versionID, "decision", "stopped", "stop_reason", reason)
		return nil, fault.New(fault.CapExceeded, "rewrite loop stopped: %s", reason)
	}

	// Approval and cap pre-checks; both are re-checked inside the task.
	if approval, err := o.db.CurrentApproval(parent.BlogID); err != nil {
		return nil, err
	} else if approval != nil {
		return nil, fault.New(fault.ApprovedContent, "blog %s is approved", parent.BlogID)
	}
	count, err := o.db.CountCyclesForBlog(parent.BlogID)
	if err != nil {
		return nil, err
	}
	if count >= o.maxCycles {
		return nil, fault.New(fault.CapExceeded, "blog %s hit the rewrite cap (%d)", parent.BlogID, o.maxCycles)
	}

	prompt := BuildPrompt(parent.Content, triggers)
	reasons := make([]string, len(triggers))
	for i, t := range triggers {
		reasons[i] = t.Type
	}

	cycle, err := o.db.CreateCycle(db.CreateCycleInput{
		ParentVersionID: parent.ID,
		TriggerReasons:  reasons,
		TriggerData:     triggers,
		RewritePrompt:   prompt,
		ParentAEOTotal:  &scores.AEOTotal,
		ParentAITotal:   &scores.AITotal,
	})
	if err != nil {
		return nil, err
	}

	_, err = o.runner.Submit(runner.Task{
		IdempotencyKey: "rewrite:" + cycle.ID,
		Name:           "rewrite/" + cycle.ID,
		// Rewrite tasks are not idempotent by design; one attempt, one
		// retry at most is handled by the caller resubmitting explicitly.
		MaxRetries: 0,
		Timeout:    o.timeout + 30*time.Second,
		Run: func(taskCtx context.Context) error {
			return o.execute(taskCtx, cycle.ID, parent, triggeredBy, scores)
		},
	})
	if err != nil {
		return nil, err
	}

	return cycle, nil
}

// execute is the worker-side sequence: TOCTOU re-checks, the Rewriter
// call, child append, child evaluation, trend recording.
func (o *Orchestrator) execute(ctx context.Context, cycleID string, parent *db.Version, triggeredBy *string, parentSc parentScores) error {
	cycle, err := o.db.GetCycle(cycleID)
	if err != nil {
		return err
	}

	// TOCTOU: the blog may have been approved while the job was queued.
	approval, err := o.db.CurrentApproval(parent.BlogID)
	if err != nil {
		return err
	}
	if approval != nil {
		if err := o.db.MarkCycleTerminal(cycleID, StopApprovedContent); err != nil {
			return err
		}
		return fault.New(fault.ApprovedContent, "blog %s was approved while the rewrite was queued", parent.BlogID)
	}

	// Cap re-check: defense-in-depth against direct task invocation.
	count, err := o.db.CountCyclesForBlog(parent.BlogID)
	if err != nil {
		return err
	}
	if count > o.maxCycles {
		if err := o.db.MarkCycleTerminal(cycleID, StopCapExceeded); err != nil {
			return err
		}
		return fault.New(fault.CapExceeded, "blog %s exceeded the rewrite cap (%d)", parent.BlogID, o.maxCycles)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	rewritten, err := o.rewriter.Generate(genCtx, cycle.RewritePrompt)
	if err != nil {
		reason := StopRewriterError
		kind := fault.Unavailable
		if genCtx.Err() == context.DeadlineExceeded {
			reason = StopTimeout
			kind = fault.Timeout
		}
		if terr := o.db.MarkCycleTerminal(cycleID, reason); terr != nil {
			return terr
		}
		return fault.Wrap(kind, err, "rewriter failed for cycle %s", cycleID)
	}

	changeReason := "automated rewrite: " + joinReasons(cycle.TriggerReasons)
	child, err := o.db.AppendVersion(db.AppendVersionInput{
		BlogID:               parent.BlogID,
		Content:              rewritten,
		Source:               "ai_rewrite",
		ParentVersionID:      &parent.ID,
		ChangeReason:         &changeReason,
		SourceRewriteCycleID: &cycle.ID,
		CreatedBy:            parent.CreatedBy,
	})
	if err != nil {
		if terr := o.db.MarkCycleTerminal(cycleID, StopRewriterError); terr != nil {
			o.logger.Error("marking cycle terminal", "cycle_id", cycleID, "error", terr)
		}
		return err
	}

	// The child enters the normal evaluation pipeline for the record; the
	// trend math uses the pure scorers directly so the cycle closes with
	// deterministic numbers.
	if o.evaluate != nil {
		if err := o.evaluate(ctx, child.ID, triggeredBy); err != nil {
			o.logger.Error("starting child evaluation", "cycle_id", cycleID, "child", child.ID, "error", err)
		}
	}

	childAEO, childAI, err := scoreChild(rewritten)
	if err != nil {
		if terr := o.db.MarkCycleTerminal(cycleID, StopRewriterError); terr != nil {
			return terr
		}
		return err
	}

	aeoDelta := childAEO - parentSc.AEOTotal
	aiDelta := parentSc.AITotal - childAI
	outcome, code := ClassifyTrend(aeoDelta, aiDelta)

	if err := o.db.CompleteCycle(cycleID, &child.ID, &childAEO, &childAI, &outcome, &code, "completed", nil); err != nil {
		return err
	}

	o.logger.Info("rewrite cycle completed",
		"cycle_id", cycleID,
		"child_version", child.ID,
		"trend", outcome,
		"trend_code", code,
	)
	return nil
}

// loadScores parses the run's score rows back into trigger inputs.
func (o *Orchestrator) loadScores(run *db.EvaluationRun) (parentScores, error) {
	var s parentScores

	total, ok, err := o.db.AEOTotal(run.ID, scorer.DefaultQueryIntent)
	if err != nil {
		return s, err
	}
	if ok {
		s.AEOTotal = total
		s.HasAEO = true
		aeoRows, err := o.db.GetAEOScores(run.ID)
		if err != nil {
			return s, err
		}
		for _, row := range aeoRows {
			if row.QueryIntent != scorer.DefaultQueryIntent {
				continue
			}
			var result scorer.AEOResult
			if err := json.Unmarshal([]byte(row.Rationale), &result); err == nil {
				s.AEO = &result
			}
		}
	}

	detectors, err := o.db.GetDetectorScores(run.ID)
	if err != nil {
		return s, err
	}
	for _, row := range detectors {
		if row.Provider != "ai_likeness_rubric" {
			continue
		}
		s.AITotal = row.Score
		s.HasAI = true
		var result scorer.AIResult
		if err := json.Unmarshal([]byte(row.Details), &result); err == nil {
			s.AIRaw = &result.RawResponse
		}
	}

	return s, nil
}

// scoreChild runs both pure rubrics over the rewritten body.
func scoreChild(content string) (aeoTotal, aiTotal float64, err error) {
	aeo, err := scorer.ScoreAEO(content)
	if err != nil {
		return 0, 0, err
	}
	ai, err := scorer.ScoreAILikeness(content)
	if err != nil {
		return 0, 0, err
	}
	return aeo.TotalScore, ai.Score, nil
}

// closedCycles filters out cycles still pending; stop rules read only
// finished attempts.
func closedCycles(cycles []*db.RewriteCycle) []*db.RewriteCycle {
	var out []*db.RewriteCycle
	for _, c := range cycles {
		if c.RewriteStatus != "pending" {
			out = append(out, c)
		}
	}
	return out
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "quality triggers"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += ", " + r
	}
	return out
}
