// CLAUDE:SUMMARY Regression detection — compares a finalized run's aggregates against the blog's previous completed run
package pipeline

import (
	"encoding/json"

	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/scorer"
)

// regressionThreshold is the drop, in points, that opens an escalation.
const regressionThreshold = 10.0

// detectRegression compares the run's aggregates (mean detector score,
// AEO total) against the most recent completed run for the same blog.
// A metric is compared only when the model versions behind it match
// between the two runs; a mismatch skips the metric with a warning.
// A drop of more than regressionThreshold on any compared metric opens a
// score_regression escalation — unless the blog is currently approved,
// in which case human override governs and nothing happens.
func (p *Pipeline) detectRegression(run *db.EvaluationRun, version *db.Version) {
	prior, err := p.db.LatestCompletedRunForBlog(version.BlogID, run.ID)
	if err != nil {
		p.logger.Error("loading prior run for regression check", "run_id", run.ID, "error", err)
		return
	}
	if prior == nil {
		return
	}

	type drop struct {
		Metric string  `json:"metric"`
		Prior  float64 `json:"prior"`
		New    float64 `json:"new"`
	}
	var drops []drop

	// Mean detector score: higher AI-likeness is worse, so a regression
	// here is the mean RISING; the spec's "drops by more than 10 points"
	// reads on quality. Quality proxy for detectors is (100 - mean).
	if priorMean, priorOK := p.detectorQuality(prior.ID); priorOK {
		if newMean, newOK := p.detectorQuality(run.ID); newOK {
			if p.detectorVersionsMatch(prior.ID, run.ID) {
				if priorMean-newMean > regressionThreshold {
					drops = append(drops, drop{Metric: "detector_quality", Prior: priorMean, New: newMean})
				}
			} else {
				p.logger.Warn("detector model versions differ between runs, skipping metric",
					"run_id", run.ID, "prior_run_id", prior.ID)
			}
		}
	}

	// AEO total for the default intent.
	priorAEO, priorOK, err := p.db.AEOTotal(prior.ID, scorer.DefaultQueryIntent)
	if err == nil && priorOK {
		newAEO, newOK, err := p.db.AEOTotal(run.ID, scorer.DefaultQueryIntent)
		if err == nil && newOK {
			if p.aeoVersionsMatch(prior.ID, run.ID) {
				if priorAEO-newAEO > regressionThreshold {
					drops = append(drops, drop{Metric: "aeo_total", Prior: priorAEO, New: newAEO})
				}
			} else {
				p.logger.Warn("aeo rubric versions differ between runs, skipping metric",
					"run_id", run.ID, "prior_run_id", prior.ID)
			}
		}
	}

	if len(drops) == 0 {
		return
	}

	approval, err := p.db.CurrentApproval(version.BlogID)
	if err != nil {
		p.logger.Error("loading approval for regression check", "run_id", run.ID, "error", err)
		return
	}
	if approval != nil {
		// Approved content stays under human control; no escalation.
		return
	}

	if _, err := p.db.OpenEscalation(version.BlogID, version.ID, "score_regression", map[string]any{
		"run_id":       run.ID,
		"prior_run_id": prior.ID,
		"drops":        drops,
	}); err != nil {
		p.logger.Error("opening regression escalation", "run_id", run.ID, "error", err)
		return
	}

	p.logger.Info("score regression escalated",
		"run_id", run.ID,
		"blog_id", version.BlogID,
		"metrics", len(drops),
	)
}

// detectorQuality is 100 minus the run's mean detector score.
func (p *Pipeline) detectorQuality(runID string) (float64, bool) {
	mean, ok, err := p.db.MeanDetectorScore(runID)
	if err != nil || !ok {
		return 0, false
	}
	return 100 - mean, true
}

// detectorVersionsMatch reports whether the two runs scored with the same
// providers at the same model versions.
func (p *Pipeline) detectorVersionsMatch(priorRunID, newRunID string) bool {
	priorVersions, err := p.detectorVersions(priorRunID)
	if err != nil {
		return false
	}
	newVersions, err := p.detectorVersions(newRunID)
	if err != nil {
		return false
	}
	if len(priorVersions) != len(newVersions) {
		return false
	}
	for provider, v := range priorVersions {
		if newVersions[provider] != v {
			return false
		}
	}
	return true
}

func (p *Pipeline) detectorVersions(runID string) (map[string]string, error) {
	scores, err := p.db.GetDetectorScores(runID)
	if err != nil {
		return nil, err
	}
	versions := make(map[string]string, len(scores))
	for _, s := range scores {
		var details struct {
			ModelVersion string `json:"model_version"`
		}
		if err := json.Unmarshal([]byte(s.Details), &details); err != nil {
			return nil, err
		}
		versions[s.Provider] = details.ModelVersion
	}
	return versions, nil
}

// aeoVersionsMatch compares the rubric_version embedded in the AEO
// rationale of both runs.
func (p *Pipeline) aeoVersionsMatch(priorRunID, newRunID string) bool {
	priorVersion, err := p.aeoVersion(priorRunID)
	if err != nil {
		return false
	}
	newVersion, err := p.aeoVersion(newRunID)
	if err != nil {
		return false
	}
	return priorVersion == newVersion && priorVersion != ""
}

func (p *Pipeline) aeoVersion(runID string) (string, error) {
	scores, err := p.db.GetAEOScores(runID)
	if err != nil {
		return "", err
	}
	for _, s := range scores {
		if s.QueryIntent != scorer.DefaultQueryIntent {
			continue
		}
		var rationale struct {
			RubricVersion string `json:"rubric_version"`
		}
		if err := json.Unmarshal([]byte(s.Rationale), &rationale); err != nil {
			return "", err
		}
		return rationale.RubricVersion, nil
	}
	return "", nil
}
