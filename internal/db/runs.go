// CLAUDE:SUMMARY Evaluation run store — partially immutable run envelopes with write-once detector and AEO score rows
package db

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// EvaluationRun is the orchestration envelope of one evaluation pass.
// Everything except status and completed_at is frozen at insert.
type EvaluationRun struct {
	ID            string     `json:"id"`
	BlogVersionID string     `json:"blog_version_id"`
	RunAt         time.Time  `json:"run_at"`
	TriggeredBy   *string    `json:"triggered_by,omitempty"`
	ModelConfig   string     `json:"model_config"`
	Status        string     `json:"status"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// DetectorScore is one AI-likeness result row, write-once per
// (run, provider).
type DetectorScore struct {
	ID       string  `json:"id"`
	RunID    string  `json:"run_id"`
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
	Details  string  `json:"details"`
}

// AEOScore is one AEO result row, write-once per (run, query intent).
type AEOScore struct {
	ID          string  `json:"id"`
	RunID       string  `json:"run_id"`
	QueryIntent string  `json:"query_intent"`
	Score       float64 `json:"score"`
	Rationale   string  `json:"rationale"`
}

func (db *DB) CreateEvaluationRun(versionID string, triggeredBy *string, modelConfig string) (*EvaluationRun, error) {
	if modelConfig == "" {
		modelConfig = "{}"
	}
	id := NewID()
	_, err := db.Exec(`
		INSERT INTO evaluation_runs (id, blog_version_id, triggered_by, model_config)
		VALUES (?, ?, ?, ?)`,
		id, versionID, triggeredBy, modelConfig)
	if err != nil {
		return nil, mapErr(err, "creating evaluation run")
	}
	return db.GetEvaluationRun(id)
}

func (db *DB) GetEvaluationRun(id string) (*EvaluationRun, error) {
	r, err := scanRun(db.QueryRow(`
		SELECT id, blog_version_id, run_at, triggered_by, model_config, status, completed_at
		FROM evaluation_runs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ProcessingRunForVersion returns the version's run still in processing,
// or nil. This backs the pipeline's state-based idempotency.
func (db *DB) ProcessingRunForVersion(versionID string) (*EvaluationRun, error) {
	r, err := scanRun(db.QueryRow(`
		SELECT id, blog_version_id, run_at, triggered_by, model_config, status, completed_at
		FROM evaluation_runs
		WHERE blog_version_id = ? AND status = 'processing'
		ORDER BY run_at DESC, id DESC LIMIT 1`, versionID))
	if err != nil {
		if fault.Is(err, fault.Validation) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// FinalizeRun advances the run out of processing and stamps completed_at
// exactly once. The storage triggers reject repeats and backward moves.
func (db *DB) FinalizeRun(id, status string) error {
	switch status {
	case "completed", "partial_failure", "failed":
	default:
		return fault.New(fault.Validation, "runs finalize as completed, partial_failure or failed, not %q", status)
	}
	res, err := db.Exec(`
		UPDATE evaluation_runs SET status = ?, completed_at = datetime('now')
		WHERE id = ? AND status = 'processing'`,
		status, id)
	if err != nil {
		return mapErr(err, "finalizing evaluation run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.InvalidState, "run %s is not processing", id)
	}
	return nil
}

// LatestCompletedRunForVersion returns the version's most recent finished
// run with scores (status completed or partial_failure), ties broken by
// run_at then id, or nil when there is none.
func (db *DB) LatestCompletedRunForVersion(versionID string) (*EvaluationRun, error) {
	r, err := scanRun(db.QueryRow(`
		SELECT id, blog_version_id, run_at, triggered_by, model_config, status, completed_at
		FROM evaluation_runs
		WHERE blog_version_id = ? AND status IN ('completed','partial_failure')
		ORDER BY run_at DESC, id DESC LIMIT 1`, versionID))
	if err != nil {
		if fault.Is(err, fault.Validation) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// LatestCompletedRunForBlog returns the most recent completed run across
// all versions of the blog, excluding excludeRunID. Regression detection
// reads its baseline here.
func (db *DB) LatestCompletedRunForBlog(blogID, excludeRunID string) (*EvaluationRun, error) {
	r, err := scanRun(db.QueryRow(`
		SELECT r.id, r.blog_version_id, r.run_at, r.triggered_by, r.model_config, r.status, r.completed_at
		FROM evaluation_runs r
		JOIN blog_versions v ON v.id = r.blog_version_id
		WHERE v.blog_id = ? AND r.status = 'completed' AND r.id != ?
		ORDER BY r.run_at DESC, r.id DESC LIMIT 1`, blogID, excludeRunID))
	if err != nil {
		if fault.Is(err, fault.Validation) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// InsertDetectorScore writes a detector score row unless one already
// exists for (run, provider). Returns false without error on the
// duplicate, which is what makes scorer task retries idempotent.
func (db *DB) InsertDetectorScore(runID, provider string, score float64, detailsJSON string) (bool, error) {
	var exists int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM detector_scores WHERE run_id = ? AND provider = ?`,
		runID, provider).Scan(&exists); err != nil {
		return false, mapErr(err, "checking detector score")
	}
	if exists > 0 {
		return false, nil
	}
	_, err := db.Exec(`
		INSERT INTO detector_scores (id, run_id, provider, score, details)
		VALUES (?, ?, ?, ?, ?)`,
		NewID(), runID, provider, score, detailsJSON)
	if err != nil {
		// A concurrent retry may have won the race; the row exists either way.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return false, nil
		}
		return false, mapErr(err, "inserting detector score")
	}
	return true, nil
}

// InsertAEOScore is the AEO twin of InsertDetectorScore, keyed by
// (run, query intent).
func (db *DB) InsertAEOScore(runID, queryIntent string, score float64, rationale string) (bool, error) {
	var exists int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM aeo_scores WHERE run_id = ? AND query_intent = ?`,
		runID, queryIntent).Scan(&exists); err != nil {
		return false, mapErr(err, "checking aeo score")
	}
	if exists > 0 {
		return false, nil
	}
	_, err := db.Exec(`
		INSERT INTO aeo_scores (id, run_id, query_intent, score, rationale)
		VALUES (?, ?, ?, ?, ?)`,
		NewID(), runID, queryIntent, score, rationale)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return false, nil
		}
		return false, mapErr(err, "inserting aeo score")
	}
	return true, nil
}

func (db *DB) GetDetectorScores(runID string) ([]*DetectorScore, error) {
	rows, err := db.Query(`
		SELECT id, run_id, provider, score, details
		FROM detector_scores WHERE run_id = ? ORDER BY provider`, runID)
	if err != nil {
		return nil, mapErr(err, "listing detector scores")
	}
	defer rows.Close()

	var scores []*DetectorScore
	for rows.Next() {
		s := &DetectorScore{}
		if err := rows.Scan(&s.ID, &s.RunID, &s.Provider, &s.Score, &s.Details); err != nil {
			return nil, mapErr(err, "scanning detector score")
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

func (db *DB) GetAEOScores(runID string) ([]*AEOScore, error) {
	rows, err := db.Query(`
		SELECT id, run_id, query_intent, score, rationale
		FROM aeo_scores WHERE run_id = ? ORDER BY query_intent`, runID)
	if err != nil {
		return nil, mapErr(err, "listing aeo scores")
	}
	defer rows.Close()

	var scores []*AEOScore
	for rows.Next() {
		s := &AEOScore{}
		if err := rows.Scan(&s.ID, &s.RunID, &s.QueryIntent, &s.Score, &s.Rationale); err != nil {
			return nil, mapErr(err, "scanning aeo score")
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// MeanDetectorScore averages the run's detector rows. ok is false when the
// run has none.
func (db *DB) MeanDetectorScore(runID string) (mean float64, ok bool, err error) {
	var avg sql.NullFloat64
	if err := db.QueryRow(`
		SELECT AVG(score) FROM detector_scores WHERE run_id = ?`, runID).Scan(&avg); err != nil {
		return 0, false, mapErr(err, "averaging detector scores")
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

// AEOTotal returns the run's AEO score for the given intent.
func (db *DB) AEOTotal(runID, queryIntent string) (total float64, ok bool, err error) {
	var score sql.NullFloat64
	if err := db.QueryRow(`
		SELECT score FROM aeo_scores WHERE run_id = ? AND query_intent = ?`,
		runID, queryIntent).Scan(&score); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, mapErr(err, "loading aeo total")
	}
	if !score.Valid {
		return 0, false, nil
	}
	return score.Float64, true, nil
}

func scanRun(s interface{ Scan(...any) error }) (*EvaluationRun, error) {
	r := &EvaluationRun{}
	var triggeredBy sql.NullString
	var completedAt sql.NullTime
	err := s.Scan(&r.ID, &r.BlogVersionID, &r.RunAt, &triggeredBy, &r.ModelConfig, &r.Status, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.Validation, "evaluation run not found")
	}
	if err != nil {
		return nil, mapErr(err, "scanning evaluation run")
	}
	if triggeredBy.Valid {
		r.TriggeredBy = &triggeredBy.String
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}
