// CLAUDE:SUMMARY Review store — per-version state pointer, append-only human review actions, counters feeding escalation rules
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// ReviewState is the mutable per-version pointer of the review state
// machine. Terminal states are frozen by a trigger; history lives in
// human_review_actions.
type ReviewState struct {
	VersionID       string     `json:"version_id"`
	BlogID          string     `json:"blog_id"`
	State           string     `json:"state"`
	ReviewStartedAt *time.Time `json:"review_started_at,omitempty"`
	SubmitCount     int        `json:"submit_count"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ReviewAction is one append-only review event.
type ReviewAction struct {
	VersionID          string
	ReviewerID         string
	Action             string
	Comments           *string
	IsOverride         bool
	Justification      *string
	RiskAcceptanceNote *string
}

func (db *DB) GetReviewState(versionID string) (*ReviewState, error) {
	rs := &ReviewState{}
	var startedAt sql.NullTime
	err := db.QueryRow(`
		SELECT version_id, blog_id, state, review_started_at, submit_count, updated_at
		FROM review_states WHERE version_id = ?`, versionID).Scan(
		&rs.VersionID, &rs.BlogID, &rs.State, &startedAt, &rs.SubmitCount, &rs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.InvalidVersion, "no review state for version %s", versionID)
	}
	if err != nil {
		return nil, mapErr(err, "loading review state")
	}
	if startedAt.Valid {
		rs.ReviewStartedAt = &startedAt.Time
	}
	return rs, nil
}

// TransitionReviewState moves a version's state pointer. The caller has
// already validated the transition; the terminal-state trigger is the
// storage backstop.
func (db *DB) TransitionReviewState(versionID, newState string) error {
	var res sql.Result
	var err error
	if newState == "IN_REVIEW" {
		res, err = db.Exec(`
			UPDATE review_states
			SET state = ?, review_started_at = datetime('now'),
			    submit_count = submit_count + 1, updated_at = datetime('now')
			WHERE version_id = ?`, newState, versionID)
	} else {
		res, err = db.Exec(`
			UPDATE review_states SET state = ?, updated_at = datetime('now')
			WHERE version_id = ?`, newState, versionID)
	}
	if err != nil {
		return mapErr(err, "transitioning review state")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.InvalidVersion, "no review state for version %s", versionID)
	}
	return nil
}

// LogReviewAction appends a review event.
func (db *DB) LogReviewAction(a ReviewAction) error {
	id := NewID()
	_, err := db.Exec(`
		INSERT INTO human_review_actions (id, version_id, reviewer_id, action, comments,
			is_override, justification, risk_acceptance_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.VersionID, a.ReviewerID, a.Action, a.Comments,
		boolToInt(a.IsOverride), a.Justification, a.RiskAcceptanceNote)
	if err != nil {
		return mapErr(err, "logging review action")
	}
	return nil
}

// ListReviewActions returns the review history for a version, oldest first.
func (db *DB) ListReviewActions(versionID string) ([]map[string]any, error) {
	rows, err := db.Query(`
		SELECT id, reviewer_id, action, comments, is_override, justification, risk_acceptance_note, performed_at
		FROM human_review_actions WHERE version_id = ?
		ORDER BY performed_at, id`, versionID)
	if err != nil {
		return nil, mapErr(err, "listing review actions")
	}
	defer rows.Close()

	var actions []map[string]any
	for rows.Next() {
		var id, reviewerID, action string
		var comments, justification, riskNote sql.NullString
		var isOverride int
		var performedAt time.Time
		if err := rows.Scan(&id, &reviewerID, &action, &comments, &isOverride,
			&justification, &riskNote, &performedAt); err != nil {
			return nil, mapErr(err, "scanning review action")
		}
		entry := map[string]any{
			"id":           id,
			"reviewer_id":  reviewerID,
			"action":       action,
			"is_override":  isOverride == 1,
			"performed_at": performedAt,
		}
		if comments.Valid {
			entry["comments"] = comments.String
		}
		if justification.Valid {
			entry["justification"] = justification.String
		}
		if riskNote.Valid {
			entry["risk_acceptance_note"] = riskNote.String
		}
		actions = append(actions, entry)
	}
	return actions, rows.Err()
}

// CountSubmitEvents returns how many times versions of the blog entered
// review, the counter behind the max-review-cycles rule.
func (db *DB) CountSubmitEvents(blogID string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM human_review_actions a
		JOIN blog_versions v ON v.id = a.version_id
		WHERE v.blog_id = ? AND a.action = 'SUBMIT'`, blogID).Scan(&count)
	if err != nil {
		return 0, mapErr(err, "counting submit events")
	}
	return count, nil
}

// CountRejectionsBy counts REJECT actions by one reviewer on a blog's
// versions within the window.
func (db *DB) CountRejectionsBy(blogID, reviewerID string, window time.Duration) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM human_review_actions a
		JOIN blog_versions v ON v.id = a.version_id
		WHERE v.blog_id = ? AND a.reviewer_id = ? AND a.action = 'REJECT'
		  AND a.performed_at >= datetime('now', ?)`,
		blogID, reviewerID, sqliteAgo(window)).Scan(&count)
	if err != nil {
		return 0, mapErr(err, "counting rejections")
	}
	return count, nil
}

// StaleInReview returns version ids that have sat in IN_REVIEW longer than
// maxAge, for the auto-archive sweep.
func (db *DB) StaleInReview(maxAge time.Duration) ([]string, error) {
	rows, err := db.Query(`
		SELECT version_id FROM review_states
		WHERE state = 'IN_REVIEW' AND review_started_at < datetime('now', ?)`,
		sqliteAgo(maxAge))
	if err != nil {
		return nil, mapErr(err, "finding stale reviews")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err, "scanning stale review")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sqliteAgo renders a duration as a negative SQLite datetime modifier,
// e.g. 24h -> "-86400 seconds".
func sqliteAgo(d time.Duration) string {
	return fmt.Sprintf("-%d seconds", int64(d.Seconds()))
}
