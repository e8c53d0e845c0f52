// CLAUDE:SUMMARY Approval store — write-once approval rows, append-only attempt audit, companion-row revocation, derived current approval
package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// ApprovalState declares that a specific version of a blog is approved.
// Revocation is a companion row with the revocation fields set; the
// "current approval" is the newest row per blog, and there is none when
// that row is a revocation.
type ApprovalState struct {
	ID                    string     `json:"id"`
	BlogID                string     `json:"blog_id"`
	ApprovedVersionID     string     `json:"approved_version_id"`
	ApproverID            string     `json:"approver_id"`
	ApprovedAt            time.Time  `json:"approved_at"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	RevokedBy             *string    `json:"revoked_by,omitempty"`
	RevocationReason      *string    `json:"revocation_reason,omitempty"`
	Notes                 *string    `json:"notes,omitempty"`
	ReviewDurationSeconds *int       `json:"review_duration_seconds,omitempty"`
}

// ApprovalAttempt audits every approval attempt, success or failure,
// with the actor's is_human flag snapshotted at attempt time.
type ApprovalAttempt struct {
	ID              string    `json:"id"`
	BlogID          string    `json:"blog_id"`
	VersionID       *string   `json:"version_id,omitempty"`
	AttemptedBy     string    `json:"attempted_by"`
	IsHumanSnapshot bool      `json:"is_human_snapshot"`
	Result          string    `json:"result"`
	FailureReason   *string   `json:"failure_reason,omitempty"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

type RecordApprovalInput struct {
	BlogID                string
	VersionID             string
	ApproverID            string
	Notes                 *string
	ReviewDurationSeconds *int
}

// RecordApproval inserts an approval row. The human precondition is
// enforced in SQL at the insert itself, so a stale in-process actor
// snapshot cannot slip a service account through. A repeat call with
// identical arguments while the approval is still current returns the
// existing row.
func (db *DB) RecordApproval(input RecordApprovalInput) (*ApprovalState, error) {
	version, err := db.GetVersion(input.VersionID)
	if err != nil {
		return nil, err
	}
	if version.BlogID != input.BlogID {
		return nil, fault.New(fault.InvalidVersion, "version %s does not belong to blog %s", input.VersionID, input.BlogID)
	}

	if existing, err := db.CurrentApproval(input.BlogID); err == nil && existing != nil &&
		existing.ApprovedVersionID == input.VersionID && existing.ApproverID == input.ApproverID {
		return existing, nil
	}

	id := NewID()
	res, err := db.Exec(`
		INSERT INTO approval_states (id, blog_id, approved_version_id, approver_id, notes, review_duration_seconds)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM actors WHERE id = ? AND is_human = 1)`,
		id, input.BlogID, input.VersionID, input.ApproverID, input.Notes, input.ReviewDurationSeconds,
		input.ApproverID)
	if err != nil {
		return nil, mapErr(err, "recording approval")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fault.New(fault.Forbidden, "approver %s is not a human actor", input.ApproverID)
	}
	return db.GetApproval(id)
}

func (db *DB) GetApproval(id string) (*ApprovalState, error) {
	return scanApproval(db.QueryRow(`
		SELECT id, blog_id, approved_version_id, approver_id, approved_at,
			revoked_at, revoked_by, revocation_reason, notes, review_duration_seconds
		FROM approval_states WHERE id = ?`, id))
}

// CurrentApproval returns the blog's current approval: the newest row by
// approved_at, ties broken by insertion order. A revocation row is newest
// after a revoke and shadows the approval it ends, so a revoked head
// means no current approval.
func (db *DB) CurrentApproval(blogID string) (*ApprovalState, error) {
	a, err := scanApproval(db.QueryRow(`
		SELECT id, blog_id, approved_version_id, approver_id, approved_at,
			revoked_at, revoked_by, revocation_reason, notes, review_duration_seconds
		FROM approval_states
		WHERE blog_id = ?
		ORDER BY approved_at DESC, rowid DESC
		LIMIT 1`, blogID))
	if err != nil {
		if fault.Is(err, fault.Validation) {
			return nil, nil
		}
		return nil, err
	}
	if a.RevokedAt != nil {
		return nil, nil
	}
	return a, nil
}

// RevokeApproval ends the blog's current approval by inserting a companion
// row that points at the same version and carries the revocation fields.
// The original approval row stays untouched (write-once).
func (db *DB) RevokeApproval(blogID, revokedBy, reason string) (*ApprovalState, error) {
	if reason == "" {
		return nil, fault.New(fault.Validation, "revocation reason is required")
	}
	current, err := db.CurrentApproval(blogID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fault.New(fault.InvalidState, "blog %s has no current approval", blogID)
	}

	id := NewID()
	_, err = db.Exec(`
		INSERT INTO approval_states (id, blog_id, approved_version_id, approver_id,
			revoked_at, revoked_by, revocation_reason)
		VALUES (?, ?, ?, ?, datetime('now'), ?, ?)`,
		id, blogID, current.ApprovedVersionID, current.ApproverID,
		revokedBy, reason)
	if err != nil {
		return nil, mapErr(err, "revoking approval")
	}
	return db.GetApproval(id)
}

type LogAttemptInput struct {
	BlogID          string
	VersionID       *string
	AttemptedBy     string
	IsHumanSnapshot bool
	Result          string
	FailureReason   *string
}

// LogAttempt appends an approval attempt with its final result. There is
// no pending state: the row is inserted once, fully formed.
func (db *DB) LogAttempt(input LogAttemptInput) (*ApprovalAttempt, error) {
	id := NewID()
	_, err := db.Exec(`
		INSERT INTO approval_attempts (id, blog_id, version_id, attempted_by, is_human_snapshot, result, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, input.BlogID, input.VersionID, input.AttemptedBy,
		boolToInt(input.IsHumanSnapshot), input.Result, input.FailureReason)
	if err != nil {
		return nil, mapErr(err, "logging approval attempt")
	}
	a := &ApprovalAttempt{
		ID:              id,
		BlogID:          input.BlogID,
		VersionID:       input.VersionID,
		AttemptedBy:     input.AttemptedBy,
		IsHumanSnapshot: input.IsHumanSnapshot,
		Result:          input.Result,
		FailureReason:   input.FailureReason,
	}
	return a, nil
}

// ListAttempts returns the attempt audit for a blog, newest first.
func (db *DB) ListAttempts(blogID string, limit int) ([]*ApprovalAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, blog_id, version_id, attempted_by, is_human_snapshot, result, failure_reason, attempted_at
		FROM approval_attempts WHERE blog_id = ?
		ORDER BY attempted_at DESC, id DESC LIMIT ?`, blogID, limit)
	if err != nil {
		return nil, mapErr(err, "listing approval attempts")
	}
	defer rows.Close()

	var attempts []*ApprovalAttempt
	for rows.Next() {
		a := &ApprovalAttempt{}
		var versionID, failureReason sql.NullString
		var isHuman int
		if err := rows.Scan(&a.ID, &a.BlogID, &versionID, &a.AttemptedBy, &isHuman,
			&a.Result, &failureReason, &a.AttemptedAt); err != nil {
			return nil, mapErr(err, "scanning approval attempt")
		}
		a.IsHumanSnapshot = isHuman == 1
		if versionID.Valid {
			a.VersionID = &versionID.String
		}
		if failureReason.Valid {
			a.FailureReason = &failureReason.String
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CountFastApprovals counts the reviewer's fast-approval audit rows within
// the window, feeding the co-signature gate.
func (db *DB) CountFastApprovals(approverID string, window time.Duration) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM approval_states
		WHERE approver_id = ? AND notes = 'fast approval'
		  AND approved_at >= datetime('now', ?)`,
		approverID, sqliteAgo(window)).Scan(&count)
	if err != nil {
		return 0, mapErr(err, "counting fast approvals")
	}
	return count, nil
}

func scanApproval(s interface{ Scan(...any) error }) (*ApprovalState, error) {
	a := &ApprovalState{}
	var revokedAt sql.NullTime
	var revokedBy, revocationReason, notes sql.NullString
	var duration sql.NullInt64
	err := s.Scan(
		&a.ID, &a.BlogID, &a.ApprovedVersionID, &a.ApproverID, &a.ApprovedAt,
		&revokedAt, &revokedBy, &revocationReason, &notes, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.Validation, "approval not found")
	}
	if err != nil {
		return nil, mapErr(err, "scanning approval")
	}
	if revokedAt.Valid {
		a.RevokedAt = &revokedAt.Time
	}
	if revokedBy.Valid {
		a.RevokedBy = &revokedBy.String
	}
	if revocationReason.Valid {
		a.RevocationReason = &revocationReason.String
	}
	if notes.Valid {
		a.Notes = &notes.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		a.ReviewDurationSeconds = &d
	}
	return a, nil
}
