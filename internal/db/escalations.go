// CLAUDE:SUMMARY Escalation store — automation hard-stops awaiting human resolution; "escalated" is derived from open rows
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// Escalation is an open record of an automation hard-stop. There is no
// mutable is_escalated flag anywhere: a blog is escalated while it has
// rows in pending_review.
type Escalation struct {
	ID         string     `json:"id"`
	BlogID     string     `json:"blog_id"`
	VersionID  string     `json:"version_id"`
	Reason     string     `json:"reason"`
	Details    string     `json:"details"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy *string    `json:"resolved_by,omitempty"`
}

// OpenEscalation files a new pending escalation. details may be any
// JSON-marshalable value.
func (db *DB) OpenEscalation(blogID, versionID, reason string, details any) (*Escalation, error) {
	detailsJSON := "{}"
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, err, "marshaling escalation details")
		}
		detailsJSON = string(b)
	}
	id := NewID()
	_, err := db.Exec(`
		INSERT INTO escalations (id, blog_id, version_id, reason, details)
		VALUES (?, ?, ?, ?, ?)`,
		id, blogID, versionID, reason, detailsJSON)
	if err != nil {
		return nil, mapErr(err, "opening escalation")
	}
	return db.GetEscalation(id)
}

func (db *DB) GetEscalation(id string) (*Escalation, error) {
	e := &Escalation{}
	var resolvedAt sql.NullTime
	var resolvedBy sql.NullString
	err := db.QueryRow(`
		SELECT id, blog_id, version_id, reason, details, status, created_at, resolved_at, resolved_by
		FROM escalations WHERE id = ?`, id).Scan(
		&e.ID, &e.BlogID, &e.VersionID, &e.Reason, &e.Details, &e.Status,
		&e.CreatedAt, &resolvedAt, &resolvedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.Validation, "escalation %s not found", id)
	}
	if err != nil {
		return nil, mapErr(err, "loading escalation")
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		e.ResolvedBy = &resolvedBy.String
	}
	return e, nil
}

// ResolveEscalation closes a pending escalation as resolved or dismissed.
func (db *DB) ResolveEscalation(id, resolvedBy, status string) error {
	if status != "resolved" && status != "dismissed" {
		return fault.New(fault.Validation, "escalations close as resolved or dismissed, not %q", status)
	}
	res, err := db.Exec(`
		UPDATE escalations SET status = ?, resolved_at = datetime('now'), resolved_by = ?
		WHERE id = ? AND status = 'pending_review'`,
		status, resolvedBy, id)
	if err != nil {
		return mapErr(err, "resolving escalation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.InvalidState, "escalation %s is not pending", id)
	}
	return nil
}

// IsEscalated reports whether the blog has any open escalation.
func (db *DB) IsEscalated(blogID string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM escalations WHERE blog_id = ? AND status = 'pending_review'`,
		blogID).Scan(&count)
	if err != nil {
		return false, mapErr(err, "checking escalations")
	}
	return count > 0, nil
}

// ListEscalations returns a blog's escalations, newest first.
func (db *DB) ListEscalations(blogID string, openOnly bool) ([]*Escalation, error) {
	query := `
		SELECT id, blog_id, version_id, reason, details, status, created_at, resolved_at, resolved_by
		FROM escalations WHERE blog_id = ?`
	if openOnly {
		query += ` AND status = 'pending_review'`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.Query(query, blogID)
	if err != nil {
		return nil, mapErr(err, "listing escalations")
	}
	defer rows.Close()

	var escalations []*Escalation
	for rows.Next() {
		e := &Escalation{}
		var resolvedAt sql.NullTime
		var resolvedBy sql.NullString
		if err := rows.Scan(&e.ID, &e.BlogID, &e.VersionID, &e.Reason, &e.Details,
			&e.Status, &e.CreatedAt, &resolvedAt, &resolvedBy); err != nil {
			return nil, mapErr(err, "scanning escalation")
		}
		if resolvedAt.Valid {
			e.ResolvedAt = &resolvedAt.Time
		}
		if resolvedBy.Valid {
			e.ResolvedBy = &resolvedBy.String
		}
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}
