// CLAUDE:SUMMARY Rewrite cycle store — check-then-insert cycle rows with frozen prompts and trend/status completion updates
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// RewriteCycle is one orchestrated rewrite attempt from a parent version.
// Prompt and trigger snapshot are write-once; status moves
// pending -> completed | terminal.
type RewriteCycle struct {
	ID              string    `json:"id"`
	ParentVersionID string    `json:"parent_version_id"`
	ChildVersionID  *string   `json:"child_version_id,omitempty"`
	CycleNumber     int       `json:"cycle_number"`
	TriggerReasons  []string  `json:"trigger_reasons"`
	TriggerData     string    `json:"trigger_data"`
	RewritePrompt   string    `json:"rewrite_prompt"`
	ParentAEOTotal  *float64  `json:"parent_aeo_total,omitempty"`
	ParentAITotal   *float64  `json:"parent_ai_total,omitempty"`
	ChildAEOTotal   *float64  `json:"child_aeo_total,omitempty"`
	ChildAITotal    *float64  `json:"child_ai_total,omitempty"`
	TrendOutcome    *string   `json:"trend_outcome,omitempty"`
	TrendCode       *int      `json:"trend_code,omitempty"`
	RewriteStatus   string    `json:"rewrite_status"`
	StopReason      *string   `json:"stop_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type CreateCycleInput struct {
	ParentVersionID string
	TriggerReasons  []string
	TriggerData     any
	RewritePrompt   string
	ParentAEOTotal  *float64
	ParentAITotal   *float64
}

// CreateCycle inserts the next pending cycle for a parent version. The
// cycle number is 1 + max existing; the (parent, cycle_number) uniqueness
// turns two concurrent inserts of the same number into a conflict. An
// existing pending cycle does not block the insert of the next one.
func (db *DB) CreateCycle(input CreateCycleInput) (*RewriteCycle, error) {
	if input.RewritePrompt == "" {
		return nil, fault.New(fault.Validation, "rewrite prompt is required")
	}
	reasonsJSON, err := json.Marshal(input.TriggerReasons)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "marshaling trigger reasons")
	}
	dataJSON := "{}"
	if input.TriggerData != nil {
		b, err := json.Marshal(input.TriggerData)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, err, "marshaling trigger data")
		}
		dataJSON = string(b)
	}

	var next int
	if err := db.QueryRow(`
		SELECT COALESCE(MAX(cycle_number), 0) + 1 FROM rewrite_cycles WHERE parent_version_id = ?`,
		input.ParentVersionID).Scan(&next); err != nil {
		return nil, mapErr(err, "computing cycle number")
	}

	id := NewID()
	_, err = db.Exec(`
		INSERT INTO rewrite_cycles (id, parent_version_id, cycle_number, trigger_reasons,
			trigger_data, rewrite_prompt, parent_aeo_total, parent_ai_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, input.ParentVersionID, next, string(reasonsJSON), dataJSON,
		input.RewritePrompt, input.ParentAEOTotal, input.ParentAITotal)
	if err != nil {
		return nil, mapErr(err, "creating rewrite cycle")
	}
	return db.GetCycle(id)
}

func (db *DB) GetCycle(id string) (*RewriteCycle, error) {
	return scanCycle(db.QueryRow(`
		SELECT id, parent_version_id, child_version_id, cycle_number, trigger_reasons,
			trigger_data, rewrite_prompt, parent_aeo_total, parent_ai_total,
			child_aeo_total, child_ai_total, trend_outcome, trend_code,
			rewrite_status, stop_reason, created_at
		FROM rewrite_cycles WHERE id = ?`, id))
}

// CompleteCycle links the child version, records the child score snapshot
// and trend, and closes the cycle as completed or terminal.
func (db *DB) CompleteCycle(id string, childVersionID *string, childAEO, childAI *float64,
	trendOutcome *string, trendCode *int, status string, stopReason *string) error {
	if status != "completed" && status != "terminal" {
		return fault.New(fault.Validation, "cycles close as completed or terminal, not %q", status)
	}
	res, err := db.Exec(`
		UPDATE rewrite_cycles
		SET child_version_id = ?, child_aeo_total = ?, child_ai_total = ?,
		    trend_outcome = ?, trend_code = ?, rewrite_status = ?, stop_reason = ?
		WHERE id = ? AND rewrite_status = 'pending'`,
		childVersionID, childAEO, childAI, trendOutcome, trendCode, status, stopReason, id)
	if err != nil {
		return mapErr(err, "completing rewrite cycle")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.InvalidState, "cycle %s is not pending", id)
	}
	return nil
}

// MarkCycleTerminal closes a pending cycle without a child.
func (db *DB) MarkCycleTerminal(id, stopReason string) error {
	return db.CompleteCycle(id, nil, nil, nil, nil, nil, "terminal", &stopReason)
}

// CountCyclesForBlog counts every rewrite cycle attempted against any
// version of the blog; the orchestrator's cap reads this.
func (db *DB) CountCyclesForBlog(blogID string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM rewrite_cycles c
		JOIN blog_versions v ON v.id = c.parent_version_id
		WHERE v.blog_id = ?`, blogID).Scan(&count)
	if err != nil {
		return 0, mapErr(err, "counting rewrite cycles")
	}
	return count, nil
}

// ListCyclesForParent returns a parent version's cycles in cycle order.
func (db *DB) ListCyclesForParent(parentVersionID string) ([]*RewriteCycle, error) {
	rows, err := db.Query(`
		SELECT id, parent_version_id, child_version_id, cycle_number, trigger_reasons,
			trigger_data, rewrite_prompt, parent_aeo_total, parent_ai_total,
			child_aeo_total, child_ai_total, trend_outcome, trend_code,
			rewrite_status, stop_reason, created_at
		FROM rewrite_cycles WHERE parent_version_id = ?
		ORDER BY cycle_number`, parentVersionID)
	if err != nil {
		return nil, mapErr(err, "listing rewrite cycles")
	}
	defer rows.Close()

	var cycles []*RewriteCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// RecentCyclesForBlog returns the blog's cycles newest first, feeding the
// loop-breaking rules (consecutive stagnation, oscillation span).
func (db *DB) RecentCyclesForBlog(blogID string, limit int) ([]*RewriteCycle, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT c.id, c.parent_version_id, c.child_version_id, c.cycle_number, c.trigger_reasons,
			c.trigger_data, c.rewrite_prompt, c.parent_aeo_total, c.parent_ai_total,
			c.child_aeo_total, c.child_ai_total, c.trend_outcome, c.trend_code,
			c.rewrite_status, c.stop_reason, c.created_at
		FROM rewrite_cycles c
		JOIN blog_versions v ON v.id = c.parent_version_id
		WHERE v.blog_id = ?
		ORDER BY c.created_at DESC, c.cycle_number DESC
		LIMIT ?`, blogID, limit)
	if err != nil {
		return nil, mapErr(err, "listing recent cycles")
	}
	defer rows.Close()

	var cycles []*RewriteCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func scanCycle(s interface{ Scan(...any) error }) (*RewriteCycle, error) {
	c := &RewriteCycle{}
	var childID, trendOutcome, stopReason sql.NullString
	var reasonsJSON string
	var parentAEO, parentAI, childAEO, childAI sql.NullFloat64
	var trendCode sql.NullInt64
	err := s.Scan(
		&c.ID, &c.ParentVersionID, &childID, &c.CycleNumber, &reasonsJSON,
		&c.TriggerData, &c.RewritePrompt, &parentAEO, &parentAI,
		&childAEO, &childAI, &trendOutcome, &trendCode,
		&c.RewriteStatus, &stopReason, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.Validation, "rewrite cycle not found")
	}
	if err != nil {
		return nil, mapErr(err, "scanning rewrite cycle")
	}
	if err := json.Unmarshal([]byte(reasonsJSON), &c.TriggerReasons); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "unmarshaling trigger reasons")
	}
	if childID.Valid {
		c.ChildVersionID = &childID.String
	}
	if parentAEO.Valid {
		c.ParentAEOTotal = &parentAEO.Float64
	}
	if parentAI.Valid {
		c.ParentAITotal = &parentAI.Float64
	}
	if childAEO.Valid {
		c.ChildAEOTotal = &childAEO.Float64
	}
	if childAI.Valid {
		c.ChildAITotal = &childAI.Float64
	}
	if trendOutcome.Valid {
		c.TrendOutcome = &trendOutcome.String
	}
	if trendCode.Valid {
		tc := int(trendCode.Int64)
		c.TrendCode = &tc
	}
	if stopReason.Valid {
		c.StopReason = &stopReason.String
	}
	return c, nil
}
