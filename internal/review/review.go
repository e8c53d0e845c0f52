// Package review is the human review state machine:
// DRAFT -> IN_REVIEW -> {APPROVED | REJECTED | ARCHIVED}, with a
// per-version review clock, DB-backed human verification, rubber-stamp
// detection with a co-signature gate, an audited override path, and
// escalation rules for review loops. Failed decision checks (human,
// state, timer, rationale, co-signature) and successful decisions are
// logged as attempt rows before the outcome is returned.
package review

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/fault"
)

type Config struct {
	// MinReviewDuration gates approve/reject after entering IN_REVIEW.
	MinReviewDuration time.Duration
	// FastApprovalThreshold flags approvals granted too soon after the
	// version was created.
	FastApprovalThreshold time.Duration
	// MaxReviewCycles bounds submit_for_review events per blog.
	MaxReviewCycles int
	// MaxInReview auto-archives versions stuck in review.
	MaxInReview time.Duration
	// CosignWindow and CosignFastApprovals drive the co-signature gate.
	CosignWindow        time.Duration
	CosignFastApprovals int
	RepeatRejectWindow  time.Duration
	RepeatRejectCount   int
}

func DefaultConfig() Config {
	return Config{
		MinReviewDuration:     300 * time.Second,
		FastApprovalThreshold: 30 * time.Second,
		MaxReviewCycles:       5,
		MaxInReview:           7 * 24 * time.Hour,
		CosignWindow:          24 * time.Hour,
		CosignFastApprovals:   3,
		RepeatRejectWindow:    7 * 24 * time.Hour,
		RepeatRejectCount:     3,
	}
}

// Machine drives review transitions against the content store.
type Machine struct {
	db     *db.DB
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewMachine(database *db.DB, cfg Config, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinReviewDuration == 0 {
		cfg = DefaultConfig()
	}
	return &Machine{db: database, cfg: cfg, logger: logger, now: time.Now}
}

// Eligibility is the authoritative approve/reject snapshot; the UI never
// computes this itself.
type Eligibility struct {
	State            string `json:"state"`
	CanDecide        bool   `json:"can_decide"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

func (m *Machine) Eligibility(versionID string) (*Eligibility, error) {
	rs, err := m.db.GetReviewState(versionID)
	if err != nil {
		return nil, err
	}
	e := &Eligibility{State: rs.State}
	if rs.State != "IN_REVIEW" || rs.ReviewStartedAt == nil {
		return e, nil
	}
	elapsed := m.now().UTC().Sub(rs.ReviewStartedAt.UTC())
	if elapsed >= m.cfg.MinReviewDuration {
		e.CanDecide = true
	} else {
		e.RemainingSeconds = int((m.cfg.MinReviewDuration - elapsed).Seconds())
	}
	return e, nil
}

// StartReview moves a DRAFT version into IN_REVIEW and starts its review
// clock. Exceeding the per-blog review-cycle cap opens an escalation but
// does not block the submission.
func (m *Machine) StartReview(versionID, actorID string) (*db.ReviewState, error) {
	rs, err := m.db.GetReviewState(versionID)
	if err != nil {
		return nil, err
	}
	if rs.State != "DRAFT" {
		return nil, fault.New(fault.InvalidState, "version %s is %s, not DRAFT", versionID, rs.State)
	}

	if err := m.db.TransitionReviewState(versionID, "IN_REVIEW"); err != nil {
		return nil, err
	}
	if err := m.db.LogReviewAction(db.ReviewAction{
		VersionID:  versionID,
		ReviewerID: actorID,
		Action:     "SUBMIT",
	}); err != nil {
		return nil, err
	}

	submits, err := m.db.CountSubmitEvents(rs.BlogID)
	if err != nil {
		return nil, err
	}
	if submits > m.cfg.MaxReviewCycles {
		if _, err := m.db.OpenEscalation(rs.BlogID, versionID, "max_review_cycles", map[string]any{
			"submit_count": submits,
			"max":          m.cfg.MaxReviewCycles,
		}); err != nil {
			m.logger.Error("opening review-cycle escalation", "blog_id", rs.BlogID, "error", err)
		}
	}

	return m.db.GetReviewState(versionID)
}

type DecisionInput struct {
	VersionID  string
	ReviewerID string
	Rationale  string
	// CoSignerID satisfies the co-signature gate when the reviewer has
	// accumulated too many fast approvals; it must name an admin.
	CoSignerID *string
}

// Approve runs the full approval sequence. A failed check or a success
// writes the attempt row with its result before the call returns; lookup
// and storage errors are returned without one.
func (m *Machine) Approve(input DecisionInput) (*db.ApprovalState, error) {
	version, rs, reviewer, ferr := m.decisionPreamble(input.VersionID, input.ReviewerID)
	if ferr != nil {
		return nil, ferr
	}

	fail := func(result, reason string, kind fault.Kind) error {
		m.logAttempt(version, reviewer, result, reason)
		return fault.New(kind, "%s", reason)
	}

	if !reviewer.IsHuman {
		return nil, fail("forbidden", "User is not marked as human", fault.Forbidden)
	}
	if version.BlogID != rs.BlogID {
		return nil, fail("invalid_version", "version does not belong to the target blog", fault.InvalidVersion)
	}
	if rs.State != "IN_REVIEW" {
		return nil, fail("invalid_state", fmt.Sprintf("version is %s, not IN_REVIEW", rs.State), fault.InvalidState)
	}

	now := m.now().UTC()
	if rs.ReviewStartedAt == nil {
		return nil, fail("invalid_state", "review clock never started", fault.InvalidState)
	}
	elapsed := now.Sub(rs.ReviewStartedAt.UTC())
	if elapsed < m.cfg.MinReviewDuration {
		remaining := int((m.cfg.MinReviewDuration - elapsed).Seconds())
		return nil, fail("invalid_state",
			fmt.Sprintf("timer: %d seconds of review remaining", remaining), fault.InvalidState)
	}

	if len(input.Rationale) < 20 {
		return nil, fail("invalid_state", "rationale must be at least 20 characters", fault.InvalidState)
	}

	// Rubber-stamp detection: an approval granted within the fast
	// threshold of the version's creation is audited and noted.
	fast := now.Sub(version.CreatedAt.UTC()) < m.cfg.FastApprovalThreshold

	if fast {
		count, err := m.db.CountFastApprovals(reviewer.ID, m.cfg.CosignWindow)
		if err != nil {
			return nil, err
		}
		if count >= m.cfg.CosignFastApprovals {
			if !m.cosigned(input.CoSignerID) {
				return nil, fail("forbidden", "cosign_required: repeated fast approvals need a senior co-signature", fault.Forbidden)
			}
		}
	}

	var notes *string
	if fast {
		n := "fast approval"
		notes = &n
	}
	duration := int(elapsed.Seconds())

	approval, err := m.db.RecordApproval(db.RecordApprovalInput{
		BlogID:                version.BlogID,
		VersionID:             version.ID,
		ApproverID:            reviewer.ID,
		Notes:                 notes,
		ReviewDurationSeconds: &duration,
	})
	if err != nil {
		if fault.Is(err, fault.Forbidden) {
			m.logAttempt(version, reviewer, "forbidden", err.Error())
		}
		return nil, err
	}

	if err := m.db.TransitionReviewState(version.ID, "APPROVED"); err != nil {
		return nil, err
	}
	if err := m.db.LogReviewAction(db.ReviewAction{
		VersionID:  version.ID,
		ReviewerID: reviewer.ID,
		Action:     "APPROVE",
		Comments:   &input.Rationale,
	}); err != nil {
		return nil, err
	}
	m.logAttempt(version, reviewer, "success", "")

	if fast {
		if _, err := m.db.OpenEscalation(version.BlogID, version.ID, "fast_approval", map[string]any{
			"approver_id":       reviewer.ID,
			"elapsed_seconds":   now.Sub(version.CreatedAt.UTC()).Seconds(),
			"threshold_seconds": m.cfg.FastApprovalThreshold.Seconds(),
		}); err != nil {
			m.logger.Error("opening fast-approval audit", "version_id", version.ID, "error", err)
		}
	}

	return approval, nil
}

// Reject is the terminal negative decision for a version; subsequent
// edits create a new version.
func (m *Machine) Reject(input DecisionInput) error {
	version, rs, reviewer, ferr := m.decisionPreamble(input.VersionID, input.ReviewerID)
	if ferr != nil {
		return ferr
	}

	fail := func(result, reason string, kind fault.Kind) error {
		m.logAttempt(version, reviewer, result, reason)
		return fault.New(kind, "%s", reason)
	}

	if !reviewer.IsHuman {
		return fail("forbidden", "User is not marked as human", fault.Forbidden)
	}
	if rs.State != "IN_REVIEW" {
		return fail("invalid_state", fmt.Sprintf("version is %s, not IN_REVIEW", rs.State), fault.InvalidState)
	}
	if rs.ReviewStartedAt == nil {
		return fail("invalid_state", "review clock never started", fault.InvalidState)
	}
	elapsed := m.now().UTC().Sub(rs.ReviewStartedAt.UTC())
	if elapsed < m.cfg.MinReviewDuration {
		remaining := int((m.cfg.MinReviewDuration - elapsed).Seconds())
		return fail("invalid_state",
			fmt.Sprintf("timer: %d seconds of review remaining", remaining), fault.InvalidState)
	}
	if len(input.Rationale) < 20 {
		return fail("invalid_state", "rationale must be at least 20 characters", fault.InvalidState)
	}

	if err := m.db.TransitionReviewState(version.ID, "REJECTED"); err != nil {
		return err
	}
	if err := m.db.LogReviewAction(db.ReviewAction{
		VersionID:  version.ID,
		ReviewerID: reviewer.ID,
		Action:     "REJECT",
		Comments:   &input.Rationale,
	}); err != nil {
		return err
	}
	m.logAttempt(version, reviewer, "success", "")

	// Repeat rejections by the same reviewer escalate for reassignment.
	count, err := m.db.CountRejectionsBy(version.BlogID, reviewer.ID, m.cfg.RepeatRejectWindow)
	if err != nil {
		return err
	}
	if count >= m.cfg.RepeatRejectCount {
		if _, err := m.db.OpenEscalation(version.BlogID, version.ID, "repeat_rejections", map[string]any{
			"reviewer_id": reviewer.ID,
			"rejections":  count,
		}); err != nil {
			m.logger.Error("opening repeat-rejection escalation", "blog_id", version.BlogID, "error", err)
		}
	}

	return nil
}

type OverrideInput struct {
	VersionID          string
	ReviewerID         string
	Justification      string
	RiskAcceptanceNote string
}

// RequestOverride is the distinct override path: human-only, both the
// justification and the risk acceptance note are required, and the action
// is logged with is_override=true. The override bypasses the review timer
// but never the human check or terminal states.
func (m *Machine) RequestOverride(input OverrideInput) (*db.ApprovalState, error) {
	if input.Justification == "" || input.RiskAcceptanceNote == "" {
		return nil, fault.New(fault.Validation, "override requires justification and risk_acceptance_note")
	}

	version, rs, reviewer, ferr := m.decisionPreamble(input.VersionID, input.ReviewerID)
	if ferr != nil {
		return nil, ferr
	}

	if !reviewer.IsHuman {
		m.logAttempt(version, reviewer, "forbidden", "User is not marked as human")
		return nil, fault.New(fault.Forbidden, "User is not marked as human")
	}
	if rs.State != "IN_REVIEW" && rs.State != "DRAFT" {
		m.logAttempt(version, reviewer, "invalid_state", "terminal state")
		return nil, fault.New(fault.InvalidState, "version %s is %s", version.ID, rs.State)
	}

	notes := "override: " + input.Justification
	approval, err := m.db.RecordApproval(db.RecordApprovalInput{
		BlogID:     version.BlogID,
		VersionID:  version.ID,
		ApproverID: reviewer.ID,
		Notes:      &notes,
	})
	if err != nil {
		return nil, err
	}

	if rs.State == "DRAFT" {
		if err := m.db.TransitionReviewState(version.ID, "IN_REVIEW"); err != nil {
			return nil, err
		}
	}
	if err := m.db.TransitionReviewState(version.ID, "APPROVED"); err != nil {
		return nil, err
	}
	if err := m.db.LogReviewAction(db.ReviewAction{
		VersionID:          version.ID,
		ReviewerID:         reviewer.ID,
		Action:             "OVERRIDE",
		IsOverride:         true,
		Justification:      &input.Justification,
		RiskAcceptanceNote: &input.RiskAcceptanceNote,
	}); err != nil {
		return nil, err
	}
	m.logAttempt(version, reviewer, "success", "")

	return approval, nil
}

// Comment logs a review comment without changing state.
func (m *Machine) Comment(versionID, reviewerID, comment string) error {
	if comment == "" {
		return fault.New(fault.Validation, "comment is required")
	}
	return m.db.LogReviewAction(db.ReviewAction{
		VersionID:  versionID,
		ReviewerID: reviewerID,
		Action:     "COMMENT",
		Comments:   &comment,
	})
}

// RequestChanges logs a request-changes event on an in-review version.
func (m *Machine) RequestChanges(versionID, reviewerID, comment string) error {
	rs, err := m.db.GetReviewState(versionID)
	if err != nil {
		return err
	}
	if rs.State != "IN_REVIEW" {
		return fault.New(fault.InvalidState, "version %s is %s, not IN_REVIEW", versionID, rs.State)
	}
	return m.db.LogReviewAction(db.ReviewAction{
		VersionID:  versionID,
		ReviewerID: reviewerID,
		Action:     "REQUEST_CHANGES",
		Comments:   &comment,
	})
}

// EditDuringReview appends a human_edit child of the in-review version.
// The new version starts at DRAFT with its own review clock; the prior
// version's state is untouched and stays auditable.
func (m *Machine) EditDuringReview(versionID, actorID, content, reason string) (*db.Version, error) {
	rs, err := m.db.GetReviewState(versionID)
	if err != nil {
		return nil, err
	}
	if rs.State != "IN_REVIEW" {
		return nil, fault.New(fault.InvalidState, "version %s is %s, not IN_REVIEW", versionID, rs.State)
	}
	var changeReason *string
	if reason != "" {
		changeReason = &reason
	}
	return m.db.AppendVersion(db.AppendVersionInput{
		BlogID:          rs.BlogID,
		Content:         content,
		Source:          "human_edit",
		ParentVersionID: &versionID,
		ChangeReason:    changeReason,
		CreatedBy:       actorID,
	})
}

// ArchiveStale closes out versions that sat in IN_REVIEW beyond the
// configured window. systemActorID attributes the archive actions.
func (m *Machine) ArchiveStale(systemActorID string) (int, error) {
	ids, err := m.db.StaleInReview(m.cfg.MaxInReview)
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, id := range ids {
		if err := m.db.TransitionReviewState(id, "ARCHIVED"); err != nil {
			m.logger.Error("archiving stale review", "version_id", id, "error", err)
			continue
		}
		if err := m.db.LogReviewAction(db.ReviewAction{
			VersionID:  id,
			ReviewerID: systemActorID,
			Action:     "ARCHIVE",
		}); err != nil {
			m.logger.Error("logging archive action", "version_id", id, "error", err)
		}
		archived++
	}
	return archived, nil
}

func (m *Machine) decisionPreamble(versionID, reviewerID string) (*db.Version, *db.ReviewState, *db.Actor, error) {
	version, err := m.db.GetVersion(versionID)
	if err != nil {
		return nil, nil, nil, err
	}
	rs, err := m.db.GetReviewState(versionID)
	if err != nil {
		return nil, nil, nil, err
	}
	reviewer, err := m.db.GetActor(reviewerID)
	if err != nil {
		return nil, nil, nil, err
	}
	return version, rs, reviewer, nil
}

func (m *Machine) logAttempt(version *db.Version, actor *db.Actor, result, reason string) {
	var failureReason *string
	if reason != "" {
		failureReason = &reason
	}
	if _, err := m.db.LogAttempt(db.LogAttemptInput{
		BlogID:          version.BlogID,
		VersionID:       &version.ID,
		AttemptedBy:     actor.ID,
		IsHumanSnapshot: actor.IsHuman,
		Result:          result,
		FailureReason:   failureReason,
	}); err != nil {
		m.logger.Error("logging approval attempt", "version_id", version.ID, "error", err)
	}
}

func (m *Machine) cosigned(coSignerID *string) bool {
	if coSignerID == nil {
		return false
	}
	signer, err := m.db.GetActor(*coSignerID)
	if err != nil {
		return false
	}
	return signer.IsHuman && signer.Role == "admin"
}
