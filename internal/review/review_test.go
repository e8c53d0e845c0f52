package review

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/fault"
)

func testConfig() Config {
	return Config{
		MinReviewDuration:     60 * time.Second,
		FastApprovalThreshold: time.Hour, // every fresh version counts as fast
		MaxReviewCycles:       5,
		MaxInReview:           7 * 24 * time.Hour,
		CosignWindow:          24 * time.Hour,
		CosignFastApprovals:   3,
		RepeatRejectWindow:    7 * 24 * time.Hour,
		RepeatRejectCount:     3,
	}
}

func setup(t *testing.T) (*db.DB, *Machine) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "review-test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, NewMachine(database, testConfig(), nil)
}

func seedActor(t *testing.T, database *db.DB, email, role string, human bool) *db.Actor {
	t.Helper()
	actor, err := database.CreateActor(db.CreateActorInput{Email: email, Role: role, IsHuman: human})
	if err != nil {
		t.Fatalf("seeding actor: %v", err)
	}
	return actor
}

func seedVersion(t *testing.T, database *db.DB, creator string) (*db.Blog, *db.Version) {
	t.Helper()
	blog, err := database.CreateBlog("Launch Notes", creator, nil)
	if err != nil {
		t.Fatalf("creating blog: %v", err)
	}
	version, err := database.AppendVersion(db.AppendVersionInput{
		BlogID:    blog.ID,
		Content:   "Draft content for review, pasted in by the author for evaluation.",
		Source:    "human_paste",
		CreatedBy: creator,
	})
	if err != nil {
		t.Fatalf("appending version: %v", err)
	}
	return blog, version
}

// backdateReview pushes review_started_at into the past so timer checks
// pass without sleeping.
func backdateReview(t *testing.T, database *db.DB, versionID string, by time.Duration) {
	t.Helper()
	modifier := fmt.Sprintf("-%d seconds", int64(by.Seconds()))
	if _, err := database.Exec(`
		UPDATE review_states SET review_started_at = datetime('now', ?)
		WHERE version_id = ?`,
		modifier, versionID); err != nil {
		t.Fatalf("backdating review: %v", err)
	}
}

const goodRationale = "Meets the editorial standard for publication."

func TestStateTransitions(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	_, v1 := seedVersion(t, database, reviewer.ID)

	state, err := m.StartReview(v1.ID, reviewer.ID)
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	if state.State != "IN_REVIEW" || state.ReviewStartedAt == nil || state.SubmitCount != 1 {
		t.Errorf("state after submit = %+v", state)
	}

	t.Run("ResubmitForbidden", func(t *testing.T) {
		if _, err := m.StartReview(v1.ID, reviewer.ID); !fault.Is(err, fault.InvalidState) {
			t.Errorf("resubmit err = %v, want invalid_state", err)
		}
	})
}

func TestTimerGating(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	blog, v1 := seedVersion(t, database, reviewer.ID)

	if _, err := m.StartReview(v1.ID, reviewer.ID); err != nil {
		t.Fatalf("start review: %v", err)
	}

	t.Run("BeforeThreshold", func(t *testing.T) {
		_, err := m.Approve(DecisionInput{VersionID: v1.ID, ReviewerID: reviewer.ID, Rationale: goodRationale})
		if !fault.Is(err, fault.InvalidState) {
			t.Fatalf("early approve err = %v, want invalid_state", err)
		}
		if !strings.Contains(err.Error(), "timer") {
			t.Errorf("error should name the timer: %v", err)
		}

		e, err := m.Eligibility(v1.ID)
		if err != nil {
			t.Fatalf("eligibility: %v", err)
		}
		if e.CanDecide || e.RemainingSeconds <= 0 {
			t.Errorf("eligibility = %+v, want blocked with remaining seconds", e)
		}

		attempts, _ := database.ListAttempts(blog.ID, 10)
		if len(attempts) == 0 || attempts[0].Result != "invalid_state" {
			t.Errorf("attempts = %v, want an invalid_state audit row", attempts)
		}
	})

	t.Run("AtThreshold", func(t *testing.T) {
		backdateReview(t, database, v1.ID, 61*time.Second)

		e, _ := m.Eligibility(v1.ID)
		if !e.CanDecide {
			t.Fatalf("eligibility after threshold = %+v", e)
		}

		approval, err := m.Approve(DecisionInput{VersionID: v1.ID, ReviewerID: reviewer.ID, Rationale: goodRationale})
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if approval.ReviewDurationSeconds == nil || *approval.ReviewDurationSeconds < 60 {
			t.Errorf("review_duration_seconds = %v, want >= 60", approval.ReviewDurationSeconds)
		}

		current, _ := database.CurrentApproval(blog.ID)
		if current == nil || current.ApprovedVersionID != v1.ID {
			t.Errorf("current approval = %v, want %s", current, v1.ID)
		}

		rs, _ := database.GetReviewState(v1.ID)
		if rs.State != "APPROVED" {
			t.Errorf("state = %q, want APPROVED", rs.State)
		}
	})
}

func TestFastApprovalAudit(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "bob@example.com", "reviewer", true)
	blog, v1 := seedVersion(t, database, reviewer.ID)

	m.StartReview(v1.ID, reviewer.ID)
	backdateReview(t, database, v1.ID, 2*time.Minute)

	// The version itself is seconds old, well inside the one-hour fast
	// threshold of this deployment.
	approval, err := m.Approve(DecisionInput{VersionID: v1.ID, ReviewerID: reviewer.ID, Rationale: goodRationale})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approval.Notes == nil || *approval.Notes != "fast approval" {
		t.Errorf("notes = %v, want 'fast approval'", approval.Notes)
	}

	escalations, err := database.ListEscalations(blog.ID, true)
	if err != nil {
		t.Fatalf("listing escalations: %v", err)
	}
	found := false
	for _, e := range escalations {
		if e.Reason == "fast_approval" {
			found = true
		}
	}
	if !found {
		t.Errorf("no fast_approval audit record among %v", escalations)
	}
}

func TestServiceAccountForbidden(t *testing.T) {
	database, m := setup(t)
	human := seedActor(t, database, "alice@example.com", "reviewer", true)
	bot := seedActor(t, database, "svc@example.com", "system", false)
	blog, v1 := seedVersion(t, database, human.ID)

	m.StartReview(v1.ID, human.ID)
	backdateReview(t, database, v1.ID, 2*time.Minute)

	_, err := m.Approve(DecisionInput{VersionID: v1.ID, ReviewerID: bot.ID, Rationale: goodRationale})
	if !fault.Is(err, fault.Forbidden) {
		t.Fatalf("bot approve err = %v, want forbidden", err)
	}

	attempts, _ := database.ListAttempts(blog.ID, 10)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	a := attempts[0]
	if a.Result != "forbidden" || a.IsHumanSnapshot {
		t.Errorf("attempt = %+v, want forbidden with is_human=false snapshot", a)
	}
	if a.FailureReason == nil || *a.FailureReason != "User is not marked as human" {
		t.Errorf("failure_reason = %v", a.FailureReason)
	}

	if current, _ := database.CurrentApproval(blog.ID); current != nil {
		t.Errorf("approval row inserted for service account: %v", current)
	}
}

func TestRationaleLength(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	_, v1 := seedVersion(t, database, reviewer.ID)

	m.StartReview(v1.ID, reviewer.ID)
	backdateReview(t, database, v1.ID, 2*time.Minute)

	if _, err := m.Approve(DecisionInput{VersionID: v1.ID, ReviewerID: reviewer.ID, Rationale: "too short"}); !fault.Is(err, fault.InvalidState) {
		t.Errorf("short rationale err = %v, want invalid_state", err)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	_, v1 := seedVersion(t, database, reviewer.ID)

	m.StartReview(v1.ID, reviewer.ID)
	backdateReview(t, database, v1.ID, 2*time.Minute)

	if err := m.Reject(DecisionInput{VersionID: v1.ID, ReviewerID: reviewer.ID, Rationale: "Structure and sourcing are below standard."}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	rs, _ := database.GetReviewState(v1.ID)
	if rs.State != "REJECTED" {
		t.Fatalf("state = %q, want REJECTED", rs.State)
	}

	t.Run("NoBackwardTransition", func(t *testing.T) {
		_, err := m.Approve(DecisionInput{VersionID: v1.ID, ReviewerID: reviewer.ID, Rationale: goodRationale})
		if !fault.Is(err, fault.InvalidState) {
			t.Errorf("approve after reject err = %v, want invalid_state", err)
		}
	})

	t.Run("TerminalGuardAtStorage", func(t *testing.T) {
		_, err := database.Exec(`UPDATE review_states SET state = 'DRAFT' WHERE version_id = ?`, v1.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("terminal downgrade err = %v, want immutable abort", err)
		}
	})
}

func TestOverridePath(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	blog, v1 := seedVersion(t, database, reviewer.ID)

	t.Run("BothFieldsRequired", func(t *testing.T) {
		_, err := m.RequestOverride(OverrideInput{VersionID: v1.ID, ReviewerID: reviewer.ID, Justification: "urgent"})
		if !fault.Is(err, fault.Validation) {
			t.Errorf("missing risk note err = %v, want validation", err)
		}
	})

	t.Run("OverrideBypassesTimer", func(t *testing.T) {
		approval, err := m.RequestOverride(OverrideInput{
			VersionID:          v1.ID,
			ReviewerID:         reviewer.ID,
			Justification:      "regulatory deadline tonight",
			RiskAcceptanceNote: "accepted by editorial lead",
		})
		if err != nil {
			t.Fatalf("override: %v", err)
		}
		if approval.Notes == nil || !strings.Contains(*approval.Notes, "override") {
			t.Errorf("override notes = %v", approval.Notes)
		}

		actions, _ := database.ListReviewActions(v1.ID)
		var override map[string]any
		for _, a := range actions {
			if a["action"] == "OVERRIDE" {
				override = a
			}
		}
		if override == nil || override["is_override"] != true {
			t.Errorf("override action not logged: %v", actions)
		}

		if _, ok := override["justification"]; !ok {
			t.Error("justification not persisted")
		}
		if _, ok := override["risk_acceptance_note"]; !ok {
			t.Error("risk_acceptance_note not persisted")
		}

		current, _ := database.CurrentApproval(blog.ID)
		if current == nil {
			t.Error("override did not produce a current approval")
		}
	})
}

func TestCosignGate(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "fast@example.com", "reviewer", true)
	admin := seedActor(t, database, "admin@example.com", "admin", true)

	// Three prior fast approvals inside the window.
	note := "fast approval"
	for i := 0; i < 3; i++ {
		blog, v := seedVersion(t, database, reviewer.ID)
		if _, err := database.RecordApproval(db.RecordApprovalInput{
			BlogID:     blog.ID,
			VersionID:  v.ID,
			ApproverID: reviewer.ID,
			Notes:      &note,
		}); err != nil {
			t.Fatalf("seeding fast approval %d: %v", i, err)
		}
	}

	_, v := seedVersion(t, database, reviewer.ID)
	m.StartReview(v.ID, reviewer.ID)
	backdateReview(t, database, v.ID, 2*time.Minute)

	t.Run("FourthFastApprovalNeedsCosign", func(t *testing.T) {
		_, err := m.Approve(DecisionInput{VersionID: v.ID, ReviewerID: reviewer.ID, Rationale: goodRationale})
		if !fault.Is(err, fault.Forbidden) {
			t.Fatalf("err = %v, want forbidden", err)
		}
		if !strings.Contains(err.Error(), "cosign_required") {
			t.Errorf("error should name cosign_required: %v", err)
		}
	})

	t.Run("AdminCosignUnblocks", func(t *testing.T) {
		approval, err := m.Approve(DecisionInput{
			VersionID:  v.ID,
			ReviewerID: reviewer.ID,
			Rationale:  goodRationale,
			CoSignerID: &admin.ID,
		})
		if err != nil {
			t.Fatalf("cosigned approve: %v", err)
		}
		if approval == nil {
			t.Fatal("no approval returned")
		}
	})
}

func TestEditDuringReview(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	_, v1 := seedVersion(t, database, reviewer.ID)

	m.StartReview(v1.ID, reviewer.ID)

	child, err := m.EditDuringReview(v1.ID, reviewer.ID, "A corrected draft produced while review was open.", "typo fixes")
	if err != nil {
		t.Fatalf("edit during review: %v", err)
	}

	if child.Source != "human_edit" {
		t.Errorf("source = %q, want human_edit", child.Source)
	}
	if child.ParentVersionID == nil || *child.ParentVersionID != v1.ID {
		t.Errorf("parent = %v, want %s", child.ParentVersionID, v1.ID)
	}

	childState, _ := database.GetReviewState(child.ID)
	if childState.State != "DRAFT" {
		t.Errorf("child state = %q, want DRAFT", childState.State)
	}

	parentState, _ := database.GetReviewState(v1.ID)
	if parentState.State != "IN_REVIEW" {
		t.Errorf("parent state = %q, want unchanged IN_REVIEW", parentState.State)
	}
}

func TestArchiveStale(t *testing.T) {
	database, m := setup(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	system := seedActor(t, database, "system@example.com", "system", false)
	_, v1 := seedVersion(t, database, reviewer.ID)

	m.StartReview(v1.ID, reviewer.ID)
	backdateReview(t, database, v1.ID, 8*24*time.Hour)

	archived, err := m.ArchiveStale(system.ID)
	if err != nil {
		t.Fatalf("archive sweep: %v", err)
	}
	if archived != 1 {
		t.Errorf("archived = %d, want 1", archived)
	}

	rs, _ := database.GetReviewState(v1.ID)
	if rs.State != "ARCHIVED" {
		t.Errorf("state = %q, want ARCHIVED", rs.State)
	}
}
