package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/redline/internal/fault"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "redline-test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func seedActor(t *testing.T, database *DB, email, role string, human bool) *Actor {
	t.Helper()
	actor, err := database.CreateActor(CreateActorInput{
		Email:   email,
		Role:    role,
		IsHuman: human,
	})
	if err != nil {
		t.Fatalf("seeding actor %s: %v", email, err)
	}
	return actor
}

func seedBlogWithVersion(t *testing.T, database *DB, creator string) (*Blog, *Version) {
	t.Helper()
	blog, err := database.CreateBlog("Launch Notes", creator, nil)
	if err != nil {
		t.Fatalf("creating blog: %v", err)
	}
	version, err := database.AppendVersion(AppendVersionInput{
		BlogID:    blog.ID,
		Content:   "The first draft of the launch notes, pasted by a human writer.",
		Source:    "human_paste",
		CreatedBy: creator,
	})
	if err != nil {
		t.Fatalf("appending v1: %v", err)
	}
	return blog, version
}

func TestActors(t *testing.T) {
	database := openTestDB(t)

	t.Run("SystemNeverHuman", func(t *testing.T) {
		_, err := database.CreateActor(CreateActorInput{
			Email:   "bot@example.com",
			Role:    "system",
			IsHuman: true,
		})
		if !fault.Is(err, fault.Validation) {
			t.Errorf("system+human err = %v, want validation", err)
		}
	})

	t.Run("AdminTogglesIsHuman", func(t *testing.T) {
		admin := seedActor(t, database, "admin@example.com", "admin", true)
		writer := seedActor(t, database, "writer@example.com", "writer", false)

		if err := database.SetActorHuman(writer.ID, true, admin.ID); err != nil {
			t.Fatalf("admin toggle: %v", err)
		}
		got, _ := database.GetActor(writer.ID)
		if !got.IsHuman {
			t.Error("is_human not set")
		}

		if err := database.SetActorHuman(writer.ID, false, writer.ID); !fault.Is(err, fault.Forbidden) {
			t.Errorf("non-admin toggle err = %v, want forbidden", err)
		}
	})

	t.Run("ActorsNeverDeleted", func(t *testing.T) {
		admin, _, _ := database.GetActorByEmail("admin@example.com")
		_, err := database.Exec(`DELETE FROM actors WHERE id = ?`, admin.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("delete actor err = %v, want immutable abort", err)
		}
	})
}

func TestVersionImmutability(t *testing.T) {
	database := openTestDB(t)
	writer := seedActor(t, database, "writer@example.com", "writer", true)
	_, v1 := seedBlogWithVersion(t, database, writer.ID)

	t.Run("ContentHashStored", func(t *testing.T) {
		if len(v1.ContentHash) != 64 {
			t.Errorf("content_hash length = %d, want 64 hex chars", len(v1.ContentHash))
		}
	})

	t.Run("UpdateRejected", func(t *testing.T) {
		_, err := database.Exec(`UPDATE blog_versions SET content = 'tampered' WHERE id = ?`, v1.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("update version err = %v, want immutable abort", err)
		}
	})

	t.Run("DeleteRejected", func(t *testing.T) {
		_, err := database.Exec(`DELETE FROM blog_versions WHERE id = ?`, v1.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("delete version err = %v, want immutable abort", err)
		}
	})

	t.Run("DuplicateNumberConflicts", func(t *testing.T) {
		_, err := database.Exec(`
			INSERT INTO blog_versions (id, blog_id, content, content_hash, version_number, source, created_by)
			VALUES (?, ?, 'x', 'h', 1, 'human_paste', ?)`,
			NewID(), v1.BlogID, writer.ID)
		if err == nil || !strings.Contains(err.Error(), "UNIQUE") {
			t.Errorf("duplicate version_number err = %v, want UNIQUE violation", err)
		}
	})

	t.Run("BlogNameImmutable", func(t *testing.T) {
		_, err := database.Exec(`UPDATE blogs SET name = 'renamed' WHERE id = ?`, v1.BlogID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("rename blog err = %v, want immutable abort", err)
		}
	})
}

func TestAppendVersion(t *testing.T) {
	database := openTestDB(t)
	writer := seedActor(t, database, "writer@example.com", "writer", true)
	blog, v1 := seedBlogWithVersion(t, database, writer.ID)

	t.Run("MonotoneNumbers", func(t *testing.T) {
		v2, err := database.AppendVersion(AppendVersionInput{
			BlogID:          blog.ID,
			Content:         "A second draft with more detail than the first one had.",
			Source:          "human_edit",
			ParentVersionID: &v1.ID,
			CreatedBy:       writer.ID,
		})
		if err != nil {
			t.Fatalf("appending v2: %v", err)
		}
		if v2.VersionNumber != 2 {
			t.Errorf("version_number = %d, want 2", v2.VersionNumber)
		}

		versions, err := database.ListVersions(blog.ID)
		if err != nil {
			t.Fatalf("listing: %v", err)
		}
		if len(versions) != 2 || versions[0].VersionNumber != 1 || versions[1].VersionNumber != 2 {
			t.Errorf("versions out of order: %v", versions)
		}
	})

	t.Run("AIRewriteNeedsCycle", func(t *testing.T) {
		_, err := database.AppendVersion(AppendVersionInput{
			BlogID:          blog.ID,
			Content:         "Rewritten content from an automated cycle without a cycle id.",
			Source:          "ai_rewrite",
			ParentVersionID: &v1.ID,
			CreatedBy:       writer.ID,
		})
		if !fault.Is(err, fault.Validation) {
			t.Errorf("ai_rewrite without cycle err = %v, want validation", err)
		}
	})

	t.Run("ParentMustShareBlog", func(t *testing.T) {
		other, err := database.CreateBlog("Other", writer.ID, nil)
		if err != nil {
			t.Fatalf("creating other blog: %v", err)
		}
		_, err = database.AppendVersion(AppendVersionInput{
			BlogID:          other.ID,
			Content:         "Content whose parent points into a different blog entirely.",
			Source:          "human_edit",
			ParentVersionID: &v1.ID,
			CreatedBy:       writer.ID,
		})
		if !fault.Is(err, fault.Validation) {
			t.Errorf("cross-blog parent err = %v, want validation", err)
		}
	})

	t.Run("EmptyNameRejected", func(t *testing.T) {
		_, err := database.CreateBlog("", writer.ID, nil)
		if !fault.Is(err, fault.Validation) {
			t.Errorf("empty name err = %v, want validation", err)
		}
	})
}

func TestEvaluationRunImmutability(t *testing.T) {
	database := openTestDB(t)
	writer := seedActor(t, database, "writer@example.com", "writer", true)
	_, v1 := seedBlogWithVersion(t, database, writer.ID)

	run, err := database.CreateEvaluationRun(v1.ID, &writer.ID, `{"enabled_detectors":[]}`)
	if err != nil {
		t.Fatalf("creating run: %v", err)
	}
	if run.Status != "processing" {
		t.Fatalf("status = %q, want processing", run.Status)
	}

	t.Run("CoreFieldsFrozen", func(t *testing.T) {
		_, err := database.Exec(`UPDATE evaluation_runs SET model_config = '{}' WHERE id = ?`, run.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("model_config update err = %v, want immutable abort", err)
		}
	})

	t.Run("FinalizeOnce", func(t *testing.T) {
		if err := database.FinalizeRun(run.ID, "completed"); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		got, _ := database.GetEvaluationRun(run.ID)
		if got.Status != "completed" || got.CompletedAt == nil {
			t.Errorf("run after finalize = %+v", got)
		}

		if err := database.FinalizeRun(run.ID, "failed"); !fault.Is(err, fault.InvalidState) {
			t.Errorf("second finalize err = %v, want invalid_state", err)
		}
	})

	t.Run("StatusNeverBackward", func(t *testing.T) {
		_, err := database.Exec(`UPDATE evaluation_runs SET status = 'processing' WHERE id = ?`, run.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("backward status err = %v, want immutable abort", err)
		}
	})

	t.Run("ScoreRowsWriteOnce", func(t *testing.T) {
		inserted, err := database.InsertDetectorScore(run.ID, "ai_likeness_rubric", 40, `{"model_version":"rubric_v1.0.0"}`)
		if err != nil || !inserted {
			t.Fatalf("insert detector score: inserted=%v err=%v", inserted, err)
		}

		// A retry finds the row and does not insert again.
		inserted, err = database.InsertDetectorScore(run.ID, "ai_likeness_rubric", 99, `{}`)
		if err != nil {
			t.Fatalf("retry insert: %v", err)
		}
		if inserted {
			t.Error("retry inserted a second row")
		}

		scores, _ := database.GetDetectorScores(run.ID)
		if len(scores) != 1 || scores[0].Score != 40 {
			t.Errorf("detector scores = %v, want the original single row", scores)
		}

		_, err = database.Exec(`UPDATE detector_scores SET score = 0 WHERE run_id = ?`, run.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("update score err = %v, want immutable abort", err)
		}
	})

	t.Run("ProcessingDedup", func(t *testing.T) {
		second, err := database.CreateEvaluationRun(v1.ID, nil, `{}`)
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
		found, err := database.ProcessingRunForVersion(v1.ID)
		if err != nil {
			t.Fatalf("processing lookup: %v", err)
		}
		if found == nil || found.ID != second.ID {
			t.Errorf("processing run = %v, want %s", found, second.ID)
		}
	})
}

func TestApprovals(t *testing.T) {
	database := openTestDB(t)
	reviewer := seedActor(t, database, "alice@example.com", "reviewer", true)
	bot := seedActor(t, database, "bot@example.com", "system", false)
	blog, v1 := seedBlogWithVersion(t, database, reviewer.ID)

	t.Run("NonHumanRejectedAtStorage", func(t *testing.T) {
		_, err := database.RecordApproval(RecordApprovalInput{
			BlogID:     blog.ID,
			VersionID:  v1.ID,
			ApproverID: bot.ID,
		})
		if !fault.Is(err, fault.Forbidden) {
			t.Errorf("bot approval err = %v, want forbidden", err)
		}
	})

	t.Run("VersionMustBelongToBlog", func(t *testing.T) {
		other, _ := database.CreateBlog("Other", reviewer.ID, nil)
		_, err := database.RecordApproval(RecordApprovalInput{
			BlogID:     other.ID,
			VersionID:  v1.ID,
			ApproverID: reviewer.ID,
		})
		if !fault.Is(err, fault.InvalidVersion) {
			t.Errorf("cross-blog approval err = %v, want invalid_version", err)
		}
	})

	t.Run("ApproveRevokeReapprove", func(t *testing.T) {
		approval, err := database.RecordApproval(RecordApprovalInput{
			BlogID:     blog.ID,
			VersionID:  v1.ID,
			ApproverID: reviewer.ID,
		})
		if err != nil {
			t.Fatalf("approving: %v", err)
		}

		current, err := database.CurrentApproval(blog.ID)
		if err != nil || current == nil || current.ID != approval.ID {
			t.Fatalf("current = %v err = %v, want %s", current, err, approval.ID)
		}

		// Idempotent repeat returns the same row.
		again, err := database.RecordApproval(RecordApprovalInput{
			BlogID:     blog.ID,
			VersionID:  v1.ID,
			ApproverID: reviewer.ID,
		})
		if err != nil || again.ID != approval.ID {
			t.Errorf("repeat approval = %v err = %v, want existing row", again, err)
		}

		// Revocation is a companion row; the original stays write-once.
		revocation, err := database.RevokeApproval(blog.ID, reviewer.ID, "superseded by newer draft")
		if err != nil {
			t.Fatalf("revoking: %v", err)
		}
		if revocation.RevokedAt == nil || revocation.ID == approval.ID {
			t.Errorf("revocation row = %+v", revocation)
		}

		current, err = database.CurrentApproval(blog.ID)
		if err != nil {
			t.Fatalf("current after revoke: %v", err)
		}
		if current != nil {
			t.Errorf("current after revoke = %v, want nil", current)
		}

		// Monotonic revocation then fresh approval.
		if _, err := database.RecordApproval(RecordApprovalInput{
			BlogID:     blog.ID,
			VersionID:  v1.ID,
			ApproverID: reviewer.ID,
		}); err != nil {
			t.Fatalf("re-approving: %v", err)
		}
		current, _ = database.CurrentApproval(blog.ID)
		if current == nil || current.ApprovedVersionID != v1.ID {
			t.Errorf("current after re-approve = %v", current)
		}
	})

	t.Run("ApprovalRowsWriteOnce", func(t *testing.T) {
		_, err := database.Exec(`UPDATE approval_states SET notes = 'edited' WHERE blog_id = ?`, blog.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("update approval err = %v, want immutable abort", err)
		}
	})

	t.Run("AttemptsAppendOnly", func(t *testing.T) {
		attempt, err := database.LogAttempt(LogAttemptInput{
			BlogID:          blog.ID,
			AttemptedBy:     bot.ID,
			IsHumanSnapshot: false,
			Result:          "forbidden",
		})
		if err != nil {
			t.Fatalf("logging attempt: %v", err)
		}
		_, err = database.Exec(`UPDATE approval_attempts SET result = 'success' WHERE id = ?`, attempt.ID)
		if err == nil || !strings.Contains(err.Error(), "immutable") {
			t.Errorf("update attempt err = %v, want immutable abort", err)
		}
	})
}

func TestEscalations(t *testing.T) {
	database := openTestDB(t)
	writer := seedActor(t, database, "writer@example.com", "writer", true)
	blog, v1 := seedBlogWithVersion(t, database, writer.ID)

	escalated, err := database.IsEscalated(blog.ID)
	if err != nil || escalated {
		t.Fatalf("fresh blog escalated = %v err = %v", escalated, err)
	}

	esc, err := database.OpenEscalation(blog.ID, v1.ID, "score_regression", map[string]any{"drop": 12.5})
	if err != nil {
		t.Fatalf("opening escalation: %v", err)
	}
	if esc.Status != "pending_review" {
		t.Errorf("status = %q, want pending_review", esc.Status)
	}

	escalated, _ = database.IsEscalated(blog.ID)
	if !escalated {
		t.Error("blog with open escalation not reported as escalated")
	}

	if err := database.ResolveEscalation(esc.ID, writer.ID, "resolved"); err != nil {
		t.Fatalf("resolving: %v", err)
	}
	escalated, _ = database.IsEscalated(blog.ID)
	if escalated {
		t.Error("blog still escalated after resolution")
	}

	if err := database.ResolveEscalation(esc.ID, writer.ID, "dismissed"); !fault.Is(err, fault.InvalidState) {
		t.Errorf("double resolve err = %v, want invalid_state", err)
	}
}
