// CLAUDE:SUMMARY Blog and version store — append-only version history with lineage, SHA-256 integrity hashes, per-blog monotone numbering
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// Blog is the stable identity of a piece of content. Its name is
// human-provided and immutable after creation.
type Blog struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ProjectID *string   `json:"project_id,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Version is an immutable content snapshot of a blog.
type Version struct {
	ID                   string    `json:"id"`
	BlogID               string    `json:"blog_id"`
	ParentVersionID      *string   `json:"parent_version_id,omitempty"`
	Content              string    `json:"content"`
	ContentHash          string    `json:"content_hash"`
	VersionNumber        int       `json:"version_number"`
	Source               string    `json:"source"`
	SourceRewriteCycleID *string   `json:"source_rewrite_cycle_id,omitempty"`
	ChangeReason         *string   `json:"change_reason,omitempty"`
	CreatedBy            string    `json:"created_by"`
	CreatedAt            time.Time `json:"created_at"`
}

func (db *DB) CreateBlog(name, createdBy string, projectID *string) (*Blog, error) {
	if name == "" {
		return nil, fault.New(fault.Validation, "blog name is required")
	}
	id := NewID()
	_, err := db.Exec(`
		INSERT INTO blogs (id, name, project_id, created_by)
		VALUES (?, ?, ?, ?)`, id, name, projectID, createdBy)
	if err != nil {
		return nil, mapErr(err, "creating blog")
	}
	return db.GetBlog(id)
}

func (db *DB) GetBlog(id string) (*Blog, error) {
	b := &Blog{}
	var projectID sql.NullString
	err := db.QueryRow(`
		SELECT id, name, project_id, created_by, created_at
		FROM blogs WHERE id = ?`, id).Scan(
		&b.ID, &b.Name, &projectID, &b.CreatedBy, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.Validation, "blog %s not found", id)
	}
	if err != nil {
		return nil, mapErr(err, "loading blog")
	}
	if projectID.Valid {
		b.ProjectID = &projectID.String
	}
	return b, nil
}

func (db *DB) ListBlogs(limit int) ([]*Blog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, project_id, created_by, created_at
		FROM blogs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, mapErr(err, "listing blogs")
	}
	defer rows.Close()

	var blogs []*Blog
	for rows.Next() {
		b := &Blog{}
		var projectID sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &projectID, &b.CreatedBy, &b.CreatedAt); err != nil {
			return nil, mapErr(err, "scanning blog")
		}
		if projectID.Valid {
			b.ProjectID = &projectID.String
		}
		blogs = append(blogs, b)
	}
	return blogs, rows.Err()
}

type AppendVersionInput struct {
	BlogID               string
	Content              string
	Source               string
	ParentVersionID      *string
	ChangeReason         *string
	SourceRewriteCycleID *string
	CreatedBy            string
}

// AppendVersion inserts the next version of a blog. The version number is
// 1 + max existing for the blog; a concurrent insert hitting the
// (blog_id, version_number) uniqueness surfaces as conflict and the caller
// retries with refreshed state.
func (db *DB) AppendVersion(input AppendVersionInput) (*Version, error) {
	if input.Content == "" {
		return nil, fault.New(fault.Validation, "content is required")
	}
	switch input.Source {
	case "human_paste", "ai_rewrite", "human_edit":
	default:
		return nil, fault.New(fault.Validation, "unknown version source %q", input.Source)
	}
	if input.Source == "ai_rewrite" && input.SourceRewriteCycleID == nil {
		return nil, fault.New(fault.Validation, "ai_rewrite versions require a source rewrite cycle")
	}
	if input.Source != "ai_rewrite" && input.SourceRewriteCycleID != nil {
		return nil, fault.New(fault.Validation, "only ai_rewrite versions carry a rewrite cycle")
	}

	if _, err := db.GetBlog(input.BlogID); err != nil {
		return nil, err
	}

	if input.ParentVersionID != nil {
		parent, err := db.GetVersion(*input.ParentVersionID)
		if err != nil {
			return nil, err
		}
		if parent.BlogID != input.BlogID {
			return nil, fault.New(fault.Validation, "parent version belongs to a different blog")
		}
	}

	var next int
	if err := db.QueryRow(`
		SELECT COALESCE(MAX(version_number), 0) + 1 FROM blog_versions WHERE blog_id = ?`,
		input.BlogID).Scan(&next); err != nil {
		return nil, mapErr(err, "computing version number")
	}

	sum := sha256.Sum256([]byte(input.Content))
	id := NewID()
	_, err := db.Exec(`
		INSERT INTO blog_versions (id, blog_id, parent_version_id, content, content_hash,
			version_number, source, source_rewrite_cycle_id, change_reason, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, input.BlogID, input.ParentVersionID, input.Content, hex.EncodeToString(sum[:]),
		next, input.Source, input.SourceRewriteCycleID, input.ChangeReason, input.CreatedBy)
	if err != nil {
		return nil, mapErr(err, "appending version")
	}

	// New versions start their review lifecycle at DRAFT.
	if _, err := db.Exec(`
		INSERT INTO review_states (version_id, blog_id, state) VALUES (?, ?, 'DRAFT')`,
		id, input.BlogID); err != nil {
		return nil, mapErr(err, "initializing review state")
	}

	return db.GetVersion(id)
}

func (db *DB) GetVersion(id string) (*Version, error) {
	v := &Version{}
	var parentID, cycleID, reason sql.NullString
	err := db.QueryRow(`
		SELECT id, blog_id, parent_version_id, content, content_hash, version_number,
			source, source_rewrite_cycle_id, change_reason, created_by, created_at
		FROM blog_versions WHERE id = ?`, id).Scan(
		&v.ID, &v.BlogID, &parentID, &v.Content, &v.ContentHash, &v.VersionNumber,
		&v.Source, &cycleID, &reason, &v.CreatedBy, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.InvalidVersion, "version %s not found", id)
	}
	if err != nil {
		return nil, mapErr(err, "loading version")
	}
	if parentID.Valid {
		v.ParentVersionID = &parentID.String
	}
	if cycleID.Valid {
		v.SourceRewriteCycleID = &cycleID.String
	}
	if reason.Valid {
		v.ChangeReason = &reason.String
	}
	return v, nil
}

// ListVersions returns all versions of a blog ordered by
// (version_number, created_at) ascending.
func (db *DB) ListVersions(blogID string) ([]*Version, error) {
	rows, err := db.Query(`
		SELECT id, blog_id, parent_version_id, content, content_hash, version_number,
			source, source_rewrite_cycle_id, change_reason, created_by, created_at
		FROM blog_versions WHERE blog_id = ?
		ORDER BY version_number, created_at`, blogID)
	if err != nil {
		return nil, mapErr(err, "listing versions")
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v := &Version{}
		var parentID, cycleID, reason sql.NullString
		if err := rows.Scan(
			&v.ID, &v.BlogID, &parentID, &v.Content, &v.ContentHash, &v.VersionNumber,
			&v.Source, &cycleID, &reason, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, mapErr(err, "scanning version")
		}
		if parentID.Valid {
			v.ParentVersionID = &parentID.String
		}
		if cycleID.Valid {
			v.SourceRewriteCycleID = &cycleID.String
		}
		if reason.Valid {
			v.ChangeReason = &reason.String
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
