package db

const schema = `
CREATE TABLE IF NOT EXISTS actors (
    id            TEXT PRIMARY KEY,
    email         TEXT UNIQUE NOT NULL,
    role          TEXT NOT NULL DEFAULT 'writer' CHECK(role IN ('writer','reviewer','admin','system')),
    is_human      INTEGER NOT NULL DEFAULT 0 CHECK(is_human IN (0, 1)),
    password_hash TEXT NOT NULL DEFAULT '',
    created_at    DATETIME DEFAULT (datetime('now')),
    CHECK(role != 'system' OR is_human = 0)
);
CREATE INDEX IF NOT EXISTS idx_actors_role ON actors(role);
CREATE INDEX IF NOT EXISTS idx_actors_human ON actors(is_human) WHERE is_human = 1;

-- Actors are never deleted; identity fields never change. Only role,
-- is_human and password_hash may move after insert.
CREATE TRIGGER IF NOT EXISTS actors_guard
BEFORE UPDATE ON actors
WHEN NEW.id != OLD.id OR NEW.email != OLD.email OR NEW.created_at != OLD.created_at
BEGIN
    SELECT RAISE(ABORT, 'immutable: actor identity fields are write-once');
END;
CREATE TRIGGER IF NOT EXISTS actors_no_delete
BEFORE DELETE ON actors
BEGIN
    SELECT RAISE(ABORT, 'immutable: actors are never deleted');
END;

CREATE TABLE IF NOT EXISTS blogs (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    project_id TEXT,
    created_by TEXT NOT NULL REFERENCES actors(id),
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_blogs_created_by ON blogs(created_by);
CREATE INDEX IF NOT EXISTS idx_blogs_project ON blogs(project_id) WHERE project_id IS NOT NULL;

CREATE TRIGGER IF NOT EXISTS blogs_no_update
BEFORE UPDATE ON blogs
BEGIN
    SELECT RAISE(ABORT, 'immutable: blogs rows are write-once');
END;
CREATE TRIGGER IF NOT EXISTS blogs_no_delete
BEFORE DELETE ON blogs
BEGIN
    SELECT RAISE(ABORT, 'immutable: blogs rows are write-once');
END;

CREATE TABLE IF NOT EXISTS blog_versions (
    id                      TEXT PRIMARY KEY,
    blog_id                 TEXT NOT NULL REFERENCES blogs(id),
    parent_version_id       TEXT REFERENCES blog_versions(id),
    content                 TEXT NOT NULL,
    content_hash            TEXT NOT NULL,
    version_number          INTEGER NOT NULL CHECK(version_number >= 1),
    source                  TEXT NOT NULL CHECK(source IN ('human_paste','ai_rewrite','human_edit')),
    source_rewrite_cycle_id TEXT,
    change_reason           TEXT,
    created_by              TEXT NOT NULL REFERENCES actors(id),
    created_at              DATETIME DEFAULT (datetime('now')),
    UNIQUE(blog_id, version_number),
    CHECK((source = 'ai_rewrite') = (source_rewrite_cycle_id IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS idx_versions_blog ON blog_versions(blog_id);
CREATE INDEX IF NOT EXISTS idx_versions_parent ON blog_versions(parent_version_id) WHERE parent_version_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_versions_source ON blog_versions(source);

CREATE TRIGGER IF NOT EXISTS blog_versions_no_update
BEFORE UPDATE ON blog_versions
BEGIN
    SELECT RAISE(ABORT, 'immutable: blog_versions rows are write-once');
END;
CREATE TRIGGER IF NOT EXISTS blog_versions_no_delete
BEFORE DELETE ON blog_versions
BEGIN
    SELECT RAISE(ABORT, 'immutable: blog_versions rows are write-once');
END;

CREATE TABLE IF NOT EXISTS evaluation_runs (
    id              TEXT PRIMARY KEY,
    blog_version_id TEXT NOT NULL REFERENCES blog_versions(id),
    run_at          DATETIME NOT NULL DEFAULT (datetime('now')),
    triggered_by    TEXT REFERENCES actors(id),
    model_config    TEXT NOT NULL DEFAULT '{}',
    status          TEXT NOT NULL DEFAULT 'processing' CHECK(status IN ('processing','completed','partial_failure','failed')),
    completed_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_version ON evaluation_runs(blog_version_id);
CREATE INDEX IF NOT EXISTS idx_runs_open ON evaluation_runs(status) WHERE completed_at IS NULL;

-- Partial immutability: everything except status and completed_at is
-- frozen at insert; status only leaves 'processing'; completed_at is
-- write-once.
CREATE TRIGGER IF NOT EXISTS evaluation_runs_core_guard
BEFORE UPDATE ON evaluation_runs
WHEN NEW.id != OLD.id
  OR NEW.blog_version_id != OLD.blog_version_id
  OR NEW.run_at != OLD.run_at
  OR COALESCE(NEW.triggered_by, '') != COALESCE(OLD.triggered_by, '')
  OR NEW.model_config != OLD.model_config
BEGIN
    SELECT RAISE(ABORT, 'immutable: evaluation_runs core fields are write-once');
END;
CREATE TRIGGER IF NOT EXISTS evaluation_runs_status_guard
BEFORE UPDATE OF status ON evaluation_runs
WHEN OLD.status != 'processing' AND NEW.status != OLD.status
BEGIN
    SELECT RAISE(ABORT, 'immutable: evaluation_runs status only advances from processing');
END;
CREATE TRIGGER IF NOT EXISTS evaluation_runs_completed_guard
BEFORE UPDATE OF completed_at ON evaluation_runs
WHEN OLD.completed_at IS NOT NULL AND COALESCE(NEW.completed_at, '') != OLD.completed_at
BEGIN
    SELECT RAISE(ABORT, 'immutable: evaluation_runs completed_at is write-once');
END;
CREATE TRIGGER IF NOT EXISTS evaluation_runs_no_delete
BEFORE DELETE ON evaluation_runs
BEGIN
    SELECT RAISE(ABORT, 'immutable: evaluation_runs are never deleted');
END;

CREATE TABLE IF NOT EXISTS detector_scores (
    id       TEXT PRIMARY KEY,
    run_id   TEXT NOT NULL REFERENCES evaluation_runs(id),
    provider TEXT NOT NULL,
    score    REAL NOT NULL CHECK(score >= 0 AND score <= 100),
    details  TEXT NOT NULL DEFAULT '{}',
    UNIQUE(run_id, provider)
);
CREATE INDEX IF NOT EXISTS idx_detector_scores_run ON detector_scores(run_id);

CREATE TRIGGER IF NOT EXISTS detector_scores_no_update
BEFORE UPDATE ON detector_scores
BEGIN
    SELECT RAISE(ABORT, 'immutable: detector_scores rows are write-once');
END;
CREATE TRIGGER IF NOT EXISTS detector_scores_no_delete
BEFORE DELETE ON detector_scores
BEGIN
    SELECT RAISE(ABORT, 'immutable: detector_scores rows are write-once');
END;

CREATE TABLE IF NOT EXISTS aeo_scores (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL REFERENCES evaluation_runs(id),
    query_intent TEXT NOT NULL,
    score        REAL NOT NULL CHECK(score >= 0 AND score <= 100),
    rationale    TEXT NOT NULL DEFAULT '',
    UNIQUE(run_id, query_intent)
);
CREATE INDEX IF NOT EXISTS idx_aeo_scores_run ON aeo_scores(run_id);

CREATE TRIGGER IF NOT EXISTS aeo_scores_no_update
BEFORE UPDATE ON aeo_scores
BEGIN
    SELECT RAISE(ABORT, 'immutable: aeo_scores rows are write-once');
END;
CREATE TRIGGER IF NOT EXISTS aeo_scores_no_delete
BEFORE DELETE ON aeo_scores
BEGIN
    SELECT RAISE(ABORT, 'immutable: aeo_scores rows are write-once');
END;

CREATE TABLE IF NOT EXISTS rewrite_cycles (
    id                TEXT PRIMARY KEY,
    parent_version_id TEXT NOT NULL REFERENCES blog_versions(id),
    child_version_id  TEXT REFERENCES blog_versions(id),
    cycle_number      INTEGER NOT NULL CHECK(cycle_number >= 1),
    trigger_reasons   TEXT NOT NULL DEFAULT '[]',
    trigger_data      TEXT NOT NULL DEFAULT '{}',
    rewrite_prompt    TEXT NOT NULL,
    parent_aeo_total  REAL,
    parent_ai_total   REAL,
    child_aeo_total   REAL,
    child_ai_total    REAL,
    trend_outcome     TEXT CHECK(trend_outcome IN ('improving','partial_improvement','stagnant','regressing')),
    trend_code        INTEGER CHECK(trend_code BETWEEN 1 AND 4),
    rewrite_status    TEXT NOT NULL DEFAULT 'pending' CHECK(rewrite_status IN ('pending','completed','terminal')),
    stop_reason       TEXT,
    created_at        DATETIME DEFAULT (datetime('now')),
    UNIQUE(parent_version_id, cycle_number)
);
CREATE INDEX IF NOT EXISTS idx_cycles_parent ON rewrite_cycles(parent_version_id);
CREATE INDEX IF NOT EXISTS idx_cycles_child ON rewrite_cycles(child_version_id) WHERE child_version_id IS NOT NULL;

-- Prompt, trigger snapshot and parent linkage are frozen at insert;
-- status only leaves 'pending'.
CREATE TRIGGER IF NOT EXISTS rewrite_cycles_core_guard
BEFORE UPDATE ON rewrite_cycles
WHEN NEW.id != OLD.id
  OR NEW.parent_version_id != OLD.parent_version_id
  OR NEW.cycle_number != OLD.cycle_number
  OR NEW.trigger_reasons != OLD.trigger_reasons
  OR NEW.trigger_data != OLD.trigger_data
  OR NEW.rewrite_prompt != OLD.rewrite_prompt
  OR NEW.created_at != OLD.created_at
BEGIN
    SELECT RAISE(ABORT, 'immutable: rewrite_cycles core fields are write-once');
END;
CREATE TRIGGER IF NOT EXISTS rewrite_cycles_status_guard
BEFORE UPDATE OF rewrite_status ON rewrite_cycles
WHEN OLD.rewrite_status != 'pending' AND NEW.rewrite_status != OLD.rewrite_status
BEGIN
    SELECT RAISE(ABORT, 'immutable: rewrite_cycles status only advances from pending');
END;
CREATE TRIGGER IF NOT EXISTS rewrite_cycles_no_delete
BEFORE DELETE ON rewrite_cycles
BEGIN
    SELECT RAISE(ABORT, 'immutable: rewrite_cycles are never deleted');
END;

CREATE TABLE IF NOT EXISTS approval_states (
    id                      TEXT PRIMARY KEY,
    blog_id                 TEXT NOT NULL REFERENCES blogs(id),
    approved_version_id     TEXT NOT NULL REFERENCES blog_versions(id),
    approver_id             TEXT NOT NULL REFERENCES actors(id),
    approved_at             DATETIME NOT NULL DEFAULT (datetime('now')),
    revoked_at              DATETIME,
    revoked_by              TEXT REFERENCES actors(id),
    revocation_reason       TEXT,
    notes                   TEXT,
    review_duration_seconds INTEGER
);
CREATE INDEX IF NOT EXISTS idx_approvals_blog ON approval_states(blog_id);
CREATE INDEX IF NOT EXISTS idx_approvals_active ON approval_states(blog_id, approved_at) WHERE revoked_at IS NULL;

-- Revocation is a companion row, never an update (see approvals.go).
CREATE TRIGGER IF NOT EXISTS approval_states_no_update
BEFORE UPDATE ON approval_states
BEGIN
    SELECT RAISE(ABORT, 'immutable: approval_states rows are write-once');
END;
CREATE TRIGGER IF NOT EXISTS approval_states_no_delete
BEFORE DELETE ON approval_states
BEGIN
    SELECT RAISE(ABORT, 'immutable: approval_states rows are write-once');
END;

CREATE TABLE IF NOT EXISTS approval_attempts (
    id                TEXT PRIMARY KEY,
    blog_id           TEXT NOT NULL REFERENCES blogs(id),
    version_id        TEXT,
    attempted_by      TEXT NOT NULL REFERENCES actors(id),
    is_human_snapshot INTEGER NOT NULL CHECK(is_human_snapshot IN (0, 1)),
    result            TEXT NOT NULL CHECK(result IN ('success','forbidden','invalid_state','invalid_version')),
    failure_reason    TEXT,
    attempted_at      DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_attempts_blog ON approval_attempts(blog_id);
CREATE INDEX IF NOT EXISTS idx_attempts_actor ON approval_attempts(attempted_by);
CREATE INDEX IF NOT EXISTS idx_attempts_failures ON approval_attempts(result) WHERE result != 'success';

CREATE TRIGGER IF NOT EXISTS approval_attempts_no_update
BEFORE UPDATE ON approval_attempts
BEGIN
    SELECT RAISE(ABORT, 'immutable: approval_attempts are append-only');
END;
CREATE TRIGGER IF NOT EXISTS approval_attempts_no_delete
BEFORE DELETE ON approval_attempts
BEGIN
    SELECT RAISE(ABORT, 'immutable: approval_attempts are append-only');
END;

-- Mutable per-version state pointer. Every transition is also recorded as
-- an append-only human_review_actions row.
CREATE TABLE IF NOT EXISTS review_states (
    version_id        TEXT PRIMARY KEY REFERENCES blog_versions(id),
    blog_id           TEXT NOT NULL REFERENCES blogs(id),
    state             TEXT NOT NULL DEFAULT 'DRAFT' CHECK(state IN ('DRAFT','IN_REVIEW','APPROVED','REJECTED','ARCHIVED')),
    review_started_at DATETIME,
    submit_count      INTEGER NOT NULL DEFAULT 0,
    updated_at        DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_review_states_blog ON review_states(blog_id);
CREATE INDEX IF NOT EXISTS idx_review_states_open ON review_states(state) WHERE state = 'IN_REVIEW';

CREATE TRIGGER IF NOT EXISTS review_states_terminal_guard
BEFORE UPDATE OF state ON review_states
WHEN OLD.state IN ('APPROVED','REJECTED','ARCHIVED') AND NEW.state != OLD.state
BEGIN
    SELECT RAISE(ABORT, 'immutable: terminal review states never transition');
END;

CREATE TABLE IF NOT EXISTS human_review_actions (
    id                   TEXT PRIMARY KEY,
    version_id           TEXT NOT NULL REFERENCES blog_versions(id),
    reviewer_id          TEXT NOT NULL REFERENCES actors(id),
    action               TEXT NOT NULL CHECK(action IN ('SUBMIT','COMMENT','REQUEST_CHANGES','APPROVE_INTENT','APPROVE','REJECT','OVERRIDE','ARCHIVE')),
    comments             TEXT,
    is_override          INTEGER NOT NULL DEFAULT 0 CHECK(is_override IN (0, 1)),
    justification        TEXT,
    risk_acceptance_note TEXT,
    performed_at         DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_review_actions_version ON human_review_actions(version_id);
CREATE INDEX IF NOT EXISTS idx_review_actions_reviewer ON human_review_actions(reviewer_id);
CREATE INDEX IF NOT EXISTS idx_review_actions_time ON human_review_actions(performed_at);

CREATE TRIGGER IF NOT EXISTS human_review_actions_no_update
BEFORE UPDATE ON human_review_actions
BEGIN
    SELECT RAISE(ABORT, 'immutable: human_review_actions are append-only');
END;
CREATE TRIGGER IF NOT EXISTS human_review_actions_no_delete
BEFORE DELETE ON human_review_actions
BEGIN
    SELECT RAISE(ABORT, 'immutable: human_review_actions are append-only');
END;

CREATE TABLE IF NOT EXISTS escalations (
    id          TEXT PRIMARY KEY,
    blog_id     TEXT NOT NULL REFERENCES blogs(id),
    version_id  TEXT NOT NULL REFERENCES blog_versions(id),
    reason      TEXT NOT NULL CHECK(reason IN ('score_regression','policy_violation','ambiguity','low_quality','fast_approval','max_review_cycles','repeat_rejections')),
    details     TEXT NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL DEFAULT 'pending_review' CHECK(status IN ('pending_review','resolved','dismissed')),
    created_at  DATETIME DEFAULT (datetime('now')),
    resolved_at DATETIME,
    resolved_by TEXT REFERENCES actors(id)
);
CREATE INDEX IF NOT EXISTS idx_escalations_blog ON escalations(blog_id);
CREATE INDEX IF NOT EXISTS idx_escalations_open ON escalations(blog_id) WHERE status = 'pending_review';

-- Observability: audit log (see pkg/audit)
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    action TEXT NOT NULL,
    transport TEXT NOT NULL DEFAULT 'http',
    user_id TEXT,
    request_id TEXT,
    parameters TEXT,
    result TEXT,
    error_message TEXT,
    duration_ms INTEGER,
    status TEXT NOT NULL DEFAULT 'success'
);
CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id);

-- Observability: SQL trace persistence (see pkg/trace)
CREATE TABLE IF NOT EXISTS sql_traces (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trace_id TEXT,
    op TEXT NOT NULL,
    query TEXT NOT NULL,
    duration_us INTEGER NOT NULL,
    error TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_ts ON sql_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_sql_traces_tid ON sql_traces(trace_id) WHERE trace_id != '';
`
