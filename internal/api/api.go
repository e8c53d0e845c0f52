// CLAUDE:SUMMARY Core API struct and HTTP handlers — auth, blogs/versions, evaluations, rewrites, review decisions, escalations, sandbox scoring
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/hazyhaar/redline/internal/auth"
	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/fault"
	"github.com/hazyhaar/redline/internal/pipeline"
	"github.com/hazyhaar/redline/internal/review"
	"github.com/hazyhaar/redline/internal/rewrite"
	"github.com/hazyhaar/redline/internal/scorer"
	"github.com/hazyhaar/redline/pkg/audit"
)

// maxBodySize is the maximum HTTP body size for content endpoints.
const maxBodySize = 1 << 20 // 1MB

// ScoreRateLimiter bounds the sandbox scoring endpoints (30 req/60s).
var ScoreRateLimiter = NewRateLimiter(30, 60*time.Second)

type API struct {
	db           *db.DB
	auth         *auth.Auth
	pipeline     *pipeline.Pipeline
	orchestrator *rewrite.Orchestrator
	reviews      *review.Machine
	auditLog     audit.Logger
}

func New(database *db.DB, a *auth.Auth, p *pipeline.Pipeline, o *rewrite.Orchestrator, m *review.Machine, auditLog audit.Logger) *API {
	return &API{
		db:           database,
		auth:         a,
		pipeline:     p,
		orchestrator: o,
		reviews:      m,
		auditLog:     auditLog,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Auth
	mux.HandleFunc("POST /api/register", a.handleRegister)
	mux.HandleFunc("POST /api/login", a.handleLogin)

	// Blogs & versions
	mux.HandleFunc("POST /api/blogs", a.handleCreateBlog)
	mux.HandleFunc("GET /api/blogs", a.handleListBlogs)
	mux.HandleFunc("GET /api/blog/{id}", a.handleGetBlog)
	mux.HandleFunc("POST /api/blog/{id}/versions", a.handleAppendVersion)
	mux.HandleFunc("GET /api/blog/{id}/versions", a.handleListVersions)
	mux.HandleFunc("GET /api/version/{id}", a.handleGetVersion)

	// Evaluation pipeline
	mux.HandleFunc("POST /api/evaluations", a.handleStartEvaluation)
	mux.HandleFunc("GET /api/evaluation/{id}", a.handleGetEvaluation)

	// Rewrite orchestration
	mux.HandleFunc("POST /api/version/{id}/rewrite", a.handleOrchestrateRewrite)
	mux.HandleFunc("GET /api/version/{id}/cycles", a.handleListCycles)

	// Review state machine
	mux.HandleFunc("POST /api/version/{id}/review", a.handleStartReview)
	mux.HandleFunc("GET /api/version/{id}/eligibility", a.handleEligibility)
	mux.HandleFunc("POST /api/version/{id}/approve", a.handleApprove)
	mux.HandleFunc("POST /api/version/{id}/reject", a.handleReject)
	mux.HandleFunc("POST /api/version/{id}/override", a.handleOverride)
	mux.HandleFunc("POST /api/version/{id}/comment", a.handleComment)
	mux.HandleFunc("POST /api/version/{id}/request-changes", a.handleRequestChanges)
	mux.HandleFunc("POST /api/version/{id}/edit", a.handleEditDuringReview)

	// Approvals
	mux.HandleFunc("GET /api/blog/{id}/approval", a.handleCurrentApproval)
	mux.HandleFunc("POST /api/blog/{id}/revoke", a.handleRevokeApproval)
	mux.HandleFunc("GET /api/blog/{id}/attempts", a.handleListAttempts)

	// Escalations
	mux.HandleFunc("GET /api/blog/{id}/escalations", a.handleListEscalations)
	mux.HandleFunc("POST /api/escalation/{id}/resolve", a.handleResolveEscalation)

	// Sandbox scoring (pure previews, nothing persisted)
	mux.HandleFunc("POST /api/sandbox/ai-likeness", RateLimitMiddleware(ScoreRateLimiter, a.handleSandboxAILikeness))
	mux.HandleFunc("POST /api/sandbox/aeo", RateLimitMiddleware(ScoreRateLimiter, a.handleSandboxAEO))

	// Health
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// --- auth ---

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
		IsHuman  bool   `json:"is_human"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		jsonError(w, "valid email is required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		jsonError(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := a.auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	actor, err := a.db.CreateActor(db.CreateActorInput{
		Email:        req.Email,
		Role:         req.Role,
		IsHuman:      req.IsHuman,
		PasswordHash: hash,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			jsonError(w, "email already registered", http.StatusConflict)
			return
		}
		a.fail(w, err, "creating actor")
		return
	}

	token, err := a.auth.GenerateToken(actor.ID, actor.Email)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusCreated, map[string]any{
		"actor": actor,
		"token": token,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	actor, hash, err := a.db.GetActorByEmail(req.Email)
	if err != nil || !a.auth.CheckPassword(hash, req.Password) {
		jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := a.auth.GenerateToken(actor.ID, actor.Email)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusOK, map[string]any{
		"actor": actor,
		"token": token,
	})
}

// --- blogs & versions ---

func (a *API) handleCreateBlog(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Name      string  `json:"name"`
		ProjectID *string `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	blog, err := a.db.CreateBlog(req.Name, claims.ActorID, req.ProjectID)
	if err != nil {
		a.fail(w, err, "creating blog")
		return
	}
	a.audit(r, claims, "create_blog", req, blog)
	jsonResp(w, http.StatusCreated, blog)
}

func (a *API) handleListBlogs(w http.ResponseWriter, r *http.Request) {
	blogs, err := a.db.ListBlogs(100)
	if err != nil {
		a.fail(w, err, "listing blogs")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"blogs": blogs, "count": len(blogs)})
}

func (a *API) handleGetBlog(w http.ResponseWriter, r *http.Request) {
	blog, err := a.db.GetBlog(r.PathValue("id"))
	if err != nil {
		a.fail(w, err, "loading blog")
		return
	}
	escalated, err := a.db.IsEscalated(blog.ID)
	if err != nil {
		a.fail(w, err, "checking escalations")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"blog": blog, "is_escalated": escalated})
}

func (a *API) handleAppendVersion(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req struct {
		Content         string  `json:"content"`
		Source          string  `json:"source"`
		ParentVersionID *string `json:"parent_version_id"`
		ChangeReason    *string `json:"change_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = "human_paste"
	}
	if req.Source == "ai_rewrite" {
		// AI rewrites only enter through the orchestrator.
		jsonError(w, "ai_rewrite versions are appended by the rewrite orchestrator", http.StatusBadRequest)
		return
	}

	version, err := a.db.AppendVersion(db.AppendVersionInput{
		BlogID:          r.PathValue("id"),
		Content:         req.Content,
		Source:          req.Source,
		ParentVersionID: req.ParentVersionID,
		ChangeReason:    req.ChangeReason,
		CreatedBy:       claims.ActorID,
	})
	if err != nil {
		a.fail(w, err, "appending version")
		return
	}
	a.audit(r, claims, "append_version", map[string]any{"blog_id": version.BlogID, "source": req.Source}, version.ID)
	jsonResp(w, http.StatusCreated, version)
}

func (a *API) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := a.db.ListVersions(r.PathValue("id"))
	if err != nil {
		a.fail(w, err, "listing versions")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

func (a *API) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := a.db.GetVersion(r.PathValue("id"))
	if err != nil {
		a.fail(w, err, "loading version")
		return
	}
	state, err := a.db.GetReviewState(version.ID)
	if err != nil {
		a.fail(w, err, "loading review state")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"version": version, "review_state": state})
}

// --- evaluations ---

func (a *API) handleStartEvaluation(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		VersionID string `json:"version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := a.pipeline.StartEvaluation(r.Context(), req.VersionID, &claims.ActorID)
	if err != nil {
		a.fail(w, err, "starting evaluation")
		return
	}
	a.audit(r, claims, "start_evaluation", req, run.ID)
	jsonResp(w, http.StatusAccepted, run)
}

func (a *API) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	eval, err := a.pipeline.GetEvaluation(r.PathValue("id"))
	if err != nil {
		a.fail(w, err, "loading evaluation")
		return
	}
	jsonResp(w, http.StatusOK, eval)
}

// --- rewrites ---

func (a *API) handleOrchestrateRewrite(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}

	cycle, err := a.orchestrator.Orchestrate(r.Context(), r.PathValue("id"), &claims.ActorID)
	if err != nil {
		a.fail(w, err, "orchestrating rewrite")
		return
	}
	a.audit(r, claims, "orchestrate_rewrite", map[string]string{"version_id": r.PathValue("id")}, cycle)
	if cycle == nil {
		jsonResp(w, http.StatusOK, map[string]string{"decision": "no_rewrite_required"})
		return
	}
	jsonResp(w, http.StatusAccepted, cycle)
}

func (a *API) handleListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := a.db.ListCyclesForParent(r.PathValue("id"))
	if err != nil {
		a.fail(w, err, "listing cycles")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"cycles": cycles, "count": len(cycles)})
}

// --- review ---

func (a *API) handleStartReview(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	state, err := a.reviews.StartReview(r.PathValue("id"), claims.ActorID)
	if err != nil {
		a.fail(w, err, "starting review")
		return
	}
	a.audit(r, claims, "start_review", map[string]string{"version_id": r.PathValue("id")}, state.State)
	jsonResp(w, http.StatusOK, state)
}

func (a *API) handleEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := a.reviews.Eligibility(r.PathValue("id"))
	if err != nil {
		a.fail(w, err, "checking eligibility")
		return
	}
	jsonResp(w, http.StatusOK, e)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Rationale  string  `json:"rationale"`
		CoSignerID *string `json:"co_signer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	approval, err := a.reviews.Approve(review.DecisionInput{
		VersionID:  r.PathValue("id"),
		ReviewerID: claims.ActorID,
		Rationale:  req.Rationale,
		CoSignerID: req.CoSignerID,
	})
	if err != nil {
		a.fail(w, err, "approving version")
		return
	}
	a.audit(r, claims, "approve", map[string]string{"version_id": r.PathValue("id")}, approval.ID)
	jsonResp(w, http.StatusCreated, approval)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Rationale string `json:"rationale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.reviews.Reject(review.DecisionInput{
		VersionID:  r.PathValue("id"),
		ReviewerID: claims.ActorID,
		Rationale:  req.Rationale,
	}); err != nil {
		a.fail(w, err, "rejecting version")
		return
	}
	a.audit(r, claims, "reject", map[string]string{"version_id": r.PathValue("id")}, "rejected")
	jsonResp(w, http.StatusOK, map[string]string{"state": "REJECTED"})
}

func (a *API) handleOverride(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Justification      string `json:"justification"`
		RiskAcceptanceNote string `json:"risk_acceptance_note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	approval, err := a.reviews.RequestOverride(review.OverrideInput{
		VersionID:          r.PathValue("id"),
		ReviewerID:         claims.ActorID,
		Justification:      req.Justification,
		RiskAcceptanceNote: req.RiskAcceptanceNote,
	})
	if err != nil {
		a.fail(w, err, "requesting override")
		return
	}
	a.audit(r, claims, "request_override", map[string]string{"version_id": r.PathValue("id")}, approval.ID)
	jsonResp(w, http.StatusCreated, approval)
}

func (a *API) handleComment(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.reviews.Comment(r.PathValue("id"), claims.ActorID, req.Comment); err != nil {
		a.fail(w, err, "logging comment")
		return
	}
	jsonResp(w, http.StatusCreated, map[string]string{"action": "COMMENT"})
}

func (a *API) handleRequestChanges(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.reviews.RequestChanges(r.PathValue("id"), claims.ActorID, req.Comment); err != nil {
		a.fail(w, err, "requesting changes")
		return
	}
	jsonResp(w, http.StatusCreated, map[string]string{"action": "REQUEST_CHANGES"})
}

func (a *API) handleEditDuringReview(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req struct {
		Content string `json:"content"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	version, err := a.reviews.EditDuringReview(r.PathValue("id"), claims.ActorID, req.Content, req.Reason)
	if err != nil {
		a.fail(w, err, "editing during review")
		return
	}
	a.audit(r, claims, "edit_during_review", map[string]string{"parent": r.PathValue("id")}, version.ID)
	jsonResp(w, http.StatusCreated, version)
}

// --- approvals ---

func (a *API) handleCurrentApproval(w http.ResponseWriter, r *http.Request) {
	approval, err := a.db.CurrentApproval(r.PathValue("id"))
	if err != nil {
		a.fail(w, err, "loading current approval")
		return
	}
	if approval == nil {
		jsonResp(w, http.StatusOK, map[string]any{"approval": nil})
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"approval": approval})
}

func (a *API) handleRevokeApproval(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	revocation, err := a.db.RevokeApproval(r.PathValue("id"), claims.ActorID, req.Reason)
	if err != nil {
		a.fail(w, err, "revoking approval")
		return
	}
	a.audit(r, claims, "revoke_approval", map[string]string{"blog_id": r.PathValue("id")}, revocation.ID)
	jsonResp(w, http.StatusCreated, revocation)
}

func (a *API) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := a.db.ListAttempts(r.PathValue("id"), 100)
	if err != nil {
		a.fail(w, err, "listing attempts")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"attempts": attempts, "count": len(attempts)})
}

// --- escalations ---

func (a *API) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	escalations, err := a.db.ListEscalations(r.PathValue("id"), openOnly)
	if err != nil {
		a.fail(w, err, "listing escalations")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"escalations": escalations, "count": len(escalations)})
}

func (a *API) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	claims := a.requireAuth(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.db.ResolveEscalation(r.PathValue("id"), claims.ActorID, req.Status); err != nil {
		a.fail(w, err, "resolving escalation")
		return
	}
	a.audit(r, claims, "resolve_escalation", map[string]string{"escalation_id": r.PathValue("id")}, req.Status)
	jsonResp(w, http.StatusOK, map[string]string{"status": req.Status})
}

// --- sandbox scoring ---

func (a *API) handleSandboxAILikeness(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := scorer.ScoreAILikeness(req.Text)
	if err != nil {
		a.fail(w, err, "scoring text")
		return
	}
	jsonResp(w, http.StatusOK, result)
}

func (a *API) handleSandboxAEO(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := scorer.ScoreAEO(req.Content)
	if err != nil {
		a.fail(w, err, "scoring content")
		return
	}
	jsonResp(w, http.StatusOK, result)
}

// --- helpers ---

func (a *API) requireAuth(w http.ResponseWriter, r *http.Request) *auth.Claims {
	claims := a.auth.ExtractClaims(r)
	if claims == nil {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return nil
	}
	return claims
}

func (a *API) audit(r *http.Request, claims *auth.Claims, action string, params, result any) {
	if a.auditLog == nil {
		return
	}
	entry := &audit.Entry{
		Action:    action,
		Transport: "http",
		UserID:    claims.ActorID,
		RequestID: r.Header.Get("X-Request-ID"),
	}
	if b, err := json.Marshal(params); err == nil {
		entry.Parameters = string(b)
	}
	if b, err := json.Marshal(result); err == nil {
		entry.Result = string(b)
	}
	a.auditLog.LogAsync(entry)
}

// fail maps fault kinds onto HTTP statuses and logs unexpected errors.
func (a *API) fail(w http.ResponseWriter, err error, context string) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.Validation, fault.InvalidVersion:
		status = http.StatusBadRequest
	case fault.Conflict, fault.ApprovedContent, fault.CapExceeded:
		status = http.StatusConflict
	case fault.Forbidden:
		status = http.StatusForbidden
	case fault.InvalidState:
		status = http.StatusUnprocessableEntity
	case fault.Timeout:
		status = http.StatusGatewayTimeout
	case fault.Unavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error(context, "error", err)
		jsonError(w, "internal error", status)
		return
	}
	jsonError(w, err.Error(), status)
}

func jsonResp(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
