// Package mcp registers the core quality-engine operations on an MCP
// server. Approval and rejection are deliberately absent: those are
// human decisions taken through the reviewed HTTP surface, and the audit
// trail must show no automated agent ever approved content.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/pipeline"
	"github.com/hazyhaar/redline/internal/scorer"
	"github.com/hazyhaar/redline/pkg/audit"
	"github.com/hazyhaar/redline/pkg/kit"
)

// NewServer creates an MCPServer with the core redline tools registered.
func NewServer(database *db.DB, pipe *pipeline.Pipeline, auditLog audit.Logger) *server.MCPServer {
	srv := server.NewMCPServer(
		"redline",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	registerCreateBlog(srv, database, auditLog)
	registerAppendVersion(srv, database, auditLog)
	registerListVersions(srv, database)
	registerStartEvaluation(srv, pipe, auditLog)
	registerGetEvaluation(srv, pipe)
	registerCurrentApproval(srv, database)
	registerListEscalations(srv, database)
	registerScoreAILikeness(srv)
	registerScoreAEO(srv)

	return srv
}

// --- create_blog ---

func registerCreateBlog(srv *server.MCPServer, database *db.DB, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*createBlogReq)
		return database.CreateBlog(r.Name, r.ActorID, nil)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "create_blog")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]string{"type": "string", "description": "Immutable blog name"},
			"actor_id": map[string]string{"type": "string", "description": "Creating actor ID"},
		},
		"required": []string{"name", "actor_id"},
	})
	tool := mcp.NewToolWithRawSchema("create_blog", "Create a blog (stable content identity)", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &createBlogReq{
			Name:    stringArg(args, "name"),
			ActorID: stringArg(args, "actor_id"),
		}}, nil
	})
}

type createBlogReq struct {
	Name    string `json:"name"`
	ActorID string `json:"actor_id"`
}

// --- append_version ---

func registerAppendVersion(srv *server.MCPServer, database *db.DB, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*appendVersionReq)
		source := r.Source
		if source == "" {
			source = "human_paste"
		}
		return database.AppendVersion(db.AppendVersionInput{
			BlogID:          r.BlogID,
			Content:         r.Content,
			Source:          source,
			ParentVersionID: r.ParentVersionID,
			ChangeReason:    r.ChangeReason,
			CreatedBy:       r.ActorID,
		})
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "append_version")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"blog_id":           map[string]string{"type": "string", "description": "Blog ID"},
			"content":           map[string]string{"type": "string", "description": "Version content"},
			"source":            map[string]string{"type": "string", "description": "human_paste or human_edit"},
			"parent_version_id": map[string]string{"type": "string", "description": "Parent version in the same blog"},
			"change_reason":     map[string]string{"type": "string", "description": "Why this version exists"},
			"actor_id":          map[string]string{"type": "string", "description": "Creating actor ID"},
		},
		"required": []string{"blog_id", "content", "actor_id"},
	})
	tool := mcp.NewToolWithRawSchema("append_version", "Append an immutable version to a blog", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &appendVersionReq{
			BlogID:  stringArg(args, "blog_id"),
			Content: stringArg(args, "content"),
			Source:  stringArg(args, "source"),
			ActorID: stringArg(args, "actor_id"),
		}
		if p := stringArg(args, "parent_version_id"); p != "" {
			r.ParentVersionID = &p
		}
		if c := stringArg(args, "change_reason"); c != "" {
			r.ChangeReason = &c
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type appendVersionReq struct {
	BlogID          string  `json:"blog_id"`
	Content         string  `json:"content"`
	Source          string  `json:"source"`
	ParentVersionID *string `json:"parent_version_id,omitempty"`
	ChangeReason    *string `json:"change_reason,omitempty"`
	ActorID         string  `json:"actor_id"`
}

// --- list_versions ---

func registerListVersions(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"blog_id": map[string]string{"type": "string", "description": "Blog ID"},
		},
		"required": []string{"blog_id"},
	})
	tool := mcp.NewToolWithRawSchema("list_versions", "List a blog's versions in order", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*listVersionsReq)
		return database.ListVersions(r.BlogID)
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &listVersionsReq{BlogID: stringArg(args, "blog_id")}}, nil
	})
}

type listVersionsReq struct {
	BlogID string `json:"blog_id"`
}

// --- start_evaluation ---

func registerStartEvaluation(srv *server.MCPServer, pipe *pipeline.Pipeline, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*startEvaluationReq)
		var triggeredBy *string
		if r.ActorID != "" {
			triggeredBy = &r.ActorID
		}
		return pipe.StartEvaluation(ctx, r.VersionID, triggeredBy)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "start_evaluation")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"version_id": map[string]string{"type": "string", "description": "Version to evaluate"},
			"actor_id":   map[string]string{"type": "string", "description": "Triggering actor (empty = system)"},
		},
		"required": []string{"version_id"},
	})
	tool := mcp.NewToolWithRawSchema("start_evaluation", "Start (or return the in-flight) evaluation run for a version", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &startEvaluationReq{
			VersionID: stringArg(args, "version_id"),
			ActorID:   stringArg(args, "actor_id"),
		}}, nil
	})
}

type startEvaluationReq struct {
	VersionID string `json:"version_id"`
	ActorID   string `json:"actor_id"`
}

// --- get_evaluation ---

func registerGetEvaluation(srv *server.MCPServer, pipe *pipeline.Pipeline) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"run_id": map[string]string{"type": "string", "description": "Evaluation run ID"},
		},
		"required": []string{"run_id"},
	})
	tool := mcp.NewToolWithRawSchema("get_evaluation", "Fetch an evaluation run with its score rows", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*getEvaluationReq)
		return pipe.GetEvaluation(r.RunID)
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &getEvaluationReq{RunID: stringArg(args, "run_id")}}, nil
	})
}

type getEvaluationReq struct {
	RunID string `json:"run_id"`
}

// --- current_approval ---

func registerCurrentApproval(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"blog_id": map[string]string{"type": "string", "description": "Blog ID"},
		},
		"required": []string{"blog_id"},
	})
	tool := mcp.NewToolWithRawSchema("current_approval", "Return the blog's current (non-revoked) approval, if any", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*currentApprovalReq)
		approval, err := database.CurrentApproval(r.BlogID)
		if err != nil {
			return nil, err
		}
		if approval == nil {
			return map[string]any{"approval": nil}, nil
		}
		return map[string]any{"approval": approval}, nil
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &currentApprovalReq{BlogID: stringArg(args, "blog_id")}}, nil
	})
}

type currentApprovalReq struct {
	BlogID string `json:"blog_id"`
}

// --- list_escalations ---

func registerListEscalations(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"blog_id":   map[string]string{"type": "string", "description": "Blog ID"},
			"open_only": map[string]any{"type": "boolean", "description": "Only pending escalations", "default": true},
		},
		"required": []string{"blog_id"},
	})
	tool := mcp.NewToolWithRawSchema("list_escalations", "List a blog's escalations", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*listEscalationsReq)
		return database.ListEscalations(r.BlogID, r.OpenOnly)
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		openOnly := true
		if v, ok := args["open_only"].(bool); ok {
			openOnly = v
		}
		return &kit.MCPDecodeResult{Request: &listEscalationsReq{
			BlogID:   stringArg(args, "blog_id"),
			OpenOnly: openOnly,
		}}, nil
	})
}

type listEscalationsReq struct {
	BlogID   string `json:"blog_id"`
	OpenOnly bool   `json:"open_only"`
}

// --- score_ai_likeness / score_aeo (pure previews) ---

func registerScoreAILikeness(srv *server.MCPServer) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]string{"type": "string", "description": "Text to score (min 5 words)"},
		},
		"required": []string{"text"},
	})
	tool := mcp.NewToolWithRawSchema("score_ai_likeness", "Score text on the deterministic AI-likeness rubric (nothing persisted)", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		return scorer.ScoreAILikeness(request.(string))
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: stringArg(req.GetArguments(), "text")}, nil
	})
}

func registerScoreAEO(srv *server.MCPServer) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]string{"type": "string", "description": "Markdown content to score"},
		},
		"required": []string{"content"},
	})
	tool := mcp.NewToolWithRawSchema("score_aeo", "Score content on the deterministic AEO rubric (nothing persisted)", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		return scorer.ScoreAEO(request.(string))
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: stringArg(req.GetArguments(), "content")}, nil
	})
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
