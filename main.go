package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hazyhaar/redline/internal/api"
	"github.com/hazyhaar/redline/internal/auth"
	"github.com/hazyhaar/redline/internal/config"
	"github.com/hazyhaar/redline/internal/db"
	"github.com/hazyhaar/redline/internal/llm"
	"github.com/hazyhaar/redline/internal/mcp"
	"github.com/hazyhaar/redline/internal/pipeline"
	"github.com/hazyhaar/redline/internal/review"
	"github.com/hazyhaar/redline/internal/rewrite"
	"github.com/hazyhaar/redline/internal/runner"
	"github.com/hazyhaar/redline/internal/scorer"
	"github.com/hazyhaar/redline/pkg/audit"
	"github.com/hazyhaar/redline/pkg/trace"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "version":
		fmt.Printf("redline %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`redline — internal content quality engine

Usage:
  redline serve [--config config.toml] [--addr :8080]
  redline mcp   [--config config.toml]
  redline version
  redline help

Commands:
  serve     Start the HTTP server
  mcp       Serve the MCP tool surface over stdio
  version   Print version
  help      Show this help`)
}

type app struct {
	cfg      *config.Config
	db       *db.DB
	auditLog *audit.SQLiteLogger
	pipe     *pipeline.Pipeline
	orch     *rewrite.Orchestrator
	reviews  *review.Machine
	pool     *runner.Runner
	auth     *auth.Auth
}

func buildApp(cfg *config.Config) (*app, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	auditLog := audit.NewSQLiteLogger(database.DB)
	database.SetTracer(trace.NewStore(database.DB))

	registry := scorer.NewRegistry()
	if err := registry.Register("ai_likeness_rubric", scorer.NewAILikenessScorer); err != nil {
		return nil, err
	}
	if err := registry.Register("aeo_rubric", scorer.NewAEOScorer); err != nil {
		return nil, err
	}
	if _, err := registry.Active(cfg.Quality.EnabledDetectors); err != nil {
		return nil, fmt.Errorf("validating enabled_detectors: %w", err)
	}

	pool := runner.New(cfg.Workers.PoolSize, slog.Default())
	pipe := pipeline.New(database, registry, pool, cfg.Quality.EnabledDetectors, slog.Default())

	var providers []llm.Provider
	if cfg.LLM.AnthropicAPIKey != "" {
		providers = append(providers, llm.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey))
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(llm.OpenAIConfig{
			Name:         "openai",
			BaseURL:      "https://api.openai.com/v1",
			APIKey:       cfg.LLM.OpenAIAPIKey,
			Models:       []string{"gpt-4o", "gpt-4o-mini"},
			DefaultModel: "gpt-4o-mini",
		}))
	}
	rewriter := llm.New(providers, cfg.LLM.RewriterModel)

	orch := rewrite.NewOrchestrator(database, rewriter, pool,
		func(ctx context.Context, versionID string, triggeredBy *string) error {
			_, err := pipe.StartEvaluation(ctx, versionID, triggeredBy)
			return err
		},
		rewrite.Config{
			MaxCycles: cfg.Quality.MaxRewriteCycles,
			Timeout:   cfg.RewriterTimeout(),
		}, slog.Default())

	reviews := review.NewMachine(database, review.Config{
		MinReviewDuration:     cfg.MinReviewDuration(),
		FastApprovalThreshold: cfg.FastApprovalThreshold(),
		MaxReviewCycles:       cfg.Quality.MaxReviewCyclesPerBlog,
		MaxInReview:           7 * 24 * time.Hour,
		CosignWindow:          24 * time.Hour,
		CosignFastApprovals:   3,
		RepeatRejectWindow:    7 * 24 * time.Hour,
		RepeatRejectCount:     3,
	}, slog.Default())

	return &app{
		cfg:      cfg,
		db:       database,
		auditLog: auditLog,
		pipe:     pipe,
		orch:     orch,
		reviews:  reviews,
		pool:     pool,
		auth:     auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin),
	}, nil
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	a, err := buildApp(cfg)
	if err != nil {
		log.Fatalf("building app: %v", err)
	}
	defer a.db.Close()
	defer a.auditLog.Close()
	defer a.pool.Stop()

	systemActor := ensureSystemActor(a.db)

	// Hourly sweep: versions stuck in review past the window auto-archive.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := a.reviews.ArchiveStale(systemActor); err != nil {
				slog.Error("archive sweep", "error", err)
			} else if n > 0 {
				slog.Info("archive sweep", "archived", n)
			}
		}
	}()

	apiHandler := api.New(a.db, a.auth, a.pipe, a.orch, a.reviews, a.auditLog)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	log.Printf("redline %s listening on %s", version, cfg.Server.Addr)
	log.Printf("database: %s", cfg.Database.Path)
	log.Printf("detectors: %v", cfg.Quality.EnabledDetectors)

	if err := http.ListenAndServe(cfg.Server.Addr, api.SecurityHeaders(mux)); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	a, err := buildApp(cfg)
	if err != nil {
		log.Fatalf("building app: %v", err)
	}
	defer a.db.Close()
	defer a.auditLog.Close()
	defer a.pool.Stop()

	srv := mcp.NewServer(a.db, a.pipe, a.auditLog)
	if err := mcpserver.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

// ensureSystemActor creates the service account that attributes automated
// actions (archive sweeps). It is never human.
func ensureSystemActor(database *db.DB) string {
	if actor, _, err := database.GetActorByEmail("system@redline.local"); err == nil {
		return actor.ID
	}
	actor, err := database.CreateActor(db.CreateActorInput{
		Email:   "system@redline.local",
		Role:    "system",
		IsHuman: false,
	})
	if err != nil {
		log.Fatalf("creating system actor: %v", err)
	}
	return actor.ID
}
