// cvflow server — résumé processing pipeline with HTTP API and queue
// workers.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/talenthive/cvflow/pkg/analyst"
	"github.com/talenthive/cvflow/pkg/api"
	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/database"
	"github.com/talenthive/cvflow/pkg/embedder"
	"github.com/talenthive/cvflow/pkg/flags"
	"github.com/talenthive/cvflow/pkg/llm"
	"github.com/talenthive/cvflow/pkg/metrics"
	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/orchestrator"
	"github.com/talenthive/cvflow/pkg/parser"
	"github.com/talenthive/cvflow/pkg/persistence"
	"github.com/talenthive/cvflow/pkg/privacy"
	"github.com/talenthive/cvflow/pkg/queue"
	"github.com/talenthive/cvflow/pkg/storage"
	"github.com/talenthive/cvflow/pkg/validation"
	"github.com/talenthive/cvflow/pkg/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg.LogLevel)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, migrations applied")

	// Queue
	queueService, err := queue.NewService(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to create queue service: %v", err)
	}
	defer queueService.Close()
	if err := queueService.Ping(ctx); err != nil {
		slog.Warn("Redis unreachable at startup; queue endpoints degraded", "error", err)
	}

	// Privacy cipher (optional: records persist unencrypted contact
	// ciphertext columns as NULL without a key)
	var cipher *privacy.Cipher
	if len(cfg.EncryptionKey) > 0 {
		cipher, err = privacy.NewCipher(cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("Invalid ENCRYPTION_KEY: %v", err)
		}
	} else {
		slog.Warn("ENCRYPTION_KEY not set; contact originals will not be stored")
	}

	// Pipeline components
	llmManager := llm.NewManager(cfg.LLM)
	if len(llmManager.Available()) == 0 {
		slog.Warn("No LLM providers configured; analysis will fail")
	}
	flagStore := flags.NewStore()
	collector := metrics.NewCollector(nil)
	store := persistence.NewService(dbClient.DB())

	orch := orchestrator.New(orchestrator.Deps{
		Config:     cfg,
		LLM:        llmManager,
		Dispatcher: parser.NewDispatcher(),
		Analyst:    analyst.New(llmManager, cfg.Pipeline),
		Verifier:   validation.NewVerifier(llmManager),
		Embedder:   embedder.NewService(cfg.LLM),
		Store:      store,
		Objects:    storage.NewClient(cfg.Storage),
		Webhooks:   webhook.NewClient(cfg.Webhook),
		Flags:      flagStore,
		Metrics:    collector,
		Cipher:     cipher,
	})

	// Queue workers
	pool := queue.NewWorkerPool(queueService, cfg.Queue, &pipelineExecutor{orch: orch})
	pool.Start(ctx)
	defer pool.Stop()

	// HTTP server
	server := api.NewServer(api.Deps{
		Config:       cfg,
		Orchestrator: orch,
		Queue:        queueService,
		Flags:        flagStore,
		Metrics:      collector,
		DB:           dbClient,
		Dispatcher:   parser.NewDispatcher(),
	})

	slog.Info("cvflow started",
		"version", buildVersion(), "port", cfg.HTTPPort, "environment", cfg.Environment)
	if err := server.Run(); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

// pipelineExecutor adapts queue jobs onto the orchestrator.
type pipelineExecutor struct {
	orch *orchestrator.Orchestrator
}

func (e *pipelineExecutor) Execute(ctx context.Context, job *models.PipelineJob) error {
	result := e.orch.Run(ctx, &orchestrator.Input{
		JobID:              job.JobID,
		UserID:             job.UserID,
		FilePath:           job.FilePath,
		FileName:           job.FileName,
		Mode:               job.Mode,
		IsRetry: job.Attempt > 0,
		// Failed attempts never debited, so retries pay normally; a prior
		// successful save turns the rerun into an update, which never
		// debits again.
		SkipCredit:         false,
		GenerateEmbeddings: true,
		MaskPII:            true,
		SaveToDB:           true,
	})
	if result.Success {
		return nil
	}
	if !result.ErrorCode.Retryable() {
		return &queue.PermanentError{Code: string(result.ErrorCode), Err: errFromResult(result)}
	}
	return errFromResult(result)
}

func errFromResult(result *orchestrator.Result) error {
	return &pipelineError{code: string(result.ErrorCode), message: result.UserMessage}
}

type pipelineError struct {
	code    string
	message string
}

func (e *pipelineError) Error() string {
	return e.code + ": " + e.message
}

// buildVersion returns the short VCS revision the Go toolchain embeds
// into the binary, or "dev" for non-git builds and `go test`.
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 8 {
				return s.Value[:8]
			}
		}
	}
	return "dev"
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
