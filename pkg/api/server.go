// Package api exposes the HTTP surface: thin gin handlers delegating to
// the orchestrator, queue, metrics, and feature-flag components.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/database"
	"github.com/talenthive/cvflow/pkg/flags"
	"github.com/talenthive/cvflow/pkg/metrics"
	"github.com/talenthive/cvflow/pkg/orchestrator"
	"github.com/talenthive/cvflow/pkg/parser"
	"github.com/talenthive/cvflow/pkg/queue"
)

// Server holds the HTTP dependencies and the gin engine.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	orch       *orchestrator.Orchestrator
	queue      *queue.Service
	flags      *flags.Store
	metrics    *metrics.Collector
	db         *database.Client
	dispatcher *parser.Dispatcher
}

// Deps bundles the server's collaborators.
type Deps struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Queue        *queue.Service
	Flags        *flags.Store
	Metrics      *metrics.Collector
	DB           *database.Client
	Dispatcher   *parser.Dispatcher
}

// NewServer builds the router with all routes registered.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:        deps.Config,
		orch:       deps.Orchestrator,
		queue:      deps.Queue,
		flags:      deps.Flags,
		metrics:    deps.Metrics,
		db:         deps.DB,
		dispatcher: deps.Dispatcher,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(deps.Config.AllowedOrigins))

	// Unauthenticated: health and observability.
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", s.handleMetrics)
	engine.GET("/metrics/health", s.handleMetricsHealth)
	engine.GET("/metrics/recent", s.handleMetricsRecent)
	engine.GET("/metrics/llm-cost", s.handleMetricsLLMCost)
	engine.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))

	// Authenticated API.
	auth := engine.Group("/", authMiddleware(deps.Config))
	auth.POST("/parse", s.handleParse)
	auth.POST("/analyze", s.handleAnalyze)
	auth.POST("/process", s.handleProcess)
	auth.POST("/pipeline", s.handlePipeline)

	auth.POST("/queue/enqueue", s.handleEnqueue)
	auth.GET("/queue/status", s.handleQueueStatus)

	auth.GET("/dlq/stats", s.handleDLQStats)
	auth.GET("/dlq/entries", s.handleDLQEntries)
	auth.GET("/dlq/entry/:id", s.handleDLQEntry)
	auth.POST("/dlq/retry/:id", s.handleDLQRetry)
	auth.DELETE("/dlq/entry/:id", s.handleDLQDelete)
	auth.DELETE("/dlq/clear", s.handleDLQClear)

	auth.GET("/feature-flags", s.handleFlags)
	auth.GET("/feature-flags/check", s.handleFlagsCheck)
	auth.POST("/feature-flags/reload", s.handleFlagsReload)

	if !deps.Config.IsProduction() {
		auth.GET("/debug", s.handleDebug)
	}

	s.engine = engine
	return s
}

// Handler exposes the engine for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP listener.
func (s *Server) Run() error {
	return s.engine.Run(":" + s.cfg.HTTPPort)
}
