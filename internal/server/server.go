// Package server exposes the HTTP surface: chat, task and instruction
// management, ingestion control and operational endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ada/internal/instruction"
	"ada/internal/logging"
	"ada/internal/orchestrator"
	"ada/internal/poller"
	"ada/internal/rag"
	"ada/internal/storage"
	"ada/internal/task"
)

// Deps carries everything the handlers need.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Tasks        *task.Store
	Instructions *instruction.Store
	Ingestor     *rag.Ingestor
	Poller       *poller.Poller
	Ambiguity    *storage.AmbiguityStore
	Tenants      *storage.TenantDirectory
	Logger       logging.Logger
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
}

// New builds the router.
func New(addr string, deps Deps) *Server {
	logger := logging.OrNop(deps.Logger)
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	h := &handlers{deps: deps, logger: logger}

	engine.GET("/healthz", h.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	{
		api.POST("/chat", h.chat)

		api.POST("/tenants", h.registerTenant)
		api.GET("/tenants", h.listTenants)

		api.GET("/tasks", h.listTasks)
		api.GET("/tasks/:id", h.getTask)

		api.POST("/instructions", h.addInstruction)
		api.GET("/instructions", h.listInstructions)
		api.DELETE("/instructions/:id", h.deactivateInstruction)

		api.POST("/sync", h.runPollCycle)
		api.POST("/ingest/:tenant", h.runIngestion)
		api.GET("/rag/stats", h.ragStats)

		api.GET("/ambiguous", h.listAmbiguous)
		api.POST("/ambiguous/:id/resolve", h.resolveAmbiguous)
	}

	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// Handler returns the underlying http.Handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
