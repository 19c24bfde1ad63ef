// Package api is the HTTP facade: thin handlers that validate input,
// dispatch to the attach/prune engine, the sync scheduler, and the caches,
// and serialize per-item outcomes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oculair/toolcurator/pkg/cache"
	"github.com/oculair/toolcurator/pkg/config"
	"github.com/oculair/toolcurator/pkg/models"
	syncpkg "github.com/oculair/toolcurator/pkg/sync"
	"github.com/oculair/toolcurator/pkg/toolset"
	"github.com/oculair/toolcurator/pkg/vectorstore"
)

// AttachPruner is the engine surface the facade dispatches to.
type AttachPruner interface {
	Attach(ctx context.Context, req toolset.AttachRequest) (*toolset.AttachResult, error)
	Prune(ctx context.Context, req toolset.PruneRequest) (*toolset.PruneResult, error)
}

// SyncTrigger starts one sync cycle on demand.
type SyncTrigger interface {
	RunNow(ctx context.Context) (*syncpkg.Summary, error)
}

// VectorStatus is the vector store surface health and search need.
type VectorStatus interface {
	Ready() bool
	EnsureReady(ctx context.Context) error
	Search(ctx context.Context, query string, limit int) ([]vectorstore.Hit, error)
}

// CatalogSource reads the tool catalog cache and its load state.
type CatalogSource interface {
	Read(forceReload bool) []models.Tool
	Status() cache.Status
}

// ServerCacheSource reads the MCP server cache state.
type ServerCacheSource interface {
	Read(forceReload bool) map[string]models.MCPServer
	Status() cache.Status
}

// Server is the HTTP facade over the engine and caches.
type Server struct {
	engine   AttachPruner
	syncer   SyncTrigger
	vector   VectorStatus
	catalog  CatalogSource
	servers  ServerCacheSource
	synonyms map[string][]string
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer wires the facade. Run gin in release mode; handler logging goes
// through slog like the rest of the service.
func NewServer(cfg *config.Config, engine AttachPruner, syncer SyncTrigger, vector VectorStatus, catalog CatalogSource, servers ServerCacheSource) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:   engine,
		syncer:   syncer,
		vector:   vector,
		catalog:  catalog,
		servers:  servers,
		synonyms: cfg.Synonyms,
		logger:   slog.Default(),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestIDMiddleware(), requestLogMiddleware(s.logger))
	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/api/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/tools", s.handleListTools)
		v1.POST("/tools/attach", s.handleAttach)
		v1.POST("/tools/prune", s.handlePrune)
		v1.POST("/tools/search", s.handleSearch)
		v1.POST("/tools/sync", s.handleSync)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown. Blocks; returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ensureVector gives the store one re-initialization chance per request.
func (s *Server) ensureVector(ctx context.Context) error {
	if s.vector.Ready() {
		return nil
	}
	return s.vector.EnsureReady(ctx)
}
