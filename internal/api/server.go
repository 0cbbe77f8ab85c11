// Package api implements the localhost HTTP surface: middleware chain,
// route table, and handlers gluing the store, queue engine, context
// builder, search, and SSE broker together (§4.9, §6.1).
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-mem/cmem-worker/internal/auth"
	"github.com/open-mem/cmem-worker/internal/config"
	"github.com/open-mem/cmem-worker/internal/queue"
	"github.com/open-mem/cmem-worker/internal/search"
	"github.com/open-mem/cmem-worker/internal/sse"
	"github.com/open-mem/cmem-worker/internal/store"
)

// Server is the worker's HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	store      *store.Store
	queue      *queue.Engine
	search     *search.Search
	broker     *sse.Broker
	auth      *auth.Manager
	rateLimit *RateLimiter
	startedAt time.Time
}

// New wires all middlewares and routes.
func New(cfg *config.Config, st *store.Store, q *queue.Engine, sc *search.Search, broker *sse.Broker, authMgr *auth.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:    router,
		cfg:       cfg,
		store:     st,
		queue:     q,
		search:    sc,
		broker:    broker,
		auth:      authMgr,
		rateLimit: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		startedAt: time.Now(),
	}

	router.Use(corsMiddleware(cfg.Port))
	router.Use(remoteAddrGuard(cfg.Host))
	router.Use(s.rateLimit.middleware())
	router.Use(bodySizeGuard(int64(cfg.BodySizeLimit)))
	router.Use(bearerAuth(authMgr))
	router.Use(contentTypeEnforcement())

	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "Not found")
	})

	if err := s.ValidateWiring(); err != nil {
		panic(err)
	}

	s.routes()
	return s
}

// ValidateWiring fails fast at startup if a required dependency was not
// supplied, the way the teacher's Server.ValidateWiring guards against a
// 500 at request time instead (pkg/api/server.go).
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.store == nil {
		errs = append(errs, fmt.Errorf("store not set"))
	}
	if s.queue == nil {
		errs = append(errs, fmt.Errorf("queue engine not set"))
	}
	if s.search == nil {
		errs = append(errs, fmt.Errorf("search not set"))
	}
	if s.broker == nil {
		errs = append(errs, fmt.Errorf("sse broker not set"))
	}
	if s.auth == nil {
		errs = append(errs, fmt.Errorf("auth manager not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/context", s.handleGetContext)
	s.router.POST("/api/observations", s.handleCreateObservation)
	s.router.POST("/api/observations/batch", s.handleBatchObservations)
	s.router.POST("/api/sessions/init", s.handleSessionInit)
	s.router.POST("/api/sessions/summarize", s.handleSessionSummarize)
	s.router.POST("/api/sessions/complete", s.handleSessionComplete)
	s.router.GET("/api/search", s.handleSearch)
	s.router.GET("/api/observations", s.handleListObservations)
	s.router.GET("/api/observation/:id", s.handleGetObservation)
	s.router.GET("/api/sessions", s.handleListSessions)
	s.router.GET("/api/stats", s.handleStats)
	s.router.GET("/api/queue", s.handleQueueStats)
	s.router.POST("/api/queue/recover", s.handleQueueRecover)
	s.router.GET("/stream", gin.WrapH(http.HandlerFunc(s.broker.ServeHTTP)))
}

// Start serves on addr and blocks until the server stops; callers run it
// in their own goroutine. It returns nil after Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and the rate limiter
// sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimit.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
