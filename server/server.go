// Package server exposes the unlockbench HTTP API.
//
// Routes mirror the dashboard backend: proxy checks, unlocker runs with a
// stop control, stored results, proxy settings, and a server-sent event
// stream carrying run progress. Multi-instance runs execute in the
// background; their final result is persisted when they finish.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/unlockbench/lode"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/progress"
	"github.com/pithecene-io/unlockbench/proxy"
	"github.com/pithecene-io/unlockbench/runtime"
	"github.com/pithecene-io/unlockbench/store"
)

// Config wires a Server. Store, Orchestrator, Publisher and Verifier are
// required; Archive, Collector and Logger may be nil.
type Config struct {
	Store        store.Store
	Orchestrator *runtime.Orchestrator
	Publisher    *progress.Publisher
	Verifier     *proxy.Verifier
	Archive      *lode.Archive
	Collector    *metrics.Collector
	Logger       *log.Logger

	// CORSOrigins lists allowed origins. Empty allows any origin.
	CORSOrigins []string
	// RateLimit is the per-client request rate on run and check
	// endpoints. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// UseTLS is the fallback proxy scheme when settings do not enable it.
	UseTLS bool
}

// Server serves the HTTP API.
type Server struct {
	store     store.Store
	orch      *runtime.Orchestrator
	pub       *progress.Publisher
	verifier  *proxy.Verifier
	archive   *lode.Archive
	collector *metrics.Collector
	logger    *log.Logger
	cfg       Config

	now func() time.Time

	// run context outlives requests; cancelled when shutdown gives up
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup

	engine *gin.Engine
	http   *http.Server
}

// New builds a server and its routes.
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:     cfg.Store,
		orch:      cfg.Orchestrator,
		pub:       cfg.Publisher,
		verifier:  cfg.Verifier,
		archive:   cfg.Archive,
		collector: cfg.Collector,
		logger:    cfg.Logger.WithComponent("server"),
		cfg:       cfg,
		now:       time.Now,
		runCtx:    ctx,
		cancelRun: cancel,
	}
	s.engine = s.routes()
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))

	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return []gin.HandlerFunc{h}
	}
	if s.cfg.RateLimit > 0 {
		limiter := newIPRateLimiter(rate.Limit(s.cfg.RateLimit), max(s.cfg.RateBurst, 1))
		limited = func(h gin.HandlerFunc) []gin.HandlerFunc {
			return []gin.HandlerFunc{rateLimit(limiter), h}
		}
	}

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.POST("/proxy/test", limited(s.handleProxyTest)...)

	api.GET("/results", s.handleListResults)
	api.GET("/results/:id", s.handleGetResult)
	api.DELETE("/results/:id", s.handleDeleteResult)
	api.DELETE("/results", s.handleDeleteAllResults)

	api.POST("/unlocker-test", limited(s.handleUnlockerTest)...)
	api.POST("/unlocker/test", limited(s.handleUnlockerTest)...)
	api.POST("/unlocker-test/:requestId/stop", s.handleStop)
	api.GET("/test-results/:requestId", s.handleTestResults)

	api.GET("/settings", s.handleGetSettings)
	api.POST("/settings", s.handleUpdateSettings)

	api.GET("/events", s.handleEvents)
	api.GET("/metrics", s.handleMetrics)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", map[string]any{"addr": ln.Addr().String()})
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes event streams and waits for
// background runs. Runs still going when ctx ends are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.pub.Close()
	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("cancelling unfinished runs", nil)
		s.cancelRun()
		<-done
	}
	s.cancelRun()
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.Snapshot())
}

// fail writes the {success:false, error} envelope.
func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}
