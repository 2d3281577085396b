// Package server hosts the checkout handshake over HTTP for the app's web view.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/bridge"
	custom_context "github.com/yourorg/hpp-checkout/internal/context"
	"github.com/yourorg/hpp-checkout/internal/monitor"
	"github.com/yourorg/hpp-checkout/internal/reporting"
	"github.com/yourorg/hpp-checkout/internal/session"
	"github.com/yourorg/hpp-checkout/internal/transport"
)

// Config carries the collaborators and tunables of the HTTP host.
type Config struct {
	Transport      transport.CheckoutTransport
	Reconciler     session.Adjudicator
	Stores         custom_context.StoreConfigRepository
	Tokens         *bridge.TokenIssuer
	Logger         *zap.Logger
	PageTimeout    time.Duration
	AllowedOrigins []string
	ServiceName    string
	// Retention keeps a finished session reachable for status polling.
	Retention    time.Duration
	HistoryLimit int
}

// Server owns the in-memory session registry and the HTTP routes.
type Server struct {
	transport   transport.CheckoutTransport
	reconciler  session.Adjudicator
	builder     *custom_context.ContextBuilder
	tokens      *bridge.TokenIssuer
	contract    *monitor.ContractMonitor
	reporter    *reporting.RetrospectiveReporter
	registry    *registry
	logger      *zap.Logger
	pageTimeout time.Duration
	serviceName string
	upgrader    websocket.Upgrader

	// baseCtx parents every session; sessions outlive the request that
	// created them.
	baseCtx context.Context
}

// New creates a Server. Sessions started by it are bound to ctx.
func New(ctx context.Context, cfg Config) *Server {
	if cfg.Transport == nil {
		panic("Transport cannot be nil")
	}
	if cfg.Reconciler == nil {
		panic("Reconciler cannot be nil")
	}
	if cfg.Stores == nil {
		panic("Stores cannot be nil")
	}
	if cfg.Tokens == nil {
		panic("Tokens cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.ServiceName
	if name == "" {
		name = "hpp-checkout"
	}
	retention := cfg.Retention
	if retention == 0 {
		retention = defaultRetention
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit == 0 {
		historyLimit = defaultHistoryLimit
	}
	s := &Server{
		transport:   cfg.Transport,
		reconciler:  cfg.Reconciler,
		builder:     custom_context.NewContextBuilder(cfg.Stores),
		tokens:      cfg.Tokens,
		contract:    monitor.MustContractMonitor(monitor.CheckoutRequestSchema),
		reporter:    reporting.NewRetrospectiveReporter(),
		registry:    newRegistry(retention, historyLimit),
		logger:      logger,
		pageTimeout: cfg.PageTimeout,
		serviceName: name,
		baseCtx:     ctx,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// Shutdown waits for every live session to reach Terminal. Sessions are bound
// to the ctx given to New, so cancel that first to push them to completion.
func (s *Server) Shutdown(ctx context.Context) error {
	running := len(s.registry.running())
	if running > 0 {
		s.logger.Info("draining sessions", zap.Int("running", running))
	}
	return s.registry.wait(ctx)
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(s.serviceName), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := router.Group("/checkout/sessions")
	sessions.POST("", s.createSession)
	sessions.GET("/:id", s.getSession)
	sessions.GET("/:id/page", s.getPage)
	sessions.GET("/:id/bridge", s.openBridge)
	sessions.POST("/:id/cancel", s.cancelSession)

	router.GET("/reports/retrospective", s.retrospective)
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
