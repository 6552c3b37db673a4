package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/model"
	"github.com/imagen-apex/apex/internal/utils/pathutil"
	"github.com/imagen-apex/apex/internal/utils/randutil"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Server struct {
	listenAddr string
	ginEngine  *gin.Engine
	inner      *http.Server

	config  *config.Config
	manager *model.Manager
	auth    *apiKeyAuth
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRegistry registers the server metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = NewMetrics(reg, s.manager)
	}
}

func NewServer(cfg *config.Config, manager *model.Manager, opts ...Option) (*Server, error) {
	if cfg.Server.APIKey == "" {
		return nil, errors.New("server api key must not be empty")
	}

	if err := pathutil.EnsureDir(cfg.TempDir); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	gin.SetMode(getGinMode(cfg.Environment))
	r := gin.New()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s := &Server{
		listenAddr: addr,
		ginEngine:  r,
		inner: &http.Server{
			Handler: r,
			Addr:    addr,
		},
		config:  cfg,
		manager: manager,
		auth:    newAPIKeyAuth(cfg.Server.APIKey),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry(), manager)
	}

	if cfg.Server.RateLimit > 0 {
		burst := cfg.Server.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), burst)
	}

	if cfg.Server.APIKey == config.DefaultServerAPIKey {
		s.logger.Warn("Using the default API key, set SAM3D_API_KEY for any real deployment")
	} else {
		s.logger.Info("API key configured", zap.String("api_key", randutil.MaskString(cfg.Server.APIKey, 4, 4)))
	}

	r.Use(requestID())
	r.Use(logger.SetLogger(
		logger.WithUTC(true),
		logger.WithSkipPath([]string{"/health", "/metrics"}),
	))
	r.Use(cors.New(
		cors.Config{
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowOrigins:  []string{"*"},
			AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", apiKeyHeader, requestIDHeader},
			ExposeHeaders: []string{"Content-Length", requestIDHeader},
			MaxAge:        300 * time.Second,
		},
	))
	r.Use(gin.Recovery())

	s.setupRoutes()

	return s, nil
}

// Handler exposes the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

func (s *Server) Addr() string {
	return s.listenAddr
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.listenAddr))

	if err := s.inner.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("Stopping server")
	return s.inner.Shutdown(ctx)
}

func getGinMode(env string) string {
	switch env {
	case "dev":
		return gin.DebugMode
	case "test":
		return gin.TestMode
	default:
		return gin.ReleaseMode
	}
}
