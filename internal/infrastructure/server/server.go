// Package server wires configuration, logging, metrics, the session
// registry, and the HTTP/WebSocket surfaces into one runnable daemon.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/shellgate/shellgate/internal/api/http"
	"github.com/shellgate/shellgate/internal/api/middleware"
	"github.com/shellgate/shellgate/internal/api/ws"
	"github.com/shellgate/shellgate/internal/events"
	"github.com/shellgate/shellgate/internal/infrastructure/config"
	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"github.com/shellgate/shellgate/internal/infrastructure/monitoring"
	"github.com/shellgate/shellgate/internal/providers/profile"
	"github.com/shellgate/shellgate/internal/terminal"
)

// Version is the daemon version reported by the health endpoints.
const Version = "0.3.0"

const shutdownGrace = 10 * time.Second

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	bus      *events.Bus
	registry *terminal.Registry
	profiles *profile.Store
	router   *gin.Engine
	httpSrv  *http.Server
}

// New creates a fully wired server.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			return nil, err
		}
		logger = l
	}

	logger.Info("initializing shellgate",
		zap.String("version", Version),
		zap.String("port", cfg.Server.Port),
	)

	metrics := monitoring.NewMetrics()
	bus := events.NewBus()

	profiles := profile.NewStore(logger.Named("profiles"))
	if cfg.Profiles.Path != "" {
		if err := profiles.LoadFile(cfg.Profiles.Path); err != nil {
			return nil, err
		}
	}

	launcher := terminal.NewLauncher(logger.Named("sandbox"))
	registry := terminal.NewRegistry(
		cfg.Terminal,
		launcher,
		&profileResolver{store: profiles},
		bus,
		metrics,
		logger.Named("registry"),
	)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		bus:      bus,
		registry: registry,
		profiles: profiles,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Registry exposes the session registry, mainly for tests.
func (s *Server) Registry() *terminal.Registry { return s.registry }

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(s.registry, s.profiles, Version)
	wsHandler := ws.NewHandler(s.registry, s.bus, s.metrics, s.logger.Named("ws"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/terminal")
	{
		api.GET("/sessions", handlers.ListSessions)
		api.POST("/sessions", handlers.CreateSession)
		api.POST("/shell", handlers.CreateShell)
		api.GET("/sessions/:id", handlers.GetSession)
		api.DELETE("/sessions/:id", handlers.TerminateSession)
		api.DELETE("/sessions/:id/reap", handlers.ReapSession)
		api.POST("/sessions/:id/resize", handlers.ResizeSession)
		api.POST("/cleanup", handlers.Cleanup)
		api.GET("/profiles", handlers.ListProfiles)
	}

	router.GET("/ws/terminal/:id", wsHandler.HandleTerminal)
	router.GET("/ws/events", wsHandler.HandleEvents)

	return router
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close terminates all sessions and shuts the HTTP server down.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.registry.Shutdown(ctx)
	s.bus.Close()

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.logger.Info("shutdown complete")
	_ = s.logger.Sync()
	return err
}

// profileResolver adapts the profile store to the registry's contract.
type profileResolver struct {
	store *profile.Store
}

func (r *profileResolver) ResolveProfile(alias string) (terminal.ProfileSpec, bool) {
	def, ok := r.store.Get(alias)
	if !ok {
		return terminal.ProfileSpec{}, false
	}
	return terminal.ProfileSpec{
		Command:    def.Command,
		Args:       def.Args,
		WorkingDir: def.WorkingDir,
		Env:        def.Env,
	}, true
}
