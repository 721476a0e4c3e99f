package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/api/auth"
	"github.com/keygate/internal/auditlog"
	"github.com/keygate/internal/config"
	"github.com/keygate/internal/jobqueue"
	"github.com/keygate/internal/license"
	"github.com/keygate/internal/settings"
)

// Server represents the API server.
type Server struct {
	echo     *echo.Echo
	db       *sql.DB
	cfg      *config.Config
	svc      *license.Service
	audit    *auditlog.Logger
	settings *settings.Store
	tokens   *auth.TokenService
	jobs     *jobqueue.JobQueue
	limiter  *ipRateLimiter
}

// NewServer wires the license service, stores and routes. jobs may be nil
// when the queue is disabled; email notices are then skipped.
func NewServer(cfg *config.Config, db *sql.DB, jobs *jobqueue.JobQueue) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	settingsStore := settings.NewStore(db)
	defaults := settings.Defaults{
		Store:                 settingsStore,
		FallbackValidityDays:  cfg.License.DefaultValidityDays,
		FallbackMaxActivation: cfg.License.DefaultMaxActivations,
	}

	server := &Server{
		echo:     e,
		db:       db,
		cfg:      cfg,
		svc:      license.NewService(db, defaults),
		audit:    auditlog.NewLogger(db),
		settings: settingsStore,
		tokens:   auth.NewTokenService(os.Getenv("JWT_SECRET"), time.Duration(cfg.Auth.AccessTokenMinutes)*time.Minute),
		jobs:     jobs,
		limiter:  newIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API endpoints.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	// Public endpoints consumed by licensed products.
	public := v1.Group("", rateLimitMiddleware(s.limiter))
	public.POST("/validate", s.handleValidate)
	public.POST("/activate", s.handleActivate)
	public.POST("/deactivate", s.handleDeactivate)

	auth.RegisterHandlers(v1, s.db, s.tokens)

	// Admin endpoints. Every route group below requires a valid token;
	// write routes additionally require the matching permission.
	admin := v1.Group("/admin", auth.RequireAuth(s.tokens))
	s.attachLicenseRoutes(admin)
	s.attachReportRoutes(admin)
	s.attachLogRoutes(admin)
	s.attachSettingsRoutes(admin)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.limiter.stop()
	if s.jobs != nil {
		if err := s.jobs.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Job queue shutdown failed")
		}
	}
	return s.echo.Shutdown(ctx)
}

// requestContext bundles the audit fields every mutating handler logs.
func (s *Server) auditEntry(c echo.Context, level, licenseKey, message string, extra map[string]any) {
	if extra == nil {
		extra = map[string]any{}
	}
	extra["request_id"] = c.Response().Header().Get(echo.HeaderXRequestID)

	actor := "api"
	if ac := auth.GetAuthContext(c); ac != nil {
		actor = ac.Email
	}
	s.audit.Log(c.Request().Context(), level, actor, licenseKey, message, extra)
}
