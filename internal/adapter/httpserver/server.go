package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/creatorsync/internal/adapter/metrics"
	"github.com/pscheid92/creatorsync/internal/app"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/config"
)

type appService interface {
	AuthorizationURL(platform domain.Platform, ownerID string) (app.Consent, error)
	CompleteAuthorization(ctx context.Context, platform domain.Platform, cb app.Callback) (*domain.Connection, error)
	Disconnect(ctx context.Context, platform domain.Platform, ownerID string) error
	SyncNow(ctx context.Context, platform domain.Platform, ownerID string) (app.AttemptResult, error)
	Integrations() []app.Integration
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app          appService
	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck
	startTime    time.Time

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
}

// NewServer wires the HTTP surface. httpMetrics and metricsHandler may be nil.
func NewServer(cfg *config.Config, app appService, healthChecks []HealthCheck, httpMetrics *metrics.HTTPMetrics, metricsHandler http.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		app:            app,
		sessionStore:   setupSessionStore(cfg),
		healthChecks:   healthChecks,
		startTime:      time.Now(),
		httpMetrics:    httpMetrics,
		metricsHandler: metricsHandler,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// The CRM writes the owner id into this session on login.
const sessionKeyOwnerID = "owner_id"

// setupSessionStore reads the cookie the CRM issues; this service never logs users in.
func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
