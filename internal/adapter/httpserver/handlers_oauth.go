package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/creatorsync/internal/app"
	"github.com/pscheid92/creatorsync/internal/domain"
	apperrors "github.com/pscheid92/creatorsync/internal/platform/errors"
	"github.com/pscheid92/creatorsync/internal/platform/oauthstate"
)

const (
	callbackTimeout = 30 * time.Second
	ctxKeyOwnerID   = "ownerID"
)

type syncResponse struct {
	ProfileSynced bool `json:"profile_synced"`
	ItemsSynced   int  `json:"items_synced"`
	ItemsTotal    int  `json:"items_total"`
	Refreshed     bool `json:"refreshed"`
}

func (s *Server) registerAuthRoutes(rateLimiter echo.MiddlewareFunc) {
	g := s.echo.Group("/api/auth/:platform", rateLimiter)
	g.GET("/connect", s.handleConnect, s.requireOwner)
	g.GET("/callback", s.handleCallback)
	g.DELETE("/disconnect", s.handleDisconnect, s.requireOwner)
	g.POST("/sync", s.handleSync, s.requireOwner)
}

// requireOwner resolves the CRM owner from the shared session cookie.
func (s *Server) requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.sessionStore.Get(c.Request(), s.config.SessionName)
		if err != nil {
			return apperrors.UnauthorizedError("invalid session")
		}

		ownerID, ok := session.Values[sessionKeyOwnerID].(string)
		if !ok || ownerID == "" {
			return apperrors.UnauthorizedError("not authenticated")
		}

		c.Set(ctxKeyOwnerID, ownerID)
		return next(c)
	}
}

func platformParam(c echo.Context) (domain.Platform, error) {
	p, err := domain.ParsePlatform(c.Param("platform"))
	if err != nil {
		return "", apperrors.ValidationError("unsupported platform").WithField("platform", c.Param("platform"))
	}
	return p, nil
}

func (s *Server) handleConnect(c echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return err
	}
	ownerID, _ := c.Get(ctxKeyOwnerID).(string)

	consent, err := s.app.AuthorizationURL(platform, ownerID)
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			return apperrors.UnavailableError(fmt.Sprintf("%s integration is not configured", platform), err).
				WithField("platform", platform)
		}
		return apperrors.InternalError("failed to build authorization url", err).WithField("platform", platform)
	}

	if err := s.rememberState(c, platform, consent.State); err != nil {
		return apperrors.InternalError("failed to save OAuth state session", err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"auth_url": consent.URL}); err != nil {
		return fmt.Errorf("failed to write connect response: %w", err)
	}
	return nil
}

// handleCallback always answers with a redirect to the dashboard; failures travel as query codes.
func (s *Server) handleCallback(c echo.Context) error {
	platform, err := domain.ParsePlatform(c.Param("platform"))
	if err != nil {
		return s.redirectToDashboard(c, "error", "invalid_platform")
	}

	issued := s.consumeState(c, platform)

	if c.QueryParam("error") != "" {
		slog.InfoContext(c.Request().Context(), "OAuth consent denied",
			"platform", platform,
			"reason", c.QueryParam("error"),
			"description", c.QueryParam("error_description"))
		return s.redirectToDashboard(c, "error", string(platform)+"_auth_denied")
	}

	code, state := c.QueryParam("code"), c.QueryParam("state")
	if code == "" || state == "" {
		return s.redirectToDashboard(c, "error", string(platform)+"_missing_params")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), callbackTimeout)
	defer cancel()

	cb := app.Callback{Code: code, State: state, IssuedState: issued, OwnerID: s.sessionOwner(c)}
	if _, err := s.app.CompleteAuthorization(ctx, platform, cb); err != nil {
		slog.WarnContext(ctx, "OAuth callback failed", "platform", platform, "error", err)
		return s.redirectToDashboard(c, "error", string(platform)+"_"+callbackErrorCode(err))
	}

	return s.redirectToDashboard(c, "success", string(platform)+"_connected")
}

// rememberState keeps the issued state in a short-lived signed cookie, one slot per platform.
func (s *Server) rememberState(c echo.Context, platform domain.Platform, state string) error {
	session, err := s.sessionStore.Get(c.Request(), s.oauthSessionName())
	if err != nil {
		slog.WarnContext(c.Request().Context(), "Discarding unreadable OAuth state session", "error", err)
	}
	session.Options.MaxAge = s.stateMaxAgeSeconds()
	session.Values[stateSessionKey(platform)] = state
	return session.Save(c.Request(), c.Response().Writer)
}

// consumeState returns the state issued for platform and removes it, so a
// callback can be completed once.
func (s *Server) consumeState(c echo.Context, platform domain.Platform) string {
	session, err := s.sessionStore.Get(c.Request(), s.oauthSessionName())
	if err != nil {
		return ""
	}

	key := stateSessionKey(platform)
	issued, _ := session.Values[key].(string)
	if issued == "" {
		return ""
	}

	delete(session.Values, key)
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.WarnContext(c.Request().Context(), "Failed to clear OAuth state", "platform", platform, "error", err)
	}
	return issued
}

// sessionOwner is the CRM owner of the browser, or "" without a valid session.
func (s *Server) sessionOwner(c echo.Context) string {
	session, err := s.sessionStore.Get(c.Request(), s.config.SessionName)
	if err != nil {
		return ""
	}
	ownerID, _ := session.Values[sessionKeyOwnerID].(string)
	return ownerID
}

func (s *Server) oauthSessionName() string {
	return s.config.SessionName + "-oauth"
}

func (s *Server) stateMaxAgeSeconds() int {
	if s.config.OAuthStateMaxAge <= 0 {
		return int(oauthstate.DefaultMaxAge.Seconds())
	}
	return int(s.config.OAuthStateMaxAge.Seconds())
}

func stateSessionKey(platform domain.Platform) string {
	return "oauth_state_" + string(platform)
}

func callbackErrorCode(err error) string {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.As(err, &cfgErr):
		return "not_configured"
	default:
		return "auth_failed"
	}
}

func (s *Server) redirectToDashboard(c echo.Context, key, value string) error {
	target, err := url.Parse(s.config.DashboardURL)
	if err != nil {
		return apperrors.InternalError("invalid dashboard url", err)
	}

	q := target.Query()
	q.Set(key, value)
	target.RawQuery = q.Encode()

	if err := c.Redirect(http.StatusFound, target.String()); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleDisconnect(c echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return err
	}
	ownerID, _ := c.Get(ctxKeyOwnerID).(string)

	if err := s.app.Disconnect(c.Request().Context(), platform, ownerID); err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			return apperrors.NotFoundError(fmt.Sprintf("no %s connection", platform))
		}
		return apperrors.InternalError(fmt.Sprintf("failed to disconnect %s", platform), err)
	}

	if err := c.JSON(http.StatusOK, map[string]bool{"success": true}); err != nil {
		return fmt.Errorf("failed to write disconnect response: %w", err)
	}
	return nil
}

func (s *Server) handleSync(c echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return err
	}
	ownerID, _ := c.Get(ctxKeyOwnerID).(string)

	res, err := s.app.SyncNow(c.Request().Context(), platform, ownerID)
	if err != nil {
		return syncError(platform, err)
	}

	response := map[string]any{
		"success": true,
		"data": syncResponse{
			ProfileSynced: res.ProfileSynced,
			ItemsSynced:   res.ItemsSynced,
			ItemsTotal:    res.ItemsTotal,
			Refreshed:     res.Refreshed,
		},
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write sync response: %w", err)
	}
	return nil
}

func syncError(platform domain.Platform, err error) *apperrors.Error {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrConnectionNotFound):
		return apperrors.NotFoundError(fmt.Sprintf("no %s connection", platform))
	case errors.Is(err, app.ErrSyncInProgress):
		return apperrors.ConflictError(fmt.Sprintf("%s sync already in progress", platform))
	case domain.IsRateLimit(err):
		return apperrors.RateLimitedError(fmt.Sprintf("%s rate limit reached, try again later", platform), err).
			WithField("platform", platform)
	case errors.As(err, &cfgErr):
		return apperrors.UnavailableError(fmt.Sprintf("%s integration is not configured", platform), err)
	default:
		return apperrors.ExternalError(fmt.Sprintf("failed to sync %s", platform), err).
			WithField("platform", platform).
			WithField("error_code", domain.ErrorCode(err))
	}
}
