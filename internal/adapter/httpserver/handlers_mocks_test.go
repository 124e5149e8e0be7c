package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/creatorsync/internal/app"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/config"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockAppService struct {
	authorizationURLFn      func(platform domain.Platform, ownerID string) (app.Consent, error)
	completeAuthorizationFn func(ctx context.Context, platform domain.Platform, cb app.Callback) (*domain.Connection, error)
	disconnectFn            func(ctx context.Context, platform domain.Platform, ownerID string) error
	syncNowFn               func(ctx context.Context, platform domain.Platform, ownerID string) (app.AttemptResult, error)
	integrationsFn          func() []app.Integration
}

func (m *mockAppService) Integrations() []app.Integration {
	if m.integrationsFn != nil {
		return m.integrationsFn()
	}
	return nil
}

func (m *mockAppService) AuthorizationURL(platform domain.Platform, ownerID string) (app.Consent, error) {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(platform, ownerID)
	}
	return app.Consent{}, errors.New("not implemented")
}

func (m *mockAppService) CompleteAuthorization(ctx context.Context, platform domain.Platform, cb app.Callback) (*domain.Connection, error) {
	if m.completeAuthorizationFn != nil {
		return m.completeAuthorizationFn(ctx, platform, cb)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Disconnect(ctx context.Context, platform domain.Platform, ownerID string) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, platform, ownerID)
	}
	return errors.New("not implemented")
}

func (m *mockAppService) SyncNow(ctx context.Context, platform domain.Platform, ownerID string) (app.AttemptResult, error) {
	if m.syncNowFn != nil {
		return m.syncNowFn(ctx, platform, ownerID)
	}
	return app.AttemptResult{}, errors.New("not implemented")
}

// --- Test helpers ---

const (
	testSessionName  = "crm-session"
	testDashboardURL = "https://crm.example.com/dashboard"
)

func newTestServer(t *testing.T, app appService, opts ...func(*Server)) *Server {
	t.Helper()

	store := sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!!"))
	store.Options = &sessions.Options{
		Path:   "/",
		MaxAge: 3600,
	}

	srv := &Server{
		echo: echo.New(),
		config: &config.Config{
			SessionName:  testSessionName,
			DashboardURL: testDashboardURL,
		},
		app:          app,
		sessionStore: store,
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// sessionCookie returns the cookie the CRM would set for ownerID.
func sessionCookie(t *testing.T, srv *Server, ownerID string) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	session, err := srv.sessionStore.Get(req, testSessionName)
	require.NoError(t, err)
	session.Values[sessionKeyOwnerID] = ownerID
	require.NoError(t, session.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

// stateCookie returns the cookie /connect would have set after issuing state.
func stateCookie(t *testing.T, srv *Server, platform domain.Platform, state string) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	session, err := srv.sessionStore.Get(req, testSessionName+"-oauth")
	require.NoError(t, err)
	session.Values[stateSessionKey(platform)] = state
	require.NoError(t, session.Save(req, rec))

	return cookieNamed(t, rec, testSessionName+"-oauth")
}

// cookieNamed returns the cookie set on rec under name.
func cookieNamed(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %s cookie set", name)
	return nil
}

// serve runs req through the full router, middleware included.
func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}
