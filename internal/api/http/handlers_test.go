package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shellgate/shellgate/internal/events"
	"github.com/shellgate/shellgate/internal/infrastructure/config"
	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"github.com/shellgate/shellgate/internal/providers/profile"
	"github.com/shellgate/shellgate/internal/shared/id"
	"github.com/shellgate/shellgate/internal/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandle is a no-op PTY handle for handler tests.
type stubHandle struct {
	exited chan struct{}
	once   sync.Once
}

func newStubHandle() *stubHandle {
	return &stubHandle{exited: make(chan struct{})}
}

func (h *stubHandle) exit() { h.once.Do(func() { close(h.exited) }) }

func (h *stubHandle) Read(p []byte) (int, error) {
	<-h.exited
	return 0, io.EOF
}

func (h *stubHandle) Write(p []byte) (int, error) { return len(p), nil }

func (h *stubHandle) Resize(terminal.Size) error { return nil }

func (h *stubHandle) Terminate(context.Context, time.Duration) (int, error) {
	h.exit()
	return 143, nil
}

func (h *stubHandle) Wait() (int, error) {
	<-h.exited
	return 143, nil
}

func (h *stubHandle) PID() int { return 999 }

func (h *stubHandle) Close() error {
	h.exit()
	return nil
}

type storeResolver struct {
	store *profile.Store
}

func (r storeResolver) ResolveProfile(alias string) (terminal.ProfileSpec, bool) {
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

type fixture struct {
	router   *gin.Engine
	registry *terminal.Registry
	profiles *profile.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logging.NewNop()
	bus := events.NewBus()
	profiles := profile.NewStore(log)

	cfg := config.TerminalConfig{
		DefaultShell:    "/bin/sh",
		KillGrace:       time.Second,
		Retention:       10 * time.Minute,
		JanitorInterval: time.Hour,
	}
	registry := terminal.NewRegistry(cfg, terminal.NewLauncher(log), storeResolver{profiles}, bus, nil, log).
		WithSpawner(func(terminal.LaunchPlan, string, terminal.Size) (terminal.Handle, error) {
			return newStubHandle(), nil
		})

	t.Cleanup(func() {
		registry.Shutdown(context.Background())
		bus.Close()
	})

	handlers := NewHandlers(registry, profiles, "test")
	router := gin.New()
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
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

	return &fixture{router: router, registry: registry, profiles: profiles}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "shellgate", body["service"])

	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["sessions_total"])
}

func TestCreateShell(t *testing.T) {
	f := newFixture(t)

	// An empty body gets the defaults.
	w := f.do(t, http.MethodPost, "/api/terminal/shell", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	sid, _ := body["session_id"].(string)
	assert.True(t, id.IsValid(sid))
	assert.Equal(t, "/ws/terminal/"+sid, body["ws_url"])

	w = f.do(t, http.MethodPost, "/api/terminal/shell", CreateShellRequest{
		Shell: "/bin/zsh",
		Cols:  120,
		Rows:  40,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/terminal/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])
}

func TestCreateSessionFromProfile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.profiles.Register("top", profile.Definition{Command: "/usr/bin/top"}))

	w := f.do(t, http.MethodPost, "/api/terminal/sessions", CreateSessionRequest{ProfileAlias: "top"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	sid, _ := body["session_id"].(string)
	require.True(t, id.IsValid(sid))

	w = f.do(t, http.MethodGet, "/api/terminal/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode(t, w)
	assert.Equal(t, "profile", sum["kind"])
	assert.Equal(t, "top", sum["reference"])
	assert.Equal(t, "running", sum["state"])

	// The alias is busy while its session lives.
	w = f.do(t, http.MethodPost, "/api/terminal/sessions", CreateSessionRequest{ProfileAlias: "top"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/terminal/sessions", map[string]any{"args": []string{"-x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/terminal/sessions", CreateSessionRequest{ProfileAlias: "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/terminal/sessions/term_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResizeSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/terminal/shell", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sid := decode(t, w)["session_id"].(string)

	w = f.do(t, http.MethodPost, "/api/terminal/sessions/"+sid+"/resize", ResizeRequest{Cols: 132, Rows: 43})
	assert.Equal(t, http.StatusOK, w.Code)

	// Zero dimensions fail validation.
	w = f.do(t, http.MethodPost, "/api/terminal/sessions/"+sid+"/resize", map[string]any{"cols": 0, "rows": 43})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/terminal/sessions/term_missing/resize", ResizeRequest{Cols: 80, Rows: 24})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTerminateAndReap(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/terminal/shell", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sid := decode(t, w)["session_id"].(string)

	// Reaping a live session is rejected.
	w = f.do(t, http.MethodDelete, "/api/terminal/sessions/"+sid+"/reap", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, "/api/terminal/sessions/"+sid, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Terminate is idempotent.
	w = f.do(t, http.MethodDelete, "/api/terminal/sessions/"+sid, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// The terminated session is still queryable with its exit code.
	w = f.do(t, http.MethodGet, "/api/terminal/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode(t, w)
	assert.Equal(t, "terminated", sum["state"])
	assert.EqualValues(t, 143, sum["exit_code"])

	w = f.do(t, http.MethodDelete, "/api/terminal/sessions/"+sid+"/reap", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/terminal/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/terminal/shell", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sid := decode(t, w)["session_id"].(string)

	w = f.do(t, http.MethodDelete, "/api/terminal/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/terminal/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["reaped"])
}

func TestListProfiles(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.profiles.Register("b", profile.Definition{Command: "/bin/b"}))
	require.NoError(t, f.profiles.Register("a", profile.Definition{Command: "/bin/a"}))

	w := f.do(t, http.MethodGet, "/api/terminal/profiles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"a", "b"}, decode(t, w)["profiles"].([]any))
}
