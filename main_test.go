package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Vortextech01/OpenLLM/pkg/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Socket = filepath.Join(root, "openllm.sock")
	cfg.StorePath = filepath.Join(root, "artifacts")
	cfg.EnginePath = filepath.Join(root, "engines")
	cfg.ActivityPath = filepath.Join(root, "activity.db")
	return cfg
}

func doRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNewDaemonRoutes(t *testing.T) {
	d, err := newDaemon(testConfig(t))
	require.NoError(t, err)
	defer d.Close()

	for _, target := range []string{
		"/v1/models",
		"/v1/families",
		"/v1/df",
		"/v1/status",
		"/v1/runners",
		"/v1/activity",
		"/v1/auth/keys",
		"/metrics",
	} {
		rec := doRequest(t, d.handler, http.MethodGet, target)
		require.Equal(t, http.StatusOK, rec.Code, "GET %s", target)
	}

	rec := doRequest(t, d.handler, http.MethodGet, "/v1/nonsense")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewDaemonDisablesMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisableMetrics = true

	d, err := newDaemon(cfg)
	require.NoError(t, err)
	defer d.Close()

	rec := doRequest(t, d.handler, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewDaemonRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequireAPIKey = true

	d, err := newDaemon(cfg)
	require.NoError(t, err)
	defer d.Close()

	rec := doRequest(t, d.handler, http.MethodGet, "/v1/models")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	created, err := d.keys.CreateKey(t.Context(), "ci")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+created.Secret)
	authed := httptest.NewRecorder()
	d.handler.ServeHTTP(authed, req)
	require.Equal(t, http.StatusOK, authed.Code)
}

func TestNewDaemonPreflightBypassesAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequireAPIKey = true
	cfg.Origins = []string{"https://app.example.com"}

	d, err := newDaemon(cfg)
	require.NoError(t, err)
	defer d.Close()

	req := httptest.NewRequest(http.MethodOptions, "/v1/models", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	d.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewDaemonRejectsReservedEngineArgs(t *testing.T) {
	cfg := testConfig(t)
	cfg.EngineArgs = "--threads 4 --model /tmp/injected.gguf"

	_, err := newDaemon(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "--model")
}
