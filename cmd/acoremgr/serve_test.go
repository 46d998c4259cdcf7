package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/cronjob"
)

func serveSettings(t *testing.T) config.Settings {
	t.Helper()
	dir := t.TempDir()
	s := config.Default()
	s.Server.Listen = "127.0.0.1:0"
	s.Log.File.Dir = dir
	s.History = config.HistoryConfig{Enabled: true, Sinks: []string{filepath.Join(dir, "history.db")}}
	s.Database = config.DatabaseConfig{
		Driver:     "sqlite",
		DSN:        filepath.Join(dir, "realm.db"),
		World:      "main",
		Characters: "main",
		Auth:       "main",
	}
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestNewDaemonWiresComponents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := serveSettings(t)
	d, err := newDaemon(s, filepath.Join(t.TempDir(), "settings.toml"), quietLogger(), &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(d.close)

	assert.NotNil(t, d.history)
	assert.NotNil(t, d.dashboard)
	assert.NotNil(t, d.resources)
	assert.Nil(t, d.srv.TLSConfig)

	for _, path := range []string{"/api/status", "/api/dashboard", "/api/resources", "/api/history", "/metrics"} {
		rec := httptest.NewRecorder()
		d.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// the banner lands in the manager transcript
	d.mgr.Banner()
	require.NoError(t, d.transcript.Close())
	data, err := os.ReadFile(filepath.Join(s.Log.File.Dir, "manager.console.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "AzerothCore manager ready.")
}

func TestNewDaemonOptionalComponents(t *testing.T) {
	s := serveSettings(t)
	s.History.Enabled = false
	s.Dashboard.Enabled = false
	s.Metrics.Enabled = false
	d, err := newDaemon(s, "", quietLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(d.close)
	assert.Nil(t, d.history)
	assert.Nil(t, d.dashboard)
	assert.Nil(t, d.resources)
}

func TestNewDaemonRejectsBadHistorySink(t *testing.T) {
	s := serveSettings(t)
	s.History.Sinks = []string{"ftp://example.com/events"}
	_, err := newDaemon(s, "", quietLogger(), nil)
	assert.ErrorContains(t, err, "unsupported DSN")
}

func TestNewDaemonTLS(t *testing.T) {
	s := serveSettings(t)
	s.Server.TLS = config.TLSConfig{Enabled: true}
	_, err := newDaemon(s, "", quietLogger(), nil)
	assert.ErrorContains(t, err, "server.tls")

	s.Server.TLS = config.TLSConfig{Enabled: true, Dir: filepath.Join(t.TempDir(), "certs"), AutoGenerate: true}
	d, err := newDaemon(s, "", quietLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(d.close)
	assert.NotNil(t, d.srv.TLSConfig)
}

func TestRunStopsOnCancel(t *testing.T) {
	d, err := newDaemon(serveSettings(t), "", quietLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestNewDaemonAuth(t *testing.T) {
	s := serveSettings(t)
	s.Auth = config.AuthConfig{
		Enabled: true,
		Clients: []config.AuthClient{{ClientID: "prometheus", ClientSecret: "x", Roles: []string{"viewer"}}},
	}
	d, err := newDaemon(s, "", quietLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(d.close)

	rec := httptest.NewRecorder()
	d.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewDaemonCronJobs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := serveSettings(t)
	s.CronJobs = []cronjob.Spec{
		{Name: "nightly", Schedule: "0 4 * * *", Action: cronjob.ActionRestart, Delay: "15m"},
		{Name: "announce", Schedule: "@every 30m", Action: cronjob.ActionCommand, Command: "announce Restart at 04:00", Suspend: true},
	}
	d, err := newDaemon(s, "", quietLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(d.close)
	assert.Len(t, d.cronJobs.List(), 2)

	ts := httptest.NewServer(d.srv.Handler)
	t.Cleanup(ts.Close)
	out, err := run(t, ts.URL+"/api", "cronjobs")
	require.NoError(t, err)
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "suspended")

	// the world server is not running
	_, err = run(t, ts.URL+"/api", "cronjobs", "run", "announce")
	assert.ErrorContains(t, err, "409")

	s.CronJobs = []cronjob.Spec{{Name: "bad", Schedule: "@daily", Action: "reboot"}}
	_, err = newDaemon(s, "", quietLogger(), nil)
	assert.ErrorContains(t, err, "unknown action")
}
