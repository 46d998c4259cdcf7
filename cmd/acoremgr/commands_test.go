package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/history"
	"github.com/loykin/acoremgr/internal/manager"
	"github.com/loykin/acoremgr/internal/role"
	"github.com/loykin/acoremgr/internal/server"
)

func testDaemon(t *testing.T, s config.Settings, hist *history.SQLSink) (*httptest.Server, *manager.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := manager.New(s, manager.Options{History: hist})
	t.Cleanup(func() {
		for _, r := range role.Servers {
			_ = m.Kill(r)
		}
		m.Shutdown()
	})
	ts := httptest.NewServer(server.NewRouter(server.Deps{Manager: m, History: hist}, "/api").Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func historyDB(t *testing.T) *history.SQLSink {
	t.Helper()
	sk, err := history.NewSQLSinkFromDSN(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sk.Close() })
	return sk
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := buildRoot(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--api-url", url}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestClientCommandsAgainstDaemon(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests require /bin/sh on Unix-like systems")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "stdin.log")
	script := filepath.Join(dir, "worldserver.sh")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
while IFS= read -r line; do
  printf '%s\n' "$line" >> '`+out+`'
  [ "$line" = "server exit" ] && exit 0
done
`), 0o755))

	s := config.Default()
	s.Paths.Worldserver = script
	ts, m := testDaemon(t, s, historyDB(t))
	url := ts.URL + "/api"

	text, err := run(t, url, "status")
	require.NoError(t, err)
	assert.Contains(t, text, "ROLE")
	assert.Contains(t, text, "stopped")

	text, err = run(t, url, "start", "world")
	require.NoError(t, err)
	assert.Contains(t, text, "world: start requested")

	_, err = run(t, url, "start", "world")
	assert.ErrorContains(t, err, "409")

	_, err = run(t, url, "send", "announce", "hello", "realm")
	require.NoError(t, err)

	_, err = run(t, url, "stop", "world")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(role.World)
		return err == nil && snap.State == manager.Stopped
	}, 5*time.Second, 20*time.Millisecond)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "announce hello realm\nserver exit\n", string(data))

	// history is written asynchronously
	require.Eventually(t, func() bool {
		text, err = run(t, url, "history", "--role", "world")
		return err == nil && bytes.Contains([]byte(text), []byte("stop"))
	}, 5*time.Second, 50*time.Millisecond)
	assert.Contains(t, text, "start")
}

func TestClientCommandErrors(t *testing.T) {
	ts, _ := testDaemon(t, config.Default(), historyDB(t))
	url := ts.URL + "/api"

	_, err := run(t, url, "restart", "soon")
	assert.ErrorContains(t, err, "400")

	_, err = run(t, url, "send", "--role", "auth", "help")
	assert.ErrorContains(t, err, "400")

	_, err = run(t, url, "kill", "realmd")
	assert.ErrorContains(t, err, "404")

	_, err = run(t, url, "dashboard")
	assert.ErrorContains(t, err, "dashboard disabled")

	text, err := run(t, url, "settings", "show", "--remote")
	require.NoError(t, err)
	assert.Contains(t, text, `"exit_codes"`)

	text, err = run(t, url, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, text, `"servers"`)
}

func TestClientUsesCACert(t *testing.T) {
	c := command{api: &APIFlags{APIUrl: "https://127.0.0.1:1/api", APITimeout: time.Second, CACert: "/nonexistent.pem"}, out: &bytes.Buffer{}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// a broken CA file falls back to the default transport and the call fails
	_, err := c.client().Status(ctx)
	assert.Error(t, err)
}
