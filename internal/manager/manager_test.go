package manager

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/logsink"
	"github.com/loykin/acoremgr/internal/role"
)

func newManager(t *testing.T, s config.Settings) (*Manager, *logsink.Recorder) {
	t.Helper()
	rec := &logsink.Recorder{}
	m := New(s, Options{Sink: rec})
	t.Cleanup(func() {
		for _, r := range role.Servers {
			_ = m.Kill(r)
		}
		m.Shutdown()
	})
	return m, rec
}

func TestSupervisorConfigFromSettings(t *testing.T) {
	s := config.Default()
	s.Paths.Worldserver = "/opt/ac/bin/worldserver"
	s.Paths.WorldLogFile = "/opt/ac/logs/Server.log"
	s.Paths.WorldArgs = []string{"-c", "worldserver.conf"}
	s.General.RestartWorldserverOnCrash = true
	s.Tail.PollInterval = 250 * time.Millisecond

	c := SupervisorConfig(s, role.World)
	assert.Equal(t, "/opt/ac/bin/worldserver", c.Executable)
	assert.Equal(t, "/opt/ac/logs/Server.log", c.LogFile)
	assert.Equal(t, []string{"-c", "worldserver.conf"}, c.Args)
	assert.True(t, c.Policy.AutoRestartOnCrash)
	assert.Equal(t, s.ExitCodes, c.ExitCodes)
	assert.Equal(t, 250*time.Millisecond, c.Tail.PollInterval)
	assert.Nil(t, c.Env)

	a := SupervisorConfig(s, role.Auth)
	assert.False(t, a.Policy.AutoRestartOnCrash)
}

func TestSupervisorConfigEnv(t *testing.T) {
	t.Setenv("AC_ROOT", "/srv/ac")
	s := config.Default()
	s.General.Env = []string{"AC_DATA=${AC_ROOT}/data"}
	c := SupervisorConfig(s, role.World)
	assert.Contains(t, c.Env, "AC_DATA=/srv/ac/data")
	assert.Contains(t, c.Env, "AC_ROOT=/srv/ac")
}

func TestManagerUnknownRole(t *testing.T) {
	m, _ := newManager(t, config.Default())
	assert.ErrorIs(t, m.Start(role.Manager), ErrUnknownRole)
	assert.ErrorIs(t, m.Stop(role.Manager), ErrUnknownRole)
	assert.ErrorIs(t, m.Kill(role.Manager), ErrUnknownRole)
	assert.ErrorIs(t, m.Restart(role.Manager, "30", 2), ErrUnknownRole)
	assert.ErrorIs(t, m.SendCommand(role.Manager, "x"), ErrUnknownRole)
	_, err := m.Snapshot(role.Manager)
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.Equal(t, 0, m.PID(role.Manager))
}

func TestManagerSnapshots(t *testing.T) {
	m, _ := newManager(t, config.Default())
	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, role.World, snaps[0].Role)
	assert.Equal(t, role.Auth, snaps[1].Role)
	for _, s := range snaps {
		assert.Equal(t, Stopped, s.State)
	}
}

func TestManagerStartStop(t *testing.T) {
	requireUnix(t)
	s := config.Default()
	s.Paths.Worldserver = consoleScript(t, filepath.Join(t.TempDir(), "in.txt"))
	s.Paths.Authserver = writeScript(t, "exec sleep 30")
	m, rec := newManager(t, s)

	require.NoError(t, m.Start(role.World))
	require.NoError(t, m.Start(role.Auth))
	assert.ErrorIs(t, m.Start(role.World), ErrAlreadyRunning)
	assert.Greater(t, m.PID(role.World), 0)
	assert.Greater(t, m.PID(role.Auth), 0)

	require.NoError(t, m.Stop(role.Auth))
	require.NoError(t, m.Stop(role.World))
	require.Eventually(t, func() bool {
		snap, _ := m.Snapshot(role.World)
		return snap.State == Stopped
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, rec.Contains(role.Manager, "Authserver killed"))
}

func TestApplySettings(t *testing.T) {
	m, _ := newManager(t, config.Default())

	bad := config.Default()
	bad.ExitCodes.Crash = bad.ExitCodes.Shutdown
	assert.Error(t, m.ApplySettings(bad))

	good := config.Default()
	good.Paths.Worldserver = "/usr/local/bin/worldserver"
	require.NoError(t, m.ApplySettings(good))
	assert.Equal(t, "/usr/local/bin/worldserver", m.Settings().Paths.Worldserver)
	sup, err := m.Supervisor(role.World)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/worldserver", sup.Config().Executable)
}

func TestBanner(t *testing.T) {
	s := config.Default()
	s.Paths.Worldserver = "/opt/ac/bin/worldserver"
	m, rec := newManager(t, s)
	m.Banner()
	assert.True(t, rec.Contains(role.Manager, "Worldserver: /opt/ac/bin/worldserver"))
	assert.True(t, rec.Contains(role.Manager, "Authserver: (not set)"))
	assert.True(t, rec.Contains(role.Manager, "Exit codes: shutdown=0 crash=1 restart=2"))
}

func TestValidateDelay(t *testing.T) {
	for _, ok := range []string{"30", "30s", "1h15m30s", "2d", "1d2h", " 5m "} {
		_, err := ValidateDelay(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "soon", "30x", "1s1h", "-5", "1.5h"} {
		_, err := ValidateDelay(bad)
		assert.ErrorIs(t, err, ErrInvalidDelay, bad)
	}
	assert.Equal(t, "server restart 30s 2", RestartLine("30s", 2))
}

func TestStateText(t *testing.T) {
	for i, name := range StateNames {
		b, err := State(i).MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(b))
		var s State
		require.NoError(t, s.UnmarshalText(b))
		assert.Equal(t, State(i), s)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("paused")))
	assert.True(t, Running.Active())
	assert.False(t, Crashed.Active())
}
