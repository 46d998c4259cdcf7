package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/acoremgr/internal/cronjob"
	"github.com/loykin/acoremgr/internal/role"
)

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, "mysql", s.Database.Driver)
	assert.Equal(t, "127.0.0.1", s.Database.Host)
	assert.Equal(t, 3306, s.Database.Port)
	assert.Equal(t, "acore", s.Database.User)
	assert.Equal(t, "acore", s.Database.Password)
	assert.Equal(t, "acore_world", s.Database.World)
	assert.Equal(t, "acore_characters", s.Database.Characters)
	assert.Equal(t, "acore_auth", s.Database.Auth)
	assert.False(t, s.General.RestartWorldserverOnCrash)
	assert.Equal(t, role.DefaultExitCodes(), s.ExitCodes)
	assert.Equal(t, 100*time.Millisecond, s.Tail.PollInterval)
	assert.Equal(t, 3*time.Second, s.Status.Interval)
	assert.Equal(t, 10*time.Second, s.Dashboard.Interval)
	assert.Equal(t, "/api", s.Server.BasePath)
	require.NoError(t, s.Validate())
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.toml")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), s)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[database]")
	assert.Contains(t, string(data), "acore_characters")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := Default()
	s.Paths.Worldserver = "/opt/azerothcore/bin/worldserver"
	s.Paths.WorldLogFile = "/opt/azerothcore/logs/Server.log"
	s.Paths.AuthArgs = []string{"-c", "authserver.conf"}
	s.General.RestartWorldserverOnCrash = true
	s.General.Env = []string{"AC_DATA_DIR=/opt/data"}
	s.Tail.PollInterval = 250 * time.Millisecond
	s.History.Enabled = true
	s.History.Sinks = []string{"sqlite:///tmp/history.db"}

	require.NoError(t, Save(path, s))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestLoadPartialFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[paths]
worldserver = "/srv/worldserver"

[general]
restart_worldserver_on_crash = true

[tail]
poll_interval = "50ms"
`), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/worldserver", s.Paths.Worldserver)
	assert.True(t, s.RestartOnCrash(role.World))
	assert.False(t, s.RestartOnCrash(role.Auth))
	assert.Equal(t, 50*time.Millisecond, s.Tail.PollInterval)
	assert.Equal(t, 3306, s.Database.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, Save(path, Default()))
	t.Setenv("ACOREMGR_DATABASE_PASSWORD", "s3cret")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", s.Database.Password)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[exit_codes]
shutdown = 0
crash = 0
restart = 2

[database]
driver = "oracle"
`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit_codes")
	assert.Contains(t, err.Error(), "oracle")
}

func TestValidate(t *testing.T) {
	s := Default()
	s.General.Env = []string{"NOEQUALS"}
	s.Status.Interval = -time.Second
	s.Server.Listen = ""
	s.History.Enabled = true
	s.History.Sinks = []string{" "}
	err := s.Validate()
	require.Error(t, err)
	for _, want := range []string{"general.env", "status.interval", "server.listen", "history.sinks[0]"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestServerPaths(t *testing.T) {
	s := Default()
	s.Paths.Worldserver, s.Paths.WorldLogFile = "/w", "/w.log"
	s.Paths.Authserver, s.Paths.AuthLogFile, s.Paths.AuthWorkDir = "/a", "/a.log", "/adir"
	s.Status.AuthPIDFile = "/a.pid"

	exe, log, dir, _ := s.ServerPaths(role.World)
	assert.Equal(t, []string{"/w", "/w.log", ""}, []string{exe, log, dir})
	exe, log, dir, _ = s.ServerPaths(role.Auth)
	assert.Equal(t, []string{"/a", "/a.log", "/adir"}, []string{exe, log, dir})
	exe, _, _, _ = s.ServerPaths(role.Manager)
	assert.Empty(t, exe)
	assert.Equal(t, "/a.pid", s.PIDFile(role.Auth))
}

func TestAuthRoundTripAndRedaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := Default()
	s.Auth = AuthConfig{
		Enabled:   true,
		JWTSecret: "realm-secret",
		TokenTTL:  2 * time.Hour,
		Users: []AuthUser{
			{Username: "gm", PasswordHash: "$2a$10$abcdefghijklmnopqrstuv", Roles: []string{"operator"}},
			{Username: "ops", PasswordHash: "$2a$10$abcdefghijklmnopqrstuw", Roles: []string{"admin"}, Disabled: true},
		},
		Clients: []AuthClient{{ClientID: "grafana", ClientSecret: "s3cret", Roles: []string{"viewer"}}},
	}
	require.NoError(t, Save(path, s))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Auth, got.Auth)

	r := got.Auth.Redacted()
	assert.Empty(t, r.JWTSecret)
	assert.Empty(t, r.Users[0].PasswordHash)
	assert.Empty(t, r.Clients[0].ClientSecret)
	assert.Equal(t, "gm", r.Users[0].Username)
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", got.Auth.Users[0].PasswordHash, "original untouched")
}

func TestValidateAuth(t *testing.T) {
	s := Default()
	s.Auth.Enabled = true
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one user or client")

	s.Auth.Users = []AuthUser{
		{Username: "gm", PasswordHash: "plain", Roles: []string{"gamemaster"}},
		{Username: "gm", PasswordHash: "$2a$10$x", Roles: nil},
	}
	s.Auth.Clients = []AuthClient{{ClientID: "bot"}}
	err = s.Validate()
	require.Error(t, err)
	for _, want := range []string{"bcrypt", "unknown role \"gamemaster\"", "duplicate username", "auth.users[1] has no roles", "client_secret"} {
		assert.Contains(t, err.Error(), want)
	}

	s.Auth.Enabled = false
	assert.NoError(t, s.Validate(), "auth section is ignored while disabled")
}

func TestValidateTLS(t *testing.T) {
	s := Default()
	s.Server.TLS.Enabled = true
	assert.ErrorContains(t, s.Validate(), "server.tls")
	s.Server.TLS.Dir = "/etc/acoremgr/tls"
	assert.NoError(t, s.Validate())
}

func TestCronJobsRoundTripAndValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	code := 3
	s := Default()
	s.CronJobs = []cronjob.Spec{
		{Name: "nightly", Schedule: "0 4 * * *", Action: cronjob.ActionRestart, Role: "world", Delay: "15m", ExitCode: &code},
		{Name: "announce", Schedule: "@every 30m", Action: cronjob.ActionCommand, Command: "announce Visit the forums"},
	}
	require.NoError(t, Save(path, s))
	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.CronJobs, 2)
	assert.Equal(t, "nightly", got.CronJobs[0].Name)
	require.NotNil(t, got.CronJobs[0].ExitCode)
	assert.Equal(t, 3, *got.CronJobs[0].ExitCode)
	assert.Nil(t, got.CronJobs[1].ExitCode)
	assert.Equal(t, "announce Visit the forums", got.CronJobs[1].Command)

	s.CronJobs = append(s.CronJobs,
		cronjob.Spec{Name: "nightly", Schedule: "@daily", Action: cronjob.ActionStart},
		cronjob.Spec{Name: "broken", Schedule: "soon", Action: cronjob.ActionStart},
	)
	err = s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate name "nightly"`)
	assert.Contains(t, err.Error(), "cronjobs[3]")
}

func TestLoadScheduledMaintenanceExample(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "examples", "scheduled_maintenance", "settings.toml"))
	require.NoError(t, err)
	require.Len(t, s.CronJobs, 3)
	assert.Equal(t, cronjob.ActionRestart, s.CronJobs[1].Action)
	assert.Equal(t, "15m", s.CronJobs[1].Delay)
	assert.True(t, s.CronJobs[2].Suspend)
	assert.Equal(t, "auth", s.CronJobs[2].Role)
	// untouched sections keep their defaults
	assert.Equal(t, Default().ExitCodes, s.ExitCodes)
}
