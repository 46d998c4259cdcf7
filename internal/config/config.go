// Package config loads and saves the manager's settings file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/acoremgr/internal/cronjob"
	"github.com/loykin/acoremgr/internal/env"
	"github.com/loykin/acoremgr/internal/logger"
	"github.com/loykin/acoremgr/internal/role"
)

// DefaultFile is the settings file used when none is given.
const DefaultFile = "settings.toml"

// EnvPrefix prefixes environment overrides, e.g. ACOREMGR_DATABASE_PASSWORD.
const EnvPrefix = "ACOREMGR"

// Settings is the whole settings file.
type Settings struct {
	Paths     PathsConfig     `mapstructure:"paths" json:"paths"`
	General   GeneralConfig   `mapstructure:"general" json:"general"`
	ExitCodes role.ExitCodes  `mapstructure:"exit_codes" json:"exit_codes"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Tail      TailConfig      `mapstructure:"tail" json:"tail"`
	Status    StatusConfig    `mapstructure:"status" json:"status"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics"`
	Dashboard DashboardConfig `mapstructure:"dashboard" json:"dashboard"`
	History   HistoryConfig   `mapstructure:"history" json:"history"`
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Log       logger.Config   `mapstructure:"log" json:"log"`
	Console   ConsoleConfig   `mapstructure:"console" json:"console"`
	Auth      AuthConfig      `mapstructure:"auth" json:"auth"`
	CronJobs  []cronjob.Spec  `mapstructure:"cronjobs" json:"cronjobs"`
}

// PathsConfig locates the server executables and the log files they write.
type PathsConfig struct {
	Worldserver  string   `mapstructure:"worldserver" json:"worldserver"`
	Authserver   string   `mapstructure:"authserver" json:"authserver"`
	WorldLogFile string   `mapstructure:"world_log_file" json:"world_log_file"`
	AuthLogFile  string   `mapstructure:"auth_log_file" json:"auth_log_file"`
	WorldWorkDir string   `mapstructure:"world_workdir" json:"world_workdir"`
	AuthWorkDir  string   `mapstructure:"auth_workdir" json:"auth_workdir"`
	WorldArgs    []string `mapstructure:"world_args" json:"world_args"`
	AuthArgs     []string `mapstructure:"auth_args" json:"auth_args"`
}

type GeneralConfig struct {
	RestartWorldserverOnCrash bool     `mapstructure:"restart_worldserver_on_crash" json:"restart_worldserver_on_crash"`
	RestartAuthserverOnCrash  bool     `mapstructure:"restart_authserver_on_crash" json:"restart_authserver_on_crash"`
	Env                       []string `mapstructure:"env" json:"env"`
}

// DatabaseConfig points at the realm databases. Driver is mysql, postgres
// or sqlite; DSN, when set, replaces the host/port/user fields.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" json:"driver"`
	DSN        string `mapstructure:"dsn" json:"dsn,omitempty"`
	Host       string `mapstructure:"host" json:"host"`
	Port       int    `mapstructure:"port" json:"port"`
	User       string `mapstructure:"user" json:"user"`
	Password   string `mapstructure:"password" json:"password"`
	World      string `mapstructure:"world" json:"world"`
	Characters string `mapstructure:"characters" json:"characters"`
	Auth       string `mapstructure:"auth" json:"auth"`
}

type TailConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" json:"retry_interval"`
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval" json:"max_retry_interval"`
	WaitForFile      time.Duration `mapstructure:"wait_for_file" json:"wait_for_file"`
}

// StatusConfig drives the status poller. PID files are optional and only
// consulted when the manager does not hold the process itself.
type StatusConfig struct {
	Interval     time.Duration `mapstructure:"interval" json:"interval"`
	WorldPIDFile string        `mapstructure:"world_pid_file" json:"world_pid_file"`
	AuthPIDFile  string        `mapstructure:"auth_pid_file" json:"auth_pid_file"`
}

type MetricsConfig struct {
	Enabled    bool          `mapstructure:"enabled" json:"enabled"`
	Interval   time.Duration `mapstructure:"interval" json:"interval"`
	MaxHistory int           `mapstructure:"max_history" json:"max_history"`
}

type DashboardConfig struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

// HistoryConfig lists lifecycle event sinks by DSN.
type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled"`
	Sinks   []string `mapstructure:"sinks" json:"sinks"`
}

type ServerConfig struct {
	Listen   string    `mapstructure:"listen" json:"listen"`
	BasePath string    `mapstructure:"base_path" json:"base_path"`
	TLS      TLSConfig `mapstructure:"tls" json:"tls"`
}

// TLSConfig enables HTTPS for the API. Either CertFile/KeyFile or Dir must
// be set; with AutoGenerate a self-signed pair is written to Dir on first
// start.
type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	CertFile     string `mapstructure:"cert_file" json:"cert_file,omitempty"`
	KeyFile      string `mapstructure:"key_file" json:"key_file,omitempty"`
	Dir          string `mapstructure:"dir" json:"dir,omitempty"`
	AutoGenerate bool   `mapstructure:"auto_generate" json:"auto_generate"`
	MinVersion   string `mapstructure:"min_version" json:"min_version,omitempty"`
}

// AuthConfig protects the API. Users log in with a bcrypt password hash,
// clients with a shared secret; both receive JWTs.
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled" json:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret" json:"jwt_secret,omitempty"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
	Users     []AuthUser    `mapstructure:"users" json:"users,omitempty"`
	Clients   []AuthClient  `mapstructure:"clients" json:"clients,omitempty"`
}

type AuthUser struct {
	Username     string   `mapstructure:"username" json:"username"`
	PasswordHash string   `mapstructure:"password_hash" json:"password_hash,omitempty"`
	Roles        []string `mapstructure:"roles" json:"roles"`
	Disabled     bool     `mapstructure:"disabled" json:"disabled,omitempty"`
}

type AuthClient struct {
	ClientID     string   `mapstructure:"client_id" json:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" json:"client_secret,omitempty"`
	Roles        []string `mapstructure:"roles" json:"roles"`
}

// Redacted returns a copy without secrets or password hashes.
func (a AuthConfig) Redacted() AuthConfig {
	out := a
	out.JWTSecret = ""
	out.Users = make([]AuthUser, len(a.Users))
	for i, u := range a.Users {
		u.PasswordHash = ""
		out.Users[i] = u
	}
	out.Clients = make([]AuthClient, len(a.Clients))
	for i, c := range a.Clients {
		c.ClientSecret = ""
		out.Clients[i] = c
	}
	return out
}

type ConsoleConfig struct {
	Bell      bool `mapstructure:"bell" json:"bell"`
	QueueSize int  `mapstructure:"queue_size" json:"queue_size"`
}

// ServerPaths returns executable, log file, working dir and args for r.
func (s Settings) ServerPaths(r role.Role) (exe, logFile, workDir string, args []string) {
	switch r {
	case role.World:
		return s.Paths.Worldserver, s.Paths.WorldLogFile, s.Paths.WorldWorkDir, s.Paths.WorldArgs
	case role.Auth:
		return s.Paths.Authserver, s.Paths.AuthLogFile, s.Paths.AuthWorkDir, s.Paths.AuthArgs
	}
	return "", "", "", nil
}

// RestartOnCrash reports the crash policy for r.
func (s Settings) RestartOnCrash(r role.Role) bool {
	switch r {
	case role.World:
		return s.General.RestartWorldserverOnCrash
	case role.Auth:
		return s.General.RestartAuthserverOnCrash
	}
	return false
}

// PIDFile returns the configured PID file for r.
func (s Settings) PIDFile(r role.Role) string {
	switch r {
	case role.World:
		return s.Status.WorldPIDFile
	case role.Auth:
		return s.Status.AuthPIDFile
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.worldserver", "")
	v.SetDefault("paths.authserver", "")
	v.SetDefault("paths.world_log_file", "")
	v.SetDefault("paths.auth_log_file", "")
	v.SetDefault("paths.world_workdir", "")
	v.SetDefault("paths.auth_workdir", "")
	v.SetDefault("paths.world_args", []string{})
	v.SetDefault("paths.auth_args", []string{})

	v.SetDefault("general.restart_worldserver_on_crash", false)
	v.SetDefault("general.restart_authserver_on_crash", false)
	v.SetDefault("general.env", []string{})

	codes := role.DefaultExitCodes()
	v.SetDefault("exit_codes.shutdown", codes.Shutdown)
	v.SetDefault("exit_codes.crash", codes.Crash)
	v.SetDefault("exit_codes.restart", codes.Restart)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "acore")
	v.SetDefault("database.password", "acore")
	v.SetDefault("database.world", "acore_world")
	v.SetDefault("database.characters", "acore_characters")
	v.SetDefault("database.auth", "acore_auth")

	v.SetDefault("tail.poll_interval", 100*time.Millisecond)
	v.SetDefault("tail.retry_interval", time.Second)
	v.SetDefault("tail.max_retry_interval", 10*time.Second)
	v.SetDefault("tail.wait_for_file", 5*time.Second)

	v.SetDefault("status.interval", 3*time.Second)
	v.SetDefault("status.world_pid_file", "")
	v.SetDefault("status.auth_pid_file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", 5*time.Second)
	v.SetDefault("metrics.max_history", 120)

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.interval", 10*time.Second)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})

	v.SetDefault("server.listen", "127.0.0.1:7878")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")

	v.SetDefault("log.slog.level", logger.LevelInfo)
	v.SetDefault("log.slog.format", logger.FormatText)
	v.SetDefault("log.slog.color", true)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("console.bell", true)
	v.SetDefault("console.queue_size", 256)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.users", []any{})
	v.SetDefault("auth.clients", []any{})

	v.SetDefault("cronjobs", []any{})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default returns the built-in settings.
func Default() Settings {
	var s Settings
	if err := newViper().Unmarshal(&s); err != nil {
		// defaults are static; a failure here is a programming error
		panic(fmt.Errorf("decode default settings: %w", err))
	}
	return s
}

// Load reads path. A missing file is created with the defaults first.
// Environment variables prefixed with ACOREMGR_ override file values.
func Load(path string) (Settings, error) {
	if path == "" {
		path = DefaultFile
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := Save(path, Default()); err != nil {
			return Settings{}, fmt.Errorf("write default settings: %w", err)
		}
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path as TOML, replacing the file.
func Save(path string, s Settings) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.MergeConfigMap(s.toMap()); err != nil {
		return err
	}
	return v.WriteConfigAs(path)
}

func (s Settings) toMap() map[string]any {
	return map[string]any{
		"paths": map[string]any{
			"worldserver":    s.Paths.Worldserver,
			"authserver":     s.Paths.Authserver,
			"world_log_file": s.Paths.WorldLogFile,
			"auth_log_file":  s.Paths.AuthLogFile,
			"world_workdir":  s.Paths.WorldWorkDir,
			"auth_workdir":   s.Paths.AuthWorkDir,
			"world_args":     nonNil(s.Paths.WorldArgs),
			"auth_args":      nonNil(s.Paths.AuthArgs),
		},
		"general": map[string]any{
			"restart_worldserver_on_crash": s.General.RestartWorldserverOnCrash,
			"restart_authserver_on_crash":  s.General.RestartAuthserverOnCrash,
			"env":                          nonNil(s.General.Env),
		},
		"exit_codes": map[string]any{
			"shutdown": s.ExitCodes.Shutdown,
			"crash":    s.ExitCodes.Crash,
			"restart":  s.ExitCodes.Restart,
		},
		"database": map[string]any{
			"driver":     s.Database.Driver,
			"dsn":        s.Database.DSN,
			"host":       s.Database.Host,
			"port":       s.Database.Port,
			"user":       s.Database.User,
			"password":   s.Database.Password,
			"world":      s.Database.World,
			"characters": s.Database.Characters,
			"auth":       s.Database.Auth,
		},
		"tail": map[string]any{
			"poll_interval":      s.Tail.PollInterval.String(),
			"retry_interval":     s.Tail.RetryInterval.String(),
			"max_retry_interval": s.Tail.MaxRetryInterval.String(),
			"wait_for_file":      s.Tail.WaitForFile.String(),
		},
		"status": map[string]any{
			"interval":       s.Status.Interval.String(),
			"world_pid_file": s.Status.WorldPIDFile,
			"auth_pid_file":  s.Status.AuthPIDFile,
		},
		"metrics": map[string]any{
			"enabled":     s.Metrics.Enabled,
			"interval":    s.Metrics.Interval.String(),
			"max_history": s.Metrics.MaxHistory,
		},
		"dashboard": map[string]any{
			"enabled":  s.Dashboard.Enabled,
			"interval": s.Dashboard.Interval.String(),
		},
		"history": map[string]any{
			"enabled": s.History.Enabled,
			"sinks":   nonNil(s.History.Sinks),
		},
		"server": map[string]any{
			"listen":    s.Server.Listen,
			"base_path": s.Server.BasePath,
			"tls": map[string]any{
				"enabled":       s.Server.TLS.Enabled,
				"cert_file":     s.Server.TLS.CertFile,
				"key_file":      s.Server.TLS.KeyFile,
				"dir":           s.Server.TLS.Dir,
				"auto_generate": s.Server.TLS.AutoGenerate,
				"min_version":   s.Server.TLS.MinVersion,
			},
		},
		"log": map[string]any{
			"slog": map[string]any{
				"level":      s.Log.Slog.Level,
				"format":     s.Log.Slog.Format,
				"color":      s.Log.Slog.Color,
				"timestamps": s.Log.Slog.TimeStamps,
				"source":     s.Log.Slog.Source,
			},
			"file": map[string]any{
				"path":         s.Log.File.Path,
				"dir":          s.Log.File.Dir,
				"max_size_mb":  s.Log.File.MaxSizeMB,
				"max_backups":  s.Log.File.MaxBackups,
				"max_age_days": s.Log.File.MaxAgeDays,
				"compress":     s.Log.File.Compress,
			},
		},
		"console": map[string]any{
			"bell":       s.Console.Bell,
			"queue_size": s.Console.QueueSize,
		},
		"auth":     s.Auth.toMap(),
		"cronjobs": cronJobsMap(s.CronJobs),
	}
}

func cronJobsMap(specs []cronjob.Spec) []map[string]any {
	out := make([]map[string]any, 0, len(specs))
	for _, c := range specs {
		m := map[string]any{
			"name":     c.Name,
			"schedule": c.Schedule,
			"action":   c.Action,
			"role":     c.Role,
			"delay":    c.Delay,
			"command":  c.Command,
			"suspend":  c.Suspend,
		}
		if c.ExitCode != nil {
			m["exit_code"] = *c.ExitCode
		}
		out = append(out, m)
	}
	return out
}

func (a AuthConfig) toMap() map[string]any {
	users := make([]map[string]any, 0, len(a.Users))
	for _, u := range a.Users {
		users = append(users, map[string]any{
			"username":      u.Username,
			"password_hash": u.PasswordHash,
			"roles":         nonNil(u.Roles),
			"disabled":      u.Disabled,
		})
	}
	clients := make([]map[string]any, 0, len(a.Clients))
	for _, c := range a.Clients {
		clients = append(clients, map[string]any{
			"client_id":     c.ClientID,
			"client_secret": c.ClientSecret,
			"roles":         nonNil(c.Roles),
		})
	}
	return map[string]any{
		"enabled":    a.Enabled,
		"jwt_secret": a.JWTSecret,
		"token_ttl":  a.TokenTTL.String(),
		"users":      users,
		"clients":    clients,
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// Validate checks values that would otherwise fail late at runtime.
func (s Settings) Validate() error {
	var errs []error
	c := s.ExitCodes
	if c.Shutdown == c.Crash || c.Shutdown == c.Restart || c.Crash == c.Restart {
		errs = append(errs, fmt.Errorf("exit_codes must be distinct (shutdown=%d crash=%d restart=%d)", c.Shutdown, c.Crash, c.Restart))
	}
	if err := env.Validate(s.General.Env); err != nil {
		errs = append(errs, fmt.Errorf("general.env: %w", err))
	}
	switch strings.ToLower(s.Database.Driver) {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want mysql, postgres or sqlite", s.Database.Driver))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"tail.poll_interval", s.Tail.PollInterval},
		{"tail.retry_interval", s.Tail.RetryInterval},
		{"tail.max_retry_interval", s.Tail.MaxRetryInterval},
		{"status.interval", s.Status.Interval},
		{"metrics.interval", s.Metrics.Interval},
		{"dashboard.interval", s.Dashboard.Interval},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.key))
		}
	}
	if t := s.Server.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls: set cert_file and key_file, or dir"))
	}
	if s.History.Enabled {
		for i, d := range s.History.Sinks {
			if strings.TrimSpace(d) == "" {
				errs = append(errs, fmt.Errorf("history.sinks[%d] is empty", i))
			}
		}
	}
	if s.Auth.Enabled {
		errs = append(errs, s.Auth.validate()...)
	}
	names := map[string]bool{}
	for i, c := range s.CronJobs {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("cronjobs[%d]: %w", i, err))
		}
		if names[c.Name] {
			errs = append(errs, fmt.Errorf("cronjobs[%d]: duplicate name %q", i, c.Name))
		}
		names[c.Name] = true
	}
	if strings.TrimSpace(s.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	return errors.Join(errs...)
}

var authRoles = map[string]bool{"admin": true, "operator": true, "viewer": true}

func (a AuthConfig) validate() []error {
	var errs []error
	if len(a.Users) == 0 && len(a.Clients) == 0 {
		errs = append(errs, errors.New("auth.enabled needs at least one user or client"))
	}
	checkRoles := func(who string, roles []string) {
		if len(roles) == 0 {
			errs = append(errs, fmt.Errorf("%s has no roles", who))
		}
		for _, r := range roles {
			if !authRoles[r] {
				errs = append(errs, fmt.Errorf("%s: unknown role %q (want admin, operator or viewer)", who, r))
			}
		}
	}
	seen := map[string]bool{}
	for i, u := range a.Users {
		who := fmt.Sprintf("auth.users[%d]", i)
		switch {
		case u.Username == "":
			errs = append(errs, fmt.Errorf("%s: username is required", who))
		case seen[u.Username]:
			errs = append(errs, fmt.Errorf("%s: duplicate username %q", who, u.Username))
		}
		seen[u.Username] = true
		if !strings.HasPrefix(u.PasswordHash, "$2") {
			errs = append(errs, fmt.Errorf("%s: password_hash must be a bcrypt hash", who))
		}
		checkRoles(who, u.Roles)
	}
	for i, c := range a.Clients {
		who := fmt.Sprintf("auth.clients[%d]", i)
		if c.ClientID == "" || c.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("%s: client_id and client_secret are required", who))
		}
		checkRoles(who, c.Roles)
	}
	if a.TokenTTL < 0 {
		errs = append(errs, errors.New("auth.token_ttl must not be negative"))
	}
	return errs
}
