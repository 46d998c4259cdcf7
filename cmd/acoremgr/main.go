package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/acoremgr/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a client command talks to
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	User       string
	Password   string
	Token      string
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

// RestartFlags holds flags for the restart command
type RestartFlags struct {
	ExitCode int
}

// HistoryFlags holds flags for the history command
type HistoryFlags struct {
	Role  string
	Limit int
}

// buildRoot creates the command tree; command output goes to out
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}
	cmd := command{api: apiFlags, out: out}

	root := createRootCommand(globalFlags, apiFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createLifecycleCommand("start", "Start a server", cmd.Start),
		createLifecycleCommand("stop", "Shut a server down (the auth server is killed)", cmd.Stop),
		createLifecycleCommand("kill", "Kill a server immediately", cmd.Kill),
		createRestartCommand(cmd),
		createSendCommand(cmd),
		createStatusCommand(cmd),
		createResourcesCommand(cmd),
		createDashboardCommand(cmd),
		createHistoryCommand(cmd),
		createCronJobsCommand(cmd),
		createSettingsCommand(globalFlags, cmd),
		createAuthCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with its persistent flags
func createRootCommand(flags *GlobalFlags, api *APIFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "acoremgr",
		Short: "AzerothCore world and auth server manager",
		Long: `acoremgr supervises an AzerothCore worldserver and authserver: it starts
and stops them, forwards their console output, restarts them on crash and
exposes everything over an HTTP API.

Examples:
  acoremgr serve --config=settings.toml    # Run the manager daemon
  acoremgr start world                      # Ask the daemon to start the worldserver
  acoremgr restart 5m --exit-code=2         # Scheduled worldserver restart
  acoremgr send account create bob secret   # Console command to the worldserver
  acoremgr status --api-url=http://realm:7878/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML settings file (default settings.toml)")
	root.PersistentFlags().StringVar(&api.APIUrl, "api-url", client.DefaultBaseURL, "daemon API URL")
	root.PersistentFlags().DurationVar(&api.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&api.CACert, "ca-cert", "", "CA certificate for an HTTPS daemon")
	root.PersistentFlags().BoolVar(&api.Insecure, "insecure", false, "skip TLS certificate verification")
	root.PersistentFlags().StringVar(&api.User, "user", os.Getenv("ACOREMGR_USER"), "API username (env ACOREMGR_USER)")
	root.PersistentFlags().StringVar(&api.Password, "password", os.Getenv("ACOREMGR_PASSWORD"), "API password (env ACOREMGR_PASSWORD)")
	root.PersistentFlags().StringVar(&api.Token, "token", os.Getenv("ACOREMGR_TOKEN"), "API bearer token (env ACOREMGR_TOKEN)")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [settings.toml]",
		Short: "Run the manager daemon",
		Long: `Run the manager daemon. A missing settings file is created with defaults.

Examples:
  acoremgr serve
  acoremgr serve /etc/acoremgr/settings.toml
  acoremgr serve --daemonize --pidfile=/run/acoremgr.pid --logfile=/var/log/acoremgr.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if serveFlags.Daemonize {
				return daemonize(serveFlags.PidFile, serveFlags.LogFile)
			}
			if serveFlags.PidFile != "" {
				if err := writePidFile(serveFlags.PidFile, os.Getpid()); err != nil {
					return fmt.Errorf("failed to write PID file: %w", err)
				}
				defer func() { _ = removePidFile(serveFlags.PidFile) }()
			}
			return runServe(cmd.Context(), path)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createLifecycleCommand(use, short string, run func(role string) error) *cobra.Command {
	return &cobra.Command{
		Use:       use + " <world|auth>",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"world", "auth"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
}

func createRestartCommand(c command) *cobra.Command {
	flags := &RestartFlags{}
	cmd := &cobra.Command{
		Use:   "restart <delay>",
		Short: "Restart the worldserver after a delay",
		Long: `Send "server restart <delay> <exit-code>" to the worldserver console.
The delay is seconds ("30") or a duration such as "1h30m" or "45s".

Examples:
  acoremgr restart 30
  acoremgr restart 15m --exit-code=2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code *int
			if cmd.Flags().Changed("exit-code") {
				code = &flags.ExitCode
			}
			return c.Restart(args[0], code)
		},
	}
	cmd.Flags().IntVar(&flags.ExitCode, "exit-code", 2, "exit code the worldserver restarts with (default from daemon settings)")
	return cmd
}

func createSendCommand(c command) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Send a console command to a server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Send(target, args)
		},
	}
	cmd.Flags().StringVar(&target, "role", "world", "server to send to")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func createResourcesCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Show CPU and memory usage of the servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Resources()
		},
	}
}

func createDashboardCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show online players, GMs, tickets and faction balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Dashboard()
		},
	}
}

func createHistoryCommand(c command) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Role, "role", "", "only events of this server")
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "number of events")
	return cmd
}

func createCronJobsCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cronjobs",
		Short: "List scheduled restarts, announcements and start/stop windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.CronJobs()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a scheduled job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RunCronJob(args[0])
		},
	})
	return cmd
}

func createSettingsCommand(globalFlags *GlobalFlags, c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or create the settings file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [settings.toml]",
		Short: "Write a settings file with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.SettingsInit(settingsPath(globalFlags, args), force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var remote bool
	showCmd := &cobra.Command{
		Use:   "show [settings.toml]",
		Short: "Print the effective settings as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote {
				return c.SettingsRemote()
			}
			return c.SettingsShow(settingsPath(globalFlags, args))
		},
	}
	showCmd.Flags().BoolVar(&remote, "remote", false, "ask the running daemon instead of reading the file")

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func settingsPath(flags *GlobalFlags, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flags.ConfigPath
}

func createAuthCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "API authentication helpers",
	}
	var cost int
	hashCmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash to put in [[auth.users]] password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(args[0], cost)
		},
	}
	hashCmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with --user/--password and print a bearer token",
		Long: `Log in with --user/--password and print a bearer token.

Example:
  export ACOREMGR_TOKEN=$(acoremgr auth login --user=gm --password=secret)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Login()
		},
	}
	cmd.AddCommand(hashCmd, loginCmd)
	return cmd
}
