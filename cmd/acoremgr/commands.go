package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/acoremgr/internal/auth"
	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/pkg/client"
)

// command implements the client-side subcommands against the daemon API.
type command struct {
	api *APIFlags
	out io.Writer
}

func (c command) client() *client.Client {
	cfg := client.Config{
		BaseURL:  c.api.APIUrl,
		Timeout:  c.api.APITimeout,
		Insecure: c.api.Insecure,
		Username: c.api.User,
		Password: c.api.Password,
		Token:    c.api.Token,
	}
	if c.api.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.api.CACert}
	}
	return client.New(cfg)
}

func (c command) ctx() (context.Context, context.CancelFunc) {
	timeout := c.api.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (c command) Start(role string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client().Start(ctx, role); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s: start requested\n", role)
	return nil
}

func (c command) Stop(role string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client().Stop(ctx, role); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s: stop requested\n", role)
	return nil
}

func (c command) Kill(role string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client().Kill(ctx, role); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s: killed\n", role)
	return nil
}

// Restart always targets the worldserver; it is the only role with a
// restart console command.
func (c command) Restart(delay string, exitCode *int) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client().Restart(ctx, "world", client.RestartRequest{Delay: delay, ExitCode: exitCode}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "world: restart in %s requested\n", delay)
	return nil
}

func (c command) Send(role string, words []string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.client().SendCommand(ctx, role, strings.Join(words, " "))
}

func (c command) Status(asJSON bool) error {
	ctx, cancel := c.ctx()
	defer cancel()
	st, err := c.client().Status(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(c.out, st)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROLE\tSTATE\tPID\tUPTIME\tRESTARTS\tCRASHES\tDETECTED")
	for _, s := range st.Servers {
		uptime := "-"
		if s.StartedAt != nil {
			uptime = time.Since(*s.StartedAt).Truncate(time.Second).String()
		}
		detected := "-"
		if d := s.Detected; d != nil {
			switch {
			case d.Error != "":
				detected = "error: " + d.Error
			case d.Running:
				detected = fmt.Sprintf("running (%s)", d.DetectedBy)
			default:
				detected = "not running"
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.Role, s.State, pidText(s.PID), uptime, s.Restarts, s.Crashes, detected)
	}
	return tw.Flush()
}

func (c command) Resources() error {
	ctx, cancel := c.ctx()
	defer cancel()
	res, err := c.client().Resources(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROLE\tPID\tCPU%\tMEMORY\tTHREADS")
	for _, name := range []string{"world", "auth"} {
		s, ok := res[name]
		if !ok {
			_, _ = fmt.Fprintf(tw, "%s\t-\t-\t-\t-\n", name)
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f MB\t%d\n", name, s.PID, s.CPUPercent, s.MemoryMB, s.NumThreads)
	}
	return tw.Flush()
}

func (c command) Dashboard() error {
	ctx, cancel := c.ctx()
	defer cancel()
	d, err := c.client().Dashboard(ctx)
	if err != nil {
		return err
	}
	if !d.Live {
		_, _ = fmt.Fprintln(c.out, "Worldserver is not running; no realm figures.")
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "Players online: %d (Alliance %d / Horde %d)\n", d.OnlinePlayers, d.Alliance, d.Horde)
	_, _ = fmt.Fprintf(c.out, "GMs online:     %d\n", d.OnlineGMs)
	_, _ = fmt.Fprintf(c.out, "Open tickets:   %d\n", d.OpenTickets)
	if d.Error != "" {
		_, _ = fmt.Fprintf(c.out, "Last query failed: %s\n", d.Error)
	}
	return nil
}

func (c command) History(f HistoryFlags) error {
	ctx, cancel := c.ctx()
	defer cancel()
	events, err := c.client().History(ctx, f.Role, f.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tROLE\tEVENT\tPID\tEXIT\tMESSAGE")
	for _, e := range events {
		exit := "-"
		if e.ExitCode != nil {
			exit = fmt.Sprint(*e.ExitCode)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Role, e.Type, pidText(e.PID), exit, e.Message)
	}
	return tw.Flush()
}

func (c command) CronJobs() error {
	ctx, cancel := c.ctx()
	defer cancel()
	jobs, err := c.client().CronJobs(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSCHEDULE\tACTION\tROLE\tNEXT\tRUNS\tLAST ERROR")
	for _, j := range jobs {
		next := "suspended"
		if j.Next != nil {
			next = j.Next.Local().Format(time.DateTime)
		}
		r := j.Spec.Role
		if r == "" {
			r = "world"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			j.Spec.Name, j.Spec.Schedule, j.Spec.Action, r, next, j.Status.Runs, j.Status.LastError)
	}
	return tw.Flush()
}

func (c command) RunCronJob(name string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if _, err := c.client().RunCronJob(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s ran\n", name)
	return nil
}

// SettingsInit writes the default settings unless the file exists.
func (c command) SettingsInit(path string, force bool) error {
	if path == "" {
		path = config.DefaultFile
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "wrote %s\n", path)
	return nil
}

func (c command) SettingsShow(path string) error {
	if path == "" {
		path = config.DefaultFile
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("settings %s: %w", path, err)
	}
	s, err := config.Load(path)
	if err != nil {
		return err
	}
	return printJSON(c.out, s)
}

func (c command) SettingsRemote() error {
	ctx, cancel := c.ctx()
	defer cancel()
	raw, err := c.client().Settings(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.out, raw)
}

func (c command) HashPassword(password string, cost int) error {
	h, err := auth.HashPassword(password, cost)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, h)
	return nil
}

// Login prints only the token so it can be captured by a shell.
func (c command) Login() error {
	if c.api.User == "" || c.api.Password == "" {
		return errors.New("--user and --password are required")
	}
	ctx, cancel := c.ctx()
	defer cancel()
	tok, err := c.client().Login(ctx, c.api.User, c.api.Password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, tok.Value)
	return nil
}

func pidText(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprint(pid)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
