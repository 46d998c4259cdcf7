package cronjob

import (
	"fmt"
	"strings"

	"github.com/loykin/acoremgr/internal/cron"
	"github.com/loykin/acoremgr/internal/role"
)

// Actions a cronjob can take on a server.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionCommand = "command"
)

// Spec is one scheduled maintenance action, e.g. a nightly restart or a
// recurring announcement.
type Spec struct {
	Name     string `json:"name" mapstructure:"name"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron expression or @every/@daily
	Action   string `json:"action" mapstructure:"action"`
	Role     string `json:"role" mapstructure:"role"` // default world
	// Delay and ExitCode apply to restart; a nil ExitCode uses the
	// configured restart code.
	Delay    string `json:"delay,omitempty" mapstructure:"delay"`
	ExitCode *int   `json:"exit_code,omitempty" mapstructure:"exit_code"`
	Command  string `json:"command,omitempty" mapstructure:"command"`
	Suspend  bool   `json:"suspend,omitempty" mapstructure:"suspend"`
}

// ServerRole returns the target role, defaulting to world.
func (s Spec) ServerRole() (role.Role, error) {
	if strings.TrimSpace(s.Role) == "" {
		return role.World, nil
	}
	r, err := role.Parse(s.Role)
	if err != nil || !r.IsServer() {
		return 0, fmt.Errorf("cronjob %s: unknown server role %q", s.Name, s.Role)
	}
	return r, nil
}

// Validate validates the cronjob spec
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("cronjob name is required")
	}
	if s.Schedule == "" {
		return fmt.Errorf("cronjob %s: schedule is required", s.Name)
	}
	if _, err := cron.ParseSchedule(s.Schedule); err != nil {
		return fmt.Errorf("cronjob %s: %w", s.Name, err)
	}
	r, err := s.ServerRole()
	if err != nil {
		return err
	}
	caps := role.CapabilitiesFor(r)
	switch s.Action {
	case ActionStart, ActionStop:
	case ActionRestart:
		if !caps.RestartCommand {
			return fmt.Errorf("cronjob %s: %s cannot restart itself", s.Name, r)
		}
		if s.Delay == "" {
			return fmt.Errorf("cronjob %s: restart needs a delay", s.Name)
		}
	case ActionCommand:
		if !caps.Stdin {
			return fmt.Errorf("cronjob %s: %s has no console", s.Name, r)
		}
		if strings.TrimSpace(s.Command) == "" || strings.ContainsAny(s.Command, "\r\n") {
			return fmt.Errorf("cronjob %s: command must be a single non-empty line", s.Name)
		}
	default:
		return fmt.Errorf("cronjob %s: unknown action %q (want start, stop, restart or command)", s.Name, s.Action)
	}
	return nil
}
