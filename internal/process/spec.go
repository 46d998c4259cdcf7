package process

import (
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
)

// Spec describes a server executable to spawn.
type Spec struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	WorkDir string   `json:"work_dir,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"` // complete environment; nil inherits the supervisor's
	Stdin   bool     `json:"stdin"`         // open a command channel on standard input
}

// Validate checks that Spec has the fields Spawn needs.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("executable path is required")
	}
	return nil
}

// Dir returns the working directory: WorkDir when set, otherwise the
// directory holding the executable (servers resolve their config files
// relative to it).
func (s Spec) Dir() string {
	if s.WorkDir != "" {
		return s.WorkDir
	}
	return filepath.Dir(s.Path)
}

// BuildCommand returns an *exec.Cmd for the executable. The path is used
// verbatim; no shell is involved.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- the executable path comes from operator configuration
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.Dir()
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}
