package detector

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// NameDetector looks for any running process whose executable name matches
// Name. Name may be a full path; only its base name is compared, and a
// ".exe" suffix is ignored on both sides.
type NameDetector struct {
	Name    string
	Timeout time.Duration
	// Exclude skips this PID, typically the manager itself.
	Exclude int
}

func (d NameDetector) want() string {
	return normalizeName(filepath.Base(d.Name))
}

func normalizeName(s string) string {
	s = strings.TrimSuffix(strings.TrimSuffix(s, ".exe"), ".EXE")
	if runtime.GOOS == "windows" {
		s = strings.ToLower(s)
	}
	return s
}

// Locate returns the lowest matching PID, or 0.
func (d NameDetector) Locate() (int, error) {
	want := d.want()
	if want == "" || want == "." {
		return 0, nil
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}
	found := 0
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == d.Exclude {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// processes vanish between listing and inspection
			continue
		}
		if normalizeName(name) != want {
			continue
		}
		if found == 0 || pid < found {
			found = pid
		}
	}
	return found, nil
}

func (d NameDetector) Alive() (bool, error) {
	pid, err := d.Locate()
	return pid > 0, err
}

func (d NameDetector) Describe() string { return "name:" + filepath.Base(d.Name) }
