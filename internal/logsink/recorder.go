package logsink

import (
	"strings"
	"sync"
	"time"

	"github.com/loykin/acoremgr/internal/role"
)

// Recorder keeps every line in memory. Intended for tests and short-lived
// diagnostics.
type Recorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *Recorder) OnLine(ro role.Role, text string) {
	r.mu.Lock()
	r.lines = append(r.lines, Line{Role: ro, Text: text, Time: time.Now()})
	r.mu.Unlock()
}

// Lines returns a copy of all recorded lines.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

// Texts returns the text of lines recorded for ro, in order.
func (r *Recorder) Texts(ro role.Role) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.Role == ro {
			out = append(out, l.Text)
		}
	}
	return out
}

// Contains reports whether any line for ro contains substr.
func (r *Recorder) Contains(ro role.Role, substr string) bool {
	for _, t := range r.Texts(ro) {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}
