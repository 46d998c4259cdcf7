package logsink

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/loykin/acoremgr/internal/role"
)

const transcriptTimeFormat = "2006-01-02 15:04:05"

// Transcript appends every line to a per-role writer, one timestamped line
// per entry. Roles without a writer are ignored.
type Transcript struct {
	mu      sync.Mutex
	writers map[role.Role]io.WriteCloser
	now     func() time.Time
}

// NewTranscript returns a Transcript that opens writers lazily through open.
// open may return nil to skip a role.
func NewTranscript(open func(r role.Role) io.WriteCloser) *Transcript {
	t := &Transcript{writers: make(map[role.Role]io.WriteCloser), now: time.Now}
	for _, r := range []role.Role{role.Manager, role.World, role.Auth} {
		if w := open(r); w != nil {
			t.writers[r] = w
		}
	}
	return t
}

func (t *Transcript) OnLine(r role.Role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.writers[r]
	if !ok {
		return
	}
	_, _ = fmt.Fprintf(w, "[%s] %s\n", t.now().Format(transcriptTimeFormat), text)
}

// Close closes every writer.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for r, w := range t.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s transcript: %w", r, err))
		}
		delete(t.writers, r)
	}
	return errors.Join(errs...)
}
