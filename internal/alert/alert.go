// Package alert raises operator-facing alerts when a server crashes.
package alert

import (
	"io"
	"log/slog"
	"sync"

	"github.com/loykin/acoremgr/internal/role"
)

// Alerter is notified once per detected crash.
type Alerter interface {
	Alert(r role.Role, message string)
}

// Func adapts a function to Alerter.
type Func func(r role.Role, message string)

func (f Func) Alert(r role.Role, message string) { f(r, message) }

// Nop ignores alerts.
var Nop Alerter = Func(func(role.Role, string) {})

// Bell rings the terminal bell on W and logs the alert at warn level.
type Bell struct {
	W      io.Writer
	Logger *slog.Logger

	mu sync.Mutex
}

// NewBell returns a Bell writing to w.
func NewBell(w io.Writer, logger *slog.Logger) *Bell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bell{W: w, Logger: logger}
}

func (b *Bell) Alert(r role.Role, message string) {
	b.Logger.Warn("server alert", "role", r.String(), "message", message)
	if b.W == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = b.W.Write([]byte{'\a'})
}

// Multi notifies every non-nil alerter.
func Multi(as ...Alerter) Alerter {
	return Func(func(r role.Role, message string) {
		for _, a := range as {
			if a != nil {
				a.Alert(r, message)
			}
		}
	})
}
