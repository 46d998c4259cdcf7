// Package logsink defines where role-tagged console lines go.
package logsink

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/acoremgr/internal/role"
)

// Line is one console line tagged with the role that produced it.
type Line struct {
	Role role.Role `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Sink receives lines from stream readers, tailers and the supervisors.
// OnLine is called concurrently from several goroutines and must not block
// for long.
type Sink interface {
	OnLine(r role.Role, text string)
}

// Func adapts a function to Sink.
type Func func(r role.Role, text string)

func (f Func) OnLine(r role.Role, text string) { f(r, text) }

// Nop discards every line.
var Nop Sink = Func(func(role.Role, string) {})

type multi []Sink

// Multi fans lines out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) OnLine(r role.Role, text string) {
	for _, s := range m {
		s.OnLine(r, text)
	}
}

// Slog writes server output lines as slog records. Manager lines are
// skipped; supervisors already log those with structured attributes.
type Slog struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (s Slog) OnLine(r role.Role, text string) {
	if !r.IsServer() {
		return
	}
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Log(context.Background(), s.Level, text, "role", r.String(), "source", "console")
}
