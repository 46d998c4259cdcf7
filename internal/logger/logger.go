package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for log files
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level names accepted in configuration
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config groups the manager's own structured logging (Slog) and the files
// that receive it and the per-role console transcripts (File).
type Config struct {
	Slog SlogConfig `mapstructure:"slog" json:"slog"`
	File FileConfig `mapstructure:"file" json:"file"`
}

// SlogConfig controls the slog handler.
type SlogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	Color      bool   `mapstructure:"color" json:"color"`
	TimeStamps bool   `mapstructure:"timestamps" json:"timestamps"`
	Source     bool   `mapstructure:"source" json:"source"`
}

// FileConfig describes rotating log files. Path receives the manager log
// in addition to stderr. Dir holds the console transcripts, one file per
// role (<Dir>/<role>.console.log).
type FileConfig struct {
	Path       string `mapstructure:"path" json:"path"`
	Dir        string `mapstructure:"dir" json:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// ParseLevel maps a level name to slog.Level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds a logger writing to stderr and, when File.Path is set,
// to a rotating file. Color only applies to the terminal.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.NewHandler(os.Stderr))
}

// NewHandler builds the handler NewSlogger uses around w.
func (c Config) NewHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	var term slog.Handler
	switch {
	case strings.EqualFold(c.Slog.Format, FormatJSON):
		term = slog.NewJSONHandler(w, opts)
	case c.Slog.Color:
		term = NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	default:
		term = slog.NewTextHandler(w, opts)
	}
	if c.File.Path == "" {
		return term
	}
	fw := c.File.rotating(c.File.Path)
	var fh slog.Handler
	if strings.EqualFold(c.Slog.Format, FormatJSON) {
		fh = slog.NewJSONHandler(fw, opts)
	} else {
		fh = slog.NewTextHandler(fw, opts)
	}
	return fanout{term, fh}
}

// TranscriptWriter returns a rotating writer for the console transcript of
// name, or nil when no Dir is configured.
func (f FileConfig) TranscriptWriter(name string) io.WriteCloser {
	if f.Dir == "" {
		return nil
	}
	return f.rotating(filepath.Join(f.Dir, name+".console.log"))
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
