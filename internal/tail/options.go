package tail

import (
	"log/slog"
	"time"
)

const (
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultRetryInterval    = time.Second
	DefaultMaxRetryInterval = 10 * time.Second
	DefaultWaitForFile      = 5 * time.Second
)

// Options tunes a Tailer. Zero fields take the defaults above.
type Options struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" json:"retry_interval"`
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval" json:"max_retry_interval"`
	// WaitForFile is how long the first open keeps polling for a file that
	// does not exist yet. Servers create their log a moment after spawn.
	// Negative means report a missing file immediately.
	WaitForFile time.Duration `mapstructure:"wait_for_file" json:"wait_for_file"`
	// DisableNotify turns off fsnotify wake-ups; the loop then only polls.
	DisableNotify bool `mapstructure:"disable_notify" json:"disable_notify"`

	Logger *slog.Logger `mapstructure:"-" json:"-"`
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetryInterval < o.RetryInterval {
		o.MaxRetryInterval = DefaultMaxRetryInterval
		if o.MaxRetryInterval < o.RetryInterval {
			o.MaxRetryInterval = o.RetryInterval
		}
	}
	if o.WaitForFile < 0 {
		o.WaitForFile = 0
	} else if o.WaitForFile == 0 {
		o.WaitForFile = DefaultWaitForFile
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
