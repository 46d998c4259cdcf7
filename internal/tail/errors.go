package tail

import (
	"errors"
	"fmt"
)

var (
	// ErrLogFileMissing is reported once when the log file never appears.
	// The loop stops afterwards.
	ErrLogFileMissing = errors.New("log file does not exist")
	// ErrLogReadTransient matches every *ReadError. The loop keeps running.
	ErrLogReadTransient = errors.New("transient log read error")
)

// ReadError describes a failed open, stat or read that will be retried.
type ReadError struct {
	Op   string
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func (e *ReadError) Is(target error) bool { return target == ErrLogReadTransient }
