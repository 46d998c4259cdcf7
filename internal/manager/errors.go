package manager

import "errors"

var (
	// ErrAlreadyRunning is returned by Start outside the stopped and crashed states.
	ErrAlreadyRunning = errors.New("server is already running")
	// ErrNotRunning is returned by operations that need a running server.
	ErrNotRunning = errors.New("server is not running")
	// ErrUnsupported is returned when the role lacks the needed capability.
	ErrUnsupported = errors.New("operation not supported for this server")
	// ErrInvalidDelay is returned by Restart for a malformed delay.
	ErrInvalidDelay = errors.New("invalid restart delay")
	// ErrInvalidCommand is returned by SendCommand for empty or multi-line input.
	ErrInvalidCommand = errors.New("invalid console command")
	// ErrUnknownRole is returned by Manager for roles it does not supervise.
	ErrUnknownRole = errors.New("unknown server role")
)
