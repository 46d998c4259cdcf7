package process

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn matches every *SpawnError.
	ErrSpawn = errors.New("spawn failed")
	// ErrWrite matches every *WriteError.
	ErrWrite = errors.New("stdin write failed")
	// ErrNoStdin is wrapped by WriteError when the handle was spawned without stdin.
	ErrNoStdin = errors.New("process has no stdin channel")
	// ErrExited is wrapped by WriteError when the process is gone.
	ErrExited = errors.New("process has exited")
)

// SpawnError is returned when the executable is missing, not executable, or
// the OS refuses to create the process.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// WriteError is returned when a line could not be written to stdin.
type WriteError struct {
	PID int
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write stdin (pid %d): %v", e.PID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }
