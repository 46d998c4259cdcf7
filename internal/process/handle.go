package process

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Handle is one spawned server process with its standard streams.
// It is owned by a single supervisor and never shared.
type Handle struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	stdout io.ReadCloser
	stderr io.ReadCloser

	inMu  sync.Mutex
	stdin io.WriteCloser

	waitOnce sync.Once
	done     chan struct{}
	exitCode int
	exitErr  error
}

// Spawn starts the executable described by spec. The caller must drain
// Stdout and Stderr; the child blocks once a pipe buffer fills.
func Spawn(spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	if err := checkExecutable(spec.Path); err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	cmd := spec.BuildCommand()

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	var stdin io.WriteCloser
	if spec.Stdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			closeAll(outR, outW, errR, errW)
			return nil, &SpawnError{Path: spec.Path, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		if stdin != nil {
			_ = stdin.Close()
		}
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	// The child holds its own copies of the write ends; ours must go so the
	// readers observe EOF when the child exits.
	closeAll(outW, errW)

	return &Handle{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		stdout:    outR,
		stderr:    errR,
		stdin:     stdin,
		done:      make(chan struct{}),
	}, nil
}

func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if !isExecutable(fi) {
		return fs.ErrPermission
	}
	return nil
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

func (h *Handle) PID() int             { return h.pid }
func (h *Handle) Name() string         { return h.spec.Name }
func (h *Handle) StartedAt() time.Time { return h.startedAt }
func (h *Handle) HasStdin() bool       { return h.stdin != nil }

// Stdout returns the read end of the child's standard output.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Stderr returns the read end of the child's standard error.
func (h *Handle) Stderr() io.ReadCloser { return h.stderr }

// Done is closed once the exit code has been observed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether Wait has observed the exit.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// WriteLine writes text followed by a newline to the child's stdin.
func (h *Handle) WriteLine(text string) error {
	if h.stdin == nil {
		return &WriteError{PID: h.pid, Err: ErrNoStdin}
	}
	if h.Exited() {
		return &WriteError{PID: h.pid, Err: ErrExited}
	}
	h.inMu.Lock()
	defer h.inMu.Unlock()
	if _, err := io.WriteString(h.stdin, text+"\n"); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) || h.Exited() {
			return &WriteError{PID: h.pid, Err: fmt.Errorf("%w: %v", ErrExited, err)}
		}
		return &WriteError{PID: h.pid, Err: err}
	}
	return nil
}

// RequestGracefulShutdown asks the server to exit on its own by writing
// command to its console instead of killing it.
func (h *Handle) RequestGracefulShutdown(command string) error {
	return h.WriteLine(command)
}

// Terminate forcefully kills the process (its whole group on Unix).
func (h *Handle) Terminate() error {
	if h.Exited() {
		return nil
	}
	if err := killGroup(h.pid); err != nil {
		// fall back to the direct handle when the group is already gone
		if perr := h.cmd.Process.Kill(); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
			return fmt.Errorf("terminate pid %d: %w", h.pid, err)
		}
	}
	return nil
}

// Wait blocks until the process exits and returns its exit code. Only the
// first call performs the wait; later calls return the cached code.
// Signal deaths report -1.
func (h *Handle) Wait() int {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		h.exitErr = err
		h.exitCode = exitCodeOf(h.cmd, err)
		close(h.done)
	})
	<-h.done
	return h.exitCode
}

// ExitErr returns the error cmd.Wait reported, if any. Valid after Done.
func (h *Handle) ExitErr() error {
	<-h.done
	return h.exitErr
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
