// Package tail follows a log file written by another process, surviving
// truncation and rename rotation.
package tail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
)

// Cursor is the read position within one log file. Offset counts the bytes
// of complete lines already emitted. Generation increments on every
// truncation or rotation.
type Cursor struct {
	Path       string `json:"path"`
	Offset     int64  `json:"offset"`
	Generation int    `json:"generation"`
}

// Tailer owns the cursor for one path and runs at most one tail loop.
type Tailer struct {
	opts Options

	mu     sync.Mutex
	cursor Cursor
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Tailer positioned at the start of path.
func New(path string, opts Options) *Tailer {
	return &Tailer{opts: opts.withDefaults(), cursor: Cursor{Path: path}}
}

func (t *Tailer) Path() string { return t.cursor.Path }

// Cursor returns a copy of the current cursor.
func (t *Tailer) Cursor() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Running reports whether a tail loop is active.
func (t *Tailer) Running() bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Start launches the tail loop, stopping and joining any previous loop
// first. emit receives each complete line without its line terminator.
// report receives ErrLogFileMissing (after which the loop ends) and
// *ReadError values for retried failures; it may be nil.
func (t *Tailer) Start(ctx context.Context, emit func(string), report func(error)) {
	t.Stop()
	if report == nil {
		report = func(error) {}
	}
	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()
	go func() {
		defer close(done)
		t.run(lctx, emit, report)
	}()
}

// Stop cancels the loop and waits for it to return. The cursor is kept so a
// later Start resumes where this loop left off.
func (t *Tailer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (t *Tailer) setOffset(off int64) {
	t.mu.Lock()
	t.cursor.Offset = off
	t.mu.Unlock()
}

func (t *Tailer) reset() {
	t.mu.Lock()
	t.cursor.Offset = 0
	t.cursor.Generation++
	t.mu.Unlock()
}

// follower is the per-loop state; it is only touched by the loop goroutine.
type follower struct {
	t       *Tailer
	f       *os.File
	ident   os.FileInfo
	offset  int64
	pending []byte
	buf     []byte
}

func (t *Tailer) run(ctx context.Context, emit func(string), report func(error)) {
	path := t.Path()
	log := t.opts.Logger.With("path", path)

	var wake *waker
	if !t.opts.DisableNotify {
		wake = newWaker(path)
	}
	defer wake.Close()

	if !t.awaitFile(ctx, wake) {
		if ctx.Err() == nil {
			log.Warn("log file not found, tailing stopped", "waited", t.opts.WaitForFile)
			report(ErrLogFileMissing)
		}
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.opts.RetryInterval
	bo.MaxInterval = t.opts.MaxRetryInterval
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	fl := &follower{t: t, offset: t.Cursor().Offset, buf: make([]byte, 64*1024)}
	defer fl.close()

	retry := func(err *ReadError) bool {
		log.Debug("log read failed, retrying", "op", err.Op, "error", err.Err)
		report(err)
		fl.close()
		return sleepCtx(ctx, bo.NextBackOff(), nil)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if fl.f == nil {
			if err := fl.open(path); err != nil {
				if !retry(err) {
					return
				}
				continue
			}
		}

		n, err := fl.f.Read(fl.buf)
		if n > 0 {
			bo.Reset()
			fl.consume(fl.buf[:n], emit)
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if !retry(&ReadError{Op: "read", Path: path, Err: err}) {
				return
			}
			continue
		}

		// Caught up: see whether the file under the path changed.
		st, err := os.Stat(path)
		if err != nil {
			if !retry(&ReadError{Op: "stat", Path: path, Err: err}) {
				return
			}
			continue
		}
		switch {
		case !os.SameFile(st, fl.ident):
			log.Info("log file rotated, reading from start")
			fl.restart()
			continue
		case st.Size() < fl.readPos():
			log.Info("log file truncated, reading from start", "size", st.Size(), "offset", fl.readPos())
			fl.restart()
			continue
		}
		if !sleepCtx(ctx, t.opts.PollInterval, wake.C()) {
			return
		}
	}
}

// awaitFile polls until path exists, up to WaitForFile.
func (t *Tailer) awaitFile(ctx context.Context, wake *waker) bool {
	path := t.Path()
	deadline := time.Now().Add(t.opts.WaitForFile)
	for {
		if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if !sleepCtx(ctx, min(remaining, t.opts.PollInterval), wake.C()) {
			return false
		}
	}
}

func (fl *follower) open(path string) *ReadError {
	f, err := os.Open(path)
	if err != nil {
		return &ReadError{Op: "open", Path: path, Err: err}
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return &ReadError{Op: "stat", Path: path, Err: err}
	}
	if (fl.ident != nil && !os.SameFile(st, fl.ident)) || st.Size() < fl.offset {
		// a different file, or a shorter one, than the cursor refers to
		fl.offset = 0
		fl.t.reset()
	}
	if _, err := f.Seek(fl.offset, io.SeekStart); err != nil {
		_ = f.Close()
		return &ReadError{Op: "seek", Path: path, Err: err}
	}
	fl.f = f
	fl.ident = st
	fl.pending = fl.pending[:0]
	return nil
}

// restart drops the open file and rewinds the cursor to the beginning.
func (fl *follower) restart() {
	fl.close()
	fl.ident = nil
	fl.offset = 0
	fl.pending = fl.pending[:0]
	fl.t.reset()
}

func (fl *follower) close() {
	if fl.f != nil {
		_ = fl.f.Close()
		fl.f = nil
	}
}

func (fl *follower) readPos() int64 {
	return fl.offset + int64(len(fl.pending))
}

// consume emits every complete line in pending+data and keeps the remainder.
func (fl *follower) consume(data []byte, emit func(string)) {
	fl.pending = append(fl.pending, data...)
	for {
		i := bytes.IndexByte(fl.pending, '\n')
		if i < 0 {
			break
		}
		line := fl.pending[:i]
		fl.offset += int64(i + 1)
		emit(decodeLine(line))
		fl.pending = fl.pending[i+1:]
	}
	// compact so the backing array does not grow without bound
	fl.pending = append([]byte(nil), fl.pending...)
	fl.t.setOffset(fl.offset)
}

func decodeLine(b []byte) string {
	s := strings.TrimRight(string(b), "\r")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return s
}

// sleepCtx waits for d, an early wake-up, or cancellation. It returns false
// when ctx is done.
func sleepCtx(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}
