package stream

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) emit(s string) {
	c.mu.Lock()
	c.lines = append(c.lines, s)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}
}

func TestAttachEmitsLinesInOrder(t *testing.T) {
	var c collector
	waitDone(t, Attach(strings.NewReader("one\ntwo\r\nthree"), c.emit))
	assert.Equal(t, []string{"one", "two", "three"}, c.snapshot())
}

func TestAttachKeepsEmptyLines(t *testing.T) {
	var c collector
	waitDone(t, Attach(strings.NewReader("a\n\nb\n"), c.emit))
	assert.Equal(t, []string{"a", "", "b"}, c.snapshot())
}

func TestAttachEmptyInput(t *testing.T) {
	var c collector
	waitDone(t, Attach(strings.NewReader(""), c.emit))
	assert.Empty(t, c.snapshot())
}

type failingReader struct{ sent bool }

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, "partial\nrest"), nil
	}
	return 0, errors.New("boom")
}

func TestAttachEndsSilentlyOnReadError(t *testing.T) {
	var c collector
	waitDone(t, Attach(&failingReader{}, c.emit))
	assert.Equal(t, []string{"partial", "rest"}, c.snapshot())
}

func TestAttachClosesReader(t *testing.T) {
	pr, pw := io.Pipe()
	var c collector
	done := Attach(pr, c.emit)
	_, err := pw.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	waitDone(t, done)
	assert.Equal(t, []string{"hello"}, c.snapshot())

	_, err = pw.Write([]byte("x"))
	assert.Error(t, err)
}

func TestAttachSplitsOverlongLines(t *testing.T) {
	long := strings.Repeat("x", MaxLineBytes+10)
	var c collector
	waitDone(t, Attach(strings.NewReader(long+"\nnext\n"), c.emit))
	lines := c.snapshot()
	require.Len(t, lines, 3)
	assert.Len(t, lines[0], MaxLineBytes)
	assert.Equal(t, strings.Repeat("x", 10), lines[1])
	assert.Equal(t, "next", lines[2])
}
