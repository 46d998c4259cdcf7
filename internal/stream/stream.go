// Package stream turns a child's output pipe into a sequence of lines.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// MaxLineBytes bounds a single emitted line. Longer lines are split.
const MaxLineBytes = 1 << 20

// Attach starts a goroutine that reads r line by line and calls emit for
// each line with the trailing CR/LF removed. Reading ends silently on EOF or
// on any read error; r is closed when it implements io.Closer. The returned
// channel is closed once the goroutine has finished.
func Attach(r io.Reader, emit func(string)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if c, ok := r.(io.Closer); ok {
			defer func() { _ = c.Close() }()
		}
		readLines(r, emit)
	}()
	return done
}

func readLines(r io.Reader, emit func(string)) {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		buf = append(buf, chunk...)
		if err != nil {
			if len(buf) > 0 {
				emit(trimCR(string(buf)))
			}
			return
		}
		if isPrefix {
			if len(buf) >= MaxLineBytes {
				emit(string(buf[:MaxLineBytes]))
				buf = append(buf[:0], buf[MaxLineBytes:]...)
			}
			continue
		}
		emit(trimCR(string(buf)))
		buf = buf[:0]
	}
}

func trimCR(s string) string {
	return strings.TrimRight(s, "\r")
}
