package tail

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// waker turns filesystem events for one path into wake-ups of the idle poll.
// A nil *waker is valid and never fires.
type waker struct {
	w    *fsnotify.Watcher
	ch   chan struct{}
	done chan struct{}
}

// newWaker watches the parent directory so that creation and rename of the
// file itself are observed. It returns nil when watching is unavailable.
func newWaker(path string) *waker {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil
	}
	k := &waker{w: w, ch: make(chan struct{}, 1), done: make(chan struct{})}
	target := filepath.Clean(path)
	go func() {
		defer close(k.done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				select {
				case k.ch <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return k
}

// C returns the wake-up channel; nil for a nil waker, which blocks forever in select.
func (k *waker) C() <-chan struct{} {
	if k == nil {
		return nil
	}
	return k.ch
}

func (k *waker) Close() {
	if k == nil {
		return
	}
	_ = k.w.Close()
	<-k.done
}
