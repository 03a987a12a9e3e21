// Package looper runs queued work on a single dedicated goroutine and lets
// code detect whether it is executing on that goroutine.
//
// The main looper plays the role of the UI thread: work posted to it must be
// short, and blocking calls must refuse to run on it.
package looper

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

const queueSize = 64

// Looper executes posted functions in order on the goroutine that called Loop.
type Looper struct {
	queue chan func()
	quit  chan struct{}
	once  sync.Once

	// gid is the goroutine running Loop, 0 while not looping.
	gid atomic.Int64
}

// New creates a looper. Nothing runs until Loop is called.
func New() *Looper {
	return &Looper{
		queue: make(chan func(), queueSize),
		quit:  make(chan struct{}),
	}
}

// Loop binds the looper to the calling goroutine and runs posted functions
// until Quit is called or ctx is cancelled. The looper is quit when Loop
// returns either way, so later Posts report false.
func (l *Looper) Loop(ctx context.Context) error {
	l.gid.Store(goid.Get())
	defer l.gid.Store(0)
	defer l.Quit()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			l.drain()
			return nil
		case fn := <-l.queue:
			fn()
		}
	}
}

// drain runs whatever was posted before Quit.
func (l *Looper) drain() {
	for {
		select {
		case fn := <-l.queue:
			fn()
		default:
			return
		}
	}
}

// Post queues fn for execution on the looper goroutine. It returns false if
// the looper has quit.
func (l *Looper) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Quit stops the loop after pending work has run. Safe to call repeatedly.
func (l *Looper) Quit() {
	l.once.Do(func() { close(l.quit) })
}

// IsCurrentThread reports whether the caller runs on the looper goroutine.
func (l *Looper) IsCurrentThread() bool {
	id := l.gid.Load()
	return id != 0 && id == goid.Get()
}

var mainLooper atomic.Pointer[Looper]

// PrepareMainLooper installs a fresh process-wide main looper and returns it.
func PrepareMainLooper() *Looper {
	l := New()
	mainLooper.Store(l)
	return l
}

// MainLooper returns the main looper, or nil if none was prepared.
func MainLooper() *Looper {
	return mainLooper.Load()
}

// OnMainThread reports whether the caller runs on the main looper goroutine.
func OnMainThread() bool {
	l := MainLooper()
	return l != nil && l.IsCurrentThread()
}
