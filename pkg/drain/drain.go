// Package drain runs one worker per output channel that copies bytes out
// of the child's write end into a destination sink, bounded by a poll
// timeout so cancellation is never blocked indefinitely on a quiet pipe.
// This is the concurrent, lock-free-adjacent piece of spec.md §4.C: it
// owns no mutex, coordinates with its Sink purely through atomics and
// channel closes, and is what makes the six-channel fabric deadlock-free
// regardless of how much a child writes to any single channel.
package drain

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
)

// PollTimeout bounds how long a single read can block before the worker
// re-checks for cancellation. spec.md §4.C requires this bound to be no
// greater than 100ms; 50ms gives headroom without busy-looping.
const PollTimeout = 50 * time.Millisecond

// Sink receives bytes drained from one channel. Write must not block
// indefinitely: a ring buffer sink is expected to apply its channel's
// OverflowPolicy (Block retries with backpressure, Drop discards and
// counts) rather than stall the drainer forever.
type Sink interface {
	Write(p []byte) (n int, err error)
}

// Drainer copies one channel's child-write end into a Sink until EOF,
// a read or sink error, or its context is cancelled.
type Drainer struct {
	index   channelset.Index
	src     *os.File
	sink    Sink
	done    chan struct{}
	active  atomic.Bool
	bytes   atomic.Uint64
	lastErr atomic.Value // error
}

// New starts a Drainer goroutine immediately. ctx cancellation ends the
// worker; the worker closes done when it exits.
func New(ctx context.Context, index channelset.Index, src *os.File, sink Sink) *Drainer {
	d := &Drainer{index: index, src: src, sink: sink, done: make(chan struct{})}
	d.active.Store(true)
	go d.run(ctx)
	return d
}

func (d *Drainer) run(ctx context.Context) {
	defer close(d.done)
	defer d.active.Store(false)

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = d.src.SetReadDeadline(time.Now().Add(PollTimeout))
		n, rerr := d.src.Read(buf)
		if n > 0 {
			if _, werr := d.sink.Write(buf[:n]); werr != nil {
				d.lastErr.Store(werr)
				return
			}
			d.bytes.Add(uint64(n))
		}

		if rerr != nil {
			if isTimeout(rerr) {
				continue
			}
			if !errors.Is(rerr, io.EOF) {
				d.lastErr.Store(rerr)
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// Index reports which logical channel this worker drains.
func (d *Drainer) Index() channelset.Index { return d.index }

// Active reports whether the worker goroutine is still running.
func (d *Drainer) Active() bool { return d.active.Load() }

// BytesTransferred returns the running total of bytes copied to the sink.
func (d *Drainer) BytesTransferred() uint64 { return d.bytes.Load() }

// Err returns the terminal error that stopped the worker, if any
// (nil on a clean EOF or context cancellation).
func (d *Drainer) Err() error {
	if v := d.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done is closed when the worker goroutine has exited.
func (d *Drainer) Done() <-chan struct{} { return d.done }

// Join blocks until the worker exits or ctx is done, whichever comes
// first. Returns ctx.Err() on timeout, nil otherwise — bounded-join is
// required so shutdown never hangs on a worker stuck in the kernel
// (spec.md §8's "bounded-cancellation-join" property).
func (d *Drainer) Join(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
