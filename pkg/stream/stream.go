// Package stream aggregates one child's ChannelSet, its output Drainers,
// and per-channel ring buffers into the single object a job interacts
// with: write input, read buffered output, and learn how much has moved
// without ever touching a raw file descriptor. This is component D of
// spec.md §4 (StreamController).
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/drain"
)

// DefaultBufferSize is the per-channel ring buffer capacity when the
// caller does not override it.
const DefaultBufferSize = 64 * 1024

// Controller owns the drainers and ring buffers for one child process.
// It does not own the child itself (see pkg/process); it only knows
// about the ChannelSet passed to New.
type Controller struct {
	set     *channelset.Set
	sinks   [channelset.Count]*teeSink
	workers map[channelset.Index]*drain.Drainer

	foreground atomic.Bool

	obsMu     sync.Mutex
	observers []func(channelset.Index, []byte)

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	eg       *errgroup.Group
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithDataCallback registers an initial observer, equivalent to calling
// AddDataObserver once Controller exists. Kept as a construction-time
// Option so New's caller doesn't need a separate statement for the
// common single-observer case.
func WithDataCallback(fn func(idx channelset.Index, data []byte)) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// AddDataObserver registers fn alongside any observer already
// registered — spec.md's on_data(callback) appends to a callback list
// rather than replacing a single slot, so more than one caller (a UI
// mirror, a telemetry-channel log adapter, a byte counter) can watch
// the same running child independently. Safe to call before or after
// Start, and from any goroutine. Panics inside fn are recovered so one
// bad observer cannot take down a drainer.
func (c *Controller) AddDataObserver(fn func(idx channelset.Index, data []byte)) {
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

func (c *Controller) notify(idx channelset.Index, p []byte) {
	c.obsMu.Lock()
	obs := c.observers
	c.obsMu.Unlock()
	for _, fn := range obs {
		func(fn func(channelset.Index, []byte)) {
			defer func() { recover() }()
			fn(idx, p)
		}(fn)
	}
}

// New builds ring buffers for the four output channels but does not yet start
// draining; call Start once the child has been spawned.
func New(set *channelset.Set, bufferSize int, opts ...Option) *Controller {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	c := &Controller{set: set, workers: make(map[channelset.Index]*drain.Drainer)}
	for _, i := range [...]channelset.Index{
		channelset.ControlOut, channelset.ControlErr,
		channelset.Telemetry, channelset.DataOut,
	} {
		c.sinks[i] = &teeSink{ring: newRingSink(bufferSize, channelset.DefaultOverflowPolicy(i))}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches one Drainer goroutine per output channel against the
// parent-side file descriptors in set. ctx governs their lifetime;
// cancelling it ends all workers within one drain.PollTimeout. Stop
// instead waits for each worker's EOF and cancels only once its own ctx
// is done.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	eg, ctx := errgroup.WithContext(ctx)
	c.eg = eg

	for _, idx := range channelset.OutputChannels {
		idx := idx
		sink := c.observingSink(idx)
		w := drain.New(ctx, idx, c.set.ParentFile(idx), sink)
		c.workers[idx] = w
		eg.Go(func() error {
			<-w.Done()
			if err := w.Err(); err != nil {
				return fmt.Errorf("stream: channel %s: %w", idx, err)
			}
			return nil
		})
	}
}

// observingSink wraps a channel's teeSink so every Write also notifies
// every registered observer, current at call time — observers may be
// added for the lifetime of the Controller, not just at construction.
func (c *Controller) observingSink(idx channelset.Index) drain.Sink {
	return sinkFunc(func(p []byte) (int, error) {
		c.notify(idx, p)
		return c.sinks[idx].Write(p)
	})
}

type sinkFunc func(p []byte) (int, error)

func (f sinkFunc) Write(p []byte) (int, error) { return f(p) }

// SetForeground toggles whether ControlOut/ControlErr are additionally
// mirrored to a live terminal writer. pass is nil to detach.
func (c *Controller) SetForeground(fg bool, pass func(idx channelset.Index, p []byte)) {
	c.foreground.Store(fg)
	for _, idx := range [...]channelset.Index{channelset.ControlOut, channelset.ControlErr} {
		idx := idx
		if !fg || pass == nil {
			c.sinks[idx].setPassthrough(nil)
			continue
		}
		c.sinks[idx].setPassthrough(func(p []byte) { pass(idx, p) })
	}
}

// WriteInput writes to the child's control-input (stdin) channel.
func (c *Controller) WriteInput(p []byte) (int, error) {
	return c.set.ParentFile(channelset.ControlIn).Write(p)
}

// WriteData writes to the child's data-in channel.
func (c *Controller) WriteData(p []byte) (int, error) {
	return c.set.ParentFile(channelset.DataIn).Write(p)
}

// CloseInput closes the parent's write end of control-input, delivering
// EOF to the child.
func (c *Controller) CloseInput() error {
	return c.set.ParentFile(channelset.ControlIn).Close()
}

// CloseData closes the parent's write end of data-in.
func (c *Controller) CloseData() error {
	return c.set.ParentFile(channelset.DataIn).Close()
}

// ReadBuffered drains up to len(out) bytes already captured for the
// given channel. idx must be one of the four output channels.
func (c *Controller) ReadBuffered(idx channelset.Index, out []byte) (int, error) {
	s := c.sinks[idx]
	if s == nil {
		return 0, fmt.Errorf("stream: channel %s has no buffer", idx)
	}
	return s.ring.Read(out), nil
}

// Available reports how many buffered bytes are waiting on a channel.
func (c *Controller) Available(idx channelset.Index) int {
	if s := c.sinks[idx]; s != nil {
		return s.ring.Available()
	}
	return 0
}

// HasPending reports whether any output channel has buffered data.
func (c *Controller) HasPending() bool {
	for _, s := range c.sinks {
		if s != nil && s.ring.Available() > 0 {
			return true
		}
	}
	return false
}

// FlushBuffers drains every remaining buffered byte off every output
// channel's ring, invoking the registered data callback for each chunk
// pulled, and returns the total number of bytes flushed. This is the
// last step a caller takes before discarding a Controller, so no bytes
// a child already wrote are silently lost once draining stops.
func (c *Controller) FlushBuffers() int {
	buf := make([]byte, 32*1024)
	total := 0
	for idx, s := range c.sinks {
		if s == nil {
			continue
		}
		for {
			n := s.ring.Read(buf)
			if n == 0 {
				break
			}
			total += n
			c.notify(channelset.Index(idx), buf[:n])
		}
	}
	return total
}

// DroppedBytes returns the drop counter of channel idx. Only the
// telemetry channel has a Drop overflow policy by default, so the other
// channels report 0.
func (c *Controller) DroppedBytes(idx channelset.Index) uint64 {
	if s := c.sinks[idx]; s != nil {
		return s.ring.Dropped()
	}
	return 0
}

// TotalBytesTransferred sums bytes copied across all output drainers.
func (c *Controller) TotalBytesTransferred() uint64 {
	var total uint64
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.workers {
		total += w.BytesTransferred()
	}
	return total
}

// ActiveWorkerCount reports how many drainer goroutines are still
// running.
func (c *Controller) ActiveWorkerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.workers {
		if w.Active() {
			n++
		}
	}
	return n
}

// Stop waits for every drainer to reach its own natural EOF — so a
// child's last write, still sitting unread in its pipe the instant it
// exits, is drained into the ring rather than lost — bounded by ctx.
// Only once ctx is actually exceeded does Stop fall back to cancelling
// the drainers outright; ctx is a deadline on this wait, not the normal
// trigger for it. Safe to call more than once.
func (c *Controller) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		eg := c.eg
		c.mu.Unlock()

		if cancel == nil {
			return
		}

		done := make(chan error, 1)
		go func() { done <- eg.Wait() }()

		select {
		case err = <-done:
		case <-ctx.Done():
			// Every drainer is still alive and ctx is genuinely
			// exhausted: unblock any Write stuck on a full Block-policy
			// ring, then cancel the read loops and wait for them to
			// actually exit (bounded by drain.PollTimeout, not ctx,
			// since ctx has nothing left to give).
			c.mu.Lock()
			for _, s := range c.sinks {
				if s != nil {
					s.ring.close()
				}
			}
			c.mu.Unlock()
			cancel()
			err = <-done
		}

		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}

var _ io.Writer = (*Controller)(nil)

// Write satisfies io.Writer by writing to control-input, so a Controller
// can be used directly as a terminal's input sink.
func (c *Controller) Write(p []byte) (int, error) { return c.WriteInput(p) }
