package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/ring"
)

// blockRetryInterval bounds how often a Block-policy sink rechecks for
// free space. Kept short relative to drain.PollTimeout so backpressure
// resolves promptly once the consumer catches up.
const blockRetryInterval = 2 * time.Millisecond

// ringSink adapts a ring.Buffer to drain.Sink, applying a channel's
// OverflowPolicy when the buffer is full: Block retries until space
// frees (applying backpressure all the way back to the child's write
// syscall once its pipe buffer also fills), Drop discards the remainder
// and increments a counter (spec.md §4.C / §8's drop-counter property).
type ringSink struct {
	mu      sync.Mutex
	buf     *ring.Buffer
	policy  channelset.OverflowPolicy
	dropped atomic.Uint64
	closed  atomic.Bool
}

func newRingSink(capacity int, policy channelset.OverflowPolicy) *ringSink {
	return &ringSink{buf: ring.New(capacity), policy: policy}
}

func (s *ringSink) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		s.mu.Lock()
		n := s.buf.Write(p[written:])
		s.mu.Unlock()
		written += n

		if written == len(p) {
			break
		}
		if s.policy == channelset.Drop {
			s.dropped.Add(uint64(len(p) - written))
			break
		}
		if s.closed.Load() {
			break
		}
		time.Sleep(blockRetryInterval)
	}
	return written, nil
}

func (s *ringSink) Read(out []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Read(out)
}

func (s *ringSink) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Available()
}

func (s *ringSink) Dropped() uint64 { return s.dropped.Load() }

func (s *ringSink) close() { s.closed.Store(true) }

// teeSink duplicates writes to a ring sink and, when attached, a live
// passthrough writer (the controlling terminal, while the job owns it in
// the foreground). Mirrors MultiPipe's broadcast-without-blocking shape:
// the passthrough side never backpressures the ring side.
type teeSink struct {
	ring        *ringSink
	mu          sync.RWMutex
	passthrough func(p []byte)
}

func (t *teeSink) Write(p []byte) (int, error) {
	t.mu.RLock()
	pt := t.passthrough
	t.mu.RUnlock()
	if pt != nil {
		pt(p)
	}
	return t.ring.Write(p)
}

func (t *teeSink) setPassthrough(fn func(p []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.passthrough = fn
}
