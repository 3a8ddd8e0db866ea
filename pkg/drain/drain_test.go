package drain

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
)

type bufSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *bufSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *bufSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestDrainerCopiesUntilEOF(t *testing.T) {
	t.Parallel()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	sink := &bufSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(ctx, channelset.DataOut, r, sink)

	w.Write([]byte("hello world"))
	w.Close()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("drainer did not finish after writer close")
	}

	if sink.String() != "hello world" {
		t.Fatalf("got %q", sink.String())
	}
	if d.BytesTransferred() != 11 {
		t.Fatalf("bytes transferred: got %d, want 11", d.BytesTransferred())
	}
	if d.Active() {
		t.Fatalf("expected inactive after EOF")
	}
	if d.Err() != nil {
		t.Fatalf("expected nil err on clean EOF, got %v", d.Err())
	}
}

func TestDrainerSurvivesQuietPeriodsAcrossPollBoundary(t *testing.T) {
	t.Parallel()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	sink := &bufSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(ctx, channelset.Telemetry, r, sink)

	// Sleep past several poll-timeout windows before writing anything,
	// to exercise the deadline-retry loop rather than a single read.
	time.Sleep(3 * PollTimeout)
	w.Write([]byte("late"))
	w.Close()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("drainer did not finish")
	}
	if sink.String() != "late" {
		t.Fatalf("got %q", sink.String())
	}
}

func TestDrainerStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	defer r.Close()

	sink := &bufSink{}
	ctx, cancel := context.WithCancel(context.Background())

	d := New(ctx, channelset.ControlOut, r, sink)
	cancel()

	if err := d.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if d.Active() {
		t.Fatalf("expected inactive after cancel")
	}
}

func TestJoinRespectsBoundedTimeout(t *testing.T) {
	t.Parallel()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	defer r.Close()

	sink := &bufSink{}
	d := New(context.Background(), channelset.ControlErr, r, sink)

	joinCtx, joinCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer joinCancel()

	err = d.Join(joinCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
