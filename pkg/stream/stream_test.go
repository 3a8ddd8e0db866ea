package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
)

func TestControllerDrainsChildWrites(t *testing.T) {
	t.Parallel()
	set, err := channelset.New()
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()

	c := New(set, 4096)
	c.Start(context.Background())

	set.ParentFile(channelset.ControlOut) // parent keeps its read end

	if _, err := set.ChildFile(channelset.ControlOut).Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	set.ChildFile(channelset.ControlOut).Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.Available(channelset.ControlOut) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	out := make([]byte, 2)
	n, err := c.ReadBuffered(channelset.ControlOut, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || string(out) != "hi" {
		t.Fatalf("got %q (%d)", out[:n], n)
	}

	// The other three channels' child write ends stay open in set, so
	// their drainers never see EOF: Stop must fall back to cancelling.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stopCancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestTelemetryDropsUnderOverflow(t *testing.T) {
	t.Parallel()
	set, err := channelset.New()
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()

	c := New(set, 8) // tiny buffer forces overflow
	c.Start(context.Background())

	payload := make([]byte, 4096)
	go func() {
		set.ChildFile(channelset.Telemetry).Write(payload)
		set.ChildFile(channelset.Telemetry).Close()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.ActiveWorkerCount() == 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if c.DroppedBytes(channelset.Telemetry) == 0 {
		t.Fatalf("expected telemetry drops under overflow")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stopCancel()
	c.Stop(stopCtx)
}

func TestForegroundPassthroughMirrorsOutput(t *testing.T) {
	t.Parallel()
	set, err := channelset.New()
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()

	c := New(set, 4096)
	c.Start(context.Background())

	var mirrored []byte
	done := make(chan struct{})
	c.SetForeground(true, func(idx channelset.Index, p []byte) {
		mirrored = append(mirrored, p...)
		close(done)
	})

	set.ChildFile(channelset.ControlOut).Write([]byte("mirror me"))
	set.ChildFile(channelset.ControlOut).Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("passthrough callback never fired")
	}
	if string(mirrored) != "mirror me" {
		t.Fatalf("got %q", mirrored)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stopCancel()
	c.Stop(stopCtx)
}

func TestFlushBuffersDrainsRemainingBytesAndInvokesCallback(t *testing.T) {
	t.Parallel()
	set, err := channelset.New()
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()

	flushed := make(map[channelset.Index][]byte)
	var mu sync.Mutex
	c := New(set, 4096, WithDataCallback(func(idx channelset.Index, p []byte) {
		mu.Lock()
		flushed[idx] = append(flushed[idx], p...)
		mu.Unlock()
	}))
	c.Start(context.Background())

	set.ChildFile(channelset.ControlOut).Write([]byte("left over"))
	set.ChildFile(channelset.ControlOut).Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.Available(channelset.ControlOut) < len("left over") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	n := c.FlushBuffers()
	if n != len("left over") {
		t.Fatalf("flushed: got %d, want %d", n, len("left over"))
	}
	if c.Available(channelset.ControlOut) != 0 {
		t.Fatalf("expected buffer empty after flush")
	}

	mu.Lock()
	got := string(flushed[channelset.ControlOut])
	mu.Unlock()
	if got != "left over" {
		t.Fatalf("callback payload: got %q", got)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stopCancel()
	c.Stop(stopCtx)
}
