// Package process spawns one child wired to a six-channel hex-stream
// fabric (pkg/channelset) and a draining StreamController (pkg/stream),
// presenting the result as the single object spec.md §4.F's component F
// describes: start, wait, signal, and query, with no caller-visible
// difference between the POSIX and Windows bootstrap paths.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/channelset"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/stream"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/tap"
)

// Config describes a process to spawn.
type Config struct {
	Path string
	Args []string
	Env  []string // nil inherits the current process's environment
	Dir  string

	// BufferSize overrides the default per-channel ring buffer capacity.
	BufferSize int

	// Foreground records whether the child was spawned as a foreground
	// job. Spawning does not depend on it: every child gets its own
	// process group (see PGID). See pkg/job and pkg/ptyutil for the
	// terminal arbitration protocol itself.
	Foreground bool

	// OnData observes bytes as they are drained off any output channel.
	OnData func(idx channelset.Index, data []byte)

	// OnStopped is invoked whenever the kernel reports the child as
	// stopped (WIFSTOPPED on POSIX) without having exited — Ctrl+Z
	// forwarded as SIGTSTP, a direct job-control stop, or the job
	// stopping itself. Not called on Windows, which has no
	// stopped-but-alive wait status.
	OnStopped func()

	// OnContinued is invoked whenever the kernel reports the child as
	// continued (WIFCONTINUED) after a prior stop. Not called on
	// Windows.
	OnContinued func()
}

// Process is a spawned child plus its I/O fabric.
type Process struct {
	cfg       Config
	set       *channelset.Set
	streams   *stream.Controller
	telemetry io.WriteCloser

	mu       sync.Mutex
	cmd      *exec.Cmd
	pid      int
	exited   atomic.Bool
	exitCode atomic.Int32
	waitErr  error
	waitDone chan struct{}
}

// Start creates the channel fabric, spawns the child, and begins
// draining its output. On any failure before or during spawn, every
// endpoint created so far is closed and no Process is returned — spec.md
// §7's "no job created on bootstrap failure" invariant.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	set, err := channelset.New()
	if err != nil {
		return nil, err
	}

	p := &Process{cfg: cfg, set: set, waitDone: make(chan struct{})}
	p.exitCode.Store(-1)

	if err := p.spawn(); err != nil {
		set.Close()
		return nil, err
	}

	// The parent's copy of every child-side endpoint must go the instant
	// spawn returns, success or failure: the child already has its own
	// copy from exec/CreateProcess, and a surviving parent copy of an
	// output channel's write end would keep that pipe open after the
	// child exits, starving the drainers of EOF forever.
	if err := set.CloseChildSideOnParent(); err != nil {
		set.Close()
		return nil, fmt.Errorf("process: close child-side endpoints: %w", err)
	}

	opts := []stream.Option{}
	if cfg.OnData != nil {
		opts = append(opts, stream.WithDataCallback(cfg.OnData))
	}
	p.streams = stream.New(set, cfg.BufferSize, opts...)

	telemetryLogger := tap.Logger(ctx).With("pid", p.pid, "channel", tap.ChannelTag(channelset.Telemetry))
	p.telemetry = tap.WithStructuredLogger(tap.WithLogger(ctx, telemetryLogger))
	p.streams.AddDataObserver(func(idx channelset.Index, data []byte) {
		if idx == channelset.Telemetry {
			_, _ = p.telemetry.Write(data)
		}
	})

	p.streams.Start(ctx)

	go p.reap()

	return p, nil
}

// reap drives the platform's waitLoop, which is responsible for calling
// finishExited exactly once when the child actually terminates. On
// POSIX this loop also reports intermediate stop/continue transitions
// (spec.md §4.H's ChildStop kernel event) without ending the wait; on
// Windows there is no stopped-but-not-exited state to observe and the
// loop reduces to a single blocking wait.
func (p *Process) reap() {
	p.waitLoop()
}

// finishExited records a child's terminal status exactly once and
// unblocks every Wait call. It does not wait for the drainers; callers
// that need buffered output fully flushed should also wait on
// Streams().ActiveWorkerCount() reaching 0, or call Wait, which does
// both.
func (p *Process) finishExited(code int32, waitErr error) {
	p.mu.Lock()
	p.waitErr = waitErr
	p.mu.Unlock()

	p.exitCode.Store(code)
	p.exited.Store(true)
	close(p.waitDone)

	if p.telemetry != nil {
		p.telemetry.Close()
	}
}

// Wait blocks until the child has exited and its drainers have
// delivered EOF, bounded by ctx.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.waitDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.streams.Stop(ctx)
}

// PID returns the child's process ID.
func (p *Process) PID() int { return p.pid }

// PGID returns the child's process group ID. Every Process is spawned
// as its own group leader, so this always equals PID on POSIX hosts;
// it exists as a distinct accessor so callers express intent (signaling
// the whole group) rather than relying on that equality.
func (p *Process) PGID() int { return p.pid }

// Exited reports whether the OS process has terminated.
func (p *Process) Exited() bool { return p.exited.Load() }

// ExitCode returns the stored exit code; valid once Exited is true.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// Streams returns the I/O controller for this child.
func (p *Process) Streams() *stream.Controller { return p.streams }

// Signal sends an OS signal to the child process alone; SignalGroup (in
// the platform-specific files) targets its process group where supported.
func (p *Process) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process: not started")
	}
	return p.cmd.Process.Signal(sig)
}

// Kill is a best-effort forced termination, retried with the platform's
// ultimate-termination signal if the child hasn't exited within grace.
func (p *Process) Kill(grace time.Duration) error {
	if err := p.signalTerminate(); err != nil {
		return err
	}
	select {
	case <-p.waitDone:
		return nil
	case <-time.After(grace):
	}
	return p.signalKill()
}
