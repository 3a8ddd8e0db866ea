package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/process"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/ptyutil"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/tap"
)

// Job is one entry in a Manager's table: a spawned process plus its
// position in the job-control state machine.
type Job struct {
	ID     int
	Config process.Config

	proc *process.Process

	mu       sync.Mutex
	state    State
	termMode *term.State // saved terminal mode, set while Stopped (spec.md §3)
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Process returns the job's underlying spawned process.
func (j *Job) Process() *process.Process { return j.proc }

// PID returns the job's child process ID.
func (j *Job) PID() int { return j.proc.PID() }

func (j *Job) apply(ev Event) (State, State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	from := j.state
	to, err := Transition(from, ev)
	if err != nil {
		return from, from, err
	}
	j.state = to
	return from, to, nil
}

// StatusChangeFunc observes every completed job transition.
type StatusChangeFunc func(j *Job, from, to State)

// Manager owns the table of jobs a shell front-end is driving and the
// terminal arbitration between them. A nil arbiter is valid for
// non-interactive use (e.g. running as a subprocess with no controlling
// terminal); terminal handoffs are then simply skipped.
type Manager struct {
	arbiter *ptyutil.Arbiter
	onStat  StatusChangeFunc

	mu         sync.Mutex
	jobs       map[int]*Job
	nextID     int
	foreground *Job
}

// NewManager creates an empty job table. arbiter may be nil.
func NewManager(arbiter *ptyutil.Arbiter, onStatusChange StatusChangeFunc) *Manager {
	return &Manager{arbiter: arbiter, onStat: onStatusChange, jobs: make(map[int]*Job)}
}

// Spawn starts cfg as a new job, foreground if fg is true, and begins
// monitoring it for exit. The returned Job is already registered in the
// table before Spawn returns.
func (m *Manager) Spawn(ctx context.Context, cfg process.Config, fg bool) (*Job, error) {
	cfg.Foreground = fg

	// j is captured by the stop callback below before the process even
	// exists: a child can report WIFSTOPPED the instant after it's
	// spawned, and the callback must already have something to drive
	// the ChildStop transition on (spec.md §4.H / §8's background-read
	// suspension scenario — the shell never sends a signal for this).
	j := &Job{Config: cfg}
	jobLog := func() *slog.Logger { return tap.Logger(ctx).With("job_id", j.ID) }
	userOnStopped := cfg.OnStopped
	cfg.OnStopped = func() {
		if userOnStopped != nil {
			userOnStopped()
		}
		if err := m.transition(j, ChildStop); err != nil {
			// A manual HandleCtrlZ may already have driven the job to
			// Stopped via its own CtrlZ event before the kernel's
			// WIFSTOPPED report arrives here; that race is expected,
			// not a bug, so it's not worth a warning.
			if j.State() != Stopped {
				jobLog().Warn("job stop transition rejected", "error", err)
			}
			return
		}
		jobLog().Info("job stopped", "pid", j.PID())
	}
	userOnContinued := cfg.OnContinued
	cfg.OnContinued = func() {
		if userOnContinued != nil {
			userOnContinued()
		}
		jobLog().Debug("job continued", "pid", j.PID())
	}

	proc, err := process.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	j.proc = proc

	ev := SpawnBg
	if fg {
		ev = Spawn
	}
	if _, _, err := j.apply(ev); err != nil {
		proc.Kill(0)
		return nil, err
	}

	m.mu.Lock()
	m.nextID++
	j.ID = m.nextID
	m.jobs[j.ID] = j
	if fg {
		m.foreground = j
	}
	m.mu.Unlock()

	if fg {
		m.takeTerminal(j, false)
	}

	jobLog().Info("job spawned", "pid", proc.PID(), "path", cfg.Path, "state", j.State().String())

	go m.monitor(ctx, j)
	return j, nil
}

// monitor waits for a job's process to exit and drives the resulting
// ChildExit transition, mirroring the supervisor's wait-then-react loop:
// one goroutine per child, reacting to exactly one terminal event.
func (m *Manager) monitor(ctx context.Context, j *Job) {
	jobLog := tap.Logger(ctx).With("job_id", j.ID)
	j.proc.Wait(context.Background())
	if err := m.transition(j, ChildExit); err != nil {
		jobLog.Warn("job exit transition rejected", "error", err)
	}
	jobLog.Info("job exited", "exit_code", j.proc.ExitCode())
}

// transition applies ev to j, notifies onStat, and reclaims the
// terminal if j was the foreground job and left that state.
func (m *Manager) transition(j *Job, ev Event) error {
	from, to, err := j.apply(ev)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}

	m.mu.Lock()
	wasForeground := m.foreground == j
	if to != Foreground {
		if wasForeground {
			m.foreground = nil
		}
	} else {
		m.foreground = j
	}
	m.mu.Unlock()

	if wasForeground && to != Foreground {
		m.releaseTerminal(j, to == Stopped)
	}
	if to == Foreground {
		m.takeTerminal(j, from == Stopped)
	}

	if m.onStat != nil {
		func() {
			defer func() { recover() }()
			m.onStat(j, from, to)
		}()
	}
	return nil
}

// takeTerminal transfers terminal ownership to j. If fromStopped, j's
// own mode — captured by releaseTerminal the moment it was last
// stopped — is restored first, so the terminal comes back exactly as
// the job left it rather than in the shell's mode (spec.md §4.G:
// "restore its terminal modes, transfer ownership to it").
func (m *Manager) takeTerminal(j *Job, fromStopped bool) {
	if m.arbiter == nil {
		return
	}
	if fromStopped {
		j.mu.Lock()
		mode := j.termMode
		j.termMode = nil
		j.mu.Unlock()
		_ = m.arbiter.Restore(mode)
	}
	_ = m.arbiter.TransferTo(j.proc.PGID())
}

// releaseTerminal reclaims the terminal for the shell. If toStopped, j's
// current mode is captured first (spec.md §4.G: "transfer terminal
// ownership back to the shell, save the job's terminal modes, restore
// the shell's modes") so takeTerminal can hand it back intact next time
// this job is foregrounded.
func (m *Manager) releaseTerminal(j *Job, toStopped bool) {
	if m.arbiter == nil {
		return
	}
	_ = m.arbiter.Reclaim()
	if toStopped {
		if mode, err := m.arbiter.CaptureMode(); err == nil {
			j.mu.Lock()
			j.termMode = mode
			j.mu.Unlock()
		}
	}
	_ = m.arbiter.RestoreMode()
}

// Lookup returns the job with the given ID, if any.
func (m *Manager) Lookup(id int) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Jobs returns a snapshot of every job currently in the table, in
// ascending ID order.
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for id := 1; id <= m.nextID; id++ {
		if j, ok := m.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out
}

// Foreground returns the current foreground job, if any.
func (m *Manager) Foreground() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foreground
}

// Forget removes a job from the table. Callers should only do this once
// a job is Terminated and its exit status has been consumed, the same
// discipline a shell applies before reusing a job-table slot.
func (m *Manager) Forget(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ToForeground brings a background or stopped job to the foreground,
// resuming it with SIGCONT if it was stopped.
func (m *Manager) ToForeground(id int) error {
	j, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("job: no such job %d", id)
	}
	wasStopped := j.State() == Stopped
	if wasStopped {
		if err := j.proc.SignalGroup(syscall.SIGCONT); err != nil {
			return err
		}
	}
	return m.transition(j, FgCmd)
}

// ToBackground sends a job to the background, resuming it with SIGCONT
// if it was stopped.
func (m *Manager) ToBackground(id int) error {
	j, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("job: no such job %d", id)
	}
	wasStopped := j.State() == Stopped
	if err := m.transition(j, BgCmd); err != nil {
		return err
	}
	if wasStopped {
		return j.proc.SignalGroup(syscall.SIGCONT)
	}
	return nil
}

// HandleCtrlC delivers SIGINT to the foreground job's process group and
// drives its Terminated transition. A no-op if nothing is foreground.
func (m *Manager) HandleCtrlC() error {
	j := m.Foreground()
	if j == nil {
		return nil
	}
	if err := j.proc.SignalGroup(syscall.SIGINT); err != nil {
		return err
	}
	return m.transition(j, CtrlC)
}

// HandleCtrlZ delivers SIGTSTP to the foreground job's process group and
// drives its Stopped transition, reclaiming the terminal for the shell.
func (m *Manager) HandleCtrlZ() error {
	j := m.Foreground()
	if j == nil {
		return nil
	}
	if err := j.proc.SignalGroup(syscall.SIGTSTP); err != nil {
		return err
	}
	return m.transition(j, CtrlZ)
}

// Stop delivers SIGTSTP to an arbitrary job's process group, whether or
// not it is currently foreground — the programmatic equivalent of
// Ctrl+Z aimed at a specific job rather than whichever one owns the
// terminal (spec.md §4.H's `stop(job_id)`).
func (m *Manager) Stop(id int) error {
	j, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("job: no such job %d", id)
	}
	if err := j.proc.SignalGroup(syscall.SIGTSTP); err != nil {
		return err
	}
	// ChildStop transitions to Stopped from both Foreground and
	// Background (the table's CtrlZ row has the identical target), so
	// one event covers a job-wide stop regardless of which state it's
	// currently in.
	return m.transition(j, ChildStop)
}

// Terminate force-kills a job regardless of its current state.
func (m *Manager) Terminate(id int) error {
	j, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("job: no such job %d", id)
	}
	return j.proc.Kill(0)
}

// Wait blocks until job id's process has exited and its drainers have
// finished, or timeout elapses, returning its exit code (spec.md §4.H's `wait(job_id, timeout)`).
// timeout <= 0 means wait indefinitely.
func (m *Manager) Wait(id int, timeout time.Duration) (int, error) {
	j, ok := m.Lookup(id)
	if !ok {
		return -1, fmt.Errorf("job: no such job %d", id)
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := j.proc.Wait(ctx); err != nil {
		return -1, err
	}
	return j.proc.ExitCode(), nil
}

// Shutdown force-kills every live job, reaps them, joins their
// drainers, and releases the terminal back to its original mode —
// the sequence spec.md §5 requires of a manager tearing down: "Process
// terminates all live jobs (force kill), reaps, joins all Drainers,
// restores terminal modes if changed, then returns."
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, j := range m.Jobs() {
		if j.State() == Terminated {
			continue
		}
		_ = j.proc.Kill(0)
	}

	var firstErr error
	for _, j := range m.Jobs() {
		if err := j.proc.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		// monitor applies ChildExit on its own goroutine once the process
		// is reaped; wait for it so every job is Terminated on return.
		for j.State() != Terminated && ctx.Err() == nil {
			time.Sleep(time.Millisecond)
		}
	}

	if m.arbiter != nil {
		if err := m.arbiter.RestoreMode(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = m.arbiter.Reclaim()
	}
	return firstErr
}
