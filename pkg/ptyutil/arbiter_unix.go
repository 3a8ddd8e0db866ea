//go:build unix

package ptyutil

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Arbiter owns the controlling terminal's foreground process group and
// mode across handoffs between the shell and whichever job currently
// owns the terminal. There is exactly one Arbiter per shell session,
// wrapping the fd the shell itself was started on (typically os.Stdin).
type Arbiter struct {
	fd int

	mu        sync.Mutex
	shellPgid int
	savedMode *term.State
}

// NewArbiter records the shell's own process group as the terminal's
// initial owner.
func NewArbiter(tty *os.File) (*Arbiter, error) {
	fd := int(tty.Fd())
	pgid, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil {
		return nil, fmt.Errorf("ptyutil: read initial foreground pgid: %w", err)
	}
	return &Arbiter{fd: fd, shellPgid: pgid}, nil
}

// TransferTo gives the terminal to pgid, the process group of a job
// being brought to the foreground. SIGTTOU is ignored for the duration
// of the call: a background-group process attempting TIOCSPGRP would
// otherwise be stopped by its own request (POSIX's documented
// self-inflicted-SIGTTOU pitfall for exactly this ioctl).
func (a *Arbiter) TransferTo(pgid int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setForegroundPgid(pgid)
}

// Reclaim returns the terminal to the shell's own process group, the
// mirror operation run after a foreground job stops, exits, or is
// backgrounded.
func (a *Arbiter) Reclaim() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setForegroundPgid(a.shellPgid)
}

func (a *Arbiter) setForegroundPgid(pgid int) error {
	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)

	if err := unix.IoctlSetInt(a.fd, unix.TIOCSPGRP, pgid); err != nil {
		return fmt.Errorf("ptyutil: set foreground pgid %d: %w", pgid, err)
	}
	return nil
}

// SaveMode captures the terminal's current mode as the shell's own
// baseline (normally called once, at shell startup, before the first
// job ever takes the foreground).
func (a *Arbiter) SaveMode() error {
	state, err := a.CaptureMode()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.savedMode = state
	a.mu.Unlock()
	return nil
}

// RestoreMode restores the terminal to the shell's own baseline mode
// captured by SaveMode, undoing whatever a foreground job left behind
// (raw mode, disabled echo, and so on) before the shell reclaims the
// prompt.
func (a *Arbiter) RestoreMode() error {
	a.mu.Lock()
	state := a.savedMode
	a.mu.Unlock()
	if state == nil {
		return nil
	}
	return a.Restore(state)
}

// CaptureMode snapshots the terminal's current mode without storing it
// on the Arbiter, so a caller can stash it elsewhere — a per-job saved
// mode, for instance, taken the moment a foreground job is stopped, so
// whatever mode it left the terminal in (spec.md §4.G: "save the job's
// terminal modes") can later be handed back when that job is
// foregrounded again.
func (a *Arbiter) CaptureMode() (*term.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, err := term.GetState(a.fd)
	if err != nil {
		return nil, fmt.Errorf("ptyutil: capture terminal mode: %w", err)
	}
	return state, nil
}

// Restore applies a previously captured mode, such as one returned by
// CaptureMode. Unlike RestoreMode, the caller supplies which snapshot
// to apply, so this also serves foreground(job_id)'s "restore its
// terminal modes" step for a specific job rather than the shell's own.
func (a *Arbiter) Restore(state *term.State) error {
	if state == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := term.Restore(a.fd, state); err != nil {
		return fmt.Errorf("ptyutil: restore terminal mode: %w", err)
	}
	return nil
}
