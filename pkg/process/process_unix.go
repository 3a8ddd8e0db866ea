//go:build unix

package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// spawn launches the child on a POSIX host. The six channels are wired
// via channelset.ApplyToCmd, which relies on os/exec's ExtraFiles
// convention (fd 3, 4, 5 in slice order) to realize spec.md §4.E's
// POSIX bootstrap contract with no manual descriptor duplication.
func (p *Process) spawn() error {
	cmd := exec.Command(p.cfg.Path, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = p.cfg.Env
	p.set.ApplyToCmd(cmd)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	p.cmd = cmd
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process: start %s: %w", p.cfg.Path, err)
	}
	p.pid = cmd.Process.Pid
	return nil
}

// pgid returns the child's process group id, which equals its pid given
// Setpgid above.
func (p *Process) pgid() (int, error) {
	return syscall.Getpgid(p.pid)
}

// SignalGroup delivers sig to the child's whole process group rather
// than just the group leader, so job-control signals (SIGTSTP, SIGINT)
// reach every descendant the child may have forked, the way a real
// terminal driver's signal generation does (spec.md §4.H: "forward
// stop to the group").
func (p *Process) SignalGroup(sig os.Signal) error {
	ss, ok := sig.(syscall.Signal)
	if !ok {
		return p.Signal(sig)
	}
	pgid, err := p.pgid()
	if err != nil {
		return p.Signal(sig)
	}
	return syscall.Kill(-pgid, ss)
}

func (p *Process) signalTerminate() error {
	pgid, err := p.pgid()
	if err != nil {
		return p.Signal(syscall.SIGTERM)
	}
	return syscall.Kill(-pgid, syscall.SIGTERM)
}

func (p *Process) signalKill() error {
	pgid, err := p.pgid()
	if err != nil {
		return p.Signal(syscall.SIGKILL)
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// waitLoop reaps the child directly with wait4(WUNTRACED|WCONTINUED)
// instead of exec.Cmd.Wait, which only ever reports termination. A
// job-control shell has to learn about a stop (Ctrl+Z, or a background
// job's SIGTTIN when it tries to read the controlling terminal) the
// moment the kernel reports it, not only when the child eventually
// exits — spec.md §4.H's ChildStop kernel event and the background-read
// suspension scenario in §8 both depend on this. Calling wait4 directly
// on p.pid is safe precisely because exec.Cmd.Wait is never also called
// on this child: there is exactly one reaper.
func (p *Process) waitLoop() {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(p.pid, &ws, unix.WUNTRACED|unix.WCONTINUED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.finishExited(-1, err)
			return
		}

		switch {
		case ws.Exited():
			p.finishExited(int32(ws.ExitStatus()), nil)
			return
		case ws.Signaled():
			p.finishExited(int32(128+int(ws.Signal())), nil)
			return
		case ws.Stopped():
			if p.cfg.OnStopped != nil {
				p.cfg.OnStopped()
			}
		case ws.Continued():
			if p.cfg.OnContinued != nil {
				p.cfg.OnContinued()
			}
		}
	}
}
