//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/bootstrap"
)

// spawn launches the child on Windows. Because exec.Cmd.ExtraFiles is
// unsupported on this host family, the extended channels (telemetry,
// data-in, data-out) are published through the bootstrap.EnvVar
// environment variable as a handle map, and whitelisted for inheritance
// via STARTUPINFOEX's handle list, per spec.md §4.E's Windows path and
// the reference handle-map protocol.
func (p *Process) spawn() error {
	cmd := exec.Command(p.cfg.Path, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir

	stdin, stdout, stderr, err := p.set.StdHandles()
	if err != nil {
		return fmt.Errorf("process: prepare std handles: %w", err)
	}
	cmd.Stdin = os.NewFile(uintptr(stdin), "stdin")
	cmd.Stdout = os.NewFile(uintptr(stdout), "stdout")
	cmd.Stderr = os.NewFile(uintptr(stderr), "stderr")

	handleMap, whitelist, err := p.set.WindowsExtendedHandles()
	if err != nil {
		return fmt.Errorf("process: prepare extended handles: %w", err)
	}

	env := p.cfg.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(append([]string{}, env...), bootstrap.EnvVar+"="+handleMap.Serialize())
	cmd.Env = env

	cmd.SysProcAttr = &syscall.SysProcAttr{
		AdditionalInheritedHandles: whitelist,
	}

	p.cmd = cmd
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process: start %s: %w", p.cfg.Path, err)
	}
	p.pid = cmd.Process.Pid
	return nil
}

// SignalGroup has no POSIX process-group analog on Windows, so this
// just signals the one process; descendants are not signalled.
func (p *Process) SignalGroup(sig os.Signal) error {
	return p.Signal(sig)
}

func (p *Process) signalTerminate() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process: not started")
	}
	return p.cmd.Process.Kill()
}

func (p *Process) signalKill() error {
	return p.signalTerminate()
}

// waitLoop blocks until the child exits. Windows has no wait status
// analogous to WIFSTOPPED, so OnStopped/OnContinued are never invoked
// on this host family.
func (p *Process) waitLoop() {
	err := p.cmd.Wait()

	var code int32
	if ee, ok := err.(*exec.ExitError); ok {
		code = int32(ee.ExitCode())
	} else if err == nil {
		code = 0
	} else {
		code = -1
	}
	p.finishExited(code, err)
}
