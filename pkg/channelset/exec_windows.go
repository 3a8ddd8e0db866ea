//go:build windows

package channelset

import (
	"syscall"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/bootstrap"
)

// markInheritable clears the HANDLE_FLAG_INHERIT restriction Go sets by
// default on files it opens, so the handle survives CreateProcess. Go's
// os.Pipe handles are created non-inheritable; spec.md §4.E's Windows
// path inherits exactly the three extended handles via an explicit
// whitelist, never the whole handle table.
func markInheritable(h syscall.Handle) error {
	const (
		handleFlagInherit = 0x00000001
	)
	return syscall.SetHandleInformation(h, handleFlagInherit, handleFlagInherit)
}

// WindowsExtendedHandles prepares the three extended channels (telemetry,
// data-in, data-out) for inheritance and returns both the handle map to
// publish via bootstrap.EnvVar and the whitelist to pass through
// STARTUPINFOEX's PROC_THREAD_ATTRIBUTE_HANDLE_LIST. Channels 0-2 are
// wired the conventional way, through STARTUPINFO's Std{Input,Output,Error}
// fields, and are not part of this map.
func (s *Set) WindowsExtendedHandles() (bootstrap.Map, []syscall.Handle, error) {
	extended := [...]Index{Telemetry, DataIn, DataOut}

	m := make(bootstrap.Map, 0, len(extended))
	whitelist := make([]syscall.Handle, 0, len(extended))

	for _, i := range extended {
		h := syscall.Handle(s.ChildFile(i).Fd())
		if err := markInheritable(h); err != nil {
			return nil, nil, err
		}
		m = append(m, bootstrap.Entry{Index: int(i), Handle: uint64(h)})
		whitelist = append(whitelist, h)
	}
	return m, whitelist, nil
}

// StdHandles returns the three conventional handles for STARTUPINFO's
// Std{Input,Output,Error} fields, marking each inheritable in turn.
func (s *Set) StdHandles() (stdin, stdout, stderr syscall.Handle, err error) {
	in := syscall.Handle(s.ChildFile(ControlIn).Fd())
	out := syscall.Handle(s.ChildFile(ControlOut).Fd())
	errH := syscall.Handle(s.ChildFile(ControlErr).Fd())
	for _, h := range []syscall.Handle{in, out, errH} {
		if e := markInheritable(h); e != nil {
			return 0, 0, 0, e
		}
	}
	return in, out, errH, nil
}
