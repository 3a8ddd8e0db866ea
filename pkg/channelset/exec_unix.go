//go:build unix

package channelset

import (
	"os"
	"os/exec"
)

// ApplyToCmd wires the child-side endpoints into cmd so that, after
// exec.Cmd.Start, channel 0/1/2 land on the child's conventional stdin/
// stdout/stderr and channels 3/4/5 land on file descriptors 3, 4, 5 —
// the POSIX bootstrap contract of spec.md §4.E ("logical index equals
// host descriptor number"). os/exec already assigns ExtraFiles starting
// at fd 3 in slice order, which is exactly the hex-stream layout; no
// manual dup2 dance is needed on this host family.
func (s *Set) ApplyToCmd(cmd *exec.Cmd) {
	cmd.Stdin = s.ChildFile(ControlIn)
	cmd.Stdout = s.ChildFile(ControlOut)
	cmd.Stderr = s.ChildFile(ControlErr)
	cmd.ExtraFiles = []*os.File{
		s.ChildFile(Telemetry),
		s.ChildFile(DataIn),
		s.ChildFile(DataOut),
	}
}
