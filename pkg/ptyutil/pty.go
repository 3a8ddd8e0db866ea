// Package ptyutil provides PTY allocation/resizing and, on POSIX hosts,
// the controlling-terminal ownership transfer a job-control shell needs
// to move the terminal between itself and whichever job is in the
// foreground (spec.md §4.G's terminal arbitration requirement).
package ptyutil

import (
	"fmt"
	"os"

	creackpty "github.com/creack/pty"
)

// Open allocates a new PTY pair.
func Open() (master, slave *os.File, err error) {
	master, slave, err = creackpty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("ptyutil: open: %w", err)
	}
	return master, slave, nil
}

// Resize sets a PTY's window size.
func Resize(pty *os.File, cols, rows uint16) error {
	return creackpty.Setsize(pty, &creackpty.Winsize{Cols: cols, Rows: rows})
}

// Size returns a PTY's current window size.
func Size(pty *os.File) (cols, rows uint16, err error) {
	ws, err := creackpty.GetsizeFull(pty)
	if err != nil {
		return 0, 0, fmt.Errorf("ptyutil: getsize: %w", err)
	}
	return ws.Cols, ws.Rows, nil
}
