//go:build unix

package job

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/process"
)

func TestSpawnForegroundThenChildExitTerminates(t *testing.T) {
	t.Parallel()
	var transitions []State
	m := NewManager(nil, func(j *Job, from, to State) { transitions = append(transitions, to) })

	j, err := m.Spawn(context.Background(), process.Config{Path: "/bin/echo", Args: []string{"hi"}}, true)
	if err != nil {
		t.Fatal(err)
	}
	if j.State() != Foreground {
		t.Fatalf("expected Foreground immediately after spawn, got %s", j.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for j.State() != Terminated && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if j.State() != Terminated {
		t.Fatalf("expected Terminated after child exit, got %s", j.State())
	}
}

func TestSpawnBackgroundThenForegroundThenCtrlC(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)

	j, err := m.Spawn(context.Background(), process.Config{Path: "/bin/sleep", Args: []string{"5"}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if j.State() != Background {
		t.Fatalf("expected Background, got %s", j.State())
	}

	if err := m.ToForeground(j.ID); err != nil {
		t.Fatal(err)
	}
	if j.State() != Foreground {
		t.Fatalf("expected Foreground after ToForeground, got %s", j.State())
	}
	if m.Foreground() != j {
		t.Fatalf("expected manager to track foreground job")
	}

	if err := m.HandleCtrlC(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for j.State() != Terminated && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if j.State() != Terminated {
		t.Fatalf("expected Terminated after ctrl-c, got %s", j.State())
	}
	if m.Foreground() != nil {
		t.Fatalf("expected no foreground job after termination")
	}
}

func TestHandleCtrlZStopsForegroundJob(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)

	j, err := m.Spawn(context.Background(), process.Config{Path: "/bin/sleep", Args: []string{"5"}}, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.HandleCtrlZ(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for j.State() != Stopped && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if j.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", j.State())
	}

	if err := m.Terminate(j.ID); err != nil {
		t.Fatal(err)
	}
}

func TestJobsListsInIDOrder(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)

	var ids []int
	for i := 0; i < 3; i++ {
		j, err := m.Spawn(context.Background(), process.Config{Path: "/bin/true"}, false)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, j.ID)
	}

	jobs := m.Jobs()
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	for i, j := range jobs {
		if j.ID != ids[i] {
			t.Fatalf("jobs[%d].ID = %d, want %d", i, j.ID, ids[i])
		}
	}
}

func TestStopDetectsKernelChildStopWithoutShellSignal(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)

	j, err := m.Spawn(context.Background(), process.Config{Path: "/bin/sleep", Args: []string{"5"}}, true)
	if err != nil {
		t.Fatal(err)
	}

	// Stop the child directly, bypassing HandleCtrlZ entirely, so the
	// Stopped transition can only come from process_unix.go's wait4
	// loop observing WIFSTOPPED on its own.
	if err := j.proc.SignalGroup(syscall.SIGSTOP); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for j.State() != Stopped && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if j.State() != Stopped {
		t.Fatalf("expected Stopped from kernel-detected stop alone, got %s", j.State())
	}

	if err := m.Terminate(j.ID); err != nil {
		t.Fatal(err)
	}
}

func TestWaitReturnsExitCode(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)

	j, err := m.Spawn(context.Background(), process.Config{Path: "/bin/true"}, false)
	if err != nil {
		t.Fatal(err)
	}

	code, err := m.Wait(j.ID, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("exit code: got %d, want 0", code)
	}
}

func TestShutdownKillsAllLiveJobs(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)

	var jobs []*Job
	for i := 0; i < 2; i++ {
		j, err := m.Spawn(context.Background(), process.Config{Path: "/bin/sleep", Args: []string{"30"}}, false)
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, j)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	for _, j := range jobs {
		if j.State() != Terminated {
			t.Fatalf("job %d: expected Terminated after Shutdown, got %s", j.ID, j.State())
		}
	}
}
