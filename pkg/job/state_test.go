package job

import "testing"

func TestSpawnEntersForegroundOrBackground(t *testing.T) {
	t.Parallel()
	if s, err := Transition(None, Spawn); err != nil || s != Foreground {
		t.Fatalf("spawn: got %v, %v", s, err)
	}
	if s, err := Transition(None, SpawnBg); err != nil || s != Background {
		t.Fatalf("spawn_bg: got %v, %v", s, err)
	}
}

func TestCtrlCTerminatesForegroundNotBackground(t *testing.T) {
	t.Parallel()
	if s, err := Transition(Foreground, CtrlC); err != nil || s != Terminated {
		t.Fatalf("foreground ctrl_c: got %v, %v", s, err)
	}
	if _, err := Transition(Background, CtrlC); err == nil {
		t.Fatalf("expected ctrl_c to have no effect on a background job")
	}
}

func TestCtrlZStopsForeground(t *testing.T) {
	t.Parallel()
	if s, err := Transition(Foreground, CtrlZ); err != nil || s != Stopped {
		t.Fatalf("got %v, %v", s, err)
	}
}

func TestFgCmdResumesFromStoppedOrBackground(t *testing.T) {
	t.Parallel()
	if s, err := Transition(Stopped, FgCmd); err != nil || s != Foreground {
		t.Fatalf("stopped->fg: got %v, %v", s, err)
	}
	if s, err := Transition(Background, FgCmd); err != nil || s != Foreground {
		t.Fatalf("background->fg: got %v, %v", s, err)
	}
}

func TestTerminatedIsAbsorbing(t *testing.T) {
	t.Parallel()
	for _, ev := range []Event{Spawn, SpawnBg, CtrlC, CtrlZ, FgCmd, BgCmd, ChildExit, ChildStop, TtyRead, Timeout, Error} {
		s, err := Transition(Terminated, ev)
		if s != Terminated {
			t.Fatalf("event %s moved out of terminated to %s", ev, s)
		}
		if err == nil {
			t.Fatalf("event %s on terminated should report an error", ev)
		}
	}
}

func TestChildExitTerminatesFromAnyActiveState(t *testing.T) {
	t.Parallel()
	for _, from := range []State{Foreground, Background, Stopped} {
		s, err := Transition(from, ChildExit)
		if err != nil || s != Terminated {
			t.Fatalf("from %s: got %v, %v", from, s, err)
		}
	}
}

func TestBackgroundTtyReadStops(t *testing.T) {
	t.Parallel()
	if s, err := Transition(Background, TtyRead); err != nil || s != Stopped {
		t.Fatalf("got %v, %v", s, err)
	}
}

func TestBgCmdHasNoEffectOnForeground(t *testing.T) {
	t.Parallel()
	if _, err := Transition(Foreground, BgCmd); err == nil {
		t.Fatalf("expected bg_cmd to have no direct effect on a foreground job")
	}
}

func TestBgCmdOnBackgroundIsAValidSelfTransition(t *testing.T) {
	t.Parallel()
	if s, err := Transition(Background, BgCmd); err != nil || s != Background {
		t.Fatalf("got %v, %v", s, err)
	}
}

func TestCtrlCTerminatesStopped(t *testing.T) {
	t.Parallel()
	if s, err := Transition(Stopped, CtrlC); err != nil || s != Terminated {
		t.Fatalf("got %v, %v", s, err)
	}
}

func TestValidEventsMatchesCanTransition(t *testing.T) {
	t.Parallel()
	for _, s := range []State{None, Foreground, Background, Stopped, Terminated} {
		for _, ev := range ValidEvents(s) {
			if !CanTransition(s, ev) {
				t.Fatalf("ValidEvents(%s) included %s but CanTransition disagrees", s, ev)
			}
		}
	}
}
