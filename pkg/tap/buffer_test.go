package tap

import (
	"context"
	"log/slog"
	"testing"
)

func TestBufferHandlerFiltersByJobAndChannel(t *testing.T) {
	buf := newLogBuffer(16)
	logger := slog.New(newBufferHandler(buf))

	logger.With("job_id", 1).Info("job one event")
	logger.With("job_id", 2, "channel", "stddbg").Info("job two telemetry")
	logger.Info("shell event")

	all := buf.Snapshot(10, slog.LevelDebug, 0, "")
	if len(all) != 3 {
		t.Fatalf("want 3 entries, got %d", len(all))
	}
	// newest first
	if all[0].Message != "shell event" {
		t.Fatalf("want newest entry first, got %q", all[0].Message)
	}

	job2 := buf.Snapshot(10, slog.LevelDebug, 2, "")
	if len(job2) != 1 || job2[0].JobID != 2 {
		t.Fatalf("want 1 entry for job 2, got %v", job2)
	}

	telemetry := buf.Snapshot(10, slog.LevelDebug, 0, "stddbg")
	if len(telemetry) != 1 || telemetry[0].Channel != "stddbg" {
		t.Fatalf("want 1 telemetry entry, got %v", telemetry)
	}
}

func TestBufferHandlerRespectsMinLevel(t *testing.T) {
	buf := newLogBuffer(16)
	logger := slog.New(newBufferHandler(buf))

	logger.Debug("debug line")
	logger.Warn("warn line")

	warnOnly := buf.Snapshot(10, slog.LevelWarn, 0, "")
	if len(warnOnly) != 1 || warnOnly[0].Message != "warn line" {
		t.Fatalf("want only the warn entry, got %v", warnOnly)
	}
}

func TestTeeHandlerFansOutToBothChildren(t *testing.T) {
	buf := newLogBuffer(16)
	var stdoutCount int
	countingHandler := countHandler{n: &stdoutCount}

	h := newTeeHandler(countingHandler, newBufferHandler(buf))
	logger := slog.New(h)

	logger.Info("one event")

	if stdoutCount != 1 {
		t.Fatalf("want stdout-side handler invoked once, got %d", stdoutCount)
	}
	if len(buf.Snapshot(10, slog.LevelDebug, 0, "")) != 1 {
		t.Fatal("want buffer-side handler to also record the event")
	}
}

type countHandler struct{ n *int }

func (countHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h countHandler) Handle(context.Context, slog.Record) error {
	*h.n++
	return nil
}
func (h countHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h countHandler) WithGroup(string) slog.Handler       { return h }
