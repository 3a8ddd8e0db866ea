package tap

import (
	"context"
	"log/slog"
)

// teeHandler fans every record out to exactly two handlers: the one that
// renders for a human (stdout, text or JSON) and the one that retains
// records for later job-scoped retrieval (bufferHandler). InitLogger is
// the only constructor call site and never nests or varies the count, so
// unlike a general-purpose N-child fan-out, teeHandler has no flatten or
// variadic-child logic to keep in sync with a case nothing exercises.
type teeHandler struct {
	out, buf slog.Handler
}

func newTeeHandler(out, buf slog.Handler) slog.Handler {
	return &teeHandler{out: out, buf: buf}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.out.Enabled(ctx, level) || h.buf.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	if h.out.Enabled(ctx, r.Level) {
		firstErr = h.out.Handle(ctx, r)
	}
	if h.buf.Enabled(ctx, r.Level) {
		if err := h.buf.Handle(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{out: h.out.WithAttrs(attrs), buf: h.buf.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{out: h.out.WithGroup(name), buf: h.buf.WithGroup(name)}
}
