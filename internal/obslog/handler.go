// Package obslog provides the structured log/slog handler used across the
// module. Grounded on win30221-genesis's pkg/monitor.CustomHandler,
// generalized from a hardcoded "llm_debug_dir" context key to a run-id
// context key so every log line emitted while a graph run is in flight can
// be grepped by run_id without passing it explicitly at every call site.
package obslog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

func defaultWriter() io.Writer {
	return os.Stderr
}

type runIDKey struct{}

// WithRunID returns a context carrying runID for Handler to surface on every
// log line emitted through it.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Handler implements slog.Handler with a terse "[time] [level] [run_id] msg
// key=val" line format.
type Handler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

// NewHandler constructs a Handler writing to w.
func NewHandler(w io.Writer, opts slog.HandlerOptions) *Handler {
	return &Handler{w: w, opts: opts}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	fmt.Fprintf(buf, "[%s] [%s]", r.Time.Format("2006-01-02 15:04:05"), r.Level)

	if runID := runIDFrom(ctx); runID != "" {
		fmt.Fprintf(buf, " [%s]", runID)
	}

	fmt.Fprintf(buf, " %s", r.Message)

	for _, a := range h.attrs {
		appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")
	_, err := h.w.Write(buf.Bytes())
	return err
}

func appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{w: h.w, opts: h.opts, attrs: merged}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}

// LevelFromString maps a config-file log level name to a slog.Level,
// defaulting to Info for anything unrecognised.
func LevelFromString(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a Handler as the default slog logger at the given level.
func Setup(levelStr string) {
	handler := NewHandler(defaultWriter(), slog.HandlerOptions{Level: LevelFromString(levelStr)})
	slog.SetDefault(slog.New(handler))
}
