// Package logctx is a thin slog handler for the bus engine and drive serve
// loop, line-buffered and timestamped the way a terminal-attended daemon
// expects its diagnostics.
package logctx

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler writes "time level: message attr attr" lines to out, and
// additionally to stderr whenever verbose is set or the level is warning or
// above.
type Handler struct {
	out     io.Writer
	mu      *sync.Mutex
	verbose bool
	attrs   []slog.Attr
}

func (h *Handler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *Handler) WithGroup(_ string) slog.Handler { return h }

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("15:04:05.000000"), r.Level.String() + ":", r.Message}
	for _, a := range h.attrs {
		parts = append(parts, a.Key+"="+a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	})
	line := strings.Join(parts, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = io.WriteString(h.out, line)
	}
	if h.verbose || r.Level >= slog.LevelWarn {
		_, _ = io.WriteString(os.Stderr, line)
	}
	return err
}

// New builds a slog.Logger writing to out, echoing warnings and above (or
// everything, if verbose) to stderr.
func New(out io.Writer, verbose bool) *slog.Logger {
	return slog.New(&Handler{out: out, mu: &sync.Mutex{}, verbose: verbose})
}
