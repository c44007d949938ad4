package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// VMLogHandler wraps an slog.Handler and additionally writes any record
// carrying a "vm_id" attribute to that VM's process.log file, giving
// every VM Actor a per-VM log without manual instrumentation at each
// call site.
//
// Implementation follows the slog handler guide for shared state across
// WithAttrs/WithGroup: https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type VMLogHandler struct {
	slog.Handler
	logPathFunc func(vmID string) string // returns the path to a VM's process.log
	preAttrs    []slog.Attr              // attrs added via WithAttrs (needed to find "vm_id")
}

// NewVMLogHandler wraps handler, fanning out records tagged with vm_id to
// the path logPathFunc returns for that VM.
func NewVMLogHandler(wrapped slog.Handler, logPathFunc func(vmID string) string) *VMLogHandler {
	return &VMLogHandler{
		Handler:     wrapped,
		logPathFunc: logPathFunc,
	}
}

// Handle passes the record to the wrapped handler, then fans it out to
// the per-VM log file if a "vm_id" attribute is present.
func (h *VMLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var vmID string
	for _, a := range h.preAttrs {
		if a.Key == "vm_id" {
			vmID = a.Value.String()
			break
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "vm_id" {
			vmID = a.Value.String()
			return false
		}
		return true
	})

	if vmID != "" {
		h.writeToVMLog(vmID, r)
	}
	return nil
}

func (h *VMLogHandler) writeToVMLog(vmID string, r slog.Record) {
	logPath := h.logPathFunc(vmID)
	if logPath == "" {
		return
	}

	dir := filepath.Dir(logPath)

	timestamp := r.Time.Format(time.RFC3339)
	level := r.Level.String()

	var attrs []string
	for _, a := range h.preAttrs {
		if a.Key != "vm_id" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "vm_id" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
		return true
	})

	line := fmt.Sprintf("%s %s %s", timestamp, level, r.Message)
	for _, attr := range attrs {
		line += " " + attr
	}
	line += "\n"

	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("failed to create vm log directory", "path", dir, "error", err)
		return
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Warn("failed to open vm log file", "path", logPath, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		slog.Warn("failed to write to vm log file", "path", logPath, "error", err)
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *VMLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes, tracking
// them locally so "vm_id" is still found when set via With(...).
func (h *VMLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newPreAttrs := make([]slog.Attr, len(h.preAttrs), len(h.preAttrs)+len(attrs))
	copy(newPreAttrs, h.preAttrs)
	newPreAttrs = append(newPreAttrs, attrs...)

	return &VMLogHandler{
		Handler:     h.Handler.WithAttrs(attrs),
		logPathFunc: h.logPathFunc,
		preAttrs:    newPreAttrs,
	}
}

// WithGroup returns a new handler with the given group name. Groups are
// not tracked for "vm_id" lookup since it is always a top-level attr.
func (h *VMLogHandler) WithGroup(name string) slog.Handler {
	return &VMLogHandler{
		Handler:     h.Handler.WithGroup(name),
		logPathFunc: h.logPathFunc,
		preAttrs:    h.preAttrs,
	}
}
