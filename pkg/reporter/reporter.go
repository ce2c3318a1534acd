// Package reporter implements the executor's status/error/log callback
// surface. The executor calls a Reporter synchronously, on the same
// goroutine that invoked Install, for every Status, Error and Log event
// it emits (spec §5, §6): TextReporter for a human running the CLI
// directly, JSONReporter for a driver parsing --json output line by
// line, NoopReporter for tests that don't care.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/frostyard/dinst/pkg/types"
)

// Reporter is the callback surface registered once before Install() runs.
// Implementations must not mutate installer state from within a callback.
type Reporter interface {
	// Step announces entry into a new executor stage at 0 percent.
	Step(step types.Step, index, total int)
	// Progress reports percent-complete within the current stage.
	Progress(step types.Step, percent int, message string)
	// Message reports an informational line not tied to a percentage.
	Message(format string, args ...any)
	// MessagePlain reports an informational line without indentation.
	MessagePlain(format string, args ...any)
	// Warning reports a recoverable problem.
	Warning(format string, args ...any)
	// Log reports a message at a given LogLevel.
	Log(level types.LogLevel, format string, args ...any)
	// Error reports a terminal failure tagged with its step and kind.
	Error(step types.Step, kind string, device string, err error)
	// Complete reports successful completion of the whole install.
	Complete(message string, details any)
	// IsJSON reports whether this Reporter emits machine-readable output.
	IsJSON() bool
}

// ---------------------------------------------------------------------------
// TextReporter
// ---------------------------------------------------------------------------

// TextReporter writes human-readable progress text to an io.Writer.
type TextReporter struct {
	w       io.Writer
	stepped bool
}

// NewTextReporter returns a TextReporter that writes to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) Step(step types.Step, index, total int) {
	if r.stepped {
		_, _ = fmt.Fprintln(r.w)
	}
	r.stepped = true
	_, _ = fmt.Fprintf(r.w, "Step %d/%d: %s...\n", index, total, step)
}

func (r *TextReporter) Progress(_ types.Step, _ int, message string) {
	if message != "" {
		_, _ = fmt.Fprintf(r.w, "  %s\n", message)
	}
}

func (r *TextReporter) Message(format string, args ...any) {
	_, _ = fmt.Fprintf(r.w, "  %s\n", fmt.Sprintf(format, args...))
}

func (r *TextReporter) MessagePlain(format string, args ...any) {
	_, _ = fmt.Fprintln(r.w, fmt.Sprintf(format, args...))
}

func (r *TextReporter) Warning(format string, args ...any) {
	_, _ = fmt.Fprintf(r.w, "Warning: %s\n", fmt.Sprintf(format, args...))
}

func (r *TextReporter) Log(level types.LogLevel, format string, args ...any) {
	_, _ = fmt.Fprintf(r.w, "[%s] %s\n", level, fmt.Sprintf(format, args...))
}

func (r *TextReporter) Error(step types.Step, kind string, device string, err error) {
	if device != "" {
		_, _ = fmt.Fprintf(r.w, "Error: %s: %s: %s: %v\n", step, kind, device, err)
		return
	}
	_, _ = fmt.Fprintf(r.w, "Error: %s: %s: %v\n", step, kind, err)
}

func (r *TextReporter) Complete(message string, _ any) {
	_, _ = fmt.Fprintln(r.w)
	_, _ = fmt.Fprintln(r.w, "=================================================================")
	_, _ = fmt.Fprintln(r.w, message)
	_, _ = fmt.Fprintln(r.w, "=================================================================")
}

func (r *TextReporter) IsJSON() bool { return false }

// ---------------------------------------------------------------------------
// JSONReporter
// ---------------------------------------------------------------------------

// JSONReporter writes JSON Lines (one types.ProgressEvent per line).
type JSONReporter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONReporter returns a JSONReporter that writes to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{encoder: json.NewEncoder(w)}
}

func (r *JSONReporter) emit(event types.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	_ = r.encoder.Encode(event)
}

func (r *JSONReporter) Step(step types.Step, index, total int) {
	r.emit(types.ProgressEvent{Type: types.EventTypeStep, Step: step, StepIndex: index, TotalSteps: total})
}

func (r *JSONReporter) Progress(step types.Step, percent int, message string) {
	r.emit(types.ProgressEvent{Type: types.EventTypeProgress, Step: step, Percent: percent, Message: message})
}

func (r *JSONReporter) Message(format string, args ...any) {
	r.emit(types.ProgressEvent{Type: types.EventTypeMessage, Message: fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) MessagePlain(format string, args ...any) {
	r.emit(types.ProgressEvent{Type: types.EventTypeMessage, Message: fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) Warning(format string, args ...any) {
	r.emit(types.ProgressEvent{Type: types.EventTypeWarning, Message: fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) Log(level types.LogLevel, format string, args ...any) {
	r.emit(types.ProgressEvent{Type: types.EventTypeMessage, Level: level, Message: fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) Error(step types.Step, kind string, device string, err error) {
	r.emit(types.ProgressEvent{
		Type:      types.EventTypeError,
		Step:      step,
		ErrorKind: kind,
		Device:    device,
		Message:   err.Error(),
	})
}

func (r *JSONReporter) Complete(message string, details any) {
	r.emit(types.ProgressEvent{Type: types.EventTypeComplete, Message: message, Details: details})
}

func (r *JSONReporter) IsJSON() bool { return true }

// ---------------------------------------------------------------------------
// NoopReporter
// ---------------------------------------------------------------------------

// NoopReporter silently discards all output.
type NoopReporter struct{}

func (NoopReporter) Step(types.Step, int, int)                        {}
func (NoopReporter) Progress(types.Step, int, string)                 {}
func (NoopReporter) Message(string, ...any)                           {}
func (NoopReporter) MessagePlain(string, ...any)                      {}
func (NoopReporter) Warning(string, ...any)                           {}
func (NoopReporter) Log(types.LogLevel, string, ...any)               {}
func (NoopReporter) Error(types.Step, string, string, error)          {}
func (NoopReporter) Complete(string, any)                             {}
func (NoopReporter) IsJSON() bool                                     { return false }
