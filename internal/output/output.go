// Package output provides consistent CLI output formatting for keep,
// adapted from the teacher's internal/output with TTY-aware color and
// the clean one-line error format spec §7 requires ("a clean one-line
// error plus a reference to a rotating error log").
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ansi color codes, applied only when useColor is true.
const (
	colorReset  = "\x1b[0m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
)

// Writer formats CLI output, switching between colored and plain text
// depending on whether out is an interactive terminal.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer that auto-detects color support from out: color
// is enabled only when out is a TTY (spec §6's ambient "color/plain
// output mode detection in the CLI output formatter").
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: isTerminal(out),
	}
}

// NewPlain creates a Writer with color forced off, for scripting/tests.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, useColor: false}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", w.colorize(colorGreen, msg))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.colorize(colorYellow, msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints a one-line error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.colorize(colorRed, msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// ErrorWithLog prints a clean one-line error followed by a pointer to
// the rotating ops log, per spec §7's CLI error surface contract.
func (w *Writer) ErrorWithLog(msg, logPath string) {
	w.Error(msg)
	_, _ = fmt.Fprintf(w.out, "   see %s for details\n", logPath)
}

// Code prints a code block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints a progress bar with message, used by data import/export.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// ProgressDone completes a progress line with newline.
func (w *Writer) ProgressDone() {
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) colorize(code, msg string) string {
	if !w.useColor {
		return msg
	}
	return code + msg + colorReset
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
