package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewPlain_NeverColorizes(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.Success("done")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("NewPlain output should not contain ANSI codes, got: %q", buf.String())
	}
}

func TestNew_BufferIsNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	if w.useColor {
		t.Error("a bytes.Buffer is not an *os.File, useColor should be false")
	}
}

func TestSuccess_ContainsCheckmark(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.Success("all good")
	if !strings.Contains(buf.String(), "✅") || !strings.Contains(buf.String(), "all good") {
		t.Errorf("expected checkmark and message, got: %q", buf.String())
	}
}

func TestWarning_ContainsIcon(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.Warning("careful")
	if !strings.Contains(buf.String(), "⚠️") {
		t.Errorf("expected warning icon, got: %q", buf.String())
	}
}

func TestError_ContainsIcon(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.Error("boom")
	if !strings.Contains(buf.String(), "❌") || !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected error icon and message, got: %q", buf.String())
	}
}

func TestErrorWithLog_PointsToLogPath(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.ErrorWithLog("embedder unavailable", "/home/user/.keep/logs/keep.log")
	out := buf.String()
	if !strings.Contains(out, "embedder unavailable") {
		t.Errorf("expected error message in output, got: %q", out)
	}
	if !strings.Contains(out, "/home/user/.keep/logs/keep.log") {
		t.Errorf("expected log path in output, got: %q", out)
	}
}

func TestStatusf_FormatsMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.Statusf("🔍", "found %d items", 3)
	if !strings.Contains(buf.String(), "found 3 items") {
		t.Errorf("expected formatted message, got: %q", buf.String())
	}
}

func TestCode_IndentsEachLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.Code("line one\nline two")
	out := buf.String()
	if !strings.Contains(out, "  line one") || !strings.Contains(out, "  line two") {
		t.Errorf("expected indented lines, got: %q", out)
	}
}

func TestRenderProgressBar_FullAndEmpty(t *testing.T) {
	if got := renderProgressBar(0, 10, 10); got != strings.Repeat("░", 10) {
		t.Errorf("expected empty bar, got: %q", got)
	}
	if got := renderProgressBar(10, 10, 10); got != strings.Repeat("█", 10) {
		t.Errorf("expected full bar, got: %q", got)
	}
}

func TestProgress_PrintsPercentage(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)
	w.Progress(5, 10, "halfway")
	if !strings.Contains(buf.String(), "50%") {
		t.Errorf("expected 50%%, got: %q", buf.String())
	}
}
