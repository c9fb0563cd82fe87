package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupScopesComponent(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "debug")
	New("coordinator").Debug("submitted", "id", "abc")

	out := buf.String()
	if !strings.Contains(out, "component=coordinator") || !strings.Contains(out, "id=abc") {
		t.Fatalf("unexpected log output: %q", out)
	}

	buf.Reset()
	SetLevel("error")
	New("coordinator").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
}

func TestOrDiscard(t *testing.T) {
	OrDiscard(nil).Error("nowhere")
	l := New("x")
	if OrDiscard(l) != l {
		t.Fatal("expected the same logger back")
	}
}
