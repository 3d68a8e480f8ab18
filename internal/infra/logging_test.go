package infra

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "order_id", "o1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"order_id":"o1"`) {
		t.Fatalf("expected json attribute, got %s", out)
	}

	buf.Reset()
	NewLogger(&buf, "debug", "text").Debug("dbg")
	if !strings.Contains(buf.String(), "msg=dbg") {
		t.Fatalf("expected text output, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
