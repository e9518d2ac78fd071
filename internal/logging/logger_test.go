package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	l, closer, err := New("debug", path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	Component(l, "session").Debug("loaded", "present", true)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"component":"session"`) || !strings.Contains(line, `"msg":"loaded"`) {
		t.Fatalf("unexpected log line %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("+919876543210"); got != "*********3210" {
		t.Fatalf("MaskPhone() = %q", got)
	}
	if got := MaskPhone("12"); got != "**" {
		t.Fatalf("MaskPhone(short) = %q", got)
	}
}
