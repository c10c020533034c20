package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInitLevels(t *testing.T) {
	Init("debug", "json")
	if !L.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}

	Init("warn", "text")
	if L.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be disabled at warn")
	}
}

func TestContextLogger(t *testing.T) {
	Init("info", "text")

	custom := L.With("ticket_id", "t-1")
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Fatal("expected logger stored in context to round-trip")
	}
	if FromContext(context.Background()) != L {
		t.Fatal("expected global logger when context has none")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
