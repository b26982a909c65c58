package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromContext_IncludesImportID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")

	ctx := WithImportID(context.Background(), "imp-42")
	WithFields(ctx, "entity", "contacts").Info("import started")

	out := buf.String()
	if !strings.Contains(out, `"import_id":"imp-42"`) {
		t.Errorf("log line missing import_id: %s", out)
	}
	if !strings.Contains(out, `"entity":"contacts"`) {
		t.Errorf("log line missing entity: %s", out)
	}
}

func TestImportID_Empty(t *testing.T) {
	if got := ImportID(context.Background()); got != "" {
		t.Errorf("ImportID() = %q, want empty", got)
	}
}
