package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/shardlink/internal/discovery"
	"github.com/nerrad567/shardlink/internal/infrastructure/config"
	"github.com/nerrad567/shardlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/shardlink/internal/paired"
	"github.com/nerrad567/shardlink/internal/pairing/server"
)

// The daemon hands one *Logger to every component.
var (
	_ server.Logger    = (*Logger)(nil)
	_ discovery.Logger = (*Logger)(nil)
	_ paired.Logger    = (*Logger)(nil)
	_ mqtt.Logger      = (*Logger)(nil)
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("failed to parse JSON output %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestNew_OutputSelection(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json to stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text to stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"upper-case values", config.LoggingConfig{Level: "WARN", Format: "TEXT", Output: "STDERR"}},
		{"empty section", config.LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if logger := New(tt.cfg, "1.4.0"); logger == nil || logger.Logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogger_RecordCarriesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.4.0")
	logger.Info("pairing server listening", "port", 39127)

	records := decodeLines(t, &buf)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]

	if rec["service"] != "shardlink" {
		t.Errorf("service = %v, want shardlink", rec["service"])
	}
	if rec["version"] != "1.4.0" {
		t.Errorf("version = %v, want 1.4.0", rec["version"])
	}
	if rec["msg"] != "pairing server listening" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["port"] != float64(39127) {
		t.Errorf("port = %v, want 39127", rec["port"])
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.4.0")
	srvLog := logger.With("component", "pairing-server")
	if srvLog == logger {
		t.Fatal("With returned the parent logger")
	}

	srvLog.Info("peer ready", "global_id", "phone-1")
	logger.Info("configuration loaded")

	records := decodeLines(t, &buf)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0]["component"] != "pairing-server" || records[0]["service"] != "shardlink" {
		t.Errorf("child record = %v", records[0])
	}
	if _, ok := records[1]["component"]; ok {
		t.Errorf("component leaked into parent record: %v", records[1])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "1.4.0")
	logger.Debug("handshake frame read")
	logger.Info("device paired")
	logger.Warn("browse cycle skipped")

	output := buf.String()
	if strings.Contains(output, "handshake frame read") || strings.Contains(output, "device paired") {
		t.Errorf("records below warn written: %s", output)
	}
	if !strings.Contains(output, "browse cycle skipped") {
		t.Error("expected warn record in output")
	}
	if !strings.Contains(output, "service=shardlink") {
		t.Errorf("text record missing service attribute: %s", output)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("expected non-nil default logger")
	}
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("default logger enabled at debug before configuration")
	}
}
