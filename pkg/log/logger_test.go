package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, Options{Service: "minerd", Version: "1.0.0", Level: "info", Format: "json"})

	l.WithComponent("engine").WithJob("job-7").LogShareSubmission("job-7", "000000000000002a", "submitted")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	for key, want := range map[string]any{
		"service":   "minerd",
		"version":   "1.0.0",
		"component": "engine",
		"job_id":    "job-7",
		"status":    "submitted",
		"msg":       "share submission",
	} {
		if rec[key] != want {
			t.Errorf("%s = %v, want %v", key, rec[key], want)
		}
	}
}

func TestLogger_DebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, Options{Level: "info", Format: "text"})
	l.LogStratumMessage("in", `{"id":1}`)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestLogger_WithErrorNil(t *testing.T) {
	l := NewDiscard()
	if l.WithError(nil) != l {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogThroughput_ZeroElapsed(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, Options{Format: "json"})
	l.LogThroughput("hash", 100, 0)
	if !strings.Contains(buf.String(), `"throughput_ops_sec":0`) {
		t.Errorf("unexpected line %q", buf.String())
	}
}

func TestNewWithOptions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "minerd.log")
	l, err := NewWithOptions(Options{Service: "minerd", Level: "info", File: path})
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}
	l.Info("hello file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), "hello file") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("log file %s does not contain record: %q", path, data)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
