package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONFormatEmitsOneRecordPerLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})
	l.WithComponent("kernel").Info("tick", "time", 1.5)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if record["component"] != "kernel" {
		t.Fatalf("expected component field, got %+v", record)
	}
	if record["message"] != "tick" {
		t.Fatalf("expected message field, got %+v", record)
	}
}

func TestDebugSuppressedBelowInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})
	l.Debug("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected debug record to be suppressed at info level, got %q", buf.String())
	}
}

func TestConsoleFormatIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatConsole, Output: &buf})
	l.Info("hello world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected console output to contain the message, got %q", buf.String())
	}
}
