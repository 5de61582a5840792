package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kanaime/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(level))
		if err != nil || parsed != level {
			t.Errorf("LevelString(%v) does not round trip: %v %v", level, parsed, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("json: got %v %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("empty: got %v %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestFromSettings(t *testing.T) {
	s := config.DefaultConfig().Logging
	s.Level = "debug"
	s.Format = "json"
	s.FilePath = "/tmp/k.log"
	s.MaxSizeMB = 7

	cfg, err := FromSettings(s)
	if err != nil {
		t.Fatalf("FromSettings: %v", err)
	}
	if cfg.Level != LevelDebug || cfg.Format != FormatJSON {
		t.Errorf("level/format not applied: %v %v", cfg.Level, cfg.Format)
	}
	if cfg.FilePath != "/tmp/k.log" || cfg.MaxSize != 7 {
		t.Errorf("file settings not applied: %s %d", cfg.FilePath, cfg.MaxSize)
	}
	if !cfg.RedactText {
		t.Error("expected RedactText from defaults")
	}

	s.Level = "loud"
	if _, err := FromSettings(s); err == nil {
		t.Error("expected error for unknown level")
	}
}

func newBufferLogger(t *testing.T, redact bool) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	cfg.Writer = &buf
	cfg.RedactText = redact
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec
}

func TestRedactText(t *testing.T) {
	l, buf := newBufferLogger(t, true)
	l.Info("conversion committed", "text", "私は", "reading", "わたしは", "segments", 2)

	rec := lastRecord(t, buf)
	if rec["text"] != "len=2" {
		t.Errorf("text = %v, want len=2", rec["text"])
	}
	if rec["reading"] != "len=4" {
		t.Errorf("reading = %v, want len=4", rec["reading"])
	}
	if rec["segments"] != float64(2) {
		t.Errorf("segments = %v, want 2", rec["segments"])
	}
	if rec["component"] != "kanaime" {
		t.Errorf("component = %v", rec["component"])
	}
}

func TestRedactTextDisabled(t *testing.T) {
	l, buf := newBufferLogger(t, false)
	l.Info("conversion committed", "text", "私は", "api_key", "abc")

	rec := lastRecord(t, buf)
	if rec["text"] != "私は" {
		t.Errorf("text = %v, want plain text", rec["text"])
	}
	if rec["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v, want redacted", rec["api_key"])
	}
}

func TestShouldRedact(t *testing.T) {
	for _, key := range []string{"password", "DB_SECRET", "access_token", "Authorization"} {
		if !shouldRedact(key) {
			t.Errorf("expected %q to be redacted", key)
		}
	}
	for _, key := range []string{"session", "reading", "segment", "path"} {
		if shouldRedact(key) {
			t.Errorf("expected %q to pass through", key)
		}
	}
}

func TestSetLevel(t *testing.T) {
	l, buf := newBufferLogger(t, true)
	child := l.WithComponent("ime")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %s", buf.String())
	}

	l.SetLevel(LevelDebug)
	if l.GetLevel() != LevelDebug {
		t.Errorf("GetLevel = %v", l.GetLevel())
	}
	child.Debug("shown")
	rec := lastRecord(t, buf)
	if rec["msg"] != "shown" || rec["component"] != "ime" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestContextLogger(t *testing.T) {
	l, _ := newBufferLogger(t, true)
	ctx := ContextWithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext without logger returned nil")
	}
}

func TestFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(t.TempDir(), "logs", "kanaimed.log")

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("daemon started")
	if err := l.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "daemon started") {
		t.Errorf("log file missing record: %s", data)
	}
}

func newTestRotator(t *testing.T, compress bool) *FileRotator {
	t.Helper()
	cfg := &Config{
		FilePath:   filepath.Join(t.TempDir(), "test.log"),
		MaxSize:    1,
		MaxBackups: 2,
		Compress:   compress,
	}
	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	return r
}

func TestFileRotatorRotatesBySize(t *testing.T) {
	r := newTestRotator(t, false)
	chunk := bytes.Repeat([]byte("x"), 600*1024)

	for i := 0; i < 2; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files := r.LogFiles()
	if len(files) != 2 {
		t.Fatalf("expected current plus one rotated file, got %v", files)
	}
	info, err := os.Stat(files[0])
	if err != nil || info.Size() != int64(len(chunk)) {
		t.Errorf("current file should hold one chunk: %v %v", info, err)
	}
}

func TestFileRotatorRotatesByDay(t *testing.T) {
	r := newTestRotator(t, false)
	if _, err := r.Write([]byte("day one\n")); err != nil {
		t.Fatal(err)
	}
	r.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	if _, err := r.Write([]byte("day two\n")); err != nil {
		t.Fatal(err)
	}
	r.Close()

	if got := len(r.LogFiles()); got != 2 {
		t.Errorf("expected 2 files after day change, got %d", got)
	}
}

func TestFileRotatorCompressesAndPrunes(t *testing.T) {
	r := newTestRotator(t, true)
	chunk := bytes.Repeat([]byte("y"), 600*1024)

	for i := 0; i < 5; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	r.Close()

	rotated := r.LogFiles()[1:]
	if len(rotated) > 2 {
		t.Errorf("expected at most MaxBackups rotated files, got %v", rotated)
	}
	for _, path := range rotated {
		if !strings.HasSuffix(path, ".gz") {
			t.Errorf("rotated file not compressed: %s", path)
		}
	}
}
