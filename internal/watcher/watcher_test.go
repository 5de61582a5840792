package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "words.tsv")
	content := []byte("きょう\t今日\t100\n")

	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	hash1, size1, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if size1 != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size1)
	}

	hash2, _, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("second HashFile failed: %v", err)
	}
	if hash1 != hash2 {
		t.Error("same file should produce same hash")
	}

	if err := os.WriteFile(testFile, []byte("きょう\t京都\t200\n"), 0600); err != nil {
		t.Fatalf("failed to modify test file: %v", err)
	}
	hash3, _, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("third HashFile failed: %v", err)
	}
	if hash1 == hash3 {
		t.Error("different content should produce different hash")
	}
}

func TestHashFileNotFound(t *testing.T) {
	_, _, err := HashFile("/nonexistent/words.tsv")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestWatcherCreation(t *testing.T) {
	w, err := New([]string{t.TempDir()}, time.Second)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsWatcher.Close()

	if len(w.WatchedPaths()) != 1 {
		t.Errorf("expected 1 watched path, got %d", len(w.WatchedPaths()))
	}
	if w.PendingFiles() != 0 {
		t.Errorf("expected 0 pending files before start, got %d", w.PendingFiles())
	}
}

func TestWatcherStartStop(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "words.tsv")
	if err := os.WriteFile(testFile, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	w, err := New([]string{testFile}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	// Existing content is the baseline, not a change.
	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event for unchanged file: %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop watcher: %v", err)
	}
}

func TestWatcherReportsChange(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "words.tsv")
	if err := os.WriteFile(testFile, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	abs, _ := filepath.Abs(testFile)

	w, err := New([]string{testFile}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(testFile, []byte("test content"), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	select {
	case event := <-w.Events():
		if event.Path != abs {
			t.Errorf("expected path %s, got %s", abs, event.Path)
		}
		if event.Size != 12 { // "test content" = 12 bytes
			t.Errorf("expected size 12, got %d", event.Size)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestWatcherIgnoresSameContent(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "words.tsv")
	if err := os.WriteFile(testFile, []byte("same"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	w, err := New([]string{testFile}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(testFile, []byte("same"), 0600); err != nil {
		t.Fatalf("failed to rewrite test file: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event for rewrite with identical content: %s", ev.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "words.tsv")
	if err := os.WriteFile(testFile, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	w, err := New([]string{testFile}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(tmpDir, "other.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write other file: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event for unwatched file: %s", ev.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherDebounce(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := New([]string{tmpDir}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	testFile := filepath.Join(tmpDir, "debounce.tsv")

	// Write multiple times quickly
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(testFile, []byte("v"+string(rune('0'+i))), 0600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	eventCount := 0
	timeout := time.After(3 * time.Second)
	for {
		select {
		case <-w.Events():
			eventCount++
			if eventCount > 1 {
				t.Error("expected only one event due to debouncing")
				return
			}
		case <-timeout:
			if eventCount != 1 {
				t.Errorf("expected 1 event, got %d", eventCount)
			}
			return
		}
	}
}
