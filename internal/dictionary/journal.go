package dictionary

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCorruptJournal is returned by Load when the journal cannot be decoded.
var ErrCorruptJournal = errors.New("corrupt learn journal")

// LearnJournal persists learn records for backends without their own
// storage. The whole set is rewritten on every save.
type LearnJournal struct {
	mu   sync.Mutex
	path string
}

type journalFile struct {
	Version int           `json:"version"`
	Records []LearnRecord `json:"records"`
}

const journalVersion = 1

// NewLearnJournal creates a journal at path, creating its directory.
func NewLearnJournal(path string) (*LearnJournal, error) {
	if path == "" {
		return nil, errors.New("empty journal path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &LearnJournal{path: path}, nil
}

// Path returns the journal file path.
func (j *LearnJournal) Path() string { return j.path }

// Load reads all records. A missing journal yields no records.
func (j *LearnJournal) Load() ([]LearnRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f journalFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptJournal, err)
	}
	return f.Records, nil
}

// Recover moves an undecodable journal aside so the next Save starts a
// fresh one and the old contents are kept. It returns the new name of the
// moved file, or "" when the journal was readable or missing.
func (j *LearnJournal) Recover(now time.Time) (string, error) {
	_, err := j.Load()
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, ErrCorruptJournal) {
		return "", err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	moved := fmt.Sprintf("%s.corrupt-%s", j.path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(j.path, moved); err != nil {
		return "", fmt.Errorf("move corrupt learn journal: %w", err)
	}
	return moved, nil
}

// Save replaces the journal contents with records.
func (j *LearnJournal) Save(records []LearnRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.MarshalIndent(journalFile{Version: journalVersion, Records: records}, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically using temp file + rename
	tempPath := j.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tempPath, j.path)
}
