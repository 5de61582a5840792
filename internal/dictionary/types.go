// Package dictionary provides candidate lookup and usage learning for kana
// readings, backed by either a SQLite store or an in-memory flat table.
package dictionary

import (
	"context"
	"time"
)

// DefaultCost is assigned to entries whose cost is missing or malformed.
const DefaultCost = 1000

// DefaultLimit caps the number of candidates returned by a query.
const DefaultLimit = 50

// DefaultMaxPerKey caps the number of words kept per reading on import.
const DefaultMaxPerKey = 50

// Entry is one dictionary mapping from a reading to a surface word.
// Lower cost ranks higher.
type Entry struct {
	Reading string
	Word    string
	Cost    int
}

// LearnRecord counts how often a word was chosen for a reading.
type LearnRecord struct {
	Reading  string    `json:"reading"`
	Word     string    `json:"word"`
	Freq     int       `json:"freq"`
	LastUsed time.Time `json:"last_used"`
}

// Stats summarizes the contents of a backend.
type Stats struct {
	Backend      string `json:"backend"`
	Entries      int    `json:"entries"`
	Readings     int    `json:"readings"`
	LearnRecords int    `json:"learn_records"`
}

// Backend is a persisted entry table plus learning state.
//
// Exact returns words whose reading equals reading, ordered by learned
// frequency descending, then cost ascending, then word.
// Prefix returns words whose reading starts with, but is not, reading,
// grouped by word with the minimum cost and the maximum frequency learned
// for reading, ordered the same way.
type Backend interface {
	Name() string
	Exact(ctx context.Context, reading string, limit int) ([]string, error)
	Prefix(ctx context.Context, reading string, limit int) ([]string, error)
	Learn(ctx context.Context, reading, word string, at time.Time) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Importer is implemented by backends that accept bulk entry loads.
type Importer interface {
	Import(ctx context.Context, entries []Entry) (int, error)
}

func learnKey(reading, word string) string {
	return reading + "\x00" + word
}
