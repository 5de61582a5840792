package dictionary

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"kanaime/internal/watcher"
)

// ChainConfig selects the backends tried at startup.
type ChainConfig struct {
	// SQLitePath is the structured store. Empty skips it.
	SQLitePath string
	// SourcePath is a TSV dictionary source. It seeds an empty SQLite store
	// and backs the flat backend.
	SourcePath string
	// JournalPath persists learning for the flat backend. Empty keeps
	// learning in memory only.
	JournalPath string
	MaxPerKey   int
	Logger      *slog.Logger
}

// OpenChain returns the first backend that can be opened: the SQLite store
// (seeded from the TSV source when empty), then the flat TSV table, then an
// empty backend. It never fails; every skipped link is logged.
func OpenChain(ctx context.Context, cfg ChainConfig) Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dictionary")

	if cfg.SQLitePath != "" {
		b, err := openSQLiteLink(ctx, cfg, logger)
		if err == nil {
			return b
		}
		logger.Warn("sqlite dictionary unavailable", "path", cfg.SQLitePath, "error", err)
	}

	if cfg.SourcePath != "" {
		var journal *LearnJournal
		if cfg.JournalPath != "" {
			j, err := NewLearnJournal(cfg.JournalPath)
			if err != nil {
				logger.Warn("learn journal unavailable", "path", cfg.JournalPath, "error", err)
			} else if moved, err := j.Recover(time.Now()); err != nil {
				logger.Warn("learn journal unreadable, learning kept in memory", "path", cfg.JournalPath, "error", err)
			} else {
				if moved != "" {
					logger.Warn("learn journal corrupt, starting fresh", "path", cfg.JournalPath, "moved_to", moved)
				}
				journal = j
			}
		}

		b, stats, err := OpenFlatFile(cfg.SourcePath, journal, cfg.MaxPerKey)
		if err == nil {
			logger.Info("flat dictionary loaded",
				"path", cfg.SourcePath, "entries", stats.Entries, "skipped", stats.Skipped)
			return b
		}
		logger.Warn("flat dictionary unavailable", "path", cfg.SourcePath, "error", err)
	}

	logger.Warn("no dictionary available, using static candidates only")
	return EmptyBackend{}
}

func openSQLiteLink(ctx context.Context, cfg ChainConfig, logger *slog.Logger) (Backend, error) {
	b, err := OpenSQLite(cfg.SQLitePath, cfg.MaxPerKey)
	if err != nil {
		return nil, err
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		b.Close()
		return nil, err
	}

	if stats.Entries == 0 && cfg.SourcePath != "" {
		res, err := ImportSource(ctx, b, cfg.SourcePath)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("seed from source: %w", err)
		}
		logger.Info("sqlite dictionary seeded",
			"path", cfg.SQLitePath, "source", cfg.SourcePath,
			"entries", res.Imported, "skipped", res.Parse.Skipped)
		return b, nil
	}

	logger.Info("sqlite dictionary opened",
		"path", cfg.SQLitePath, "entries", stats.Entries, "readings", stats.Readings)
	return b, nil
}

// ImportResult reports the outcome of ImportSource.
type ImportResult struct {
	Parse    ParseStats
	Imported int
	Hash     string
	// Unchanged is set when the source matches the last import and was
	// not loaded again.
	Unchanged bool
}

// ImportSource parses the TSV at path and loads it into imp. For SQLite
// backends the source hash is remembered, and a source identical to the
// last imported one is skipped.
func ImportSource(ctx context.Context, imp Importer, path string) (ImportResult, error) {
	var res ImportResult

	sum, _, err := watcher.HashFile(path)
	if err != nil {
		return res, fmt.Errorf("hash dictionary source: %w", err)
	}
	res.Hash = hex.EncodeToString(sum[:])

	db, isSQLite := imp.(*SQLiteBackend)
	if isSQLite {
		prev, err := db.Meta(ctx, MetaSourceHash)
		if err != nil {
			return res, err
		}
		if prev == res.Hash {
			res.Unchanged = true
			return res, nil
		}
	}

	entries, stats, err := ParseTSVFile(path)
	res.Parse = stats
	if err != nil {
		return res, err
	}

	n, err := imp.Import(ctx, entries)
	res.Imported = n
	if err != nil {
		return res, err
	}

	if isSQLite {
		if err := db.SetMeta(ctx, MetaSourceHash, res.Hash); err != nil {
			return res, err
		}
	}
	return res, nil
}
