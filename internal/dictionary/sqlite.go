package dictionary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// importBatchSize is the number of rows written per import transaction.
const importBatchSize = 5000

// prefixCeiling sorts after every other code point, so reading+prefixCeiling
// bounds the range of readings that start with reading.
const prefixCeiling = "\U0010FFFF"

// Meta keys stored in dictionary_meta.
const (
	MetaSourceHash = "source_hash"
	MetaImportedAt = "imported_at"
)

// SQLiteBackend stores entries and learn records in a SQLite database.
type SQLiteBackend struct {
	db        *sql.DB
	path      string
	maxPerKey int
}

// OpenSQLite opens or creates the SQLite dictionary at path and runs
// migrations. maxPerKey limits words per reading on import; zero or less
// disables the cap.
func OpenSQLite(path string, maxPerKey int) (*SQLiteBackend, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := ValidateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: path, maxPerKey: maxPerKey}, nil
}

func openDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Name implements Backend.
func (s *SQLiteBackend) Name() string { return "sqlite" }

// Path returns the database file path.
func (s *SQLiteBackend) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Exact implements Backend.
func (s *SQLiteBackend) Exact(ctx context.Context, reading string, limit int) ([]string, error) {
	query, args, err := sq.Select("e.word").
		From("entries e").
		LeftJoin("learn l ON l.reading = e.reading AND l.word = e.word").
		Where(sq.Eq{"e.reading": reading}).
		OrderBy("IFNULL(l.freq, 0) DESC", "e.cost ASC", "e.word ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build exact query: %w", err)
	}
	return s.queryWords(ctx, query, args, 0)
}

// Prefix implements Backend.
func (s *SQLiteBackend) Prefix(ctx context.Context, reading string, limit int) ([]string, error) {
	query, args, err := sq.Select("e.word", "MIN(e.cost) AS c", "MAX(IFNULL(l.freq, 0)) AS f").
		From("entries e").
		LeftJoin("learn l ON l.reading = ? AND l.word = e.word", reading).
		Where(sq.And{
			sq.Gt{"e.reading": reading},
			sq.Lt{"e.reading": reading + prefixCeiling},
		}).
		GroupBy("e.word").
		OrderBy("f DESC", "c ASC", "e.word ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build prefix query: %w", err)
	}
	return s.queryWords(ctx, query, args, 2)
}

// queryWords collects the first column of each row; extra names the number
// of trailing integer columns selected only for ordering.
func (s *SQLiteBackend) queryWords(ctx context.Context, query string, args []interface{}, extra int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var word string
		dest := []interface{}{&word}
		for i := 0; i < extra; i++ {
			dest = append(dest, new(int64))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		words = append(words, word)
	}
	return words, rows.Err()
}

// Learn increments the frequency for (reading, word), creating the record
// with frequency 1 if absent.
func (s *SQLiteBackend) Learn(ctx context.Context, reading, word string, at time.Time) error {
	query, args, err := sq.Insert("learn").
		Columns("reading", "word", "freq", "last_used").
		Values(reading, word, 1, at.UnixMilli()).
		Suffix("ON CONFLICT(reading, word) DO UPDATE SET freq = freq + 1, last_used = excluded.last_used").
		ToSql()
	if err != nil {
		return fmt.Errorf("build learn upsert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert learn record: %w", err)
	}

	return tx.Commit()
}

// LearnRecord returns the learn record for (reading, word), or nil if the
// word was never selected.
func (s *SQLiteBackend) LearnRecord(ctx context.Context, reading, word string) (*LearnRecord, error) {
	query, args, err := sq.Select("freq", "last_used").
		From("learn").
		Where(sq.Eq{"reading": reading, "word": word}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build learn query: %w", err)
	}

	rec := &LearnRecord{Reading: reading, Word: word}
	var lastUsed int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rec.Freq, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get learn record: %w", err)
	}
	rec.LastUsed = time.UnixMilli(lastUsed)
	return rec, nil
}

// Import upserts entries in batches, keeping the minimum cost per
// (reading, word), then trims each reading to the cheapest maxPerKey words.
func (s *SQLiteBackend) Import(ctx context.Context, entries []Entry) (int, error) {
	entries = capPerReading(entries, s.maxPerKey)

	insert, _, err := sq.Insert("entries").
		Columns("reading", "word", "cost").
		Values("", "", 0).
		Suffix("ON CONFLICT(reading, word) DO UPDATE SET cost = MIN(cost, excluded.cost)").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build import upsert: %w", err)
	}

	written := 0
	for start := 0; start < len(entries); start += importBatchSize {
		end := min(start+importBatchSize, len(entries))
		if err := s.importBatch(ctx, insert, entries[start:end]); err != nil {
			return written, err
		}
		written = end
	}

	if s.maxPerKey > 0 {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM entries WHERE rowid IN (
				SELECT rowid FROM (
					SELECT rowid, ROW_NUMBER() OVER (PARTITION BY reading ORDER BY cost, word) AS rn
					FROM entries
				) WHERE rn > ?
			)`, s.maxPerKey); err != nil {
			return written, fmt.Errorf("trim entries: %w", err)
		}
	}

	if err := s.SetMeta(ctx, MetaImportedAt, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return written, err
	}

	return written, nil
}

func (s *SQLiteBackend) importBatch(ctx context.Context, insert string, batch []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.Reading, e.Word, e.Cost); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import batch: %w", err)
	}
	return nil
}

// Stats implements Backend.
func (s *SQLiteBackend) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: s.Name()}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT reading) FROM entries").Scan(&st.Entries, &st.Readings)
	if err != nil {
		return st, fmt.Errorf("count entries: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM learn").Scan(&st.LearnRecords); err != nil {
		return st, fmt.Errorf("count learn records: %w", err)
	}
	return st, nil
}

// Meta returns a dictionary_meta value, or "" if unset.
func (s *SQLiteBackend) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM dictionary_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a dictionary_meta value.
func (s *SQLiteBackend) SetMeta(ctx context.Context, key, value string) error {
	query, args, err := sq.Insert("dictionary_meta").
		Columns("key", "value", "updated_at").
		Values(key, value, time.Now().UnixNano()).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build meta upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}
