package dictionary

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "words.db"), DefaultMaxPerKey)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSQLiteAndClose(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "words.db"), 0)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := ValidateSchema(s.db); err != nil {
		t.Errorf("ValidateSchema failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "subdir", "nested", "words.db"), 0)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()
}

func TestCloseNilDB(t *testing.T) {
	s := &SQLiteBackend{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestMigrationStatus(t *testing.T) {
	s := openTestSQLite(t)

	status, err := GetMigrationStatus(s.db)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion {
		t.Errorf("CurrentVersion = %d, want %d", status.CurrentVersion, status.LatestVersion)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}

	if err := RollbackMigration(s.db); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}
	status, _ = GetMigrationStatus(s.db)
	if len(status.Pending) != 1 {
		t.Errorf("expected 1 pending migration after rollback, got %d", len(status.Pending))
	}

	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}
	if err := ValidateSchema(s.db); err != nil {
		t.Errorf("ValidateSchema failed: %v", err)
	}
}

func TestSQLiteExactOrdering(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	_, err := s.Import(ctx, []Entry{
		{Reading: "きょう", Word: "京", Cost: 300},
		{Reading: "きょう", Word: "今日", Cost: 100},
		{Reading: "きょう", Word: "凶", Cost: 300},
		{Reading: "きょうと", Word: "京都", Cost: 50},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	got, err := s.Exact(ctx, "きょう", 10)
	if err != nil {
		t.Fatalf("Exact failed: %v", err)
	}
	want := []string{"今日", "京", "凶"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Exact = %v, want %v", got, want)
	}

	// Learned frequency outranks cost.
	if err := s.Learn(ctx, "きょう", "凶", time.Now()); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}
	got, _ = s.Exact(ctx, "きょう", 10)
	want = []string{"凶", "今日", "京"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Exact after learn = %v, want %v", got, want)
	}

	got, _ = s.Exact(ctx, "きょう", 1)
	if len(got) != 1 {
		t.Errorf("Exact with limit 1 returned %d words", len(got))
	}
}

func TestSQLitePrefixGroupsByWord(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	_, err := s.Import(ctx, []Entry{
		{Reading: "か", Word: "蚊", Cost: 10},
		{Reading: "かい", Word: "会", Cost: 200},
		{Reading: "かいしゃ", Word: "会社", Cost: 100},
		{Reading: "かいしゃいん", Word: "会社員", Cost: 300},
		{Reading: "かいしゃ", Word: "会", Cost: 900},
		{Reading: "き", Word: "木", Cost: 1},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	got, err := s.Prefix(ctx, "かい", 10)
	if err != nil {
		t.Fatalf("Prefix failed: %v", err)
	}
	// The exact reading is excluded; 会 appears once with its min cost among
	// longer readings.
	want := []string{"会社", "会社員", "会"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Prefix = %v, want %v", got, want)
	}

	if err := s.Learn(ctx, "かい", "会社員", time.Now()); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}
	got, _ = s.Prefix(ctx, "かい", 10)
	want = []string{"会社員", "会社", "会"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Prefix after learn = %v, want %v", got, want)
	}
}

func TestSQLiteLearnCreatesAndIncrements(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	rec, err := s.LearnRecord(ctx, "わたし", "私")
	if err != nil {
		t.Fatalf("LearnRecord failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no record before learning, got %+v", rec)
	}

	first := time.UnixMilli(1_700_000_000_000)
	second := first.Add(time.Minute)
	if err := s.Learn(ctx, "わたし", "私", first); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}
	if err := s.Learn(ctx, "わたし", "私", second); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}

	rec, err = s.LearnRecord(ctx, "わたし", "私")
	if err != nil {
		t.Fatalf("LearnRecord failed: %v", err)
	}
	if rec.Freq != 2 {
		t.Errorf("Freq = %d, want 2", rec.Freq)
	}
	if !rec.LastUsed.Equal(second) {
		t.Errorf("LastUsed = %v, want %v", rec.LastUsed, second)
	}
}

func TestSQLiteConcurrentLearn(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := s.Learn(ctx, "にほん", "日本", time.Now()); err != nil {
					errs <- err
				}
				if _, err := s.Exact(ctx, "にほん", 10); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	rec, err := s.LearnRecord(ctx, "にほん", "日本")
	if err != nil {
		t.Fatalf("LearnRecord failed: %v", err)
	}
	if rec.Freq != workers*perWorker {
		t.Errorf("Freq = %d, want %d", rec.Freq, workers*perWorker)
	}
}

func TestSQLiteImportKeepsMinimumCost(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	if _, err := s.Import(ctx, []Entry{{Reading: "あめ", Word: "雨", Cost: 500}}); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if _, err := s.Import(ctx, []Entry{
		{Reading: "あめ", Word: "雨", Cost: 900},
		{Reading: "あめ", Word: "飴", Cost: 600},
	}); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	got, _ := s.Exact(ctx, "あめ", 10)
	want := []string{"雨", "飴"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Exact = %v, want %v", got, want)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Entries != 2 || st.Readings != 1 {
		t.Errorf("Stats = %+v, want 2 entries in 1 reading", st)
	}
}

func TestSQLiteImportCapsPerReading(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "words.db"), 3)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, Entry{Reading: "こう", Word: fmt.Sprintf("w%d", i), Cost: 100 - i})
	}
	if _, err := s.Import(ctx, entries); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	got, _ := s.Exact(ctx, "こう", 50)
	want := []string{"w9", "w8", "w7"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Exact = %v, want %v", got, want)
	}
}

func TestSQLiteImportBatches(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "words.db"), 0)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	n := importBatchSize*2 + 17
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{Reading: fmt.Sprintf("よみ%d", i), Word: "語", Cost: i})
	}

	written, err := s.Import(ctx, entries)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if written != n {
		t.Errorf("Import wrote %d, want %d", written, n)
	}

	st, _ := s.Stats(ctx)
	if st.Entries != n {
		t.Errorf("Entries = %d, want %d", st.Entries, n)
	}
}

func TestSQLiteMeta(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	v, err := s.Meta(ctx, MetaSourceHash)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty meta, got %q", v)
	}

	if err := s.SetMeta(ctx, MetaSourceHash, "abc"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	if err := s.SetMeta(ctx, MetaSourceHash, "def"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	v, _ = s.Meta(ctx, MetaSourceHash)
	if v != "def" {
		t.Errorf("Meta = %q, want def", v)
	}
}
