package dictionary

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanaime/internal/metrics"
)

func newSQLiteStore(t *testing.T, entries []Entry, opts StoreOptions) *Store {
	t.Helper()
	b := openTestSQLite(t)
	if len(entries) > 0 {
		_, err := b.Import(context.Background(), entries)
		require.NoError(t, err)
	}
	s, err := NewStore(b, opts)
	require.NoError(t, err)
	return s
}

// failingBackend fails every lookup and counts calls.
type failingBackend struct {
	EmptyBackend
	calls atomic.Int64
}

var errBackendDown = errors.New("backend down")

func (f *failingBackend) Exact(context.Context, string, int) ([]string, error) {
	f.calls.Add(1)
	return nil, errBackendDown
}

func (f *failingBackend) Prefix(context.Context, string, int) ([]string, error) {
	f.calls.Add(1)
	return nil, errBackendDown
}

func (f *failingBackend) Learn(context.Context, string, string, time.Time) error {
	f.calls.Add(1)
	return errBackendDown
}

func TestStoreQueryEmptyReading(t *testing.T) {
	backends := []Backend{EmptyBackend{}, &failingBackend{}}
	flat, err := NewFlatBackend(sampleEntries, nil, 0)
	require.NoError(t, err)
	backends = append(backends, flat, openTestSQLite(t))

	for _, b := range backends {
		s, err := NewStore(b, StoreOptions{CacheSize: 16})
		require.NoError(t, err)
		got := s.Query(context.Background(), "")
		assert.NotNil(t, got, b.Name())
		assert.Empty(t, got, b.Name())
	}
}

func TestStoreQueryBaselineAndTiers(t *testing.T) {
	s := newSQLiteStore(t, sampleEntries, StoreOptions{})

	got := s.Query(context.Background(), "きょう")
	assert.Equal(t, []string{"きょう", "キョウ", "今日", "京", "京都", "教会", "境界"}, got)
}

func TestStoreQueryBaselineAlwaysPresent(t *testing.T) {
	s, err := NewStore(&failingBackend{}, StoreOptions{})
	require.NoError(t, err)

	got := s.Query(context.Background(), "ねこ")
	assert.Equal(t, []string{"ねこ", "ネコ"}, got)
}

func TestStoreQueryStaticFallback(t *testing.T) {
	s, err := NewStore(EmptyBackend{}, StoreOptions{})
	require.NoError(t, err)

	got := s.Query(context.Background(), "きょう")
	assert.Equal(t, []string{"きょう", "キョウ", "今日", "京都"}, got)

	got = s.Query(context.Background(), "ありがとうございます")
	assert.Equal(t, []string{"ありがとうございます", "アリガトウゴザイマス", "有難うございます"}, got)
}

func TestStoreQueryNoFallbackWithRealMatches(t *testing.T) {
	s := newSQLiteStore(t, []Entry{{Reading: "わたし", Word: "渡し", Cost: 10}}, StoreOptions{})

	got := s.Query(context.Background(), "わたし")
	assert.Equal(t, []string{"わたし", "ワタシ", "渡し"}, got)
}

func TestStoreQueryCap(t *testing.T) {
	var entries []Entry
	for i := 0; i < 40; i++ {
		entries = append(entries, Entry{Reading: "し", Word: fmt.Sprintf("exact%02d", i), Cost: i})
		entries = append(entries, Entry{Reading: fmt.Sprintf("し%02d", i), Word: fmt.Sprintf("prefix%02d", i), Cost: i})
	}
	s := newSQLiteStore(t, entries, StoreOptions{})

	got := s.Query(context.Background(), "し")
	require.Len(t, got, DefaultLimit)
	assert.Equal(t, "し", got[0])
	assert.Equal(t, "シ", got[1])
	assert.Equal(t, "exact00", got[2])
	assert.Equal(t, "exact39", got[41])
	assert.Equal(t, "prefix00", got[42])

	seen := make(map[string]bool)
	for _, w := range got {
		assert.False(t, seen[w], "duplicate candidate %q", w)
		seen[w] = true
	}
}

func TestStoreLearningMonotonicity(t *testing.T) {
	s := newSQLiteStore(t, sampleEntries, StoreOptions{CacheSize: 16})
	ctx := context.Background()

	rank := func(word string) int {
		return slices.Index(s.Query(ctx, "きょう"), word)
	}

	for _, w := range []string{"京", "境界", "今日"} {
		before := rank(w)
		require.GreaterOrEqual(t, before, 0)
		s.RecordSelection(ctx, "きょう", w)
		after := rank(w)
		assert.LessOrEqual(t, after, before, "rank of %s got worse", w)
	}

	// Repeated selections float 京 above the cheaper 今日.
	s.RecordSelection(ctx, "きょう", "京")
	s.RecordSelection(ctx, "きょう", "京")
	got := s.Query(ctx, "きょう")
	assert.Equal(t, "京", got[2])
}

func TestStoreCacheInvalidatedByLearning(t *testing.T) {
	m := metrics.NewCollector("test")
	s := newSQLiteStore(t, sampleEntries, StoreOptions{CacheSize: 16, Metrics: m})
	ctx := context.Background()

	first := s.Query(ctx, "きょう")
	second := s.Query(ctx, "きょう")
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))

	// Mutating a returned slice must not leak into the cache.
	second[2] = "changed"
	assert.Equal(t, first, s.Query(ctx, "きょう"))

	s.RecordSelection(ctx, "きょう", "京")
	after := s.Query(ctx, "きょう")
	assert.Equal(t, "京", after[2])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LearnWrites))
}

func TestStoreConcurrentRecordSelection(t *testing.T) {
	b := openTestSQLite(t)
	_, err := b.Import(context.Background(), sampleEntries)
	require.NoError(t, err)
	s, err := NewStore(b, StoreOptions{CacheSize: 16})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.RecordSelection(ctx, "きょう", "京")
				s.Query(ctx, "きょう")
			}
		}()
	}
	wg.Wait()

	rec, err := b.LearnRecord(ctx, "きょう", "京")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 160, rec.Freq)
}

func TestStoreBreakerOpensAndDegrades(t *testing.T) {
	b := &failingBackend{}
	m := metrics.NewCollector("test")
	s, err := NewStore(b, StoreOptions{BreakerFailures: 2, BreakerTimeout: time.Hour, Metrics: m})
	require.NoError(t, err)
	ctx := context.Background()

	// The first query trips the breaker (exact + prefix both fail).
	got := s.Query(ctx, "がっこう")
	assert.Equal(t, []string{"がっこう", "ガッコウ", "学校"}, got)
	calls := b.calls.Load()
	assert.Equal(t, int64(2), calls)

	// Open circuit: the backend is no longer called, results still degrade
	// to the baseline plus static candidates.
	got = s.Query(ctx, "がっこう")
	assert.Equal(t, []string{"がっこう", "ガッコウ", "学校"}, got)
	s.RecordSelection(ctx, "がっこう", "学校")
	assert.Equal(t, calls, b.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendFailures.WithLabelValues("exact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendFailures.WithLabelValues("learn")))
}

func TestStoreImportSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "words.tsv")
	writeFile(t, src, "ねこ\t猫\t10\n")

	s := newSQLiteStore(t, nil, StoreOptions{CacheSize: 16})
	ctx := context.Background()

	assert.Equal(t, []string{"ねこ", "ネコ"}, s.Query(ctx, "ねこ"))

	res, err := s.ImportSource(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, []string{"ねこ", "ネコ", "猫"}, s.Query(ctx, "ねこ"))

	// Same content again is skipped.
	res, err = s.ImportSource(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.Unchanged)

	writeFile(t, src, "ねこ\t猫\t10\nねこ\t寝子\t20\n")
	res, err = s.ImportSource(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.Unchanged)
	assert.Equal(t, []string{"ねこ", "ネコ", "猫", "寝子"}, s.Query(ctx, "ねこ"))
}

func TestStoreImportUnsupported(t *testing.T) {
	s, err := NewStore(EmptyBackend{}, StoreOptions{})
	require.NoError(t, err)
	_, err = s.Import(context.Background(), sampleEntries)
	assert.Error(t, err)
}
