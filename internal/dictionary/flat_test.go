package dictionary

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleEntries = []Entry{
	{Reading: "きょう", Word: "京", Cost: 300},
	{Reading: "きょう", Word: "今日", Cost: 100},
	{Reading: "きょうと", Word: "京都", Cost: 50},
	{Reading: "きょうかい", Word: "教会", Cost: 200},
	{Reading: "きょうかい", Word: "境界", Cost: 250},
	{Reading: "きょうと", Word: "京", Cost: 10},
}

func TestFlatExactAndPrefix(t *testing.T) {
	f, err := NewFlatBackend(sampleEntries, nil, 0)
	require.NoError(t, err)
	ctx := context.Background()

	exact, err := f.Exact(ctx, "きょう", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"今日", "京"}, exact)

	prefix, err := f.Prefix(ctx, "きょう", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"京", "京都", "教会", "境界"}, prefix)

	prefix, err = f.Prefix(ctx, "きょう", 2)
	require.NoError(t, err)
	assert.Len(t, prefix, 2)

	none, err := f.Exact(ctx, "ない", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFlatLearnReorders(t *testing.T) {
	f, err := NewFlatBackend(sampleEntries, nil, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.Learn(ctx, "きょう", "京", time.Now()))

	exact, err := f.Exact(ctx, "きょう", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"京", "今日"}, exact)

	rec, err := f.LearnRecord(ctx, "きょう", "京")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Freq)
}

func TestFlatConcurrentLearn(t *testing.T) {
	f, err := NewFlatBackend(sampleEntries, nil, 0)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = f.Learn(ctx, "きょう", "今日", time.Now())
				_, _ = f.Exact(ctx, "きょう", 10)
			}
		}()
	}
	wg.Wait()

	rec, err := f.LearnRecord(ctx, "きょう", "今日")
	require.NoError(t, err)
	assert.Equal(t, 500, rec.Freq)
}

func TestFlatJournalPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learn.json")
	journal, err := NewLearnJournal(path)
	require.NoError(t, err)
	ctx := context.Background()

	f, err := NewFlatBackend(sampleEntries, journal, 0)
	require.NoError(t, err)
	require.NoError(t, f.Learn(ctx, "きょう", "京", time.Now()))
	require.NoError(t, f.Learn(ctx, "きょう", "京", time.Now()))

	// A new backend over the same journal sees the learned order.
	reopened, err := NewFlatBackend(sampleEntries, journal, 0)
	require.NoError(t, err)
	rec, err := reopened.LearnRecord(ctx, "きょう", "京")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.Freq)

	exact, err := reopened.Exact(ctx, "きょう", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"京", "今日"}, exact)
}

func TestLearnJournalMissingFile(t *testing.T) {
	journal, err := NewLearnJournal(filepath.Join(t.TempDir(), "nested", "learn.json"))
	require.NoError(t, err)

	records, err := journal.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFlatImportMergesAndCaps(t *testing.T) {
	f, err := NewFlatBackend(nil, nil, 2)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := f.Import(ctx, []Entry{
		{Reading: "はし", Word: "橋", Cost: 300},
		{Reading: "はし", Word: "箸", Cost: 200},
		{Reading: "はし", Word: "端", Cost: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.Import(ctx, []Entry{{Reading: "はし", Word: "箸", Cost: 50}})
	require.NoError(t, err)

	exact, err := f.Exact(ctx, "はし", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"箸", "端"}, exact)

	st, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Backend: "flat", Entries: 2, Readings: 1}, st)
}

func TestEmptyBackend(t *testing.T) {
	var b EmptyBackend
	ctx := context.Background()

	words, err := b.Exact(ctx, "きょう", 10)
	assert.NoError(t, err)
	assert.Empty(t, words)
	words, err = b.Prefix(ctx, "きょう", 10)
	assert.NoError(t, err)
	assert.Empty(t, words)
	assert.NoError(t, b.Learn(ctx, "きょう", "今日", time.Now()))
	assert.NoError(t, b.Close())
}
