package dictionary

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// FlatBackend holds a parsed TSV table in memory. Learn records are kept in
// memory and, when a journal is attached, persisted after every change.
type FlatBackend struct {
	mu        sync.RWMutex
	saveMu    sync.Mutex
	entries   map[string][]Entry
	readings  []string
	learn     map[string]LearnRecord
	journal   *LearnJournal
	maxPerKey int
}

// NewFlatBackend builds a backend from entries. journal may be nil.
func NewFlatBackend(entries []Entry, journal *LearnJournal, maxPerKey int) (*FlatBackend, error) {
	f := &FlatBackend{
		entries:   make(map[string][]Entry),
		learn:     make(map[string]LearnRecord),
		journal:   journal,
		maxPerKey: maxPerKey,
	}

	if journal != nil {
		records, err := journal.Load()
		if err != nil {
			return nil, fmt.Errorf("load learn journal: %w", err)
		}
		for _, r := range records {
			f.learn[learnKey(r.Reading, r.Word)] = r
		}
	}

	f.merge(entries)
	return f, nil
}

// OpenFlatFile parses a TSV file into a FlatBackend.
func OpenFlatFile(path string, journal *LearnJournal, maxPerKey int) (*FlatBackend, ParseStats, error) {
	entries, stats, err := ParseTSVFile(path)
	if err != nil {
		return nil, stats, err
	}
	f, err := NewFlatBackend(entries, journal, maxPerKey)
	return f, stats, err
}

// Name implements Backend.
func (f *FlatBackend) Name() string { return "flat" }

// Close implements Backend.
func (f *FlatBackend) Close() error { return nil }

// Import merges entries into the table, keeping minimum costs.
func (f *FlatBackend) Import(_ context.Context, entries []Entry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merge(entries)
	return len(entries), nil
}

// merge must be called with mu held for writing (or before f is shared).
func (f *FlatBackend) merge(entries []Entry) {
	for _, e := range entries {
		list := f.entries[e.Reading]
		i := slices.IndexFunc(list, func(x Entry) bool { return x.Word == e.Word })
		if i >= 0 {
			list[i].Cost = min(list[i].Cost, e.Cost)
			continue
		}
		f.entries[e.Reading] = append(list, e)
	}

	f.readings = f.readings[:0]
	for reading, list := range f.entries {
		if f.maxPerKey > 0 && len(list) > f.maxPerKey {
			slices.SortStableFunc(list, compareEntries)
			f.entries[reading] = list[:f.maxPerKey]
		}
		f.readings = append(f.readings, reading)
	}
	sort.Strings(f.readings)
}

type scored struct {
	word string
	cost int
	freq int
}

func compareScored(a, b scored) int {
	if c := cmp.Compare(b.freq, a.freq); c != 0 {
		return c
	}
	if c := cmp.Compare(a.cost, b.cost); c != 0 {
		return c
	}
	return strings.Compare(a.word, b.word)
}

func rankWords(list []scored, limit int) []string {
	slices.SortFunc(list, compareScored)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.word
	}
	return out
}

// Exact implements Backend.
func (f *FlatBackend) Exact(_ context.Context, reading string, limit int) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	list := f.entries[reading]
	out := make([]scored, 0, len(list))
	for _, e := range list {
		out = append(out, scored{word: e.Word, cost: e.Cost, freq: f.learn[learnKey(reading, e.Word)].Freq})
	}
	return rankWords(out, limit), nil
}

// Prefix implements Backend.
func (f *FlatBackend) Prefix(_ context.Context, reading string, limit int) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	byWord := make(map[string]*scored)
	start := sort.SearchStrings(f.readings, reading)
	for _, r := range f.readings[start:] {
		if !strings.HasPrefix(r, reading) {
			break
		}
		if r == reading {
			continue
		}
		for _, e := range f.entries[r] {
			s, ok := byWord[e.Word]
			if !ok {
				s = &scored{word: e.Word, cost: e.Cost, freq: f.learn[learnKey(reading, e.Word)].Freq}
				byWord[e.Word] = s
				continue
			}
			s.cost = min(s.cost, e.Cost)
		}
	}

	out := make([]scored, 0, len(byWord))
	for _, s := range byWord {
		out = append(out, *s)
	}
	return rankWords(out, limit), nil
}

// Learn implements Backend.
func (f *FlatBackend) Learn(_ context.Context, reading, word string, at time.Time) error {
	// saveMu keeps journal writes in the same order as the updates.
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	f.mu.Lock()
	key := learnKey(reading, word)
	rec := f.learn[key]
	rec.Reading, rec.Word = reading, word
	rec.Freq++
	rec.LastUsed = at
	f.learn[key] = rec

	var snapshot []LearnRecord
	if f.journal != nil {
		snapshot = make([]LearnRecord, 0, len(f.learn))
		for _, r := range f.learn {
			snapshot = append(snapshot, r)
		}
	}
	f.mu.Unlock()

	if snapshot == nil {
		return nil
	}
	slices.SortFunc(snapshot, func(a, b LearnRecord) int {
		if c := strings.Compare(a.Reading, b.Reading); c != 0 {
			return c
		}
		return strings.Compare(a.Word, b.Word)
	})
	if err := f.journal.Save(snapshot); err != nil {
		return fmt.Errorf("save learn journal: %w", err)
	}
	return nil
}

// LearnRecord returns the learn record for (reading, word), or nil.
func (f *FlatBackend) LearnRecord(_ context.Context, reading, word string) (*LearnRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.learn[learnKey(reading, word)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Stats implements Backend.
func (f *FlatBackend) Stats(context.Context) (Stats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := Stats{Backend: f.Name(), Readings: len(f.entries), LearnRecords: len(f.learn)}
	for _, list := range f.entries {
		st.Entries += len(list)
	}
	return st, nil
}
