package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"kanaime/internal/kana"
	"kanaime/internal/metrics"
)

// Store answers candidate queries and records selections on top of a
// Backend. Query and RecordSelection never fail: backend errors are logged
// and the affected tier is treated as empty.
type Store struct {
	backend Backend
	limit   int
	logger  *slog.Logger
	metrics *metrics.Collector
	breaker *gobreaker.CircuitBreaker

	// cacheMu orders cache fills against invalidation; learnGen changes on
	// every learn write so a fill computed before the write is dropped.
	cacheMu  sync.Mutex
	cache    *lru.Cache[string, []string]
	learnGen atomic.Uint64
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Limit caps the number of candidates per query. Defaults to DefaultLimit.
	Limit int
	// CacheSize is the number of readings kept in the query cache. Zero
	// disables caching.
	CacheSize int
	// BreakerFailures is the number of consecutive backend failures that
	// open the circuit. Defaults to 5.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open. Defaults to 30s.
	BreakerTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// NewStore wraps backend.
func NewStore(backend Backend, opts StoreOptions) (*Store, error) {
	if backend == nil {
		backend = EmptyBackend{}
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dictionary", "backend", backend.Name())

	s := &Store{
		backend: backend,
		limit:   opts.Limit,
		logger:  logger,
		metrics: opts.Metrics,
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []string](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create query cache: %w", err)
		}
		s.cache = cache
	}

	failures := opts.BreakerFailures
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dictionary-" + backend.Name(),
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a backend fault.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return s, nil
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Query returns the candidates for reading: the reading itself, its katakana
// form, exact matches, then prefix matches, capped at the store limit. When
// the dictionary has nothing for reading the static mapping is appended.
// An empty reading yields an empty list.
func (s *Store) Query(ctx context.Context, reading string) []string {
	if reading == "" {
		return []string{}
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(reading); ok {
			s.metrics.RecordCache(true)
			return slices.Clone(cached)
		}
		s.metrics.RecordCache(false)
	}

	gen := s.learnGen.Load()
	start := time.Now()

	out := newCandidateList(s.limit)
	out.add(reading)
	out.add(kana.ToKatakana(reading))

	degraded := false
	exact, err := s.lookup(ctx, "exact", func() ([]string, error) {
		return s.backend.Exact(ctx, reading, s.limit)
	})
	if err != nil {
		degraded = true
		s.logger.Warn("exact lookup failed", "reading", reading, "error", err)
	}
	out.add(exact...)

	if !out.full() {
		prefix, err := s.lookup(ctx, "prefix", func() ([]string, error) {
			return s.backend.Prefix(ctx, reading, s.limit)
		})
		if err != nil {
			degraded = true
			s.logger.Warn("prefix lookup failed", "reading", reading, "error", err)
		}
		out.add(prefix...)
	}

	if out.count() <= 2 {
		if extra := StaticCandidates(reading); len(extra) > 0 {
			out.add(extra...)
			s.metrics.RecordFallback()
		}
	}

	s.metrics.RecordQuery(s.backend.Name(), time.Since(start))

	result := out.items
	if s.cache != nil && !degraded {
		s.cacheMu.Lock()
		if s.learnGen.Load() == gen {
			s.cache.Add(reading, slices.Clone(result))
		}
		s.cacheMu.Unlock()
	}
	return result
}

// RecordSelection increments the learned frequency of word for reading.
// Failures are logged and otherwise ignored.
func (s *Store) RecordSelection(ctx context.Context, reading, word string) {
	if reading == "" || word == "" {
		return
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.backend.Learn(ctx, reading, word, time.Now())
	})
	if err != nil {
		s.metrics.RecordBackendFailure("learn")
		s.logger.Warn("record selection failed", "reading", reading, "word", word, "error", err)
	} else {
		s.metrics.RecordLearn()
	}

	s.Invalidate()
}

// Invalidate drops every cached query result.
func (s *Store) Invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.learnGen.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
}

// Import loads entries into the backend if it supports bulk loading.
func (s *Store) Import(ctx context.Context, entries []Entry) (int, error) {
	imp, ok := s.backend.(Importer)
	if !ok {
		return 0, fmt.Errorf("backend %s does not support import", s.backend.Name())
	}
	n, err := imp.Import(ctx, entries)
	s.Invalidate()
	s.metrics.RecordImport(n)
	if err != nil {
		return n, fmt.Errorf("import into %s: %w", s.backend.Name(), err)
	}
	return n, nil
}

// ImportSource loads the TSV source at path into the backend.
func (s *Store) ImportSource(ctx context.Context, path string) (ImportResult, error) {
	imp, ok := s.backend.(Importer)
	if !ok {
		return ImportResult{}, fmt.Errorf("backend %s does not support import", s.backend.Name())
	}
	res, err := ImportSource(ctx, imp, path)
	if res.Imported > 0 {
		s.Invalidate()
		s.metrics.RecordImport(res.Imported)
	}
	return res, err
}

// BreakerState returns the gobreaker state name of the backend circuit.
func (s *Store) BreakerState() string {
	return s.breaker.State().String()
}

// Stats returns backend statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	return s.backend.Stats(ctx)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// lookup runs fn through the circuit breaker. An open circuit is reported
// as an error without touching the backend.
func (s *Store) lookup(ctx context.Context, op string, fn func() ([]string, error)) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		s.metrics.RecordBackendFailure(op)
		return nil, err
	}
	words, _ := res.([]string)
	return words, nil
}

// candidateList is an ordered set with a size cap.
type candidateList struct {
	items []string
	seen  map[string]struct{}
	limit int
}

func newCandidateList(limit int) *candidateList {
	return &candidateList{
		items: make([]string, 0, 8),
		seen:  make(map[string]struct{}),
		limit: limit,
	}
}

func (c *candidateList) add(words ...string) {
	for _, w := range words {
		if c.full() {
			return
		}
		if w == "" {
			continue
		}
		if _, ok := c.seen[w]; ok {
			continue
		}
		c.seen[w] = struct{}{}
		c.items = append(c.items, w)
	}
}

func (c *candidateList) full() bool { return len(c.items) >= c.limit }

func (c *candidateList) count() int { return len(c.items) }
