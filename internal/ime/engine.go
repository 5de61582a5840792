package ime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"kanaime/internal/metrics"
	"kanaime/internal/romaji"
	"kanaime/internal/segment"
)

// DefaultWorkers is the number of concurrent dictionary lookups.
const DefaultWorkers = 4

var (
	ErrClosed           = errors.New("engine closed")
	ErrNotReviewing     = errors.New("no conversion in progress")
	ErrAlreadyReviewing = errors.New("conversion already in progress")
	ErrEmptyReading     = errors.New("nothing to convert")
	ErrNoSegment        = errors.New("segment index out of range")
	ErrNoCandidate      = errors.New("candidate index out of range")
	ErrBoundary         = errors.New("boundary cannot move")
)

// CandidateSource supplies conversion candidates and receives selections.
// Both methods must be safe for concurrent use and must not fail.
type CandidateSource interface {
	Query(ctx context.Context, reading string) []string
	RecordSelection(ctx context.Context, reading, word string)
}

// Segmenter splits a reading into consecutive substrings that cover it.
type Segmenter interface {
	Segment(ctx context.Context, reading string) []string
}

// Options configures an Engine.
type Options struct {
	Source CandidateSource
	// Segmenter defaults to a segment.Segmenter over Source.
	Segmenter Segmenter
	// Workers bounds concurrent lookups. Defaults to DefaultWorkers.
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Collector
	// OnCommit receives the final text of every commit. It is called on the
	// goroutine that caused the commit, never on the engine loop.
	OnCommit func(text string)
}

// Engine owns one composition and at most one conversion session.
//
// All state lives on a single goroutine. Public methods send closures to it
// and wait for the reply; dictionary lookups run on a bounded worker pool and
// marshal their results back over a channel that only the loop reads.
type Engine struct {
	source    CandidateSource
	segmenter Segmenter
	logger    *slog.Logger
	metrics   *metrics.Collector
	onCommit  func(string)

	sem      *semaphore.Weighted
	requests chan func()
	results  chan func()
	done     chan struct{}
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	closed   sync.Once

	// Loop-owned.
	conv       *romaji.Converter
	mode       Mode
	session    *session
	generation uint64

	snapshot atomic.Pointer[Snapshot]
	subMu    sync.Mutex
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewEngine creates an Engine and starts its loop. Call Close to stop it.
func NewEngine(opts Options) *Engine {
	if opts.Source == nil {
		opts.Source = nopSource{}
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Segmenter == nil {
		opts.Segmenter = segment.New(opts.Source, segment.Options{Logger: logger})
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		source:    opts.Source,
		segmenter: opts.Segmenter,
		logger:    logger.With("component", "ime"),
		metrics:   opts.Metrics,
		onCommit:  opts.OnCommit,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		requests:  make(chan func()),
		results:   make(chan func()),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		conv:      romaji.New(),
		subs:      make(map[int]chan Snapshot),
	}
	e.publish()
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case fn := <-e.requests:
			fn()
		case apply := <-e.results:
			apply()
			e.publish()
		case <-e.done:
			return
		}
	}
}

// do runs fn on the loop and publishes a snapshot afterwards.
func (e *Engine) do(fn func() error) error {
	reply := make(chan error, 1)
	req := func() {
		reply <- fn()
		e.publish()
	}
	select {
	case e.requests <- req:
	case <-e.done:
		return ErrClosed
	}
	return <-reply
}

// spawn runs work on the pool and hands the closure it returns to the loop.
func (e *Engine) spawn(work func(ctx context.Context) func()) {
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			return
		}
		apply := work(e.ctx)
		e.sem.Release(1)

		select {
		case e.results <- apply:
		case <-e.ctx.Done():
		}
	}()
}

// PushChar feeds one typed character. Non-letters are ignored. During a
// conversion the session is committed before the character is taken.
func (e *Engine) PushChar(c rune) error {
	var committed string
	var didCommit bool
	err := e.do(func() error {
		if e.mode == ModeReviewing {
			committed, didCommit = e.commit(), true
		}
		e.conv.PushChar(c)
		e.syncComposingMode()
		return nil
	})
	if err == nil && didCommit {
		e.deliver(committed)
	}
	return err
}

// Backspace deletes the last composing unit. During a conversion it cancels
// the session instead, restoring the reading as composing text.
func (e *Engine) Backspace() error {
	return e.do(func() error {
		if e.mode == ModeReviewing {
			e.cancelSession()
			return nil
		}
		e.conv.Backspace()
		e.syncComposingMode()
		return nil
	})
}

// BeginConversion flushes the composition and starts a conversion session.
func (e *Engine) BeginConversion() error {
	return e.do(func() error {
		if e.mode == ModeReviewing {
			return ErrAlreadyReviewing
		}
		reading := e.conv.Flush()
		if reading == "" {
			e.mode = ModeIdle
			return ErrEmptyReading
		}
		e.begin(reading)
		return nil
	})
}

// MoveFocus moves the focus by delta segments, clamped to the valid range.
func (e *Engine) MoveFocus(delta int) error {
	return e.do(func() error {
		if e.mode != ModeReviewing {
			return ErrNotReviewing
		}
		e.focus(e.session.focus + delta)
		return nil
	})
}

// SetFocus focuses the segment at index, clamped to the valid range.
func (e *Engine) SetFocus(index int) error {
	return e.do(func() error {
		if e.mode != ModeReviewing {
			return ErrNotReviewing
		}
		e.focus(index)
		return nil
	})
}

// SelectCandidate selects a candidate of the focused segment and advances
// the focus when a later segment exists.
func (e *Engine) SelectCandidate(index int) error {
	return e.do(func() error {
		if e.mode != ModeReviewing {
			return ErrNotReviewing
		}
		return e.selectCandidate(index)
	})
}

// AdjustBoundary moves one character across the boundary between segment
// boundary and segment boundary+1.
func (e *Engine) AdjustBoundary(boundary int, dir Direction) error {
	return e.do(func() error {
		if e.mode != ModeReviewing {
			return ErrNotReviewing
		}
		return e.adjustBoundary(boundary, dir)
	})
}

// Commit ends the session and returns the converted text.
func (e *Engine) Commit() (string, error) {
	var text string
	err := e.do(func() error {
		if e.mode != ModeReviewing {
			return ErrNotReviewing
		}
		text = e.commit()
		return nil
	})
	if err != nil {
		return "", err
	}
	e.deliver(text)
	return text, nil
}

// Cancel abandons the session and returns its reading to the composition.
func (e *Engine) Cancel() error {
	return e.do(func() error {
		if e.mode != ModeReviewing {
			return ErrNotReviewing
		}
		e.cancelSession()
		return nil
	})
}

// Exit discards the composition and any session, returning to idle.
func (e *Engine) Exit() error {
	return e.do(func() error {
		if e.mode == ModeReviewing {
			e.generation++
			e.logger.Debug("conversion abandoned", "session", e.session.id)
			e.session = nil
			e.metrics.SessionEnded()
		}
		e.conv.Clear()
		e.mode = ModeIdle
		return nil
	})
}

// Snapshot returns the most recently published state. The returned value is
// shared and must not be modified.
func (e *Engine) Snapshot() Snapshot {
	return *e.snapshot.Load()
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Close stops the loop and waits for in-flight work, including pending
// learning writes. Engine operations called afterwards return ErrClosed.
func (e *Engine) Close() error {
	e.closed.Do(func() {
		close(e.done)
		<-e.loopDone
		e.cancel()
		e.workers.Wait()

		e.subMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subMu.Unlock()
	})
	return nil
}

func (e *Engine) deliver(text string) {
	if e.onCommit != nil {
		e.onCommit(text)
	}
}

// syncComposingMode derives the mode from the converter outside a session.
func (e *Engine) syncComposingMode() {
	if e.conv.HasComposing() {
		e.mode = ModeComposing
	} else {
		e.mode = ModeIdle
	}
}

// queryCandidates calls the source, turning a panic into an error.
func (e *Engine) queryCandidates(ctx context.Context, reading string) (candidates []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("candidate source panicked: %v", r)
		}
	}()
	return e.source.Query(ctx, reading), nil
}

// segmentReading calls the segmenter and falls back to the whole reading
// when it panics or returns segments that do not cover the reading.
func (e *Engine) segmentReading(ctx context.Context, reading string) (segments []string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("segmenter panicked", "error", r)
			segments = []string{reading}
		}
	}()
	segments = e.segmenter.Segment(ctx, reading)
	if !covers(segments, reading) {
		e.logger.Warn("segmentation does not cover reading, using one segment",
			"reading", reading, "segments", len(segments))
		return []string{reading}
	}
	return segments
}

func covers(segments []string, reading string) bool {
	if len(segments) == 0 {
		return false
	}
	joined := 0
	for _, s := range segments {
		if s == "" || len(reading) < joined+len(s) || reading[joined:joined+len(s)] != s {
			return false
		}
		joined += len(s)
	}
	return joined == len(reading)
}

type nopSource struct{}

func (nopSource) Query(context.Context, string) []string           { return nil }
func (nopSource) RecordSelection(context.Context, string, string) {}
