package ime

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"kanaime/internal/metrics"
)

// Direction is the way a segment boundary moves.
type Direction int

const (
	// Left moves the last character of the left segment into the right one.
	Left Direction = iota
	// Right moves the first character of the right segment into the left one.
	Right
)

func (d Direction) String() string {
	if d == Left {
		return "left"
	}
	return "right"
}

type segmentState struct {
	reading    string
	candidates []string
	selected   int
	loading    bool
}

func newSegmentState(reading string) *segmentState {
	return &segmentState{reading: reading, selected: -1}
}

// text is the selected candidate, or the reading when none is selected.
func (s *segmentState) text() string {
	if s.selected >= 0 && s.selected < len(s.candidates) {
		return s.candidates[s.selected]
	}
	return s.reading
}

func (s *segmentState) reset(reading string) {
	s.reading = reading
	s.candidates = nil
	s.selected = -1
	s.loading = false
}

type session struct {
	id       string
	reading  string
	segments []*segmentState
	focus    int
	// segmenting is set until the segmentation result is applied. Until
	// then the only segment covers the whole reading.
	segmenting bool
}

func (s *session) composing() string {
	var b strings.Builder
	for _, seg := range s.segments {
		b.WriteString(seg.text())
	}
	return b.String()
}

// The methods below run on the engine loop only.

func (e *Engine) begin(reading string) {
	e.generation++
	placeholder := newSegmentState(reading)
	placeholder.loading = true
	e.session = &session{
		id:         uuid.NewString(),
		reading:    reading,
		segments:   []*segmentState{placeholder},
		segmenting: true,
	}
	e.mode = ModeReviewing
	e.metrics.ConversionStarted()
	e.logger.Debug("conversion started", "session", e.session.id, "reading", reading)

	gen := e.generation
	e.spawn(func(ctx context.Context) func() {
		segments := e.segmentReading(ctx, reading)
		return func() { e.applySegmentation(gen, reading, segments) }
	})
}

func (e *Engine) applySegmentation(gen uint64, reading string, segments []string) {
	s := e.session
	if e.mode != ModeReviewing || s == nil || gen != e.generation || !s.segmenting || s.reading != reading {
		e.metrics.RecordStale(metrics.StaleSegmentation)
		e.logger.Debug("stale segmentation discarded", "generation", gen)
		return
	}

	s.segments = make([]*segmentState, len(segments))
	for i, r := range segments {
		s.segments[i] = newSegmentState(r)
	}
	s.segmenting = false
	s.focus = 0
	e.logger.Debug("reading segmented", "session", s.id, "segments", len(segments))
	e.load(0)
}

// load dispatches a candidate lookup for segment i.
func (e *Engine) load(i int) {
	seg := e.session.segments[i]
	seg.loading = true
	gen, reading := e.generation, seg.reading

	e.spawn(func(ctx context.Context) func() {
		candidates, err := e.queryCandidates(ctx, reading)
		return func() { e.applyCandidates(gen, i, reading, candidates, err) }
	})
}

func (e *Engine) applyCandidates(gen uint64, i int, reading string, candidates []string, err error) {
	s := e.session
	if e.mode != ModeReviewing || s == nil || gen != e.generation ||
		i >= len(s.segments) || s.segments[i].reading != reading {
		e.metrics.RecordStale(metrics.StaleCandidates)
		e.logger.Debug("stale candidates discarded", "generation", gen, "segment", i)
		return
	}

	seg := s.segments[i]
	seg.loading = false
	seg.selected = -1
	switch {
	case err != nil:
		seg.candidates = nil
		e.metrics.RecordCandidateLoad(metrics.LoadFailed)
		e.logger.Warn("candidate load failed", "segment", i, "error", err)
	case len(candidates) == 0:
		seg.candidates = nil
		e.metrics.RecordCandidateLoad(metrics.LoadEmpty)
	default:
		seg.candidates = candidates
		e.metrics.RecordCandidateLoad(metrics.LoadApplied)
	}
}

func (e *Engine) focus(index int) {
	s := e.session
	s.focus = max(0, min(index, len(s.segments)-1))
	if seg := s.segments[s.focus]; len(seg.candidates) == 0 && !seg.loading {
		e.load(s.focus)
	}
}

func (e *Engine) selectCandidate(index int) error {
	s := e.session
	seg := s.segments[s.focus]
	if index < 0 || index >= len(seg.candidates) {
		return ErrNoCandidate
	}
	seg.selected = index
	if s.focus+1 < len(s.segments) {
		e.focus(s.focus + 1)
	}
	return nil
}

func (e *Engine) adjustBoundary(boundary int, dir Direction) error {
	s := e.session
	if boundary < 0 || boundary+1 >= len(s.segments) {
		return ErrNoSegment
	}
	left := []rune(s.segments[boundary].reading)
	right := []rune(s.segments[boundary+1].reading)

	switch dir {
	case Left:
		if len(left) < 2 {
			return ErrBoundary
		}
		right = append([]rune{left[len(left)-1]}, right...)
		left = left[:len(left)-1]
	case Right:
		if len(right) < 2 {
			return ErrBoundary
		}
		left = append(left, right[0])
		right = right[1:]
	default:
		return ErrBoundary
	}

	s.segments[boundary].reset(string(left))
	s.segments[boundary+1].reset(string(right))
	e.load(boundary)
	e.load(boundary + 1)
	return nil
}

// commit ends the session, schedules learning and returns the final text.
func (e *Engine) commit() string {
	s := e.session
	var b strings.Builder
	type selection struct{ reading, word string }
	chosen := make([]selection, len(s.segments))
	for i, seg := range s.segments {
		word := seg.text()
		b.WriteString(word)
		chosen[i] = selection{seg.reading, word}
	}
	text := b.String()

	// Learning outlives the engine context so Close can wait for it.
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		ctx := context.WithoutCancel(e.ctx)
		for _, c := range chosen {
			e.source.RecordSelection(ctx, c.reading, c.word)
		}
	}()

	e.logger.Info("conversion committed", "session", s.id, "segments", len(s.segments), "text", text)
	e.generation++
	e.session = nil
	e.conv.Clear()
	e.mode = ModeIdle
	e.metrics.RecordCommit()
	return text
}

func (e *Engine) cancelSession() {
	s := e.session
	e.logger.Debug("conversion cancelled", "session", s.id)
	e.generation++
	e.session = nil
	e.conv.RestoreFromFinal(s.reading)
	e.mode = ModeComposing
	e.metrics.RecordCancel()
}
