// Package segment splits a kana reading into conversion segments.
//
// The scan is greedy and left to right. At each position every length from
// min(MaxLength, remaining) down to 1 is probed against the candidate source
// and scored by the number of real candidates it yields (the reading and its
// katakana form are not counted). The highest score wins and ties go to the
// longer length. A length of two or more must score above zero to be chosen;
// a single character is always acceptable, so the scan always terminates and
// the segments always cover the reading exactly.
package segment

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxLength is the longest segment probed, in characters.
const DefaultMaxLength = 6

// baselineCandidates is the number of candidates every non-empty query
// returns regardless of dictionary content.
const baselineCandidates = 2

// CandidateSource returns conversion candidates for a reading.
type CandidateSource interface {
	Query(ctx context.Context, reading string) []string
}

// Options configures a Segmenter.
type Options struct {
	// MaxLength is the longest segment probed. Defaults to DefaultMaxLength.
	MaxLength int
	// Parallelism bounds concurrent probes per position. Defaults to
	// MaxLength.
	Parallelism int
	Logger      *slog.Logger
}

// Segmenter splits readings using a CandidateSource as its scoring oracle.
type Segmenter struct {
	source      CandidateSource
	maxLength   int
	parallelism int
	logger      *slog.Logger
}

// New creates a Segmenter.
func New(source CandidateSource, opts Options) *Segmenter {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = opts.MaxLength
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		source:      source,
		maxLength:   opts.MaxLength,
		parallelism: opts.Parallelism,
		logger:      logger.With("component", "segment"),
	}
}

// Score is the number of real candidates among a query result.
func Score(candidates []string) int {
	return max(0, len(candidates)-baselineCandidates)
}

// Segment splits reading into consecutive substrings whose concatenation is
// reading. An empty reading yields no segments. If ctx is cancelled the
// unscanned remainder becomes the final segment.
func (s *Segmenter) Segment(ctx context.Context, reading string) []string {
	runes := []rune(reading)
	var segments []string

	for pos := 0; pos < len(runes); {
		if ctx.Err() != nil {
			segments = append(segments, string(runes[pos:]))
			break
		}

		n := s.choose(ctx, runes[pos:])
		segments = append(segments, string(runes[pos:pos+n]))
		pos += n
	}

	s.logger.Debug("reading segmented", "reading", reading, "segments", len(segments))
	return segments
}

// choose returns the length of the segment starting at the head of rest.
func (s *Segmenter) choose(ctx context.Context, rest []rune) int {
	longest := min(s.maxLength, len(rest))
	scores := make([]int, longest+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for n := longest; n >= 1; n-- {
		g.Go(func() error {
			scores[n] = Score(s.source.Query(gctx, string(rest[:n])))
			return nil
		})
	}
	_ = g.Wait()

	// Descending order keeps the longer length on ties.
	best, bestScore := 0, 0
	for n := longest; n >= 1; n-- {
		if n > 1 && scores[n] == 0 {
			continue
		}
		if best == 0 || scores[n] > bestScore {
			best, bestScore = n, scores[n]
		}
	}
	return best
}
