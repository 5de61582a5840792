package dictionary

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"kanaime/internal/kana"
)

// ParseStats reports what ParseTSV did with its input.
type ParseStats struct {
	Lines   int `json:"lines"`
	Entries int `json:"entries"`
	Skipped int `json:"skipped"`
}

// maxLineBytes bounds a single source line. Longer lines are skipped.
const maxLineBytes = 1 << 20

// ParseTSV reads "reading<TAB>word[<TAB>cost]" lines.
//
// Blank lines and lines starting with '#' are ignored. Lines with fewer than
// two fields, an empty word, a reading that is not kana, or more than
// maxLineBytes bytes are skipped. A missing or non-numeric cost becomes
// DefaultCost. Readings are normalized to hiragana, and for duplicate
// (reading, word) pairs the minimum cost is kept. Entries are returned in
// first-seen order.
func ParseTSV(r io.Reader) ([]Entry, ParseStats, error) {
	var stats ParseStats
	index := make(map[string]int)
	var entries []Entry

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		raw, tooLong, err := readLine(br, maxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			stats.Entries = len(entries)
			return entries, stats, fmt.Errorf("read dictionary source: %w", err)
		}

		if len(raw) > 0 || tooLong {
			stats.Lines++
			e, ok, skip := parseLine(raw, tooLong)
			switch {
			case skip:
				stats.Skipped++
			case ok:
				key := learnKey(e.Reading, e.Word)
				if i, seen := index[key]; seen {
					entries[i].Cost = min(entries[i].Cost, e.Cost)
				} else {
					index[key] = len(entries)
					entries = append(entries, e)
				}
			}
		}

		if err != nil {
			break
		}
	}

	stats.Entries = len(entries)
	return entries, stats, nil
}

// readLine returns the next line including its terminator. A line longer
// than limit is consumed in full and reported as tooLong with no content.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

// parseLine reports ok for an entry and skip for a malformed line. Blank
// lines and comments are neither.
func parseLine(raw []byte, tooLong bool) (e Entry, ok, skip bool) {
	if tooLong {
		return e, false, true
	}
	line := strings.TrimSpace(string(raw))
	if line == "" || strings.HasPrefix(line, "#") {
		return e, false, false
	}

	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return e, false, true
	}

	reading := kana.NormalizeReading(fields[0])
	word := strings.TrimSpace(fields[1])
	if !kana.IsKanaOnly(reading) || word == "" {
		return e, false, true
	}

	cost := DefaultCost
	if len(fields) >= 3 {
		if n, err := strconv.Atoi(strings.TrimSpace(fields[2])); err == nil && n >= 0 {
			cost = n
		}
	}
	return Entry{Reading: reading, Word: word, Cost: cost}, true, false
}

// ParseTSVFile opens path and parses it with ParseTSV.
func ParseTSVFile(path string) ([]Entry, ParseStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("open dictionary source: %w", err)
	}
	defer f.Close()
	return ParseTSV(f)
}

// capPerReading keeps the cheapest limit words for every reading. Ties are
// broken by word. The relative order of readings is preserved.
func capPerReading(entries []Entry, limit int) []Entry {
	if limit <= 0 {
		return entries
	}

	groups := make(map[string][]Entry)
	var order []string
	for _, e := range entries {
		if _, ok := groups[e.Reading]; !ok {
			order = append(order, e.Reading)
		}
		groups[e.Reading] = append(groups[e.Reading], e)
	}

	out := make([]Entry, 0, len(entries))
	for _, reading := range order {
		group := groups[reading]
		if len(group) > limit {
			slices.SortStableFunc(group, compareEntries)
			group = group[:limit]
		}
		out = append(out, group...)
	}
	return out
}

func compareEntries(a, b Entry) int {
	if c := cmp.Compare(a.Cost, b.Cost); c != 0 {
		return c
	}
	return strings.Compare(a.Word, b.Word)
}
