package ime

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Mode is the engine's input state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeComposing
	ModeReviewing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeComposing:
		return "composing"
	case ModeReviewing:
		return "reviewing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*m = ModeIdle
	case "composing":
		*m = ModeComposing
	case "reviewing":
		*m = ModeReviewing
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

// SegmentView is the renderer's view of one segment.
type SegmentView struct {
	Reading    string   `json:"reading"`
	Candidates []string `json:"candidates"`
	// Selected is -1 until a candidate is chosen.
	Selected int  `json:"selected"`
	Loading  bool `json:"loading"`
}

// Snapshot is a read-only copy of the engine state, published after every
// change.
type Snapshot struct {
	SessionID  string        `json:"session_id,omitempty"`
	Mode       Mode          `json:"mode"`
	Composing  string        `json:"composing"`
	Segments   []SegmentView `json:"segments"`
	Focus      int           `json:"focus"`
	Generation uint64        `json:"generation"`
}

// SnapshotSchema is the JSON Schema for an encoded Snapshot.
//
//go:embed snapshot.schema.json
var SnapshotSchema []byte

const snapshotSchemaURL = "snapshot.schema.json"

// CompileSnapshotSchema compiles SnapshotSchema for validation.
func CompileSnapshotSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(snapshotSchemaURL, bytes.NewReader(SnapshotSchema)); err != nil {
		return nil, fmt.Errorf("add snapshot schema: %w", err)
	}
	schema, err := compiler.Compile(snapshotSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	return schema, nil
}

// buildSnapshot copies loop state. Runs on the loop.
func (e *Engine) buildSnapshot() *Snapshot {
	snap := &Snapshot{
		Mode:       e.mode,
		Segments:   []SegmentView{},
		Generation: e.generation,
	}
	switch e.mode {
	case ModeComposing:
		snap.Composing = e.conv.Composing()
	case ModeReviewing:
		s := e.session
		snap.SessionID = s.id
		snap.Composing = s.composing()
		snap.Focus = s.focus
		snap.Segments = make([]SegmentView, len(s.segments))
		for i, seg := range s.segments {
			candidates := make([]string, len(seg.candidates))
			copy(candidates, seg.candidates)
			snap.Segments[i] = SegmentView{
				Reading:    seg.reading,
				Candidates: candidates,
				Selected:   seg.selected,
				Loading:    seg.loading,
			}
		}
	}
	return snap
}

// publish stores a fresh snapshot and offers it to subscribers. Slow
// subscribers only ever see the latest one.
func (e *Engine) publish() {
	snap := e.buildSnapshot()
	e.snapshot.Store(snap)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		offer(ch, *snap)
	}
}

func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Subscribe returns a channel that receives the current snapshot and every
// later one, dropping intermediate snapshots a slow reader missed. The
// returned func unsubscribes and closes the channel. The channel is also
// closed by Close.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	e.subMu.Lock()
	select {
	case <-e.done:
		e.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- *e.snapshot.Load()
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}
