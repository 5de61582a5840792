// Package ime implements the conversion engine of the input method.
//
// # State Machine
//
//	Idle ──PushChar──▶ Composing ──BeginConversion──▶ Reviewing
//	  ▲                   ▲  │                           │  │
//	  │                   │  └─Backspace (empty)──▶ Idle │  │
//	  │                   └──────────Cancel / Backspace──┘  │
//	  └───────────────────────Commit / Exit─────────────────┘
//
// While Composing, typed letters go through a romaji.Converter. BeginConversion
// flushes it into a reading and opens a session that splits the reading into
// segments, each with its own candidate list.
//
// # Concurrency
//
// The engine is a single-owner event loop:
//
//	caller ──closure──▶ requests ──▶ ┌──────┐ ◀── results ◀── worker pool
//	caller ◀──error───── reply ◀──── │ loop │ ──── spawn ───▶ (semaphore)
//	                                 └──┬───┘
//	                                    ▼
//	                          atomic snapshot + subscribers
//
// Session state is only touched by the loop. Segmentation and candidate
// lookups run on workers and send a closure back to the loop, which applies
// it only if the session is still reviewing, the generation counter has not
// moved and the segment's reading is unchanged. Begin, commit, cancel and
// exit each bump the generation, so results from an earlier session are
// dropped rather than aborted.
//
// Until segmentation returns, the session holds one loading segment covering
// the whole reading, so concatenating segment readings reproduces the reading
// at every observable point.
//
// # Renderer Surface
//
// Renderers read Snapshot values: Engine.Snapshot for polling,
// Engine.Subscribe for push, or the SnapshotChanged D-Bus signal emitted by
// DBusService on linux. The JSON encoding is described by SnapshotSchema.
package ime
