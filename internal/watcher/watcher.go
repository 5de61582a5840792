// Package watcher monitors dictionary source files and reports when their
// content changes.
package watcher

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event reports a file whose content changed and has been stable for the
// debounce interval.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher monitors files for content changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	debounce  time.Duration

	// Tracked files: path -> last modification seen, path -> last hash
	watched map[string]bool
	pending map[string]time.Time
	hashes  map[string][32]byte
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for paths. Each path may be a file or a directory;
// for directories, every regular file directly inside is tracked.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = time.Second
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		paths:     paths,
		debounce:  debounce,
		watched:   make(map[string]bool),
		pending:   make(map[string]time.Time),
		hashes:    make(map[string][32]byte),
		events:    make(chan Event, 16),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}

	return w, nil
}

// Events returns the channel of change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching all configured paths. The current content of each
// existing file becomes the baseline; only later changes are reported.
func (w *Watcher) Start() error {
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		info, err := os.Stat(absPath)
		switch {
		case err == nil && info.IsDir():
			if err := w.fsWatcher.Add(absPath); err != nil {
				return err
			}
			entries, err := os.ReadDir(absPath)
			if err != nil {
				return err
			}
			w.stateMu.Lock()
			w.watched[absPath] = true
			w.stateMu.Unlock()
			for _, entry := range entries {
				if !entry.IsDir() {
					w.trackFile(filepath.Join(absPath, entry.Name()))
				}
			}

		case err == nil || os.IsNotExist(err):
			// Watch single file (by watching its directory) so that
			// replace-by-rename and late creation are seen.
			if err := w.fsWatcher.Add(filepath.Dir(absPath)); err != nil {
				return err
			}
			w.stateMu.Lock()
			w.watched[absPath] = true
			w.stateMu.Unlock()
			w.trackFile(absPath)

		default:
			return err
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// trackFile records the baseline hash of a file.
func (w *Watcher) trackFile(path string) {
	hash, _, err := HashFile(path)
	if err != nil {
		return
	}

	w.stateMu.Lock()
	w.hashes[path] = hash
	w.stateMu.Unlock()
}

func (w *Watcher) isWatched(path string) bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.watched[path] || w.watched[filepath.Dir(path)]
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// Only track writes and creates
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.isWatched(event.Name) {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			w.stateMu.Lock()
			w.pending[event.Name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// debounceLoop checks for stable files and reports changed ones.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.checkStableFiles(now)
		}
	}
}

// stableFile represents a file ready for hashing.
type stableFile struct {
	path    string
	lastMod time.Time
}

// checkStableFiles finds files that haven't changed for the debounce interval.
// The lock is released during file I/O so eventLoop is never blocked.
func (w *Watcher) checkStableFiles(now time.Time) {
	threshold := now.Add(-w.debounce)

	// Phase 1: collect stable files
	var stableFiles []stableFile
	w.stateMu.RLock()
	for path, lastMod := range w.pending {
		if lastMod.Before(threshold) {
			stableFiles = append(stableFiles, stableFile{path: path, lastMod: lastMod})
		}
	}
	w.stateMu.RUnlock()

	if len(stableFiles) == 0 {
		return
	}

	// Phase 2: hash without the lock
	type hashResult struct {
		path    string
		lastMod time.Time
		hash    [32]byte
		size    int64
		err     error
	}
	results := make([]hashResult, len(stableFiles))
	for i, sf := range stableFiles {
		hash, size, err := HashFile(sf.path)
		results[i] = hashResult{path: sf.path, lastMod: sf.lastMod, hash: hash, size: size, err: err}
	}

	// Phase 3: emit changes, skipping files modified during hashing
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	for _, r := range results {
		if r.err != nil {
			delete(w.pending, r.path)
			select {
			case w.errors <- r.err:
			default:
			}
			continue
		}

		currentLastMod, exists := w.pending[r.path]
		if !exists || currentLastMod != r.lastMod {
			continue
		}

		if prev, ok := w.hashes[r.path]; ok && prev == r.hash {
			// Touched but not changed
			delete(w.pending, r.path)
			continue
		}

		event := Event{
			Path:      r.path,
			Hash:      r.hash,
			Size:      r.size,
			Timestamp: now,
		}

		select {
		case w.events <- event:
			w.hashes[r.path] = r.hash
			delete(w.pending, r.path)
		default:
			// Event channel full, try again later
		}
	}
}

// HashFile computes the SHA-256 hash of a file using streaming.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}

// WatchedPaths returns the list of paths being watched.
func (w *Watcher) WatchedPaths() []string {
	return w.paths
}

// PendingFiles returns the number of files waiting to settle.
func (w *Watcher) PendingFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.pending)
}
