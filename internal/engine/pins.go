package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/torrentfs/torrentfsd/internal/swarm"
)

const pinnedFileName = ".pinned.json"

type pinnedFile struct {
	Paths []string `json:"paths"`
}

// Pin raises path's file priority to top and records it in the persistent
// pin set. Idempotent (spec.md §8 round-trip property).
func (e *Engine) Pin(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, st, err := e.fileAt(path)
	if err != nil {
		return err
	}
	f.SetPriority(swarm.PriorityNow)
	if _, already := e.pinnedPaths[path]; already {
		return nil
	}
	e.pinnedPaths[path] = struct{}{}
	e.pinnedFiles[st.FileIndex] = struct{}{}
	e.savePinsLocked()
	return nil
}

// Unpin drops path's priority to idle and removes it from the pin set.
// Idempotent.
func (e *Engine) Unpin(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, st, err := e.fileAt(path)
	if err != nil {
		return err
	}
	if _, already := e.pinnedPaths[path]; !already {
		return nil
	}
	f.SetPriority(swarm.PriorityNone)
	delete(e.pinnedPaths, path)
	delete(e.pinnedFiles, st.FileIndex)
	e.savePinsLocked()
	return nil
}

// Pinned returns the sorted list of currently pinned paths.
func (e *Engine) Pinned() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pinnedPaths))
	for p := range e.pinnedPaths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) pinsPath() string {
	return filepath.Join(e.cacheDir, pinnedFileName)
}

// loadPins reads the persisted pin set (if present) and reapplies top
// priority to each path, matching spec.md §8's restart property: each
// persisted path becomes top-priority exactly once.
func (e *Engine) loadPins() {
	data, err := os.ReadFile(e.pinsPath())
	if err != nil {
		return
	}
	var pf pinnedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		e.logger.Printf("engine %s: corrupt %s, ignoring: %v", e.id, pinnedFileName, err)
		return
	}
	for _, p := range pf.Paths {
		f, st, err := e.fileAt(p)
		if err != nil {
			continue
		}
		f.SetPriority(swarm.PriorityNow)
		e.pinnedPaths[p] = struct{}{}
		e.pinnedFiles[st.FileIndex] = struct{}{}
	}
}

// savePinsLocked persists the pin set atomically (temp file + rename),
// matching spec.md §5's ordering guarantee: pin persistence order is
// irrelevant, only atomicity matters. Failures are logged and swallowed
// (spec.md §7.5).
func (e *Engine) savePinsLocked() {
	paths := make([]string, 0, len(e.pinnedPaths))
	for p := range e.pinnedPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	data, err := json.Marshal(pinnedFile{Paths: paths})
	if err != nil {
		e.logger.Printf("engine %s: marshal pins: %v", e.id, err)
		return
	}
	if err := atomicWrite(e.pinsPath(), data); err != nil {
		e.logger.Printf("engine %s: save pins: %v", e.id, err)
	}
}

// atomicWrite writes data to path via a temp file + rename, the pattern
// spec.md §3/§5 requires for both .pinned.json and .resume_data.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
