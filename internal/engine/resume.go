package engine

import (
	"os"
	"path/filepath"
	"time"
)

const resumeFileName = ".resume_data"

// loadResumeBlob reads any persisted resume data left from a previous run.
// The blob's contents are opaque to this package (spec.md §3: "opaque
// bytes"); presence alone lets a future swarm-library integration seed a
// faster re-check, so the load here only confirms the file is readable and
// logs if it is not, swallowing the error (spec.md §7.5).
func (e *Engine) loadResumeBlob() {
	if _, err := os.Stat(e.resumePath()); err != nil {
		return
	}
	if _, err := os.ReadFile(e.resumePath()); err != nil {
		e.logger.Printf("engine %s: reading %s: %v", e.id, resumeFileName, err)
	}
}

func (e *Engine) resumePath() string {
	return filepath.Join(e.cacheDir, resumeFileName)
}

// saveResumeBlobLocked persists the current resume state atomically
// (temp+rename). Must be called with e.mu held.
func (e *Engine) saveResumeBlobLocked() {
	blob := e.resumeSnapshotLocked()
	if err := atomicWrite(e.resumePath(), blob); err != nil {
		e.logger.Printf("engine %s: save resume data: %v", e.id, err)
	}
}

// resumeSnapshotLocked builds the opaque resume blob. The swarm adapter does
// not expose the library's native resume-data encoding (anacrolix/torrent
// persists piece state to its own DataDir structure), so the blob holds only
// the torrent's info hash followed by a newline; pins are persisted
// separately in .pinned.json.
func (e *Engine) resumeSnapshotLocked() []byte {
	var b []byte
	b = append(b, []byte(e.torrent.InfoHash())...)
	b = append(b, '\n')
	return b
}

// resumeSaveLoop periodically persists resume data until stopped.
func (e *Engine) resumeSaveLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.resumeSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			e.saveResumeBlobLocked()
			e.mu.Unlock()
		}
	}
}
