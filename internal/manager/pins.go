package manager

import (
	"path/filepath"

	"github.com/torrentfs/torrentfsd/internal/engine"
)

// EnqueuePin implements spec.md §4.3's pending-pin queue: if an engine whose
// source .torrent basename matches is already present, the bulk pin starts
// immediately; otherwise the request is stashed until a matching engine is
// registered (original_source/daemon/manager.py:265-326, `enqueue_pin`).
func (m *Manager) EnqueuePin(basename string, maxFiles, maxDepth int) {
	m.mu.Lock()
	for _, e := range m.engines {
		if filepath.Base(e.TorrentFile()) == basename {
			m.mu.Unlock()
			go e.PinTree(maxFiles, maxDepth)
			return
		}
	}
	m.pendingPins[basename] = pendingPin{maxFiles: maxFiles, maxDepth: maxDepth}
	m.mu.Unlock()
}

// consumePendingPin checks for, and consumes, a pending-pin entry matching
// the torrent just registered, starting its bulk pin walk if found.
func (m *Manager) consumePendingPin(id, torrentFile string, e *engine.Engine) {
	basename := filepath.Base(torrentFile)
	m.mu.Lock()
	p, ok := m.pendingPins[basename]
	if ok {
		delete(m.pendingPins, basename)
	}
	m.mu.Unlock()
	if ok {
		go e.PinTree(p.maxFiles, p.maxDepth)
	}
}
