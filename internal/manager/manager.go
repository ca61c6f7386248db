// Package manager implements the Torrent Manager (C3): a registry of
// engines keyed by torrent-id, with a content-hash map for duplicate
// detection, admission control for hash-checking,
// cache-root pruning, and the pending-pin queue.
//
// Grounded on the teacher's TaskList bookkeeping in engine/engine.go
// (engines map guarded by taskMutex, ErrTaskExists/ErrMaxConnTasks-style
// admission) generalized to spec.md §4.3's full lifecycle, and on
// original_source/daemon/manager.py for the exact shape of cache_size,
// enqueue_pin, and the checking-slot progress log line.
package manager

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/torrentfs/torrentfsd/internal/apperr"
	"github.com/torrentfs/torrentfsd/internal/config"
	"github.com/torrentfs/torrentfsd/internal/engine"
	"github.com/torrentfs/torrentfsd/internal/swarm"
)

// metadataWaitTimeout bounds how long add_torrent waits for a newly added
// torrent's metainfo to arrive before giving up.
const metadataWaitTimeout = 30 * time.Second

// pendingPin is a queued enqueue_pin request awaiting a matching engine.
type pendingPin struct {
	maxFiles int
	maxDepth int
}

// Manager is the C3 registry described by spec.md §3/§4.3.
type Manager struct {
	client    swarm.Client
	cacheRoot string
	cfg       *config.Config
	logger    *log.Logger

	mu          sync.Mutex
	engines     map[string]*engine.Engine
	byName      map[string][]string
	byInfohash  map[string]string
	pendingPins map[string]pendingPin

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager bound to an already-configured swarm client.
func New(client swarm.Client, cfg *config.Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[torrentfs] ", 0)
	}
	return &Manager{
		client:      client,
		cacheRoot:   cfg.CacheRoot,
		cfg:         cfg,
		logger:      logger,
		engines:     map[string]*engine.Engine{},
		byName:      map[string][]string{},
		byInfohash:  map[string]string{},
		pendingPins: map[string]pendingPin{},
		stopCh:      make(chan struct{}),
	}
}

// AddTorrent implements spec.md §4.3's admission sequence.
func (m *Manager) AddTorrent(torrentFile string) (string, error) {
	fi, err := os.Stat(torrentFile)
	if err != nil {
		return "", ErrTorrentFileMissing
	}
	if limit := m.cfg.MaxMetadataBytes; limit > 0 && uint64(fi.Size()) > limit {
		return "", fmt.Errorf("manager: %s is %d bytes, exceeds max_metadata_bytes %d: %w", torrentFile, fi.Size(), limit, apperr.ErrMetadataTooLarge)
	}
	id, err := torrentIDFromPath(torrentFile)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, ok := m.engines[id]; ok {
		m.mu.Unlock()
		return id, nil // idempotent success
	}
	m.mu.Unlock()

	m.waitForCheckSlot()

	cacheDir := filepath.Join(m.cacheRoot, id)

	t, err := m.client.AddTorrentFromFile(torrentFile)
	if err != nil {
		return "", fmt.Errorf("manager: adding %s to swarm: %w", torrentFile, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), metadataWaitTimeout)
	defer cancel()
	if err := t.WaitForInfo(ctx); err != nil {
		return "", fmt.Errorf("manager: waiting for metainfo of %s: %w", torrentFile, err)
	}

	eng, err := engine.New(m.engineParams(id, torrentFile, cacheDir), t)
	if err != nil {
		return "", fmt.Errorf("manager: constructing engine for %s: %w", torrentFile, err)
	}

	infohash := eng.InfoHash()
	name := eng.Name()

	m.mu.Lock()
	if existingID, dup := m.byInfohash[infohash]; dup {
		m.mu.Unlock()
		eng.Shutdown()
		os.RemoveAll(cacheDir)
		os.Remove(torrentFile)
		m.logger.Printf("manager: %s is a duplicate of %s, rejected", torrentFile, existingID)
		return existingID, nil
	}
	m.engines[id] = eng
	m.byName[name] = append(m.byName[name], id)
	m.byInfohash[infohash] = id
	m.mu.Unlock()

	m.consumePendingPin(id, torrentFile, eng)

	if m.cfg.Prefetch.OnStart {
		m.wg.Add(1)
		go m.runPrefetchWalker(eng)
	}

	return id, nil
}

// engineParams assembles an engine.Params from the manager's configuration.
func (m *Manager) engineParams(id, torrentFile, cacheDir string) engine.Params {
	c := m.cfg
	overrides := []string(nil)
	if c.Trackers.Enable {
		overrides = engine.ExpandTrackerOverrides(c.Trackers.Aliases, c.Trackers.Add)
	}
	return engine.Params{
		TorrentID:          id,
		TorrentFile:        torrentFile,
		CacheDir:           cacheDir,
		SkipCheck:          c.SkipCheck,
		Media:              engine.NewMediaClass(c.Engine.MediaExtensions),
		MediaShape:         shapeFromConfig(c.Prefetch.Media),
		OtherShape:         shapeFromConfig(c.Prefetch.Other),
		ResumeSaveInterval: time.Duration(c.Resume.SaveIntervalS) * time.Second,
		TrackerOverrides:   overrides,
		Logger:             m.logger,
	}
}

func shapeFromConfig(c config.PrefetchClass) engine.PrefetchShape {
	return engine.PrefetchShape{
		Head: engine.RangeShape{Pct: c.StartPct, Min: c.StartMin, Max: c.StartMax},
		Tail: engine.RangeShape{Pct: c.EndPct, Min: c.EndMin, Max: c.EndMax},
	}
}

// waitForCheckSlot blocks until the number of engines currently in the
// checking state is below checking.max_active (0 disables the gate),
// logging a progress line roughly every 2s listing which torrents hold
// slots (original_source/daemon/manager.py:140-161, `_checking_info`).
func (m *Manager) waitForCheckSlot() {
	limit := m.cfg.Checking.MaxActive
	if limit <= 0 {
		return
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		if m.checkingCount() < limit {
			return
		}
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for _, line := range m.checkingInfo(3) {
				m.logger.Printf("manager: waiting for check slot, active: %s", line)
			}
		}
	}
}

func (m *Manager) checkingCount() int {
	n := 0
	for _, e := range m.snapshotEngines() {
		if e.Status().Checking {
			n++
		}
	}
	return n
}

// checkingInfo lists up to limit currently-checking torrents as
// "name [id] (torrent_file) (pct) pieces_done/pieces_total", after
// original_source/daemon/manager.py:140-161.
func (m *Manager) checkingInfo(limit int) []string {
	m.mu.Lock()
	type row struct {
		id, file string
		e        *engine.Engine
	}
	var rows []row
	for id, e := range m.engines {
		rows = append(rows, row{id: id, file: e.TorrentFile(), e: e})
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	var out []string
	for _, r := range rows {
		if len(out) >= limit {
			break
		}
		st := r.e.Status()
		if !st.Checking {
			continue
		}
		pct := 0.0
		if st.CheckingProgress != nil {
			pct = *st.CheckingProgress
		}
		out = append(out, fmt.Sprintf("%s [%s] (%s) (%.1f%%) %d/%d", st.Name, r.id, r.file, pct*100, st.PiecesDone, st.PiecesTotal))
	}
	return out
}

// Resolve maps a client-supplied key (an id or a display name) to a single
// torrent-id, per spec.md §4.5's per-torrent command dispatch.
func (m *Manager) Resolve(key string) (string, error) {
	if key == "" {
		return "", apperr.ErrTorrentRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[key]; ok {
		return key, nil
	}
	ids, ok := m.byName[key]
	if !ok || len(ids) == 0 {
		return "", apperr.NewNotFound(key)
	}
	if len(ids) > 1 {
		return "", apperr.NewAmbiguous(key)
	}
	return ids[0], nil
}

// Engine returns the engine registered under torrent-id id.
func (m *Manager) Engine(id string) (*engine.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[id]
	if !ok {
		return nil, apperr.NewNotFound(id)
	}
	return e, nil
}

// RemoveTorrent shuts an engine down and removes its cache directory,
// unifying the spec's two historical removal entry points
// (`remove-torrent`/`remove_torrent_by_id`, see spec.md §9 open question):
// both accept either an id or a display name here.
func (m *Manager) RemoveTorrent(key string) error {
	id, err := m.Resolve(key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	e, ok := m.engines[id]
	if !ok {
		m.mu.Unlock()
		return apperr.NewNotFound(id)
	}
	delete(m.engines, id)
	name := e.Name()
	m.byName[name] = removeString(m.byName[name], id)
	if len(m.byName[name]) == 0 {
		delete(m.byName, name)
	}
	delete(m.byInfohash, e.InfoHash())
	m.mu.Unlock()

	e.Shutdown()
	return os.RemoveAll(e.CacheDir())
}

func removeString(in []string, s string) []string {
	out := in[:0]
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// Shutdown stops all background loops and every engine.
func (m *Manager) Shutdown() {
	close(m.stopCh)
	m.wg.Wait()

	for _, e := range m.snapshotEngines() {
		e.Shutdown()
	}

	m.client.Close()
}
