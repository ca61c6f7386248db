package manager

import (
	"os"
	"path/filepath"
	"sort"
)

// PruneCacheResult is the response shape of prune_cache (spec.md §4.3).
type PruneCacheResult struct {
	Removed []string
	Skipped int
}

// PruneCache enumerates immediate subdirectories of cache_root, keeping any
// whose name is a currently-registered torrent-id, skipping anything whose
// name is not a 12-char lowercase hex string, and deleting the rest (or
// only listing them if dryRun is set).
func (m *Manager) PruneCache(dryRun bool) (PruneCacheResult, error) {
	live := map[string]struct{}{}
	m.mu.Lock()
	for id := range m.engines {
		live[id] = struct{}{}
	}
	m.mu.Unlock()

	entries, err := os.ReadDir(m.cacheRoot)
	if err != nil {
		return PruneCacheResult{}, err
	}

	var result PruneCacheResult
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		name := ent.Name()
		if _, ok := live[name]; ok {
			continue
		}
		if !isTorrentID(name) {
			result.Skipped++
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(filepath.Join(m.cacheRoot, name)); err != nil {
				m.logger.Printf("manager: prune_cache: removing %s: %v", name, err)
				continue
			}
		}
		result.Removed = append(result.Removed, name)
	}
	sort.Strings(result.Removed)
	return result, nil
}
