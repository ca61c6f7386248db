package manager

import (
	"sort"

	"github.com/torrentfs/torrentfsd/internal/engine"
	"github.com/torrentfs/torrentfsd/internal/pathindex"
)

// TorrentListing is one row of list_torrents().
type TorrentListing struct {
	ID          string
	Name        string
	TorrentName string
	Cache       string
}

// ListTorrents returns {id, name, torrent_name, cache} per engine, sorted by
// id for stable RPC responses.
func (m *Manager) ListTorrents() []TorrentListing {
	engines := m.snapshotEnginesByID()
	out := make([]TorrentListing, 0, len(engines))
	for id, e := range engines {
		out = append(out, TorrentListing{
			ID:          id,
			Name:        e.Name(),
			TorrentName: e.Name(),
			Cache:       e.CacheDir(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StatusTotals sums downloaded/uploaded/rates/peers/seeds across all engines.
type StatusTotals struct {
	Downloaded   int64
	Uploaded     int64
	DownloadRate float64
	UploadRate   float64
	Peers        int
	Seeds        int
}

// StatusAllResult is the response shape of status_all().
type StatusAllResult struct {
	Torrents map[string]engine.Status
	Totals   StatusTotals
}

// StatusAll aggregates per-torrent status and totals (spec.md §4.3).
func (m *Manager) StatusAll() StatusAllResult {
	engines := m.snapshotEnginesByID()
	result := StatusAllResult{Torrents: make(map[string]engine.Status, len(engines))}
	for id, e := range engines {
		st := e.Status()
		result.Torrents[id] = st
		result.Totals.Downloaded += st.Downloaded
		result.Totals.Uploaded += st.Uploaded
		result.Totals.DownloadRate += st.DownloadRate
		result.Totals.UploadRate += st.UploadRate
		result.Totals.Peers += st.Peers
		result.Totals.Seeds += st.Seeds
	}
	return result
}

// DownloadsEntry is one row of downloads(): an in-progress torrent plus its
// incomplete files.
type DownloadsEntry struct {
	ID     string
	Name   string
	Status engine.Status
	Files  []engine.FileInfoResult
}

// Downloads returns only engines with progress<1, each with its incomplete
// files list, optionally truncated to maxFiles (0 means unlimited).
func (m *Manager) Downloads(maxFiles int) []DownloadsEntry {
	engines := m.snapshotEnginesByID()
	var out []DownloadsEntry
	ids := make([]string, 0, len(engines))
	for id := range engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := engines[id]
		st := e.Status()
		if st.Progress >= 1 {
			continue
		}
		files := incompleteFiles(e, maxFiles)
		out = append(out, DownloadsEntry{ID: id, Name: e.Name(), Status: st, Files: files})
	}
	return out
}

// incompleteFiles walks e's path index depth-first, collecting file_info for
// every file with incomplete bytes, truncated to maxFiles (0 means
// unlimited). File priority is not consulted: files at priority none are
// listed alongside pinned or prefetched ones.
func incompleteFiles(e *engine.Engine, maxFiles int) []engine.FileInfoResult {
	var out []engine.FileInfoResult
	var walk func(dirPath string) bool
	walk = func(dirPath string) bool {
		entries, err := e.List(dirPath)
		if err != nil {
			return true
		}
		for _, ent := range entries {
			if maxFiles > 0 && len(out) >= maxFiles {
				return false
			}
			childPath := ent.Name
			if dirPath != "" {
				childPath = dirPath + "/" + ent.Name
			}
			if ent.Type == pathindex.TypeDir {
				if !walk(childPath) {
					return false
				}
				continue
			}
			fi, err := e.FileInfo(childPath)
			if err != nil || fi.Completed >= fi.Size {
				continue
			}
			out = append(out, fi)
		}
		return true
	}
	walk("")
	return out
}

// PeersByTorrent groups peers() per-torrent, for peers_all().
type PeersByTorrent struct {
	ID    string
	Peers []engine.PeerView
}

// PeersAll returns peers grouped by torrent.
func (m *Manager) PeersAll() []PeersByTorrent {
	engines := m.snapshotEnginesByID()
	ids := make([]string, 0, len(engines))
	for id := range engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]PeersByTorrent, 0, len(ids))
	for _, id := range ids {
		out = append(out, PeersByTorrent{ID: id, Peers: engines[id].Peers()})
	}
	return out
}

func (m *Manager) snapshotEnginesByID() map[string]*engine.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*engine.Engine, len(m.engines))
	for id, e := range m.engines {
		out[id] = e
	}
	return out
}

func (m *Manager) snapshotEngines() []*engine.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*engine.Engine, 0, len(m.engines))
	for _, e := range m.engines {
		out = append(out, e)
	}
	return out
}
