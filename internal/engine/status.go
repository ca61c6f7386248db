package engine

import (
	"os"

	"github.com/torrentfs/torrentfsd/internal/pathindex"
)

// Status is the snapshot spec.md §4.2's status() operation returns.
type Status struct {
	Name             string
	State            string
	Progress         float64
	Peers            int
	Seeds            int
	PiecesTotal      int
	PiecesDone       int
	PiecesMissing    int
	Downloaded       int64
	Uploaded         int64
	DownloadRate     float64
	UploadRate       float64
	Checking         bool
	CheckingProgress *float64
	Paused           bool
}

// Status returns a point-in-time snapshot of the engine's progress and
// swarm health.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	stats := e.torrent.Stats()
	total := e.torrent.NumPieces()
	done := 0
	for i := 0; i < total; i++ {
		if e.torrent.PieceComplete(i) {
			done++
		}
	}
	seeds := 0
	for _, p := range e.torrent.Peers() {
		if p.IsSeed {
			seeds++
		}
	}

	var progress float64
	length := e.torrent.Length()
	if length > 0 {
		progress = float64(e.torrent.BytesCompleted()) / float64(length)
	}

	st := Status{
		Name:          e.torrent.Name(),
		State:         state.String(),
		Progress:      progress,
		Peers:         stats.ActivePeers,
		Seeds:         seeds,
		PiecesTotal:   total,
		PiecesDone:    done,
		PiecesMissing: total - done,
		Downloaded:    stats.BytesReadData,
		Uploaded:      stats.BytesWrittenData,
		Checking:      state == StateChecking,
		Paused:        state == StatePaused,
	}
	if state == StateChecking {
		e.mu.Lock()
		p := e.checkProgressLocked()
		e.mu.Unlock()
		st.CheckingProgress = &p
	}
	return st
}

// PeerView mirrors spec.md §4.2's peers() row shape.
type PeerView struct {
	Addr     string
	Client   string
	Progress float64
}

// Peers returns the current connected-peer list.
func (e *Engine) Peers() []PeerView {
	out := make([]PeerView, 0)
	for _, p := range e.torrent.Peers() {
		progress := 0.0
		if p.IsSeed {
			progress = 1.0
		}
		out = append(out, PeerView{Addr: p.Addr, Client: p.Client, Progress: progress})
	}
	return out
}

// FileInfoResult is the view returned by file_info(path).
type FileInfoResult struct {
	Path      string
	Size      int64
	FileIndex int
	Completed int64
	Pinned    bool
}

// FileInfo reports per-file metadata and progress.
func (e *Engine) FileInfo(path string) (FileInfoResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, st, err := e.fileAt(path)
	if err != nil {
		return FileInfoResult{}, err
	}
	_, pinned := e.pinnedPaths[path]
	return FileInfoResult{
		Path:      path,
		Size:      st.Size,
		FileIndex: st.FileIndex,
		Completed: f.BytesCompleted(),
		Pinned:    pinned,
	}, nil
}

// TorrentInfoResult is the view torrent_info() exposes (spec.md §4.2).
type TorrentInfoResult struct {
	Name         string
	Comment      string
	CreatedBy    string
	CreationDate int64
	PieceLength  int64
	NumPieces    int
	TotalSize    int64
	Mode         string
	Trackers     []string
	InfoHash     string
	Magnet       string
}

// TorrentInfo reports torrent-level metadata.
func (e *Engine) TorrentInfo() TorrentInfoResult {
	mode := "single"
	files := e.torrent.Files()
	if len(files) > 1 {
		mode = "multi"
	}
	return TorrentInfoResult{
		Name:         e.torrent.Name(),
		Comment:      e.torrent.Comment(),
		CreatedBy:    e.torrent.CreatedBy(),
		CreationDate: e.torrent.CreationDate(),
		PieceLength:  e.torrent.PieceLength(),
		NumPieces:    e.torrent.NumPieces(),
		TotalSize:    e.torrent.Length(),
		Mode:         mode,
		Trackers:     e.torrent.Trackers(),
		InfoHash:     e.torrent.InfoHash(),
		Magnet:       e.torrent.Magnet(),
	}
}

// PruneData deletes the cache directory's downloaded content (optionally
// keeping pinned files untouched) and drives serving -> checking (spec.md
// §4.2: prune_data transitions to checking after deleting files and resume
// blob).
func (e *Engine) PruneData(keepPins bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.index.List("")
	if err != nil {
		return err
	}
	if err := e.pruneWalkLocked("", entries, keepPins); err != nil {
		return err
	}
	os.Remove(e.resumePath())

	e.state = StateChecking
	go e.watchCheckCompletion()
	return nil
}

func (e *Engine) pruneWalkLocked(dirPath string, entries []pathindex.ListEntry, keepPins bool) error {
	for _, ent := range entries {
		childPath := ent.Name
		if dirPath != "" {
			childPath = dirPath + "/" + ent.Name
		}
		if ent.Type == pathindex.TypeDir {
			sub, err := e.index.List(childPath)
			if err != nil {
				continue
			}
			if err := e.pruneWalkLocked(childPath, sub, keepPins); err != nil {
				return err
			}
			continue
		}
		if keepPins {
			if _, pinned := e.pinnedPaths[childPath]; pinned {
				continue
			}
		}
		f, ok := e.files[childPath]
		if !ok {
			continue
		}
		os.Remove(e.diskPathLocked(f))
	}
	return nil
}
