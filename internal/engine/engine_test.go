package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/torrentfs/torrentfsd/internal/swarm"
)

// fakeFile/fakeTorrent mirror the doubles used by internal/manager and
// internal/rpc's test suites, implementing the same swarm interfaces so the
// engine's piece-priority and wait logic can be exercised without a real
// swarm client.
type fakeFile struct {
	path      string
	length    int64
	offset    int64
	priority  swarm.Priority
	sequential bool
	closed    bool
}

func (f *fakeFile) Path() string          { return f.path }
func (f *fakeFile) Length() int64         { return f.length }
func (f *fakeFile) Offset() int64         { return f.offset }
func (f *fakeFile) BytesCompleted() int64 { return f.length }
func (f *fakeFile) SetPriority(p swarm.Priority) { f.priority = p }
func (f *fakeFile) EnableSequential()            { f.sequential = true }
func (f *fakeFile) Close() error                 { f.closed = true; return nil }

type fakeTorrent struct {
	infoHash    string
	name        string
	files       []swarm.File
	numPieces   int
	pieceLength int64
	complete    map[int]bool
	private     bool

	downloadAllowed bool
	uploadAllowed   bool
	verifyCalls     int
	reannounceCalls int
	trackers        []string
}

func (t *fakeTorrent) WaitForInfo(ctx context.Context) error { return nil }
func (t *fakeTorrent) InfoHash() string                      { return t.infoHash }
func (t *fakeTorrent) Name() string                          { return t.name }
func (t *fakeTorrent) NumPieces() int                        { return t.numPieces }
func (t *fakeTorrent) Length() int64 {
	var n int64
	for _, f := range t.files {
		n += f.Length()
	}
	return n
}
func (t *fakeTorrent) BytesCompleted() int64 { return t.Length() }
func (t *fakeTorrent) PieceComplete(i int) bool {
	if t.complete == nil {
		return true
	}
	return t.complete[i]
}
func (t *fakeTorrent) PieceLength() int64                       { return t.pieceLength }
func (t *fakeTorrent) SetPiecePriority(i int, p swarm.Priority)  {}
func (t *fakeTorrent) WaitPieces(ctx context.Context, begin, end int) error {
	for i := begin; i < end; i++ {
		if !t.PieceComplete(i) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
				return t.WaitPieces(ctx, begin, end)
			}
		}
	}
	return nil
}
func (t *fakeTorrent) Files() []swarm.File  { return t.files }
func (t *fakeTorrent) AllowDataDownload()   { t.downloadAllowed = true }
func (t *fakeTorrent) AllowDataUpload()     { t.uploadAllowed = true }
func (t *fakeTorrent) DisallowDataDownload() { t.downloadAllowed = false }
func (t *fakeTorrent) DisallowDataUpload()   { t.uploadAllowed = false }
func (t *fakeTorrent) VerifyData()           { t.verifyCalls++ }
func (t *fakeTorrent) Drop()                 {}
func (t *fakeTorrent) AddTrackers(tier []string) { t.trackers = append(t.trackers, tier...) }
func (t *fakeTorrent) Trackers() []string        { return t.trackers }
func (t *fakeTorrent) IsPrivate() bool           { return t.private }
func (t *fakeTorrent) Magnet() string            { return "magnet:?xt=urn:btih:" + t.infoHash }
func (t *fakeTorrent) Comment() string           { return "" }
func (t *fakeTorrent) CreatedBy() string         { return "" }
func (t *fakeTorrent) CreationDate() int64       { return 0 }
func (t *fakeTorrent) Stats() swarm.Stats        { return swarm.Stats{} }
func (t *fakeTorrent) Peers() []swarm.PeerInfo   { return nil }
func (t *fakeTorrent) Reannounce()               { t.reannounceCalls++ }

// newTestEngine builds an Engine over a single-file fake torrent, writing its
// cached content to disk so Read exercises real file I/O the way the RPC
// dispatcher's tests do.
func newTestEngine(t *testing.T, content string) (*Engine, *fakeTorrent, *fakeFile) {
	t.Helper()
	cacheDir := t.TempDir()

	file := &fakeFile{path: "movie.mkv", length: int64(len(content))}
	tr := &fakeTorrent{
		infoHash:    "abc123",
		name:        "swarm",
		files:       []swarm.File{file},
		numPieces:   1,
		pieceLength: int64(len(content)),
	}

	dataDir := filepath.Join(cacheDir, "swarm")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir data dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "movie.mkv"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing cached content: %v", err)
	}

	e, err := New(Params{
		TorrentID:   "deadbeef0001",
		TorrentFile: filepath.Join(t.TempDir(), "one.torrent"),
		CacheDir:    cacheDir,
		SkipCheck:   true,
		Media:       NewMediaClass([]string{".mkv"}),
	}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e, tr, file
}

func TestNewSkipCheckStartsServing(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	if e.state != StateServing {
		t.Fatalf("expected StateServing with SkipCheck, got %s", e.state)
	}
}

func TestReadWholeFile(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	data, err := e.Read("movie.mkv", 0, 11, ModeNormal, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestReadClampsSizePastEOF(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	data, err := e.Read("movie.mkv", 6, 1000, ModeNormal, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "world" {
		t.Fatalf("expected clamped read to return %q, got %q", "world", data)
	}
}

func TestReadPastEndOfFileReturnsEmpty(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	data, err := e.Read("movie.mkv", 11, 5, ModeNormal, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty read past EOF, got %q", data)
	}
}

func TestReadMissingPath(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	if _, err := e.Read("nope.mkv", 0, 1, ModeNormal, time.Second); err == nil {
		t.Fatalf("expected an error for a missing path")
	}
}

func TestReadAutoModeEnablesSequentialForMedia(t *testing.T) {
	e, _, f := newTestEngine(t, "hello world")
	if _, err := e.Read("movie.mkv", 0, 5, ModeAuto, time.Second); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !f.sequential {
		t.Fatalf("expected ModeAuto to enable sequential bias for a media extension")
	}
	if f.priority != swarm.PriorityNow {
		t.Fatalf("expected stream mode to set priority PriorityNow, got %v", f.priority)
	}
}

func TestReadAutoModeNormalForNonMedia(t *testing.T) {
	cacheDir := t.TempDir()
	content := "data"
	file := &fakeFile{path: "readme.txt", length: int64(len(content))}
	tr := &fakeTorrent{infoHash: "abc", name: "swarm", files: []swarm.File{file}, numPieces: 1, pieceLength: 4}
	dataDir := filepath.Join(cacheDir, "swarm")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "readme.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, err := New(Params{TorrentID: "id", TorrentFile: filepath.Join(t.TempDir(), "t.torrent"), CacheDir: cacheDir, SkipCheck: true, Media: NewMediaClass([]string{".mkv"})}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown()

	if _, err := e.Read("readme.txt", 0, 4, ModeAuto, time.Second); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if file.sequential {
		t.Fatalf("ModeAuto should not enable sequential bias for a non-media extension")
	}
	if file.priority != swarm.PriorityNormal {
		t.Fatalf("expected normal priority, got %v", file.priority)
	}
}

func TestReadTimesOutWithoutPartialData(t *testing.T) {
	cacheDir := t.TempDir()
	content := "hello world"
	file := &fakeFile{path: "movie.mkv", length: int64(len(content))}
	tr := &fakeTorrent{
		infoHash: "abc", name: "swarm", files: []swarm.File{file},
		numPieces: 1, pieceLength: int64(len(content)),
		complete: map[int]bool{0: false},
	}
	dataDir := filepath.Join(cacheDir, "swarm")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "movie.mkv"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, err := New(Params{TorrentID: "id", TorrentFile: filepath.Join(t.TempDir(), "t.torrent"), CacheDir: cacheDir, SkipCheck: true}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown()

	_, err = e.Read("movie.mkv", 0, 5, ModeNormal, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error when pieces never complete")
	}
}

func TestPinUnpinRoundTripAndPersistence(t *testing.T) {
	e, _, f := newTestEngine(t, "hello world")

	if err := e.Pin("movie.mkv"); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if f.priority != swarm.PriorityNow {
		t.Fatalf("expected pin to set priority PriorityNow, got %v", f.priority)
	}
	if pinned := e.Pinned(); len(pinned) != 1 || pinned[0] != "movie.mkv" {
		t.Fatalf("expected movie.mkv pinned, got %v", pinned)
	}

	// Pin again: idempotent, no error, no duplicate entry.
	if err := e.Pin("movie.mkv"); err != nil {
		t.Fatalf("second Pin: %v", err)
	}
	if pinned := e.Pinned(); len(pinned) != 1 {
		t.Fatalf("expected pin to stay idempotent, got %v", pinned)
	}

	if _, err := os.Stat(filepath.Join(e.CacheDir(), pinnedFileName)); err != nil {
		t.Fatalf("expected pins to be persisted to disk: %v", err)
	}

	if err := e.Unpin("movie.mkv"); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if f.priority != swarm.PriorityNone {
		t.Fatalf("expected unpin to drop priority to PriorityNone, got %v", f.priority)
	}
	if pinned := e.Pinned(); len(pinned) != 0 {
		t.Fatalf("expected no pins after unpin, got %v", pinned)
	}

	// Unpin again: idempotent, no error.
	if err := e.Unpin("movie.mkv"); err != nil {
		t.Fatalf("second Unpin: %v", err)
	}
}

func TestLoadPinsReappliesPriorityOnRestart(t *testing.T) {
	cacheDir := t.TempDir()
	content := "hello world"
	mkEngine := func() (*Engine, *fakeFile) {
		file := &fakeFile{path: "movie.mkv", length: int64(len(content))}
		tr := &fakeTorrent{infoHash: "abc", name: "swarm", files: []swarm.File{file}, numPieces: 1, pieceLength: int64(len(content))}
		dataDir := filepath.Join(cacheDir, "swarm")
		os.MkdirAll(dataDir, 0o755)
		os.WriteFile(filepath.Join(dataDir, "movie.mkv"), []byte(content), 0o644)
		e, err := New(Params{TorrentID: "id", TorrentFile: filepath.Join(t.TempDir(), "t.torrent"), CacheDir: cacheDir, SkipCheck: true}, tr)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return e, file
	}

	e1, _ := mkEngine()
	if err := e1.Pin("movie.mkv"); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	e1.Shutdown()

	e2, f2 := mkEngine()
	defer e2.Shutdown()
	if f2.priority != swarm.PriorityNow {
		t.Fatalf("expected restart to reapply PriorityNow from persisted pins, got %v", f2.priority)
	}
	if pinned := e2.Pinned(); len(pinned) != 1 || pinned[0] != "movie.mkv" {
		t.Fatalf("expected persisted pin to survive restart, got %v", pinned)
	}
}

func TestPauseResumeStateMachine(t *testing.T) {
	e, tr, _ := newTestEngine(t, "hello world")

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if e.state != StatePaused {
		t.Fatalf("expected StatePaused, got %s", e.state)
	}
	if tr.downloadAllowed || tr.uploadAllowed {
		t.Fatalf("expected Pause to disallow download/upload")
	}

	// Pause again from paused: invalid transition.
	if err := e.Pause(); err == nil {
		t.Fatalf("expected Pause from an already-paused state to fail")
	}

	if err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if e.state != StateServing {
		t.Fatalf("expected StateServing after Resume, got %s", e.state)
	}

	if err := e.Resume(); err == nil {
		t.Fatalf("expected Resume from a serving state to fail")
	}
}

func TestForceRecheckTransitionsBackToServing(t *testing.T) {
	e, tr, _ := newTestEngine(t, "hello world")
	e.ForceRecheck()

	if tr.verifyCalls != 1 {
		t.Fatalf("expected ForceRecheck to call VerifyData once, got %d", tr.verifyCalls)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		state := e.state
		e.mu.Unlock()
		if state == StateServing {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("engine never returned to StateServing after ForceRecheck")
}

func TestExpandTrackerOverridesExpandsAliasesAndDropsDuplicateUDP(t *testing.T) {
	aliases := map[string]string{"tracker1": "http://tracker.example.com/announce"}
	out := ExpandTrackerOverrides(aliases, []string{
		"tracker1",
		"udp://tracker.example.com:80/announce",
		"udp://other.example.com:6969/announce",
	})
	if len(out) != 2 {
		t.Fatalf("expected the duplicate-host udp tracker to be dropped, got %v", out)
	}
	found := map[string]bool{}
	for _, u := range out {
		found[u] = true
	}
	if !found["http://tracker.example.com/announce"] {
		t.Fatalf("expected alias to expand to its target URL, got %v", out)
	}
	if !found["udp://other.example.com:6969/announce"] {
		t.Fatalf("expected the non-duplicate udp tracker to survive, got %v", out)
	}
}

func TestStatusReflectsStateAndProgress(t *testing.T) {
	e, tr, _ := newTestEngine(t, "hello world")
	tr.complete = map[int]bool{0: true}

	st := e.Status()
	if st.State != "serving" {
		t.Fatalf("expected serving state, got %q", st.State)
	}
	if st.PiecesTotal != 1 || st.PiecesDone != 1 || st.PiecesMissing != 0 {
		t.Fatalf("unexpected piece counts: %+v", st)
	}
	if st.Checking || st.CheckingProgress != nil {
		t.Fatalf("expected no checking progress once serving, got %+v", st)
	}
}

func TestFileInfoReportsPinnedFlag(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	if err := e.Pin("movie.mkv"); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	fi, err := e.FileInfo("movie.mkv")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if !fi.Pinned || fi.Size != 11 {
		t.Fatalf("unexpected FileInfo: %+v", fi)
	}
}

func TestTorrentInfoSingleFileMode(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	ti := e.TorrentInfo()
	if ti.Mode != "single" || ti.Name != "swarm" {
		t.Fatalf("unexpected TorrentInfo: %+v", ti)
	}
}

func TestPruneDataRemovesUnpinnedFilesAndReentersChecking(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	diskPath := filepath.Join(e.CacheDir(), "swarm", "movie.mkv")

	if err := e.PruneData(false); err != nil {
		t.Fatalf("PruneData: %v", err)
	}
	if _, err := os.Stat(diskPath); !os.IsNotExist(err) {
		t.Fatalf("expected cached file to be removed by PruneData, got err=%v", err)
	}

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateChecking {
		t.Fatalf("expected PruneData to transition to StateChecking, got %s", state)
	}
}

func TestPruneDataKeepsPinnedFiles(t *testing.T) {
	e, _, _ := newTestEngine(t, "hello world")
	diskPath := filepath.Join(e.CacheDir(), "swarm", "movie.mkv")

	if err := e.Pin("movie.mkv"); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if err := e.PruneData(true); err != nil {
		t.Fatalf("PruneData: %v", err)
	}
	if _, err := os.Stat(diskPath); err != nil {
		t.Fatalf("expected pinned file to survive PruneData(keepPins=true): %v", err)
	}
}

func TestPieceRangeForBytes(t *testing.T) {
	begin, end := pieceRangeForBytes(0, 5, 10, 8)
	if begin != 0 || end != 2 {
		t.Fatalf("expected piece range [0,2), got [%d,%d)", begin, end)
	}

	begin, end = pieceRangeForBytes(100, 0, 8, 8)
	if begin != 12 || end != 14 {
		t.Fatalf("expected piece range [12,14) with a nonzero file offset, got [%d,%d)", begin, end)
	}
}
