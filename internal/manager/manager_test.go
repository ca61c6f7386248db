package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/torrentfs/torrentfsd/internal/config"
	"github.com/torrentfs/torrentfsd/internal/swarm"
)

// fakeFile is a minimal swarm.File double: one path, a fixed length, and a
// BytesCompleted value the test can mutate directly.
type fakeFile struct {
	path      string
	length    int64
	completed int64
	priority  swarm.Priority
}

func (f *fakeFile) Path() string           { return f.path }
func (f *fakeFile) Length() int64          { return f.length }
func (f *fakeFile) Offset() int64          { return 0 }
func (f *fakeFile) BytesCompleted() int64  { return f.completed }
func (f *fakeFile) SetPriority(p swarm.Priority) { f.priority = p }
func (f *fakeFile) EnableSequential()       {}
func (f *fakeFile) Close() error           { return nil }

// fakeTorrent is a minimal swarm.Torrent double driven entirely by its
// fields, so tests can construct whatever shape of torrent a scenario needs
// without touching the real anacrolix-backed implementation.
type fakeTorrent struct {
	infoHash string
	name     string
	files    []swarm.File
	checking bool
}

func (t *fakeTorrent) WaitForInfo(ctx context.Context) error   { return nil }
func (t *fakeTorrent) InfoHash() string                        { return t.infoHash }
func (t *fakeTorrent) Name() string                            { return t.name }
func (t *fakeTorrent) NumPieces() int                          { return 1 }
func (t *fakeTorrent) Length() int64 {
	var n int64
	for _, f := range t.files {
		n += f.Length()
	}
	return n
}
func (t *fakeTorrent) BytesCompleted() int64 {
	var n int64
	for _, f := range t.files {
		n += f.BytesCompleted()
	}
	return n
}
func (t *fakeTorrent) PieceComplete(i int) bool            { return !t.checking }
func (t *fakeTorrent) PieceLength() int64                  { return 1 << 14 }
func (t *fakeTorrent) SetPiecePriority(i int, p swarm.Priority) {}
func (t *fakeTorrent) WaitPieces(ctx context.Context, begin, end int) error { return nil }
func (t *fakeTorrent) Files() []swarm.File                 { return t.files }
func (t *fakeTorrent) AllowDataDownload()                  {}
func (t *fakeTorrent) AllowDataUpload()                    {}
func (t *fakeTorrent) DisallowDataDownload()               {}
func (t *fakeTorrent) DisallowDataUpload()                 {}
func (t *fakeTorrent) VerifyData()                         {}
func (t *fakeTorrent) Drop()                               {}
func (t *fakeTorrent) AddTrackers(tier []string)            {}
func (t *fakeTorrent) Trackers() []string                  { return nil }
func (t *fakeTorrent) IsPrivate() bool                      { return false }
func (t *fakeTorrent) Magnet() string                       { return "magnet:?xt=urn:btih:" + t.infoHash }
func (t *fakeTorrent) Comment() string                      { return "" }
func (t *fakeTorrent) CreatedBy() string                    { return "" }
func (t *fakeTorrent) CreationDate() int64                  { return 0 }
func (t *fakeTorrent) Stats() swarm.Stats                   { return swarm.Stats{} }
func (t *fakeTorrent) Peers() []swarm.PeerInfo              { return nil }
func (t *fakeTorrent) Reannounce()                          {}

// fakeClient hands out a pre-seeded fakeTorrent per torrent file path, so a
// test can script exactly which infohash/name each AddTorrent call produces.
type fakeClient struct {
	byPath map[string]*fakeTorrent
	closed bool
}

func newFakeClient() *fakeClient { return &fakeClient{byPath: map[string]*fakeTorrent{}} }

func (c *fakeClient) Close() []error { c.closed = true; return nil }

func (c *fakeClient) AddTorrentFromFile(path string) (swarm.Torrent, error) {
	tr, ok := c.byPath[path]
	if !ok {
		tr = &fakeTorrent{infoHash: path, name: filepath.Base(path)}
	}
	return tr, nil
}

func writeTorrentFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("d4:infod6:lengthi1eee"), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func newTestManager(t *testing.T, client *fakeClient) (*Manager, string) {
	t.Helper()
	cacheRoot := t.TempDir()
	cfg := &config.Config{CacheRoot: cacheRoot}
	return New(client, cfg, nil), cacheRoot
}

func TestAddTorrentIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeTorrentFile(t, dir, "one.torrent")

	client := newFakeClient()
	client.byPath[path] = &fakeTorrent{infoHash: "hash1", name: "movie"}
	mgr, _ := newTestManager(t, client)

	id1, err := mgr.AddTorrent(path)
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	id2, err := mgr.AddTorrent(path)
	if err != nil {
		t.Fatalf("second AddTorrent: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent id, got %q then %q", id1, id2)
	}
	if len(mgr.engines) != 1 {
		t.Fatalf("expected exactly one registered engine, got %d", len(mgr.engines))
	}
}

func TestAddTorrentRejectsDuplicateInfohash(t *testing.T) {
	dir := t.TempDir()
	path1 := writeTorrentFile(t, dir, "one.torrent")
	path2 := writeTorrentFile(t, dir, "two.torrent")

	client := newFakeClient()
	client.byPath[path1] = &fakeTorrent{infoHash: "same-hash", name: "movie"}
	client.byPath[path2] = &fakeTorrent{infoHash: "same-hash", name: "movie-again"}
	mgr, _ := newTestManager(t, client)

	id1, err := mgr.AddTorrent(path1)
	if err != nil {
		t.Fatalf("AddTorrent(path1): %v", err)
	}
	id2, err := mgr.AddTorrent(path2)
	if err != nil {
		t.Fatalf("AddTorrent(path2): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected duplicate infohash to resolve to the existing id %q, got %q", id1, id2)
	}
	if _, err := os.Stat(path2); err == nil {
		t.Fatalf("expected duplicate's source .torrent file to be removed")
	}
	if len(mgr.engines) != 1 {
		t.Fatalf("expected exactly one registered engine after rejecting duplicate, got %d", len(mgr.engines))
	}
}

func TestAddTorrentMissingFile(t *testing.T) {
	client := newFakeClient()
	mgr, _ := newTestManager(t, client)

	if _, err := mgr.AddTorrent(filepath.Join(t.TempDir(), "missing.torrent")); err != ErrTorrentFileMissing {
		t.Fatalf("expected ErrTorrentFileMissing, got %v", err)
	}
}

func TestAddTorrentRejectsOversizedMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeTorrentFile(t, dir, "one.torrent")

	client := newFakeClient()
	client.byPath[path] = &fakeTorrent{infoHash: "hash1", name: "movie"}

	cacheRoot := t.TempDir()
	cfg := &config.Config{CacheRoot: cacheRoot, MaxMetadataBytes: 4}
	mgr := New(client, cfg, nil)

	if _, err := mgr.AddTorrent(path); err == nil {
		t.Fatalf("expected AddTorrent to reject a .torrent file over max_metadata_bytes")
	}
	if len(mgr.engines) != 0 {
		t.Fatalf("expected no engine to be registered for a rejected oversized torrent file")
	}
}

func TestResolveAmbiguousAndNotFound(t *testing.T) {
	dir := t.TempDir()
	path1 := writeTorrentFile(t, dir, "one.torrent")
	path2 := writeTorrentFile(t, dir, "two.torrent")

	client := newFakeClient()
	client.byPath[path1] = &fakeTorrent{infoHash: "hash1", name: "dup-name"}
	client.byPath[path2] = &fakeTorrent{infoHash: "hash2", name: "dup-name"}
	mgr, _ := newTestManager(t, client)

	id1, err := mgr.AddTorrent(path1)
	if err != nil {
		t.Fatalf("AddTorrent(path1): %v", err)
	}
	if _, err := mgr.AddTorrent(path2); err != nil {
		t.Fatalf("AddTorrent(path2): %v", err)
	}

	if _, err := mgr.Resolve("dup-name"); err == nil {
		t.Fatalf("expected ambiguous-name error, got nil")
	}
	if _, err := mgr.Resolve("nonexistent"); err == nil {
		t.Fatalf("expected not-found error, got nil")
	}

	id, err := mgr.Resolve(id1)
	if err != nil {
		t.Fatalf("resolving by id: %v", err)
	}
	if id != id1 {
		t.Fatalf("expected Resolve to pass a direct id through unchanged, got %q", id)
	}
}

func TestRemoveTorrent(t *testing.T) {
	dir := t.TempDir()
	path := writeTorrentFile(t, dir, "one.torrent")

	client := newFakeClient()
	client.byPath[path] = &fakeTorrent{infoHash: "hash1", name: "movie"}
	mgr, _ := newTestManager(t, client)

	id, err := mgr.AddTorrent(path)
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	if err := mgr.RemoveTorrent(id); err != nil {
		t.Fatalf("RemoveTorrent: %v", err)
	}
	if _, err := mgr.Engine(id); err == nil {
		t.Fatalf("expected engine to be gone after RemoveTorrent")
	}
	if client.closed {
		t.Fatalf("RemoveTorrent must not close the swarm client, only Shutdown does")
	}
}

func TestCheckingMaxActiveGatesAdmission(t *testing.T) {
	dir := t.TempDir()
	busyPath := writeTorrentFile(t, dir, "busy.torrent")
	waitingPath := writeTorrentFile(t, dir, "waiting.torrent")

	client := newFakeClient()
	client.byPath[busyPath] = &fakeTorrent{infoHash: "busy-hash", name: "busy", checking: true}
	client.byPath[waitingPath] = &fakeTorrent{infoHash: "waiting-hash", name: "waiting"}

	cacheRoot := t.TempDir()
	cfg := &config.Config{CacheRoot: cacheRoot, Checking: config.CheckingConfig{MaxActive: 1}}
	mgr := New(client, cfg, nil)

	if _, err := mgr.AddTorrent(busyPath); err != nil {
		t.Fatalf("AddTorrent(busy): %v", err)
	}

	done := make(chan struct{})
	go func() {
		if _, err := mgr.AddTorrent(waitingPath); err != nil {
			t.Errorf("AddTorrent(waiting): %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("expected second AddTorrent to block while the checking slot is occupied")
	case <-time.After(100 * time.Millisecond):
	}

	// Release the slot: flip the busy engine's torrent out of "checking".
	client.byPath[busyPath].checking = false

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected second AddTorrent to proceed once the checking slot freed up")
	}

	mgr.Shutdown()
}

func TestEnqueuePinImmediateAndPending(t *testing.T) {
	dir := t.TempDir()
	path := writeTorrentFile(t, dir, "one.torrent")

	client := newFakeClient()
	client.byPath[path] = &fakeTorrent{
		infoHash: "hash1",
		name:     "movie",
		files:    []swarm.File{&fakeFile{path: "movie/a.mkv", length: 100}},
	}
	mgr, _ := newTestManager(t, client)

	// Pending: no matching engine registered yet.
	mgr.EnqueuePin("two.torrent", 10, 1)
	mgr.mu.Lock()
	_, pending := mgr.pendingPins["two.torrent"]
	mgr.mu.Unlock()
	if !pending {
		t.Fatalf("expected a pending pin entry for an unseen basename")
	}

	if _, err := mgr.AddTorrent(path); err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}

	// Immediate: a matching engine already exists.
	mgr.EnqueuePin("one.torrent", 10, 1)
}
