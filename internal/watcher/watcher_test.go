package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeManager struct {
	addCalls    []string
	addErr      error
	addID       string
	removeCalls []string
}

func (f *fakeManager) AddTorrent(path string) (string, error) {
	f.addCalls = append(f.addCalls, path)
	if f.addErr != nil {
		return "", f.addErr
	}
	return f.addID, nil
}

func (f *fakeManager) RemoveTorrent(key string) error {
	f.removeCalls = append(f.removeCalls, key)
	return nil
}

func writeTorrent(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestAdmitsStableTorrent(t *testing.T) {
	dir := t.TempDir()
	writeTorrent(t, dir, "a.torrent", []byte("content"))

	mgr := &fakeManager{addID: "abc123456789"}
	w := New(dir, time.Second, mgr, nil)

	w.scan()

	if len(mgr.addCalls) != 1 {
		t.Fatalf("expected 1 add_torrent call, got %d", len(mgr.addCalls))
	}
	w.mu.Lock()
	id, ok := w.seen[filepath.Join(dir, "a.torrent")]
	w.mu.Unlock()
	if !ok || id != "abc123456789" {
		t.Fatalf("expected file marked seen with id abc123456789, got %q ok=%v", id, ok)
	}

	// A second scan must not re-add.
	w.scan()
	if len(mgr.addCalls) != 1 {
		t.Fatalf("expected no re-add on second scan, got %d calls", len(mgr.addCalls))
	}
}

func TestSkipsZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	writeTorrent(t, dir, "empty.torrent", nil)

	mgr := &fakeManager{addID: "id"}
	w := New(dir, time.Second, mgr, nil)
	w.scan()

	if len(mgr.addCalls) != 0 {
		t.Fatalf("expected zero-byte file to be skipped, got %d add calls", len(mgr.addCalls))
	}
}

func TestQuarantineAfterThreeFailures(t *testing.T) {
	dir := t.TempDir()
	path := writeTorrent(t, dir, "bad.torrent", []byte("junk"))

	mgr := &fakeManager{addErr: errors.New("parse failure")}
	w := New(dir, time.Second, mgr, nil)

	for i := 0; i < 3; i++ {
		w.scan()
		// Let the retry backoff elapse before the next pass.
		w.mu.Lock()
		if st, ok := w.pending[path]; ok {
			st.nextTry = time.Time{}
		}
		w.mu.Unlock()
	}

	if len(mgr.addCalls) != 3 {
		t.Fatalf("expected 3 add attempts before quarantine, got %d", len(mgr.addCalls))
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to be moved out of torrent_dir", path)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad", "bad.torrent")); err != nil {
		t.Fatalf("expected quarantined file under bad/: %v", err)
	}
}

func TestRemovesVanishedTorrent(t *testing.T) {
	dir := t.TempDir()
	path := writeTorrent(t, dir, "gone.torrent", []byte("content"))

	mgr := &fakeManager{addID: "id1"}
	w := New(dir, time.Second, mgr, nil)
	w.scan()

	if err := os.Remove(path); err != nil {
		t.Fatalf("removing %s: %v", path, err)
	}
	w.scan()

	if len(mgr.removeCalls) != 1 || mgr.removeCalls[0] != "id1" {
		t.Fatalf("expected remove_torrent(id1), got %v", mgr.removeCalls)
	}
}
