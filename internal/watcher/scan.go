package watcher

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	maxAttempts       = 3
	stabilityGapDelay = 500 * time.Millisecond
	maxBackoff        = 60 * time.Second
)

// corruptMessage is the log message recordFailure writes for every failed
// admission, followed by the underlying error; the cause of the failure is
// not inspected, so non-parser failures carry the same message.
const corruptMessage = "arquivo .torrent inválido ou corrompido"

// scan runs one poll pass: detect vanished torrents, then attempt to admit
// stable new ones (spec.md §4.4).
func (w *Watcher) scan() {
	present, err := w.listTorrentFiles()
	if err != nil {
		w.logger.Printf("watcher: listing %s: %v", w.dir, err)
		return
	}

	presentSet := make(map[string]struct{}, len(present))
	for _, p := range present {
		presentSet[p] = struct{}{}
	}
	w.removeVanished(presentSet)

	now := time.Now()
	for _, path := range present {
		w.tryAdmit(path, now)
	}
}

func (w *Watcher) listTorrentFiles() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".torrent" {
			continue
		}
		out = append(out, filepath.Join(w.dir, ent.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// removeVanished calls RemoveTorrent for every previously-seen path no
// longer present on disk.
func (w *Watcher) removeVanished(present map[string]struct{}) {
	w.mu.Lock()
	var gone []string
	for path, id := range w.seen {
		if _, ok := present[path]; !ok {
			gone = append(gone, id)
			delete(w.seen, path)
		}
	}
	w.mu.Unlock()

	for _, id := range gone {
		if err := w.mgr.RemoveTorrent(id); err != nil {
			w.logger.Printf("watcher: removing vanished torrent %s: %v", id, err)
		}
	}
}

// tryAdmit handles one candidate .torrent file: skip if already seen or
// backed off, apply the stability gate, then hand it to the manager.
func (w *Watcher) tryAdmit(path string, now time.Time) {
	w.mu.Lock()
	if _, already := w.seen[path]; already {
		w.mu.Unlock()
		return
	}
	if st, pending := w.pending[path]; pending && st.nextTry.After(now) {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if !w.isStable(path) {
		return
	}

	id, err := w.mgr.AddTorrent(path)
	if err != nil {
		w.recordFailure(path, err)
		return
	}

	w.mu.Lock()
	w.seen[path] = id
	delete(w.pending, path)
	w.mu.Unlock()
}

// isStable implements spec.md §4.4's stability gate: size unchanged across a
// 0.5s gap, and non-zero.
func (w *Watcher) isStable(path string) bool {
	size0, ok := fileSize(path)
	if !ok || size0 == 0 {
		return false
	}
	if !w.sleep(stabilityGapDelay) {
		return false
	}
	size1, ok := fileSize(path)
	if !ok {
		return false
	}
	return size0 == size1
}

func fileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// recordFailure increments the attempt counter, schedules a backed-off
// retry, and quarantines the file after maxAttempts failures.
func (w *Watcher) recordFailure(path string, err error) {
	w.mu.Lock()
	st, ok := w.pending[path]
	if !ok {
		st = &pendingState{}
		w.pending[path] = st
	}
	st.attempts++
	attempts := st.attempts
	w.mu.Unlock()

	w.logger.Printf("watcher: %s: %s (%v)", path, corruptMessage, err)

	if attempts >= maxAttempts {
		w.quarantine(path)
		return
	}

	backoffExp := attempts - 1
	if backoffExp > 5 {
		backoffExp = 5
	}
	backoff := time.Duration(math.Min(maxBackoff.Seconds(), w.interval.Seconds()*math.Pow(2, float64(backoffExp)))) * time.Second

	w.mu.Lock()
	st.nextTry = time.Now().Add(backoff)
	w.mu.Unlock()
}

// quarantine moves a repeatedly-failing file to <dir>/bad/ and stops
// tracking it.
func (w *Watcher) quarantine(path string) {
	badDir := filepath.Join(w.dir, "bad")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		w.logger.Printf("watcher: creating %s: %v", badDir, err)
		return
	}
	dest := filepath.Join(badDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.logger.Printf("watcher: quarantining %s: %v", path, err)
	}

	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}
