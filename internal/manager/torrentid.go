package manager

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

// torrentIDFromPath derives the stable torrent-id from the absolute path of
// a .torrent file: the first 12 hex characters of sha1(absolute_path)
// (spec.md §3, §9 "Torrent-file path as identity"). Moving the file produces
// a new id and a fresh cache directory by design.
func torrentIDFromPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])[:12], nil
}

// isTorrentID reports whether s looks like a torrent-id: exactly 12 lowercase
// hex characters (spec.md §6, used by prune_cache to decide what to skip).
func isTorrentID(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, c := range s {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return false
	}
	return true
}
