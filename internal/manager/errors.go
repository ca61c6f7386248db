package manager

import "errors"

// Manager-level sentinels, in the teacher's package-level errors.New(...)
// style (engine/engine.go:29-32).
var (
	ErrTorrentFileMissing = errors.New("torrent file does not exist")
)
