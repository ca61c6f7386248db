package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/torrentfs/torrentfsd/internal/apperr"
	"github.com/torrentfs/torrentfsd/internal/swarm"
)

// ReadMode selects the priority/sequential-bias policy for a read, per
// spec.md §4.2.
type ReadMode string

const (
	ModeStream ReadMode = "stream"
	ModeNormal ReadMode = "normal"
	ModeAuto   ReadMode = "auto"
)

// Read translates a path-scoped byte range into piece prioritisations,
// waits for the required pieces, and reads from the sparse on-disk cache.
// timeout<=0 waits indefinitely. No partial data is ever returned on
// timeout (spec.md §4.2, §7).
func (e *Engine) Read(path string, offset, size int64, mode ReadMode, timeout time.Duration) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, apperr.ErrInvalidArgument
	}

	e.mu.Lock()
	f, st, err := e.fileAt(path)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	filesize := st.Size
	if offset >= filesize {
		e.mu.Unlock()
		return []byte{}, nil
	}
	remaining := filesize - offset
	actual := size
	if actual > remaining {
		actual = remaining
	}
	if actual == 0 {
		e.mu.Unlock()
		return []byte{}, nil
	}

	resolvedMode := mode
	if resolvedMode == ModeAuto {
		if e.media.IsMedia(path) {
			resolvedMode = ModeStream
		} else {
			resolvedMode = ModeNormal
		}
	}

	switch resolvedMode {
	case ModeStream:
		f.EnableSequential()
		f.SetPriority(swarm.PriorityNow)
	default:
		f.SetPriority(swarm.PriorityNormal)
	}

	pieceLen := e.torrent.PieceLength()
	beginPiece, endPiece := pieceRangeForBytes(f.Offset(), offset, actual, pieceLen)
	for i := beginPiece; i < endPiece; i++ {
		e.torrent.SetPiecePriority(i, swarm.PriorityNow)
	}
	diskPath := e.diskPathLocked(f)
	e.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := e.torrent.WaitPieces(ctx, beginPiece, endPiece); err != nil {
		return nil, apperr.NewTimeout(path)
	}

	return readRange(diskPath, offset, actual)
}

// pieceRangeForBytes computes the [begin, end) piece indices covering
// [fileOffset+byteOffset, fileOffset+byteOffset+size) within the torrent's
// logical byte stream.
func pieceRangeForBytes(fileOffset, byteOffset, size, pieceLen int64) (begin, end int) {
	if pieceLen <= 0 {
		return 0, 0
	}
	start := fileOffset + byteOffset
	stop := start + size
	begin = int(start / pieceLen)
	end = int((stop + pieceLen - 1) / pieceLen)
	return begin, end
}

// diskPathLocked resolves the on-disk path for f, preferring a ".part"
// suffix if present (anacrolix/torrent's convention for incomplete files;
// grounded on torrentclaw-truespec's downloader notes on DataDir layout).
func (e *Engine) diskPathLocked(f swarm.File) string {
	base := filepath.Join(e.cacheDir, e.torrent.Name(), filepath.FromSlash(f.Path()))
	if _, err := os.Stat(base + ".part"); err == nil {
		return base + ".part"
	}
	return base
}

func readRange(path string, offset, size int64) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	buf := make([]byte, size)
	n, err := fh.ReadAt(buf, offset)
	if err != nil && n < len(buf) {
		return nil, err
	}
	return buf[:n], nil
}
