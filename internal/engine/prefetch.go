package engine

import (
	"math"

	"github.com/torrentfs/torrentfsd/internal/pathindex"
	"github.com/torrentfs/torrentfsd/internal/swarm"
)

// ByteRange is a half-open byte interval [Start, End) within a file.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the range's length in bytes.
func (r ByteRange) Len() int64 { return r.End - r.Start }

// PrefetchRanges is the result of computing the head/tail prefetch windows
// for one file (spec.md §4.2).
type PrefetchRanges struct {
	Head ByteRange
	Tail ByteRange
	// HasTail is false when the tail range was omitted (overlaps the head,
	// or has zero length).
	HasTail bool
}

// rangeLen implements spec.md §4.2's formula:
//
//	len = 0                                    if size == 0
//	    = size                                  if size <= m
//	    = clamp(round(size * p), m, M) ^ size   otherwise
func rangeLen(size int64, shape RangeShape) int64 {
	if size == 0 {
		return 0
	}
	m := int64(shape.Min)
	if size <= m {
		return size
	}
	l := int64(math.Round(float64(size) * shape.Pct))
	if l < m {
		l = m
	}
	if M := int64(shape.Max); M > 0 && l > M {
		l = M
	}
	if l > size {
		l = size
	}
	return l
}

// computePrefetchRanges derives the head and tail byte ranges for a file of
// the given size under the given shape.
func computePrefetchRanges(size int64, shape PrefetchShape) PrefetchRanges {
	headLen := rangeLen(size, shape.Head)
	tailLen := rangeLen(size, shape.Tail)

	head := ByteRange{Start: 0, End: headLen}
	tailStart := size - tailLen
	hasTail := tailLen > 0 && tailStart > headLen
	var tail ByteRange
	if hasTail {
		tail = ByteRange{Start: tailStart, End: size}
	}
	return PrefetchRanges{Head: head, Tail: tail, HasTail: hasTail}
}

// shapeFor returns the media or other prefetch shape for path.
func (e *Engine) shapeFor(path string) PrefetchShape {
	if e.media.IsMedia(path) {
		return e.mediaShape
	}
	return e.otherShape
}

// Prefetch raises the priority of a file's computed prefetch ranges to a
// medium level (above idle, below pin) without blocking (spec.md §4.2).
func (e *Engine) Prefetch(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, st, err := e.fileAt(path)
	if err != nil {
		return err
	}
	if _, pinned := e.pinnedPaths[path]; pinned {
		return nil // already top priority; prefetch would only lower it
	}

	ranges := computePrefetchRanges(st.Size, e.shapeFor(path))
	pieceLen := e.torrent.PieceLength()

	e.prioritizeRangeLocked(f, ranges.Head, pieceLen, swarm.PriorityReadahead)
	if ranges.HasTail {
		e.prioritizeRangeLocked(f, ranges.Tail, pieceLen, swarm.PriorityReadahead)
	}
	if f.Length() > 0 {
		f.SetPriority(swarm.PriorityHigh)
	}
	return nil
}

func (e *Engine) prioritizeRangeLocked(f swarm.File, r ByteRange, pieceLen int64, p swarm.Priority) {
	if r.Len() <= 0 {
		return
	}
	begin, end := pieceRangeForBytes(f.Offset(), r.Start, r.Len(), pieceLen)
	for i := begin; i < end; i++ {
		e.torrent.SetPiecePriority(i, p)
	}
}

// PrefetchInfoResult is the view returned by prefetch_info(path).
type PrefetchInfoResult struct {
	Ranges        []ByteRange
	PrefetchBytes int64
	FileSize      int64
	PctCovered    float64
	PiecesCovered []int
}

// PrefetchInfo reports the computed ranges, total byte budget, covered
// pieces, and coverage percentage for path.
func (e *Engine) PrefetchInfo(path string) (PrefetchInfoResult, error) {
	e.mu.Lock()
	f, st, err := e.fileAt(path)
	if err != nil {
		e.mu.Unlock()
		return PrefetchInfoResult{}, err
	}
	ranges := computePrefetchRanges(st.Size, e.shapeFor(path))
	pieceLen := e.torrent.PieceLength()
	e.mu.Unlock()

	var result PrefetchInfoResult
	result.FileSize = st.Size
	result.Ranges = append(result.Ranges, ranges.Head)
	result.PrefetchBytes += ranges.Head.Len()
	if ranges.HasTail {
		result.Ranges = append(result.Ranges, ranges.Tail)
		result.PrefetchBytes += ranges.Tail.Len()
	}
	if st.Size > 0 {
		result.PctCovered = float64(result.PrefetchBytes) / float64(st.Size)
	}

	pieceSet := map[int]struct{}{}
	for _, r := range result.Ranges {
		begin, end := pieceRangeForBytes(f.Offset(), r.Start, r.Len(), pieceLen)
		for i := begin; i < end; i++ {
			pieceSet[i] = struct{}{}
		}
	}
	for i := range pieceSet {
		result.PiecesCovered = append(result.PiecesCovered, i)
	}
	return result, nil
}

// PinTree walks the index depth-first, pinning up to maxFiles files (0 means
// unlimited) within maxDepth directory levels (0 pins only the torrent's
// root-level files; -1 means unlimited), logging a summary on completion.
// Grounded on original_source/daemon/manager.py's enqueue_pin/_pin_all_engine,
// which uses the same 0-is-root/-1-is-unlimited sentinel convention.
func (e *Engine) PinTree(maxFiles, maxDepth int) {
	walkID := prefetchWalkerID()
	pinned := 0
	var walk func(dirPath string, depth int) bool
	walk = func(dirPath string, depth int) bool {
		if maxDepth >= 0 && depth > maxDepth {
			return true
		}
		entries, err := e.index.List(dirPath)
		if err != nil {
			return true
		}
		for _, ent := range entries {
			if maxFiles > 0 && pinned >= maxFiles {
				return false
			}
			childPath := ent.Name
			if dirPath != "" {
				childPath = dirPath + "/" + ent.Name
			}
			if ent.Type == pathindex.TypeDir {
				if !walk(childPath, depth+1) {
					return false
				}
				continue
			}
			if err := e.Pin(childPath); err == nil {
				pinned++
			}
		}
		return true
	}
	walk("", 0)
	e.logger.Printf("engine %s: pin-on-load walk %s complete, pinned %d files", e.id, walkID, pinned)
}
