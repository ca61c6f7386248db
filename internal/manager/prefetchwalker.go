package manager

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/torrentfs/torrentfsd/internal/engine"
	"github.com/torrentfs/torrentfsd/internal/pathindex"
)

// runPrefetchWalker performs the background prefetch-on-start pass
// (spec.md §4.3 step 6): a depth-first walk over the engine's path index
// that calls prefetch per file, respecting batch/sleep/max_files/max_dirs/
// max_bytes pacing and optional media-only filtering
// (original_source/daemon/manager.py's prefetch-on-start walker).
func (m *Manager) runPrefetchWalker(e *engine.Engine) {
	defer m.wg.Done()

	cfg := m.cfg.Prefetch
	walkID := uuid.NewString()
	mediaOnly := strings.EqualFold(cfg.OnStartMode, "media")

	var (
		files, dirs int
		bytesSeen   uint64
	)

	var walk func(dirPath string, depth int) bool
	walk = func(dirPath string, depth int) bool {
		if cfg.MaxDirs > 0 && dirs >= cfg.MaxDirs {
			return false
		}
		dirs++

		entries, err := e.List(dirPath)
		if err != nil {
			return true
		}
		if cfg.ScanSleepMS > 0 {
			sleepOrStop(m.stopCh, time.Duration(cfg.ScanSleepMS)*time.Millisecond)
		}
		for i, ent := range entries {
			if cfg.MaxFiles > 0 && files >= cfg.MaxFiles {
				return false
			}
			if cfg.MaxBytes > 0 && bytesSeen >= cfg.MaxBytes {
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

			if mediaOnly && !isMediaExt(childPath, cfg.MediaExtensions) {
				continue
			}

			select {
			case <-m.stopCh:
				return false
			default:
			}

			if err := e.Prefetch(childPath); err == nil {
				files++
				bytesSeen += uint64(ent.Size)
			}

			if cfg.SleepMS > 0 {
				sleepOrStop(m.stopCh, time.Duration(cfg.SleepMS)*time.Millisecond)
			}
			if cfg.BatchSize > 0 && (i+1)%cfg.BatchSize == 0 && cfg.BatchSleepMS > 0 {
				sleepOrStop(m.stopCh, time.Duration(cfg.BatchSleepMS)*time.Millisecond)
			}
		}
		return true
	}

	walk("", 0)
	m.logger.Printf("manager: prefetch-on-start walk %s for %s complete, %d files, %s", walkID, e.Name(), files, humanize.Bytes(bytesSeen))
}

func isMediaExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if e == "" {
			continue
		}
		if e[0] != '.' {
			e = "." + e
		}
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func sleepOrStop(stopCh <-chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stopCh:
	case <-t.C:
	}
}
