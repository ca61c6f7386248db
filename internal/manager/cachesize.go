package manager

import (
	"context"
	"io/fs"
	"path/filepath"
	"syscall"

	"github.com/shirou/gopsutil/v3/disk"
)

// CacheSizeResult is the response shape SPEC_FULL.md §3 fixes for the
// cache-size RPC command: logical and actual on-disk usage of cache_root,
// plus the host filesystem's free/total, from gopsutil.
type CacheSizeResult struct {
	Logical   int64
	Disk      int64
	DiskFree  uint64
	DiskTotal uint64
}

// CacheSize walks cache_root summing logical file size and actual block
// usage, matching original_source/daemon/manager.py's cache_size (st_size
// plus st_blocks*512), then reports the host volume's free/total from
// gopsutil's disk.Usage.
func (m *Manager) CacheSize(ctx context.Context) (CacheSizeResult, error) {
	var result CacheSizeResult

	err := filepath.WalkDir(m.cacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		result.Logical += info.Size()
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			result.Disk += st.Blocks * 512
		} else {
			result.Disk += info.Size()
		}
		return nil
	})
	if err != nil {
		return CacheSizeResult{}, err
	}

	usage, err := disk.UsageWithContext(ctx, m.cacheRoot)
	if err == nil {
		result.DiskFree = usage.Free
		result.DiskTotal = usage.Total
	}
	return result, nil
}
