// Package config resolves the daemon's effective configuration (C6) from a
// layered search path, following the teacher's Config-struct shape
// (engine/engine.go's Config) but driven by spf13/viper against a file search
// path instead of CLI flag binding, per spec.md §4.6.
package config

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

//go:embed default.json
var defaultFS embed.FS

// PrefetchClass is the prefetch shape for one file class (media or other),
// per spec.md §4.2's head/tail range formula.
type PrefetchClass struct {
	StartPct float64 `mapstructure:"start_pct" json:"start_pct"`
	EndPct   float64 `mapstructure:"end_pct" json:"end_pct"`
	StartMin uint64  `mapstructure:"start_min_bytes" json:"start_min_bytes"`
	StartMax uint64  `mapstructure:"start_max_bytes" json:"start_max_bytes"`
	EndMin   uint64  `mapstructure:"end_min_bytes" json:"end_min_bytes"`
	EndMax   uint64  `mapstructure:"end_max_bytes" json:"end_max_bytes"`
}

// PrefetchConfig groups the media/other shapes and the start-up pacing knobs.
type PrefetchConfig struct {
	Media           PrefetchClass `mapstructure:"media" json:"media"`
	Other           PrefetchClass `mapstructure:"other" json:"other"`
	MediaExtensions []string      `mapstructure:"media_extensions" json:"media_extensions"`

	OnStart      bool   `mapstructure:"on_start" json:"on_start"`
	OnStartMode  string `mapstructure:"on_start_mode" json:"on_start_mode"`
	MaxFiles     int    `mapstructure:"max_files" json:"max_files"`
	SleepMS      int    `mapstructure:"sleep_ms" json:"sleep_ms"`
	BatchSize    int    `mapstructure:"batch_size" json:"batch_size"`
	BatchSleepMS int    `mapstructure:"batch_sleep_ms" json:"batch_sleep_ms"`
	ScanSleepMS  int    `mapstructure:"scan_sleep_ms" json:"scan_sleep_ms"`
	MaxDirs      int    `mapstructure:"max_dirs" json:"max_dirs"`
	MaxBytes     uint64 `mapstructure:"max_bytes" json:"max_bytes"`
}

// EngineConfig controls the per-torrent Torrent Engine's own, independently
// configurable media gate (spec.md §9 open question: the engine's
// `mode=auto` read gate and the manager's prefetch-on-start media filter
// are deliberately separate config surfaces and must never be merged).
type EngineConfig struct {
	MediaExtensions []string `mapstructure:"media_extensions" json:"media_extensions"`
}

// TrackersConfig is the §4.6 tracker-override list and alias table.
type TrackersConfig struct {
	Enable  bool              `mapstructure:"enable" json:"enable"`
	Add     []string          `mapstructure:"add" json:"add"`
	Aliases map[string]string `mapstructure:"aliases" json:"aliases"`
}

// ResumeConfig controls the background resume-save loop.
type ResumeConfig struct {
	SaveIntervalS int `mapstructure:"save_interval_s" json:"save_interval_s"`
}

// CheckingConfig controls hash-check admission (C3).
type CheckingConfig struct {
	MaxActive int `mapstructure:"max_active" json:"max_active"`
}

// Config is the fully resolved, read-only effective configuration.
type Config struct {
	TorrentDir string `mapstructure:"torrent_dir" json:"torrent_dir"`
	CacheRoot  string `mapstructure:"cache_root" json:"cache_root"`
	SocketPath string `mapstructure:"socket_path" json:"socket_path"`

	MaxMetadataBytes uint64 `mapstructure:"max_metadata_bytes" json:"max_metadata_bytes"`
	SkipCheck        bool   `mapstructure:"skip_check" json:"skip_check"`

	ListenPort  int  `mapstructure:"listen_port" json:"listen_port"`
	DisableUTP  bool `mapstructure:"disable_utp" json:"disable_utp"`
	DisableIPv6 bool `mapstructure:"disable_ipv6" json:"disable_ipv6"`
	NoDHT       bool `mapstructure:"no_dht" json:"no_dht"`
	NoUpload    bool `mapstructure:"no_upload" json:"no_upload"`
	Seed        bool `mapstructure:"seed" json:"seed"`

	UploadRateLimitBytes   uint64 `mapstructure:"upload_rate_limit_bytes" json:"upload_rate_limit_bytes"`
	DownloadRateLimitBytes uint64 `mapstructure:"download_rate_limit_bytes" json:"download_rate_limit_bytes"`

	WatcherIntervalS int `mapstructure:"watcher_interval_s" json:"watcher_interval_s"`

	Resume   ResumeConfig   `mapstructure:"resume" json:"resume"`
	Checking CheckingConfig `mapstructure:"checking" json:"checking"`
	Prefetch PrefetchConfig `mapstructure:"prefetch" json:"prefetch"`
	Trackers TrackersConfig `mapstructure:"trackers" json:"trackers"`
	Engine   EngineConfig   `mapstructure:"engine" json:"engine"`
}

// searchPath returns the ordered list of candidate config file paths, per
// spec.md §4.6: $TORRENTFSD_CONFIG, ~/.config/torrentfs/torrentfsd.json,
// /etc/torrentfs/torrentfsd.json.
func searchPath() []string {
	var paths []string
	if p := os.Getenv("TORRENTFSD_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "torrentfs", "torrentfsd.json"))
	}
	paths = append(paths, "/etc/torrentfs/torrentfsd.json")
	return paths
}

// Load resolves the effective configuration by trying each candidate in the
// search path in order, falling back to the embedded default when none of
// them exist on disk.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	for _, p := range searchPath() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", p, err)
		}
		return decode(v)
	}

	data, err := defaultFS.ReadFile("default.json")
	if err != nil {
		return nil, fmt.Errorf("config: reading embedded default: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: parsing embedded default: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(byteSizeDecodeHook)); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &c, nil
}

// byteSizeDecodeHook lets every uint64 byte-count field (max_metadata_bytes,
// prefetch.*.{start,end}_{min,max}_bytes, prefetch.max_bytes, the rate-limit
// fields) accept either a bare integer or a datasize literal like "64MB",
// per spec.md §4.6. Non-string sources and non-uint64 targets pass through
// untouched so the rest of the config keeps decoding normally.
func byteSizeDecodeHook(from, to reflect.Kind, data interface{}) (interface{}, error) {
	if from != reflect.String || to != reflect.Uint64 {
		return data, nil
	}
	return ParseByteSize(data.(string))
}

// ParseByteSize parses a datasize literal ("64MB") or a bare integer (bytes)
// the way spec.md §4.6's byte-sized keys are allowed to be expressed.
func ParseByteSize(s string) (uint64, error) {
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return v.Bytes(), nil
}
