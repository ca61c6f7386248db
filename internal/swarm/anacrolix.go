package swarm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	eglog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"
)

// anacrolixClient implements Client over a real *torrent.Client.
type anacrolixClient struct {
	inner *torrent.Client
}

// NewClient constructs a swarm Client, retrying torrent.NewClient on
// transient failure the way the teacher's Configure loop does (up to 10
// attempts, 3s backoff) since the swarm library can transiently fail to bind
// its listen socket.
func NewClient(cfg ClientConfig) (Client, error) {
	tc := torrent.NewDefaultClientConfig()
	tc.DataDir = cfg.DataDir
	tc.ListenPort = cfg.ListenPort
	tc.DisableUTP = cfg.DisableUTP
	tc.DisableIPv6 = cfg.DisableIPv6
	tc.NoDHT = cfg.NoDHT
	tc.NoUpload = cfg.NoUpload
	tc.Seed = cfg.Seed
	tc.Debug = cfg.Debug
	if cfg.UseMMap {
		tc.DefaultStorage = storage.NewMMap(tc.DataDir)
	} else {
		tc.DefaultStorage = storage.NewFileByInfoHash(tc.DataDir)
	}
	if cfg.Quiet {
		tc.Logger = eglog.Discard
	}
	if cfg.UploadRateLimitBytes > 0 {
		tc.UploadRateLimiter = rate.NewLimiter(rate.Limit(cfg.UploadRateLimitBytes), int(cfg.UploadRateLimitBytes))
	}
	if cfg.DownloadRateLimitBytes > 0 {
		tc.DownloadRateLimiter = rate.NewLimiter(rate.Limit(cfg.DownloadRateLimitBytes), int(cfg.DownloadRateLimitBytes))
	}
	if cfg.ProxyURL != "" {
		proxyURL := cfg.ProxyURL
		tc.HTTPProxy = func(*http.Request) (*url.URL, error) {
			return url.Parse(proxyURL)
		}
	}

	var (
		inner *torrent.Client
		err   error
	)
	attempts := 10
	for attempts > 0 {
		attempts--
		inner, err = torrent.NewClient(tc)
		if err == nil {
			break
		}
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("swarm: creating client: %w", err)
	}
	return &anacrolixClient{inner: inner}, nil
}

func (c *anacrolixClient) Close() []error {
	return c.inner.Close()
}

func (c *anacrolixClient) AddTorrentFromFile(path string) (Torrent, error) {
	t, err := c.inner.AddTorrentFromFile(path)
	if err != nil {
		return nil, err
	}
	return &anacrolixTorrent{inner: t}, nil
}

// LoadMetainfo parses a .torrent file without adding it to the client.
func LoadMetainfo(path string) (*metainfo.MetaInfo, error) {
	return metainfo.LoadFromFile(path)
}

// InfoHashHex returns the hex info-hash of a parsed metainfo. The manager's
// duplicate detection does not call it; it compares the constructed
// engine's InfoHash instead.
func InfoHashHex(mi *metainfo.MetaInfo) (string, error) {
	return mi.HashInfoBytes().HexString(), nil
}

// anacrolixTorrent implements Torrent over a real *torrent.Torrent.
type anacrolixTorrent struct {
	inner *torrent.Torrent
}

func (t *anacrolixTorrent) WaitForInfo(ctx context.Context) error {
	select {
	case <-t.inner.GotInfo():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *anacrolixTorrent) InfoHash() string { return t.inner.InfoHash().HexString() }
func (t *anacrolixTorrent) Name() string     { return t.inner.Name() }
func (t *anacrolixTorrent) NumPieces() int   { return t.inner.NumPieces() }
func (t *anacrolixTorrent) Length() int64    { return t.inner.Length() }

func (t *anacrolixTorrent) BytesCompleted() int64 { return t.inner.BytesCompleted() }

func (t *anacrolixTorrent) PieceComplete(i int) bool {
	return t.inner.PieceState(i).Complete
}

func (t *anacrolixTorrent) PieceLength() int64 {
	info, err := t.inner.Metainfo().UnmarshalInfo()
	if err != nil {
		return 0
	}
	return info.PieceLength
}

func (t *anacrolixTorrent) SetPiecePriority(i int, p Priority) {
	t.inner.Piece(i).SetPriority(p.toLib())
}

// WaitPieces blocks until every piece in [begin, end) is complete, or ctx is
// done. It polls rather than using the library's alert stream, matching
// original_source/daemon/engine.py's _wait_pieces polling loop.
func (t *anacrolixTorrent) WaitPieces(ctx context.Context, begin, end int) error {
	if begin >= end {
		return nil
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		allDone := true
		for i := begin; i < end; i++ {
			if !t.PieceComplete(i) {
				allDone = false
				break
			}
		}
		if allDone {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *anacrolixTorrent) Files() []File {
	libFiles := t.inner.Files()
	out := make([]File, len(libFiles))
	for i, f := range libFiles {
		out[i] = &anacrolixFile{inner: f}
	}
	return out
}

// AllowDataDownload/AllowDataUpload/Disallow* mirror the teacher's
// StartTorrent/StopTorrent toggling (engine/engine.go:367-369).
func (t *anacrolixTorrent) AllowDataDownload()    { t.inner.AllowDataDownload() }
func (t *anacrolixTorrent) AllowDataUpload()      { t.inner.AllowDataUpload() }
func (t *anacrolixTorrent) DisallowDataDownload() { t.inner.DisallowDataDownload() }
func (t *anacrolixTorrent) DisallowDataUpload()   { t.inner.DisallowDataUpload() }

// VerifyData forces a full recheck (spec.md §4.2 force_recheck).
func (t *anacrolixTorrent) VerifyData() { t.inner.VerifyData() }

// Drop removes the torrent from the client entirely.
func (t *anacrolixTorrent) Drop() { t.inner.Drop() }

// AddTrackers injects a new tier-0 tracker tier.
func (t *anacrolixTorrent) AddTrackers(tier []string) {
	t.inner.AddTrackers([][]string{tier})
}

// Trackers returns the flattened announce list.
func (t *anacrolixTorrent) Trackers() []string {
	mi := t.inner.Metainfo()
	var out []string
	for _, tier := range mi.AnnounceList {
		out = append(out, tier...)
	}
	return out
}

// IsPrivate reports the torrent's priv flag.
func (t *anacrolixTorrent) IsPrivate() bool {
	info, err := t.inner.Metainfo().UnmarshalInfo()
	if err != nil {
		return false
	}
	return info.Private != nil && *info.Private
}

// Magnet returns the torrent's magnet URI.
func (t *anacrolixTorrent) Magnet() string {
	return t.inner.Metainfo().Magnet(nil, nil).String()
}

func (t *anacrolixTorrent) Comment() string     { return t.inner.Metainfo().Comment }
func (t *anacrolixTorrent) CreatedBy() string   { return t.inner.Metainfo().CreatedBy }
func (t *anacrolixTorrent) CreationDate() int64 { return t.inner.Metainfo().CreationDate }

func (t *anacrolixTorrent) Stats() Stats {
	s := t.inner.Stats()
	return Stats{
		ActivePeers:      s.ActivePeers,
		TotalPeers:       s.TotalPeers,
		BytesReadData:    s.ConnStats.BytesReadData.Int64(),
		BytesWrittenData: s.ConnStats.BytesWrittenData.Int64(),
		PiecesComplete:   s.PiecesComplete,
	}
}

// Peers returns the current connected-peer list. Seed detection mirrors
// torrentclaw-truespec's downloader: a peer that claims every piece is
// counted as a seed.
func (t *anacrolixTorrent) Peers() []PeerInfo {
	conns := t.inner.PeerConns()
	out := make([]PeerInfo, 0, len(conns))
	numPieces := t.inner.NumPieces()
	for _, pc := range conns {
		isSeed := numPieces > 0 && int(pc.PeerPieces().GetCardinality()) >= numPieces
		out = append(out, PeerInfo{
			Addr:   pc.RemoteAddr.String(),
			Client: pc.PeerClientName,
			IsSeed: isSeed,
		})
	}
	return out
}

// Reannounce triggers a fresh tracker announce. The swarm library announces
// to newly-added trackers immediately (the same mechanism the tracker
// override uses), so re-adding the torrent's own current tiers is how a
// manual reannounce is forced without a dedicated library call.
func (t *anacrolixTorrent) Reannounce() {
	mi := t.inner.Metainfo()
	for _, tier := range mi.AnnounceList {
		if len(tier) > 0 {
			t.inner.AddTrackers([][]string{tier})
		}
	}
}

// anacrolixFile implements File over a real *torrent.File.
type anacrolixFile struct {
	inner  *torrent.File
	reader *torrent.Reader
}

func (f *anacrolixFile) Path() string           { return f.inner.Path() }
func (f *anacrolixFile) Length() int64          { return f.inner.Length() }
func (f *anacrolixFile) Offset() int64          { return f.inner.Offset() }
func (f *anacrolixFile) BytesCompleted() int64  { return f.inner.BytesCompleted() }
func (f *anacrolixFile) SetPriority(p Priority) { f.inner.SetPriority(p.toLib()) }

// EnableSequential biases the swarm toward sequential fetch order for this
// file, the way a `mode=stream` read is expected to (spec.md §4.2). Grounded
// on the file.NewReader()/reader.SetResponsive() pattern used by several
// pack repos' streaming paths; the reader is kept open for the engine's
// lifetime as the bias handle and is never read from directly (reads happen
// against the sparse on-disk file per spec.md §4.2).
func (f *anacrolixFile) EnableSequential() {
	if f.reader != nil {
		return
	}
	f.reader = f.inner.NewReader()
	f.reader.SetResponsive()
}

// Close releases the sequential-bias reader, if one was created.
func (f *anacrolixFile) Close() error {
	if f.reader == nil {
		return nil
	}
	err := f.reader.Close()
	f.reader = nil
	return err
}
