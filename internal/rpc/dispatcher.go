package rpc

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/torrentfs/torrentfsd/internal/apperr"
	"github.com/torrentfs/torrentfsd/internal/config"
	"github.com/torrentfs/torrentfsd/internal/engine"
	"github.com/torrentfs/torrentfsd/internal/manager"
	"github.com/torrentfs/torrentfsd/internal/rpcproto"
)

// daemonVersion is reported by the `hello` command.
const daemonVersion = "torrentfsd/1"

// Dispatcher maps RPC commands onto manager/engine operations, per spec.md
// §4.5's authoritative command set, converting errors to the stable tokens
// in §4.5/§7 via apperr.Token.
type Dispatcher struct {
	mgr    *manager.Manager
	cfg    *config.Config
	logger *log.Logger
}

// NewDispatcher constructs a Dispatcher bound to mgr and cfg.
func NewDispatcher(mgr *manager.Manager, cfg *config.Config, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[torrentfs] ", 0)
	}
	return &Dispatcher{mgr: mgr, cfg: cfg, logger: logger}
}

// Dispatch runs one request to completion and returns its response frame
// plus an optional bytes payload (only for a successful `read`).
func (d *Dispatcher) Dispatch(ctx context.Context, req rpcproto.Request) (rpcproto.Response, []byte) {
	switch req.Cmd {
	case "hello":
		return rpcproto.OK(req.ID, map[string]interface{}{"version": daemonVersion}), nil
	case "torrents":
		return d.torrents(req), nil
	case "config":
		return d.config(req), nil
	case "status-all":
		return d.statusAll(req), nil
	case "downloads":
		return d.downloads(req), nil
	case "peers-all":
		return d.peersAll(req), nil
	case "cache-size":
		return d.cacheSize(ctx, req), nil
	case "prune-cache":
		return d.pruneCache(req), nil
	case "remove-torrent", "remove_torrent_by_id":
		return d.removeTorrent(req), nil
	case "reannounce-all":
		return d.reannounceAll(req), nil
	case "pin-on-load":
		return d.pinOnLoad(req), nil
	case "pinned-all":
		return d.pinnedAll(req), nil

	case "status", "stat", "list", "read", "pin", "unpin", "pinned", "peers",
		"prefetch", "file-info", "prefetch-info", "torrent-info", "infohash",
		"reannounce", "stop", "resume", "prune-torrent", "recheck",
		"add-tracker", "publish-tracker", "trackers", "tracker-status":
		return d.perTorrent(req)

	default:
		return rpcproto.Err(req.ID, apperr.Token(apperr.NewUnknownCommand(req.Cmd))), nil
	}
}

func (d *Dispatcher) torrents(req rpcproto.Request) rpcproto.Response {
	listing := d.mgr.ListTorrents()
	rows := make([]map[string]interface{}, 0, len(listing))
	for _, l := range listing {
		rows = append(rows, map[string]interface{}{
			"id": l.ID, "name": l.Name, "torrent_name": l.TorrentName, "cache": l.Cache,
		})
	}
	return rpcproto.OK(req.ID, map[string]interface{}{"torrents": rows})
}

func (d *Dispatcher) config(req rpcproto.Request) rpcproto.Response {
	raw, err := json.Marshal(d.cfg)
	if err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err))
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err))
	}
	return rpcproto.OK(req.ID, m)
}

func (d *Dispatcher) statusAll(req rpcproto.Request) rpcproto.Response {
	result := d.mgr.StatusAll()
	return rpcproto.OK(req.ID, map[string]interface{}{
		"torrents": result.Torrents,
		"totals":   result.Totals,
	})
}

func (d *Dispatcher) downloads(req rpcproto.Request) rpcproto.Response {
	entries := d.mgr.Downloads(req.MaxFiles)
	return rpcproto.OK(req.ID, map[string]interface{}{"downloads": entries})
}

func (d *Dispatcher) peersAll(req rpcproto.Request) rpcproto.Response {
	groups := d.mgr.PeersAll()
	return rpcproto.OK(req.ID, map[string]interface{}{"peers": groups})
}

func (d *Dispatcher) cacheSize(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	result, err := d.mgr.CacheSize(ctx)
	if err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err))
	}
	return rpcproto.OK(req.ID, map[string]interface{}{
		"logical": result.Logical, "disk": result.Disk,
		"disk_free": result.DiskFree, "disk_total": result.DiskTotal,
	})
}

func (d *Dispatcher) pruneCache(req rpcproto.Request) rpcproto.Response {
	result, err := d.mgr.PruneCache(req.DryRun)
	if err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err))
	}
	return rpcproto.OK(req.ID, map[string]interface{}{
		"removed": result.Removed, "skipped": result.Skipped,
	})
}

func (d *Dispatcher) removeTorrent(req rpcproto.Request) rpcproto.Response {
	if req.Torrent == "" {
		return rpcproto.Err(req.ID, apperr.Token(apperr.ErrTorrentRequired))
	}
	if err := d.mgr.RemoveTorrent(req.Torrent); err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err))
	}
	return rpcproto.OK(req.ID, nil)
}

func (d *Dispatcher) reannounceAll(req rpcproto.Request) rpcproto.Response {
	for _, l := range d.mgr.ListTorrents() {
		if e, err := d.mgr.Engine(l.ID); err == nil {
			e.Reannounce()
		}
	}
	return rpcproto.OK(req.ID, nil)
}

func (d *Dispatcher) pinOnLoad(req rpcproto.Request) rpcproto.Response {
	if req.Basename == "" {
		return rpcproto.Err(req.ID, apperr.Token(apperr.ErrInvalidArgument))
	}
	d.mgr.EnqueuePin(req.Basename, req.MaxFiles, req.MaxDepth)
	return rpcproto.OK(req.ID, nil)
}

func (d *Dispatcher) pinnedAll(req rpcproto.Request) rpcproto.Response {
	out := map[string][]string{}
	for _, l := range d.mgr.ListTorrents() {
		if e, err := d.mgr.Engine(l.ID); err == nil {
			out[l.ID] = e.Pinned()
		}
	}
	return rpcproto.OK(req.ID, map[string]interface{}{"pinned": out})
}

// perTorrent resolves req.Torrent to an engine and dispatches the
// per-torrent command set.
func (d *Dispatcher) perTorrent(req rpcproto.Request) (rpcproto.Response, []byte) {
	if req.Torrent == "" {
		return rpcproto.Err(req.ID, apperr.Token(apperr.ErrTorrentRequired)), nil
	}
	id, err := d.mgr.Resolve(req.Torrent)
	if err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err)), nil
	}
	e, err := d.mgr.Engine(id)
	if err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err)), nil
	}

	switch req.Cmd {
	case "status":
		return rpcproto.OK(req.ID, statusFields(e.Status())), nil
	case "stat":
		st, err := e.Stat(req.Path)
		if err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, map[string]interface{}{"type": string(st.Type), "size": st.Size, "file_index": st.FileIndex}), nil
	case "list":
		entries, err := e.List(req.Path)
		if err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		rows := make([]map[string]interface{}, 0, len(entries))
		for _, ent := range entries {
			rows = append(rows, map[string]interface{}{"name": ent.Name, "type": string(ent.Type), "size": ent.Size})
		}
		return rpcproto.OK(req.ID, map[string]interface{}{"entries": rows}), nil
	case "read":
		return d.read(req, e)
	case "pin":
		if err := e.Pin(req.Path); err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, nil), nil
	case "unpin":
		if err := e.Unpin(req.Path); err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, nil), nil
	case "pinned":
		return rpcproto.OK(req.ID, map[string]interface{}{"paths": e.Pinned()}), nil
	case "peers":
		return rpcproto.OK(req.ID, map[string]interface{}{"peers": e.Peers()}), nil
	case "prefetch":
		if err := e.Prefetch(req.Path); err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, nil), nil
	case "file-info":
		fi, err := e.FileInfo(req.Path)
		if err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, map[string]interface{}{
			"path": fi.Path, "size": fi.Size, "file_index": fi.FileIndex,
			"completed": fi.Completed, "pinned": fi.Pinned,
		}), nil
	case "prefetch-info":
		pi, err := e.PrefetchInfo(req.Path)
		if err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, map[string]interface{}{
			"ranges": pi.Ranges, "prefetch_bytes": pi.PrefetchBytes,
			"file_size": pi.FileSize, "pct_covered": pi.PctCovered, "pieces_covered": pi.PiecesCovered,
		}), nil
	case "torrent-info":
		ti := e.TorrentInfo()
		return rpcproto.OK(req.ID, map[string]interface{}{
			"name": ti.Name, "comment": ti.Comment, "created_by": ti.CreatedBy,
			"creation_date": ti.CreationDate, "piece_length": ti.PieceLength,
			"num_pieces": ti.NumPieces, "total_size": ti.TotalSize, "mode": ti.Mode,
			"trackers": ti.Trackers, "infohash": ti.InfoHash, "magnet": ti.Magnet,
		}), nil
	case "infohash":
		return rpcproto.OK(req.ID, map[string]interface{}{"infohash": e.InfoHash()}), nil
	case "reannounce":
		e.Reannounce()
		return rpcproto.OK(req.ID, nil), nil
	case "stop":
		if err := e.Pause(); err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, nil), nil
	case "resume":
		if err := e.Resume(); err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, nil), nil
	case "prune-torrent":
		if err := e.PruneData(req.KeepPins); err != nil {
			return rpcproto.Err(req.ID, apperr.Token(err)), nil
		}
		return rpcproto.OK(req.ID, nil), nil
	case "recheck":
		e.ForceRecheck()
		return rpcproto.OK(req.ID, nil), nil
	case "add-tracker":
		e.AddTrackers(req.Trackers)
		return rpcproto.OK(req.ID, nil), nil
	case "publish-tracker":
		e.PublishTrackers(req.Trackers)
		return rpcproto.OK(req.ID, nil), nil
	case "trackers":
		return rpcproto.OK(req.ID, map[string]interface{}{"trackers": e.Trackers()}), nil
	case "tracker-status":
		ts := e.TrackerStatus()
		return rpcproto.OK(req.ID, map[string]interface{}{"trackers": ts.Trackers, "overrides": ts.Overrides}), nil
	default:
		return rpcproto.Err(req.ID, apperr.Token(apperr.NewUnknownCommand(req.Cmd))), nil
	}
}

func statusFields(st engine.Status) map[string]interface{} {
	m := map[string]interface{}{
		"name": st.Name, "state": st.State, "progress": st.Progress,
		"peers": st.Peers, "seeds": st.Seeds,
		"pieces_total": st.PiecesTotal, "pieces_done": st.PiecesDone, "pieces_missing": st.PiecesMissing,
		"downloaded": st.Downloaded, "uploaded": st.Uploaded,
		"download_rate": st.DownloadRate, "upload_rate": st.UploadRate,
		"checking": st.Checking, "paused": st.Paused,
	}
	if st.CheckingProgress != nil {
		m["checking_progress"] = *st.CheckingProgress
	}
	return m
}

// read implements spec.md §4.5's read protocol: size is bounded to
// [0, 4 MiB], the response declares data_len, and the bytes frame is omitted
// entirely when data_len is 0.
func (d *Dispatcher) read(req rpcproto.Request, e *engine.Engine) (rpcproto.Response, []byte) {
	if req.Size < 0 || req.Size > rpcproto.MaxReadSize {
		return rpcproto.Err(req.ID, apperr.Token(apperr.ErrReadSizeInvalid)), nil
	}
	mode := engine.ReadMode(req.Mode)
	if mode == "" {
		mode = engine.ModeAuto
	}
	var timeout time.Duration
	if req.TimeoutS > 0 {
		timeout = time.Duration(req.TimeoutS * float64(time.Second))
	}

	data, err := e.Read(req.Path, req.Offset, req.Size, mode, timeout)
	if err != nil {
		return rpcproto.Err(req.ID, apperr.Token(err)), nil
	}
	if len(data) == 0 {
		return rpcproto.OK(req.ID, map[string]interface{}{"data_len": 0}), nil
	}
	return rpcproto.Response{ID: req.ID, OK: true, DataLen: len(data)}, data
}
