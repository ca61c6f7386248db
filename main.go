package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torrentfs/torrentfsd/internal/config"
	"github.com/torrentfs/torrentfsd/internal/manager"
	"github.com/torrentfs/torrentfsd/internal/rpc"
	"github.com/torrentfs/torrentfsd/internal/swarm"
	"github.com/torrentfs/torrentfsd/internal/watcher"
)

// VERSION is set with ldflags at release build time.
var VERSION = "0.0.0-src"

func main() {
	log.SetFlags(0)
	log.SetPrefix("[torrentfs] ")
	log.Printf("torrentfsd %s starting", VERSION)

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.CacheRoot, 0o755); err != nil {
		log.Printf("creating cache_root %s: %v", cfg.CacheRoot, err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.TorrentDir, 0o755); err != nil {
		log.Printf("creating torrent_dir %s: %v", cfg.TorrentDir, err)
		os.Exit(1)
	}

	client, err := swarm.NewClient(swarm.ClientConfig{
		DataDir:                cfg.CacheRoot,
		ListenPort:             cfg.ListenPort,
		DisableUTP:             cfg.DisableUTP,
		DisableIPv6:            cfg.DisableIPv6,
		NoDHT:                  cfg.NoDHT,
		NoUpload:               cfg.NoUpload,
		Seed:                   cfg.Seed,
		UseMMap:                true,
		UploadRateLimitBytes:   cfg.UploadRateLimitBytes,
		DownloadRateLimitBytes: cfg.DownloadRateLimitBytes,
	})
	if err != nil {
		log.Printf("starting swarm client: %v", err)
		os.Exit(1)
	}

	logger := log.Default()
	mgr := manager.New(client, cfg, logger)

	watchInterval := time.Duration(cfg.WatcherIntervalS) * time.Second
	dw := watcher.New(cfg.TorrentDir, watchInterval, mgr, logger)
	dw.Start()

	disp := rpc.NewDispatcher(mgr, cfg, logger)
	srv := rpc.NewServer(cfg.SocketPath, disp, logger)
	if err := srv.Listen(); err != nil {
		log.Printf("starting rpc server: %v", err)
		dw.Stop()
		mgr.Shutdown()
		os.Exit(1)
	}
	log.Printf("serving torrents from %s", cfg.TorrentDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down")
	srv.Shutdown()
	dw.Stop()
	mgr.Shutdown()
	log.Printf("shutdown complete")
}
