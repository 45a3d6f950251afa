// Command seedlinkd is the SeedLink streaming server: it loads a YAML
// configuration, opens the ring storage root, and serves Feed/Client
// connections until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seedlink4go/seedlink4/internal/archive"
	"github.com/seedlink4go/seedlink4/internal/config"
	"github.com/seedlink4go/seedlink4/internal/export"
	"github.com/seedlink4go/seedlink4/internal/listener"
	"github.com/seedlink4go/seedlink4/internal/logging"
	"github.com/seedlink4go/seedlink4/internal/maintenance"
	"github.com/seedlink4go/seedlink4/internal/session"
	"github.com/seedlink4go/seedlink4/internal/storage"
	"github.com/seedlink4go/seedlink4/internal/sysstats"
)

func main() {
	configPath := flag.String("config", "/etc/seedlinkd/server.yaml", "path to server config file")
	exportRing := flag.String("export-ring", "", "snapshot the named ring's live records to stdout and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	store, err := storage.Open(cfg.Storage.FileBase, uint64(cfg.Storage.Segments), uint64(cfg.Storage.SegSizeRaw), logger)
	if err != nil {
		logger.Error("opening storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *exportRing != "" {
		if err := runExport(store, cfg, *exportRing); err != nil {
			logger.Error("export failed", "ring", *exportRing, "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	sweeper, err := maintenance.New(store, cfg.Maintenance.SweepSchedule, logger)
	if err != nil {
		logger.Error("configuring maintenance scheduler", "error", err)
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

	monitor := sysstats.New(logger, cfg.Storage.FileBase, 0)
	monitor.Start()
	defer monitor.Stop()

	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, archive.Config{
			Bucket:   cfg.Archive.Bucket,
			Endpoint: cfg.Archive.Endpoint,
			Region:   cfg.Archive.Region,
		}, logger)
		if err != nil {
			logger.Error("configuring archiver", "error", err)
			os.Exit(1)
		}
		defer archiver.Close()
		store.SetEvictHook(archiver.Submit)
	}

	deps := session.NewDeps(cfg, store, logger, nil)

	if err := listener.Run(ctx, cfg, deps, logger); err != nil {
		logger.Error("listener error", "error", err)
		os.Exit(1)
	}
}

func runExport(store *storage.Storage, cfg *config.Config, name string) error {
	r, ok := store.Ring(name)
	if !ok {
		return fmt.Errorf("no such ring %q", name)
	}
	compression := export.CompressionGzip
	if cfg.Export.Compression == "zstd" {
		compression = export.CompressionZstd
	}
	_, err := export.Snapshot(r, os.Stdout, compression)
	return err
}
