package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hexmapr/density-engine/internal/core/config"
	"github.com/hexmapr/density-engine/internal/core/httpclient"
	"github.com/hexmapr/density-engine/internal/core/model"
	"github.com/hexmapr/density-engine/internal/dataset"
	"github.com/hexmapr/density-engine/internal/invalidation/kafkaconsumer"
	"github.com/hexmapr/density-engine/internal/logger"
	"github.com/hexmapr/density-engine/internal/observability"
	"github.com/hexmapr/density-engine/internal/scene"
	"github.com/hexmapr/density-engine/internal/server"
	"github.com/hexmapr/density-engine/internal/viewport"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	dataDirFlag := flag.String("data-dir", "", "aggregate file directory (overrides DATA_DIR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = strings.TrimSpace(*dataDirFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "density-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting density server",
		"addr", cfg.Addr,
		"version", Version,
		"data_base_url", cfg.DataBaseURL,
		"data_dir", cfg.DataDir)

	var source dataset.Source
	if cfg.DataBaseURL != "" {
		s, err := dataset.NewHTTPSource(cfg.DataBaseURL, cfg.DataPathTemplate, httpclient.NewOutbound())
		if err != nil {
			appLog.Error("bad data base url", "err", err)
			return 1
		}
		source = s
	} else {
		s, err := dataset.NewFileSource(cfg.DataDir, cfg.DataPathTemplate)
		if err != nil {
			appLog.Error("bad data directory", "err", err)
			return 1
		}
		source = s
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var loaderOpts []dataset.Option
	if cfg.PayloadCacheEnabled {
		pc, err := dataset.NewRedisPayloadCache(ctx, appLog, cfg.RedisAddr, cfg.PayloadCacheTTL)
		if err != nil {
			appLog.Error("payload cache unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = pc.Close() }()
		loaderOpts = append(loaderOpts, dataset.WithPayloadCache(pc))
	}
	loader := dataset.NewLoader(appLog, source, loaderOpts...)

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers:             cfg.Invalidation.Brokers,
			Topic:               cfg.Invalidation.Topic,
			GroupID:             cfg.Invalidation.GroupID,
			SessionTimeout:      cfg.Invalidation.SessionTimeout,
			Heartbeat:           cfg.Invalidation.Heartbeat,
			RebalanceTimeout:    cfg.Invalidation.RebalanceTimeout,
			InitialOffsetOldest: cfg.Invalidation.InitialOldest,
		}, appLog, loader)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	controller := viewport.New(appLog, loader, model.ViewportState{
		Longitude: cfg.InitialLon,
		Latitude:  cfg.InitialLat,
		Zoom:      cfg.InitialZoom,
	}, cfg.PanelWidthPx)

	composer := scene.NewComposer(appLog, cfg.TileURL)
	app := server.NewApp(appLog, controller, composer)

	if err := server.Run(ctx, cfg, appLog, app); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
