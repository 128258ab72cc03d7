package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"colf/pkg/config"
	"colf/pkg/metadata"
	"colf/pkg/service"
)

func main() {
	cfg := &config.Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.CommandLine)
	configFile := flag.String("config.file", "", "YAML configuration file; flags set defaults, the file overrides them")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if *configFile != "" {
		if err := cfg.Load(*configFile); err != nil {
			level.Error(logger).Log("msg", "failed to load config", "err", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid config", "err", err)
		os.Exit(1)
	}

	lvl, _ := cfg.LevelOption()
	logger = level.NewFilter(logger, lvl)
	logger = log.With(logger, "caller", log.DefaultCaller)

	catalog, err := metadata.NewCatalog(cfg.Server.DataDir)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open catalog", "dir", cfg.Server.DataDir, "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := service.New(cfg, catalog, reg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create service", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		level.Info(logger).Log("msg", "starting colf server", "addr", cfg.Server.ListenAddress,
			"data_dir", cfg.Server.DataDir, "compression", cfg.Codec.Compression, "datasets", len(catalog.List()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(logger).Log("msg", "server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	level.Info(logger).Log("msg", "received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		level.Error(logger).Log("msg", "shutdown error", "err", err)
	}
	if err := catalog.Save(); err != nil {
		level.Error(logger).Log("msg", "failed to save catalog", "err", err)
	}
}
