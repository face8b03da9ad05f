package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"

	"github.com/netscream/audiorouter/internal/config"
	"github.com/netscream/audiorouter/internal/engine"
	"github.com/netscream/audiorouter/internal/frame"
	"github.com/netscream/audiorouter/internal/ingress"
	"github.com/netscream/audiorouter/internal/metrics"
	"github.com/netscream/audiorouter/internal/netutil"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging (text or json format, configurable level).
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting audiorouter",
		"scream_addr", cfg.ScreamAddr,
		"rtp_addr", cfg.RTPAddr,
		"queue_depth", cfg.QueueDepth,
	)

	collector := metrics.NewCollector(time.Now())
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	mgr := engine.New(collector, nil, logger)

	if cpus, err := cfg.CPUAffinityList(); err != nil {
		slog.Error("invalid cpu-affinity config", "error", err)
		os.Exit(1)
	} else if len(cpus) > 0 {
		if err := netutil.PinCurrentThread(cpus[0]); err != nil {
			slog.Warn("failed to pin dataplane goroutine", "error", err)
		}
	}

	if cfg.DiscoverySideband != "" {
		f, err := os.OpenFile(cfg.DiscoverySideband, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			slog.Error("failed to open discovery sideband file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		mgr.SetDiscovery(ingress.NewWriterDiscovery(f))
	}

	rtpFormat := frame.Format{SampleRate: cfg.RTPSampleRate, BitDepth: cfg.RTPBitDepth, Channels: cfg.RTPChannels}
	if err := mgr.Initialize(appCtx, cfg.ScreamAddr, cfg.RTPAddr, rtpFormat); err != nil {
		slog.Error("failed to initialize audio manager", "error", err)
		os.Exit(1)
	}

	// apply_state is driven by whatever host process embeds this binary's
	// reconcile.ConfigApplier; this entrypoint only starts the dataplane and
	// exposes metrics, per spec.md's "no CLI of the core is specified".

	metricsSrv := &http.Server{
		Addr:         ":9090",
		Handler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("metrics server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}
	mgr.Shutdown()
	slog.Info("shutdown complete")
}
