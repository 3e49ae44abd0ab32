// Recorder server - captures meeting audio and serves the HTTP, WebSocket and
// gRPC health APIs
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ai-and-i/recorder/internal/audio/portaudio"
	"github.com/ai-and-i/recorder/internal/catalog"
	"github.com/ai-and-i/recorder/internal/config"
	"github.com/ai-and-i/recorder/internal/monitor"
	"github.com/ai-and-i/recorder/internal/orchestrator"
	"github.com/ai-and-i/recorder/internal/reconcile"
	"github.com/ai-and-i/recorder/internal/recorder"
	"github.com/ai-and-i/recorder/internal/server"
	"github.com/ai-and-i/recorder/internal/storage"
	"github.com/ai-and-i/recorder/internal/timeline"
	"github.com/ai-and-i/recorder/internal/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	acq, err := portaudio.NewAcquirer(portaudio.Config{
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		SystemKeywords: cfg.SystemDeviceKeywords,
		Excluded:       cfg.ExcludedAudioDevices,
	})
	if err != nil {
		return err
	}
	defer func() { _ = acq.Close() }()

	store, err := storage.NewWAVStore(cfg.RecordingsDir)
	if err != nil {
		return err
	}

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	rec := recorder.New(recorderConfig(cfg), acq, recorder.WithStore(store))
	defer rec.Close()

	pipeline := &orchestrator.Pipeline{
		Dir:        cfg.RecordingsDir,
		Tolerances: timeline.Tolerances{Gap: cfg.GapTolerance, Coverage: cfg.CoverageTolerance},
		Gains:      reconcile.DefaultOptions(),
		Mixer:      reconcile.NewMixer(cfg.FFmpegPath),
		Catalog:    cat,
	}
	mgr := orchestrator.New(orchestrator.Config{
		AutoMix:            cfg.AutoMix,
		EventBuffer:        cfg.EventBuffer,
		CheckpointInterval: cfg.CheckpointInterval,
	}, rec, pipeline, cat)

	// Create HTTP/WebSocket server
	srv := server.New(mgr, cfg.EventBuffer)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health service with per-stream status
	hs := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcServer, hs)
	healthEvents, unsubHealth := mgr.Subscribe(cfg.EventBuffer)
	healthDone := make(chan struct{})
	go func() {
		defer close(healthDone)
		reportHealth(hs, healthEvents, mgr.Status)
	}()

	lis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("health server starting", "addr", cfg.HealthAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	go func() {
		slog.Info("recorder server starting", "http", cfg.HTTPAddr, "dir", cfg.RecordingsDir)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	slog.Info("shutting down...")
	hs.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), orchestrator.StopPipelineTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	// An active session is stopped and run through the pipeline before the
	// catalog closes.
	mgr.Close(shutdownCtx)
	srv.Close()
	unsubHealth()
	<-healthDone
	grpcServer.GracefulStop()

	slog.Info("shutdown complete")
	return serveErr
}

func recorderConfig(cfg *config.Config) recorder.Config {
	rc := recorder.DefaultConfig()
	rc.SegmentDuration = cfg.SegmentDuration()
	rc.MicAcquireRetries = cfg.MicAcquireRetries
	rc.RequireMic = cfg.RequireMic
	rc.RequireSystem = cfg.RequireSystem
	rc.Monitor = monitor.Config{
		Interval:         cfg.HealthCheckInterval,
		Limits:           monitor.Limits{MaxAttempts: cfg.RecoveryAttempts, Cooldown: cfg.RecoveryCooldown},
		Debounce:         cfg.SwapDebounce,
		MaxNotifications: cfg.SwapRateLimit,
		NotifyWindow:     cfg.SwapRateWindow,
	}
	return rc
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
