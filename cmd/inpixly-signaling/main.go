package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/inpixly/signaling/internal/config"
	"github.com/inpixly/signaling/internal/httpserver"
	"github.com/inpixly/signaling/internal/metrics"
	"github.com/inpixly/signaling/internal/room"
	"github.com/inpixly/signaling/internal/session"
	"github.com/inpixly/signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting inpixly-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_room_size", cfg.MaxRoomSize,
		"idle_timeout", cfg.IdleTimeout,
		"join_timeout", cfg.JoinTimeout,
		"outbound_queue_capacity", cfg.OutboundQueueCapacity,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)
	if err := cfg.ICEConfigError(); err != nil {
		// Serve signaling anyway; /webrtc/ice reports the misconfiguration.
		logger.Warn("ice server configuration invalid", "err", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	rooms := room.NewRegistry(cfg.MaxRoomSize)
	sessions := session.NewTable()

	srv, err := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime), rooms, m)
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		os.Exit(2)
	}

	sig := signaling.NewServer(signaling.Config{
		Rooms:          rooms,
		Sessions:       sessions,
		Metrics:        m,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,

		IdleTimeout:           cfg.IdleTimeout,
		JoinTimeout:           cfg.JoinTimeout,
		PingInterval:          cfg.WSPingInterval,
		OutboundQueueCapacity: cfg.OutboundQueueCapacity,
		MaxMessageBytes:       cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond:  cfg.MaxSignalingMessagesPerSecond,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reap pre-created rooms that nobody ever joined.
	go room.RunCleanup(ctx, rooms, cfg.RoomPrecreateTTL, cleanupInterval(cfg.RoomPrecreateTTL), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	interval := ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
