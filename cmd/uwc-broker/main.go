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

	"github.com/google/uuid"

	"github.com/ein-bandit/unity-webrtc-control/internal/bridge"
	"github.com/ein-bandit/unity-webrtc-control/internal/broker"
	"github.com/ein-bandit/unity-webrtc-control/internal/config"
	"github.com/ein-bandit/unity-webrtc-control/internal/discovery"
	"github.com/ein-bandit/unity-webrtc-control/internal/httpserver"
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

	logger.Info("starting uwc-broker",
		"listen_addr", cfg.ListenAddr,
		"signaling_path", cfg.SignalingPath,
		"mode", cfg.Mode,
		"client_limit", cfg.ClientLimit,
		"session_start_timeout", cfg.SessionStartTimeout,
		"data_channel_label", cfg.DataChannelLabel,
		"candidate_filter", cfg.CandidateFilter,
		"ice_servers", len(cfg.ICEServers),
		"webrtc_udp_mux_port", cfg.WebRTCUDPMuxPort,
	)

	logStartupWarnings(logger, cfg)

	// The broker builds the WebRTC API up front so misconfigured ICE
	// networking fails here rather than on the first offer.
	b, err := broker.New(broker.Config{
		Settings: cfg,
		Handler:  newLoggingHandler(logger.With("component", "app")),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to configure broker", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		_ = b.Shutdown(context.Background())
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, b)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	if cfg.Banner {
		printBanner(ln.Addr(), cfg.SignalingPath)
	}

	var advertiser *discovery.Advertiser
	if cfg.MDNSAdvertise {
		advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Instance: cfg.MDNSInstance,
			Logger:   logger.With("component", "discovery"),
		})
		if err := advertiser.Start(listenPort(ln.Addr()), cfg.SignalingPath); err != nil {
			logger.Warn("mdns advertisement failed", "err", err)
		}
	}

	select {
	case err := <-errCh:
		shutdown(logger, cfg, b, nil, advertiser)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdown(logger, cfg, b, srv, advertiser)

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// shutdown stops advertising, tears down sessions and signaling connections,
// then releases the listener.
func shutdown(logger *slog.Logger, cfg config.Config, b *broker.Broker, srv *httpserver.Server, advertiser *discovery.Advertiser) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if advertiser != nil {
		_ = advertiser.Close()
	}
	if err := b.Shutdown(ctx); err != nil {
		logger.Error("broker shutdown failed", "err", err)
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
		}
	}
}

func listenPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// newLoggingHandler is the application side used when the broker runs as a
// standalone process: it records client lifecycle and payloads.
func newLoggingHandler(logger *slog.Logger) bridge.Handler {
	return bridge.HandlerFuncs{
		Register: func(id uuid.UUID) {
			logger.Info("client registered", "client_id", id.String())
		},
		Message: func(id uuid.UUID, payload string) {
			msg, err := bridge.DecodeMessage(payload)
			if err != nil {
				logger.Debug("client message", "client_id", id.String(), "payload", payload)
				return
			}
			logger.Debug("client message", "client_id", id.String(), "type", msg.Type, "data", string(msg.Data))
		},
		Unregister: func(id uuid.UUID) {
			logger.Info("client unregistered", "client_id", id.String())
		},
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (`go run` / dev builds).
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

	return commit, buildTime
}
