package main

import (
	"log/slog"
	"time"

	"github.com/ein-bandit/unity-webrtc-control/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	anyOrigin := len(cfg.AllowedOrigins) == 0 || containsString(cfg.AllowedOrigins, "*")
	if cfg.Mode == config.ModeProd && anyOrigin {
		logger.Warn("startup warning: any browser origin may open a signaling connection while --mode=prod",
			"warning_code", "allowed_origins_any_in_prod",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.ClientLimit == 0 {
		logger.Warn("startup warning: UWC_CLIENT_LIMIT=0 rejects every signaling connection",
			"warning_code", "client_limit_zero",
			"client_limit", cfg.ClientLimit,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 && cfg.WebRTCUDPPortRange == nil && cfg.WebRTCUDPMuxPort == 0 {
		logger.Warn("startup warning: UWC_WEBRTC_NAT_1TO1_IPS is set without a UDP port range or mux port (port forwarding cannot target ephemeral ports)",
			"warning_code", "nat_1to1_without_port_range",
			"webrtc_nat_1to1_ips", cfg.WebRTCNAT1To1IPs,
			"mode", cfg.Mode,
		)
	}

	if cfg.CandidateFilter == config.CandidateFilterHostIPv4 && config.HasTURNServer(cfg.ICEServers) {
		logger.Warn("startup warning: TURN servers are configured but only host IPv4 candidates are sent to clients",
			"warning_code", "turn_with_host_candidate_filter",
			"candidate_filter", cfg.CandidateFilter,
			"mode", cfg.Mode,
		)
	}

	if cfg.SessionStartTimeout > 2*time.Minute {
		logger.Warn("startup warning: UWC_SESSION_START_TIMEOUT is very large (signaling reads for a client stall while its session starts)",
			"warning_code", "session_start_timeout_large",
			"session_start_timeout", cfg.SessionStartTimeout,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
