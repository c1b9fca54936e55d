package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/ein-bandit/unity-webrtc-control/internal/config"
)

// NewAPI builds the pion API shared by all sessions. The returned release
// function closes the shared UDP mux, if one was configured, and must be
// called after every session using the API has been closed.
func NewAPI(cfg config.Config, logger *slog.Logger) (*webrtc.API, func() error, error) {
	se := webrtc.SettingEngine{}
	if logger != nil {
		se.LoggerFactory = NewLoggerFactory(logger)
	}
	release, err := ApplyNetworkSettings(&se, cfg)
	if err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api, release, nil
}

// ApplyNetworkSettings configures ICE ports, advertised addresses and the
// listen interface on se.
func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) (func() error, error) {
	release := func() error { return nil }

	var ipFilter func(net.IP) bool
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		ipFilter = func(ip net.IP) bool {
			return ip.Equal(listenIP)
		}
		se.SetIPFilter(ipFilter)
	}

	switch {
	case cfg.WebRTCUDPMuxPort != 0:
		opts := []ice.UDPMuxFromPortOption{
			ice.UDPMuxFromPortWithNetworks(ice.NetworkTypeUDP4),
		}
		if ipFilter != nil {
			opts = append(opts, ice.UDPMuxFromPortWithIPFilter(ipFilter))
		}
		if se.LoggerFactory != nil {
			opts = append(opts, ice.UDPMuxFromPortWithLogger(se.LoggerFactory.NewLogger("udpmux")))
		}
		mux, err := ice.NewMultiUDPMuxFromPort(int(cfg.WebRTCUDPMuxPort), opts...)
		if err != nil {
			return nil, fmt.Errorf("listen udp mux on port %d: %w", cfg.WebRTCUDPMuxPort, err)
		}
		se.SetICEUDPMux(mux)
		release = mux.Close
	case cfg.WebRTCUDPPortRange != nil:
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	return release, nil
}
