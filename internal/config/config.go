package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/ein-bandit/unity-webrtc-control/internal/origin"
)

const (
	envVarEnvFile         = "UWC_ENV_FILE"
	envVarListenAddr      = "UWC_LISTEN_ADDR"
	envVarSignalingPath   = "UWC_SIGNALING_PATH"
	envVarAllowedOrigins  = "UWC_ALLOWED_ORIGINS"
	envVarMode            = "UWC_MODE"
	envVarLogFormat       = "UWC_LOG_FORMAT"
	envVarLogLevel        = "UWC_LOG_LEVEL"
	envVarShutdownTimeout = "UWC_SHUTDOWN_TIMEOUT"

	// Broker knobs.
	envVarClientLimit         = "UWC_CLIENT_LIMIT"
	envVarSessionStartTimeout = "UWC_SESSION_START_TIMEOUT"
	envVarSessionPollInterval = "UWC_SESSION_POLL_INTERVAL"
	envVarDataChannelLabel    = "UWC_DATA_CHANNEL_LABEL"
	envVarEventQueueSize      = "UWC_EVENT_QUEUE_SIZE"
	envVarCandidateFilter     = "UWC_CANDIDATE_FILTER"

	// Signaling WebSocket hardening.
	envVarSignalingMaxMessageBytes   = "UWC_SIGNALING_MAX_MESSAGE_BYTES"
	envVarSignalingMessagesPerSecond = "UWC_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingPingInterval      = "UWC_SIGNALING_PING_INTERVAL"
	envVarSignalingIdleTimeout       = "UWC_SIGNALING_IDLE_TIMEOUT"

	// ICE networking.
	envVarWebRTCUDPPortMin  = "UWC_WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax  = "UWC_WEBRTC_UDP_PORT_MAX"
	envVarWebRTCUDPMuxPort  = "UWC_WEBRTC_UDP_MUX_PORT"
	envVarWebRTCNAT1To1IPs  = "UWC_WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCUDPListenIP = "UWC_WEBRTC_UDP_LISTEN_IP"

	// LAN discovery and console output.
	envVarMDNSAdvertise = "UWC_MDNS_ADVERTISE"
	envVarMDNSInstance  = "UWC_MDNS_INSTANCE"
	envVarBanner        = "UWC_BANNER"

	DefaultListenAddr            = "0.0.0.0:7770"
	DefaultSignalingPath         = "/"
	DefaultShutdown              = 15 * time.Second
	DefaultMode             Mode = ModeDev
	DefaultClientLimit           = 4
	DefaultSessionStartTimeout   = 9999 * time.Millisecond
	DefaultSessionPollInterval   = time.Second
	DefaultDataChannelLabel      = "uwc-datachannel"
	DefaultEventQueueSize        = 256
	DefaultCandidateFilter       = CandidateFilterHostIPv4

	DefaultSignalingMaxMessageBytes   = int64(64 * 1024)
	DefaultSignalingMessagesPerSecond = 50
	DefaultSignalingPingInterval      = 20 * time.Second
	DefaultSignalingIdleTimeout       = 60 * time.Second

	DefaultWebRTCUDPListenIP = "0.0.0.0"
	DefaultMDNSInstance      = "uwc-broker"
)

const (
	flagEnvFile             = "env-file"
	flagClientLimit         = "client-limit"
	flagSessionStartTimeout = "session-start-timeout"
	flagSessionPollInterval = "session-poll-interval"
	flagEventQueueSize      = "event-queue-size"
	flagBanner              = "banner"

	flagWebRTCUDPPortMin  = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax  = "webrtc-udp-port-max"
	flagWebRTCUDPMuxPort  = "webrtc-udp-mux-port"
	flagWebRTCNAT1To1IPs  = "webrtc-nat-1to1-ips"
	flagWebRTCUDPListenIP = "webrtc-udp-listen-ip"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText   LogFormat = "text"
	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

// CandidateFilter selects which locally gathered ICE candidates are sent to
// clients.
type CandidateFilter string

const (
	CandidateFilterHostIPv4 CandidateFilter = "host-ipv4"
	CandidateFilterAll      CandidateFilter = "all"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	EnvFile         string
	ListenAddr      string
	SignalingPath   string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// ClientLimit caps concurrently admitted signaling connections. Zero
	// rejects every connection.
	ClientLimit         int
	SessionStartTimeout time.Duration
	SessionPollInterval time.Duration
	DataChannelLabel    string
	EventQueueSize      int
	CandidateFilter     CandidateFilter

	SignalingMaxMessageBytes   int64
	SignalingMessagesPerSecond int
	SignalingPingInterval      time.Duration
	SignalingIdleTimeout       time.Duration

	ICEServers []webrtc.ICEServer

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion
	// lets the OS pick ephemeral ports.
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCUDPMuxPort, when non-zero, serves every session's ICE traffic from
	// one UDP port. It takes precedence over WebRTCUDPPortRange.
	WebRTCUDPMuxPort uint16

	// WebRTCNAT1To1IPs are advertised as host candidates in place of the local
	// addresses. Values are literal IPs.
	WebRTCNAT1To1IPs []string

	// WebRTCUDPListenIP restricts ICE to one local address. 0.0.0.0 keeps the
	// library default of all interfaces.
	WebRTCUDPListenIP net.IP

	MDNSAdvertise bool
	MDNSInstance  string
	Banner        bool
}

// Load reads configuration from the process environment, an optional dotenv
// file, and command line flags. Flags win over the environment, which wins
// over the dotenv file.
func Load(args []string) (Config, error) {
	lookup := os.LookupEnv
	path := envFileFromArgs(args)
	if path == "" {
		path, _ = os.LookupEnv(envVarEnvFile)
	}
	if strings.TrimSpace(path) != "" {
		withFile, err := lookupWithEnvFile(lookup, path)
		if err != nil {
			return Config{}, err
		}
		lookup = withFile
	}
	return load(lookup, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	envFile := envOrDefault(lookup, envVarEnvFile, "")
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	signalingPath := envOrDefault(lookup, envVarSignalingPath, DefaultSignalingPath)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	dataChannelLabel := envOrDefault(lookup, envVarDataChannelLabel, DefaultDataChannelLabel)
	candidateFilterStr := envOrDefault(lookup, envVarCandidateFilter, string(DefaultCandidateFilter))
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	mdnsInstance := envOrDefault(lookup, envVarMDNSInstance, DefaultMDNSInstance)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	sessionStartTimeout, err := envDurationOrDefault(lookup, envVarSessionStartTimeout, DefaultSessionStartTimeout)
	if err != nil {
		return Config{}, err
	}
	sessionPollInterval, err := envDurationOrDefault(lookup, envVarSessionPollInterval, DefaultSessionPollInterval)
	if err != nil {
		return Config{}, err
	}
	signalingPingInterval, err := envDurationOrDefault(lookup, envVarSignalingPingInterval, DefaultSignalingPingInterval)
	if err != nil {
		return Config{}, err
	}
	signalingIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingIdleTimeout, DefaultSignalingIdleTimeout)
	if err != nil {
		return Config{}, err
	}

	clientLimit, err := envIntOrDefault(lookup, envVarClientLimit, DefaultClientLimit)
	if err != nil {
		return Config{}, err
	}
	eventQueueSize, err := envIntOrDefault(lookup, envVarEventQueueSize, DefaultEventQueueSize)
	if err != nil {
		return Config{}, err
	}
	signalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarSignalingMessagesPerSecond, DefaultSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	signalingMaxMessageBytes := DefaultSignalingMaxMessageBytes
	if raw, ok := lookup(envVarSignalingMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarSignalingMaxMessageBytes, raw, err)
		}
		signalingMaxMessageBytes = n
	}

	mdnsAdvertise, err := envBoolOrDefault(lookup, envVarMDNSAdvertise, false)
	if err != nil {
		return Config{}, err
	}
	envBanner, envBannerOK := lookup(envVarBanner)
	envBannerSet := envBannerOK && strings.TrimSpace(envBanner) != ""
	banner, err := envBoolOrDefault(lookup, envVarBanner, false)
	if err != nil {
		return Config{}, err
	}

	var webrtcUDPPortMin, webrtcUDPPortMax, webrtcUDPMuxPort uint
	for _, p := range []struct {
		env string
		dst *uint
	}{
		{envVarWebRTCUDPPortMin, &webrtcUDPPortMin},
		{envVarWebRTCUDPPortMax, &webrtcUDPPortMax},
		{envVarWebRTCUDPMuxPort, &webrtcUDPMuxPort},
	} {
		raw, ok := lookup(p.env)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		port, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", p.env, raw, err)
		}
		*p.dst = uint(port)
	}

	fs := flag.NewFlagSet("uwc-broker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&envFile, flagEnvFile, envFile, "Optional dotenv file read before the environment (env "+envVarEnvFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP and signaling listen address (host:port)")
	fs.StringVar(&signalingPath, "signaling-path", signalingPath, "URL path of the signaling WebSocket (env "+envVarSignalingPath+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins; empty or * allows any (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text, json or pretty")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.IntVar(&clientLimit, flagClientLimit, clientLimit, "Maximum concurrently connected clients (env "+envVarClientLimit+")")
	fs.DurationVar(&sessionStartTimeout, flagSessionStartTimeout, sessionStartTimeout, "Max wait for a new peer connection to become ready (env "+envVarSessionStartTimeout+")")
	fs.DurationVar(&sessionPollInterval, flagSessionPollInterval, sessionPollInterval, "Session loop polling interval (env "+envVarSessionPollInterval+")")
	fs.StringVar(&dataChannelLabel, "data-channel-label", dataChannelLabel, "Accepted data channel label (env "+envVarDataChannelLabel+")")
	fs.IntVar(&eventQueueSize, flagEventQueueSize, eventQueueSize, "Capacity of the application event queue (env "+envVarEventQueueSize+")")
	fs.StringVar(&candidateFilterStr, "candidate-filter", candidateFilterStr, "Local ICE candidates sent to clients: host-ipv4 or all (env "+envVarCandidateFilter+")")

	fs.Int64Var(&signalingMaxMessageBytes, "signaling-max-message-bytes", signalingMaxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarSignalingMaxMessageBytes+")")
	fs.IntVar(&signalingMessagesPerSecond, "signaling-messages-per-second", signalingMessagesPerSecond, "Max inbound signaling messages per second per client, 0 disables (env "+envVarSignalingMessagesPerSecond+")")
	fs.DurationVar(&signalingPingInterval, "signaling-ping-interval", signalingPingInterval, "Ping interval on signaling connections (must be < --signaling-idle-timeout; env "+envVarSignalingPingInterval+")")
	fs.DurationVar(&signalingIdleTimeout, "signaling-idle-timeout", signalingIdleTimeout, "Close silent signaling connections after this duration (env "+envVarSignalingIdleTimeout+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.UintVar(&webrtcUDPMuxPort, flagWebRTCUDPMuxPort, webrtcUDPMuxPort, "Serve all ICE traffic from this single UDP port (0 = unset; env "+envVarWebRTCUDPMuxPort+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")

	fs.BoolVar(&mdnsAdvertise, "mdns-advertise", mdnsAdvertise, "Advertise the signaling endpoint over mDNS/DNS-SD (env "+envVarMDNSAdvertise+")")
	fs.StringVar(&mdnsInstance, "mdns-instance", mdnsInstance, "mDNS instance name (env "+envVarMDNSInstance+")")
	fs.BoolVar(&banner, flagBanner, banner, "Print connection URLs on startup (default true in dev mode; env "+envVarBanner+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	if !envBannerSet && !setFlags[flagBanner] {
		banner = mode == ModeDev
	}

	candidateFilter, err := parseCandidateFilter(candidateFilterStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--candidate-filter: %w", envVarCandidateFilter, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if clientLimit < 0 {
		return Config{}, fmt.Errorf("%s/--%s must be >= 0", envVarClientLimit, flagClientLimit)
	}
	if sessionStartTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--%s must be > 0", envVarSessionStartTimeout, flagSessionStartTimeout)
	}
	if sessionPollInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--%s must be > 0", envVarSessionPollInterval, flagSessionPollInterval)
	}
	if eventQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--%s must be > 0", envVarEventQueueSize, flagEventQueueSize)
	}
	if strings.TrimSpace(dataChannelLabel) == "" {
		return Config{}, fmt.Errorf("%s/--data-channel-label must not be empty", envVarDataChannelLabel)
	}
	if !strings.HasPrefix(signalingPath, "/") {
		return Config{}, fmt.Errorf("%s/--signaling-path must start with /", envVarSignalingPath)
	}
	if signalingMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-max-message-bytes must be > 0", envVarSignalingMaxMessageBytes)
	}
	if signalingMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--signaling-messages-per-second must be >= 0", envVarSignalingMessagesPerSecond)
	}
	if signalingIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-idle-timeout must be > 0", envVarSignalingIdleTimeout)
	}
	if signalingPingInterval <= 0 || signalingPingInterval >= signalingIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ping-interval must be > 0 and < --signaling-idle-timeout", envVarSignalingPingInterval)
	}

	var webrtcUDPPortRange *UDPPortRange
	if (webrtcUDPPortMin == 0) != (webrtcUDPPortMax == 0) {
		return Config{}, fmt.Errorf("%s/--%s and %s/--%s must be set together (or both unset)", envVarWebRTCUDPPortMin, flagWebRTCUDPPortMin, envVarWebRTCUDPPortMax, flagWebRTCUDPPortMax)
	}
	if webrtcUDPPortMin != 0 {
		minPort, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMin, err)
		}
		maxPort, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMax, err)
		}
		if minPort > maxPort {
			return Config{}, fmt.Errorf("--%s (%d) must be <= --%s (%d)", flagWebRTCUDPPortMin, minPort, flagWebRTCUDPPortMax, maxPort)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: minPort, Max: maxPort}
	}
	var muxPort uint16
	if webrtcUDPMuxPort != 0 {
		muxPort, err = parsePortUint(webrtcUDPMuxPort)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPMuxPort, err)
		}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/--%s %q", envVarWebRTCUDPListenIP, flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		webrtcNAT1To1IPs, err = parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, err)
		}
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	return Config{
		EnvFile:         envFile,
		ListenAddr:      listenAddr,
		SignalingPath:   signalingPath,
		AllowedOrigins:  allowedOrigins,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		ClientLimit:         clientLimit,
		SessionStartTimeout: sessionStartTimeout,
		SessionPollInterval: sessionPollInterval,
		DataChannelLabel:    dataChannelLabel,
		EventQueueSize:      eventQueueSize,
		CandidateFilter:     candidateFilter,

		SignalingMaxMessageBytes:   signalingMaxMessageBytes,
		SignalingMessagesPerSecond: signalingMessagesPerSecond,
		SignalingPingInterval:      signalingPingInterval,
		SignalingIdleTimeout:       signalingIdleTimeout,

		ICEServers:         iceServers,
		WebRTCUDPPortRange: webrtcUDPPortRange,
		WebRTCUDPMuxPort:   muxPort,
		WebRTCNAT1To1IPs:   webrtcNAT1To1IPs,
		WebRTCUDPListenIP:  webrtcUDPListenIP,

		MDNSAdvertise: mdnsAdvertise,
		MDNSInstance:  mdnsInstance,
		Banner:        banner,
	}, nil
}

// NewLogger builds the process logger. The pretty format renders through
// pterm and is meant for interactive terminals.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case LogFormatPretty:
		logger := pterm.DefaultLogger.WithLevel(ptermLevel(cfg.LogLevel)).WithTime(true)
		handler = pterm.NewSlogHandler(logger)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func ptermLevel(level slog.Level) pterm.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return pterm.LogLevelDebug
	case level <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case level <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	case string(LogFormatPretty):
		return LogFormatPretty, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text, json or pretty)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseCandidateFilter(raw string) (CandidateFilter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(CandidateFilterHostIPv4):
		return CandidateFilterHostIPv4, nil
	case string(CandidateFilterAll):
		return CandidateFilterAll, nil
	default:
		return "", fmt.Errorf("invalid candidate filter %q (expected %s or %s)", raw, CandidateFilterHostIPv4, CandidateFilterAll)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
