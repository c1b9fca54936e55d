// Package broker ties signaling, peer sessions and the application bridge
// together. A Broker is the administrative surface an embedding program owns:
// it is created with New, serves signaling once its routes are registered,
// and tears everything down with Shutdown.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/ein-bandit/unity-webrtc-control/internal/bridge"
	"github.com/ein-bandit/unity-webrtc-control/internal/config"
	"github.com/ein-bandit/unity-webrtc-control/internal/metrics"
	"github.com/ein-bandit/unity-webrtc-control/internal/origin"
	"github.com/ein-bandit/unity-webrtc-control/internal/ratelimit"
	"github.com/ein-bandit/unity-webrtc-control/internal/signaling"
	"github.com/ein-bandit/unity-webrtc-control/internal/webrtcpeer"
)

type Config struct {
	Settings config.Config

	// Handler receives register, message and unregister events on the bridge
	// goroutine.
	Handler bridge.Handler

	// API overrides the pion API built from Settings.
	API *webrtc.API

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   ratelimit.Clock
}

type Broker struct {
	settings config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	api        *webrtc.API
	releaseAPI func() error

	transport *signaling.Transport
	registry  *Registry
	bridge    *bridge.Bridge

	ctx    context.Context
	cancel context.CancelFunc

	started      atomic.Bool
	shuttingDown atomic.Bool
	bridgeDone   chan struct{}
}

// ClientInfo describes one admitted signaling client.
type ClientInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func New(cfg Config) (*Broker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	b := &Broker{
		settings:   cfg.Settings,
		logger:     logger,
		metrics:    m,
		api:        cfg.API,
		registry:   NewRegistry(),
		bridgeDone: make(chan struct{}),
	}
	if b.api == nil {
		api, release, err := webrtcpeer.NewAPI(cfg.Settings, logger)
		if err != nil {
			return nil, fmt.Errorf("build webrtc api: %w", err)
		}
		b.api = api
		b.releaseAPI = release
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.bridge = bridge.New(cfg.Handler, bridge.Config{
		QueueSize: cfg.Settings.EventQueueSize,
		Metrics:   m,
		Logger:    logger.With("component", "bridge"),
	})
	b.transport = signaling.NewTransport(signaling.TransportConfig{
		Dispatcher:        b,
		ClientLimit:       cfg.Settings.ClientLimit,
		MaxMessageBytes:   cfg.Settings.SignalingMaxMessageBytes,
		MessagesPerSecond: cfg.Settings.SignalingMessagesPerSecond,
		PingInterval:      cfg.Settings.SignalingPingInterval,
		IdleTimeout:       cfg.Settings.SignalingIdleTimeout,
		Origins:           origin.NewPolicy(cfg.Settings.AllowedOrigins),
		Clock:             cfg.Clock,
		Metrics:           m,
		Logger:            logger.With("component", "signaling"),
	})
	return b, nil
}

// Start runs the bridge loop. The loop lives until Shutdown, not until ctx
// ends, so the Unregister events raised while shutting down still reach the
// handler. Calls after the first are no-ops.
func (b *Broker) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(b.bridgeDone)
		if err := b.bridge.Run(context.WithoutCancel(ctx)); err != nil {
			b.logger.Warn("bridge stopped", "err", err)
		}
	}()
	b.logger.Info("broker started", "client_limit", b.ClientLimit(), "signaling_path", b.signalingPath())
}

// Ready reports whether the broker has started and is not shutting down.
func (b *Broker) Ready() bool {
	return b.started.Load() && !b.shuttingDown.Load()
}

// RegisterRoutes mounts the signaling WebSocket endpoint on mux.
func (b *Broker) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(b.signalingPath(), b.transport)
}

func (b *Broker) signalingPath() string {
	if b.settings.SignalingPath == "" {
		return config.DefaultSignalingPath
	}
	return b.settings.SignalingPath
}

func (b *Broker) Metrics() *metrics.Metrics { return b.metrics }

func (b *Broker) SetClientLimit(n int) {
	b.transport.SetClientLimit(n)
	b.logger.Info("client limit changed", "client_limit", b.transport.ClientLimit())
}

func (b *Broker) ClientLimit() int { return b.transport.ClientLimit() }

// Clients lists admitted signaling clients with the state of their session.
func (b *Broker) Clients() []ClientInfo {
	ids := b.transport.Admitted()
	out := make([]ClientInfo, 0, len(ids))
	for _, id := range ids {
		state := "none"
		if s, ok := b.registry.Get(id); ok {
			state = s.State().String()
		}
		out = append(out, ClientInfo{ID: id.String(), State: state})
	}
	return out
}

// SendToClient encodes {type, data} and writes it to the client's data
// channel. Every delivery failure wraps bridge.ErrClientUnavailable.
func (b *Broker) SendToClient(id uuid.UUID, typ string, data any) error {
	payload, err := bridge.EncodeMessage(typ, data)
	if err != nil {
		return err
	}
	return b.SendRaw(id, payload)
}

// SendRaw writes payload to the client's data channel unchanged.
func (b *Broker) SendRaw(id uuid.UUID, payload string) error {
	s, ok := b.registry.Get(id)
	if !ok {
		b.metrics.Inc(metrics.SendClientUnavailable)
		return fmt.Errorf("%w: no session for %s", bridge.ErrClientUnavailable, id)
	}
	if err := s.Send(payload); err != nil {
		b.metrics.Inc(metrics.SendClientUnavailable)
		return fmt.Errorf("%w: %v", bridge.ErrClientUnavailable, err)
	}
	return nil
}

// Shutdown cancels every session, waits for them to release, closes every
// signaling connection and stops the bridge. The HTTP listener belongs to the
// caller.
func (b *Broker) Shutdown(ctx context.Context) error {
	if !b.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	b.logger.Info("broker shutting down", "sessions", b.registry.Len())
	b.cancel()

	err := b.registry.RemoveAll(ctx)
	b.transport.CloseAll()
	b.bridge.Stop()

	if b.started.Load() {
		select {
		case <-b.bridgeDone:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	}
	if b.releaseAPI != nil {
		if rerr := b.releaseAPI(); rerr != nil && err == nil {
			err = fmt.Errorf("release udp mux: %w", rerr)
		}
	}
	return err
}

func (b *Broker) sessionConfig() webrtcpeer.SessionConfig {
	return webrtcpeer.SessionConfig{
		API:              b.api,
		ICEServers:       b.settings.ICEServers,
		DataChannelLabel: b.settings.DataChannelLabel,
		StartTimeout:     b.settings.SessionStartTimeout,
		PollInterval:     b.settings.SessionPollInterval,
		CandidateFilter:  webrtcpeer.FilterFor(b.settings.CandidateFilter),
		EventQueueSize:   b.settings.EventQueueSize,
		Metrics:          b.metrics,
		Logger:           b.logger.With("component", "session"),
	}
}

// HandleOffer creates and starts a session for id unless one already exists.
// It blocks for at most the session start timeout.
func (b *Broker) HandleOffer(id uuid.UUID, o signaling.Offer) {
	logger := b.logger.With("client_id", id.String())
	if b.shuttingDown.Load() {
		return
	}
	if err := webrtcpeer.ValidateOffer(o.SDP); err != nil {
		b.metrics.Inc(metrics.SignalingMalformed)
		logger.Warn("dropping offer", "err", err)
		return
	}

	s, created := b.registry.CreateIfAbsent(id, func() *webrtcpeer.Session {
		return webrtcpeer.NewSession(id, b.sessionConfig())
	})
	if s == nil {
		return
	}
	if !created {
		b.metrics.Inc(metrics.SessionDuplicate)
		logger.Debug("ignoring offer for existing session", "state", s.State().String())
		return
	}
	b.metrics.Inc(metrics.SessionCreated)

	if err := s.Start(b.ctx, o.SDP, b); err != nil {
		logger.Warn("session start failed", "err", err)
		b.registry.Remove(id)
		b.transport.Close(id, "session start failed")
		return
	}
	logger.Debug("answer sent, negotiating")
}

func (b *Broker) HandleCandidate(id uuid.UUID, c signaling.RemoteCandidate) {
	s, ok := b.registry.Get(id)
	if !ok {
		b.metrics.Inc(metrics.CandidateDroppedNoPeer)
		b.logger.Debug("dropping candidate without session", "client_id", id.String())
		return
	}
	mid, index := c.SDPMid, c.SDPMLineIndex
	init := webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &index}
	if err := s.AddRemoteCandidate(init); err != nil {
		b.logger.Debug("remote candidate not queued", "client_id", id.String(), "err", err)
	}
}

func (b *Broker) HandleDisconnect(id uuid.UUID) {
	b.registry.Remove(id)
}

func (b *Broker) OnAnswer(s *webrtcpeer.Session, sdp string) {
	b.signal(s, signaling.Answer{SDP: sdp})
}

func (b *Broker) OnLocalCandidate(s *webrtcpeer.Session, c webrtc.ICECandidateInit) {
	msg := signaling.LocalCandidate{Candidate: c.Candidate}
	if c.SDPMid != nil {
		msg.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		msg.SDPMLineIndex = *c.SDPMLineIndex
	}
	b.signal(s, msg)
}

func (b *Broker) signal(s *webrtcpeer.Session, m signaling.Message) {
	if err := b.transport.Send(s.ID(), m); err != nil {
		b.logger.Debug("signaling send failed", "client_id", s.ID().String(), "command", string(m.Command()), "err", err)
	}
}

func (b *Broker) OnOpen(s *webrtcpeer.Session) {
	_ = b.bridge.Register(s.ID())
}

func (b *Broker) OnMessage(s *webrtcpeer.Session, payload string) {
	_ = b.bridge.Message(s.ID(), payload)
}

func (b *Broker) OnChannelClose(s *webrtcpeer.Session) {}

func (b *Broker) OnFailure(s *webrtcpeer.Session, err error) {
	b.transport.Close(s.ID(), "peer connection failed")
}

func (b *Broker) OnExit(s *webrtcpeer.Session) {
	b.registry.release(s.ID(), s)
	if s.Opened() {
		_ = b.bridge.Unregister(s.ID())
	}
}
