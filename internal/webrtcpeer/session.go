package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/ein-bandit/unity-webrtc-control/internal/config"
	"github.com/ein-bandit/unity-webrtc-control/internal/metrics"
)

// State is the negotiation state of a Session. States only move forward.
type State int32

const (
	StateCreated State = iota
	StateNegotiating
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrStartTimeout   = errors.New("peer connection was not ready before the start timeout")
	ErrNotConnected   = errors.New("data channel is not open")
	ErrClosed         = errors.New("session closed")
	ErrAlreadyStarted = errors.New("session already started")
	ErrInvalidOffer   = errors.New("invalid offer")
	ErrQueueFull      = errors.New("session event queue full")
)

const defaultEventQueueSize = 64

// Handler receives session events. Every callback runs on the session's own
// goroutine, in the order pion raised the underlying events, and never after
// the session has been cancelled, except OnExit which is always the last call.
type Handler interface {
	OnAnswer(s *Session, sdp string)
	OnLocalCandidate(s *Session, c webrtc.ICECandidateInit)
	OnOpen(s *Session)
	OnMessage(s *Session, payload string)
	OnChannelClose(s *Session)
	OnFailure(s *Session, err error)
	OnExit(s *Session)
}

type SessionConfig struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	DataChannelLabel string
	StartTimeout     time.Duration
	PollInterval     time.Duration
	CandidateFilter  CandidateFilter
	EventQueueSize   int

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	newPeerConnection func(webrtc.Configuration) (*webrtc.PeerConnection, error)
}

type eventKind int

const (
	evAnswer eventKind = iota
	evRemoteDescription
	evLocalCandidate
	evRemoteCandidate
	evOpen
	evMessage
	evBinaryMessage
	evChannelClose
	evFailure
)

type event struct {
	kind      eventKind
	sdp       string
	candidate webrtc.ICECandidateInit
	payload   string
	err       error
}

// Session owns one server-side PeerConnection and its control data channel.
// A dedicated goroutine, started by Start, processes pion events until the
// session is cancelled and then releases the data channel and the peer
// connection, in that order.
type Session struct {
	id     uuid.UUID
	cfg    SessionConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state     atomic.Int32
	started   atomic.Bool
	opened    atomic.Bool
	events    chan event
	handler   Handler
	startedAt time.Time

	mu sync.Mutex
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	// Owned by the session goroutine.
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func NewSession(id uuid.UUID, cfg SessionConfig) *Session {
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = DefaultDataChannelLabel
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = config.DefaultSessionStartTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultSessionPollInterval
	}
	if cfg.CandidateFilter == nil {
		cfg.CandidateFilter = HostIPv4Candidates
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = defaultEventQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.newPeerConnection == nil {
		api := cfg.API
		if api == nil {
			api = webrtc.NewAPI()
		}
		cfg.newPeerConnection = api.NewPeerConnection
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		cfg:    cfg,
		logger: cfg.Logger.With("client_id", id.String()),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		events: make(chan event, cfg.EventQueueSize),
	}
	s.state.Store(int32(StateCreated))
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Opened reports whether the data channel ever reached the open state.
func (s *Session) Opened() bool { return s.opened.Load() }

// Done is closed once the session goroutine has released every resource, or
// immediately on Cancel when the session was never started.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start runs the negotiation for offerSDP. It launches the session goroutine,
// waits up to the start timeout for the peer connection to be created, then
// applies the offer and emits the answer through h before any local
// candidate. A session can be started once.
func (s *Session) Start(ctx context.Context, offerSDP string, h Handler) error {
	if h == nil {
		return errors.New("webrtcpeer: nil handler")
	}
	if !s.started.CompareAndSwap(false, true) {
		if s.ctx.Err() != nil {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}
	s.handler = h
	s.startedAt = time.Now()
	s.state.CompareAndSwap(int32(StateCreated), int32(StateNegotiating))

	ready := make(chan error, 1)
	go s.run(ready)

	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	initFailed := func(err error) error {
		s.cfg.Metrics.Inc(metrics.SessionStartFailed)
		return fmt.Errorf("create peer connection: %w", err)
	}
	select {
	case err := <-ready:
		if err != nil {
			return initFailed(err)
		}
	case <-timer.C:
		s.cfg.Metrics.Inc(metrics.SessionStartTimeout)
		s.Cancel()
		return ErrStartTimeout
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	case <-s.ctx.Done():
		// A failed init reports on ready before it cancels.
		select {
		case err := <-ready:
			if err != nil {
				return initFailed(err)
			}
		default:
		}
		return ErrClosed
	}

	if err := s.negotiate(offerSDP); err != nil {
		s.cfg.Metrics.Inc(metrics.SessionStartFailed)
		s.Cancel()
		return err
	}
	return nil
}

// AddRemoteCandidate queues a client candidate. Candidates that arrive before
// the offer has been applied are held until it is. It never blocks.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.events <- event{kind: evRemoteCandidate, candidate: c}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send writes payload to the data channel as a text message.
func (s *Session) Send(payload string) error {
	switch st := s.State(); {
	case st >= StateClosing:
		return ErrClosed
	case st != StateConnected:
		return ErrNotConnected
	}
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	if err := dc.SendText(payload); err != nil {
		return fmt.Errorf("send on data channel: %w", err)
	}
	s.cfg.Metrics.Inc(metrics.DataMessageSent)
	return nil
}

// Cancel raises the session's cancellation signal. It is idempotent and does
// not wait; use Done to wait for the release to finish.
func (s *Session) Cancel() {
	s.cancel()
	if s.started.CompareAndSwap(false, true) {
		// Never started: nothing to release.
		s.state.Store(int32(StateClosed))
		close(s.done)
		return
	}
	s.toClosing()
}

func (s *Session) toClosing() {
	for {
		cur := s.state.Load()
		if State(cur) >= StateClosing {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateClosing)) {
			return
		}
	}
}

func (s *Session) run(ready chan<- error) {
	defer close(s.done)

	pc, err := s.cfg.newPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		s.logger.Warn("create peer connection failed", "err", err)
		ready <- err
		s.cancel()
		s.state.Store(int32(StateClosed))
		s.handler.OnExit(s)
		return
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	ready <- nil

	defer s.release()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.dispatch(ev)
		case <-ticker.C:
			switch st := pc.ConnectionState(); st {
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
				s.dispatch(event{kind: evFailure, err: fmt.Errorf("peer connection %s", st)})
			}
		}
	}
}

func (s *Session) release() {
	s.cancel()
	s.toClosing()

	s.mu.Lock()
	dc, pc := s.dc, s.pc
	s.dc, s.pc = nil, nil
	s.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Debug("close peer connection", "err", err)
		}
	}

	s.state.Store(int32(StateClosed))
	s.cfg.Metrics.Inc(metrics.SessionClosed)
	s.logger.Debug("session closed", "lifetime", time.Since(s.startedAt).Round(time.Millisecond))
	s.handler.OnExit(s)
}

func (s *Session) negotiate(offerSDP string) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return ErrClosed
	}
	s.bind(pc)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	if err := s.post(event{kind: evRemoteDescription}); err != nil {
		return err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	// Queue the answer before gathering starts so it reaches the client ahead
	// of every local candidate.
	if err := s.post(event{kind: evAnswer, sdp: answer.SDP}); err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

func (s *Session) bind(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = s.post(event{kind: evLocalCandidate, candidate: c.ToJSON()})
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.logger.Debug("peer connection state", "state", st.String())
		if st == webrtc.PeerConnectionStateFailed {
			_ = s.post(event{kind: evFailure, err: errors.New("peer connection failed")})
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if err := validateControlDataChannel(dc, s.cfg.DataChannelLabel); err != nil {
			s.logger.Warn("rejecting data channel", "label", dc.Label(), "err", err)
			_ = dc.Close()
			return
		}

		s.mu.Lock()
		if s.dc != nil {
			s.mu.Unlock()
			s.logger.Warn("rejecting duplicate data channel", "label", dc.Label())
			_ = dc.Close()
			return
		}
		s.dc = dc
		s.mu.Unlock()

		dc.OnOpen(func() {
			_ = s.post(event{kind: evOpen})
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if !msg.IsString {
				_ = s.post(event{kind: evBinaryMessage})
				return
			}
			_ = s.post(event{kind: evMessage, payload: string(msg.Data)})
		})
		dc.OnClose(func() {
			_ = s.post(event{kind: evChannelClose})
		})
	})
}

// post hands an event to the session goroutine, waiting for queue space
// unless the session is cancelled first.
func (s *Session) post(ev event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Session) dispatch(ev event) {
	if s.ctx.Err() != nil {
		return
	}

	switch ev.kind {
	case evAnswer:
		s.handler.OnAnswer(s, ev.sdp)

	case evRemoteDescription:
		s.remoteSet = true
		pending := s.pending
		s.pending = nil
		for _, c := range pending {
			s.addRemoteCandidate(c)
		}

	case evLocalCandidate:
		if !s.cfg.CandidateFilter(ev.candidate) {
			s.cfg.Metrics.Inc(metrics.CandidateSuppressed)
			s.logger.Debug("suppressing local candidate", "candidate", ev.candidate.Candidate)
			return
		}
		s.cfg.Metrics.Inc(metrics.CandidateForwarded)
		s.handler.OnLocalCandidate(s, ev.candidate)

	case evRemoteCandidate:
		if !s.remoteSet {
			s.pending = append(s.pending, ev.candidate)
			return
		}
		s.addRemoteCandidate(ev.candidate)

	case evOpen:
		if !s.state.CompareAndSwap(int32(StateNegotiating), int32(StateConnected)) {
			return
		}
		s.opened.Store(true)
		s.cfg.Metrics.Inc(metrics.SessionConnected)
		s.logger.Info("data channel open", "setup", time.Since(s.startedAt).Round(time.Millisecond))
		s.handler.OnOpen(s)

	case evMessage:
		s.cfg.Metrics.Inc(metrics.DataMessageReceived)
		s.handler.OnMessage(s, ev.payload)

	case evBinaryMessage:
		s.cfg.Metrics.Inc(metrics.DataMessageUnsupported)
		s.logger.Debug("dropping binary data channel message")

	case evChannelClose:
		s.logger.Info("data channel closed")
		s.handler.OnChannelClose(s)
		s.Cancel()

	case evFailure:
		s.cfg.Metrics.Inc(metrics.SessionFailed)
		s.logger.Warn("session failed", "err", ev.err)
		s.handler.OnFailure(s, ev.err)
		s.Cancel()
	}
}

func (s *Session) addRemoteCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(c); err != nil {
		s.logger.Debug("add remote candidate failed", "candidate", c.Candidate, "err", err)
	}
}
