// Package client is a headless signaling and data-channel client. It speaks
// the same protocol as the browser page and is used for end-to-end checks
// against a running broker.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/net/websocket"

	"github.com/ein-bandit/unity-webrtc-control/internal/bridge"
	"github.com/ein-bandit/unity-webrtc-control/internal/signaling"
	"github.com/ein-bandit/unity-webrtc-control/internal/webrtcpeer"
)

var ErrNotOpen = errors.New("data channel not open")

type Config struct {
	// URL is the broker's signaling endpoint, e.g. ws://192.168.1.10:7770/.
	URL string
	// Origin is sent with the WebSocket handshake. Defaults to the URL's
	// http origin.
	Origin string

	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Label      string
	// Ordered requests an ordered data channel. Browsers use unordered.
	Ordered bool

	// OnSignal, when set, observes every envelope received from the broker.
	OnSignal func(signaling.Message)

	Logger *slog.Logger
}

type Client struct {
	cfg    Config
	logger *slog.Logger

	ws      *websocket.Conn
	writeMu sync.Mutex

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	opened   chan struct{}
	messages chan string
	done     chan struct{}

	mu        sync.Mutex
	answered  bool
	pending   []webrtc.ICECandidateInit
	err       error
	closeOnce sync.Once
}

// Dial connects to the broker, sends an offer for a data channel and starts
// processing signaling in the background. Use WaitOpen to wait for the data
// channel.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Label == "" {
		cfg.Label = webrtcpeer.DefaultDataChannelLabel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Origin == "" {
		cfg.Origin = httpOrigin(cfg.URL)
	}
	api := cfg.API
	if api == nil {
		api = webrtc.NewAPI()
	}

	wsCfg, err := websocket.NewConfig(cfg.URL, cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	ws, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		logger:   cfg.Logger,
		ws:       ws,
		pc:       pc,
		opened:   make(chan struct{}),
		messages: make(chan string, 64),
		done:     make(chan struct{}),
	}

	ordered := cfg.Ordered
	dc, err := pc.CreateDataChannel(cfg.Label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	c.dc = dc
	dc.OnOpen(func() { close(c.opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		select {
		case c.messages <- string(msg.Data):
		default:
			c.logger.Warn("client message buffer full, dropping message")
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		msg := signaling.RemoteCandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			msg.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			msg.SDPMLineIndex = *init.SDPMLineIndex
		}
		if err := c.signal(msg); err != nil {
			c.logger.Debug("send candidate failed", "err", err)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	// The broker drops candidates that arrive before the offer, so the offer
	// goes out before gathering starts.
	if err := c.signal(signaling.Offer{SDP: offer.SDP}); err != nil {
		c.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) signal(m signaling.Message) error {
	raw, err := signaling.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	return websocket.Message.Send(c.ws, string(raw))
}

func (c *Client) readLoop() {
	for {
		var raw string
		if err := websocket.Message.Receive(c.ws, &raw); err != nil {
			c.finish(err)
			return
		}
		msg, err := signaling.Decode([]byte(raw))
		if err != nil {
			c.logger.Debug("ignoring signaling message", "err", err)
			continue
		}
		if c.cfg.OnSignal != nil {
			c.cfg.OnSignal(msg)
		}
		switch m := msg.(type) {
		case signaling.Answer:
			c.applyAnswer(m.SDP)
		case signaling.LocalCandidate:
			mid, index := m.SDPMid, m.SDPMLineIndex
			c.addCandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: &mid, SDPMLineIndex: &index})
		}
	}
}

func (c *Client) applyAnswer(sdp string) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		c.logger.Warn("set remote description failed", "err", err)
		return
	}
	c.mu.Lock()
	c.answered = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, cand := range pending {
		c.addCandidate(cand)
	}
}

func (c *Client) addCandidate(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	if !c.answered {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if err := c.pc.AddICECandidate(cand); err != nil {
		c.logger.Debug("add broker candidate failed", "err", err)
	}
}

// WaitOpen blocks until the data channel opens, signaling ends, or ctx ends.
func (c *Client) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return fmt.Errorf("signaling closed before open: %w", err)
		}
		return errors.New("signaling closed before open")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes an application message as {type, data}.
func (c *Client) Send(typ string, data any) error {
	payload, err := bridge.EncodeMessage(typ, data)
	if err != nil {
		return err
	}
	return c.SendRaw(payload)
}

func (c *Client) SendRaw(payload string) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	return c.dc.SendText(payload)
}

// Messages delivers text messages received on the data channel.
func (c *Client) Messages() <-chan string { return c.messages }

// Done is closed when the signaling connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended signaling, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// CloseChannel closes the data channel only. Signaling and the peer
// connection stay up.
func (c *Client) CloseChannel() error {
	return c.dc.Close()
}

// Close tears down the peer connection and the signaling socket.
func (c *Client) Close() {
	if c.dc != nil {
		_ = c.dc.Close()
	}
	_ = c.pc.Close()
	_ = c.ws.Close()
}

func httpOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "http://localhost"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
