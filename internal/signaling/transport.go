package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ein-bandit/unity-webrtc-control/internal/metrics"
	"github.com/ein-bandit/unity-webrtc-control/internal/origin"
	"github.com/ein-bandit/unity-webrtc-control/internal/ratelimit"
)

var ErrConnectionClosed = errors.New("signaling connection closed")

const wsWriteWait = 1 * time.Second

// Dispatcher receives decoded client commands. Calls for one client arrive
// sequentially from that client's read loop; calls for different clients may
// run concurrently.
type Dispatcher interface {
	HandleOffer(id uuid.UUID, o Offer)
	HandleCandidate(id uuid.UUID, c RemoteCandidate)
	HandleDisconnect(id uuid.UUID)
}

type TransportConfig struct {
	Dispatcher Dispatcher

	// ClientLimit caps concurrently admitted connections. Zero rejects every
	// client.
	ClientLimit int

	MaxMessageBytes   int64
	MessagesPerSecond int
	PingInterval      time.Duration
	IdleTimeout       time.Duration
	Origins           origin.Policy

	Clock   ratelimit.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Transport is the WebSocket side of signaling. It implements http.Handler;
// every upgraded request becomes one admitted client or is closed at once.
type Transport struct {
	cfg      TransportConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	limit  int
	conns  map[uuid.UUID]*wsConn
	closed bool
}

type wsConn struct {
	id uuid.UUID
	ws *websocket.Conn

	writeMu   sync.Mutex
	alive     atomic.Bool
	closeOnce sync.Once
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	t := &Transport{
		cfg:    cfg,
		logger: cfg.Logger,
		limit:  cfg.ClientLimit,
		conns:  make(map[uuid.UUID]*wsConn),
	}
	t.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if cfg.Origins.Allow(r.Header.Get("Origin")) {
				return true
			}
			cfg.Metrics.Inc(metrics.OriginRejected)
			t.logger.Info("rejecting signaling origin", "origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
			return false
		},
	}
	return t
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		t.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c, ok := t.admit(ws)
	if !ok {
		t.cfg.Metrics.Inc(metrics.ClientRejected)
		t.logger.Info("client limit reached, rejecting connection", "remote_addr", r.RemoteAddr, "limit", t.ClientLimit())
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "client limit reached"),
			time.Now().Add(wsWriteWait))
		_ = ws.Close()
		return
	}

	t.cfg.Metrics.Inc(metrics.ClientAdmitted)
	t.logger.Info("client connected", "client_id", c.id.String(), "remote_addr", r.RemoteAddr)
	t.serve(c)
}

func (t *Transport) admit(ws *websocket.Conn) (*wsConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.conns) >= t.limit {
		return nil, false
	}
	c := &wsConn{id: uuid.New(), ws: ws}
	c.alive.Store(true)
	t.conns[c.id] = c
	return c, true
}

func (t *Transport) serve(c *wsConn) {
	defer t.Disconnect(c.id)

	if t.cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(t.cfg.MaxMessageBytes)
	}
	extendDeadline := func() {
		if t.cfg.IdleTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(t.cfg.IdleTimeout))
		}
	}
	extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop(c, stopPing)
	}

	limiter := ratelimit.NewLimiter(t.cfg.Clock, t.cfg.MessagesPerSecond, t.cfg.MessagesPerSecond)
	logger := t.logger.With("client_id", c.id.String())

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && c.alive.Load() {
				logger.Debug("signaling read failed", "err", err)
			}
			return
		}
		extendDeadline()

		if msgType != websocket.TextMessage {
			t.cfg.Metrics.Inc(metrics.SignalingIgnored)
			logger.Debug("ignoring non-text signaling message")
			continue
		}
		// Drop rather than close: a burst of trickled candidates must not cost
		// the client its connection.
		if !limiter.Allow() {
			t.cfg.Metrics.Inc(metrics.SignalingRateLimited)
			logger.Warn("signaling rate limit exceeded, dropping message")
			continue
		}
		t.Receive(c.id, data)
	}
}

func (t *Transport) pingLoop(c *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.alive.Load() {
				return
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// Receive decodes one raw envelope from client id and dispatches it. Envelopes
// without a command, with an unknown command, or from a client that is not
// currently admitted are ignored; malformed ones are dropped. Nothing is
// reported back to the client.
func (t *Transport) Receive(id uuid.UUID, raw []byte) {
	logger := t.logger.With("client_id", id.String())

	if !t.isAdmitted(id) {
		t.cfg.Metrics.Inc(metrics.SignalingIgnored)
		logger.Debug("ignoring message from unknown client")
		return
	}

	msg, err := Decode(raw)
	switch {
	case errors.Is(err, ErrMissingCommand), errors.Is(err, ErrUnknownCommand):
		t.cfg.Metrics.Inc(metrics.SignalingIgnored)
		logger.Debug("ignoring signaling message", "err", err)
		return
	case err != nil:
		t.cfg.Metrics.Inc(metrics.SignalingMalformed)
		logger.Warn("dropping malformed signaling message", "err", err)
		return
	}

	logger.Debug("signaling message", "command", string(msg.Command()))
	switch m := msg.(type) {
	case Offer:
		t.cfg.Dispatcher.HandleOffer(id, m)
	case RemoteCandidate:
		t.cfg.Dispatcher.HandleCandidate(id, m)
	default:
		t.cfg.Metrics.Inc(metrics.SignalingIgnored)
		logger.Debug("ignoring server-bound command from client", "command", string(msg.Command()))
	}
}

// Disconnect removes id from the admitted set, closes its socket, and tells
// the dispatcher to tear down any session. It is safe to call more than once.
func (t *Transport) Disconnect(id uuid.UUID) {
	t.remove(id, websocket.CloseNormalClosure, "")
	t.cfg.Dispatcher.HandleDisconnect(id)
}

// remove drops id from the admitted set and closes its socket with code.
// Only the call that actually removed the connection counts and logs it.
func (t *Transport) remove(id uuid.UUID, code int, reason string) bool {
	t.mu.Lock()
	c, ok := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()
	if !ok {
		return false
	}

	c.shutdown(code, reason)
	t.cfg.Metrics.Inc(metrics.ClientDisconnected)
	attrs := []any{"client_id", id.String(), "close_code", code}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	t.logger.Info("client disconnected", attrs...)
	return true
}

// Send writes m to client id. It fails with ErrConnectionClosed once the
// connection has been closed or removed.
func (t *Transport) Send(id uuid.UUID, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	t.mu.Lock()
	c := t.conns[id]
	t.mu.Unlock()
	if c == nil {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.alive.Load() {
		return ErrConnectionClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.cfg.Metrics.Inc(metrics.SignalingSendFailed)
		return fmt.Errorf("write %s: %w", m.Command(), err)
	}
	return nil
}

// Close sends a close frame to client id and drops its connection. The read
// loop then runs the regular disconnect path.
func (t *Transport) Close(id uuid.UUID, reason string) {
	t.remove(id, websocket.CloseInternalServerErr, reason)
}

// CloseAll closes every admitted connection and refuses new ones.
func (t *Transport) CloseAll() {
	t.mu.Lock()
	t.closed = true
	ids := make([]uuid.UUID, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.remove(id, websocket.CloseGoingAway, "server shutting down")
	}
}

// SetClientLimit changes the admission limit. Already admitted clients are
// never evicted by a lower limit.
func (t *Transport) SetClientLimit(n int) {
	if n < 0 {
		n = 0
	}
	t.mu.Lock()
	t.limit = n
	t.mu.Unlock()
}

func (t *Transport) ClientLimit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// Admitted returns the identifiers of all admitted clients in a stable order.
func (t *Transport) Admitted() []uuid.UUID {
	t.mu.Lock()
	ids := make([]uuid.UUID, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (t *Transport) isAdmitted(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[id]
	return ok
}

func (c *wsConn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.alive.Store(false)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
