package webrtcpeer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/ein-bandit/unity-webrtc-control/internal/metrics"
)

func newVNetAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// newVNetPair returns APIs for a broker at 10.0.0.1 and a client at 10.0.0.2
// on a private virtual LAN.
func newVNetPair(t *testing.T) (server, client *webrtc.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	serverNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new server net: %v", err)
	}
	clientNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new client net: %v", err)
	}
	if err := router.AddNet(serverNet); err != nil {
		t.Fatalf("add server net: %v", err)
	}
	if err := router.AddNet(clientNet); err != nil {
		t.Fatalf("add client net: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	server, err = newVNetAPI(serverNet)
	if err != nil {
		t.Fatalf("new server api: %v", err)
	}
	client, err = newVNetAPI(clientNet)
	if err != nil {
		t.Fatalf("new client api: %v", err)
	}
	return server, client
}

func TestSessionNegotiatesOverVNet(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	serverAPI, clientAPI := newVNetPair(t)
	m := metrics.New()

	s := NewSession(uuid.New(), SessionConfig{
		API:          serverAPI,
		PollInterval: 50 * time.Millisecond,
		Metrics:      m,
	})
	t.Cleanup(s.Cancel)

	clientPC, err := clientAPI.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new client pc: %v", err)
	}
	t.Cleanup(func() { _ = clientPC.Close() })

	unordered := false
	clientDC, err := clientPC.CreateDataChannel(DefaultDataChannelLabel, &webrtc.DataChannelInit{Ordered: &unordered})
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	clientMessages := make(chan string, 4)
	clientDC.OnMessage(func(msg webrtc.DataChannelMessage) {
		clientMessages <- string(msg.Data)
	})

	clientPC.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.AddRemoteCandidate(c.ToJSON()); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("AddRemoteCandidate: %v", err)
		}
	})

	h := newRecordingHandler()
	h.onAnswer = func(sdp string) {
		if err := clientPC.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
			t.Errorf("set remote answer: %v", err)
		}
	}
	h.onCandidate = func(c webrtc.ICECandidateInit) {
		if err := clientPC.AddICECandidate(c); err != nil {
			t.Errorf("add server candidate: %v", err)
		}
	}

	offer, err := clientPC.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := clientPC.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	if err := ValidateOffer(offer.SDP); err != nil {
		t.Fatalf("ValidateOffer: %v", err)
	}

	if err := s.Start(context.Background(), offer.SDP, h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), offer.SDP, h); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err=%v, want ErrAlreadyStarted", err)
	}

	waitClosed(t, h.opened, 15*time.Second, "data channel open")
	if got := s.State(); got != StateConnected {
		t.Fatalf("State()=%s, want %s", got, StateConnected)
	}
	if !s.Opened() {
		t.Fatalf("Opened()=false after open")
	}

	events := h.recorded()
	if len(events) == 0 || events[0] != "answer" {
		t.Fatalf("events=%v, want answer first", events)
	}
	if m.Get(metrics.CandidateForwarded) == 0 {
		t.Fatalf("%s=0, want forwarded host candidates", metrics.CandidateForwarded)
	}

	if err := s.Send(`{"type":"ping","data":{}}`); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-clientMessages:
		if got != `{"type":"ping","data":{}}` {
			t.Fatalf("client got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for client message")
	}

	if err := clientDC.SendText(`{"type":"button","data":1}`); err != nil {
		t.Fatalf("client SendText: %v", err)
	}
	select {
	case got := <-h.messages:
		if got != `{"type":"button","data":1}` {
			t.Fatalf("server got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for server message")
	}

	s.Cancel()
	waitClosed(t, s.Done(), 5*time.Second, "done")
	waitClosed(t, h.exited, time.Second, "OnExit")

	if got := s.State(); got != StateClosed {
		t.Fatalf("State()=%s, want %s", got, StateClosed)
	}
	if err := s.Send("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Cancel err=%v, want ErrClosed", err)
	}
	if got := m.Get(metrics.SessionClosed); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.SessionClosed, got)
	}
}

func TestSessionRejectsForeignLabel(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	serverAPI, clientAPI := newVNetPair(t)

	s := NewSession(uuid.New(), SessionConfig{API: serverAPI, PollInterval: 50 * time.Millisecond})
	t.Cleanup(s.Cancel)

	clientPC, err := clientAPI.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new client pc: %v", err)
	}
	t.Cleanup(func() { _ = clientPC.Close() })

	clientDC, err := clientPC.CreateDataChannel("something-else", nil)
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	clientClosed := make(chan struct{})
	clientDC.OnClose(func() { close(clientClosed) })

	clientPC.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			_ = s.AddRemoteCandidate(c.ToJSON())
		}
	})
	h := newRecordingHandler()
	h.onAnswer = func(sdp string) {
		_ = clientPC.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	}
	h.onCandidate = func(c webrtc.ICECandidateInit) {
		_ = clientPC.AddICECandidate(c)
	}

	offer, err := clientPC.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := clientPC.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	if err := s.Start(context.Background(), offer.SDP, h); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitClosed(t, clientClosed, 15*time.Second, "foreign data channel close")
	select {
	case <-h.opened:
		t.Fatalf("session opened a foreign data channel")
	default:
	}
	if got := s.State(); got != StateNegotiating {
		t.Fatalf("State()=%s, want %s", got, StateNegotiating)
	}
}
