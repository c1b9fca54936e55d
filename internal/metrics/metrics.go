package metrics

import "sync"

// Broker event names.
const (
	ClientAdmitted       = "client_admitted"
	ClientRejected       = "client_rejected"
	ClientDisconnected   = "client_disconnected"
	OriginRejected       = "origin_rejected"
	SignalingIgnored     = "signaling_ignored"
	SignalingMalformed   = "signaling_malformed"
	SignalingRateLimited = "signaling_rate_limited"
	SignalingSendFailed  = "signaling_send_failed"

	SessionCreated      = "session_created"
	SessionDuplicate    = "session_duplicate_offer"
	SessionStartFailed  = "session_start_failed"
	SessionStartTimeout = "session_start_timeout"
	SessionConnected    = "session_connected"
	SessionClosed       = "session_closed"
	SessionFailed       = "session_failed"

	CandidateForwarded     = "candidate_forwarded"
	CandidateSuppressed    = "candidate_suppressed"
	CandidateDroppedNoPeer = "candidate_dropped_no_session"

	DataMessageReceived    = "data_message_received"
	DataMessageSent        = "data_message_sent"
	DataMessageUnsupported = "data_message_unsupported"
	SendClientUnavailable  = "send_client_unavailable"

	BridgeEventDelivered = "bridge_event_delivered"
	BridgeEventDropped   = "bridge_event_dropped"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics is valid and
// discards all updates.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
