package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ein-bandit/unity-webrtc-control/internal/broker"
	"github.com/ein-bandit/unity-webrtc-control/internal/config"
	"github.com/ein-bandit/unity-webrtc-control/internal/metrics"
	"github.com/ein-bandit/unity-webrtc-control/internal/origin"
)

var ErrServerClosed = http.ErrServerClosed

const maxLimitBodyBytes = 1024

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Broker is the part of *broker.Broker the operational endpoints read and
// adjust.
type Broker interface {
	Ready() bool
	Clients() []broker.ClientInfo
	ClientLimit() int
	SetClientLimit(n int)
	Metrics() *metrics.Metrics
	RegisterRoutes(mux *http.ServeMux)
}

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	broker  Broker
	origins origin.Policy

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, b Broker) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		broker:  b,
		origins: origin.NewPolicy(cfg.AllowedOrigins),
		mux:     http.NewServeMux(),
	}

	s.registerRoutes()
	b.RegisterRoutes(s.mux)

	handler := wrap(s.mux,
		withRequestID,
		withAccessLog(s.log),
		withRecovery(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Signaling connections are long-lived WebSockets; their deadlines are
		// managed by the transport.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() || !s.broker.Ready() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.broker.Metrics(),
		metrics.Gauge{
			Name:  "uwc_broker_clients",
			Help:  "Signaling clients currently connected.",
			Value: func() float64 { return float64(len(s.broker.Clients())) },
		},
		metrics.Gauge{
			Name:  "uwc_broker_client_limit",
			Help:  "Maximum number of concurrent signaling clients.",
			Value: func() float64 { return float64(s.broker.ClientLimit()) },
		},
	))

	s.mux.HandleFunc("GET /clients", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"clients": s.broker.Clients(),
			"limit":   s.broker.ClientLimit(),
		})
	}))

	if s.cfg.Mode == config.ModeDev {
		s.mux.HandleFunc("PUT /clients/limit", s.withOriginPolicy(s.handleSetLimit))
		s.mux.HandleFunc("OPTIONS /clients/limit", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit *int `json:"limit"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLimitBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid body: %v", err)})
		return
	}
	if body.Limit == nil || *body.Limit < 0 {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be an integer >= 0"})
		return
	}
	s.broker.SetClientLimit(*body.Limit)
	WriteJSON(w, http.StatusOK, map[string]any{"limit": s.broker.ClientLimit()})
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
