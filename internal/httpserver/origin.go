package httpserver

import (
	"net/http"
	"strings"

	"github.com/ein-bandit/unity-webrtc-control/internal/origin"
)

const corsAllowMethods = "GET,PUT,OPTIONS"

// withOriginPolicy gates the client endpoints on the same origin allow-list
// as the signaling upgrade. Requests without an Origin header pass through.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Origin")
		if strings.TrimSpace(header) == "" {
			next(w, r)
			return
		}

		allowed, ok := origin.Normalize(header)
		if !ok || !s.origins.Allow(header) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		setCORSHeaders(w.Header(), allowed)

		if isPreflight(r) {
			answerPreflight(w, r)
			return
		}
		next(w, r)
	}
}

func setCORSHeaders(h http.Header, allowedOrigin string) {
	h.Set("Access-Control-Allow-Origin", allowedOrigin)
	h.Set("Access-Control-Expose-Headers", "X-Request-ID")
	h.Add("Vary", "Origin")
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func answerPreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	if reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); reqHeaders != "" {
		h.Set("Access-Control-Allow-Headers", reqHeaders)
	}
	h.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}
