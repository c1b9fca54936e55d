package webrtcpeer

import (
	"net"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/ein-bandit/unity-webrtc-control/internal/config"
)

// CandidateFilter reports whether a locally gathered candidate may be sent to
// the client.
type CandidateFilter func(webrtc.ICECandidateInit) bool

// AllowAllCandidates forwards every gathered candidate.
func AllowAllCandidates(webrtc.ICECandidateInit) bool { return true }

// HostIPv4Candidates forwards only host candidates with a literal IPv4
// address on the first component. Server reflexive, relay, IPv6 and mDNS
// host names never leave the broker.
func HostIPv4Candidates(c webrtc.ICECandidateInit) bool {
	cand, err := ParseCandidate(c.Candidate)
	if err != nil {
		return false
	}
	if cand.Type() != ice.CandidateTypeHost || cand.Component() != ice.ComponentRTP {
		return false
	}
	addr := cand.Address()
	if strings.Contains(addr, ":") {
		return false
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.To4() != nil
}

// FilterFor maps the configured filter mode to a CandidateFilter.
func FilterFor(mode config.CandidateFilter) CandidateFilter {
	if mode == config.CandidateFilterAll {
		return AllowAllCandidates
	}
	return HostIPv4Candidates
}

// ParseCandidate parses an SDP candidate attribute value, with or without
// the "candidate:" prefix browsers send.
func ParseCandidate(raw string) (ice.Candidate, error) {
	return ice.UnmarshalCandidate(strings.TrimPrefix(strings.TrimSpace(raw), "candidate:"))
}
