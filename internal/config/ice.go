package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "UWC_ICE_SERVERS_JSON"

	envStunURLs       = "UWC_STUN_URLS"
	envTurnURLs       = "UWC_TURN_URLS"
	envTurnUsername   = "UWC_TURN_USERNAME"
	envTurnCredential = "UWC_TURN_CREDENTIAL"
)

var (
	errNoICEURLs         = errors.New("at least one url is required")
	errEmptyICEURL       = errors.New("empty url")
	errTURNNeedsUsername = errors.New("turn urls require a username")
	errTURNNeedsSecret   = errors.New("turn urls require a credential")
)

// iceSource is where an ICE server list came from. Either the JSON list
// wins outright or the STUN/TURN convenience variables are combined.
type iceSource struct {
	json           string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

func (src iceSource) servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(src.json); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(src.stunURLs, src.turnURLs, src.turnUsername, src.turnCredential)
}

func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	return iceSource{
		json:           iceServersJSON,
		stunURLs:       stunURLs,
		turnURLs:       turnURLs,
		turnUsername:   turnUsername,
		turnCredential: turnCredential,
	}.servers()
}

// jsonICEServer mirrors the browser RTCIceServer dictionary, where "urls"
// may be one string or a list of strings.
type jsonICEServer struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if json.Unmarshal(b, &one) == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("urls: want a string or a list of strings: %w", err)
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses a browser-style RTCIceServer list, e.g.
// [{"urls":"stun:stun.l.google.com:19302"}].
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []jsonICEServer
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server, err := newICEServer(e.URLs, e.Username, e.Credential)
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServersFromConvenienceEnv builds at most two ICE servers: one for
// the comma-separated STUN URLs and one for the TURN URLs with their
// shared credentials.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server, err := newICEServer(urls, "", "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		if strings.TrimSpace(turnUsername) == "" || strings.TrimSpace(turnCredential) == "" {
			return nil, fmt.Errorf("%s and %s must both be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server, err := newICEServer(urls, turnUsername, turnCredential)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// newICEServer trims and checks one server entry. Every URL must parse as a
// STUN or TURN URI, and TURN URLs need both a username and a credential.
func newICEServer(rawURLs []string, username, credential string) (webrtc.ICEServer, error) {
	server := webrtc.ICEServer{
		Username: strings.TrimSpace(username),
	}
	if c := strings.TrimSpace(credential); c != "" {
		server.Credential = c
	}

	needsAuth := false
	for _, raw := range rawURLs {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		uri, err := stun.ParseURI(u)
		if err != nil {
			return webrtc.ICEServer{}, fmt.Errorf("%q: %w", u, err)
		}
		if IsTURN(uri.Scheme) {
			needsAuth = true
		}
		server.URLs = append(server.URLs, u)
	}
	if len(server.URLs) == 0 {
		if len(rawURLs) > 0 {
			return webrtc.ICEServer{}, errEmptyICEURL
		}
		return webrtc.ICEServer{}, errNoICEURLs
	}

	if needsAuth {
		if server.Username == "" {
			return webrtc.ICEServer{}, errTURNNeedsUsername
		}
		if server.Credential == nil {
			return webrtc.ICEServer{}, errTURNNeedsSecret
		}
	}
	return server, nil
}

// IsTURN reports whether scheme names a relay server.
func IsTURN(scheme stun.SchemeType) bool {
	return scheme == stun.SchemeTypeTURN || scheme == stun.SchemeTypeTURNS
}

// HasTURNServer reports whether any configured URL points at a TURN server.
func HasTURNServer(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		for _, raw := range server.URLs {
			uri, err := stun.ParseURI(strings.TrimSpace(raw))
			if err == nil && IsTURN(uri.Scheme) {
				return true
			}
		}
	}
	return false
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
