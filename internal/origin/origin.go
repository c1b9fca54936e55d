package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header (or an allow-list entry) and
// returns it as scheme://host[:port] with default ports removed. The literal
// "null" origin is returned unchanged.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "":
		return "", false
	case "null":
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}
	port := u.Port()
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}
	if strings.HasSuffix(u.Host, ":") {
		return "", false
	}

	host := hostname
	if port != "" {
		host = net.JoinHostPort(hostname, port)
	} else if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	return scheme + "://" + host, true
}

// Policy decides which Origin headers may open a signaling connection.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a policy from an allow-list. An empty list or a "*" entry
// accepts every origin. Entries that do not normalize are ignored.
func NewPolicy(allowed []string) Policy {
	p := Policy{allowed: make(map[string]struct{}, len(allowed))}
	if len(allowed) == 0 {
		p.any = true
	}
	for _, entry := range allowed {
		if strings.TrimSpace(entry) == "*" {
			p.any = true
			continue
		}
		if n, ok := Normalize(entry); ok {
			p.allowed[n] = struct{}{}
		}
	}
	return p
}

// AllowsAny reports whether the policy accepts every origin.
func (p Policy) AllowsAny() bool { return p.any }

// Allow reports whether a request carrying the given Origin header may
// proceed. Requests without an Origin header come from non-browser clients
// and are accepted.
func (p Policy) Allow(header string) bool {
	if p.any || strings.TrimSpace(header) == "" {
		return true
	}
	n, ok := Normalize(header)
	if !ok {
		return false
	}
	_, ok = p.allowed[n]
	return ok
}
