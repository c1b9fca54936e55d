package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const DefaultBrowseTimeout = 5 * time.Second

var ErrNotFound = errors.New("discovery: no signaling endpoint found")

// MDNSResolver browses for service instances. Tests substitute a fake.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Endpoint is one advertised broker.
type Endpoint struct {
	Instance string
	IP       net.IP
	Port     int
	Path     string
}

// URL returns the signaling WebSocket URL of the endpoint.
func (e Endpoint) URL() string {
	return "ws://" + net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port)) + e.Path
}

type Resolver struct {
	resolver MDNSResolver
	timeout  time.Duration
}

// NewResolver wraps r, or a zeroconf resolver on all interfaces when r is nil.
func NewResolver(r MDNSResolver, timeout time.Duration) (*Resolver, error) {
	if r == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("discovery: new resolver: %w", err)
		}
		r = zr
	}
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	return &Resolver{resolver: r, timeout: timeout}, nil
}

// Find returns the first advertised endpoint that has an IPv4 address. When
// instance is not empty only that instance is accepted.
func (r *Resolver) Find(ctx context.Context, instance string) (Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.resolver.Browse(ctx, ServiceType, Domain, entries)
	}()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return Endpoint{}, fmt.Errorf("discovery: browse: %w", err)
			}
			// Browse returning nil only means the query is running.
			errCh = nil
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, ErrNotFound
			}
			ep, ok := endpointFromEntry(entry)
			if !ok {
				continue
			}
			if instance != "" && ep.Instance != instance {
				continue
			}
			return ep, nil
		case <-ctx.Done():
			return Endpoint{}, ErrNotFound
		}
	}
}

func endpointFromEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port <= 0 || len(entry.AddrIPv4) == 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{
		Instance: entry.Instance,
		IP:       entry.AddrIPv4[0],
		Port:     entry.Port,
		Path:     "/",
	}
	for _, kv := range entry.Text {
		key, value, ok := strings.Cut(kv, "=")
		if ok && key == txtPath && strings.HasPrefix(value, "/") {
			ep.Path = value
		}
	}
	return ep, true
}
