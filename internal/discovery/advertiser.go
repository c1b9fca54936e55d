// Package discovery advertises the signaling endpoint on the local network
// over mDNS/DNS-SD and finds advertised brokers from the client side.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type of a signaling endpoint.
	ServiceType = "_uwc-signal._tcp"
	Domain      = "local."

	txtPath    = "path"
	txtVersion = "version"

	protocolVersion = "1"
)

var (
	ErrClosed         = errors.New("discovery: advertiser closed")
	ErrAlreadyStarted = errors.New("discovery: already advertising")
	ErrInvalidPort    = errors.New("discovery: invalid port")
)

// MDNSServer is a running registration.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory registers a service instance. Tests substitute a fake.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

type AdvertiserConfig struct {
	// Instance is the DNS-SD instance name shown to browsers.
	Instance string

	// Interfaces limits the advertisement. Nil advertises on all multicast
	// interfaces.
	Interfaces []net.Interface

	ServerFactory MDNSServerFactory
	Logger        *slog.Logger
}

// Advertiser publishes one signaling endpoint. It is safe for concurrent use.
type Advertiser struct {
	cfg     AdvertiserConfig
	factory MDNSServerFactory
	logger  *slog.Logger

	mu     sync.Mutex
	server MDNSServer
	closed bool
}

func NewAdvertiser(cfg AdvertiserConfig) *Advertiser {
	factory := cfg.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Instance) == "" {
		cfg.Instance = "uwc-broker"
	}
	return &Advertiser{cfg: cfg, factory: factory, logger: logger}
}

// Start registers the endpoint listening on port with the given signaling
// path.
func (a *Advertiser) Start(port int, path string) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if path == "" {
		path = "/"
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	txt := []string{txtPath + "=" + path, txtVersion + "=" + protocolVersion}
	server, err := a.factory.Register(a.cfg.Instance, ServiceType, Domain, port, txt, a.cfg.Interfaces)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", ServiceType, err)
	}
	a.server = server
	a.logger.Info("advertising signaling endpoint", "instance", a.cfg.Instance, "service", ServiceType, "port", port, "path", path)
	return nil
}

func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Close withdraws the advertisement. Later calls return ErrClosed.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.closed = true
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}
