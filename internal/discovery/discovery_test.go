package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

type registerArgs struct {
	instance, service, domain string
	port                      int
	txt                       []string
}

type fakeServer struct {
	mu       sync.Mutex
	shutdown int
}

func (s *fakeServer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown++
}

type fakeFactory struct {
	last   registerArgs
	server *fakeServer
	err    error
}

func (f *fakeFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.last = registerArgs{instance: instance, service: service, domain: domain, port: port, txt: txt}
	if f.err != nil {
		return nil, f.err
	}
	f.server = &fakeServer{}
	return f.server, nil
}

func TestAdvertiserStartAndClose(t *testing.T) {
	factory := &fakeFactory{}
	a := NewAdvertiser(AdvertiserConfig{Instance: "living-room", ServerFactory: factory})

	if err := a.Start(7770, "/signal"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Advertising() {
		t.Fatalf("Advertising()=false, want true")
	}
	if factory.last.instance != "living-room" || factory.last.service != ServiceType || factory.last.domain != Domain || factory.last.port != 7770 {
		t.Fatalf("register args=%+v", factory.last)
	}
	wantTXT := []string{"path=/signal", "version=1"}
	if len(factory.last.txt) != len(wantTXT) {
		t.Fatalf("txt=%v, want %v", factory.last.txt, wantTXT)
	}
	for i := range wantTXT {
		if factory.last.txt[i] != wantTXT[i] {
			t.Fatalf("txt=%v, want %v", factory.last.txt, wantTXT)
		}
	}

	if err := a.Start(7770, "/signal"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err=%v, want %v", err, ErrAlreadyStarted)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if factory.server.shutdown != 1 {
		t.Fatalf("shutdown calls=%d, want 1", factory.server.shutdown)
	}
	if err := a.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close err=%v, want %v", err, ErrClosed)
	}
	if err := a.Start(7770, "/"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close err=%v, want %v", err, ErrClosed)
	}
}

func TestAdvertiserDefaults(t *testing.T) {
	factory := &fakeFactory{}
	a := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})
	if err := a.Start(1234, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if factory.last.instance != "uwc-broker" {
		t.Fatalf("instance=%q, want %q", factory.last.instance, "uwc-broker")
	}
	if factory.last.txt[0] != "path=/" {
		t.Fatalf("txt=%v, want path=/", factory.last.txt)
	}
}

func TestAdvertiserErrors(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		a := NewAdvertiser(AdvertiserConfig{ServerFactory: &fakeFactory{}})
		if err := a.Start(port, "/"); !errors.Is(err, ErrInvalidPort) {
			t.Fatalf("port %d: err=%v, want %v", port, err, ErrInvalidPort)
		}
	}

	boom := errors.New("boom")
	a := NewAdvertiser(AdvertiserConfig{ServerFactory: &fakeFactory{err: boom}})
	if err := a.Start(7770, "/"); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
	if a.Advertising() {
		t.Fatalf("Advertising()=true after failed registration")
	}
}

type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
	err     error
}

func (r *fakeResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	if r.err != nil {
		return r.err
	}
	go func() {
		for _, e := range r.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func entry(instance string, ip string, port int, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, Domain)
	e.Port = port
	e.Text = txt
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return e
}

func TestResolverFind(t *testing.T) {
	r, err := NewResolver(&fakeResolver{entries: []*zeroconf.ServiceEntry{
		entry("no-addr", "", 7770),
		entry("other", "192.168.1.20", 7771, "path=/x"),
		entry("living-room", "192.168.1.10", 7770, "path=/signal", "version=1"),
	}}, time.Second)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	ep, err := r.Find(context.Background(), "")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ep.Instance != "other" || ep.URL() != "ws://192.168.1.20:7771/x" {
		t.Fatalf("endpoint=%+v url=%q, want first addressable entry", ep, ep.URL())
	}

	ep, err = r.Find(context.Background(), "living-room")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got, want := ep.URL(), "ws://192.168.1.10:7770/signal"; got != want {
		t.Fatalf("url=%q, want %q", got, want)
	}
}

func TestResolverNotFound(t *testing.T) {
	r, err := NewResolver(&fakeResolver{entries: []*zeroconf.ServiceEntry{
		entry("other", "192.168.1.20", 7771),
	}}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, err := r.Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrNotFound)
	}

	boom := errors.New("boom")
	r, err = NewResolver(&fakeResolver{err: boom}, time.Second)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, err := r.Find(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
}
