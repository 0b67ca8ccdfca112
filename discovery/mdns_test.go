package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus/hooks/test"
)

func newEntry(instance string, port int, addr string, text ...string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(instance, DefaultService, DefaultDomain)
	entry.HostName = instance + ".local."
	entry.Port = port
	entry.Text = text
	if addr != "" {
		entry.AddrIPv4 = []net.IP{net.ParseIP(addr)}
	}
	return entry
}

func staticBrowse(entries ...*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
		for _, entry := range entries {
			out <- entry
		}
		return nil
	}
}

func testConfig(browse browseFunc) Config {
	logger, _ := test.NewNullLogger()
	return Config{
		ScanTimeout: 50 * time.Millisecond,
		Logger:      logger,
		browseFn:    browse,
	}
}

func TestScanCollectsAndSortsServers(t *testing.T) {
	var gotService, gotDomain string
	browse := func(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
		gotService = service
		gotDomain = domain
		out <- newEntry("zeta", 8443, "192.168.1.20", "version=2", "tls=true")
		out <- newEntry("alpha", 8000, "192.168.1.10", "path=/chat/")
		out <- newEntry("broken", 0, "192.168.1.30")
		return nil
	}

	servers, err := Scan(context.Background(), testConfig(browse))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if gotService != DefaultService || gotDomain != DefaultDomain {
		t.Fatalf("unexpected browse target %q %q", gotService, gotDomain)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if servers[0].Instance != "alpha" || servers[1].Instance != "zeta" {
		t.Fatalf("unexpected order: %q, %q", servers[0].Instance, servers[1].Instance)
	}
	if servers[1].Version != 2 || !servers[1].Secure {
		t.Fatalf("expected TXT metadata on zeta, got %+v", servers[1])
	}
}

func TestSocketBaseFromEntry(t *testing.T) {
	cases := []struct {
		entry *zeroconf.ServiceEntry
		want  string
	}{
		{newEntry("alpha", 8000, "192.168.1.10", "path=/chat/"), "ws://192.168.1.10:8000/chat"},
		{newEntry("zeta", 8443, "192.168.1.20", "tls=1"), "wss://192.168.1.20:8443"},
		{newEntry("named", 9000, ""), "ws://named.local:9000"},
	}

	for _, tc := range cases {
		server, ok := parseEntry(tc.entry)
		if !ok {
			t.Fatalf("parseEntry rejected %q", tc.entry.Instance)
		}
		if got := server.SocketBase(); got != tc.want {
			t.Fatalf("SocketBase for %q: expected %q, got %q", tc.entry.Instance, tc.want, got)
		}
	}
}

func TestResolveSocketBasePicksFirstServer(t *testing.T) {
	cfg := testConfig(staticBrowse(
		newEntry("beta", 8001, "10.0.0.2"),
		newEntry("alpha", 8000, "10.0.0.1"),
	))

	base, err := ResolveSocketBase(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ResolveSocketBase failed: %v", err)
	}
	if base != "ws://10.0.0.1:8000" {
		t.Fatalf("unexpected socket base %q", base)
	}
}

func TestResolveSocketBaseWithoutServers(t *testing.T) {
	_, err := ResolveSocketBase(context.Background(), testConfig(staticBrowse()))
	if !errors.Is(err, ErrNoServer) {
		t.Fatalf("expected ErrNoServer, got %v", err)
	}
}

func TestScanPropagatesBrowseError(t *testing.T) {
	boom := errors.New("no multicast")
	browse := func(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
		return boom
	}

	if _, err := Scan(context.Background(), testConfig(browse)); !errors.Is(err, boom) {
		t.Fatalf("expected browse error, got %v", err)
	}
}

func TestScanHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Scan(ctx, testConfig(staticBrowse())); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
