package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultService is the mDNS service the chat server advertises.
	DefaultService = "_tutorchat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds one discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

// ErrNoServer is returned when a scan finds no chat server.
var ErrNoServer = errors.New("discovery: no chat server found")

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls server discovery.
type Config struct {
	Service     string
	Domain      string
	ScanTimeout time.Duration
	Logger      logrus.FieldLogger

	browseFn browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// Server is a chat server advertised on the local network.
type Server struct {
	Instance  string
	HostName  string
	Port      int
	Addresses []string
	Secure    bool
	Path      string
	Version   int
}

// SocketBase returns the websocket base URL of the server, preferring the
// first advertised address over the host name.
func (s Server) SocketBase() string {
	host := strings.TrimSuffix(s.HostName, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}

	scheme := "ws"
	if s.Secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(s.Port)),
		Path:   strings.TrimSuffix(s.Path, "/"),
	}
	return u.String()
}

// Scan browses for chat servers until the scan window closes.
func Scan(ctx context.Context, config Config) ([]Server, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Server)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				server, ok := parseEntry(entry)
				if !ok {
					continue
				}
				collected[server.Instance] = server
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", cfg.Service, err)
	}

	<-scanCtx.Done()
	<-collectorDone

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Server, 0, len(collected))
	for _, server := range collected {
		out = append(out, server)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance < out[j].Instance
	})
	return out, nil
}

// ResolveSocketBase scans once and returns the websocket base URL of the
// first server found.
func ResolveSocketBase(ctx context.Context, config Config) (string, error) {
	cfg := config.withDefaults()
	servers, err := Scan(ctx, cfg)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", ErrNoServer
	}

	base := servers[0].SocketBase()
	cfg.Logger.WithFields(logrus.Fields{
		"instance": servers[0].Instance,
		"base":     base,
		"found":    len(servers),
	}).Info("discovered chat server")
	return base, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Server, bool) {
	if entry.Port <= 0 {
		return Server{}, false
	}
	txt := txtToMap(entry.Text)

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" || (len(addresses) == 0 && entry.HostName == "") {
		return Server{}, false
	}

	secure, _ := strconv.ParseBool(txt["tls"])
	return Server{
		Instance:  name,
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
		Secure:    secure,
		Path:      txt["path"],
		Version:   version,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
