// Package resolver implements the Matrix federation server-name
// resolution cascade: IP literal, explicit port, .well-known
// delegation, SRV records, and the 8448 default. Grounded on the
// bridge's mDNS discovery server (Config/New shape, TTL-bounded
// background state) re-targeted from LAN service advertisement to
// outbound federation server-name resolution.
package resolver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/armorclaw/matrixcore/pkg/logger"
)

// DefaultFederationPort is the fallback port per spec.md §4.4 step 5.
const DefaultFederationPort = 8448

// Destination is the transport tuple a server name resolves to.
type Destination struct {
	Host       string // dial target: IP or hostname
	Port       uint16
	TLS        bool
	ServerName string // original server name, used for SNI and certificate matching
	HostHeader string // value to send in the HTTP Host header
}

func (d Destination) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// Resolver resolves server names to destinations, caching each result
// for a fixed period: wellKnownTTL for a .well-known delegation,
// srvRecordTTL for an SRV answer, noDelegationTTL otherwise. The TTLs
// carried by DNS records and the cache headers of .well-known
// responses are not used.
type Resolver struct {
	httpClient *http.Client
	dnsClient  *dns.Client
	dnsServer  string

	mu    sync.RWMutex
	cache map[string]cacheEntry

	group singleflight.Group

	log *logger.Logger
}

type cacheEntry struct {
	dest      Destination
	expiresAt time.Time
}

// Config configures a Resolver.
type Config struct {
	HTTPClient *http.Client
	// DNSServer is the resolver to query, e.g. "1.1.1.1:53". Empty uses
	// the system resolver's first configured nameserver.
	DNSServer string
	Logger    *logger.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	dnsServer := cfg.DNSServer
	if dnsServer == "" {
		dnsServer = systemResolverAddr()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	return &Resolver{
		httpClient: httpClient,
		dnsClient:  &dns.Client{Timeout: 5 * time.Second},
		dnsServer:  dnsServer,
		cache:      make(map[string]cacheEntry),
		log:        log,
	}
}

func systemResolverAddr() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "8.8.8.8:53"
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// Resolve resolves serverName per the spec's cascade. Concurrent
// resolutions of the same server name are coalesced.
func (r *Resolver) Resolve(ctx context.Context, serverName string) (Destination, error) {
	if dest, ok := r.cached(serverName); ok {
		return dest, nil
	}

	result, err, _ := r.group.Do(serverName, func() (interface{}, error) {
		dest, ttl, err := r.resolveUncached(ctx, serverName)
		if err != nil {
			return nil, err
		}
		r.remember(serverName, dest, ttl)
		return dest, nil
	})
	if err != nil {
		return Destination{}, err
	}
	return result.(Destination), nil
}

func (r *Resolver) cached(serverName string) (Destination, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[serverName]
	if !ok || time.Now().After(entry.expiresAt) {
		return Destination{}, false
	}
	return entry.dest, true
}

func (r *Resolver) remember(serverName string, dest Destination, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[serverName] = cacheEntry{dest: dest, expiresAt: time.Now().Add(ttl)}
}

const (
	noDelegationTTL = 30 * time.Minute
	wellKnownTTL    = time.Hour
	srvRecordTTL    = time.Hour
)

func (r *Resolver) resolveUncached(ctx context.Context, serverName string) (Destination, time.Duration, error) {
	host, port, hasPort := splitHostPort(serverName)

	if hasPort {
		return Destination{Host: host, Port: port, TLS: true, ServerName: serverName, HostHeader: serverName}, noDelegationTTL, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return Destination{Host: host, Port: DefaultFederationPort, TLS: true, ServerName: serverName, HostHeader: serverName}, noDelegationTTL, nil
	}

	if delegated, ok := r.fetchWellKnown(ctx, host); ok {
		dest, err := r.resolveDelegated(ctx, serverName, delegated)
		if err == nil {
			return dest, wellKnownTTL, nil
		}
		r.log.Warn("well-known delegation target could not be resolved, falling back", "server_name", serverName, "delegated", delegated, "error", err)
	}

	if target, port, ok := r.lookupSRV(ctx, host); ok {
		return Destination{Host: target, Port: port, TLS: true, ServerName: serverName, HostHeader: serverName}, srvRecordTTL, nil
	}

	return Destination{Host: host, Port: DefaultFederationPort, TLS: true, ServerName: serverName, HostHeader: serverName}, noDelegationTTL, nil
}

// resolveDelegated applies steps 1/2/4/5 of the cascade to a
// .well-known delegation target, per spec.md §4.4 step 3: the host
// header stays the original server name, but the dial target follows
// the delegated authority.
func (r *Resolver) resolveDelegated(ctx context.Context, originalServerName, delegated string) (Destination, error) {
	host, port, hasPort := splitHostPort(delegated)

	if hasPort {
		return Destination{Host: host, Port: port, TLS: true, ServerName: originalServerName, HostHeader: delegated}, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return Destination{Host: host, Port: DefaultFederationPort, TLS: true, ServerName: originalServerName, HostHeader: delegated}, nil
	}
	if target, port, ok := r.lookupSRV(ctx, host); ok {
		return Destination{Host: target, Port: port, TLS: true, ServerName: originalServerName, HostHeader: delegated}, nil
	}
	return Destination{Host: host, Port: DefaultFederationPort, TLS: true, ServerName: originalServerName, HostHeader: delegated}, nil
}

func splitHostPort(serverName string) (host string, port uint16, hasPort bool) {
	idx := strings.LastIndex(serverName, ":")
	if idx < 0 {
		return serverName, 0, false
	}
	// Guard against bare IPv6 literals (no brackets), which also
	// contain colons but are not "host:port".
	maybeHost, maybePort := serverName[:idx], serverName[idx+1:]
	p, err := strconv.ParseUint(maybePort, 10, 16)
	if err != nil {
		return serverName, 0, false
	}
	maybeHost = strings.TrimPrefix(strings.TrimSuffix(maybeHost, "]"), "[")
	return maybeHost, uint16(p), true
}
