package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestSplitHostPortLiteralHost(t *testing.T) {
	host, port, hasPort := splitHostPort("example.org")
	if hasPort {
		t.Fatal("expected no port")
	}
	if host != "example.org" || port != 0 {
		t.Errorf("got host=%q port=%d", host, port)
	}
}

func TestSplitHostPortExplicitPort(t *testing.T) {
	host, port, hasPort := splitHostPort("example.org:8448")
	if !hasPort {
		t.Fatal("expected a port")
	}
	if host != "example.org" || port != 8448 {
		t.Errorf("got host=%q port=%d", host, port)
	}
}

func TestSplitHostPortIPv6Literal(t *testing.T) {
	host, port, hasPort := splitHostPort("[2001:db8::1]:8448")
	if !hasPort || host != "2001:db8::1" || port != 8448 {
		t.Errorf("got host=%q port=%d hasPort=%v", host, port, hasPort)
	}
}

func TestSplitHostPortBareIPv6NoPort(t *testing.T) {
	// A bare IPv6 literal has colons but is not host:port -- the last
	// segment after the final colon is not a valid port number.
	host, _, hasPort := splitHostPort("2001:db8::1")
	if hasPort {
		t.Errorf("bare IPv6 literal should not be parsed as having an explicit port, got host=%q", host)
	}
}

func TestResolveIPLiteralUsesDefaultPort(t *testing.T) {
	r := New(Config{})
	dest, err := r.Resolve(context.Background(), "198.51.100.7")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dest.Host != "198.51.100.7" || dest.Port != DefaultFederationPort {
		t.Errorf("got %+v", dest)
	}
	if dest.HostHeader != "198.51.100.7" {
		t.Errorf("expected host header to echo the literal, got %q", dest.HostHeader)
	}
}

func TestResolveExplicitPortSkipsDelegationAndSRV(t *testing.T) {
	r := New(Config{})
	dest, err := r.Resolve(context.Background(), "example.org:8448")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dest.Host != "example.org" || dest.Port != 8448 || dest.HostHeader != "example.org:8448" {
		t.Errorf("got %+v", dest)
	}
}

func TestResolveCachesResult(t *testing.T) {
	r := New(Config{})
	r.remember("cached.example.org", Destination{Host: "1.2.3.4", Port: 8448, TLS: true}, time.Hour)

	dest, ok := r.cached("cached.example.org")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if dest.Host != "1.2.3.4" {
		t.Errorf("got %+v", dest)
	}
}

func TestResolveCacheExpires(t *testing.T) {
	r := New(Config{})
	r.remember("stale.example.org", Destination{Host: "1.2.3.4"}, -time.Second)

	if _, ok := r.cached("stale.example.org"); ok {
		t.Error("expected expired cache entry to miss")
	}
}

func TestPickSRVOrdersByPriorityThenWeight(t *testing.T) {
	records := []*dns.SRV{
		{Priority: 10, Weight: 5, Target: "b.example.org."},
		{Priority: 5, Weight: 1, Target: "a.example.org."},
		{Priority: 5, Weight: 9, Target: "c.example.org."},
	}
	best := pickSRV(records)
	if best.Target != "c.example.org." {
		t.Errorf("expected the lowest-priority, highest-weight record, got %q", best.Target)
	}
}

func TestDestinationAddressFormatsHostPort(t *testing.T) {
	d := Destination{Host: "example.org", Port: 8448}
	if got := d.Address(); got != "example.org:8448" {
		t.Errorf("got %q", got)
	}
}
