package resolver

import (
	"context"
	"net"
	"sort"

	"github.com/miekg/dns"
)

// srvServiceNames are tried in order per spec.md §4.4 step 4: the
// modern "_matrix-fed._tcp" service first, falling back to the
// deprecated "_matrix._tcp" name for older deployments.
var srvServiceNames = []string{
	"_matrix-fed._tcp.",
	"_matrix._tcp.",
}

// lookupSRV resolves the SRV records for host, selecting the target
// with lowest priority then highest weight, and resolves that target's
// A/AAAA records to an IP. Returns ok=false if no service record (or no
// address for its target) was found under either service name.
func (r *Resolver) lookupSRV(ctx context.Context, host string) (target string, port uint16, ok bool) {
	for _, service := range srvServiceNames {
		records, err := r.querySRV(ctx, service+dns.Fqdn(host))
		if err != nil || len(records) == 0 {
			continue
		}

		best := pickSRV(records)
		addr, err := r.resolveA(ctx, best.Target)
		if err != nil {
			continue
		}
		return addr, best.Port, true
	}
	return "", 0, false
}

func (r *Resolver) querySRV(ctx context.Context, fqdn string) ([]*dns.SRV, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeSRV)

	resp, _, err := r.dnsClient.ExchangeContext(ctx, msg, r.dnsServer)
	if err != nil {
		return nil, err
	}

	var records []*dns.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	return records, nil
}

// pickSRV chooses a target by ascending priority, then descending
// weight, then lexicographic target name -- a deterministic
// simplification of RFC 2782's weighted random selection, adequate
// since the caller only needs one destination per resolution.
func pickSRV(records []*dns.SRV) *dns.SRV {
	sorted := append([]*dns.SRV(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].Target < sorted[j].Target
	})
	return sorted[0]
}

func (r *Resolver) resolveA(ctx context.Context, fqdn string) (string, error) {
	if ip := net.ParseIP(stripTrailingDot(fqdn)); ip != nil {
		return ip.String(), nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeA)

	resp, _, err := r.dnsClient.ExchangeContext(ctx, msg, r.dnsServer)
	if err == nil {
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				return a.A.String(), nil
			}
		}
	}

	msg = new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeAAAA)
	resp, _, err = r.dnsClient.ExchangeContext(ctx, msg, r.dnsServer)
	if err != nil {
		return "", err
	}
	for _, rr := range resp.Answer {
		if aaaa, ok := rr.(*dns.AAAA); ok {
			return aaaa.AAAA.String(), nil
		}
	}
	return "", errNoAddressRecord
}

func stripTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

var errNoAddressRecord = &noAddressRecordError{}

type noAddressRecordError struct{}

func (*noAddressRecordError) Error() string { return "resolver: no A/AAAA record found for SRV target" }
