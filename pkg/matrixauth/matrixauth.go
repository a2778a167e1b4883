// Package matrixauth parses and verifies the X-Matrix authorization
// header carried on every authenticated federation request. Grounded
// on the teacher's zero-trust verification result shape
// (pkg/trust.ZeroTrustResult's Passed/Message fields), generalized
// here from device risk-scoring to signed-request pass/fail.
package matrixauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/armorclaw/matrixcore/pkg/eventcrypto"
	"github.com/armorclaw/matrixcore/pkg/keystore"
)

// Header is a parsed "X-Matrix origin=...,key=...,sig=...,destination=..."
// value. destination is optional on older senders.
type Header struct {
	Origin      string
	KeyID       string
	Signature   string
	Destination string
}

// ParseHeader parses spec.md §4.2's auth_header grammar: quoted or
// unquoted comma-separated key=value pairs after the "X-Matrix" scheme
// name.
func ParseHeader(raw string) (Header, error) {
	const scheme = "X-Matrix "
	if !strings.HasPrefix(raw, scheme) {
		return Header{}, fmt.Errorf("matrixauth: missing X-Matrix scheme")
	}
	fields := splitPairs(raw[len(scheme):])

	var h Header
	for key, value := range fields {
		switch key {
		case "origin":
			h.Origin = value
		case "key":
			h.KeyID = value
		case "sig":
			h.Signature = value
		case "destination":
			h.Destination = value
		}
	}
	if h.Origin == "" || h.KeyID == "" || h.Signature == "" {
		return Header{}, fmt.Errorf("matrixauth: header missing origin/key/sig")
	}
	return h, nil
}

// splitPairs splits a comma-separated key=value list, stripping quotes
// from values that carry them.
func splitPairs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(part[:idx])
		value := strings.TrimSpace(part[idx+1:])
		value = strings.Trim(value, `"`)
		out[key] = value
	}
	return out
}

// Result reports whether an inbound request's X-Matrix header
// verified, in the teacher's pass/fail-plus-reason shape.
type Result struct {
	Allowed      bool
	Origin       string
	DenialReason string
}

// VerifyRequest implements spec.md §4.2's verify_request: parse the
// header, rebuild the signed object from method/uri/body, and verify
// against the origin server's current keys (fetched/cached via keys).
func VerifyRequest(ctx context.Context, keys *keystore.KeyStore, fetch keystore.FetchServerKeysFunc, method, uri string, body []byte, rawHeader string) Result {
	header, err := ParseHeader(rawHeader)
	if err != nil {
		return Result{Allowed: false, DenialReason: err.Error()}
	}

	pub, err := keys.VerifyKey(ctx, header.Origin, header.KeyID, fetch)
	if err != nil {
		return Result{Allowed: false, Origin: header.Origin, DenialReason: fmt.Sprintf("key lookup failed: %v", err)}
	}

	ok, err := eventcrypto.VerifyRequestSignature(method, uri, header.Origin, header.Destination, body, header.Signature, pub)
	if err != nil {
		return Result{Allowed: false, Origin: header.Origin, DenialReason: fmt.Sprintf("signature check error: %v", err)}
	}
	if !ok {
		return Result{Allowed: false, Origin: header.Origin, DenialReason: "signature did not verify"}
	}

	return Result{Allowed: true, Origin: header.Origin}
}
