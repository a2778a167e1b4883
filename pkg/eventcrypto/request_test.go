package eventcrypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSigningSpecVectors locks in the two signing vectors from spec.md
// §8.2 (the Matrix specification's own canonical "signing JSON"
// examples): signing the empty object, and signing a simple two-key
// object, with a fixed Ed25519 seed.
func TestSigningSpecVectors(t *testing.T) {
	seed, err := base64.RawStdEncoding.DecodeString("YJDBA9Xnr2sVqXD9Vj7XVUnmFZcZrlw8Md7kMW+3XA1")
	require.NoError(t, err)
	require.Len(t, seed, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)

	sig1 := ed25519.Sign(priv, []byte("{}"))
	require.Equal(t, "K8280/U9SSy9IVtjBuVeLr+HpOB4BQFWbg+UZaADMtTdGYI7Geitb76LTrr5QV/7Xg4ahLwYGYZzuHGZKM5ZAQ", base64.RawStdEncoding.EncodeToString(sig1))

	sig2 := ed25519.Sign(priv, []byte(`{"one":1,"two":"Two"}`))
	require.Equal(t, "KqmLSbO39/Bzb0QIYE82zqLwsA+PDzYIpIRA2sRQ4sL53+sN6/fpNSoqE7BP7vBZhG6kYdD13EIMJpvhJI+6Bw", base64.RawStdEncoding.EncodeToString(sig2))
}
