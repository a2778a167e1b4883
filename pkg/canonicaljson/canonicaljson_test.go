package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeKeyOrdering(t *testing.T) {
	obj := NewObject()
	obj.Set("z", Int(1))
	obj.Set("a", Int(2))

	out, err := Canonicalize(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"z":1}`, string(out))
}

func TestCanonicalizeNumericLookingStringStaysQuoted(t *testing.T) {
	obj := NewObject()
	obj.Set("address", String("123456789"))

	out, err := Canonicalize(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"address":"123456789"}`, string(out))
}

func TestParseThenCanonicalizeRoundTrips(t *testing.T) {
	inputs := []string{
		`{"a":1,"b":[1,2,3],"c":"hello","d":null,"e":true,"f":false}`,
		`{"nested":{"z":1,"a":2}}`,
		`[]`,
		`{}`,
		`"123456789"`,
	}
	for _, in := range inputs {
		v, err := Parse([]byte(in))
		require.NoError(t, err, in)
		out1, err := Canonicalize(v)
		require.NoError(t, err)
		v2, err := Parse(out1)
		require.NoError(t, err)
		out2, err := Canonicalize(v2)
		require.NoError(t, err)
		assert.Equal(t, string(out1), string(out2))
	}
}

func TestParseRejectsFloats(t *testing.T) {
	_, err := Parse([]byte(`{"a":1.5}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonIntegerNumber)

	_, err = Parse([]byte(`{"a":1e10}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonIntegerNumber)
}

func TestCanonicalizeRejectsOutOfRangeIntegers(t *testing.T) {
	_, err := Canonicalize(Int(MaxSafeInteger + 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumberOutOfRange)

	_, err = Canonicalize(Int(MinSafeInteger - 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumberOutOfRange)
}

func TestCanonicalizeWithinRangeIsStable(t *testing.T) {
	for _, i := range []int64{0, 1, -1, MaxSafeInteger, MinSafeInteger} {
		out, err := Canonicalize(Int(i))
		require.NoError(t, err)
		v, err := Parse(out)
		require.NoError(t, err)
		got, ok := v.AsInt()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}
}

func TestMinimalEventHashVector(t *testing.T) {
	// Vector from spec.md §8.3: the canonical form of this object
	// (with hashes/signatures/unsigned already stripped where
	// applicable) feeds content_hash; here we just lock down that the
	// object canonicalizes deterministically key-sorted.
	obj := NewObject()
	obj.Set("event_id", String("$0:domain"))
	obj.Set("origin_server_ts", Int(1000000))
	obj.Set("type", String("X"))
	obj.Set("signatures", NewObject())

	out, err := Canonicalize(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"event_id":"$0:domain","origin_server_ts":1000000,"signatures":{},"type":"X"}`, string(out))
}
