package model

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigIntValueScanRoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"1",
		"18446744073709551615",                                   // max uint64
		"115792089237316195423570985008687907853269984665640564039457584007913129639935", // max uint256
	}

	for _, raw := range cases {
		n, ok := new(big.Int).SetString(raw, 10)
		require.True(t, ok, raw)

		original := NewBigInt(n)
		value, err := original.Value()
		require.NoError(t, err)

		var roundtripped BigInt
		require.NoError(t, roundtripped.Scan(value))
		require.Equal(t, 0, original.Cmp(roundtripped.Int), "round trip mismatch for %s", raw)
	}
}

func TestBigIntFromUint64(t *testing.T) {
	b := BigIntFromUint64(42)
	require.Equal(t, "42", b.String())
}

func TestGormDataType(t *testing.T) {
	require.Equal(t, "numeric(78,0)", BigInt{}.GormDataType())
}

func TestUint64ToInt64Overflow(t *testing.T) {
	_, err := Uint64ToInt64(uint64(1) << 63)
	require.Error(t, err)

	v, err := Uint64ToInt64(42)
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
}
