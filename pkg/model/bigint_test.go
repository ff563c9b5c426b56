package model

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigIntJSONRoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	b := NewBigInt(huge)
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.Equal(t, `"123456789012345678901234567890"`, string(data))

	var decoded BigInt
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 0, huge.Cmp(&decoded.Int))
}

func TestBigIntFromBytesMatchesTransferDataDecoding(t *testing.T) {
	// 32-byte big-endian encoding of 1000.
	data := make([]byte, 32)
	data[31] = 0xe8
	data[30] = 0x03

	b := BigIntFromBytes(data)
	require.Equal(t, "1000", b.Int.String())
}

func TestBigIntScanValueRoundTrip(t *testing.T) {
	b := NewBigInt(big.NewInt(42))
	v, err := b.Value()
	require.NoError(t, err)
	require.Equal(t, "42", v)

	var scanned BigInt
	require.NoError(t, scanned.Scan("42"))
	require.Equal(t, int64(42), scanned.Int.Int64())
}
