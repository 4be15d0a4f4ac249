package pump

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lag/prices/pkg"
)

func accountBytes(virtualTokenReserves, virtualSolReserves uint64) []byte {
	buf := make([]byte, 8)
	tr := make([]byte, 8)
	binary.LittleEndian.PutUint64(tr, virtualTokenReserves)
	buf = append(buf, tr...)
	sr := make([]byte, 8)
	binary.LittleEndian.PutUint64(sr, virtualSolReserves)
	return append(buf, sr...)
}

func TestDecodeComputesReserveRatio(t *testing.T) {
	// 30 SOL / 1,073,000,000 tokens, scaled by their respective decimals.
	data := accountBytes(1_073_000_000_000_000, 30_000_000_000)
	price, ok := Decode(data, &pkg.ProgramDescriptor{})
	require.True(t, ok)
	require.InDelta(t, 30.0/1_073_000_000, price, 1e-9)
}

func TestDecodeIsAbsentWhenTokenReservesAreZero(t *testing.T) {
	data := accountBytes(0, 30_000_000_000)
	_, ok := Decode(data, &pkg.ProgramDescriptor{})
	require.False(t, ok)
}

func TestDecodeReturnsZeroPriceWhenSolReservesAreZero(t *testing.T) {
	data := accountBytes(1_073_000_000_000_000, 0)
	price, ok := Decode(data, &pkg.ProgramDescriptor{})
	require.True(t, ok)
	require.Zero(t, price)
}

func TestDecodeRejectsTruncatedAccount(t *testing.T) {
	data := accountBytes(1, 1)
	data = data[:len(data)-1]
	_, ok := Decode(data, &pkg.ProgramDescriptor{})
	require.False(t, ok)
}
