package pricestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	_, ok := s.Get(1, "SOL-USDC")
	require.False(t, ok)

	s.Set(1, "SOL-USDC", 150)
	price, ok := s.Get(1, "SOL-USDC")
	require.True(t, ok)
	require.Equal(t, 150.0, price)

	s.Set(1, "SOL-USDC", 151)
	price, _ = s.Get(1, "SOL-USDC")
	require.Equal(t, 151.0, price)
}

func TestSnapshotIsIndependentOfLaterWrites(t *testing.T) {
	s := New()
	s.Set(1, "SOL-USDC", 150)

	snap := s.Snapshot()
	s.Set(1, "SOL-USDC", 999)
	s.Set(2, "HNT-USDC", 5)

	require.Equal(t, 150.0, snap[1]["SOL-USDC"])
	require.NotContains(t, snap, 2)
}
