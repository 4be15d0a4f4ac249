package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

const validEntry = `[{
	"asset_id": 1,
	"program_id": "whirlpoolprogram",
	"handler": "orca.price_from_whirlpool",
	"symbolA": "SOL",
	"symbolB": "USDC",
	"decimalsA": 9,
	"decimalsB": 6,
	"pairs": ["SOL-USDC"],
	"nonce": 0
}]`

func TestNewSkipsDescriptorsWithUnresolvableHandlers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.json")
	writeRegistry(t, path, `[
		{"asset_id": 1, "program_id": "p1", "handler": "orca.price_from_whirlpool", "pairs": ["SOL-USDC"], "nonce": 0},
		{"asset_id": 2, "program_id": "p2", "handler": "nonexistent.handler", "pairs": ["SOL-USDC"], "nonce": 0}
	]`)

	reg, err := New(path)
	require.NoError(t, err)

	descriptors := reg.Descriptors()
	require.Len(t, descriptors, 1)
	require.Equal(t, 1, descriptors[0].AssetID)
}

func TestNewKeepsRaydiumAMMHandlerUnresolved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.json")
	writeRegistry(t, path, `[{"asset_id": 5, "program_id": "p", "handler": "raydium.price_from_amm", "pairs": ["SOL-USDC"], "nonce": 0}]`)

	reg, err := New(path)
	require.NoError(t, err)

	descriptors := reg.Descriptors()
	require.Len(t, descriptors, 1)
	require.Nil(t, descriptors[0].Decode)
	require.Equal(t, RaydiumAMMHandler, descriptors[0].Handler)
}

func TestIsValidTableReflectsLoadedPairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.json")
	writeRegistry(t, path, validEntry)

	reg, err := New(path)
	require.NoError(t, err)

	require.True(t, reg.IsValidTable("prices_1_SOL_USDC"))
	require.True(t, reg.IsValidTable("historical_prices_1_SOL_USDC"))
	require.False(t, reg.IsValidTable("prices_99_SOL_USDC"))
}

func TestReloadIsNoOpWhenMtimeUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.json")
	writeRegistry(t, path, validEntry)

	reg, err := New(path)
	require.NoError(t, err)
	before := reg.Descriptors()

	require.NoError(t, reg.Reload())
	after := reg.Descriptors()

	require.Equal(t, before, after)
}

func TestReloadPicksUpChangesWhenMtimeAdvances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.json")
	writeRegistry(t, path, validEntry)

	reg, err := New(path)
	require.NoError(t, err)
	require.Len(t, reg.Descriptors(), 1)

	future := time.Now().Add(time.Second)
	writeRegistry(t, path, `[]`)
	require.NoError(t, os.Chtimes(path, future, future))

	require.NoError(t, reg.Reload())
	require.Empty(t, reg.Descriptors())
}
