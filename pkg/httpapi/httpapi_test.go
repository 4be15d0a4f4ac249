package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/registry"
	"github.com/lag/prices/pkg/store"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	dir := t.TempDir()

	regPath := filepath.Join(dir, "programs.json")
	registryJSON := `[{
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
	require.NoError(t, os.WriteFile(regPath, []byte(registryJSON), 0o644))
	reg, err := registry.New(regPath)
	require.NoError(t, err)

	db, err := store.Open(filepath.Join(dir, "ticks.db"), filepath.Join(dir, "historical.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.EnsureTickTable(pkg.TicksTable(1, "SOL-USDC")))
	require.NoError(t, db.EnsureHistoricalTable(pkg.HistoricalTable(1, "SOL-USDC")))

	return New(reg, db)
}

func TestHandleAssetsReturnsDescriptors(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/assets", nil)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []pkg.ProgramDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, 1, got[0].AssetID)
}

func TestHandleHistoricalPricesRejectsInvalidPair(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/historical_prices/99/SOL-USDC", nil)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Invalid pair", got["error"])
	require.Equal(t, "/historical_prices", got["endpoint"])
}

func TestHandleHistoricalPricesRejectsOversizedRange(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now().Unix()
	req := httptest.NewRequest(http.MethodGet, fmtQuery("/historical_prices/1/SOL-USDC", now-60*60*24*40, now), nil)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Time range too large", got["error"])
}

func TestHandleHistoricalPricesSwapsInvertedFromTo(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now().UnixMilli()
	require.NoError(t, api.db.UpsertCandle(pkg.HistoricalTable(1, "SOL-USDC"), store.CandleRow{
		Timestamp: now, Open: 100, High: 110, Low: 90, Close: 105,
	}))

	nowSec := time.Now().Unix()
	req := httptest.NewRequest(http.MethodGet, fmtQuery("/historical_prices/1/SOL-USDC", nowSec+3600, nowSec-3600), nil)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got [][5]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, 100.0, got[0][0])
}

func TestHandleHistoricalPricesGroupsByTimeframe(t *testing.T) {
	api := newTestAPI(t)
	table := pkg.HistoricalTable(1, "SOL-USDC")

	// Five 1-minute candles spanning the single 5-minute bucket [300, 600).
	candles := []store.CandleRow{
		{Timestamp: 300_000, Open: 10, High: 12, Low: 9, Close: 11},
		{Timestamp: 360_000, Open: 11, High: 50, Low: 10, Close: 12},
		{Timestamp: 420_000, Open: 12, High: 13, Low: 11, Close: 13},
		{Timestamp: 480_000, Open: 13, High: 14, Low: 1, Close: 12},
		{Timestamp: 540_000, Open: 12, High: 15, Low: 11, Close: 14},
	}
	for _, c := range candles {
		require.NoError(t, api.db.UpsertCandle(table, c))
	}

	req := httptest.NewRequest(http.MethodGet, "/historical_prices/1/SOL-USDC?from=0&to=600&timeframe=5", nil)
	rec := httptest.NewRecorder()
	api.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got [][5]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, 10.0, got[0][0])  // open of the earliest candle
	require.Equal(t, 50.0, got[0][1])  // high across all five
	require.Equal(t, 1.0, got[0][2])   // low across all five
	require.Equal(t, 14.0, got[0][3])  // close of the latest candle
	require.Equal(t, 300.0, got[0][4]) // bucket start, seconds
}

func TestHandlePricesReturnsNewestFirst(t *testing.T) {
	api := newTestAPI(t)
	table := pkg.TicksTable(1, "SOL-USDC")
	require.NoError(t, api.db.InsertTick(table, "SOL-USDC", 100, 1000, "solana"))
	require.NoError(t, api.db.InsertTick(table, "SOL-USDC", 110, 2000, "solana"))

	req := httptest.NewRequest(http.MethodGet, "/prices/1/SOL-USDC", nil)
	rec := httptest.NewRecorder()
	api.Mux().ServeHTTP(rec, req)

	var got [][4]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, 110.0, got[0][1])
	require.Equal(t, 100.0, got[1][1])
}

func TestHandleMetadataFallsBackWhenNoTicks(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/metadata/1/SOL-USDC", nil)
	rec := httptest.NewRecorder()

	api.Mux().ServeHTTP(rec, req)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "SOL-USDC", got["pair"])
	require.Equal(t, "solana", got["blockchain"])
	require.Nil(t, got["price"])
}

func TestHandleMetadataReturnsLatestTick(t *testing.T) {
	api := newTestAPI(t)
	table := pkg.TicksTable(1, "SOL-USDC")
	require.NoError(t, api.db.InsertTick(table, "SOL-USDC", 150, 1000, "solana"))

	req := httptest.NewRequest(http.MethodGet, "/metadata/1/SOL-USDC", nil)
	rec := httptest.NewRecorder()
	api.Mux().ServeHTTP(rec, req)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 150.0, got["price"])
}

func fmtQuery(path string, from, to int64) string {
	return path + "?from=" + strconv.FormatInt(from, 10) + "&to=" + strconv.FormatInt(to, 10)
}
