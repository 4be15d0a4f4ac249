// Package httpapi serves the read-only REST surface over the tick and
// candle databases: /assets, /historical_prices, /prices, and /metadata.
// Every resolved table name is checked against the registry before it
// reaches a query.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/registry"
	"github.com/lag/prices/pkg/store"
)

const defaultWindowSeconds int64 = 60 * 60 * 6
const maxRangeSeconds int64 = 60 * 60 * 24 * 30

// API holds the read-only dependencies every handler needs.
type API struct {
	reg *registry.Registry
	db  *store.Store
}

// New builds an API.
func New(reg *registry.Registry, db *store.Store) *API {
	return &API{reg: reg, db: db}
}

// Mux builds the route table. The caller wraps it with whatever middleware
// (CORS, logging) the process needs.
func (a *API) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /assets", a.handleAssets)
	mux.HandleFunc("GET /historical_prices/{asset_id}/{pair}", a.handleHistoricalPrices)
	mux.HandleFunc("GET /prices/{asset_id}/{pair}", a.handlePrices)
	mux.HandleFunc("GET /metadata/{asset_id}/{pair}", a.handleMetadata)
	return mux
}

func (a *API) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.reg.Descriptors())
}

// handleHistoricalPrices returns OHLC candles in [from, to), optionally
// regrouped into wider buckets by timeframe (minutes). Inverted from/to
// are swapped, so the range-too-large check runs on the absolute window.
func (a *API) handleHistoricalPrices(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset_id")
	pair := r.PathValue("pair")
	table := "historical_prices_" + assetID + "_" + pkg.FlatPair(pair)
	if !a.reg.IsValidTable(table) {
		invalidPair(w, "/historical_prices")
		return
	}

	now := time.Now().Unix()
	fromSeconds := queryInt(r, "from", now-defaultWindowSeconds)
	toSeconds := queryInt(r, "to", now)
	timeframe := queryInt(r, "timeframe", 1)
	if timeframe < 1 {
		timeframe = 1
	}

	if fromSeconds > toSeconds {
		fromSeconds, toSeconds = toSeconds, fromSeconds
	}
	if abs64(toSeconds-fromSeconds) > maxRangeSeconds {
		writeJSON(w, map[string]string{"error": "Time range too large", "endpoint": "/historical_prices"})
		return
	}

	rows, err := a.db.SelectCandles(table, fromSeconds*1000, toSeconds*1000)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, groupByTimeframe(rows, timeframe))
}

// groupByTimeframe folds 1-minute candles into wider buckets in memory.
// Each returned element is [open, high, low, close, timestamp_seconds].
func groupByTimeframe(rows []store.CandleRow, timeframeMinutes int64) [][5]float64 {
	if timeframeMinutes <= 1 {
		out := make([][5]float64, len(rows))
		for i, c := range rows {
			out[i] = [5]float64{c.Open, c.High, c.Low, c.Close, float64(c.Timestamp / 1000)}
		}
		return out
	}

	bucketSeconds := timeframeMinutes * 60
	order := make([]int64, 0)
	grouped := make(map[int64]*store.CandleRow)

	for _, c := range rows {
		ts := c.Timestamp / 1000
		bucket := (ts / bucketSeconds) * bucketSeconds
		g, ok := grouped[bucket]
		if !ok {
			cp := c
			cp.Timestamp = bucket
			grouped[bucket] = &cp
			order = append(order, bucket)
			continue
		}
		if c.High > g.High {
			g.High = c.High
		}
		if c.Low < g.Low {
			g.Low = c.Low
		}
		g.Close = c.Close
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([][5]float64, 0, len(order))
	for _, bucket := range order {
		g := grouped[bucket]
		out = append(out, [5]float64{g.Open, g.High, g.Low, g.Close, float64(bucket)})
	}
	return out
}

// handlePrices returns every tick row, newest first.
func (a *API) handlePrices(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset_id")
	pair := r.PathValue("pair")
	table := "prices_" + assetID + "_" + pkg.FlatPair(pair)
	if !a.reg.IsValidTable(table) {
		invalidPair(w, "/prices")
		return
	}

	rows, err := a.db.AllTicksDesc(table)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([][4]any, len(rows))
	for i, t := range rows {
		out[i] = [4]any{t.Pair, t.Price, t.Timestamp, t.Source}
	}
	writeJSON(w, out)
}

// handleMetadata returns the latest tick row shaped as {pair, blockchain,
// price}. Ticks can be fully folded into candles before a client ever
// asks, so a missing row answers {pair, "solana", null} rather than an
// error.
func (a *API) handleMetadata(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset_id")
	pair := r.PathValue("pair")
	metaTable := "metadata_" + assetID + "_" + pkg.FlatPair(pair)
	if !a.reg.IsValidTable(metaTable) {
		invalidPair(w, "/metadata")
		return
	}

	ticksTable := "prices_" + assetID + "_" + pkg.FlatPair(pair)
	tick, found, err := a.db.LatestTick(ticksTable)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		writeJSON(w, map[string]any{"pair": pair, "blockchain": "solana", "price": nil})
		return
	}
	writeJSON(w, map[string]any{"pair": tick.Pair, "blockchain": tick.Source, "price": tick.Price})
}

func invalidPair(w http.ResponseWriter, endpoint string) {
	writeJSON(w, map[string]string{"error": "Invalid pair", "endpoint": endpoint})
}

func queryInt(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
