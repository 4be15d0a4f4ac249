// Package tickwriter owns the upstream chain websocket connection: it
// subscribes to every tracked pool account, dispatches account updates to
// the matching decoder, synthesizes cross-pair prices through the USD
// pivot, and is the sole writer of tick rows and the price store.
package tickwriter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/pool/raydium"
	"github.com/lag/prices/pkg/pricestore"
	"github.com/lag/prices/pkg/registry"
	"github.com/lag/prices/pkg/sol"
	"github.com/lag/prices/pkg/store"
)

const bridgeAsset = "WSOL" // pivot for pairs no tracked pool quotes directly
const reconnectDelay = time.Second

// TickWriter is the single ingestion pipeline task.
type TickWriter struct {
	wsURL      string
	reg        *registry.Registry
	priceStore *pricestore.Store
	db         *store.Store
	ammPool    *sol.RPCPool

	inFlightAMM sync.Map // assetID (int) -> struct{}, guards the single-outstanding-request cap
}

// New builds a TickWriter and creates every tick/historical table up
// front, once, before the reconnect loop ever runs. ammPool's round-robin
// selection spreads Raydium AMM balance-fetch RPCs across every configured
// endpoint instead of pinning them to one.
func New(wsURL string, reg *registry.Registry, ps *pricestore.Store, db *store.Store, ammPool *sol.RPCPool) (*TickWriter, error) {
	tw := &TickWriter{
		wsURL:      wsURL,
		reg:        reg,
		priceStore: ps,
		db:         db,
		ammPool:    ammPool,
	}
	for _, desc := range reg.Descriptors() {
		for _, pair := range desc.Pairs {
			if err := db.EnsureTickTable(pkg.TicksTable(desc.AssetID, pair)); err != nil {
				return nil, err
			}
			if err := db.EnsureHistoricalTable(pkg.HistoricalTable(desc.AssetID, pair)); err != nil {
				return nil, err
			}
		}
	}
	return tw, nil
}

// Run is the outer reconnect loop. A dial, subscribe, or socket read error
// ends the connection; the writer sleeps one second and reconnects.
// Malformed messages and failed tick inserts are logged and skipped inside
// the connection loop and do not trigger a reconnect. Subscription state
// is rebuilt on every reconnect. Returns when stop is closed.
func (tw *TickWriter) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := tw.runOnce(stop); err != nil {
			log.Printf("tickwriter: %v, reconnecting in %s", err, reconnectDelay)
		}

		select {
		case <-stop:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

type asyncPriceResult struct {
	desc  *pkg.ProgramDescriptor
	price float64
	ok    bool
}

func (tw *TickWriter) runOnce(stop <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(tw.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer conn.Close()
	log.Printf("tickwriter: connected to %s", tw.wsURL)

	descriptors := tw.reg.Descriptors()
	for idx, desc := range descriptors {
		req := map[string]any{
			"jsonrpc": "2.0",
			"id":      idx,
			"method":  "accountSubscribe",
			"params": []any{
				desc.ProgramID,
				map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
			},
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe request for asset %d: %w", desc.AssetID, err)
		}
	}

	subscriptionToDescriptor := make(map[uint64]*pkg.ProgramDescriptor)
	usdPivot := make(map[string]float64)
	pairValues := make(map[string]float64)

	results := make(chan asyncPriceResult, 16)
	inbound := make(chan []byte, 16)
	readErrs := make(chan error, 1)

	go func() {
		defer close(inbound)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErrs <- err
				return
			}
			inbound <- raw
		}
	}()

	for {
		select {
		case <-stop:
			return nil

		case err := <-readErrs:
			return fmt.Errorf("read message: %w", err)

		case res := <-results:
			tw.applyPrice(res.desc, res.price, res.ok, usdPivot, pairValues)

		case raw, open := <-inbound:
			if !open {
				inbound = nil
				continue
			}
			var msg rpcMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Printf("tickwriter: malformed message: %v", err)
				continue
			}

			if msg.ID != nil && len(msg.Result) > 0 && msg.Params == nil {
				var subID uint64
				if err := json.Unmarshal(msg.Result, &subID); err != nil {
					continue
				}
				if *msg.ID < 0 || *msg.ID >= len(descriptors) {
					continue
				}
				subscriptionToDescriptor[subID] = descriptors[*msg.ID]
				continue
			}

			if msg.Params == nil {
				continue
			}
			desc, ok := subscriptionToDescriptor[msg.Params.Subscription]
			if !ok {
				continue
			}
			if len(msg.Params.Result.Value.Data) < 1 {
				log.Printf("tickwriter: unexpected notification shape: %s", raw)
				continue
			}

			var encoded string
			if err := json.Unmarshal(msg.Params.Result.Value.Data[0], &encoded); err != nil {
				log.Printf("tickwriter: account data not a string: %v", err)
				continue
			}
			accountData, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				log.Printf("tickwriter: base64 decode failed: %v", err)
				continue
			}

			if desc.Handler == registry.RaydiumAMMHandler {
				tw.dispatchAMM(desc, accountData, results)
				continue
			}
			if desc.Decode == nil {
				continue
			}
			price, ok := desc.Decode(accountData, desc)
			tw.applyPrice(desc, price, ok, usdPivot, pairValues)
		}
	}
}

// dispatchAMM fetches the Raydium AMM vault balances asynchronously so a
// slow RPC can never block the ingestion loop; at most one fetch is
// outstanding per asset at a time.
func (tw *TickWriter) dispatchAMM(desc *pkg.ProgramDescriptor, accountData []byte, results chan<- asyncPriceResult) {
	if _, busy := tw.inFlightAMM.LoadOrStore(desc.AssetID, struct{}{}); busy {
		return
	}
	vaults, ok := raydium.DecodeAMMVaults(accountData)
	if !ok {
		tw.inFlightAMM.Delete(desc.AssetID)
		return
	}
	client := tw.ammPool.GetClient()
	if client == nil {
		tw.inFlightAMM.Delete(desc.AssetID)
		return
	}
	go func() {
		defer tw.inFlightAMM.Delete(desc.AssetID)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		price, ok := raydium.PriceFromAMM(ctx, client, vaults)
		results <- asyncPriceResult{desc: desc, price: price, ok: ok}
	}()
}

// applyPrice runs the USD pivot update, pair synthesis, change detection,
// and persistence for one decoded price. All pairs touched by the update
// commit in a single transaction; the in-memory caches are only advanced
// once that commit succeeds.
func (tw *TickWriter) applyPrice(desc *pkg.ProgramDescriptor, price float64, ok bool, usdPivot, pairValues map[string]float64) {
	if !ok {
		return
	}

	switch {
	case desc.SymbolB == "USDC":
		usdPivot[desc.SymbolA] = price
	case desc.SymbolA == "USDC":
		usdPivot[desc.SymbolB] = 1 / price
	default:
		if v, has := usdPivot[desc.SymbolA]; has {
			usdPivot[desc.SymbolB] = v / price
		} else if v, has := usdPivot[desc.SymbolB]; has {
			usdPivot[desc.SymbolA] = v * price
		}
	}

	newPairs := make(map[string]float64)
	for _, pair := range desc.Pairs {
		a, b, ok := splitPair(pair)
		if !ok {
			continue
		}
		switch {
		case a == desc.SymbolA && b == desc.SymbolB:
			newPairs[pair] = price
		case b == desc.SymbolA && a == desc.SymbolB:
			newPairs[pair] = 1 / price
		case b == "USDC":
			if bridgeUSD, has := pairValues[bridgeAsset+"-USDC"]; has {
				if aInBridge, has := pairValues[a+"-"+bridgeAsset]; has {
					newPairs[pair] = aInBridge * bridgeUSD
				}
			}
		}
	}

	now := time.Now().UnixMilli()
	writes := make([]store.TickWrite, 0, len(newPairs))
	for pair, newPrice := range newPairs {
		old, had := pairValues[pair]
		if had && old == newPrice {
			continue
		}
		writes = append(writes, store.TickWrite{
			Table:     pkg.TicksTable(desc.AssetID, pair),
			Pair:      pair,
			Price:     newPrice,
			Timestamp: now,
			Source:    "solana",
		})
	}
	if len(writes) == 0 {
		return
	}
	if err := tw.db.InsertTicks(writes); err != nil {
		log.Printf("tickwriter: insert ticks for asset %d: %v", desc.AssetID, err)
		return
	}
	for _, w := range writes {
		pairValues[w.Pair] = w.Price
		tw.priceStore.Set(desc.AssetID, w.Pair, w.Price)
	}
}

func splitPair(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '-' {
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}

type rpcMessage struct {
	ID     *int             `json:"id"`
	Result json.RawMessage  `json:"result"`
	Params *rpcNotification `json:"params"`
}

type rpcNotification struct {
	Subscription uint64                  `json:"subscription"`
	Result       accountNotificationBody `json:"result"`
}

type accountNotificationBody struct {
	Value struct {
		Data []json.RawMessage `json:"data"`
	} `json:"value"`
}
