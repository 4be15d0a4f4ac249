// Package fanout serves the per-client push websocket. Each connection
// runs two cooperative sub-tasks: an inbound reader that maintains the
// client's subscribed-asset set, and a fixed-cadence outbound loop that
// diffs the price store and emits live-forming candles. Either sub-task
// failing terminates both.
package fanout

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/candle"
	"github.com/lag/prices/pkg/pricestore"
	"github.com/lag/prices/pkg/registry"
	"github.com/lag/prices/pkg/store"
)

const outboundTick = 100 * time.Millisecond
const liveBarWidthSeconds int64 = 60

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub upgrades incoming requests to the push websocket and owns the shared
// read-only state (registry, Price Store, tick database) every client
// session reads from.
type Hub struct {
	reg        *registry.Registry
	priceStore *pricestore.Store
	db         *store.Store
}

// New builds a Hub.
func New(reg *registry.Registry, ps *pricestore.Store, db *store.Store) *Hub {
	return &Hub{reg: reg, priceStore: ps, db: db}
}

// ServeHTTP upgrades the connection and blocks until the client disconnects
// or either sub-task fails.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("fanout: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session := newClientSession(h, conn)
	session.run()
}

type clientMessage struct {
	Type    string `json:"type"`
	AssetID string `json:"asset_id"`
}

type subscribable struct {
	desc *pkg.ProgramDescriptor
	pair string
}

// clientSession is the per-connection state: the subscribed-asset set
// (written by the inbound sub-task, read by the outbound one) and the
// per-pair last-sent value used to compute the diff each tick.
type clientSession struct {
	hub  *Hub
	conn *websocket.Conn

	writeMu sync.Mutex

	subMu      sync.Mutex
	subscribed map[string]struct{}

	userState map[int]map[string]any

	stop     chan struct{}
	stopOnce sync.Once
}

func newClientSession(h *Hub, conn *websocket.Conn) *clientSession {
	return &clientSession{
		hub:        h,
		conn:       conn,
		subscribed: make(map[string]struct{}),
		userState:  make(map[int]map[string]any),
		stop:       make(chan struct{}),
	}
}

func (c *clientSession) run() {
	if err := c.sendInitialSnapshot(); err != nil {
		log.Printf("fanout: initial snapshot: %v", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.inbound() }()
	go func() { defer wg.Done(); c.outbound() }()
	wg.Wait()
}

// fail terminates both sub-tasks exactly once. Closing the connection
// unblocks whichever sub-task is parked in a blocking read or write.
func (c *clientSession) fail(reason string, err error) {
	c.stopOnce.Do(func() {
		if err != nil {
			log.Printf("fanout: %s: %v", reason, err)
		}
		close(c.stop)
		c.conn.Close()
	})
}

func (c *clientSession) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// sendInitialSnapshot seeds userState with each descriptor's nonce and
// sends the full price projection, nulling out any pair with no price yet.
func (c *clientSession) sendInitialSnapshot() error {
	descriptors := c.hub.reg.Descriptors()
	data := make(map[int]map[string]any, len(descriptors))

	for _, desc := range descriptors {
		state := make(map[string]any, len(desc.Pairs))
		byPair := make(map[string]any, len(desc.Pairs))
		for _, pair := range desc.Pairs {
			state[pair] = desc.Nonce
			if price, ok := c.hub.priceStore.Get(desc.AssetID, pair); ok {
				byPair[pair] = price
			} else {
				byPair[pair] = nil
			}
		}
		c.userState[desc.AssetID] = state
		data[desc.AssetID] = byPair
	}

	return c.writeJSON(map[string]any{"type": "prices", "data": data})
}

// inbound maintains subscribed_assets from subscribe_bars/unsubscribe_bars
// messages. A read error (including the connection being closed by the
// outbound sub-task) fails the session.
func (c *clientSession) inbound() {
	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail("read", err)
			return
		}

		key := strings.ReplaceAll(msg.AssetID, "-", "_")
		switch msg.Type {
		case "subscribe_bars":
			c.subMu.Lock()
			c.subscribed[key] = struct{}{}
			c.subMu.Unlock()
		case "unsubscribe_bars":
			c.subMu.Lock()
			delete(c.subscribed, key)
			c.subMu.Unlock()
		}
	}
}

func (c *clientSession) removeSubscription(key string) {
	c.subMu.Lock()
	delete(c.subscribed, key)
	c.subMu.Unlock()
}

// outbound runs the fixed 100ms cadence: diff the Price Store against
// userState, push the accumulated diff, then push live candles for
// subscribed assets whose price changed.
func (c *clientSession) outbound() {
	ticker := time.NewTicker(outboundTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.tick(); err != nil {
				c.fail("outbound", err)
				return
			}
		}
	}
}

func (c *clientSession) tick() error {
	snapshot := c.hub.priceStore.Snapshot()
	descriptors := c.hub.reg.Descriptors()

	diff := make(map[int]map[string]float64)
	changed := make(map[string]struct{})
	index := make(map[string]subscribable)

	for _, desc := range descriptors {
		state, ok := c.userState[desc.AssetID]
		if !ok {
			state = make(map[string]any)
			c.userState[desc.AssetID] = state
		}
		byPair := snapshot[desc.AssetID]

		for _, pair := range desc.Pairs {
			key := compositeKey(desc.AssetID, pair)
			index[key] = subscribable{desc: desc, pair: pair}

			price, has := byPair[pair]
			if !has {
				continue
			}
			if old, seen := state[pair]; seen && old == price {
				continue
			}
			state[pair] = price

			if diff[desc.AssetID] == nil {
				diff[desc.AssetID] = make(map[string]float64)
			}
			diff[desc.AssetID][pair] = price
			changed[key] = struct{}{}
		}
	}

	if len(diff) > 0 {
		if err := c.writeJSON(map[string]any{"type": "prices", "data": diff}); err != nil {
			return fmt.Errorf("write prices: %w", err)
		}
	}

	c.subMu.Lock()
	keys := make([]string, 0, len(c.subscribed))
	for key := range c.subscribed {
		keys = append(keys, key)
	}
	c.subMu.Unlock()

	for _, key := range keys {
		if _, isChanged := changed[key]; !isChanged {
			continue
		}
		sub, ok := index[key]
		if !ok {
			c.removeSubscription(key)
			continue
		}
		table := pkg.TicksTable(sub.desc.AssetID, sub.pair)
		if !c.hub.reg.IsValidTable(table) {
			c.removeSubscription(key)
			continue
		}
		bar, err := c.liveBar(table, key)
		if err != nil {
			return fmt.Errorf("live bar for %s: %w", key, err)
		}
		if bar == nil {
			continue
		}
		if err := c.writeJSON(map[string]any{"type": "bars", "data": bar}); err != nil {
			return fmt.Errorf("write bar: %w", err)
		}
	}
	return nil
}

// liveBar folds the ticks that have landed in the current, not-yet-flushed
// minute bucket into one OHLC candle, reusing the same fold the Candle
// Aggregator uses once the bucket is closed.
func (c *clientSession) liveBar(table, assetKey string) (map[string]any, error) {
	bucketSeconds := time.Now().Unix() / liveBarWidthSeconds * liveBarWidthSeconds
	bottomMs := bucketSeconds * 1000
	topMs := bottomMs + liveBarWidthSeconds*1000

	rows, err := c.hub.db.SelectTicksInRange(table, bottomMs, topMs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	candles := candle.Fold(rows)
	if len(candles) == 0 {
		return nil, nil
	}
	bar := candles[0]

	return map[string]any{
		"asset":     assetKey,
		"bar":       [4]float64{bar.Open, bar.High, bar.Low, bar.Close},
		"timestamp": bucketSeconds,
	}, nil
}

func compositeKey(assetID int, pair string) string {
	return strconv.Itoa(assetID) + "_" + pkg.FlatPair(pair)
}
