// Package candle implements the 1-minute OHLC aggregator: it folds tick
// rows into candle rows and prunes the ticks it has folded.
package candle

import (
	"fmt"
	"log"
	"time"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/registry"
	"github.com/lag/prices/pkg/store"
)

const bucketMs int64 = 60_000

// Aggregator is the independent task that closes out finished minute
// buckets. The cutoff stays two bucket widths behind the current minute so
// the fold never races the live-candle reads over the in-flight bucket.
type Aggregator struct {
	reg   *registry.Registry
	store *store.Store

	lastBucket int64
}

// New builds an Aggregator against reg and st. lastBucket starts at the
// current bucket so the first Run iteration waits for the next advance.
func New(reg *registry.Registry, st *store.Store) *Aggregator {
	return &Aggregator{
		reg:        reg,
		store:      st,
		lastBucket: time.Now().UnixMilli() / bucketMs,
	}
}

// Run loops once per second until stop is closed.
func (a *Aggregator) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Aggregator) tick() {
	if err := a.reg.Reload(); err != nil {
		log.Printf("candle: registry reload failed: %v", err)
	}

	currentBucket := time.Now().UnixMilli() / bucketMs
	if currentBucket <= a.lastBucket {
		return
	}
	a.lastBucket = currentBucket

	// Descriptors added by a hot reload may not have tables yet; the
	// ensures are idempotent.
	for _, desc := range a.reg.Descriptors() {
		for _, pair := range desc.Pairs {
			if err := a.store.EnsureTickTable(pkg.TicksTable(desc.AssetID, pair)); err != nil {
				log.Printf("candle: ensure table for %s: %v", pair, err)
			}
		}
	}

	// Enumerate the actual prices_* tables rather than the registry's
	// current pairs: tables whose descriptor was dropped by a hot reload
	// still hold ticks that need folding and pruning.
	tables, err := a.store.TickTables()
	if err != nil {
		log.Printf("candle: enumerate tick tables: %v", err)
		return
	}

	cutoff := (currentBucket - 2) * bucketMs
	for _, tickTable := range tables {
		if err := a.foldTable(tickTable, "historical_"+tickTable, cutoff); err != nil {
			log.Printf("candle: fold %s: %v", tickTable, err)
		}
	}
}

// foldTable closes out finished buckets for one tick table.
func (a *Aggregator) foldTable(tickTable, historicalTable string, cutoff int64) error {
	if err := a.store.EnsureHistoricalTable(historicalTable); err != nil {
		return err
	}

	rows, err := a.store.SelectTicksBefore(tickTable, cutoff)
	if err != nil {
		return fmt.Errorf("select ticks: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	buckets := Fold(rows)
	for _, c := range buckets {
		if err := a.store.UpsertCandle(historicalTable, c); err != nil {
			return fmt.Errorf("upsert candle: %w", err)
		}
	}

	if err := a.store.DeleteTicksBefore(tickTable, cutoff); err != nil {
		return fmt.Errorf("delete ticks: %w", err)
	}
	return nil
}

// Fold groups tick rows (assumed ordered oldest-first) into per-bucket OHLC
// candles. The fan-out's live-candle builder shares it for the in-flight
// bucket.
func Fold(rows []store.TickRow) []store.CandleRow {
	order := make([]int64, 0)
	byBucket := make(map[int64]*store.CandleRow)

	for _, row := range rows {
		bucket := row.Timestamp - (row.Timestamp % bucketMs)
		c, ok := byBucket[bucket]
		if !ok {
			c = &store.CandleRow{
				Timestamp: bucket,
				Open:      row.Price,
				High:      row.Price,
				Low:       row.Price,
				Close:     row.Price,
			}
			byBucket[bucket] = c
			order = append(order, bucket)
			continue
		}
		if row.Price > c.High {
			c.High = row.Price
		}
		if row.Price < c.Low {
			c.Low = row.Price
		}
		c.Close = row.Price
	}

	out := make([]store.CandleRow, 0, len(order))
	for _, bucket := range order {
		out = append(out, *byBucket[bucket])
	}
	return out
}
