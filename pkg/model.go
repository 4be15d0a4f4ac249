// Package pkg holds the core data model shared across the ingestion,
// storage, and fan-out subsystems: program descriptors, canonical pairs,
// and the decoder contract every DEX-specific pool package implements.
package pkg

import (
	"strconv"
	"strings"
)

// Decoder turns raw account bytes into a spot price. It returns ok=false
// when no price can be produced — callers treat that as "this update
// yielded no price", never as an error.
type Decoder func(data []byte, desc *ProgramDescriptor) (price float64, ok bool)

// ProgramDescriptor is one tracked pool, loaded from the registry file.
type ProgramDescriptor struct {
	AssetID   int      `json:"asset_id"`
	ProgramID string   `json:"program_id"`
	Handler   string   `json:"handler"`
	SymbolA   string   `json:"symbolA"`
	SymbolB   string   `json:"symbolB"`
	DecimalsA int      `json:"decimalsA"`
	DecimalsB int      `json:"decimalsB"`
	Pairs     []string `json:"pairs"`
	Nonce     any      `json:"nonce"`

	// Decode is resolved from Handler at load time via the static
	// name->function table; nil until resolved.
	Decode Decoder `json:"-"`
}

// FlatPair replaces "-" with "_", the form used in table names.
func FlatPair(pair string) string {
	return strings.ReplaceAll(pair, "-", "_")
}

// TicksTable is the tick-level table name for an (assetID, pair).
func TicksTable(assetID int, pair string) string {
	return "prices_" + strconv.Itoa(assetID) + "_" + FlatPair(pair)
}

// HistoricalTable is the OHLC table name for an (assetID, pair).
func HistoricalTable(assetID int, pair string) string {
	return "historical_prices_" + strconv.Itoa(assetID) + "_" + FlatPair(pair)
}

// MetadataTable is the metadata table name for an (assetID, pair).
func MetadataTable(assetID int, pair string) string {
	return "metadata_" + strconv.Itoa(assetID) + "_" + FlatPair(pair)
}
