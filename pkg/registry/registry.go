// Package registry loads the tracked-pool descriptor file and resolves
// each descriptor's symbolic handler name to a concrete decoder through a
// static name->function table. Unknown names are configuration errors,
// not a trigger for dynamic loading.
package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/pool/lifinity"
	"github.com/lag/prices/pkg/pool/meteora"
	"github.com/lag/prices/pkg/pool/pump"
	"github.com/lag/prices/pkg/pool/raydium"
	"github.com/lag/prices/pkg/pool/whirlpool"
)

// RaydiumAMMHandler is the one handler name the static table cannot serve
// directly: the Raydium AMM decoder requires a live balance RPC, so the
// Tick Writer special-cases this name instead of calling through
// ProgramDescriptor.Decode.
const RaydiumAMMHandler = "raydium.price_from_amm"

// handlers is the static name->function table that replaces the dynamic
// "module.function" dispatch the registry file otherwise encodes.
var handlers = map[string]pkg.Decoder{
	"orca.price_from_whirlpool":  whirlpool.Decode,
	"raydium.price_from_clmm":    raydium.DecodeCLMM,
	"meteora.price_from_dlmm":    meteora.Decode,
	"lifinity.price_from_oracle": lifinity.Decode,
	"pumpfun.price_from_curve":   pump.Decode,
	// RaydiumAMMHandler deliberately absent: resolved by the tick writer.
}

// Registry holds the current set of tracked pools and derives ValidTables.
type Registry struct {
	path string

	mu          sync.RWMutex
	descriptors []*pkg.ProgramDescriptor
	validTables map[string]struct{}
	modTime     int64
}

// New loads path for the first time. Returns an error only if the file
// itself cannot be read or parsed; individual bad descriptors are logged
// and skipped so the remainder still load.
func New(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file iff its mtime changed since the last
// load. Safe to call frequently (the Candle Aggregator calls it every
// tick); a no-op in the common case.
func (r *Registry) Reload() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("stat registry: %w", err)
	}
	mt := info.ModTime().UnixNano()

	r.mu.RLock()
	unchanged := mt == r.modTime
	r.mu.RUnlock()
	if unchanged {
		return nil
	}
	return r.reload()
}

type rawDescriptor struct {
	AssetID   int      `json:"asset_id"`
	ProgramID string   `json:"program_id"`
	Handler   string   `json:"handler"`
	SymbolA   string   `json:"symbolA"`
	SymbolB   string   `json:"symbolB"`
	DecimalsA int      `json:"decimalsA"`
	DecimalsB int      `json:"decimalsB"`
	Pairs     []string `json:"pairs"`
	Nonce     any      `json:"nonce"`
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("stat registry: %w", err)
	}

	var entries []rawDescriptor
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}

	descriptors := make([]*pkg.ProgramDescriptor, 0, len(entries))
	validTables := make(map[string]struct{})

	for _, e := range entries {
		decode, ok := handlers[e.Handler]
		if !ok && e.Handler != RaydiumAMMHandler {
			log.Printf("registry: unresolvable handler %q for asset %d, skipping", e.Handler, e.AssetID)
			continue
		}
		desc := &pkg.ProgramDescriptor{
			AssetID:   e.AssetID,
			ProgramID: e.ProgramID,
			Handler:   e.Handler,
			SymbolA:   e.SymbolA,
			SymbolB:   e.SymbolB,
			DecimalsA: e.DecimalsA,
			DecimalsB: e.DecimalsB,
			Pairs:     e.Pairs,
			Nonce:     e.Nonce,
			Decode:    decode,
		}
		descriptors = append(descriptors, desc)

		for _, pair := range desc.Pairs {
			validTables[pkg.TicksTable(desc.AssetID, pair)] = struct{}{}
			validTables[pkg.HistoricalTable(desc.AssetID, pair)] = struct{}{}
			validTables[pkg.MetadataTable(desc.AssetID, pair)] = struct{}{}
		}
	}

	r.mu.Lock()
	r.descriptors = descriptors
	r.validTables = validTables
	r.modTime = info.ModTime().UnixNano()
	r.mu.Unlock()
	return nil
}

// Descriptors returns a snapshot of the currently loaded descriptors.
func (r *Registry) Descriptors() []*pkg.ProgramDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*pkg.ProgramDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// IsValidTable reports whether name was derived from a loaded descriptor's
// pairs. This is the sole defence against dynamic-SQL table-name
// injection from the external HTTP interface.
func (r *Registry) IsValidTable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validTables[name]
	return ok
}
