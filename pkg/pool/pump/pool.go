// Package pump decodes Pump.fun bonding-curve accounts into spot prices
// from the curve's virtual reserves.
package pump

import (
	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/binparser"
)

// ProgramID is the Pump.fun bonding-curve program.
const ProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

var schema = []binparser.Field{
	binparser.SkipField(8), // discriminator
	binparser.TypedField(binparser.U64, "virtual_token_reserves"),
	binparser.TypedField(binparser.U64, "virtual_sol_reserves"),
}

// Decode implements pkg.Decoder for a Pump.fun bonding-curve account.
// price = (virtualSolReserves/1e9) / (virtualTokenReserves/1e6); absent
// only when the token reserves are zero. Zero SOL reserves price out at
// 0.0, a valid tick.
func Decode(data []byte, desc *pkg.ProgramDescriptor) (float64, bool) {
	fields, ok := binparser.New(data, 0).Read(schema)
	if !ok {
		return 0, false
	}
	tokenReserves, _ := fields["virtual_token_reserves"].(uint64)
	solReserves, _ := fields["virtual_sol_reserves"].(uint64)
	if tokenReserves == 0 {
		return 0, false
	}

	sol := float64(solReserves) / 1e9
	token := float64(tokenReserves) / 1e6
	return sol / token, true
}
