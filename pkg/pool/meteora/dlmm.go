// Package meteora decodes Meteora DLMM pool accounts into spot prices
// from the active bin id and bin step.
package meteora

import (
	"math"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/binparser"
)

// ProgramID is the Meteora DLMM program.
const ProgramID = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

var schema = []binparser.Field{
	binparser.SkipField(8 + 32 + 32 + 1 + 2 + 1),
	binparser.TypedField(binparser.I32, "active_id"),
	binparser.TypedField(binparser.U16, "bin_step"),
}

// Decode implements pkg.Decoder for a Meteora DLMM pool account.
// price = 1.0001^(binStep*activeId) * 10^(decimalsA-decimalsB), the
// discrete-bin price model DLMM pools use in place of a continuous curve.
func Decode(data []byte, desc *pkg.ProgramDescriptor) (float64, bool) {
	fields, ok := binparser.New(data, 0).Read(schema)
	if !ok {
		return 0, false
	}
	activeID, _ := fields["active_id"].(int32)
	binStep, _ := fields["bin_step"].(uint16)

	exponent := float64(int32(binStep) * activeID)
	price := math.Pow(1.0001, exponent)
	price *= pow10(desc.DecimalsA - desc.DecimalsB)
	return price, true
}

func pow10(exp int) float64 {
	v := 1.0
	if exp >= 0 {
		for i := 0; i < exp; i++ {
			v *= 10
		}
		return v
	}
	for i := 0; i < -exp; i++ {
		v *= 10
	}
	return 1 / v
}
