// Package lifinity decodes Lifinity oracle-fed pool accounts into spot
// prices from the last oracle price embedded in the pool state.
package lifinity

import (
	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/binparser"
)

var schema = []binparser.Field{
	binparser.SkipField(511),
	binparser.TypedField(binparser.U64, "last_price"),
}

// Decode implements pkg.Decoder for a Lifinity pool account.
// price = last_price / 10^decimalsA; absent when last_price is zero, since
// an oracle that has never been primed has nothing to report.
func Decode(data []byte, desc *pkg.ProgramDescriptor) (float64, bool) {
	fields, ok := binparser.New(data, 8).Read(schema)
	if !ok {
		return 0, false
	}
	lastPrice, _ := fields["last_price"].(uint64)
	if lastPrice == 0 {
		return 0, false
	}
	return float64(lastPrice) / pow10(desc.DecimalsA), true
}

func pow10(exp int) float64 {
	v := 1.0
	for i := 0; i < exp; i++ {
		v *= 10
	}
	return v
}
