// Package whirlpool decodes Orca Whirlpool CLMM pool accounts into spot
// prices from the pool's Q64.64 sqrt-price.
package whirlpool

import (
	"math/big"

	"lukechampine.com/uint128"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/binparser"
)

// ProgramID is the Orca Whirlpool CLMM program.
const ProgramID = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"

var q64 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))

var schema = []binparser.Field{
	binparser.SkipField(8),  // discriminator
	binparser.SkipField(32), // whirlpools_config
	binparser.SkipField(1),  // bump
	binparser.SkipField(2),  // tick_spacing
	binparser.SkipField(2),  // tick_spacing_seed
	binparser.SkipField(2),  // fee_rate
	binparser.SkipField(2),  // protocol_fee_rate
	binparser.SkipField(16), // liquidity
	binparser.TypedField(binparser.U128, "sqrt_price"),
}

// Decode implements pkg.Decoder for Orca Whirlpool CLMM accounts.
// price = (sqrt_price / 2^64)^2 * 10^(decimalsA - decimalsB)
func Decode(data []byte, desc *pkg.ProgramDescriptor) (float64, bool) {
	fields, ok := binparser.New(data, 0).Read(schema)
	if !ok {
		return 0, false
	}
	sqrtPrice, ok := fields["sqrt_price"].(uint128.Uint128)
	if !ok {
		return 0, false
	}

	sp := new(big.Float).SetInt(sqrtPrice.Big())
	price := new(big.Float).Quo(sp, q64)
	price.Mul(price, price)

	decimalAdjust := new(big.Float).SetFloat64(pow10(desc.DecimalsA - desc.DecimalsB))
	price.Mul(price, decimalAdjust)

	result, _ := price.Float64()
	return result, true
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
