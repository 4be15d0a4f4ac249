// Package raydium decodes Raydium CLMM and legacy AMM pool accounts into
// spot prices. The CLMM layout mirrors Orca Whirlpool's sqrt-price model;
// the AMM decoder reads vault addresses only and defers to a live balance
// fetch, since SPL token account balances aren't embedded in the pool
// account itself.
package raydium

import (
	"context"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"

	"github.com/lag/prices/pkg"
	"github.com/lag/prices/pkg/binparser"
	"github.com/lag/prices/pkg/sol"
)

// CLMMProgramID is the Raydium concentrated-liquidity program.
const CLMMProgramID = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"

// AMMProgramID is the legacy Raydium constant-product AMM program.
const AMMProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

var clmmSchema = []binparser.Field{
	binparser.SkipField(8 + 1 + 7*32),
	binparser.TypedField(binparser.U8, "mint0_decimals"),
	binparser.TypedField(binparser.U8, "mint1_decimals"),
	binparser.SkipField(2),
	binparser.SkipField(16),
	binparser.TypedField(binparser.U128, "sqrt_price_x64"),
}

// DecodeCLMM implements pkg.Decoder for a Raydium CLMM pool account.
// price = (sqrtPriceX64/2^64)^2 * 10^(mint0Decimals-mint1Decimals).
func DecodeCLMM(data []byte, desc *pkg.ProgramDescriptor) (float64, bool) {
	fields, ok := binparser.New(data, 0).Read(clmmSchema)
	if !ok {
		return 0, false
	}
	sqrtPrice, ok := fields["sqrt_price_x64"].(uint128.Uint128)
	if !ok {
		return 0, false
	}
	mint0, _ := fields["mint0_decimals"].(uint8)
	mint1, _ := fields["mint1_decimals"].(uint8)

	sp := sqrtPrice.Big()
	squared := new(big.Int).Mul(sp, sp)
	price := new(big.Float).SetInt(squared)
	q128 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 128))
	price.Quo(price, q128)
	price.Mul(price, new(big.Float).SetFloat64(pow10(int(mint0)-int(mint1))))

	result, _ := price.Float64()
	return result, true
}

var ammSchema = []binparser.Field{
	binparser.SkipField(8 * 32),
	binparser.SkipField(16*2 + 8),
	binparser.SkipField(16*2 + 8),
	binparser.TypedField(binparser.Pubkey, "base_vault"),
	binparser.TypedField(binparser.Pubkey, "quote_vault"),
	binparser.TypedField(binparser.Pubkey, "base_mint"),
	binparser.TypedField(binparser.Pubkey, "quote_mint"),
}

// AMMVaults is the pair of token accounts a Raydium AMM pool holds its
// liquidity in, as extracted by DecodeAMMVaults.
type AMMVaults struct {
	BaseVault  solana.PublicKey
	QuoteVault solana.PublicKey
}

// DecodeAMMVaults extracts the base/quote vault addresses from a Raydium
// AMM pool account. The spot price itself requires a live balance fetch
// (see PriceFromAMM) since the pool account holds no balances of its own.
func DecodeAMMVaults(data []byte) (AMMVaults, bool) {
	fields, ok := binparser.New(data, 0).Read(ammSchema)
	if !ok {
		return AMMVaults{}, false
	}
	baseVault, _ := fields["base_vault"].(string)
	quoteVault, _ := fields["quote_vault"].(string)
	if baseVault == "" || quoteVault == "" {
		return AMMVaults{}, false
	}
	bv, err := solana.PublicKeyFromBase58(baseVault)
	if err != nil {
		return AMMVaults{}, false
	}
	qv, err := solana.PublicKeyFromBase58(quoteVault)
	if err != nil {
		return AMMVaults{}, false
	}
	return AMMVaults{BaseVault: bv, QuoteVault: qv}, true
}

// PriceFromAMM fetches both vault balances through client (rate-limited,
// one outstanding request at a time) and returns their ratio. Absent when
// either vault balance is zero.
func PriceFromAMM(ctx context.Context, client *sol.Client, vaults AMMVaults) (float64, bool) {
	base, err := client.GetTokenAccountBalance(ctx, vaults.BaseVault)
	if err != nil {
		return 0, false
	}
	quote, err := client.GetTokenAccountBalance(ctx, vaults.QuoteVault)
	if err != nil {
		return 0, false
	}
	if base.Amount == 0 || quote.Amount == 0 {
		return 0, false
	}

	baseHolding := float64(base.Amount) / pow10(int(base.Decimals))
	quoteHolding := float64(quote.Amount) / pow10(int(quote.Decimals))
	return quoteHolding / baseHolding, true
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
