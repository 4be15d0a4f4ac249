package raydium

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/lag/prices/pkg"
)

func clmmAccountBytes(sqrtPriceX64 uint64, mint0Decimals, mint1Decimals uint8) []byte {
	buf := make([]byte, 8+1+7*32)
	buf = append(buf, mint0Decimals, mint1Decimals)
	buf = append(buf, make([]byte, 2+16)...)
	sp := make([]byte, 16)
	binary.LittleEndian.PutUint64(sp[:8], sqrtPriceX64)
	return append(buf, sp...)
}

func TestDecodeCLMMMatchesWorkedExample(t *testing.T) {
	// Same sqrt-price math as Whirlpool: sqrt_price = 2^64 * sqrt(0.0001).
	sqrtPrice := uint64(math.Round(math.Sqrt(0.0001) * math.Pow(2, 64)))
	data := clmmAccountBytes(sqrtPrice, 9, 6)
	desc := &pkg.ProgramDescriptor{}

	price, ok := DecodeCLMM(data, desc)
	require.True(t, ok)
	require.InDelta(t, 0.1, price, 1e-9)
}

func TestDecodeCLMMRejectsTruncatedAccount(t *testing.T) {
	data := clmmAccountBytes(1, 9, 6)
	data = data[:len(data)-5]
	_, ok := DecodeCLMM(data, &pkg.ProgramDescriptor{})
	require.False(t, ok)
}

func ammAccountBytes(base, quote, baseMint, quoteMint solana.PublicKey) []byte {
	buf := make([]byte, 8*32+(16*2+8)*2)
	buf = append(buf, base.Bytes()...)
	buf = append(buf, quote.Bytes()...)
	buf = append(buf, baseMint.Bytes()...)
	buf = append(buf, quoteMint.Bytes()...)
	return buf
}

func TestDecodeAMMVaultsExtractsAddresses(t *testing.T) {
	base := solana.NewWallet().PublicKey()
	quote := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()
	quoteMint := solana.NewWallet().PublicKey()

	data := ammAccountBytes(base, quote, baseMint, quoteMint)
	vaults, ok := DecodeAMMVaults(data)
	require.True(t, ok)
	require.Equal(t, base, vaults.BaseVault)
	require.Equal(t, quote, vaults.QuoteVault)
}

func TestDecodeAMMVaultsRejectsTruncatedAccount(t *testing.T) {
	base := solana.NewWallet().PublicKey()
	quote := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()
	quoteMint := solana.NewWallet().PublicKey()

	data := ammAccountBytes(base, quote, baseMint, quoteMint)
	data = data[:len(data)-1]
	_, ok := DecodeAMMVaults(data)
	require.False(t, ok)
}

func TestPriceFromAMMRequiresNetwork(t *testing.T) {
	t.Skip("requires a live Solana RPC endpoint to fetch token account balances")
	_, _ = PriceFromAMM(context.Background(), nil, AMMVaults{})
}
