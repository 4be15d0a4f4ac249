// Package sol wraps the Solana JSON-RPC client with the rate limiting the
// Raydium AMM decoder needs when it falls back to a live balance fetch,
// and pools multiple endpoints behind round-robin selection.
package sol

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// Client is a single Solana RPC endpoint with a fixed request budget.
type Client struct {
	rpcClient *rpc.Client
	limiter   *rate.Limiter
}

// NewClient creates a client for endpoint and caps it at
// reqLimitPerSecond requests/sec with a burst of 1. The limiter bounds how
// often requests start; it does not bound how many are in flight at once.
func NewClient(endpoint string, reqLimitPerSecond int) *Client {
	if reqLimitPerSecond <= 0 {
		reqLimitPerSecond = 5
	}
	return &Client{
		rpcClient: rpc.New(endpoint),
		limiter:   rate.NewLimiter(rate.Limit(reqLimitPerSecond), 1),
	}
}

// TokenAccountBalance is an SPL token account balance: the raw amount in
// base units plus the mint's decimals (not yet scaled).
type TokenAccountBalance struct {
	Amount   uint64
	Decimals uint8
}

// GetTokenAccountBalance fetches a single SPL token account's balance,
// waiting on the rate limiter first.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (TokenAccountBalance, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return TokenAccountBalance{}, fmt.Errorf("rate limiter: %w", err)
	}
	resp, err := c.rpcClient.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return TokenAccountBalance{}, fmt.Errorf("get token account balance: %w", err)
	}
	if resp == nil || resp.Value == nil {
		return TokenAccountBalance{}, fmt.Errorf("empty balance response for %s", account)
	}
	var amount uint64
	if _, err := fmt.Sscanf(resp.Value.Amount, "%d", &amount); err != nil {
		return TokenAccountBalance{}, fmt.Errorf("parse balance amount: %w", err)
	}
	return TokenAccountBalance{Amount: amount, Decimals: resp.Value.Decimals}, nil
}
