package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/solwatch/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaClient adapts the solana-go JSON-RPC client to the RPCClient
// interface.
type SolanaClient struct {
	rpc      *rpc.Client
	endpoint string
	metrics  *metrics.Metrics
}

// NewSolanaClient creates a client for the given RPC endpoint.
// If m is nil, no metrics are recorded.
func NewSolanaClient(endpoint string, m *metrics.Metrics) *SolanaClient {
	return &SolanaClient{
		rpc:      rpc.New(endpoint),
		endpoint: endpoint,
		metrics:  m,
	}
}

func (c *SolanaClient) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func (c *SolanaClient) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	res, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	c.observe("getBalance", start, err)
	if err != nil {
		return 0, fmt.Errorf("getBalance %s: %w", account, err)
	}
	return res.Value, nil
}

func (c *SolanaClient) GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey) ([]TokenHolder, error) {
	start := time.Now()
	res, err := c.rpc.GetTokenLargestAccounts(ctx, mint, rpc.CommitmentConfirmed)
	c.observe("getTokenLargestAccounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("getTokenLargestAccounts %s: %w", mint, err)
	}

	holders := make([]TokenHolder, 0, len(res.Value))
	for _, v := range res.Value {
		if v == nil {
			continue
		}
		holders = append(holders, TokenHolder{
			Address:  v.Address,
			Amount:   v.Amount,
			Decimals: v.Decimals,
		})
	}
	return holders, nil
}

func (c *SolanaClient) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.observe("getLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

func (c *SolanaClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.observe("sendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}
