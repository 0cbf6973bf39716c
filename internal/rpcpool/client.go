// Package rpcpool implements the RPC Endpoint Pool and Retry Layer of
// spec.md §4.1-4.2: a fixed-size vector of independent RPC handles,
// handed out round-robin, wrapped by an exponential-backoff-with-jitter
// retry layer. Grounded on op-service/sources/l1_client.go's pattern of
// a typed, logged wrapper over a raw JSON-RPC handle.
package rpcpool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Handle is the subset of an Ethereum JSON-RPC client the indexer
// core needs (spec.md §6 RPC surface: eth_blockNumber,
// eth_getBlockByNumber, eth_getTransactionReceipt, eth_chainId,
// eth_getTransactionCount). *ethclient.Client satisfies it directly.
type Handle interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Client is the business-facing RPC contract consumed by the sync
// engine and extractor. It surfaces the JSON-RPC "not found" case as
// (nil, nil) rather than an error, per spec.md §4.2: business-level
// absence is not a transport failure and must not be retried.
type Client interface {
	HeadBlockNumber(ctx context.Context) (uint64, error)
	BlockWithTransactions(ctx context.Context, height uint64) (*types.Block, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionCount(ctx context.Context, addr common.Address) (uint64, error)
}

// handleClient adapts a single Handle to the Client contract, with no
// retry behavior of its own — that is the RetryClient's job.
type handleClient struct {
	h Handle
}

func (c handleClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	return c.h.BlockNumber(ctx)
}

func (c handleClient) BlockWithTransactions(ctx context.Context, height uint64) (*types.Block, error) {
	block, err := c.h.BlockByNumber(ctx, new(big.Int).SetUint64(height))
	if err == ethereum.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (c handleClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.h.TransactionReceipt(ctx, hash)
	if err == ethereum.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c handleClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.h.ChainID(ctx)
}

func (c handleClient) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	return c.h.NonceAt(ctx, addr, nil)
}

// DialHandle constructs a live *ethclient.Client handle for rawURL.
func DialHandle(ctx context.Context, rawURL string) (Handle, error) {
	return ethclient.DialContext(ctx, rawURL)
}
