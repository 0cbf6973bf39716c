package rpcpool

import (
	"context"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ethsync/indexer/internal/apperr"
)

const maxBackoffExponent = 10

// RetryClient wraps a Pool and retries every transport failure with
// exponential backoff and jitter (spec.md §4.2, §8). It never
// classifies errors: every transport failure from the underlying
// handle is retryable, while business-level absence ((nil, nil) from
// the handleClient adapter) is returned immediately, un-retried.
type RetryClient struct {
	pool       *Pool
	maxRetries uint
	baseDelay  time.Duration
	log        log.Logger
}

// NewRetryClient builds a RetryClient over pool with the given bound
// on attempts per call and base backoff unit.
func NewRetryClient(pool *Pool, maxRetries uint, baseDelay time.Duration, logger log.Logger) *RetryClient {
	if maxRetries == 0 {
		maxRetries = 1
	}
	return &RetryClient{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, log: logger}
}

var _ Client = (*RetryClient)(nil)

func (r *RetryClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	return retryCall(ctx, r, "eth_blockNumber", func(c Client) (uint64, error) {
		return c.HeadBlockNumber(ctx)
	})
}

func (r *RetryClient) BlockWithTransactions(ctx context.Context, height uint64) (*types.Block, error) {
	return retryCallAllowNil(ctx, r, "eth_getBlockByNumber", func(c Client) (*types.Block, error) {
		return c.BlockWithTransactions(ctx, height)
	})
}

func (r *RetryClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return retryCallAllowNil(ctx, r, "eth_getTransactionReceipt", func(c Client) (*types.Receipt, error) {
		return c.TransactionReceipt(ctx, hash)
	})
}

func (r *RetryClient) ChainID(ctx context.Context) (*big.Int, error) {
	return retryCall(ctx, r, "eth_chainId", func(c Client) (*big.Int, error) {
		return c.ChainID(ctx)
	})
}

func (r *RetryClient) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	return retryCall(ctx, r, "eth_getTransactionCount", func(c Client) (uint64, error) {
		return c.TransactionCount(ctx, addr)
	})
}

// retryCall runs fn up to r.maxRetries times, sleeping between
// attempts per the backoff formula below. fn is expected to never
// return a nil result paired with a nil error for "absence" — use
// retryCallAllowNil for calls where the RPC can validly report
// Ok(None).
func retryCall[T any](ctx context.Context, r *RetryClient, method string, fn func(Client) (T, error)) (T, error) {
	var zero T
	callID := uuid.NewString()
	var lastErr *multierror.Error

	for attempt := uint(1); attempt <= r.maxRetries; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, attempt); err != nil {
				return zero, err
			}
		}
		handle := r.pool.Pick()
		result, err := fn(handleClient{h: handle})
		if err == nil {
			return result, nil
		}
		lastErr = multierror.Append(lastErr, err)
		r.log.Warn("rpc call failed, will retry", "method", method, "call_id", callID, "attempt", attempt, "err", err)
	}
	return zero, apperr.Wrap(lastErr.ErrorOrNil(), "%s exhausted %d attempts", method, r.maxRetries)
}

// retryCallAllowNil is retryCall's counterpart for RPC operations that
// may validly return (nil, nil) to report business-level absence
// (spec.md §4.2): that result is returned immediately, without
// consuming a retry.
func retryCallAllowNil[T any](ctx context.Context, r *RetryClient, method string, fn func(Client) (*T, error)) (*T, error) {
	callID := uuid.NewString()
	var lastErr *multierror.Error

	for attempt := uint(1); attempt <= r.maxRetries; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
		handle := r.pool.Pick()
		result, err := fn(handleClient{h: handle})
		if err == nil {
			return result, nil
		}
		lastErr = multierror.Append(lastErr, err)
		r.log.Warn("rpc call failed, will retry", "method", method, "call_id", callID, "attempt", attempt, "err", err)
	}
	return nil, apperr.Wrap(lastErr.ErrorOrNil(), "%s exhausted %d attempts", method, r.maxRetries)
}

// sleep implements the exponential-backoff-with-jitter formula of
// spec.md §4.2/§8: between attempts k and k+1 (k>=1), sleep for
// baseDelay * 2^min(k-1, 10) plus uniform jitter in [0, delay/10].
// baseDelay is a time.Duration; cmd/indexer builds it from
// base_delay_secs, so the unit there is seconds.
func (r *RetryClient) sleep(ctx context.Context, attempt uint) error {
	// attempt is the 1-indexed attempt about to be made (attempt > 1
	// here); k = attempt-1 is the previous (failed) attempt number, so
	// the exponent is min(k-1, 10) = min(attempt-2, 10).
	var exponent uint
	if attempt >= 2 {
		exponent = attempt - 2
	}
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}
	delay := r.baseDelay * time.Duration(uint64(1)<<exponent)
	jitter := time.Duration(0)
	if delay > 0 {
		jitter = time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	total := delay + jitter

	select {
	case <-time.After(total):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
