package rpcpool

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/ethsync/indexer/internal/apperr"
)

// Pool holds a fixed-size vector of independent RPC client handles,
// one per configured API key, and hands them out in strict
// round-robin order (spec.md §4.1). Handles are shared: multiple
// concurrent callers may hold the same handle at once.
type Pool struct {
	handles []Handle
	next    atomic.Uint64
}

// NewPool parses baseURL and appends each trimmed, non-empty entry of
// commaKeys as the final path segment, dialing one handle per key. An
// empty key list is a fatal configuration error
// (apperr.ErrNoAPIKeys), matching EthereumProvider::new's assert in
// original_source/src/infrastructure/provider/ethereum_provider.rs.
func NewPool(ctx context.Context, logger log.Logger, baseURL, commaKeys string) (*Pool, error) {
	var handles []Handle
	for _, raw := range strings.Split(commaKeys, ",") {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}
		url := joinURL(baseURL, key)
		h, err := DialHandle(ctx, url)
		if err != nil {
			return nil, errors.Wrapf(err, "dial rpc endpoint for key")
		}
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return nil, apperr.ErrNoAPIKeys
	}
	logger.Info("initialized rpc endpoint pool", "endpoints", len(handles))
	return &Pool{handles: handles}, nil
}

// NewPoolFromHandles builds a Pool directly from already-constructed
// handles, bypassing DialHandle. Used to compose a Pool/RetryClient
// pair over a fake Handle in tests that exercise retry/backoff without
// a live RPC endpoint.
func NewPoolFromHandles(handles []Handle) *Pool {
	return &Pool{handles: handles}
}

// Pick returns the next handle in round-robin order via an atomic
// fetch-add, modulo pool size (spec.md §4.1, §5, §8).
func (p *Pool) Pick() Handle {
	i := p.next.Add(1) - 1
	return p.handles[i%uint64(len(p.handles))]
}

// Len reports the number of endpoints in the pool.
func (p *Pool) Len() int { return len(p.handles) }

func joinURL(base, key string) string {
	if strings.HasSuffix(base, "/") {
		return base + key
	}
	return base + "/" + key
}
