package sync

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethsync/indexer/internal/apperr"
	"github.com/ethsync/indexer/internal/metrics"
)

// retryInterval is the supervisor's fixed inter-pass sleep after a
// failed pass (spec.md §4.7: "≈ 1 s").
const retryInterval = time.Second

// Supervisor owns the long-running sync loop: call Pass repeatedly,
// sleeping only after a failure, until ctx is cancelled (spec.md
// §4.7).
type Supervisor struct {
	log    log.Logger
	engine *Engine
}

// NewSupervisor builds a Supervisor driving engine.
func NewSupervisor(logger log.Logger, engine *Engine) *Supervisor {
	return &Supervisor{log: logger, engine: engine}
}

// Run blocks until ctx is cancelled, calling Pass in a tight loop. On
// success it continues immediately with no sleep, so a catching-up
// indexer drains the backlog as fast as the RPC and database allow;
// on error it logs, sleeps retryInterval, and continues. Run returns
// nil on clean cancellation; it never returns a pass-level error
// itself, since the supervisor's whole purpose is to absorb those
// (spec.md §7's propagation policy).
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		err := s.engine.Pass(ctx)
		metrics.SyncPassDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		if reorg, ok := apperr.AsReorg(err); ok {
			s.log.Error("sync pass halted on reorg, will keep retrying", "height", reorg.Height, "local_parent", reorg.Local, "network_parent", reorg.Network)
		} else {
			s.log.Error("sync pass failed, retrying", "err", err)
		}

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return nil
		}
	}
}
