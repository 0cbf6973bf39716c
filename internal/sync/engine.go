// Package sync implements the Block Sync Engine and Supervisor of
// spec.md §4.6-4.7: a single-threaded pass that advances the
// persisted cursor toward the safe chain head, wrapped in a
// supervisor loop that retries on failure and exits cleanly on
// signal. Grounded on original_source/src/services/block_service.rs's
// sync_blocks/process_and_save_block pair and op-node's driver-loop
// idiom of a state label plus a tight for/select.
package sync

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/log"
	"gorm.io/gorm"

	"github.com/ethsync/indexer/internal/apperr"
	"github.com/ethsync/indexer/internal/extract"
	"github.com/ethsync/indexer/internal/filter"
	"github.com/ethsync/indexer/internal/metrics"
	"github.com/ethsync/indexer/internal/model"
	"github.com/ethsync/indexer/internal/rpcpool"
	"github.com/ethsync/indexer/internal/store"
)

// State labels the sync engine's current phase (spec.md §4.6). It is
// exposed only for logging/metrics; no external code branches on it.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateValidating State = "validating"
	StateExtracting State = "extracting"
	StateCommitting State = "committing"
	StateAdvancing  State = "advancing"
	StateHalted     State = "halted"
)

// Persistence is the subset of *store.Gateway that Pass calls: the
// cursor read and the scoped-transaction commit path. Extracting it as
// an interface lets Pass run against a fake in unit tests instead of
// requiring a live Postgres instance for every sync-engine scenario.
type Persistence interface {
	LastIndexedBlock(ctx context.Context) (*model.Cursor, error)
	ExecuteInTransaction(ctx context.Context, work func(tx *gorm.DB) error) error
	InsertBlock(tx *gorm.DB, block *model.Block) error
	BatchInsertTransfers(tx *gorm.DB, transfers []model.Transfer) error
}

// FilterSource is the subset of *filter.Registry that Pass calls: the
// currently published snapshot.
type FilterSource interface {
	Load() *filter.Snapshot
}

var _ Persistence = (*store.Gateway)(nil)
var _ FilterSource = (*filter.Registry)(nil)

// Engine runs one sync pass at a time against a single chain. It
// holds no cursor of its own between passes; the cursor is always
// re-read from persistence at the start of a pass (spec.md §4.6 step
// 3), so a restarted process resumes correctly without extra state.
type Engine struct {
	log        log.Logger
	rpc        rpcpool.Client
	gateway    Persistence
	filters    FilterSource
	initHeight uint64
	delay      int64
	state      State
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(logger log.Logger, rpc rpcpool.Client, gateway Persistence, filters FilterSource, initHeight uint64, delay int16) *Engine {
	return &Engine{
		log:        logger,
		rpc:        rpc,
		gateway:    gateway,
		filters:    filters,
		initHeight: initHeight,
		delay:      int64(delay),
		state:      StateIdle,
	}
}

// State returns the engine's current phase.
func (e *Engine) State() State { return e.state }

// Pass runs exactly one sync pass per spec.md §4.6: it advances the
// cursor through as many blocks as are currently safe to commit, then
// returns. A nil error with no blocks committed means there was
// nothing to do; a non-nil error is always fatal for the pass (the
// caller, the Supervisor, decides how to react).
func (e *Engine) Pass(ctx context.Context) error {
	e.state = StateFetching
	head, err := e.rpc.HeadBlockNumber(ctx)
	if err != nil {
		return apperr.Wrap(err, "query head block number")
	}

	safe := saturatingSub(head, uint64(e.delay))

	prev, err := e.gateway.LastIndexedBlock(ctx)
	if err != nil {
		return apperr.Wrap(err, "read last indexed block")
	}

	var next uint64
	if prev != nil {
		next = uint64(prev.Height) + 1
	} else {
		next = e.initHeight
	}

	if next > safe {
		e.state = StateIdle
		return nil
	}

	for next <= safe {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.state = StateFetching
		block, err := e.rpc.BlockWithTransactions(ctx, next)
		if err != nil {
			e.log.Error("fetch block failed, ending pass", "height", next, "err", err)
			break
		}
		if block == nil {
			e.log.Info("block not yet available, ending pass", "height", next)
			break
		}
		if block.Header() == nil {
			return apperr.Wrap(apperr.ErrMissingBlockHash, "fetched block %d", next)
		}

		e.state = StateValidating
		if prev != nil && block.ParentHash().Hex() != prev.Hash {
			e.state = StateHalted
			reorgErr := apperr.NewReorg(next, prev.Hash, block.ParentHash().Hex())
			e.log.Error("reorg detected, halting pass", "height", next, "local_parent", prev.Hash, "network_parent", block.ParentHash().Hex())
			metrics.ReorgsDetected.Inc()
			return reorgErr
		}

		txCount := len(block.Transactions())
		if txCount > math.MaxInt32 {
			return apperr.NewConversion("block %d transaction count %d overflows int32", next, txCount)
		}

		blockNumber, err := model.Uint64ToInt64(next)
		if err != nil {
			return apperr.Wrap(err, "block number %d", next)
		}
		timestamp, err := model.Uint64ToInt64(block.Time())
		if err != nil {
			return apperr.Wrap(err, "block %d timestamp", next)
		}

		e.state = StateExtracting
		snap := e.filters.Load()
		result, err := extract.Block(ctx, e.log, e.rpc, block, snap)
		if err != nil {
			return apperr.Wrap(err, "extract block %d", next)
		}
		metrics.TransactionsSkipped.Add(float64(result.Skipped))

		row := &model.Block{
			BlockNumber:   blockNumber,
			BlockHash:     block.Hash().Hex(),
			ParentHash:    block.ParentHash().Hex(),
			GasUsed:       model.BigIntFromUint64(block.GasUsed()),
			BaseFeePerGas: baseFeeOrZero(block.BaseFee()),
			Timestamp:     timestamp,
			TxCount:       int32(txCount),
		}

		e.state = StateCommitting
		err = e.gateway.ExecuteInTransaction(ctx, func(tx *gorm.DB) error {
			if err := e.gateway.InsertBlock(tx, row); err != nil {
				return apperr.Wrap(err, "insert block %d", next)
			}
			if len(result.Transfers) > 0 {
				if err := e.gateway.BatchInsertTransfers(tx, result.Transfers); err != nil {
					return apperr.Wrap(err, "insert transfers for block %d", next)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		metrics.BlocksIndexed.Inc()
		metrics.TransfersIndexed.Add(float64(len(result.Transfers)))

		e.state = StateAdvancing
		prev = &model.Cursor{Height: blockNumber, Hash: row.BlockHash, ParentHash: row.ParentHash}
		next++
	}

	e.state = StateIdle
	return nil
}

// saturatingSub computes a - b, clamped at 0 (spec.md §4.6 step 2).
func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func baseFeeOrZero(fee *big.Int) model.BigInt {
	if fee == nil {
		return model.BigIntFromUint64(0)
	}
	return model.NewBigInt(fee)
}
