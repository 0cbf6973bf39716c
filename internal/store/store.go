// Package store implements the Persistence Gateway of spec.md §4.5: a
// scoped transactional boundary over Postgres with idempotent upsert
// of block rows and batched idempotent insert of transfer rows.
// Grounded on original_source/src/repositories/{block_repository,
// transaction_repository}.rs, built on gorm.io/gorm +
// gorm.io/driver/postgres the way the teacher's go.mod pairs them.
package store

import (
	"context"
	"errors"
	"time"

	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethsync/indexer/internal/apperr"
	"github.com/ethsync/indexer/internal/config"
	"github.com/ethsync/indexer/internal/model"
)

// uniqueViolationCode is the Postgres SQLSTATE for a unique-constraint
// violation, per original_source/src/repositories/base/repository_base.rs's
// error classification.
const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The upsert clauses below absorb the expected case (a
// replayed block/transfer); this exists for the unexpected case where
// a collision reaches the driver anyway (e.g. a conflict target the
// ON CONFLICT clause doesn't cover) so it can be logged distinctly
// from a genuine database failure, per spec.md §7.5.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}

// transferBatchSize is the chunking bound of spec.md §4.5: transfers
// are inserted in chunks of at most 1000 rows.
const transferBatchSize = 1000

// Gateway is the persistence boundary the sync engine commits through.
type Gateway struct {
	db  *gorm.DB
	log gethlog.Logger
}

// Open dials Postgres per cfg and returns a ready Gateway. Connection
// pool sizing and the schema DDL itself are external collaborators
// per spec.md §1; Open only applies the pool-size knobs from cfg.
func Open(cfg config.DatabaseConfig, log gethlog.Logger) (*Gateway, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, apperr.Wrap(err, "open database connection")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperr.Wrap(err, "unwrap sql.DB")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MinConnections)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.IdleTimeoutSeconds) * time.Second)

	return &Gateway{db: db, log: log}, nil
}

// ExecuteInTransaction opens a transaction, runs work against it, and
// commits on success / rolls back on any error — the scoped
// transaction primitive of spec.md §9.
func (g *Gateway) ExecuteInTransaction(ctx context.Context, work func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return work(tx)
	})
}

// InsertBlock upserts block on its block_number unique constraint: a
// collision does nothing (spec.md §4.5).
func (g *Gateway) InsertBlock(tx *gorm.DB, block *model.Block) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "block_number"}},
		DoNothing: true,
	}).Create(block).Error
	return g.logDBError(err, "insert block", "height", block.BlockNumber)
}

// BatchInsertTransfers inserts transfers in chunks of at most 1000
// rows, upserting on (tx_hash, log_index): collisions do nothing
// (spec.md §4.5).
func (g *Gateway) BatchInsertTransfers(tx *gorm.DB, transfers []model.Transfer) error {
	for _, chunk := range chunkTransfers(transfers, transferBatchSize) {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
			DoNothing: true,
		}).Create(&chunk).Error
		if err := g.logDBError(err, "insert transfer batch", "rows", len(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// logDBError classifies a database error for logging purposes
// (spec.md §7.5): a unique-constraint violation that reached the
// driver despite the ON CONFLICT clause is logged at debug, since the
// upsert policy already masks it; anything else is logged at error
// and returned as fatal for the pass.
func (g *Gateway) logDBError(err error, op string, ctx ...any) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		g.log.Debug("unique constraint hit during "+op+", treating as already-indexed", append(ctx, "err", err)...)
		return nil
	}
	g.log.Error("database error during "+op, append(ctx, "err", err)...)
	return apperr.Wrap(err, op)
}

// chunkTransfers splits transfers into slices of at most size rows,
// preserving order.
func chunkTransfers(transfers []model.Transfer, size int) [][]model.Transfer {
	var chunks [][]model.Transfer
	for start := 0; start < len(transfers); start += size {
		end := start + size
		if end > len(transfers) {
			end = len(transfers)
		}
		chunks = append(chunks, transfers[start:end])
	}
	return chunks
}

// LastIndexedBlock returns the Cursor derived from the row with the
// largest block_number (spec.md §3), or (nil, nil) when the relation
// is empty.
func (g *Gateway) LastIndexedBlock(ctx context.Context) (*model.Cursor, error) {
	var row model.Block
	err := g.db.WithContext(ctx).
		Order("block_number DESC").
		Limit(1).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, "query last indexed block")
	}
	return &model.Cursor{Height: row.BlockNumber, Hash: row.BlockHash, ParentHash: row.ParentHash}, nil
}

// AutoMigrate creates/updates the eth_block and eth_transfer tables.
// The schema DDL is nominally an external collaborator (spec.md §1),
// but AutoMigrate is provided for local development and tests since
// GORM ships it as part of the same stack.
func (g *Gateway) AutoMigrate() error {
	return g.db.AutoMigrate(&model.Block{}, &model.Transfer{})
}
