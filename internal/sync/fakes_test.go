package sync

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"gorm.io/gorm"

	"github.com/ethsync/indexer/internal/filter"
	"github.com/ethsync/indexer/internal/model"
)

// fakeClient is a direct rpcpool.Client fake: no retry behavior of its
// own, just canned responses keyed by block height / tx hash.
type fakeClient struct {
	head     uint64
	blocks   map[uint64]*types.Block
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeClient) HeadBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeClient) BlockWithTransactions(ctx context.Context, height uint64) (*types.Block, error) {
	return f.blocks[height], nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return f.receipts[hash], nil
}

func (f *fakeClient) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeClient) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	return 0, nil
}

// flakyHandle is an rpcpool.Handle that fails BlockByNumber a fixed
// number of times before succeeding, used to drive a real RetryClient
// through a transient-failure-then-recovery sequence.
type flakyHandle struct {
	failCount int
	head      uint64
	block     *types.Block
}

func (h *flakyHandle) BlockNumber(ctx context.Context) (uint64, error) { return h.head, nil }

func (h *flakyHandle) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	if h.failCount > 0 {
		h.failCount--
		return nil, errors.New("transient rpc error")
	}
	return h.block, nil
}

func (h *flakyHandle) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, nil
}

func (h *flakyHandle) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (h *flakyHandle) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return 0, nil
}

// fakePersistence is a Persistence fake: an in-memory slice of
// committed blocks/transfers, with ExecuteInTransaction simply running
// work immediately (no real *gorm.DB is needed since InsertBlock/
// BatchInsertTransfers below never dereference tx).
type fakePersistence struct {
	cursor    *model.Cursor
	blocks    []*model.Block
	transfers []model.Transfer
}

func (f *fakePersistence) LastIndexedBlock(ctx context.Context) (*model.Cursor, error) {
	return f.cursor, nil
}

func (f *fakePersistence) ExecuteInTransaction(ctx context.Context, work func(tx *gorm.DB) error) error {
	return work(nil)
}

func (f *fakePersistence) InsertBlock(tx *gorm.DB, block *model.Block) error {
	f.blocks = append(f.blocks, block)
	return nil
}

func (f *fakePersistence) BatchInsertTransfers(tx *gorm.DB, transfers []model.Transfer) error {
	f.transfers = append(f.transfers, transfers...)
	return nil
}

// fakeFilterSource is a FilterSource fake that returns the next
// snapshot in sequence on each Load call, sticking on the last one —
// used to simulate a filter config hot-reload landing mid-pass.
type fakeFilterSource struct {
	snapshots []*filter.Snapshot
	calls     int
}

func (f *fakeFilterSource) Load() *filter.Snapshot {
	idx := f.calls
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[idx]
}

func snapshotWith(addrs, contracts []common.Address) *filter.Snapshot {
	a := make(map[common.Address]struct{}, len(addrs))
	for _, x := range addrs {
		a[x] = struct{}{}
	}
	c := make(map[common.Address]struct{}, len(contracts))
	for _, x := range contracts {
		c[x] = struct{}{}
	}
	return &filter.Snapshot{Addresses: a, Contracts: c}
}

// testBlock builds a minimal, fully-formed *types.Block with the given
// header fields and body. Block.Hash() depends only on the header, so
// WithBody doesn't disturb a hash set up for a parent-hash comparison.
func testBlock(number uint64, parentHash common.Hash, timestamp uint64, txs []*types.Transaction) *types.Block {
	header := &types.Header{
		ParentHash: parentHash,
		Number:     new(big.Int).SetUint64(number),
		Time:       timestamp,
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
	}
	return types.NewBlockWithHeader(header).WithBody(txs, nil)
}

// signedTx builds a signed legacy transaction from a fresh throwaway
// key, returning both the transaction and its sender address.
func signedTx(to common.Address, value int64, data []byte) (*types.Transaction, common.Address) {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(value),
		Gas:      21000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})

	signer := types.NewEIP155Signer(big.NewInt(1))
	signed, err := types.SignTx(tx, signer, key)
	if err != nil {
		panic(err)
	}
	return signed, from
}
