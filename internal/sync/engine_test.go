package sync

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethsync/indexer/internal/apperr"
	"github.com/ethsync/indexer/internal/filter"
	"github.com/ethsync/indexer/internal/model"
	"github.com/ethsync/indexer/internal/rpcpool"
)

// erc20TransferSelector/erc20TransferTopic mirror the values internal/extract
// gates on; duplicated here since they're unexported in that package.
var (
	erc20TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}
	erc20TransferTopic    = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
)

func TestSaturatingSub(t *testing.T) {
	require.Equal(t, uint64(8), saturatingSub(20, 12))
	require.Equal(t, uint64(0), saturatingSub(5, 12))
	require.Equal(t, uint64(0), saturatingSub(12, 12))
	require.Equal(t, uint64(0), saturatingSub(0, 0))
}

func TestBaseFeeOrZero(t *testing.T) {
	require.Equal(t, "0", baseFeeOrZero(nil).String())
	require.Equal(t, "7", baseFeeOrZero(big.NewInt(7)).String())
}

func TestEngineStateStartsIdle(t *testing.T) {
	e := &Engine{state: StateIdle}
	require.Equal(t, StateIdle, e.State())
}

func TestCursorAdvanceArithmetic(t *testing.T) {
	// mirrors the "next = prev.height + 1" step of a sync pass in
	// isolation; Pass itself is exercised end-to-end against fakes in
	// the scenario tests below.
	prev := &model.Cursor{Height: 1008, Hash: "0xaa", ParentHash: "0x99"}
	next := uint64(prev.Height) + 1
	require.Equal(t, uint64(1009), next)
}

func TestPassColdStartIndexesFirstBlockFromInitHeight(t *testing.T) {
	block := testBlock(100, common.Hash{}, 1000, nil)
	rpc := &fakeClient{head: 100, blocks: map[uint64]*types.Block{100: block}, receipts: map[common.Hash]*types.Receipt{}}
	gateway := &fakePersistence{}
	filters := &fakeFilterSource{snapshots: []*filter.Snapshot{snapshotWith(nil, nil)}}

	e := NewEngine(log.Root(), rpc, gateway, filters, 100, 0)
	err := e.Pass(context.Background())

	require.NoError(t, err)
	require.Len(t, gateway.blocks, 1)
	require.Equal(t, int64(100), gateway.blocks[0].BlockNumber)
	require.Equal(t, StateIdle, e.State())
}

func TestPassHaltsOnReorg(t *testing.T) {
	badParent := common.HexToHash("0xbad")
	block := testBlock(101, badParent, 1000, nil)
	rpc := &fakeClient{head: 101, blocks: map[uint64]*types.Block{101: block}, receipts: map[common.Hash]*types.Receipt{}}
	gateway := &fakePersistence{cursor: &model.Cursor{Height: 100, Hash: "0xgood", ParentHash: "0xroot"}}
	filters := &fakeFilterSource{snapshots: []*filter.Snapshot{snapshotWith(nil, nil)}}

	e := NewEngine(log.Root(), rpc, gateway, filters, 0, 0)
	err := e.Pass(context.Background())

	reorg, ok := apperr.AsReorg(err)
	require.True(t, ok)
	require.Equal(t, uint64(101), reorg.Height)
	require.Equal(t, StateHalted, e.State())
	require.Empty(t, gateway.blocks)
}

func TestPassPicksUpFilterHotReloadMidPass(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	txA, _ := signedTx(to, 100, nil)
	txB, _ := signedTx(to, 100, nil)

	block100 := testBlock(100, common.Hash{}, 1000, []*types.Transaction{txA})
	block101 := testBlock(101, block100.Hash(), 1001, []*types.Transaction{txB})

	rpc := &fakeClient{
		head: 101,
		blocks: map[uint64]*types.Block{100: block100, 101: block101},
		receipts: map[common.Hash]*types.Receipt{
			txA.Hash(): {Status: types.ReceiptStatusSuccessful},
			txB.Hash(): {Status: types.ReceiptStatusSuccessful},
		},
	}
	gateway := &fakePersistence{}
	filters := &fakeFilterSource{snapshots: []*filter.Snapshot{
		snapshotWith(nil, nil),         // in force while block 100 is extracted: "to" not watched yet
		snapshotWith([]common.Address{to}, nil), // reloaded before block 101 is extracted
	}}

	e := NewEngine(log.Root(), rpc, gateway, filters, 100, 0)
	err := e.Pass(context.Background())

	require.NoError(t, err)
	require.Len(t, gateway.blocks, 2)
	require.Len(t, gateway.transfers, 1)
	require.Equal(t, txB.Hash().Hex(), gateway.transfers[0].TxHash)
}

func TestPassRecoversFromTransientRPCFailure(t *testing.T) {
	block := testBlock(200, common.Hash{}, 1000, nil)
	handle := &flakyHandle{failCount: 2, head: 200, block: block}
	pool := rpcpool.NewPoolFromHandles([]rpcpool.Handle{handle})
	retryClient := rpcpool.NewRetryClient(pool, 5, time.Millisecond, log.Root())

	gateway := &fakePersistence{}
	filters := &fakeFilterSource{snapshots: []*filter.Snapshot{snapshotWith(nil, nil)}}

	e := NewEngine(log.Root(), retryClient, gateway, filters, 200, 0)
	err := e.Pass(context.Background())

	require.NoError(t, err)
	require.Len(t, gateway.blocks, 1)
	require.Equal(t, int64(200), gateway.blocks[0].BlockNumber)
}

func TestPassSkipsTransactionWithMissingReceipt(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx, _ := signedTx(to, 50, nil)
	block := testBlock(300, common.Hash{}, 1000, []*types.Transaction{tx})

	rpc := &fakeClient{head: 300, blocks: map[uint64]*types.Block{300: block}, receipts: map[common.Hash]*types.Receipt{}}
	gateway := &fakePersistence{}
	filters := &fakeFilterSource{snapshots: []*filter.Snapshot{snapshotWith([]common.Address{to}, nil)}}

	e := NewEngine(log.Root(), rpc, gateway, filters, 300, 0)
	err := e.Pass(context.Background())

	require.NoError(t, err)
	require.Len(t, gateway.blocks, 1)
	require.Equal(t, int32(1), gateway.blocks[0].TxCount)
	require.Empty(t, gateway.transfers)
}

func TestPassSkipsERC20TransferOnNonWatchedContract(t *testing.T) {
	contract := common.HexToAddress("0x3333333333333333333333333333333333333333")
	calldata := append(append([]byte{}, erc20TransferSelector[:]...), make([]byte, 64)...)
	tx, from := signedTx(contract, 0, calldata)
	block := testBlock(400, common.Hash{}, 1000, []*types.Transaction{tx})

	to2 := common.HexToAddress("0x4444444444444444444444444444444444444444")
	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{{
			Address: contract,
			Topics:  []common.Hash{erc20TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to2.Bytes())},
			Data:    make([]byte, 32),
		}},
	}

	rpc := &fakeClient{head: 400, blocks: map[uint64]*types.Block{400: block}, receipts: map[common.Hash]*types.Receipt{tx.Hash(): receipt}}
	gateway := &fakePersistence{}
	// from is watched (so the tx passes the pre-filter), but the ERC-20
	// contract itself is not, so the log gate must reject it.
	filters := &fakeFilterSource{snapshots: []*filter.Snapshot{snapshotWith([]common.Address{from}, nil)}}

	e := NewEngine(log.Root(), rpc, gateway, filters, 400, 0)
	err := e.Pass(context.Background())

	require.NoError(t, err)
	require.Len(t, gateway.blocks, 1)
	require.Empty(t, gateway.transfers)
}
