// Package extract implements the Transfer Extractor of spec.md §4.4:
// given a block and lazily-fetched receipts, emit the set of native
// and ERC-20 transfers that intersect the current filter snapshot.
// Grounded on original_source/src/models/domain/transfer.rs's
// Transfer::process_transaction and utils/check.rs's
// is_target_transaction, re-expressed with go-ethereum's core/types
// and holiman/uint256 for the 32-byte big-endian amount decode.
package extract

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethsync/indexer/internal/apperr"
	"github.com/ethsync/indexer/internal/filter"
	"github.com/ethsync/indexer/internal/model"
	"github.com/ethsync/indexer/internal/rpcpool"
)

// erc20TransferSelector is the first four bytes of
// keccak256("transfer(address,uint256)").
var erc20TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// erc20TransferTopic is the canonical Transfer(address,address,uint256)
// event signature hash.
var erc20TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Result is the output of extracting one block: the transfers that
// passed the filter, plus the count of transactions skipped because
// their receipt was absent, unretrievable, or failed (spec.md §4.4).
type Result struct {
	Transfers []model.Transfer
	Skipped   int
}

// Block extracts transfers from block against snap, fetching each
// qualifying transaction's receipt through rpc. Transactions that
// don't pass the pre-filter never cause a receipt fetch at all
// (spec.md §4.4).
func Block(ctx context.Context, logger log.Logger, rpc rpcpool.Client, block *types.Block, snap *filter.Snapshot) (Result, error) {
	var res Result
	height := int64(block.NumberU64())
	ts := int64(block.Time())

	for _, tx := range block.Transactions() {
		if !preFilter(tx, snap) {
			continue
		}

		receipt, err := rpc.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			logger.Error("failed to fetch receipt, skipping transaction", "tx", tx.Hash(), "err", err)
			res.Skipped++
			continue
		}
		if receipt == nil {
			logger.Warn("receipt not available, skipping transaction", "tx", tx.Hash())
			res.Skipped++
			continue
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			logger.Warn("transaction failed, skipping", "tx", tx.Hash(), "status", receipt.Status)
			res.Skipped++
			continue
		}

		from, err := senderOf(tx)
		if err != nil {
			logger.Error("failed to recover sender, skipping transaction", "tx", tx.Hash(), "err", err)
			res.Skipped++
			continue
		}

		if t, ok := nativeTransfer(tx, from, height, ts, snap); ok {
			res.Transfers = append(res.Transfers, t)
		}
		res.Transfers = append(res.Transfers, erc20Transfers(tx, receipt, height, ts, snap)...)
	}

	return res, nil
}

// preFilter applies spec.md §4.4's per-transaction pre-filter, with no
// receipt fetched if it fails:
//  1. tx.to must be non-nil.
//  2. either (a) input is empty and value > 0 (native), or (b) input
//     is >= 4 bytes with the ERC-20 transfer selector and value == 0.
//  3. at least one of from/to is watched, or to is a watched contract.
func preFilter(tx *types.Transaction, snap *filter.Snapshot) bool {
	to := tx.To()
	if to == nil {
		return false
	}

	isNative := len(tx.Data()) == 0 && tx.Value().Sign() > 0
	isERC20Call := len(tx.Data()) >= 4 && [4]byte(tx.Data()[:4]) == erc20TransferSelector && tx.Value().Sign() == 0
	if !isNative && !isERC20Call {
		return false
	}

	from, err := senderOf(tx)
	if err != nil {
		return false
	}
	if snap.HasAddress(from) || snap.HasAddress(*to) || snap.HasContract(*to) {
		return true
	}
	return false
}

// nativeTransfer emits the native-ETH transfer of spec.md §4.4 when
// value > 0 and either side is a watched address.
func nativeTransfer(tx *types.Transaction, from common.Address, height, ts int64, snap *filter.Snapshot) (model.Transfer, bool) {
	to := tx.To()
	if to == nil || tx.Value().Sign() <= 0 {
		return model.Transfer{}, false
	}
	if !snap.HasAddress(from) && !snap.HasAddress(*to) {
		return model.Transfer{}, false
	}

	return model.Transfer{
		BlockHeight:     height,
		TxHash:          tx.Hash().Hex(),
		FromAddress:     addrHex(from),
		ToAddress:       addrHex(*to),
		Amount:          model.NewBigInt(tx.Value()),
		ContractAddress: nil,
		Timestamp:       ts,
		Gas:             model.BigIntFromUint64(tx.Gas()),
		MaxFeePerGas:    maxFeePerGas(tx),
		Status:          1,
		LogIndex:        0,
	}, true
}

// erc20Transfers emits one transfer per qualifying log in receipt, per
// spec.md §4.4's five-condition gate.
func erc20Transfers(tx *types.Transaction, receipt *types.Receipt, height, ts int64, snap *filter.Snapshot) []model.Transfer {
	var out []model.Transfer
	for _, lg := range receipt.Logs {
		if lg == nil {
			continue
		}
		if len(lg.Topics) != 3 {
			continue
		}
		if lg.Topics[0] != erc20TransferTopic {
			continue
		}
		if len(lg.Data) != 32 {
			continue
		}
		if !snap.HasContract(lg.Address) {
			continue
		}

		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if !snap.HasAddress(from) && !snap.HasAddress(to) {
			continue
		}

		amount := new(uint256.Int).SetBytes(lg.Data)
		contract := addrHex(lg.Address)

		out = append(out, model.Transfer{
			BlockHeight:     height,
			TxHash:          tx.Hash().Hex(),
			FromAddress:     addrHex(from),
			ToAddress:       addrHex(to),
			Amount:          model.NewBigInt(amount.ToBig()),
			ContractAddress: &contract,
			Timestamp:       ts,
			Gas:             model.BigIntFromUint64(receipt.GasUsed),
			MaxFeePerGas:    maxFeePerGas(tx),
			Status:          1,
			LogIndex:        int64(lg.Index),
		})
	}
	return out
}

// maxFeePerGas returns tx's EIP-1559 max fee per gas, or zero when the
// transaction type doesn't carry one (spec.md §3: "zero when absent").
func maxFeePerGas(tx *types.Transaction) model.BigInt {
	if tx.Type() == types.LegacyTxType || tx.Type() == types.AccessListTxType {
		return model.BigIntFromUint64(0)
	}
	return model.NewBigInt(tx.GasFeeCap())
}

func senderOf(tx *types.Transaction) (common.Address, error) {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		return common.Address{}, apperr.Wrap(err, "recover transaction sender")
	}
	return from, nil
}

// addrHex renders a as a 0x-prefixed lower-case hex string, per
// spec.md §3 (addresses are NOT EIP-55 checksummed in storage).
func addrHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}
