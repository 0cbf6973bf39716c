// Package apperr defines the indexer's error taxonomy, mirroring the
// AppError/SyncError split of the Rust original: sentinel values for
// conditions the caller is expected to branch on, plus a ReorgError
// carrying the detected-fork details the sync engine reports upward.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel error values of the indexer.
var (
	// ErrBlockNotYetAvailable names the case where the RPC reports that
	// a supposedly-safe block does not exist on the node yet. Engine.Pass
	// does not return it: it ends the pass early with a nil error.
	ErrBlockNotYetAvailable = errors.New("block not yet available on node")

	// ErrReceiptNotAvailable names the case where a transaction receipt
	// is absent after retry exhaustion. extract.Block does not return
	// it: it skips the transaction and counts it in Result.Skipped.
	ErrReceiptNotAvailable = errors.New("transaction receipt not available")

	// ErrNoAPIKeys is a fatal configuration error: the RPC pool was
	// constructed with an empty key list.
	ErrNoAPIKeys = errors.New("no valid api keys provided")

	// ErrMissingBlockHash flags a fetched block with no hash, a fatal
	// RPC inconsistency for the current sync pass.
	ErrMissingBlockHash = errors.New("fetched block is missing its hash")
)

// ReorgError reports a parent-hash mismatch between the locally
// indexed chain and the network, per spec.md §4.6(b).
type ReorgError struct {
	Height  uint64
	Local   string
	Network string
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("chain reorg detected at block %d: local parent %s != network parent %s",
		e.Height, e.Local, e.Network)
}

// NewReorg builds a ReorgError with the given height and parent hashes.
func NewReorg(height uint64, local, network string) error {
	return &ReorgError{Height: height, Local: local, Network: network}
}

// AsReorg reports whether err is (or wraps) a *ReorgError.
func AsReorg(err error) (*ReorgError, bool) {
	var re *ReorgError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ConversionError wraps a numeric-domain overflow, e.g. U256 -> int64.
type ConversionError struct {
	Detail string
}

func (e *ConversionError) Error() string {
	return "conversion error: " + e.Detail
}

// NewConversion builds a ConversionError with a formatted detail message.
func NewConversion(format string, args ...any) error {
	return &ConversionError{Detail: fmt.Sprintf(format, args...)}
}

// Wrap adds context to err in the style of the teacher's driver code
// (derive.NewTemporaryError / anyhow::Context), preserving the
// original error for errors.Is / errors.As callers.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
