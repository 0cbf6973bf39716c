// Package model holds the indexer's persisted domain types: Block and
// Transfer rows (spec.md §3), plus the BigInt bridge between Go's
// math/big and Postgres NUMERIC columns.
package model

import (
	"database/sql/driver"
	"math"
	"math/big"

	"github.com/jackc/pgtype"

	"github.com/ethsync/indexer/internal/apperr"
)

// BigInt is an arbitrary-precision non-negative integer, stored as a
// Postgres NUMERIC(78,0) column via jackc/pgtype. It is the Go
// representation of spec.md §3's "arbitrary-precision non-negative
// integer up to 78 decimal digits" domain (gas used, base fee,
// transfer amount, gas, max fee per gas).
type BigInt struct {
	*big.Int
}

// NewBigInt wraps v, treating a nil v as zero.
func NewBigInt(v *big.Int) BigInt {
	if v == nil {
		return BigInt{big.NewInt(0)}
	}
	return BigInt{new(big.Int).Set(v)}
}

// BigIntFromUint64 is a convenience constructor for small values.
func BigIntFromUint64(v uint64) BigInt {
	return BigInt{new(big.Int).SetUint64(v)}
}

// Value implements driver.Valuer, encoding through pgtype.Numeric so
// the value round-trips exactly as a Postgres NUMERIC literal.
func (b BigInt) Value() (driver.Value, error) {
	n := b.numeric()
	return n.Value()
}

// Scan implements sql.Scanner, decoding a NUMERIC column back into a
// *big.Int via pgtype.Numeric.
func (b *BigInt) Scan(src any) error {
	var n pgtype.Numeric
	if err := n.Scan(src); err != nil {
		return apperr.Wrap(err, "scan BigInt")
	}
	if n.Status != pgtype.Present {
		b.Int = big.NewInt(0)
		return nil
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	} else if n.Exp < 0 {
		// All values this indexer writes have Exp == 0; a negative
		// exponent would mean a fractional NUMERIC, which never
		// occurs for the integer-only columns this type is used for.
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		v.Quo(v, div)
	}
	b.Int = v
	return nil
}

func (b BigInt) numeric() pgtype.Numeric {
	v := b.Int
	if v == nil {
		v = big.NewInt(0)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Status: pgtype.Present}
}

// GormDataType tells GORM's migrator which Postgres type to use.
func (BigInt) GormDataType() string {
	return "numeric(78,0)"
}

// Uint64ToInt64 performs the "u64 -> i64" overflow check of
// original_source/src/utils/convert.rs's option_u64_to_i64.
func Uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, apperr.NewConversion("u64(%d) overflows int64", v)
	}
	return int64(v), nil
}
