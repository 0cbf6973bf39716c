package model

// Block is a persisted row in eth_block (spec.md §3). It is created
// once when the sync engine commits block N and is never mutated or
// deleted by the core.
type Block struct {
	BlockNumber   int64  `gorm:"column:block_number;primaryKey"`
	BlockHash     string `gorm:"column:block_hash"`
	ParentHash    string `gorm:"column:parent_hash"`
	GasUsed       BigInt `gorm:"column:gas_used;type:numeric(78,0)"`
	BaseFeePerGas BigInt `gorm:"column:base_fee_per_gas;type:numeric(78,0)"`
	Timestamp     int64  `gorm:"column:timestamp"`
	TxCount       int32  `gorm:"column:tx_count"`
}

// TableName pins the GORM table name to the schema spec.md §6 names.
func (Block) TableName() string { return "eth_block" }

// Cursor is the derived maximum indexed height, per spec.md §3: the
// Cursor is never persisted separately; it is the row with the
// largest block_number.
type Cursor struct {
	Height     int64
	Hash       string
	ParentHash string
}
