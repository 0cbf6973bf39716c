package model

// Transfer is a persisted row in eth_transfer (spec.md §3): a native
// ETH or ERC-20 transfer that touched the filter snapshot in force
// when its parent block was extracted.
type Transfer struct {
	BlockHeight     int64   `gorm:"column:block_number"`
	TxHash          string  `gorm:"column:tx_hash;uniqueIndex:idx_eth_transfer_tx_log"`
	FromAddress     string  `gorm:"column:from_address"`
	ToAddress       string  `gorm:"column:to_address"`
	Amount          BigInt  `gorm:"column:amount;type:numeric(78,0)"`
	ContractAddress *string `gorm:"column:contract_address"`
	Timestamp       int64   `gorm:"column:timestamp"`
	Gas             BigInt  `gorm:"column:gas;type:numeric(78,0)"`
	MaxFeePerGas    BigInt  `gorm:"column:max_fee_per_gas;type:numeric(78,0)"`
	Status          int16   `gorm:"column:status"`
	LogIndex        int64   `gorm:"column:log_index;uniqueIndex:idx_eth_transfer_tx_log"`
}

// TableName pins the GORM table name to the schema spec.md §6 names.
func (Transfer) TableName() string { return "eth_transfer" }

// IsNative reports whether this is a native ETH transfer (contract
// address unset), per spec.md §3.
func (t Transfer) IsNative() bool { return t.ContractAddress == nil }
