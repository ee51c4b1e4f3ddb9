package dao

import (
	"github.com/uptrace/bun"
)

// EthereumTransactionStatus is the lifecycle state of a signed Eth tx that
// sets a Merkle root.
type EthereumTransactionStatus string

const (
	EthereumTransactionPending   EthereumTransactionStatus = "pending"
	EthereumTransactionConfirmed EthereumTransactionStatus = "confirmed"
	EthereumTransactionMissing   EthereumTransactionStatus = "missing"
)

// EthereumTransaction is a signed Eth transaction that publishes a Merkle
// root. tx_hash is mutable: a fee-bump rebroadcast replaces it in place via
// UpdateEthereumTransaction rather than inserting a new row.
type EthereumTransaction struct {
	bun.BaseModel `bun:"table:ethereum_transactions,alias:et"`

	ID        int64                     `bun:"id,pk,autoincrement"`
	TxHash    []byte                    `bun:"tx_hash,notnull"`
	Payload   []byte                    `bun:"payload,notnull"`
	Timestamp int64                     `bun:"timestamp,notnull"`
	Status    EthereumTransactionStatus `bun:"status,notnull,default:'pending'"`
}
