// Package dao holds the bun-tagged row models for the relayer's persistence
// schema, used both by Store.Bootstrap's schema creation and by the query
// catalogue.
package dao

import (
	"github.com/uptrace/bun"
)

// ConcordiumTransactionStatus is the lifecycle state of a signed Ccd block
// item the relayer has submitted.
type ConcordiumTransactionStatus string

const (
	ConcordiumTransactionPending   ConcordiumTransactionStatus = "pending"
	ConcordiumTransactionFailed    ConcordiumTransactionStatus = "failed"
	ConcordiumTransactionFinalized ConcordiumTransactionStatus = "finalized"
	ConcordiumTransactionMissing   ConcordiumTransactionStatus = "missing"
)

// ConcordiumTransaction is a signed Ccd block item the relayer has
// submitted on behalf of an observed Eth event. Created by the actor when
// ingesting Eth events; mutated only through MarkConcordiumTransaction;
// never deleted.
type ConcordiumTransaction struct {
	bun.BaseModel `bun:"table:concordium_transactions,alias:ct"`

	ID           int64                        `bun:"id,pk,autoincrement"`
	TxHash       []byte                       `bun:"tx_hash,notnull,unique"`
	Payload      []byte                       `bun:"payload,notnull"`
	OriginTxHash []byte                       `bun:"origin_tx_hash,notnull"`
	Timestamp    int64                        `bun:"timestamp,notnull"`
	Status       ConcordiumTransactionStatus  `bun:"status,notnull,default:'pending'"`
}
