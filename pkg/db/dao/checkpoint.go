package dao

import (
	"github.com/uptrace/bun"
)

// Network identifies which chain a checkpoint or correlation record
// belongs to.
type Network string

const (
	NetworkEthereum   Network = "ethereum"
	NetworkConcordium Network = "concordium"
)

// Checkpoint holds the last durably processed block height per network.
// Exactly one row per network; upserts are idempotent.
type Checkpoint struct {
	bun.BaseModel `bun:"table:checkpoints,alias:cp"`

	Network             Network `bun:"network,pk"`
	LastProcessedHeight uint64  `bun:"last_processed_height,notnull"`
}
