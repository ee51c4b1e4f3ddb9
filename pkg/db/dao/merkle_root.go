package dao

import (
	"github.com/uptrace/bun"
)

// MerkleRoot is the append-only log of roots successfully published on
// Eth.
type MerkleRoot struct {
	bun.BaseModel `bun:"table:merkle_roots,alias:mr"`

	ID        int64  `bun:"id,pk,autoincrement"`
	Root      []byte `bun:"root,notnull"`
	CreatedAt int64  `bun:"created_at,notnull"`
}
