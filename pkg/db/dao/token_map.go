package dao

import (
	"github.com/uptrace/bun"
)

// TokenMap maps a root (Eth-side) token address to its Ccd-side contract
// index/subindex. Created by TokenMapped, removed by TokenUnmapped.
type TokenMap struct {
	bun.BaseModel `bun:"table:token_maps,alias:tm"`

	RootToken     []byte `bun:"root_token,pk"`
	ChildIndex    uint64 `bun:"child_index,notnull"`
	ChildSubindex uint64 `bun:"child_subindex,notnull"`
	DisplayName   string `bun:"display_name,notnull"`
	Decimals      int16  `bun:"decimals,notnull"`
}
