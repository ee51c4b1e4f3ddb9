package dao

import (
	"github.com/uptrace/bun"
)

// EthereumDepositEvent is one row per Eth-side token lock (TokenLocked).
// TxHash is filled in once the matching Ccd deposit event is observed.
type EthereumDepositEvent struct {
	bun.BaseModel `bun:"table:ethereum_deposit_events,alias:ede"`

	ID               int64  `bun:"id,pk,autoincrement"`
	OriginTxHash     []byte `bun:"origin_tx_hash,notnull"`
	OriginEventIndex uint64 `bun:"origin_event_index,notnull,unique"`
	Amount           string `bun:"amount,notnull"`
	Depositor        []byte `bun:"depositor,notnull"`
	RootToken        []byte `bun:"root_token,notnull"`
	TxHash           []byte `bun:"tx_hash"`
}
