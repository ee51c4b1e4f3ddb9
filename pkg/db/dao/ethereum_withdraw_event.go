package dao

import (
	"github.com/uptrace/bun"
)

// EthereumWithdrawEvent is one row per Eth-side withdrawal claim, matching
// a Ccd withdraw event by EventIndex.
type EthereumWithdrawEvent struct {
	bun.BaseModel `bun:"table:ethereum_withdraw_events,alias:ewe"`

	ID               int64  `bun:"id,pk,autoincrement"`
	TxHash           []byte `bun:"tx_hash,notnull"`
	EventIndex       uint64 `bun:"event_index,notnull,unique"`
	Amount           string `bun:"amount,notnull"`
	Receiver         []byte `bun:"receiver,notnull"`
	OriginTxHash     []byte `bun:"origin_tx_hash,notnull"`
	OriginEventIndex uint64 `bun:"origin_event_index,notnull"`
}
