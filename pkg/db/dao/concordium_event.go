package dao

import (
	"github.com/uptrace/bun"
)

// ConcordiumEventType enumerates the Ccd-chain events the relayer follows.
type ConcordiumEventType string

const (
	ConcordiumEventTokenMap    ConcordiumEventType = "token_map"
	ConcordiumEventDeposit     ConcordiumEventType = "deposit"
	ConcordiumEventWithdraw    ConcordiumEventType = "withdraw"
	ConcordiumEventGrantRole   ConcordiumEventType = "grant_role"
	ConcordiumEventRevokeRole  ConcordiumEventType = "revoke_role"
)

// ConcordiumEvent is one row per event emitted by a Ccd transaction the
// relayer follows. Withdraw-only fields (EventIndex, ChildIndex,
// ChildSubindex, Receiver, Amount, EventMerkleHash) are populated only when
// EventType is ConcordiumEventWithdraw.
type ConcordiumEvent struct {
	bun.BaseModel `bun:"table:concordium_events,alias:ce"`

	ID               int64                `bun:"id,pk,autoincrement"`
	TxHash           []byte               `bun:"tx_hash,notnull"`
	EventIndex       *uint64              `bun:"event_index"`
	OriginEventIndex *uint64              `bun:"origin_event_index"`
	EventType        ConcordiumEventType  `bun:"event_type,notnull"`
	ChildIndex       *uint64              `bun:"child_index"`
	ChildSubindex    *uint64              `bun:"child_subindex"`
	Receiver         []byte               `bun:"receiver"`
	Amount           *string              `bun:"amount"`
	EventData        []byte               `bun:"event_data"`
	EventMerkleHash  []byte               `bun:"event_merkle_hash"`
	Processed        []byte               `bun:"processed"`
	PendingRoot      []byte               `bun:"pending_root"`
	Root             []byte               `bun:"root"`
}
