// Package relayer implements the single-writer persistence actor that is
// the coordination core of the bridge: every write to storage, and every
// downstream notification that follows from one, passes through it.
package relayer

import "github.com/concordium-bridge/relayer/pkg/db/dao"

// Operation is the closed set of messages the actor accepts. Each value
// executes inside exactly one storage transaction.
type Operation interface {
	isOperation()
}

// EthereumEvent is the closed set of Eth-side log events IngestEthereumEvents
// carries. New variants should be rejected at decode time by the ingestor,
// not silently ignored here.
type EthereumEvent interface {
	isEthereumEvent()
}

// TokenLockedEvent is a deposit lock observed on the Eth bridge contract.
type TokenLockedEvent struct {
	TxHash           []byte
	OriginEventIndex uint64
	Amount           string
	Depositor        []byte
	RootToken        []byte
}

func (TokenLockedEvent) isEthereumEvent() {}

// TokenMappedEvent announces a new root-token to Ccd-contract mapping.
type TokenMappedEvent struct {
	TxHash        []byte
	RootToken     []byte
	ChildIndex    uint64
	ChildSubindex uint64
	DisplayName   string
	Decimals      int16
}

func (TokenMappedEvent) isEthereumEvent() {}

// TokenUnmappedEvent retires a root-token mapping.
type TokenUnmappedEvent struct {
	RootToken     []byte
	ChildIndex    uint64
	ChildSubindex uint64
}

func (TokenUnmappedEvent) isEthereumEvent() {}

// WithdrawClaimEvent is an Eth-side withdrawal claim against a Merkle proof.
type WithdrawClaimEvent struct {
	TxHash           []byte
	EventIndex       uint64
	Amount           string
	Receiver         []byte
	OriginTxHash     []byte
	OriginEventIndex uint64
}

func (WithdrawClaimEvent) isEthereumEvent() {}

// IngestEthereumEvents processes every Eth-side event observed up to and
// including block height Height.
type IngestEthereumEvents struct {
	Height uint64
	Events []EthereumEvent
}

func (IngestEthereumEvents) isOperation() {}

// ConcordiumEventPayload is the closed set of Ccd-side event variants
// IngestConcordiumEvents carries.
type ConcordiumEventPayload interface {
	isConcordiumEventPayload()
}

// TokenMapPayload mirrors a Ccd TokenMap state update.
type TokenMapPayload struct {
	RootToken     []byte
	ChildIndex    uint64
	ChildSubindex uint64
	DisplayName   string
	Decimals      int16
	EventData     []byte
}

func (TokenMapPayload) isConcordiumEventPayload() {}

// DepositPayload mirrors a Ccd Deposit state update.
type DepositPayload struct {
	OriginEventIndex uint64
	EventData        []byte
}

func (DepositPayload) isConcordiumEventPayload() {}

// WithdrawPayload is a Ccd withdrawal event destined for a Merkle root.
type WithdrawPayload struct {
	EventIndex    uint64
	ChildIndex    uint64
	ChildSubindex uint64
	Receiver      []byte
	Amount        string
	EventData     []byte
}

func (WithdrawPayload) isConcordiumEventPayload() {}

// GrantRolePayload and RevokeRolePayload are recorded for audit purposes
// only; they have no storage side effects beyond the event row itself.
type GrantRolePayload struct {
	EventData []byte
}

func (GrantRolePayload) isConcordiumEventPayload() {}

type RevokeRolePayload struct {
	EventData []byte
}

func (RevokeRolePayload) isConcordiumEventPayload() {}

// ConcordiumTxEvents groups every event emitted by a single Ccd transaction.
type ConcordiumTxEvents struct {
	TxHash []byte
	Events []ConcordiumEventPayload
}

// IngestConcordiumEvents processes every Ccd-side event observed in block B.
type IngestConcordiumEvents struct {
	Height uint64
	Txs    []ConcordiumTxEvents
}

func (IngestConcordiumEvents) isOperation() {}

// MarkConcordiumTransaction sets the named transaction's terminal status.
type MarkConcordiumTransaction struct {
	TxHash []byte
	Status dao.ConcordiumTransactionStatus
}

func (MarkConcordiumTransaction) isOperation() {}

// GetPendingConcordiumTransactions reads every pending Ccd transaction.
type GetPendingConcordiumTransactions struct {
	Reply chan<- GetPendingConcordiumTransactionsResult
}

func (GetPendingConcordiumTransactions) isOperation() {}

// GetPendingConcordiumTransactionsResult is the oneshot reply payload.
type GetPendingConcordiumTransactionsResult struct {
	Transactions []*dao.ConcordiumTransaction
	Err          error
}

// StoreEthereumTransaction records a newly broadcast Eth transaction that
// publishes Root over EventIndices, and binds pending_root on every named
// withdraw event.
type StoreEthereumTransaction struct {
	TxHash       []byte
	Payload      []byte
	Root         []byte
	EventIndices []uint64
	Reply        chan<- StoreEthereumTransactionResult
}

func (StoreEthereumTransaction) isOperation() {}

// StoreEthereumTransactionResult is the oneshot reply payload.
type StoreEthereumTransactionResult struct {
	Payload []byte
	Err     error
}

// UpdateEthereumTransaction replaces the hash of a pending Eth tx
// (fee-bump / nonce rebroadcast).
type UpdateEthereumTransaction struct {
	OldHash []byte
	NewHash []byte
}

func (UpdateEthereumTransaction) isOperation() {}

// MarkMerkleRootSet finalizes a Merkle root publication attempt.
type MarkMerkleRootSet struct {
	Root         []byte
	EventIndices []uint64
	Success      bool
	TxHash       []byte
	FailedHashes [][]byte
	Reply        chan<- error
}

func (MarkMerkleRootSet) isOperation() {}

// SetNextMerkleUpdateTime upserts the singleton expected-publication-time row.
type SetNextMerkleUpdateTime struct {
	NextTime int64
}

func (SetNextMerkleUpdateTime) isOperation() {}

// BlockItem is a signed Ccd transaction handed to the outgoing-tx sender
// once it has been durably recorded.
type BlockItem struct {
	TxHash  []byte
	Payload []byte
}

// MerkleUpdate is the closed set of notifications sent to the Merkle
// updater.
type MerkleUpdate interface {
	isMerkleUpdate()
}

// WithdrawLeaf pairs a withdraw's Ccd-assigned event index with its
// computed Merkle leaf hash.
type WithdrawLeaf struct {
	EventIndex uint64
	Leaf       [32]byte
}

// NewWithdraws announces freshly observed withdraws not yet part of any
// Merkle root.
type NewWithdraws struct {
	Withdraws []WithdrawLeaf
}

func (NewWithdraws) isMerkleUpdate() {}

// WithdrawalCompleted announces that an Eth-side claim has been recorded
// against a Ccd withdraw event.
type WithdrawalCompleted struct {
	Receiver         []byte
	OriginEventIndex uint64
}

func (WithdrawalCompleted) isMerkleUpdate() {}

// PendingEthereumTransactions is handed to the Eth-tx sender on recovery
// when a Merkle root publication was already in flight at the last
// shutdown.
type PendingEthereumTransactions struct {
	Root         []byte
	EventIndices []uint64
}
