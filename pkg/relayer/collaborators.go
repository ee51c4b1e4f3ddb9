package relayer

import "context"

// BridgeManager assembles outgoing Ccd state-update transactions from
// observed Eth events. It is an external collaborator (spec §1): the
// actor calls it synchronously inside its transaction's side-effect
// assembly step but never owns its lifecycle or its signing key.
type BridgeManager interface {
	// BuildDepositTransaction assembles a signed Ccd Deposit transaction
	// for a TokenLocked event. ok is false if the manager chose not to
	// produce one (e.g. the root token is not mapped yet); that is not an
	// error.
	BuildDepositTransaction(ctx context.Context, ev TokenLockedEvent) (txHash, payload []byte, ok bool, err error)

	// BuildTokenMapTransaction assembles a signed Ccd TokenMap transaction
	// for a TokenMapped event.
	BuildTokenMapTransaction(ctx context.Context, ev TokenMappedEvent) (txHash, payload []byte, err error)
}

// ConcordiumTxStatus is the coarse status the Ccd node reports for a
// submitted transaction during recovery.
type ConcordiumTxStatus int

const (
	ConcordiumTxStatusUnknown ConcordiumTxStatus = iota
	ConcordiumTxStatusNotFound
	ConcordiumTxStatusPending
	ConcordiumTxStatusFinalized
)

// ConcordiumTxKind distinguishes the Ccd transaction kinds the recovery
// protocol must treat differently; credential deployments and update
// instructions are never something the relayer itself submitted and
// finding one under a tracked hash is an invariant violation.
type ConcordiumTxKind int

const (
	ConcordiumTxKindAccountTransaction ConcordiumTxKind = iota
	ConcordiumTxKindCredentialDeployment
	ConcordiumTxKindUpdateInstruction
)

// ConcordiumWithdrawEvent is the on-chain shape of a finalized withdraw,
// read back during recovery step 6 for byte-for-byte verification against
// the stored row.
type ConcordiumWithdrawEvent struct {
	EventIndex    uint64
	ChildIndex    uint64
	ChildSubindex uint64
	Receiver      []byte
	Amount        string
}

// ConcordiumNode is the narrow read/rebroadcast surface the recovery
// protocol needs from the Ccd node. The block follower and transaction
// signer/sender themselves remain external collaborators outside this
// core.
type ConcordiumNode interface {
	// TransactionStatus reports a submitted transaction's current status
	// and kind.
	TransactionStatus(ctx context.Context, txHash []byte) (ConcordiumTxStatus, ConcordiumTxKind, error)

	// Rebroadcast resubmits a previously signed transaction verbatim.
	Rebroadcast(ctx context.Context, payload []byte) error

	// NonceOf extracts the nonce a signed account-transaction payload
	// used, for the recovery nonce-hint computation (P7).
	NonceOf(payload []byte) (uint64, error)

	// WithdrawEventsInTransaction returns every withdraw event a finalized
	// transaction emitted, for recovery's tamper check.
	WithdrawEventsInTransaction(ctx context.Context, txHash []byte) ([]ConcordiumWithdrawEvent, error)
}

// EthereumNode is a narrow read surface onto the Eth chain. Nothing in
// this package calls it; Recover uses only ConcordiumNode. The log
// scanner and transaction sender remain external collaborators.
type EthereumNode interface {
	// BlockHeight reports the current head height.
	BlockHeight(ctx context.Context) (uint64, error)
}
