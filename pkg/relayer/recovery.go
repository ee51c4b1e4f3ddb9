package relayer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/concordium-bridge/relayer/internal/metrics"
	"github.com/concordium-bridge/relayer/pkg/db"
	"github.com/concordium-bridge/relayer/pkg/db/dao"
)

// RecoveryResult is everything the resume protocol reconstructs from
// storage, handed back to the block followers, the Eth transaction
// sender, and the Merkle update scheduler so they can pick up exactly
// where the previous run left off.
type RecoveryResult struct {
	// Checkpoints is the last durably processed height per network.
	// A missing entry means that network has never been ingested.
	Checkpoints map[dao.Network]uint64

	// PendingRoot is the in-flight Merkle root publication, if any.
	PendingRoot *PendingEthereumTransactions

	// NonceHint is the next nonce the Ccd transaction sender should use,
	// derived from the highest nonce among pending account transactions,
	// or nil if there are none pending.
	NonceHint *uint64
}

// Recover runs the startup protocol of spec §4.5: it assumes store has
// already been opened and Bootstrap has already created the schema. It
// resubmits or marks failed any stuck Ccd transactions, re-derives a
// nonce hint, reads back the pending Merkle root group, and re-verifies
// every pending withdrawal byte-for-byte against chain state.
func Recover(ctx context.Context, store *db.Store, node ConcordiumNode, logger *zap.Logger) (*RecoveryResult, error) {
	q := store.Queries()

	checkpoints, err := q.GetCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}

	nonceHint, err := resumePendingConcordiumTransactions(ctx, q, node, logger)
	if err != nil {
		return nil, err
	}

	pendingRoot, err := resumePendingRoot(ctx, q)
	if err != nil {
		return nil, err
	}

	if err := verifyPendingWithdrawals(ctx, q, node); err != nil {
		return nil, err
	}

	return &RecoveryResult{
		Checkpoints: checkpoints,
		PendingRoot: pendingRoot,
		NonceHint:   nonceHint,
	}, nil
}

// resumePendingConcordiumTransactions is recovery step 4: every Ccd
// transaction left pending across a restart must be re-checked against
// the node. Transactions the node no longer knows about are
// rebroadcast; a rebroadcast the node itself rejects is marked failed.
// An account-transaction's nonce feeds the sender's next-nonce hint; a
// pending row of any other kind is something the relayer never could
// have submitted itself and is an invariant violation.
func resumePendingConcordiumTransactions(ctx context.Context, q *db.Queries, node ConcordiumNode, logger *zap.Logger) (*uint64, error) {
	pending, err := q.GetPendingConcordiumTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending concordium transactions: %w", err)
	}

	var maxNonce *uint64
	for _, tx := range pending {
		status, kind, err := node.TransactionStatus(ctx, tx.TxHash)
		if err != nil {
			return nil, fmt.Errorf("query status of concordium tx %x: %w", tx.TxHash, err)
		}

		if kind != ConcordiumTxKindAccountTransaction {
			return nil, &db.InvariantViolationError{
				Detail: fmt.Sprintf("pending concordium tx %x resolved to a %v, never something the relayer submits", tx.TxHash, kind),
			}
		}

		switch status {
		case ConcordiumTxStatusFinalized:
			if _, err := q.MarkConcordiumTransaction(ctx, tx.TxHash, dao.ConcordiumTransactionFinalized); err != nil {
				return nil, fmt.Errorf("mark concordium tx %x finalized: %w", tx.TxHash, err)
			}
			continue
		case ConcordiumTxStatusPending:
			// Still in flight, nothing to do besides counting its nonce.
		case ConcordiumTxStatusNotFound:
			if err := node.Rebroadcast(ctx, tx.Payload); err != nil {
				logger.Warn("rebroadcast of stuck concordium tx rejected, marking failed",
					zap.String("tx_hash", fmt.Sprintf("%x", tx.TxHash)), zap.Error(err))
				if _, err := q.MarkConcordiumTransaction(ctx, tx.TxHash, dao.ConcordiumTransactionFailed); err != nil {
					return nil, fmt.Errorf("mark concordium tx %x failed: %w", tx.TxHash, err)
				}
				continue
			}
		}

		nonce, err := node.NonceOf(tx.Payload)
		if err != nil {
			return nil, fmt.Errorf("extract nonce from concordium tx %x: %w", tx.TxHash, err)
		}
		if maxNonce == nil || nonce > *maxNonce {
			n := nonce
			maxNonce = &n
		}
	}

	if maxNonce != nil {
		hint := *maxNonce + 1
		return &hint, nil
	}
	return nil, nil
}

// resumePendingRoot is recovery step 5: hand the in-flight Merkle root
// publication, if any, back to the Eth transaction sender so it can
// check on or rebroadcast it rather than starting a fresh one.
// GetPendingRootGroup already enforces the single-pending-root invariant
// fatally.
func resumePendingRoot(ctx context.Context, q *db.Queries) (*PendingEthereumTransactions, error) {
	group, err := q.GetPendingRootGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending merkle root group: %w", err)
	}
	if group == nil {
		return nil, nil
	}
	return &PendingEthereumTransactions{Root: group.Root, EventIndices: group.EventIndices}, nil
}

// verifyPendingWithdrawals is recovery step 6: every withdraw event the
// database still considers unprocessed must have its backing transaction
// finalized, contain exactly one withdraw event at the stored index, and
// that event must equal the stored one byte-for-byte. A non-finalized
// backing transaction is not yet ground truth (it can still be reorged
// away), so its events are never trusted; any of the three conditions
// failing means the stored row was altered or invalidated out from under
// the relayer and is fatal.
func verifyPendingWithdrawals(ctx context.Context, q *db.Queries, node ConcordiumNode) error {
	pending, err := q.GetPendingWithdrawals(ctx)
	if err != nil {
		return fmt.Errorf("read pending withdrawals: %w", err)
	}

	byTx := make(map[string][]*dao.ConcordiumEvent, len(pending))
	for _, ev := range pending {
		key := string(ev.TxHash)
		byTx[key] = append(byTx[key], ev)
	}

	for txHash, events := range byTx {
		status, _, err := node.TransactionStatus(ctx, []byte(txHash))
		if err != nil {
			return fmt.Errorf("query status of concordium tx %x: %w", []byte(txHash), err)
		}
		if status != ConcordiumTxStatusFinalized {
			return &db.InvariantViolationError{
				Detail: fmt.Sprintf("concordium tx %x backing pending withdrawals is not finalized (status %v), cannot trust its events", []byte(txHash), status),
			}
		}

		onChain, err := node.WithdrawEventsInTransaction(ctx, []byte(txHash))
		if err != nil {
			return fmt.Errorf("read withdraw events for concordium tx %x: %w", []byte(txHash), err)
		}
		byIndex := make(map[uint64]ConcordiumWithdrawEvent, len(onChain))
		countByIndex := make(map[uint64]int, len(onChain))
		for _, oc := range onChain {
			byIndex[oc.EventIndex] = oc
			countByIndex[oc.EventIndex]++
		}

		for _, ev := range events {
			if ev.EventIndex == nil {
				return &db.InvariantViolationError{Detail: fmt.Sprintf("pending withdraw row %d has no event_index", ev.ID)}
			}
			oc, ok := byIndex[*ev.EventIndex]
			if !ok {
				return &db.InvariantViolationError{
					Detail: fmt.Sprintf("withdraw event_index %d no longer present on chain for tx %x", *ev.EventIndex, []byte(txHash)),
				}
			}
			if countByIndex[*ev.EventIndex] != 1 {
				return &db.InvariantViolationError{
					Detail: fmt.Sprintf("concordium tx %x has %d withdraw events at index %d, expected exactly one", []byte(txHash), countByIndex[*ev.EventIndex], *ev.EventIndex),
				}
			}
			if err := compareWithdraw(ev, oc); err != nil {
				metrics.ErrorsTotal.WithLabelValues("recovery", "tamper_detected").Inc()
				return &db.InvariantViolationError{
					Detail: fmt.Sprintf("withdraw event_index %d diverges from chain: %v", *ev.EventIndex, err),
				}
			}
		}
	}
	return nil
}

func compareWithdraw(stored *dao.ConcordiumEvent, onChain ConcordiumWithdrawEvent) error {
	if stored.ChildIndex == nil || *stored.ChildIndex != onChain.ChildIndex {
		return fmt.Errorf("child_index mismatch")
	}
	if stored.ChildSubindex == nil || *stored.ChildSubindex != onChain.ChildSubindex {
		return fmt.Errorf("child_subindex mismatch")
	}
	if string(stored.Receiver) != string(onChain.Receiver) {
		return fmt.Errorf("receiver mismatch")
	}
	if stored.Amount == nil || *stored.Amount != onChain.Amount {
		return fmt.Errorf("amount mismatch")
	}
	return nil
}
