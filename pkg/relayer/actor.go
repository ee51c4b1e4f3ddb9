package relayer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/concordium-bridge/relayer/internal/metrics"
	"github.com/concordium-bridge/relayer/pkg/db"
	"github.com/concordium-bridge/relayer/pkg/db/dao"
)

// Actor executes one Operation at a time against the Store it is handed,
// inside exactly one storage transaction, and emits the resulting
// downstream messages only after that transaction commits. It holds no
// connection state of its own — the supervisor (C6) owns reconnects and
// hands the actor a fresh Store after a failure.
type Actor struct {
	bridgeManager BridgeManager
	logger        *zap.Logger
	ccdTxSender   chan<- BlockItem
	merkleUpdates chan<- MerkleUpdate
}

// NewActor builds an actor that emits Ccd transactions on ccdTxSender and
// Merkle notifications on merkleUpdates. Both channels are expected to be
// buffered or reliably drained; a full channel is logged and dropped, not
// blocked on, since the storage effect has already committed (spec §4.4).
func NewActor(bridgeManager BridgeManager, logger *zap.Logger, ccdTxSender chan<- BlockItem, merkleUpdates chan<- MerkleUpdate) *Actor {
	return &Actor{
		bridgeManager: bridgeManager,
		logger:        logger,
		ccdTxSender:   ccdTxSender,
		merkleUpdates: merkleUpdates,
	}
}

// Process executes op against store. A transient storage error is
// returned wrapped as *RetryableError; an *db.InvariantViolationError is
// returned unwrapped so the caller can distinguish "retry me" from "abort
// the process".
func (a *Actor) Process(ctx context.Context, store *db.Store, op Operation) error {
	var err error
	switch o := op.(type) {
	case IngestEthereumEvents:
		err = a.processIngestEthereumEvents(ctx, store, o)
	case IngestConcordiumEvents:
		err = a.processIngestConcordiumEvents(ctx, store, o)
	case MarkConcordiumTransaction:
		err = a.processMarkConcordiumTransaction(ctx, store, o)
	case GetPendingConcordiumTransactions:
		err = a.processGetPendingConcordiumTransactions(ctx, store, o)
	case StoreEthereumTransaction:
		err = a.processStoreEthereumTransaction(ctx, store, o)
	case UpdateEthereumTransaction:
		err = a.processUpdateEthereumTransaction(ctx, store, o)
	case MarkMerkleRootSet:
		err = a.processMarkMerkleRootSet(ctx, store, o)
	case SetNextMerkleUpdateTime:
		err = a.processSetNextMerkleUpdateTime(ctx, store, o)
	default:
		return fmt.Errorf("unknown operation type %T", op)
	}

	if err == nil {
		return nil
	}
	var iv *db.InvariantViolationError
	if errors.As(err, &iv) {
		return err
	}
	return &RetryableError{Op: op, Cause: err}
}

func (a *Actor) processIngestEthereumEvents(ctx context.Context, store *db.Store, o IngestEthereumEvents) error {
	var freshTxs []BlockItem
	var completions []WithdrawalCompleted

	err := store.RunInTx(ctx, func(ctx context.Context, q *db.Queries) error {
		freshTxs = nil
		completions = nil
		for _, ev := range o.Events {
			switch e := ev.(type) {
			case TokenLockedEvent:
				txHash, payload, ok, err := a.bridgeManager.BuildDepositTransaction(ctx, e)
				if err != nil {
					return fmt.Errorf("build deposit transaction: %w", err)
				}
				if !ok {
					continue
				}
				if err := q.InsertConcordiumTransaction(ctx, &dao.ConcordiumTransaction{
					TxHash:       txHash,
					Payload:      payload,
					OriginTxHash: e.TxHash,
					Status:       dao.ConcordiumTransactionPending,
				}); err != nil {
					return err
				}
				if err := q.InsertEthereumDepositEvent(ctx, &dao.EthereumDepositEvent{
					OriginTxHash:     e.TxHash,
					OriginEventIndex: e.OriginEventIndex,
					Amount:           e.Amount,
					Depositor:        e.Depositor,
					RootToken:        e.RootToken,
				}); err != nil {
					return err
				}
				metrics.DepositsTotal.Inc()
				freshTxs = append(freshTxs, BlockItem{TxHash: txHash, Payload: payload})

			case TokenMappedEvent:
				txHash, payload, err := a.bridgeManager.BuildTokenMapTransaction(ctx, e)
				if err != nil {
					return fmt.Errorf("build token map transaction: %w", err)
				}
				if err := q.InsertConcordiumTransaction(ctx, &dao.ConcordiumTransaction{
					TxHash:       txHash,
					Payload:      payload,
					OriginTxHash: e.TxHash,
					Status:       dao.ConcordiumTransactionPending,
				}); err != nil {
					return err
				}
				if err := q.UpsertTokenMap(ctx, &dao.TokenMap{
					RootToken:     e.RootToken,
					ChildIndex:    e.ChildIndex,
					ChildSubindex: e.ChildSubindex,
					DisplayName:   e.DisplayName,
					Decimals:      e.Decimals,
				}); err != nil {
					return err
				}
				metrics.TokenMapEventsTotal.Inc()
				freshTxs = append(freshTxs, BlockItem{TxHash: txHash, Payload: payload})

			case TokenUnmappedEvent:
				existed, err := q.DeleteTokenMap(ctx, e.RootToken)
				if err != nil {
					return err
				}
				if !existed {
					metrics.WarningsTotal.WithLabelValues("unmap_unknown_token").Inc()
				}
				metrics.TokenUnmapEventsTotal.Inc()
				metrics.ErrorsTotal.WithLabelValues("ethereum_ingest", "token_unmapped").Inc()

			case WithdrawClaimEvent:
				if err := q.InsertEthereumWithdrawEvent(ctx, &dao.EthereumWithdrawEvent{
					TxHash:           e.TxHash,
					EventIndex:       e.OriginEventIndex,
					Amount:           e.Amount,
					Receiver:         e.Receiver,
					OriginTxHash:     e.OriginTxHash,
					OriginEventIndex: e.OriginEventIndex,
				}); err != nil {
					return err
				}
				metrics.WithdrawalsTotal.Inc()
				completions = append(completions, WithdrawalCompleted{
					Receiver:         e.Receiver,
					OriginEventIndex: e.OriginEventIndex,
				})

			default:
				return fmt.Errorf("unknown ethereum event type %T", ev)
			}
		}

		return q.UpsertCheckpoint(ctx, dao.NetworkEthereum, o.Height)
	})
	if err != nil {
		return classifyStorageError(err)
	}

	for _, tx := range freshTxs {
		a.sendBlockItem(tx)
	}
	for _, c := range completions {
		a.sendMerkleUpdate(c)
	}
	return nil
}

func (a *Actor) processIngestConcordiumEvents(ctx context.Context, store *db.Store, o IngestConcordiumEvents) error {
	var freshWithdraws []WithdrawLeaf

	err := store.RunInTx(ctx, func(ctx context.Context, q *db.Queries) error {
		freshWithdraws = nil
		for _, txEvents := range o.Txs {
			for _, ev := range txEvents.Events {
				row := &dao.ConcordiumEvent{TxHash: txEvents.TxHash}
				switch p := ev.(type) {
				case TokenMapPayload:
					row.EventType = dao.ConcordiumEventTokenMap
					row.EventData = p.EventData
				case DepositPayload:
					row.EventType = dao.ConcordiumEventDeposit
					originIdx := p.OriginEventIndex
					row.OriginEventIndex = &originIdx
					row.EventData = p.EventData
				case WithdrawPayload:
					row.EventType = dao.ConcordiumEventWithdraw
					eventIdx := p.EventIndex
					childIdx := p.ChildIndex
					childSub := p.ChildSubindex
					row.EventIndex = &eventIdx
					row.ChildIndex = &childIdx
					row.ChildSubindex = &childSub
					row.Receiver = p.Receiver
					amount := p.Amount
					row.Amount = &amount
					row.EventData = p.EventData

					leaf, err := ComputeWithdrawLeaf(txEvents.TxHash, p)
					if err != nil {
						return &db.InvariantViolationError{Detail: err.Error()}
					}
					row.EventMerkleHash = leaf[:]
				case GrantRolePayload:
					row.EventType = dao.ConcordiumEventGrantRole
					row.EventData = p.EventData
				case RevokeRolePayload:
					row.EventType = dao.ConcordiumEventRevokeRole
					row.EventData = p.EventData
				default:
					return fmt.Errorf("unknown concordium event payload %T", ev)
				}

				alreadyProcessed, err := q.InsertConcordiumEvent(ctx, row)
				if err != nil {
					return err
				}

				if row.EventType == dao.ConcordiumEventWithdraw && !alreadyProcessed {
					var leaf [32]byte
					copy(leaf[:], row.EventMerkleHash)
					freshWithdraws = append(freshWithdraws, WithdrawLeaf{
						EventIndex: *row.EventIndex,
						Leaf:       leaf,
					})
				}
			}
		}

		return q.UpsertCheckpoint(ctx, dao.NetworkConcordium, o.Height)
	})
	if err != nil {
		return classifyStorageError(err)
	}

	if len(freshWithdraws) > 0 {
		a.sendMerkleUpdate(NewWithdraws{Withdraws: freshWithdraws})
	}
	return nil
}

func (a *Actor) processMarkConcordiumTransaction(ctx context.Context, store *db.Store, o MarkConcordiumTransaction) error {
	err := store.RunInTx(ctx, func(ctx context.Context, q *db.Queries) error {
		_, err := q.MarkConcordiumTransaction(ctx, o.TxHash, o.Status)
		return err
	})
	return classifyStorageError(err)
}

func (a *Actor) processGetPendingConcordiumTransactions(ctx context.Context, store *db.Store, o GetPendingConcordiumTransactions) error {
	txs, err := store.Queries().GetPendingConcordiumTransactions(ctx)
	if err != nil {
		err = classifyStorageError(err)
		a.replyPendingTxs(o.Reply, GetPendingConcordiumTransactionsResult{Err: err})
		return err
	}
	a.replyPendingTxs(o.Reply, GetPendingConcordiumTransactionsResult{Transactions: txs})
	return nil
}

func (a *Actor) processStoreEthereumTransaction(ctx context.Context, store *db.Store, o StoreEthereumTransaction) error {
	err := store.RunInTx(ctx, func(ctx context.Context, q *db.Queries) error {
		return q.InsertEthereumTransaction(ctx, &dao.EthereumTransaction{
			TxHash:  o.TxHash,
			Payload: o.Payload,
			Status:  dao.EthereumTransactionPending,
		}, o.Root, o.EventIndices)
	})
	if err != nil {
		err = classifyStorageError(err)
		a.replyStoreEthTx(o.Reply, StoreEthereumTransactionResult{Err: err})
		return err
	}
	a.replyStoreEthTx(o.Reply, StoreEthereumTransactionResult{Payload: o.Payload})
	return nil
}

func (a *Actor) processUpdateEthereumTransaction(ctx context.Context, store *db.Store, o UpdateEthereumTransaction) error {
	err := store.RunInTx(ctx, func(ctx context.Context, q *db.Queries) error {
		return q.UpdateEthereumTransaction(ctx, o.OldHash, o.NewHash)
	})
	return classifyStorageError(err)
}

func (a *Actor) processMarkMerkleRootSet(ctx context.Context, store *db.Store, o MarkMerkleRootSet) error {
	err := store.RunInTx(ctx, func(ctx context.Context, q *db.Queries) error {
		return q.MarkMerkleRootSet(ctx, o.Root, o.EventIndices, o.Success, o.TxHash, o.FailedHashes)
	})
	if err != nil {
		err = classifyStorageError(err)
		a.replyMarkRootSet(o.Reply, err)
		return err
	}
	if o.Success {
		metrics.PendingMerkleRoots.Set(0)
	}
	a.replyMarkRootSet(o.Reply, nil)
	return nil
}

func (a *Actor) processSetNextMerkleUpdateTime(ctx context.Context, store *db.Store, o SetNextMerkleUpdateTime) error {
	err := store.RunInTx(ctx, func(ctx context.Context, q *db.Queries) error {
		return q.SetNextMerkleUpdateTime(ctx, o.NextTime)
	})
	return classifyStorageError(err)
}

// classifyStorageError records an error-type metric for an operation
// failure. The caller (Process) is responsible for the retry-vs-fatal
// decision; this only keeps the counters of §7's taxonomy accurate.
func classifyStorageError(err error) error {
	if err == nil {
		return nil
	}
	var iv *db.InvariantViolationError
	if errors.As(err, &iv) {
		metrics.ErrorsTotal.WithLabelValues("actor", "invariant_violation").Inc()
	} else {
		metrics.ErrorsTotal.WithLabelValues("actor", "storage_fault").Inc()
	}
	return err
}

func (a *Actor) sendBlockItem(item BlockItem) {
	select {
	case a.ccdTxSender <- item:
	default:
		a.logger.Warn("ccd tx sender channel full or closed, dropping send", zap.Binary("tx_hash", item.TxHash))
	}
}

func (a *Actor) sendMerkleUpdate(update MerkleUpdate) {
	select {
	case a.merkleUpdates <- update:
	default:
		a.logger.Warn("merkle updater channel full or closed, dropping send")
	}
}

func (a *Actor) replyPendingTxs(ch chan<- GetPendingConcordiumTransactionsResult, v GetPendingConcordiumTransactionsResult) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
		a.logger.Warn("reply channel full or closed, dropping reply")
	}
}

func (a *Actor) replyStoreEthTx(ch chan<- StoreEthereumTransactionResult, v StoreEthereumTransactionResult) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
		a.logger.Warn("reply channel full or closed, dropping reply")
	}
}

func (a *Actor) replyMarkRootSet(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
		a.logger.Warn("reply channel full or closed, dropping reply")
	}
}
