package db

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/concordium-bridge/relayer/pkg/db/dao"
	"github.com/concordium-bridge/relayer/pkg/pgutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	bunDB, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)
	store := NewStore(bunDB, zap.NewNop())
	require.NoError(t, store.Bootstrap(context.Background()))
	return store
}

func hash32(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }
func addr20(b byte) []byte { return bytes.Repeat([]byte{b}, 20) }

// P1: checkpoints.last_processed_height always equals the maximum height
// ever passed in, regardless of ingest order.
func TestUpsertCheckpoint_IsMaxOfAllHeights(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	heights := []uint64{10, 50, 30, 20}
	for _, h := range heights {
		require.NoError(t, q.UpsertCheckpoint(ctx, dao.NetworkEthereum, h))
	}

	checkpoints, err := q.GetCheckpoints(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(50), checkpoints[dao.NetworkEthereum])
}

// P2: inserting a matching Eth/Ccd deposit pair joins to the same final
// state regardless of which side is inserted first.
func TestDepositCorrelation_CommutesWithOrder(t *testing.T) {
	run := func(t *testing.T, ethFirst bool) {
		ctx := context.Background()
		store := newTestStore(t)
		q := store.Queries()

		ethTxHash := hash32(0x11)
		ccdTxHash := hash32(0x22)
		const originIndex = uint64(7)

		insertEth := func() {
			require.NoError(t, q.InsertEthereumDepositEvent(ctx, &dao.EthereumDepositEvent{
				OriginTxHash:     ethTxHash,
				OriginEventIndex: originIndex,
				Amount:           "100",
				Depositor:        addr20(0xAA),
				RootToken:        addr20(0xBB),
			}))
		}
		insertCcd := func() {
			require.NoError(t, q.InsertConcordiumTransaction(ctx, &dao.ConcordiumTransaction{
				TxHash:       ccdTxHash,
				Payload:      []byte("payload"),
				OriginTxHash: ethTxHash,
				Status:       dao.ConcordiumTransactionPending,
			}))
			originIdx := originIndex
			_, err := q.InsertConcordiumEvent(ctx, &dao.ConcordiumEvent{
				TxHash:           ccdTxHash,
				EventType:        dao.ConcordiumEventDeposit,
				OriginEventIndex: &originIdx,
			})
			require.NoError(t, err)
		}

		if ethFirst {
			insertEth()
			insertCcd()
		} else {
			insertCcd()
			insertEth()
		}

		var ethRow dao.EthereumDepositEvent
		require.NoError(t, store.db.NewSelect().Model(&ethRow).Where("origin_event_index = ?", originIndex).Scan(ctx))
		require.Equal(t, ccdTxHash, ethRow.TxHash, "the eth deposit row must end up correlated to the ccd tx hash either way")

		pending, err := q.GetPendingConcordiumTransactions(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 0, "the ccd transaction must end up finalized either way")
	}

	t.Run("eth_then_ccd", func(t *testing.T) { run(t, true) })
	t.Run("ccd_then_eth", func(t *testing.T) { run(t, false) })
}

// P4: at most one distinct root may be pending across concordium_events at
// any time; a schema-level violation of that is fatal, not silently
// tolerated.
func TestGetPendingRootGroup_RejectsMultipleDistinctRoots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	idxA, idxB := uint64(1), uint64(2)
	_, err := q.InsertConcordiumEvent(ctx, &dao.ConcordiumEvent{
		TxHash: hash32(0x01), EventType: dao.ConcordiumEventWithdraw, EventIndex: &idxA,
	})
	require.NoError(t, err)
	_, err = q.InsertConcordiumEvent(ctx, &dao.ConcordiumEvent{
		TxHash: hash32(0x02), EventType: dao.ConcordiumEventWithdraw, EventIndex: &idxB,
	})
	require.NoError(t, err)

	_, err = store.db.NewUpdate().Model((*dao.ConcordiumEvent)(nil)).
		Set("pending_root = ?", hash32(0xF0)).Where("event_index = ?", idxA).Exec(ctx)
	require.NoError(t, err)
	_, err = store.db.NewUpdate().Model((*dao.ConcordiumEvent)(nil)).
		Set("pending_root = ?", hash32(0xF1)).Where("event_index = ?", idxB).Exec(ctx)
	require.NoError(t, err)

	_, err = q.GetPendingRootGroup(ctx)
	require.Error(t, err)
	var iv *InvariantViolationError
	require.ErrorAs(t, err, &iv)
}

// P5: MarkMerkleRootSet's success path updates every named event's root,
// appends to merkle_roots, confirms the winning tx, and marks siblings
// missing — all inside the same call.
func TestMarkMerkleRootSet_SuccessIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	idx := uint64(10)
	_, err := q.InsertConcordiumEvent(ctx, &dao.ConcordiumEvent{
		TxHash: hash32(0x01), EventType: dao.ConcordiumEventWithdraw, EventIndex: &idx,
	})
	require.NoError(t, err)

	root := hash32(0xF0)
	winningHash := hash32(0x01)
	siblingHash := hash32(0x02)

	require.NoError(t, q.InsertEthereumTransaction(ctx, &dao.EthereumTransaction{
		TxHash: siblingHash, Payload: []byte("fee-bump-1"), Status: dao.EthereumTransactionPending,
	}, root, []uint64{idx}))
	require.NoError(t, q.UpdateEthereumTransaction(ctx, siblingHash, winningHash))
	// Reinsert the sibling row as a distinct pending broadcast attempt,
	// mirroring the fee-bump model where both hashes exist as rows.
	_, err = store.db.NewInsert().Model(&dao.EthereumTransaction{
		TxHash: siblingHash, Payload: []byte("fee-bump-1"), Status: dao.EthereumTransactionPending,
	}).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, q.MarkMerkleRootSet(ctx, root, []uint64{idx}, true, winningHash, [][]byte{siblingHash}))

	var ev dao.ConcordiumEvent
	require.NoError(t, store.db.NewSelect().Model(&ev).Where("event_index = ?", idx).Scan(ctx))
	require.Nil(t, ev.PendingRoot)
	require.Equal(t, root, ev.Root)

	var winning dao.EthereumTransaction
	require.NoError(t, store.db.NewSelect().Model(&winning).Where("tx_hash = ?", winningHash).Scan(ctx))
	require.Equal(t, dao.EthereumTransactionConfirmed, winning.Status)

	var sibling dao.EthereumTransaction
	require.NoError(t, store.db.NewSelect().Model(&sibling).Where("tx_hash = ?", siblingHash).Scan(ctx))
	require.Equal(t, dao.EthereumTransactionMissing, sibling.Status)

	var roots []*dao.MerkleRoot
	require.NoError(t, store.db.NewSelect().Model(&roots).Where("root = ?", root).Scan(ctx))
	require.Len(t, roots, 1)
}

// P5 (failure path): on a failed publication, every named event is
// released from pending_root but its root stays unset, so a fresh root
// can be constructed for it.
func TestMarkMerkleRootSet_FailureReleasesPendingRoot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	idx := uint64(20)
	_, err := q.InsertConcordiumEvent(ctx, &dao.ConcordiumEvent{
		TxHash: hash32(0x01), EventType: dao.ConcordiumEventWithdraw, EventIndex: &idx,
	})
	require.NoError(t, err)

	root := hash32(0xF0)
	txHash := hash32(0x01)
	require.NoError(t, q.InsertEthereumTransaction(ctx, &dao.EthereumTransaction{
		TxHash: txHash, Payload: []byte("payload"), Status: dao.EthereumTransactionPending,
	}, root, []uint64{idx}))

	require.NoError(t, q.MarkMerkleRootSet(ctx, root, []uint64{idx}, false, txHash, nil))

	var ev dao.ConcordiumEvent
	require.NoError(t, store.db.NewSelect().Model(&ev).Where("event_index = ?", idx).Scan(ctx))
	require.Nil(t, ev.PendingRoot)
	require.Nil(t, ev.Root)
}

// P6: re-applying UpsertCheckpoint for an already-seen height is a no-op,
// never regressing the stored checkpoint.
func TestUpsertCheckpoint_RetryIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	require.NoError(t, q.UpsertCheckpoint(ctx, dao.NetworkConcordium, 100))
	require.NoError(t, q.UpsertCheckpoint(ctx, dao.NetworkConcordium, 100))
	require.NoError(t, q.UpsertCheckpoint(ctx, dao.NetworkConcordium, 40))

	checkpoints, err := q.GetCheckpoints(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), checkpoints[dao.NetworkConcordium])
}

// Both transaction models carry a UNIX-seconds timestamp column that must
// be stamped at insert time, not left at its zero value.
func TestInsertTransaction_StampsTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	ccdTx := &dao.ConcordiumTransaction{TxHash: hash32(0x01), Payload: []byte("payload"), OriginTxHash: hash32(0x02), Status: dao.ConcordiumTransactionPending}
	require.NoError(t, q.InsertConcordiumTransaction(ctx, ccdTx))
	require.NotZero(t, ccdTx.Timestamp)

	idx := uint64(1)
	_, err := q.InsertConcordiumEvent(ctx, &dao.ConcordiumEvent{TxHash: hash32(0x03), EventType: dao.ConcordiumEventWithdraw, EventIndex: &idx})
	require.NoError(t, err)

	ethTx := &dao.EthereumTransaction{TxHash: hash32(0x04), Payload: []byte("payload"), Status: dao.EthereumTransactionPending}
	require.NoError(t, q.InsertEthereumTransaction(ctx, ethTx, hash32(0xF0), []uint64{idx}))
	require.NotZero(t, ethTx.Timestamp)

	var storedCcd dao.ConcordiumTransaction
	require.NoError(t, store.db.NewSelect().Model(&storedCcd).Where("tx_hash = ?", ccdTx.TxHash).Scan(ctx))
	require.Equal(t, ccdTx.Timestamp, storedCcd.Timestamp)

	var storedEth dao.EthereumTransaction
	require.NoError(t, store.db.NewSelect().Model(&storedEth).Where("tx_hash = ?", ethTx.TxHash).Scan(ctx))
	require.Equal(t, ethTx.Timestamp, storedEth.Timestamp)
}

// Amounts are validated as uint256 decimal strings at insert time, not
// trusted verbatim from the caller.
func TestInsertEthereumDepositEvent_RejectsMalformedAmount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	err := q.InsertEthereumDepositEvent(ctx, &dao.EthereumDepositEvent{
		OriginTxHash: hash32(0x11), OriginEventIndex: 1, Amount: "not-a-number",
		Depositor: addr20(0xAA), RootToken: addr20(0xBB),
	})
	require.Error(t, err)
}

func TestInsertEthereumWithdrawEvent_RejectsMalformedAmount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	err := q.InsertEthereumWithdrawEvent(ctx, &dao.EthereumWithdrawEvent{
		TxHash: hash32(0x01), EventIndex: 1, Amount: "-5", Receiver: addr20(0xDD),
		OriginTxHash: hash32(0x01), OriginEventIndex: 1,
	})
	require.Error(t, err, "negative amounts must be rejected")
}

// P6: re-applying InsertEthereumWithdrawEvent for the same event_index
// fails cleanly on the uniqueness constraint instead of duplicating rows.
func TestInsertEthereumWithdrawEvent_RetryFailsCleanly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := store.Queries()

	ev := &dao.EthereumWithdrawEvent{
		TxHash: hash32(0x01), EventIndex: 5, Amount: "1", Receiver: addr20(0xDD),
		OriginTxHash: hash32(0x01), OriginEventIndex: 5,
	}
	require.NoError(t, q.InsertEthereumWithdrawEvent(ctx, ev))

	dup := &dao.EthereumWithdrawEvent{
		TxHash: hash32(0x01), EventIndex: 5, Amount: "1", Receiver: addr20(0xDD),
		OriginTxHash: hash32(0x01), OriginEventIndex: 5,
	}
	err := q.InsertEthereumWithdrawEvent(ctx, dup)
	require.Error(t, err)

	var rows []*dao.EthereumWithdrawEvent
	require.NoError(t, store.db.NewSelect().Model(&rows).Where("event_index = ?", 5).Scan(ctx))
	require.Len(t, rows, 1, "a failed retry must never leave a duplicate row behind")
}
