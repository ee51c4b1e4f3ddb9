package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/concordium-bridge/relayer/internal/metrics"
	"github.com/concordium-bridge/relayer/pkg/db/dao"
)

// Queries is the relayer's prepared-statement catalogue: one method per
// named query the actor's operation handlers need. bun has no direct
// analogue of a server-side prepared statement handle, so the catalogue
// is instead a set of methods compiled against a bun.IDB, which is
// satisfied by both the pooled *bun.DB and an in-flight bun.Tx — callers
// get the same named-query surface whether or not they are inside a
// transaction.
type Queries struct {
	db bun.IDB
}

// NewQueries builds a catalogue bound to db (a *bun.DB or a bun.Tx).
func NewQueries(db bun.IDB) *Queries {
	return &Queries{db: db}
}

// InsertConcordiumTransaction records a signed Ccd block item the relayer
// has just submitted, stamped with the time of submission.
func (q *Queries) InsertConcordiumTransaction(ctx context.Context, t *dao.ConcordiumTransaction) error {
	if t.Timestamp == 0 {
		t.Timestamp = time.Now().Unix()
	}
	_, err := q.db.NewInsert().Model(t).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert concordium transaction: %w", err)
	}
	return nil
}

// MarkConcordiumTransaction sets the named transaction's status, reporting
// whether a row existed.
func (q *Queries) MarkConcordiumTransaction(ctx context.Context, txHash []byte, status dao.ConcordiumTransactionStatus) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*dao.ConcordiumTransaction)(nil)).
		Set("status = ?", status).
		Where("tx_hash = ?", txHash).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark concordium transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark concordium transaction: %w", err)
	}
	return n > 0, nil
}

// GetPendingConcordiumTransactions reads every pending Ccd transaction in
// ascending id order.
func (q *Queries) GetPendingConcordiumTransactions(ctx context.Context) ([]*dao.ConcordiumTransaction, error) {
	var rows []*dao.ConcordiumTransaction
	err := q.db.NewSelect().
		Model(&rows).
		Where("status = ?", dao.ConcordiumTransactionPending).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pending concordium transactions: %w", err)
	}
	return rows, nil
}

// InsertEthereumTransaction records a newly broadcast Eth transaction as
// pending and marks every Ccd withdraw event named by eventIndices as
// bound to root, so a restart can rediscover the in-flight publication.
// Every index named here must already exist as a withdraw event the
// actor itself inserted (that is the only source of event indices this
// method is ever called with) — a miss means the actor's in-memory
// pending set has drifted from storage, an invariant violation.
func (q *Queries) InsertEthereumTransaction(ctx context.Context, t *dao.EthereumTransaction, root []byte, eventIndices []uint64) error {
	if t.Timestamp == 0 {
		t.Timestamp = time.Now().Unix()
	}
	if _, err := q.db.NewInsert().Model(t).Exec(ctx); err != nil {
		return fmt.Errorf("insert ethereum transaction: %w", err)
	}
	for _, idx := range eventIndices {
		res, err := q.db.NewUpdate().
			Model((*dao.ConcordiumEvent)(nil)).
			Set("pending_root = ?", root).
			Where("event_index = ?", idx).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("set pending_root for event_index %d: %w", idx, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("set pending_root for event_index %d: %w", idx, err)
		}
		if n != 1 {
			return invariantViolation("withdraw event_index %d has no matching concordium withdraw event", idx)
		}
	}
	return nil
}

// UpdateEthereumTransaction replaces the hash of a pending Eth tx
// (fee-bump / nonce rebroadcast). Exactly one row must match.
func (q *Queries) UpdateEthereumTransaction(ctx context.Context, oldHash, newHash []byte) error {
	res, err := q.db.NewUpdate().
		Model((*dao.EthereumTransaction)(nil)).
		Set("tx_hash = ?", newHash).
		Where("tx_hash = ?", oldHash).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ethereum transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ethereum transaction: %w", err)
	}
	if n != 1 {
		return invariantViolation("update_ethereum_tx expected exactly one row for tx_hash %x, affected %d", oldHash, n)
	}
	return nil
}

// GetPendingEthereumTransactions reads every Eth transaction currently
// pending (alternative broadcast attempts of the same publication are
// all returned — see the fee-bump design note).
func (q *Queries) GetPendingEthereumTransactions(ctx context.Context) ([]*dao.EthereumTransaction, error) {
	var rows []*dao.EthereumTransaction
	err := q.db.NewSelect().
		Model(&rows).
		Where("status = ?", dao.EthereumTransactionPending).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pending ethereum transactions: %w", err)
	}
	return rows, nil
}

// insertConcordiumEventSQL is the correlation-on-insert statement: a
// withdraw event's processed column is populated at insert time from any
// ethereum_withdraw_events row already observed for the same Ccd-assigned
// event_index, so resume never needs a read-time join.
const insertConcordiumEventSQL = `
INSERT INTO concordium_events (
	tx_hash, event_index, origin_event_index, event_type,
	child_index, child_subindex, receiver, amount, event_data,
	event_merkle_hash, processed
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
	(CASE WHEN ? = 'withdraw'
		THEN (SELECT tx_hash FROM ethereum_withdraw_events
		      WHERE ethereum_withdraw_events.event_index = ?
		      LIMIT 1)
		ELSE NULL
	 END)
)
RETURNING id, (CASE WHEN processed IS NULL THEN FALSE ELSE TRUE END) AS already_processed
`

// InsertConcordiumEvent inserts one Ccd-side event row with at-insert-time
// correlation, then performs the type-specific side effects spec.md §4.3
// requires: a deposit or token_map event finalizes its originating
// ConcordiumTransaction; a deposit additionally back-fills the matching
// ethereum_deposit_events row. Mismatches on these side effects are soft
// (counted in metrics.WarningsTotal, not fatal) because the two ingestors run
// independently and may race.
func (q *Queries) InsertConcordiumEvent(ctx context.Context, ev *dao.ConcordiumEvent) (alreadyProcessed bool, err error) {
	if ev.Amount != nil {
		if err := ValidateAmount(*ev.Amount); err != nil {
			return false, fmt.Errorf("insert concordium event: %w", err)
		}
	}

	var eventIndex any
	if ev.EventIndex != nil {
		eventIndex = *ev.EventIndex
	}

	var id int64
	err = q.db.NewRaw(insertConcordiumEventSQL,
		ev.TxHash, ev.EventIndex, ev.OriginEventIndex, ev.EventType,
		ev.ChildIndex, ev.ChildSubindex, ev.Receiver, ev.Amount, ev.EventData,
		ev.EventMerkleHash, ev.EventType, eventIndex,
	).Scan(ctx, &id, &alreadyProcessed)
	if err != nil {
		return false, fmt.Errorf("insert concordium event: %w", err)
	}
	ev.ID = id

	switch ev.EventType {
	case dao.ConcordiumEventDeposit, dao.ConcordiumEventTokenMap:
		existed, err := q.MarkConcordiumTransaction(ctx, ev.TxHash, dao.ConcordiumTransactionFinalized)
		if err != nil {
			return false, err
		}
		if !existed {
			metrics.WarningsTotal.WithLabelValues("concordium_tx_not_found").Inc()
		}
	}

	if ev.EventType == dao.ConcordiumEventDeposit && ev.OriginEventIndex != nil {
		res, err := q.db.NewUpdate().
			Model((*dao.EthereumDepositEvent)(nil)).
			Set("tx_hash = ?", ev.TxHash).
			Where("origin_event_index = ?", *ev.OriginEventIndex).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("correlate deposit event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("correlate deposit event: %w", err)
		}
		if n != 1 {
			metrics.WarningsTotal.WithLabelValues("deposit_correlation_mismatch").Inc()
		} else {
			metrics.CompletedDepositsTotal.Inc()
		}
	}

	return alreadyProcessed, nil
}

// InsertEthereumDepositEvent records an Eth-side TokenLocked event,
// correlating tx_hash at insert time from any Ccd deposit event already
// observed for the same origin_event_index.
func (q *Queries) InsertEthereumDepositEvent(ctx context.Context, ev *dao.EthereumDepositEvent) error {
	if err := ValidateAmount(ev.Amount); err != nil {
		return fmt.Errorf("insert ethereum deposit event: %w", err)
	}

	const stmt = `
INSERT INTO ethereum_deposit_events (origin_tx_hash, origin_event_index, amount, depositor, root_token, tx_hash)
VALUES (?, ?, ?, ?, ?, (SELECT tx_hash FROM concordium_events WHERE concordium_events.origin_event_index = ? LIMIT 1))
RETURNING id
`
	err := q.db.NewRaw(stmt, ev.OriginTxHash, ev.OriginEventIndex, ev.Amount, ev.Depositor, ev.RootToken, ev.OriginEventIndex).
		Scan(ctx, &ev.ID)
	if err != nil {
		return fmt.Errorf("insert ethereum deposit event: %w", err)
	}
	return nil
}

// InsertEthereumWithdrawEvent records an Eth-side withdrawal claim and
// opportunistically marks the matching Ccd withdraw event processed, if
// one has been recorded yet. The claim commonly arrives before the
// relayer has observed the corresponding Ccd withdraw (the two chains
// are ingested independently), so a miss here is expected steady-state
// behavior, not a fault: the correlation completes in the other
// direction when InsertConcordiumEvent later inserts that row and reads
// this one back via its at-insert-time CASE WHEN subquery.
func (q *Queries) InsertEthereumWithdrawEvent(ctx context.Context, ev *dao.EthereumWithdrawEvent) error {
	if err := ValidateAmount(ev.Amount); err != nil {
		return fmt.Errorf("insert ethereum withdraw event: %w", err)
	}

	if _, err := q.db.NewInsert().Model(ev).Exec(ctx); err != nil {
		return fmt.Errorf("insert ethereum withdraw event: %w", err)
	}

	res, err := q.db.NewUpdate().
		Model((*dao.ConcordiumEvent)(nil)).
		Set("processed = ?", ev.TxHash).
		Where("event_index = ?", ev.EventIndex).
		Where("processed IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("correlate withdraw event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		metrics.WarningsTotal.WithLabelValues("withdraw_correlation_pending").Inc()
	}
	return nil
}

// UpsertTokenMap inserts or replaces a root-token mapping.
func (q *Queries) UpsertTokenMap(ctx context.Context, tm *dao.TokenMap) error {
	_, err := q.db.NewInsert().
		Model(tm).
		On("CONFLICT (root_token) DO UPDATE").
		Set("child_index = EXCLUDED.child_index").
		Set("child_subindex = EXCLUDED.child_subindex").
		Set("display_name = EXCLUDED.display_name").
		Set("decimals = EXCLUDED.decimals").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert token map: %w", err)
	}
	return nil
}

// DeleteTokenMap removes a root-token mapping, reporting whether a row
// existed.
func (q *Queries) DeleteTokenMap(ctx context.Context, rootToken []byte) (bool, error) {
	res, err := q.db.NewDelete().
		Model((*dao.TokenMap)(nil)).
		Where("root_token = ?", rootToken).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("delete token map: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete token map: %w", err)
	}
	return n > 0, nil
}

// UpsertCheckpoint advances the last-processed height for network. The
// upsert is idempotent and only moves the height forward, so re-applying
// an older height is a no-op (supports P1/P6).
func (q *Queries) UpsertCheckpoint(ctx context.Context, network dao.Network, height uint64) error {
	_, err := q.db.NewInsert().
		Model(&dao.Checkpoint{Network: network, LastProcessedHeight: height}).
		On("CONFLICT (network) DO UPDATE").
		Set("last_processed_height = GREATEST(cp.last_processed_height, EXCLUDED.last_processed_height)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoints reads the last processed height for every network.
func (q *Queries) GetCheckpoints(ctx context.Context) (map[dao.Network]uint64, error) {
	var rows []*dao.Checkpoint
	if err := q.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get checkpoints: %w", err)
	}
	out := make(map[dao.Network]uint64, len(rows))
	for _, r := range rows {
		out[r.Network] = r.LastProcessedHeight
	}
	return out, nil
}

// GetPendingWithdrawals reads every unprocessed Ccd withdraw event.
func (q *Queries) GetPendingWithdrawals(ctx context.Context) ([]*dao.ConcordiumEvent, error) {
	var rows []*dao.ConcordiumEvent
	err := q.db.NewSelect().
		Model(&rows).
		Where("event_type = ?", dao.ConcordiumEventWithdraw).
		Where("processed IS NULL").
		OrderExpr("event_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pending withdrawals: %w", err)
	}
	return rows, nil
}

// GetMaxEventIndex reads the highest withdraw event_index ever recorded,
// or nil if no withdraw event has been stored.
func (q *Queries) GetMaxEventIndex(ctx context.Context) (*uint64, error) {
	var max *uint64
	err := q.db.NewSelect().
		Model((*dao.ConcordiumEvent)(nil)).
		ColumnExpr("MAX(event_index)").
		Where("event_type = ?", dao.ConcordiumEventWithdraw).
		Scan(ctx, &max)
	if err != nil {
		return nil, fmt.Errorf("get max event index: %w", err)
	}
	return max, nil
}

// PendingRootGroup describes the single in-flight Merkle root publication,
// if any.
type PendingRootGroup struct {
	Root         []byte
	EventIndices []uint64
}

// GetPendingRootGroup reads every event with a non-null pending_root. Per
// P4 they must all share a single root; a schema-level violation of that
// invariant is fatal, not a retry condition.
func (q *Queries) GetPendingRootGroup(ctx context.Context) (*PendingRootGroup, error) {
	var rows []*dao.ConcordiumEvent
	err := q.db.NewSelect().
		Model(&rows).
		Where("pending_root IS NOT NULL").
		OrderExpr("event_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pending root group: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	root := rows[0].PendingRoot
	indices := make([]uint64, 0, len(rows))
	for _, r := range rows {
		if string(r.PendingRoot) != string(root) {
			return nil, invariantViolation("multiple distinct pending Merkle roots found: %x and %x", root, r.PendingRoot)
		}
		if r.EventIndex == nil {
			return nil, invariantViolation("concordium event %d has a pending_root but no event_index", r.ID)
		}
		indices = append(indices, *r.EventIndex)
	}
	return &PendingRootGroup{Root: root, EventIndices: indices}, nil
}

// MarkMerkleRootSet finalizes the outcome of a Merkle root publication
// attempt. txHash is the Eth transaction that actually mined: it is
// always marked confirmed, since the call only reaches this point once
// an Eth transaction has been observed mined on-chain — success instead
// distinguishes whether the mined transaction set the root the relayer
// expected. On success, every named event is bound to root and the root
// is appended to the published-roots log; on failure the events are only
// released from pending_root so a fresh root can be constructed for them.
// failedHashes are sibling broadcast attempts (earlier fee-bumps) that
// lost the race and are marked missing either way.
func (q *Queries) MarkMerkleRootSet(ctx context.Context, root []byte, eventIndices []uint64, success bool, txHash []byte, failedHashes [][]byte) error {
	if success {
		for _, idx := range eventIndices {
			if _, err := q.db.NewUpdate().
				Model((*dao.ConcordiumEvent)(nil)).
				Set("pending_root = NULL").
				Set("root = ?", root).
				Where("event_index = ?", idx).
				Exec(ctx); err != nil {
				return fmt.Errorf("set root for event_index %d: %w", idx, err)
			}
		}
		if _, err := q.db.NewInsert().
			Model(&dao.MerkleRoot{Root: root, CreatedAt: time.Now().Unix()}).
			Exec(ctx); err != nil {
			return fmt.Errorf("append merkle root: %w", err)
		}
	} else {
		for _, idx := range eventIndices {
			if _, err := q.db.NewUpdate().
				Model((*dao.ConcordiumEvent)(nil)).
				Set("pending_root = NULL").
				Where("event_index = ?", idx).
				Exec(ctx); err != nil {
				return fmt.Errorf("clear pending_root for event_index %d: %w", idx, err)
			}
		}
	}

	if _, err := q.db.NewUpdate().
		Model((*dao.EthereumTransaction)(nil)).
		Set("status = ?", dao.EthereumTransactionConfirmed).
		Where("tx_hash = ?", txHash).
		Exec(ctx); err != nil {
		return fmt.Errorf("mark ethereum tx confirmed: %w", err)
	}

	for _, fh := range failedHashes {
		if _, err := q.db.NewUpdate().
			Model((*dao.EthereumTransaction)(nil)).
			Set("status = ?", dao.EthereumTransactionMissing).
			Where("tx_hash = ?", fh).
			Exec(ctx); err != nil {
			return fmt.Errorf("mark sibling ethereum tx missing: %w", err)
		}
	}
	return nil
}

// SetNextMerkleUpdateTime upserts the singleton expected-publication-time
// row.
func (q *Queries) SetNextMerkleUpdateTime(ctx context.Context, nextTime int64) error {
	row := dao.NewExpectedMerkleUpdate(nextTime)
	_, err := q.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("next_time = EXCLUDED.next_time").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set next merkle update time: %w", err)
	}
	return nil
}
