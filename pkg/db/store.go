package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/concordium-bridge/relayer/pkg/config"
	"github.com/concordium-bridge/relayer/pkg/db/dao"
	"github.com/concordium-bridge/relayer/pkg/pgutil"
	"github.com/concordium-bridge/relayer/pkg/pgutil/migrations"
)

// Store owns the single pooled connection the actor's persistence
// session runs against. Only the actor goroutine is expected to issue
// queries against it outside of Bootstrap.
type Store struct {
	db     *bun.DB
	logger *zap.Logger
}

// Connect opens a pooled connection to cfg and verifies it with a ping.
// It does not run migrations; call Bootstrap for that.
func Connect(ctx context.Context, logger *zap.Logger, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := pgutil.ConnectDB(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an already-connected bun.DB. Exposed for callers (tests,
// mainly) that set up their own pool rather than going through Connect.
func NewStore(db *bun.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Queries returns a catalogue bound to the pooled connection, for
// operations that do not need transactional isolation (mostly reads).
func (s *Store) Queries() *Queries {
	return NewQueries(s.db)
}

// RunInTx executes fn inside a single database transaction and exposes a
// Queries catalogue scoped to it. Every Operation handler commits exactly
// one transaction, matching the single-writer actor's one-operation-
// one-transaction rule.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, q *Queries) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, NewQueries(tx))
	})
}

// schemaModels lists every row model Bootstrap creates, in dependency
// order. token_maps and checkpoints have no foreign keys; the event and
// transaction tables correlate by value (tx_hash / event_index), not by
// SQL foreign key, since either side of a correlation may be written
// before the other.
var schemaModels = []any{
	(*dao.ConcordiumTransaction)(nil),
	(*dao.EthereumTransaction)(nil),
	(*dao.ConcordiumEvent)(nil),
	(*dao.EthereumDepositEvent)(nil),
	(*dao.EthereumWithdrawEvent)(nil),
	(*dao.TokenMap)(nil),
	(*dao.MerkleRoot)(nil),
	(*dao.Checkpoint)(nil),
	(*dao.ExpectedMerkleUpdate)(nil),
}

// Bootstrap idempotently creates the schema if it is missing. It is safe
// to call on every startup: CreateTable is issued with IfNotExists, and
// index creation tolerates already-present indexes.
func (s *Store) Bootstrap(ctx context.Context) error {
	if err := migrations.CreateSchema(ctx, s.db, schemaModels...); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	indexes := []struct {
		model   any
		columns []string
	}{
		{(*dao.ConcordiumTransaction)(nil), []string{"status", "id"}},
		{(*dao.EthereumTransaction)(nil), []string{"status", "id"}},
		{(*dao.ConcordiumEvent)(nil), []string{"event_type", "processed", "id"}},
		{(*dao.ConcordiumEvent)(nil), []string{"event_index"}},
		{(*dao.ConcordiumEvent)(nil), []string{"pending_root", "event_index"}},
		{(*dao.EthereumWithdrawEvent)(nil), []string{"origin_event_index"}},
		{(*dao.EthereumDepositEvent)(nil), []string{"origin_event_index"}},
	}
	for _, idx := range indexes {
		if err := migrations.CreateModelIndexes(ctx, s.db, idx.model, idx.columns...); err != nil {
			return fmt.Errorf("create index on %T%v: %w", idx.model, idx.columns, err)
		}
	}

	s.logger.Info("storage schema ready")
	return nil
}
