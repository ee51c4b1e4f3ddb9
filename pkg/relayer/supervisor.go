package relayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/concordium-bridge/relayer/internal/metrics"
	"github.com/concordium-bridge/relayer/pkg/config"
	"github.com/concordium-bridge/relayer/pkg/db"
)

// ErrConnectExhausted is returned when the bounded-retry connect policy
// runs out of attempts. It is always fatal.
var ErrConnectExhausted = errors.New("exhausted storage reconnect attempts")

// Supervisor owns the storage session's lifecycle and the actor's input
// channel. It applies the bounded-retry reconnect policy of spec §4.6:
// on a transient failure it stashes the offending operation, sleeps,
// reconnects, and re-applies it unchanged.
type Supervisor struct {
	cfg    config.ActorConfig
	dbCfg  *config.DatabaseConfig
	logger *zap.Logger
	actor  *Actor
	input  <-chan Operation
}

// NewSupervisor builds a supervisor reading operations from input.
func NewSupervisor(cfg config.ActorConfig, dbCfg *config.DatabaseConfig, logger *zap.Logger, actor *Actor, input <-chan Operation) *Supervisor {
	return &Supervisor{cfg: cfg, dbCfg: dbCfg, logger: logger, actor: actor, input: input}
}

// Run drives the actor until stop fires or a fatal error occurs. It
// returns nil on a clean shutdown.
func (s *Supervisor) Run(ctx context.Context, stop <-chan struct{}) error {
	store, err := s.connectWithRetry(ctx, stop)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			s.logger.Warn("error closing storage session", zap.Error(err))
		}
	}()

	var stashed Operation
	for {
		if stashed != nil {
			op := stashed
			stashed = nil
			store, err = s.applyWithReconnect(ctx, stop, store, op)
			if err != nil {
				return err
			}
			continue
		}

		select {
		case <-stop:
			s.drain(ctx, store)
			return nil
		case op, ok := <-s.input:
			if !ok {
				s.logger.Info("actor input channel closed, shutting down")
				return nil
			}
			store, err = s.applyWithReconnect(ctx, stop, store, op)
			if err != nil {
				return err
			}
		}
	}
}

// applyWithReconnect processes op against store. On a retryable failure
// it sleeps the reconnect delay, rebuilds the session, and re-applies op
// — looping until it succeeds, a fatal error occurs, or stop fires.
func (s *Supervisor) applyWithReconnect(ctx context.Context, stop <-chan struct{}, store *db.Store, op Operation) (*db.Store, error) {
	for {
		err := s.actor.Process(ctx, store, op)
		if err == nil {
			return store, nil
		}

		var retry *RetryableError
		if !errors.As(err, &retry) {
			// Invariant violation or an unrecognized operation: fatal.
			s.logger.Error("fatal error processing operation, aborting", zap.Error(err))
			return store, err
		}

		s.logger.Error("storage operation failed, will reconnect and retry", zap.Error(retry.Cause))
		if err := store.Close(); err != nil {
			s.logger.Warn("error closing failed storage session", zap.Error(err))
		}

		select {
		case <-stop:
			return store, nil
		case <-time.After(s.cfg.ReconnectDelay):
		}

		newStore, err := s.connectWithRetry(ctx, stop)
		if err != nil {
			return store, err
		}
		store = newStore
		// Loop back and re-apply the same op (retry.Op) against the new
		// session; retry.Op is byte-identical to op, including any
		// reply channels it owns.
		op = retry.Op
	}
}

// connectWithRetry implements the bounded exponential-backoff connect
// policy: up to MaxConnectAttempts attempts with delay BaseBackoff*2^i
// for the i-th retry.
func (s *Supervisor) connectWithRetry(ctx context.Context, stop <-chan struct{}) (*db.Store, error) {
	var lastErr error
	for i := 0; i < s.cfg.MaxConnectAttempts; i++ {
		if i > 0 {
			delay := s.cfg.BaseBackoff * time.Duration(1<<uint(i))
			select {
			case <-stop:
				return nil, ErrConnectExhausted
			case <-time.After(delay):
			}
		}

		store, err := db.Connect(ctx, s.logger, s.dbCfg)
		if err != nil {
			lastErr = err
			metrics.ReconnectsTotal.WithLabelValues("failure").Inc()
			s.logger.Warn("connect attempt failed", zap.Int("attempt", i+1), zap.Error(err))
			continue
		}

		if err := store.Bootstrap(ctx); err != nil {
			_ = store.Close()
			lastErr = err
			metrics.ReconnectsTotal.WithLabelValues("failure").Inc()
			continue
		}

		metrics.ReconnectsTotal.WithLabelValues("success").Inc()
		return store, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrConnectExhausted, lastErr)
}

// drain processes every operation already queued on the input channel
// before releasing the storage session, per the cooperative-shutdown
// rule of spec §5. It does not accept new work once stop has fired.
func (s *Supervisor) drain(ctx context.Context, store *db.Store) {
	for {
		select {
		case op, ok := <-s.input:
			if !ok {
				return
			}
			if err := s.actor.Process(ctx, store, op); err != nil {
				s.logger.Error("error draining operation during shutdown", zap.Error(err))
			}
		default:
			return
		}
	}
}
