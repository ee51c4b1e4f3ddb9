package main

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/concordium-bridge/relayer/pkg/app/errors"
	"github.com/concordium-bridge/relayer/pkg/app/httpserver"
	"github.com/concordium-bridge/relayer/pkg/concordium"
	"github.com/concordium-bridge/relayer/pkg/config"
	"github.com/concordium-bridge/relayer/pkg/db"
	"github.com/concordium-bridge/relayer/pkg/ethereum"
	"github.com/concordium-bridge/relayer/pkg/relayer"
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting concordium bridge relayer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Connect(ctx, logger, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := store.Bootstrap(ctx); err != nil {
		logger.Fatal("failed to bootstrap storage schema", zap.Error(err))
	}

	ethClient, err := ethereum.NewClient(&cfg.Ethereum, logger)
	if err != nil {
		logger.Fatal("failed to initialize ethereum client", zap.Error(err))
	}
	defer ethClient.Close()

	ccdNode := concordium.NewClient(&cfg.Concordium)

	recovered, err := relayer.Recover(ctx, store, ccdNode, logger)
	if err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}
	logger.Info("recovery complete",
		zap.Any("checkpoints", recovered.Checkpoints),
		zap.Bool("pending_root", recovered.PendingRoot != nil))
	if err := store.Close(); err != nil {
		logger.Warn("error closing recovery storage session", zap.Error(err))
	}

	// BuildDepositTransaction/BuildTokenMapTransaction sign and assemble
	// Concordium transactions; that construction is this deployment's own
	// responsibility and is injected here, not part of the persistence core.
	bridgeManager := &unconfiguredBridgeManager{}

	ccdTxSender := make(chan relayer.BlockItem, cfg.Actor.OperationQueueSize)
	merkleUpdates := make(chan relayer.MerkleUpdate, cfg.Actor.OperationQueueSize)
	operations := make(chan relayer.Operation, cfg.Actor.OperationQueueSize)

	actor := relayer.NewActor(bridgeManager, logger, ccdTxSender, merkleUpdates)
	supervisor := relayer.NewSupervisor(cfg.Actor, &cfg.Database, logger, actor, operations)

	supervisorDone := make(chan error, 1)
	supervisorExited := make(chan struct{})
	stopSupervisor := make(chan struct{})
	go func() {
		err := supervisor.Run(ctx, stopSupervisor)
		close(supervisorExited)
		supervisorDone <- err
	}()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-supervisorExited:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("READY"))
		}
	})
	if cfg.Monitoring.Enabled {
		router.Handle("/metrics", promhttp.Handler())
	}
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/pending", handleGetPending(operations, logger))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := httpserver.ServeAndWait(ctx, logger, server, 30*time.Second); err != nil {
			logger.Error("http server stopped with error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining actor")
	close(stopSupervisor)

	select {
	case err := <-supervisorDone:
		if err != nil {
			logger.Error("supervisor exited with error", zap.Error(err))
		}
	case <-time.After(30 * time.Second):
		logger.Warn("supervisor did not shut down within timeout")
	}

	logger.Info("relayer stopped")
}

// handleGetPending answers GetPendingConcordiumTransactions through the
// actor's operation queue, matching the single-writer rule that every
// storage read and write is an Operation.
func handleGetPending(operations chan<- relayer.Operation, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan relayer.GetPendingConcordiumTransactionsResult, 1)
		op := relayer.GetPendingConcordiumTransactions{Reply: reply}

		select {
		case operations <- op:
		case <-r.Context().Done():
			writeServiceError(w, logger, apperrors.GeneralError(fmt.Errorf("actor queue unavailable: %w", r.Context().Err())))
			return
		}

		select {
		case result := <-reply:
			if result.Err != nil {
				writeServiceError(w, logger, apperrors.GeneralError(result.Err))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"transactions": result.Transactions})
		case <-r.Context().Done():
			writeServiceError(w, logger, apperrors.GeneralError(fmt.Errorf("actor reply timed out: %w", r.Context().Err())))
		}
	}
}

// writeServiceError maps a pkg/app/errors.ServiceError to its HTTP status
// code and a small JSON body, logging the underlying cause at the level
// its category warrants.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var svcErr *apperrors.ServiceError
	if !goerrors.As(err, &svcErr) {
		svcErr = &apperrors.ServiceError{Category: apperrors.CategoryGeneralError, Message: "Internal Server Error", Err: err}
	}

	if apperrors.IsInternalError(svcErr) {
		logger.Error("request failed", zap.Error(svcErr), zap.Stringer("category", svcErr.Category))
	} else {
		logger.Warn("request failed", zap.Error(svcErr), zap.Stringer("category", svcErr.Category))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.StatusCode())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": svcErr.Message})
}

type unconfiguredBridgeManager struct{}

func (unconfiguredBridgeManager) BuildDepositTransaction(ctx context.Context, ev relayer.TokenLockedEvent) ([]byte, []byte, bool, error) {
	return nil, nil, false, fmt.Errorf("no bridge manager configured for this deployment")
}

func (unconfiguredBridgeManager) BuildTokenMapTransaction(ctx context.Context, ev relayer.TokenMappedEvent) ([]byte, []byte, error) {
	return nil, nil, fmt.Errorf("no bridge manager configured for this deployment")
}
