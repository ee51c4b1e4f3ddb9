package relayer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/concordium-bridge/relayer/pkg/db"
)

// mockConcordiumNode lets recovery tests script the node's responses per
// tx hash without a real Ccd node.
type mockConcordiumNode struct {
	statuses      map[string]ConcordiumTxStatus
	kinds         map[string]ConcordiumTxKind
	nonces        map[string]uint64
	rebroadcasts  map[string]error
	withdrawsByTx map[string][]ConcordiumWithdrawEvent
}

func newMockConcordiumNode() *mockConcordiumNode {
	return &mockConcordiumNode{
		statuses:      make(map[string]ConcordiumTxStatus),
		kinds:         make(map[string]ConcordiumTxKind),
		nonces:        make(map[string]uint64),
		rebroadcasts:  make(map[string]error),
		withdrawsByTx: make(map[string][]ConcordiumWithdrawEvent),
	}
}

func (m *mockConcordiumNode) TransactionStatus(ctx context.Context, txHash []byte) (ConcordiumTxStatus, ConcordiumTxKind, error) {
	key := string(txHash)
	status, ok := m.statuses[key]
	if !ok {
		status = ConcordiumTxStatusNotFound
	}
	kind := m.kinds[key] // zero value is ConcordiumTxKindAccountTransaction
	return status, kind, nil
}

func (m *mockConcordiumNode) Rebroadcast(ctx context.Context, payload []byte) error {
	return m.rebroadcasts[string(payload)]
}

func (m *mockConcordiumNode) NonceOf(payload []byte) (uint64, error) {
	nonce, ok := m.nonces[string(payload)]
	if !ok {
		return 0, fmt.Errorf("no nonce scripted for payload %x", payload)
	}
	return nonce, nil
}

func (m *mockConcordiumNode) WithdrawEventsInTransaction(ctx context.Context, txHash []byte) ([]ConcordiumWithdrawEvent, error) {
	return m.withdrawsByTx[string(txHash)], nil
}

// P7: the recovered nonce hint is one more than the maximum nonce among
// still-pending account transactions.
func TestRecover_NonceHintIsMaxPlusOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	actor, blockItems, _ := newTestActor(t, &stubBridgeManager{})

	for i, ethTx := range [][]byte{hash32(0x01), hash32(0x02), hash32(0x03)} {
		ethTxHash := append([]byte{}, ethTx...)
		require.NoError(t, actor.Process(ctx, store, IngestEthereumEvents{
			Height: uint64(i + 1),
			Events: []EthereumEvent{
				TokenLockedEvent{
					TxHash:           ethTxHash,
					OriginEventIndex: uint64(i + 1),
					Amount:           "1",
					Depositor:        addr20(0xAA),
					RootToken:        addr20(0xBB),
				},
			},
		}))
		<-blockItems
	}

	node := newMockConcordiumNode()
	pending, err := store.Queries().GetPendingConcordiumTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	nonces := []uint64{5, 2, 9}
	for i, tx := range pending {
		node.statuses[string(tx.TxHash)] = ConcordiumTxStatusPending
		node.nonces[string(tx.Payload)] = nonces[i]
	}

	result, err := Recover(ctx, store, node, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, result.NonceHint)
	require.Equal(t, uint64(10), *result.NonceHint)
}

func TestRecover_NoPendingTransactionsYieldsNilNonceHint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	node := newMockConcordiumNode()

	result, err := Recover(ctx, store, node, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, result.NonceHint)
	require.Nil(t, result.PendingRoot)
}

func TestRecover_FinalizedPendingTxIsMarkedFinalized(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	actor, blockItems, _ := newTestActor(t, &stubBridgeManager{})

	require.NoError(t, actor.Process(ctx, store, IngestEthereumEvents{
		Height: 1,
		Events: []EthereumEvent{
			TokenLockedEvent{TxHash: hash32(0x01), OriginEventIndex: 1, Amount: "1", Depositor: addr20(0xAA), RootToken: addr20(0xBB)},
		},
	}))
	<-blockItems

	pending, err := store.Queries().GetPendingConcordiumTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	node := newMockConcordiumNode()
	node.statuses[string(pending[0].TxHash)] = ConcordiumTxStatusFinalized

	_, err = Recover(ctx, store, node, zap.NewNop())
	require.NoError(t, err)

	stillPending, err := store.Queries().GetPendingConcordiumTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, stillPending, 0)
}

// recovery step is fatal when a pending transaction resolves to a kind
// the relayer never itself submits.
func TestRecover_UnexpectedTxKindIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	actor, blockItems, _ := newTestActor(t, &stubBridgeManager{})

	require.NoError(t, actor.Process(ctx, store, IngestEthereumEvents{
		Height: 1,
		Events: []EthereumEvent{
			TokenLockedEvent{TxHash: hash32(0x01), OriginEventIndex: 1, Amount: "1", Depositor: addr20(0xAA), RootToken: addr20(0xBB)},
		},
	}))
	<-blockItems

	pending, err := store.Queries().GetPendingConcordiumTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	node := newMockConcordiumNode()
	node.kinds[string(pending[0].TxHash)] = ConcordiumTxKindCredentialDeployment

	_, err = Recover(ctx, store, node, zap.NewNop())
	require.Error(t, err)
	var iv *db.InvariantViolationError
	require.ErrorAs(t, err, &iv)
}

// Scenario 5: crash recovery with pending root (spec §8 scenario 5).
func TestRecover_SurfacesPendingRoot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	actor, _, merkleUpdates := newTestActor(t, &stubBridgeManager{})

	require.NoError(t, actor.Process(ctx, store, IngestConcordiumEvents{
		Height: 1,
		Txs: []ConcordiumTxEvents{
			{
				TxHash: hash32(0xEE),
				Events: []ConcordiumEventPayload{
					WithdrawPayload{EventIndex: 10, ChildIndex: 1, Receiver: addr20(0xDD), Amount: "1"},
					WithdrawPayload{EventIndex: 11, ChildIndex: 1, Receiver: addr20(0xDD), Amount: "1"},
				},
			},
		},
	}))
	<-merkleUpdates

	reply := make(chan StoreEthereumTransactionResult, 1)
	require.NoError(t, actor.Process(ctx, store, StoreEthereumTransaction{
		TxHash:       hash32(0x01),
		Payload:      []byte("root-tx"),
		Root:         hash32(0xF0),
		EventIndices: []uint64{10, 11},
		Reply:        reply,
	}))
	require.NoError(t, (<-reply).Err)

	node := newMockConcordiumNode()
	node.statuses[string(hash32(0xEE))] = ConcordiumTxStatusFinalized
	node.withdrawsByTx[string(hash32(0xEE))] = []ConcordiumWithdrawEvent{
		{EventIndex: 10, ChildIndex: 1, ChildSubindex: 0, Receiver: addr20(0xDD), Amount: "1"},
		{EventIndex: 11, ChildIndex: 1, ChildSubindex: 0, Receiver: addr20(0xDD), Amount: "1"},
	}
	result, err := Recover(ctx, store, node, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, result.PendingRoot)
	require.Equal(t, hash32(0xF0), result.PendingRoot.Root)
	require.Equal(t, []uint64{10, 11}, result.PendingRoot.EventIndices)
}

// Tamper detection: a pending withdraw that no longer matches on-chain
// data is a fatal invariant violation.
func TestRecover_TamperedWithdrawIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	actor, _, merkleUpdates := newTestActor(t, &stubBridgeManager{})

	txHash := hash32(0xEE)
	require.NoError(t, actor.Process(ctx, store, IngestConcordiumEvents{
		Height: 1,
		Txs: []ConcordiumTxEvents{
			{
				TxHash: txHash,
				Events: []ConcordiumEventPayload{
					WithdrawPayload{EventIndex: 10, ChildIndex: 1, Receiver: addr20(0xDD), Amount: "1"},
				},
			},
		},
	}))
	<-merkleUpdates

	node := newMockConcordiumNode()
	node.statuses[string(txHash)] = ConcordiumTxStatusFinalized
	node.withdrawsByTx[string(txHash)] = []ConcordiumWithdrawEvent{
		{EventIndex: 10, ChildIndex: 1, ChildSubindex: 0, Receiver: addr20(0xDD), Amount: "999"},
	}

	_, err := Recover(ctx, store, node, zap.NewNop())
	require.Error(t, err)
	var iv *db.InvariantViolationError
	require.ErrorAs(t, err, &iv)
}

// Recovery step 6 requires the backing transaction to be finalized before
// its events are trusted, even when the events themselves match byte for
// byte — a non-finalized (still reorg-able) transaction is not yet ground
// truth.
func TestRecover_NonFinalizedWithdrawTxIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	actor, _, merkleUpdates := newTestActor(t, &stubBridgeManager{})

	txHash := hash32(0xEE)
	require.NoError(t, actor.Process(ctx, store, IngestConcordiumEvents{
		Height: 1,
		Txs: []ConcordiumTxEvents{
			{
				TxHash: txHash,
				Events: []ConcordiumEventPayload{
					WithdrawPayload{EventIndex: 10, ChildIndex: 1, Receiver: addr20(0xDD), Amount: "1"},
				},
			},
		},
	}))
	<-merkleUpdates

	node := newMockConcordiumNode()
	node.statuses[string(txHash)] = ConcordiumTxStatusPending
	node.withdrawsByTx[string(txHash)] = []ConcordiumWithdrawEvent{
		{EventIndex: 10, ChildIndex: 1, ChildSubindex: 0, Receiver: addr20(0xDD), Amount: "1"},
	}

	_, err := Recover(ctx, store, node, zap.NewNop())
	require.Error(t, err)
	var iv *db.InvariantViolationError
	require.ErrorAs(t, err, &iv)
}

func TestRecover_UntamperedWithdrawPassesVerification(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	actor, _, merkleUpdates := newTestActor(t, &stubBridgeManager{})

	txHash := hash32(0xEE)
	require.NoError(t, actor.Process(ctx, store, IngestConcordiumEvents{
		Height: 1,
		Txs: []ConcordiumTxEvents{
			{
				TxHash: txHash,
				Events: []ConcordiumEventPayload{
					WithdrawPayload{EventIndex: 10, ChildIndex: 1, Receiver: addr20(0xDD), Amount: "1"},
				},
			},
		},
	}))
	<-merkleUpdates

	node := newMockConcordiumNode()
	node.statuses[string(txHash)] = ConcordiumTxStatusFinalized
	node.withdrawsByTx[string(txHash)] = []ConcordiumWithdrawEvent{
		{EventIndex: 10, ChildIndex: 1, ChildSubindex: 0, Receiver: addr20(0xDD), Amount: "1"},
	}

	_, err := Recover(ctx, store, node, zap.NewNop())
	require.NoError(t, err)
}
