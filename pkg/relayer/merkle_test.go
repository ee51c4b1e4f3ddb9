package relayer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func validWithdrawPayload() WithdrawPayload {
	return WithdrawPayload{
		EventIndex:    7,
		ChildIndex:    1,
		ChildSubindex: 0,
		Receiver:      bytes.Repeat([]byte{0xAB}, 20),
		Amount:        "1000000000000000000",
	}
}

func TestComputeWithdrawLeaf_Deterministic(t *testing.T) {
	txHash := bytes.Repeat([]byte{0x01}, 32)
	p := validWithdrawPayload()

	leaf1, err := ComputeWithdrawLeaf(txHash, p)
	require.NoError(t, err)
	leaf2, err := ComputeWithdrawLeaf(txHash, p)
	require.NoError(t, err)

	require.Equal(t, leaf1, leaf2, "hashing the same withdraw twice must yield the same leaf")
}

func TestComputeWithdrawLeaf_DiffersOnEventIndex(t *testing.T) {
	txHash := bytes.Repeat([]byte{0x01}, 32)
	p1 := validWithdrawPayload()
	p2 := validWithdrawPayload()
	p2.EventIndex = 8

	leaf1, err := ComputeWithdrawLeaf(txHash, p1)
	require.NoError(t, err)
	leaf2, err := ComputeWithdrawLeaf(txHash, p2)
	require.NoError(t, err)

	require.NotEqual(t, leaf1, leaf2)
}

func TestComputeWithdrawLeaf_RejectsShortTxHash(t *testing.T) {
	_, err := ComputeWithdrawLeaf(bytes.Repeat([]byte{0x01}, 31), validWithdrawPayload())
	require.Error(t, err)
}

func TestComputeWithdrawLeaf_RejectsShortReceiver(t *testing.T) {
	p := validWithdrawPayload()
	p.Receiver = bytes.Repeat([]byte{0xAB}, 19)
	_, err := ComputeWithdrawLeaf(bytes.Repeat([]byte{0x01}, 32), p)
	require.Error(t, err)
}

func TestComputeWithdrawLeaf_RejectsInvalidAmount(t *testing.T) {
	p := validWithdrawPayload()
	p.Amount = "not-a-number"
	_, err := ComputeWithdrawLeaf(bytes.Repeat([]byte{0x01}, 32), p)
	require.Error(t, err)
}
