package relayer

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// ComputeWithdrawLeaf hashes a withdraw event into the 32-byte leaf the
// Merkle updater aggregates into a publishable root. The serialization is
// deterministic and must match byte-for-byte across restarts: event index
// and contract coordinates as big-endian fixed-width integers, receiver
// and amount as their canonical on-chain encodings.
func ComputeWithdrawLeaf(txHash []byte, p WithdrawPayload) ([32]byte, error) {
	var leaf [32]byte
	if len(txHash) != 32 {
		return leaf, fmt.Errorf("tx hash must be 32 bytes, got %d", len(txHash))
	}
	if len(p.Receiver) != 20 {
		return leaf, fmt.Errorf("receiver must be 20 bytes, got %d", len(p.Receiver))
	}

	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return leaf, fmt.Errorf("invalid amount %q: %w", p.Amount, err)
	}

	buf := make([]byte, 0, 32+8+8+8+20+32)
	buf = append(buf, txHash...)
	buf = binary.BigEndian.AppendUint64(buf, p.EventIndex)
	buf = binary.BigEndian.AppendUint64(buf, p.ChildIndex)
	buf = binary.BigEndian.AppendUint64(buf, p.ChildSubindex)
	buf = append(buf, p.Receiver...)

	amountBytes := make([]byte, 32)
	amount.BigInt().FillBytes(amountBytes)
	buf = append(buf, amountBytes...)

	copy(leaf[:], crypto.Keccak256(buf))
	return leaf, nil
}
