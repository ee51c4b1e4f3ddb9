// Package ethereum is the relayer's read-only window onto the Eth chain:
// checking the current head height and a transaction's mined status.
// Scanning bridge-contract logs and broadcasting signed transactions are
// external collaborators' responsibility (spec §1). The recovery protocol
// does not use this client; it reads Concordium state only.
package ethereum

import (
	"context"
	"errors"
	"fmt"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/concordium-bridge/relayer/pkg/config"
)

// Client implements relayer.EthereumNode over a JSON-RPC endpoint.
type Client struct {
	rpc    *ethclient.Client
	logger *zap.Logger
}

// NewClient dials cfg.RPCURL.
func NewClient(cfg *config.EthereumConfig, logger *zap.Logger) (*Client, error) {
	rpc, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	return &Client{rpc: rpc, logger: logger}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// BlockHeight reports the current head height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("get latest ethereum header: %w", err)
	}
	return header.Number.Uint64(), nil
}

// TransactionMined reports whether txHash has been included in a block
// and, if so, whether it succeeded. mined is false if the node has no
// receipt for the transaction.
func (c *Client) TransactionMined(ctx context.Context, txHash [32]byte) (mined, success bool, err error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, common.Hash(txHash))
	if err != nil {
		if errors.Is(err, goethereum.NotFound) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("get transaction receipt: %w", err)
	}
	return true, receipt.Status == 1, nil
}
