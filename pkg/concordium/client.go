// Package concordium is the relayer's read/rebroadcast window onto the
// Concordium node, used only by the startup recovery protocol. No
// Concordium client SDK for Go exists in the ecosystem this module draws
// its dependencies from, so this speaks the node's public JSON surface
// directly over net/http rather than a hand-authored gRPC stub.
package concordium

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/concordium-bridge/relayer/pkg/config"
	"github.com/concordium-bridge/relayer/pkg/relayer"
)

// Client implements relayer.ConcordiumNode over the node's JSON status
// API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client bound to cfg.NodeURL.
func NewClient(cfg *config.ConcordiumConfig) *Client {
	return &Client{
		baseURL: cfg.NodeURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type transactionStatusResponse struct {
	Status string `json:"status"` // "received", "committed", "finalized", "absent"
	Kind   string `json:"kind"`   // "account_transaction", "credential_deployment", "update_instruction"
}

// TransactionStatus reports a submitted transaction's status and kind.
func (c *Client) TransactionStatus(ctx context.Context, txHash []byte) (relayer.ConcordiumTxStatus, relayer.ConcordiumTxKind, error) {
	var resp transactionStatusResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/transactionStatus/%x", txHash), &resp); err != nil {
		return relayer.ConcordiumTxStatusUnknown, 0, err
	}

	var status relayer.ConcordiumTxStatus
	switch resp.Status {
	case "finalized":
		status = relayer.ConcordiumTxStatusFinalized
	case "received", "committed":
		status = relayer.ConcordiumTxStatusPending
	case "absent", "":
		status = relayer.ConcordiumTxStatusNotFound
	default:
		status = relayer.ConcordiumTxStatusUnknown
	}

	var kind relayer.ConcordiumTxKind
	switch resp.Kind {
	case "credential_deployment":
		kind = relayer.ConcordiumTxKindCredentialDeployment
	case "update_instruction":
		kind = relayer.ConcordiumTxKindUpdateInstruction
	default:
		kind = relayer.ConcordiumTxKindAccountTransaction
	}

	return status, kind, nil
}

// Rebroadcast resubmits a previously signed transaction verbatim.
func (c *Client) Rebroadcast(ctx context.Context, payload []byte) error {
	return c.postJSON(ctx, "/v1/transactions", map[string]string{
		"payload": fmt.Sprintf("%x", payload),
	}, nil)
}

// payloadNonceOffset is where this relayer's account-transaction payload
// envelope places the 8-byte big-endian nonce BridgeManager signed with;
// it is this module's own serialization, not something the node defines.
const payloadNonceOffset = 0

// NonceOf extracts the nonce a signed account-transaction payload used.
func (c *Client) NonceOf(payload []byte) (uint64, error) {
	if len(payload) < payloadNonceOffset+8 {
		return 0, fmt.Errorf("payload too short to contain a nonce: %d bytes", len(payload))
	}
	return binary.BigEndian.Uint64(payload[payloadNonceOffset : payloadNonceOffset+8]), nil
}

type withdrawEventResponse struct {
	EventIndex    uint64 `json:"eventIndex"`
	ChildIndex    uint64 `json:"childIndex"`
	ChildSubindex uint64 `json:"childSubindex"`
	Receiver      string `json:"receiver"`
	Amount        string `json:"amount"`
}

// WithdrawEventsInTransaction returns every withdraw event a finalized
// transaction emitted.
func (c *Client) WithdrawEventsInTransaction(ctx context.Context, txHash []byte) ([]relayer.ConcordiumWithdrawEvent, error) {
	var resp []withdrawEventResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/transactionEvents/%x", txHash), &resp); err != nil {
		return nil, err
	}

	out := make([]relayer.ConcordiumWithdrawEvent, 0, len(resp))
	for _, ev := range resp {
		receiver, err := decodeHex(ev.Receiver)
		if err != nil {
			return nil, fmt.Errorf("decode receiver for event %d: %w", ev.EventIndex, err)
		}
		out = append(out, relayer.ConcordiumWithdrawEvent{
			EventIndex:    ev.EventIndex,
			ChildIndex:    ev.ChildIndex,
			ChildSubindex: ev.ChildSubindex,
			Receiver:      receiver,
			Amount:        ev.Amount,
		})
	}
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("concordium node request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("concordium node returned status %d for %s", resp.StatusCode, path)
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *Client) postJSON(ctx context.Context, path string, body, dest any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("concordium node request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("concordium node returned status %d for %s", resp.StatusCode, path)
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
