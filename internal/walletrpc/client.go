// Package walletrpc is a thin typed wrapper over the monero-wallet-rpc
// JSON-RPC interface. The swap engine consumes only the Client interface;
// the daemon wires in the HTTP implementation.
package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// ErrWalletSend wraps any failure of the transfer RPC.
var ErrWalletSend = errors.New("wallet send failed")

// Subaddress is a wallet sub-identity under account 0, dedicated to one swap.
type Subaddress struct {
	Address string
	Index   uint64
}

// Client is the wallet surface the swap engine depends on.
type Client interface {
	// CreateSubaddress creates a fresh subaddress under account 0.
	CreateSubaddress(ctx context.Context, label string) (Subaddress, error)

	// SumReceived returns the sum of unique inbound amounts (confirmed,
	// pending and mempool) to the given subaddress index, in XMR.
	// Returns 0 on any RPC error; it must never block swap progress.
	SumReceived(ctx context.Context, index uint64) float64

	// UnlockedBalance returns the account-wide unlocked balance in XMR.
	// Returns 0 on any RPC error.
	UnlockedBalance(ctx context.Context) float64

	// Transfer sends amountXMR to dest and returns the txid.
	Transfer(ctx context.Context, dest string, amountXMR float64) (string, error)
}

// transferPriority is the monero-wallet-rpc "medium" priority.
const transferPriority = 2

// transferRingSize is the ring size used for outbound transfers.
const transferRingSize = 11

// RPCClient talks to a monero-wallet-rpc daemon over HTTP JSON-RPC.
type RPCClient struct {
	url        string
	user       string
	pass       string
	httpClient *http.Client
	log        *logging.Logger
	requestID  atomic.Uint64
}

// NewRPCClient creates a wallet RPC client.
func NewRPCClient(url, user, pass string) *RPCClient {
	return &RPCClient{
		url:  url,
		user: user,
		pass: pass,
		httpClient: &http.Client{
			Timeout: 45 * time.Second,
		},
		log: logging.GetDefault().Component("wallet"),
	}
}

// CreateSubaddress creates a labeled subaddress under account 0.
func (c *RPCClient) CreateSubaddress(ctx context.Context, label string) (Subaddress, error) {
	result, err := c.call(ctx, "create_address", map[string]interface{}{
		"account_index": 0,
		"label":         label,
	})
	if err != nil {
		return Subaddress{}, fmt.Errorf("create_address failed: %w", err)
	}

	var res struct {
		Address      string `json:"address"`
		AddressIndex uint64 `json:"address_index"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return Subaddress{}, fmt.Errorf("failed to parse create_address result: %w", err)
	}
	if res.Address == "" {
		return Subaddress{}, errors.New("wallet returned empty subaddress")
	}

	return Subaddress{Address: res.Address, Index: res.AddressIndex}, nil
}

// SumReceived sums unique inbound amounts to a subaddress across confirmed
// and pool transfers. A replaced-by-fee or re-announced transaction shows
// up in both lists with the same (txid, amount), so pairs are deduplicated.
func (c *RPCClient) SumReceived(ctx context.Context, index uint64) float64 {
	result, err := c.call(ctx, "get_transfers", map[string]interface{}{
		"in":              true,
		"pool":            true,
		"account_index":   0,
		"subaddr_indices": []uint64{index},
	})
	if err != nil {
		c.log.Debug("get_transfers failed", "index", index, "error", err)
		return 0
	}

	var res struct {
		In   []transferEntry `json:"in"`
		Pool []transferEntry `json:"pool"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		c.log.Debug("failed to parse get_transfers result", "error", err)
		return 0
	}

	type key struct {
		txid   string
		amount uint64
	}
	seen := make(map[key]bool)
	var total uint64
	for _, t := range append(res.In, res.Pool...) {
		k := key{t.TxID, t.Amount}
		if seen[k] {
			continue
		}
		seen[k] = true
		total += t.Amount
	}
	return asset.AtomicToXMR(total)
}

type transferEntry struct {
	TxID   string `json:"txid"`
	Amount uint64 `json:"amount"`
}

// UnlockedBalance returns the account-wide unlocked balance in XMR.
// The wallet commingles unlocked funds, so this is not per-subaddress.
func (c *RPCClient) UnlockedBalance(ctx context.Context) float64 {
	result, err := c.call(ctx, "get_balance", map[string]interface{}{
		"account_index": 0,
	})
	if err != nil {
		c.log.Debug("get_balance failed", "error", err)
		return 0
	}

	var res struct {
		UnlockedBalance uint64 `json:"unlocked_balance"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return 0
	}
	return asset.AtomicToXMR(res.UnlockedBalance)
}

// Transfer sends amountXMR to dest. Amounts cross the wire as integer
// atomic units.
func (c *RPCClient) Transfer(ctx context.Context, dest string, amountXMR float64) (string, error) {
	result, err := c.call(ctx, "transfer", map[string]interface{}{
		"account_index": 0,
		"destinations": []map[string]interface{}{
			{"amount": asset.XMRToAtomic(amountXMR), "address": dest},
		},
		"priority":   transferPriority,
		"ring_size":  transferRingSize,
		"get_tx_key": true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWalletSend, err)
	}

	var res struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return "", fmt.Errorf("%w: failed to parse transfer result: %v", ErrWalletSend, err)
	}
	if res.TxHash == "" {
		return "", fmt.Errorf("%w: wallet returned empty tx hash", ErrWalletSend)
	}
	return res.TxHash, nil
}

// call performs a JSON-RPC 2.0 request against the wallet daemon.
func (c *RPCClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	// A 401 carries a digest challenge when the daemon runs --rpc-login;
	// answer it once on a fresh request.
	if resp.StatusCode == http.StatusUnauthorized && (c.user != "" || c.pass != "") {
		challenge := resp.Header.Get("WWW-Authenticate")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		auth, err := digestAuthorization(challenge, c.user, c.pass, http.MethodPost, req.URL.RequestURI())
		if err != nil {
			return nil, fmt.Errorf("wallet RPC auth failed: %w", err)
		}
		retry, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		retry.Header.Set("Content-Type", "application/json")
		retry.Header.Set("Authorization", auth)
		resp, err = c.httpClient.Do(retry)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet RPC status %d", resp.StatusCode)
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse wallet response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("wallet RPC error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

// Ensure RPCClient implements Client.
var _ Client = (*RPCClient)(nil)
