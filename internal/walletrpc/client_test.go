package walletrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newWalletServer fakes monero-wallet-rpc, dispatching on the JSON-RPC
// method name.
func newWalletServer(t *testing.T, handlers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, ok := handlers[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.Write([]byte(`{"jsonrpc":"2.0","id":0,"error":{"code":-32601,"message":"Method not found"}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":` + result + `}`))
	}))
}

func TestCreateSubaddress(t *testing.T) {
	srv := newWalletServer(t, map[string]string{
		"create_address": `{"address":"8Bsub...xyz","address_index":7}`,
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "")
	sub, err := c.CreateSubaddress(context.Background(), "swap:abc")
	if err != nil {
		t.Fatalf("CreateSubaddress() error = %v", err)
	}
	if sub.Address != "8Bsub...xyz" {
		t.Errorf("Address = %s", sub.Address)
	}
	if sub.Index != 7 {
		t.Errorf("Index = %d, want 7", sub.Index)
	}
}

func TestSumReceivedDeduplicates(t *testing.T) {
	// The same (txid, amount) appearing in both the confirmed and pool
	// lists must be counted once.
	srv := newWalletServer(t, map[string]string{
		"get_transfers": `{
			"in":   [{"txid":"aa","amount":650000000000},{"txid":"bb","amount":100000000000}],
			"pool": [{"txid":"aa","amount":650000000000}]
		}`,
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "")
	got := c.SumReceived(context.Background(), 7)
	if got != 0.75 {
		t.Errorf("SumReceived() = %v, want 0.75", got)
	}
}

func TestSumReceivedErrorReturnsZero(t *testing.T) {
	srv := newWalletServer(t, nil)
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "")
	if got := c.SumReceived(context.Background(), 1); got != 0 {
		t.Errorf("SumReceived() = %v, want 0", got)
	}
}

func TestUnlockedBalance(t *testing.T) {
	srv := newWalletServer(t, map[string]string{
		"get_balance": `{"balance":2000000000000,"unlocked_balance":1000000000000}`,
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "")
	if got := c.UnlockedBalance(context.Background()); got != 1.0 {
		t.Errorf("UnlockedBalance() = %v, want 1.0", got)
	}
}

func TestTransfer(t *testing.T) {
	srv := newWalletServer(t, map[string]string{
		"transfer": `{"tx_hash":"deadbeef"}`,
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "")
	txid, err := c.Transfer(context.Background(), "4Adest", 0.5)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if txid != "deadbeef" {
		t.Errorf("txid = %s, want deadbeef", txid)
	}
}

func TestDigestAuth(t *testing.T) {
	const (
		user  = "monero"
		pass  = "hunter2"
		realm = "monero-rpc"
		nonce = "0123456789abcdef"
	)
	var challenges int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			challenges++
			w.Header().Set("WWW-Authenticate",
				`Digest qop="auth", algorithm=MD5, realm="`+realm+`", nonce="`+nonce+`", stale=false`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		params := parseDigestChallenge(strings.TrimPrefix(auth, "Digest "))
		ha1 := md5hex(user + ":" + realm + ":" + pass)
		ha2 := md5hex(http.MethodPost + ":" + params["uri"])
		want := md5hex(ha1 + ":" + nonce + ":" + params["nc"] + ":" + params["cnonce"] + ":auth:" + ha2)
		if params["username"] != user || params["response"] != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":{"balance":0,"unlocked_balance":1000000000000}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, user, pass)
	if got := c.UnlockedBalance(context.Background()); got != 1.0 {
		t.Errorf("UnlockedBalance() = %v, want 1.0", got)
	}
	if challenges != 1 {
		t.Errorf("challenges answered = %d, want 1", challenges)
	}
}

func TestDigestAuthBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Digest qop="auth", algorithm=MD5, realm="monero-rpc", nonce="n1"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, "monero", "wrong")
	if _, err := c.Transfer(context.Background(), "4Adest", 0.5); !errors.Is(err, ErrWalletSend) {
		t.Errorf("Transfer() error = %v, want ErrWalletSend", err)
	}
}

func TestTransferRPCError(t *testing.T) {
	srv := newWalletServer(t, nil)
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "")
	_, err := c.Transfer(context.Background(), "4Adest", 0.5)
	if !errors.Is(err, ErrWalletSend) {
		t.Errorf("Transfer() error = %v, want ErrWalletSend", err)
	}
}
