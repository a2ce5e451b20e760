package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/internal/oracle"
)

func TestEstimateTimesOutOnStalledProvider(t *testing.T) {
	old := estimateTimeout
	estimateTimeout = 50 * time.Millisecond
	t.Cleanup(func() { estimateTimeout = old })

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := NewChangeNOWWithBase("key", srv.URL)
	start := time.Now()
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset: asset.XMR,
		Amount:  0.1, RateType: asset.RateFloat,
	})
	if est.ToAmount != 0 {
		t.Errorf("ToAmount = %v, want 0 from a stalled provider", est.ToAmount)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Estimate took %v, want prompt timeout", elapsed)
	}
}

func TestChangeNOWEstimateHinted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exchange/estimated-amount" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("fromNetwork"); got != "btc" {
			t.Errorf("fromNetwork = %q, want btc", got)
		}
		if got := r.URL.Query().Get("flow"); got != "standard" {
			t.Errorf("flow = %q, want standard", got)
		}
		w.Write([]byte(`{"toAmount":0.62,"fromAmount":0.1}`))
	}))
	defer srv.Close()

	p := NewChangeNOWWithBase("key", srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset: asset.XMR,
		Amount:  0.1, RateType: asset.RateFloat,
	})
	if est.ToAmount != 0.62 {
		t.Errorf("ToAmount = %v, want 0.62", est.ToAmount)
	}
}

func TestChangeNOWEstimateFallsBackUnhinted(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("fromNetwork") != "" {
			// Hinted attempt rejected.
			w.Write([]byte(`{"toAmount":0}`))
			return
		}
		w.Write([]byte(`{"estimatedAmount":"5.5"}`))
	}))
	defer srv.Close()

	p := NewChangeNOWWithBase("", srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.USDT, FromNetwork: asset.NetTRX,
		ToAsset: asset.XMR,
		Amount:  1000, RateType: asset.RateFloat,
	})
	if est.ToAmount != 5.5 {
		t.Errorf("ToAmount = %v, want 5.5 from estimatedAmount fallback", est.ToAmount)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestChangeNOWEstimateAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pair inactive", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewChangeNOWWithBase("", srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset: asset.XMR,
		Amount:  0.1, RateType: asset.RateFloat,
	})
	if est.ToAmount != 0 {
		t.Errorf("ToAmount = %v, want 0 on failure", est.ToAmount)
	}
}

func TestChangeNOWCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/exchange" {
			http.NotFound(w, r)
			return
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["address"] != "4AdestXMR" {
			t.Errorf("address = %v", body["address"])
		}
		w.Write([]byte(`{"exchangeId":"cn-1","payinAddressString":"bc1qdeposit"}`))
	}))
	defer srv.Close()

	p := NewChangeNOWWithBase("key", srv.URL)
	order, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset:       asset.XMR,
		Amount:        0.1,
		PayoutAddress: "4AdestXMR",
		RateType:      asset.RateFloat,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.OrderID != "cn-1" {
		t.Errorf("OrderID = %s, want cn-1 from exchangeId", order.OrderID)
	}
	if order.DepositAddress != "bc1qdeposit" {
		t.Errorf("DepositAddress = %s", order.DepositAddress)
	}
}

func TestChangeNOWCreateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"out_of_range"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewChangeNOWWithBase("key", srv.URL)
	_, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.BTC, ToAsset: asset.XMR, Amount: 0.1,
		PayoutAddress: "4A", RateType: asset.RateFloat,
	})
	if !errors.Is(err, ErrCreateFailed) {
		t.Errorf("Create() error = %v, want ErrCreateFailed", err)
	}
}

func TestChangeNOWInfoLowercasesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"Finished"}`))
	}))
	defer srv.Close()

	p := NewChangeNOWWithBase("key", srv.URL)
	info, err := p.Info(context.Background(), "cn-1")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Status != "finished" {
		t.Errorf("Status = %q, want finished", info.Status)
	}
}

func TestExolixEstimateFallsBackUnhinted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("networkFrom") != "" {
			w.Write([]byte(`{"toAmount":0}`))
			return
		}
		w.Write([]byte(`{"toAmount":"1.23"}`))
	}))
	defer srv.Close()

	p := NewExolixWithBase("key", srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.USDT, FromNetwork: asset.NetETH,
		ToAsset: asset.XMR,
		Amount:  500, RateType: asset.RateFloat,
	})
	if est.ToAmount != 1.23 {
		t.Errorf("ToAmount = %v, want 1.23", est.ToAmount)
	}
}

func TestExolixCreateNativeNetworkFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		// XMR carries no app-level network, so the symbol stands in.
		if body["networkTo"] != "XMR" {
			t.Errorf("networkTo = %v, want XMR", body["networkTo"])
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"id":"ex-9","depositAddress":"ltc1qdep"}`))
	}))
	defer srv.Close()

	p := NewExolixWithBase("key", srv.URL)
	order, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.LTC, FromNetwork: asset.NetLTC,
		ToAsset:       asset.XMR,
		Amount:        2.5,
		PayoutAddress: "4Adest",
		RateType:      asset.RateFloat,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.OrderID != "ex-9" || order.DepositAddress != "ltc1qdep" {
		t.Errorf("order = %+v", order)
	}
}

func TestExolixCreateMissingDeposit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ex-9"}`))
	}))
	defer srv.Close()

	p := NewExolixWithBase("key", srv.URL)
	_, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.BTC, ToAsset: asset.XMR, Amount: 0.1,
		PayoutAddress: "4A", RateType: asset.RateFloat,
	})
	if !errors.Is(err, ErrCreateFailed) {
		t.Errorf("Create() error = %v, want ErrCreateFailed", err)
	}
}

func TestSimpleSwapEstimateBareNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("network_from"); got != "trc20" {
			t.Errorf("network_from = %q, want trc20", got)
		}
		w.Write([]byte(`6.21`))
	}))
	defer srv.Close()

	p := NewSimpleSwapWithBase("key", srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.USDT, FromNetwork: asset.NetTRX,
		ToAsset: asset.XMR,
		Amount:  1000, RateType: asset.RateFloat,
	})
	if est.ToAmount != 6.21 {
		t.Errorf("ToAmount = %v, want 6.21", est.ToAmount)
	}
}

func TestSimpleSwapEstimateQuotedNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"0.456"`))
	}))
	defer srv.Close()

	p := NewSimpleSwapWithBase("", srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset: asset.XMR,
		Amount:  0.1, RateType: asset.RateFloat,
	})
	if est.ToAmount != 0.456 {
		t.Errorf("ToAmount = %v, want 0.456", est.ToAmount)
	}
}

func TestSimpleSwapEstimateObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"estimated_amount":"12.5"}`))
	}))
	defer srv.Close()

	p := NewSimpleSwapWithBase("", srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.XMR, ToAsset: asset.LTC, ToNetwork: asset.NetLTC,
		Amount: 5, RateType: asset.RateFloat,
	})
	if est.ToAmount != 12.5 {
		t.Errorf("ToAmount = %v, want 12.5", est.ToAmount)
	}
}

func TestSimpleSwapCreateHeaderFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Query().Get("api_key") != "":
			// First shape rejected for this account.
			http.Error(w, `{"error":"invalid api key placement"}`, http.StatusForbidden)
		case r.Method == http.MethodPost && r.Header.Get("X-Api-Key") != "":
			w.Write([]byte(`{"id":"ss-3","address_from":"TDepositTron"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewSimpleSwapWithBase("key", srv.URL)
	order, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.USDT, FromNetwork: asset.NetTRX,
		ToAsset:       asset.XMR,
		Amount:        300,
		PayoutAddress: "4Adest",
		RateType:      asset.RateFloat,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.OrderID != "ss-3" {
		t.Errorf("OrderID = %s", order.OrderID)
	}
	if order.DepositAddress != "TDepositTron" {
		t.Errorf("DepositAddress = %s, want address_from value", order.DepositAddress)
	}
}

func TestSimpleSwapCreateAllShapesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"amount too small"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewSimpleSwapWithBase("key", srv.URL)
	_, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset: asset.XMR, Amount: 0.00001,
		PayoutAddress: "4A", RateType: asset.RateFloat,
	})
	if !errors.Is(err, ErrCreateFailed) {
		t.Errorf("Create() error = %v, want ErrCreateFailed", err)
	}
}

func TestStealthEXEstimateProbesNetworks(t *testing.T) {
	var probes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rates/range" {
			http.NotFound(w, r)
			return
		}
		probes.Add(1)
		var body struct {
			Route struct {
				From struct {
					Network string `json:"network"`
				} `json:"from"`
			} `json:"route"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Route.From.Network != "erc20" {
			w.Write([]byte(`{"err":{"message":"unknown network"}}`))
			return
		}
		w.Write([]byte(`{"min_amount":50}`))
	}))
	defer srv.Close()

	prices := oracle.Static{asset.USDT: 1, asset.XMR: 200}
	p := NewStealthEXWithBase("key", prices, 0.93, srv.URL)

	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.USDT, FromNetwork: asset.NetETH,
		ToAsset: asset.XMR,
		Amount:  1000, RateType: asset.RateFloat,
	})
	// 1000 * 1 / 200 * 0.93 = 4.65
	if est.ToAmount != 4.65 {
		t.Errorf("ToAmount = %v, want 4.65", est.ToAmount)
	}
	// "ethereum" rejected, "erc20" accepted.
	if probes.Load() != 2 {
		t.Errorf("probes = %d, want 2", probes.Load())
	}

	// Second estimate must reuse the cached network resolution.
	p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.USDT, FromNetwork: asset.NetETH,
		ToAsset: asset.XMR,
		Amount:  2000, RateType: asset.RateFloat,
	})
	if probes.Load() != 2 {
		t.Errorf("probes = %d after cached estimate, want 2", probes.Load())
	}
}

func TestStealthEXEstimateBelowMinimum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"min_amount":0.01}`))
	}))
	defer srv.Close()

	p := NewStealthEXWithBase("key", oracle.Static{}, 0.93, srv.URL)
	est := p.Estimate(context.Background(), EstimateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset: asset.XMR,
		Amount:  0.001, RateType: asset.RateFloat,
	})
	if est.ToAmount != 0 {
		t.Errorf("ToAmount = %v, want 0 below provider minimum", est.ToAmount)
	}
}

func TestStealthEXCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rates/range":
			w.Write([]byte(`{"min_amount":0.001}`))
		case "/exchanges":
			var body struct {
				Route struct {
					From struct {
						Network string `json:"network"`
					} `json:"from"`
				} `json:"route"`
				Address string `json:"address"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Route.From.Network != "mainnet" {
				t.Errorf("from network = %q, want mainnet", body.Route.From.Network)
			}
			if body.Address != "4Adest" {
				t.Errorf("address = %q", body.Address)
			}
			w.Write([]byte(`{"id":"sx-7","deposit":{"address":"bc1qsxdep","extra_id":""}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewStealthEXWithBase("key", oracle.Static{}, 0.93, srv.URL)
	order, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset:       asset.XMR,
		Amount:        0.1,
		PayoutAddress: "4Adest",
		RateType:      asset.RateFloat,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.OrderID != "sx-7" || order.DepositAddress != "bc1qsxdep" {
		t.Errorf("order = %+v", order)
	}
}

func TestStealthEXCreateUnsupportedPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"err":{"message":"pair disabled"}}`))
	}))
	defer srv.Close()

	p := NewStealthEXWithBase("key", oracle.Static{}, 0.93, srv.URL)
	_, err := p.Create(context.Background(), CreateRequest{
		FromAsset: asset.BTC, FromNetwork: asset.NetBTC,
		ToAsset: asset.XMR, Amount: 0.1,
		PayoutAddress: "4A", RateType: asset.RateFloat,
	})
	if !errors.Is(err, ErrCreateFailed) {
		t.Errorf("Create() error = %v, want ErrCreateFailed", err)
	}
}

func TestRegistry(t *testing.T) {
	cn := NewChangeNOW("")
	ex := NewExolix("")
	reg := NewRegistry(cn, ex)

	if got := reg.Names(); len(got) != 2 || got[0] != "ChangeNOW" || got[1] != "Exolix" {
		t.Errorf("Names() = %v", got)
	}
	if p, ok := reg.Get("Exolix"); !ok || p != Provider(ex) {
		t.Errorf("Get(Exolix) = %v, %v", p, ok)
	}
	if _, ok := reg.Get("Nope"); ok {
		t.Error("Get(Nope) should miss")
	}
}
