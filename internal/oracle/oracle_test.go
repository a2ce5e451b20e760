package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/monerizer/monerizerd/internal/asset"
)

func TestGetPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin":{"usd":97000},"monero":{"usd":210.5},"tether":{"usd":1.0}}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoWithBase(srv.URL)
	prices := src.GetPrices(context.Background())

	if prices[asset.BTC] != 97000 {
		t.Errorf("BTC = %v, want 97000", prices[asset.BTC])
	}
	if prices[asset.XMR] != 210.5 {
		t.Errorf("XMR = %v, want 210.5", prices[asset.XMR])
	}
	// Missing keys fall back to defaults.
	if prices[asset.ETH] != Defaults[asset.ETH] {
		t.Errorf("ETH = %v, want default %v", prices[asset.ETH], Defaults[asset.ETH])
	}
	if prices[asset.LTC] != Defaults[asset.LTC] {
		t.Errorf("LTC = %v, want default %v", prices[asset.LTC], Defaults[asset.LTC])
	}
}

func TestGetPricesEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCoinGeckoWithBase(srv.URL)
	prices := src.GetPrices(context.Background())

	for sym, def := range Defaults {
		if prices[sym] != def {
			t.Errorf("%s = %v, want default %v", sym, prices[sym], def)
		}
	}
}

func TestStaticSource(t *testing.T) {
	src := Static{asset.BTC: 50000}
	prices := src.GetPrices(context.Background())

	if prices[asset.BTC] != 50000 {
		t.Errorf("BTC = %v, want 50000", prices[asset.BTC])
	}
	if prices[asset.XMR] != Defaults[asset.XMR] {
		t.Errorf("XMR = %v, want default", prices[asset.XMR])
	}
}
