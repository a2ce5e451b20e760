// Package oracle fetches advisory mid-market USD prices. Prices feed the
// provider-spread heuristic only; they never settle real amounts, so the
// oracle must not block core progress: any failure falls back to constant
// defaults.
package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// Prices maps asset symbols to USD mid-market prices.
type Prices map[asset.Symbol]float64

// Source supplies USD prices. Implementations must always return a fully
// populated table, substituting defaults for anything they could not fetch.
type Source interface {
	GetPrices(ctx context.Context) Prices
}

// Defaults are the fallback prices used when the upstream endpoint fails
// or omits a key.
var Defaults = Prices{
	asset.BTC:  60000,
	asset.ETH:  3000,
	asset.USDT: 1,
	asset.USDC: 1,
	asset.LTC:  70,
	asset.XMR:  160,
}

// coingeckoIDs maps our symbols to CoinGecko asset ids.
var coingeckoIDs = map[asset.Symbol]string{
	asset.BTC:  "bitcoin",
	asset.ETH:  "ethereum",
	asset.USDT: "tether",
	asset.USDC: "usd-coin",
	asset.LTC:  "litecoin",
	asset.XMR:  "monero",
}

// CoinGecko fetches simple spot prices from the CoinGecko public API.
type CoinGecko struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewCoinGecko creates a CoinGecko price source.
func NewCoinGecko() *CoinGecko {
	return &CoinGecko{
		baseURL: "https://api.coingecko.com/api/v3",
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: logging.GetDefault().Component("oracle"),
	}
}

// NewCoinGeckoWithBase creates a CoinGecko source against a custom base
// URL (used in tests).
func NewCoinGeckoWithBase(base string) *CoinGecko {
	c := NewCoinGecko()
	c.baseURL = base
	return c
}

// GetPrices fetches USD prices for all known assets. Missing or failed
// entries are filled from Defaults.
func (c *CoinGecko) GetPrices(ctx context.Context) Prices {
	out := make(Prices, len(Defaults))

	ids := make([]string, 0, len(coingeckoIDs))
	for _, id := range coingeckoIDs {
		ids = append(ids, id)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err == nil {
		resp, err := c.httpClient.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var data map[string]struct {
					USD float64 `json:"usd"`
				}
				if err := json.NewDecoder(resp.Body).Decode(&data); err == nil {
					for sym, id := range coingeckoIDs {
						if entry, ok := data[id]; ok && entry.USD > 0 {
							out[sym] = entry.USD
						}
					}
				}
			}
		} else {
			c.log.Debug("Price fetch failed", "error", err)
		}
	}

	for sym, def := range Defaults {
		if _, ok := out[sym]; !ok {
			out[sym] = def
		}
	}
	return out
}

// Static is a Source returning a fixed table, for tests and offline use.
type Static Prices

// GetPrices returns the static table, filled up with Defaults.
func (s Static) GetPrices(ctx context.Context) Prices {
	out := make(Prices, len(Defaults))
	for sym, p := range s {
		out[sym] = p
	}
	for sym, def := range Defaults {
		if _, ok := out[sym]; !ok {
			out[sym] = def
		}
	}
	return out
}
