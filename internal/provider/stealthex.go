package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/internal/oracle"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// StealthEX adapts the StealthEX v4 API. StealthEX has no estimate
// endpoint that both validates the route and prices it without side
// effects, so the adapter probes /rates/range to discover the network
// names the route accepts, then prices the route from oracle mid-market
// prices with a conservative haircut. Probe results are cached because
// network naming never changes mid-run.
type StealthEX struct {
	baseURL    string
	apiKey     string
	haircut    float64
	prices     oracle.Source
	httpClient *http.Client
	log        *logging.Logger

	mu    sync.Mutex
	nets  map[routeKey]routeNets
	known map[routeKey]bool
}

type routeKey struct {
	from, to   asset.Symbol
	fnet, tnet asset.Network
	rate       asset.RateType
}

type routeNets struct {
	from, to string
	minAmt   float64
}

// DefaultHaircut is the multiplier applied to the mid-market estimate.
const DefaultHaircut = 0.93

// NewStealthEX creates a StealthEX adapter. prices supplies the
// mid-market table backing estimates; haircut <= 0 selects the default.
func NewStealthEX(apiKey string, prices oracle.Source, haircut float64) *StealthEX {
	if haircut <= 0 {
		haircut = DefaultHaircut
	}
	return &StealthEX{
		baseURL: "https://api.stealthex.io/v4",
		apiKey:  apiKey,
		haircut: haircut,
		prices:  prices,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:   logging.GetDefault().Component("stealthex"),
		nets:  make(map[routeKey]routeNets),
		known: make(map[routeKey]bool),
	}
}

// NewStealthEXWithBase creates an adapter against a custom base URL
// (used in tests).
func NewStealthEXWithBase(apiKey string, prices oracle.Source, haircut float64, base string) *StealthEX {
	p := NewStealthEX(apiKey, prices, haircut)
	p.baseURL = base
	return p
}

// Name implements Provider.
func (p *StealthEX) Name() string { return "StealthEX" }

func (p *StealthEX) headers() map[string]string {
	h := map[string]string{}
	if p.apiKey != "" {
		h["Authorization"] = "Bearer " + p.apiKey
	}
	return h
}

func sxRate(rt asset.RateType) string {
	if rt == asset.RateFixed {
		return "fixed"
	}
	return "floating"
}

// sxCandidates returns StealthEX network-name candidates in priority
// order. Coins use "mainnet"; token names vary by chain and have shifted
// across API versions, so several spellings are tried.
func sxCandidates(sym asset.Symbol, net asset.Network) []string {
	if asset.IsNative(sym) || sym == asset.XMR {
		return []string{"mainnet"}
	}
	switch net {
	case asset.NetETH:
		return []string{"ethereum", "erc20", "mainnet"}
	case asset.NetTRX:
		return []string{"tron", "trc20", "mainnet"}
	case asset.NetBSC:
		return []string{"bsc", "bep20", "mainnet"}
	}
	return []string{"mainnet"}
}

// resolveRoute finds network names /rates/range accepts for the pair,
// caching hits and misses per route.
func (p *StealthEX) resolveRoute(ctx context.Context, from asset.Symbol, fnet asset.Network, to asset.Symbol, tnet asset.Network, rt asset.RateType) (routeNets, bool) {
	key := routeKey{from: from, to: to, fnet: fnet, tnet: tnet, rate: rt}

	p.mu.Lock()
	if p.known[key] {
		nets, ok := p.nets[key]
		p.mu.Unlock()
		return nets, ok
	}
	p.mu.Unlock()

	for _, nf := range sxCandidates(from, fnet) {
		for _, nt := range sxCandidates(to, tnet) {
			rng, ok := p.probeRange(ctx, from, nf, to, nt, rt)
			if !ok {
				continue
			}
			nets := routeNets{from: nf, to: nt, minAmt: rng}
			p.mu.Lock()
			p.nets[key] = nets
			p.known[key] = true
			p.mu.Unlock()
			return nets, true
		}
	}

	p.mu.Lock()
	p.known[key] = true
	p.mu.Unlock()
	return routeNets{}, false
}

// probeRange posts one /rates/range body. Returns the route's minimum
// amount and whether the pair was accepted.
func (p *StealthEX) probeRange(ctx context.Context, from asset.Symbol, nf string, to asset.Symbol, nt string, rt asset.RateType) (float64, bool) {
	body := map[string]interface{}{
		"route": map[string]interface{}{
			"from": map[string]string{"symbol": strings.ToLower(string(from)), "network": nf},
			"to":   map[string]string{"symbol": strings.ToLower(string(to)), "network": nt},
		},
		"estimation": "direct",
		"rate":       sxRate(rt),
	}

	status, raw, err := postJSON(ctx, p.httpClient, p.baseURL+"/rates/range", body, p.headers())
	if err != nil || status >= 400 {
		return 0, false
	}

	var res struct {
		Err       json.RawMessage `json:"err"`
		MinAmount float64         `json:"min_amount"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, false
	}
	if len(res.Err) > 0 && string(res.Err) != "null" {
		return 0, false
	}
	return res.MinAmount, true
}

// Estimate validates the route against /rates/range and then prices it
// from the oracle table with the configured haircut. Unsupported pairs
// and below-minimum amounts report 0.
func (p *StealthEX) Estimate(ctx context.Context, req EstimateRequest) Estimate {
	if req.Amount <= 0 {
		return Estimate{}
	}
	ctx, cancel := context.WithTimeout(ctx, estimateTimeout)
	defer cancel()

	nets, ok := p.resolveRoute(ctx, req.FromAsset, req.FromNetwork, req.ToAsset, req.ToNetwork, req.RateType)
	if !ok {
		return Estimate{}
	}
	if nets.minAmt > 0 && req.Amount < nets.minAmt {
		return Estimate{}
	}

	prices := p.prices.GetPrices(ctx)
	pFrom := prices[req.FromAsset]
	pTo := prices[req.ToAsset]
	if pFrom <= 0 || pTo <= 0 {
		return Estimate{}
	}

	out := req.Amount * pFrom / pTo * p.haircut
	out = math.Floor(out*1e8) / 1e8
	if out <= 0 {
		return Estimate{}
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"toAmount":   out,
		"min_amount": nets.minAmt,
		"networks":   map[string]string{"from": nets.from, "to": nets.to},
	})
	return Estimate{ToAmount: out, Raw: raw}
}

// Create opens an exchange using the discovered network names.
func (p *StealthEX) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	nets, ok := p.resolveRoute(ctx, req.FromAsset, req.FromNetwork, req.ToAsset, req.ToNetwork, req.RateType)
	if !ok {
		return nil, fmt.Errorf("%w: StealthEX: pair %s(%s) -> %s(%s) not supported",
			ErrCreateFailed, req.FromAsset, req.FromNetwork, req.ToAsset, req.ToNetwork)
	}

	body := map[string]interface{}{
		"route": map[string]interface{}{
			"from": map[string]string{"symbol": strings.ToLower(string(req.FromAsset)), "network": nets.from},
			"to":   map[string]string{"symbol": strings.ToLower(string(req.ToAsset)), "network": nets.to},
		},
		"amount":     req.Amount,
		"estimation": "direct",
		"rate":       sxRate(req.RateType),
		"address":    req.PayoutAddress,
	}

	status, raw, err := postJSON(ctx, p.httpClient, p.baseURL+"/exchanges", body, p.headers())
	if err != nil {
		return nil, fmt.Errorf("%w: StealthEX: %v", ErrCreateFailed, err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: StealthEX status %d: %s", ErrCreateFailed, status, snippet(raw))
	}

	var res struct {
		Err     json.RawMessage `json:"err"`
		ID      string          `json:"id"`
		Deposit struct {
			Address string `json:"address"`
			ExtraID string `json:"extra_id"`
		} `json:"deposit"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: StealthEX: bad create response: %v", ErrCreateFailed, err)
	}
	if len(res.Err) > 0 && string(res.Err) != "null" {
		return nil, fmt.Errorf("%w: StealthEX error: %s", ErrCreateFailed, snippet(raw))
	}
	if res.Deposit.Address == "" {
		return nil, fmt.Errorf("%w: StealthEX returned no deposit address", ErrCreateFailed)
	}

	return &Order{
		OrderID:        res.ID,
		DepositAddress: res.Deposit.Address,
		DepositExtra:   res.Deposit.ExtraID,
		Raw:            json.RawMessage(raw),
	}, nil
}

// Info fetches exchange status by id.
func (p *StealthEX) Info(ctx context.Context, orderID string) (*Info, error) {
	status, raw, err := getJSON(ctx, p.httpClient, p.baseURL+"/exchanges/"+url.PathEscape(orderID), nil, p.headers())
	if err != nil {
		return nil, fmt.Errorf("StealthEX info failed: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("StealthEX info status %d: %s", status, snippet(raw))
	}
	return &Info{Status: statusFromRaw(raw), Raw: json.RawMessage(raw)}, nil
}

var _ Provider = (*StealthEX)(nil)
