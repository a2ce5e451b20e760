// Package quote prices two-leg routes. Leg 1 converts the input asset to
// XMR at one provider; leg 2 converts forwarded XMR to the output asset
// at a different provider. The fee mirrors the spread the leg-1 provider
// already takes versus mid-market, capped at a ratio of the leg-1 output.
package quote

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/internal/oracle"
	"github.com/monerizer/monerizerd/internal/provider"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// ErrNoQuote means no provider pair produced a usable route.
var ErrNoQuote = errors.New("all providers failed to quote")

// FeePolicy names the fee rule applied to every route.
const FeePolicy = "mirror_provider_spread_capped"

// Request is a route pricing request. Amount is denominated in InAsset.
type Request struct {
	InAsset    asset.Symbol   `json:"in_asset"`
	InNetwork  asset.Network  `json:"in_network"`
	Amount     float64        `json:"amount"`
	OutAsset   asset.Symbol   `json:"out_asset"`
	OutNetwork asset.Network  `json:"out_network"`
	RateType   asset.RateType `json:"rate_type"`
}

// Leg is one provider hop of a route.
type Leg struct {
	Provider   string  `json:"provider"`
	AmountFrom float64 `json:"amount_from"`
	AmountTo   float64 `json:"amount_to"`
}

// Fee is the per-route fee breakdown.
type Fee struct {
	ProviderSpreadXMR float64 `json:"provider_spread_xmr"`
	OurFeeXMR         float64 `json:"our_fee_xmr"`
	Policy            string  `json:"policy"`
}

// Route is a priced leg-1/leg-2 pairing. ReceiveOut is what the user
// would receive in OutAsset.
type Route struct {
	Leg1       Leg     `json:"leg1"`
	Leg2       Leg     `json:"leg2"`
	Fee        Fee     `json:"fee"`
	ReceiveOut float64 `json:"receive_out"`
}

// Response carries all viable routes, best first.
type Response struct {
	Request   Request `json:"request"`
	Options   []Route `json:"options"`
	BestIndex int     `json:"best_index"`
}

// Engine fans estimate requests out to every registered provider.
type Engine struct {
	registry    *provider.Registry
	prices      oracle.Source
	feeCapRatio float64
	sendReserve float64
	log         *logging.Logger

	mu       sync.Mutex
	lastReq  *Request
	lastResp *Response
}

// NewEngine creates a quote engine. feeCapRatio caps the fee as a share
// of the leg-1 XMR output; sendReserve is the XMR held back to cover the
// outbound wallet transaction fee.
func NewEngine(registry *provider.Registry, prices oracle.Source, feeCapRatio, sendReserve float64) *Engine {
	return &Engine{
		registry:    registry,
		prices:      prices,
		feeCapRatio: feeCapRatio,
		sendReserve: sendReserve,
		log:         logging.GetDefault().Component("quote"),
	}
}

// mirrorFee charges at most what the leg-1 provider already took versus
// mid-market, and never more than feeCapRatio of the leg-1 output.
func (e *Engine) mirrorFee(spreadXMR, leg1XMR float64) float64 {
	return math.Min(math.Max(0, spreadXMR), math.Max(0, leg1XMR)*e.feeCapRatio)
}

// Quote prices every provider pairing for the request. Providers that
// fail or decline an estimate simply drop out; only a fully empty result
// is an error.
func (e *Engine) Quote(ctx context.Context, req Request) (*Response, error) {
	providers := e.registry.All()

	// Leg 1: input asset -> XMR, all providers concurrently.
	leg1 := make([]float64, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			est := p.Estimate(gctx, provider.EstimateRequest{
				FromAsset:   req.InAsset,
				FromNetwork: req.InNetwork,
				ToAsset:     asset.XMR,
				Amount:      req.Amount,
				RateType:    req.RateType,
			})
			leg1[i] = est.ToAmount
			return nil
		})
	}
	g.Wait()

	prices := e.prices.GetPrices(ctx)
	midXMR := 0.0
	if pIn, pXMR := prices[req.InAsset], prices[asset.XMR]; pIn > 0 && pXMR > 0 {
		midXMR = req.Amount * pIn / pXMR
	}

	// Leg 2: forwarded XMR -> output asset, for every pair of distinct
	// providers. The forward amount depends on the leg-1 provider's fee,
	// so each pairing is its own estimate.
	type pairing struct {
		leg1Idx, leg2Idx int
		spread, fee      float64
		forward          float64
	}
	var pairings []pairing
	for i := range providers {
		if leg1[i] <= 0 {
			continue
		}
		spread := math.Max(0, midXMR-leg1[i])
		fee := e.mirrorFee(spread, leg1[i])
		forward := leg1[i] - fee - e.sendReserve
		if forward <= 0 {
			continue
		}
		for j := range providers {
			if j == i {
				continue
			}
			pairings = append(pairings, pairing{
				leg1Idx: i, leg2Idx: j,
				spread: spread, fee: fee, forward: forward,
			})
		}
	}

	var (
		optMu   sync.Mutex
		options []Route
	)
	g2, g2ctx := errgroup.WithContext(ctx)
	for _, pr := range pairings {
		g2.Go(func() error {
			p2 := providers[pr.leg2Idx]
			est := p2.Estimate(g2ctx, provider.EstimateRequest{
				FromAsset: asset.XMR,
				ToAsset:   req.OutAsset,
				ToNetwork: req.OutNetwork,
				Amount:    pr.forward,
				RateType:  req.RateType,
			})
			if est.ToAmount <= 0 {
				return nil
			}
			route := Route{
				Leg1: Leg{
					Provider:   providers[pr.leg1Idx].Name(),
					AmountFrom: req.Amount,
					AmountTo:   leg1[pr.leg1Idx],
				},
				Leg2: Leg{
					Provider:   p2.Name(),
					AmountFrom: pr.forward,
					AmountTo:   est.ToAmount,
				},
				Fee: Fee{
					ProviderSpreadXMR: pr.spread,
					OurFeeXMR:         pr.fee,
					Policy:            FeePolicy,
				},
				ReceiveOut: est.ToAmount,
			}
			optMu.Lock()
			options = append(options, route)
			optMu.Unlock()
			return nil
		})
	}
	g2.Wait()

	if len(options) == 0 {
		e.rememberQuote(req, nil)
		return nil, ErrNoQuote
	}

	sort.SliceStable(options, func(a, b int) bool {
		return options[a].ReceiveOut > options[b].ReceiveOut
	})

	resp := &Response{Request: req, Options: options, BestIndex: 0}
	e.rememberQuote(req, resp)
	e.log.Debug("Quote priced", "routes", len(options), "best_out", options[0].ReceiveOut)
	return resp, nil
}

func (e *Engine) rememberQuote(req Request, resp *Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastReq = &req
	e.lastResp = resp
}

// LastQuote returns the most recent request and response, for the
// diagnostics endpoint. Either may be nil.
func (e *Engine) LastQuote() (*Request, *Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReq, e.lastResp
}
