package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// SimpleSwap adapts the SimpleSwap v1 API. Its quirks: estimate sometimes
// returns a bare JSON number or a quoted number instead of an object,
// token networks are spelled erc20/trc20/bep20, native coins must omit
// the network entirely, and order creation works only through one of
// three historical call shapes depending on account age.
type SimpleSwap struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logging.Logger
}

// NewSimpleSwap creates a SimpleSwap adapter.
func NewSimpleSwap(apiKey string) *SimpleSwap {
	return &SimpleSwap{
		baseURL: "https://api.simpleswap.io/v1",
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.GetDefault().Component("simpleswap"),
	}
}

// NewSimpleSwapWithBase creates an adapter against a custom base URL
// (used in tests).
func NewSimpleSwapWithBase(apiKey, base string) *SimpleSwap {
	p := NewSimpleSwap(apiKey)
	p.baseURL = base
	return p
}

// Name implements Provider.
func (p *SimpleSwap) Name() string { return "SimpleSwap" }

func ssFixed(rt asset.RateType) string {
	if rt == asset.RateFixed {
		return "true"
	}
	return "false"
}

// ssNetwork maps an app network onto SimpleSwap's token-standard names.
// Native coins (and XMR) omit the network.
func ssNetwork(sym asset.Symbol, net asset.Network) string {
	if sym == asset.XMR || asset.IsNative(sym) {
		return ""
	}
	switch net {
	case asset.NetETH:
		return "erc20"
	case asset.NetTRX:
		return "trc20"
	case asset.NetBSC:
		return "bep20"
	}
	return ""
}

// Estimate quotes via get_estimated, tolerating bare-number responses.
// Falls back to an unhinted attempt, then an unhinted attempt at
// amount*0.999.
func (p *SimpleSwap) Estimate(ctx context.Context, req EstimateRequest) Estimate {
	ctx, cancel := context.WithTimeout(ctx, estimateTimeout)
	defer cancel()

	fnet := ssNetwork(req.FromAsset, req.FromNetwork)
	tnet := ssNetwork(req.ToAsset, req.ToNetwork)

	if est := p.estimateOnce(ctx, req, req.Amount, fnet, tnet); est.ToAmount > 0 {
		return est
	}
	if fnet != "" || tnet != "" {
		if est := p.estimateOnce(ctx, req, req.Amount, "", ""); est.ToAmount > 0 {
			return est
		}
	}
	return p.estimateOnce(ctx, req, req.Amount*0.999, "", "")
}

func (p *SimpleSwap) estimateOnce(ctx context.Context, req EstimateRequest, amount float64, fnet, tnet string) Estimate {
	q := url.Values{}
	q.Set("currency_from", strings.ToLower(string(req.FromAsset)))
	q.Set("currency_to", strings.ToLower(string(req.ToAsset)))
	q.Set("amount", formatAmount(amount))
	q.Set("fixed", ssFixed(req.RateType))
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}
	if fnet != "" {
		q.Set("network_from", fnet)
	}
	if tnet != "" {
		q.Set("network_to", tnet)
	}

	status, body, err := getJSON(ctx, p.httpClient, p.baseURL+"/get_estimated", q, nil)
	if err != nil || status != http.StatusOK {
		p.log.Debug("Estimate attempt failed", "status", status, "error", err)
		return Estimate{}
	}

	n := ssEstimatedAmount(body)
	if n <= 0 {
		return Estimate{}
	}
	return Estimate{ToAmount: n, Raw: json.RawMessage(body)}
}

// ssEstimatedAmount extracts an amount from the three shapes get_estimated
// is known to return: a bare number, a quoted number, or an object with
// estimated_amount / toAmount.
func ssEstimatedAmount(body []byte) float64 {
	var any interface{}
	if err := json.Unmarshal(body, &any); err != nil {
		// Not valid JSON at all; some gateways return raw text.
		var f float64
		if ok, err := jsonNumber(strings.TrimSpace(string(body)), &f); ok && err == nil {
			return f
		}
		return 0
	}
	switch v := any.(type) {
	case float64:
		return v
	case string:
		return parseAmount(v)
	case map[string]interface{}:
		if n := parseAmount(v["estimated_amount"]); n > 0 {
			return n
		}
		return parseAmount(v["toAmount"])
	}
	return 0
}

// Create opens an exchange. Three call shapes are attempted in order:
// POST with api_key as a query parameter, POST with an X-Api-Key header,
// and the legacy GET get_exchange form. The first 2xx object wins; the
// error from the most informative failure is reported otherwise.
func (p *SimpleSwap) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	fnet := ssNetwork(req.FromAsset, req.FromNetwork)
	tnet := ssNetwork(req.ToAsset, req.ToNetwork)

	payload := map[string]interface{}{
		"currency_from": strings.ToLower(string(req.FromAsset)),
		"currency_to":   strings.ToLower(string(req.ToAsset)),
		"amount":        formatAmount(req.Amount),
		"address_to":    req.PayoutAddress,
		"fixed":         ssFixed(req.RateType),
	}
	if fnet != "" {
		payload["network_from"] = fnet
	}
	if tnet != "" {
		payload["network_to"] = tnet
	}
	if req.RefundAddress != "" {
		payload["refund_address"] = req.RefundAddress
	}

	type attempt struct {
		status int
		body   []byte
	}
	var attempts []attempt

	// Try 1: POST with api_key query parameter.
	u := p.baseURL + "/create_exchange"
	if p.apiKey != "" {
		u += "?api_key=" + url.QueryEscape(p.apiKey)
	}
	status, body, err := postJSON(ctx, p.httpClient, u, payload, nil)
	if err == nil && status == http.StatusOK {
		if order, ok := p.normalizeOrder(body); ok {
			return order, nil
		}
	}
	if err == nil {
		attempts = append(attempts, attempt{status, body})
	}

	// Try 2: POST with X-Api-Key header.
	status, body, err = postJSON(ctx, p.httpClient, p.baseURL+"/create_exchange", payload, map[string]string{"X-Api-Key": p.apiKey})
	if err == nil && status == http.StatusOK {
		if order, ok := p.normalizeOrder(body); ok {
			return order, nil
		}
	}
	if err == nil {
		// The header variant is usually the most informative failure.
		attempts = append([]attempt{{status, body}}, attempts...)
	}

	// Try 3: legacy GET form.
	q := url.Values{}
	for k, v := range payload {
		q.Set(k, fmt.Sprint(v))
	}
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}
	status, body, err = getJSON(ctx, p.httpClient, p.baseURL+"/get_exchange", q, nil)
	if err == nil && status == http.StatusOK {
		if order, ok := p.normalizeOrder(body); ok {
			return order, nil
		}
	}
	if err == nil {
		attempts = append(attempts, attempt{status, body})
	}

	if len(attempts) > 0 {
		a := attempts[0]
		return nil, fmt.Errorf("%w: SimpleSwap status %d: %s", ErrCreateFailed, a.status, snippet(a.body))
	}
	return nil, fmt.Errorf("%w: SimpleSwap: no reachable endpoint", ErrCreateFailed)
}

// normalizeOrder maps a create response onto Order. SimpleSwap has
// shipped the deposit address under three names over the years.
func (p *SimpleSwap) normalizeOrder(raw []byte) (*Order, bool) {
	var res struct {
		ID           string `json:"id"`
		Deposit      string `json:"deposit"`
		AddressFrom  string `json:"address_from"`
		PayinAddress string `json:"payinAddress"`
		ExtraID      string `json:"extra_id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}

	order := &Order{
		OrderID:        res.ID,
		DepositAddress: res.Deposit,
		DepositExtra:   res.ExtraID,
		Raw:            json.RawMessage(raw),
	}
	if order.DepositAddress == "" {
		order.DepositAddress = res.AddressFrom
	}
	if order.DepositAddress == "" {
		order.DepositAddress = res.PayinAddress
	}
	if order.DepositAddress == "" {
		return nil, false
	}
	return order, true
}

// Info fetches exchange status by id.
func (p *SimpleSwap) Info(ctx context.Context, orderID string) (*Info, error) {
	q := url.Values{}
	q.Set("id", orderID)
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}

	status, raw, err := getJSON(ctx, p.httpClient, p.baseURL+"/get_exchange", q, nil)
	if err != nil {
		return nil, fmt.Errorf("SimpleSwap info failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("SimpleSwap info status %d: %s", status, snippet(raw))
	}
	return &Info{Status: statusFromRaw(raw), Raw: json.RawMessage(raw)}, nil
}

var _ Provider = (*SimpleSwap)(nil)
