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

// ChangeNOW adapts the ChangeNOW v2 exchange API. Networks are passed as
// lower-cased hints (fromNetwork/toNetwork); XMR legs omit them entirely.
type ChangeNOW struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logging.Logger
}

// NewChangeNOW creates a ChangeNOW adapter.
func NewChangeNOW(apiKey string) *ChangeNOW {
	return &ChangeNOW{
		baseURL: "https://api.changenow.io/v2",
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.GetDefault().Component("changenow"),
	}
}

// NewChangeNOWWithBase creates an adapter against a custom base URL
// (used in tests).
func NewChangeNOWWithBase(apiKey, base string) *ChangeNOW {
	p := NewChangeNOW(apiKey)
	p.baseURL = base
	return p
}

// Name implements Provider.
func (p *ChangeNOW) Name() string { return "ChangeNOW" }

func (p *ChangeNOW) headers() map[string]string {
	h := map[string]string{}
	if p.apiKey != "" {
		h["x-changenow-api-key"] = p.apiKey
	}
	return h
}

// cnFlow maps our rate type onto ChangeNOW's flow parameter.
func cnFlow(rt asset.RateType) string {
	if rt == asset.RateFixed {
		return "fixed"
	}
	return "standard"
}

// cnNetwork lower-cases a network hint. XMR never carries one.
func cnNetwork(sym asset.Symbol, net asset.Network) string {
	if sym == asset.XMR || net == "" {
		return ""
	}
	return strings.ToLower(string(net))
}

// Estimate quotes a route. Attempts run hinted, then without network
// hints, then hinted again at amount*0.999 to dodge boundary rejections.
func (p *ChangeNOW) Estimate(ctx context.Context, req EstimateRequest) Estimate {
	ctx, cancel := context.WithTimeout(ctx, estimateTimeout)
	defer cancel()

	fnet := cnNetwork(req.FromAsset, req.FromNetwork)
	tnet := cnNetwork(req.ToAsset, req.ToNetwork)

	if est := p.estimateOnce(ctx, req, req.Amount, fnet, tnet); est.ToAmount > 0 {
		return est
	}
	if fnet != "" || tnet != "" {
		if est := p.estimateOnce(ctx, req, req.Amount, "", ""); est.ToAmount > 0 {
			return est
		}
	}
	return p.estimateOnce(ctx, req, req.Amount*0.999, fnet, tnet)
}

func (p *ChangeNOW) estimateOnce(ctx context.Context, req EstimateRequest, amount float64, fnet, tnet string) Estimate {
	q := url.Values{}
	q.Set("fromCurrency", strings.ToLower(string(req.FromAsset)))
	q.Set("toCurrency", strings.ToLower(string(req.ToAsset)))
	q.Set("fromAmount", formatAmount(amount))
	q.Set("flow", cnFlow(req.RateType))
	if fnet != "" {
		q.Set("fromNetwork", fnet)
	}
	if tnet != "" {
		q.Set("toNetwork", tnet)
	}

	status, body, err := getJSON(ctx, p.httpClient, p.baseURL+"/exchange/estimated-amount", q, p.headers())
	if err != nil || status != http.StatusOK {
		p.log.Debug("Estimate attempt failed", "status", status, "error", err)
		return Estimate{}
	}

	var res map[string]interface{}
	if err := json.Unmarshal(body, &res); err != nil {
		return Estimate{}
	}
	n := parseAmount(res["toAmount"])
	if n <= 0 {
		n = parseAmount(res["estimatedAmount"])
	}
	if n <= 0 {
		return Estimate{}
	}
	return Estimate{ToAmount: n, Raw: json.RawMessage(body)}
}

// Create opens an exchange and normalizes the deposit fields.
func (p *ChangeNOW) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	body := map[string]interface{}{
		"fromCurrency": strings.ToLower(string(req.FromAsset)),
		"toCurrency":   strings.ToLower(string(req.ToAsset)),
		"fromAmount":   formatAmount(req.Amount),
		"address":      req.PayoutAddress,
		"flow":         cnFlow(req.RateType),
	}
	if fnet := cnNetwork(req.FromAsset, req.FromNetwork); fnet != "" {
		body["fromNetwork"] = fnet
	}
	if tnet := cnNetwork(req.ToAsset, req.ToNetwork); tnet != "" {
		body["toNetwork"] = tnet
	}
	if req.RefundAddress != "" {
		body["refundAddress"] = req.RefundAddress
	}

	status, raw, err := postJSON(ctx, p.httpClient, p.baseURL+"/exchange", body, p.headers())
	if err != nil {
		return nil, fmt.Errorf("%w: ChangeNOW: %v", ErrCreateFailed, err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: ChangeNOW status %d: %s", ErrCreateFailed, status, snippet(raw))
	}

	var res struct {
		ID                 string `json:"id"`
		ExchangeID         string `json:"exchangeId"`
		PayinAddress       string `json:"payinAddress"`
		PayinAddressString string `json:"payinAddressString"`
		PayinExtraID       string `json:"payinExtraId"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: ChangeNOW: bad create response: %v", ErrCreateFailed, err)
	}

	order := &Order{
		OrderID:        res.ID,
		DepositAddress: res.PayinAddress,
		DepositExtra:   res.PayinExtraID,
		Raw:            json.RawMessage(raw),
	}
	if order.OrderID == "" {
		order.OrderID = res.ExchangeID
	}
	if order.DepositAddress == "" {
		order.DepositAddress = res.PayinAddressString
	}
	if order.DepositAddress == "" {
		return nil, fmt.Errorf("%w: ChangeNOW returned no deposit address", ErrCreateFailed)
	}
	return order, nil
}

// Info fetches order status by id.
func (p *ChangeNOW) Info(ctx context.Context, orderID string) (*Info, error) {
	q := url.Values{}
	q.Set("id", orderID)

	status, raw, err := getJSON(ctx, p.httpClient, p.baseURL+"/exchange/by-id", q, p.headers())
	if err != nil {
		return nil, fmt.Errorf("ChangeNOW info failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("ChangeNOW info status %d: %s", status, snippet(raw))
	}
	return &Info{Status: statusFromRaw(raw), Raw: json.RawMessage(raw)}, nil
}

var _ Provider = (*ChangeNOW)(nil)
