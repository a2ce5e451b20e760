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

// Exolix adapts the Exolix v2 API. Networks travel upper-cased
// (networkFrom/networkTo) and the API key goes in a Bearer Authorization
// header.
type Exolix struct {
	baseURL    string
	auth       string
	httpClient *http.Client
	log        *logging.Logger
}

// NewExolix creates an Exolix adapter. A key already carrying a
// "Bearer " prefix is used verbatim.
func NewExolix(apiKey string) *Exolix {
	apiKey = strings.TrimSpace(apiKey)
	auth := ""
	if apiKey != "" {
		if strings.HasPrefix(strings.ToLower(apiKey), "bearer ") {
			auth = apiKey
		} else {
			auth = "Bearer " + apiKey
		}
	}
	return &Exolix{
		baseURL: "https://exolix.com/api/v2",
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.GetDefault().Component("exolix"),
	}
}

// NewExolixWithBase creates an adapter against a custom base URL
// (used in tests).
func NewExolixWithBase(apiKey, base string) *Exolix {
	p := NewExolix(apiKey)
	p.baseURL = base
	return p
}

// Name implements Provider.
func (p *Exolix) Name() string { return "Exolix" }

func (p *Exolix) headers() map[string]string {
	h := map[string]string{}
	if p.auth != "" {
		h["Authorization"] = p.auth
	}
	return h
}

// exNetwork upper-cases a network hint. XMR stays networkless on the
// request side; Exolix itself calls its chain XMR on create.
func exNetwork(sym asset.Symbol, net asset.Network) string {
	if sym == asset.XMR || net == "" {
		return ""
	}
	return strings.ToUpper(string(net))
}

// Estimate quotes via /rate, retrying once without network hints before
// giving up with a reduced amount.
func (p *Exolix) Estimate(ctx context.Context, req EstimateRequest) Estimate {
	ctx, cancel := context.WithTimeout(ctx, estimateTimeout)
	defer cancel()

	fnet := exNetwork(req.FromAsset, req.FromNetwork)
	tnet := exNetwork(req.ToAsset, req.ToNetwork)

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

func (p *Exolix) estimateOnce(ctx context.Context, req EstimateRequest, amount float64, fnet, tnet string) Estimate {
	q := url.Values{}
	q.Set("coinFrom", string(req.FromAsset))
	q.Set("coinTo", string(req.ToAsset))
	q.Set("amount", formatAmount(amount))
	q.Set("rateType", string(req.RateType))
	if fnet != "" {
		q.Set("networkFrom", fnet)
	}
	if tnet != "" {
		q.Set("networkTo", tnet)
	}

	status, body, err := getJSON(ctx, p.httpClient, p.baseURL+"/rate", q, p.headers())
	if err != nil || status != http.StatusOK {
		p.log.Debug("Rate attempt failed", "status", status, "error", err)
		return Estimate{}
	}

	var res map[string]interface{}
	if err := json.Unmarshal(body, &res); err != nil {
		return Estimate{}
	}
	n := parseAmount(res["toAmount"])
	if n <= 0 {
		return Estimate{}
	}
	return Estimate{ToAmount: n, Raw: json.RawMessage(body)}
}

// Create opens a transaction. Exolix requires network tags, so native
// coins fall back to their own symbol as the network name.
func (p *Exolix) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	fnet := exNetwork(req.FromAsset, req.FromNetwork)
	if fnet == "" {
		fnet = strings.ToUpper(string(req.FromAsset))
	}
	tnet := exNetwork(req.ToAsset, req.ToNetwork)
	if tnet == "" {
		tnet = strings.ToUpper(string(req.ToAsset))
	}

	body := map[string]interface{}{
		"coinFrom":          string(req.FromAsset),
		"coinTo":            string(req.ToAsset),
		"networkFrom":       fnet,
		"networkTo":         tnet,
		"amount":            req.Amount,
		"withdrawalAddress": req.PayoutAddress,
		"rateType":          string(req.RateType),
	}
	if req.RefundAddress != "" {
		body["refundAddress"] = req.RefundAddress
	}

	status, raw, err := postJSON(ctx, p.httpClient, p.baseURL+"/transactions", body, p.headers())
	if err != nil {
		return nil, fmt.Errorf("%w: Exolix: %v", ErrCreateFailed, err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: Exolix status %d: %s", ErrCreateFailed, status, snippet(raw))
	}

	var res struct {
		ID             string `json:"id"`
		TransactionID  string `json:"transaction_id"`
		DepositAddress string `json:"depositAddress"`
		DepositExtraID string `json:"depositExtraId"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: Exolix: bad create response: %v", ErrCreateFailed, err)
	}

	order := &Order{
		OrderID:        res.ID,
		DepositAddress: res.DepositAddress,
		DepositExtra:   res.DepositExtraID,
		Raw:            json.RawMessage(raw),
	}
	if order.OrderID == "" {
		order.OrderID = res.TransactionID
	}
	if order.DepositAddress == "" {
		return nil, fmt.Errorf("%w: Exolix returned no deposit address", ErrCreateFailed)
	}
	return order, nil
}

// Info fetches transaction status by id.
func (p *Exolix) Info(ctx context.Context, orderID string) (*Info, error) {
	status, raw, err := getJSON(ctx, p.httpClient, p.baseURL+"/transactions/"+url.PathEscape(orderID), nil, p.headers())
	if err != nil {
		return nil, fmt.Errorf("Exolix info failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Exolix info status %d: %s", status, snippet(raw))
	}
	return &Info{Status: statusFromRaw(raw), Raw: json.RawMessage(raw)}, nil
}

var _ Provider = (*Exolix)(nil)
