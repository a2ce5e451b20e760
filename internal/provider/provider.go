// Package provider normalizes external swap providers to a uniform
// estimate/create/info contract. Each adapter hides its provider's
// network-naming convention, auth scheme and response-shape quirks; the
// engine only ever sees the normalized types below.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/monerizer/monerizerd/internal/asset"
)

// ErrCreateFailed wraps a non-2xx create response or a create response
// with an empty deposit address.
var ErrCreateFailed = errors.New("provider create failed")

// EstimateRequest asks how much ToAsset a provider pays for Amount of
// FromAsset. Network fields are empty for XMR, which never carries a
// network tag.
type EstimateRequest struct {
	FromAsset   asset.Symbol
	FromNetwork asset.Network
	ToAsset     asset.Symbol
	ToNetwork   asset.Network
	Amount      float64
	RateType    asset.RateType
}

// Estimate is a normalized quote. ToAmount of 0 means "hide this route":
// the pair is unsupported, the amount is below the provider minimum, or
// the provider did not respond. The raw payload is kept for diagnostics
// only; the engine never consumes it.
type Estimate struct {
	ToAmount float64         `json:"to_amount"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// CreateRequest asks a provider to open an order.
type CreateRequest struct {
	FromAsset     asset.Symbol
	FromNetwork   asset.Network
	ToAsset       asset.Symbol
	ToNetwork     asset.Network
	Amount        float64
	PayoutAddress string
	RateType      asset.RateType
	RefundAddress string // optional
}

// Order is a normalized created order. Adapters map provider-specific
// deposit field names (payinAddress / depositAddress / deposit /
// address_from) onto DepositAddress, and tag/memo fields onto
// DepositExtra.
type Order struct {
	OrderID        string          `json:"order_id"`
	DepositAddress string          `json:"deposit_address"`
	DepositExtra   string          `json:"deposit_extra,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// Info is a normalized order status. Status is lower-cased; the engine
// interprets it against a small vocabulary.
type Info struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// Provider is the uniform contract over an external swap service.
type Provider interface {
	Name() string

	// Estimate never fails: adapters swallow transport and shape errors
	// and report ToAmount 0 so the route is simply hidden.
	Estimate(ctx context.Context, req EstimateRequest) Estimate

	Create(ctx context.Context, req CreateRequest) (*Order, error)

	Info(ctx context.Context, orderID string) (*Info, error)
}

// Registry holds the configured providers in quoting order.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		byName: make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		r.providers = append(r.providers, p)
		r.byName[p.Name()] = p
	}
	return r
}

// All returns the providers in registration order.
func (r *Registry) All() []Provider {
	return r.providers
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Names returns the registered provider names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// statusFromRaw extracts a lower-cased "status" string from a raw
// provider payload. Unknown shapes yield "".
func statusFromRaw(raw json.RawMessage) string {
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(probe.Status))
}

// parseAmount coerces the loosely typed numbers providers return
// (float, integer or numeric string) into a float64.
func parseAmount(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var f float64
		if _, err := jsonNumber(n, &f); err == nil {
			return f
		}
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func jsonNumber(s string, out *float64) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, errors.New("empty")
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return false, err
	}
	return true, nil
}
