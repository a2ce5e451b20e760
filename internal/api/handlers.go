package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/internal/provider"
	"github.com/monerizer/monerizerd/internal/quote"
	"github.com/monerizer/monerizerd/internal/swap"
)

// StartRequest is the /api/start body.
type StartRequest struct {
	InAsset           string  `json:"in_asset"`
	InNetwork         string  `json:"in_network"`
	Amount            float64 `json:"amount"`
	OutAsset          string  `json:"out_asset"`
	OutNetwork        string  `json:"out_network"`
	RateType          string  `json:"rate_type"`
	Leg1Provider      string  `json:"leg1_provider"`
	Leg2Provider      string  `json:"leg2_provider,omitempty"`
	PayoutAddress     string  `json:"payout_address"`
	RefundAddressUser string  `json:"refund_address_user,omitempty"`
	OurFeeXMR         float64 `json:"our_fee_xmr,omitempty"`
	ProviderSpreadXMR float64 `json:"provider_spread_xmr,omitempty"`
}

// StartResponse is the /api/start reply.
type StartResponse struct {
	SwapID         string `json:"swap_id"`
	DepositAddress string `json:"deposit_address"`
	DepositExtra   string `json:"deposit_extra,omitempty"`
	Leg1TxID       string `json:"leg1_tx_id"`
	Status         string `json:"status"`
}

// quoteBody is the /api/quote body before normalization.
type quoteBody struct {
	InAsset    string  `json:"in_asset"`
	InNetwork  string  `json:"in_network"`
	Amount     float64 `json:"amount"`
	OutAsset   string  `json:"out_asset"`
	OutNetwork string  `json:"out_network"`
	RateType   string  `json:"rate_type"`
}

// normalizeQuote validates and normalizes a raw quote body.
func normalizeQuote(body quoteBody) (quote.Request, error) {
	var req quote.Request

	req.InAsset = asset.Symbol(asset.Normalize(body.InAsset))
	req.InNetwork = asset.Network(asset.Normalize(body.InNetwork))
	req.OutAsset = asset.Symbol(asset.Normalize(body.OutAsset))
	req.OutNetwork = asset.Network(asset.Normalize(body.OutNetwork))
	req.Amount = body.Amount

	req.RateType = asset.RateType(body.RateType)
	if req.RateType == "" {
		req.RateType = asset.RateFloat
	}
	if !asset.ValidRateType(req.RateType) {
		return req, fmt.Errorf("invalid rate_type %q", body.RateType)
	}
	if req.Amount <= 0 {
		return req, errors.New("amount must be positive")
	}
	if err := asset.Validate(req.InAsset, req.InNetwork); err != nil {
		return req, err
	}
	if err := asset.Validate(req.OutAsset, req.OutNetwork); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req, err := normalizeQuote(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.quotes.Quote(r.Context(), req)
	if err != nil {
		if errors.Is(err, quote.ErrNoQuote) {
			writeError(w, http.StatusBadGateway, "all providers failed to quote")
			return
		}
		s.log.Error("Quote failed", "error", err)
		writeError(w, http.StatusInternalServerError, "quote failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	qreq, err := normalizeQuote(quoteBody{
		InAsset:    body.InAsset,
		InNetwork:  body.InNetwork,
		Amount:     body.Amount,
		OutAsset:   body.OutAsset,
		OutNetwork: body.OutNetwork,
		RateType:   body.RateType,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Leg1Provider == "" {
		writeError(w, http.StatusBadRequest, "leg1_provider is required")
		return
	}
	if _, ok := s.providers.Get(body.Leg1Provider); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown leg1_provider %q", body.Leg1Provider))
		return
	}
	if body.Leg2Provider != "" {
		if _, ok := s.providers.Get(body.Leg2Provider); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown leg2_provider %q", body.Leg2Provider))
			return
		}
		if body.Leg2Provider == body.Leg1Provider {
			writeError(w, http.StatusBadRequest, "leg1_provider and leg2_provider must differ")
			return
		}
	}
	if body.PayoutAddress == "" {
		writeError(w, http.StatusBadRequest, "payout_address is required")
		return
	}
	if body.OurFeeXMR < 0 {
		writeError(w, http.StatusBadRequest, "our_fee_xmr must not be negative")
		return
	}
	if body.ProviderSpreadXMR < 0 {
		writeError(w, http.StatusBadRequest, "provider_spread_xmr must not be negative")
		return
	}

	sw, err := s.engine.Start(r.Context(), swap.Request{
		InAsset:           qreq.InAsset,
		InNetwork:         qreq.InNetwork,
		Amount:            qreq.Amount,
		OutAsset:          qreq.OutAsset,
		OutNetwork:        qreq.OutNetwork,
		RateType:          qreq.RateType,
		Leg1Provider:      body.Leg1Provider,
		Leg2Provider:      body.Leg2Provider,
		PayoutAddress:     body.PayoutAddress,
		RefundAddress:     body.RefundAddressUser,
		OurFeeXMR:         body.OurFeeXMR,
		ProviderSpreadXMR: body.ProviderSpreadXMR,
	})
	if err != nil {
		if errors.Is(err, provider.ErrCreateFailed) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.log.Error("Start failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to start swap")
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		SwapID:         sw.ID,
		DepositAddress: sw.Leg1.DepositAddress,
		DepositExtra:   sw.Leg1.DepositExtra,
		Leg1TxID:       sw.Leg1.OrderID,
		Status:         sw.Leg1.Status,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sw, err := s.engine.Advance(r.Context(), id)
	if err != nil {
		if errors.Is(err, swap.ErrUnknownSwap) {
			writeError(w, http.StatusNotFound, "unknown swap id")
			return
		}
		s.log.Error("Status advance failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "status failed")
		return
	}
	writeJSON(w, http.StatusOK, sw)
}
