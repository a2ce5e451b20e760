package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/internal/storage"
	"github.com/monerizer/monerizerd/internal/swap"
)

// SwapMetrics are derived figures for the admin views.
type SwapMetrics struct {
	Bucket            string  `json:"bucket"`
	GrossXMRSeen      float64 `json:"gross_xmr_seen"`
	NetXMRSent        float64 `json:"net_xmr_sent"`
	OurFeeXMR         float64 `json:"our_fee_xmr"`
	OurFeeUSD         float64 `json:"our_fee_usd"`
	OurFeePct         float64 `json:"our_fee_pct"`
	ProviderSpreadXMR float64 `json:"provider_spread_xmr"`
}

// AdminSwap is one admin listing entry.
type AdminSwap struct {
	*swap.Swap
	Metrics SwapMetrics `json:"metrics"`
}

// AdminListResponse is the paged admin listing.
type AdminListResponse struct {
	Swaps    []AdminSwap `json:"swaps"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// AdminSwapDetail is a single swap plus its audit history.
type AdminSwapDetail struct {
	AdminSwap
	Events []storage.Event `json:"events,omitempty"`
}

func (s *Server) metricsFor(sw *swap.Swap, xmrUSD float64) SwapMetrics {
	m := SwapMetrics{
		Bucket:            sw.Bucket(),
		NetXMRSent:        sw.SentXMR,
		OurFeeXMR:         sw.OurFeeXMR,
		ProviderSpreadXMR: sw.Request.ProviderSpreadXMR,
	}
	if sw.SentXMR > 0 {
		// The fee was only earned once XMR actually moved.
		m.GrossXMRSeen = sw.SentXMR + sw.OurFeeXMR
		m.OurFeeUSD = sw.OurFeeXMR * xmrUSD
		if m.GrossXMRSeen > 0 {
			m.OurFeePct = 100 * sw.OurFeeXMR / m.GrossXMRSeen
		}
	}
	return m
}

// matchQuery reports whether a free-text admin search hits the swap.
func matchQuery(sw *swap.Swap, q string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	for _, field := range []string{
		sw.ID,
		sw.Leg1.Provider,
		sw.Leg2.Provider,
		sw.Leg1.OrderID,
		sw.Leg2.OrderID,
		string(sw.Request.InAsset),
		string(sw.Request.OutAsset),
		sw.Request.PayoutAddress,
		sw.Leg1.DepositAddress,
	} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	bucket := strings.ToLower(query.Get("status"))
	q := query.Get("q")

	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	xmrUSD := s.prices.GetPrices(r.Context())[asset.XMR]

	var filtered []AdminSwap
	for _, sw := range s.registry.List() {
		if bucket != "" && sw.Bucket() != bucket {
			continue
		}
		if !matchQuery(sw, q) {
			continue
		}
		filtered = append(filtered, AdminSwap{Swap: sw, Metrics: s.metricsFor(sw, xmrUSD)})
	}

	total := len(filtered)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, AdminListResponse{
		Swaps:    filtered[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (s *Server) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sw, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown swap id")
		return
	}

	xmrUSD := s.prices.GetPrices(r.Context())[asset.XMR]
	detail := AdminSwapDetail{
		AdminSwap: AdminSwap{Swap: sw, Metrics: s.metricsFor(sw, xmrUSD)},
	}
	if s.events != nil {
		if events, err := s.events.EventsFor(id); err == nil {
			detail.Events = events
		} else {
			s.log.Debug("Failed to load events", "id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, detail)
}
