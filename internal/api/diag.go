package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/internal/provider"
	"github.com/monerizer/monerizerd/internal/quote"
)

// handleQuoteDebug runs a leg-1 estimate against every provider and
// returns the raw results side by side. Unlike /api/quote it hides
// nothing: zeros and raw payloads are all visible.
func (s *Server) handleQuoteDebug(w http.ResponseWriter, r *http.Request) {
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

	type debugEstimate struct {
		ToAmount float64         `json:"to_amount"`
		Raw      json.RawMessage `json:"raw,omitempty"`
	}
	out := struct {
		Request   quote.Request            `json:"request"`
		Estimates map[string]debugEstimate `json:"estimates"`
	}{
		Request:   req,
		Estimates: make(map[string]debugEstimate),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range s.providers.All() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			est := p.Estimate(r.Context(), provider.EstimateRequest{
				FromAsset:   req.InAsset,
				FromNetwork: req.InNetwork,
				ToAsset:     asset.XMR,
				Amount:      req.Amount,
				RateType:    req.RateType,
			})
			mu.Lock()
			out.Estimates[p.Name()] = debugEstimate{ToAmount: est.ToAmount, Raw: est.Raw}
			mu.Unlock()
		}()
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDiagProviders(w http.ResponseWriter, r *http.Request) {
	lastReq, lastResp := s.quotes.LastQuote()

	out := struct {
		Providers []string       `json:"providers"`
		LastQuote *quote.Request `json:"last_quote_req,omitempty"`
		LastBest  *quote.Route   `json:"last_best_route,omitempty"`
		Swaps     int            `json:"swaps"`
	}{
		Providers: s.providers.Names(),
		LastQuote: lastReq,
		Swaps:     s.registry.Len(),
	}
	if lastResp != nil && len(lastResp.Options) > 0 {
		out.LastBest = &lastResp.Options[0]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDiagVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"go":      runtime.Version(),
	})
}
