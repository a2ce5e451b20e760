// Package api exposes the HTTP surface: quoting, swap start/status, the
// admin listing and diagnostics, plus a WebSocket feed of swap updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/monerizer/monerizerd/internal/oracle"
	"github.com/monerizer/monerizerd/internal/provider"
	"github.com/monerizer/monerizerd/internal/quote"
	"github.com/monerizer/monerizerd/internal/storage"
	"github.com/monerizer/monerizerd/internal/swap"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server is the HTTP API server.
type Server struct {
	engine    *swap.Engine
	registry  *swap.Registry
	quotes    *quote.Engine
	providers *provider.Registry
	prices    oracle.Source
	events    *storage.EventLog
	hub       *WSHub
	log       *logging.Logger

	server   *http.Server
	listener net.Listener
}

// Config wires a Server.
type Config struct {
	Engine    *swap.Engine
	Registry  *swap.Registry
	Quotes    *quote.Engine
	Providers *provider.Registry
	Prices    oracle.Source
	Events    *storage.EventLog
	Hub       *WSHub
}

// NewServer creates an API server.
func NewServer(cfg Config) *Server {
	return &Server{
		engine:    cfg.Engine,
		registry:  cfg.Registry,
		quotes:    cfg.Quotes,
		providers: cfg.Providers,
		prices:    cfg.Prices,
		events:    cfg.Events,
		hub:       cfg.Hub,
		log:       logging.GetDefault().Component("api"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/quote", s.handleQuote)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)

	mux.HandleFunc("GET /api/admin/swaps", s.handleAdminList)
	mux.HandleFunc("GET /api/admin/swaps/{id}", s.handleAdminGet)

	mux.HandleFunc("POST /api/quote_debug", s.handleQuoteDebug)
	mux.HandleFunc("GET /api/diag/providers", s.handleDiagProviders)
	mux.HandleFunc("GET /api/diag/version", s.handleDiagVersion)

	if s.hub != nil {
		mux.HandleFunc("GET /api/ws", s.hub.HandleWS)
	}

	return corsMiddleware(mux)
}

// Start begins serving on addr.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "error", err)
		}
	}()

	s.log.Info("API server listening", "addr", listener.Addr().String())
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, for tests using port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
