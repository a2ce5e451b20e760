// Package main provides the monerizerd daemon: a two-leg swap
// orchestrator that routes every trade through a fresh Monero
// subaddress before the second provider pays the user out.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/monerizer/monerizerd/internal/api"
	"github.com/monerizer/monerizerd/internal/config"
	"github.com/monerizer/monerizerd/internal/oracle"
	"github.com/monerizer/monerizerd/internal/provider"
	"github.com/monerizer/monerizerd/internal/quote"
	"github.com/monerizer/monerizerd/internal/storage"
	"github.com/monerizer/monerizerd/internal/swap"
	"github.com/monerizer/monerizerd/internal/walletrpc"
	"github.com/monerizer/monerizerd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "", "Data directory (default: ~/.monerizer)")
		apiAddr     = flag.String("api", "", "HTTP API address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Initial logger; rebuilt once the config level is known.
	log := logging.New(&logging.Config{
		Level: "info",
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("monerizerd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over config file and environment.
	if *apiAddr != "" {
		cfg.API.ListenAddr = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log = logging.New(&logging.Config{
		Level: cfg.Logging.Level,
	})
	logging.SetDefault(log)

	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	configPath := filepath.Join(dataPath, config.FileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.Save(configPath); err != nil {
			log.Warn("Failed to write default config", "error", err)
		} else {
			log.Info("Wrote default config", "path", configPath)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: swap snapshot plus the sqlite audit log.
	snapshot, err := storage.NewSnapshot(filepath.Join(dataPath, "swaps.json"))
	if err != nil {
		log.Fatal("Failed to initialize snapshot storage", "error", err)
	}
	events, err := storage.NewEventLog(dataPath)
	if err != nil {
		log.Fatal("Failed to initialize event log", "error", err)
	}
	defer events.Close()
	log.Info("Storage initialized", "path", dataPath)

	registry, err := swap.NewRegistry(snapshot)
	if err != nil {
		log.Fatal("Failed to restore swap registry", "error", err)
	}
	log.Info("Swap registry restored", "swaps", registry.Len())

	wallet := walletrpc.NewRPCClient(cfg.Wallet.RPCURL, cfg.Wallet.RPCUser, cfg.Wallet.RPCPass)
	prices := oracle.NewCoinGecko()

	providers := provider.NewRegistry(
		provider.NewChangeNOW(cfg.Providers.ChangeNowKey),
		provider.NewExolix(cfg.Providers.ExolixKey),
		provider.NewSimpleSwap(cfg.Providers.SimpleSwapKey),
		provider.NewStealthEX(cfg.Providers.StealthExKey, prices, cfg.Fees.StealthExHaircut),
	)
	log.Info("Providers registered", "providers", providers.Names())

	quotes := quote.NewEngine(providers, prices, cfg.Fees.MaxRatio, cfg.Fees.SendReserveXMR)

	hub := api.NewWSHub()
	go hub.Run()

	engine := swap.NewEngine(swap.EngineConfig{
		Registry:       registry,
		Providers:      providers,
		Wallet:         wallet,
		SendReserveXMR: cfg.Fees.SendReserveXMR,
		Events:         events,
		Notifier:       hub,
	})

	sweeper := swap.NewSweeper(engine, registry, cfg.Sweep.Interval(), cfg.Sweep.Parallelism)
	go sweeper.Run(ctx)
	log.Info("Sweeper started", "interval", cfg.Sweep.Interval(), "parallelism", cfg.Sweep.Parallelism)

	api.Version = version
	server := api.NewServer(api.Config{
		Engine:    engine,
		Registry:  registry,
		Quotes:    quotes,
		Providers: providers,
		Prices:    prices,
		Events:    events,
		Hub:       hub,
	})
	if err := server.Start(cfg.API.ListenAddr); err != nil {
		log.Fatal("Failed to start API server", "error", err)
	}

	printBanner(log, cfg, server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping API server", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, addr string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Monerizer (version %s)", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", addr)
	log.Infof("  WS:  ws://%s/api/ws", addr)
	log.Info("")
	log.Infof("  Wallet RPC: %s", cfg.Wallet.RPCURL)
	log.Infof("  Data dir:   %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Infof("  Sweep:      every %s", cfg.Sweep.Interval())
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
