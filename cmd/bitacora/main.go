// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/bitacora/pkg/config"
	"github.com/certen/bitacora/pkg/coordinator"
	"github.com/certen/bitacora/pkg/notarizer"
	"github.com/certen/bitacora/pkg/server"
	"github.com/certen/bitacora/pkg/storage/redisstore"
)

func main() {
	cfg := config.Defaults()

	configFile := flag.String("config", "", "optional YAML config file, layered under flags")
	web3 := flag.String("web3", cfg.Web3URL, "web3 JSON-RPC URL")
	chainID := flag.Int64("chain-id", cfg.ChainID, "EVM chain id")
	contractsBase := flag.String("contracts-base", cfg.ContractsBase, "directory holding contract artifacts")
	contractAddress := flag.String("contract-address", cfg.ContractAddress, "ledger contract address")
	privateKey := flag.String("private-key", cfg.PrivateKey, "hex-encoded signing key for chain submissions")
	datasetLimit := flag.Uint("dataset-limit", uint(cfg.DatasetLimit), "records per dataset before it seals")
	flag.UintVar(datasetLimit, "d", uint(cfg.DatasetLimit), "shorthand for -dataset-limit")
	redisURL := flag.String("redis", cfg.RedisURL, "redis connection URL")
	flag.StringVar(redisURL, "r", cfg.RedisURL, "shorthand for -redis")
	listenAddr := flag.String("listen", cfg.ListenAddr, "HTTP listen address")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "metrics listen address")
	flag.Parse()

	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			log.Fatalf("bitacora: %v", err)
		}
		// Re-seed the flag values from the file, then parse again so only
		// flags given on the command line override it.
		*web3, *chainID, *contractsBase, *contractAddress = cfg.Web3URL, cfg.ChainID, cfg.ContractsBase, cfg.ContractAddress
		*privateKey, *datasetLimit, *redisURL = cfg.PrivateKey, uint(cfg.DatasetLimit), cfg.RedisURL
		*listenAddr, *metricsAddr = cfg.ListenAddr, cfg.MetricsAddr
		flag.Parse()
	}
	cfg.Web3URL = *web3
	cfg.ChainID = *chainID
	cfg.ContractsBase = *contractsBase
	cfg.ContractAddress = *contractAddress
	cfg.PrivateKey = *privateKey
	cfg.DatasetLimit = uint32(*datasetLimit)
	cfg.RedisURL = *redisURL
	cfg.ListenAddr = *listenAddr
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		log.Fatalf("bitacora: %v", err)
	}

	logger := log.New(os.Stdout, "[bitacora] ", log.LstdFlags)

	store, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	chain, err := notarizer.New(cfg.Web3URL, cfg.ChainID, cfg.ContractAddress, cfg.PrivateKey,
		notarizer.WithBlockchainLabel(cfg.BlockchainLabel))
	if err != nil {
		logger.Fatalf("notarizer: %v", err)
	}
	defer chain.Close()

	coord := coordinator.New(store, chain, logger)

	reg := prometheus.NewRegistry()
	handlers := server.New(coord, logger, reg, server.WithDefaultDatasetLimit(cfg.DatasetLimit))

	mux := handlers.Mux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
