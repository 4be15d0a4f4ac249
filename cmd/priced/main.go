// Command priced is the real-time pool price aggregation service: it
// ingests on-chain account updates, derives cross-pair spot prices, folds
// them into OHLC candles, and serves both a REST history API and a
// per-client push websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lag/prices/pkg/candle"
	"github.com/lag/prices/pkg/config"
	"github.com/lag/prices/pkg/fanout"
	"github.com/lag/prices/pkg/httpapi"
	"github.com/lag/prices/pkg/pricestore"
	"github.com/lag/prices/pkg/registry"
	"github.com/lag/prices/pkg/sol"
	"github.com/lag/prices/pkg/store"
	"github.com/lag/prices/pkg/tickwriter"
)

var (
	rpcEndpoints = flag.String("rpc", "", "Comma-separated Solana RPC endpoints for the AMM balance fetch (uses .env RPC_ENDPOINTS if empty)")
	port         = flag.Int("port", 0, "HTTP server port (uses .env PORT if 0)")
	rateLimit    = flag.Int("ratelimit", 5, "RPC requests per second per endpoint")
	registryPath = flag.String("registry", "", "Tracked-pool descriptor file (uses .env REGISTRY_PATH if empty)")
	ticksDB      = flag.String("ticks-db", "prices.db", "Tick-level SQLite database path")
	historicalDB = flag.String("historical-db", "prices_historical.db", "Candle SQLite database path")
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}
	flag.Parse()

	regPath := *registryPath
	if regPath == "" {
		regPath = config.GetRegistryPath()
	}
	reg, err := registry.New(regPath)
	if err != nil {
		log.Fatalf("Failed to load registry: %v", err)
	}

	db, err := store.Open(*ticksDB, *historicalDB)
	if err != nil {
		log.Fatalf("Failed to open databases: %v", err)
	}
	defer db.Close()

	priceStore := pricestore.New()

	var endpoints []string
	if *rpcEndpoints != "" {
		endpoints = strings.Split(*rpcEndpoints, ",")
		for i := range endpoints {
			endpoints[i] = strings.TrimSpace(endpoints[i])
		}
	} else {
		endpoints = config.GetRPCEndpoints()
	}
	if len(endpoints) == 0 {
		endpoints = []string{config.GetSolanaRPCURL()}
	}
	ammPool := sol.NewRPCPool(endpoints, *rateLimit)

	tw, err := tickwriter.New(config.GetSolanaRPCWS(), reg, priceStore, db, ammPool)
	if err != nil {
		log.Fatalf("Failed to create tick writer: %v", err)
	}
	aggregator := candle.New(reg, db)
	hub := fanout.New(reg, priceStore, db)
	api := httpapi.New(reg, db)

	stop := make(chan struct{})
	go tw.Run(stop)
	go aggregator.Run(stop)

	httpPort := *port
	if httpPort == 0 {
		httpPort = 8000
		if v := config.GetString("PORT", ""); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				httpPort = n
			}
		}
	}

	mux := api.Mux()
	mux.HandleFunc("GET /ws", hub.ServeHTTP)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.GetHost(), httpPort),
		Handler: corsMiddleware(mux),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		close(stop)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Tracking %d pools from %s", len(reg.Descriptors()), regPath)
	log.Printf("Server listening on http://%s", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
