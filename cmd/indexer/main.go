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

	"github.com/joho/godotenv"

	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/ingestion"
	"evm-swap-indexer/internal/observability"
	"evm-swap-indexer/internal/storage"
	chstore "evm-swap-indexer/internal/storage/clickhouse"
	"evm-swap-indexer/internal/storage/memory"
	"evm-swap-indexer/internal/storage/migrations"
	pgstore "evm-swap-indexer/internal/storage/postgres"
)

func main() {
	// .env values act as defaults; explicit flags win.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("RPC_ENDPOINT"), "EVM JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("WS_ENDPOINT"), "EVM WebSocket endpoint for newHeads (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the analytics mirror (optional)")
	pools := flag.String("pools", os.Getenv("POOLS"), "Comma-separated pool specs: address:startBlock[:endBlock]")
	chainID := flag.Uint64("chain-id", envUint64("CHAIN_ID", 1), "Chain id of the tracked network")
	pollInterval := flag.Duration("poll-interval", envDuration("POLL_INTERVAL", ingestion.DefaultPollInterval), "Head poll interval in live state")
	batchSize := flag.Uint64("batch-size", envUint64("BATCH_SIZE", ingestion.DefaultBatchSize), "Max blocks per fetch+commit step")
	fetchAttempts := flag.Int("fetch-attempts", int(envUint64("FETCH_ATTEMPTS", ingestion.DefaultFetchAttempts)), "Bounded fetch retries before a worker halts")
	maxReorgDepth := flag.Uint64("max-reorg-depth", envUint64("MAX_REORG_DEPTH", ingestion.DefaultMaxReorgDepth), "Deepest reorg a worker will walk back")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	configs, err := parsePoolSpecs(*pools, *chainID, *batchSize, *pollInterval, *fetchAttempts, *maxReorgDepth)
	if err != nil {
		logger.Fatalf("Invalid --pools: %v", err)
	}
	if len(configs) == 0 {
		logger.Fatal("No pools specified. Use --pools address:startBlock[:endBlock]")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	metrics := observability.NewMetrics("", nil)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, logger, metrics, configs, *rpcEndpoint, *wsEndpoint, *postgresDSN, *clickhouseDSN, *useMemory)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, metrics *observability.Metrics,
	configs []ingestion.Config, rpcEndpoint, wsEndpoint, postgresDSN, clickhouseDSN string, useMemory bool) error {

	rpc := ethereum.NewHTTPClient(rpcEndpoint)

	var store storage.SyncStore = memory.NewStore()
	if !useMemory {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}
		store = pgstore.NewStore(pool)
	}

	var mirror ingestion.EventMirror
	if clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			return fmt.Errorf("apply clickhouse migrations: %w", err)
		}
		defer conn.Close()
		mirror = chstore.NewSwapMirrorStore(conn)
		logger.Println("ClickHouse mirror enabled")
	}

	// Head notifications over WS wake live workers early; polling remains
	// the fallback when no WS endpoint is configured.
	var heads <-chan ethereum.BlockHeader
	if wsEndpoint != "" {
		ws, err := ethereum.NewWSClient(ctx, wsEndpoint, nil)
		if err != nil {
			return fmt.Errorf("create websocket client: %w", err)
		}
		defer ws.Close()

		heads, err = ws.SubscribeNewHeads(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to new heads: %w", err)
		}
		logger.Println("Subscribed to newHeads")
	}

	workers := make([]*ingestion.Worker, 0, len(configs))
	for i, cfg := range configs {
		// Only the first worker consumes WS notifications; the rest poll.
		var workerHeads <-chan ethereum.BlockHeader
		if i == 0 {
			workerHeads = heads
		}
		w, err := ingestion.NewWorker(ingestion.WorkerOptions{
			Config:  cfg,
			RPC:     rpc,
			Store:   store,
			Mirror:  mirror,
			Heads:   workerHeads,
			Metrics: metrics,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("create worker for %s: %w", cfg.Pool.Hex(), err)
		}
		workers = append(workers, w)
	}

	logger.Printf("Starting %d sync worker(s)...", len(workers))
	return ingestion.NewRunner(workers, logger).Run(ctx)
}

// parsePoolSpecs parses "address:startBlock[:endBlock]" specs.
func parsePoolSpecs(specs string, chainID, batchSize uint64, pollInterval time.Duration,
	fetchAttempts int, maxReorgDepth uint64) ([]ingestion.Config, error) {

	var configs []ingestion.Config
	for _, spec := range strings.Split(specs, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("spec %q: want address:startBlock[:endBlock]", spec)
		}

		addr, err := ethereum.ParseAddress(parts[0])
		if err != nil {
			return nil, fmt.Errorf("spec %q: %w", spec, err)
		}
		start, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("spec %q: start block: %w", spec, err)
		}
		var end uint64
		if len(parts) == 3 {
			end, err = strconv.ParseUint(parts[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("spec %q: end block: %w", spec, err)
			}
		}

		configs = append(configs, ingestion.Config{
			Pool:          addr,
			ChainID:       chainID,
			StartBlock:    start,
			EndBlock:      end,
			BatchSize:     batchSize,
			PollInterval:  pollInterval,
			FetchAttempts: fetchAttempts,
			MaxReorgDepth: maxReorgDepth,
		})
	}
	return configs, nil
}

func envUint64(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
