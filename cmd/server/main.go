/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the kiosk ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the selected store backend
  3. Wire domain services and the API handler
  4. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -backend   Store backend: sqlite, redis, or memory (default: sqlite)
  -db        SQLite database path (default: kiosk.db)
             Use ":memory:" for an in-memory database
  -redis     Redis address for the redis backend (default: localhost:6379)
  -log-level zerolog level: debug, info, warn, error (default: info)

ENVIRONMENT:
  PORT, BACKEND, DB_PATH, REDIS_ADDR, LOG_LEVEL override flag defaults.
  A .env file in the working directory is loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with a file database
  ./server -db="./data/kiosk.db"

  # Run against Redis
  ./server -backend=redis -redis="localhost:6379"

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/redis/redis.go: Backends
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/warp/kiosk-ledger/accounts"
	"github.com/warp/kiosk-ledger/api"
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/mappings"
	"github.com/warp/kiosk-ledger/products"
	"github.com/warp/kiosk-ledger/store/memory"
	kredis "github.com/warp/kiosk-ledger/store/redis"
	"github.com/warp/kiosk-ledger/store/sqlite"
)

// stores groups the four interfaces every backend implements.
type stores interface {
	ledger.EntryStore
	accounts.Store
	products.Store
	mappings.Store
	io.Closer
}

func main() {
	// .env first, so flag defaults can pick the values up
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	backend := flag.String("backend", envStr("BACKEND", "sqlite"), "store backend: sqlite, redis, or memory")
	dbPath := flag.String("db", envStr("DB_PATH", "kiosk.db"), "SQLite database path")
	redisAddr := flag.String("redis", envStr("REDIS_ADDR", "localhost:6379"), "Redis address")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	log := newLogger(*logLevel)

	store, err := openStore(*backend, *dbPath, *redisAddr)
	if err != nil {
		log.Fatal().Err(err).Str("backend", *backend).Msg("failed to initialize store")
	}
	defer store.Close()

	// Domain wiring
	accountSvc := accounts.NewService(store)
	productSvc := products.NewService(store)
	mappingSvc := mappings.NewService(store)
	processor := ledger.NewProcessor(
		store,
		accounts.NewDirectory(store),
		products.NewOracle(store),
		ledger.SubmitSchema,
	).WithLogger(log)

	handler := api.NewHandler(processor, store, accountSvc, productSvc, mappingSvc, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Str("backend", *backend).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func openStore(backend, dbPath, redisAddr string) (stores, error) {
	switch backend {
	case "sqlite":
		return sqlite.New(dbPath)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return kredis.NewFromAddr(ctx, redisAddr)
	case "memory":
		return noopCloser{memory.New()}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// noopCloser lets the in-memory store satisfy the io.Closer part of the
// stores interface.
type noopCloser struct {
	*memory.Store
}

func (noopCloser) Close() error { return nil }

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
