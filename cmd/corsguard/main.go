// Command corsguard runs a demo API guarded by the CORS middleware of
// package [github.com/jub0bs/corsguard].
//
// Usage:
//
//	corsguard [-config path]
//
// See package [github.com/jub0bs/corsguard/internal/config] for the
// settings and the environment variables that override them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jub0bs/corsguard"
	"github.com/jub0bs/corsguard/internal/config"
	"github.com/jub0bs/corsguard/pgstore"
	"github.com/jub0bs/corsguard/redisstore"
	"github.com/jub0bs/corsguard/reputation"
	"github.com/jub0bs/corsguard/whitelist"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := run(os.Args[1:], os.Stderr, &logger); err != nil {
		logger.Fatal().Err(err).Msg("corsguard")
	}
}

func run(args []string, output io.Writer, logger *zerolog.Logger) error {
	fs := flag.NewFlagSet("corsguard", flag.ContinueOnError)
	fs.SetOutput(output)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	*logger = logger.Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ecfg := cfg.EngineConfig()
	ecfg.Logger = logger
	closeBackend, err := setUpBackend(ctx, cfg, &ecfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	engine, err := corsguard.NewEngine(ecfg)
	if err != nil {
		return err
	}
	defer engine.Close()
	corsMw, err := corsguard.NewMiddleware(engine, cfg.MiddlewareConfig())
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newRouter(engine, corsMw),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("environment", cfg.Environment).
			Msg("server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setUpBackend populates the Whitelist and Reputation fields of ecfg
// in accordance with cfg.
func setUpBackend(ctx context.Context, cfg *config.Config, ecfg *corsguard.Config) (func(), error) {
	switch {
	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		store := redisstore.New(client, redisstore.Options{
			Retention: ecfg.ReputationLookback,
		})
		ecfg.Whitelist = store
		ecfg.Reputation = store
		return func() { client.Close() }, nil
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		ecfg.Whitelist = store
		ecfg.Reputation = store
		return pool.Close, nil
	default:
		if cfg.WhitelistFile != "" {
			ecfg.Whitelist = whitelist.NewFile(cfg.WhitelistFile)
		}
		ecfg.Reputation = reputation.NewMemoryStore(0, 0)
		return func() {}, nil
	}
}

func newRouter(engine *corsguard.Engine, corsMw *corsguard.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/blocked", blockedHandler(engine))
		r.Delete("/blocked", unblockHandler(engine))
		r.Post("/whitelist/refresh", refreshHandler(engine))
	})

	api := chi.NewRouter()
	api.Get("/hello", helloHandler)
	api.Post("/echo", echoHandler)
	r.Mount("/api", corsMw.Wrap(api))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func helloHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Hello, World!",
		"request_id": middleware.GetReqID(r.Context()),
	})
}

func echoHandler(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type blockedOrigin struct {
	Origin    string    `json:"origin"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func blockedHandler(engine *corsguard.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		blocked := engine.Blocked()
		res := make([]blockedOrigin, 0, len(blocked))
		for _, b := range blocked {
			res = append(res, blockedOrigin{
				Origin:    b.Origin,
				Reason:    string(b.Reason),
				BlockedAt: b.BlockedAt,
				ExpiresAt: b.ExpiresAt,
			})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func unblockHandler(engine *corsguard.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.URL.Query().Get("origin")
		if origin == "" {
			http.Error(w, "missing origin", http.StatusBadRequest)
			return
		}
		if !engine.Unblock(origin) {
			http.Error(w, "origin not blocked", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func refreshHandler(engine *corsguard.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engine.RefreshWhitelist(r.Context()); err != nil {
			http.Error(w, "whitelist unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
