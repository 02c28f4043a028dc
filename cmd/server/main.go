package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/catalog"
	"github.com/starfall/economy-engine/internal/config"
	"github.com/starfall/economy-engine/internal/limits"
	"github.com/starfall/economy-engine/internal/market"
	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/reward"
	"github.com/starfall/economy-engine/internal/shop"
	"github.com/starfall/economy-engine/internal/store"
	"github.com/starfall/economy-engine/internal/trade"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("economy-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("economy-engine stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Catalog ---
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if cfg.SeedInstruments {
		if _, err := cat.SeedInstruments(ctx, st, time.Now().UTC()); err != nil {
			return err
		}
	}

	// --- Services ---
	accounts := account.NewManager(st, account.WithMaxAttempts(cfg.LedgerMaxAttempts))
	ledgerSvc := account.NewService(accounts)
	limiter := limits.NewPositionLimiter(cfg.MaxPositionPerTicker, cfg.MaxDailyTradeVolume)
	tradeSvc := trade.NewService(accounts, limiter)
	rewardSvc := reward.NewService(accounts, cat, nil)
	shopSvc := shop.NewService(accounts, cat)
	collector := market.NewCollector(st, market.DefaultWindow)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"economy-engine","store":"` + cfg.StoreKind() + `"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/realms/{realmID}/accounts/{userID}", func(r chi.Router) {
			r.Get("/", ledgerSvc.HandleGetAccount)
			for _, op := range []account.LedgerOp{account.OpReserve, account.OpRelease, account.OpConsume, account.OpCredit, account.OpDebit} {
				r.Post("/"+string(op), ledgerSvc.HandleLedger(op))
			}

			// Trading.
			r.Post("/trades", tradeSvc.HandleTrade)
			r.Get("/portfolio", tradeSvc.HandlePortfolio)
			r.Get("/transactions", tradeSvc.HandleAccountTransactions)

			// Rewards and shop.
			r.Post("/rewards/draw", rewardSvc.HandleDraw)
			r.Post("/containers/open", rewardSvc.HandleOpenContainer)
			r.Post("/daily/claim", rewardSvc.HandleClaimDaily)
			r.Post("/luck", rewardSvc.HandleActivateLuck)
			r.Post("/purchases", shopSvc.HandlePurchase)
		})

		// Instruments.
		r.Get("/instruments", tradeSvc.HandleListInstruments)
		r.Get("/instruments/{ticker}", tradeSvc.HandleGetInstrument)
		r.Put("/instruments/{ticker}", tradeSvc.HandlePutInstrument)
		r.Get("/instruments/{ticker}/transactions", tradeSvc.HandleTickerTransactions)
		r.Get("/instruments/{ticker}/stats", collector.HandleStats)

		// Catalog.
		r.Get("/loot-tables", rewardSvc.HandleListTables)
		r.Get("/shop", shopSvc.HandleListItems)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("economy-engine listening", "port", cfg.Port, "store", cfg.StoreKind())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return collector.Run(gctx, cfg.MarketStatsInterval)
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down economy-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore selects PostgreSQL, SQLite or memory from cfg and wraps the
// result with the Redis cache when REDIS_URL is set.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, []func(), error) {
	var st store.Store
	var cleanup []func()

	switch cfg.StoreKind() {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case "sqlite":
		lite, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
		slog.Info("opened SQLite store", "path", cfg.SQLitePath)
	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			for _, fn := range cleanup {
				fn()
			}
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
	}
	return st, cleanup, nil
}
