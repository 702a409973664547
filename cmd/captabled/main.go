package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/example/captable/internal/api"
	"github.com/example/captable/internal/auth"
	"github.com/example/captable/internal/config"
	"github.com/example/captable/internal/crypto"
	"github.com/example/captable/internal/instruments"
	"github.com/example/captable/internal/ledger"
	"github.com/example/captable/internal/query"
	"github.com/example/captable/internal/registry"
	"github.com/example/captable/internal/security"
	"github.com/example/captable/internal/snapshot"
	"github.com/example/captable/internal/vault"
	"github.com/example/captable/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		logger.Error("invalid IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	var txStore ledger.TransactionStore = ledger.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		if pool, err = pgxpool.New(ctx, cfg.DatabaseURL); err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, ledger.Schema); err != nil {
			logger.Error("failed to ensure ledger schema", "error", err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, registry.Schema); err != nil {
			logger.Error("failed to ensure registry schema", "error", err)
			os.Exit(1)
		}
		txStore = ledger.NewPostgresStore(pool)
	}

	var snapStore snapshot.Store = snapshot.NewMemoryStore()
	if cfg.SnapshotDB != "" {
		db, err := sql.Open("sqlite3", cfg.SnapshotDB)
		if err != nil {
			logger.Error("failed to open snapshot database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if snapStore, err = snapshot.NewSQLiteStore(db); err != nil {
			logger.Error("failed to initialize snapshot store", "error", err)
			os.Exit(1)
		}
	}

	var rateLimiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "captable_api",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitPerSecond,
		}
	}

	auditor := audit.NewRecorder()
	reg := registry.New()
	if pool != nil {
		reg = registry.NewWithStore(registry.NewPostgresStore(pool))
	}
	ledgerSvc := ledger.NewService(txStore, reg, auditor)
	instSvc := instruments.NewService(instruments.NewStore(), ledgerSvc, reg, auditor)
	snapSvc := snapshot.NewService(snapStore, auditor)
	facade := query.NewFacade(ledgerSvc, reg, instSvc, snapSvc)

	keys, err := crypto.NewLocalKeyManager(cfg.VaultKeyDir, cfg.VaultKeyID)
	if err != nil {
		logger.Error("failed to initialize vault keys", "error", err)
		os.Exit(1)
	}
	vaultDSN := cfg.VaultDB
	if vaultDSN == "" {
		vaultDSN = ":memory:"
	}
	vaultDB, err := sql.Open("sqlite3", vaultDSN)
	if err != nil {
		logger.Error("failed to open vault database", "error", err)
		os.Exit(1)
	}
	defer vaultDB.Close()
	vaultStore, err := vault.NewStore(vaultDB, crypto.NewEnvelope(keys))
	if err != nil {
		logger.Error("failed to initialize vault store", "error", err)
		os.Exit(1)
	}
	vaultSvc := vault.NewService(vaultStore, auditor)

	var authProvider *auth.Provider
	if cfg.AuthEnabled() {
		scopes := cfg.AuthClientScopes
		if len(scopes) == 0 {
			scopes = []string{auth.ScopeRead, auth.ScopeWrite, auth.ScopeVault}
		}

		var clients auth.ClientStore
		if pool != nil {
			if _, err := pool.Exec(ctx, auth.ClientSchema); err != nil {
				logger.Error("failed to ensure client schema", "error", err)
				os.Exit(1)
			}
			pgClients := &auth.PostgresClientStore{Pool: pool}
			if err := pgClients.Register(ctx, cfg.AuthClientID, cfg.AuthClientSecret, scopes); err != nil {
				logger.Error("failed to register API client", "error", err)
				os.Exit(1)
			}
			clients = pgClients
		} else {
			memClients := auth.NewMemoryClientStore()
			if err := memClients.Register(cfg.AuthClientID, cfg.AuthClientSecret, scopes); err != nil {
				logger.Error("failed to register API client", "error", err)
				os.Exit(1)
			}
			clients = memClients
		}

		if authProvider, err = auth.NewProvider(clients, cfg.AuthIssuer, cfg.AccessTokenTTL); err != nil {
			logger.Error("failed to initialize auth provider", "error", err)
			os.Exit(1)
		}
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		CapTables:    facade,
		Ledger:       ledgerSvc,
		Shareholders: vaultSvc,
		Auth:         authProvider,
		Auditor:      auditor,
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	if cfg.TLSCertFile != "" {
		tlsCfg, err := security.LoadServerTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			logger.Error("failed to load TLS config", "error", err)
			os.Exit(1)
		}
		srv.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("captable api listening", "addr", cfg.HTTPAddr, "env", cfg.Environment)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
