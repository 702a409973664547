// snapshotd takes scheduled cap-table snapshots and re-verifies each
// company's hash chain on every tick. Companies are listed in the
// COMPANY_IDS environment variable. Pointed at the same DATABASE_URL and
// SNAPSHOT_DB as captabled, it reads the same ledger and share classes
// and appends to the same chains; without DATABASE_URL its stores are
// process-local and only useful for development.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/captable/internal/config"
	"github.com/example/captable/internal/instruments"
	"github.com/example/captable/internal/ledger"
	"github.com/example/captable/internal/query"
	"github.com/example/captable/internal/registry"
	"github.com/example/captable/internal/snapshot"
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

	companies := splitList(os.Getenv("COMPANY_IDS"))
	if len(companies) == 0 {
		logger.Error("COMPANY_IDS must list at least one company")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	var txStore ledger.TransactionStore = ledger.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		txStore = ledger.NewPostgresStore(pool)
		reg = registry.NewWithStore(registry.NewPostgresStore(pool))
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

	auditor := audit.NewRecorder()
	ledgerSvc := ledger.NewService(txStore, reg, auditor)
	instSvc := instruments.NewService(instruments.NewStore(), ledgerSvc, reg, auditor)
	snapSvc := snapshot.NewService(snapStore, auditor)
	facade := query.NewFacade(ledgerSvc, reg, instSvc, snapSvc)

	logger.Info("snapshotd started",
		"interval", cfg.SnapshotInterval.String(),
		"companies", len(companies),
	)

	ticker := time.NewTicker(cfg.SnapshotInterval)
	defer ticker.Stop()

	runOnce(ctx, logger, facade, companies)
	for {
		select {
		case <-ctx.Done():
			logger.Info("snapshotd stopping")
			return
		case <-ticker.C:
			runOnce(ctx, logger, facade, companies)
		}
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, facade *query.Facade, companies []string) {
	for _, companyID := range companies {
		snap, err := facade.CreateSnapshot(ctx, companyID, "SCHEDULED")
		if err != nil {
			logger.Error("snapshot failed", "company_id", companyID, "error", err)
			continue
		}
		logger.Info("snapshot created",
			"company_id", companyID,
			"snapshot_id", snap.ID,
			"state_hash", snap.StateHash,
		)

		report, err := facade.VerifyIntegrity(ctx, companyID)
		if err != nil {
			logger.Error("chain verification failed", "company_id", companyID, "error", err)
			continue
		}
		logger.Info("chain verified",
			"company_id", companyID,
			"status", report.Status,
			"days_verified", report.DaysVerified,
			"days_valid", report.DaysValid,
			"days_invalid", report.DaysInvalid,
		)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
