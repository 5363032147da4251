package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docscan/internal/common"
	repo "github.com/joseph-ayodele/docscan/internal/repository"
)

// ConnectDB opens the relational store described by cfg and optionally migrates it.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, migrate bool, logger *slog.Logger) (*repo.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	if migrate {
		if err := repo.Migrate(ctx, db, logger); err != nil {
			repo.Close(db, logger)
			return nil, err
		}
	}
	return db, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	logger.Debug("pinging database")
	if err := repo.HealthCheck(ctx, db, timeout, logger); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}
