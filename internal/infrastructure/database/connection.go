package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/openlot/live-auction-backend/internal/infrastructure/config"
)

// Pool wraps the pgx connection pool for the cold store. The cold store is
// never consulted on the bid admission path, so the pool is tuned for the
// job runner's write throughput and catalogue reads.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPool connects to the cold store and verifies the connection.
func NewPool(ctx context.Context, cfg *config.ColdConfig, logger *zap.Logger) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cold store connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pgxCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pgxCfg.MaxConnIdleTime = 10 * time.Minute
	pgxCfg.HealthCheckPeriod = time.Minute
	pgxCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pgxCfg.ConnConfig.RuntimeParams = map[string]string{
		"application_name":  "openlot_backend",
		"timezone":          "UTC",
		"lock_timeout":      "10s",
		"statement_timeout": "30s",
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cold store pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping cold store: %w", err)
	}

	logger.Info("cold store pool initialized",
		zap.Int32("max_conns", pgxCfg.MaxConns),
		zap.Int32("min_conns", pgxCfg.MinConns))

	return &Pool{pool: pool, logger: logger}, nil
}

// Stdlib returns a database/sql view over the same pool. The repositories
// and the job handlers all speak database/sql; the pool stays in charge of
// connection lifecycle either way.
func (p *Pool) Stdlib() *sql.DB {
	return stdlib.OpenDBFromPool(p.pool)
}

// Ping checks connectivity for readiness probes.
func (p *Pool) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.pool.Close()
}
