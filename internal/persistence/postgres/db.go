// Package postgres implements the persistence repositories over
// PostgreSQL via sqlx, with per-query timeouts and a pooled connection
// manager.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/emgflow/emgflow/internal/config"
	"github.com/emgflow/emgflow/internal/persistence"
)

// Manager owns the database connection pool and the repository bundle.
type Manager struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager opens and pings the database, then wires all repositories.
func NewManager(cfg config.DatabaseConfig) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	timeout := cfg.QueryTimeout
	repos := &persistence.Repository{
		Sessions:       NewSessionsRepo(db, timeout),
		Technical:      NewTechnicalDataRepo(db, timeout),
		Params:         NewProcessingParamsRepo(db, timeout),
		Stats:          NewEMGStatsRepo(db, timeout),
		Scores:         NewScoresRepo(db, timeout),
		BFR:            NewBFRRepo(db, timeout),
		Settings:       NewSettingsRepo(db, timeout),
		ScoringConfigs: NewScoringConfigRepo(db, timeout),
		Patients:       NewPatientsRepo(db, timeout),
	}

	return &Manager{
		db:     db,
		cfg:    cfg,
		repos:  repos,
		health: &healthChecker{db: db, timeout: timeout},
	}, nil
}

// Repository returns the repository bundle.
func (m *Manager) Repository() *persistence.Repository { return m.repos }

// Health returns the health checker.
func (m *Manager) Health() persistence.RepositoryHealth { return m.health }

// DB exposes the underlying pool for migrations and tests.
func (m *Manager) DB() *sqlx.DB { return m.db }

// Close closes the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Health reports connectivity and pool statistics.
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errors []string
	healthy := true
	if err := h.db.PingContext(pingCtx); err != nil {
		errors = append(errors, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: healthy,
		Errors:  errors,
		ConnectionPool: map[string]int{
			"max_open":   stats.MaxOpenConnections,
			"open":       stats.OpenConnections,
			"in_use":     stats.InUse,
			"idle":       stats.Idle,
			"wait_count": int(stats.WaitCount),
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity.
func (h *healthChecker) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}
