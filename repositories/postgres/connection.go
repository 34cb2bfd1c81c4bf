package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/authority-gate/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// NewDBFromConn wraps an existing connection pool. Used by tests with sqlmock.
func NewDBFromConn(conn *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: conn, logger: logger}
}

// InitSchema creates the authorization audit table and its indexes
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS authorization_audit_logs (
			id UUID PRIMARY KEY,
			mandate_id VARCHAR(64),
			principal VARCHAR(255) NOT NULL,
			tenant_id VARCHAR(255),
			session_id VARCHAR(255),
			action VARCHAR(255) NOT NULL,
			resource VARCHAR(512) NOT NULL,
			outcome VARCHAR(10) NOT NULL,
			reason VARCHAR(255) NOT NULL,
			source VARCHAR(20) NOT NULL,
			args_hash VARCHAR(64),
			latency_ms INTEGER NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			error_message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_authz_audit_principal ON authorization_audit_logs(principal);
		CREATE INDEX IF NOT EXISTS idx_authz_audit_mandate_id ON authorization_audit_logs(mandate_id);
		CREATE INDEX IF NOT EXISTS idx_authz_audit_timestamp ON authorization_audit_logs(timestamp);
		CREATE INDEX IF NOT EXISTS idx_authz_audit_outcome ON authorization_audit_logs(outcome);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
