package domain

import (
	"context"
	"time"
)

// Repository defines the interface for evaluation persistence.
// The engine itself is stateless; persistence happens off the evaluation
// hot path (async worker) and exists for audit and retrieval only.
type Repository interface {
	// Evaluation audit trail
	SaveEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, evalID string) (*Evaluation, error)
	ListEvaluationsBySession(ctx context.Context, sessionID string, since time.Time) ([]*Evaluation, error)

	// Reload audit trail
	SaveReloadRecord(ctx context.Context, rec *ReloadRecord) error
	ListReloadRecords(ctx context.Context, limit int) ([]*ReloadRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ReloadRecord documents one rule-set load or reload attempt.
type ReloadRecord struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	RuleCount int       `json:"ruleCount"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
