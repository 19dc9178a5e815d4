// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veritas-id/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvaluation stores a completed evaluation audit record.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	if eval.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(eval.Reasons)
	breakdown, _ := json.Marshal(eval.Breakdown)
	ruleResults, _ := json.Marshal(eval.RuleResults)
	metadata, _ := json.Marshal(eval.Metadata)

	query := `
		INSERT INTO evaluations (
			id, session_id, score, decision, reasons, breakdown,
			rule_results, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.SessionID, eval.Score, string(eval.Decision),
		string(reasons), string(breakdown),
		string(ruleResults), string(metadata),
		eval.Timestamp,
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.Evaluation, error) {
	if evalID == "" {
		return nil, fmt.Errorf("%w: evaluation id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, session_id, score, decision, reasons, breakdown,
			   rule_results, metadata, timestamp
		FROM evaluations
		WHERE id = ?
	`

	eval, err := r.scanEvaluation(r.db.QueryRowContext(ctx, r.rebind(query), evalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return eval, err
}

// ListEvaluationsBySession retrieves evaluations for a session since the
// given time, newest first.
func (r *SQLRepository) ListEvaluationsBySession(ctx context.Context, sessionID string, since time.Time) ([]*domain.Evaluation, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, session_id, score, decision, reasons, breakdown,
			   rule_results, metadata, timestamp
		FROM evaluations
		WHERE session_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluations []*domain.Evaluation
	for rows.Next() {
		eval, err := r.scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evaluations = append(evaluations, eval)
	}

	return evaluations, rows.Err()
}

// SaveReloadRecord stores one rule-set load or reload attempt.
func (r *SQLRepository) SaveReloadRecord(ctx context.Context, rec *domain.ReloadRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	success := 0
	if rec.Success {
		success = 1
	}

	query := `
		INSERT INTO reload_records (
			id, source, rule_count, success, error, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.Source, rec.RuleCount, success, rec.Error, rec.Timestamp,
	)
	return err
}

// ListReloadRecords retrieves the most recent reload records, newest first.
func (r *SQLRepository) ListReloadRecords(ctx context.Context, limit int) ([]*domain.ReloadRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, source, rule_count, success, error, timestamp
		FROM reload_records
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ReloadRecord
	for rows.Next() {
		var rec domain.ReloadRecord
		var success int
		var errMsg sql.NullString

		if err := rows.Scan(
			&rec.ID, &rec.Source, &rec.RuleCount, &success, &errMsg, &rec.Timestamp,
		); err != nil {
			return nil, err
		}

		rec.Success = success == 1
		rec.Error = errMsg.String
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanEvaluation(row rowScanner) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var decision string
	var reasons, breakdown, ruleResults, metadata string

	if err := row.Scan(
		&eval.ID, &eval.SessionID, &eval.Score, &decision,
		&reasons, &breakdown, &ruleResults, &metadata,
		&eval.Timestamp,
	); err != nil {
		return nil, err
	}

	eval.Decision = domain.Decision(decision)
	json.Unmarshal([]byte(reasons), &eval.Reasons)
	json.Unmarshal([]byte(breakdown), &eval.Breakdown)
	json.Unmarshal([]byte(ruleResults), &eval.RuleResults)
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
