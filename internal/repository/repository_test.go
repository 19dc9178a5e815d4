package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/veritas-id/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetEvaluation", func(t *testing.T) {
		score := 72.5
		eval := &domain.Evaluation{
			ID:        "eval-001",
			SessionID: "sess-001",
			Score:     score,
			Decision:  domain.DecisionAllow,
			Reasons:   []string{"Moderate confidence with some risk factors"},
			Breakdown: domain.RiskBreakdown{Rule: &score},
			Timestamp: time.Now().UTC(),
			RuleResults: []domain.RuleExecutionResult{
				{ID: "rule-001", Passed: true, Score: 0.5, Weight: 0.5},
			},
			Metadata: domain.EvaluationMetadata{TraceID: "trace-001", EngineVersion: "test"},
		}

		if err := repo.SaveEvaluation(ctx, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		retrieved, err := repo.GetEvaluation(ctx, eval.ID)
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}

		if retrieved.ID != eval.ID {
			t.Errorf("expected ID %s, got %s", eval.ID, retrieved.ID)
		}
		if retrieved.Score != eval.Score {
			t.Errorf("expected Score %.2f, got %.2f", eval.Score, retrieved.Score)
		}
		if retrieved.Decision != eval.Decision {
			t.Errorf("expected Decision %s, got %s", eval.Decision, retrieved.Decision)
		}
		if len(retrieved.Reasons) != 1 {
			t.Errorf("expected 1 reason, got %d", len(retrieved.Reasons))
		}
		if len(retrieved.RuleResults) != 1 || retrieved.RuleResults[0].ID != "rule-001" {
			t.Errorf("unexpected rule results: %+v", retrieved.RuleResults)
		}
		if retrieved.Metadata.TraceID != "trace-001" {
			t.Errorf("expected TraceID trace-001, got %s", retrieved.Metadata.TraceID)
		}
		if retrieved.Breakdown.Rule == nil || *retrieved.Breakdown.Rule != score {
			t.Errorf("unexpected breakdown: %+v", retrieved.Breakdown)
		}
	})

	t.Run("ListEvaluationsBySession", func(t *testing.T) {
		eval2 := &domain.Evaluation{
			ID:        "eval-002",
			SessionID: "sess-001",
			Score:     35,
			Decision:  domain.DecisionDeny,
			Timestamp: time.Now().UTC(),
		}
		if err := repo.SaveEvaluation(ctx, eval2); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		since := time.Now().Add(-1 * time.Hour)
		evaluations, err := repo.ListEvaluationsBySession(ctx, "sess-001", since)
		if err != nil {
			t.Fatalf("ListEvaluationsBySession failed: %v", err)
		}

		if len(evaluations) != 2 {
			t.Errorf("expected 2 evaluations, got %d", len(evaluations))
		}
	})

	t.Run("SessionWindowExcludesOld", func(t *testing.T) {
		evaluations, err := repo.ListEvaluationsBySession(ctx, "sess-001", time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("ListEvaluationsBySession failed: %v", err)
		}
		if len(evaluations) != 0 {
			t.Errorf("expected no evaluations in a future window, got %d", len(evaluations))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetEvaluation(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		if err := repo.SaveEvaluation(ctx, &domain.Evaluation{}); err == nil {
			t.Error("expected error for empty evaluation id")
		}

		if _, err := repo.GetEvaluation(ctx, ""); err == nil {
			t.Error("expected error for empty id")
		}
	})

	t.Run("SaveAndListReloadRecords", func(t *testing.T) {
		ok := &domain.ReloadRecord{
			ID:        "reload-001",
			Source:    "./rules.json",
			RuleCount: 4,
			Success:   true,
			Timestamp: time.Now().UTC().Add(-time.Minute),
		}
		failed := &domain.ReloadRecord{
			ID:        "reload-002",
			Source:    "./rules.json",
			Success:   false,
			Error:     "rule config: invalid condition",
			Timestamp: time.Now().UTC(),
		}

		if err := repo.SaveReloadRecord(ctx, ok); err != nil {
			t.Fatalf("SaveReloadRecord failed: %v", err)
		}
		if err := repo.SaveReloadRecord(ctx, failed); err != nil {
			t.Fatalf("SaveReloadRecord failed: %v", err)
		}

		records, err := repo.ListReloadRecords(ctx, 10)
		if err != nil {
			t.Fatalf("ListReloadRecords failed: %v", err)
		}

		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}

		// Newest first
		if records[0].ID != "reload-002" {
			t.Errorf("expected newest record first, got %s", records[0].ID)
		}
		if records[0].Success || records[0].Error == "" {
			t.Errorf("expected failed record with error, got %+v", records[0])
		}
		if !records[1].Success || records[1].RuleCount != 4 {
			t.Errorf("expected successful record with 4 rules, got %+v", records[1])
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
