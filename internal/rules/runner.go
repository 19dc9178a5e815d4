package rules

import (
	"context"
	"sync"

	"github.com/veritas-id/kestrel/internal/domain"
)

// Runner executes compiled rules against evaluation contexts.
// Rules are independent of one another, so execution fans out over a
// bounded worker pool and joins before results are returned.
type Runner struct {
	maxWorkers int
}

// NewRunner creates a rule runner with the given concurrency bound.
func NewRunner(maxWorkers int) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = 16
	}
	return &Runner{maxWorkers: maxWorkers}
}

// RunOptions narrows a run to a single rule.
type RunOptions struct {
	RuleID string
}

// Run evaluates all enabled rules (optionally filtered to one rule ID)
// and returns exactly one result per selected rule, in definition order.
// A rule whose condition fails at runtime produces a zero-score,
// non-passing, error-flagged result instead of being omitted; no rule can
// abort the batch.
func (r *Runner) Run(ctx context.Context, compiled []CompiledRule, ectx *domain.EvaluationContext, opts *RunOptions) []domain.RuleExecutionResult {
	selected := make([]CompiledRule, 0, len(compiled))
	for _, cr := range compiled {
		if !cr.Def.Enabled {
			continue
		}
		if opts != nil && opts.RuleID != "" && cr.Def.ID != opts.RuleID {
			continue
		}
		selected = append(selected, cr)
	}

	results := make([]domain.RuleExecutionResult, len(selected))
	var wg sync.WaitGroup

	sem := make(chan struct{}, r.maxWorkers)

	for i, cr := range selected {
		wg.Add(1)
		go func(idx int, cr CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = runOne(cr, ectx)
		}(i, cr)
	}

	wg.Wait()

	return results
}

// runOne evaluates a single rule, containing any failure to that rule.
func runOne(cr CompiledRule, ectx *domain.EvaluationContext) domain.RuleExecutionResult {
	result := domain.RuleExecutionResult{
		ID:     cr.Def.ID,
		Name:   cr.Def.Name,
		Weight: cr.Def.Weight,
		Action: cr.Def.Action,
	}

	passed, err := evaluate(cr, ectx)
	if err != nil {
		result.Error = err.Error()
		result.Weight = 0
		return result
	}

	result.Passed = passed
	if passed {
		result.Score = cr.Def.Weight
	}
	return result
}
