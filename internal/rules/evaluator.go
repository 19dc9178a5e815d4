// Package rules provides the CEL-based condition evaluator and rule runner.
//
// Conditions are compiled into a deliberately narrow CEL environment: the
// only names visible are the evaluation-context fields, and expressions must
// type-check to bool. There is no access to engine internals, no I/O and no
// custom functions beyond the CEL standard library (comparisons, arithmetic,
// has(), size()). A condition that does not fit this grammar is rejected at
// load time.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/veritas-id/kestrel/internal/domain"
)

// Compiler compiles rule conditions into sandboxed CEL programs.
type Compiler struct {
	env *cel.Env
}

// CompiledRule pairs a rule definition with its pre-compiled program.
type CompiledRule struct {
	Def     domain.RuleDefinition
	Program cel.Program
}

// NewCompiler creates a compiler exposing exactly the evaluation-context
// fields a condition may reference.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("fingerprint", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("behavior", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("facial", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("sessionId", cel.StringType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile validates and compiles a single condition.
func (c *Compiler) Compile(rule domain.RuleDefinition) (CompiledRule, error) {
	ast, issues := c.env.Compile(rule.Condition)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return CompiledRule{}, fmt.Errorf("rule %s: condition must return bool, got %s",
			rule.ID, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return CompiledRule{Def: rule, Program: program}, nil
}

// CompileAll compiles every rule in definition order, failing on the first
// invalid condition. Disabled rules are compiled too: a syntactically
// invalid condition is a configuration error regardless of the enabled flag.
func (c *Compiler) CompileAll(defs []domain.RuleDefinition) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(defs))
	for _, def := range defs {
		cr, err := c.Compile(def)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}

// evaluate runs one compiled condition against an evaluation context.
// Runtime failures (missing key, type mismatch) surface as errors, never
// as panics to the caller.
func evaluate(cr CompiledRule, ectx *domain.EvaluationContext) (passed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			err = fmt.Errorf("condition panicked: %v", r)
		}
	}()

	activation := map[string]any{
		"fingerprint": ectx.Fingerprint,
		"behavior":    ectx.Behavior,
		"facial":      ectx.Facial,
		"sessionId":   ectx.SessionID,
		"timestamp":   ectx.Timestamp,
	}

	out, _, err := cr.Program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	if b, ok := out.(types.Bool); ok {
		return bool(b), nil
	}
	return false, fmt.Errorf("condition returned %T, want bool", out.Value())
}
