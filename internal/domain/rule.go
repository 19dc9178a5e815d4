// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// Rule actions. Actions are advisory; the final decision comes from the
// combined score and the active thresholds.
const (
	ActionAllow  = "allow"
	ActionReview = "review"
	ActionDeny   = "deny"
)

// RuleDefinition is a single externally configured risk rule.
type RuleDefinition struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   string  `json:"condition" yaml:"condition"`
	Weight      float64 `json:"weight" yaml:"weight"`
	Action      string  `json:"action" yaml:"action"`
	Enabled     bool    `json:"enabled" yaml:"enabled"`
}

// Validate checks the structural invariants of a rule definition.
func (r *RuleDefinition) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name is required", r.ID)
	}
	if r.Condition == "" {
		return fmt.Errorf("rule %s: condition is required", r.ID)
	}
	switch r.Action {
	case ActionAllow, ActionReview, ActionDeny:
	default:
		return fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action)
	}
	return nil
}

// Thresholds are the score cut points mapping a final score to a decision.
// Invariant: allow >= review >= deny, all within [0,100].
type Thresholds struct {
	Allow  float64 `json:"allow" yaml:"allow"`
	Review float64 `json:"review" yaml:"review"`
	Deny   float64 `json:"deny" yaml:"deny"`
}

// DefaultThresholds returns the thresholds used when the rule source omits them.
func DefaultThresholds() Thresholds {
	return Thresholds{Allow: 70, Review: 40, Deny: 0}
}

// Validate checks threshold ordering and bounds.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"allow": t.Allow, "review": t.Review, "deny": t.Deny} {
		if v < 0 || v > 100 {
			return fmt.Errorf("threshold %s out of range [0,100]: %v", name, v)
		}
	}
	if t.Allow < t.Review || t.Review < t.Deny {
		return fmt.Errorf("thresholds must satisfy allow >= review >= deny, got %v >= %v >= %v",
			t.Allow, t.Review, t.Deny)
	}
	return nil
}

// RuleSet is an immutable snapshot of rule definitions plus thresholds.
// A RuleSet is created on load, replaced wholesale on reload and never
// mutated in place; consumers treat it as read-only.
type RuleSet struct {
	Rules      []RuleDefinition `json:"rules"`
	Thresholds Thresholds       `json:"thresholds"`

	// Provenance
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Enabled returns the enabled rules in definition order.
func (rs *RuleSet) Enabled() []RuleDefinition {
	out := make([]RuleDefinition, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// RuleExecutionResult is the outcome of evaluating one rule against one
// evaluation context. Exactly one is produced per selected rule.
type RuleExecutionResult struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
	Action string  `json:"action,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// RuleStats summarizes the active rule set.
type RuleStats struct {
	Total    int            `json:"total"`
	Enabled  int            `json:"enabled"`
	ByAction map[string]int `json:"byAction"`
	ByWeight struct {
		Positive int `json:"positive"`
		Negative int `json:"negative"`
		Neutral  int `json:"neutral"`
	} `json:"byWeight"`
	LastUpdate time.Time `json:"lastUpdate"`
	Source     string    `json:"source"`
}

// Stats computes statistics over the rule set.
func (rs *RuleSet) Stats() RuleStats {
	stats := RuleStats{
		Total:      len(rs.Rules),
		ByAction:   map[string]int{ActionAllow: 0, ActionReview: 0, ActionDeny: 0},
		LastUpdate: rs.LoadedAt,
		Source:     rs.Source,
	}
	for _, r := range rs.Rules {
		stats.ByAction[r.Action]++
		if !r.Enabled {
			continue
		}
		stats.Enabled++
		switch {
		case r.Weight > 0:
			stats.ByWeight.Positive++
		case r.Weight < 0:
			stats.ByWeight.Negative++
		default:
			stats.ByWeight.Neutral++
		}
	}
	return stats
}
