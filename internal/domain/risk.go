package domain

import "time"

// Decision is the categorical outcome of a risk evaluation.
// The three values are terminal; every evaluation is memoryless.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionDeny   Decision = "deny"
)

// RiskBreakdown holds the five sub-scores feeding the final score.
// A nil entry means the sub-score was not computable for this payload and
// was excluded from the weighted combination.
type RiskBreakdown struct {
	Rule        *float64 `json:"rule,omitempty"`
	Behavioral  *float64 `json:"behavioral,omitempty"`
	Fingerprint *float64 `json:"fingerprint,omitempty"`
	Facial      *float64 `json:"facial,omitempty"`
	DataQuality *float64 `json:"dataQuality,omitempty"`
}

// RiskScoreResult is the output of one risk evaluation.
type RiskScoreResult struct {
	Score     float64       `json:"score"`
	Decision  Decision      `json:"decision"`
	Reasons   []string      `json:"reasons"`
	Breakdown RiskBreakdown `json:"breakdown"`
}

// Evaluation is the persisted audit record of a completed evaluation.
type Evaluation struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	Score     float64       `json:"score"`
	Decision  Decision      `json:"decision"`
	Reasons   []string      `json:"reasons"`
	Breakdown RiskBreakdown `json:"breakdown"`
	Timestamp time.Time     `json:"timestamp"`

	RuleResults []RuleExecutionResult `json:"ruleResults"`
	Metadata    EvaluationMetadata    `json:"metadata"`
}

// EvaluationMetadata carries processing information for one evaluation.
type EvaluationMetadata struct {
	TraceID        string `json:"traceId"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RuleErrors     int    `json:"ruleErrors"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	RuleSetSource  string `json:"ruleSetSource"`
	EngineVersion  string `json:"engineVersion"`
}
