// Package risk implements the risk evaluation engine: it turns a payload
// plus rule execution results into a bounded score, a decision and
// human-readable reasons.
package risk

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/veritas-id/kestrel/internal/domain"
	"github.com/veritas-id/kestrel/internal/signals"
)

// Fixed combination weights for the five sub-scores. The final score is a
// weighted average over whichever sub-scores were computable, renormalized
// by the weights actually present.
const (
	weightRule        = 0.40
	weightBehavioral  = 0.25
	weightFingerprint = 0.20
	weightFacial      = 0.10
	weightDataQuality = 0.05
)

// lowConfidenceBound is the sub-score level below which a per-component
// reason is emitted.
const lowConfidenceBound = 40

// Engine computes risk scores. Evaluations are stateless: each call is a
// fresh, memoryless computation over its inputs and the thresholds passed
// in from the active rule snapshot.
type Engine struct {
	now func() time.Time
}

// NewEngine creates a risk evaluation engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Evaluate computes the combined risk score, decision and reasons for one
// payload. It never fails: an unexpected internal error yields a
// deny-biased result with an explanatory reason instead of propagating.
func (e *Engine) Evaluate(ctx context.Context, payload *domain.Payload, ruleResults []domain.RuleExecutionResult, thresholds domain.Thresholds) (result *domain.RiskScoreResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("risk evaluation panicked", "session_id", payload.SessionID, "error", r)
			result = &domain.RiskScoreResult{
				Score:    0,
				Decision: domain.DecisionDeny,
				Reasons:  []string{"Risk evaluation failed internally"},
			}
		}
	}()

	now := e.now()

	behavior := signals.ExtractBehavior(payload.Behavior, now)
	fingerprint := signals.ExtractFingerprint(payload.Fingerprint)
	facial := signals.ExtractFacial(payload.Facial)
	quality := signals.ExtractQuality(payload.Timestamp, behavior, fingerprint, facial, payload.Behavior != nil, now)

	breakdown := domain.RiskBreakdown{
		Rule:        ptr(ruleScore(ruleResults)),
		Behavioral:  ptr(behavioralScore(behavior)),
		Fingerprint: ptr(fingerprintScore(fingerprint)),
		Facial:      facialScore(facial),
		DataQuality: ptr(dataQualityScore(quality)),
	}

	score := combine(breakdown)

	return &domain.RiskScoreResult{
		Score:     score,
		Decision:  Decide(score, thresholds),
		Reasons:   reasons(score, breakdown),
		Breakdown: breakdown,
	}
}

// Decide maps a final score to a decision under the given thresholds.
func Decide(score float64, t domain.Thresholds) domain.Decision {
	switch {
	case score >= t.Allow:
		return domain.DecisionAllow
	case score >= t.Review:
		return domain.DecisionReview
	default:
		return domain.DecisionDeny
	}
}

// ruleScore maps the net weighted rule outcome in [-1,1] to [0,100].
// With no results, or no usable weight, the score is the neutral baseline.
func ruleScore(results []domain.RuleExecutionResult) float64 {
	if len(results) == 0 {
		return 50
	}

	var totalScore, totalWeight float64
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		totalScore += r.Score
		totalWeight += math.Abs(r.Weight)
	}
	if totalWeight == 0 {
		return 50
	}
	return clamp((totalScore/totalWeight + 1) * 50)
}

// behavioralScore rewards human-plausible activity levels and penalizes
// the extremes automation produces.
func behavioralScore(m signals.BehaviorMetrics) float64 {
	score := 50.0

	if m.Duration > 60*time.Second {
		score += 10
	} else if m.Duration < 10*time.Second {
		score -= 20
	}

	if m.TotalEvents > 20 {
		score += 10
	} else if m.TotalEvents < 5 {
		score -= 15
	}

	if m.ClickFrequency > 0.1 && m.ClickFrequency < 2.0 {
		score += 5
	} else if m.ClickFrequency > 5.0 {
		score -= 10
	}

	if m.ScrollFrequency > 0.05 && m.ScrollFrequency < 1.0 {
		score += 5
	} else if m.ScrollFrequency > 3.0 {
		score -= 10
	}

	if m.KeystrokeFrequency > 0.1 && m.KeystrokeFrequency < 3.0 {
		score += 5
	} else if m.KeystrokeFrequency > 10.0 {
		score -= 15
	}

	if m.MouseMovementDistance > 100 {
		score += 5
	} else if m.MouseMovementDistance < 10 {
		score -= 10
	}

	return clamp(score)
}

// fingerprintScore rewards completeness and entropy of the device
// fingerprint, and applies a flat penalty for bot-like user agents.
// A payload without fingerprint data scores 0.
func fingerprintScore(m signals.FingerprintMetrics) float64 {
	if !m.Present {
		return 0
	}

	score := 50.0
	score += m.Completeness * 30

	if m.CanvasRich {
		score += 5
	}
	if m.WebGLSupported {
		score += 5
	}
	if m.AudioValid {
		score += 5
	}
	if m.FontCount > 5 {
		score += 5
	}

	if m.BotUserAgent {
		score -= 30
	}

	return clamp(score)
}

// facialScore returns nil when no facial capture was submitted: the
// sub-score is not computable and is excluded from the combination.
func facialScore(m signals.FacialMetrics) *float64 {
	if !m.Present {
		return nil
	}
	switch {
	case m.Error:
		return ptr(40.0)
	case m.HasImage:
		return ptr(80.0)
	default:
		return ptr(50.0)
	}
}

// dataQualityScore rewards fresh, complete, mutually consistent payloads.
func dataQualityScore(q signals.QualityMetrics) float64 {
	score := 50.0

	if q.HasTimestamp {
		if q.DataAge < time.Minute {
			score += 10
		} else if q.DataAge > 5*time.Minute {
			score -= 20
		}
	}

	if q.FingerprintPresent {
		score += 10
	}
	if q.BehaviorPresent {
		score += 10
	}
	if q.FacialValid {
		score += 10
	}
	if q.TimestampsConsistent {
		score += 5
	}

	return clamp(score)
}

// combine computes the weighted average over the sub-scores present,
// renormalized by the sum of their weights.
func combine(b domain.RiskBreakdown) float64 {
	var weighted, total float64
	add := func(score *float64, weight float64) {
		if score != nil {
			weighted += *score * weight
			total += weight
		}
	}

	add(b.Rule, weightRule)
	add(b.Behavioral, weightBehavioral)
	add(b.Fingerprint, weightFingerprint)
	add(b.Facial, weightFacial)
	add(b.DataQuality, weightDataQuality)

	if total == 0 {
		return 50
	}
	return clamp(weighted / total)
}

// reasons generates the ordered, deterministic justification list: one
// tier statement for the final score, then a reason per sub-score below
// the low-confidence bound, plus a positive note on strong facial
// verification.
func reasons(finalScore float64, b domain.RiskBreakdown) []string {
	var out []string

	switch {
	case finalScore >= 80:
		out = append(out, "High confidence based on comprehensive data analysis")
	case finalScore >= 60:
		out = append(out, "Moderate confidence with some risk factors")
	case finalScore >= 40:
		out = append(out, "Low confidence with multiple risk factors")
	default:
		out = append(out, "Very low confidence with significant risk factors")
	}

	if b.Rule != nil && *b.Rule < lowConfidenceBound {
		out = append(out, "Multiple security rules failed")
	}
	if b.Behavioral != nil && *b.Behavioral < lowConfidenceBound {
		out = append(out, "Behavioral data insufficient or suspicious")
	}
	if b.Fingerprint != nil && *b.Fingerprint < lowConfidenceBound {
		out = append(out, "Device fingerprint incomplete or suspicious")
	}
	if b.Facial != nil && *b.Facial >= 80 {
		out = append(out, "Facial verification succeeded")
	}
	if b.DataQuality != nil && *b.DataQuality < lowConfidenceBound {
		out = append(out, "Poor data quality or stale information")
	}

	return out
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

func ptr(v float64) *float64 {
	return &v
}
