package risk

import (
	"context"
	"testing"
	"time"

	"github.com/veritas-id/kestrel/internal/domain"
	"github.com/veritas-id/kestrel/internal/signals"
)

var (
	testNow        = time.UnixMilli(1700000000000)
	testThresholds = domain.Thresholds{Allow: 70, Review: 40, Deny: 0}
)

func testEngine() *Engine {
	e := NewEngine()
	e.now = func() time.Time { return testNow }
	return e
}

// richPayload is a human-plausible session: complete fingerprint, a long
// active session and a facial capture.
func richPayload() *domain.Payload {
	start := testNow.Add(-2 * time.Minute).UnixMilli()
	mouse := make([]any, 40)
	for i := range mouse {
		mouse[i] = map[string]any{"x": float64(i * 13), "y": float64(i * 7)}
	}
	events := func(n int) []any {
		out := make([]any, n)
		for i := range out {
			out[i] = map[string]any{"timestamp": start + int64(i*1000)}
		}
		return out
	}

	return &domain.Payload{
		SessionID: "sess-rich",
		Timestamp: testNow.UnixMilli(),
		Fingerprint: map[string]any{
			"userAgent":         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
			"language":          "en-US",
			"platform":          "MacIntel",
			"screenResolution":  "2560x1440",
			"timezone":          "America/New_York",
			"canvasFingerprint": string(make([]byte, 150)),
			"webglFingerprint":  "ANGLE (Apple, Apple M2, OpenGL 4.1)",
			"audioFingerprint":  "124.04347527516074",
			"fonts":             []any{"Arial", "Helvetica", "Times", "Courier", "Verdana", "Georgia"},
			"timestamp":         float64(testNow.UnixMilli()),
		},
		Behavior: map[string]any{
			"startTime":      float64(start),
			"mouseEvents":    mouse,
			"keyboardEvents": events(25),
			"scrollEvents":   events(8),
			"clickEvents":    events(5),
		},
		Facial: map[string]any{
			"imageData": "data:image/jpeg;base64,abcd",
		},
	}
}

func passingRules() []domain.RuleExecutionResult {
	return []domain.RuleExecutionResult{
		{ID: "r1", Passed: true, Score: 0.5, Weight: 0.5},
		{ID: "r2", Passed: true, Score: 0.3, Weight: 0.3},
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.Decision
	}{
		{100, domain.DecisionAllow},
		{70, domain.DecisionAllow}, // threshold is inclusive
		{69.99, domain.DecisionReview},
		{40, domain.DecisionReview},
		{39.99, domain.DecisionDeny},
		{0, domain.DecisionDeny},
	}

	for _, tc := range tests {
		if got := Decide(tc.score, testThresholds); got != tc.want {
			t.Errorf("Decide(%v): got %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestEvaluateRichPayloadAllows(t *testing.T) {
	result := testEngine().Evaluate(context.Background(), richPayload(), passingRules(), testThresholds)

	if result.Score < 70 {
		t.Errorf("expected allow-range score for rich payload, got %v", result.Score)
	}
	if result.Decision != domain.DecisionAllow {
		t.Errorf("expected allow, got %s", result.Decision)
	}
	if len(result.Reasons) == 0 {
		t.Error("expected at least the tier reason")
	}
}

func TestEvaluateSparsePayloadDenies(t *testing.T) {
	payload := &domain.Payload{
		SessionID: "sess-sparse",
		Timestamp: testNow.UnixMilli(),
	}
	failing := []domain.RuleExecutionResult{
		{ID: "r1", Passed: false, Score: 0, Weight: 0.8},
	}

	result := testEngine().Evaluate(context.Background(), payload, failing, testThresholds)

	if result.Score >= 40 {
		t.Errorf("expected deny-range score for sparse payload, got %v", result.Score)
	}
	if result.Decision != domain.DecisionDeny {
		t.Errorf("expected deny, got %s", result.Decision)
	}
}

func TestEvaluateScoreBounded(t *testing.T) {
	payloads := []*domain.Payload{
		richPayload(),
		{SessionID: "empty"},
		{SessionID: "old", Timestamp: testNow.Add(-time.Hour).UnixMilli()},
	}
	ruleSets := [][]domain.RuleExecutionResult{
		nil,
		passingRules(),
		{{ID: "neg", Passed: true, Score: -0.9, Weight: -0.9}},
	}

	engine := testEngine()
	for _, p := range payloads {
		for _, rs := range ruleSets {
			result := engine.Evaluate(context.Background(), p, rs, testThresholds)
			if result.Score < 0 || result.Score > 100 {
				t.Errorf("score out of bounds: %v (session %s)", result.Score, p.SessionID)
			}
		}
	}
}

func TestRuleScoreNeutralWithoutResults(t *testing.T) {
	if got := ruleScore(nil); got != 50 {
		t.Errorf("expected neutral 50 with no results, got %v", got)
	}
}

func TestRuleScoreAllPassing(t *testing.T) {
	results := []domain.RuleExecutionResult{
		{ID: "a", Passed: true, Score: 0.6, Weight: 0.6},
		{ID: "b", Passed: true, Score: 0.4, Weight: 0.4},
	}

	// Net outcome +1 maps to 100.
	if got := ruleScore(results); got != 100 {
		t.Errorf("expected 100 for all positive rules passing, got %v", got)
	}
}

func TestRuleScoreNegativeRulesPassing(t *testing.T) {
	results := []domain.RuleExecutionResult{
		{ID: "a", Passed: true, Score: -0.5, Weight: -0.5},
		{ID: "b", Passed: true, Score: -0.3, Weight: -0.3},
	}

	// Net outcome -1 maps to 0.
	if got := ruleScore(results); got != 0 {
		t.Errorf("expected 0 for all negative rules passing, got %v", got)
	}
}

func TestRuleScoreSkipsErroredResults(t *testing.T) {
	results := []domain.RuleExecutionResult{
		{ID: "ok", Passed: true, Score: 0.5, Weight: 0.5},
		{ID: "broken", Error: "no such key", Score: 0, Weight: 0},
	}

	if got := ruleScore(results); got != 100 {
		t.Errorf("errored result must not dilute the score: got %v", got)
	}
}

func TestRuleScoreAllErrored(t *testing.T) {
	results := []domain.RuleExecutionResult{
		{ID: "a", Error: "boom"},
		{ID: "b", Error: "boom"},
	}

	if got := ruleScore(results); got != 50 {
		t.Errorf("expected neutral 50 when every rule errored, got %v", got)
	}
}

func TestBehavioralScoreEmptySession(t *testing.T) {
	// Zero duration, zero events, zero mouse distance stack their
	// penalties onto the baseline.
	got := behavioralScore(signals.BehaviorMetrics{})
	if got != 5 {
		t.Errorf("expected 5 for an empty session, got %v", got)
	}
}

func TestBehavioralScoreActiveSession(t *testing.T) {
	m := signals.BehaviorMetrics{
		Duration:              2 * time.Minute,
		TotalEvents:           60,
		ClickFrequency:        0.5,
		ScrollFrequency:       0.2,
		KeystrokeFrequency:    1.0,
		MouseMovementDistance: 4000,
	}

	if got := behavioralScore(m); got != 90 {
		t.Errorf("expected 90 for a fully plausible session, got %v", got)
	}
}

func TestFingerprintScoreAbsent(t *testing.T) {
	if got := fingerprintScore(signals.FingerprintMetrics{}); got != 0 {
		t.Errorf("missing fingerprint must score 0, got %v", got)
	}
}

func TestFingerprintScoreBotPenalty(t *testing.T) {
	clean := fingerprintScore(signals.FingerprintMetrics{Present: true, Completeness: 1.0})
	bot := fingerprintScore(signals.FingerprintMetrics{Present: true, Completeness: 1.0, BotUserAgent: true})

	if clean-bot != 30 {
		t.Errorf("expected flat 30 point bot penalty, got %v", clean-bot)
	}
}

func TestFacialScoreExcludedWhenAbsent(t *testing.T) {
	if facialScore(signals.FacialMetrics{}) != nil {
		t.Error("absent facial capture must be excluded, not scored")
	}

	if got := *facialScore(signals.FacialMetrics{Present: true, HasImage: true}); got != 80 {
		t.Errorf("expected 80 with image data, got %v", got)
	}
	if got := *facialScore(signals.FacialMetrics{Present: true, Error: true}); got != 40 {
		t.Errorf("expected 40 with capture error, got %v", got)
	}
	if got := *facialScore(signals.FacialMetrics{Present: true}); got != 50 {
		t.Errorf("expected 50 for bare capture, got %v", got)
	}
}

func TestCombineRenormalizesMissingFacial(t *testing.T) {
	b := domain.RiskBreakdown{
		Rule:        ptr(80),
		Behavioral:  ptr(80),
		Fingerprint: ptr(80),
		Facial:      nil,
		DataQuality: ptr(80),
	}

	// With every present sub-score equal, renormalization must return
	// exactly that value regardless of the missing component.
	if got := combine(b); got != 80 {
		t.Errorf("expected 80 after renormalization, got %v", got)
	}
}

func TestCombineEmptyBreakdown(t *testing.T) {
	if got := combine(domain.RiskBreakdown{}); got != 50 {
		t.Errorf("expected neutral 50 with no sub-scores, got %v", got)
	}
}

func TestReasonsTierAndOrdering(t *testing.T) {
	b := domain.RiskBreakdown{
		Rule:        ptr(20),
		Behavioral:  ptr(30),
		Fingerprint: ptr(90),
		Facial:      ptr(80),
		DataQuality: ptr(35),
	}

	got := reasons(35, b)
	want := []string{
		"Very low confidence with significant risk factors",
		"Multiple security rules failed",
		"Behavioral data insufficient or suspicious",
		"Facial verification succeeded",
		"Poor data quality or stale information",
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d reasons, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reason %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReasonsTierStatements(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{85, "High confidence based on comprehensive data analysis"},
		{65, "Moderate confidence with some risk factors"},
		{45, "Low confidence with multiple risk factors"},
		{10, "Very low confidence with significant risk factors"},
	}

	for _, tc := range tests {
		got := reasons(tc.score, domain.RiskBreakdown{})
		if len(got) == 0 || got[0] != tc.want {
			t.Errorf("score %v: got %v, want first reason %q", tc.score, got, tc.want)
		}
	}
}

func TestEvaluateRecoversToDeny(t *testing.T) {
	engine := NewEngine()
	engine.now = func() time.Time { panic("clock exploded") }

	result := engine.Evaluate(context.Background(), &domain.Payload{SessionID: "sess-panic"}, nil, testThresholds)

	if result == nil {
		t.Fatal("expected a result despite internal panic")
	}
	if result.Score != 0 || result.Decision != domain.DecisionDeny {
		t.Errorf("panic must yield deny with score 0, got %v/%s", result.Score, result.Decision)
	}
	if len(result.Reasons) != 1 || result.Reasons[0] != "Risk evaluation failed internally" {
		t.Errorf("unexpected reasons: %v", result.Reasons)
	}
}
