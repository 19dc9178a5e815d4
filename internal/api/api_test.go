package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/veritas-id/kestrel/internal/bus"
	"github.com/veritas-id/kestrel/internal/cache"
	"github.com/veritas-id/kestrel/internal/domain"
	"github.com/veritas-id/kestrel/internal/risk"
	"github.com/veritas-id/kestrel/internal/rules"
	"github.com/veritas-id/kestrel/internal/rulestore"
	"github.com/veritas-id/kestrel/internal/telemetry"
)

const testRuleDoc = `{
	"rules": [
		{"id": "has-fingerprint", "name": "Has Fingerprint", "condition": "size(fingerprint) > 0", "weight": 0.6, "action": "allow", "enabled": true},
		{"id": "has-behavior", "name": "Has Behavior", "condition": "size(behavior) > 0", "weight": 0.4, "action": "allow", "enabled": true}
	],
	"thresholds": {"allow": 70, "review": 40, "deny": 0}
}`

type testEnv struct {
	server *httptest.Server
	store  *rulestore.Store
	path   string
}

func newTestEnv(t *testing.T, rateLimit int, signatureSecret string) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(testRuleDoc), 0644); err != nil {
		t.Fatalf("failed to write rule source: %v", err)
	}

	compiler, err := rules.NewCompiler()
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}
	store := rulestore.New(path, compiler)
	if _, err := store.Load(); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	handler := NewHandler(
		store,
		rules.NewRunner(4),
		risk.NewEngine(),
		nil, // no repository: retrieval endpoints degrade gracefully
		cache.NewLRUCache(100),
		bus.NewChannelBus(16),
		telemetry.NewMetrics(nil),
		"test",
		rateLimit,
	)
	srv := NewServer(domain.ServerConfig{}, ServerOptions{
		Handler:         handler,
		SignatureSecret: signatureSecret,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: store, path: path}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func humanPayload(sessionID string) map[string]any {
	now := time.Now().UnixMilli()
	start := now - 120_000
	mouse := make([]any, 40)
	for i := range mouse {
		mouse[i] = map[string]any{"x": float64(i * 11), "y": float64(i * 9), "timestamp": start + int64(i*500)}
	}
	events := func(n int) []any {
		out := make([]any, n)
		for i := range out {
			out[i] = map[string]any{"timestamp": start + int64(i*1000)}
		}
		return out
	}

	return map[string]any{
		"sessionId": sessionID,
		"timestamp": now,
		"action":    "checkout",
		"fingerprint": map[string]any{
			"userAgent":         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
			"language":          "en-US",
			"platform":          "MacIntel",
			"screenResolution":  "2560x1440",
			"timezone":          "America/New_York",
			"canvasFingerprint": string(bytes.Repeat([]byte{'a'}, 150)),
			"webglFingerprint":  "ANGLE (Apple, Apple M2, OpenGL 4.1)",
			"audioFingerprint":  "124.04347527516074",
			"fonts":             []any{"Arial", "Helvetica", "Times", "Courier", "Verdana", "Georgia"},
			"timestamp":         now,
		},
		"behavior": map[string]any{
			"startTime":      start,
			"mouseEvents":    mouse,
			"keyboardEvents": events(25),
			"scrollEvents":   events(8),
			"clickEvents":    events(5),
		},
		"facial": map[string]any{
			"imageData": "data:image/jpeg;base64,abcd",
		},
	}
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.post(t, "/verify", humanPayload("sess-api-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result VerifyResponse
	decodeBody(t, resp, &result)

	if result.EvaluationID == "" {
		t.Error("expected an evaluation id")
	}
	if result.SessionID != "sess-api-1" {
		t.Errorf("expected sessionId sess-api-1, got %s", result.SessionID)
	}
	if result.Score < 0 || result.Score > 100 {
		t.Errorf("score out of bounds: %v", result.Score)
	}
	if result.Decision != domain.DecisionAllow && result.Decision != domain.DecisionReview && result.Decision != domain.DecisionDeny {
		t.Errorf("unexpected decision %s", result.Decision)
	}
	if len(result.Reasons) == 0 {
		t.Error("expected at least one reason")
	}
	if result.Metadata.Version != "test" {
		t.Errorf("expected engine version test, got %s", result.Metadata.Version)
	}
	if result.Metadata.TraceID == "" {
		t.Error("expected a trace id in response metadata")
	}
}

func TestVerifyGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.post(t, "/verify", map[string]any{"timestamp": time.Now().UnixMilli()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result VerifyResponse
	decodeBody(t, resp, &result)
	if result.SessionID == "" {
		t.Error("expected a generated session id")
	}
}

func TestVerifyInvalidJSON(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp, err := http.Post(env.server.URL+"/verify", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEvaluateAlias(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.post(t, "/evaluate", humanPayload("sess-alias"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected /evaluate alias to return 200, got %d", resp.StatusCode)
	}
}

func TestVerifyRateLimit(t *testing.T) {
	env := newTestEnv(t, 3, "")

	payload := humanPayload("sess-limited")
	for i := 0; i < 3; i++ {
		resp := env.post(t, "/verify", payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	resp := env.post(t, "/verify", payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 after limit, got %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health map[string]string
	decodeBody(t, resp, &health)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}

	resp = env.get(t, "/ready")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 0, "")

	env.post(t, "/verify", humanPayload("sess-metrics")).Body.Close()

	resp := env.get(t, "/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestListRules(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.get(t, "/rules")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Rules []domain.RuleDefinition `json:"rules"`
		Count int                     `json:"count"`
	}
	decodeBody(t, resp, &body)

	if body.Count != 2 || len(body.Rules) != 2 {
		t.Errorf("expected 2 rules, got count=%d len=%d", body.Count, len(body.Rules))
	}
}

func TestGetRule(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.get(t, "/rules/has-fingerprint")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rule domain.RuleDefinition
	decodeBody(t, resp, &rule)
	if rule.ID != "has-fingerprint" {
		t.Errorf("expected rule has-fingerprint, got %s", rule.ID)
	}

	resp = env.get(t, "/rules/no-such-rule")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown rule, got %d", resp.StatusCode)
	}
}

func TestRuleStats(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.get(t, "/rules/stats")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /rules/stats, got %d", resp.StatusCode)
	}
}

func TestReloadRules(t *testing.T) {
	env := newTestEnv(t, 0, "")

	// Swap in a single-rule document and reload.
	if err := os.WriteFile(env.path, []byte(`{
		"rules": [{"id": "only", "name": "Only", "condition": "timestamp > 0", "weight": 0.2, "action": "review", "enabled": true}]
	}`), 0644); err != nil {
		t.Fatalf("failed to rewrite rule source: %v", err)
	}

	resp := env.post(t, "/rules/reload", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &body)
	if body.Count != 1 {
		t.Errorf("expected 1 rule after reload, got %d", body.Count)
	}
}

func TestReloadRulesRejectsBadDocument(t *testing.T) {
	env := newTestEnv(t, 0, "")

	if err := os.WriteFile(env.path, []byte(`{"rules": [{`), 0644); err != nil {
		t.Fatalf("failed to corrupt rule source: %v", err)
	}

	resp := env.post(t, "/rules/reload", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid document, got %d", resp.StatusCode)
	}

	// The previous rule set must still serve.
	if got := len(env.store.Current().Set.Rules); got != 2 {
		t.Errorf("expected 2 rules after failed reload, got %d", got)
	}
}

func TestSignatureMiddleware(t *testing.T) {
	const secret = "test-secret"
	env := newTestEnv(t, 0, secret)

	body, _ := json.Marshal(humanPayload("sess-signed"))

	t.Run("missing signature", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/verify", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401 without signature, got %d", resp.StatusCode)
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/verify", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, "deadbeef")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401 with bad signature, got %d", resp.StatusCode)
		}
	})

	t.Run("valid signature", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)

		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/verify", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 with valid signature, got %d", resp.StatusCode)
		}
	})

	t.Run("unsigned GET passes", func(t *testing.T) {
		resp := env.get(t, "/rules")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 for unsigned GET, got %d", resp.StatusCode)
		}
	})
}

func TestGetEvaluationWithoutRepository(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.post(t, "/verify", humanPayload("sess-cached"))
	var result VerifyResponse
	decodeBody(t, resp, &result)

	// No repository and no running worker: the evaluation is not
	// retrievable and the endpoint must degrade explicitly.
	lookup := env.get(t, "/evaluations/"+result.EvaluationID)
	defer lookup.Body.Close()
	if lookup.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without repository, got %d", lookup.StatusCode)
	}
}

func TestTraceHeadersPropagated(t *testing.T) {
	env := newTestEnv(t, 0, "")

	resp := env.get(t, "/health")
	defer resp.Body.Close()

	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
	if resp.Header.Get(TraceIDHeader) == "" {
		t.Error("expected X-Trace-ID response header")
	}
}

func TestRequestIDEcho(t *testing.T) {
	env := newTestEnv(t, 0, "")

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "req-fixed-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get(RequestIDHeader); got != "req-fixed-123" {
		t.Errorf("expected request id echoed back, got %q", got)
	}
}
