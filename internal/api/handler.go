package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veritas-id/kestrel/internal/domain"
	"github.com/veritas-id/kestrel/internal/risk"
	"github.com/veritas-id/kestrel/internal/rules"
	"github.com/veritas-id/kestrel/internal/rulestore"
	"github.com/veritas-id/kestrel/internal/telemetry"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store   *rulestore.Store
	runner  *rules.Runner
	engine  *risk.Engine
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	metrics *telemetry.Metrics
	version string

	// rateLimitPerMinute caps verify calls per session; 0 disables.
	rateLimitPerMinute int
}

// NewHandler creates a new API handler.
func NewHandler(store *rulestore.Store, runner *rules.Runner, engine *risk.Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus, metrics *telemetry.Metrics, version string, rateLimitPerMinute int) *Handler {
	return &Handler{
		store:              store,
		runner:             runner,
		engine:             engine,
		repo:               repo,
		cache:              cache,
		bus:                bus,
		metrics:            metrics,
		version:            version,
		rateLimitPerMinute: rateLimitPerMinute,
	}
}

// VerifyResponse is the response for POST /verify.
type VerifyResponse struct {
	EvaluationID string               `json:"evaluationId"`
	SessionID    string               `json:"sessionId"`
	Score        float64              `json:"score"`
	Decision     domain.Decision      `json:"decision"`
	Reasons      []string             `json:"reasons"`
	Breakdown    domain.RiskBreakdown `json:"breakdown"`
	Thresholds   domain.Thresholds    `json:"thresholds"`
	Timestamp    time.Time            `json:"timestamp"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		RulesMs int64  `json:"rulesMs"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Verify handles POST /verify: one full risk evaluation of a payload.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var payload domain.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if payload.SessionID == "" {
		payload.SessionID = uuid.New().String()
	}

	if h.rateLimitPerMinute > 0 && h.cache != nil {
		count, err := h.cache.IncrementCounter(ctx, "verify:"+payload.SessionID, time.Minute)
		if err != nil {
			slog.Warn("rate limit counter unavailable",
				"session_id", payload.SessionID,
				"error", err,
			)
		} else if count > int64(h.rateLimitPerMinute) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded for session",
			})
			return
		}
	}

	snap := h.store.Current()

	rulesStart := time.Now()
	ruleResults := h.runner.Run(ctx, snap.Compiled, domain.NewEvaluationContext(&payload), nil)
	rulesMs := time.Since(rulesStart).Milliseconds()

	result := h.engine.Evaluate(ctx, &payload, ruleResults, snap.Set.Thresholds)

	ruleErrors := 0
	for _, rr := range ruleResults {
		if rr.Error != "" {
			ruleErrors++
		}
	}

	totalMs := time.Since(start).Milliseconds()

	eval := &domain.Evaluation{
		ID:          uuid.New().String(),
		SessionID:   payload.SessionID,
		Score:       result.Score,
		Decision:    result.Decision,
		Reasons:     result.Reasons,
		Breakdown:   result.Breakdown,
		Timestamp:   time.Now().UTC(),
		RuleResults: ruleResults,
		Metadata: domain.EvaluationMetadata{
			TraceID:        traceID,
			RulesEvaluated: len(ruleResults),
			RuleErrors:     ruleErrors,
			RulesMs:        rulesMs,
			TotalMs:        totalMs,
			RuleSetSource:  snap.Set.Source,
			EngineVersion:  h.version,
		},
	}

	// Persistence happens async via the worker; the hot path only publishes.
	if h.bus != nil {
		evalPayload, _ := json.Marshal(eval)
		if err := h.bus.Publish(ctx, domain.TopicEvaluationCompleted, evalPayload); err != nil {
			slog.Error("failed to publish evaluation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	if h.metrics != nil {
		h.metrics.ObserveEvaluation(result.Decision, time.Since(start), ruleResults)
	}

	resp := VerifyResponse{
		EvaluationID: eval.ID,
		SessionID:    payload.SessionID,
		Score:        result.Score,
		Decision:     result.Decision,
		Reasons:      result.Reasons,
		Breakdown:    result.Breakdown,
		Thresholds:   snap.Set.Thresholds,
		Timestamp:    eval.Timestamp,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.RulesMs = rulesMs
	resp.Metadata.TotalMs = totalMs
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation by ID, preferring the cache.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.cache != nil {
		if eval, err := h.cache.GetEvaluation(ctx, evalID); err == nil && eval != nil {
			writeJSON(w, http.StatusOK, eval)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// ListSessionEvaluations retrieves recent evaluations for a session.
func (h *Handler) ListSessionEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "session id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	evaluations, err := h.repo.ListEvaluationsBySession(ctx, sessionID, since)
	if err != nil {
		slog.Error("failed to list evaluations", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list evaluations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":   sessionID,
		"evaluations": evaluations,
		"count":       len(evaluations),
	})
}

// ListRules returns the active rule snapshot.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	set := h.store.Current().Set

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":      set.Rules,
		"count":      len(set.Rules),
		"thresholds": set.Thresholds,
		"source":     set.Source,
		"loadedAt":   set.LoadedAt,
	})
}

// GetRule retrieves a rule by ID from the active snapshot.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.store.Current().Set.Rules {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// RuleStats returns statistics over the active rule set.
func (h *Handler) RuleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Current().Set.Stats())
}

// ReloadRules reloads the rule source into a fresh snapshot. A rejected
// document leaves the previous snapshot active and returns 400.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := h.store.Reload()

	rec := &domain.ReloadRecord{
		ID:        uuid.New().String(),
		Source:    h.store.Source(),
		Timestamp: time.Now().UTC(),
	}

	if err != nil {
		rec.Error = err.Error()
		h.recordReload(ctx, rec)
		if h.metrics != nil {
			h.metrics.ObserveReload(err, 0)
		}

		slog.Error("rule reload failed", "source", rec.Source, "error", err)

		status := http.StatusInternalServerError
		if errors.Is(err, rulestore.ErrConfig) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	enabled := len(snap.Set.Enabled())
	rec.Success = true
	rec.RuleCount = len(snap.Set.Rules)
	h.recordReload(ctx, rec)
	if h.metrics != nil {
		h.metrics.ObserveReload(nil, enabled)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(rec)
		if err := h.bus.Publish(ctx, domain.TopicRulesReloaded, payload); err != nil {
			slog.Error("failed to publish reload event", "error", err)
		}
	}

	slog.Info("rules reloaded",
		"source", rec.Source,
		"count", rec.RuleCount,
		"enabled", enabled,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "rules reloaded successfully",
		"count":    rec.RuleCount,
		"enabled":  enabled,
		"loadedAt": snap.Set.LoadedAt,
	})
}

// ListReloadRecords returns the most recent reload attempts.
func (h *Handler) ListReloadRecords(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	records, err := h.repo.ListReloadRecords(r.Context(), 50)
	if err != nil {
		slog.Error("failed to list reload records", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list reload records",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reloads": records,
		"count":   len(records),
	})
}

func (h *Handler) recordReload(ctx context.Context, rec *domain.ReloadRecord) {
	if h.repo == nil {
		return
	}
	if err := h.repo.SaveReloadRecord(ctx, rec); err != nil {
		slog.Error("failed to save reload record", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
