// Package worker persists completed evaluations off the request hot path.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/veritas-id/kestrel/internal/domain"
)

// Worker subscribes to completed evaluations on the event bus, writes them
// to the repository and raises an alert event for every deny. Persistence
// failures are logged, never propagated back to the evaluation path.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	cache domain.Cache

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// CacheTTL is how long persisted evaluations stay in the read cache.
const CacheTTL = 15 * time.Minute

// NewWorker creates a new async persistence worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the evaluation-completed topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEvaluationCompleted, w.handleEvaluation)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("persistence worker started",
		"topic", domain.TopicEvaluationCompleted,
	)

	return nil
}

// handleEvaluation persists one completed evaluation.
func (w *Worker) handleEvaluation(ctx context.Context, msg *domain.Message) error {
	var eval domain.Evaluation
	if err := json.Unmarshal(msg.Payload, &eval); err != nil {
		slog.Error("failed to parse evaluation message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveEvaluation(ctx, &eval); err != nil {
			slog.Error("failed to save evaluation",
				"evaluation_id", eval.ID,
				"session_id", eval.SessionID,
				"error", err,
			)
		}
	}

	if w.cache != nil {
		if err := w.cache.SetEvaluation(ctx, &eval, CacheTTL); err != nil {
			slog.Warn("failed to cache evaluation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	if eval.Decision == domain.DecisionDeny {
		if err := w.bus.Publish(ctx, domain.TopicAlert, msg.Payload); err != nil {
			slog.Error("failed to publish alert",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	slog.Debug("evaluation persisted",
		"evaluation_id", eval.ID,
		"session_id", eval.SessionID,
		"decision", eval.Decision,
		"score", eval.Score,
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("persistence worker stopped")
	return nil
}
