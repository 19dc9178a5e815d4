package domain

import "time"

// Payload is one client-interaction snapshot submitted for evaluation.
// Fingerprint, behavior and facial data arrive as opaque structured maps
// produced by the browser-side collectors; the engine never assumes more
// shape than the individual extractors need.
type Payload struct {
	SessionID string `json:"sessionId,omitempty"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Action    string `json:"action,omitempty"`

	Fingerprint map[string]any `json:"fingerprint,omitempty"`
	Behavior    map[string]any `json:"behavior,omitempty"`
	Facial      map[string]any `json:"facial,omitempty"`
}

// Time returns the payload timestamp as a time.Time.
func (p *Payload) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// EvaluationContext is the read-only view of a payload exposed to rule
// conditions. Built fresh per evaluation; conditions cannot mutate it.
// Absent sub-payloads are bound as empty maps so existence checks like
// size(facial) > 0 evaluate cleanly instead of erroring.
type EvaluationContext struct {
	Fingerprint map[string]any
	Behavior    map[string]any
	Facial      map[string]any
	SessionID   string
	Timestamp   int64
}

// NewEvaluationContext builds the condition context for a payload.
func NewEvaluationContext(p *Payload) *EvaluationContext {
	ctx := &EvaluationContext{
		Fingerprint: p.Fingerprint,
		Behavior:    p.Behavior,
		Facial:      p.Facial,
		SessionID:   p.SessionID,
		Timestamp:   p.Timestamp,
	}
	if ctx.Fingerprint == nil {
		ctx.Fingerprint = map[string]any{}
	}
	if ctx.Behavior == nil {
		ctx.Behavior = map[string]any{}
	}
	if ctx.Facial == nil {
		ctx.Facial = map[string]any{}
	}
	return ctx
}
