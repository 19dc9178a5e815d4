package signals

import (
	"math"
	"time"
)

// BehaviorMetrics are the normalized features derived from the behavioral
// event payload.
type BehaviorMetrics struct {
	TotalEvents int
	Duration    time.Duration

	// Frequencies are events per second over the session duration.
	// A zero duration yields zero, never a division error.
	ClickFrequency     float64
	ScrollFrequency    float64
	KeystrokeFrequency float64

	// MouseMovementDistance is the cumulative Euclidean distance between
	// consecutive mouse samples, in pixels.
	MouseMovementDistance float64

	// StartTime is the collector-reported session start, epoch ms.
	StartTime int64
}

// ExtractBehavior derives behavioral metrics from a raw behavior payload.
// A nil or empty payload yields zero metrics, which the scorer treats as
// low activity.
func ExtractBehavior(behavior map[string]any, now time.Time) BehaviorMetrics {
	m := BehaviorMetrics{
		StartTime: int64(getFloat(behavior, "startTime")),
	}

	mouse := arrayLen(behavior, "mouseEvents")
	keyboard := arrayLen(behavior, "keyboardEvents")
	focus := arrayLen(behavior, "focusEvents")
	scroll := arrayLen(behavior, "scrollEvents")
	clicks := arrayLen(behavior, "clickEvents")
	m.TotalEvents = mouse + keyboard + focus + scroll + clicks

	if m.StartTime > 0 {
		m.Duration = now.Sub(time.UnixMilli(m.StartTime))
		if m.Duration < 0 {
			m.Duration = 0
		}
	}

	secs := m.Duration.Seconds()
	if secs > 0 {
		m.ClickFrequency = float64(clicks) / secs
		m.ScrollFrequency = float64(scroll) / secs
		m.KeystrokeFrequency = float64(keyboard) / secs
	}

	m.MouseMovementDistance = mouseDistance(getArray(behavior, "mouseEvents"))

	return m
}

// mouseDistance sums the Euclidean distance between consecutive samples.
func mouseDistance(events []any) float64 {
	if len(events) < 2 {
		return 0
	}

	var dist float64
	prevX, prevY, havePrev := 0.0, 0.0, false
	for _, ev := range events {
		point, ok := ev.(map[string]any)
		if !ok {
			continue
		}
		x := getFloat(point, "x")
		y := getFloat(point, "y")
		if havePrev {
			dx := x - prevX
			dy := y - prevY
			dist += math.Sqrt(dx*dx + dy*dy)
		}
		prevX, prevY, havePrev = x, y, true
	}
	return dist
}
