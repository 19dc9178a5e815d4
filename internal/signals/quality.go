package signals

import "time"

// TimestampTolerance is the maximum skew allowed between sub-payload
// timestamps before they count as inconsistent.
const TimestampTolerance = 5 * time.Minute

// QualityMetrics describe freshness and internal consistency of a payload.
type QualityMetrics struct {
	// DataAge is how old the payload timestamp is relative to now.
	// Meaningful only when HasTimestamp is true.
	DataAge      time.Duration
	HasTimestamp bool

	FingerprintPresent bool
	BehaviorPresent    bool

	// FacialValid is true when a facial capture is present without an
	// error flag.
	FacialValid bool

	// TimestampsConsistent is true when the fingerprint capture time and
	// the behavioral session start agree within TimestampTolerance. False
	// whenever either side is missing.
	TimestampsConsistent bool
}

// ExtractQuality derives data-quality metrics for a payload.
func ExtractQuality(timestamp int64, behavior BehaviorMetrics, fingerprint FingerprintMetrics, facial FacialMetrics, behaviorPresent bool, now time.Time) QualityMetrics {
	m := QualityMetrics{
		FingerprintPresent: fingerprint.Present,
		BehaviorPresent:    behaviorPresent,
		FacialValid:        facial.Present && !facial.Error,
	}

	if timestamp > 0 {
		m.HasTimestamp = true
		m.DataAge = now.Sub(time.UnixMilli(timestamp))
		if m.DataAge < 0 {
			m.DataAge = 0
		}
	}

	if fingerprint.Timestamp > 0 && behavior.StartTime > 0 {
		skew := time.Duration(fingerprint.Timestamp-behavior.StartTime) * time.Millisecond
		if skew < 0 {
			skew = -skew
		}
		m.TimestampsConsistent = skew < TimestampTolerance
	}

	return m
}
