package signals

import "strings"

// requiredFingerprintFields is the fixed field set whose completeness
// feeds the fingerprint sub-score.
var requiredFingerprintFields = []string{
	"userAgent",
	"language",
	"platform",
	"screenResolution",
	"timezone",
	"canvasFingerprint",
	"webglFingerprint",
	"audioFingerprint",
}

// botUserAgentPatterns are the user-agent substrings that flag automated
// clients. The first match wins.
var botUserAgentPatterns = []string{"bot", "crawler", "spider", "scraper"}

// Placeholder values collectors emit when a probe fails.
const (
	webglNotSupported = "webgl_not_supported"
	audioError        = "audio_error"
)

// FingerprintMetrics are the normalized features of a device fingerprint.
type FingerprintMetrics struct {
	Present bool

	// Completeness is the fraction of required fields carrying usable
	// values, in [0,1].
	Completeness float64

	BotUserAgent   bool
	CanvasRich     bool // canvas fingerprint long enough to be meaningful
	WebGLSupported bool
	AudioValid     bool
	FontCount      int

	// Timestamp is the collector-reported capture time, epoch ms.
	Timestamp int64
}

// ExtractFingerprint derives fingerprint metrics from a raw payload.
func ExtractFingerprint(fingerprint map[string]any) FingerprintMetrics {
	m := FingerprintMetrics{
		Present:   fingerprint != nil,
		Timestamp: int64(getFloat(fingerprint, "timestamp")),
	}
	if !m.Present {
		return m
	}

	found := 0
	for _, field := range requiredFingerprintFields {
		if present(fingerprint, field) {
			found++
		}
	}
	m.Completeness = float64(found) / float64(len(requiredFingerprintFields))

	ua := strings.ToLower(getString(fingerprint, "userAgent"))
	for _, pattern := range botUserAgentPatterns {
		if strings.Contains(ua, pattern) {
			m.BotUserAgent = true
			break
		}
	}

	canvas := getString(fingerprint, "canvasFingerprint")
	m.CanvasRich = len(canvas) > 100

	webgl := getString(fingerprint, "webglFingerprint")
	m.WebGLSupported = webgl != "" && webgl != webglNotSupported

	audio := getString(fingerprint, "audioFingerprint")
	m.AudioValid = audio != "" && audio != audioError

	m.FontCount = arrayLen(fingerprint, "fonts")

	return m
}
