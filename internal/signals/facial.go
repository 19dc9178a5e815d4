package signals

// FacialMetrics describe an optional facial-verification capture.
type FacialMetrics struct {
	Present  bool
	Error    bool
	HasImage bool
}

// ExtractFacial derives facial metrics from a raw payload.
func ExtractFacial(facial map[string]any) FacialMetrics {
	if facial == nil {
		return FacialMetrics{}
	}
	return FacialMetrics{
		Present:  true,
		Error:    present(facial, "error"),
		HasImage: present(facial, "imageData"),
	}
}
