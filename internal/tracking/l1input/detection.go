package l1input

import "math"

// Measurement is one channel's localisation result for a detection.
type Measurement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	A      float64 `json:"A"`
	C      float64 `json:"c"`
	XStd   float64 `json:"x_pstd"`
	YStd   float64 `json:"y_pstd"`
	AStd   float64 `json:"A_pstd"`
	CStd   float64 `json:"c_pstd"`
	SigmaR float64 `json:"sigma_r"`
	PVal   float64 `json:"pval_Ar"`
	// IsPSF reports that the fit residuals passed the Anderson-Darling
	// normality test, i.e. the source looks like a single point source.
	IsPSF bool `json:"isPSF"`
}

// Detection is a localised source with one measurement per channel.
type Detection struct {
	Channels []Measurement `json:"channels"`
}

// DetectionFrame holds every detection of one movie frame.
type DetectionFrame struct {
	Frame      int         `json:"frame"`
	Detections []Detection `json:"detections"`
}

// Detections is the per-movie detection table indexed by frame number.
type Detections []DetectionFrame

// Lookup resolves a tracker feature reference. idx is 1-based; 0 (or any
// out-of-range reference) reports no detection.
func (d Detections) Lookup(frame, idx int) (*Detection, bool) {
	if idx <= 0 || frame < 0 || frame >= len(d) {
		return nil, false
	}
	dets := d[frame].Detections
	if idx > len(dets) {
		return nil, false
	}
	return &dets[idx-1], true
}

// Position returns the channel position of a feature reference, or NaN
// coordinates when the reference does not resolve.
func (d Detections) Position(frame, idx, ch int) (x, y float64) {
	det, ok := d.Lookup(frame, idx)
	if !ok || ch >= len(det.Channels) {
		return math.NaN(), math.NaN()
	}
	m := det.Channels[ch]
	return m.X, m.Y
}
