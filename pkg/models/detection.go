package models

// BBox is an axis-aligned box in pixel coordinates: [x1, y1, x2, y2].
type BBox [4]float64

// CenterX returns the bbox center's x coordinate.
func (b BBox) CenterX() float64 { return (b[0] + b[2]) / 2 }

// CenterY returns the bbox center's y coordinate.
func (b BBox) CenterY() float64 { return (b[1] + b[3]) / 2 }

// Detection is one model observation for a single frame.
type Detection struct {
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       BBox      `json:"bbox"`
	Mask       []byte    `json:"mask,omitempty"`
	Keypoints  []float64 `json:"keypoints,omitempty"`
	TrackID    string    `json:"track_id,omitempty"`
	FrameRef   uint64    `json:"frame_ref"`
}
