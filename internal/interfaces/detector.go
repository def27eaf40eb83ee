package interfaces

import "context"

// Prediction is one object found in a camera frame.
type Prediction struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Detector runs object detection over the current camera frame.
// Implementations own the frame source; frames never leave the client.
type Detector interface {
	Detect(ctx context.Context) ([]Prediction, error)
}
