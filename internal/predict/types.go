// Package predict holds the result shapes returned by the prediction backend,
// the landmark topologies drawn over them, and the client that uploads frames.
package predict

import (
	"encoding/json"
	"fmt"
)

// Point is a landmark in normalized coordinates relative to the source frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks is an ordered landmark list. A nil entry marks a landmark the
// model did not report; edges touching it are not drawn.
type Landmarks []*Point

// At returns the landmark at index i, if present.
func (l Landmarks) At(i int) (Point, bool) {
	if i < 0 || i >= len(l) || l[i] == nil {
		return Point{}, false
	}
	return *l[i], true
}

// Present counts the landmarks that are not missing.
func (l Landmarks) Present() int {
	n := 0
	for _, p := range l {
		if p != nil {
			n++
		}
	}
	return n
}

// Of builds a Landmarks list from plain points.
func Of(points ...Point) Landmarks {
	out := make(Landmarks, len(points))
	for i := range points {
		p := points[i]
		out[i] = &p
	}
	return out
}

// Model status values reported by the backend.
const (
	ModelLoaded = "loaded"
)

// Status is the part every result shares: whether the model is usable.
type Status struct {
	ModelStatus string `json:"modelStatus"`
	Message     string `json:"message,omitempty"`
}

// Describe renders the status for display.
func (s Status) Describe() string {
	if s.ModelStatus == ModelLoaded {
		return "model loaded"
	}
	if s.Message != "" {
		return s.Message
	}
	return "model unavailable"
}

// ASLResult is the hand-sign recognition response.
type ASLResult struct {
	Status
	Label            string    `json:"label"`
	Confidence       float64   `json:"confidence"`
	FPS              float64   `json:"fps"`
	LettersPerSecond int       `json:"lettersPerSecond"`
	HandLandmarks    Landmarks `json:"handLandmarks"`
	BBox             *BBox     `json:"bbox"`
}

// BBox is the hand region of interest in source pixels, [x1, y1, x2, y2].
type BBox [4]int

// SegmentationResult is the body pose + face mesh response.
type SegmentationResult struct {
	Status
	PosePoints Landmarks `json:"posePoints"`
	FacePoints Landmarks `json:"facePoints"`
}

// Decoder turns a raw response body into a typed result.
type Decoder[T any] func(body []byte) (T, error)

// JSONDecoder decodes a JSON body into T.
func JSONDecoder[T any]() Decoder[T] {
	return func(body []byte) (T, error) {
		var out T
		if err := json.Unmarshal(body, &out); err != nil {
			return out, fmt.Errorf("failed to decode response: %w", err)
		}
		return out, nil
	}
}
