// Package ear computes the Eye Aspect Ratio from eye-region landmarks.
//
// The EAR is the ratio of eyelid vertical distance to eye-corner horizontal
// distance. It is large while the eye is open and drops sharply toward zero
// as the eyelid closes, and the normalization by the horizontal span makes
// it independent of face scale and camera distance.
package ear

import (
	"errors"
	"math"
	"time"
)

// LandmarksPerEye is the number of landmark points required per eye:
// two horizontal corners (p1, p4) and two vertical pairs (p2/p6, p3/p5).
const LandmarksPerEye = 6

var ErrInvalidLandmarks = errors.New("ear: eye landmarks must contain exactly 6 non-degenerate points")

// Point is a 2D landmark coordinate in frame pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Compute returns the Eye Aspect Ratio for one eye:
//
//	EAR = (‖p2-p6‖ + ‖p3-p5‖) / (2·‖p1-p4‖)
//
// The input must hold exactly LandmarksPerEye points ordered p1..p6 with
// p1/p4 the horizontal corners. A wrong point count or a zero horizontal
// span returns ErrInvalidLandmarks.
func Compute(eye []Point) (float64, error) {
	if len(eye) != LandmarksPerEye {
		return 0, ErrInvalidLandmarks
	}
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return 0, ErrInvalidLandmarks
	}
	vertical := dist(eye[1], eye[5]) + dist(eye[2], eye[4])
	return vertical / (2.0 * horizontal), nil
}

// Sample is one per-frame openness measurement. Combined is the arithmetic
// mean of the two eyes; values are a ratio of distances and can exceed
// typical bounds under landmark noise, so no clamp is applied.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Left      float64   `json:"leftEar"`
	Right     float64   `json:"rightEar"`
	Combined  float64   `json:"combinedEar"`
}

// NewSample computes both per-eye ratios and their mean for one frame.
func NewSample(ts time.Time, left, right []Point) (Sample, error) {
	l, err := Compute(left)
	if err != nil {
		return Sample{}, err
	}
	r, err := Compute(right)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Timestamp: ts,
		Left:      l,
		Right:     r,
		Combined:  (l + r) / 2.0,
	}, nil
}
