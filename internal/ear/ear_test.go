package ear

import (
	"errors"
	"math"
	"testing"
	"time"
)

// syntheticEye builds a 6-point eye whose EAR is exactly want, using a unit
// horizontal span and two equal vertical pairs.
func syntheticEye(want float64) []Point {
	half := want / 2
	return []Point{
		{0, 0},       // p1
		{0.3, half},  // p2
		{0.7, half},  // p3
		{1, 0},       // p4
		{0.7, -half}, // p5
		{0.3, -half}, // p6
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		eye  []Point
		want float64
	}{
		{"open eye", syntheticEye(0.30), 0.30},
		{"closing eye", syntheticEye(0.15), 0.15},
		{"fully closed", syntheticEye(0.0), 0.0},
	}

	for _, tt := range tests {
		got, err := Compute(tt.eye)
		if err != nil {
			t.Errorf("%s: Compute error: %v", tt.name, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: Compute = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestComputeScaleInvariant(t *testing.T) {
	small := syntheticEye(0.25)
	large := make([]Point, len(small))
	for i, p := range small {
		large[i] = Point{p.X * 40, p.Y * 40}
	}

	a, err := Compute(small)
	if err != nil {
		t.Fatalf("Compute(small) error: %v", err)
	}
	b, err := Compute(large)
	if err != nil {
		t.Fatalf("Compute(large) error: %v", err)
	}
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("EAR changed under scaling: %f vs %f", a, b)
	}
}

func TestComputeInvalidLandmarks(t *testing.T) {
	tests := []struct {
		name string
		eye  []Point
	}{
		{"too few points", syntheticEye(0.3)[:4]},
		{"too many points", append(syntheticEye(0.3), Point{5, 5})},
		{"zero horizontal span", []Point{{0, 0}, {0, 1}, {0, 2}, {0, 0}, {0, -2}, {0, -1}}},
		{"nil", nil},
	}

	for _, tt := range tests {
		if _, err := Compute(tt.eye); !errors.Is(err, ErrInvalidLandmarks) {
			t.Errorf("%s: Compute error = %v, want ErrInvalidLandmarks", tt.name, err)
		}
	}
}

func TestNewSample(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	s, err := NewSample(ts, syntheticEye(0.30), syntheticEye(0.20))
	if err != nil {
		t.Fatalf("NewSample error: %v", err)
	}
	if !s.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", s.Timestamp, ts)
	}
	if math.Abs(s.Combined-0.25) > 1e-9 {
		t.Errorf("Combined = %f, want 0.25 (mean of both eyes)", s.Combined)
	}
}

func TestNewSampleRejectsBadEye(t *testing.T) {
	_, err := NewSample(time.Now(), syntheticEye(0.3), nil)
	if !errors.Is(err, ErrInvalidLandmarks) {
		t.Errorf("NewSample error = %v, want ErrInvalidLandmarks", err)
	}
}
