package pipeline

import (
	"math"
	"math/rand"
	"time"

	"github.com/wellness-at-work/blinkd/internal/ear"
)

// NoFaceValue marks a no-face frame in a scripted EAR sequence.
var NoFaceValue = math.NaN()

// ScriptedStream replays a fixed sequence of combined-EAR values as frames
// and landmarks, for demo mode and tests without a camera. It implements
// both FrameSource and LandmarkProvider.
type ScriptedStream struct {
	script   []float64
	interval time.Duration
	start    time.Time
	realtime bool
	loop     bool
	i        int
}

// NewScriptedStream replays script at the given frame interval using
// synthetic timestamps starting at start. Frames are produced as fast as
// they are consumed.
func NewScriptedStream(script []float64, interval time.Duration, start time.Time) *ScriptedStream {
	return &ScriptedStream{script: script, interval: interval, start: start}
}

// NewRealtimeScriptedStream is like NewScriptedStream but paces frames at
// the interval in wall time and loops the script forever, emulating a live
// camera for demo mode.
func NewRealtimeScriptedStream(script []float64, interval time.Duration) *ScriptedStream {
	return &ScriptedStream{
		script:   script,
		interval: interval,
		start:    time.Now(),
		realtime: true,
		loop:     true,
	}
}

func (s *ScriptedStream) NextFrame() (*Frame, error) {
	if s.i >= len(s.script) {
		if !s.loop {
			return nil, ErrEndOfStream
		}
		s.i = 0
	}
	if s.realtime {
		time.Sleep(s.interval)
	}
	f := &Frame{
		Seq:       uint64(s.i),
		Timestamp: s.start.Add(time.Duration(s.i) * s.interval),
	}
	if s.realtime {
		f.Timestamp = time.Now()
	}
	s.i++
	return f, nil
}

func (s *ScriptedStream) Extract(f *Frame) (Landmarks, error) {
	v := s.script[int(f.Seq)%len(s.script)]
	if math.IsNaN(v) {
		return Landmarks{}, ErrNoFace
	}
	return Landmarks{Left: SyntheticEye(v), Right: SyntheticEye(v)}, nil
}

func (s *ScriptedStream) Close() error { return nil }

// SyntheticEye builds a 6-point eye whose EAR is exactly v: a unit
// horizontal span with two equal vertical pairs.
func SyntheticEye(v float64) []ear.Point {
	half := v / 2
	return []ear.Point{
		{X: 0, Y: 0},
		{X: 0.3, Y: half},
		{X: 0.7, Y: half},
		{X: 1, Y: 0},
		{X: 0.7, Y: -half},
		{X: 0.3, Y: -half},
	}
}

// BlinkPattern generates a plausible demo script: mostly-open frames with a
// blink roughly every few seconds, given the frame rate.
func BlinkPattern(seconds int, fps int) []float64 {
	var script []float64
	frames := seconds * fps
	nextBlink := fps * 2
	for i := 0; i < frames; i++ {
		if i == nextBlink {
			script = append(script, 0.15, 0.12, 0.14)
			i += 2
			nextBlink = i + fps*2 + rand.Intn(fps*3)
			continue
		}
		script = append(script, 0.28+rand.Float64()*0.06)
	}
	return script
}
