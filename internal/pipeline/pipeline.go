// Package pipeline connects a frame source to the blink detector and session
// aggregator: a capture goroutine produces frames at the source's native
// rate, a single processing goroutine consumes them, and a one-slot handoff
// between the two keeps latency bounded by dropping stale frames instead of
// queueing them.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/wellness-at-work/blinkd/internal/blink"
	"github.com/wellness-at-work/blinkd/internal/ear"
	"github.com/wellness-at-work/blinkd/internal/session"
)

var (
	// ErrEndOfStream is returned by a FrameSource when no more frames
	// will be produced.
	ErrEndOfStream = errors.New("pipeline: end of stream")
	// ErrNoFace is returned by a LandmarkProvider when no face is found
	// in the frame. Downstream this is a gap, never an eyes-closed sample.
	ErrNoFace = errors.New("pipeline: no face found")
)

// Frame is an opaque payload plus a monotonic capture timestamp. It is owned
// by the source and borrowed read-only for one processing step.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// Landmarks holds the per-eye landmark points for one frame. Valid only for
// the frame that produced them.
type Landmarks struct {
	Left  []ear.Point `json:"left"`
	Right []ear.Point `json:"right"`
}

// FrameSource delivers timestamped frames at its own cadence.
type FrameSource interface {
	NextFrame() (*Frame, error)
	Close() error
}

// LandmarkProvider extracts eye-region landmarks from a frame.
type LandmarkProvider interface {
	Extract(f *Frame) (Landmarks, error)
}

// Stats are the pipeline's frame counters. Dropped frames are reduced
// sampling density, not an error condition.
type Stats struct {
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	NoFace    uint64 `json:"noFace"`
	Skipped   uint64 `json:"skipped"`
}

// Pipeline runs the capture and processing paths. The detector is owned by
// the processing goroutine and never touched concurrently; resets requested
// from other goroutines are applied at a frame boundary.
type Pipeline struct {
	source   FrameSource
	provider LandmarkProvider
	detector *blink.Detector
	agg      *session.Aggregator

	onSample func(ear.Sample)
	onBlink  func(blink.Event)

	in             inbox
	resetRequested atomic.Bool

	processed uint64
	noFace    uint64
	skipped   uint64
}

func New(source FrameSource, provider LandmarkProvider, detector *blink.Detector, agg *session.Aggregator) *Pipeline {
	p := &Pipeline{
		source:   source,
		provider: provider,
		detector: detector,
		agg:      agg,
	}
	p.in.init()
	return p
}

// OnSample registers a telemetry hook invoked for every processed sample
// while a session is running. Must be set before Run.
func (p *Pipeline) OnSample(fn func(ear.Sample)) {
	p.onSample = fn
}

// OnBlink registers a hook invoked for every blink accepted by the session.
// Must be set before Run.
func (p *Pipeline) OnBlink(fn func(blink.Event)) {
	p.onBlink = fn
}

// RequestDetectorReset arms a detector reset that the processing goroutine
// applies before the next frame. Called at session start.
func (p *Pipeline) RequestDetectorReset() {
	p.resetRequested.Store(true)
}

// Stats returns a snapshot of the frame counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed: atomic.LoadUint64(&p.processed),
		Dropped:   p.in.dropCount(),
		NoFace:    atomic.LoadUint64(&p.noFace),
		Skipped:   atomic.LoadUint64(&p.skipped),
	}
}

// Run starts the capture goroutine and processes frames until the source
// ends or ctx is cancelled. In-flight work is abandoned on cancellation; the
// aggregator's own state machine guarantees no event lands on an ended
// session.
func (p *Pipeline) Run(ctx context.Context) error {
	go p.capture(ctx)

	for {
		f, ok := p.in.take()
		if !ok {
			log.Printf("Pipeline stopped (processed=%d dropped=%d noFace=%d)",
				atomic.LoadUint64(&p.processed), p.in.dropCount(), atomic.LoadUint64(&p.noFace))
			return ctx.Err()
		}
		p.handleFrame(f)
	}
}

func (p *Pipeline) capture(ctx context.Context) {
	defer p.in.close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := p.source.NextFrame()
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				log.Printf("Frame source ended")
				return
			}
			log.Printf("Frame capture error: %v", err)
			continue
		}
		p.in.put(f)
	}
}

func (p *Pipeline) handleFrame(f *Frame) {
	if p.resetRequested.CompareAndSwap(true, false) {
		p.detector.Reset()
	}

	// While the session is idle or paused, tracking truly stops: the frame
	// is dropped, not buffered, and any in-progress candidate is aborted so
	// a closure spanning a pause can't complete as a blink.
	if p.agg.State() != session.Running {
		p.detector.Gap()
		return
	}

	atomic.AddUint64(&p.processed, 1)

	lm, err := p.provider.Extract(f)
	if err != nil {
		if errors.Is(err, ErrNoFace) {
			atomic.AddUint64(&p.noFace, 1)
			p.detector.Gap()
			return
		}
		atomic.AddUint64(&p.skipped, 1)
		log.Printf("Landmark extraction error, frame %d skipped: %v", f.Seq, err)
		return
	}

	sample, err := ear.NewSample(f.Timestamp, lm.Left, lm.Right)
	if err != nil {
		// Malformed input is local: the frame is skipped with no event
		// and no session mutation.
		atomic.AddUint64(&p.skipped, 1)
		log.Printf("Invalid landmarks, frame %d skipped: %v", f.Seq, err)
		return
	}

	if p.onSample != nil {
		p.onSample(sample)
	}

	ev := p.detector.Process(sample)
	if ev == nil {
		return
	}
	if err := p.agg.OnBlinkEvent(*ev); err != nil {
		// The session ended between detection and delivery. Drop.
		return
	}
	if p.onBlink != nil {
		p.onBlink(*ev)
	}
}
