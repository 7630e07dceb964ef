// Package blink turns a noisy per-frame eye-openness signal into discrete,
// debounced blink events.
package blink

import (
	"encoding/json"
	"time"

	"github.com/wellness-at-work/blinkd/internal/ear"
)

// State is the detector's position in the blink state machine.
type State int

const (
	Open State = iota
	ClosingCandidate
	Closed
	ReopeningCandidate
)

var stateNames = map[State]string{
	Open:               "open",
	ClosingCandidate:   "closing_candidate",
	Closed:             "closed",
	ReopeningCandidate: "reopening_candidate",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config holds the detector's debounce parameters. A naive single-threshold
// crossing over-counts under camera and landmark jitter; the two-sided
// debounce (MinClosedFrames, Refractory) and the max-duration cutoff
// (MaxBlinkFrames) are what separate a blink from noise or a prolonged
// eye closure.
type Config struct {
	// EARThreshold is the combined-EAR value below which the eye is
	// considered closing.
	EARThreshold float64 `yaml:"ear_threshold"`
	// MinClosedFrames is how many consecutive below-threshold samples are
	// required before a closing candidate is confirmed as closed.
	MinClosedFrames int `yaml:"min_closed_frames"`
	// MaxBlinkFrames is the longest below-threshold episode (in frames)
	// still counted as a blink. Longer episodes are sustained eye closures
	// and are discarded.
	MaxBlinkFrames int `yaml:"max_blink_frames"`
	// Refractory is the cooldown after an emitted event during which
	// threshold crossings are ignored. Enforced by timestamp so it is
	// resilient to variable frame rate.
	Refractory time.Duration `yaml:"refractory"`
}

// DefaultConfig returns the engineering defaults for ~30fps input.
func DefaultConfig() Config {
	return Config{
		EARThreshold:    0.21,
		MinClosedFrames: 2,
		MaxBlinkFrames:  7,
		Refractory:      100 * time.Millisecond,
	}
}

// Event is one completed blink. Immutable once emitted.
type Event struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Detector is the debounced threshold state machine. It carries state across
// frames and is not safe for concurrent use; the processing path owns it.
type Detector struct {
	cfg Config

	state          State
	candidateStart time.Time
	framesBelow    int // consecutive below-threshold samples in the candidate
	framesElapsed  int // all samples since candidateStart, for the max cutoff
	lastEmit       time.Time
}

func New(cfg Config) *Detector {
	if cfg.MinClosedFrames < 1 {
		cfg.MinClosedFrames = 1
	}
	return &Detector{cfg: cfg}
}

// State returns the current machine state.
func (d *Detector) State() State {
	return d.state
}

// Reset discards any in-progress candidate and returns the machine to Open.
// Called at session start.
func (d *Detector) Reset() {
	d.state = Open
	d.framesBelow = 0
	d.framesElapsed = 0
	d.candidateStart = time.Time{}
	d.lastEmit = time.Time{}
}

// Gap records a frame with no usable signal (tracking lost). A gap aborts
// any in-progress candidate: tracking loss must never be read as a blink.
func (d *Detector) Gap() {
	if d.state != Open {
		d.abort()
	}
}

func (d *Detector) abort() {
	d.state = Open
	d.framesBelow = 0
	d.framesElapsed = 0
	d.candidateStart = time.Time{}
}

// Process advances the state machine by one sample and returns the completed
// blink event, or nil when the sample did not finish a blink.
func (d *Detector) Process(s ear.Sample) *Event {
	below := s.Combined < d.cfg.EARThreshold

	switch d.state {
	case Open:
		if !below {
			return nil
		}
		// Within the refractory window after an emitted blink the
		// crossing is ignored entirely.
		if !d.lastEmit.IsZero() && s.Timestamp.Sub(d.lastEmit) < d.cfg.Refractory {
			return nil
		}
		d.state = ClosingCandidate
		d.candidateStart = s.Timestamp
		d.framesBelow = 1
		d.framesElapsed = 1
		if d.framesBelow >= d.cfg.MinClosedFrames {
			d.state = Closed
		}

	case ClosingCandidate:
		if !below {
			// Single-frame noise dip, rejected.
			d.abort()
			return nil
		}
		d.framesBelow++
		d.framesElapsed++
		if d.framesBelow >= d.cfg.MinClosedFrames {
			d.state = Closed
		}

	case Closed:
		if below {
			d.framesElapsed++
			return nil
		}
		// The eye reopened. The rising sample completes the episode in a
		// single step: Closed -> ReopeningCandidate -> Open. Emission is
		// decided here so a blink followed immediately by end-of-stream is
		// still counted.
		d.state = ReopeningCandidate
		return d.reopen(s.Timestamp)

	case ReopeningCandidate:
		// Not reachable between samples; reopen() always leaves Open.
		d.abort()
	}

	return nil
}

// reopen finishes a below-threshold episode at ts. Episodes longer than
// MaxBlinkFrames are sustained closures, not blinks, and emit nothing.
func (d *Detector) reopen(ts time.Time) *Event {
	start := d.candidateStart
	frames := d.framesElapsed
	d.abort()

	if frames > d.cfg.MaxBlinkFrames {
		return nil
	}
	d.lastEmit = ts
	return &Event{
		Start:    start,
		End:      ts,
		Duration: ts.Sub(start),
	}
}
