// Package session owns the lifecycle of one blink-tracking session: it
// consumes blink events and periodic heartbeat ticks, maintains rolling
// statistics, and raises wellness alerts when the blink rate falls below a
// configured floor.
package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wellness-at-work/blinkd/internal/blink"
)

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Paused
	Ended
)

var stateNames = map[State]string{
	Idle:    "idle",
	Running: "running",
	Paused:  "paused",
	Ended:   "ended",
}

var stateFromName = map[string]State{
	"idle":    Idle,
	"running": Running,
	"paused":  Paused,
	"ended":   Ended,
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

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

// Caller-misuse errors. These are surfaced, never retried internally.
var (
	ErrAlreadyRunning = errors.New("session: already running")
	ErrAlreadyEnded   = errors.New("session: already ended")
	ErrInvalidState   = errors.New("session: operation invalid in current state")
)

// BlinkEvent is one recorded blink inside a session. Field names and
// nesting match the export contract consumed by the GDPR export feature.
type BlinkEvent struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMs int64     `json:"durationMs"`
}

// Session is one tracking session. It is owned exclusively by an Aggregator
// while active and becomes immutable once Ended.
type Session struct {
	ID          string       `json:"id"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime"`
	BlinkCount  int          `json:"blinkCount"`
	BlinkEvents []BlinkEvent `json:"blinkEvents"`
	State       State        `json:"state"`
}

// Clone returns a deep copy that can be read independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if len(s.BlinkEvents) > 0 {
		c.BlinkEvents = make([]BlinkEvent, len(s.BlinkEvents))
		copy(c.BlinkEvents, s.BlinkEvents)
	}
	return &c
}

// Statistics is derived from the session's events and time span, recomputed
// on demand rather than stored.
type Statistics struct {
	TotalBlinks     int     `json:"totalBlinks"`
	DurationSeconds float64 `json:"durationSeconds"`
	BlinksPerMinute float64 `json:"blinksPerMinute"`
}

// StatisticsAt computes the session statistics as of now. For an ended
// session the recorded end time wins over now.
func (s *Session) StatisticsAt(now time.Time) Statistics {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	dur := end.Sub(s.StartTime).Seconds()
	st := Statistics{
		TotalBlinks:     len(s.BlinkEvents),
		DurationSeconds: dur,
	}
	if dur > 0 {
		st.BlinksPerMinute = float64(st.TotalBlinks) * 60 / dur
	}
	return st
}

// Alert is a transient low-blink-rate notification. Delivery is best-effort
// and alerts are not persisted as part of the session.
type Alert struct {
	Timestamp             time.Time `json:"timestamp"`
	ObservedRatePerMinute float64   `json:"observedRatePerMinute"`
	Threshold             float64   `json:"threshold"`
}

// Sink receives a finalized, immutable session exactly once after End.
// Retry and backoff policy is the sink's concern.
type Sink interface {
	Persist(sess *Session) error
}

func newSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartTime: now,
		State:     Running,
	}
}

func eventFromBlink(e blink.Event) BlinkEvent {
	return BlinkEvent{
		Start:      e.Start,
		End:        e.End,
		DurationMs: e.Duration.Milliseconds(),
	}
}
