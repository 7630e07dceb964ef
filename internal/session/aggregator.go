package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/wellness-at-work/blinkd/internal/blink"
)

// AlertCallback is invoked for each raised wellness alert. Delivery is
// fire-and-forget; the aggregator never retries.
type AlertCallback func(Alert)

// AggregatorConfig holds the wellness heartbeat parameters.
type AggregatorConfig struct {
	// Window is the trailing span over which the blink rate is computed.
	Window time.Duration `yaml:"window"`
	// MinBlinksPerMinute is the rate floor below which an alert is raised.
	MinBlinksPerMinute float64 `yaml:"min_blinks_per_minute"`
	// HeartbeatInterval drives the periodic rate check in Run.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultAggregatorConfig mirrors the healthy-adult guidance of 10+ blinks
// per minute over a one-minute window.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Window:             time.Minute,
		MinBlinksPerMinute: 10,
		HeartbeatInterval:  time.Second,
	}
}

// Aggregator is the single writer for the active session. The blink-event
// path and the heartbeat path are serialized through its mutex, so a blink
// event can never be appended to an already-ended session.
type Aggregator struct {
	cfg     AggregatorConfig
	onAlert AlertCallback

	mu        sync.Mutex
	current   *Session
	lastAlert time.Time
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	return &Aggregator{cfg: cfg}
}

// OnAlert registers the alert callback. Must be called before Run.
func (a *Aggregator) OnAlert(cb AlertCallback) {
	a.onAlert = cb
}

// Start creates a new session beginning at now. Fails with ErrAlreadyRunning
// unless the aggregator is idle (no session, or the previous one ended).
func (a *Aggregator) Start(now time.Time) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && a.current.State != Ended {
		return nil, ErrAlreadyRunning
	}
	a.current = newSession(now)
	a.lastAlert = time.Time{}
	log.Printf("Session %s started", a.current.ID)
	return a.current.Clone(), nil
}

// Pause suspends tracking. While paused, incoming blink events are dropped,
// not buffered.
func (a *Aggregator) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.current.State != Running {
		return ErrInvalidState
	}
	a.current.State = Paused
	log.Printf("Session %s paused", a.current.ID)
	return nil
}

// Resume returns a paused session to Running.
func (a *Aggregator) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.current.State != Paused {
		return ErrInvalidState
	}
	a.current.State = Running
	log.Printf("Session %s resumed", a.current.ID)
	return nil
}

// OnBlinkEvent appends a completed blink to the running session. Valid only
// while Running; callers treat the error as a drop, not a crash.
func (a *Aggregator) OnBlinkEvent(e blink.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.current.State != Running {
		return ErrInvalidState
	}
	a.current.BlinkEvents = append(a.current.BlinkEvents, eventFromBlink(e))
	a.current.BlinkCount = len(a.current.BlinkEvents)
	return nil
}

// OnHeartbeat recomputes the rolling blink rate over the trailing window as
// of now and returns an alert when the rate is below the configured floor.
// Alerts are raised only after one full window has elapsed since session
// start, and at most once per rolling window. Valid only while Running.
func (a *Aggregator) OnHeartbeat(now time.Time) (*Alert, error) {
	a.mu.Lock()

	if a.current == nil || a.current.State != Running {
		a.mu.Unlock()
		return nil, ErrInvalidState
	}

	var alert *Alert
	rate := a.rollingRateLocked(now)
	windowElapsed := now.Sub(a.current.StartTime) >= a.cfg.Window
	cooledDown := a.lastAlert.IsZero() || now.Sub(a.lastAlert) >= a.cfg.Window

	if windowElapsed && cooledDown && rate < a.cfg.MinBlinksPerMinute {
		a.lastAlert = now
		alert = &Alert{
			Timestamp:             now,
			ObservedRatePerMinute: rate,
			Threshold:             a.cfg.MinBlinksPerMinute,
		}
		log.Printf("Low blink rate: %.1f blinks/min (floor %.1f)", rate, a.cfg.MinBlinksPerMinute)
	}
	cb := a.onAlert
	a.mu.Unlock()

	// Dispatch outside the lock so a slow observer can't stall the
	// event path.
	if alert != nil && cb != nil {
		cb(*alert)
	}
	return alert, nil
}

// rollingRateLocked counts events whose start falls inside the trailing
// window and scales to a per-minute rate.
func (a *Aggregator) rollingRateLocked(now time.Time) float64 {
	cutoff := now.Add(-a.cfg.Window)
	n := 0
	for i := len(a.current.BlinkEvents) - 1; i >= 0; i-- {
		if a.current.BlinkEvents[i].Start.Before(cutoff) {
			break
		}
		n++
	}
	return float64(n) * 60 / a.cfg.Window.Seconds()
}

// End finalizes the session at now and returns the immutable session along
// with its computed statistics. A second End fails with ErrAlreadyEnded;
// End with no session fails with ErrInvalidState.
func (a *Aggregator) End(now time.Time) (*Session, Statistics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil, Statistics{}, ErrInvalidState
	}
	if a.current.State == Ended {
		return nil, Statistics{}, ErrAlreadyEnded
	}
	end := now
	a.current.EndTime = &end
	a.current.State = Ended
	final := a.current.Clone()
	log.Printf("Session %s ended: %d blinks in %s", final.ID, final.BlinkCount, now.Sub(final.StartTime).Round(time.Second))
	return final, final.StatisticsAt(now), nil
}

// State returns the lifecycle state of the current session, or Idle when no
// session exists.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Idle
	}
	return a.current.State
}

// Current returns a snapshot of the active session and its statistics as of
// now, or nil when idle.
func (a *Aggregator) Current(now time.Time) (*Session, Statistics) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil, Statistics{}
	}
	snap := a.current.Clone()
	return snap, snap.StatisticsAt(now)
}

// Run drives the heartbeat until ctx is cancelled. The state-machine errors
// from OnHeartbeat (idle or paused) are expected between sessions and are
// not logged.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.OnHeartbeat(time.Now())
		}
	}
}
