package ws

import (
	"time"

	"github.com/wellness-at-work/blinkd/internal/blink"
	"github.com/wellness-at-work/blinkd/internal/ear"
	"github.com/wellness-at-work/blinkd/internal/pipeline"
	"github.com/wellness-at-work/blinkd/internal/session"
)

type MessageType string

const (
	MsgSnapshot      MessageType = "snapshot"
	MsgEarBatch      MessageType = "ear_batch"
	MsgBlink         MessageType = "blink"
	MsgWellnessAlert MessageType = "wellness_alert"
	MsgSession       MessageType = "session"
	MsgSystemStats   MessageType = "system_stats"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload is sent to a client on connect and on the periodic
// snapshot tick: the current session (nil when idle) with derived stats.
type SnapshotPayload struct {
	Session    *session.Session   `json:"session"`
	Statistics session.Statistics `json:"statistics"`
	Pipeline   pipeline.Stats     `json:"pipeline"`
	Timestamp  time.Time          `json:"timestamp"`
}

// EarBatchPayload carries throttled per-frame openness telemetry.
type EarBatchPayload struct {
	Samples []ear.Sample `json:"samples"`
}

// BlinkPayload announces one accepted blink and the running total.
type BlinkPayload struct {
	Event      blink.Event `json:"event"`
	BlinkCount int         `json:"blinkCount"`
}

// SessionPayload announces a session lifecycle change.
type SessionPayload struct {
	Session    *session.Session   `json:"session"`
	Statistics session.Statistics `json:"statistics"`
}
