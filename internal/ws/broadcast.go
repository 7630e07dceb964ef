package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wellness-at-work/blinkd/internal/ear"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// SnapshotFunc builds the snapshot payload sent to new clients and on the
// periodic snapshot tick.
type SnapshotFunc func() SnapshotPayload

// Broadcaster fans messages out to connected clients. Per-frame EAR samples
// are batched and flushed on a throttle so 30fps telemetry doesn't become
// 30 websocket writes per second per client; blinks, alerts and lifecycle
// changes are sent immediately.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	snapshot SnapshotFunc
	throttle time.Duration

	flushMu        sync.Mutex
	pendingSamples []ear.Sample
	flushTimer     *time.Timer

	snapshotTicker *time.Ticker
	done           chan struct{}
}

func NewBroadcaster(snapshot SnapshotFunc, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		snapshot: snapshot,
		throttle: throttle,
		done:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// Stop halts the snapshot loop and disconnects all clients.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
	close(b.done)

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	msg := WSMessage{Type: MsgSnapshot, Payload: b.snapshot()}
	data, _ := json.Marshal(msg)

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueSample buffers one telemetry sample for the next throttled flush.
func (b *Broadcaster) QueueSample(s ear.Sample) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingSamples = append(b.pendingSamples, s)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flushSamples)
	}
}

func (b *Broadcaster) flushSamples() {
	b.flushMu.Lock()
	samples := b.pendingSamples
	b.pendingSamples = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(samples) == 0 {
		return
	}
	b.BroadcastMessage(WSMessage{
		Type:    MsgEarBatch,
		Payload: EarBatchPayload{Samples: samples},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.BroadcastMessage(WSMessage{Type: MsgSnapshot, Payload: b.snapshot()})
		}
	}
}

// BroadcastMessage sends msg to every connected client immediately.
func (b *Broadcaster) BroadcastMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
