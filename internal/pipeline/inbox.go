package pipeline

import (
	"sync"
	"sync/atomic"
)

// inbox is a one-slot handoff between the capture and processing goroutines.
// A new frame overwrites an unconsumed one (the oldest is dropped), so the
// processing path always sees the latest frame and latency stays bounded no
// matter how far the consumer falls behind.
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	drops  uint64
	closed bool
}

func (in *inbox) init() {
	in.cond = sync.NewCond(&in.mu)
}

// put delivers a frame, overwriting any unconsumed one. Non-blocking.
func (in *inbox) put(f *Frame) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	if in.frame != nil {
		atomic.AddUint64(&in.drops, 1)
	}
	in.frame = f
	in.cond.Signal()
	in.mu.Unlock()
}

// take blocks until a frame is available or the inbox is closed. The second
// return is false once the inbox is closed and drained.
func (in *inbox) take() (*Frame, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for in.frame == nil && !in.closed {
		in.cond.Wait()
	}
	if in.frame == nil {
		return nil, false
	}
	f := in.frame
	in.frame = nil
	return f, true
}

func (in *inbox) close() {
	in.mu.Lock()
	in.closed = true
	in.cond.Broadcast()
	in.mu.Unlock()
}

func (in *inbox) dropCount() uint64 {
	return atomic.LoadUint64(&in.drops)
}
