package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/wellness-at-work/blinkd/internal/ear"
)

// landmarkRecord is one line of the landmark feed: either a set of per-eye
// points or a no-face marker. The feed is produced by an external landmark
// helper process (e.g. a mediapipe sidecar) writing JSON lines.
type landmarkRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	NoFace    bool        `json:"noFace,omitempty"`
	Left      []ear.Point `json:"left,omitempty"`
	Right     []ear.Point `json:"right,omitempty"`
}

// JSONLStream adapts a JSON-lines landmark feed into both pipeline
// interfaces: each line becomes one Frame, and Extract decodes the line's
// landmarks. Lines that are not valid JSON are skipped at capture time.
type JSONLStream struct {
	scanner *bufio.Scanner
	closer  io.Closer
	seq     atomic.Uint64
}

// NewJSONLStream reads records from r. If r is also an io.Closer it is
// closed by Close.
func NewJSONLStream(r io.Reader) *JSONLStream {
	s := &JSONLStream{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NextFrame returns the next feed line as a frame. The record's own
// timestamp is used when present so replayed feeds keep their original
// timing; live feeds without timestamps get the receive time.
func (s *JSONLStream) NextFrame() (*Frame, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec landmarkRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		data := make([]byte, len(line))
		copy(data, line)
		return &Frame{
			Seq:       s.seq.Add(1),
			Timestamp: ts,
			Data:      data,
		}, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading landmark feed: %w", err)
	}
	return nil, ErrEndOfStream
}

// Extract decodes the frame's landmark record.
func (s *JSONLStream) Extract(f *Frame) (Landmarks, error) {
	var rec landmarkRecord
	if err := json.Unmarshal(f.Data, &rec); err != nil {
		return Landmarks{}, fmt.Errorf("decoding landmark record: %w", err)
	}
	if rec.NoFace {
		return Landmarks{}, ErrNoFace
	}
	return Landmarks{Left: rec.Left, Right: rec.Right}, nil
}

func (s *JSONLStream) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
