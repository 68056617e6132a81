package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSocket captures frames written by the connection's writer goroutine.
type fakeSocket struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
	closed     bool
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("write failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSocket) decodedFrames(t *testing.T) []map[string]interface{} {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(s.frames))
	for _, raw := range s.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("invalid frame %q: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}
