package term

import (
	"strings"
	"sync"
)

// DefaultRingSize is the default capacity of a session's output ring buffer.
const DefaultRingSize = 10 * 1024 * 1024 // 10 MiB

// ringBuffer keeps the most recent output bytes of a session for capture
// and replay. Writes past capacity evict the oldest bytes.
type ringBuffer struct {
	mu   sync.Mutex
	buf  []byte
	max  int
	head int  // index of oldest byte when full
	full bool // buf wrapped at least once
}

func newRingBuffer(max int) *ringBuffer {
	if max <= 0 {
		max = DefaultRingSize
	}
	return &ringBuffer{buf: make([]byte, 0, min(max, 64*1024)), max: max}
}

// Write appends p to the ring, evicting the oldest bytes when capacity is
// exceeded. Always reports len(p).
func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= r.max {
		// Chunk larger than the whole ring: keep only its tail.
		r.buf = append(r.buf[:0], p[len(p)-r.max:]...)
		r.head = 0
		r.full = len(r.buf) == r.max
		return len(p), nil
	}

	if !r.full {
		room := r.max - len(r.buf)
		if len(p) <= room {
			r.buf = append(r.buf, p...)
			r.full = len(r.buf) == r.max
			return len(p), nil
		}
		r.buf = append(r.buf, p[:room]...)
		p = p[room:]
		r.full = true
	}

	for _, b := range p {
		r.buf[r.head] = b
		r.head = (r.head + 1) % r.max
	}
	return len(p), nil
}

// Bytes returns the buffered output in write order.
func (r *ringBuffer) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]byte, len(r.buf))
		copy(out, r.buf)
		return out
	}
	out := make([]byte, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	out = append(out, r.buf[:r.head]...)
	return out
}

// TailLines returns at most n trailing lines of the buffered output, with
// the total payload capped at maxBytes.
func (r *ringBuffer) TailLines(n, maxBytes int) string {
	data := string(r.Bytes())
	if data == "" {
		return ""
	}

	lines := strings.Split(strings.TrimRight(data, "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := strings.Join(lines, "\n")
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}
	return out
}
