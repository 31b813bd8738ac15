package logging

import (
	"strings"
	"sync"
)

// Capture buffers every rendered log line for one sync invocation. The
// orchestrator ships the buffer to the server when a debug run finishes with
// errors.
type Capture struct {
	mu  sync.Mutex
	buf strings.Builder
}

// NewCapture returns an empty capture buffer.
func NewCapture() *Capture {
	return &Capture{}
}

// Write implements io.Writer.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// String returns the captured log text.
func (c *Capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Len reports the size of the captured text in bytes.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}
