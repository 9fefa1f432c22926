// Package report provides the sinks for the retry narrative: an in-process
// buffer for single-worker runs, a TCP server/client pair for parallel
// workers, and optional mail and webhook delivery of the final report.
package report

import (
	"strings"
	"sync"
)

// retrySuffix marks an interim attempt frame. A frame whose message does not
// end with it completes a per-test record.
const retrySuffix = "Retrying!\n\t"

// Offline buffers attempt frames in memory; the single-process default.
type Offline struct {
	mu     sync.Mutex
	stream strings.Builder
}

func NewOffline() *Offline {
	return &Offline{}
}

// RecordAttempt appends one attempt frame to the buffer.
func (o *Offline) RecordAttempt(lines []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, line := range lines {
		o.stream.WriteString(line)
	}
}

// Contents returns the accumulated narrative.
func (o *Offline) Contents() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stream.String()
}

func (o *Offline) Close() error {
	return nil
}
