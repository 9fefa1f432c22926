package report

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/netresearch/flaky/core"
)

// Client streams a worker's retry narrative to the controller's Server. It
// buffers frames locally and ships a test's complete narrative as a single
// write once the final frame arrives, so records from different workers
// cannot interleave mid-test on the controller.
type Client struct {
	logger core.Logger

	mu       sync.Mutex
	conn     net.Conn
	pending  strings.Builder
	fallback strings.Builder
}

// NewClient connects to the controller's report server on loopback.
func NewClient(logger core.Logger, port int) (*Client, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("connect report server: %w", err)
	}
	return &Client{logger: logger, conn: conn}, nil
}

// RecordAttempt buffers one frame and flushes the buffered bytes when the
// frame completes a per-test record. Send failures are logged and the
// narrative kept locally; test outcomes are authoritative, the narrative is
// best-effort.
func (c *Client) RecordAttempt(lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, line := range lines {
		c.pending.WriteString(line)
	}
	if len(lines) > 1 && strings.HasSuffix(lines[1], retrySuffix) {
		return
	}

	payload := c.pending.String()
	c.pending.Reset()
	if _, err := c.conn.Write([]byte(payload)); err != nil {
		c.logger.Warningf("report send failed, keeping narrative locally: %v", err)
		c.fallback.WriteString(payload)
	}
}

// Contents returns narrative that could not be shipped to the controller.
func (c *Client) Contents() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback.String()
}

// Close closes the worker's connection, signalling EOF to the controller.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close report client: %w", err)
	}
	return nil
}
