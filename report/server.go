package report

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/netresearch/flaky/core"
)

// Server collects the retry narrative of parallel workers on the controller
// process. It binds a loopback socket on a kernel-assigned port; a single
// listener goroutine accepts one worker connection at a time and reads its
// UTF-8 frames into the buffer until EOF before accepting the next. Clients
// send each test's narrative as one write and the buffer has exactly one
// writer, so per-test records are contiguous no matter how reads split.
type Server struct {
	logger core.Logger

	ln net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	stream strings.Builder
}

// NewServer binds the listener and starts accepting connections.
func NewServer(logger core.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind report server: %w", err)
	}
	s := &Server{logger: logger, ln: ln}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Port returns the kernel-assigned port workers connect to.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			// Listener closed at session teardown.
			return
		}
		// Drain inline: pending connections queue in the accept backlog and
		// their bytes sit in the kernel buffer until their turn.
		s.drain(conn)
	}
}

func (s *Server) drain(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.stream.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// RecordAttempt appends a frame directly; used when the controller itself
// runs tests.
func (s *Server) RecordAttempt(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		s.stream.WriteString(line)
	}
}

// Contents returns the aggregated narrative. Call after Close so every
// worker connection has drained.
func (s *Server) Contents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.String()
}

// Close shuts the listener down and waits for the listener goroutine to
// finish draining. Workers must have closed their clients first.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("close report server: %w", err)
	}
	return nil
}
