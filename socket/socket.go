// Package socket wraps a websocket connection with a bounded outbound queue and a single writer.
package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pong-tournament/metrics"
)

const writeWait = 5 * time.Second

// Conn is satisfied by gorilla websocket connections and the fiber websocket wrapper.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Socket owns one connection. Sends never block: when the queue is full the frame is dropped.
type Socket struct {
	ID string

	conn Conn
	out  chan []byte
	done chan struct{}

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

// New starts the writer goroutine for conn. buffer bounds the outbound queue.
func New(conn Conn, buffer int) *Socket {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Socket{
		ID:        uuid.NewString(),
		conn:      conn,
		out:       make(chan []byte, buffer),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
	go s.writeLoop()
	return s
}

// Send queues a text frame. It reports false when the frame was dropped.
func (s *Socket) Send(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.DroppedFrames.WithLabelValues("closed").Inc()
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		metrics.DroppedFrames.WithLabelValues("slow_consumer").Inc()
		return false
	}
}

// SendJSON marshals v and queues it.
func (s *Socket) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.Send(data)
}

// CloseWith flushes queued frames, then sends a close frame with code and reason. Safe to call repeatedly.
func (s *Socket) CloseWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	close(s.out)
}

func (s *Socket) Close() {
	s.CloseWith(websocket.CloseNormalClosure, "")
}

// Done is closed once the connection has been shut down.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// ReadLoop delivers text frames to handle in arrival order until the connection fails.
// The socket is closed when it returns.
func (s *Socket) ReadLoop(handle func(msg []byte)) error {
	defer s.Close()
	for {
		mt, msg, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		handle(msg)
	}
}

func (s *Socket) writeLoop() {
	defer close(s.done)
	failed := false
	for msg := range s.out {
		if failed {
			continue
		}
		s.deadline()
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			failed = true
			// Unblock the reader too; it will observe the error and close the socket.
			_ = s.conn.Close()
		}
	}

	s.mu.Lock()
	code, reason := s.closeCode, s.closeReason
	s.mu.Unlock()
	if !failed {
		s.deadline()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	}
	_ = s.conn.Close()
}

func (s *Socket) deadline() {
	if d, ok := s.conn.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeWait))
	}
}
