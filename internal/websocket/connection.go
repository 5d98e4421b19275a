package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"majlis/pkg/types"
)

// sendTimeout bounds the blocking Send path; after it the session is
// considered wedged and the caller gets an error.
const sendTimeout = 5 * time.Second

// Connection wraps a WebSocket connection behind a single writer
// goroutine, so concurrent event sources (history replay, live fan-out,
// presence notifications) are serialized without the callers coordinating.
// It implements interfaces.Deliverer.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	dropped   int64
	mu        sync.Mutex // guards dropped
}

// NewConnection creates a connection wrapper with the given outbound queue
// size and starts its write loop.
func NewConnection(conn *websocket.Conn, sessionID string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		writeCh:   make(chan []byte, bufferSize),
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
	}

	go c.writeLoop()

	return c
}

// SessionID returns the transport-level session identifier.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// writeLoop is the single writer. It exits on close or on the first write
// error; either way the read loop notices via the dead socket and tears
// the session down.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send enqueues an event, blocking up to sendTimeout if the outbound queue
// is full. Used for history replay where a lost event would be an
// undetectable gap.
func (c *Connection) Send(event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(sendTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Deliver enqueues an event without blocking. A full queue drops the event
// for this session only; a dropped live event is recovered through history
// replay on the next join.
func (c *Connection) Deliver(event *types.Event) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to encode event for session %s: %v", c.sessionID, err)
		return
	}

	select {
	case c.writeCh <- data:
	default:
		c.mu.Lock()
		c.dropped++
		dropped := c.dropped
		c.mu.Unlock()
		log.Printf("Outbound queue full, dropped event: session=%s type=%s total_dropped=%d", c.sessionID, event.Type, dropped)
	}
}

// Dropped reports how many events were dropped on the non-blocking path.
func (c *Connection) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
