package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// Connection wraps one socket. All writes go through a single writer
// goroutine; Emit may be called from any goroutine.
type Connection struct {
	id           string
	conn         *websocket.Conn
	identity     *types.Identity
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once

	mu         sync.RWMutex
	membership types.Membership
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps an upgraded socket and starts its writer.
func NewConnection(conn *websocket.Conn, identity *types.Identity, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		identity:     identity,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Identity() *types.Identity { return c.identity }

// Emit queues an envelope. It blocks for at most the write timeout when the
// buffer is full.
func (c *Connection) Emit(event string, data interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	frame, err := json.Marshal(types.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.writeCh <- frame:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *Connection) Membership() types.Membership {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.membership
}

func (c *Connection) SetMembership(m types.Membership) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.membership = m
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

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
