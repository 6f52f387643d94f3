// Package websocket carries tachyon messages over gorilla websocket connections,
// one JSON text frame per message.
package websocket

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/transport"
)

var ErrConnClosed = errors.New("connection is closed")

var _ transport.Socket = (*Conn)(nil)

// Config holds per-connection limits.
type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// Conn is one websocket connection. Writes are serialized; reads happen only on the
// connection's serve loop.
type Conn struct {
	id     models.SocketID
	conn   *websocket.Conn
	config Config
	closed atomic.Bool
	done   chan struct{}

	writeMu sync.Mutex
}

func newConn(id models.SocketID, conn *websocket.Conn, config Config) *Conn {
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	return &Conn{
		id:     id,
		conn:   conn,
		config: config,
		done:   make(chan struct{}),
	}
}

// ID returns the socket ID this side assigned to the connection.
func (c *Conn) ID() models.SocketID {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done is closed when the serve loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send writes msg as a single text frame.
func (c *Conn) Send(msg *protocol.Message) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	data := msg.Bytes()
	if c.config.MaxMessageSize > 0 && int64(len(data)) > c.config.MaxMessageSize {
		return errors.Errorf("message size %d exceeds limit %d", len(data), c.config.MaxMessageSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "connection closed")
}

// CloseWithCode sends a close frame with code and reason and closes the connection.
func (c *Conn) CloseWithCode(code int, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

// serve reads frames until the connection fails and feeds them to core. The
// dispatcher learns about the closure through HandleClose exactly once.
func (c *Conn) serve(core *dispatch.Dispatcher[transport.Socket], logger log.Log) {
	defer close(c.done)

	reason := "connection closed"
	defer func() {
		_ = c.Close()
		core.HandleClose(c, c.id, reason)
	}()

	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		})
		go c.ping(c.config.ReadTimeout * 9 / 10)
	}

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read failed", log.Uint64("socket_id", uint64(c.id)), log.Error(err))
			}
			reason = closeReason(err)
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if c.config.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		if err = transport.Deliver(core, c, data); err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				reason = "undecodable message"
				_ = c.CloseWithCode(websocket.CloseInvalidFramePayloadData, reason)
				return
			}
			logger.Warn("Failed to report problem", log.Uint64("socket_id", uint64(c.id)), log.Error(err))
		}
	}
}

func (c *Conn) ping(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return closeErr.Text
		}
		return fmt.Sprintf("close %d", closeErr.Code)
	}
	return err.Error()
}
