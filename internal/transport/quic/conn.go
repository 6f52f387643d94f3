// Package quic carries tachyon messages over a single bidirectional QUIC stream per
// connection, framed as newline-delimited JSON.
package quic

import (
	"bufio"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/transport"
)

// Application error codes sent with CONNECTION_CLOSE.
const (
	CodeNormal    quic.ApplicationErrorCode = 0
	CodeGoingAway quic.ApplicationErrorCode = 1
	CodeDecode    quic.ApplicationErrorCode = 2
)

// DefaultMaxMessageSize applies when Config.MaxMessageSize is zero.
const DefaultMaxMessageSize = 1 << 20

var ErrConnClosed = errors.New("connection is closed")

var _ transport.Socket = (*Conn)(nil)

type Config struct {
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxMessageSize int
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  c.IdleTimeout,
		KeepAlivePeriod: c.IdleTimeout / 2,
	}
}

func (c Config) maxMessageSize() int {
	if c.MaxMessageSize > 0 {
		return c.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

// Conn is one QUIC connection with its message stream.
type Conn struct {
	id     models.SocketID
	conn   *quic.Conn
	stream *quic.Stream
	config Config
	closed atomic.Bool
	done   chan struct{}

	writeMu sync.Mutex
}

func newConn(id models.SocketID, conn *quic.Conn, stream *quic.Stream, config Config) *Conn {
	return &Conn{
		id:     id,
		conn:   conn,
		stream: stream,
		config: config,
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() models.SocketID {
	return c.id
}

// Done is closed when the serve loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send writes msg followed by a newline.
func (c *Conn) Send(msg *protocol.Message) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	data := msg.Bytes()
	if len(data) > c.config.maxMessageSize() {
		return errors.Errorf("message size %d exceeds limit %d", len(data), c.config.maxMessageSize())
	}

	frame := make([]byte, 0, len(data)+1)
	frame = append(append(frame, data...), '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.stream.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if _, err := c.stream.Write(frame); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *Conn) Close() error {
	return c.CloseWithCode(CodeNormal, "connection closed")
}

// CloseWithCode closes the QUIC connection with an application error code.
func (c *Conn) CloseWithCode(code quic.ApplicationErrorCode, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.CloseWithError(code, reason)
}

func (c *Conn) serve(core *dispatch.Dispatcher[transport.Socket], logger log.Log) {
	defer close(c.done)

	reason := "connection closed"
	defer func() {
		_ = c.Close()
		core.HandleClose(c, c.id, reason)
	}()

	scanner := bufio.NewScanner(c.stream)
	scanner.Buffer(make([]byte, 0, 4096), c.config.maxMessageSize()+1)

	for scanner.Scan() {
		// the scanner reuses its buffer
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		if err := transport.Deliver(core, c, line); err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				reason = "undecodable message"
				_ = c.CloseWithCode(CodeDecode, reason)
				return
			}
			logger.Warn("Failed to report problem", log.Uint64("socket_id", uint64(c.id)), log.Error(err))
		}
	}

	if err := scanner.Err(); err != nil {
		reason = err.Error()
		var appErr *quic.ApplicationError
		if errors.As(err, &appErr) {
			reason = appErr.ErrorMessage
		} else {
			logger.Debug("QUIC stream read ended", log.Uint64("socket_id", uint64(c.id)), log.Error(err))
		}
	}
}
