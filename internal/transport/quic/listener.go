package quic

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/registry"
	"github.com/zeusync/tachyon/internal/transport"
)

// Listener accepts QUIC connections and serves the first bidirectional stream each
// client opens.
type Listener struct {
	listener *quic.Listener
	core     *dispatch.Dispatcher[transport.Socket]
	config   Config
	logger   log.Log

	ids   *transport.IDs
	conns *registry.SyncMap[models.SocketID, *Conn]
}

// Listen starts listening on addr. ids may be shared with other transports serving
// the same peer; nil allocates a private sequence.
func Listen(addr string, tlsConfig *tls.Config, core *dispatch.Dispatcher[transport.Socket], ids *transport.IDs, config Config, logger log.Log) (*Listener, error) {
	if logger == nil {
		logger = log.Provide()
	}
	if ids == nil {
		ids = &transport.IDs{}
	}

	ln, err := quic.ListenAddr(addr, tlsConfig, config.quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to start QUIC listener")
	}

	l := &Listener{
		listener: ln,
		core:     core,
		ids:      ids,
		config:   config,
		logger:   logger.With(log.String("transport", "quic")),
		conns:    registry.NewSyncMap[models.SocketID, *Conn](),
	}
	l.logger.Info("QUIC listener started", log.String("addr", ln.Addr().String()))
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Len returns the number of open connections.
func (l *Listener) Len() int {
	return l.conns.Len()
}

// Serve accepts connections until ctx ends or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		qc, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return errors.Wrap(err, "failed to accept QUIC connection")
		}

		go l.handle(ctx, qc)
	}
}

func (l *Listener) handle(ctx context.Context, qc *quic.Conn) {
	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		l.logger.Warn("No message stream opened",
			log.String("remote_addr", qc.RemoteAddr().String()),
			log.Error(err))
		_ = qc.CloseWithError(CodeNormal, "no stream")
		return
	}

	conn := newConn(l.ids.Next(), qc, stream, l.config)
	l.conns.Set(conn.ID(), conn)

	l.logger.Info("Client connected",
		log.Uint64("socket_id", uint64(conn.ID())),
		log.String("remote_addr", qc.RemoteAddr().String()))

	conn.serve(l.core, l.logger)
	l.conns.Delete(conn.ID())

	l.logger.Info("Client disconnected", log.Uint64("socket_id", uint64(conn.ID())))
}

// Close closes every connection and the listener.
func (l *Listener) Close() error {
	l.conns.Range(func(_ models.SocketID, conn *Conn) bool {
		_ = conn.CloseWithCode(CodeGoingAway, "server shutting down")
		return true
	})
	return l.listener.Close()
}
