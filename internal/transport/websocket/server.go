package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/registry"
	"github.com/zeusync/tachyon/internal/transport"
)

// Server upgrades HTTP requests to websocket connections and serves each of them on
// its own goroutine.
type Server struct {
	core     *dispatch.Dispatcher[transport.Socket]
	config   Config
	logger   log.Log
	upgrader websocket.Upgrader

	ids   *transport.IDs
	conns *registry.SyncMap[models.SocketID, *Conn]
}

// NewServer creates a websocket server feeding core. ids may be shared with other
// transports serving the same peer; nil allocates a private sequence.
func NewServer(core *dispatch.Dispatcher[transport.Socket], ids *transport.IDs, config Config, logger log.Log) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	if ids == nil {
		ids = &transport.IDs{}
	}
	return &Server{
		core:   core,
		ids:    ids,
		config: config,
		logger: logger.With(log.String("transport", "websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		conns: registry.NewSyncMap[models.SocketID, *Conn](),
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}

	conn := newConn(s.ids.Next(), ws, s.config)
	s.conns.Set(conn.ID(), conn)

	s.logger.Info("Client connected",
		log.Uint64("socket_id", uint64(conn.ID())),
		log.String("remote_addr", r.RemoteAddr))

	go func() {
		conn.serve(s.core, s.logger)
		s.conns.Delete(conn.ID())
		s.logger.Info("Client disconnected", log.Uint64("socket_id", uint64(conn.ID())))
	}()
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	return s.conns.Len()
}

// Shutdown closes every connection with a going-away frame and waits for their serve
// loops to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	var open []*Conn
	s.conns.Range(func(_ models.SocketID, conn *Conn) bool {
		open = append(open, conn)
		return true
	})

	for _, conn := range open {
		_ = conn.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	}
	for _, conn := range open {
		select {
		case <-conn.Done():
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "websocket shutdown")
		}
	}
	return nil
}
