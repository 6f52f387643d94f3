package websocket

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/transport"
)

// Dial connects to a tachyon server at url and serves the connection in the
// background. The returned connection has socket ID 0, the server's identity.
func Dial(ctx context.Context, url string, core *dispatch.Dispatcher[transport.Socket], config Config, logger log.Log) (*Conn, error) {
	if logger == nil {
		logger = log.Provide()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	conn := newConn(0, ws, config)
	go conn.serve(core, logger.With(log.String("transport", "websocket")))
	return conn, nil
}
