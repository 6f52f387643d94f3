package quic

import (
	"context"
	"crypto/tls"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/transport"
)

// Dial connects to a tachyon QUIC server, opens the message stream and serves it in
// the background. The returned connection has socket ID 0.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config, core *dispatch.Dispatcher[transport.Socket], config Config, logger log.Log) (*Conn, error) {
	if logger == nil {
		logger = log.Provide()
	}

	qc, err := quic.DialAddr(ctx, addr, tlsConfig, config.quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(CodeNormal, "no stream")
		return nil, errors.Wrap(err, "open stream")
	}

	conn := newConn(0, qc, stream, config)
	go conn.serve(core, logger.With(log.String("transport", "quic")))
	return conn, nil
}
