package quic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/peer/client"
	"github.com/zeusync/tachyon/internal/peer/server"
	"github.com/zeusync/tachyon/internal/transport"
)

func TestClientJoinsServerOverQUIC(t *testing.T) {
	tlsConfig, err := GenerateSelfSignedTLS()
	require.NoError(t, err)

	peer := server.New[transport.Socket](transport.Sender, server.Options[transport.Socket]{Logger: log.NewNop()})
	ln, err := Listen("127.0.0.1:0", tlsConfig, peer.Dispatcher(), nil, Config{IdleTimeout: 5 * time.Second}, log.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve(ctx) }()
	defer func() {
		_ = ln.Close()
		cancel()
		<-serveErr
	}()

	cli := client.New[transport.Socket](transport.Sender, client.Options[transport.Socket]{Logger: log.NewNop()})
	conn, err := Dial(ctx, ln.Addr().String(), ClientTLS(true), cli.Dispatcher(), Config{}, log.NewNop())
	require.NoError(t, err)

	require.NoError(t, cli.Start(conn))
	require.NoError(t, cli.WaitReady(ctx))

	self, ok := cli.Self()
	require.True(t, ok)
	assert.Equal(t, models.SocketID(1), self.SocketID())
	assert.Eventually(t, func() bool { return peer.ReadyCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, cli.RequestInstantiateFull(models.Components{"Health": 3}))
	assert.Eventually(t, func() bool {
		return peer.Dispatcher().ViewedEntities().Len() == 2 && cli.Dispatcher().ViewedEntities().Len() == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return peer.Dispatcher().SocketEntities().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendRejectsOversizedMessage(t *testing.T) {
	conn := newConn(1, nil, nil, Config{MaxMessageSize: 8})
	msg := mustMessage(t)
	assert.Error(t, conn.Send(msg))
}

func mustMessage(t *testing.T) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(protocol.CodeSocketReadyClient, 1, nil)
	require.NoError(t, err)
	return msg
}
