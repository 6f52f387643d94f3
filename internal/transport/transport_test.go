package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/protocol"
)

type memSocket struct {
	id   models.SocketID
	sent []*protocol.Message
}

func (s *memSocket) ID() models.SocketID { return s.id }

func (s *memSocket) Send(msg *protocol.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

func (s *memSocket) Close() error { return nil }

type rejectAll struct {
	dispatch.NopHandler[Socket]
}

func (rejectAll) OnMessage(Socket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNotReady
}

func (rejectAll) OnDefault(Socket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnknownCode
}

func (rejectAll) OnClose(Socket, models.SocketID, string) {}

func TestIDs(t *testing.T) {
	var ids IDs
	seen := make(map[models.SocketID]struct{})

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := ids.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 800)
	_, zero := seen[0]
	assert.False(t, zero)
}

func TestDeliver(t *testing.T) {
	core := dispatch.New[Socket](rejectAll{}, Sender, dispatch.WithLogger(log.NewNop()))
	socket := &memSocket{id: 2}

	err := Deliver(core, socket, []byte(`{"Code":"SocketReadyClient","OriginSocketID":2}`))
	require.NoError(t, err)
	require.Len(t, socket.sent, 1)

	var payload protocol.ProblemPayload
	require.NoError(t, socket.sent[0].Payload(&payload))
	assert.Equal(t, protocol.ProblemNotReady, payload.ProblemCode)
	assert.Equal(t, protocol.CodeSocketReadyClient, payload.OffendingCode)
	assert.Equal(t, models.SocketID(2), payload.OffendingOrigin)

	err = Deliver(core, socket, []byte(`not json`))
	assert.ErrorIs(t, err, protocol.ErrDecode)
	assert.Len(t, socket.sent, 1)
}
