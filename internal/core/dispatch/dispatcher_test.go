package dispatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/observability/metrics"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/core/registry"
)

// fakeSocket stands in for a transport handle.
type fakeSocket struct {
	name string
}

// recorder counts every callback and checks that the message origin matches the
// socket that delivered it.
type recorder struct {
	mu     sync.Mutex
	calls  map[string]int
	result protocol.ProblemCode
	closed []string

	dispatcher *Dispatcher[*fakeSocket]
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) record(name string) protocol.ProblemCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
	return r.result
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *recorder) OnMessage(_ *fakeSocket, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	r.mu.Lock()
	r.calls["OnMessage"]++
	r.mu.Unlock()
	if msg.OriginSocketID != socketID {
		return protocol.ProblemSocketIDMismatch
	}
	return protocol.ProblemNone
}

func (r *recorder) OnComponentDelta(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnComponentDelta")
}

func (r *recorder) OnEntityInstantiateFullClient(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnEntityInstantiateFullClient")
}

func (r *recorder) OnEntityInstantiateFullServer(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnEntityInstantiateFullServer")
}

func (r *recorder) OnEntityInstantiatePrefabClient(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnEntityInstantiatePrefabClient")
}

func (r *recorder) OnEntityInstantiatePrefabServer(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnEntityInstantiatePrefabServer")
}

func (r *recorder) OnSocketInitializeClient(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnSocketInitializeClient")
}

func (r *recorder) OnSocketHandshakeClient(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnSocketHandshakeClient")
}

func (r *recorder) OnSocketHandshakeServer(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnSocketHandshakeServer")
}

func (r *recorder) OnSocketReadyClient(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnSocketReadyClient")
}

func (r *recorder) OnProblem(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnProblem")
}

func (r *recorder) OnDefault(*fakeSocket, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return r.record("OnDefault")
}

func (r *recorder) OnClose(_ *fakeSocket, socketID models.SocketID, reason string) {
	r.mu.Lock()
	r.closed = append(r.closed, reason)
	r.mu.Unlock()
	if r.dispatcher != nil {
		_ = r.dispatcher.RemoveSocketEntity(socketID)
	}
}

// outbox collects sent messages.
type outbox struct {
	mu   sync.Mutex
	sent []*protocol.Message
	err  error
}

func (o *outbox) Send(_ *fakeSocket, msg *protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

func newTestDispatcher(opts ...Option) (*Dispatcher[*fakeSocket], *recorder, *outbox) {
	rec := newRecorder()
	out := &outbox{}
	opts = append([]Option{WithLogger(log.NewNop())}, opts...)
	d := New[*fakeSocket](rec, out, opts...)
	rec.dispatcher = d
	return d, rec, out
}

func TestHandleInboundMessage_RoutesEachBuiltinToOneHandler(t *testing.T) {
	expected := map[protocol.Code]string{
		protocol.CodeComponentDelta:                "OnComponentDelta",
		protocol.CodeEntityInstantiateFullClient:   "OnEntityInstantiateFullClient",
		protocol.CodeEntityInstantiateFullServer:   "OnEntityInstantiateFullServer",
		protocol.CodeEntityInstantiatePrefabClient: "OnEntityInstantiatePrefabClient",
		protocol.CodeEntityInstantiatePrefabServer: "OnEntityInstantiatePrefabServer",
		protocol.CodeSocketInitializeClient:        "OnSocketInitializeClient",
		protocol.CodeSocketHandshakeClient:         "OnSocketHandshakeClient",
		protocol.CodeSocketHandshakeServer:         "OnSocketHandshakeServer",
		protocol.CodeSocketReadyClient:             "OnSocketReadyClient",
		protocol.CodeProblem:                       "OnProblem",
	}
	require.Len(t, expected, len(protocol.BuiltinCodes()))

	for code, handler := range expected {
		t.Run(string(code), func(t *testing.T) {
			d, rec, _ := newTestDispatcher()

			raw := []byte(`{"Code":"` + string(code) + `","OriginSocketID":1}`)
			problem, err := d.HandleInboundMessage(&fakeSocket{}, 1, raw)
			require.NoError(t, err)
			assert.Equal(t, protocol.ProblemNone, problem)

			assert.Equal(t, 1, rec.calls["OnMessage"])
			assert.Equal(t, 1, rec.calls[handler])
			assert.Equal(t, 2, rec.total(), "exactly one handler besides the pre-hook")
		})
	}
}

func TestHandleInboundMessage_SocketReadyClient(t *testing.T) {
	d, rec, _ := newTestDispatcher()
	rec.result = protocol.ProblemNotReady

	problem, err := d.HandleInboundMessage(&fakeSocket{}, 7, []byte(`{"Code":"SocketReadyClient","OriginSocketID":7}`))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.calls["OnSocketReadyClient"])
	assert.Equal(t, protocol.ProblemNotReady, problem, "the handler's code is the result")
}

func TestHandleInboundMessage_UnregisteredCodeUsesDefault(t *testing.T) {
	d, rec, _ := newTestDispatcher()

	problem, err := d.HandleInboundMessage(&fakeSocket{}, 3, []byte(`{"Code":"Unregistered","OriginSocketID":3}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.ProblemNone, problem)

	assert.Equal(t, 1, rec.calls["OnDefault"])
	assert.Equal(t, 2, rec.total())
}

func TestHandleInboundMessage_PreHookRejects(t *testing.T) {
	d, rec, _ := newTestDispatcher()

	problem, err := d.HandleInboundMessage(&fakeSocket{}, 3, []byte(`{"Code":"SocketReadyClient","OriginSocketID":4}`))
	require.NoError(t, err)

	assert.Equal(t, protocol.ProblemSocketIDMismatch, problem)
	assert.Equal(t, 1, rec.total(), "no handler runs after a rejected pre-hook")
}

func TestHandleInboundMessage_DecodeFailure(t *testing.T) {
	d, rec, _ := newTestDispatcher()
	entity, err := models.NewViewedSocketEntity(models.ViewComponent{EntityViewID: 1}, models.NewSocketComponent(1, nil), nil)
	require.NoError(t, err)
	require.NoError(t, d.AddSocketEntity(1, entity))
	d.Watch(entity)

	_, err = d.HandleInboundMessage(&fakeSocket{}, 1, []byte(`{not json`))
	require.ErrorIs(t, err, protocol.ErrDecode)

	assert.Zero(t, rec.total(), "no handler may run for undecodable input")
	assert.Equal(t, 1, d.SocketEntities().Len())
	assert.Equal(t, 1, d.ViewedEntities().Len())
}

func TestDispatcher_SocketEntities(t *testing.T) {
	d, _, _ := newTestDispatcher()
	entity, err := models.NewViewedSocketEntity(models.ViewComponent{EntityViewID: 10}, models.NewSocketComponent(5, nil), nil)
	require.NoError(t, err)

	require.NoError(t, d.AddSocketEntity(5, entity))
	got, err := d.GetSocketEntity(5)
	require.NoError(t, err)
	assert.Same(t, entity, got)

	assert.ErrorIs(t, d.AddSocketEntity(5, entity), registry.ErrAlreadyExists)
	require.NoError(t, d.RemoveSocketEntity(5))
	assert.ErrorIs(t, d.RemoveSocketEntity(5), registry.ErrNotFound)
	_, err = d.GetSocketEntity(5)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDispatcher_WatchUpserts(t *testing.T) {
	d, _, _ := newTestDispatcher()

	first, err := models.NewViewedEntity(models.ViewComponent{EntityViewID: 2}, nil)
	require.NoError(t, err)
	second, err := models.NewViewedEntity(models.ViewComponent{EntityViewID: 2}, nil)
	require.NoError(t, err)

	d.Watch(first)
	d.Watch(second)

	got, ok := d.ViewedEntity(2)
	require.True(t, ok)
	assert.Same(t, second, got)

	require.NoError(t, d.Unwatch(2))
	assert.ErrorIs(t, d.Unwatch(2), registry.ErrNotFound)
}

func TestDispatcher_HandleClose(t *testing.T) {
	d, rec, _ := newTestDispatcher()
	entity, err := models.NewViewedSocketEntity(models.ViewComponent{EntityViewID: 1}, models.NewSocketComponent(9, nil), nil)
	require.NoError(t, err)
	require.NoError(t, d.AddSocketEntity(9, entity))

	d.HandleClose(&fakeSocket{}, 9, "going away")

	assert.Equal(t, []string{"going away"}, rec.closed)
	assert.False(t, d.SocketEntities().Has(9))
}

func TestDispatcher_ReportProblem(t *testing.T) {
	d, _, out := newTestDispatcher()
	d.SetLocalSocketID(0)

	offending, err := protocol.Decode([]byte(`{"Code":"SocketReadyClient","OriginSocketID":4}`))
	require.NoError(t, err)

	require.NoError(t, d.ReportProblem(&fakeSocket{}, 3, offending, protocol.ProblemSocketIDMismatch, "origin 4 on socket 3"))
	require.Len(t, out.sent, 1)

	sent := out.sent[0]
	assert.Equal(t, protocol.CodeProblem, sent.Code)

	var payload protocol.ProblemPayload
	require.NoError(t, sent.Payload(&payload))
	assert.Equal(t, protocol.ProblemSocketIDMismatch, payload.ProblemCode)
	assert.Equal(t, protocol.CodeSocketReadyClient, payload.OffendingCode)
	assert.Equal(t, models.SocketID(4), payload.OffendingOrigin)
	assert.NotEmpty(t, payload.ProblemID)
	assert.Equal(t, "origin 4 on socket 3", payload.Detail)
}

func TestDispatcher_ReportProblemSendFailure(t *testing.T) {
	d, _, out := newTestDispatcher()
	out.err = errors.New("socket gone")

	err := d.ReportProblem(&fakeSocket{}, 1, nil, protocol.ProblemInternal, "")
	assert.ErrorContains(t, err, "socket gone")
}

func TestDispatcher_HandleAndReport(t *testing.T) {
	d, _, out := newTestDispatcher()

	problem, err := d.HandleAndReport(&fakeSocket{}, 3, []byte(`{"Code":"SocketReadyClient","OriginSocketID":3}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.ProblemNone, problem)
	assert.Empty(t, out.sent, "accepted messages are not answered")

	problem, err = d.HandleAndReport(&fakeSocket{}, 3, []byte(`{"Code":"SocketReadyClient","OriginSocketID":4}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.ProblemSocketIDMismatch, problem)

	require.Len(t, out.sent, 1)
	var payload protocol.ProblemPayload
	require.NoError(t, out.sent[0].Payload(&payload))
	assert.Equal(t, protocol.ProblemSocketIDMismatch, payload.ProblemCode)
	assert.Equal(t, protocol.CodeSocketReadyClient, payload.OffendingCode)
	assert.Equal(t, models.SocketID(4), payload.OffendingOrigin)

	_, err = d.HandleAndReport(&fakeSocket{}, 3, []byte(`garbage`))
	require.ErrorIs(t, err, protocol.ErrDecode)
	assert.Len(t, out.sent, 1, "undecodable frames are not answered")
}

func TestDispatcher_NewMessageUsesLocalSocketID(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.SetLocalSocketID(12)

	msg, err := d.NewMessage(protocol.CodeSocketReadyClient, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SocketID(12), msg.OriginSocketID)
	assert.Equal(t, models.SocketID(12), d.LocalSocketID())
}

func TestDispatcher_Metrics(t *testing.T) {
	m := metrics.NewDispatch("test")
	d, _, _ := newTestDispatcher(WithMetrics(m))

	_, err := d.HandleInboundMessage(&fakeSocket{}, 1, []byte(`{"Code":"SocketReadyClient","OriginSocketID":1}`))
	require.NoError(t, err)
	_, err = d.HandleInboundMessage(&fakeSocket{}, 1, []byte(`{"Code":"MyGameCode","OriginSocketID":2}`))
	require.NoError(t, err)
	_, err = d.HandleInboundMessage(&fakeSocket{}, 1, []byte(`garbage`))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("SocketReadyClient", "None")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("application", "SocketIDMismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors))
}

func TestNopHandlerAcceptsEverything(t *testing.T) {
	var h NopHandler[*fakeSocket]
	msg := &protocol.Message{Code: protocol.CodeComponentDelta}

	assert.Equal(t, protocol.ProblemNone, h.OnComponentDelta(nil, 0, msg))
	assert.Equal(t, protocol.ProblemNone, h.OnSocketReadyClient(nil, 0, msg))
	assert.Equal(t, protocol.ProblemNone, h.OnProblem(nil, 0, msg))
}
