package dispatch

import (
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/protocol"
)

// BuiltinHandlers has one callback per built-in message code. Every callback gets
// the socket that delivered the message, the socket ID the transport assigned to it,
// and the decoded envelope.
type BuiltinHandlers[S any] interface {
	OnComponentDelta(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode

	OnEntityInstantiateFullClient(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode
	OnEntityInstantiateFullServer(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode
	OnEntityInstantiatePrefabClient(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode
	OnEntityInstantiatePrefabServer(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode

	OnSocketInitializeClient(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode
	OnSocketHandshakeClient(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode
	OnSocketHandshakeServer(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode
	OnSocketReadyClient(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode

	OnProblem(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode
}

// Handler is implemented by a concrete peer (client or server).
type Handler[S any] interface {
	BuiltinHandlers[S]

	// OnMessage runs before any other callback. Origin checks belong here: anything
	// other than ProblemNone stops routing and becomes the outcome.
	OnMessage(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode

	// OnDefault handles every code that is not built in. It is never called for a
	// message rejected by OnMessage.
	OnDefault(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode

	// OnClose is called when the transport loses the socket. Implementations clean
	// up the registries, typically with Dispatcher.RemoveSocketEntity.
	OnClose(socket S, socketID models.SocketID, reason string)
}

// Sender delivers an outbound message to one socket.
type Sender[S any] interface {
	Send(socket S, msg *protocol.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc[S any] func(socket S, msg *protocol.Message) error

func (f SenderFunc[S]) Send(socket S, msg *protocol.Message) error {
	return f(socket, msg)
}

var _ BuiltinHandlers[any] = NopHandler[any]{}

// NopHandler accepts every built-in message without doing anything. Peers embed it
// and override the callbacks for the features they use.
type NopHandler[S any] struct{}

func (NopHandler[S]) OnComponentDelta(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnEntityInstantiateFullClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnEntityInstantiateFullServer(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnEntityInstantiatePrefabClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnEntityInstantiatePrefabServer(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnSocketInitializeClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnSocketHandshakeClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnSocketHandshakeServer(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnSocketReadyClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}

func (NopHandler[S]) OnProblem(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemNone
}
