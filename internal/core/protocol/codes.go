package protocol

// Code routes a message to its handler.
type Code string

// Built-in message codes. Application codes must not reuse these values: a message
// carrying one of them is handled as the built-in message.
const (
	// Components

	CodeComponentDelta Code = "ComponentDeltaRequest"

	// Entities

	CodeEntityInstantiateFullClient   Code = "EntityInstantiateFullClient"
	CodeEntityInstantiateFullServer   Code = "EntityInstantiateFullServer"
	CodeEntityInstantiatePrefabClient Code = "EntityInstantiatePrefabClient"
	CodeEntityInstantiatePrefabServer Code = "EntityInstantiatePrefabServer"

	// Sockets

	CodeSocketInitializeClient Code = "SocketInitializeClient"
	CodeSocketHandshakeClient  Code = "SocketHandshakeClient"
	CodeSocketHandshakeServer  Code = "SocketHandshakeServer"
	CodeSocketReadyClient      Code = "SocketReadyClient"

	// Problems

	CodeProblem Code = "Problem"
)

var builtinCodes = []Code{
	CodeComponentDelta,
	CodeEntityInstantiateFullClient,
	CodeEntityInstantiateFullServer,
	CodeEntityInstantiatePrefabClient,
	CodeEntityInstantiatePrefabServer,
	CodeSocketInitializeClient,
	CodeSocketHandshakeClient,
	CodeSocketHandshakeServer,
	CodeSocketReadyClient,
	CodeProblem,
}

// BuiltinCodes returns every reserved code.
func BuiltinCodes() []Code {
	codes := make([]Code, len(builtinCodes))
	copy(codes, builtinCodes)
	return codes
}

// IsBuiltin reports whether c is reserved by the protocol core.
func (c Code) IsBuiltin() bool {
	for _, code := range builtinCodes {
		if c == code {
			return true
		}
	}
	return false
}

func (c Code) String() string {
	return string(c)
}
