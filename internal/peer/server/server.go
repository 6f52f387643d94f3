// Package server is the reference server peer: it assigns socket identities, owns the
// authoritative viewed entities and fans changes out to ready sockets.
package server

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/core/registry"
	"github.com/zeusync/tachyon/internal/peer/prefab"
)

// SocketID is the origin the server stamps on its own messages.
const SocketID models.SocketID = 0

type sessionState uint8

const (
	stateInitialized sessionState = iota + 1
	stateHandshaken
	stateReady
)

type session[S any] struct {
	socket S
	state  sessionState
}

// DefaultHandler handles application codes.
type DefaultHandler[S any] func(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode

// Options configures a Server.
type Options[S any] struct {
	Logger   log.Log
	Prefabs  *prefab.Catalog
	Default  DefaultHandler[S]
	Dispatch []dispatch.Option
}

var _ dispatch.Handler[any] = (*Server[any])(nil)

// Server implements dispatch.Handler for the server role.
type Server[S any] struct {
	dispatch.NopHandler[S]

	core     *dispatch.Dispatcher[S]
	logger   log.Log
	prefabs  *prefab.Catalog
	fallback DefaultHandler[S]

	sessions   *registry.SyncMap[models.SocketID, session[S]]
	lastViewID atomic.Uint64

	// entityMu guards component bags of watched entities.
	entityMu sync.RWMutex
	// fanoutMu orders the ready transition against entity and delta fan-out: a
	// change lands either in a joiner's replay or in a broadcast it receives.
	// Sender must not call back into the server while it is held.
	fanoutMu sync.RWMutex
}

// New creates a server peer sending through sender.
func New[S any](sender dispatch.Sender[S], opts Options[S]) *Server[S] {
	if opts.Logger == nil {
		opts.Logger = log.Provide()
	}
	if opts.Prefabs == nil {
		opts.Prefabs = prefab.NewCatalog(nil)
	}

	s := &Server[S]{
		logger:   opts.Logger.With(log.String("peer", "server")),
		prefabs:  opts.Prefabs,
		fallback: opts.Default,
		sessions: registry.NewSyncMap[models.SocketID, session[S]](),
	}

	dispatchOpts := append([]dispatch.Option{dispatch.WithLogger(opts.Logger)}, opts.Dispatch...)
	s.core = dispatch.New[S](s, sender, dispatchOpts...)
	s.core.SetLocalSocketID(SocketID)

	return s
}

// Dispatcher returns the dispatch core driving this server.
func (s *Server[S]) Dispatcher() *dispatch.Dispatcher[S] {
	return s.core
}

// ReadyCount returns the number of sockets that completed the handshake.
func (s *Server[S]) ReadyCount() int {
	n := 0
	s.sessions.Range(func(_ models.SocketID, sess session[S]) bool {
		if sess.state == stateReady {
			n++
		}
		return true
	})
	return n
}

// OnMessage checks that the message origin matches the socket it arrived on and that
// the socket has progressed far enough for the code.
func (s *Server[S]) OnMessage(_ S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	if msg.Code == protocol.CodeSocketInitializeClient {
		// the client learns its socket ID from our handshake
		if msg.OriginSocketID != 0 && msg.OriginSocketID != socketID {
			return protocol.ProblemSocketIDMismatch
		}
		return protocol.ProblemNone
	}

	if msg.OriginSocketID != socketID {
		return protocol.ProblemSocketIDMismatch
	}

	switch msg.Code {
	case protocol.CodeProblem:
		return protocol.ProblemNone
	case protocol.CodeSocketHandshakeClient, protocol.CodeSocketReadyClient:
		if _, ok := s.sessions.Get(socketID); !ok {
			return protocol.ProblemNotInitialized
		}
		return protocol.ProblemNone
	}

	sess, ok := s.sessions.Get(socketID)
	if !ok {
		return protocol.ProblemNotInitialized
	}
	if sess.state != stateReady {
		return protocol.ProblemNotReady
	}
	return protocol.ProblemNone
}

func (s *Server[S]) OnSocketInitializeClient(socket S, socketID models.SocketID, _ *protocol.Message) protocol.ProblemCode {
	if _, ok := s.sessions.Get(socketID); ok {
		return protocol.ProblemAlreadyInitialized
	}

	view := models.ViewComponent{EntityViewID: s.nextViewID()}
	entity, err := models.NewViewedSocketEntity(view, models.NewSocketComponent(socketID, nil), nil)
	if err != nil {
		s.logger.Error("Failed to build socket entity", log.Error(err))
		return protocol.ProblemInternal
	}

	if err = s.core.AddSocketEntity(socketID, entity); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			return protocol.ProblemAlreadyInitialized
		}
		return protocol.ProblemInternal
	}
	s.core.Watch(entity)
	s.sessions.Set(socketID, session[S]{socket: socket, state: stateInitialized})

	reply, err := s.core.NewMessage(protocol.CodeSocketHandshakeServer, protocol.SocketHandshakeServerPayload{
		SocketID:     socketID,
		EntityViewID: view.EntityViewID,
	})
	if err != nil {
		return protocol.ProblemInternal
	}
	if err = s.core.Send(socket, reply); err != nil {
		s.logger.Warn("Failed to send handshake", log.Uint64("socket_id", uint64(socketID)), log.Error(err))
		return protocol.ProblemInternal
	}

	s.logger.Info("Socket initialized",
		log.Uint64("socket_id", uint64(socketID)),
		log.Uint64("view_id", uint64(view.EntityViewID)))
	return protocol.ProblemNone
}

func (s *Server[S]) OnSocketHandshakeClient(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	sess, _ := s.sessions.Get(socketID)
	if sess.state != stateInitialized {
		return protocol.ProblemUnexpectedCode
	}

	var payload protocol.SocketHandshakeClientPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}

	entity, err := s.core.GetSocketEntity(socketID)
	if err != nil {
		return protocol.ProblemNotInitialized
	}

	s.entityMu.Lock()
	for key, value := range payload.Properties {
		entity.Socket().Properties[key] = value
	}
	s.entityMu.Unlock()

	s.sessions.Set(socketID, session[S]{socket: socket, state: stateHandshaken})
	return protocol.ProblemNone
}

// OnSocketReadyClient marks the socket ready, replays every watched entity to it and
// announces its socket entity to the other ready sockets.
func (s *Server[S]) OnSocketReadyClient(socket S, socketID models.SocketID, _ *protocol.Message) protocol.ProblemCode {
	sess, _ := s.sessions.Get(socketID)
	if sess.state != stateHandshaken {
		return protocol.ProblemNotReady
	}

	entity, err := s.core.GetSocketEntity(socketID)
	if err != nil {
		return protocol.ProblemNotInitialized
	}

	s.fanoutMu.Lock()
	defer s.fanoutMu.Unlock()

	for _, viewed := range s.core.ViewedEntities().Snapshot() {
		msg, err := s.instantiateFullMessage(viewed)
		if err != nil {
			return protocol.ProblemInternal
		}
		if err = s.core.Send(socket, msg); err != nil {
			s.logger.Warn("Failed to replay entity",
				log.Uint64("socket_id", uint64(socketID)),
				log.Uint64("view_id", uint64(viewed.View().EntityViewID)),
				log.Error(err))
			return protocol.ProblemInternal
		}
	}

	s.sessions.Set(socketID, session[S]{socket: socket, state: stateReady})

	announce, err := s.instantiateFullMessage(entity)
	if err != nil {
		return protocol.ProblemInternal
	}
	s.broadcast(announce, socketID)

	s.logger.Info("Socket ready", log.Uint64("socket_id", uint64(socketID)))
	return protocol.ProblemNone
}

func (s *Server[S]) OnEntityInstantiateFullClient(_ S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.EntityInstantiateFullPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}

	components, err := protocol.UnwrapComponents(payload.Components)
	if err != nil {
		return protocol.ProblemMalformedPayload
	}

	entity, err := models.NewViewedEntity(models.ViewComponent{EntityViewID: s.nextViewID()}, components)
	if err != nil {
		return protocol.ProblemInternal
	}

	s.fanoutMu.RLock()
	defer s.fanoutMu.RUnlock()

	s.core.Watch(entity)

	announce, err := s.instantiateFullMessage(entity)
	if err != nil {
		return protocol.ProblemInternal
	}
	s.broadcast(announce, 0)

	s.logger.Debug("Entity instantiated",
		log.Uint64("socket_id", uint64(socketID)),
		log.Uint64("view_id", uint64(entity.ViewID())))
	return protocol.ProblemNone
}

func (s *Server[S]) OnEntityInstantiatePrefabClient(_ S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.EntityInstantiatePrefabPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}

	overrides, err := protocol.UnwrapComponents(payload.Components)
	if err != nil {
		return protocol.ProblemMalformedPayload
	}

	components, err := s.prefabs.Instantiate(payload.PrefabHandle, overrides)
	if err != nil {
		if errors.Is(err, prefab.ErrNotFound) {
			return protocol.ProblemPrefabNotFound
		}
		return protocol.ProblemMalformedPayload
	}

	entity, err := models.NewViewedEntity(models.ViewComponent{EntityViewID: s.nextViewID()}, components)
	if err != nil {
		return protocol.ProblemInternal
	}

	s.fanoutMu.RLock()
	defer s.fanoutMu.RUnlock()

	s.core.Watch(entity)

	announce, err := s.core.NewMessage(protocol.CodeEntityInstantiatePrefabServer, protocol.EntityInstantiatePrefabPayload{
		EntityViewID: entity.ViewID(),
		PrefabHandle: payload.PrefabHandle,
		Components:   payload.Components,
	})
	if err != nil {
		return protocol.ProblemInternal
	}
	s.broadcast(announce, 0)

	s.logger.Debug("Prefab instantiated",
		log.Uint64("socket_id", uint64(socketID)),
		log.String("prefab", payload.PrefabHandle),
		log.Uint64("view_id", uint64(entity.ViewID())))
	return protocol.ProblemNone
}

// OnComponentDelta applies the delta to the authoritative entity and forwards it to
// every other ready socket. Either all components apply or none do.
func (s *Server[S]) OnComponentDelta(_ S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.ComponentDeltaPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}

	delta, err := protocol.UnwrapComponents(payload.Components)
	if err != nil {
		return protocol.ProblemMalformedPayload
	}

	s.fanoutMu.RLock()
	defer s.fanoutMu.RUnlock()

	entity, ok := s.core.ViewedEntity(payload.EntityViewID)
	if !ok {
		return protocol.ProblemEntityNotFound
	}

	s.entityMu.Lock()
	applyDelta(entity.Components(), delta)
	s.entityMu.Unlock()

	forward, err := s.core.NewMessage(protocol.CodeComponentDelta, payload)
	if err != nil {
		return protocol.ProblemInternal
	}
	s.broadcast(forward, socketID)
	return protocol.ProblemNone
}

func (s *Server[S]) OnEntityInstantiateFullServer(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (s *Server[S]) OnEntityInstantiatePrefabServer(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (s *Server[S]) OnSocketHandshakeServer(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (s *Server[S]) OnProblem(_ S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.ProblemPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}

	s.logger.Warn("Client reported problem",
		log.Uint64("socket_id", uint64(socketID)),
		log.String("problem", payload.ProblemCode.String()),
		log.String("problem_id", payload.ProblemID),
		log.String("offending_code", payload.OffendingCode.String()))
	return protocol.ProblemNone
}

func (s *Server[S]) OnDefault(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	if s.fallback == nil {
		return protocol.ProblemUnknownCode
	}
	return s.fallback(socket, socketID, msg)
}

// OnClose drops the socket's session, socket entity and viewed entity.
func (s *Server[S]) OnClose(_ S, socketID models.SocketID, reason string) {
	s.sessions.Delete(socketID)

	entity, err := s.core.GetSocketEntity(socketID)
	if err != nil {
		// closed before SocketInitializeClient
		return
	}

	if err = s.core.RemoveSocketEntity(socketID); err != nil {
		s.logger.Warn("Failed to remove socket entity", log.Uint64("socket_id", uint64(socketID)), log.Error(err))
	}
	if err = s.core.Unwatch(entity.ViewID()); err != nil && !errors.Is(err, registry.ErrNotFound) {
		s.logger.Warn("Failed to unwatch socket entity", log.Uint64("socket_id", uint64(socketID)), log.Error(err))
	}

	s.logger.Info("Socket removed",
		log.Uint64("socket_id", uint64(socketID)),
		log.String("reason", reason))
}

func (s *Server[S]) nextViewID() models.ViewID {
	return models.ViewID(s.lastViewID.Add(1))
}

func (s *Server[S]) instantiateFullMessage(entity models.Viewed) (*protocol.Message, error) {
	s.entityMu.RLock()
	wrappers := protocol.WrapComponents(entity.Components())
	s.entityMu.RUnlock()

	return s.core.NewMessage(protocol.CodeEntityInstantiateFullServer, protocol.EntityInstantiateFullPayload{
		EntityViewID: entity.View().EntityViewID,
		Components:   wrappers,
	})
}

// broadcast sends msg to every ready socket except the one with ID except. Socket
// IDs start at 1, so except == 0 reaches everyone.
func (s *Server[S]) broadcast(msg *protocol.Message, except models.SocketID) {
	s.sessions.Range(func(socketID models.SocketID, sess session[S]) bool {
		if socketID == except || sess.state != stateReady {
			return true
		}
		if err := s.core.Send(sess.socket, msg); err != nil {
			s.logger.Warn("Broadcast failed",
				log.Uint64("socket_id", uint64(socketID)),
				log.String("code", msg.Code.String()),
				log.Error(err))
		}
		return true
	})
}

func applyDelta(target, delta models.Components) {
	for typeHandle, value := range delta {
		if target.Has(typeHandle) {
			_ = target.Replace(typeHandle, value)
			continue
		}
		_ = target.Add(typeHandle, value)
	}
}
