// Package client is the reference client peer. It joins a server, mirrors the
// entities the server announces and forwards local changes as requests or deltas.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/core/registry"
	"github.com/zeusync/tachyon/internal/peer/prefab"
)

var (
	ErrNotStarted = errors.New("client not started")
	ErrNotReady   = errors.New("client not ready")
	ErrClosed     = errors.New("client closed")
)

// DefaultHandler handles application codes.
type DefaultHandler[S any] func(socket S, msg *protocol.Message) protocol.ProblemCode

// Options configures a Client.
type Options[S any] struct {
	Logger log.Log
	// Properties are sent to the server with the handshake.
	Properties map[string]any
	// Prefabs resolves prefab announcements locally. Without it only the announced
	// overrides are mirrored.
	Prefabs  *prefab.Catalog
	Default  DefaultHandler[S]
	Dispatch []dispatch.Option
}

var _ dispatch.Handler[any] = (*Client[any])(nil)

// Client implements dispatch.Handler for the client role.
type Client[S any] struct {
	dispatch.NopHandler[S]

	core       *dispatch.Dispatcher[S]
	logger     log.Log
	properties map[string]any
	prefabs    *prefab.Catalog
	fallback   DefaultHandler[S]

	mu      sync.Mutex
	socket  S
	started bool
	self    *models.ViewedSocketEntity

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	lastProblem atomic.Pointer[protocol.ProblemPayload]

	// entityMu guards component bags of mirrored entities.
	entityMu sync.RWMutex
}

// New creates a client peer sending through sender.
func New[S any](sender dispatch.Sender[S], opts Options[S]) *Client[S] {
	if opts.Logger == nil {
		opts.Logger = log.Provide()
	}

	c := &Client[S]{
		logger:     opts.Logger.With(log.String("peer", "client")),
		properties: opts.Properties,
		prefabs:    opts.Prefabs,
		fallback:   opts.Default,
		ready:      make(chan struct{}),
		closed:     make(chan struct{}),
	}

	dispatchOpts := append([]dispatch.Option{dispatch.WithLogger(opts.Logger)}, opts.Dispatch...)
	c.core = dispatch.New[S](c, sender, dispatchOpts...)

	return c
}

// Dispatcher returns the dispatch core driving this client.
func (c *Client[S]) Dispatcher() *dispatch.Dispatcher[S] {
	return c.core
}

// Start binds the client to the socket connected to the server and sends
// SocketInitializeClient.
func (c *Client[S]) Start(socket S) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("client already started")
	}
	c.socket = socket
	c.started = true
	c.mu.Unlock()

	msg, err := c.core.NewMessage(protocol.CodeSocketInitializeClient, nil)
	if err != nil {
		return err
	}
	return c.core.Send(socket, msg)
}

// Ready is closed once the handshake with the server completed.
func (c *Client[S]) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until the handshake completed, the connection closed or ctx is done.
func (c *Client[S]) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	default:
	}

	select {
	case <-c.ready:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Self returns the client's own socket entity once the handshake completed.
func (c *Client[S]) Self() (*models.ViewedSocketEntity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self, c.self != nil
}

// LastProblem returns the most recent problem reported by the server.
func (c *Client[S]) LastProblem() (protocol.ProblemPayload, bool) {
	p := c.lastProblem.Load()
	if p == nil {
		return protocol.ProblemPayload{}, false
	}
	return *p, true
}

// RequestInstantiateFull asks the server to create an entity from components.
func (c *Client[S]) RequestInstantiateFull(components models.Components) error {
	return c.send(protocol.CodeEntityInstantiateFullClient, protocol.EntityInstantiateFullPayload{
		Components: protocol.WrapComponents(components),
	})
}

// RequestInstantiatePrefab asks the server to create an entity from a prefab.
func (c *Client[S]) RequestInstantiatePrefab(handle string, overrides models.Components) error {
	return c.send(protocol.CodeEntityInstantiatePrefabClient, protocol.EntityInstantiatePrefabPayload{
		PrefabHandle: handle,
		Components:   protocol.WrapComponents(overrides),
	})
}

// SendDelta applies components to the local mirror of id and sends them to the server.
func (c *Client[S]) SendDelta(id models.ViewID, components models.Components) error {
	entity, ok := c.core.ViewedEntity(id)
	if !ok {
		return fmt.Errorf("view %d: %w", id, registry.ErrNotFound)
	}

	c.entityMu.Lock()
	applyDelta(entity.Components(), components)
	c.entityMu.Unlock()

	return c.send(protocol.CodeComponentDelta, protocol.ComponentDeltaPayload{
		EntityViewID: id,
		Components:   protocol.WrapComponents(components),
	})
}

// SendApplication sends an application-defined code with payload.
func (c *Client[S]) SendApplication(code protocol.Code, payload any) error {
	if code.IsBuiltin() {
		return fmt.Errorf("code %q is built in", code)
	}
	return c.send(code, payload)
}

func (c *Client[S]) send(code protocol.Code, payload any) error {
	select {
	case <-c.ready:
	default:
		return ErrNotReady
	}

	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()

	msg, err := c.core.NewMessage(code, payload)
	if err != nil {
		return err
	}
	return c.core.Send(socket, msg)
}

// OnMessage accepts only messages originating from the server.
func (c *Client[S]) OnMessage(_ S, _ models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	if msg.OriginSocketID != 0 {
		return protocol.ProblemSocketIDMismatch
	}
	return protocol.ProblemNone
}

// OnSocketHandshakeServer adopts the assigned socket identity, creates the client's
// own socket entity and completes the handshake.
func (c *Client[S]) OnSocketHandshakeServer(socket S, _ models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.SocketHandshakeServerPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}
	if payload.SocketID == 0 {
		return protocol.ProblemMalformedPayload
	}

	c.mu.Lock()
	if c.self != nil {
		c.mu.Unlock()
		return protocol.ProblemAlreadyInitialized
	}

	self, err := models.NewViewedSocketEntity(
		models.ViewComponent{EntityViewID: payload.EntityViewID},
		models.NewSocketComponent(payload.SocketID, c.properties),
		nil,
	)
	if err != nil {
		c.mu.Unlock()
		return protocol.ProblemInternal
	}
	c.self = self
	c.mu.Unlock()

	c.core.SetLocalSocketID(payload.SocketID)
	if err = c.core.AddSocketEntity(payload.SocketID, self); err != nil {
		return protocol.ProblemInternal
	}
	c.core.Watch(self)

	for _, step := range []struct {
		code    protocol.Code
		payload any
	}{
		{protocol.CodeSocketHandshakeClient, protocol.SocketHandshakeClientPayload{Properties: c.properties}},
		{protocol.CodeSocketReadyClient, nil},
	} {
		out, err := c.core.NewMessage(step.code, step.payload)
		if err != nil {
			return protocol.ProblemInternal
		}
		if err = c.core.Send(socket, out); err != nil {
			c.logger.Warn("Failed to complete handshake", log.String("code", step.code.String()), log.Error(err))
			return protocol.ProblemInternal
		}
	}

	c.readyOnce.Do(func() { close(c.ready) })

	c.logger.Info("Handshake complete",
		log.Uint64("socket_id", uint64(payload.SocketID)),
		log.Uint64("view_id", uint64(payload.EntityViewID)))
	return protocol.ProblemNone
}

func (c *Client[S]) OnEntityInstantiateFullServer(_ S, _ models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.EntityInstantiateFullPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}
	if payload.EntityViewID == 0 {
		return protocol.ProblemMalformedPayload
	}

	components, err := protocol.UnwrapComponents(payload.Components)
	if err != nil {
		return protocol.ProblemMalformedPayload
	}

	return c.mirror(payload.EntityViewID, components)
}

func (c *Client[S]) OnEntityInstantiatePrefabServer(_ S, _ models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.EntityInstantiatePrefabPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}
	if payload.EntityViewID == 0 {
		return protocol.ProblemMalformedPayload
	}

	components, err := protocol.UnwrapComponents(payload.Components)
	if err != nil {
		return protocol.ProblemMalformedPayload
	}

	if c.prefabs != nil {
		components, err = c.prefabs.Instantiate(payload.PrefabHandle, components)
		if err != nil {
			return protocol.ProblemPrefabNotFound
		}
	}

	return c.mirror(payload.EntityViewID, components)
}

func (c *Client[S]) OnComponentDelta(_ S, _ models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.ComponentDeltaPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}

	delta, err := protocol.UnwrapComponents(payload.Components)
	if err != nil {
		return protocol.ProblemMalformedPayload
	}

	entity, ok := c.core.ViewedEntity(payload.EntityViewID)
	if !ok {
		return protocol.ProblemEntityNotFound
	}

	c.entityMu.Lock()
	applyDelta(entity.Components(), delta)
	c.entityMu.Unlock()
	return protocol.ProblemNone
}

func (c *Client[S]) OnEntityInstantiateFullClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (c *Client[S]) OnEntityInstantiatePrefabClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (c *Client[S]) OnSocketInitializeClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (c *Client[S]) OnSocketHandshakeClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (c *Client[S]) OnSocketReadyClient(S, models.SocketID, *protocol.Message) protocol.ProblemCode {
	return protocol.ProblemUnexpectedCode
}

func (c *Client[S]) OnProblem(_ S, _ models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	var payload protocol.ProblemPayload
	if err := msg.Payload(&payload); err != nil {
		return protocol.ProblemMalformedPayload
	}
	c.lastProblem.Store(&payload)

	c.logger.Warn("Server reported problem",
		log.String("problem", payload.ProblemCode.String()),
		log.String("problem_id", payload.ProblemID),
		log.String("offending_code", payload.OffendingCode.String()),
		log.String("detail", payload.Detail))
	return protocol.ProblemNone
}

func (c *Client[S]) OnDefault(socket S, _ models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	if c.fallback == nil {
		return protocol.ProblemUnknownCode
	}
	return c.fallback(socket, msg)
}

// OnClose forgets every mirrored entity.
func (c *Client[S]) OnClose(_ S, _ models.SocketID, reason string) {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	self := c.self
	c.self = nil
	c.mu.Unlock()

	if self != nil {
		_ = c.core.RemoveSocketEntity(self.SocketID())
	}
	for _, entity := range c.core.ViewedEntities().Snapshot() {
		_ = c.core.Unwatch(entity.View().EntityViewID)
	}

	c.logger.Info("Disconnected", log.String("reason", reason))
}

// mirror watches a server-announced entity. The announcement of the client's own
// socket entity is ignored since it is already watched.
func (c *Client[S]) mirror(id models.ViewID, components models.Components) protocol.ProblemCode {
	if _, ok := c.core.ViewedEntity(id); ok {
		c.mu.Lock()
		own := c.self != nil && c.self.ViewID() == id
		c.mu.Unlock()
		if own {
			return protocol.ProblemNone
		}
		return protocol.ProblemEntityExists
	}

	entity, err := models.NewViewedEntity(models.ViewComponent{EntityViewID: id}, components)
	if err != nil {
		return protocol.ProblemMalformedPayload
	}
	c.core.Watch(entity)
	return protocol.ProblemNone
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
