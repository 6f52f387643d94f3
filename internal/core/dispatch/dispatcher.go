// Package dispatch routes inbound tachyon messages to a peer's handlers and owns the
// viewed-entity and socket-entity registries shared by those handlers.
package dispatch

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/observability/metrics"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/core/registry"
)

// applicationLabel is the metrics label for every non built-in code.
const applicationLabel = "application"

// Dispatcher is the single entry point for inbound traffic of one peer. S is the
// transport's socket handle type. It owns no goroutines; every method may be called
// concurrently.
type Dispatcher[S any] struct {
	handler Handler[S]
	sender  Sender[S]
	codec   protocol.Codec
	logger  log.Log
	metrics *metrics.Dispatch

	viewed  *registry.ViewedEntities
	sockets *registry.SocketEntities

	localSocketID atomic.Uint64
}

// New creates a dispatcher routing to handler and sending through sender.
func New[S any](handler Handler[S], sender Sender[S], opts ...Option) *Dispatcher[S] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Provide()
	}

	return &Dispatcher[S]{
		handler: handler,
		sender:  sender,
		codec:   o.codec,
		logger:  o.logger,
		metrics: o.metrics,
		viewed:  registry.NewViewedEntities(o.shards),
		sockets: registry.NewSocketEntities(),
	}
}

// HandleInboundMessage decodes raw, runs the pre-hook and then exactly one handler.
// A decode failure is returned as an error and no handler runs; otherwise the
// returned problem code is the outcome of the message.
func (d *Dispatcher[S]) HandleInboundMessage(socket S, socketID models.SocketID, raw []byte) (protocol.ProblemCode, error) {
	_, problem, err := d.handle(socket, socketID, raw)
	return problem, err
}

// HandleAndReport is HandleInboundMessage followed by ReportProblem for a rejected
// message. A returned error either wraps protocol.ErrDecode or is a failed report.
func (d *Dispatcher[S]) HandleAndReport(socket S, socketID models.SocketID, raw []byte) (protocol.ProblemCode, error) {
	msg, problem, err := d.handle(socket, socketID, raw)
	if err != nil || problem.IsNone() {
		return problem, err
	}
	return problem, d.ReportProblem(socket, socketID, msg, problem, "")
}

func (d *Dispatcher[S]) handle(socket S, socketID models.SocketID, raw []byte) (*protocol.Message, protocol.ProblemCode, error) {
	start := time.Now()

	msg, err := d.codec.Decode(raw)
	if err != nil {
		if d.metrics != nil {
			d.metrics.ObserveDecodeError()
		}
		d.logger.Warn("Failed to decode inbound message",
			log.Uint64("socket_id", uint64(socketID)),
			log.Int("size", len(raw)),
			log.Error(err))
		return nil, protocol.ProblemNone, fmt.Errorf("socket %d: %w", socketID, err)
	}

	d.logger.Debug("Inbound message",
		log.Uint64("socket_id", uint64(socketID)),
		log.Uint64("origin_socket_id", uint64(msg.OriginSocketID)),
		log.String("code", msg.Code.String()))

	label := codeLabel(msg.Code)
	if d.metrics != nil {
		d.metrics.ObserveReceived(label)
	}

	problem := d.handler.OnMessage(socket, socketID, msg)
	if problem == protocol.ProblemNone {
		problem = d.route(socket, socketID, msg)
	}

	if problem != protocol.ProblemNone {
		d.logger.Warn("Message rejected",
			log.Uint64("socket_id", uint64(socketID)),
			log.String("code", msg.Code.String()),
			log.String("problem", problem.String()))
	}

	if d.metrics != nil {
		d.metrics.ObserveOutcome(label, problem.String(), time.Since(start))
		d.metrics.SetRegistrySizes(d.sockets.Len(), d.viewed.Len())
	}

	return msg, problem, nil
}

// route selects exactly one handler for msg.
func (d *Dispatcher[S]) route(socket S, socketID models.SocketID, msg *protocol.Message) protocol.ProblemCode {
	h := d.handler

	switch msg.Code {
	case protocol.CodeComponentDelta:
		return h.OnComponentDelta(socket, socketID, msg)

	case protocol.CodeEntityInstantiateFullClient:
		return h.OnEntityInstantiateFullClient(socket, socketID, msg)
	case protocol.CodeEntityInstantiateFullServer:
		return h.OnEntityInstantiateFullServer(socket, socketID, msg)
	case protocol.CodeEntityInstantiatePrefabClient:
		return h.OnEntityInstantiatePrefabClient(socket, socketID, msg)
	case protocol.CodeEntityInstantiatePrefabServer:
		return h.OnEntityInstantiatePrefabServer(socket, socketID, msg)

	case protocol.CodeSocketInitializeClient:
		return h.OnSocketInitializeClient(socket, socketID, msg)
	case protocol.CodeSocketHandshakeClient:
		return h.OnSocketHandshakeClient(socket, socketID, msg)
	case protocol.CodeSocketHandshakeServer:
		return h.OnSocketHandshakeServer(socket, socketID, msg)
	case protocol.CodeSocketReadyClient:
		return h.OnSocketReadyClient(socket, socketID, msg)

	case protocol.CodeProblem:
		return h.OnProblem(socket, socketID, msg)

	default:
		return h.OnDefault(socket, socketID, msg)
	}
}

// HandleClose forwards a socket closure to the handler.
func (d *Dispatcher[S]) HandleClose(socket S, socketID models.SocketID, reason string) {
	d.logger.Debug("Socket closed",
		log.Uint64("socket_id", uint64(socketID)),
		log.String("reason", reason))

	d.handler.OnClose(socket, socketID, reason)

	if d.metrics != nil {
		d.metrics.SetRegistrySizes(d.sockets.Len(), d.viewed.Len())
	}
}

// SetLocalSocketID sets the origin stamped on messages built by NewMessage.
func (d *Dispatcher[S]) SetLocalSocketID(id models.SocketID) {
	d.localSocketID.Store(uint64(id))
}

// LocalSocketID returns the origin stamped on outbound messages.
func (d *Dispatcher[S]) LocalSocketID() models.SocketID {
	return models.SocketID(d.localSocketID.Load())
}

// NewMessage builds an outbound message originating from this peer.
func (d *Dispatcher[S]) NewMessage(code protocol.Code, payload any) (*protocol.Message, error) {
	return protocol.NewMessage(code, d.LocalSocketID(), payload)
}

// Send hands msg to the injected sender.
func (d *Dispatcher[S]) Send(socket S, msg *protocol.Message) error {
	return d.sender.Send(socket, msg)
}

// ReportProblem tells the sender of offending that it was rejected with problem.
// The problem message carries a fresh ProblemID so both sides can correlate logs.
func (d *Dispatcher[S]) ReportProblem(socket S, socketID models.SocketID, offending *protocol.Message, problem protocol.ProblemCode, detail string) error {
	payload := protocol.ProblemPayload{
		ProblemCode: problem,
		ProblemID:   uuid.NewString(),
		Detail:      detail,
	}
	if offending != nil {
		payload.OffendingCode = offending.Code
		payload.OffendingOrigin = offending.OriginSocketID
	}

	msg, err := d.NewMessage(protocol.CodeProblem, payload)
	if err != nil {
		return err
	}

	d.logger.Debug("Sending problem",
		log.Uint64("socket_id", uint64(socketID)),
		log.String("problem", problem.String()),
		log.String("problem_id", payload.ProblemID))

	if err = d.sender.Send(socket, msg); err != nil {
		return fmt.Errorf("send problem to socket %d: %w", socketID, err)
	}
	if d.metrics != nil {
		d.metrics.ObserveProblemSent(problem.String())
	}
	return nil
}

// Watch starts tracking entity under its view identity. Watching an identity that
// is already tracked replaces the previous entity.
func (d *Dispatcher[S]) Watch(entity models.Viewed) {
	d.viewed.Watch(entity)
}

// Unwatch stops tracking the entity with the given view identity.
func (d *Dispatcher[S]) Unwatch(id models.ViewID) error {
	return d.viewed.Unwatch(id)
}

// ViewedEntity returns the entity tracked under id.
func (d *Dispatcher[S]) ViewedEntity(id models.ViewID) (models.Viewed, bool) {
	return d.viewed.Get(id)
}

// ViewedEntities exposes the viewed-entity registry.
func (d *Dispatcher[S]) ViewedEntities() *registry.ViewedEntities {
	return d.viewed
}

// GetSocketEntity fails with registry.ErrNotFound if socketID is not registered.
func (d *Dispatcher[S]) GetSocketEntity(socketID models.SocketID) (*models.ViewedSocketEntity, error) {
	return d.sockets.Get(socketID)
}

// AddSocketEntity fails with registry.ErrAlreadyExists if socketID is registered.
func (d *Dispatcher[S]) AddSocketEntity(socketID models.SocketID, entity *models.ViewedSocketEntity) error {
	return d.sockets.Add(socketID, entity)
}

// RemoveSocketEntity fails with registry.ErrNotFound if socketID is not registered.
func (d *Dispatcher[S]) RemoveSocketEntity(socketID models.SocketID) error {
	return d.sockets.Remove(socketID)
}

// SocketEntities exposes the socket-entity registry.
func (d *Dispatcher[S]) SocketEntities() *registry.SocketEntities {
	return d.sockets
}

func codeLabel(code protocol.Code) string {
	if code.IsBuiltin() {
		return code.String()
	}
	return applicationLabel
}
