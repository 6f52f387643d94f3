// Package transport holds what the websocket and quic transports share: the socket
// abstraction peers are instantiated with, socket ID allocation and the hand-off from
// a read loop to the dispatch core.
package transport

import (
	"sync/atomic"

	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/protocol"
)

// Socket is one connection of any transport.
type Socket interface {
	// ID is the socket ID this side assigned. Connections dialed by a client use 0.
	ID() models.SocketID
	Send(msg *protocol.Message) error
	Close() error
}

// Sender sends through the socket the message is addressed to.
var Sender dispatch.Sender[Socket] = dispatch.SenderFunc[Socket](func(socket Socket, msg *protocol.Message) error {
	return socket.Send(msg)
})

// IDs hands out socket IDs starting at 1. Zero belongs to the server. Transports
// serving the same peer must share one IDs.
type IDs struct {
	last atomic.Uint64
}

func (ids *IDs) Next() models.SocketID {
	return models.SocketID(ids.last.Add(1))
}

// Deliver passes one inbound frame to core and answers a rejected message with a
// Problem message. An error matching protocol.ErrDecode means the frame was not a
// message and the connection should be dropped; any other error is a failed
// problem report.
func Deliver(core *dispatch.Dispatcher[Socket], socket Socket, raw []byte) error {
	_, err := core.HandleAndReport(socket, socket.ID(), raw)
	return err
}
