package models

import "fmt"

// ViewID is the view identity (EntityViewID) under which an entity is synchronized
// between peers.
type ViewID uint64

// SocketID identifies one connected transport-level socket.
type SocketID uint64

// ViewComponent carries the view identity of a viewed entity.
type ViewComponent struct {
	EntityViewID ViewID `json:"EntityViewID"`
}

// SocketComponent carries the identity and free-form properties of a connected socket.
type SocketComponent struct {
	SocketID   SocketID       `json:"SocketID"`
	Properties map[string]any `json:"Properties"`
}

// NewSocketComponent creates a SocketComponent. Nil properties become an empty map.
func NewSocketComponent(socketID SocketID, properties map[string]any) SocketComponent {
	if properties == nil {
		properties = make(map[string]any)
	}
	return SocketComponent{
		SocketID:   socketID,
		Properties: properties,
	}
}

// Viewed is implemented by entities that are guaranteed to carry a view component.
type Viewed interface {
	ComponentHolder
	View() ViewComponent
}

// SocketBound is implemented by viewed entities that also represent a socket.
type SocketBound interface {
	Viewed
	Socket() SocketComponent
}

var (
	_ ComponentHolder = (*Entity)(nil)
	_ Viewed          = (*ViewedEntity)(nil)
	_ SocketBound     = (*ViewedSocketEntity)(nil)
)

// Entity is the minimal unit of synchronized state. It owns exactly one component bag.
type Entity struct {
	components Components
}

// NewEntity wraps the given bag without copying it. A nil bag becomes empty.
func NewEntity(components Components) *Entity {
	if components == nil {
		components = make(Components)
	}
	return &Entity{components: components}
}

// Components returns the entity's component bag.
func (e *Entity) Components() Components {
	return e.components
}

// ViewedEntity is an entity whose bag holds a ViewComponent. The view identity is
// fixed at construction.
type ViewedEntity struct {
	*Entity
	view ViewComponent
}

// NewViewedEntity builds a viewed entity on top of initial (taken by reference) and
// adds view under ViewComponentHandle. It fails if initial already holds that handle.
func NewViewedEntity(view ViewComponent, initial Components) (*ViewedEntity, error) {
	entity := NewEntity(initial)
	if err := entity.components.Add(ViewComponentHandle, view); err != nil {
		return nil, err
	}
	return &ViewedEntity{Entity: entity, view: view}, nil
}

// View returns the view component.
func (e *ViewedEntity) View() ViewComponent {
	return e.view
}

// ViewID is shorthand for View().EntityViewID.
func (e *ViewedEntity) ViewID() ViewID {
	return e.view.EntityViewID
}

// ViewedSocketEntity is a viewed entity that represents one connected peer.
type ViewedSocketEntity struct {
	*ViewedEntity
	socket SocketComponent
}

// NewViewedSocketEntity is NewViewedEntity followed by adding socket under
// SocketComponentHandle. Both handles are checked first, so a failure leaves initial
// untouched.
func NewViewedSocketEntity(view ViewComponent, socket SocketComponent, initial Components) (*ViewedSocketEntity, error) {
	if initial.Has(SocketComponentHandle) {
		return nil, fmt.Errorf("%w: type handle %q", ErrComponentExists, SocketComponentHandle)
	}
	if socket.Properties == nil {
		socket.Properties = make(map[string]any)
	}

	viewed, err := NewViewedEntity(view, initial)
	if err != nil {
		return nil, err
	}
	if err = viewed.components.Add(SocketComponentHandle, socket); err != nil {
		return nil, err
	}

	return &ViewedSocketEntity{ViewedEntity: viewed, socket: socket}, nil
}

// Socket returns the socket component.
func (e *ViewedSocketEntity) Socket() SocketComponent {
	return e.socket
}

// SocketID is shorthand for Socket().SocketID.
func (e *ViewedSocketEntity) SocketID() SocketID {
	return e.socket.SocketID
}

// ViewOf extracts the view component from any component holder.
func ViewOf(holder ComponentHolder) (ViewComponent, error) {
	if viewed, ok := holder.(Viewed); ok {
		return viewed.View(), nil
	}
	return ComponentAs[ViewComponent](holder, ViewComponentHandle)
}

// SocketOf extracts the socket component from any component holder.
func SocketOf(holder ComponentHolder) (SocketComponent, error) {
	if bound, ok := holder.(SocketBound); ok {
		return bound.Socket(), nil
	}
	return ComponentAs[SocketComponent](holder, SocketComponentHandle)
}
