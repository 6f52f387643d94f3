package protocol

import (
	"fmt"

	"github.com/zeusync/tachyon/internal/core/models"
)

// ComponentWrapper carries one component and its type handle on the wire.
type ComponentWrapper struct {
	// TypeHandle identifies the component type, usually its fully qualified name.
	TypeHandle string `json:"TypeHandle"`
	Component  any    `json:"Component"`
}

// ComponentDeltaPayload changes components of an already viewed entity.
type ComponentDeltaPayload struct {
	EntityViewID models.ViewID     `json:"EntityViewID"`
	Components   []ComponentWrapper `json:"Components"`
}

// EntityInstantiateFullPayload describes an entity by its complete component set.
// Clients leave EntityViewID zero; the server assigns it.
type EntityInstantiateFullPayload struct {
	EntityViewID models.ViewID     `json:"EntityViewID,omitempty"`
	Components   []ComponentWrapper `json:"Components"`
}

// EntityInstantiatePrefabPayload describes an entity by a prefab handle plus
// component overrides.
type EntityInstantiatePrefabPayload struct {
	EntityViewID models.ViewID     `json:"EntityViewID,omitempty"`
	PrefabHandle string             `json:"PrefabHandle"`
	Components   []ComponentWrapper `json:"Components,omitempty"`
}

// SocketHandshakeServerPayload tells a freshly initialized client who it is.
type SocketHandshakeServerPayload struct {
	SocketID     models.SocketID `json:"SocketID"`
	EntityViewID models.ViewID   `json:"EntityViewID"`
}

// SocketHandshakeClientPayload acknowledges the server handshake.
type SocketHandshakeClientPayload struct {
	Properties map[string]any `json:"Properties,omitempty"`
}

// ProblemPayload reports a rejected message back to its sender.
type ProblemPayload struct {
	ProblemCode     ProblemCode     `json:"ProblemCode"`
	ProblemID       string          `json:"ProblemID"`
	OffendingCode   Code            `json:"OffendingCode"`
	OffendingOrigin models.SocketID `json:"OffendingOrigin"`
	Detail          string          `json:"Detail,omitempty"`
}

// WrapComponents converts a bag into wire wrappers sorted by type handle. Reserved
// handles are skipped: view and socket identity travel in dedicated fields.
func WrapComponents(components models.Components) []ComponentWrapper {
	wrappers := make([]ComponentWrapper, 0, components.Len())
	for _, handle := range components.Handles() {
		if isReservedHandle(handle) {
			continue
		}
		value, _ := components.Get(handle)
		wrappers = append(wrappers, ComponentWrapper{TypeHandle: handle, Component: value})
	}
	return wrappers
}

// UnwrapComponents builds a bag from wire wrappers. Duplicate or reserved handles
// are rejected.
func UnwrapComponents(wrappers []ComponentWrapper) (models.Components, error) {
	components := make(models.Components, len(wrappers))
	for _, wrapper := range wrappers {
		if wrapper.TypeHandle == "" {
			return nil, fmt.Errorf("%w: empty type handle", ErrMalformedPayload)
		}
		if isReservedHandle(wrapper.TypeHandle) {
			return nil, fmt.Errorf("%w: %q", ErrReservedHandle, wrapper.TypeHandle)
		}
		if err := components.Add(wrapper.TypeHandle, wrapper.Component); err != nil {
			return nil, err
		}
	}
	return components, nil
}

func isReservedHandle(handle string) bool {
	return handle == models.ViewComponentHandle || handle == models.SocketComponentHandle
}
