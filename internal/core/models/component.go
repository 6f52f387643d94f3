package models

import (
	"fmt"
	"sort"
)

// Reserved type handles used by the protocol core.
const (
	ViewComponentHandle   = "ViewComponent"
	SocketComponentHandle = "SocketComponent"
)

// Components is the component bag of an entity: type handle -> component value.
// Handles are unique per bag. Values are opaque to the core.
type Components map[string]any

// Has reports whether a component with the given type handle is present.
func (c Components) Has(typeHandle string) bool {
	_, ok := c[typeHandle]
	return ok
}

// Get looks up a component. The second return is false when it is absent.
func (c Components) Get(typeHandle string) (any, bool) {
	component, ok := c[typeHandle]
	return component, ok
}

// GetOrFail looks up a component and fails with ErrMissingComponent when absent.
func (c Components) GetOrFail(typeHandle string) (any, error) {
	component, ok := c[typeHandle]
	if !ok {
		return nil, fmt.Errorf("%w: type handle %q", ErrMissingComponent, typeHandle)
	}
	return component, nil
}

// Add inserts a component. Adding a handle that is already present fails with
// ErrComponentExists and leaves the bag untouched.
func (c Components) Add(typeHandle string, component any) error {
	if _, ok := c[typeHandle]; ok {
		return fmt.Errorf("%w: type handle %q", ErrComponentExists, typeHandle)
	}
	c[typeHandle] = component
	return nil
}

// Replace overwrites an existing component. It never inserts: a missing handle
// fails with ErrMissingComponent.
func (c Components) Replace(typeHandle string, component any) error {
	if _, ok := c[typeHandle]; !ok {
		return fmt.Errorf("%w: type handle %q", ErrMissingComponent, typeHandle)
	}
	c[typeHandle] = component
	return nil
}

// Len returns the number of components in the bag.
func (c Components) Len() int {
	return len(c)
}

// Handles returns the type handles present, sorted.
func (c Components) Handles() []string {
	handles := make([]string, 0, len(c))
	for h := range c {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	return handles
}

// ComponentHolder is anything that owns a component bag.
type ComponentHolder interface {
	Components() Components
}

// ComponentAs reads a component and asserts its concrete type.
func ComponentAs[T any](holder ComponentHolder, typeHandle string) (T, error) {
	var zero T

	raw, err := holder.Components().GetOrFail(typeHandle)
	if err != nil {
		return zero, err
	}

	component, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: type handle %q holds %T, want %T", ErrTypeMismatch, typeHandle, raw, zero)
	}

	return component, nil
}
