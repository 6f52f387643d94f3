package models

import "errors"

// Component bag errors
var (
	ErrComponentExists  = errors.New("component already present")
	ErrMissingComponent = errors.New("missing component")
	ErrTypeMismatch     = errors.New("component type mismatch")
)
