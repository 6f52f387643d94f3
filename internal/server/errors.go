package server

import "errors"

var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrListenerFailed       = errors.New("failed to create listener")
)
