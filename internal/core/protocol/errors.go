package protocol

import "errors"

// Message errors
var (
	ErrDecode           = errors.New("message decode failed")
	ErrEncode           = errors.New("message encode failed")
	ErrMalformedPayload = errors.New("malformed message payload")
	ErrReservedHandle   = errors.New("reserved component type handle")
)
