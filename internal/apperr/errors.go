package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrFull         = errors.New("capacity exhausted")
	ErrUnknownPeer  = errors.New("unknown peer")
	ErrMalformed    = errors.New("malformed input")
	ErrNotConnected = errors.New("not connected")
)
