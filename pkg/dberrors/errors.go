package dberrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("ringkv: not found")
	ErrClosed          = errors.New("ringkv: closed")
	ErrInvalidArgument = errors.New("ringkv: invalid argument")
)

// Protocol errors. Every concrete violation wraps ErrProtocol.
var (
	ErrProtocol         = errors.New("ringkv: protocol error")
	ErrKeyTooLong       = fmt.Errorf("%w: key too long", ErrProtocol)
	ErrValueTooLarge    = fmt.Errorf("%w: value too large", ErrProtocol)
	ErrMalformedFrame   = fmt.Errorf("%w: malformed frame", ErrProtocol)
	ErrFrameTooLarge    = fmt.Errorf("%w: frame exceeds size cap", ErrProtocol)
	ErrUnknownStatus    = fmt.Errorf("%w: unknown status", ErrProtocol)
	ErrUnknownAdminType = fmt.Errorf("%w: unknown admin message type", ErrProtocol)
)

// Ring and controller errors.
var (
	ErrDuplicateNodeID  = errors.New("ringkv: duplicate node id")
	ErrNodeNotFound     = errors.New("ringkv: node not found")
	ErrNoAvailableNode  = errors.New("ringkv: no offline node left in pool")
	ErrEmptyRing        = errors.New("ringkv: ring is empty")
	ErrRingInconsistent = errors.New("ringkv: ring invariant violated")
)

// Errors surfaced to clients.
var (
	ErrNotResponsible    = errors.New("ringkv: server not responsible for key")
	ErrServerStopped     = errors.New("ringkv: server stopped")
	ErrWriteLocked       = errors.New("ringkv: server write locked")
	ErrServerError       = errors.New("ringkv: server error")
	ErrNoReachableServer = errors.New("ringkv: no reachable server")
)
