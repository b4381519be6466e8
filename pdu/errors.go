// Package pdu defines the error taxonomy, status/result codes, and wire
// constants shared by every layer of the RPC and topic runtime.
package pdu

import "errors"

// Error taxonomy, per the propagation policy: transport-level errors never
// propagate as exceptions above the manager boundary — callers check these
// with errors.Is against the bool/nil results that wrap them.
var (
	ErrMalformedFrame  = errors.New("pdu: malformed frame")
	ErrUnknownService  = errors.New("pdu: unknown service")
	ErrDuplicateClient = errors.New("pdu: client already registered")
	ErrServiceFull     = errors.New("pdu: service registry full")
	ErrTransport       = errors.New("pdu: transport error")
	ErrHandlerFailure  = errors.New("pdu: handler failure")
	ErrStaleResponse   = errors.New("pdu: stale response discarded")
	ErrCallInProgress  = errors.New("pdu: call already in progress for this client")
	ErrConfigLoad      = errors.New("pdu: failed to load configuration")
	ErrNotRegistered   = errors.New("pdu: client is not registered")
)
