// Package transport defines the wire-level connection abstraction shared
// by the WebSocket and shared-memory backends (§4.D).
//
// Grounded on the teacher's split between transport.ClientTransport
// (connection management, read loop, write mutex) and protocol.Encode/
// Decode (frame shape) — this package owns the connection lifecycle and
// delegates framing to pdu/frame.
package transport

import (
	"context"

	"hakoniwa-pdu-go/pdubuf"
	"hakoniwa-pdu-go/pdu/envelope"
)

// Transport is the connection abstraction every backend (wsclient,
// wsserver, shm) implements. A Transport feeds every decoded packet into
// buf.
type Transport interface {
	// Start establishes the connection (or, for shm, begins polling) and
	// launches whatever background goroutine reads incoming packets into
	// buf. Start returns once the connection is ready; it does not block
	// for the lifetime of the connection.
	Start(ctx context.Context, buf *pdubuf.CommunicationBuffer, uri string) error

	// Stop tears down the connection and stops any background goroutine.
	Stop() error

	// SendBinary writes a fully-encoded frame. It never panics or
	// propagates a transport error to the caller: a failed send collapses
	// to a false return, per §7's "SendData/SendBinary collapse to
	// (false, nil)-shaped returns".
	SendBinary(raw []byte) bool

	// SendData encodes and sends a PDU_DATA frame addressed at
	// (robot, channelID).
	SendData(robot string, channelID int32, body []byte) bool

	// RegisterEventHandler installs a callback invoked for every decoded
	// packet, in addition to the packet being routed into the
	// CommunicationBuffer. Used by callers that need synchronous
	// notification (e.g. the RPC server's registration handshake).
	RegisterEventHandler(handler func(envelope.Packet))
}
