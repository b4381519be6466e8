package pdu

// Status is the server-side processing status of an RPC call, carried in
// ResponseHeader.Status.
type Status int32

const (
	StatusNone      Status = 0
	StatusDoing     Status = 1
	StatusCanceling Status = 2
	StatusDone      Status = 3
	StatusError     Status = 4
)

// ResultCode is the terminal outcome of an RPC call, carried in
// ResponseHeader.ResultCode.
type ResultCode int32

const (
	ResultOK       ResultCode = 0
	ResultError    ResultCode = 1
	ResultCanceled ResultCode = 2
	ResultInvalid  ResultCode = 3
	ResultBusy     ResultCode = 4
)

// ClientOpcode distinguishes an in-flight request from a cancellation of
// that same request.
type ClientOpcode int32

const (
	OpcodeRequest ClientOpcode = 0
	OpcodeCancel  ClientOpcode = 1
)

// ServerEvent is returned by the server core's poll loop.
type ServerEvent int

const (
	ServerEventNone ServerEvent = iota
	ServerEventRequestIn
	ServerEventRequestCancel
)

// ClientEvent is returned by the client core's poll loop.
type ClientEvent int

const (
	ClientEventNone ClientEvent = iota
	ClientEventResponseIn
	ClientEventTimeout
	ClientEventCancelDone
)

// Direction marks whether a channel carries read, write, or both.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
	DirBoth
)

func (d Direction) String() string {
	switch d {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	default:
		return "both"
	}
}

// UnassignedChannelID is the reserved channel_id for "not yet assigned"
// during registration frames.
const UnassignedChannelID int32 = -1

// Default location of the offset-map directory, overridden by
// HAKO_BINARY_PATH.
const DefaultOffsetMapPath = "/usr/local/lib/hakoniwa/hako_binary/offset"

// DebugEnvVar gates verbose logging, mirroring HAKO_PDU_DEBUG=1 in the
// original implementation.
const DebugEnvVar = "HAKO_PDU_DEBUG"

// OffsetMapEnvVar overrides the offset-map directory.
const OffsetMapEnvVar = "HAKO_BINARY_PATH"
