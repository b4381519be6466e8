// Package envelope implements the PDU wire envelope: the small framed
// header that every frame carries before its PDU-specific body, and the
// self-describing sentinel bodies used by declare/request-read frames.
//
// Layout mirrors the teacher's protocol package (fixed header, then a
// variable-length body), generalized from a single TCP frame shape to the
// two envelope versions this wire format supports.
package envelope

import (
	"encoding/binary"
	"fmt"

	"hakoniwa-pdu-go/pdu"
)

// MetaRequestType identifies what kind of frame this is, and therefore how
// its body should be routed and decoded downstream.
type MetaRequestType uint32

const (
	PduData MetaRequestType = iota
	DeclarePduForRead
	DeclarePduForWrite
	RequestPduRead
	RegisterRPCClient
	PduDataRPCRequest
	PduDataRPCReply
)

func (t MetaRequestType) String() string {
	switch t {
	case PduData:
		return "PDU_DATA"
	case DeclarePduForRead:
		return "DECLARE_PDU_FOR_READ"
	case DeclarePduForWrite:
		return "DECLARE_PDU_FOR_WRITE"
	case RequestPduRead:
		return "REQUEST_PDU_READ"
	case RegisterRPCClient:
		return "REGISTER_RPC_CLIENT"
	case PduDataRPCRequest:
		return "PDU_DATA_RPC_REQUEST"
	case PduDataRPCReply:
		return "PDU_DATA_RPC_REPLY"
	default:
		return fmt.Sprintf("MetaRequestType(%d)", uint32(t))
	}
}

// knownMetaRequestTypes guards Decode against unknown wire values, per
// spec §4.B: "decode fails with ErrorKind::MalformedFrame on ... unknown
// meta_request_type".
var knownMetaRequestTypes = map[MetaRequestType]bool{
	PduData:            true,
	DeclarePduForRead:  true,
	DeclarePduForWrite: true,
	RequestPduRead:     true,
	RegisterRPCClient:  true,
	PduDataRPCRequest:  true,
	PduDataRPCReply:    true,
}

// IsKnown reports whether t is a recognised meta_request_type.
func IsKnown(t MetaRequestType) bool {
	return knownMetaRequestTypes[t]
}

// Sentinel magic numbers: a declare frame's body is just this 4-byte
// little-endian value repeated — self-describing, and stable across
// versions.
const (
	declareReadMagic  uint32 = 0x52455044 // bytes "DPER" in little-endian order
	declareWriteMagic uint32 = 0x57505044 // bytes "DPPW" in little-endian order
)

// SentinelBody returns the 4-byte little-endian magic body for a declare
// or request-read frame.
func SentinelBody(isRead bool) []byte {
	buf := make([]byte, 4)
	if isRead {
		binary.LittleEndian.PutUint32(buf, declareReadMagic)
	} else {
		binary.LittleEndian.PutUint32(buf, declareWriteMagic)
	}
	return buf
}

// Packet is a fully decoded wire frame: the small header plus its body.
type Packet struct {
	MetaRequestType MetaRequestType
	RobotName       string
	ChannelID       int32
	Body            []byte
}

// RobotChannel is the (robot_name, channel_id) addressing pair a packet
// targets — used by the communication buffer to resolve a topic name.
func (p Packet) RobotChannel() (string, int32) {
	return p.RobotName, p.ChannelID
}

// ValidateKnownType returns pdu.ErrMalformedFrame if the packet carries an
// unrecognised meta_request_type.
func (p Packet) ValidateKnownType() error {
	if !IsKnown(p.MetaRequestType) {
		return fmt.Errorf("%w: unknown meta_request_type %s", pdu.ErrMalformedFrame, p.MetaRequestType)
	}
	return nil
}
