// Package frame implements the binary encode/decode of a single PDU wire
// envelope, in both supported versions.
//
// v2 layout:
//
//	0        4        8                 8+2+N
//	┌────────┬────────┬────────┬────────┬───────────────┐
//	│metaType│channelID│nameLen│ name   │    body ...    │
//	│ u32 LE │ i32 LE │ u16 LE │ N bytes│   remainder    │
//	└────────┴────────┴────────┴────────┴───────────────┘
//
// v1 omits the leading metaType field and is always routed as PDU_DATA.
//
// This mirrors the teacher's protocol.Encode/Decode shape (fixed header
// fields written in order, body is whatever remains) generalized to the
// spec's header fields instead of the teacher's seq/bodyLen/codec fields.
package frame

import (
	"encoding/binary"
	"fmt"

	"hakoniwa-pdu-go/pdu"
	"hakoniwa-pdu-go/pdu/envelope"
)

// Version selects which envelope shape Encode/Decode use. Both peers on a
// connection must agree; it is a construction parameter of the transport.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

const (
	metaTypeSize  = 4
	channelIDSize = 4
	nameLenSize   = 2
)

// Encode writes a complete envelope (header + body) for the given version.
// Encode never fails on a well-formed envelope.Packet.
func Encode(version Version, p envelope.Packet, body []byte) []byte {
	nameBytes := []byte(p.RobotName)
	headerSize := channelIDSize + nameLenSize + len(nameBytes)
	if version == V2 {
		headerSize += metaTypeSize
	}
	buf := make([]byte, headerSize+len(body))

	off := 0
	if version == V2 {
		binary.LittleEndian.PutUint32(buf[off:], uint32(p.MetaRequestType))
		off += metaTypeSize
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(p.ChannelID))
	off += channelIDSize
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(nameBytes)))
	off += nameLenSize
	off += copy(buf[off:], nameBytes)
	copy(buf[off:], body)

	return buf
}

// Decode parses a complete envelope from data. It fails with
// pdu.ErrMalformedFrame on truncation or, in v2, an unknown
// meta_request_type. v1 frames always decode as envelope.PduData.
func Decode(version Version, data []byte) (envelope.Packet, error) {
	off := 0
	metaType := envelope.PduData

	if version == V2 {
		if len(data) < metaTypeSize {
			return envelope.Packet{}, fmt.Errorf("%w: truncated meta_request_type", pdu.ErrMalformedFrame)
		}
		metaType = envelope.MetaRequestType(binary.LittleEndian.Uint32(data[off:]))
		off += metaTypeSize
		if !envelope.IsKnown(metaType) {
			return envelope.Packet{}, fmt.Errorf("%w: unknown meta_request_type %s", pdu.ErrMalformedFrame, metaType)
		}
	}

	if len(data) < off+channelIDSize+nameLenSize {
		return envelope.Packet{}, fmt.Errorf("%w: truncated header", pdu.ErrMalformedFrame)
	}
	channelID := int32(binary.LittleEndian.Uint32(data[off:]))
	off += channelIDSize
	nameLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += nameLenSize

	if len(data) < off+nameLen {
		return envelope.Packet{}, fmt.Errorf("%w: truncated robot_name", pdu.ErrMalformedFrame)
	}
	robotName := string(data[off : off+nameLen])
	off += nameLen

	body := make([]byte, len(data)-off)
	copy(body, data[off:])

	return envelope.Packet{
		MetaRequestType: metaType,
		RobotName:       robotName,
		ChannelID:       channelID,
		Body:            body,
	}, nil
}
