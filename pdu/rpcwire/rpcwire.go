// Package rpcwire provides the concrete, default (encode, decode) pair for
// the RPC request/response envelope headers described in the data model
// (§3: RequestEnvelopeHeader, ResponseEnvelopeHeader).
//
// The generated PDU struct encoders/decoders are, per spec §1, an injected
// external collaborator with "a fixed-shape header/body contract" — out of
// scope for this module. This package plays that role for the two packet
// shapes the RPC core itself must be able to read (to route inbound frames
// to the right mailbox and to correlate replies by request_id), following
// the same "pluggable codec, concrete implementation provided" shape as
// the teacher's codec package (codec.Codec interface + JSONCodec/BinaryCodec).
// Callers with real generated PDU types provide their own RequestCodec /
// ResponseCodec instead of this one.
package rpcwire

import (
	"encoding/binary"
	"fmt"

	"hakoniwa-pdu-go/pdu"
)

// RequestHeader is the application-level header embedded in the body of a
// PDU_DATA_RPC_REQUEST frame.
type RequestHeader struct {
	RequestID              uint64
	ServiceName            string
	ClientName             string
	Opcode                 pdu.ClientOpcode
	StatusPollIntervalMsec int32
}

// ResponseHeader is the application-level header embedded in the body of a
// PDU_DATA_RPC_REPLY frame.
type ResponseHeader struct {
	RequestID            uint64
	ServiceName          string
	ClientName           string
	Status               pdu.Status
	ProcessingPercentage int32
	ResultCode           pdu.ResultCode
}

// RequestEnvelope pairs a RequestHeader with the opaque application payload
// (the generated request PDU body, untouched).
type RequestEnvelope struct {
	Header RequestHeader
	Body   []byte
}

// ResponseEnvelope pairs a ResponseHeader with the opaque application
// payload (the generated response PDU body, untouched).
type ResponseEnvelope struct {
	Header ResponseHeader
	Body   []byte
}

func putString(buf []byte, off int, s string) int {
	b := []byte(s)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(b)))
	off += 2
	off += copy(buf[off:], b)
	return off
}

func getString(data []byte, off int) (string, int, error) {
	if len(data) < off+2 {
		return "", 0, fmt.Errorf("%w: truncated string length", pdu.ErrMalformedFrame)
	}
	n := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if len(data) < off+n {
		return "", 0, fmt.Errorf("%w: truncated string bytes", pdu.ErrMalformedFrame)
	}
	return string(data[off : off+n]), off + n, nil
}

// EncodeRequest serializes a RequestEnvelope to bytes.
func EncodeRequest(e RequestEnvelope) []byte {
	size := 8 + 2 + len(e.Header.ServiceName) + 2 + len(e.Header.ClientName) + 4 + 4 + len(e.Body)
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], e.Header.RequestID)
	off += 8
	off = putString(buf, off, e.Header.ServiceName)
	off = putString(buf, off, e.Header.ClientName)
	binary.LittleEndian.PutUint32(buf[off:], uint32(e.Header.Opcode))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(e.Header.StatusPollIntervalMsec))
	off += 4
	copy(buf[off:], e.Body)
	return buf
}

// DecodeRequest parses bytes produced by EncodeRequest.
func DecodeRequest(data []byte) (RequestEnvelope, error) {
	if len(data) < 8 {
		return RequestEnvelope{}, fmt.Errorf("%w: truncated request header", pdu.ErrMalformedFrame)
	}
	off := 0
	var h RequestHeader
	h.RequestID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	var err error
	h.ServiceName, off, err = getString(data, off)
	if err != nil {
		return RequestEnvelope{}, err
	}
	h.ClientName, off, err = getString(data, off)
	if err != nil {
		return RequestEnvelope{}, err
	}
	if len(data) < off+8 {
		return RequestEnvelope{}, fmt.Errorf("%w: truncated request opcode/interval", pdu.ErrMalformedFrame)
	}
	h.Opcode = pdu.ClientOpcode(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	h.StatusPollIntervalMsec = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	body := make([]byte, len(data)-off)
	copy(body, data[off:])
	return RequestEnvelope{Header: h, Body: body}, nil
}

// EncodeResponse serializes a ResponseEnvelope to bytes.
func EncodeResponse(e ResponseEnvelope) []byte {
	size := 8 + 2 + len(e.Header.ServiceName) + 2 + len(e.Header.ClientName) + 4 + 4 + 4 + len(e.Body)
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], e.Header.RequestID)
	off += 8
	off = putString(buf, off, e.Header.ServiceName)
	off = putString(buf, off, e.Header.ClientName)
	binary.LittleEndian.PutUint32(buf[off:], uint32(e.Header.Status))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(e.Header.ProcessingPercentage))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(e.Header.ResultCode))
	off += 4
	copy(buf[off:], e.Body)
	return buf
}

// DecodeResponse parses bytes produced by EncodeResponse.
func DecodeResponse(data []byte) (ResponseEnvelope, error) {
	if len(data) < 8 {
		return ResponseEnvelope{}, fmt.Errorf("%w: truncated response header", pdu.ErrMalformedFrame)
	}
	off := 0
	var h ResponseHeader
	h.RequestID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	var err error
	h.ServiceName, off, err = getString(data, off)
	if err != nil {
		return ResponseEnvelope{}, err
	}
	h.ClientName, off, err = getString(data, off)
	if err != nil {
		return ResponseEnvelope{}, err
	}
	if len(data) < off+12 {
		return ResponseEnvelope{}, fmt.Errorf("%w: truncated response status fields", pdu.ErrMalformedFrame)
	}
	h.Status = pdu.Status(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	h.ProcessingPercentage = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	h.ResultCode = pdu.ResultCode(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	body := make([]byte, len(data)-off)
	copy(body, data[off:])
	return ResponseEnvelope{Header: h, Body: body}, nil
}
