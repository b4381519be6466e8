package envelope

import (
	"encoding/binary"
	"testing"
)

func TestSentinelBodyIsFourBytesLittleEndian(t *testing.T) {
	readBody := SentinelBody(true)
	writeBody := SentinelBody(false)

	if len(readBody) != 4 || len(writeBody) != 4 {
		t.Fatalf("sentinel bodies must be 4 bytes, got %d/%d", len(readBody), len(writeBody))
	}
	if binary.LittleEndian.Uint32(readBody) == binary.LittleEndian.Uint32(writeBody) {
		t.Error("read and write sentinels must differ")
	}
}

func TestIsKnownCoversAllMagicConstants(t *testing.T) {
	for _, mt := range []MetaRequestType{
		PduData, DeclarePduForRead, DeclarePduForWrite,
		RequestPduRead, RegisterRPCClient, PduDataRPCRequest, PduDataRPCReply,
	} {
		if !IsKnown(mt) {
			t.Errorf("%s should be known", mt)
		}
	}
	if IsKnown(MetaRequestType(255)) {
		t.Error("255 should not be a known meta_request_type")
	}
}

func TestValidateKnownType(t *testing.T) {
	good := Packet{MetaRequestType: PduData}
	if err := good.ValidateKnownType(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := Packet{MetaRequestType: MetaRequestType(255)}
	if err := bad.ValidateKnownType(); err == nil {
		t.Error("expected error for unknown meta_request_type")
	}
}
