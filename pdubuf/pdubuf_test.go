package pdubuf

import (
	"testing"

	"hakoniwa-pdu-go/pdu/envelope"
)

func TestTopicBufferOverwritesLatestValue(t *testing.T) {
	buf := New()
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduData, RobotName: "drone1", ChannelID: 0, Body: []byte("first")})
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduData, RobotName: "drone1", ChannelID: 0, Body: []byte("second")})

	got, ok := buf.Peek("drone1", 0)
	if !ok {
		t.Fatal("expected topic value present")
	}
	if string(got) != "second" {
		t.Errorf("Peek = %q; want %q", got, "second")
	}
}

func TestMailboxFIFODrainOrder(t *testing.T) {
	buf := New()
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduDataRPCRequest, RobotName: "Arith", ChannelID: 0, Body: []byte("a")})
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduDataRPCRequest, RobotName: "Arith", ChannelID: 0, Body: []byte("b")})
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduDataRPCRequest, RobotName: "Arith", ChannelID: 0, Body: []byte("c")})

	for _, want := range []string{"a", "b", "c"} {
		got, ok := buf.Get("Arith", 0)
		if !ok {
			t.Fatalf("expected entry %q, mailbox empty", want)
		}
		if string(got) != want {
			t.Errorf("Get = %q; want %q", got, want)
		}
	}
	if _, ok := buf.Get("Arith", 0); ok {
		t.Error("expected mailbox drained")
	}
}

func TestGetRemovesExactlyOneEntry(t *testing.T) {
	buf := New()
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduDataRPCReply, RobotName: "Arith", ChannelID: 1, Body: []byte("x")})
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduDataRPCReply, RobotName: "Arith", ChannelID: 1, Body: []byte("y")})

	if n := buf.MailboxLen("Arith", 1); n != 2 {
		t.Fatalf("MailboxLen = %d; want 2", n)
	}
	buf.Get("Arith", 1)
	if n := buf.MailboxLen("Arith", 1); n != 1 {
		t.Errorf("MailboxLen after one Get = %d; want 1", n)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	buf := New()
	buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduData, RobotName: "drone1", ChannelID: 2, Body: []byte("v")})

	buf.Peek("drone1", 2)
	buf.Peek("drone1", 2)
	if !buf.Contains("drone1", 2) {
		t.Error("expected topic value to remain after repeated Peek")
	}
}

func TestContainsFalseForUnknownChannel(t *testing.T) {
	buf := New()
	if buf.Contains("drone1", 99) {
		t.Error("expected Contains to be false for unknown channel")
	}
}

func TestGetFalseForEmptyMailbox(t *testing.T) {
	buf := New()
	if _, ok := buf.Get("Arith", 0); ok {
		t.Error("expected Get to report false for empty mailbox")
	}
}
