package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"hakoniwa-pdu-go/pdu"
	"hakoniwa-pdu-go/pdu/envelope"
	"hakoniwa-pdu-go/pdu/frame"
	"hakoniwa-pdu-go/pdu/rpcwire"
	"hakoniwa-pdu-go/pdubuf"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	handler func(envelope.Packet)
}

func (f *fakeTransport) Start(_ context.Context, _ *pdubuf.CommunicationBuffer, _ string) error {
	return nil
}
func (f *fakeTransport) Stop() error { return nil }

func (f *fakeTransport) SendBinary(raw []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, raw)
	return true
}

func (f *fakeTransport) SendData(robot string, channelID int32, body []byte) bool {
	return f.SendBinary(body)
}

func (f *fakeTransport) RegisterEventHandler(handler func(envelope.Packet)) {
	f.handler = handler
}

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// serverReplyToRegistration mimics the registration reply
// rpc/server.sendRegisterReply sends, writing it straight into the buffer
// without depending on the server package.
func serverReplyToRegistration(t *testing.T, buf *pdubuf.CommunicationBuffer, serviceName, clientName string, clientID, reqCh, resCh int32) {
	t.Helper()
	body, err := json.Marshal(registrationResponse{
		ServiceName:       serviceName,
		ClientName:        clientName,
		ResultCode:        pdu.ResultOK,
		ClientID:          clientID,
		RequestChannelID:  reqCh,
		ResponseChannelID: resCh,
	})
	if err != nil {
		t.Fatalf("marshal registration response: %v", err)
	}
	buf.PutPacket(envelope.Packet{
		MetaRequestType: envelope.PduDataRPCReply,
		RobotName:       serviceName,
		ChannelID:       registrationChannelID,
		Body:            body,
	})
}

func registerTestClient(t *testing.T, ft *fakeTransport, buf *pdubuf.CommunicationBuffer, serviceName, clientName string) *Client {
	t.Helper()
	c := New(frame.V2, ft, buf)

	go func() {
		time.Sleep(5 * time.Millisecond)
		serverReplyToRegistration(t, buf, serviceName, clientName, 0, 0, 1)
	}()

	handle, err := c.Register(context.Background(), serviceName, clientName, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if handle.RequestChannelID != 0 || handle.ResponseChannelID != 1 {
		t.Fatalf("unexpected handle: %+v", handle)
	}
	return c
}

func TestRegisterSendsRequestAtUnassignedChannelAndResolvesHandle(t *testing.T) {
	ft := &fakeTransport{}
	buf := pdubuf.New()
	c := registerTestClient(t, ft, buf, "Arith", "client_0")
	if c.handle.ClientID != 0 {
		t.Errorf("unexpected client id: %d", c.handle.ClientID)
	}

	raw := ft.lastSent()
	packet, err := frame.Decode(frame.V2, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if packet.MetaRequestType != envelope.RegisterRPCClient {
		t.Errorf("meta type = %v; want RegisterRPCClient", packet.MetaRequestType)
	}
	if packet.ChannelID != pdu.UnassignedChannelID {
		t.Errorf("channel id = %d; want %d", packet.ChannelID, pdu.UnassignedChannelID)
	}
}

func TestRegisterRejectedResultCodePropagatesAsError(t *testing.T) {
	ft := &fakeTransport{}
	buf := pdubuf.New()
	c := New(frame.V2, ft, buf)

	go func() {
		time.Sleep(5 * time.Millisecond)
		body, _ := json.Marshal(registrationResponse{
			ServiceName: "Arith", ClientName: "dup", ResultCode: pdu.ResultError,
		})
		buf.PutPacket(envelope.Packet{
			MetaRequestType: envelope.PduDataRPCReply,
			RobotName:       "Arith",
			ChannelID:       registrationChannelID,
			Body:            body,
		})
	}()

	if _, err := c.Register(context.Background(), "Arith", "dup", 200*time.Millisecond); err == nil {
		t.Fatal("expected Register to fail on ResultError")
	}
}

func TestRegisterTimesOutWithoutReply(t *testing.T) {
	ft := &fakeTransport{}
	c := New(frame.V2, ft, pdubuf.New())

	if _, err := c.Register(context.Background(), "Arith", "client_0", 20*time.Millisecond); err == nil {
		t.Fatal("expected Register to time out")
	}
}

func TestCallRoundTripDeliversResponseBody(t *testing.T) {
	ft := &fakeTransport{}
	buf := pdubuf.New()
	c := registerTestClient(t, ft, buf, "Arith", "client_0")

	go func() {
		for {
			time.Sleep(2 * time.Millisecond)
			raw := ft.lastSent()
			packet, err := frame.Decode(frame.V2, raw)
			if err != nil || packet.MetaRequestType != envelope.PduDataRPCRequest {
				continue
			}
			req, err := rpcwire.DecodeRequest(packet.Body)
			if err != nil || req.Header.Opcode != pdu.OpcodeRequest {
				continue
			}
			resp := rpcwire.EncodeResponse(rpcwire.ResponseEnvelope{
				Header: rpcwire.ResponseHeader{
					RequestID:  req.Header.RequestID,
					ResultCode: pdu.ResultOK,
					Status:     pdu.StatusDone,
				},
				Body: []byte("sum=3"),
			})
			buf.PutPacket(envelope.Packet{MetaRequestType: envelope.PduDataRPCReply, RobotName: "Arith", ChannelID: 1, Body: resp})
			return
		}
	}()

	body, event, err := c.Call(context.Background(), []byte(`{"a":1,"b":2}`), 500)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if event != pdu.ClientEventResponseIn {
		t.Errorf("event = %v; want ClientEventResponseIn", event)
	}
	if string(body) != "sum=3" {
		t.Errorf("body = %q; want sum=3", body)
	}
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	ft := &fakeTransport{}
	buf := pdubuf.New()
	c := registerTestClient(t, ft, buf, "Arith", "client_0")

	_, event, err := c.Call(context.Background(), []byte("x"), 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != pdu.ClientEventTimeout {
		t.Errorf("event = %v; want ClientEventTimeout", event)
	}
}

func TestCallRejectsSecondCallWhileInFlight(t *testing.T) {
	ft := &fakeTransport{}
	buf := pdubuf.New()
	c := registerTestClient(t, ft, buf, "Arith", "client_0")

	go c.Call(context.Background(), []byte("x"), 200)
	time.Sleep(5 * time.Millisecond)

	if _, _, err := c.Call(context.Background(), []byte("y"), 200); err != pdu.ErrCallInProgress {
		t.Errorf("err = %v; want ErrCallInProgress", err)
	}
}

func TestCallDiscardsStaleResponseThenDeliversCurrent(t *testing.T) {
	ft := &fakeTransport{}
	buf := pdubuf.New()
	c := registerTestClient(t, ft, buf, "Arith", "client_0")

	buf.PutPacket(envelope.Packet{
		MetaRequestType: envelope.PduDataRPCReply,
		RobotName:       "Arith",
		ChannelID:       1,
		Body: rpcwire.EncodeResponse(rpcwire.ResponseEnvelope{
			Header: rpcwire.ResponseHeader{RequestID: 999, ResultCode: pdu.ResultOK},
			Body:   []byte("stale"),
		}),
	})

	go func() {
		time.Sleep(15 * time.Millisecond)
		buf.PutPacket(envelope.Packet{
			MetaRequestType: envelope.PduDataRPCReply,
			RobotName:       "Arith",
			ChannelID:       1,
			Body: rpcwire.EncodeResponse(rpcwire.ResponseEnvelope{
				Header: rpcwire.ResponseHeader{RequestID: 1, ResultCode: pdu.ResultOK},
				Body:   []byte("fresh"),
			}),
		})
	}()

	body, event, err := c.Call(context.Background(), []byte("x"), 500)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if event != pdu.ClientEventResponseIn || string(body) != "fresh" {
		t.Errorf("got body=%q event=%v; want fresh/ResponseIn", body, event)
	}
}

func TestCancelResendsRequestWithCancelOpcode(t *testing.T) {
	ft := &fakeTransport{}
	buf := pdubuf.New()
	c := registerTestClient(t, ft, buf, "Arith", "client_0")

	go c.Call(context.Background(), []byte("x"), 500)
	time.Sleep(10 * time.Millisecond)

	if !c.Cancel() {
		t.Fatal("expected Cancel to succeed")
	}

	raw := ft.lastSent()
	packet, err := frame.Decode(frame.V2, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req, err := rpcwire.DecodeRequest(packet.Body)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Header.Opcode != pdu.OpcodeCancel {
		t.Errorf("opcode = %v; want OpcodeCancel", req.Header.Opcode)
	}

	buf.PutPacket(envelope.Packet{
		MetaRequestType: envelope.PduDataRPCReply,
		RobotName:       "Arith",
		ChannelID:       1,
		Body: rpcwire.EncodeResponse(rpcwire.ResponseEnvelope{
			Header: rpcwire.ResponseHeader{RequestID: req.Header.RequestID, ResultCode: pdu.ResultCanceled, Status: pdu.StatusDone},
		}),
	})
}
