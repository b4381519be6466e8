// Package shm implements the shared-memory transport.Transport backend
// (§4.D): instead of a socket read loop it polls a conductor.Handle on a
// ticker, matching the spec's "polling hook replaces the receive loop"
// description.
//
// Over plain topic channels this is a straight PduRead/PduWrite wrapper.
// Over RPC channels it is broker-mediated (§4.D shm variant, §4.E
// "Broker-assigned"): registration, request delivery, and response
// delivery are routed through conductor.Handle's Service* operations
// instead of being framed and pushed down a socket, since the native
// conductor itself plays the role the RPC server's registry/mailbox
// machinery plays over WebSocket.
package shm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hakoniwa-pdu-go/conductor"
	"hakoniwa-pdu-go/config"
	"hakoniwa-pdu-go/pdu"
	"hakoniwa-pdu-go/pdu/envelope"
	"hakoniwa-pdu-go/pdu/frame"
	"hakoniwa-pdu-go/pdubuf"
)

// defaultPollInterval matches the ticker cadence used by
// pdumanager.Manager.RequestPduRead, keeping SHM and WebSocket peers on a
// comparable latency budget.
const defaultPollInterval = 10 * time.Millisecond

// channelKind distinguishes the three shapes of channel this transport
// polls, since each is routed through a different conductor.Handle
// operation and lands in a different half of the CommunicationBuffer.
type channelKind int

const (
	kindTopic channelKind = iota
	kindRequest
	kindResponse
)

// Transport wraps a conductor.Handle, presenting it through the same
// transport.Transport surface the WebSocket backends implement.
type Transport struct {
	version frame.Version
	handle  conductor.Handle

	channels []watchedChannel

	buf     *pdubuf.CommunicationBuffer
	handler func(envelope.Packet)

	cancel context.CancelFunc
	done   chan struct{}
}

type watchedChannel struct {
	robotName string
	channelID int32
	kind      channelKind
}

// New wraps handle. version governs how the registration/request/reply
// frames handed to SendBinary are decoded.
func New(version frame.Version, handle conductor.Handle) *Transport {
	return &Transport{version: version, handle: handle}
}

// Watch registers (robotName, channelID) as a plain topic channel, polled
// every tick via PduRead once Start is called.
func (t *Transport) Watch(robotName string, channelID int32) {
	t.channels = append(t.channels, watchedChannel{robotName, channelID, kindTopic})
}

// WatchRequest registers (serviceName, channelID) as an RPC request
// channel: polled via ServiceGetRequest and routed into the serviceName
// mailbox as a PDU_DATA_RPC_REQUEST, matching what rpc/server.PollRequest
// expects to find via buf.PeekMailbox.
func (t *Transport) WatchRequest(serviceName string, channelID int32) {
	t.channels = append(t.channels, watchedChannel{serviceName, channelID, kindRequest})
}

// WatchResponse registers (serviceName, channelID) as an RPC response
// channel: polled via PduRead but routed into the mailbox as a
// PDU_DATA_RPC_REPLY, matching what rpc/client.tryCollectResponse expects
// to find via buf.Get.
func (t *Transport) WatchResponse(serviceName string, channelID int32) {
	t.channels = append(t.channels, watchedChannel{serviceName, channelID, kindResponse})
}

// WatchServiceConfig pre-declares every service's client request-channel
// slots for polling, up to each entry's MaxClients, resolving channel ids
// via resolver. This realizes broker-assigned allocation (§4.E): request
// channels are synthesised and watched at construction time rather than
// discovered one registration at a time.
func (t *Transport) WatchServiceConfig(cfg *config.ServiceConfig, resolver config.ChannelIDResolver) {
	for serviceIndex, entry := range cfg.Services() {
		for clientIndex := 0; clientIndex < entry.MaxClients; clientIndex++ {
			reqCh, _ := resolver(serviceIndex, clientIndex)
			if reqCh < 0 {
				continue
			}
			t.WatchRequest(entry.Name, int32(reqCh))
		}
	}
}

// NewChannelIDResolver returns a config.ChannelIDResolver backed by
// handle.ServiceGetChannelID, for broker-assigned (SHM) channel
// allocation (§4.E). Client slots are named "client_<index>", the
// convention service_pdudef_builder.py's req_k/res_k synthesis implies;
// a slot the conductor has not assigned yet resolves to (-1, -1), the
// same "not yet assigned" sentinel externally-assigned mode uses.
func NewChannelIDResolver(handle conductor.Handle, cfg *config.ServiceConfig) config.ChannelIDResolver {
	services := cfg.Services()
	return func(serviceIndex, clientIndex int) (int, int) {
		if serviceIndex < 0 || serviceIndex >= len(services) {
			return -1, -1
		}
		clientName := fmt.Sprintf("client_%d", clientIndex)
		reqCh, resCh, ok := handle.ServiceGetChannelID(services[serviceIndex].Name, clientName)
		if !ok {
			return -1, -1
		}
		return int(reqCh), int(resCh)
	}
}

// Start begins the polling loop. uri is ignored.
func (t *Transport) Start(ctx context.Context, buf *pdubuf.CommunicationBuffer, uri string) error {
	t.buf = buf
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.pollLoop(loopCtx)
	return nil
}

func (t *Transport) pollLoop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, wc := range t.channels {
				t.pollOne(wc)
			}
		}
	}
}

func (t *Transport) pollOne(wc watchedChannel) {
	var packet envelope.Packet

	switch wc.kind {
	case kindRequest:
		body, ok := t.handle.ServiceGetRequest(wc.channelID)
		if !ok {
			return
		}
		packet = envelope.Packet{
			MetaRequestType: envelope.PduDataRPCRequest,
			RobotName:       wc.robotName,
			ChannelID:       wc.channelID,
			Body:            body,
		}
	case kindResponse:
		body, ok := t.handle.PduRead(wc.robotName, wc.channelID)
		if !ok {
			return
		}
		packet = envelope.Packet{
			MetaRequestType: envelope.PduDataRPCReply,
			RobotName:       wc.robotName,
			ChannelID:       wc.channelID,
			Body:            body,
		}
	default:
		body, ok := t.handle.PduRead(wc.robotName, wc.channelID)
		if !ok {
			return
		}
		packet = envelope.Packet{
			MetaRequestType: envelope.PduData,
			RobotName:       wc.robotName,
			ChannelID:       wc.channelID,
			Body:            body,
		}
	}

	t.buf.PutPacket(packet)
	if t.handler != nil {
		t.handler(packet)
	}
}

// Stop ends the polling loop.
func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}
	return nil
}

// registrationRequestBody / registrationReplyBody mirror the wire shape
// rpc/client.registrationRequest/registrationResponse and
// rpc/server.registerRequestBody/registerResponseBody already use —
// duplicated here rather than imported, the same way those two packages
// each keep their own copy of this JSON sub-protocol shape.
type registrationRequestBody struct {
	ServiceName string `json:"service_name"`
	ClientName  string `json:"client_name"`
}

type registrationReplyBody struct {
	ServiceName       string         `json:"service_name"`
	ClientName        string         `json:"client_name"`
	ResultCode        pdu.ResultCode `json:"result_code"`
	ClientID          int32          `json:"client_id"`
	RequestChannelID  int32          `json:"request_channel_id"`
	ResponseChannelID int32          `json:"response_channel_id"`
}

// SendBinary decodes raw and routes it through the matching
// conductor.Handle operation instead of forwarding a wire frame: there is
// no socket to write to, so every RPC meta type is translated into the
// broker call it stands for. Unrecognised or non-RPC meta types (plain
// PDU_DATA, declare/request-read sentinels) are not meaningful here —
// those go through SendData — and report failure.
func (t *Transport) SendBinary(raw []byte) bool {
	packet, err := frame.Decode(t.version, raw)
	if err != nil {
		return false
	}

	switch packet.MetaRequestType {
	case envelope.RegisterRPCClient:
		return t.handleRegister(packet)
	case envelope.PduDataRPCRequest:
		return t.handle.PduWrite(packet.RobotName, packet.ChannelID, packet.Body) == nil
	case envelope.PduDataRPCReply:
		return t.handle.ServicePutResponse(packet.ChannelID, packet.Body) == nil
	default:
		return false
	}
}

// handleRegister calls ServiceRegisterClient synchronously and pushes the
// reply straight into the mailbox rpc/client.Register polls — over SHM
// the conductor assigns channels the moment it is asked, so there is no
// real round trip to wait out the way there is over WebSocket.
func (t *Transport) handleRegister(packet envelope.Packet) bool {
	var req registrationRequestBody
	if err := json.Unmarshal(packet.Body, &req); err != nil {
		return false
	}

	reply := registrationReplyBody{ServiceName: req.ServiceName, ClientName: req.ClientName}
	reqCh, resCh, err := t.handle.ServiceRegisterClient(req.ServiceName, req.ClientName)
	if err != nil {
		reply.ResultCode = pdu.ResultError
	} else {
		reply.ResultCode = pdu.ResultOK
		reply.RequestChannelID = reqCh
		reply.ResponseChannelID = resCh
	}

	body, err := json.Marshal(reply)
	if err != nil {
		return false
	}
	t.buf.PutPacket(envelope.Packet{
		MetaRequestType: envelope.PduDataRPCReply,
		RobotName:       req.ServiceName,
		ChannelID:       pdu.UnassignedChannelID,
		Body:            body,
	})
	return true
}

// SendData writes body to (robot, channelID) via the conductor handle.
func (t *Transport) SendData(robot string, channelID int32, body []byte) bool {
	return t.handle.PduWrite(robot, channelID, body) == nil
}

// RegisterEventHandler installs a callback invoked for every polled
// packet.
func (t *Transport) RegisterEventHandler(handler func(envelope.Packet)) {
	t.handler = handler
}
