// Package client implements the RPC client core (§4.H): registration,
// single-outstanding-call enforcement, and the poll-based call state
// machine (RESPONSE_IN / TIMEOUT / CANCEL_DONE / NONE).
//
// Grounded directly on
// _examples/original_source/.../remote_pdu_service_client_manager.py —
// register_client/call_request/poll_response/get_response/cancel_request
// — generalized from asyncio coroutines plus a caller-driven poll loop
// into synchronous Go methods, following the single-threaded-cooperative
// concurrency model (§5).
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hakoniwa-pdu-go/internal/logging"
	"hakoniwa-pdu-go/pdu"
	"hakoniwa-pdu-go/pdu/envelope"
	"hakoniwa-pdu-go/pdu/frame"
	"hakoniwa-pdu-go/pdu/rpcwire"
	"hakoniwa-pdu-go/pdubuf"
	"hakoniwa-pdu-go/transport"
)

// registrationChannelID is the fixed channel_id both peers use for the
// registration request and its reply, since the client cannot know its
// assigned response_channel_id before registering (mirrors the
// request's own channel_id=-1 in the Python original).
const registrationChannelID = pdu.UnassignedChannelID

const defaultPollInterval = 10 * time.Millisecond

type registrationRequest struct {
	ServiceName string `json:"service_name"`
	ClientName  string `json:"client_name"`
}

type registrationResponse struct {
	ServiceName       string         `json:"service_name"`
	ClientName        string         `json:"client_name"`
	ResultCode        pdu.ResultCode `json:"result_code"`
	ClientID          int32          `json:"client_id"`
	RequestChannelID  int32          `json:"request_channel_id"`
	ResponseChannelID int32          `json:"response_channel_id"`
}

// Handle is the allocation a client receives once registered.
type Handle struct {
	ClientID          int32
	RequestChannelID  int32
	ResponseChannelID int32
}

// Client drives one service/client registration's request/response
// lifecycle. Per §5, a Client enforces a single outstanding call: a
// second Call before the first completes returns ErrCallInProgress.
type Client struct {
	version   frame.Version
	transport transport.Transport
	buf       *pdubuf.CommunicationBuffer

	serviceName string
	clientName  string
	handle      Handle

	mu            sync.Mutex
	nextRequestID uint64
	lastRequestID uint64
	inFlight      bool
	requestBuffer []byte
	callStart     time.Time
	callTimeout   time.Duration
}

// New constructs a Client over an already-started transport and its
// buffer.
func New(version frame.Version, t transport.Transport, buf *pdubuf.CommunicationBuffer) *Client {
	return &Client{version: version, transport: t, buf: buf}
}

// Register sends a REGISTER_RPC_CLIENT request and blocks (bounded by
// timeout) until the server's reply arrives.
func (c *Client) Register(ctx context.Context, serviceName, clientName string, timeout time.Duration) (Handle, error) {
	c.serviceName = serviceName
	c.clientName = clientName

	body, err := json.Marshal(registrationRequest{ServiceName: serviceName, ClientName: clientName})
	if err != nil {
		return Handle{}, err
	}
	raw := frame.Encode(c.version, envelope.Packet{
		MetaRequestType: envelope.RegisterRPCClient,
		RobotName:       serviceName,
		ChannelID:       registrationChannelID,
	}, body)
	if !c.transport.SendBinary(raw) {
		return Handle{}, fmt.Errorf("%w: failed to send registration request", pdu.ErrTransport)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadlineCtx.Done():
			return Handle{}, fmt.Errorf("%w: registration timed out", pdu.ErrTransport)
		case <-ticker.C:
			raw, ok := c.buf.Get(serviceName, registrationChannelID)
			if !ok {
				continue
			}
			var resp registrationResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				logging.Warnf("rpc/client: malformed registration reply: %v", err)
				continue
			}
			if resp.ClientName != clientName {
				continue
			}
			if resp.ResultCode != pdu.ResultOK {
				return Handle{}, fmt.Errorf("%w: registration rejected with result_code %v", pdu.ErrTransport, resp.ResultCode)
			}
			c.handle = Handle{
				ClientID:          resp.ClientID,
				RequestChannelID:  resp.RequestChannelID,
				ResponseChannelID: resp.ResponseChannelID,
			}
			return c.handle, nil
		}
	}
}

// Call sends one request and blocks (bounded by timeoutMsec) until a
// response or cancel-confirmation arrives, or the timeout elapses.
// Returns ErrCallInProgress immediately if a prior Call on this Client
// has not yet completed — a client-local precondition (§5, §9 Open
// Question resolved against a silent BUSY wire round-trip).
func (c *Client) Call(ctx context.Context, body []byte, timeoutMsec int) ([]byte, pdu.ClientEvent, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, pdu.ClientEventNone, pdu.ErrCallInProgress
	}
	c.nextRequestID++
	requestID := c.nextRequestID
	c.inFlight = true
	c.callStart = time.Now()
	c.callTimeout = time.Duration(timeoutMsec) * time.Millisecond
	c.mu.Unlock()

	req := rpcwire.RequestEnvelope{
		Header: rpcwire.RequestHeader{
			RequestID:   requestID,
			ServiceName: c.serviceName,
			ClientName:  c.clientName,
			Opcode:      pdu.OpcodeRequest,
		},
		Body: body,
	}
	raw := frame.Encode(c.version, envelope.Packet{
		MetaRequestType: envelope.PduDataRPCRequest,
		RobotName:       c.serviceName,
		ChannelID:       c.handle.RequestChannelID,
	}, rpcwire.EncodeRequest(req))

	c.mu.Lock()
	c.requestBuffer = raw
	c.mu.Unlock()

	if !c.transport.SendBinary(raw) {
		c.clearInFlight()
		return nil, pdu.ClientEventNone, fmt.Errorf("%w: failed to send request", pdu.ErrTransport)
	}

	return c.pollUntilDone(ctx, requestID)
}

func (c *Client) pollUntilDone(ctx context.Context, requestID uint64) ([]byte, pdu.ClientEvent, error) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.clearInFlight()
			return nil, pdu.ClientEventNone, ctx.Err()
		case <-ticker.C:
			event, body, ok := c.tryCollectResponse(requestID)
			if !ok {
				if time.Since(c.callStart) > c.callTimeout {
					c.clearInFlight()
					return nil, pdu.ClientEventTimeout, nil
				}
				continue
			}
			return body, event, nil
		}
	}
}

func (c *Client) tryCollectResponse(requestID uint64) (pdu.ClientEvent, []byte, bool) {
	raw, ok := c.buf.Get(c.serviceName, c.handle.ResponseChannelID)
	if !ok {
		return pdu.ClientEventNone, nil, false
	}
	resp, err := rpcwire.DecodeResponse(raw)
	if err != nil {
		logging.Warnf("rpc/client: dropping malformed response: %v", err)
		return pdu.ClientEventNone, nil, false
	}
	if resp.Header.RequestID != requestID {
		logging.Debugf("%v: request_id %d != expected %d", pdu.ErrStaleResponse, resp.Header.RequestID, requestID)
		return pdu.ClientEventNone, nil, false
	}

	c.mu.Lock()
	c.lastRequestID = requestID
	c.mu.Unlock()
	c.clearInFlight()

	if resp.Header.ResultCode == pdu.ResultCanceled {
		return pdu.ClientEventCancelDone, resp.Body, true
	}
	return pdu.ClientEventResponseIn, resp.Body, true
}

// Cancel resends the last request buffer with its opcode flipped to
// CANCEL, grounded on cancel_request's clone-flip-resend shape.
func (c *Client) Cancel() bool {
	c.mu.Lock()
	raw := c.requestBuffer
	c.mu.Unlock()
	if raw == nil {
		return false
	}

	packet, err := frame.Decode(c.version, raw)
	if err != nil {
		return false
	}
	req, err := rpcwire.DecodeRequest(packet.Body)
	if err != nil {
		return false
	}
	req.Header.Opcode = pdu.OpcodeCancel
	req.Header.StatusPollIntervalMsec = -1

	cancelRaw := frame.Encode(c.version, envelope.Packet{
		MetaRequestType: envelope.PduDataRPCRequest,
		RobotName:       c.serviceName,
		ChannelID:       c.handle.RequestChannelID,
	}, rpcwire.EncodeRequest(req))

	c.mu.Lock()
	c.requestBuffer = cancelRaw
	c.mu.Unlock()

	return c.transport.SendBinary(cancelRaw)
}

func (c *Client) clearInFlight() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}
