// Package wsclient implements the WebSocket client transport (§4.D):
// one *websocket.Conn, a dedicated read-loop goroutine, and a write mutex
// serializing outbound frames — mirroring the teacher's
// transport.ClientTransport (recvLoop + sending mutex), generalized from
// a multiplexed TCP byte stream to one WebSocket binary message per
// frame.
package wsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"hakoniwa-pdu-go/internal/logging"
	"hakoniwa-pdu-go/pdu"
	"hakoniwa-pdu-go/pdu/envelope"
	"hakoniwa-pdu-go/pdu/frame"
	"hakoniwa-pdu-go/pdubuf"
)

// Client is a WebSocket transport.Transport implementation. It does not
// attempt automatic reconnection (§9 Open Question resolved "no" —
// callers must re-register after a connection loss).
type Client struct {
	version frame.Version

	conn    *websocket.Conn
	sending sync.Mutex // serializes writes, mirrors ClientTransport.sending

	buf     *pdubuf.CommunicationBuffer
	handler func(envelope.Packet)

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Client using the given wire version. version selects
// which frame.Encode/Decode shape is used for every message on this
// connection.
func New(version frame.Version) *Client {
	return &Client{version: version}
}

// Start dials uri and launches the read loop.
func (c *Client) Start(ctx context.Context, buf *pdubuf.CommunicationBuffer, uri string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", pdu.ErrTransport, uri, err)
	}
	c.conn = conn
	c.buf = buf

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.recvLoop(loopCtx)

	return nil
}

// recvLoop runs in its own goroutine, continuously reading frames off the
// connection and routing them into the buffer (and, if registered, the
// event handler). A read error ends the loop — per §9, no reconnection
// is attempted.
func (c *Client) recvLoop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			logging.Debugf("wsclient: read loop ending: %v", err)
			return
		}
		packet, err := frame.Decode(c.version, raw)
		if err != nil {
			logging.Debugf("wsclient: dropping malformed frame: %v", err)
			continue
		}
		c.buf.PutPacket(packet)
		if c.handler != nil {
			c.handler(packet)
		}
	}
}

// Stop closes the connection and stops the read loop.
func (c *Client) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if c.done != nil {
		<-c.done
	}
	return err
}

// SendBinary writes a raw, already-encoded frame. Per §7, a failed send
// never propagates as an error to the caller — it collapses to false.
func (c *Client) SendBinary(raw []byte) bool {
	c.sending.Lock()
	defer c.sending.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		logging.Debugf("wsclient: send failed: %v", err)
		return false
	}
	return true
}

// SendData encodes a PDU_DATA frame for (robot, channelID) and sends it.
func (c *Client) SendData(robot string, channelID int32, body []byte) bool {
	raw := frame.Encode(c.version, envelope.Packet{
		MetaRequestType: envelope.PduData,
		RobotName:       robot,
		ChannelID:       channelID,
	}, body)
	return c.SendBinary(raw)
}

// RegisterEventHandler installs a callback invoked for every decoded
// packet, alongside the packet being routed into the buffer.
func (c *Client) RegisterEventHandler(handler func(envelope.Packet)) {
	c.handler = handler
}
