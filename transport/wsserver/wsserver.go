// Package wsserver implements the server-side WebSocket transport
// (§4.D). It keeps a sessions map keyed by remote address, mirroring the
// teacher's serviceMap-keyed-by-name shape in server/server.go. Every
// inbound connection is accepted and gets its own session; there is no
// single-connection limit, and SendBinary/SendData write to every open
// session.
package wsserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"hakoniwa-pdu-go/internal/logging"
	"hakoniwa-pdu-go/pdu"
	"hakoniwa-pdu-go/pdu/envelope"
	"hakoniwa-pdu-go/pdu/frame"
	"hakoniwa-pdu-go/pdubuf"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type session struct {
	conn    *websocket.Conn
	sending sync.Mutex
}

// Server is a WebSocket transport.Transport implementation that listens
// for inbound connections rather than dialing out.
type Server struct {
	version frame.Version

	mu       sync.RWMutex
	sessions map[string]*session

	buf     *pdubuf.CommunicationBuffer
	handler func(envelope.Packet)

	httpServer *http.Server
}

// New constructs a Server using the given wire version.
func New(version frame.Version) *Server {
	return &Server{version: version, sessions: make(map[string]*session)}
}

// Start begins listening on uri's host:port, upgrading every inbound
// connection at "/" to WebSocket.
func (s *Server) Start(ctx context.Context, buf *pdubuf.CommunicationBuffer, uri string) error {
	s.buf = buf

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Addr: uri, Handler: mux}

	ln, err := net.Listen("tcp", uri)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", pdu.ErrTransport, uri, err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Errorf("wsserver: serve ended: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("wsserver: upgrade failed: %v", err)
		return
	}
	sess := &session{conn: conn}
	key := r.RemoteAddr

	s.mu.Lock()
	s.sessions[key] = sess
	s.mu.Unlock()

	s.recvLoop(key, sess)
}

// recvLoop reads frames from one session until the connection breaks.
// Unknown meta_request_type closes the connection, mirroring
// _receive_loop_v2's "else: raise ValueError" behaviour.
func (s *Server) recvLoop(key string, sess *session) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, key)
		s.mu.Unlock()
		sess.conn.Close()
	}()

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			logging.Debugf("wsserver: session %s read loop ending: %v", key, err)
			return
		}
		packet, err := frame.Decode(s.version, raw)
		if err != nil {
			logging.Warnf("wsserver: session %s closing on malformed frame: %v", key, err)
			return
		}
		s.buf.PutPacket(packet)
		if s.handler != nil {
			s.handler(packet)
		}
	}
}

// Stop closes every open session and the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	for key, sess := range s.sessions {
		sess.conn.Close()
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// SendBinary writes raw to every currently connected session.
func (s *Server) SendBinary(raw []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sessions) == 0 {
		return false
	}
	ok := true
	for _, sess := range s.sessions {
		sess.sending.Lock()
		if err := sess.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
			ok = false
		}
		sess.sending.Unlock()
	}
	return ok
}

// SendData encodes a PDU_DATA frame for (robot, channelID) and broadcasts
// it to every connected session.
func (s *Server) SendData(robot string, channelID int32, body []byte) bool {
	raw := frame.Encode(s.version, envelope.Packet{
		MetaRequestType: envelope.PduData,
		RobotName:       robot,
		ChannelID:       channelID,
	}, body)
	return s.SendBinary(raw)
}

// RegisterEventHandler installs a callback invoked for every decoded
// packet, across all sessions.
func (s *Server) RegisterEventHandler(handler func(envelope.Packet)) {
	s.handler = handler
}
