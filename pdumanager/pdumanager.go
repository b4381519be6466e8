// Package pdumanager implements the PDU manager facade (§4.F): the
// single point through which application code declares channels,
// publishes topic data, and issues request/poll reads, regardless of
// which transport (WebSocket or shared memory) backs it.
//
// Grounded on _examples/original_source/src/pdu_manager.py, generalized
// from a class that owns a Python ICommunicationService into a struct
// that owns a transport.Transport — and on the teacher's "no package
// globals, everything is explicit construction" discipline
// (client.NewClient / server.NewServer take their dependencies as
// constructor arguments, never read package state).
package pdumanager

import (
	"context"
	"time"

	"hakoniwa-pdu-go/config"
	"hakoniwa-pdu-go/offsetmap"
	"hakoniwa-pdu-go/pdu/envelope"
	"hakoniwa-pdu-go/pdu/frame"
	"hakoniwa-pdu-go/pdubuf"
	"hakoniwa-pdu-go/transport"
)

// defaultPollInterval is the ticker cadence RequestPduRead uses while
// waiting for a reply, matching transport/shm's poll cadence so both
// backends present comparable latency.
const defaultPollInterval = 10 * time.Millisecond

// Manager is the facade application code drives: it owns a transport and
// a channel config, and mediates every PDU read/write/declare operation
// through the shared CommunicationBuffer.
type Manager struct {
	cfg       *config.ChannelConfig
	version   frame.Version
	transport transport.Transport
	buf       *pdubuf.CommunicationBuffer
}

// New constructs a Manager over an already-started transport and its
// buffer. version must match the wire version the transport was built
// with, since Manager encodes declare/request frames itself.
func New(cfg *config.ChannelConfig, version frame.Version, t transport.Transport, buf *pdubuf.CommunicationBuffer) *Manager {
	return &Manager{cfg: cfg, version: version, transport: t, buf: buf}
}

// MergeServiceConfig folds svcCfg's synthesised service and topic
// channels into cfg, realizing the §2 construction flow: "it loads the
// channel config, initialises services (merging synthesised channels),
// and starts the transport". Call this on cfg before passing it to New,
// so Manager's declare/publish/read calls see the merged channel table
// rather than svcCfg.BuildCompactPduDef/AppendPduDef sitting unused
// beside it.
//
// resolver is nil for externally-assigned (WS) mode, where the RPC
// server assigns req/res channel ids itself on registration and the
// service-synthesised entries only need their sizes (patched via
// offmap). Pass transport/shm.NewChannelIDResolver for broker-assigned
// (SHM) mode, so the merged channel table carries the conductor's actual
// channel ids.
func MergeServiceConfig(cfg *config.ChannelConfig, svcCfg *config.ServiceConfig, offmap offsetmap.OffsetMap, resolver config.ChannelIDResolver) {
	svcCfg.PatchServiceBaseSize(offmap)
	merged := svcCfg.AppendPduDef(cfg.GetPduDef(), offmap, resolver)
	cfg.UpdatePduDef(merged)
}

// DeclarePduForRead sends the self-describing "declare for read" sentinel
// frame for (robotName, pduName), per §4.B/§4.F.
func (m *Manager) DeclarePduForRead(robotName, pduName string) bool {
	return m.declare(robotName, pduName, envelope.DeclarePduForRead, true)
}

// DeclarePduForWrite sends the self-describing "declare for write"
// sentinel frame for (robotName, pduName).
func (m *Manager) DeclarePduForWrite(robotName, pduName string) bool {
	return m.declare(robotName, pduName, envelope.DeclarePduForWrite, false)
}

// DeclarePduForReadWrite declares both directions for (robotName, pduName).
func (m *Manager) DeclarePduForReadWrite(robotName, pduName string) bool {
	read := m.DeclarePduForRead(robotName, pduName)
	write := m.DeclarePduForWrite(robotName, pduName)
	return read && write
}

func (m *Manager) declare(robotName, pduName string, metaType envelope.MetaRequestType, isRead bool) bool {
	channelID := int32(m.cfg.GetPduChannelID(robotName, pduName))
	raw := frame.Encode(m.version, envelope.Packet{
		MetaRequestType: metaType,
		RobotName:       robotName,
		ChannelID:       channelID,
	}, envelope.SentinelBody(isRead))
	return m.transport.SendBinary(raw)
}

// PublishPdu writes body to (robotName, pduName)'s assigned channel as a
// PDU_DATA frame.
func (m *Manager) PublishPdu(robotName, pduName string, body []byte) bool {
	channelID := int32(m.cfg.GetPduChannelID(robotName, pduName))
	return m.transport.SendData(robotName, channelID, body)
}

// ReadPduRawData returns the most recently buffered value for
// (robotName, pduName) without blocking.
func (m *Manager) ReadPduRawData(robotName, pduName string) ([]byte, bool) {
	channelID := int32(m.cfg.GetPduChannelID(robotName, pduName))
	return m.buf.Peek(robotName, channelID)
}

// RequestPduRead sends a REQUEST_PDU_READ sentinel for (robotName,
// pduName) and then polls the communication buffer until a value
// appears or timeout elapses, matching §4.F's request-then-poll
// description.
func (m *Manager) RequestPduRead(ctx context.Context, robotName, pduName string, timeout time.Duration) ([]byte, bool) {
	channelID := int32(m.cfg.GetPduChannelID(robotName, pduName))

	raw := frame.Encode(m.version, envelope.Packet{
		MetaRequestType: envelope.RequestPduRead,
		RobotName:       robotName,
		ChannelID:       channelID,
	}, envelope.SentinelBody(true))
	if !m.transport.SendBinary(raw) {
		return nil, false
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadlineCtx.Done():
			return nil, false
		case <-ticker.C:
			if body, ok := m.buf.Peek(robotName, channelID); ok {
				return body, true
			}
		}
	}
}
