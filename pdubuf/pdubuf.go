// Package pdubuf implements the communication buffer (§4.C): the single
// cross-goroutine handoff point between a transport's read loop and the
// PDU manager / RPC core that consumes packets.
//
// Grounded on the teacher's single-coarse-lock discipline
// (client/client.go's Client.mu, transport/pool.go's Pool.mu): one
// sync.RWMutex guards both maps; no per-key locking.
package pdubuf

import (
	"sync"

	"hakoniwa-pdu-go/pdu/envelope"
)

type topicKey struct {
	robot     string
	channelID int32
}

type mailboxKey struct {
	robot     string
	channelID int32
}

// CommunicationBuffer routes decoded packets into one of two shapes:
// topic data (latest-value, overwritten on every PutPacket) or RPC
// mailboxes (FIFO, append on PutPacket, pop-front on Get).
type CommunicationBuffer struct {
	mu sync.RWMutex

	topicBuffers map[topicKey][]byte
	rpcMailboxes map[mailboxKey][][]byte
}

// New returns an empty CommunicationBuffer.
func New() *CommunicationBuffer {
	return &CommunicationBuffer{
		topicBuffers: make(map[topicKey][]byte),
		rpcMailboxes: make(map[mailboxKey][][]byte),
	}
}

// isMailboxType reports whether a meta_request_type's body belongs in the
// FIFO RPC mailbox rather than the latest-value topic buffer.
func isMailboxType(t envelope.MetaRequestType) bool {
	return t == envelope.PduDataRPCRequest || t == envelope.PduDataRPCReply
}

// PutPacket routes p into the topic buffer or the matching RPC mailbox,
// per its MetaRequestType.
func (b *CommunicationBuffer) PutPacket(p envelope.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if isMailboxType(p.MetaRequestType) {
		key := mailboxKey{p.RobotName, p.ChannelID}
		b.rpcMailboxes[key] = append(b.rpcMailboxes[key], p.Body)
		return
	}
	key := topicKey{p.RobotName, p.ChannelID}
	b.topicBuffers[key] = p.Body
}

// Peek returns the current topic value for (robot, channelID) without
// removing it.
func (b *CommunicationBuffer) Peek(robot string, channelID int32) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	body, ok := b.topicBuffers[topicKey{robot, channelID}]
	return body, ok
}

// Contains reports whether a topic value is currently buffered for
// (robot, channelID).
func (b *CommunicationBuffer) Contains(robot string, channelID int32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.topicBuffers[topicKey{robot, channelID}]
	return ok
}

// Get pops and returns the oldest queued mailbox entry for
// (robot, channelID), removing exactly that one entry.
func (b *CommunicationBuffer) Get(robot string, channelID int32) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := mailboxKey{robot, channelID}
	queue := b.rpcMailboxes[key]
	if len(queue) == 0 {
		return nil, false
	}
	body := queue[0]
	remaining := queue[1:]
	if len(remaining) == 0 {
		delete(b.rpcMailboxes, key)
	} else {
		b.rpcMailboxes[key] = remaining
	}
	return body, true
}

// MailboxLen reports how many entries are queued for (robot, channelID) —
// used by callers (e.g. rpc/server.PollRequest) that must check
// non-emptiness without consuming the entry.
func (b *CommunicationBuffer) MailboxLen(robot string, channelID int32) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rpcMailboxes[mailboxKey{robot, channelID}])
}

// PeekMailbox returns the oldest queued mailbox entry for
// (robot, channelID) without removing it — used by PollRequest to decode
// a request's header (to detect a cancel opcode) before GetRequest
// consumes it.
func (b *CommunicationBuffer) PeekMailbox(robot string, channelID int32) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	queue := b.rpcMailboxes[mailboxKey{robot, channelID}]
	if len(queue) == 0 {
		return nil, false
	}
	return queue[0], true
}
