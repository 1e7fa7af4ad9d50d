package netcore

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerID is the stable identifier of a remote peer.
type PeerID = peer.ID

// ConnectionID identifies one transport connection to a peer. Multiple
// connections to the same peer are possible; IDs are unique process-wide.
type ConnectionID uint64

// SubstreamID identifies one inbound request's substream within a
// connection. Unique only within the connection that issued it.
type SubstreamID uint64

// PeerRequestID addresses an inbound request so its response can be routed
// back to the exact substream that asked for it.
type PeerRequestID struct {
	Conn ConnectionID
	Sub  SubstreamID
}

func (id PeerRequestID) String() string {
	return fmt.Sprintf("(conn=%d, sub=%d)", id.Conn, id.Sub)
}

// RequestID is an application-chosen identifier for an outbound request.
// The zero value is never produced by NextRequestID; callers compare against
// BehaviourRequestID to detect internally-originated requests.
type RequestID uint64

// BehaviourRequestID is the reserved sentinel marking a request the core
// issued to itself (e.g. the automatic MetaData request on connect, or a
// peer-manager-driven Ping/Goodbye). Responses and failures carrying this
// id are never surfaced as public events.
const BehaviourRequestID RequestID = 0

// IsBehaviour reports whether id is the internal sentinel.
func (id RequestID) IsBehaviour() bool {
	return id == BehaviourRequestID
}

// requestIDAllocator hands out monotonically increasing application-visible
// RequestIDs, skipping the sentinel value.
type requestIDAllocator struct {
	next RequestID
}

func newRequestIDAllocator() *requestIDAllocator {
	return &requestIDAllocator{next: BehaviourRequestID + 1}
}

func (a *requestIDAllocator) Next() RequestID {
	id := a.next
	a.next++
	if a.next == BehaviourRequestID {
		a.next++
	}
	return id
}
