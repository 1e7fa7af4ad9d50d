package netcore

import (
	"log/slog"
	"sync"
)

// StreamWriter is the small interface CompositeHandler delegates the
// actual byte-level work to. The wire codec itself (SSZ/snappy framing)
// is out of this core's scope (see SPEC_FULL.md §9.2); only these three
// verbs are needed to drive the shutdown choreography and outbound sends.
type StreamWriter interface {
	// OpenSubstream opens a fresh outbound substream to peer and reports
	// which connection it landed on; the transport picks the connection,
	// matching TargetAny's "any live connection" semantics.
	OpenSubstream(peer PeerID) (ConnectionID, SubstreamID, error)
	// WriteRequest encodes and writes send on the named substream.
	WriteRequest(conn ConnectionID, sub SubstreamID, send RPCSend) error
	// CloseSubstream transitions sub toward closing. Best-effort: the
	// peer may already be gone.
	CloseSubstream(conn ConnectionID, sub SubstreamID) error
}

// CompositeHandler is the §4.1 per-connection handler component: it
// tracks which substreams are live on each connection and performs the
// Shutdown choreography spec.md §4.1 requires — attempt to send the final
// request on every substream in scope, then transition every one of them
// toward closing, absorbing failures silently since the peer may already
// be gone. Byte encode/write is delegated to a StreamWriter; bookkeeping
// and choreography live here.
type CompositeHandler struct {
	mu sync.Mutex

	// substreams is every live substream tracked per connection.
	substreams map[ConnectionID]map[SubstreamID]struct{}
	// peerConns resolves Any/All targets to the connections a peer
	// currently has open.
	peerConns map[PeerID]map[ConnectionID]struct{}
	connPeer  map[ConnectionID]PeerID

	writer StreamWriter
	log    *slog.Logger
}

func NewCompositeHandler(writer StreamWriter, log *slog.Logger) *CompositeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CompositeHandler{
		substreams: make(map[ConnectionID]map[SubstreamID]struct{}),
		peerConns:  make(map[PeerID]map[ConnectionID]struct{}),
		connPeer:   make(map[ConnectionID]PeerID),
		writer:     writer,
		log:        log.With("component", "compositehandler"),
	}
}

// OpenConnection registers conn as live for peer. Idempotent.
func (h *CompositeHandler) OpenConnection(peer PeerID, conn ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openConnectionLocked(peer, conn)
}

func (h *CompositeHandler) openConnectionLocked(peer PeerID, conn ConnectionID) {
	if _, ok := h.peerConns[peer]; !ok {
		h.peerConns[peer] = make(map[ConnectionID]struct{})
	}
	h.peerConns[peer][conn] = struct{}{}
	h.connPeer[conn] = peer
	if _, ok := h.substreams[conn]; !ok {
		h.substreams[conn] = make(map[SubstreamID]struct{})
	}
}

// CloseConnection drops all bookkeeping for conn; call this when the
// underlying transport connection itself goes away.
func (h *CompositeHandler) CloseConnection(conn ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peer, ok := h.connPeer[conn]; ok {
		delete(h.peerConns[peer], conn)
		if len(h.peerConns[peer]) == 0 {
			delete(h.peerConns, peer)
		}
	}
	delete(h.connPeer, conn)
	delete(h.substreams, conn)
}

// OpenSubstream registers sub as live on conn. Idempotent.
func (h *CompositeHandler) OpenSubstream(conn ConnectionID, sub SubstreamID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.substreams[conn]; !ok {
		h.substreams[conn] = make(map[SubstreamID]struct{})
	}
	h.substreams[conn][sub] = struct{}{}
}

// CloseSubstream drops bookkeeping for a substream that closed on its own
// (reset, EOF) without going through the Shutdown choreography.
func (h *CompositeHandler) CloseSubstream(conn ConnectionID, sub SubstreamID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.substreams[conn], sub)
}

// LiveSubstreams returns a snapshot of the substream IDs tracked open on
// conn.
func (h *CompositeHandler) LiveSubstreams(conn ConnectionID) []SubstreamID {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]SubstreamID, 0, len(h.substreams[conn]))
	for s := range h.substreams[conn] {
		subs = append(subs, s)
	}
	return subs
}

func (h *CompositeHandler) connsInScope(peer PeerID, target HandlerTarget) []ConnectionID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if target.IsOne() {
		return []ConnectionID{target.Conn()}
	}
	conns := make([]ConnectionID, 0, len(h.peerConns[peer]))
	for c := range h.peerConns[peer] {
		conns = append(conns, c)
		if target.IsAny() {
			break
		}
	}
	return conns
}

func (h *CompositeHandler) substreamsOf(conn ConnectionID) []SubstreamID {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]SubstreamID, 0, len(h.substreams[conn]))
	for s := range h.substreams[conn] {
		subs = append(subs, s)
	}
	return subs
}

// Apply drives the substream choreography for one NotifyHandler action's
// payload: a bare RPCSend is routed to the handler glue (opening a fresh
// substream for a new outbound request, or writing a response chunk on
// the substream it was pinned to); a CompositeInput carrying the Shutdown
// variant sends the final request, if any, on every substream in scope,
// then closes every one of them. Failures are logged and absorbed.
func (h *CompositeHandler) Apply(peer PeerID, target HandlerTarget, payload any) {
	switch p := payload.(type) {
	case RPCSend:
		h.applySend(peer, target, p)
	case CompositeInput:
		if p.IsShutdown {
			h.applyShutdown(peer, target, p.FinalRequest)
		}
		// The Delegate variant carries no substream bookkeeping of its
		// own; routing a delegated payload to its sub-handler is the
		// embedder's stream-codec glue.
	}
}

func (h *CompositeHandler) applySend(peer PeerID, target HandlerTarget, send RPCSend) {
	if send.IsResponse {
		conn := target.Conn()
		if err := h.writer.WriteRequest(conn, send.SubstreamID, send); err != nil {
			h.log.Debug("write response failed", "peer", peer, "conn", conn, "sub", send.SubstreamID, "err", err)
		}
		return
	}
	conn, sub, err := h.writer.OpenSubstream(peer)
	if err != nil {
		h.log.Debug("open substream failed", "peer", peer, "err", err)
		return
	}
	h.OpenConnection(peer, conn)
	h.OpenSubstream(conn, sub)
	if err := h.writer.WriteRequest(conn, sub, send); err != nil {
		h.log.Debug("write request failed", "peer", peer, "conn", conn, "sub", sub, "err", err)
	}
}

func (h *CompositeHandler) applyShutdown(peer PeerID, target HandlerTarget, final *RPCSend) {
	for _, conn := range h.connsInScope(peer, target) {
		subs := h.substreamsOf(conn)

		if final != nil {
			for _, sub := range subs {
				send := *final
				send.SubstreamID = sub
				if err := h.writer.WriteRequest(conn, sub, send); err != nil {
					h.log.Debug("final request failed", "peer", peer, "conn", conn, "sub", sub, "err", err)
				}
			}
		}
		for _, sub := range subs {
			if err := h.writer.CloseSubstream(conn, sub); err != nil {
				h.log.Debug("close substream failed", "peer", peer, "conn", conn, "sub", sub, "err", err)
			}
			h.CloseSubstream(conn, sub)
		}
	}
}
