package netcore

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// rpcProtocolID is the stream protocol this core negotiates for RPC
// substreams. Framing on top of it (length-prefixed SSZ/snappy, as the
// original implementation uses) is an embedder concern — see SPEC_FULL.md
// §9.2 — so Encoder below defaults to a plain JSON envelope.
const rpcProtocolID protocol.ID = "/netcore/rpc/1.0.0"

// Encoder performs the wire-level byte encode a StreamConn delegates;
// framing itself is out of this core's scope.
type Encoder interface {
	Encode(RPCSend) ([]byte, error)
}

// jsonEncoder is the default Encoder: a plain JSON envelope, adequate for
// a core with no SSZ encoder of its own (SPEC_FULL.md §9.2). An embedder
// that needs wire compatibility with a real SSZ/snappy peer supplies its
// own Encoder to StreamConn.
type jsonEncoder struct{}

func (jsonEncoder) Encode(send RPCSend) ([]byte, error) { return json.Marshal(send) }

// StreamConn is the concrete, libp2p-backed StreamWriter: it opens real
// network.Stream substreams via host.NewStream, accepts inbound ones via
// host.SetStreamHandler, and performs best-effort writes/closes on behalf
// of a CompositeHandler. Decoding inbound bytes back into an RPCRequest
// and calling Composite.OnStreamEvent remains the embedder's job (see the
// InboundHandler hook), consistent with the wire-codec Non-goal.
type StreamConn struct {
	host    host.Host
	encoder Encoder
	log     *slog.Logger

	mu      sync.Mutex
	streams map[SubstreamID]network.Stream
	nextSub atomic.Uint64

	inboundMu sync.RWMutex
	inbound   func(peer PeerID, conn ConnectionID, sub SubstreamID, s network.Stream)
}

func NewStreamConn(h host.Host, enc Encoder, log *slog.Logger) *StreamConn {
	if enc == nil {
		enc = jsonEncoder{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &StreamConn{
		host:    h,
		encoder: enc,
		log:     log.With("component", "streamconn"),
		streams: make(map[SubstreamID]network.Stream),
	}
}

// SetInboundHandler installs the callback invoked for every newly
// accepted inbound substream, after CompositeHandler bookkeeping has
// already registered it.
func (sc *StreamConn) SetInboundHandler(fn func(peer PeerID, conn ConnectionID, sub SubstreamID, s network.Stream)) {
	sc.inboundMu.Lock()
	sc.inbound = fn
	sc.inboundMu.Unlock()
}

// Listen registers the RPC protocol's inbound stream handler with the
// host, tracking every accepted stream against handler before handing it
// to the embedder's inbound callback, if any.
func (sc *StreamConn) Listen(handler *CompositeHandler) {
	sc.host.SetStreamHandler(rpcProtocolID, func(s network.Stream) {
		peer := s.Conn().RemotePeer()
		conn := connIDFromConn(s.Conn())
		sub := SubstreamID(sc.nextSub.Add(1))

		sc.mu.Lock()
		sc.streams[sub] = s
		sc.mu.Unlock()

		handler.OpenConnection(peer, conn)
		handler.OpenSubstream(conn, sub)

		sc.inboundMu.RLock()
		fn := sc.inbound
		sc.inboundMu.RUnlock()
		if fn != nil {
			fn(peer, conn, sub, s)
		}
	})
}

// NotifyDisconnected tells handler that conn's underlying transport
// connection went away, clearing its bookkeeping; wired to
// network.Notifiee's DisconnectedF by the composite driver.
func (sc *StreamConn) NotifyDisconnected(handler *CompositeHandler, c network.Conn) {
	handler.CloseConnection(connIDFromConn(c))
}

// OpenSubstream opens a fresh outbound substream to peer; the transport
// picks which live connection it rides on.
func (sc *StreamConn) OpenSubstream(peer PeerID) (ConnectionID, SubstreamID, error) {
	s, err := sc.host.NewStream(context.Background(), peer, rpcProtocolID)
	if err != nil {
		return 0, 0, err
	}
	conn := connIDFromConn(s.Conn())
	sub := SubstreamID(sc.nextSub.Add(1))
	sc.mu.Lock()
	sc.streams[sub] = s
	sc.mu.Unlock()
	return conn, sub, nil
}

// WriteRequest encodes and writes send on the already-open substream sub.
func (sc *StreamConn) WriteRequest(conn ConnectionID, sub SubstreamID, send RPCSend) error {
	sc.mu.Lock()
	s, ok := sc.streams[sub]
	sc.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no open substream %d on conn %d", ErrUnknownPeer, sub, conn)
	}
	data, err := sc.encoder.Encode(send)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	_, err = s.Write(data)
	return err
}

// CloseSubstream transitions sub toward closing and drops it from the
// local stream table. Best-effort: the peer may already be gone.
func (sc *StreamConn) CloseSubstream(conn ConnectionID, sub SubstreamID) error {
	sc.mu.Lock()
	s, ok := sc.streams[sub]
	delete(sc.streams, sub)
	sc.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// connIDFromConn derives a stable ConnectionID from a libp2p network.Conn's
// own stat ID, so repeated streams on the same underlying connection map
// to the same ConnectionID.
func connIDFromConn(c network.Conn) ConnectionID {
	h := fnv.New64a()
	h.Write([]byte(c.ID()))
	return ConnectionID(h.Sum64())
}
