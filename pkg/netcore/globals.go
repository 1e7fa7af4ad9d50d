package netcore

import (
	"sync"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"
)

// PeerInfo is the peer table's per-peer record, read through
// NetworkGlobals.PeerInfo. The table is written only through its
// unexported update helper; neither the identify adapter nor the
// connection-lifecycle paths call it, so no record is filled in by them.
type PeerInfo struct {
	Client        string
	AgentVersion  string
	Connected     bool
	ListenAddrs   []ma.Multiaddr
	ForkDigest    [4]byte
	HasForkDigest bool
}

// peerTable is a minimal, core-owned stand-in for the full peer database
// that a real embedder would supply. It carries only what the composite
// driver and identify adapter need to read and write.
type peerTable struct {
	mu    sync.RWMutex
	peers map[PeerID]*PeerInfo
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[PeerID]*PeerInfo)}
}

func (t *peerTable) get(id PeerID) (PeerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

func (t *peerTable) update(id PeerID, fn func(*PeerInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		p = &PeerInfo{}
		t.peers[id] = p
	}
	fn(p)
}

func (t *peerTable) connectedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.peers {
		if p.Connected {
			n++
		}
	}
	return n
}

// NetworkGlobals is the process-wide, read-mostly record shared between the
// core and the embedder: local identity, fork digest, current metadata and
// ping payload, listening addresses, TCP/UDP ports, the peer table, and the
// gossip subscription set. Fields are individually guarded: single-writer
// locks protect the subscription set, metadata, ping payload, peer table,
// and listen-address list; port fields use atomics with relaxed ordering
// since they are monotonic after bind. The core writes only to the
// subscription set (via the gossip adapter); the fork digest, metadata,
// ping payload, listen addresses and ports are written by the embedder
// through the setters below. The peer table has no exported writer.
type NetworkGlobals struct {
	localPeerID PeerID

	mu          sync.RWMutex
	forkDigest  [4]byte
	metadata    []byte
	pingData    []byte
	listenAddrs []ma.Multiaddr

	subsMu sync.RWMutex
	subs   map[GossipTopic]struct{}

	tcpPort atomic.Uint32
	udpPort atomic.Uint32

	peers *peerTable
}

// NewNetworkGlobals constructs NetworkGlobals for a node whose local peer
// ID is known at startup (the embedder owns identity generation).
func NewNetworkGlobals(localPeerID PeerID, metadata, pingData []byte, tcpPort, udpPort uint16) *NetworkGlobals {
	g := &NetworkGlobals{
		localPeerID: localPeerID,
		metadata:    append([]byte(nil), metadata...),
		pingData:    append([]byte(nil), pingData...),
		subs:        make(map[GossipTopic]struct{}),
		peers:       newPeerTable(),
	}
	g.tcpPort.Store(uint32(tcpPort))
	g.udpPort.Store(uint32(udpPort))
	return g
}

func (g *NetworkGlobals) LocalPeerID() PeerID { return g.localPeerID }

func (g *NetworkGlobals) ForkDigest() [4]byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.forkDigest
}

func (g *NetworkGlobals) SetForkDigest(d [4]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forkDigest = d
}

func (g *NetworkGlobals) Metadata() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]byte(nil), g.metadata...)
}

func (g *NetworkGlobals) SetMetadata(b []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metadata = append([]byte(nil), b...)
}

func (g *NetworkGlobals) PingData() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]byte(nil), g.pingData...)
}

func (g *NetworkGlobals) SetPingData(b []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pingData = append([]byte(nil), b...)
}

func (g *NetworkGlobals) ListenAddrs() []ma.Multiaddr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ma.Multiaddr, len(g.listenAddrs))
	copy(out, g.listenAddrs)
	return out
}

func (g *NetworkGlobals) SetListenAddrs(addrs []ma.Multiaddr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listenAddrs = append([]ma.Multiaddr(nil), addrs...)
}

func (g *NetworkGlobals) ListenPortTCP() uint16 { return uint16(g.tcpPort.Load()) }
func (g *NetworkGlobals) ListenPortUDP() uint16 { return uint16(g.udpPort.Load()) }

func (g *NetworkGlobals) SetListenPortTCP(p uint16) { g.tcpPort.Store(uint32(p)) }
func (g *NetworkGlobals) SetListenPortUDP(p uint16) { g.udpPort.Store(uint32(p)) }

// Subscriptions returns a snapshot of the current gossip subscription set.
func (g *NetworkGlobals) Subscriptions() []GossipTopic {
	g.subsMu.RLock()
	defer g.subsMu.RUnlock()
	out := make([]GossipTopic, 0, len(g.subs))
	for t := range g.subs {
		out = append(out, t)
	}
	return out
}

// IsSubscribed reports whether topic is in the local subscription set.
func (g *NetworkGlobals) IsSubscribed(topic GossipTopic) bool {
	g.subsMu.RLock()
	defer g.subsMu.RUnlock()
	_, ok := g.subs[topic]
	return ok
}

func (g *NetworkGlobals) addSubscription(topic GossipTopic) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	g.subs[topic] = struct{}{}
}

func (g *NetworkGlobals) removeSubscription(topic GossipTopic) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	delete(g.subs, topic)
}

// PeerInfo returns the peer table's record for id, if any.
func (g *NetworkGlobals) PeerInfo(id PeerID) (PeerInfo, bool) {
	return g.peers.get(id)
}

func (g *NetworkGlobals) ConnectedPeers() int {
	return g.peers.connectedCount()
}
