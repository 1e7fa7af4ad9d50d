package netcore

import (
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// MaxIdentifyAddresses bounds the listen-address list carried by an
// identify result; lists longer than this are truncated in place.
const MaxIdentifyAddresses = 10

// identifiedPeer is what the identify adapter hands to the peer manager:
// the peer and its truncated address list. onIdentified leaves
// AgentVersion empty.
type identifiedPeer struct {
	Peer         PeerID
	ListenAddrs  []ma.Multiaddr
	AgentVersion string
}

// identifyBehaviour consumes identify results from the host's identify
// service event bus and forwards peer info to the peer manager, truncating
// address lists to MaxIdentifyAddresses. Sent and Error identify events
// are ignored, matching spec.md §4.4.
type identifyBehaviour struct {
	host host.Host
	pm   *PeerManager
	log  *slog.Logger

	mu     sync.Mutex
	events *queue[Action]
}

func newIdentifyBehaviour(h host.Host, pm *PeerManager, log *slog.Logger) *identifyBehaviour {
	return &identifyBehaviour{
		host:   h,
		pm:     pm,
		log:    log.With("component", "identify"),
		events: newQueue[Action](),
	}
}

// watch subscribes to the host's identify-completed event and runs until
// done is closed. Composite.Start runs it on its own goroutine.
func (ib *identifyBehaviour) watch(done <-chan struct{}) {
	sub, err := ib.host.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		ib.log.Error("identify event bus subscribe failed", "error", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Out():
			if !ok {
				return
			}
			e := evt.(event.EvtPeerIdentificationCompleted)
			ib.onIdentified(e.Peer, e.ListenAddrs)
		}
	}
}

func (ib *identifyBehaviour) onIdentified(p peer.ID, addrs []ma.Multiaddr) {
	if len(addrs) > MaxIdentifyAddresses {
		addrs = addrs[:MaxIdentifyAddresses]
	}
	ib.pm.onIdentified(identifiedPeer{Peer: p, ListenAddrs: addrs})
}

// Poll drains one queued action, or reports Pending. The identify adapter
// itself never generates outward actions in the current design (it only
// pushes into the peer manager), but Poll is kept to satisfy the uniform
// sub-behaviour shape the composite driver polls in order.
func (ib *identifyBehaviour) Poll() (Action, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.events.Pop()
}
