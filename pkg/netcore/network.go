package netcore

import (
	"context"
	"fmt"
	"log/slog"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"
)

// Network wires an already-constructed libp2p host and pubsub instance
// into a Composite. Transport, listener, and cryptographic identity setup
// are the embedder's responsibility (see SPEC_FULL.md Non-goals); Network
// only owns the composite behaviour and its lifecycle.
type Network struct {
	host      host.Host
	composite *Composite
	ctx       context.Context
	cancel    context.CancelFunc
}

// Options configures New.
type Options struct {
	Metadata   []byte
	PingData   []byte
	ForkDigest [4]byte
	TCPPort    uint16
	UDPPort    uint16
	Metrics    *Metrics
	Log        *slog.Logger
}

// New builds a Network from an already-constructed libp2p host and pubsub
// instance.
func New(h host.Host, ps *pubsub.PubSub, opts Options) (*Network, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: host is nil", ErrConstructionFailed)
	}
	if ps == nil {
		return nil, fmt.Errorf("%w: pubsub is nil", ErrConstructionFailed)
	}

	globals := NewNetworkGlobals(h.ID(), opts.Metadata, opts.PingData, opts.TCPPort, opts.UDPPort)
	globals.SetForkDigest(opts.ForkDigest)
	globals.SetListenAddrs(h.Addrs())

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	composite, err := NewComposite(h, ps, globals, opts.Metrics, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Network{
		host:      h,
		composite: composite,
		ctx:       ctx,
		cancel:    cancel,
	}
	return n, nil
}

// Start launches the composite's background loops (peer manager, identify
// watcher). The returned Network's Composite must then be driven by Run or
// repeated Poll calls, typically on its own goroutine.
func (n *Network) Start() {
	n.composite.Start(n.ctx)
}

// Host returns the underlying libp2p host.
func (n *Network) Host() host.Host { return n.host }

// PeerID returns the peer ID of this network node.
func (n *Network) PeerID() peer.ID { return n.host.ID() }

// Composite returns the composed network-behaviour core.
func (n *Network) Composite() *Composite { return n.composite }

// AddRelayAddressesForPeer adds relay circuit addresses for a target peer
// to the peerstore, allowing dials to reach it through a relay.
func (n *Network) AddRelayAddressesForPeer(relayAddrs []string, targetPeerID peer.ID) error {
	for _, relayAddr := range relayAddrs {
		circuitAddr := relayAddr + "/p2p-circuit/p2p/" + targetPeerID.String()
		addrInfo, err := peer.AddrInfoFromString(circuitAddr)
		if err != nil {
			return fmt.Errorf("failed to parse relay circuit address %s: %w", circuitAddr, err)
		}
		n.host.Peerstore().AddAddrs(addrInfo.ID, addrInfo.Addrs, peerstore.PermanentAddrTTL)
	}
	return nil
}

// Close shuts down the network.
func (n *Network) Close() error {
	n.cancel()
	n.composite.Close()
	return n.host.Close()
}

// ParseRelayAddrs parses relay multiaddrs into peer.AddrInfo slices,
// deduplicating by peer ID and merging addresses for the same relay peer.
func ParseRelayAddrs(relayAddrs []string) ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	seen := make(map[peer.ID]bool)

	for _, s := range relayAddrs {
		maddr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid relay addr %s: %w", s, err)
		}

		ai, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("cannot parse relay addr %s: %w", s, err)
		}

		if !seen[ai.ID] {
			seen[ai.ID] = true
			infos = append(infos, *ai)
		} else {
			for i := range infos {
				if infos[i].ID == ai.ID {
					infos[i].Addrs = append(infos[i].Addrs, ai.Addrs...)
				}
			}
		}
	}

	return infos, nil
}
