package netcore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Reconnection tuning constants, carried over unchanged from the watched-
// peer reconnect loop this peer manager is adapted from.
// ---------------------------------------------------------------------------

const (
	reconnectInterval    = 30 * time.Second
	reconnectDialTimeout = 30 * time.Second
	backoffBase          = 30 * time.Second
	backoffMax           = 15 * time.Minute
	maxConcurrentDials   = 3

	// pingInterval is how often connected peers are pinged for liveness,
	// per SPEC_FULL.md §7's ping-driven cadence (grounded in Prysm's
	// AddPingMethod/pingPeers pattern).
	pingInterval = 2 * time.Minute
)

// PeerManagerEventKind names one of the lifecycle commands the peer
// manager yields to the composite driver's custom_poll stage.
type PeerManagerEventKind int

const (
	PMDial PeerManagerEventKind = iota
	PMSocketUpdated
	PMStatus
	PMPing
	PMMetaData
	PMDisconnectPeer
)

// PeerManagerEvent is one lifecycle command. Only the field matching Kind
// is populated.
type PeerManagerEvent struct {
	Kind PeerManagerEventKind
	Peer PeerID
	Addr ma.Multiaddr
}

// ManagedPeer tracks the lifecycle state of a single watched peer.
type ManagedPeer struct {
	ID              peer.ID
	Connected       bool
	LastSeen        time.Time
	LastDialAttempt time.Time
	LastDialError   string
	ConsecFailures  int
	BackoffUntil    time.Time
	LastPing        time.Time
}

// ManagedPeerInfo is a read-only snapshot for status display.
type ManagedPeerInfo struct {
	PeerID         string `json:"peer_id"`
	Connected      bool   `json:"connected"`
	LastSeen       string `json:"last_seen,omitempty"`
	LastDialError  string `json:"last_dial_error,omitempty"`
	ConsecFailures int    `json:"consec_failures"`
	BackoffUntil   string `json:"backoff_until,omitempty"`
}

// PeerManager maintains connections to watched peers using background
// reconnection with exponential backoff, and surfaces its lifecycle
// decisions as PeerManagerEvents rather than dialing in-process: the
// composite driver drains these from Poll and translates them into swarm
// actions per spec.md §4.5.1.b. This is the key structural change from the
// directly-dialing reconnect loop it is adapted from (see DESIGN.md).
type PeerManager struct {
	host    host.Host
	metrics *Metrics
	log     *slog.Logger

	mu    sync.RWMutex
	peers map[peer.ID]*ManagedPeer

	evMu   sync.Mutex
	events *queue[PeerManagerEvent]
	wake   func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPeerManager creates a PeerManager. metrics may be nil. wake, if
// non-nil, is called every time a lifecycle event is staged so a Composite
// driving Run can break out of a Pending wait.
func NewPeerManager(h host.Host, metrics *Metrics, log *slog.Logger, wake func()) *PeerManager {
	return &PeerManager{
		host:    h,
		metrics: metrics,
		log:     log.With("component", "peermanager"),
		peers:   make(map[peer.ID]*ManagedPeer),
		events:  newQueue[PeerManagerEvent](),
		wake:    wake,
	}
}

// Start begins the event listener, reconnection loop, and ping loop.
// Call SetWatchlist before Start to populate the peer list.
func (pm *PeerManager) Start(ctx context.Context) {
	pm.ctx, pm.cancel = context.WithCancel(ctx)
	pm.snapshotExisting()
	pm.setConnectedGauge()

	pm.wg.Add(3)
	go pm.eventLoop()
	go pm.reconnectLoop()
	go pm.pingLoop()

	pm.log.Info("started", "watched", len(pm.peers))
}

// Close stops all background goroutines and waits for them to finish.
func (pm *PeerManager) Close() {
	pm.cancel()
	pm.wg.Wait()
}

// Poll drains one queued lifecycle event, or reports Pending.
func (pm *PeerManager) Poll() (PeerManagerEvent, bool) {
	pm.evMu.Lock()
	defer pm.evMu.Unlock()
	return pm.events.Pop()
}

func (pm *PeerManager) push(ev PeerManagerEvent) {
	pm.evMu.Lock()
	pm.events.Push(ev)
	pm.evMu.Unlock()
	if pm.wake != nil {
		pm.wake()
	}
}

// RequestDisconnect asks the peer manager to start disconnecting peer.
// Embedder-driven policy (scoring, administrative action) calls this; the
// peer manager itself never decides to disconnect on its own initiative
// beyond this entry point.
func (pm *PeerManager) RequestDisconnect(p peer.ID) {
	pm.push(PeerManagerEvent{Kind: PMDisconnectPeer, Peer: p})
}

// SetWatchlist updates which peers the manager should maintain connections
// to. Peers removed from the watchlist are no longer tracked; new peers are
// checked for current connectedness.
func (pm *PeerManager) SetWatchlist(peerIDs []peer.ID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	newSet := make(map[peer.ID]struct{}, len(peerIDs))
	for _, pid := range peerIDs {
		newSet[pid] = struct{}{}
	}
	for pid := range pm.peers {
		if _, ok := newSet[pid]; !ok {
			delete(pm.peers, pid)
		}
	}
	for _, pid := range peerIDs {
		if pid == pm.host.ID() {
			continue
		}
		if _, exists := pm.peers[pid]; !exists {
			connected := pm.host.Network().Connectedness(pid) == network.Connected
			mp := &ManagedPeer{ID: pid, Connected: connected}
			if connected {
				mp.LastSeen = time.Now()
			}
			pm.peers[pid] = mp
		}
	}
	pm.log.Info("watchlist updated", "watched", len(pm.peers))
}

// OnNetworkChange resets all backoff timers, triggering immediate
// reconnection attempts on the next loop tick.
func (pm *PeerManager) OnNetworkChange() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, mp := range pm.peers {
		mp.BackoffUntil = time.Time{}
		mp.ConsecFailures = 0
	}
	pm.log.Info("backoffs reset (network change)")
}

// GetManagedPeers returns a snapshot of all watched peers and their state.
func (pm *PeerManager) GetManagedPeers() []ManagedPeerInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	result := make([]ManagedPeerInfo, 0, len(pm.peers))
	for _, mp := range pm.peers {
		info := ManagedPeerInfo{
			PeerID:         mp.ID.String(),
			Connected:      mp.Connected,
			ConsecFailures: mp.ConsecFailures,
		}
		if !mp.LastSeen.IsZero() {
			info.LastSeen = mp.LastSeen.Format(time.RFC3339)
		}
		if mp.LastDialError != "" {
			info.LastDialError = mp.LastDialError
		}
		if !mp.BackoffUntil.IsZero() && mp.BackoffUntil.After(time.Now()) {
			info.BackoffUntil = mp.BackoffUntil.Format(time.RFC3339)
		}
		result = append(result, info)
	}
	return result
}

func (pm *PeerManager) snapshotExisting() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for pid, mp := range pm.peers {
		if pm.host.Network().Connectedness(pid) == network.Connected {
			mp.Connected = true
			mp.LastSeen = time.Now()
		}
	}
}

// eventLoop subscribes to libp2p connect/disconnect events and updates
// ManagedPeer state. A fresh connection emits a Status lifecycle event so
// the composite driver prompts the embedder to perform the status
// handshake.
func (pm *PeerManager) eventLoop() {
	defer pm.wg.Done()

	sub, err := pm.host.EventBus().Subscribe(new(event.EvtPeerConnectednessChanged))
	if err != nil {
		pm.log.Error("event bus subscribe failed", "error", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case evt, ok := <-sub.Out():
			if !ok {
				return
			}
			e := evt.(event.EvtPeerConnectednessChanged)
			pm.mu.Lock()
			mp, watched := pm.peers[e.Peer]
			if watched {
				switch e.Connectedness {
				case network.Connected:
					mp.Connected = true
					mp.LastSeen = time.Now()
					mp.ConsecFailures = 0
					mp.BackoffUntil = time.Time{}
					mp.LastDialError = ""
					pm.mu.Unlock()
					pm.setConnectedGauge()
					pm.push(PeerManagerEvent{Kind: PMStatus, Peer: e.Peer})
					continue
				case network.NotConnected:
					mp.Connected = false
				}
			}
			pm.mu.Unlock()
			pm.setConnectedGauge()
		}
	}
}

// reconnectLoop periodically emits Dial lifecycle events for disconnected
// watched peers past their backoff window.
func (pm *PeerManager) reconnectLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.runReconnectCycle()
		}
	}
}

func (pm *PeerManager) runReconnectCycle() {
	pm.mu.RLock()
	now := time.Now()
	var targets []peer.ID
	for pid, mp := range pm.peers {
		if pid == pm.host.ID() || mp.Connected {
			continue
		}
		if now.Before(mp.BackoffUntil) {
			pm.incMetric("backoff_skip")
			continue
		}
		targets = append(targets, pid)
	}
	pm.mu.RUnlock()

	for _, pid := range targets {
		pm.mu.Lock()
		if mp := pm.peers[pid]; mp != nil {
			mp.LastDialAttempt = now
		}
		pm.mu.Unlock()
		pm.push(PeerManagerEvent{Kind: PMDial, Peer: pid})
	}
}

// recordDialOutcome updates backoff state once a Dial the peer manager
// emitted resolves. It is not part of spec.md's poll contract. It is
// unexported and neither the composite driver nor any exported method
// calls it.
func (pm *PeerManager) recordDialOutcome(target peer.ID, dialErr error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	mp := pm.peers[target]
	if mp == nil {
		return
	}
	if dialErr != nil {
		mp.ConsecFailures++
		mp.LastDialError = dialErr.Error()
		backoff := backoffBase * time.Duration(1<<min(mp.ConsecFailures, 5))
		if backoff > backoffMax {
			backoff = backoffMax
		}
		mp.BackoffUntil = time.Now().Add(backoff)
		pm.incMetric("failure")
		return
	}
	mp.Connected = true
	mp.LastSeen = time.Now()
	mp.ConsecFailures = 0
	mp.BackoffUntil = time.Time{}
	mp.LastDialError = ""
	pm.incMetric("success")
}

// pingLoop periodically emits Ping lifecycle events for connected peers.
// The composite driver's custom_poll handles PMPing by calling
// rpc.SendRequest with the behaviour sentinel directly, without returning
// from poll (spec.md §4.5.1.b).
func (pm *PeerManager) pingLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.mu.RLock()
			var targets []peer.ID
			for pid, mp := range pm.peers {
				if mp.Connected {
					targets = append(targets, pid)
				}
			}
			pm.mu.RUnlock()
			for _, pid := range targets {
				pm.push(PeerManagerEvent{Kind: PMPing, Peer: pid})
			}
		}
	}
}

// onIdentified is called by the identify adapter once a peer's identify
// exchange completes; the listen-address list has already been truncated
// to MaxIdentifyAddresses. It records a SocketUpdated event for every
// address in that list; addresses the local host already advertises are
// not filtered out.
func (pm *PeerManager) onIdentified(info identifiedPeer) {
	for _, addr := range info.ListenAddrs {
		pm.push(PeerManagerEvent{Kind: PMSocketUpdated, Addr: addr})
	}
}

// notifyDisconnecting records that a peer sent Goodbye and is on its way
// out, per spec.md §4.5.2. Bookkeeping only: the composite driver owns the
// pending-disconnect queue itself.
func (pm *PeerManager) notifyDisconnecting(p peer.ID) {
	pm.log.Debug("peer disconnecting", "peer", p)
}

// notifyStatusReceived records that a Status request or response arrived
// from p, refreshing LastSeen.
func (pm *PeerManager) notifyStatusReceived(p peer.ID) {
	pm.mu.Lock()
	if mp := pm.peers[p]; mp != nil {
		mp.LastSeen = time.Now()
	}
	pm.mu.Unlock()
}

// notifyHandlerError records a transport/protocol-level failure observed
// on a substream to/from p. Inbound and policy-rejection failures are
// absorbed here; only application-originated outbound failures additionally
// surface as a public RPCFailed event (handled by the composite driver).
func (pm *PeerManager) notifyHandlerError(p peer.ID, err *HandlerErr) {
	pm.log.Debug("handler error", "peer", p, "direction", err.Direction, "protocol", err.Protocol, "kind", err.Kind)
}

// recordPong and recordMetadata are the locally-terminated response hooks:
// Pong and MetaData responses are consumed entirely here and never surface
// as public events (spec.md §4.5.2).
func (pm *PeerManager) recordPong(p peer.ID) {
	pm.mu.Lock()
	if mp := pm.peers[p]; mp != nil {
		mp.LastSeen = time.Now()
	}
	pm.mu.Unlock()
}

func (pm *PeerManager) recordMetadata(p peer.ID, md MetaDataPayload) {
	pm.log.Debug("metadata received", "peer", p, "bytes", len(md))
}

// setConnectedGauge refreshes ConnectedPeers from the host's live swarm
// state (not just the watchlist), so it reflects every actually-connected
// peer regardless of whether this manager is maintaining it.
func (pm *PeerManager) setConnectedGauge() {
	if pm.metrics == nil {
		return
	}
	pm.metrics.ConnectedPeers.Set(float64(len(pm.host.Network().Peers())))
}

func (pm *PeerManager) incMetric(result string) {
	if pm.metrics != nil && pm.metrics.PeerManagerReconnectTotal != nil {
		pm.metrics.PeerManagerReconnectTotal.WithLabelValues(result).Inc()
	}
}

// dialAll is a convenience an embedder may use to drive several concurrent
// dial attempts outside the poll loop proper (e.g. when bootstrapping),
// bounded by maxConcurrentDials via errgroup, replacing the raw semaphore
// channel this peer manager's dialing used before it became event-driven.
func dialAll(ctx context.Context, h host.Host, targets []peer.ID, dial func(context.Context, peer.ID) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDials)
	for _, pid := range targets {
		pid := pid
		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(gctx, reconnectDialTimeout)
			defer cancel()
			return dial(dialCtx, pid)
		})
	}
	return g.Wait()
}
