package netcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
)

// pendingDisconnectQueue is a FIFO deduplicated on push: a peer appears at
// most once at a time (spec.md invariant 4).
type pendingDisconnectQueue struct {
	mu      sync.Mutex
	order   []PeerID
	pending map[PeerID]struct{}
}

func newPendingDisconnectQueue() *pendingDisconnectQueue {
	return &pendingDisconnectQueue{pending: make(map[PeerID]struct{})}
}

func (q *pendingDisconnectQueue) push(p PeerID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[p]; ok {
		return
	}
	q.pending[p] = struct{}{}
	q.order = append(q.order, p)
}

func (q *pendingDisconnectQueue) pop() (PeerID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		var zero PeerID
		return zero, false
	}
	p := q.order[0]
	q.order = q.order[1:]
	delete(q.pending, p)
	return p, true
}

// Composite is the composed network-behaviour core: it owns the gossip,
// RPC, identify, and peer-manager sub-behaviours and drives them in the
// fixed order spec.md §4.5.1 prescribes. It never spawns its own poll
// goroutine; Run is a convenience helper an embedder may launch on one.
type Composite struct {
	globals *NetworkGlobals

	gossip   *gossipBehaviour
	rpc      *rpcBehaviour
	identify *identifyBehaviour
	pm       *PeerManager

	streamConn *StreamConn
	handler    *CompositeHandler

	pendingDisconnect *pendingDisconnectQueue

	pubMu   sync.Mutex
	public  *queue[Event]

	reqIDs *requestIDAllocator

	log *slog.Logger

	wake chan struct{}
}

// NewComposite constructs the composite core over an already-established
// libp2p host and a live pubsub.PubSub instance. Transport, identity, and
// listener setup are the embedder's responsibility (see SPEC_FULL.md
// Non-goals); this function only wires the four sub-behaviours together.
func NewComposite(h host.Host, ps *pubsub.PubSub, globals *NetworkGlobals, metrics *Metrics, log *slog.Logger) (*Composite, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "composite")

	c := &Composite{
		globals:           globals,
		pendingDisconnect: newPendingDisconnectQueue(),
		public:            newQueue[Event](),
		reqIDs:            newRequestIDAllocator(),
		log:               log,
		wake:              make(chan struct{}, 1),
	}

	gossip, err := newGossipBehaviour(h, ps, globals, metrics, log, c.notifyWake)
	if err != nil {
		return nil, fmt.Errorf("%w: gossip: %v", ErrConstructionFailed, err)
	}
	c.gossip = gossip
	c.rpc = newRPCBehaviour(metrics, log, c.notifyWake)
	c.pm = NewPeerManager(h, metrics, log, c.notifyWake)
	c.identify = newIdentifyBehaviour(h, c.pm, log)

	c.streamConn = NewStreamConn(h, nil, log)
	c.handler = NewCompositeHandler(c.streamConn, log)
	c.streamConn.Listen(c.handler)
	h.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			c.streamConn.NotifyDisconnected(c.handler, conn)
		},
	})

	return c, nil
}

// Start launches the peer manager's background loops and the identify
// watcher. Must be called once before Poll/Run is driven.
func (c *Composite) Start(ctx context.Context) {
	c.pm.Start(ctx)
	go c.identify.watch(ctx.Done())
}

// Close stops all background goroutines owned by the composite.
func (c *Composite) Close() {
	c.pm.Close()
}

func (c *Composite) pushPublic(ev Event) {
	c.pubMu.Lock()
	c.public.Push(ev)
	c.pubMu.Unlock()
	c.notifyWake()
}

func (c *Composite) notifyWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Poll drains pending work in the fixed order gossip -> RPC -> identify ->
// custom, returning at most one outward action per call. Each step drains
// to Pending before the next begins unless it returns. A false second
// return value means Pending: the caller should wait for further external
// events (new stream data, a timer tick, a peer-manager decision) before
// calling Poll again.
func (c *Composite) Poll(ctx context.Context) (Action, bool) {
	a, ok := c.pollNext(ctx)
	if ok && a.Kind == ActionNotifyHandler {
		c.handler.Apply(a.Peer, a.Target, a.Payload)
	}
	return a, ok
}

func (c *Composite) pollNext(ctx context.Context) (Action, bool) {
	if a, ok := c.pollGossip(); ok {
		return a, true
	}
	if a, ok := c.pollRPC(); ok {
		return a, true
	}
	if a, ok := c.pollIdentify(); ok {
		return a, true
	}
	return c.customPoll(ctx)
}

func (c *Composite) pollGossip() (Action, bool) {
	for {
		a, ok := c.gossip.Poll()
		if !ok {
			return Action{}, false
		}
		if a.Kind == ActionGenerateEvent {
			c.onGossipEvent(a.Event)
			continue
		}
		return a, true
	}
}

func (c *Composite) onGossipEvent(ev Event) {
	switch ev.Kind {
	case EventPubsubMessage, EventPeerSubscribed:
		c.pushPublic(ev)
	default:
		// Unsubscribed and anything else is ignored per spec.md §4.3.
	}
}

func (c *Composite) pollRPC() (Action, bool) {
	for {
		a, ok := c.rpc.Poll()
		if !ok {
			return Action{}, false
		}
		if a.Kind == ActionGenerateEvent && a.Event.Kind == eventRPCMessageInternal {
			c.onRPCEvent(a.Event.rpcMessage)
			continue
		}
		return a, true
	}
}

func (c *Composite) onRPCEvent(msg *RPCMessage) {
	if msg.IsError {
		c.onHandlerErr(msg.Peer, msg.Err)
		return
	}
	if msg.Event.IsRequest {
		c.onRPCRequest(msg.Peer, msg.Conn, msg.Event.SubstreamID, msg.Event.Request)
		return
	}
	c.onRPCResponse(msg.Peer, msg.Event.RequestID, msg.Event.Response)
}

func (c *Composite) onHandlerErr(peer PeerID, err *HandlerErr) {
	c.pm.notifyHandlerError(peer, err)
	if err.Direction == DirectionOutbound && !err.RequestID.IsBehaviour() && err.Kind != HandlerErrorRejected {
		c.pushPublic(RPCFailedEvent(err.RequestID, peer, err))
	}
	// Inbound errors and policy rejections (HandlerErrorRejected) are
	// absorbed silently after peer-manager notification.
}

func (c *Composite) onRPCRequest(peer PeerID, conn ConnectionID, sub SubstreamID, req RPCRequest) {
	prid := PeerRequestID{Conn: conn, Sub: sub}
	switch req.Protocol {
	case ProtocolPing:
		resp := SuccessResponse(RPCResponse{Protocol: ProtocolPing, Pong: PingPayload(c.globals.PingData())})
		c.rpc.SendResponse(peer, prid, resp)
	case ProtocolMetaData:
		resp := SuccessResponse(RPCResponse{Protocol: ProtocolMetaData, MetaData: MetaDataPayload(c.globals.Metadata())})
		c.rpc.SendResponse(peer, prid, resp)
	case ProtocolGoodbye:
		c.pm.notifyDisconnecting(peer)
		c.pendingDisconnect.push(peer)
		c.notifyWake()
	case ProtocolStatus:
		c.pm.notifyStatusReceived(peer)
		c.pushPublic(RequestReceivedEvent(peer, prid, statusRequestFromRPC(req)))
	default:
		c.pm.notifyHandlerError(peer, &HandlerErr{Direction: DirectionInbound, Protocol: req.Protocol, Kind: HandlerErrorCodec, SubstreamID: sub, Err: ErrUnsupportedProtocol})
	}
}

func (c *Composite) onRPCResponse(peer PeerID, id RequestID, resp RPCResponse) {
	switch resp.Protocol {
	case ProtocolPing:
		c.pm.recordPong(peer)
	case ProtocolMetaData:
		c.pm.recordMetadata(peer, resp.MetaData)
	case ProtocolStatus:
		c.pm.notifyStatusReceived(peer)
		if !id.IsBehaviour() {
			c.pushPublic(ResponseReceivedEvent(peer, id, statusResponseFromRPC(resp)))
		}
	}
}

func (c *Composite) pollIdentify() (Action, bool) {
	return c.identify.Poll()
}

// customPoll implements spec.md §4.5.1 step 4: pending disconnect first,
// then the peer manager's lifecycle events, then the public event queue,
// finally Pending.
func (c *Composite) customPoll(ctx context.Context) (Action, bool) {
	if peer, ok := c.pendingDisconnect.pop(); ok {
		return NotifyHandlerAction(peer, TargetAll(), ShutdownInput(nil)), true
	}

	for {
		ev, ok := c.pm.Poll()
		if !ok {
			break
		}
		switch ev.Kind {
		case PMDial:
			return DialPeerAction(ev.Peer, DialConditionDisconnected), true
		case PMSocketUpdated:
			return ReportObservedAddrAction(ev.Addr), true
		case PMStatus:
			return GenerateEventAction(StatusPeerEvent(ev.Peer)), true
		case PMPing:
			c.rpc.SendRequest(ev.Peer, BehaviourRequestID, RPCRequest{Protocol: ProtocolPing, Ping: PingPayload(c.globals.PingData())})
			continue
		case PMMetaData:
			c.rpc.SendRequest(ev.Peer, BehaviourRequestID, RPCRequest{Protocol: ProtocolMetaData})
			continue
		case PMDisconnectPeer:
			c.pendingDisconnect.push(ev.Peer)
			final := SendRequest(BehaviourRequestID, RPCRequest{Protocol: ProtocolGoodbye, Goodbye: GoodbyeReasonUnspecified})
			return NotifyHandlerAction(ev.Peer, TargetAny(), ShutdownInput(&final)), true
		}
	}

	c.pubMu.Lock()
	ev, ok := c.public.Pop()
	c.pubMu.Unlock()
	if ok {
		return GenerateEventAction(ev), true
	}

	return Action{}, false
}

// SubscribeKind constructs a topic from kind, versioned by the current
// local fork digest, and forwards to the gossip adapter's Subscribe.
func (c *Composite) SubscribeKind(kind TopicKind) (bool, error) {
	return c.gossip.Subscribe(NewGossipTopic(kind, c.globals.ForkDigest()))
}

// UnsubscribeKind is the inverse of SubscribeKind.
func (c *Composite) UnsubscribeKind(kind TopicKind) (bool, error) {
	return c.gossip.Unsubscribe(NewGossipTopic(kind, c.globals.ForkDigest()))
}

// Publish publishes bytes on topic immediately; no batching.
func (c *Composite) Publish(ctx context.Context, topic GossipTopic, data []byte) error {
	return c.gossip.Publish(ctx, topic, data)
}

// PropagateMessage hands a message id and its immediate forwarder "from"
// to the gossip adapter's Propagate, which only logs the request; no
// message is forwarded on the wire.
func (c *Composite) PropagateMessage(from PeerID, messageID string) error {
	return c.gossip.Propagate(from, messageID)
}

// NextRequestID allocates the next application-visible RequestID, skipping
// the internal sentinel.
func (c *Composite) NextRequestID() RequestID {
	return c.reqIDs.Next()
}

// SendRequest issues an application request. id must not be the behaviour
// sentinel; application requests without an identity to track are a
// programmer error, not a runtime condition the core should paper over.
func (c *Composite) SendRequest(peer PeerID, id RequestID, req Request) error {
	if id.IsBehaviour() {
		return ErrSentinelRequestID
	}
	c.rpc.SendRequest(peer, id, req.toRPCRequest())
	return nil
}

// SendSuccessfulResponse wraps resp as a successful chunk and routes it
// back to the connection PeerRequestID pins.
func (c *Composite) SendSuccessfulResponse(peer PeerID, id PeerRequestID, resp Response) {
	c.rpc.SendResponse(peer, id, resp.toRPCCodedResponse())
}

// SendErrorResponse routes a failure chunk back to the connection
// PeerRequestID pins.
func (c *Composite) SendErrorResponse(peer PeerID, id PeerRequestID, code RPCResponseErrorCode, reason string) {
	c.rpc.SendResponse(peer, id, ErrorResponse(code, reason))
}

// OnConnected must be called by the embedder's connection-lifecycle glue
// when a peer's first connection is established; it triggers the RPC
// behaviour's automatic MetaData request.
func (c *Composite) OnConnected(peer PeerID) {
	c.rpc.OnConnected(peer)
}

// OnStreamEvent surfaces a handler outcome (a received request/response,
// or a HandlerErr) into the core. CompositeHandler already tracks which
// substream the outcome came from when StreamConn accepted the substream
// itself, but nothing in this package calls OnStreamEvent: the callback
// installed with SetInboundStreamHandler, or an embedder driving its own
// transport, calls it. Decoding the substream's raw bytes into an
// RPCRequest/RPCResponse remains the caller's job — the wire codec itself
// is out of this core's scope.
func (c *Composite) OnStreamEvent(peer PeerID, conn ConnectionID, msg RPCMessage) {
	c.rpc.OnStreamEvent(peer, conn, msg)
}

// SetInboundStreamHandler installs the callback invoked for every newly
// accepted inbound RPC substream, after CompositeHandler has already
// registered it for the shutdown choreography. The callback owns
// reading and decoding the substream and is expected to eventually call
// OnStreamEvent with the decoded outcome.
func (c *Composite) SetInboundStreamHandler(fn func(peer PeerID, conn ConnectionID, sub SubstreamID, s network.Stream)) {
	c.streamConn.SetInboundHandler(fn)
}

// Handler returns the composite's per-connection handler, tracking live
// substreams per connection and performing the Shutdown choreography.
func (c *Composite) Handler() *CompositeHandler {
	return c.handler
}

// Globals returns the shared NetworkGlobals this composite reads and
// writes.
func (c *Composite) Globals() *NetworkGlobals {
	return c.globals
}

// PeerManager returns the underlying peer manager, e.g. so an embedder can
// call SetWatchlist or RequestDisconnect.
func (c *Composite) PeerManager() *PeerManager {
	return c.pm
}

// Run drives Poll in a loop, invoking apply for every outward action,
// until ctx is done. It is a convenience wrapper, not part of the core
// contract: the only required guarantee is Poll itself. A Pending result
// blocks on either ctx.Done or the internal wake channel, which any
// producer (a stream handler, the peer manager, the gossip read loop)
// signals non-blockingly when it stages new work.
func (c *Composite) Run(ctx context.Context, apply func(Action)) {
	for {
		a, ok := c.Poll(ctx)
		if ok {
			apply(a)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}
	}
}
