package netcore

import (
	"log/slog"
	"sync"
	"time"
)

// rpcBehaviour implements the request/response RPC sub-behaviour. It is a
// direct structural translation of the RPC NetworkBehaviour (see
// DESIGN.md): an outbound action queue drained one item per Poll, plus the
// automatic MetaData request fired on connect.
type rpcBehaviour struct {
	mu      sync.Mutex
	events  *queue[Action]
	log     *slog.Logger
	wake    func()
	metrics *Metrics

	pendingMu sync.Mutex
	pending   map[pendingRequestKey]time.Time
}

// pendingRequestKey identifies an outstanding request awaiting a response,
// used only to time RPCResponseDurationSeconds.
type pendingRequestKey struct {
	peer     PeerID
	protocol Protocol
	id       RequestID
}

func newRPCBehaviour(metrics *Metrics, log *slog.Logger, wake func()) *rpcBehaviour {
	return &rpcBehaviour{
		events:  newQueue[Action](),
		log:     log.With("component", "rpc"),
		wake:    wake,
		metrics: metrics,
		pending: make(map[pendingRequestKey]time.Time),
	}
}

func (r *rpcBehaviour) push(a Action) {
	r.mu.Lock()
	r.events.Push(a)
	r.mu.Unlock()
	if r.wake != nil {
		r.wake()
	}
}

// SendRequest enqueues a NotifyHandler action with handler target "any
// connection"; delivery succeeds only if a connection to peer exists.
func (r *rpcBehaviour) SendRequest(peer PeerID, id RequestID, req RPCRequest) {
	if r.metrics != nil {
		r.metrics.RPCRequestsTotal.WithLabelValues(req.Protocol.String(), "outbound").Inc()
		if !id.IsBehaviour() {
			r.pendingMu.Lock()
			r.pending[pendingRequestKey{peer: peer, protocol: req.Protocol, id: id}] = time.Now()
			r.pendingMu.Unlock()
		}
	}
	r.push(NotifyHandlerAction(peer, TargetAny(), SendRequest(id, req)))
}

// SendResponse enqueues a NotifyHandler action targeting the specific
// connection the request arrived on; the substream id travels with the
// payload so the handler can route the chunk to the right substream.
func (r *rpcBehaviour) SendResponse(peer PeerID, id PeerRequestID, resp RPCCodedResponse) {
	r.push(NotifyHandlerAction(peer, TargetOne(id.Conn), SendResponseChunk(id.Sub, resp)))
}

// OnConnected is invoked when a peer's first connection is established. It
// automatically enqueues an internal metadata request (RequestID sentinel)
// so the core learns the peer's metadata without the embedder asking.
func (r *rpcBehaviour) OnConnected(peer PeerID) {
	r.log.Debug("requesting new peer's metadata", "peer", peer)
	r.SendRequest(peer, BehaviourRequestID, RPCRequest{Protocol: ProtocolMetaData})
}

// OnStreamEvent surfaces a per-connection handler's outcome as an
// RPCMessage action carrying peer id, connection id, and either the
// received request/response or a HandlerErr.
func (r *rpcBehaviour) OnStreamEvent(peer PeerID, conn ConnectionID, msg RPCMessage) {
	msg.Peer = peer
	msg.Conn = conn
	r.recordMetrics(peer, msg)
	r.push(GenerateEventAction(rpcMessageEvent(msg)))
}

// recordMetrics observes RPCRequestsTotal/RPCResponseDurationSeconds/
// RPCFailuresTotal for one handler outcome. This is the single place an
// inbound request, a matched response, or a handler error is known at
// once, so it is the natural site for these three RPC collectors.
func (r *rpcBehaviour) recordMetrics(peer PeerID, msg RPCMessage) {
	if r.metrics == nil {
		return
	}
	switch {
	case msg.IsError:
		r.metrics.RPCFailuresTotal.WithLabelValues(msg.Err.Protocol.String()).Inc()
	case msg.Event.IsRequest:
		r.metrics.RPCRequestsTotal.WithLabelValues(msg.Event.Request.Protocol.String(), "inbound").Inc()
	default:
		key := pendingRequestKey{peer: peer, protocol: msg.Event.Response.Protocol, id: msg.Event.RequestID}
		r.pendingMu.Lock()
		start, ok := r.pending[key]
		if ok {
			delete(r.pending, key)
		}
		r.pendingMu.Unlock()
		if ok {
			r.metrics.RPCResponseDurationSeconds.WithLabelValues(key.protocol.String()).Observe(time.Since(start).Seconds())
		}
	}
}

// Poll drains one queued action, or reports Pending.
func (r *rpcBehaviour) Poll() (Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events.Pop()
}

// rpcMessageEvent wraps an RPCMessage in an Event so it can travel through
// the generic Action/Event plumbing used by the composite driver's
// on_rpc_event dispatch.
func rpcMessageEvent(msg RPCMessage) Event {
	return Event{Kind: eventRPCMessageInternal, rpcMessage: &msg}
}

// eventRPCMessageInternal is a driver-private EventKind never surfaced to
// embedders; the composite driver always consumes it in on_rpc_event
// before anything reaches the public queue.
const eventRPCMessageInternal EventKind = -1
