package netcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// seenGossipCacheSize is the capacity of the internal seen-message LRU.
// Per SPEC_FULL.md §9.1 the cache is forward-always bookkeeping: readLoop
// records every delivered message id in it, nothing reads it back, and it
// never suppresses delivery of a message to the public event queue.
// De-duplication is the embedder's responsibility.
const seenGossipCacheSize = 100_000

// gossipBehaviour adapts github.com/libp2p/go-libp2p-pubsub to the core's
// event/action model. subscribe/unsubscribe update the shared subscription
// set before calling into the engine, matching the ordering spec.md §4.3
// requires so the set never drifts ahead of what subscribe/unsubscribe
// reports back.
type gossipBehaviour struct {
	host    host.Host
	ps      *pubsub.PubSub
	globals *NetworkGlobals
	log     *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	events *queue[Action]
	topics map[GossipTopic]*pubsub.Topic
	subs   map[GossipTopic]*pubsub.Subscription
	cancel map[GossipTopic]context.CancelFunc

	seen      *lru.Cache
	seenKinds map[TopicKind]struct{}
	wake      func()
}

func newGossipBehaviour(h host.Host, ps *pubsub.PubSub, globals *NetworkGlobals, metrics *Metrics, log *slog.Logger, wake func()) (*gossipBehaviour, error) {
	cache, err := lru.New(seenGossipCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: seen-gossip cache: %v", ErrConstructionFailed, err)
	}
	return &gossipBehaviour{
		host:    h,
		ps:      ps,
		globals: globals,
		log:     log.With("component", "gossip"),
		metrics: metrics,
		events:  newQueue[Action](),
		topics:  make(map[GossipTopic]*pubsub.Topic),
		subs:    make(map[GossipTopic]*pubsub.Subscription),
		cancel:    make(map[GossipTopic]context.CancelFunc),
		seen:      cache,
		seenKinds: make(map[TopicKind]struct{}),
		wake:      wake,
	}, nil
}

func (g *gossipBehaviour) push(a Action) {
	g.mu.Lock()
	g.events.Push(a)
	g.mu.Unlock()
	if g.wake != nil {
		g.wake()
	}
}

// Poll drains one queued action, or reports Pending.
func (g *gossipBehaviour) Poll() (Action, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.events.Pop()
}

func (g *gossipBehaviour) joinTopic(topic GossipTopic) (*pubsub.Topic, error) {
	if t, ok := g.topics[topic]; ok {
		return t, nil
	}
	t, err := g.ps.Join(topic.String())
	if err != nil {
		return nil, err
	}
	g.topics[topic] = t
	return t, nil
}

// Subscribe updates the shared subscription set BEFORE calling into the
// gossip engine, then joins and subscribes. Returns the engine's
// accept/reject outcome.
func (g *gossipBehaviour) Subscribe(topic GossipTopic) (bool, error) {
	g.globals.addSubscription(topic)

	g.mu.Lock()
	defer g.mu.Unlock()

	t, err := g.joinTopic(topic)
	if err != nil {
		g.globals.removeSubscription(topic)
		return false, fmt.Errorf("%w: %v", ErrSubscriptionRejected, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		g.globals.removeSubscription(topic)
		return false, fmt.Errorf("%w: %v", ErrSubscriptionRejected, err)
	}
	g.subs[topic] = sub
	g.setSubscribedGauge()

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel[topic] = cancel
	go g.readLoop(ctx, topic, sub)

	evtHandler, err := t.EventHandler()
	if err == nil {
		go g.peerEventLoop(ctx, topic, evtHandler)
	}

	return true, nil
}

// Unsubscribe updates the shared subscription set BEFORE calling into the
// gossip engine.
func (g *gossipBehaviour) Unsubscribe(topic GossipTopic) (bool, error) {
	g.globals.removeSubscription(topic)

	g.mu.Lock()
	defer g.mu.Unlock()

	if cancel, ok := g.cancel[topic]; ok {
		cancel()
		delete(g.cancel, topic)
	}
	if sub, ok := g.subs[topic]; ok {
		sub.Cancel()
		delete(g.subs, topic)
	}
	g.setSubscribedGauge()
	return true, nil
}

// setSubscribedGauge recomputes GossipSubscribersGauge for every topic
// kind ever seen, from the current subscription set. Called with g.mu
// held.
func (g *gossipBehaviour) setSubscribedGauge() {
	if g.metrics == nil {
		return
	}
	counts := make(map[TopicKind]float64)
	for kind := range g.seenKinds {
		counts[kind] = 0
	}
	for topic := range g.subs {
		g.seenKinds[topic.Kind] = struct{}{}
		counts[topic.Kind]++
	}
	for kind, n := range counts {
		g.metrics.GossipSubscribersGauge.WithLabelValues(string(kind)).Set(n)
	}
}

// Publish translates a topic descriptor plus payload into a gossip publish
// call; no batching.
func (g *gossipBehaviour) Publish(ctx context.Context, topic GossipTopic, data []byte) error {
	g.mu.Lock()
	t, err := g.joinTopic(topic)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// Propagate receives a message id and "from", the immediate forwarder
// (never the original publisher), and logs them at debug level. It sends
// nothing to the gossip engine and always returns nil; the engine's own
// forwarding of received messages is unaffected by this call.
func (g *gossipBehaviour) Propagate(from PeerID, messageID string) error {
	g.log.Debug("propagating gossip message", "from", from, "id", messageID)
	return nil
}

// readLoop pulls messages from one topic subscription and stages them as
// PubsubMessage public events. The forwarder ("from") recorded is the
// message's ReceivedFrom peer, i.e. the immediate forwarder, never
// necessarily the original publisher.
func (g *gossipBehaviour) readLoop(ctx context.Context, topic GossipTopic, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.host.ID() {
			continue
		}
		id := messageID(msg)
		g.seen.Add(id, struct{}{})
		if g.metrics != nil {
			g.metrics.GossipMessagesTotal.WithLabelValues(string(topic.Kind)).Inc()
		}
		g.push(GenerateEventAction(PubsubMessageEvent(id, msg.ReceivedFrom, []GossipTopic{topic}, msg.Data)))
	}
}

// peerEventLoop surfaces join events as PeerSubscribed; leave events are
// ignored per spec.md §4.3.
func (g *gossipBehaviour) peerEventLoop(ctx context.Context, topic GossipTopic, h *pubsub.TopicEventHandler) {
	for {
		evt, err := h.NextPeerEvent(ctx)
		if err != nil {
			return
		}
		if evt.Type == pubsub.PeerJoin {
			g.push(GenerateEventAction(PeerSubscribedEvent(evt.Peer, topic)))
		}
	}
}

// messageID derives a stable id the same way pubsub's default message-id
// function does: from the publisher and sequence number.
func messageID(msg *pubsub.Message) string {
	return fmt.Sprintf("%x%x", msg.GetFrom(), msg.GetSeqno())
}
