package netcore

import (
	"context"
	"log/slog"
	"testing"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

func newTestComposite(t *testing.T) *Composite {
	t.Helper()
	h := newTestHost(t)
	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		t.Fatalf("pubsub.NewGossipSub: %v", err)
	}
	globals := NewNetworkGlobals(h.ID(), []byte("meta"), []byte("ping"), 0, 0)
	c, err := NewComposite(h, ps, globals, nil, slog.Default())
	if err != nil {
		t.Fatalf("NewComposite: %v", err)
	}
	return c
}

// Scenario: an inbound Ping request is answered with a Pong and never
// surfaces as a public event.
func TestScenarioPingTerminatedLocally(t *testing.T) {
	c := newTestComposite(t)
	peer := PeerID("remote-peer")

	c.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedRequest(9, RPCRequest{Protocol: ProtocolPing, Ping: PingPayload("abc")}),
	})

	a, ok := c.Poll(context.Background())
	if !ok {
		t.Fatal("expected an action in response to the ping request")
	}
	if a.Kind != ActionNotifyHandler || !a.Target.IsOne() || a.Target.Conn() != 1 {
		t.Fatalf("action = %+v, want NotifyHandler targeting conn 1", a)
	}
	send, ok := a.Payload.(RPCSend)
	if !ok || !send.IsResponse || send.Response.Response.Protocol != ProtocolPing {
		t.Fatalf("payload = %+v, want a Pong response chunk", a.Payload)
	}

	if _, ok := c.Poll(context.Background()); ok {
		t.Fatal("expected no further action; a locally-terminated ping must not surface publicly")
	}
}

// Scenario: an inbound MetaData request is answered locally and never
// surfaces as a public event.
func TestScenarioMetaDataTerminatedLocally(t *testing.T) {
	c := newTestComposite(t)
	peer := PeerID("remote-peer")

	c.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedRequest(4, RPCRequest{Protocol: ProtocolMetaData}),
	})

	a, ok := c.Poll(context.Background())
	if !ok {
		t.Fatal("expected an action in response to the metadata request")
	}
	send, ok := a.Payload.(RPCSend)
	if !ok || send.Response.Response.Protocol != ProtocolMetaData {
		t.Fatalf("payload = %+v, want a MetaData response chunk", a.Payload)
	}

	if _, ok := c.Poll(context.Background()); ok {
		t.Fatal("expected no further action; locally-terminated metadata must not surface publicly")
	}
}

// Scenario: a Status request is surfaced publicly as RequestReceived.
func TestScenarioStatusRequestSurfacedPublicly(t *testing.T) {
	c := newTestComposite(t)
	peer := PeerID("remote-peer")

	c.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedRequest(2, RPCRequest{Protocol: ProtocolStatus, Status: StatusMessage("hi")}),
	})

	a, ok := c.Poll(context.Background())
	if !ok {
		t.Fatal("expected Status request to surface as a public event")
	}
	if a.Kind != ActionGenerateEvent || a.Event.Kind != EventRequestReceived {
		t.Fatalf("action = %+v, want GenerateEvent(RequestReceived)", a)
	}
	if a.Event.Peer != peer || a.Event.ReqID != (PeerRequestID{Conn: 1, Sub: 2}) {
		t.Fatalf("event = %+v, want peer=%v reqID={1 2}", a.Event, peer)
	}
}

// Scenario: an application response with a non-sentinel RequestID is
// surfaced; a response carrying the behaviour sentinel is not.
func TestScenarioStatusResponseSentinelFiltering(t *testing.T) {
	c := newTestComposite(t)
	peer := PeerID("remote-peer")

	c.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedResponse(42, RPCResponse{Protocol: ProtocolStatus, Status: StatusMessage("ok")}),
	})
	a, ok := c.Poll(context.Background())
	if !ok || a.Kind != ActionGenerateEvent || a.Event.Kind != EventResponseReceived {
		t.Fatalf("expected application Status response to surface, got %+v ok=%v", a, ok)
	}

	c.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedResponse(BehaviourRequestID, RPCResponse{Protocol: ProtocolStatus, Status: StatusMessage("internal")}),
	})
	if _, ok := c.Poll(context.Background()); ok {
		t.Fatal("expected sentinel-id Status response to be absorbed, not surfaced")
	}
}

// Scenario: a received Goodbye stages exactly one disconnect action (the
// remote already initiated closing, so no separate notify-then-shutdown
// sequence is needed on our side).
func TestScenarioGoodbyeReceivedQueuesDisconnect(t *testing.T) {
	c := newTestComposite(t)
	peer := PeerID("remote-peer")

	c.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedRequest(5, RPCRequest{Protocol: ProtocolGoodbye, Goodbye: GoodbyeReasonUnspecified}),
	})

	a, ok := c.Poll(context.Background())
	if !ok {
		t.Fatal("expected a disconnect action after receiving Goodbye")
	}
	if a.Kind != ActionNotifyHandler || !a.Target.IsAll() || a.Peer != peer {
		t.Fatalf("action = %+v, want NotifyHandler targeting All for %v", a, peer)
	}
}

// Scenario: an embedder-initiated disconnect (PMDisconnectPeer) sequences
// into two distinct poll results: first a NotifyHandler::Any carrying the
// final goodbye, then (on a later poll) a NotifyHandler::All shutdown. The
// two steps must never collapse into one.
func TestScenarioPeerManagerInitiatedDisconnectTwoPhase(t *testing.T) {
	c := newTestComposite(t)
	peer := PeerID("remote-peer")

	c.PeerManager().RequestDisconnect(peer)

	first, ok := c.Poll(context.Background())
	if !ok {
		t.Fatal("expected first phase of the disconnect sequence")
	}
	if first.Kind != ActionNotifyHandler || !first.Target.IsAny() {
		t.Fatalf("first action = %+v, want NotifyHandler targeting Any", first)
	}
	input, ok := first.Payload.(CompositeInput)
	if !ok || !input.IsShutdown || input.FinalRequest == nil {
		t.Fatalf("first payload = %+v, want Shutdown with a final goodbye request", first.Payload)
	}

	second, ok := c.Poll(context.Background())
	if !ok {
		t.Fatal("expected second phase of the disconnect sequence")
	}
	if second.Kind != ActionNotifyHandler || !second.Target.IsAll() || second.Peer != peer {
		t.Fatalf("second action = %+v, want NotifyHandler targeting All for %v", second, peer)
	}
	input2, ok := second.Payload.(CompositeInput)
	if !ok || !input2.IsShutdown || input2.FinalRequest != nil {
		t.Fatalf("second payload = %+v, want a bare Shutdown(nil)", second.Payload)
	}

	if first.Target.IsAll() {
		t.Fatal("the two disconnect phases must never collapse into the same action")
	}
}

// Scenario: an outbound application-originated HandlerErr surfaces
// publicly; an inbound error, and one tagged with the behaviour sentinel,
// are absorbed.
func TestScenarioHandlerErrorSurfacing(t *testing.T) {
	c := newTestComposite(t)
	peer := PeerID("remote-peer")

	c.OnStreamEvent(peer, 1, RPCMessage{
		IsError: true,
		Err:     &HandlerErr{Direction: DirectionOutbound, Protocol: ProtocolStatus, Kind: HandlerErrorTimeout, RequestID: 7, Err: ErrStreamTimeout},
	})
	a, ok := c.Poll(context.Background())
	if !ok || a.Kind != ActionGenerateEvent || a.Event.Kind != EventRPCFailed {
		t.Fatalf("expected outbound application error to surface, got %+v ok=%v", a, ok)
	}
	if a.Event.FailedRequestID != 7 || a.Event.FailedPeer != peer {
		t.Fatalf("event = %+v, want RequestID=7 peer=%v", a.Event, peer)
	}

	c.OnStreamEvent(peer, 1, RPCMessage{
		IsError: true,
		Err:     &HandlerErr{Direction: DirectionInbound, Protocol: ProtocolStatus, Kind: HandlerErrorCodec, SubstreamID: 3, Err: ErrDecode},
	})
	if _, ok := c.Poll(context.Background()); ok {
		t.Fatal("expected inbound handler error to be absorbed, not surfaced")
	}

	c.OnStreamEvent(peer, 1, RPCMessage{
		IsError: true,
		Err:     &HandlerErr{Direction: DirectionOutbound, Protocol: ProtocolPing, Kind: HandlerErrorTimeout, RequestID: BehaviourRequestID, Err: ErrStreamTimeout},
	})
	if _, ok := c.Poll(context.Background()); ok {
		t.Fatal("expected sentinel-id outbound error to be absorbed, not surfaced")
	}
}

// Universal property: SendRequest rejects the behaviour sentinel.
func TestSendRequestRejectsSentinelID(t *testing.T) {
	c := newTestComposite(t)
	err := c.SendRequest("peer", BehaviourRequestID, NewStatusRequest(StatusMessage("x")))
	if err != ErrSentinelRequestID {
		t.Errorf("SendRequest with sentinel id = %v, want ErrSentinelRequestID", err)
	}
}

func TestNextRequestIDNeverYieldsSentinel(t *testing.T) {
	c := newTestComposite(t)
	for i := 0; i < 10; i++ {
		if id := c.NextRequestID(); id.IsBehaviour() {
			t.Fatalf("NextRequestID returned the sentinel at iteration %d", i)
		}
	}
}
