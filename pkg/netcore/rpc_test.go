package netcore

import (
	"log/slog"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestRPCBehaviourSendRequestIncrementsRequestsTotal(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	r := newRPCBehaviour(metrics, slog.Default(), nil)

	r.SendRequest(PeerID("peer-a"), RequestID(1), RPCRequest{Protocol: ProtocolStatus})

	if got := testCounterValue(t, metrics.RPCRequestsTotal, "status", "outbound"); got != 1 {
		t.Errorf("RPCRequestsTotal{status,outbound} = %v, want 1", got)
	}
}

func TestRPCBehaviourOnStreamEventRecordsRequestAndFailureMetrics(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	r := newRPCBehaviour(metrics, slog.Default(), nil)

	r.OnStreamEvent(PeerID("peer-a"), 1, RPCMessage{
		Event: ReceivedRequest(9, RPCRequest{Protocol: ProtocolPing}),
	})
	if got := testCounterValue(t, metrics.RPCRequestsTotal, "ping", "inbound"); got != 1 {
		t.Errorf("RPCRequestsTotal{ping,inbound} = %v, want 1", got)
	}

	r.OnStreamEvent(PeerID("peer-a"), 1, RPCMessage{
		IsError: true,
		Err:     &HandlerErr{Direction: DirectionOutbound, Protocol: ProtocolStatus, Kind: HandlerErrorTimeout},
	})
	if got := testCounterValue(t, metrics.RPCFailuresTotal, "status"); got != 1 {
		t.Errorf("RPCFailuresTotal{status} = %v, want 1", got)
	}
}

func TestRPCBehaviourRecordsResponseDurationForMatchedRequest(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	r := newRPCBehaviour(metrics, slog.Default(), nil)

	peer := PeerID("peer-a")
	r.SendRequest(peer, RequestID(42), RPCRequest{Protocol: ProtocolStatus})

	r.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedResponse(RequestID(42), RPCResponse{Protocol: ProtocolStatus}),
	})

	m := &dto.Metric{}
	if err := metrics.RPCResponseDurationSeconds.WithLabelValues("status").Write(m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("RPCResponseDurationSeconds{status} sample count = %d, want 1", got)
	}
}

func TestRPCBehaviourSentinelRequestsAreNotTrackedForDuration(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	r := newRPCBehaviour(metrics, slog.Default(), nil)

	peer := PeerID("peer-a")
	r.SendRequest(peer, BehaviourRequestID, RPCRequest{Protocol: ProtocolPing})
	r.OnStreamEvent(peer, 1, RPCMessage{
		Event: ReceivedResponse(BehaviourRequestID, RPCResponse{Protocol: ProtocolPing}),
	})

	m := &dto.Metric{}
	if err := metrics.RPCResponseDurationSeconds.WithLabelValues("ping").Write(m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 0 {
		t.Errorf("RPCResponseDurationSeconds{ping} sample count = %d, want 0 for the untracked sentinel request", got)
	}
}
