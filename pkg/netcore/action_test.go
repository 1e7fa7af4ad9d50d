package netcore

import "testing"

func TestHandlerTargetClassification(t *testing.T) {
	any := TargetAny()
	one := TargetOne(42)
	all := TargetAll()

	if !any.IsAny() || any.IsOne() || any.IsAll() {
		t.Errorf("TargetAny() classification wrong: %+v", any)
	}
	if !one.IsOne() || one.IsAny() || one.IsAll() {
		t.Errorf("TargetOne() classification wrong: %+v", one)
	}
	if one.Conn() != 42 {
		t.Errorf("TargetOne(42).Conn() = %d, want 42", one.Conn())
	}
	if !all.IsAll() || all.IsAny() || all.IsOne() {
		t.Errorf("TargetAll() classification wrong: %+v", all)
	}

	for _, tt := range []struct {
		target HandlerTarget
		want   string
	}{
		{any, "Any"},
		{one, "One"},
		{all, "All"},
	} {
		if got := tt.target.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestActionConstructors(t *testing.T) {
	ev := StatusPeerEvent("p1")

	a := GenerateEventAction(ev)
	if a.Kind != ActionGenerateEvent {
		t.Errorf("GenerateEventAction Kind = %v, want ActionGenerateEvent", a.Kind)
	}
	if a.Event.Kind != EventStatusPeer {
		t.Errorf("GenerateEventAction Event.Kind = %v, want EventStatusPeer", a.Event.Kind)
	}

	dp := DialPeerAction("p1", DialConditionDisconnected)
	if dp.Kind != ActionDialPeer || dp.Peer != "p1" || dp.Condition != DialConditionDisconnected {
		t.Errorf("DialPeerAction() = %+v", dp)
	}

	nh := NotifyHandlerAction("p1", TargetAll(), 7)
	if nh.Kind != ActionNotifyHandler || !nh.Target.IsAll() || nh.Payload != 7 {
		t.Errorf("NotifyHandlerAction() = %+v", nh)
	}
}
