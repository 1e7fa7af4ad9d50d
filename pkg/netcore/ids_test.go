package netcore

import "testing"

func TestRequestIDIsBehaviour(t *testing.T) {
	if !BehaviourRequestID.IsBehaviour() {
		t.Error("BehaviourRequestID.IsBehaviour() = false, want true")
	}
	if RequestID(1).IsBehaviour() {
		t.Error("RequestID(1).IsBehaviour() = true, want false")
	}
}

func TestRequestIDAllocatorSkipsSentinel(t *testing.T) {
	a := newRequestIDAllocator()

	seen := make(map[RequestID]bool)
	for i := 0; i < 5; i++ {
		id := a.Next()
		if id.IsBehaviour() {
			t.Fatalf("allocator returned the sentinel value at iteration %d", i)
		}
		if seen[id] {
			t.Fatalf("allocator returned duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestRequestIDAllocatorWrapsAroundSentinel(t *testing.T) {
	a := &requestIDAllocator{next: BehaviourRequestID - 1}

	first := a.Next()
	if first.IsBehaviour() {
		t.Fatalf("Next() returned the sentinel")
	}
	second := a.Next()
	if second.IsBehaviour() {
		t.Fatalf("Next() returned the sentinel after wraparound, got %d", second)
	}
}

func TestPeerRequestIDString(t *testing.T) {
	id := PeerRequestID{Conn: 7, Sub: 3}
	want := "(conn=7, sub=3)"
	if got := id.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
