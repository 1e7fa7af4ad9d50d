package netcore

import "testing"

func TestQueuePushPop(t *testing.T) {
	q := newQueue[int]()

	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue to report not-ok")
	}
	if !q.Empty() {
		t.Fatal("expected new queue to be empty")
	}

	q.Push(1)
	q.Push(2)
	q.Push(3)

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() ok = false, want true")
		}
		if got != want {
			t.Fatalf("Pop() = %d, want %d", got, want)
		}
	}

	if !q.Empty() {
		t.Fatal("expected queue to be empty after draining")
	}
}

func TestPendingDisconnectQueueDedup(t *testing.T) {
	q := newPendingDisconnectQueue()

	q.push("peer-a")
	q.push("peer-b")
	q.push("peer-a") // duplicate, must not appear twice

	var got []PeerID
	for {
		p, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, p)
	}

	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (deduplicated): %v", len(got), got)
	}
	if got[0] != "peer-a" || got[1] != "peer-b" {
		t.Fatalf("got %v, want FIFO order [peer-a peer-b]", got)
	}
}
