package netcore

import "testing"

func TestNetworkGlobalsAccessors(t *testing.T) {
	g := NewNetworkGlobals("local-peer", []byte("meta-v1"), []byte("ping-v1"), 9000, 9001)

	if g.LocalPeerID() != "local-peer" {
		t.Errorf("LocalPeerID() = %q, want %q", g.LocalPeerID(), "local-peer")
	}
	if string(g.Metadata()) != "meta-v1" {
		t.Errorf("Metadata() = %q, want %q", g.Metadata(), "meta-v1")
	}
	if string(g.PingData()) != "ping-v1" {
		t.Errorf("PingData() = %q, want %q", g.PingData(), "ping-v1")
	}
	if g.ListenPortTCP() != 9000 || g.ListenPortUDP() != 9001 {
		t.Errorf("ports = (%d, %d), want (9000, 9001)", g.ListenPortTCP(), g.ListenPortUDP())
	}

	g.SetMetadata([]byte("meta-v2"))
	if string(g.Metadata()) != "meta-v2" {
		t.Errorf("Metadata() after SetMetadata = %q, want %q", g.Metadata(), "meta-v2")
	}

	g.SetListenPortTCP(9100)
	if g.ListenPortTCP() != 9100 {
		t.Errorf("ListenPortTCP() after SetListenPortTCP = %d, want 9100", g.ListenPortTCP())
	}
}

func TestNetworkGlobalsMetadataIsCopied(t *testing.T) {
	original := []byte("meta")
	g := NewNetworkGlobals("p", original, nil, 0, 0)

	original[0] = 'X'
	if string(g.Metadata()) != "meta" {
		t.Error("NewNetworkGlobals did not copy the metadata slice; mutation leaked in")
	}

	got := g.Metadata()
	got[0] = 'Y'
	if string(g.Metadata()) != "meta" {
		t.Error("Metadata() did not return a defensive copy; caller mutation leaked in")
	}
}

func TestNetworkGlobalsSubscriptions(t *testing.T) {
	g := NewNetworkGlobals("p", nil, nil, 0, 0)
	topic := NewGossipTopic(TopicKind("blocks"), [4]byte{1, 2, 3, 4})

	if g.IsSubscribed(topic) {
		t.Fatal("expected no subscriptions initially")
	}

	g.addSubscription(topic)
	if !g.IsSubscribed(topic) {
		t.Error("expected topic to be subscribed after addSubscription")
	}
	subs := g.Subscriptions()
	if len(subs) != 1 || subs[0] != topic {
		t.Errorf("Subscriptions() = %v, want [%v]", subs, topic)
	}

	g.removeSubscription(topic)
	if g.IsSubscribed(topic) {
		t.Error("expected topic unsubscribed after removeSubscription")
	}
}

func TestPeerTableUpdateAndConnectedCount(t *testing.T) {
	tbl := newPeerTable()

	if _, ok := tbl.get("p1"); ok {
		t.Fatal("expected no record for unknown peer")
	}

	tbl.update("p1", func(info *PeerInfo) {
		info.Client = "test-client"
		info.Connected = true
	})
	tbl.update("p2", func(info *PeerInfo) {
		info.Connected = false
	})

	info, ok := tbl.get("p1")
	if !ok || info.Client != "test-client" || !info.Connected {
		t.Errorf("get(p1) = %+v, ok=%v", info, ok)
	}

	if n := tbl.connectedCount(); n != 1 {
		t.Errorf("connectedCount() = %d, want 1", n)
	}
}
