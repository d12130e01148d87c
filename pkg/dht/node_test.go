package dht

import (
	"testing"

	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
)

// directNetwork routes packets synchronously to whichever node is
// registered under the destination ref, applying zero transmission delay -
// enough to exercise Node/DHTNode logic without pulling in pkg/network.
type directNetwork struct {
	k     *kernel.Kernel
	nodes map[NodeRef]*Node
}

func newDirectNetwork(k *kernel.Kernel) *directNetwork {
	return &directNetwork{k: k, nodes: make(map[NodeRef]*Node)}
}

func (d *directNetwork) add(n *Node) { d.nodes[n.Ref] = n }

func (d *directNetwork) Route(pkt Packet) {
	d.k.ScheduleAfter(0, func() {
		if target, ok := d.nodes[pkt.To]; ok {
			target.Enqueue(pkt)
		}
	})
}

func TestTwoNodeEchoGetSetValue(t *testing.T) {
	k := kernel.New()
	net := newDirectNetwork(k)
	rnd := randsrc.New(1, 1)

	a := NewNode(NodeRef{Name: "a"}, k, net, rnd, 10, 1.0, 1000)
	b := NewNode(NodeRef{Name: "b"}, k, net, rnd, 10, 1.0, 1000)
	net.add(a)
	net.add(b)

	overlayA := constOverlay{refs: []NodeRef{b.Ref}}
	overlayB := constOverlay{refs: []NodeRef{a.Ref}}
	dhtA := NewDHTNode(a, overlayA, 32)
	_ = NewDHTNode(b, overlayB, 32)

	a.Start()
	b.Start()

	var stored bool
	var got interface{}
	var ok bool
	key := HashID(32, "k1")
	k.Spawn(func(task *kernel.Task) {
		stored = dhtA.StoreValue(task, key, "hello")
		got, ok = dhtA.FindValue(task, key)
	})

	k.Run()

	if !stored {
		t.Fatalf("expected store to succeed")
	}
	if !ok || got != "hello" {
		t.Fatalf("expected to read back 'hello', got %v,%v", got, ok)
	}
}

type constOverlay struct{ refs []NodeRef }

func (o constOverlay) FindNode(t *kernel.Task, key ID) ([]NodeRef, int) {
	if len(o.refs) == 0 {
		return nil, -1
	}
	return o.refs, 0
}

// TestWireStoreFindValueReportsHops exercises the client-facing,
// string-keyed FIND_VALUE/STORE_VALUE protocol (as opposed to the direct,
// ID-keyed Go API) and checks the reply carries the overlay's hop count.
func TestWireStoreFindValueReportsHops(t *testing.T) {
	k := kernel.New()
	net := newDirectNetwork(k)
	rnd := randsrc.New(5, 1)

	a := NewNode(NodeRef{Name: "a"}, k, net, rnd, 10, 1.0, 1000)
	b := NewNode(NodeRef{Name: "b"}, k, net, rnd, 10, 1.0, 1000)
	net.add(a)
	net.add(b)

	overlayA := constOverlay{refs: []NodeRef{b.Ref}}
	overlayB := constOverlay{refs: []NodeRef{a.Ref}}
	NewDHTNode(a, overlayA, 32)
	NewDHTNode(b, overlayB, 32)

	a.Start()
	b.Start()

	var storeReply, findReply Message
	k.Spawn(func(task *kernel.Task) {
		h := a.SendReq(b.Ref, StoreValue, map[string]interface{}{"key": "k1", "value": "v1"})
		storeReply, _ = a.WaitResp(task, h)
		h = a.SendReq(b.Ref, FindValue, map[string]interface{}{"key": "k1"})
		findReply, _ = a.WaitResp(task, h)
	})

	k.Run()

	if storeReply.Payload["hops"].(int) != 0 {
		t.Fatalf("expected STORE_VALUE_REPLY hops=0 for a one-hop overlay, got %v", storeReply.Payload["hops"])
	}
	if findReply.Payload["value"] != "v1" {
		t.Fatalf("expected FIND_VALUE_REPLY to return v1, got %v", findReply.Payload["value"])
	}
	if findReply.Payload["hops"].(int) != 0 {
		t.Fatalf("expected FIND_VALUE_REPLY hops=0, got %v", findReply.Payload["hops"])
	}
}

// TestWireFindValueFailedRoutingReportsNegativeHops checks that when the
// overlay itself cannot resolve a candidate, the reply's hops is -1 per
// §7's "hops == -1 marks in-protocol timeouts" rule.
func TestWireFindValueFailedRoutingReportsNegativeHops(t *testing.T) {
	k := kernel.New()
	net := newDirectNetwork(k)
	rnd := randsrc.New(6, 1)

	a := NewNode(NodeRef{Name: "a"}, k, net, rnd, 10, 1.0, 1000)
	b := NewNode(NodeRef{Name: "b"}, k, net, rnd, 10, 1.0, 1000)
	net.add(a)
	net.add(b)

	failingOverlay := constOverlay{refs: nil}
	NewDHTNode(b, failingOverlay, 32)
	a.Start()
	b.Start()

	var reply Message
	k.Spawn(func(task *kernel.Task) {
		h := a.SendReq(b.Ref, FindValue, map[string]interface{}{"key": "missing"})
		reply, _ = a.WaitResp(task, h)
	})

	k.Run()

	if reply.Payload["hops"].(int) != -1 {
		t.Fatalf("expected hops=-1 when the overlay returns no candidate, got %v", reply.Payload["hops"])
	}
}

func TestQueueOverflowDropsPacket(t *testing.T) {
	k := kernel.New()
	net := newDirectNetwork(k)
	rnd := randsrc.New(2, 1)

	n := NewNode(NodeRef{Name: "n"}, k, net, rnd, 1, 1000.0, 1000)
	net.add(n)
	n.RegisterHandler(Ping, func(t *kernel.Task, pkt Packet) {})

	var drops int
	n.OnDrop = func(pkt Packet) { drops++ }

	n.Start()

	k.Spawn(func(task *kernel.Task) {
		for i := 0; i < 5; i++ {
			n.Enqueue(Packet{From: NodeRef{Name: "x"}, To: n.Ref, Msg: Message{Type: Ping}})
		}
	})

	k.RunUntil(1)

	if drops == 0 {
		t.Fatalf("expected at least one dropped packet when queue capacity=1 and 5 arrive at once")
	}
}

func TestCrashedNodeDropsArrivals(t *testing.T) {
	k := kernel.New()
	net := newDirectNetwork(k)
	rnd := randsrc.New(3, 1)

	n := NewNode(NodeRef{Name: "n"}, k, net, rnd, 10, 1.0, 1000)
	net.add(n)
	n.Crash()

	var dropped bool
	n.OnDrop = func(pkt Packet) { dropped = true }

	if n.Enqueue(Packet{Msg: Message{Type: Ping}}) {
		t.Fatalf("expected Enqueue to fail on a crashed node")
	}
	if !dropped {
		t.Fatalf("expected OnDrop to fire for a crashed node")
	}
}

func TestWaitRespTimesOutWithoutReply(t *testing.T) {
	k := kernel.New()
	net := newDirectNetwork(k)
	rnd := randsrc.New(4, 1)

	a := NewNode(NodeRef{Name: "a"}, k, net, rnd, 10, 1.0, 5)
	b := NewNode(NodeRef{Name: "b"}, k, net, rnd, 10, 1.0, 5)
	net.add(a)
	net.add(b)
	// b registers no handler for PING, so it silently drops the request.
	a.Start()
	b.Start()

	var gotReply bool
	k.Spawn(func(task *kernel.Task) {
		h := a.SendReq(b.Ref, Ping, nil)
		_, gotReply = a.WaitResp(task, h)
	})

	k.Run()

	if gotReply {
		t.Fatalf("expected WaitResp to time out when no reply is ever sent")
	}
}
