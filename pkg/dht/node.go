package dht

import (
	"strings"

	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
)

// isReplyType reports whether mt is a reply variant (every reply constant
// in message.go is named "..._REPLY"). Enqueue uses this to resolve
// replies the moment they arrive rather than queueing them behind the
// serve loop's service-time discipline - a reply must never wait behind
// the very task that is parked awaiting it.
func isReplyType(mt MessageType) bool {
	return strings.HasSuffix(string(mt), "_REPLY")
}

// Handler processes one delivered packet. It runs inside the node's serve
// task, so it may itself call SendReq/WaitResp to perform nested lookups
// (e.g. Chord's find_node_on_index relaying through several hops) - the
// queue's single in-flight request stays serialized while it does, matching
// the service-time discipline in original_source's DHTNode.in_queue
// (simpy.Resource(capacity=1)).
type Handler func(t *kernel.Task, pkt Packet)

// Network routes a packet to its destination, applying whatever
// transmission delay the implementation models (haversine distance in
// pkg/network's registry). Node never reaches into a node registry
// directly - it only knows how to hand a packet to its Network.
type Network interface {
	Route(pkt Packet)
}

// Node is the runtime shared by every overlay: a bounded receive queue
// served one packet at a time at an Exponential(meanServiceTime) rate, a
// request/reply correlation table keyed by Handle, and per-message-type
// handler dispatch. Chord and Kademlia register handlers for their
// protocol messages and layer routing state on top.
type Node struct {
	Ref NodeRef

	k   *kernel.Kernel
	net Network
	rnd *randsrc.Source

	queueCapacity   int
	meanServiceTime float64
	requestTimeout  float64

	inbox   []Packet
	arrival *kernel.Event

	handlers map[MessageType]Handler
	pending  map[Handle]*kernel.Event
	nextH    Handle

	crashed bool

	// QueueSample, if set, is called every time a packet is dequeued, with
	// the current simulation time and the queue length left behind - the
	// hook the trace collector's queue_load series is built from.
	QueueSample func(t float64, qlen int)
	// OnDrop, if set, is called when an arriving packet is rejected because
	// the queue is full or the node is crashed.
	OnDrop func(pkt Packet)
}

// NewNode builds a Node ready to have its overlay-specific handlers
// registered and then be started.
func NewNode(ref NodeRef, k *kernel.Kernel, net Network, rnd *randsrc.Source, queueCapacity int, meanServiceTime, requestTimeout float64) *Node {
	return &Node{
		Ref:             ref,
		k:               k,
		net:             net,
		rnd:             rnd,
		queueCapacity:   queueCapacity,
		meanServiceTime: meanServiceTime,
		requestTimeout:  requestTimeout,
		handlers:        make(map[MessageType]Handler),
		pending:         make(map[Handle]*kernel.Event),
	}
}

// RegisterHandler binds a handler for a message type. Overlay packages call
// this during node construction for every request type they serve.
func (n *Node) RegisterHandler(t MessageType, h Handler) {
	n.handlers[t] = h
}

// GetRef returns this node's stable reference, exposed as a method (rather
// than relying on callers reaching through the embedded Ref field
// directly) so that net manager code can address any overlay node
// uniformly through a small interface.
func (n *Node) GetRef() NodeRef { return n.Ref }

// Crashed reports whether this node currently refuses new work.
func (n *Node) Crashed() bool { return n.crashed }

// Crash marks the node as down: further arrivals are dropped and the serve
// loop stops dispatching - a packet whose service time ends after the
// crash is discarded unhandled. A handler that was already running when
// the crash happened is not interrupted and runs to completion.
func (n *Node) Crash() { n.crashed = true }

// Revive clears the crashed flag, used when a net manager recycles a node
// reference for a fresh join rather than minting a new one.
func (n *Node) Revive() { n.crashed = false }

// Enqueue is how Network delivers an inbound packet. It returns false (and
// invokes OnDrop) if the node is crashed or its queue is already full.
//
// Reply-type packets bypass the receive queue entirely and resolve their
// correlation handle immediately: the node's serve loop is the only task
// that ever dequeues from inbox, so if a reply had to wait its turn
// behind other packets, a handler that is itself blocked in WaitResp on
// that very serve loop could never be woken (its own loop can't advance
// to deliver the reply it's waiting for). original_source's send_resp
// has the same shape - it calls recv_req.succeed() directly rather than
// routing the reply through another env.process - so a reply is resolved
// the instant it lands, not serviced as a queued packet.
func (n *Node) Enqueue(pkt Packet) bool {
	if n.crashed {
		if n.OnDrop != nil {
			n.OnDrop(pkt)
		}
		return false
	}
	if isReplyType(pkt.Msg.Type) {
		n.resolveReply(pkt)
		return true
	}
	if n.queueCapacity > 0 && len(n.inbox) >= n.queueCapacity {
		if n.OnDrop != nil {
			n.OnDrop(pkt)
		}
		return false
	}
	n.inbox = append(n.inbox, pkt)
	if n.arrival != nil {
		n.arrival.Fire(nil, nil)
		n.arrival = nil
	}
	return true
}

// Start spawns the node's serve loop task, which runs for the node's
// entire lifetime (crash or not - a crashed node simply stops producing
// effects, per Crash's doc comment).
func (n *Node) Start() *kernel.Task {
	return n.k.Spawn(func(t *kernel.Task) {
		n.serve(t)
	})
}

func (n *Node) serve(t *kernel.Task) {
	for {
		for len(n.inbox) == 0 {
			if n.arrival == nil {
				n.arrival = kernel.NewEvent()
			}
			n.k.Await(t, n.arrival)
		}
		pkt := n.inbox[0]
		n.inbox = n.inbox[1:]
		if n.QueueSample != nil {
			n.QueueSample(n.k.Now(), len(n.inbox))
		}
		n.k.Sleep(t, n.rnd.Exponential(n.meanServiceTime))
		if n.crashed {
			continue
		}
		if h, ok := n.handlers[pkt.Msg.Type]; ok {
			h(t, pkt)
		}
	}
}

// SendReq sends a request and returns its correlation Handle; the Event its
// reply will fire is kept in the node's pending table. Callers typically
// follow with WaitResp(t, handle).
func (n *Node) SendReq(to NodeRef, msgType MessageType, payload map[string]interface{}) Handle {
	n.nextH++
	h := n.nextH
	ev := kernel.NewEvent()
	n.pending[h] = ev
	n.net.Route(Packet{From: n.Ref, To: to, Msg: Message{Type: msgType, Payload: payload, Handle: h}})
	return h
}

// SendResp replies to a previously received request, echoing its handle so
// the original sender's pending table can resolve it.
func (n *Node) SendResp(to NodeRef, msgType MessageType, handle Handle, payload map[string]interface{}) {
	n.net.Route(Packet{From: n.Ref, To: to, Msg: Message{Type: msgType, Payload: payload, Handle: handle}})
}

// resolveReply fires the pending correlation event a reply packet
// addresses, if one is still outstanding. A handle with no pending
// waiter means the original request already timed out (WaitResp deletes
// the pending entry when its wait ends); the reply is then silently
// dropped, which is how a late-arriving reply is ignored without any
// explicit cancellation.
func (n *Node) resolveReply(pkt Packet) {
	if ev, ok := n.pending[pkt.Msg.Handle]; ok {
		delete(n.pending, pkt.Msg.Handle)
		ev.Fire(pkt.Msg, nil)
	}
}

// WaitResp blocks the calling task until handle's reply arrives or the
// node's request timeout elapses, whichever comes first - the
// any_of(reply, timeout) idiom used throughout the protocol's relaying
// logic.
func (n *Node) WaitResp(t *kernel.Task, handle Handle) (Message, bool) {
	ev, ok := n.pending[handle]
	if !ok {
		return Message{}, false
	}
	timeout := n.k.NewTimeout(n.requestTimeout)
	idx, val, _ := n.k.AnyOf(t, ev, timeout)
	delete(n.pending, handle)
	if idx == 0 {
		return val.(Message), true
	}
	return Message{}, false
}

// RequestTimeout exposes the per-node request timeout so client code can
// derive its own (typically larger) end-to-end timeout from it.
func (n *Node) RequestTimeout() float64 { return n.requestTimeout }
