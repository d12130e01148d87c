package chord

import (
	"github.com/jihwankim/dhtsim/pkg/dht"
	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
)

const maxRelayHops = 64

// Node is a Chord participant holding k distinct ring identities (each
// derived by hashing "name‖index"), one finger table per identity, per the
// multi-identity design decision: a single physical process joins the ring
// k times over, improving lookup resilience at the cost of k times the
// maintenance traffic.
type Node struct {
	*dht.DHTNode

	name string
	w    uint
	rnd  *randsrc.Source

	identities []*identity

	stabilizeMean  float64
	stabilizeMin   float64
	fixFingersMean float64
	fixFingersMin  float64

	k          *kernel.Kernel
	nextFinger []int // per-identity cursor for round-robin fix_fingers

	// OnStabilizeError, if set, is invoked when a stabilize round's NOTIFY
	// times out and the subsequent rejoin attempt also fails, letting the
	// CLI log it (per §4.5's "on failure, log ERROR") without this package
	// depending on pkg/logging.
	OnStabilizeError func(name string, index int)
}

// Config bundles the parameters that vary per simulation run.
type Config struct {
	W              uint // ring bit width
	K              int  // identities per physical node
	StabilizeMean  float64
	StabilizeMin   float64
	FixFingersMean float64
	FixFingersMin  float64
}

// New builds a Chord node with k freshly hashed identities and registers
// its protocol handlers on the underlying dht.Node.
func New(name string, node *dht.Node, rnd *randsrc.Source, k *kernel.Kernel, cfg Config) *Node {
	n := &Node{
		name:           name,
		w:              cfg.W,
		rnd:            rnd,
		stabilizeMean:  cfg.StabilizeMean,
		stabilizeMin:   cfg.StabilizeMin,
		fixFingersMean: cfg.FixFingersMean,
		fixFingersMin:  cfg.FixFingersMin,
		k:              k,
		nextFinger:     make([]int, cfg.K),
	}
	for i := 0; i < cfg.K; i++ {
		id := dht.HashIdentity(cfg.W, name, i)
		idy := newIdentity(i, id, node.Ref, cfg.W)
		n.identities = append(n.identities, idy)
	}
	n.DHTNode = dht.NewDHTNode(node, n, cfg.W)

	node.RegisterHandler(dht.GetNode, n.onGetNode)
	node.RegisterHandler(dht.GetPred, n.onGetPred)
	node.RegisterHandler(dht.Notify, n.onNotify)
	node.RegisterHandler(dht.Ping, n.onPing)
	return n
}

// Identities exposes each ring position's id, used by net managers that
// hardwire the first two nodes' successor/predecessor pointers directly.
func (n *Node) Identities() []dht.ID {
	ids := make([]dht.ID, len(n.identities))
	for i, idy := range n.identities {
		ids[i] = idy.id
	}
	return ids
}

// HardwireRing links this node's identity i directly to peer as both
// successor and predecessor, used only to bootstrap the first ring of two
// nodes before the stabilize protocol takes over.
func (n *Node) HardwireRing(index int, peer dht.NodeRef, peerID dht.ID) {
	idy := n.identities[index]
	idy.setSucc(RingPeer{Ref: peer, ID: peerID})
	idy.pred = RingPeer{Ref: peer, ID: peerID}
	idy.hasPred = true
	idy.joined = true
}

// --- protocol handlers ---

func (n *Node) onGetNode(t *kernel.Task, pkt dht.Packet) {
	idx, _ := pkt.Msg.Payload["index"].(int)
	if idx < 0 || idx >= len(n.identities) {
		n.SendResp(pkt.From, dht.GetNodeReply, pkt.Msg.Handle, map[string]interface{}{"ok": false})
		return
	}
	idy := n.identities[idx]
	n.SendResp(pkt.From, dht.GetNodeReply, pkt.Msg.Handle, map[string]interface{}{
		"ok":      true,
		"id":      idy.id,
		"succ":    append([]RingPeer{}, idy.succ...),
		"fingers": append([]RingPeer{}, idy.fingers...),
	})
}

func (n *Node) onGetPred(t *kernel.Task, pkt dht.Packet) {
	idx, _ := pkt.Msg.Payload["index"].(int)
	if idx < 0 || idx >= len(n.identities) {
		n.SendResp(pkt.From, dht.GetPredReply, pkt.Msg.Handle, map[string]interface{}{"hasPred": false})
		return
	}
	idy := n.identities[idx]
	n.SendResp(pkt.From, dht.GetPredReply, pkt.Msg.Handle, map[string]interface{}{
		"hasPred": idy.hasPred,
		"pred":    idy.pred,
	})
}

// onNotify handles a peer's claim to be our predecessor for one identity,
// adopting it when none is known yet or the candidate lies strictly
// between the current predecessor and us. It replies (empty payload) so
// the notifier's stabilize round can detect a dead successor via timeout
// rather than firing NOTIFY and moving on blind.
func (n *Node) onNotify(t *kernel.Task, pkt dht.Packet) {
	idx, _ := pkt.Msg.Payload["index"].(int)
	if idx < 0 || idx >= len(n.identities) {
		n.SendResp(pkt.From, dht.NotifyReply, pkt.Msg.Handle, nil)
		return
	}
	candidate := pkt.Msg.Payload["peer"].(RingPeer)
	idy := n.identities[idx]
	if !idy.hasPred || dht.Between(candidate.ID, idy.pred.ID, idy.id) {
		idy.pred = candidate
		idy.hasPred = true
	}
	n.SendResp(pkt.From, dht.NotifyReply, pkt.Msg.Handle, nil)
}

func (n *Node) onPing(t *kernel.Task, pkt dht.Packet) {
	n.SendResp(pkt.From, dht.PingReply, pkt.Msg.Handle, nil)
}

// --- lookup ---

// FindNode implements dht.Overlay: it resolves key from the perspective of
// every identity this node owns, one iterative lookup per index (the
// unzip_find rendezvous of §4.4), and returns every answer plus the
// largest hop count among them so the caller can settle disagreement by
// quorum while still reporting one routing cost to the client. If every
// per-index search times out, it reports hops=-1 and no candidates.
func (n *Node) FindNode(t *kernel.Task, key dht.ID) ([]dht.NodeRef, int) {
	refs := make([]dht.NodeRef, 0, len(n.identities))
	maxHops := -1
	for i := range n.identities {
		ref, hops, ok := n.findSuccessorOnIndex(t, key, i)
		if !ok {
			continue
		}
		refs = append(refs, ref)
		if hops > maxHops {
			maxHops = hops
		}
	}
	if len(refs) == 0 {
		return nil, -1
	}
	return refs, maxHops
}

// findSuccessorOnIndex relays GET_NODE requests towards key starting from
// this identity's own best candidate, bumping hops on every forward, per
// §4.5's "On peer timeout, purge the offending peer ... and return
// (null, -1)" rule.
func (n *Node) findSuccessorOnIndex(t *kernel.Task, key dht.ID, index int) (ref dht.NodeRef, hops int, ok bool) {
	idy := n.identities[index]
	curRef := n.Ref
	curID := idy.id
	curSucc := idy.primarySucc()
	fingers := idy.fingers
	if idy.hasPred && (dht.Between(key, idy.pred.ID, idy.id) || key.Equal(idy.id)) {
		return n.Ref, 0, true
	}

	for hop := 0; hop < maxRelayHops; hop++ {
		if curSucc.Ref == curRef {
			return curRef, hop, true
		}
		if dht.Between(key, curID, curSucc.ID) || key.Equal(curSucc.ID) {
			return curSucc.Ref, hop, true
		}

		var next RingPeer
		if curRef == n.Ref {
			next = idy.closestPrecedingFinger(key)
		} else {
			next = closestPrecedingFromRow(curID, fingers, key)
		}
		if next.Ref == curRef {
			return curSucc.Ref, hop, true
		}

		h := n.SendReq(next.Ref, dht.GetNode, map[string]interface{}{"index": index, "key": key})
		reply, got := n.WaitResp(t, h)
		if !got {
			if curRef == n.Ref {
				for _, other := range n.identities {
					other.purge(next.Ref)
				}
			}
			return dht.NodeRef{}, -1, false
		}
		if ok2, _ := reply.Payload["ok"].(bool); !ok2 {
			return curSucc.Ref, hop, true
		}
		curRef = next.Ref
		curID = reply.Payload["id"].(dht.ID)
		fingers, _ = reply.Payload["fingers"].([]RingPeer)
		succList, _ := reply.Payload["succ"].([]RingPeer)
		if len(succList) == 0 {
			return curRef, hop + 1, true
		}
		curSucc = succList[0]
	}
	return curSucc.Ref, maxRelayHops, true
}

func closestPrecedingFromRow(id dht.ID, fingers []RingPeer, key dht.ID) RingPeer {
	for i := len(fingers) - 1; i >= 0; i-- {
		f := fingers[i]
		if f.valid() && dht.Between(f.ID, id, key) {
			return f
		}
	}
	return RingPeer{}
}

// Join performs a Chord join for every identity in parallel: each identity
// sends one GET_NODE to the bootstrap node and adopts the bootstrap's
// current successor on that index (or the bootstrap itself if it has none)
// as its initial successor. No lookup of the identity's own id is made, so
// that initial successor is not necessarily its ring successor;
// stabilize/notify move the successor and predecessor pointers from there.
// It reports true if at least one identity joined, matching the "any
// succeeded" join_network semantics.
func (n *Node) Join(t *kernel.Task, bootstrap dht.NodeRef) bool {
	done := make([]*kernel.Event, len(n.identities))
	joined := make([]bool, len(n.identities))
	for i := range n.identities {
		i := i
		done[i] = kernel.NewEvent()
		n.k.Spawn(func(sub *kernel.Task) {
			joined[i] = n.joinIndex(sub, bootstrap, i)
			done[i].Fire(nil, nil)
		})
	}
	n.k.AllOf(t, done, nil)
	for _, ok := range joined {
		if ok {
			return true
		}
	}
	return false
}

func (n *Node) joinIndex(t *kernel.Task, bootstrap dht.NodeRef, index int) bool {
	idy := n.identities[index]
	h := n.SendReq(bootstrap, dht.GetNode, map[string]interface{}{"index": index, "key": idy.id})
	reply, ok := n.WaitResp(t, h)
	if !ok {
		return false
	}
	succList, _ := reply.Payload["succ"].([]RingPeer)
	selfAsSucc := RingPeer{Ref: bootstrap, ID: reply.Payload["id"].(dht.ID)}
	if len(succList) > 0 {
		idy.setSucc(succList[0])
	} else {
		idy.setSucc(selfAsSucc)
	}
	idy.joined = true
	return true
}

// HardwireWith mutually links this node with other as every identity's
// successor and predecessor, bootstrapping the first ring of two nodes
// before any join traffic or stabilize round has run.
func (n *Node) HardwireWith(other *Node) {
	for i := range n.identities {
		n.HardwireRing(i, other.Ref, other.identities[i].id)
		other.HardwireRing(i, n.Ref, n.identities[i].id)
	}
}

// StartMaintenance spawns the periodic stabilize/fix-fingers tasks for
// every identity, each on its own Normal-distributed period (capped below
// by a minimum so back-to-back runs can't starve the event loop).
func (n *Node) StartMaintenance() {
	for i := range n.identities {
		idx := i
		n.k.Spawn(func(t *kernel.Task) { n.stabilizeLoop(t, idx) })
		n.k.Spawn(func(t *kernel.Task) { n.fixFingersLoop(t, idx) })
	}
}

func (n *Node) stabilizeLoop(t *kernel.Task, index int) {
	for {
		n.k.Sleep(t, n.rnd.Normal(n.stabilizeMean, n.stabilizeMean/4, n.stabilizeMin))
		if n.Crashed() {
			return
		}
		n.stabilize(t, index)
	}
}

func (n *Node) stabilize(t *kernel.Task, index int) {
	idy := n.identities[index]
	succ := idy.primarySucc()
	if succ.Ref == n.Ref {
		return
	}
	h := n.SendReq(succ.Ref, dht.GetPred, map[string]interface{}{"index": index})
	reply, ok := n.WaitResp(t, h)
	if !ok {
		idy.purge(succ.Ref)
		return
	}
	if hasPred, _ := reply.Payload["hasPred"].(bool); hasPred {
		pred := reply.Payload["pred"].(RingPeer)
		if pred.valid() && pred.Ref != n.Ref && dht.Between(pred.ID, idy.id, succ.ID) {
			idy.setSucc(pred)
			succ = pred
		}
	}
	nh := n.SendReq(succ.Ref, dht.Notify, map[string]interface{}{"index": index, "peer": idy.self_()})
	if _, ok := n.WaitResp(t, nh); ok {
		return
	}
	// NOTIFY went unanswered: treat succ as gone, purge it, and try to
	// rejoin this index through whatever other contact point (predecessor
	// or a surviving finger) is still known. Only if that also fails is
	// there genuinely nothing left to route through.
	idy.purge(succ.Ref)
	fallback := idy.fallbackPeer()
	if !fallback.valid() || !n.joinIndex(t, fallback.Ref, index) {
		if n.OnStabilizeError != nil {
			n.OnStabilizeError(n.name, index)
		}
	}
}

func (n *Node) fixFingersLoop(t *kernel.Task, index int) {
	for {
		n.k.Sleep(t, n.rnd.Normal(n.fixFingersMean, n.fixFingersMean/4, n.fixFingersMin))
		if n.Crashed() {
			return
		}
		n.fixOneFinger(t, index)
	}
}

func (n *Node) fixOneFinger(t *kernel.Task, index int) {
	idy := n.identities[index]
	j := n.nextFinger[index]
	n.nextFinger[index] = (j + 1) % int(n.w)
	if j == len(idy.fingers)-1 {
		idy.fingers[j] = idy.primarySucc()
		return
	}
	target := idy.id.AddPow2(uint(j))
	ref, _, ok := n.findSuccessorOnIndex(t, target, index)
	if !ok {
		return
	}
	if ref == n.Ref {
		idy.fingers[j] = idy.self_()
		return
	}
	h := n.SendReq(ref, dht.GetNode, map[string]interface{}{"index": index, "key": target})
	reply, ok := n.WaitResp(t, h)
	if !ok {
		return
	}
	idy.fingers[j] = RingPeer{Ref: ref, ID: reply.Payload["id"].(dht.ID)}
}
