package kademlia

import (
	"math/big"
	"sort"

	"github.com/jihwankim/dhtsim/pkg/dht"
	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
)

// Config bundles the per-run Kademlia parameters.
type Config struct {
	W            uint // id bit width, also the bucket count
	BucketSize   int  // k
	Alpha        int  // lookup concurrency
	LookupRounds int  // safety cap on iterative rounds
}

// PeerInfo is a peer ref plus the id it claims, the unit exchanged in
// GET_NODE replies so a lookup can judge distance without a further
// round trip.
type PeerInfo struct {
	Ref dht.NodeRef
	ID  dht.ID
}

// Node is a Kademlia participant: one id, W XOR-distance buckets, and a
// blackset of peers that have stopped answering.
type Node struct {
	*dht.DHTNode

	name      string
	id        dht.ID
	w         uint
	k         int
	a         int
	maxRounds int

	buckets  []*bucket
	blackset map[dht.NodeRef]bool

	rnd *randsrc.Source
	ker *kernel.Kernel
}

// New builds a Kademlia node and registers its protocol handlers.
func New(name string, node *dht.Node, rnd *randsrc.Source, k *kernel.Kernel, cfg Config) *Node {
	n := &Node{
		name:      name,
		id:        dht.HashID(cfg.W, name),
		w:         cfg.W,
		k:         cfg.BucketSize,
		a:         cfg.Alpha,
		maxRounds: cfg.LookupRounds,
		blackset:  make(map[dht.NodeRef]bool),
		rnd:       rnd,
		ker:       k,
	}
	n.buckets = make([]*bucket, cfg.W)
	for i := range n.buckets {
		n.buckets[i] = newBucket(cfg.BucketSize)
	}
	n.DHTNode = dht.NewDHTNode(node, n, cfg.W)

	node.RegisterHandler(dht.GetNode, n.onGetNode)
	node.RegisterHandler(dht.Ping, n.onPing)
	return n
}

// ID exposes this node's identifier, used by net managers seeding the
// first bootstrap pair's buckets directly.
func (n *Node) ID() dht.ID { return n.id }

func (n *Node) bucketIndexFor(id dht.ID) int {
	return dht.BucketIndex(dht.XORDistance(n.id, id))
}

func (n *Node) touch(peer dht.NodeRef, id dht.ID) {
	if n.blackset[peer] {
		return
	}
	n.buckets[n.bucketIndexFor(id)].touch(peer, id)
}

// SeedBucket directly inserts peer as a known contact, used only to
// hardwire the first two nodes of a network before any lookup traffic has
// occurred.
func (n *Node) SeedBucket(peer dht.NodeRef, id dht.ID) { n.touch(peer, id) }

func (n *Node) onGetNode(t *kernel.Task, pkt dht.Packet) {
	if senderID, ok := pkt.Msg.Payload["senderID"].(dht.ID); ok {
		n.touch(pkt.From, senderID)
	}
	target := pkt.Msg.Payload["target"].(dht.ID)
	closest := n.closestKnown(target, n.k)
	n.SendResp(pkt.From, dht.GetNodeReply, pkt.Msg.Handle, map[string]interface{}{
		"peers": closest,
		"id":    n.id,
	})
}

func (n *Node) onPing(t *kernel.Task, pkt dht.Packet) {
	n.SendResp(pkt.From, dht.PingReply, pkt.Msg.Handle, nil)
}

// closestKnown gathers candidate peers by walking buckets outward from the
// target's own bucket index (target bucket, then one below, one above, two
// below, two above, ...) the way swarm/network/hive.go refreshes its
// nearest-neighbour set, then sorts the union by exact XOR distance and
// returns the closest count.
func (n *Node) closestKnown(target dht.ID, count int) []PeerInfo {
	home := n.bucketIndexFor(target)
	seen := make(map[dht.NodeRef]bool)
	var candidates []PeerInfo

	addBucket := func(idx int) {
		if idx < 0 || idx >= len(n.buckets) {
			return
		}
		b := n.buckets[idx]
		for _, ref := range b.all() {
			if seen[ref] || n.blackset[ref] {
				continue
			}
			seen[ref] = true
			candidates = append(candidates, PeerInfo{Ref: ref, ID: b.ids[ref]})
		}
	}

	addBucket(home)
	for off := 1; off < len(n.buckets) && len(candidates) < count*4; off++ {
		addBucket(home - off)
		addBucket(home + off)
	}

	sortByDistance(target, candidates)
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

func sortByDistance(target dht.ID, peers []PeerInfo) {
	sort.Slice(peers, func(i, j int) bool {
		di := dht.XORDistance(target, peers[i].ID)
		dj := dht.XORDistance(target, peers[j].ID)
		return di.Cmp(dj) < 0
	})
}

// FindNode implements dht.Overlay with the standard alpha-bounded
// iterative lookup: each round queries up to alpha not-yet-contacted
// peers from the shortlist concurrently, merges in whatever closer peers
// they report, and stops once a round yields no improvement, grounded on
// other_examples' storj-storj worker/workingSet bounded-parallel pattern.
// The returned hop count is the number of rounds that actually dispatched
// a query; it is -1 if the lookup could not resolve a single candidate
// (an empty routing table with no bootstrap peer to start from).
func (n *Node) FindNode(t *kernel.Task, target dht.ID) ([]dht.NodeRef, int) {
	shortlist := n.closestKnown(target, n.k)
	contacted := make(map[dht.NodeRef]bool)
	best := bestDistance(target, shortlist)
	rounds := 0

	for round := 0; round < n.maxRounds; round++ {
		batch := pickUncontacted(shortlist, contacted, n.a)
		if len(batch) == 0 {
			break
		}
		for _, p := range batch {
			contacted[p.Ref] = true
		}
		rounds++

		gathered := n.queryBatch(t, target, batch)
		for _, p := range gathered {
			if !containsPeer(shortlist, p.Ref) {
				shortlist = append(shortlist, p)
			}
		}
		sortByDistance(target, shortlist)
		if len(shortlist) > n.k {
			shortlist = shortlist[:n.k]
		}

		d := bestDistance(target, shortlist)
		if best != nil && d != nil && d.Cmp(best) >= 0 {
			break
		}
		best = d
	}

	if len(shortlist) == 0 {
		return nil, -1
	}
	out := make([]dht.NodeRef, len(shortlist))
	for i, p := range shortlist {
		out[i] = p.Ref
	}
	return out, rounds
}

// queryBatch fires one GET_NODE at every peer in batch concurrently (each
// on its own child task) and waits for all of them to answer or time out
// before returning whatever peers they reported.
func (n *Node) queryBatch(t *kernel.Task, target dht.ID, batch []PeerInfo) []PeerInfo {
	type result struct {
		peers []PeerInfo
		ok    bool
	}
	results := make([]result, len(batch))
	done := make([]*kernel.Event, len(batch))

	for i, peer := range batch {
		i, peer := i, peer
		done[i] = kernel.NewEvent()
		n.ker.Spawn(func(sub *kernel.Task) {
			h := n.SendReq(peer.Ref, dht.GetNode, map[string]interface{}{"target": target, "senderID": n.id})
			reply, ok := n.WaitResp(sub, h)
			if !ok {
				n.blackset[peer.Ref] = true
				for _, b := range n.buckets {
					b.remove(peer.Ref)
				}
				done[i].Fire(nil, nil)
				return
			}
			peers, _ := reply.Payload["peers"].([]PeerInfo)
			if id, ok := reply.Payload["id"].(dht.ID); ok {
				n.touch(peer.Ref, id)
			}
			results[i] = result{peers: peers, ok: true}
			done[i].Fire(nil, nil)
		})
	}

	// Each sub-query already carries its own bounded request timeout inside
	// WaitResp, so AllOf here only needs to wait for every done event - it
	// is never raced against a second timeout.
	n.ker.AllOf(t, done, nil)

	var gathered []PeerInfo
	for _, r := range results {
		if r.ok {
			gathered = append(gathered, r.peers...)
		}
	}
	return gathered
}

func pickUncontacted(shortlist []PeerInfo, contacted map[dht.NodeRef]bool, limit int) []PeerInfo {
	var out []PeerInfo
	for _, p := range shortlist {
		if contacted[p.Ref] {
			continue
		}
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func containsPeer(list []PeerInfo, ref dht.NodeRef) bool {
	for _, p := range list {
		if p.Ref == ref {
			return true
		}
	}
	return false
}

func bestDistance(target dht.ID, peers []PeerInfo) *big.Int {
	if len(peers) == 0 {
		return nil
	}
	return dht.XORDistance(target, peers[0].ID)
}

// Join performs join_network: contact bootstrap to learn its id, seed it
// (and whatever peers it already knows about) into the bucket table, then
// run a self-lookup to populate buckets with peers close to this node. It
// reports true only if that self-lookup turned up at least one candidate,
// matching the original's "insert bootstrap, find_node(self), report
// whether it found anyone" semantics.
func (n *Node) Join(t *kernel.Task, bootstrap dht.NodeRef) bool {
	h := n.SendReq(bootstrap, dht.GetNode, map[string]interface{}{"target": n.id, "senderID": n.id})
	reply, ok := n.WaitResp(t, h)
	if !ok {
		return false
	}
	if bootstrapID, ok := reply.Payload["id"].(dht.ID); ok {
		n.touch(bootstrap, bootstrapID)
	}
	if peers, ok := reply.Payload["peers"].([]PeerInfo); ok {
		for _, p := range peers {
			n.touch(p.Ref, p.ID)
		}
	}
	found, _ := n.FindNode(t, n.id)
	return len(found) > 0
}

// StartMaintenance is a no-op: Kademlia's routing state only ever changes
// as a side effect of lookup traffic (bucket touches on every reply), so
// there is no periodic refresh loop to spawn here, unlike Chord's
// stabilize/fix-fingers. The method exists so net managers can address
// both overlays through the same interface.
func (n *Node) StartMaintenance() {}

// HardwireWith mutually seeds each node's bucket table with the other,
// bootstrapping the first pair of a network before any join traffic.
func (n *Node) HardwireWith(other *Node) {
	n.SeedBucket(other.Ref, other.id)
	other.SeedBucket(n.Ref, n.id)
}
