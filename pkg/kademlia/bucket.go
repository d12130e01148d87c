// Package kademlia implements the Kademlia overlay: XOR-distance k-buckets
// with LRU eviction, a blackset of unresponsive peers, and an alpha-bounded
// iterative lookup, grounded on other_examples' storj-storj pkg/kademlia
// worker/workingSet pattern for the bounded-parallel search and on
// swarm/network/hive.go's neighbour iteration for bucket refresh.
package kademlia

import "github.com/jihwankim/dhtsim/pkg/dht"

// bucket holds up to capacity peers ordered least-recently-seen first, so
// the head is always the next eviction candidate.
type bucket struct {
	peers    []dht.NodeRef
	ids      map[dht.NodeRef]dht.ID
	capacity int
}

func newBucket(capacity int) *bucket {
	return &bucket{capacity: capacity, ids: make(map[dht.NodeRef]dht.ID)}
}

// touch records a sighting of peer, moving it to the most-recently-seen
// end. If the bucket is full and peer is new, the least-recently-seen
// entry (the head) is evicted to make room - the simplified LRU rule
// spec'd in §4.6 (a production design would ping the old head first; the
// model accepts evicting it outright).
func (b *bucket) touch(peer dht.NodeRef, id dht.ID) {
	for i, p := range b.peers {
		if p == peer {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			b.peers = append(b.peers, peer)
			return
		}
	}
	if len(b.peers) >= b.capacity {
		evicted := b.peers[0]
		b.peers = b.peers[1:]
		delete(b.ids, evicted)
	}
	b.peers = append(b.peers, peer)
	b.ids[peer] = id
}

// remove drops peer from the bucket entirely, used when a query to it
// times out.
func (b *bucket) remove(peer dht.NodeRef) {
	for i, p := range b.peers {
		if p == peer {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			delete(b.ids, peer)
			return
		}
	}
}

func (b *bucket) all() []dht.NodeRef { return b.peers }
