// Package chord implements the Chord overlay: multi-identity ring
// membership, finger tables, and the stabilize/notify/fix-fingers
// maintenance protocols, grounded on original_source's chord/net_manager.py
// and the narrative node behavior in the distributed spec this package
// implements.
package chord

import "github.com/jihwankim/dhtsim/pkg/dht"

// RingPeer is everything a remote lookup needs to know about one of a
// node's identities: its ring position and how to reach it. Carrying the
// id alongside the ref keeps every ring-distance comparison local to
// whichever node is doing the comparing, rather than trusting a shared
// registry - comparisons only use information a node actually received in
// a reply.
type RingPeer struct {
	Ref dht.NodeRef
	ID  dht.ID
}

func (p RingPeer) valid() bool { return p.Ref.Name != "" }

// identity is one of a physical node's k ring memberships: its own
// position, successor list, predecessor, and finger table.
type identity struct {
	index   int
	id      dht.ID
	self    dht.NodeRef
	succ    []RingPeer // succ[0] is the primary successor
	pred    RingPeer
	hasPred bool
	fingers []RingPeer // fingers[j] targets id + 2^j
	joined  bool
}

func newIdentity(index int, id dht.ID, self dht.NodeRef, w uint) *identity {
	return &identity{
		index:   index,
		id:      id,
		self:    self,
		succ:    nil,
		fingers: make([]RingPeer, w),
	}
}

func (idy *identity) self_() RingPeer { return RingPeer{Ref: idy.self, ID: idy.id} }

// primarySucc returns the identity's first live successor, falling back to
// itself if the successor list is empty (a freshly created, unjoined ring
// of one).
func (idy *identity) primarySucc() RingPeer {
	if len(idy.succ) == 0 {
		return idy.self_()
	}
	return idy.succ[0]
}

// setSucc installs p as the identity's successor and keeps the finger
// table's last slot aliased to it, maintaining the invariant that the last
// finger row entry always equals the current successor (§3/§4.5) without
// waiting for fix_fingers' round-robin refresh to reach that slot.
func (idy *identity) setSucc(p RingPeer) {
	idy.succ = []RingPeer{p}
	if n := len(idy.fingers); n > 0 {
		idy.fingers[n-1] = p
	}
}

// purge removes peer from the successor list and from every finger row
// that currently points at it, matching the "drop a failed peer wherever
// it appears" rule grounded on storj's worker blackset handling and
// swarm/network/hive.go's peer-removal sweep.
func (idy *identity) purge(ref dht.NodeRef) {
	kept := idy.succ[:0]
	for _, p := range idy.succ {
		if p.Ref != ref {
			kept = append(kept, p)
		}
	}
	idy.succ = kept
	for i, f := range idy.fingers {
		if f.Ref == ref {
			idy.fingers[i] = RingPeer{}
		}
	}
	if len(idy.succ) == 0 && len(idy.fingers) > 0 {
		// Successor reverted to self: keep the aliased last slot consistent
		// with primarySucc's own self-fallback.
		idy.fingers[len(idy.fingers)-1] = idy.self_()
	}
	if idy.pred.Ref == ref {
		idy.pred = RingPeer{}
		idy.hasPred = false
	}
}

// fallbackPeer returns some other known live contact point for this
// identity, used to re-bootstrap after its successor is purged following a
// failed stabilize round: the predecessor if one is known, otherwise the
// widest-reaching finger still populated. Returns the zero RingPeer (not
// valid()) if nothing is left to rejoin through.
func (idy *identity) fallbackPeer() RingPeer {
	if idy.hasPred && idy.pred.valid() {
		return idy.pred
	}
	for i := len(idy.fingers) - 1; i >= 0; i-- {
		if idy.fingers[i].valid() {
			return idy.fingers[i]
		}
	}
	return RingPeer{}
}

// closestPrecedingFinger scans the finger table from the widest reach
// inward and returns the closest known peer strictly between id and key,
// or the identity itself if none qualifies.
func (idy *identity) closestPrecedingFinger(key dht.ID) RingPeer {
	for i := len(idy.fingers) - 1; i >= 0; i-- {
		f := idy.fingers[i]
		if f.valid() && dht.Between(f.ID, idy.id, key) {
			return f
		}
	}
	return idy.self_()
}
