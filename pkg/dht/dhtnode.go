package dht

import "github.com/jihwankim/dhtsim/pkg/kernel"

// Overlay is the routing strategy a DHTNode delegates key lookups to. Chord
// implements it by walking fingers per identity index; Kademlia implements
// it with its alpha-bounded iterative lookup. FindNode may return more than
// one candidate (Chord returns one per owned identity index, Kademlia
// returns its k closest), which is why DHTNode resolves reads across all of
// them by quorum rather than trusting a single reply. hops is the routing
// cost of the lookup (max hop count across Chord's per-index searches, or
// the round count of Kademlia's iterative lookup); it is -1 when the
// lookup itself could not resolve a single candidate, matching the
// "the serving node's sub-find timed out" client-visible failure in §7.
type Overlay interface {
	FindNode(t *kernel.Task, key ID) (refs []NodeRef, hops int)
}

// DHTNode layers key/value storage and the store/find request protocol on
// top of a Node. It is overlay-agnostic: Chord and Kademlia both embed one,
// handing it their own Overlay implementation.
type DHTNode struct {
	*Node
	Overlay Overlay

	w  uint
	ht map[string]interface{}
}

// NewDHTNode wraps node with key/value storage and registers both the
// internal GET_VALUE/SET_VALUE handlers (node-to-node, keyed by an
// already-hashed ID) and the client-facing FIND_VALUE/STORE_VALUE handlers
// (keyed by the raw key string, per §3's "key identity is derived
// analogously from the key string"). w is the identifier width used to
// hash client-supplied key strings.
func NewDHTNode(node *Node, overlay Overlay, w uint) *DHTNode {
	d := &DHTNode{Node: node, Overlay: overlay, w: w, ht: make(map[string]interface{})}
	node.RegisterHandler(GetValue, d.onGetValue)
	node.RegisterHandler(SetValue, d.onSetValue)
	node.RegisterHandler(FindValue, d.onFindValue)
	node.RegisterHandler(StoreValue, d.onStoreValue)
	return d
}

func (d *DHTNode) onGetValue(t *kernel.Task, pkt Packet) {
	key := pkt.Msg.Payload["key"].(ID)
	v, ok := d.ht[key.String()]
	d.SendResp(pkt.From, GetValueReply, pkt.Msg.Handle, map[string]interface{}{
		"value": v,
		"found": ok,
	})
}

func (d *DHTNode) onSetValue(t *kernel.Task, pkt Packet) {
	key := pkt.Msg.Payload["key"].(ID)
	d.ht[key.String()] = pkt.Msg.Payload["value"]
	d.SendResp(pkt.From, SetValueReply, pkt.Msg.Handle, map[string]interface{}{"ok": true})
}

// onFindValue serves a client's FIND_VALUE request: hash the raw key
// string, resolve it via the overlay, gather the quorum answer, and reply
// with the hop count the routing step spent (or -1 if routing itself
// failed), matching the "hops == -1 marks in-protocol timeouts" rule.
func (d *DHTNode) onFindValue(t *kernel.Task, pkt Packet) {
	keyStr, _ := pkt.Msg.Payload["key"].(string)
	val, _, hops := d.findValue(t, HashID(d.w, keyStr))
	d.SendResp(pkt.From, FindValueReply, pkt.Msg.Handle, map[string]interface{}{
		"value": val,
		"hops":  hops,
	})
}

// onStoreValue serves a client's STORE_VALUE request symmetrically.
func (d *DHTNode) onStoreValue(t *kernel.Task, pkt Packet) {
	keyStr, _ := pkt.Msg.Payload["key"].(string)
	val := pkt.Msg.Payload["value"]
	_, hops := d.storeValue(t, HashID(d.w, keyStr), val)
	d.SendResp(pkt.From, StoreValueReply, pkt.Msg.Handle, map[string]interface{}{"hops": hops})
}

// StoreValue resolves key to its owning node(s) via the overlay and writes
// val to each of them, succeeding if at least one accepted the write. It
// is the direct, ID-keyed entry point, called from the overlay packages'
// tests; onStoreValue is the wire-level, string-keyed counterpart clients
// actually talk to.
func (d *DHTNode) StoreValue(t *kernel.Task, key ID, val interface{}) bool {
	ok, _ := d.storeValue(t, key, val)
	return ok
}

func (d *DHTNode) storeValue(t *kernel.Task, key ID, val interface{}) (ok bool, hops int) {
	targets, hops := d.Overlay.FindNode(t, key)
	if hops < 0 {
		return false, -1
	}
	wrote := false
	for _, target := range targets {
		h := d.SendReq(target, SetValue, map[string]interface{}{"key": key, "value": val})
		if _, ok := d.WaitResp(t, h); ok {
			wrote = true
		}
	}
	return wrote, hops
}

// FindValue resolves key to its owning node(s) and returns the
// most-common non-null value reported among them, breaking ties by which
// distinct value was first observed - the quorum rule used whenever a
// multi-identity or replicated read can disagree.
func (d *DHTNode) FindValue(t *kernel.Task, key ID) (interface{}, bool) {
	val, ok, _ := d.findValue(t, key)
	return val, ok
}

func (d *DHTNode) findValue(t *kernel.Task, key ID) (val interface{}, ok bool, hops int) {
	targets, hops := d.Overlay.FindNode(t, key)
	if hops < 0 {
		return nil, false, -1
	}
	var values []interface{}
	for _, target := range targets {
		h := d.SendReq(target, GetValue, map[string]interface{}{"key": key})
		reply, got := d.WaitResp(t, h)
		if !got {
			continue
		}
		found, _ := reply.Payload["found"].(bool)
		if !found || reply.Payload["value"] == nil {
			continue
		}
		values = append(values, reply.Payload["value"])
	}
	val, ok = resolveQuorum(values)
	return val, ok, hops
}

type quorumEntry struct {
	val   interface{}
	count int
}

// resolveQuorum picks the most frequent value in values, breaking ties in
// favor of whichever distinct value appeared first.
func resolveQuorum(values []interface{}) (interface{}, bool) {
	if len(values) == 0 {
		return nil, false
	}
	var seen []quorumEntry
	for _, v := range values {
		matched := false
		for i := range seen {
			if seen[i].val == v {
				seen[i].count++
				matched = true
				break
			}
		}
		if !matched {
			seen = append(seen, quorumEntry{val: v, count: 1})
		}
	}
	best := seen[0]
	for _, e := range seen[1:] {
		if e.count > best.count {
			best = e
		}
	}
	return best.val, true
}
