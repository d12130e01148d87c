// Package network builds and operates the simulated node population: it
// wires a dht.Network that applies geographic transmission delay, and a
// Manager that creates nodes, tracks which are healthy, and schedules
// their crash/join lifecycle - grounded on original_source's
// common/net_manager.py (NetManager) and, for the routing delay,
// common/utils.py's LocationManager.
package network

import (
	"github.com/jihwankim/dhtsim/pkg/dht"
	"github.com/jihwankim/dhtsim/pkg/geo"
	"github.com/jihwankim/dhtsim/pkg/kernel"
)

// Registry implements dht.Network: every packet pays a haversine-derived
// transmission delay between its sender and recipient's assigned
// coordinates before the recipient's queue ever sees it.
type Registry struct {
	k        *kernel.Kernel
	geoTable *geo.Table
	nodes    map[dht.NodeRef]*dht.Node
}

// NewRegistry returns an empty Registry bound to k's clock and geoTable's
// coordinate assignments.
func NewRegistry(k *kernel.Kernel, geoTable *geo.Table) *Registry {
	return &Registry{k: k, geoTable: geoTable, nodes: make(map[dht.NodeRef]*dht.Node)}
}

// Add registers n so future Route calls can find it by ref.
func (r *Registry) Add(n *dht.Node) { r.nodes[n.Ref] = n }

// Route schedules pkt's delivery after the transmission delay between its
// endpoints' coordinates. A packet addressed to an unknown or since-removed
// node is simply dropped - it has no one left to deliver to.
func (r *Registry) Route(pkt dht.Packet) {
	delay := r.geoTable.DelayBetween(pkt.From.Name, pkt.To.Name)
	r.k.ScheduleAfter(delay, func() {
		if target, ok := r.nodes[pkt.To]; ok {
			target.Enqueue(pkt)
		}
	})
}
