// Package client implements the workload's request actors, grounded on
// original_source's common/client.py (Client(Node)): a disposable node
// that sends exactly one FIND_VALUE or STORE_VALUE packet into the
// network, waits for its reply under a multiplied timeout, and records
// the outcome.
package client

import (
	"fmt"

	"github.com/jihwankim/dhtsim/pkg/dht"
	"github.com/jihwankim/dhtsim/pkg/geo"
	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/network"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
	"github.com/jihwankim/dhtsim/pkg/trace"
)

// ClientTimeoutMultiplier scales a peer's own max-timeout into the
// end-to-end deadline a client gives up after, per §4.9.
const ClientTimeoutMultiplier = 5.0

// Generator spawns one client actor per workload arrival, picking a
// random action/key/target the way simulation/simulator.py's
// get_client_behaviour does.
type Generator struct {
	k         *kernel.Kernel
	rnd       *randsrc.Source
	geoTable  *geo.Table
	registry  *network.Registry
	collector *trace.Collector

	meanMaxTimeout float64
	keys           []string
	maxValue       int
	zipfAlpha      float64

	seq int
}

// NewGenerator builds a client Generator. meanMaxTimeout is the peer
// nodes' own max-timeout (the generator multiplies it by
// ClientTimeoutMultiplier for its own wait), keys is the key universe a
// request's key is drawn from (Zipf-distributed, rank 0 most popular),
// and maxValue bounds the random integers stored by STORE requests.
func NewGenerator(
	k *kernel.Kernel,
	rnd *randsrc.Source,
	geoTable *geo.Table,
	registry *network.Registry,
	collector *trace.Collector,
	meanMaxTimeout float64,
	keys []string,
	maxValue int,
) *Generator {
	return &Generator{
		k:              k,
		rnd:            rnd,
		geoTable:       geoTable,
		registry:       registry,
		collector:      collector,
		meanMaxTimeout: meanMaxTimeout,
		keys:           keys,
		maxValue:       maxValue,
		zipfAlpha:      1,
	}
}

// Spawn picks a random action, key, and target from nodes and runs it as
// a fresh kernel task. nodes is the full node list (crashed nodes
// included, matching get_random_node's pick from net_manager.nodes) so
// that churn shows up as client-visible timeouts.
func (g *Generator) Spawn(nodes []network.OverlayNode) {
	if len(nodes) == 0 {
		return
	}
	store := g.rnd.UniformInRange(2) == 1
	key := g.keys[g.rnd.Zipf(g.zipfAlpha, len(g.keys))]
	target := randsrc.Choose(g.rnd, nodes).GetRef()

	g.k.Spawn(func(t *kernel.Task) {
		cnode := g.newClientNode()
		if store {
			value := g.rnd.UniformInRange(g.maxValue)
			g.storeValue(t, cnode, target, key, value)
		} else {
			g.findValue(t, cnode, target, key)
		}
	})
}

func (g *Generator) newClientNode() *dht.Node {
	name := fmt.Sprintf("client-%06d", g.seq)
	g.seq++
	g.geoTable.Assign(name, geo.Coordinate{
		LatDeg: g.rnd.Uniform01()*180 - 90,
		LonDeg: g.rnd.Uniform01()*360 - 180,
	})

	clientTimeout := ClientTimeoutMultiplier * g.meanMaxTimeout
	node := dht.NewNode(dht.NodeRef{Name: name}, g.k, g.registry, g.rnd, 1, 0, clientTimeout)
	g.registry.Add(node)
	node.Start()
	return node
}

// findValue sends FIND_VALUE to target and records the outcome, per
// §4.9: success records (start_time, latency, hops) plus the returned
// value; timeout or hops == -1 records start_time into timed_out_requests.
func (g *Generator) findValue(t *kernel.Task, cnode *dht.Node, target dht.NodeRef, key string) {
	before := g.k.Now()
	h := cnode.SendReq(target, dht.FindValue, map[string]interface{}{"key": key})
	reply, ok := cnode.WaitResp(t, h)
	if !ok {
		g.collector.RecordTimedOut(before)
		return
	}
	hops, _ := reply.Payload["hops"].(int)
	if hops == -1 {
		g.collector.RecordTimedOut(before)
		return
	}
	after := g.k.Now()
	g.collector.RecordClientRequest(before, after-before, hops)
	g.collector.RecordReturnedValue(after, key, reply.Payload["value"])
}

// storeValue sends STORE_VALUE to target and records the outcome,
// mirroring findValue's success/timeout bookkeeping.
func (g *Generator) storeValue(t *kernel.Task, cnode *dht.Node, target dht.NodeRef, key string, value int) {
	before := g.k.Now()
	h := cnode.SendReq(target, dht.StoreValue, map[string]interface{}{"key": key, "value": value})
	reply, ok := cnode.WaitResp(t, h)
	if !ok {
		g.collector.RecordTimedOut(before)
		return
	}
	hops, _ := reply.Payload["hops"].(int)
	if hops == -1 {
		g.collector.RecordTimedOut(before)
		return
	}
	after := g.k.Now()
	g.collector.RecordClientRequest(before, after-before, hops)
	g.collector.RecordTrueValue(after, key, value)
}
