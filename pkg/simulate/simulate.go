// Package simulate drives the two-phase build/run simulation described in
// §4.8, grounded on original_source's simulation/simulator.py (Simulator):
// a synchronous join phase that assembles the initial ring/bucket state,
// followed by a run phase that fires client, join, and crash traffic
// concurrently until a virtual-time budget elapses.
package simulate

import (
	"github.com/jihwankim/dhtsim/pkg/client"
	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/network"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
	"github.com/jihwankim/dhtsim/pkg/trace"
)

// buildAllowance bounds how much virtual time the synchronous join phase
// may take before the driver gives up waiting for it - generous by
// construction (every join is itself bounded by a fixed relay-hop cap and
// per-hop timeout), so it only matters as a ceiling on RunUntil, never as
// a real constraint on the join phase itself.
const buildAllowance = 10_000_000

// Config bundles the per-run parameters the simulator driver needs beyond
// what the net manager and client generator already own.
type Config struct {
	Nodes         int
	MaxTime       float64
	MeanArrival   float64
	JoinRate      float64
	JoinLambda1   float64
	JoinLambda2   float64
	JoinP         float64
}

// Driver runs one simulation end to end against a freshly built network.
type Driver struct {
	k         *kernel.Kernel
	rnd       *randsrc.Source
	mgr       *network.Manager
	clientGen *client.Generator
	collector *trace.Collector
	cfg       Config
}

// NewDriver returns a Driver ready to Run.
func NewDriver(k *kernel.Kernel, rnd *randsrc.Source, mgr *network.Manager, clientGen *client.Generator, collector *trace.Collector, cfg Config) *Driver {
	return &Driver{k: k, rnd: rnd, mgr: mgr, clientGen: clientGen, collector: collector, cfg: cfg}
}

// Run constructs the initial network, joins it up, clears the collector
// of build-phase noise, and drives the run-phase workload for cfg.MaxTime
// virtual-time units. It blocks until the whole simulation - build and
// run phases both - has completed.
func (d *Driver) Run() {
	d.mgr.Build(d.cfg.Nodes)

	d.k.Spawn(func(t *kernel.Task) {
		d.buildNetwork(t)

		d.collector.Clear()
		buildEnd := d.k.Now()
		for _, node := range d.mgr.Nodes() {
			d.collector.RecordJoined(node.GetRef().Name, buildEnd)
			d.mgr.ScheduleCrash(node)
		}

		d.k.Spawn(func(sub *kernel.Task) { d.simulateClients(sub, buildEnd) })
		d.k.Spawn(func(sub *kernel.Task) { d.simulateJoins(sub, buildEnd) })
	})

	d.k.RunUntil(buildAllowance + d.cfg.MaxTime)
}

// buildNetwork joins every node from index 2 onward against a uniformly
// random already-present peer, awaited synchronously so the phase
// terminates in finite virtual time before the run phase begins.
func (d *Driver) buildNetwork(t *kernel.Task) {
	nodes := d.mgr.Nodes()
	for i := 2; i < len(nodes); i++ {
		bootstrap := nodes[d.rnd.UniformInRange(i)]
		nodes[i].Join(t, bootstrap.GetRef())
	}
}

// simulateClients fires client arrivals at Exponential(MeanArrival)
// inter-arrival times until maxTime virtual-time units have elapsed since
// the run phase began.
func (d *Driver) simulateClients(t *kernel.Task, buildEnd float64) {
	for {
		d.k.Sleep(t, d.rnd.Exponential(d.cfg.MeanArrival))
		if d.k.Now()-buildEnd >= d.cfg.MaxTime {
			return
		}
		d.clientGen.Spawn(d.mgr.Nodes())
	}
}

// simulateJoins fires net_manager.join_next() calls at
// Hyperexponential2(λ1·joinRate, λ2·joinRate, p) inter-arrival times,
// per §4.8. JoinRate == 0 disables joins entirely.
func (d *Driver) simulateJoins(t *kernel.Task, buildEnd float64) {
	if d.cfg.JoinRate == 0 {
		return
	}
	lambda1 := d.cfg.JoinLambda1 * d.cfg.JoinRate
	lambda2 := d.cfg.JoinLambda2 * d.cfg.JoinRate
	for {
		d.k.Sleep(t, 10*1000*d.rnd.Hyperexponential2(lambda1, lambda2, d.cfg.JoinP))
		if d.k.Now()-buildEnd >= d.cfg.MaxTime {
			return
		}
		d.k.Spawn(func(sub *kernel.Task) { d.mgr.JoinNext(sub) })
	}
}
