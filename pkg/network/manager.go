package network

import (
	"fmt"
	"math"

	"github.com/jihwankim/dhtsim/pkg/dht"
	"github.com/jihwankim/dhtsim/pkg/geo"
	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
	"github.com/jihwankim/dhtsim/pkg/trace"
)

// OverlayNode is the subset of chord.Node/kademlia.Node that the net
// manager needs to address uniformly: both satisfy it by construction,
// letting one Manager drive either overlay without knowing which.
type OverlayNode interface {
	GetRef() dht.NodeRef
	Crash()
	Crashed() bool
	Start() *kernel.Task
	Join(t *kernel.Task, bootstrap dht.NodeRef) bool
	StartMaintenance()
}

// BuildFunc constructs an overlay-specific node wrapping raw, the shared
// queue/transport runtime the Manager just created and registered.
type BuildFunc func(name string, raw *dht.Node) OverlayNode

// HardwireFunc mutually links the first two nodes of a fresh network as
// direct neighbours, bypassing join traffic. Its implementation type-
// asserts a and b back to the concrete overlay node type and calls that
// type's own HardwireWith.
type HardwireFunc func(a, b OverlayNode)

// Manager owns node creation, the healthy set, and the crash/join
// lifecycle described in §4.7. It is overlay-agnostic: callers supply a
// BuildFunc/HardwireFunc closing over whichever concrete package
// (pkg/chord or pkg/kademlia) the run is configured for.
type Manager struct {
	k        *kernel.Kernel
	rnd      *randsrc.Source
	geoTable *geo.Table
	registry *Registry
	collector *trace.Collector

	queueCapacity   int
	meanServiceTime float64
	meanMaxTimeout  float64

	build    BuildFunc
	hardwire HardwireFunc

	crashRate         float64
	crashMu, crashSigma float64

	// OnDrop, if set, is invoked with a node's name whenever that node drops an arriving packet (full queue or crashed),
	// letting the CLI log it without the manager depending on pkg/logging.
	OnDrop func(node string)

	nodes   []OverlayNode
	healthy []OverlayNode
	seq     int
}

// NewManager builds a Manager ready to create nodes. crashMean/crashVariance
// are the target crash-interval distribution's mean and variance in
// seconds; crashRate scales the mean the way §4.7 describes (mean =
// crashMean / crashRate), and crashRate == 0 disables crashing entirely.
func NewManager(
	k *kernel.Kernel,
	rnd *randsrc.Source,
	geoTable *geo.Table,
	collector *trace.Collector,
	queueCapacity int,
	meanServiceTime, meanMaxTimeout float64,
	crashMean, crashVariance, crashRate float64,
	build BuildFunc,
	hardwire HardwireFunc,
) *Manager {
	m := &Manager{
		k:               k,
		rnd:             rnd,
		geoTable:        geoTable,
		registry:        NewRegistry(k, geoTable),
		collector:       collector,
		queueCapacity:   queueCapacity,
		meanServiceTime: meanServiceTime,
		meanMaxTimeout:  meanMaxTimeout,
		build:           build,
		hardwire:        hardwire,
		crashRate:       crashRate,
	}
	if crashRate > 0 {
		scaledMean := crashMean / crashRate
		m.crashMu = math.Log(scaledMean / math.Sqrt(crashVariance/(scaledMean*scaledMean)+1))
		m.crashSigma = math.Sqrt(math.Log(crashVariance/(scaledMean*scaledMean) + 1))
	}
	return m
}

// Registry exposes the dht.Network implementation nodes route through.
func (m *Manager) Registry() *Registry { return m.registry }

// Nodes returns every node the manager has ever created, healthy or not.
func (m *Manager) Nodes() []OverlayNode { return m.nodes }

// Healthy returns the current healthy set.
func (m *Manager) Healthy() []OverlayNode { return m.healthy }

func (m *Manager) newRawNode(name string) *dht.Node {
	ref := dht.NodeRef{Name: name}
	node := dht.NewNode(ref, m.k, m.registry, m.rnd, m.queueCapacity, m.meanServiceTime, m.meanMaxTimeout)
	node.QueueSample = func(t float64, qlen int) {
		m.collector.RecordQueueLoad(name, t, qlen)
	}
	node.OnDrop = func(pkt dht.Packet) {
		if node.Crashed() {
			m.collector.RecordMessageAfterCrash(name, m.k.Now())
		}
		if m.OnDrop != nil {
			m.OnDrop(name)
		}
	}
	loc := geo.Coordinate{
		LatDeg: m.rnd.Uniform01()*180 - 90,
		LonDeg: m.rnd.Uniform01()*360 - 180,
	}
	m.geoTable.Assign(name, loc)
	m.registry.Add(node)
	return node
}

// NewNode creates and registers a fresh overlay node under a unique name,
// without starting it, joining it, or adding it to any set - the single
// point every node in the network (initial build or later join) passes
// through.
func (m *Manager) NewNode() OverlayNode {
	name := fmt.Sprintf("node-%05d", m.seq)
	m.seq++
	raw := m.newRawNode(name)
	return m.build(name, raw)
}

// Build constructs n nodes, hardwires the first two as mutual neighbours,
// and starts every node's serve loop and maintenance tasks, per §4.7's
// creation step. It does not run the protocol join for nodes 2..n-1 -
// that is pkg/simulate's build phase, driven against this same Manager.
func (m *Manager) Build(n int) []OverlayNode {
	for i := 0; i < n; i++ {
		node := m.NewNode()
		node.Start()
		m.nodes = append(m.nodes, node)
		m.healthy = append(m.healthy, node)
	}
	if len(m.nodes) >= 2 {
		m.hardwire(m.nodes[0], m.nodes[1])
	}
	for _, node := range m.nodes {
		node.StartMaintenance()
	}
	return m.nodes
}

// GetHealthyNode returns a uniformly random member of the current healthy
// set, used by clients picking an entry point and by JoinNext picking a
// bootstrap peer.
func (m *Manager) GetHealthyNode() OverlayNode {
	return randsrc.Choose(m.rnd, m.healthy)
}

func (m *Manager) removeHealthy(node OverlayNode) {
	for i, h := range m.healthy {
		if h == node {
			m.healthy = append(m.healthy[:i], m.healthy[i+1:]...)
			return
		}
	}
}

// ScheduleCrash arms node's one-shot crash timer, grounded on
// common/net_manager.py's schedule_node_crash: a lognormal wait derived
// from crash_mean/crash_variance/crash_rate, after which the node crashes
// and leaves the healthy set only if at least three nodes are currently
// healthy (so two always remain). crashRate == 0 means "never crash" and
// arms nothing.
func (m *Manager) ScheduleCrash(node OverlayNode) {
	if m.crashRate == 0 {
		return
	}
	m.k.Spawn(func(t *kernel.Task) {
		delay := 10 * 1000 * m.rnd.Lognormal(m.crashMu, m.crashSigma)
		m.k.Sleep(t, delay)
		if node.Crashed() || len(m.healthy) <= 2 {
			return
		}
		node.Crash()
		m.removeHealthy(node)
		m.collector.RecordCrashed(node.GetRef().Name, m.k.Now())
	})
}

// JoinNext creates a new node, bootstraps it against a random healthy
// peer, and records the outcome: joined_time and a fresh crash schedule on
// success, or a failed_to_join timestamp otherwise. It must run inside a
// kernel.Task since Join suspends waiting on wire replies.
func (m *Manager) JoinNext(t *kernel.Task) {
	bootstrap := m.GetHealthyNode()
	node := m.NewNode()
	node.Start()
	if node.Join(t, bootstrap.GetRef()) {
		m.nodes = append(m.nodes, node)
		m.healthy = append(m.healthy, node)
		m.collector.RecordJoined(node.GetRef().Name, m.k.Now())
		node.StartMaintenance()
		m.ScheduleCrash(node)
	} else {
		m.collector.RecordFailedToJoin(m.k.Now())
	}
}
