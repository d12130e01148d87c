package client

import (
	"testing"

	"github.com/jihwankim/dhtsim/pkg/chord"
	"github.com/jihwankim/dhtsim/pkg/dht"
	"github.com/jihwankim/dhtsim/pkg/geo"
	"github.com/jihwankim/dhtsim/pkg/kernel"
	"github.com/jihwankim/dhtsim/pkg/network"
	"github.com/jihwankim/dhtsim/pkg/randsrc"
	"github.com/jihwankim/dhtsim/pkg/trace"
)

func twoNodeChordRing(k *kernel.Kernel, rnd *randsrc.Source, geoTable *geo.Table) (*network.Registry, dht.NodeRef) {
	reg := network.NewRegistry(k, geoTable)
	cfg := chord.Config{W: 16, K: 2, StabilizeMean: 50, StabilizeMin: 10, FixFingersMean: 80, FixFingersMin: 10}

	rawA := dht.NewNode(dht.NodeRef{Name: "a"}, k, reg, rnd, 16, 1.0, 200)
	rawB := dht.NewNode(dht.NodeRef{Name: "b"}, k, reg, rnd, 16, 1.0, 200)
	reg.Add(rawA)
	reg.Add(rawB)
	geoTable.Assign("a", geo.Coordinate{})
	geoTable.Assign("b", geo.Coordinate{})

	a := chord.New("a", rawA, rnd, k, cfg)
	b := chord.New("b", rawB, rnd, k, cfg)
	a.HardwireWith(b)
	rawA.Start()
	rawB.Start()
	a.StartMaintenance()
	b.StartMaintenance()

	return reg, rawA.Ref
}

func TestStoreThenFindValueRecordsOutcome(t *testing.T) {
	k := kernel.New()
	rnd := randsrc.New(1, 1)
	geoTable := geo.NewTable()
	reg, target := twoNodeChordRing(k, rnd, geoTable)
	collector := trace.New()
	gen := NewGenerator(k, rnd, geoTable, reg, collector, 200, []string{"K"}, 1000)

	k.Spawn(func(t *kernel.Task) {
		storeNode := gen.newClientNode()
		gen.storeValue(t, storeNode, target, "K", 42)

		findNode := gen.newClientNode()
		gen.findValue(t, findNode, target, "K")
	})
	k.RunUntil(2000)

	doc := collector.ToDocument()
	if len(doc.ClientRequests) != 2 {
		t.Fatalf("expected 2 recorded client requests, got %d", len(doc.ClientRequests))
	}
	if len(doc.TimedOutRequests) != 0 {
		t.Fatalf("expected no timeouts, got %d", len(doc.TimedOutRequests))
	}
	if len(doc.ReturnedValue) != 1 || doc.ReturnedValue[0].Key != "K" {
		t.Fatalf("expected returned_value to record key K, got %v", doc.ReturnedValue)
	}
	if len(doc.TrueValue) != 1 || doc.TrueValue[0].Key != "K" {
		t.Fatalf("expected true_value to record key K, got %v", doc.TrueValue)
	}
}

func TestFindValueTimesOutAgainstUnknownTarget(t *testing.T) {
	k := kernel.New()
	rnd := randsrc.New(2, 1)
	geoTable := geo.NewTable()
	geoTable.Assign("ghost", geo.Coordinate{})
	reg := network.NewRegistry(k, geoTable)
	collector := trace.New()
	gen := NewGenerator(k, rnd, geoTable, reg, collector, 10, []string{"K"}, 1000)

	k.Spawn(func(t *kernel.Task) {
		cnode := gen.newClientNode()
		gen.findValue(t, cnode, dht.NodeRef{Name: "ghost"}, "K")
	})
	k.RunUntil(1000)

	doc := collector.ToDocument()
	if len(doc.TimedOutRequests) != 1 {
		t.Fatalf("expected exactly one timed out request, got %d", len(doc.TimedOutRequests))
	}
	if len(doc.ClientRequests) != 0 {
		t.Fatalf("expected no successful client requests, got %d", len(doc.ClientRequests))
	}
}
