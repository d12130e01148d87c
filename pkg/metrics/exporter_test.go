package metrics

import (
	"context"
	"testing"
)

func TestNewWithoutAddrRegistersButDoesNotServe(t *testing.T) {
	e, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.server != nil {
		t.Fatalf("expected no HTTP server when addr is empty")
	}
	e.SetHealthyNodes(5)
	e.IncJoin()
	e.IncCrash()
	e.ObserveClientLatency(12.5)
	e.IncClientTimeout()

	families, err := e.registry.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	var sawHealthy bool
	for _, fam := range families {
		if fam.GetName() == "dhtsim_healthy_nodes" {
			sawHealthy = true
			if got := fam.Metric[0].GetGauge().GetValue(); got != 5 {
				t.Fatalf("expected healthy gauge 5, got %v", got)
			}
		}
	}
	if !sawHealthy {
		t.Fatalf("expected dhtsim_healthy_nodes to be registered")
	}
}

func TestNilExporterMethodsAreNoOps(t *testing.T) {
	var e *Exporter
	e.SetHealthyNodes(1)
	e.ObserveQueueDepth(1)
	e.ObserveClientLatency(1)
	e.IncClientTimeout()
	e.IncJoin()
	e.IncCrash()
	e.IncDrop()
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil-receiver Shutdown to be a no-op, got %v", err)
	}
}
