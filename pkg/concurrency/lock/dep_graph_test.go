package lock

import (
	"testing"

	"crabtable/pkg/concurrency/transaction"
)

func TestNoCycleOnAcyclicGraph(t *testing.T) {
	g := NewWaitsForGraph()
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	if _, ok := g.HasCycle(); ok {
		t.Fatal("a chain with no back-edge should not be reported as a cycle")
	}
}

// TestThreeCycleVictimIsHighestID mirrors spec.md §8's literal scenario: a
// T1->T2->T3->T1 waits-for cycle must pick T3 (the max id) as victim.
func TestThreeCycleVictimIsHighestID(t *testing.T) {
	g := NewWaitsForGraph()
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	g.AddEdge(3, 1)

	victim, ok := g.HasCycle()
	if !ok {
		t.Fatal("expected a cycle to be detected")
	}
	if victim != transaction.ID(3) {
		t.Fatalf("expected victim 3 (highest id on the cycle), got %v", victim)
	}
}

func TestResolveBreaksMultipleIndependentCycles(t *testing.T) {
	g := NewWaitsForGraph()
	g.AddEdge(1, 2)
	g.AddEdge(2, 1)
	g.AddEdge(10, 11)
	g.AddEdge(11, 10)

	victims := g.Resolve()
	if len(victims) != 2 {
		t.Fatalf("expected 2 victims, got %d: %v", len(victims), victims)
	}
	if _, ok := g.HasCycle(); ok {
		t.Fatal("no cycle should remain after Resolve")
	}
}

func TestSelfEdgeIgnored(t *testing.T) {
	g := NewWaitsForGraph()
	g.AddEdge(1, 1)
	if _, ok := g.HasCycle(); ok {
		t.Fatal("a self-edge should not register as a cycle")
	}
}
