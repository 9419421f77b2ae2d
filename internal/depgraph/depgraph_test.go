package depgraph

import "testing"

func buildSample() *Graph {
	g := New()
	g.AddNode("nova", false)
	g.AddNode("python-oslo.config", false)
	g.AddNode("python-oslo.log", false)
	g.AddEdge("nova", "python-oslo.config")
	g.AddEdge("nova", "python-oslo.log")
	g.AddEdge("python-oslo.config", "python-oslo.log")
	return g
}

func TestTopologicalSort(t *testing.T) {
	g := buildSample()
	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if pos["python-oslo.log"] > pos["python-oslo.config"] {
		t.Error("python-oslo.log must come before python-oslo.config")
	}
	if pos["python-oslo.config"] > pos["nova"] {
		t.Error("python-oslo.config must come before nova")
	}
}

func TestAddEdgeSelfLoopNoop(t *testing.T) {
	g := New()
	g.AddNode("nova", false)
	g.AddEdge("nova", "nova")
	if len(g.Edges()) != 0 {
		t.Errorf("expected no self-loop edge, got %v", g.Edges())
	}
}

func TestAddEdgeDeduplicated(t *testing.T) {
	g := New()
	g.AddNode("a", false)
	g.AddNode("b", false)
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")
	if len(g.Edges()) != 1 {
		t.Errorf("Edges() = %v, want 1 edge", g.Edges())
	}
}

func TestDetectCycles(t *testing.T) {
	g := New()
	g.AddNode("a", false)
	g.AddNode("b", false)
	g.AddNode("c", false)
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")
	g.AddEdge("a", "c") // c not part of the cycle

	cycles := g.DetectCycles()
	if len(cycles) != 1 {
		t.Fatalf("DetectCycles() = %v, want 1 cycle", cycles)
	}
	if len(cycles[0]) != 2 {
		t.Errorf("cycle = %v, want 2 members", cycles[0])
	}

	_, err := g.TopologicalSort()
	if err != ErrCycleDetected {
		t.Errorf("TopologicalSort error = %v, want ErrCycleDetected", err)
	}
}

func TestGetCycleEdges(t *testing.T) {
	g := New()
	g.AddNode("a", false)
	g.AddNode("b", false)
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	edges := g.GetCycleEdges()
	if len(edges) != 2 {
		t.Errorf("GetCycleEdges() = %v, want 2 edges", edges)
	}
}

func TestFindMissingDependencies(t *testing.T) {
	g := New()
	g.AddNode("nova", false)
	binaryIndex := map[string]bool{"libvirt0": true}
	missing := g.FindMissingDependencies("nova", []string{"libvirt0", "does-not-exist"}, binaryIndex)
	if len(missing) != 1 || missing[0] != "does-not-exist" {
		t.Errorf("FindMissingDependencies() = %v, want [does-not-exist]", missing)
	}
}

func TestSoftExclusion(t *testing.T) {
	g := New()
	if !g.IsExcluded("python-oslo.config", "python-oslo.log") {
		t.Error("expected python-oslo.config -> python-oslo.log to be excluded")
	}
	if g.IsExcluded("nova", "python-oslo.config") {
		t.Error("nova -> python-oslo.config should not be excluded")
	}
}
