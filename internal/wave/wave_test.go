package wave

import (
	"reflect"
	"testing"

	"github.com/canonical/packastack/internal/depgraph"
)

func TestComputeLinearChain(t *testing.T) {
	g := depgraph.New()
	g.AddNode("nova", false)
	g.AddNode("python-oslo.config", false)
	g.AddNode("python-oslo.log", false)
	g.AddEdge("nova", "python-oslo.config")
	g.AddEdge("python-oslo.config", "python-oslo.log")

	res := Compute(g)
	if res.Assignments["python-oslo.log"].Wave != 0 {
		t.Errorf("python-oslo.log wave = %d, want 0", res.Assignments["python-oslo.log"].Wave)
	}
	if res.Assignments["python-oslo.config"].Wave != 1 {
		t.Errorf("python-oslo.config wave = %d, want 1", res.Assignments["python-oslo.config"].Wave)
	}
	if res.Assignments["nova"].Wave != 2 {
		t.Errorf("nova wave = %d, want 2", res.Assignments["nova"].Wave)
	}
	if res.WaveCount != 3 {
		t.Errorf("WaveCount = %d, want 3", res.WaveCount)
	}
}

func TestComputeForcedBy(t *testing.T) {
	g := depgraph.New()
	g.AddNode("nova", false)
	g.AddNode("dep-a", false)
	g.AddNode("dep-b", false)
	g.AddEdge("nova", "dep-a")
	g.AddEdge("nova", "dep-b")
	g.AddEdge("dep-b", "dep-a") // dep-b now depends on dep-a, pushing dep-b to wave 1

	res := Compute(g)
	if res.Assignments["dep-a"].Wave != 0 {
		t.Fatalf("dep-a wave = %d, want 0", res.Assignments["dep-a"].Wave)
	}
	if res.Assignments["dep-b"].Wave != 1 {
		t.Fatalf("dep-b wave = %d, want 1", res.Assignments["dep-b"].Wave)
	}
	// nova's wave is 2, forced by dep-b (wave 1), not dep-a (wave 0).
	if res.Assignments["nova"].Wave != 2 {
		t.Fatalf("nova wave = %d, want 2", res.Assignments["nova"].Wave)
	}
	if want := []string{"dep-b"}; !reflect.DeepEqual(res.Assignments["nova"].ForcedBy, want) {
		t.Errorf("nova ForcedBy = %v, want %v", res.Assignments["nova"].ForcedBy, want)
	}
}

func TestComputeCyclicNodesUnplaced(t *testing.T) {
	g := depgraph.New()
	g.AddNode("a", false)
	g.AddNode("b", false)
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	res := Compute(g)
	if len(res.Cyclic) != 2 {
		t.Errorf("Cyclic = %v, want 2 entries", res.Cyclic)
	}
	for _, name := range res.Cyclic {
		if res.Assignments[name].Wave != Unplaced {
			t.Errorf("%s wave = %d, want Unplaced", name, res.Assignments[name].Wave)
		}
	}
}

func TestBatchesSkipsEmptyAndFiltersPending(t *testing.T) {
	g := depgraph.New()
	g.AddNode("a", false)
	g.AddNode("b", false)
	g.AddEdge("a", "b")

	res := Compute(g)
	pending := map[string]bool{"a": true} // b already built
	batches := Batches(res, pending)
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != "a" {
		t.Errorf("Batches() = %v, want [[a]]", batches)
	}
}
