// Package wave assigns each node in a dependency graph to a wave: the
// basis for the parallel worker pool in internal/buildall.
package wave

import (
	"sort"

	"github.com/canonical/packastack/internal/depgraph"
)

// Unplaced is the wave number given to nodes caught in a cycle that
// cannot be assigned a finite wave.
const Unplaced = -1

// Assignment is the computed wave number and forcing witnesses for one
// node.
type Assignment struct {
	Name     string
	Wave     int
	ForcedBy []string
}

// Result is the full wave assignment for a graph.
type Result struct {
	Assignments map[string]Assignment
	Cyclic      []string // node names left at Unplaced
	WaveCount   int
}

// Compute assigns waves to every node in g. A node's wave is
// 1 + max(wave of its dependencies); nodes with no dependencies are wave
// 0. Nodes that cannot be placed because they sit in a cycle are left at
// Unplaced and reported separately.
func Compute(g *depgraph.Graph) Result {
	nodes := g.Nodes()
	wave := make(map[string]int, len(nodes))
	for _, n := range nodes {
		wave[n.Name] = Unplaced
	}

	changed := true
	for changed {
		changed = false
		for _, n := range nodes {
			if wave[n.Name] != Unplaced {
				continue
			}
			deps := g.Dependencies(n.Name)
			maxDepWave := -1
			allResolved := true
			for _, dep := range deps {
				dw, ok := wave[dep]
				if !ok {
					// Dependency outside the target set: treat as
					// already satisfied, contributing wave -1.
					continue
				}
				if dw == Unplaced {
					allResolved = false
					break
				}
				if dw > maxDepWave {
					maxDepWave = dw
				}
			}
			if !allResolved {
				continue
			}
			wave[n.Name] = maxDepWave + 1
			changed = true
		}
	}

	assignments := make(map[string]Assignment, len(nodes))
	var cyclic []string
	maxWave := -1
	for _, n := range nodes {
		w := wave[n.Name]
		if w == Unplaced {
			cyclic = append(cyclic, n.Name)
			assignments[n.Name] = Assignment{Name: n.Name, Wave: Unplaced}
			continue
		}
		if w > maxWave {
			maxWave = w
		}
		assignments[n.Name] = Assignment{
			Name:     n.Name,
			Wave:     w,
			ForcedBy: forcedBy(g, n.Name, w, wave),
		}
	}
	sort.Strings(cyclic)

	return Result{
		Assignments: assignments,
		Cyclic:      cyclic,
		WaveCount:   maxWave + 1,
	}
}

// forcedBy returns the subset of name's dependencies whose wave equals
// wave-1: the ones that actually placed it one level higher, sorted
// deterministically.
func forcedBy(g *depgraph.Graph, name string, nodeWave int, waveOf map[string]int) []string {
	var out []string
	for _, dep := range g.Dependencies(name) {
		if waveOf[dep] == nodeWave-1 {
			out = append(out, dep)
		}
	}
	sort.Strings(out)
	return out
}

// Batches computes the ordered list of waves, filtered to names present
// in pending, skipping empty waves. If pending is non-empty but Batches
// returns no batches, the remaining work is blocked by a cycle.
func Batches(result Result, pending map[string]bool) [][]string {
	byWave := map[int][]string{}
	for name, a := range result.Assignments {
		if a.Wave == Unplaced || !pending[name] {
			continue
		}
		byWave[a.Wave] = append(byWave[a.Wave], name)
	}
	var batches [][]string
	for w := 0; w < result.WaveCount; w++ {
		names, ok := byWave[w]
		if !ok || len(names) == 0 {
			continue
		}
		sort.Strings(names)
		batches = append(batches, names)
	}
	return batches
}
