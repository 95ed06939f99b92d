// Package topology builds the worker locality map spec §4.9's neighbor
// stealing and §6's scheduler construction parameters need: which workers
// are "close" to which, grouped by distance, plus the two injected
// distribution strategies (`fan`, `seq`) spec.md §6 names for how workers
// are grouped and which neighbors each steals from first. Root submissions
// are round-robined by the pools whatever the strategy.
//
// This is a pure function of worker count and strategy — no actual NUMA
// node discovery is wired up (spec.md §1 explicitly calls "NUMA topology
// discovery glue" an out-of-scope external collaborator); what's modeled
// here is libfork's own abstraction one level up from that glue
// (`_examples/original_source/test/source/numa.cpp`): a set of distance
// classes per worker, used to weight steal attempts.
package topology

import "math/rand"

// Strategy selects how workers are grouped and which neighbors each one
// steals from first.
type Strategy int

const (
	// Fan maximizes the number of distinct cache domains touched: workers
	// are spread as widely as possible before doubling up, and each
	// worker's nearest neighbors are the ones furthest away in index
	// space (the ones least likely to already share its cache).
	Fan Strategy = iota
	// Seq packs workers sequentially into small neighbor groups (one group
	// per seqGroupSize = 4 adjacent workers), favoring workers that are
	// adjacent in index order as nearest neighbors — the ones most likely
	// to actually share a cache domain in a real NUMA layout.
	Seq
)

// DistanceClass is one shell of neighbors at a given distance from a
// worker, nearest first.
type DistanceClass struct {
	Distance int
	Workers  []int
}

// Topology is the locality map for a fixed worker count.
type Topology struct {
	n         int
	strategy  Strategy
	neighbors [][]DistanceClass
	group     []int
	numGroups int
}

// Build constructs a Topology for n workers under the given strategy.
func Build(n int, strategy Strategy) *Topology {
	if n <= 0 {
		n = 1
	}
	t := &Topology{n: n, strategy: strategy}
	t.buildGroups()
	t.buildNeighbors()
	return t
}

const seqGroupSize = 4

func (t *Topology) buildGroups() {
	t.group = make([]int, t.n)
	switch t.strategy {
	case Seq:
		for i := 0; i < t.n; i++ {
			t.group[i] = i / seqGroupSize
		}
		t.numGroups = (t.n + seqGroupSize - 1) / seqGroupSize
	default: // Fan
		groups := seqGroupSize
		if groups > t.n {
			groups = t.n
		}
		for i := 0; i < t.n; i++ {
			t.group[i] = i % groups
		}
		t.numGroups = groups
	}
	if t.numGroups == 0 {
		t.numGroups = 1
	}
}

func (t *Topology) buildNeighbors() {
	t.neighbors = make([][]DistanceClass, t.n)
	for w := 0; w < t.n; w++ {
		t.neighbors[w] = t.distanceClassesFor(w)
	}
}

// distanceClassesFor groups every other worker into shells by |i-w| under
// Seq (adjacency distance) or by group-then-index under Fan (same-group
// peers are distance 1, everyone else is distance 2 — "fan" workers treat
// anything outside their own group as equally far, since the point of Fan
// is to spread across domains rather than model fine-grained distance).
func (t *Topology) distanceClassesFor(w int) []DistanceClass {
	byDistance := make(map[int][]int)
	for i := 0; i < t.n; i++ {
		if i == w {
			continue
		}
		var d int
		switch t.strategy {
		case Seq:
			d = abs(i - w)
		default:
			if t.group[i] == t.group[w] {
				d = 1
			} else {
				d = 2
			}
		}
		byDistance[d] = append(byDistance[d], i)
	}

	distances := make([]int, 0, len(byDistance))
	for d := range byDistance {
		distances = append(distances, d)
	}
	sortInts(distances)

	classes := make([]DistanceClass, 0, len(distances))
	for _, d := range distances {
		classes = append(classes, DistanceClass{Distance: d, Workers: byDistance[d]})
	}
	return classes
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Neighbors returns id's distance classes, nearest first.
func (t *Topology) Neighbors(id int) []DistanceClass { return t.neighbors[id] }

// Group returns id's locality group, used by the lazy pool for per-group
// event-counts and thief/active accounting.
func (t *Topology) Group(id int) int { return t.group[id] }

// NumGroups returns the number of locality groups.
func (t *Topology) NumGroups() int { return t.numGroups }

// WorkersInGroup returns every worker id assigned to group g.
func (t *Topology) WorkersInGroup(g int) []int {
	var out []int
	for i, gr := range t.group {
		if gr == g {
			out = append(out, i)
		}
	}
	return out
}

// NeighborSampler probes a worker's neighbors for a steal target,
// shuffling and trying each immediate neighbor once, then falling back to
// probabilistic attempts weighted inversely by distance and by the
// number of peers at that distance — precisely spec §4.9's "Neighbor
// stealing" paragraph, grounded on libfork's numa.cpp distance-weighted
// victim selection.
type NeighborSampler struct {
	topo *Topology
	self int
	rng  *rand.Rand

	flatWeighted []int // victim ids, duplicated inversely to distance*peers
}

// NewNeighborSampler builds a sampler for worker `self` within topo. rng
// may be nil, in which case a private source seeded from seed is used —
// callers needing determinism in tests should pass an explicit *rand.Rand.
func NewNeighborSampler(topo *Topology, self int, rng *rand.Rand, seed int64) *NeighborSampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	}
	s := &NeighborSampler{topo: topo, self: self, rng: rng}
	for _, class := range topo.Neighbors(self) {
		weight := maxInt(1, (class.Distance+1)*len(class.Workers))
		reps := maxInt(1, 64/weight)
		for _, w := range class.Workers {
			for r := 0; r < reps; r++ {
				s.flatWeighted = append(s.flatWeighted, w)
			}
		}
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ImmediateNeighbors returns the nearest distance class's worker ids,
// shuffled — the "probe all immediate neighbors once each" first pass.
func (s *NeighborSampler) ImmediateNeighbors() []int {
	classes := s.topo.Neighbors(s.self)
	if len(classes) == 0 {
		return nil
	}
	nearest := append([]int(nil), classes[0].Workers...)
	s.rng.Shuffle(len(nearest), func(i, j int) { nearest[i], nearest[j] = nearest[j], nearest[i] })
	return nearest
}

// Sample returns one probabilistically chosen victim, weighted inversely
// by distance and peer count, for the bounded probabilistic fallback pass.
func (s *NeighborSampler) Sample() (int, bool) {
	if len(s.flatWeighted) == 0 {
		return 0, false
	}
	return s.flatWeighted[s.rng.Intn(len(s.flatWeighted))], true
}
