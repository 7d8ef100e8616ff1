package detect

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Ring (Cycle) Detector
//
// Enumerates simple directed cycles of bounded length and ranks them by
// financial strength. Money-muling rings route funds through a short loop
// of accounts so the money returns, lightly laundered, to its origin.
//
// Search strategy:
//   1. Rank nodes by out-degree (descending, account id as tie-break) and
//      start depth-limited DFS only from the top K. Nodes with few
//      outgoing edges cannot originate flow large enough to matter, and
//      bounding start points keeps dense graphs from blowing up.
//   2. A path closes when an edge returns to its start node at length
//      >= min. Branches die as soon as the current node has no outgoing
//      edges or the depth limit is reached.
//   3. Cycles are deduplicated by canonical rotation: smallest account id
//      first, direction preserved. The same loop found from two start
//      nodes collapses to one representative.
//
// Start nodes are searched in parallel; the dedup/rank merge is the single
// serialized step.

type CycleDetector struct {
	graph *TransactionGraph
	cfg   Config
}

func NewCycleDetector(graph *TransactionGraph, cfg Config) *CycleDetector {
	return &CycleDetector{graph: graph, cfg: cfg}
}

// Detect returns the retained rings ranked by strength plus the clusters
// of rings sharing accounts. An acyclic graph yields empty slices, not an
// error.
func (d *CycleDetector) Detect() ([]models.Ring, []models.RingCluster) {
	starts := d.startNodes()
	if len(starts) == 0 {
		return nil, nil
	}

	canonical := make(map[string][]string)
	var mu sync.Mutex

	workers := d.cfg.workers()
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		shard := w
		eg.Go(func() error {
			local := make(map[string][]string)
			for i := shard; i < len(starts); i += workers {
				d.searchFrom(starts[i], local)
			}
			mu.Lock()
			for key, cycle := range local {
				if _, ok := canonical[key]; !ok {
					canonical[key] = cycle
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait() // workers never return errors; the group only joins them

	if len(canonical) == 0 {
		return nil, nil
	}

	rings := make([]models.Ring, 0, len(canonical))
	for _, cycle := range canonical {
		rings = append(rings, d.buildRing(cycle))
	}

	sort.Slice(rings, func(a, b int) bool {
		if rings[a].Strength != rings[b].Strength {
			return rings[a].Strength > rings[b].Strength
		}
		if rings[a].Length != rings[b].Length {
			return rings[a].Length < rings[b].Length
		}
		return lessAccounts(rings[a].Accounts, rings[b].Accounts)
	})
	if len(rings) > d.cfg.MaxRings {
		rings = rings[:d.cfg.MaxRings]
	}
	for i := range rings {
		rings[i].RingID = fmt.Sprintf("RING_%04d", i+1)
	}

	return rings, d.clusterRings(rings)
}

// startNodes ranks accounts by (out-degree desc, id asc) and keeps the
// top K with at least one outgoing edge.
func (d *CycleDetector) startNodes() []string {
	nodes := make([]string, 0, len(d.graph.Accounts()))
	for _, id := range d.graph.Accounts() {
		if d.graph.OutDegree(id) > 0 {
			nodes = append(nodes, id)
		}
	}
	sort.SliceStable(nodes, func(a, b int) bool {
		da, db := d.graph.OutDegree(nodes[a]), d.graph.OutDegree(nodes[b])
		if da != db {
			return da > db
		}
		return nodes[a] < nodes[b]
	})
	if len(nodes) > d.cfg.MaxStartNodes {
		nodes = nodes[:d.cfg.MaxStartNodes]
	}
	return nodes
}

func (d *CycleDetector) searchFrom(start string, found map[string][]string) {
	path := []string{start}
	visited := map[string]struct{}{start: {}}
	d.dfs(start, path, visited, found)
}

func (d *CycleDetector) dfs(start string, path []string, visited map[string]struct{}, found map[string][]string) {
	current := path[len(path)-1]
	for _, next := range d.graph.Successors(current) {
		if next == start {
			if len(path) >= d.cfg.MinCycleLength {
				cycle := canonicalRotation(path)
				key := strings.Join(cycle, "\x1f")
				if _, ok := found[key]; !ok {
					found[key] = cycle
				}
			}
			continue
		}
		if _, ok := visited[next]; ok {
			continue
		}
		if len(path) >= d.cfg.MaxCycleLength {
			continue
		}
		visited[next] = struct{}{}
		d.dfs(start, append(path, next), visited, found)
		delete(visited, next)
	}
}

// canonicalRotation rotates the cycle so its lexicographically smallest
// account comes first, preserving direction.
func canonicalRotation(cycle []string) []string {
	smallest := 0
	for i := 1; i < len(cycle); i++ {
		if cycle[i] < cycle[smallest] {
			smallest = i
		}
	}
	out := make([]string, len(cycle))
	copy(out, cycle[smallest:])
	copy(out[len(cycle)-smallest:], cycle[:smallest])
	return out
}

func lessAccounts(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// buildRing computes the financial metrics and strength score for one
// canonical cycle. Every parallel transaction realizing a hop counts.
func (d *CycleDetector) buildRing(cycle []string) models.Ring {
	ring := models.Ring{
		Accounts:      cycle,
		Length:        len(cycle),
		DetectionType: "cycle",
	}

	hopAmounts := make([]float64, 0, len(cycle))
	for i := range cycle {
		from, to := cycle[i], cycle[(i+1)%len(cycle)]
		hopTotal := 0.0
		for _, tx := range d.graph.EdgesBetween(from, to) {
			hopTotal += tx.Amount
			ring.TotalAmount += tx.Amount
			ring.TransactionIDs = append(ring.TransactionIDs, tx.ID)
		}
		hopAmounts = append(hopAmounts, hopTotal)
	}
	ring.TransactionCount = len(ring.TransactionIDs)
	if ring.TransactionCount > 0 {
		ring.AvgTransaction = ring.TotalAmount / float64(ring.TransactionCount)
	}
	ring.AmountSpread = amountSpread(hopAmounts)
	ring.Strength = CycleStrength(ring.TotalAmount, ring.TransactionCount, ring.Length)
	return ring
}

// CycleStrength scores a ring for ranking. Volume is normalized against a
// $100k baseline, frequency against 10 transactions, and length against
// the minimum ring size of 3. The raw value is unclamped; it is only ever
// compared against other rings.
func CycleStrength(totalAmount float64, txnCount, length int) float64 {
	volumeFactor := totalAmount / 100000
	frequencyFactor := float64(txnCount) / 10
	complexityFactor := float64(length) / 3
	return 0.40*volumeFactor + 0.35*frequencyFactor + 0.25*complexityFactor
}

// amountSpread is the coefficient of variation across hop totals, capped
// at 1.0. Low spread means near-identical amounts at each hop, which is
// the classic hallmark of a structured ring.
func amountSpread(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range amounts {
		mean += v
	}
	mean /= float64(len(amounts))
	if mean <= 0 {
		return 0
	}
	variance := 0.0
	for _, v := range amounts {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(amounts))
	cv := math.Sqrt(variance) / mean
	if cv > 1.0 {
		return 1.0
	}
	return cv
}
