package detect

import (
	"fmt"
	"sort"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Ring Cluster Analysis (Union-Find)
//
// Retained rings that share two or more accounts form one laundering
// structure: nested loops, shared mule hubs, or a ring split across
// several shorter cycles. Clustering is a relation over the retained
// rings, not a new primitive entity.
//
// Implementation: weighted union-find with path compression over ring
// ids. Find and Union are O(α(n)) amortized; the pairwise overlap scan is
// quadratic but runs over at most the retained ring cap.

type ringUnion struct {
	parent map[string]string
	rank   map[string]int
}

func newRingUnion() *ringUnion {
	return &ringUnion{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

func (u *ringUnion) find(id string) string {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		u.rank[id] = 0
	}
	if u.parent[id] != id {
		u.parent[id] = u.find(u.parent[id])
	}
	return u.parent[id]
}

func (u *ringUnion) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// clusterRings groups retained rings sharing at least cfg.ClusterMinShared
// accounts. Clusters are ordered by the rank of their strongest ring.
func (d *CycleDetector) clusterRings(rings []models.Ring) []models.RingCluster {
	if len(rings) < 2 {
		return nil
	}

	members := make([]map[string]struct{}, len(rings))
	for i, r := range rings {
		set := make(map[string]struct{}, len(r.Accounts))
		for _, a := range r.Accounts {
			set[a] = struct{}{}
		}
		members[i] = set
	}

	uf := newRingUnion()
	for i := 0; i < len(rings); i++ {
		for j := i + 1; j < len(rings); j++ {
			if sharedCount(members[i], members[j]) >= d.cfg.ClusterMinShared {
				uf.union(rings[i].RingID, rings[j].RingID)
			}
		}
	}

	groups := make(map[string][]int)
	for i, r := range rings {
		root := uf.find(r.RingID)
		groups[root] = append(groups[root], i)
	}

	var clustered [][]int
	for _, idxs := range groups {
		if len(idxs) >= 2 {
			sort.Ints(idxs)
			clustered = append(clustered, idxs)
		}
	}
	sort.Slice(clustered, func(a, b int) bool {
		return clustered[a][0] < clustered[b][0]
	})

	clusters := make([]models.RingCluster, 0, len(clustered))
	for n, idxs := range clustered {
		cluster := models.RingCluster{
			ClusterID: fmt.Sprintf("CLUSTER_%02d", n+1),
		}
		counts := make(map[string]int)
		for _, i := range idxs {
			cluster.RingIDs = append(cluster.RingIDs, rings[i].RingID)
			for a := range members[i] {
				counts[a]++
			}
		}
		for a, c := range counts {
			if c >= 2 {
				cluster.SharedAccounts = append(cluster.SharedAccounts, a)
			}
		}
		sort.Strings(cluster.SharedAccounts)
		clusters = append(clusters, cluster)
	}
	return clusters
}

func sharedCount(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
