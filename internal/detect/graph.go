package detect

import (
	"math"
	"sort"
	"time"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Transaction Graph Builder
//
// Builds the directed multigraph every detector reads: nodes are account
// identifiers, edges are individual transactions (parallel edges between
// the same pair are preserved, never merged). The graph is built once per
// analysis run and is read-only afterwards, which is what makes the
// per-account detector phases safe to shard across workers.
//
// Self transfers (from == to) are retained for volume statistics but are
// excluded from the adjacency used by cycle search: a one-account loop is
// not a routing ring.
//
// All per-account transaction lists are ordered by (timestamp, id) rather
// than input position, so two runs over the same set of records produce
// identical aggregates no matter how the upload was ordered.

// AccountStats aggregates per-account activity. Recomputed fresh on every
// run, never persisted.
type AccountStats struct {
	AccountID     string
	TotalIn       float64
	TotalOut      float64
	InboundCount  int
	OutboundCount int
	Sources       map[string]struct{} // distinct counterparties sending to this account
	Destinations  map[string]struct{} // distinct counterparties receiving from this account
	FirstSeen     time.Time
	LastSeen      time.Time
}

// TransactionCount is the combined inbound plus outbound activity.
func (s *AccountStats) TransactionCount() int {
	return s.InboundCount + s.OutboundCount
}

// Throughput is the total value moved through the account in both
// directions.
func (s *AccountStats) Throughput() float64 {
	return s.TotalIn + s.TotalOut
}

// TransactionGraph is the read-only directed multigraph of one analysis
// run.
type TransactionGraph struct {
	txns     []models.Transaction
	accounts []string // sorted, for deterministic iteration

	stats map[string]*AccountStats

	// adjacency excludes self transfers
	adj        map[string]map[string][]int // from -> to -> txn indexes
	successors map[string][]string         // from -> sorted distinct receivers

	inbound  map[string][]int // to -> txn indexes, self transfers included
	outbound map[string][]int // from -> txn indexes, self transfers included
}

// BuildGraph validates the input sequence and constructs the graph. The
// first malformed record fails the whole run with InvalidTransactionError;
// a repeated id fails with DuplicateTransactionIDError. An empty input is
// valid and yields an empty graph.
func BuildGraph(txns []models.Transaction) (*TransactionGraph, error) {
	g := &TransactionGraph{
		txns:       txns,
		stats:      make(map[string]*AccountStats),
		adj:        make(map[string]map[string][]int),
		successors: make(map[string][]string),
		inbound:    make(map[string][]int),
		outbound:   make(map[string][]int),
	}

	seen := make(map[string]int, len(txns))
	for i, tx := range txns {
		if err := validate(i, tx); err != nil {
			return nil, err
		}
		if first, dup := seen[tx.ID]; dup {
			return nil, &DuplicateTransactionIDError{ID: tx.ID, FirstIndex: first, SecondIndex: i}
		}
		seen[tx.ID] = i

		g.outbound[tx.FromAccount] = append(g.outbound[tx.FromAccount], i)
		g.inbound[tx.ToAccount] = append(g.inbound[tx.ToAccount], i)

		if !tx.IsSelfTransfer() {
			row := g.adj[tx.FromAccount]
			if row == nil {
				row = make(map[string][]int)
				g.adj[tx.FromAccount] = row
			}
			row[tx.ToAccount] = append(row[tx.ToAccount], i)
		}
	}

	accounts := make(map[string]struct{}, len(g.inbound)+len(g.outbound))
	for id := range g.inbound {
		accounts[id] = struct{}{}
	}
	for id := range g.outbound {
		accounts[id] = struct{}{}
	}
	g.accounts = make([]string, 0, len(accounts))
	for id := range accounts {
		g.accounts = append(g.accounts, id)
	}
	sort.Strings(g.accounts)

	for _, lists := range []map[string][]int{g.inbound, g.outbound} {
		for _, idxs := range lists {
			g.sortIdx(idxs)
		}
	}
	for from, row := range g.adj {
		succ := make([]string, 0, len(row))
		for to, idxs := range row {
			g.sortIdx(idxs)
			succ = append(succ, to)
		}
		sort.Strings(succ)
		g.successors[from] = succ
	}

	for _, id := range g.accounts {
		g.stats[id] = g.computeStats(id)
	}

	return g, nil
}

func validate(index int, tx models.Transaction) error {
	switch {
	case tx.ID == "":
		return &InvalidTransactionError{Index: index, Field: "id", Reason: "missing"}
	case tx.FromAccount == "":
		return &InvalidTransactionError{Index: index, ID: tx.ID, Field: "from_account", Reason: "missing"}
	case tx.ToAccount == "":
		return &InvalidTransactionError{Index: index, ID: tx.ID, Field: "to_account", Reason: "missing"}
	case math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0):
		return &InvalidTransactionError{Index: index, ID: tx.ID, Field: "amount", Reason: "not a finite number"}
	case tx.Amount <= 0:
		return &InvalidTransactionError{Index: index, ID: tx.ID, Field: "amount", Reason: "must be positive"}
	case tx.Timestamp.IsZero():
		return &InvalidTransactionError{Index: index, ID: tx.ID, Field: "timestamp", Reason: "missing"}
	}
	return nil
}

// sortIdx orders transaction indexes by (timestamp, id) in place.
func (g *TransactionGraph) sortIdx(idxs []int) {
	sort.Slice(idxs, func(a, b int) bool {
		ta, tb := g.txns[idxs[a]], g.txns[idxs[b]]
		if !ta.Timestamp.Equal(tb.Timestamp) {
			return ta.Timestamp.Before(tb.Timestamp)
		}
		return ta.ID < tb.ID
	})
}

func (g *TransactionGraph) computeStats(account string) *AccountStats {
	st := &AccountStats{
		AccountID:    account,
		Sources:      make(map[string]struct{}),
		Destinations: make(map[string]struct{}),
	}
	for _, i := range g.inbound[account] {
		tx := g.txns[i]
		st.InboundCount++
		st.TotalIn += tx.Amount
		st.Sources[tx.FromAccount] = struct{}{}
		st.observe(tx.Timestamp)
	}
	for _, i := range g.outbound[account] {
		tx := g.txns[i]
		st.OutboundCount++
		st.TotalOut += tx.Amount
		st.Destinations[tx.ToAccount] = struct{}{}
		st.observe(tx.Timestamp)
	}
	return st
}

func (s *AccountStats) observe(ts time.Time) {
	if s.FirstSeen.IsZero() || ts.Before(s.FirstSeen) {
		s.FirstSeen = ts
	}
	if ts.After(s.LastSeen) {
		s.LastSeen = ts
	}
}

// Accounts returns every account id seen anywhere in the input, sorted.
func (g *TransactionGraph) Accounts() []string {
	return g.accounts
}

// Transactions returns the full input sequence backing the graph.
func (g *TransactionGraph) Transactions() []models.Transaction {
	return g.txns
}

// Stats returns the aggregate statistics for an account, or nil when the
// account does not appear in the input.
func (g *TransactionGraph) Stats(account string) *AccountStats {
	return g.stats[account]
}

// OutDegree is the number of distinct receivers reachable from the
// account, self transfers excluded.
func (g *TransactionGraph) OutDegree(account string) int {
	return len(g.successors[account])
}

// Successors returns the sorted distinct receivers of the account, self
// transfers excluded.
func (g *TransactionGraph) Successors(account string) []string {
	return g.successors[account]
}

// EdgesBetween returns every transaction from one account to another,
// ordered by (timestamp, id). Parallel transfers between the same pair
// all appear.
func (g *TransactionGraph) EdgesBetween(from, to string) []models.Transaction {
	return g.collect(g.adj[from][to])
}

// InboundTransactions returns every transaction received by the account,
// including self transfers, ordered by (timestamp, id).
func (g *TransactionGraph) InboundTransactions(account string) []models.Transaction {
	return g.collect(g.inbound[account])
}

// OutboundTransactions returns every transaction sent by the account,
// including self transfers, ordered by (timestamp, id).
func (g *TransactionGraph) OutboundTransactions(account string) []models.Transaction {
	return g.collect(g.outbound[account])
}

// TouchingTransactions returns every transaction involving the account in
// either direction, ordered by (timestamp, id). A self transfer appears
// once.
func (g *TransactionGraph) TouchingTransactions(account string) []models.Transaction {
	in, out := g.inbound[account], g.outbound[account]
	seen := make(map[int]struct{}, len(in)+len(out))
	idxs := make([]int, 0, len(in)+len(out))
	for _, list := range [][]int{in, out} {
		for _, i := range list {
			if _, ok := seen[i]; !ok {
				seen[i] = struct{}{}
				idxs = append(idxs, i)
			}
		}
	}
	g.sortIdx(idxs)
	return g.collect(idxs)
}

func (g *TransactionGraph) collect(idxs []int) []models.Transaction {
	out := make([]models.Transaction, len(idxs))
	for i, idx := range idxs {
		out[i] = g.txns[idx]
	}
	return out
}
