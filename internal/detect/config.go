package detect

// Config carries every tunable of the detection pipeline. It is passed
// explicitly into Analyze so that runs are reproducible and tests can vary
// parameters without touching package state.
type Config struct {
	// Cycle search
	MinCycleLength   int // shortest ring accepted, in accounts
	MaxCycleLength   int // longest ring accepted
	MaxStartNodes    int // DFS start points, top-K by out-degree
	MaxRings         int // retained rings, ranked by strength
	ClusterMinShared int // accounts two rings must share to cluster

	// Smurfing windows
	WindowHours           int
	MinWindowTransactions int       // accounts below this are never evaluated
	SmurfMinScore         float64   // window score required to emit an alert
	HighFrequencyCount    int       // txn count considered high frequency
	StructuringThresholds []float64 // reporting thresholds, descending
	StructuringMargin     float64   // zone width below each threshold, as a fraction
	StructuringFlagRate   float64   // fraction of amounts in-zone that triggers the flag
	ConsolidationMinIn    int       // distinct senders required for consolidation
	ConsolidationTol      float64   // relative tolerance between inbound total and the matching outbound

	// Shell profiling (bulk pre-filter only; on-demand lookups skip it)
	ShellMaxTransactions int
	ShellMinTotalValue   float64
	ShellMinScore        float64

	// Final score composition
	RingWeight     float64
	SmurfingWeight float64
	ShellWeight    float64
	PatternWeight  float64

	// Worker shards for per-account phases. Values below 1 mean one worker.
	Workers int
}

// DefaultConfig returns the production defaults. The structuring zone is
// 10% below each threshold: amounts like $900 sit deliberately under the
// $1,000 reporting line and must land inside the zone.
func DefaultConfig() Config {
	return Config{
		MinCycleLength:   3,
		MaxCycleLength:   5,
		MaxStartNodes:    50,
		MaxRings:         100,
		ClusterMinShared: 2,

		WindowHours:           72,
		MinWindowTransactions: 6,
		SmurfMinScore:         30,
		HighFrequencyCount:    10,
		StructuringThresholds: []float64{10000, 5000, 3000, 1000},
		StructuringMargin:     0.10,
		StructuringFlagRate:   0.40,
		ConsolidationMinIn:    3,
		ConsolidationTol:      0.10,

		ShellMaxTransactions: 5,
		ShellMinTotalValue:   50000,
		ShellMinScore:        40,

		RingWeight:     0.30,
		SmurfingWeight: 0.25,
		ShellWeight:    0.25,
		PatternWeight:  0.20,

		Workers: 4,
	}
}

func (c Config) workers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}
