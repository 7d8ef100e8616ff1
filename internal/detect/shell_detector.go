package detect

import (
	"math"
	"sort"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Shell Account Detector
//
// Profiles accounts on six independent behavioral dimensions. A shell (or
// mule) account moves disproportionate value through very few
// transactions, usually in one side and straight out the other.
//
// Dimensions and composite weights:
//   high-value      20%  average transfer vs a $10k baseline
//   pass-through    25%  inbound total matching outbound total
//   connection      20%  few distinct counterparties for the traffic
//   dormancy        15%  long silence followed by a burst
//   directionality  15%  flow that is almost purely one-way
//   uniformity       5%  near-identical amounts
//
// Each dimension scores 0-100 on its own; the composite is the weighted
// sum, so it is also 0-100. Bulk detection applies a candidate pre-filter
// (few transactions, high throughput); on-demand lookups profile any
// account without it.

type ShellDetector struct {
	graph *TransactionGraph
	cfg   Config
}

func NewShellDetector(graph *TransactionGraph, cfg Config) *ShellDetector {
	return &ShellDetector{graph: graph, cfg: cfg}
}

// Detect runs the population-wide scan: pre-filter candidates, profile
// them, keep profiles above the minimum score. Sorted by composite score
// descending, account id as tie-break.
func (d *ShellDetector) Detect() []models.ShellProfile {
	var profiles []models.ShellProfile
	for _, account := range d.graph.Accounts() {
		st := d.graph.Stats(account)
		if st.TransactionCount() > d.cfg.ShellMaxTransactions {
			continue
		}
		if st.Throughput() < d.cfg.ShellMinTotalValue {
			continue
		}
		profile := d.Profile(account)
		if profile.ShellScore > d.cfg.ShellMinScore {
			profiles = append(profiles, profile)
		}
	}
	sort.Slice(profiles, func(a, b int) bool {
		if profiles[a].ShellScore != profiles[b].ShellScore {
			return profiles[a].ShellScore > profiles[b].ShellScore
		}
		return profiles[a].AccountID < profiles[b].AccountID
	})
	return profiles
}

// Profile computes the six-dimension profile for a single account without
// any pre-filter. Unknown accounts produce a zero profile.
func (d *ShellDetector) Profile(account string) models.ShellProfile {
	st := d.graph.Stats(account)
	if st == nil {
		return models.ShellProfile{AccountID: account, RiskLevel: models.RiskLow}
	}

	touching := d.graph.TouchingTransactions(account)
	amounts := make([]float64, len(touching))
	for i, tx := range touching {
		amounts[i] = tx.Amount
	}

	profile := models.ShellProfile{
		AccountID:          account,
		TotalTransactions:  st.TransactionCount(),
		TotalIn:            st.TotalIn,
		TotalOut:           st.TotalOut,
		TotalThroughput:    st.Throughput(),
		UniqueSources:      len(st.Sources),
		UniqueDestinations: len(st.Destinations),
	}
	if profile.TotalTransactions > 0 {
		profile.AvgTransactionValue = profile.TotalThroughput / float64(profile.TotalTransactions)
	}

	profile.HighValueScore = scoreHighValue(profile.AvgTransactionValue)
	profile.PassThroughScore = scorePassThrough(st.TotalIn, st.TotalOut)
	profile.ConnectionScore = scoreConnections(st)
	profile.DormancyScore = scoreDormancy(touching)
	profile.DirectionalityScore = scoreDirectionality(st.InboundCount, st.OutboundCount)
	profile.UniformityScore = scoreUniformity(amounts)

	profile.ShellScore = clamp(
		0.20*profile.HighValueScore+
			0.25*profile.PassThroughScore+
			0.20*profile.ConnectionScore+
			0.15*profile.DormancyScore+
			0.15*profile.DirectionalityScore+
			0.05*profile.UniformityScore,
		0, 100)
	profile.RiskLevel = models.RiskLevelForScore(profile.ShellScore)
	return profile
}

// scoreHighValue normalizes the average transfer against a $10k baseline.
func scoreHighValue(avgValue float64) float64 {
	return clamp(avgValue/10000*100, 0, 100)
}

// scorePassThrough peaks exactly when the relative difference between
// inbound and outbound totals is under 5% — near-perfect flow-through.
func scorePassThrough(totalIn, totalOut float64) float64 {
	if totalIn <= 0 || totalOut <= 0 {
		return 0
	}
	maxVal := math.Max(totalIn, totalOut)
	diff := math.Abs(totalIn-totalOut) / maxVal
	switch {
	case diff < 0.05:
		return 100
	case diff < 0.10:
		return 60
	case diff < 0.15:
		return 32
	default:
		return 0
	}
}

// scoreConnections penalizes traffic concentrated on one or two
// counterparties. A single source feeding the account, or a single
// destination draining it, is the canonical mule layout.
func scoreConnections(st *AccountStats) float64 {
	score := 0.0
	switch {
	case len(st.Sources) == 1 && st.InboundCount >= 1:
		score += 50
	case len(st.Sources) <= 2 && st.InboundCount >= 5:
		score += 40
	}
	switch {
	case len(st.Destinations) == 1 && st.OutboundCount >= 1:
		score += 50
	case len(st.Destinations) <= 2 && st.OutboundCount >= 5:
		score += 40
	}
	if len(st.Sources)+len(st.Destinations) <= 3 && st.TransactionCount() >= 4 {
		score += 35
	}
	return clamp(score, 0, 100)
}

// scoreDormancy detects a long gap of inactivity followed by rapid
// activity, or tightly clustered timing overall. Needs at least three
// observations to say anything.
func scoreDormancy(txns []models.Transaction) float64 {
	if len(txns) < 3 {
		return 0
	}
	gaps := make([]float64, len(txns)-1)
	for i := 1; i < len(txns); i++ {
		gaps[i-1] = txns[i].Timestamp.Sub(txns[i-1].Timestamp).Hours()
	}

	maxGap, maxIdx := gaps[0], 0
	sum := 0.0
	for i, gap := range gaps {
		sum += gap
		if gap > maxGap {
			maxGap, maxIdx = gap, i
		}
	}
	mean := sum / float64(len(gaps))

	// Dormant for over a week, then a burst under a day apart on average.
	if maxGap > 168 && maxIdx+1 < len(gaps) {
		after := gaps[maxIdx+1:]
		afterSum := 0.0
		for _, gap := range after {
			afterSum += gap
		}
		if afterSum/float64(len(after)) < 24 {
			return 100
		}
	}

	if mean > 0 {
		variance := 0.0
		for _, gap := range gaps {
			diff := gap - mean
			variance += diff * diff
		}
		variance /= float64(len(gaps))
		if math.Sqrt(variance)/mean < 0.5 {
			return 80
		}
	}
	return 0
}

// scoreDirectionality is |in - out| / (in + out) over transaction counts,
// scaled to 0-100. Pure sinks and pure sources score 100.
func scoreDirectionality(inboundCount, outboundCount int) float64 {
	total := inboundCount + outboundCount
	if total == 0 {
		return 0
	}
	return math.Abs(float64(inboundCount-outboundCount)) / float64(total) * 100
}

// scoreUniformity is an inverse of the coefficient of variation of
// transaction amounts: near-identical amounts score high.
func scoreUniformity(amounts []float64) float64 {
	if len(amounts) < 2 {
		return 0
	}
	mean := 0.0
	for _, a := range amounts {
		mean += a
	}
	mean /= float64(len(amounts))
	if mean <= 0 {
		return 0
	}
	variance := 0.0
	for _, a := range amounts {
		diff := a - mean
		variance += diff * diff
	}
	variance /= float64(len(amounts))
	cv := math.Sqrt(variance) / mean
	switch {
	case cv < 0.2:
		return 100
	case cv < 0.4:
		return 60
	default:
		return 0
	}
}
