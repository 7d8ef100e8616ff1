package detect

import (
	"sort"
	"time"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Smurfing Detector
//
// Flags accounts that split or consolidate funds through rapid, structured
// bursts. For every account with enough activity, each transaction
// touching the account anchors a candidate window [t, t+72h]; the single
// highest-scoring window represents the account (window consolidation —
// one alert per account, never one per window).
//
// Signals inside the selected window:
//   - fan-in / fan-out: distinct counterparties sending / receiving
//   - velocity: transactions per hour over the span actually covered
//   - structuring: amounts parked just below reporting thresholds
//     ($10k, $5k, $3k, $1k)
//   - consolidation: many inbound transfers matched by one outbound
//
// Accounts below the minimum transaction count are never evaluated. That
// is a deliberate recall/precision trade-off: sparse activity cannot
// express a burst pattern, and scoring it would only produce noise.

const (
	patternHighFrequency = "high_frequency"
	patternStructuring   = "structuring"
	patternConsolidation = "consolidation"
)

type SmurfDetector struct {
	graph *TransactionGraph
	cfg   Config
}

func NewSmurfDetector(graph *TransactionGraph, cfg Config) *SmurfDetector {
	return &SmurfDetector{graph: graph, cfg: cfg}
}

// Detect evaluates every eligible account and returns alerts sorted by
// risk score descending, account id as tie-break. No eligible account is
// a normal terminal state yielding an empty slice.
func (d *SmurfDetector) Detect() []models.SmurfingAlert {
	var alerts []models.SmurfingAlert
	for _, account := range d.graph.Accounts() {
		if alert := d.AnalyzeAccount(account); alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	sort.Slice(alerts, func(a, b int) bool {
		if alerts[a].RiskScore != alerts[b].RiskScore {
			return alerts[a].RiskScore > alerts[b].RiskScore
		}
		return alerts[a].AccountID < alerts[b].AccountID
	})
	return alerts
}

// AnalyzeAccount scores the account's best window and returns an alert
// when it clears the reporting threshold, nil otherwise.
func (d *SmurfDetector) AnalyzeAccount(account string) *models.SmurfingAlert {
	txns := d.graph.TouchingTransactions(account)
	if len(txns) < d.cfg.MinWindowTransactions {
		return nil
	}

	window := time.Duration(d.cfg.WindowHours) * time.Hour
	var best *models.SmurfingAlert
	for _, anchor := range txns {
		candidate := d.scoreWindow(account, txns, anchor.Timestamp, anchor.Timestamp.Add(window))
		if candidate == nil {
			continue
		}
		// Strict comparison keeps the earliest of equally scored windows.
		if best == nil || candidate.RiskScore > best.RiskScore {
			best = candidate
		}
	}

	if best == nil || best.RiskScore < d.cfg.SmurfMinScore {
		return nil
	}
	return best
}

func (d *SmurfDetector) scoreWindow(account string, txns []models.Transaction, start, end time.Time) *models.SmurfingAlert {
	var inWindow []models.Transaction
	for _, tx := range txns {
		if !tx.Timestamp.Before(start) && !tx.Timestamp.After(end) {
			inWindow = append(inWindow, tx)
		}
	}
	if len(inWindow) == 0 {
		return nil
	}

	alert := &models.SmurfingAlert{
		AccountID:        account,
		WindowStart:      start,
		WindowEnd:        end,
		TimeWindowHours:  d.cfg.WindowHours,
		TransactionCount: len(inWindow),
	}

	sources := make(map[string]struct{})
	destinations := make(map[string]struct{})
	first, last := inWindow[0].Timestamp, inWindow[0].Timestamp
	var amounts []float64
	inboundTotal := 0.0
	maxOutbound := 0.0
	for _, tx := range inWindow {
		alert.TotalAmount += tx.Amount
		amounts = append(amounts, tx.Amount)
		if tx.Timestamp.Before(first) {
			first = tx.Timestamp
		}
		if tx.Timestamp.After(last) {
			last = tx.Timestamp
		}
		if tx.ToAccount == account && tx.FromAccount != account {
			sources[tx.FromAccount] = struct{}{}
			inboundTotal += tx.Amount
		}
		if tx.FromAccount == account && tx.ToAccount != account {
			destinations[tx.ToAccount] = struct{}{}
			if tx.Amount > maxOutbound {
				maxOutbound = tx.Amount
			}
		}
	}
	alert.FanIn = len(sources)
	alert.FanOut = len(destinations)

	spanHours := last.Sub(first).Hours()
	if spanHours < 1 {
		spanHours = 1
	}
	alert.Velocity = float64(len(inWindow)) / spanHours

	score := 0.0
	if len(inWindow) >= d.cfg.HighFrequencyCount {
		score += 30
	}
	score += 5 * float64(alert.FanIn)
	score += 5 * float64(alert.FanOut)
	switch {
	case alert.Velocity > 1:
		score += 20
	case alert.Velocity > 0.5:
		score += 10
	}
	amountTerm := alert.TotalAmount / 100000 * 20
	if amountTerm > 20 {
		amountTerm = 20
	}
	score += amountTerm

	if len(inWindow) >= d.cfg.HighFrequencyCount || alert.Velocity > 1 {
		alert.Patterns = append(alert.Patterns, patternHighFrequency)
	}
	if d.structuring(amounts) {
		alert.Patterns = append(alert.Patterns, patternStructuring)
	}
	if d.consolidation(len(sources), inboundTotal, maxOutbound) {
		alert.Patterns = append(alert.Patterns, patternConsolidation)
	}

	alert.RiskScore = clamp(score, 0, 100)
	return alert
}

// structuring reports whether the share of amounts sitting in the zone
// just below any reporting threshold exceeds the flag rate. The zone is
// [threshold·(1-margin), threshold).
func (d *SmurfDetector) structuring(amounts []float64) bool {
	if len(amounts) == 0 {
		return false
	}
	inZone := 0
	for _, a := range amounts {
		for _, threshold := range d.cfg.StructuringThresholds {
			if a >= threshold*(1-d.cfg.StructuringMargin) && a < threshold {
				inZone++
				break
			}
		}
	}
	return float64(inZone)/float64(len(amounts)) > d.cfg.StructuringFlagRate
}

// consolidation reports whether inbound value from many counterparties is
// matched, within tolerance, by a single outbound transfer.
func (d *SmurfDetector) consolidation(sources int, inboundTotal, maxOutbound float64) bool {
	if sources < d.cfg.ConsolidationMinIn || inboundTotal <= 0 || maxOutbound <= 0 {
		return false
	}
	low := inboundTotal * (1 - d.cfg.ConsolidationTol)
	high := inboundTotal * (1 + d.cfg.ConsolidationTol)
	return maxOutbound >= low && maxOutbound <= high
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
