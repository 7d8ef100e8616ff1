package detect

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Analysis Engine
//
// One synchronous run: transactions in, AnalysisResults out. The graph is
// built once; the three detectors consume it concurrently; the scorer
// aggregates their per-account outputs. Per-account scoring is sharded
// across workers over disjoint slices of the sorted account list, so the
// merge needs no locks. Nothing survives between runs.
//
// An empty input set is a valid run producing an empty result, not an
// error. Malformed input fails the whole run — partial analysis of
// contaminated data is worse than no analysis.

// Analyze runs the full detection pipeline with the given configuration.
func Analyze(txns []models.Transaction, cfg Config) (models.AnalysisResults, error) {
	graph, err := BuildGraph(txns)
	if err != nil {
		return models.AnalysisResults{}, err
	}

	results := emptyResults()
	results.TotalTransactions = len(txns)
	results.TotalAccounts = len(graph.Accounts())
	if len(txns) == 0 {
		return results, nil
	}

	var (
		rings    []models.Ring
		clusters []models.RingCluster
		alerts   []models.SmurfingAlert
		shells   []models.ShellProfile
	)

	var eg errgroup.Group
	eg.Go(func() error {
		rings, clusters = NewCycleDetector(graph, cfg).Detect()
		return nil
	})
	eg.Go(func() error {
		alerts = NewSmurfDetector(graph, cfg).Detect()
		return nil
	})
	eg.Go(func() error {
		shells = NewShellDetector(graph, cfg).Detect()
		return nil
	})
	_ = eg.Wait() // detectors report findings, never errors

	results.RingsDetected = append(results.RingsDetected, rings...)
	results.RingClusters = append(results.RingClusters, clusters...)
	results.SmurfingAlerts = append(results.SmurfingAlerts, alerts...)
	results.ShellAccounts = append(results.ShellAccounts, shells...)

	results.AccountScores = scoreAll(graph, cfg, rings, alerts, shells)

	for _, score := range results.AccountScores {
		switch score.RiskLevel {
		case models.RiskCritical:
			results.CriticalAccounts = append(results.CriticalAccounts, score.AccountID)
		case models.RiskHigh:
			results.HighRiskAccounts = append(results.HighRiskAccounts, score.AccountID)
		}
	}

	results.Summary = buildSummary(graph, results)
	return results, nil
}

func emptyResults() models.AnalysisResults {
	return models.AnalysisResults{
		RingsDetected:    []models.Ring{},
		RingClusters:     []models.RingCluster{},
		SmurfingAlerts:   []models.SmurfingAlert{},
		ShellAccounts:    []models.ShellProfile{},
		AccountScores:    []models.AccountScore{},
		HighRiskAccounts: []string{},
		CriticalAccounts: []string{},
	}
}

// scoreAll shards the per-account scoring phase across workers. Each
// worker fills a disjoint segment of the preallocated result slice, so
// joining the group is the only synchronization.
func scoreAll(graph *TransactionGraph, cfg Config,
	rings []models.Ring, alerts []models.SmurfingAlert, shells []models.ShellProfile) []models.AccountScore {

	accounts := graph.Accounts()
	scores := make([]models.AccountScore, len(accounts))

	participation := make(map[string]RingParticipation, len(accounts))
	for _, ring := range rings {
		for _, account := range ring.Accounts {
			p := participation[account]
			p.Count++
			p.Amounts = append(p.Amounts, ring.TotalAmount)
			participation[account] = p
		}
	}
	for account, p := range participation {
		p.TotalRings = len(rings)
		participation[account] = p
	}

	alertsByAccount := make(map[string]*models.SmurfingAlert, len(alerts))
	for i := range alerts {
		alertsByAccount[alerts[i].AccountID] = &alerts[i]
	}
	shellsByAccount := make(map[string]*models.ShellProfile, len(shells))
	for i := range shells {
		shellsByAccount[shells[i].AccountID] = &shells[i]
	}

	scorer := NewScorer(cfg)
	workers := cfg.workers()
	chunk := (len(accounts) + workers - 1) / workers

	var eg errgroup.Group
	for start := 0; start < len(accounts); start += chunk {
		end := start + chunk
		if end > len(accounts) {
			end = len(accounts)
		}
		lo, hi := start, end
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				account := accounts[i]
				scores[i] = scorer.Compose(account,
					participation[account],
					alertsByAccount[account],
					shellsByAccount[account],
					graph.Stats(account))
			}
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(scores, func(a, b int) bool {
		if scores[a].FinalScore != scores[b].FinalScore {
			return scores[a].FinalScore > scores[b].FinalScore
		}
		return scores[a].AccountID < scores[b].AccountID
	})
	return scores
}

func buildSummary(graph *TransactionGraph, results models.AnalysisResults) models.Summary {
	summary := models.Summary{
		CyclesDetected:   len(results.RingsDetected),
		SmurfingAlerts:   len(results.SmurfingAlerts),
		ShellAccounts:    len(results.ShellAccounts),
		HighRiskAccounts: len(results.HighRiskAccounts),
		CriticalAccounts: len(results.CriticalAccounts),
	}

	txns := graph.Transactions()
	if len(txns) > 0 {
		amounts := make([]float64, len(txns))
		for i, tx := range txns {
			amounts[i] = tx.Amount
		}
		sort.Float64s(amounts)
		for _, a := range amounts {
			summary.TotalVolume += a
		}
		summary.AvgTransaction = summary.TotalVolume / float64(len(amounts))
		summary.MedianTransaction = amounts[len(amounts)/2]
		summary.MinTransaction = amounts[0]
		summary.MaxTransaction = amounts[len(amounts)-1]
	}

	if len(results.RingsDetected) > 0 {
		inRings := make(map[string]struct{})
		lengthSum := 0
		for _, ring := range results.RingsDetected {
			lengthSum += ring.Length
			for _, account := range ring.Accounts {
				inRings[account] = struct{}{}
			}
		}
		summary.AccountsInRings = len(inRings)
		summary.AvgCycleLength = float64(lengthSum) / float64(len(results.RingsDetected))
	}

	if results.TotalAccounts > 0 {
		suspicious := len(results.HighRiskAccounts) + len(results.CriticalAccounts)
		summary.SuspiciousPercent = float64(suspicious) / float64(results.TotalAccounts) * 100
	}
	return summary
}
