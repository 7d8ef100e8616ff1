package detect

import (
	"math"
	"sort"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Composite Risk Scorer
//
// Pure aggregation over the three detectors plus a generic flow-pattern
// signal — no new search or windowing happens here. Every account seen
// anywhere in the input gets a verdict; accounts with no signal score
// zero across the board and land in the LOW tier.
//
// Weights: ring involvement 30%, smurfing 25%, shell 25%, flow pattern
// 20%. The flow-pattern signal is a volume/connectivity anomaly heuristic
// over the account's own aggregate statistics; it catches pass-through
// layouts that slip under the shell pre-filter.

type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// RingParticipation summarizes an account's presence in the retained
// rings.
type RingParticipation struct {
	Count      int       // rings containing the account
	TotalRings int       // all retained rings
	Amounts    []float64 // total amount of each containing ring
}

// RingInvolvementScore scores participation in detected rings: the share
// of retained rings containing the account, boosted for high-value rings,
// clipped to 0-100.
func (s *Scorer) RingInvolvementScore(p RingParticipation) float64 {
	if p.Count == 0 || p.TotalRings == 0 {
		return 0
	}
	base := clamp(float64(p.Count)/float64(p.TotalRings)*100, 0, 100)

	avgAmount := 0.0
	for _, a := range p.Amounts {
		avgAmount += a
	}
	avgAmount /= float64(len(p.Amounts))
	boost := math.Min(1.5, 1.0+avgAmount/1000000)

	return clamp(base*boost, 0, 100)
}

// PatternScore is the implementation-defined flow-pattern signal:
// imbalance between inbound and outbound volume, asymmetric counterparty
// spread, and high per-transaction throughput with low connectivity.
func (s *Scorer) PatternScore(st *AccountStats) float64 {
	if st == nil || st.TransactionCount() == 0 {
		return 0
	}

	passThrough := 0.0
	if st.TotalIn > 0 && st.TotalOut > 0 {
		ratio := math.Min(st.TotalIn, st.TotalOut) / math.Max(st.TotalIn, st.TotalOut)
		passThrough = (1.0 - ratio) * 100
	}

	consolidation := 0.0
	sources, destinations := len(st.Sources), len(st.Destinations)
	if (sources > destinations && st.TotalIn > st.TotalOut) ||
		(destinations > sources && st.TotalOut > st.TotalIn) {
		consolidation = 60
	}

	avgPerTxn := st.Throughput() / float64(st.TransactionCount())
	connectivity := float64(sources+destinations) / float64(st.TransactionCount())
	efficiency := math.Min(100, avgPerTxn/10000*(1.0/math.Max(connectivity, 0.1)))

	return clamp(0.3*passThrough+0.3*consolidation+0.4*efficiency, 0, 100)
}

// Compose produces the final per-account verdict from the four component
// scores and the detector signals backing them.
func (s *Scorer) Compose(account string, participation RingParticipation,
	alert *models.SmurfingAlert, shell *models.ShellProfile, st *AccountStats) models.AccountScore {

	ringScore := s.RingInvolvementScore(participation)
	smurfScore := 0.0
	if alert != nil {
		smurfScore = clamp(alert.RiskScore, 0, 100)
	}
	shellScore := 0.0
	if shell != nil {
		shellScore = clamp(shell.ShellScore, 0, 100)
	}
	patternScore := s.PatternScore(st)

	final := clamp(
		s.cfg.RingWeight*ringScore+
			s.cfg.SmurfingWeight*smurfScore+
			s.cfg.ShellWeight*shellScore+
			s.cfg.PatternWeight*patternScore,
		0, 100)

	return models.AccountScore{
		AccountID:            account,
		RingInvolvementScore: ringScore,
		SmurfingScore:        smurfScore,
		ShellScore:           shellScore,
		PatternScore:         patternScore,
		FinalScore:           final,
		RiskLevel:            models.RiskLevelForScore(final),
		RiskFactors:          riskFactors(participation, alert, shell, patternScore),
	}
}

// riskFactors is the union of named flags raised by any contributing
// detector, sorted for stable output.
func riskFactors(p RingParticipation, alert *models.SmurfingAlert, shell *models.ShellProfile, patternScore float64) []string {
	tags := make(map[string]struct{})

	if p.Count > 0 {
		tags["ring_participant"] = struct{}{}
	}
	if p.Count > 1 {
		tags["multiple_rings"] = struct{}{}
	}

	if alert != nil {
		for _, pattern := range alert.Patterns {
			switch pattern {
			case patternHighFrequency:
				tags["high_frequency"] = struct{}{}
			case patternStructuring:
				tags["structuring_detected"] = struct{}{}
			case patternConsolidation:
				tags["consolidation_detected"] = struct{}{}
			}
		}
	}

	if shell != nil {
		if shell.ShellScore >= 60 {
			tags["high_shell_score"] = struct{}{}
		}
		if shell.PassThroughScore >= 100 {
			tags["pass_through"] = struct{}{}
		}
		if shell.ConnectionScore >= 50 && shell.UniqueSources <= 2 {
			tags["limited_sources"] = struct{}{}
		}
		if shell.DormancyScore >= 80 {
			tags["dormancy_burst"] = struct{}{}
		}
		if shell.UniformityScore >= 60 {
			tags["uniform_amounts"] = struct{}{}
		}
	}

	if patternScore > 50 {
		tags["suspicious_flow_pattern"] = struct{}{}
	}

	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
