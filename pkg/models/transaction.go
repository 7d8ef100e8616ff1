package models

import "time"

// Transaction represents a single decoded funds transfer between two
// accounts. It is created once at ingestion and never mutated.
type Transaction struct {
	ID          string    `json:"id"`
	FromAccount string    `json:"fromAccount"`
	ToAccount   string    `json:"toAccount"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
}

// IsSelfTransfer reports whether the transaction sends funds back to its
// own origin account. Self transfers count toward volume statistics but
// never form graph edges eligible for cycle search.
func (t Transaction) IsSelfTransfer() bool {
	return t.FromAccount == t.ToAccount
}

// RiskLevel classifies a 0-100 composite score into an operational tier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevelForScore maps a composite score to its tier. Boundaries are
// inclusive on the lower bound: exactly 80 is CRITICAL, exactly 60 is
// HIGH, exactly 40 is MEDIUM.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Ring is a detected closed routing loop: funds leave an account and
// return to it through two to four intermediaries.
type Ring struct {
	RingID           string   `json:"ringId"`
	Accounts         []string `json:"accounts"` // canonical rotation, direction preserved
	Length           int      `json:"length"`
	TotalAmount      float64  `json:"totalAmount"`
	TransactionIDs   []string `json:"transactionIds"`
	TransactionCount int      `json:"transactionCount"`
	AvgTransaction   float64  `json:"avgTransaction"`
	AmountSpread     float64  `json:"amountSpread"` // coefficient of variation across hops, capped at 1.0
	Strength         float64  `json:"strength"`
	DetectionType    string   `json:"detectionType"` // always "cycle"
}

// RingCluster groups retained rings that share two or more accounts,
// indicating a nested or overlapping laundering structure.
type RingCluster struct {
	ClusterID      string   `json:"clusterId"`
	RingIDs        []string `json:"ringIds"`
	SharedAccounts []string `json:"sharedAccounts"`
}

// SmurfingAlert flags an account whose best activity window shows rapid
// splitting or consolidation of funds.
type SmurfingAlert struct {
	AccountID        string    `json:"accountId"`
	WindowStart      time.Time `json:"windowStart"`
	WindowEnd        time.Time `json:"windowEnd"`
	TimeWindowHours  int       `json:"timeWindowHours"`
	TransactionCount int       `json:"transactionCount"`
	FanIn            int       `json:"fanIn"`
	FanOut           int       `json:"fanOut"`
	TotalAmount      float64   `json:"totalAmount"`
	Velocity         float64   `json:"velocity"` // transactions per hour inside the window
	RiskScore        float64   `json:"riskScore"`
	Patterns         []string  `json:"patterns"` // high_frequency / structuring / consolidation
}

// ShellProfile scores an account on six independent behavioral dimensions
// indicative of pass-through or mule usage.
type ShellProfile struct {
	AccountID           string    `json:"accountId"`
	TotalTransactions   int       `json:"totalTransactions"`
	TotalIn             float64   `json:"totalIn"`
	TotalOut            float64   `json:"totalOut"`
	TotalThroughput     float64   `json:"totalThroughput"`
	AvgTransactionValue float64   `json:"avgTransactionValue"`
	UniqueSources       int       `json:"uniqueSources"`
	UniqueDestinations  int       `json:"uniqueDestinations"`
	HighValueScore      float64   `json:"highValueScore"`
	PassThroughScore    float64   `json:"passThroughScore"`
	ConnectionScore     float64   `json:"connectionScore"`
	DormancyScore       float64   `json:"dormancyScore"`
	DirectionalityScore float64   `json:"directionalityScore"`
	UniformityScore     float64   `json:"uniformityScore"`
	ShellScore          float64   `json:"shellScore"` // weighted composite, 0-100
	RiskLevel           RiskLevel `json:"riskLevel"`
}

// AccountScore is the final per-account verdict combining all detector
// signals. Produced once per analysis run; immutable after creation.
type AccountScore struct {
	AccountID            string    `json:"accountId"`
	RingInvolvementScore float64   `json:"ringInvolvementScore"`
	SmurfingScore        float64   `json:"smurfingScore"`
	ShellScore           float64   `json:"shellScore"`
	PatternScore         float64   `json:"patternScore"`
	FinalScore           float64   `json:"finalScore"`
	RiskLevel            RiskLevel `json:"riskLevel"`
	RiskFactors          []string  `json:"riskFactors"`
}

// Summary holds run-level aggregates derived purely from the input set
// and the detector outputs.
type Summary struct {
	TotalVolume       float64 `json:"totalVolume"`
	AvgTransaction    float64 `json:"avgTransaction"`
	MedianTransaction float64 `json:"medianTransaction"`
	MinTransaction    float64 `json:"minTransaction"`
	MaxTransaction    float64 `json:"maxTransaction"`
	CyclesDetected    int     `json:"cyclesDetected"`
	AvgCycleLength    float64 `json:"avgCycleLength"`
	AccountsInRings   int     `json:"accountsInRings"`
	SmurfingAlerts    int     `json:"smurfingAlerts"`
	ShellAccounts     int     `json:"shellAccounts"`
	HighRiskAccounts  int     `json:"highRiskAccounts"`
	CriticalAccounts  int     `json:"criticalAccounts"`
	SuspiciousPercent float64 `json:"suspiciousPercent"`
}

// AnalysisResults is the full structured output of one analysis run.
// The engine leaves AnalysisID empty; the serving layer assigns it so
// that identical inputs produce byte-identical engine output.
type AnalysisResults struct {
	AnalysisID        string          `json:"analysisId,omitempty"`
	TotalTransactions int             `json:"totalTransactions"`
	TotalAccounts     int             `json:"totalAccounts"`
	RingsDetected     []Ring          `json:"ringsDetected"`
	RingClusters      []RingCluster   `json:"ringClusters"`
	SmurfingAlerts    []SmurfingAlert `json:"smurfingAlerts"`
	ShellAccounts     []ShellProfile  `json:"shellAccounts"`
	AccountScores     []AccountScore  `json:"accountScores"`
	HighRiskAccounts  []string        `json:"highRiskAccounts"`
	CriticalAccounts  []string        `json:"criticalAccounts"`
	Summary           Summary         `json:"summary"`
}
