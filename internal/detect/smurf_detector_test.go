package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/rawblock/muling-engine/pkg/models"
)

func detectSmurfing(t *testing.T, txns []models.Transaction) []models.SmurfingAlert {
	t.Helper()
	g, err := BuildGraph(txns)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	return NewSmurfDetector(g, DefaultConfig()).Detect()
}

// fanOutBurst builds n transfers of the given amount from one account to
// n distinct receivers, spread evenly over the span.
func fanOutBurst(from string, n int, amount float64, span time.Duration) []models.Transaction {
	step := span / time.Duration(n)
	txns := make([]models.Transaction, n)
	for i := 0; i < n; i++ {
		txns[i] = tx(
			fmt.Sprintf("burst_%02d", i+1),
			from,
			fmt.Sprintf("D%02d", i+1),
			amount,
			time.Duration(i)*step,
		)
	}
	return txns
}

func TestSmurfDetector_RapidFanOutBelowThreshold(t *testing.T) {
	// Ten $900 transfers to ten receivers inside three hours: high
	// frequency, high velocity, and every amount parked just under the
	// $1,000 reporting line.
	alerts := detectSmurfing(t, fanOutBurst("X", 10, 900, 3*time.Hour))

	if len(alerts) != 1 {
		t.Fatalf("Expected one alert for the sender only, got %d", len(alerts))
	}
	alert := alerts[0]

	if alert.AccountID != "X" {
		t.Errorf("Expected alert on X, got %s", alert.AccountID)
	}
	if alert.FanOut != 10 || alert.FanIn != 0 {
		t.Errorf("Expected fan-out 10 / fan-in 0, got %d / %d", alert.FanOut, alert.FanIn)
	}
	if alert.TransactionCount != 10 {
		t.Errorf("Expected 10 transactions in window, got %d", alert.TransactionCount)
	}
	if alert.TotalAmount != 9000 {
		t.Errorf("Expected total 9000, got %f", alert.TotalAmount)
	}
	if alert.Velocity <= 1 {
		t.Errorf("Expected velocity above 1 txn/hour, got %f", alert.Velocity)
	}
	// 30 (frequency) + 50 (fan-out) + 20 (velocity) + 1.8 (amount) clips at 100.
	if alert.RiskScore != 100 {
		t.Errorf("Expected clipped risk score 100, got %f", alert.RiskScore)
	}

	if !hasPattern(alert, patternHighFrequency) {
		t.Errorf("Expected high_frequency pattern, got %v", alert.Patterns)
	}
	if !hasPattern(alert, patternStructuring) {
		t.Errorf("Expected structuring pattern for $900 amounts, got %v", alert.Patterns)
	}
	if hasPattern(alert, patternConsolidation) {
		t.Errorf("Pure fan-out must not flag consolidation, got %v", alert.Patterns)
	}
}

func TestSmurfDetector_SparseAccountsSkipped(t *testing.T) {
	// Five transactions is below the minimum window size of six.
	alerts := detectSmurfing(t, fanOutBurst("X", 5, 900, time.Hour))
	if len(alerts) != 0 {
		t.Errorf("Accounts below the minimum transaction count must never alert, got %d alerts", len(alerts))
	}
}

func TestSmurfDetector_SlowActivityNotFlagged(t *testing.T) {
	// Eight ordinary transfers spread over four months: each 72h window
	// holds at most two of them.
	var txns []models.Transaction
	for i := 0; i < 8; i++ {
		txns = append(txns, tx(
			fmt.Sprintf("slow_%d", i),
			"X",
			fmt.Sprintf("D%02d", i+1),
			400,
			time.Duration(i)*15*24*time.Hour,
		))
	}
	alerts := detectSmurfing(t, txns)
	if len(alerts) != 0 {
		t.Errorf("Slow spread-out activity must not alert, got %d alerts", len(alerts))
	}
}

func TestSmurfDetector_ConsolidationPattern(t *testing.T) {
	// Six senders feed one account which forwards the combined value in a
	// single transfer.
	txns := []models.Transaction{
		tx("in1", "S1", "HUB", 2000, 0),
		tx("in2", "S2", "HUB", 2000, 10*time.Minute),
		tx("in3", "S3", "HUB", 2000, 20*time.Minute),
		tx("in4", "S4", "HUB", 2000, 30*time.Minute),
		tx("in5", "S5", "HUB", 2000, 40*time.Minute),
		tx("out", "HUB", "SINK", 9900, time.Hour),
	}
	alerts := detectSmurfing(t, txns)
	if len(alerts) != 1 {
		t.Fatalf("Expected one alert on the hub, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.AccountID != "HUB" {
		t.Errorf("Expected HUB flagged, got %s", alert.AccountID)
	}
	if !hasPattern(alert, patternConsolidation) {
		t.Errorf("Expected consolidation pattern (10000 in, 9900 out), got %v", alert.Patterns)
	}
	if alert.FanIn != 5 || alert.FanOut != 1 {
		t.Errorf("Expected fan-in 5 / fan-out 1, got %d / %d", alert.FanIn, alert.FanOut)
	}
}

func TestSmurfDetector_BestWindowRepresentsAccount(t *testing.T) {
	// Quiet early activity, then a dense burst months later. One alert,
	// and its window must cover the burst.
	var txns []models.Transaction
	for i := 0; i < 3; i++ {
		txns = append(txns, tx(
			fmt.Sprintf("early_%d", i),
			"X",
			fmt.Sprintf("E%d", i),
			300,
			time.Duration(i)*20*24*time.Hour,
		))
	}
	burstStart := 100 * 24 * time.Hour
	for i := 0; i < 10; i++ {
		txns = append(txns, tx(
			fmt.Sprintf("late_%d", i),
			"X",
			fmt.Sprintf("L%d", i),
			950,
			burstStart+time.Duration(i)*10*time.Minute,
		))
	}

	alerts := detectSmurfing(t, txns)
	if len(alerts) != 1 {
		t.Fatalf("Window consolidation requires exactly one alert per account, got %d", len(alerts))
	}
	alert := alerts[0]
	if !alert.WindowStart.Equal(graphBase.Add(burstStart)) {
		t.Errorf("Expected the window anchored at the burst, got start %v", alert.WindowStart)
	}
	if alert.TransactionCount != 10 {
		t.Errorf("Expected the 10 burst transactions in the best window, got %d", alert.TransactionCount)
	}
}

func TestSmurfDetector_StructuringZone(t *testing.T) {
	tests := []struct {
		name    string
		amounts []float64
		want    bool
	}{
		{"All In Zone", []float64{900, 950, 999, 920, 980, 910}, true},
		{"Exactly At Threshold", []float64{1000, 1000, 1000, 1000, 1000, 1000}, false},
		{"Below Zone Floor", []float64{850, 860, 870, 880, 890, 895}, false},
		{"Mixed Under Flag Rate", []float64{950, 200, 300, 400, 500, 600}, false},
		{"Higher Threshold Zone", []float64{9500, 9600, 9700, 9200, 9900, 9100}, true},
	}

	d := &SmurfDetector{cfg: DefaultConfig()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.structuring(tt.amounts); got != tt.want {
				t.Errorf("structuring(%v) = %v, want %v", tt.amounts, got, tt.want)
			}
		})
	}
}

func hasPattern(alert models.SmurfingAlert, pattern string) bool {
	for _, p := range alert.Patterns {
		if p == pattern {
			return true
		}
	}
	return false
}
