package models

import "testing"

func TestRiskLevelForScore_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected RiskLevel
	}{
		{"Maximum", 100, RiskCritical},
		{"Critical Lower Bound", 80, RiskCritical},
		{"Just Below Critical", 79.999, RiskHigh},
		{"High Lower Bound", 60, RiskHigh},
		{"Just Below High", 59.999, RiskMedium},
		{"Medium Lower Bound", 40, RiskMedium},
		{"Just Below Medium", 39.999, RiskLow},
		{"Zero", 0, RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RiskLevelForScore(tt.score); got != tt.expected {
				t.Errorf("RiskLevelForScore(%v) = %v, want %v", tt.score, got, tt.expected)
			}
		})
	}
}

func TestIsSelfTransfer(t *testing.T) {
	if !(Transaction{FromAccount: "A", ToAccount: "A"}).IsSelfTransfer() {
		t.Error("Expected A->A to be a self transfer")
	}
	if (Transaction{FromAccount: "A", ToAccount: "B"}).IsSelfTransfer() {
		t.Error("Expected A->B not to be a self transfer")
	}
}
