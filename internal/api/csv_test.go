package api

import (
	"strings"
	"testing"
	"time"
)

func TestParseTransactionCSV_ValidFile(t *testing.T) {
	data := `id,from_account,to_account,amount,timestamp,description
t1,ACC_A,ACC_B,1000.50,2025-06-01T09:00:00Z,invoice
t2,ACC_B,ACC_C,900,2025-06-01T10:30:00Z,
`
	txns, err := parseTransactionCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("Expected clean parse, got %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(txns))
	}
	if txns[0].ID != "t1" || txns[0].FromAccount != "ACC_A" || txns[0].Amount != 1000.50 {
		t.Errorf("First row decoded wrong: %+v", txns[0])
	}
	want := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if !txns[0].Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, txns[0].Timestamp)
	}
	if txns[0].Description != "invoice" || txns[1].Description != "" {
		t.Errorf("Description decoding wrong: %q / %q", txns[0].Description, txns[1].Description)
	}
}

func TestParseTransactionCSV_SkipsBadRows(t *testing.T) {
	data := `id,from_account,to_account,amount,timestamp
t1,A,B,not_a_number,2025-06-01T09:00:00Z
t2,A,B,500,not_a_timestamp
t3,A,B,500,2025-06-01T09:00:00Z
`
	txns, err := parseTransactionCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("Row-level failures must not fail the parse, got %v", err)
	}
	if len(txns) != 1 || txns[0].ID != "t3" {
		t.Errorf("Expected only the valid row t3, got %+v", txns)
	}
}

func TestParseTransactionCSV_MissingColumn(t *testing.T) {
	data := `id,from_account,amount,timestamp
t1,A,500,2025-06-01T09:00:00Z
`
	_, err := parseTransactionCSV(strings.NewReader(data))
	if err == nil || !strings.Contains(err.Error(), "to_account") {
		t.Errorf("Expected a missing-column error naming to_account, got %v", err)
	}
}

func TestParseTransactionCSV_HeaderCaseInsensitive(t *testing.T) {
	data := `ID,From_Account,TO_ACCOUNT,Amount,Timestamp
t1,A,B,500,2025-06-01T09:00:00Z
`
	txns, err := parseTransactionCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("Header matching must ignore case, got %v", err)
	}
	if len(txns) != 1 {
		t.Errorf("Expected 1 transaction, got %d", len(txns))
	}
}

func TestParseTimestamp_AcceptedLayouts(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"RFC3339", "2025-06-01T09:00:00Z"},
		{"RFC3339 With Offset", "2025-06-01T11:00:00+02:00"},
		{"Sub-second", "2025-06-01T09:00:00.123Z"},
		{"Bare ISO", "2025-06-01T09:00:00"},
		{"Space Separated", "2025-06-01 09:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseTimestamp(tt.value); err != nil {
				t.Errorf("parseTimestamp(%q) failed: %v", tt.value, err)
			}
		})
	}

	if _, err := parseTimestamp("June 1st"); err == nil {
		t.Error("Expected failure on a free-form date")
	}
}
