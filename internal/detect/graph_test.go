package detect

import (
	"errors"
	"testing"
	"time"

	"github.com/rawblock/muling-engine/pkg/models"
)

var graphBase = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func tx(id, from, to string, amount float64, offset time.Duration) models.Transaction {
	return models.Transaction{
		ID:          id,
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
		Timestamp:   graphBase.Add(offset),
	}
}

func TestBuildGraph_EmptyInput(t *testing.T) {
	g, err := BuildGraph(nil)
	if err != nil {
		t.Fatalf("Expected empty input to build an empty graph, got error: %v", err)
	}
	if len(g.Accounts()) != 0 {
		t.Errorf("Expected no accounts, got %d", len(g.Accounts()))
	}
}

func TestBuildGraph_RejectsInvalidTransactions(t *testing.T) {
	tests := []struct {
		name  string
		txn   models.Transaction
		field string
	}{
		{"Missing ID", models.Transaction{FromAccount: "A", ToAccount: "B", Amount: 10, Timestamp: graphBase}, "id"},
		{"Missing Source", models.Transaction{ID: "t1", ToAccount: "B", Amount: 10, Timestamp: graphBase}, "from_account"},
		{"Missing Destination", models.Transaction{ID: "t1", FromAccount: "A", Amount: 10, Timestamp: graphBase}, "to_account"},
		{"Zero Amount", models.Transaction{ID: "t1", FromAccount: "A", ToAccount: "B", Amount: 0, Timestamp: graphBase}, "amount"},
		{"Negative Amount", models.Transaction{ID: "t1", FromAccount: "A", ToAccount: "B", Amount: -5, Timestamp: graphBase}, "amount"},
		{"Missing Timestamp", models.Transaction{ID: "t1", FromAccount: "A", ToAccount: "B", Amount: 10}, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph([]models.Transaction{tt.txn})
			var invalid *InvalidTransactionError
			if !errors.As(err, &invalid) {
				t.Fatalf("Expected InvalidTransactionError, got %v", err)
			}
			if invalid.Field != tt.field {
				t.Errorf("Expected offending field %q, got %q", tt.field, invalid.Field)
			}
		})
	}
}

func TestBuildGraph_RejectsDuplicateIDs(t *testing.T) {
	_, err := BuildGraph([]models.Transaction{
		tx("t1", "A", "B", 100, 0),
		tx("t2", "B", "C", 100, time.Hour),
		tx("t1", "C", "A", 100, 2*time.Hour),
	})
	var dup *DuplicateTransactionIDError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateTransactionIDError, got %v", err)
	}
	if dup.ID != "t1" || dup.FirstIndex != 0 || dup.SecondIndex != 2 {
		t.Errorf("Unexpected duplicate detail: %+v", dup)
	}
}

func TestBuildGraph_SelfTransferExcludedFromAdjacency(t *testing.T) {
	g, err := BuildGraph([]models.Transaction{
		tx("t1", "A", "A", 500, 0),
		tx("t2", "A", "B", 100, time.Hour),
	})
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	if g.OutDegree("A") != 1 {
		t.Errorf("Expected out-degree 1 (self loop excluded), got %d", g.OutDegree("A"))
	}
	if len(g.EdgesBetween("A", "A")) != 0 {
		t.Errorf("Expected no self edge in adjacency")
	}

	// The self transfer still counts toward volume statistics.
	st := g.Stats("A")
	if st.TotalOut != 600 {
		t.Errorf("Expected TotalOut 600 including self transfer, got %f", st.TotalOut)
	}
	if st.TotalIn != 500 {
		t.Errorf("Expected TotalIn 500 from self transfer, got %f", st.TotalIn)
	}
}

func TestBuildGraph_StatsAggregation(t *testing.T) {
	g, err := BuildGraph([]models.Transaction{
		tx("t1", "S1", "HUB", 1000, 0),
		tx("t2", "S2", "HUB", 2000, time.Hour),
		tx("t3", "HUB", "D1", 2900, 2*time.Hour),
	})
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	st := g.Stats("HUB")
	if st.InboundCount != 2 || st.OutboundCount != 1 {
		t.Errorf("Expected 2 in / 1 out, got %d / %d", st.InboundCount, st.OutboundCount)
	}
	if st.TotalIn != 3000 || st.TotalOut != 2900 {
		t.Errorf("Expected totals 3000/2900, got %f/%f", st.TotalIn, st.TotalOut)
	}
	if len(st.Sources) != 2 || len(st.Destinations) != 1 {
		t.Errorf("Expected 2 sources / 1 destination, got %d / %d", len(st.Sources), len(st.Destinations))
	}
	if !st.FirstSeen.Equal(graphBase) || !st.LastSeen.Equal(graphBase.Add(2*time.Hour)) {
		t.Errorf("Unexpected activity bounds: %v .. %v", st.FirstSeen, st.LastSeen)
	}
}

func TestBuildGraph_OrderingIndependentOfInput(t *testing.T) {
	forward := []models.Transaction{
		tx("t1", "A", "B", 100, 0),
		tx("t2", "A", "B", 200, time.Hour),
		tx("t3", "A", "B", 300, 2*time.Hour),
	}
	reversed := []models.Transaction{forward[2], forward[0], forward[1]}

	g1, _ := BuildGraph(forward)
	g2, _ := BuildGraph(reversed)

	e1, e2 := g1.EdgesBetween("A", "B"), g2.EdgesBetween("A", "B")
	if len(e1) != 3 || len(e2) != 3 {
		t.Fatalf("Expected 3 parallel edges in both graphs, got %d and %d", len(e1), len(e2))
	}
	for i := range e1 {
		if e1[i].ID != e2[i].ID {
			t.Errorf("Edge order differs at %d: %s vs %s", i, e1[i].ID, e2[i].ID)
		}
	}
}

func TestTouchingTransactions_SelfTransferAppearsOnce(t *testing.T) {
	g, err := BuildGraph([]models.Transaction{
		tx("t1", "A", "A", 500, 0),
		tx("t2", "B", "A", 100, time.Hour),
	})
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	touching := g.TouchingTransactions("A")
	if len(touching) != 2 {
		t.Errorf("Expected 2 touching transactions (self transfer deduplicated), got %d", len(touching))
	}
}
