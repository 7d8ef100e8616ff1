package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/muling-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when an analysis id has no stored row.
var ErrNotFound = errors.New("analysis not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Muling Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Muling Engine schema initialized")
	return nil
}

// SaveAnalysis persists one complete analysis run: the full results
// document plus flattened per-account and per-ring rows so accounts can
// be queried across runs without unpacking JSONB.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, results models.AnalysisResults) error {
	if results.AnalysisID == "" {
		return fmt.Errorf("cannot persist analysis without an id")
	}

	doc, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %v", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertAnalysisSQL := `
		INSERT INTO analyses
			(analysis_id, total_transactions, total_accounts, rings_detected,
			 smurfing_alerts, shell_accounts, critical_accounts, high_risk_accounts, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (analysis_id) DO UPDATE
		SET results = EXCLUDED.results;
	`
	_, err = tx.Exec(ctx, insertAnalysisSQL,
		results.AnalysisID,
		results.TotalTransactions,
		results.TotalAccounts,
		len(results.RingsDetected),
		len(results.SmurfingAlerts),
		len(results.ShellAccounts),
		len(results.CriticalAccounts),
		len(results.HighRiskAccounts),
		doc,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %v", err)
	}

	insertScoreSQL := `
		INSERT INTO account_scores
			(analysis_id, account_id, ring_score, smurf_score, shell_score,
			 pattern_score, final_score, risk_level, risk_factors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (analysis_id, account_id) DO NOTHING;
	`
	for _, score := range results.AccountScores {
		_, err = tx.Exec(ctx, insertScoreSQL,
			results.AnalysisID,
			score.AccountID,
			score.RingInvolvementScore,
			score.SmurfingScore,
			score.ShellScore,
			score.PatternScore,
			score.FinalScore,
			string(score.RiskLevel),
			score.RiskFactors,
		)
		if err != nil {
			return fmt.Errorf("failed to insert account score: %v", err)
		}
	}

	insertRingSQL := `
		INSERT INTO detected_rings
			(analysis_id, ring_id, accounts, ring_length, total_amount, transaction_count, strength)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (analysis_id, ring_id) DO NOTHING;
	`
	for _, ring := range results.RingsDetected {
		_, err = tx.Exec(ctx, insertRingSQL,
			results.AnalysisID,
			ring.RingID,
			ring.Accounts,
			ring.Length,
			ring.TotalAmount,
			ring.TransactionCount,
			ring.Strength,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ring: %v", err)
		}
	}

	insertAlertSQL := `
		INSERT INTO smurfing_alerts
			(analysis_id, account_id, window_start, window_end, transaction_count,
			 fan_in, fan_out, total_amount, velocity, risk_score, patterns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (analysis_id, account_id) DO NOTHING;
	`
	for _, alert := range results.SmurfingAlerts {
		_, err = tx.Exec(ctx, insertAlertSQL,
			results.AnalysisID,
			alert.AccountID,
			alert.WindowStart,
			alert.WindowEnd,
			alert.TransactionCount,
			alert.FanIn,
			alert.FanOut,
			alert.TotalAmount,
			alert.Velocity,
			alert.RiskScore,
			alert.Patterns,
		)
		if err != nil {
			return fmt.Errorf("failed to insert smurfing alert: %v", err)
		}
	}

	return tx.Commit(ctx)
}

// GetAnalysis loads the full results document for one run.
func (s *PostgresStore) GetAnalysis(ctx context.Context, analysisID string) (*models.AnalysisResults, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT results FROM analyses WHERE analysis_id = $1`, analysisID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var results models.AnalysisResults
	if err := json.Unmarshal(doc, &results); err != nil {
		return nil, fmt.Errorf("failed to decode stored results: %v", err)
	}
	return &results, nil
}

// AnalysisSummary is one row of the paginated run listing.
type AnalysisSummary struct {
	AnalysisID        string    `json:"analysisId"`
	CreatedAt         time.Time `json:"createdAt"`
	TotalTransactions int       `json:"totalTransactions"`
	TotalAccounts     int       `json:"totalAccounts"`
	RingsDetected     int       `json:"ringsDetected"`
	SmurfingAlerts    int       `json:"smurfingAlerts"`
	ShellAccounts     int       `json:"shellAccounts"`
	CriticalAccounts  int       `json:"criticalAccounts"`
	HighRiskAccounts  int       `json:"highRiskAccounts"`
}

// ListAnalyses returns recent runs, newest first.
func (s *PostgresStore) ListAnalyses(ctx context.Context, page, limit int) ([]AnalysisSummary, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT analysis_id, created_at, total_transactions, total_accounts,
		       rings_detected, smurfing_alerts, shell_accounts,
		       critical_accounts, high_risk_accounts
		FROM analyses
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries := make([]AnalysisSummary, 0)
	for rows.Next() {
		var sum AnalysisSummary
		err := rows.Scan(&sum.AnalysisID, &sum.CreatedAt, &sum.TotalTransactions,
			&sum.TotalAccounts, &sum.RingsDetected, &sum.SmurfingAlerts,
			&sum.ShellAccounts, &sum.CriticalAccounts, &sum.HighRiskAccounts)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, sum)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return summaries, totalCount, nil
}

// AccountHistoryEntry is one scored appearance of an account across runs.
type AccountHistoryEntry struct {
	AnalysisID  string   `json:"analysisId"`
	FinalScore  float64  `json:"finalScore"`
	RiskLevel   string   `json:"riskLevel"`
	RiskFactors []string `json:"riskFactors"`
}

// GetAccountHistory returns every stored score for one account, newest
// run first, for cross-run trend review.
func (s *PostgresStore) GetAccountHistory(ctx context.Context, accountID string) ([]AccountHistoryEntry, error) {
	sql := `
		SELECT s.analysis_id, s.final_score, s.risk_level, s.risk_factors
		FROM account_scores s
		JOIN analyses a ON a.analysis_id = s.analysis_id
		WHERE s.account_id = $1
		ORDER BY a.created_at DESC;
	`
	rows, err := s.pool.Query(ctx, sql, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]AccountHistoryEntry, 0)
	for rows.Next() {
		var e AccountHistoryEntry
		if err := rows.Scan(&e.AnalysisID, &e.FinalScore, &e.RiskLevel, &e.RiskFactors); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
