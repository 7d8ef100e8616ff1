package narrative

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rawblock/muling-engine/pkg/models"
)

// Narrative Service
//
// Turns engine output into analyst-readable text. When a generative
// backend is configured (NARRATIVE_API_KEY + NARRATIVE_API_URL pointing
// at an OpenAI-compatible chat endpoint) prompts are sent there; in every
// other case, and on any backend failure, the service falls back to
// deterministic templates. Callers cannot tell the difference and the
// engine itself is unaware this layer exists.

type Service struct {
	enabled bool
	apiURL  string
	apiKey  string
	model   string
	client  *http.Client
}

// NewFromEnv builds the service from environment configuration. With no
// NARRATIVE_API_KEY set the service runs in template-only mode.
func NewFromEnv() *Service {
	key := os.Getenv("NARRATIVE_API_KEY")
	url := os.Getenv("NARRATIVE_API_URL")
	model := os.Getenv("NARRATIVE_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Service{
		enabled: key != "" && url != "",
		apiURL:  url,
		apiKey:  key,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether a generative backend is configured.
func (s *Service) Enabled() bool { return s.enabled }

// Model returns the configured backend model name.
func (s *Service) Model() string { return s.model }

// AccountNarrative explains one account's risk verdict.
func (s *Service) AccountNarrative(score models.AccountScore, profile *models.ShellProfile) string {
	fallback := accountTemplate(score, profile)
	if !s.enabled {
		return fallback
	}
	prompt := accountPrompt(score, profile)
	if text, err := s.complete(prompt); err == nil {
		return text
	} else {
		log.Printf("[Narrative] backend call failed, using template: %v", err)
	}
	return fallback
}

// CycleNarrative explains one detected ring.
func (s *Service) CycleNarrative(ring models.Ring) string {
	fallback := fmt.Sprintf(
		"Detected a %d-account ring with $%.0f flowing through %d transactions "+
			"(%s, returning to start). The closed routing loop is the classic signature "+
			"of layering through structured rings.",
		ring.Length, ring.TotalAmount, ring.TransactionCount,
		strings.Join(ring.Accounts, " -> "))
	if !s.enabled {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Analyze this circular transaction flow detected in payment data:\n\n"+
			"Accounts: %s -> (back to start)\nLength: %d\nTotal amount: $%.2f\n"+
			"Transactions: %d\nAverage transfer: $%.2f\n\n"+
			"In 2-3 sentences, explain why this pattern is suspicious.",
		strings.Join(ring.Accounts, " -> "), ring.Length, ring.TotalAmount,
		ring.TransactionCount, ring.AvgTransaction)
	if text, err := s.complete(prompt); err == nil {
		return text
	}
	return fallback
}

// InvestigationSummary produces an executive overview of a whole run.
func (s *Service) InvestigationSummary(results models.AnalysisResults) string {
	severity := "MEDIUM"
	switch {
	case len(results.CriticalAccounts) > 0:
		severity = "CRITICAL"
	case len(results.HighRiskAccounts) > 0:
		severity = "HIGH"
	}
	fallback := fmt.Sprintf(
		"Overall risk level: %s. Analysis of %d transactions across %d accounts "+
			"identified %d critical-risk accounts, %d high-risk accounts, %d routing rings, "+
			"%d smurfing alerts and %d shell-account profiles. Prioritize the critical "+
			"accounts first.",
		severity, results.TotalTransactions, results.TotalAccounts,
		len(results.CriticalAccounts), len(results.HighRiskAccounts),
		len(results.RingsDetected), len(results.SmurfingAlerts), len(results.ShellAccounts))
	if !s.enabled {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Write a 4-5 sentence executive summary for a financial crime investigation.\n\n"+
			"Accounts analyzed: %d\nTransactions: %d\nTotal volume: $%.2f\n"+
			"Rings: %d\nSmurfing alerts: %d\nShell accounts: %d\n"+
			"Critical accounts: %d\nHigh-risk accounts: %d\n\n"+
			"Cover the overall risk level, the dominant patterns, and which accounts to "+
			"investigate first.",
		results.TotalAccounts, results.TotalTransactions, results.Summary.TotalVolume,
		len(results.RingsDetected), len(results.SmurfingAlerts), len(results.ShellAccounts),
		len(results.CriticalAccounts), len(results.HighRiskAccounts))
	if text, err := s.complete(prompt); err == nil {
		return text
	}
	return fallback
}

// Recommendations lists investigation steps for one flagged account.
func (s *Service) Recommendations(score models.AccountScore) []string {
	fallback := recommendationTemplate(score)
	if !s.enabled {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Account %s was flagged with these risk factors:\n- %s\n\n"+
			"List 5-7 specific investigation steps for a financial examiner, one per line.",
		score.AccountID, strings.Join(score.RiskFactors, "\n- "))
	text, err := s.complete(prompt)
	if err != nil {
		return fallback
	}
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			steps = append(steps, line)
		}
	}
	if len(steps) == 0 {
		return fallback
	}
	return steps
}

// Deterministic templates

func accountTemplate(score models.AccountScore, profile *models.ShellProfile) string {
	switch {
	case score.FinalScore >= 80:
		return fmt.Sprintf("Account %s scores %.0f/100 and sits in the CRITICAL tier: %s. "+
			"Immediate investigation recommended.",
			score.AccountID, score.FinalScore, factorSentence(score, profile))
	case score.FinalScore >= 60:
		return fmt.Sprintf("Account %s scores %.0f/100 (HIGH risk): %s. "+
			"Close monitoring and source-of-funds review recommended.",
			score.AccountID, score.FinalScore, factorSentence(score, profile))
	case score.FinalScore >= 40:
		return fmt.Sprintf("Account %s scores %.0f/100 (MEDIUM risk). Indicators are present "+
			"but may have legitimate explanations; further review advised.",
			score.AccountID, score.FinalScore)
	default:
		return fmt.Sprintf("Account %s scores %.0f/100 (LOW risk) and shows no dominant "+
			"laundering indicators in this run.", score.AccountID, score.FinalScore)
	}
}

func factorSentence(score models.AccountScore, profile *models.ShellProfile) string {
	var parts []string
	if score.RingInvolvementScore > 0 {
		parts = append(parts, "participates in detected routing rings")
	}
	if score.SmurfingScore > 0 {
		parts = append(parts, "shows burst activity consistent with smurfing")
	}
	if profile != nil && profile.PassThroughScore >= 100 {
		parts = append(parts, fmt.Sprintf("passes through %.0f%% of inbound value",
			passThroughPercent(profile)))
	} else if score.ShellScore >= 60 {
		parts = append(parts, "matches the shell-account profile")
	}
	if len(parts) == 0 {
		parts = append(parts, "aggregate flow patterns are anomalous")
	}
	return strings.Join(parts, ", ")
}

func passThroughPercent(profile *models.ShellProfile) float64 {
	if profile.TotalIn <= 0 {
		return 0
	}
	pct := profile.TotalOut / profile.TotalIn * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func recommendationTemplate(score models.AccountScore) []string {
	steps := []string{
		"Review all transactions on the account for the past 90 days",
		"Verify source of funds for the largest inbound transfers",
		"Confirm beneficial ownership and KYC documentation",
	}
	for _, factor := range score.RiskFactors {
		switch factor {
		case "ring_participant", "multiple_rings":
			steps = append(steps, "Map the full routing ring and review every member account")
		case "structuring_detected":
			steps = append(steps, "Check historical activity for amounts parked below reporting thresholds")
		case "consolidation_detected", "high_frequency":
			steps = append(steps, "Reconstruct the fan-in/fan-out window and identify the consolidating counterparty")
		case "pass_through", "high_shell_score":
			steps = append(steps, "Trace where pass-through funds exit and whether the destination is controlled by the same party")
		}
	}
	steps = append(steps, "Escalate to compliance for SAR filing if findings corroborate")
	return steps
}

// Backend call (OpenAI-compatible chat completions)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *Service) complete(prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a financial crime analyst specializing in " +
				"money laundering detection. Provide clear, concise, actionable analysis."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   500,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("backend returned %d: %s", resp.StatusCode, payload)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("backend returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func accountPrompt(score models.AccountScore, profile *models.ShellProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this account for money laundering risk:\n\n")
	fmt.Fprintf(&b, "Account: %s\nFinal score: %.1f/100 (%s)\n", score.AccountID, score.FinalScore, score.RiskLevel)
	fmt.Fprintf(&b, "Component scores: ring %.1f, smurfing %.1f, shell %.1f, flow pattern %.1f\n",
		score.RingInvolvementScore, score.SmurfingScore, score.ShellScore, score.PatternScore)
	fmt.Fprintf(&b, "Risk factors: %s\n", strings.Join(score.RiskFactors, ", "))
	if profile != nil {
		fmt.Fprintf(&b, "Throughput: $%.2f over %d transactions (in $%.2f / out $%.2f)\n",
			profile.TotalThroughput, profile.TotalTransactions, profile.TotalIn, profile.TotalOut)
		fmt.Fprintf(&b, "Counterparties: %d sources, %d destinations\n",
			profile.UniqueSources, profile.UniqueDestinations)
	}
	b.WriteString("\nProvide a brief (2-3 sentences) professional assessment focusing on the most significant factors.")
	return b.String()
}
