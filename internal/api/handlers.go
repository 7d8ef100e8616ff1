package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rawblock/muling-engine/internal/db"
	"github.com/rawblock/muling-engine/internal/detect"
	"github.com/rawblock/muling-engine/pkg/models"
)

// handleAnalyze runs the detection pipeline over a JSON transaction batch.
// POST /api/v1/analyze { "transactions": [...] }
func (h *APIHandler) handleAnalyze(c *gin.Context) {
	var req struct {
		Transactions []models.Transaction `json:"transactions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {transactions: [...]}"})
		return
	}

	results, ok := h.runAnalysis(c, req.Transactions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, results)
}

// runAnalysis executes the engine, assigns the run id, caches and persists
// the result, and pushes alerts to stream subscribers. Input errors are
// written to the response and reported via ok=false.
func (h *APIHandler) runAnalysis(c *gin.Context, txns []models.Transaction) (models.AnalysisResults, bool) {
	results, err := detect.Analyze(txns, h.cfg)
	if err != nil {
		var invalid *detect.InvalidTransactionError
		var dup *detect.DuplicateTransactionIDError
		if errors.As(err, &invalid) || errors.As(err, &dup) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed", "details": err.Error()})
		}
		return models.AnalysisResults{}, false
	}

	results.AnalysisID = uuid.NewString()
	h.results.Set(results.AnalysisID, results, cache.DefaultExpiration)

	h.mu.Lock()
	h.lastID = results.AnalysisID
	h.totalRuns++
	h.totalTxns += results.TotalTransactions
	h.totalRings += len(results.RingsDetected)
	h.mu.Unlock()

	if h.dbStore != nil {
		if err := h.dbStore.SaveAnalysis(context.Background(), results); err != nil {
			log.Printf("Failed to save analysis %s to DB: %v", results.AnalysisID, err)
		}
	}

	if h.wsHub != nil {
		BroadcastRiskAlerts(h.wsHub, results)
	}

	log.Printf("[API] analysis %s: %d txns, %d accounts, %d rings, %d smurfing alerts, %d shells",
		results.AnalysisID, results.TotalTransactions, results.TotalAccounts,
		len(results.RingsDetected), len(results.SmurfingAlerts), len(results.ShellAccounts))

	return results, true
}

// handleGetAnalysis serves one stored run: cache first, database second.
func (h *APIHandler) handleGetAnalysis(c *gin.Context) {
	id := c.Param("id")

	results, found := h.lookupAnalysis(c.Request.Context(), id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found or expired"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *APIHandler) lookupAnalysis(ctx context.Context, id string) (models.AnalysisResults, bool) {
	if cached, found := h.results.Get(id); found {
		return cached.(models.AnalysisResults), true
	}
	if h.dbStore == nil {
		return models.AnalysisResults{}, false
	}
	stored, err := h.dbStore.GetAnalysis(ctx, id)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Printf("Failed to load analysis %s from DB: %v", id, err)
		}
		return models.AnalysisResults{}, false
	}
	h.results.Set(id, *stored, cache.DefaultExpiration)
	return *stored, true
}

// handleListAnalyses pages through persisted runs, newest first.
func (h *APIHandler) handleListAnalyses(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	analyses, totalCount, err := h.dbStore.ListAnalyses(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list analyses", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       analyses,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// handleGetAccount returns everything known about one account within an
// analysis run: its score, shell profile, smurfing alert and ring
// memberships. The run defaults to the most recent one; pass ?analysisId=
// to target another. With a database connected the cross-run score history
// is included.
func (h *APIHandler) handleGetAccount(c *gin.Context) {
	accountID := c.Param("id")

	analysisID := c.Query("analysisId")
	if analysisID == "" {
		h.mu.Lock()
		analysisID = h.lastID
		h.mu.Unlock()
	}
	if analysisID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No analysis available. Run POST /api/v1/analyze first."})
		return
	}

	results, found := h.lookupAnalysis(c.Request.Context(), analysisID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found or expired"})
		return
	}

	detail := accountDetail(results, accountID)
	if detail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not present in analysis", "analysisId": analysisID})
		return
	}

	if h.dbStore != nil {
		history, err := h.dbStore.GetAccountHistory(c.Request.Context(), accountID)
		if err != nil {
			log.Printf("Failed to load history for %s: %v", accountID, err)
		} else {
			detail["history"] = history
		}
	}

	c.JSON(http.StatusOK, detail)
}

// accountDetail assembles the per-account view from one run, or nil when
// the account never appears in it.
func accountDetail(results models.AnalysisResults, accountID string) gin.H {
	var score *models.AccountScore
	for i := range results.AccountScores {
		if results.AccountScores[i].AccountID == accountID {
			score = &results.AccountScores[i]
			break
		}
	}
	if score == nil {
		return nil
	}

	detail := gin.H{
		"analysisId": results.AnalysisID,
		"accountId":  accountID,
		"score":      score,
	}

	for i := range results.ShellAccounts {
		if results.ShellAccounts[i].AccountID == accountID {
			detail["shellProfile"] = results.ShellAccounts[i]
			break
		}
	}
	for i := range results.SmurfingAlerts {
		if results.SmurfingAlerts[i].AccountID == accountID {
			detail["smurfingAlert"] = results.SmurfingAlerts[i]
			break
		}
	}

	memberships := make([]string, 0)
	for _, ring := range results.RingsDetected {
		for _, member := range ring.Accounts {
			if member == accountID {
				memberships = append(memberships, ring.RingID)
				break
			}
		}
	}
	detail["rings"] = memberships

	return detail
}

// handleStats reports process-lifetime aggregates plus persisted totals.
func (h *APIHandler) handleStats(c *gin.Context) {
	h.mu.Lock()
	stats := gin.H{
		"analysesRun":        h.totalRuns,
		"transactionsScored": h.totalTxns,
		"ringsDetected":      h.totalRings,
		"cachedAnalyses":     h.results.ItemCount(),
	}
	h.mu.Unlock()

	if h.dbStore != nil {
		if _, total, err := h.dbStore.ListAnalyses(c.Request.Context(), 1, 1); err == nil {
			stats["storedAnalyses"] = total
		}
	}

	c.JSON(http.StatusOK, stats)
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Muling Detection Engine v1.0",
		"capabilities": gin.H{
			"ring_detection":    true,
			"ring_clustering":   true,
			"smurfing_windows":  true,
			"shell_profiling":   true,
			"csv_ingestion":     true,
			"narrative_backend": h.narrator != nil && h.narrator.Enabled(),
		},
		"dbConnected": h.dbStore != nil,
	})
}
