package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/muling-engine/pkg/models"
)

// handleNarrativeStatus reports whether a generative backend is wired in.
// Template fallbacks are always available, so narrative endpoints work
// either way.
func (h *APIHandler) handleNarrativeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enabled": h.narrator.Enabled(),
		"model":   h.narrator.Model(),
	})
}

// handleAccountNarrative explains one flagged account in prose, with
// investigation steps. Targets the most recent run unless ?analysisId= is
// given.
func (h *APIHandler) handleAccountNarrative(c *gin.Context) {
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

	var score *models.AccountScore
	for i := range results.AccountScores {
		if results.AccountScores[i].AccountID == accountID {
			score = &results.AccountScores[i]
			break
		}
	}
	if score == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not present in analysis", "analysisId": analysisID})
		return
	}

	var profile *models.ShellProfile
	for i := range results.ShellAccounts {
		if results.ShellAccounts[i].AccountID == accountID {
			profile = &results.ShellAccounts[i]
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"analysisId":      analysisID,
		"accountId":       accountID,
		"narrative":       h.narrator.AccountNarrative(*score, profile),
		"recommendations": h.narrator.Recommendations(*score),
	})
}

// handleCycleNarrative explains one detected ring, addressed by its index
// in the run's ring list.
func (h *APIHandler) handleCycleNarrative(c *gin.Context) {
	analysisID := c.Param("analysisId")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ring index must be a non-negative integer"})
		return
	}

	results, found := h.lookupAnalysis(c.Request.Context(), analysisID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found or expired"})
		return
	}
	if index >= len(results.RingsDetected) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ring index out of range", "ringsDetected": len(results.RingsDetected)})
		return
	}

	ring := results.RingsDetected[index]
	c.JSON(http.StatusOK, gin.H{
		"analysisId": analysisID,
		"ring":       ring,
		"narrative":  h.narrator.CycleNarrative(ring),
	})
}

// handleInvestigationSummary produces the run-level executive summary.
func (h *APIHandler) handleInvestigationSummary(c *gin.Context) {
	analysisID := c.Param("analysisId")

	results, found := h.lookupAnalysis(c.Request.Context(), analysisID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found or expired"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysisId": analysisID,
		"summary":    h.narrator.InvestigationSummary(results),
	})
}
