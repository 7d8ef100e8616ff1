package api

import (
	"encoding/csv"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/muling-engine/pkg/models"
)

// handleUploadCSV decodes a multipart CSV upload into a transaction batch
// and runs the same pipeline as /analyze.
// Expected header columns: id, from_account, to_account, amount, timestamp
// (RFC 3339), optional description. Rows that fail to parse are skipped
// and logged; an upload with no usable rows is rejected.
func (h *APIHandler) handleUploadCSV(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field in multipart form"})
		return
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".csv") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be CSV format"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open upload", "details": err.Error()})
		return
	}
	defer file.Close()

	txns, parseErr := parseTransactionCSV(file)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": parseErr.Error()})
		return
	}
	if len(txns) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid transactions found in CSV"})
		return
	}

	results, ok := h.runAnalysis(c, txns)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, results)
}

type csvFormatError struct{ msg string }

func (e *csvFormatError) Error() string { return e.msg }

func parseTransactionCSV(r io.Reader) ([]models.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &csvFormatError{"CSV is empty or unreadable"}
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "from_account", "to_account", "amount", "timestamp"} {
		if _, ok := col[required]; !ok {
			return nil, &csvFormatError{"CSV missing required column: " + required}
		}
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var txns []models.Transaction
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			log.Printf("[CSV] skipping malformed row %d: %v", line, err)
			continue
		}

		amount, err := strconv.ParseFloat(field(row, "amount"), 64)
		if err != nil {
			log.Printf("[CSV] skipping row %d: bad amount %q", line, field(row, "amount"))
			continue
		}
		ts, err := parseTimestamp(field(row, "timestamp"))
		if err != nil {
			log.Printf("[CSV] skipping row %d: bad timestamp %q", line, field(row, "timestamp"))
			continue
		}

		txns = append(txns, models.Transaction{
			ID:          field(row, "id"),
			FromAccount: field(row, "from_account"),
			ToAccount:   field(row, "to_account"),
			Amount:      amount,
			Timestamp:   ts,
			Description: field(row, "description"),
		})
	}

	return txns, nil
}

// parseTimestamp accepts RFC 3339 with or without sub-second precision,
// plus the bare "YYYY-MM-DDTHH:MM:SS" form common in exported ledgers.
func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
