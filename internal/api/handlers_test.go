package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/muling-engine/internal/detect"
	"github.com/rawblock/muling-engine/internal/narrative"
	"github.com/rawblock/muling-engine/pkg/models"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()
	return SetupRouter(nil, hub, narrative.NewFromEnv(), detect.DefaultConfig())
}

func analyzeBody() []byte {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	txns := []models.Transaction{
		{ID: "t1", FromAccount: "A", ToAccount: "B", Amount: 1000, Timestamp: base},
		{ID: "t2", FromAccount: "B", ToAccount: "C", Amount: 1000, Timestamp: base.Add(time.Hour)},
		{ID: "t3", FromAccount: "C", ToAccount: "A", Amount: 1000, Timestamp: base.Add(2 * time.Hour)},
	}
	body, _ := json.Marshal(gin.H{"transactions": txns})
	return body
}

func TestHandleAnalyze_RingScenario(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(analyzeBody()))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var results models.AnalysisResults
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("Response is not AnalysisResults: %v", err)
	}
	if results.AnalysisID == "" {
		t.Error("Expected the serving layer to assign an analysis id")
	}
	if len(results.RingsDetected) != 1 {
		t.Errorf("Expected one ring, got %d", len(results.RingsDetected))
	}
}

func TestHandleAnalyze_RejectsMalformedInput(t *testing.T) {
	r := testRouter()

	body, _ := json.Marshal(gin.H{"transactions": []models.Transaction{
		{ID: "t1", FromAccount: "A", ToAccount: "B", Amount: -5,
			Timestamp: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
	}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a negative amount, got %d", w.Code)
	}
}

func TestHandleGetAnalysis_CacheRoundTrip(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(analyzeBody()))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Analyze failed: %d", w.Code)
	}

	var results models.AnalysisResults
	_ = json.Unmarshal(w.Body.Bytes(), &results)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/analysis/"+results.AnalysisID, nil)
	r.ServeHTTP(w2, req2)

	if w2.Code != http.StatusOK {
		t.Fatalf("Expected cached result, got %d", w2.Code)
	}
	if w2.Body.String() != w.Body.String() {
		t.Error("Cached result differs from the original response")
	}

	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/api/v1/analysis/nonexistent", nil)
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown id, got %d", w3.Code)
	}
}

func TestHandleGetAccount_DetailAssembly(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(analyzeBody()))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Analyze failed: %d", w.Code)
	}

	// Defaults to the most recent run.
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/A", nil)
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("Expected account detail, got %d: %s", w2.Code, w2.Body.String())
	}

	var detail map[string]json.RawMessage
	if err := json.Unmarshal(w2.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Bad detail payload: %v", err)
	}
	var rings []string
	_ = json.Unmarshal(detail["rings"], &rings)
	if len(rings) != 1 || rings[0] != "RING_0001" {
		t.Errorf("Expected membership in RING_0001, got %v", rings)
	}

	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/UNKNOWN", nil)
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an account outside the run, got %d", w3.Code)
	}
}

func TestHandleUploadCSV(t *testing.T) {
	r := testRouter()

	var buf bytes.Buffer
	mw := newMultipart(&buf)
	mw.writeFile(t, "file", "batch.csv",
		"id,from_account,to_account,amount,timestamp\n"+
			"t1,A,B,1000,2025-06-01T09:00:00Z\n"+
			"t2,B,C,1000,2025-06-01T10:00:00Z\n"+
			"t3,C,A,1000,2025-06-01T11:00:00Z\n")
	mw.close(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload-csv", &buf)
	req.Header.Set("Content-Type", mw.contentType())
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var results models.AnalysisResults
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("Response is not AnalysisResults: %v", err)
	}
	if results.TotalTransactions != 3 || len(results.RingsDetected) != 1 {
		t.Errorf("Expected the CSV batch analyzed, got %d txns / %d rings",
			results.TotalTransactions, len(results.RingsDetected))
	}
}

func TestHandleUploadCSV_RejectsNonCSV(t *testing.T) {
	r := testRouter()

	var buf bytes.Buffer
	mw := newMultipart(&buf)
	mw.writeFile(t, "file", "batch.txt", "not a csv")
	mw.close(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload-csv", &buf)
	req.Header.Set("Content-Type", mw.contentType())
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a non-CSV upload, got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var payload map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &payload)
	if payload["status"] != "operational" {
		t.Errorf("Expected operational status, got %v", payload["status"])
	}
	if payload["dbConnected"] != false {
		t.Errorf("Expected dbConnected false without a store, got %v", payload["dbConnected"])
	}
}

// multipartBuilder wraps mime/multipart for readable upload tests.
type multipartBuilder struct {
	w *multipart.Writer
}

func newMultipart(buf *bytes.Buffer) *multipartBuilder {
	return &multipartBuilder{w: multipart.NewWriter(buf)}
}

func (m *multipartBuilder) writeFile(t *testing.T, field, name, content string) {
	t.Helper()
	part, err := m.w.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("Writing form file failed: %v", err)
	}
}

func (m *multipartBuilder) close(t *testing.T) {
	t.Helper()
	if err := m.w.Close(); err != nil {
		t.Fatalf("Closing multipart writer failed: %v", err)
	}
}

func (m *multipartBuilder) contentType() string {
	return m.w.FormDataContentType()
}

func TestHandleNarrative_SummaryAndAccount(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(analyzeBody()))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var results models.AnalysisResults
	_ = json.Unmarshal(w.Body.Bytes(), &results)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/narrative/summary/%s", results.AnalysisID), nil)
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("Expected summary narrative, got %d", w2.Code)
	}
	var summary map[string]string
	_ = json.Unmarshal(w2.Body.Bytes(), &summary)
	if summary["summary"] == "" {
		t.Error("Expected a non-empty template summary")
	}

	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/api/v1/narrative/account/A", nil)
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("Expected account narrative, got %d: %s", w3.Code, w3.Body.String())
	}

	w4 := httptest.NewRecorder()
	req4 := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/narrative/cycle/%s/0", results.AnalysisID), nil)
	r.ServeHTTP(w4, req4)
	if w4.Code != http.StatusOK {
		t.Fatalf("Expected cycle narrative, got %d", w4.Code)
	}

	w5 := httptest.NewRecorder()
	req5 := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/narrative/cycle/%s/99", results.AnalysisID), nil)
	r.ServeHTTP(w5, req5)
	if w5.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an out-of-range ring index, got %d", w5.Code)
	}
}
