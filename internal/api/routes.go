package api

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rawblock/muling-engine/internal/db"
	"github.com/rawblock/muling-engine/internal/detect"
	"github.com/rawblock/muling-engine/internal/narrative"
)

// resultTTL bounds how long a finished analysis stays addressable without
// a database. Expired entries are still reachable through Postgres when a
// store is connected.
const (
	resultTTL      = 1 * time.Hour
	cleanupEvery   = 10 * time.Minute
	maxRequestSize = 64 << 20 // 64 MiB transaction batches
)

type APIHandler struct {
	dbStore  *db.PostgresStore
	wsHub    *Hub
	narrator *narrative.Service
	cfg      detect.Config

	results *cache.Cache

	mu         sync.Mutex
	lastID     string // most recent analysis id, for account lookups without one
	totalRuns  int
	totalTxns  int
	totalRings int
}

func SetupRouter(dbStore *db.PostgresStore, wsHub *Hub, narrator *narrative.Service, cfg detect.Config) *gin.Engine {
	r := gin.Default()
	r.MaxMultipartMemory = maxRequestSize

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://console.example.com
	// Development: leave empty for *
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:  dbStore,
		wsHub:    wsHub,
		narrator: narrator,
		cfg:      cfg,
		results:  cache.New(resultTTL, cleanupEvery),
	}

	limiter := NewRateLimiter(60, 20)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)

		protected := api.Group("")
		protected.Use(AuthMiddleware())
		{
			protected.POST("/analyze", handler.handleAnalyze)
			protected.POST("/upload-csv", handler.handleUploadCSV)
			protected.GET("/analysis/:id", handler.handleGetAnalysis)
			protected.GET("/analyses", handler.handleListAnalyses)
			protected.GET("/accounts/:id", handler.handleGetAccount)
			protected.GET("/stats", handler.handleStats)

			protected.GET("/narrative/status", handler.handleNarrativeStatus)
			protected.GET("/narrative/account/:id", handler.handleAccountNarrative)
			protected.GET("/narrative/cycle/:analysisId/:index", handler.handleCycleNarrative)
			protected.GET("/narrative/summary/:analysisId", handler.handleInvestigationSummary)
		}
	}

	// Serve Static Dashboard
	r.Static("/dashboard", "./public")

	return r
}
