package main

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rawblock/muling-engine/internal/api"
	"github.com/rawblock/muling-engine/internal/db"
	"github.com/rawblock/muling-engine/internal/detect"
	"github.com/rawblock/muling-engine/internal/narrative"
)

func main() {
	// Load .env for local development; in production configuration comes
	// from the real environment and the file is absent.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	log.Println("Starting RawBlock Muling Detection Engine...")

	// DATABASE_URL is optional: without it results live only in the
	// in-process cache and expire after an hour.
	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var err error
		dbConn, err = db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persistence. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set; running without persistence")
	}

	cfg := detect.DefaultConfig()
	if workers := getEnvInt("ENGINE_WORKERS", 0); workers > 0 {
		cfg.Workers = workers
	}
	if hours := getEnvInt("SMURF_WINDOW_HOURS", 0); hours > 0 {
		cfg.WindowHours = hours
	}

	narrator := narrative.NewFromEnv()
	if narrator.Enabled() {
		log.Printf("Narrative backend enabled (model %s)", narrator.Model())
	} else {
		log.Println("Narrative backend not configured; using template narratives")
	}

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, wsHub, narrator, cfg)

	port := getEnvOrDefault("PORT", "5340")

	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt parses an integer env var, returning fallback when unset or
// unparseable.
func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Warning: ignoring non-integer value for %s: %q", key, val)
		return fallback
	}
	return n
}
