package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rawblock/muling-engine/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced at the router level
	},
}

// Hub maintains the set of active websocket clients and pushes risk
// alerts to all of them as analyses complete.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Set write deadline to prevent blocked clients from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("Websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	log.Printf("New WebSocket client connected. Total clients: %d", len(h.clients))

	// The stream is push-only, but we must keep reading to notice
	// disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("WebSocket client disconnected. Total clients: %d", len(h.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast sends JSON data to all connected clients
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// BroadcastRiskAlerts pushes a completion event for the run plus one
// alert per CRITICAL-tier account to every stream subscriber.
func BroadcastRiskAlerts(hub *Hub, results models.AnalysisResults) {
	done := gin.H{
		"type":       "analysis_complete",
		"analysisId": results.AnalysisID,
		"summary": gin.H{
			"totalAccounts":    results.TotalAccounts,
			"ringsDetected":    len(results.RingsDetected),
			"smurfingAlerts":   len(results.SmurfingAlerts),
			"shellAccounts":    len(results.ShellAccounts),
			"criticalAccounts": len(results.CriticalAccounts),
		},
	}
	if payload, err := json.Marshal(done); err == nil {
		hub.Broadcast(payload)
	}

	for _, score := range results.AccountScores {
		if score.RiskLevel != models.RiskCritical {
			// AccountScores is sorted by final score descending.
			break
		}
		alert := gin.H{
			"type":       "critical_account",
			"analysisId": results.AnalysisID,
			"accountId":  score.AccountID,
			"finalScore": score.FinalScore,
			"factors":    score.RiskFactors,
		}
		payload, err := json.Marshal(alert)
		if err != nil {
			continue
		}
		hub.Broadcast(payload)
		log.Printf("[ALERT] critical account %s (score %.1f) in analysis %s",
			score.AccountID, score.FinalScore, results.AnalysisID)
	}
}
