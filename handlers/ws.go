package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"

	"onboard-api/models"
	"onboard-api/utils"
)

// WSHandler pushes workflow events to connected admin dashboards so the
// submissions list refreshes without polling. It implements
// services.Notifier.
type WSHandler struct {
	M *melody.Melody
}

func NewWSHandler() *WSHandler {
	m := melody.New()

	m.Config.MaxMessageSize = 1024 * 1024

	// Keep-alive tuning for cloud hosting behind idle-closing proxies.
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(s *melody.Session) {
		uid, _ := s.Get("user_id")
		log.Printf("✅ Admin dashboard connected: %v", uid)
	})

	m.HandleDisconnect(func(s *melody.Session) {
		uid, _ := s.Get("user_id")
		log.Printf("🔌 Admin dashboard disconnected: %v", uid)
	})

	m.HandleError(func(s *melody.Session, err error) {
		log.Printf("❌ WebSocket error: %v", err)
	})

	return &WSHandler{M: m}
}

// HandleAdmin upgrades the connection. Browsers cannot set an Authorization
// header on a websocket handshake, so the access token rides in the query
// string and is validated here before the upgrade.
func (h *WSHandler) HandleAdmin(c *gin.Context) {
	claims, err := utils.ParseAccessToken(c.Query("access"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if claims.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	keys := map[string]interface{}{"user_id": claims.UserID}
	if err := h.M.HandleRequestWithKeys(c.Writer, c.Request, keys); err != nil {
		log.Printf("❌ Failed to upgrade websocket: %v", err)
	}
}

func (h *WSHandler) SubmissionReceived(inv *models.Invitation, sub *models.Submission) {
	h.broadcast(gin.H{
		"type":          "submission_received",
		"submission_id": sub.ID,
		"token":         inv.Token,
		"status":        inv.Status,
	})
}

func (h *WSHandler) StatusChanged(inv *models.Invitation) {
	h.broadcast(gin.H{
		"type":   "status_changed",
		"token":  inv.Token,
		"status": inv.Status,
	})
}

func (h *WSHandler) broadcast(payload gin.H) {
	msg, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.M.Broadcast(msg); err != nil {
		log.Printf("⚠️ Broadcast error: %v", err)
	}
}
