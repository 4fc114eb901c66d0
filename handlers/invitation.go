package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"onboard-api/middleware"
	"onboard-api/models"
	"onboard-api/services"
	"onboard-api/store"
)

type InvitationHandler struct {
	Invites *services.InviteService
	Mailer  *services.EmailService
}

// Issue mints a new single-use invitation link. Admin only (enforced by the
// route's role gate).
func (h *InvitationHandler) Issue(c *gin.Context) {
	var req models.IssueInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	inv, err := h.Invites.Issue(c.Request.Context(), middleware.GetUserID(c), req.TargetEmail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create invitation"})
		return
	}

	if inv.TargetEmail != "" && h.Mailer != nil {
		if err := h.Mailer.SendInvitation(inv.TargetEmail, inv.Token); err != nil {
			// The link still works; the admin can share it manually.
			log.Printf("⚠️ Invitation email to %s failed: %v", inv.TargetEmail, err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         inv.ID,
		"token":      inv.Token,
		"status":     inv.Status,
		"expires_at": inv.ExpiresAt,
	})
}

// Resolve is the unauthenticated read the visitor (and the waiting-page
// poller) uses. Possession of the token is the capability.
func (h *InvitationHandler) Resolve(c *gin.Context) {
	view, err := h.Invites.Resolve(c.Request.Context(), c.Param("token"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invitation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch invitation"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// Submit records the visitor's form and moves the invitation to PENDING.
func (h *InvitationHandler) Submit(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	sub, err := h.Invites.Submit(c.Request.Context(), c.Param("token"), req)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invitation not found"})
	case errors.Is(err, services.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Invitation has expired"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "A submission is already under review for this invitation"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save submission"})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"id":     sub.ID,
			"status": models.StatusPending,
		})
	}
}
