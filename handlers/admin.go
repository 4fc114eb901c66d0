package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"onboard-api/services"
	"onboard-api/store"
)

type AdminHandler struct {
	Invites *services.InviteService
	Users   store.UserStore
}

// ListSubmissions returns submissions joined with their invitation status,
// optionally filtered (?status=PENDING|APPROVED|REJECTED).
func (h *AdminHandler) ListSubmissions(c *gin.Context) {
	details, err := h.Invites.ListSubmissions(c.Request.Context(), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch submissions"})
		return
	}
	c.JSON(http.StatusOK, details)
}

// Approve applies PENDING -> APPROVED and provisions the member account.
// A concurrent approve/reject race resolves to exactly one winner; losers
// get 409 and should re-read the submission list.
func (h *AdminHandler) Approve(c *gin.Context) {
	inv, acct, err := h.Invites.Approve(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
	case errors.Is(err, services.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Invitation has expired"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Submission is no longer pending"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Approval failed, submission left pending"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"id":     c.Param("id"),
			"status": inv.Status,
			"account": gin.H{
				"username": acct.Username,
				"role":     acct.Role,
			},
		})
	}
}

// Reject applies PENDING -> REJECTED. The visitor may submit again.
func (h *AdminHandler) Reject(c *gin.Context) {
	inv, err := h.Invites.Reject(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
	case errors.Is(err, services.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Invitation has expired"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Submission is no longer pending"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rejection failed"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"id":     c.Param("id"),
			"status": inv.Status,
		})
	}
}

// MembersWithForm lists provisioned members together with the submission
// and invitation that produced each of them.
func (h *AdminHandler) MembersWithForm(c *gin.Context) {
	members, err := h.Users.MembersWithForm(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch members"})
		return
	}
	c.JSON(http.StatusOK, members)
}

// ListMembers powers the recipient picker on the post form.
func (h *AdminHandler) ListMembers(c *gin.Context) {
	members, err := h.Users.ListMembers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch members"})
		return
	}
	c.JSON(http.StatusOK, members)
}
