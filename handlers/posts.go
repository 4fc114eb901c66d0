package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"onboard-api/middleware"
	"onboard-api/models"
	"onboard-api/services"
	"onboard-api/store"
)

type PostHandler struct {
	Posts *services.PostService
}

// Create writes a wall post, broadcast or targeted at an explicit recipient
// list. Admin only.
func (h *PostHandler) Create(c *gin.Context) {
	var req models.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	post, err := h.Posts.Create(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create post"})
		return
	}
	c.JSON(http.StatusCreated, post)
}

// Mine is the member wall: broadcast posts plus those targeted at the
// caller, pinned first.
func (h *PostHandler) Mine(c *gin.Context) {
	posts, err := h.Posts.WallFor(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}
	c.JSON(http.StatusOK, posts)
}

// ByAuthor lists the calling admin's own posts.
func (h *PostHandler) ByAuthor(c *gin.Context) {
	posts, err := h.Posts.ByAuthor(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (h *PostHandler) Pin(c *gin.Context) {
	err := h.Posts.TogglePin(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to pin post"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post pin toggled"})
}

func (h *PostHandler) Delete(c *gin.Context) {
	err := h.Posts.Delete(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete post"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted"})
}
