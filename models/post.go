package models

import "time"

// Post is a wall message written by an admin, delivered either to every
// member (broadcast) or to an explicit recipient list.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	Broadcast bool      `json:"broadcast"`
	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"created_at"`
}

type CreatePostRequest struct {
	Title        string   `json:"title,omitempty"`
	Body         string   `json:"body" binding:"required"`
	Broadcast    bool     `json:"broadcast"`
	RecipientIDs []string `json:"recipient_ids,omitempty"`
}
