package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"onboard-api/models"
	"onboard-api/store"
)

// PostService handles the member wall: admin-authored posts delivered
// either as a broadcast or to an explicit recipient list (a plain fan-out
// write at the store level).
type PostService struct {
	store store.PostStore
}

func NewPostService(st store.PostStore) *PostService {
	return &PostService{store: st}
}

func (s *PostService) Create(ctx context.Context, authorID string, req models.CreatePostRequest) (*models.Post, error) {
	post := &models.Post{
		ID:        uuid.New().String(),
		AuthorID:  authorID,
		Title:     req.Title,
		Body:      req.Body,
		Broadcast: req.Broadcast || len(req.RecipientIDs) == 0,
		CreatedAt: time.Now(),
	}
	recipients := req.RecipientIDs
	if post.Broadcast {
		recipients = nil
	}
	if err := s.store.CreatePost(ctx, post, recipients); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *PostService) WallFor(ctx context.Context, userID string) ([]models.Post, error) {
	return s.store.PostsForMember(ctx, userID)
}

func (s *PostService) ByAuthor(ctx context.Context, authorID string) ([]models.Post, error) {
	return s.store.PostsByAuthor(ctx, authorID)
}

func (s *PostService) TogglePin(ctx context.Context, id, authorID string) error {
	return s.store.PinPost(ctx, id, authorID)
}

func (s *PostService) Delete(ctx context.Context, id, authorID string) error {
	return s.store.DeletePost(ctx, id, authorID)
}
