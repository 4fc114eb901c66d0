package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"onboard-api/models"
)

// Memory is a mutex-guarded in-memory Store with the same conditional
// transition semantics as Postgres. It backs the test suite and the
// DB_DRIVER=memory development mode.
type Memory struct {
	mu          sync.Mutex
	invitations map[string]*models.Invitation // by id
	byToken     map[string]string             // token -> id
	submissions map[string]*models.Submission // by id
	byInvite    map[string]string             // invitation id -> submission id
	users       map[string]*models.User       // by id
	usersByMail map[string]string             // email -> id
	sessions    map[string]*models.Session    // by refresh token
	posts       map[string]*models.Post       // by id
	recipients  map[string]map[string]bool    // post id -> user ids
}

func NewMemory() *Memory {
	return &Memory{
		invitations: make(map[string]*models.Invitation),
		byToken:     make(map[string]string),
		submissions: make(map[string]*models.Submission),
		byInvite:    make(map[string]string),
		users:       make(map[string]*models.User),
		usersByMail: make(map[string]string),
		sessions:    make(map[string]*models.Session),
		posts:       make(map[string]*models.Post),
		recipients:  make(map[string]map[string]bool),
	}
}

func (s *Memory) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[inv.Token]; ok {
		return ErrConflict
	}
	cp := *inv
	s.invitations[inv.ID] = &cp
	s.byToken[inv.Token] = inv.ID
	return nil
}

func (s *Memory) InvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.invitations[id]
	return &cp, nil
}

func (s *Memory) InvitationByID(ctx context.Context, id string) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Memory) SaveSubmission(ctx context.Context, invitationID string, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[invitationID]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != models.StatusIssued && inv.Status != models.StatusRejected {
		return ErrConflict
	}
	inv.Status = models.StatusPending
	inv.UpdatedAt = time.Now()

	if prevID, ok := s.byInvite[invitationID]; ok {
		// Replacement submission after a rejection keeps the original id.
		prev := s.submissions[prevID]
		prev.FullName = sub.FullName
		prev.Email = sub.Email
		prev.Phone = sub.Phone
		prev.BirthDate = sub.BirthDate
		prev.UpdatedAt = sub.UpdatedAt
		*sub = *prev
		return nil
	}
	cp := *sub
	cp.InvitationID = invitationID
	s.submissions[sub.ID] = &cp
	s.byInvite[invitationID] = sub.ID
	return nil
}

func (s *Memory) SubmissionByID(ctx context.Context, id string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Memory) ListSubmissions(ctx context.Context, status string) ([]models.SubmissionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	details := []models.SubmissionDetail{}
	for _, sub := range s.submissions {
		inv := s.invitations[sub.InvitationID]
		if status != "" && inv.Status != status {
			continue
		}
		details = append(details, models.SubmissionDetail{
			Submission: *sub,
			Status:     inv.Status,
			Token:      inv.Token,
		})
	}
	sort.Slice(details, func(i, j int) bool {
		return details[i].UpdatedAt.After(details[j].UpdatedAt)
	})
	return details, nil
}

func (s *Memory) ApproveSubmission(ctx context.Context, submissionID string, provision ProvisionFunc) (*models.Invitation, *models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	inv := s.invitations[sub.InvitationID]
	if inv.Status != models.StatusPending {
		return nil, nil, ErrConflict
	}

	subCopy := *sub
	user, err := provision(&subCopy)
	if err != nil {
		// Transition never applied: the invitation stays PENDING.
		return nil, nil, err
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if _, taken := s.usersByMail[user.Email]; taken {
		// Provisioning failure, not a transition race: the invitation
		// stays PENDING.
		return nil, nil, fmt.Errorf("provision user: email %q already registered", user.Email)
	}

	inv.Status = models.StatusApproved
	inv.UpdatedAt = time.Now()
	user.SubmissionID = sub.ID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	s.users[user.ID] = &cp
	s.usersByMail[user.Email] = user.ID

	invCopy := *inv
	return &invCopy, user, nil
}

func (s *Memory) RejectSubmission(ctx context.Context, submissionID string) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	inv := s.invitations[sub.InvitationID]
	if inv.Status != models.StatusPending {
		return nil, ErrConflict
	}
	inv.Status = models.StatusRejected
	inv.UpdatedAt = time.Now()
	cp := *inv
	return &cp, nil
}

func (s *Memory) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usersByMail[u.Email]; taken {
		return ErrConflict
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usersByMail[u.Email] = u.ID
	return nil
}

func (s *Memory) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByMail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Memory) UserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) UpdateTOTP(ctx context.Context, userID, secret string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TOTPSecret = secret
	u.TOTPEnabled = enabled
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) ListMembers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := []models.User{}
	for _, u := range s.users {
		if u.Role == models.RoleMember {
			members = append(members, *u)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].CreatedAt.After(members[j].CreatedAt)
	})
	return members, nil
}

func (s *Memory) MembersWithForm(ctx context.Context) ([]models.MemberWithForm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := []models.MemberWithForm{}
	for _, u := range s.users {
		m := models.MemberWithForm{User: *u}
		if sub, ok := s.submissions[u.SubmissionID]; ok {
			cp := *sub
			m.Submission = &cp
			inv := s.invitations[sub.InvitationID]
			m.InviteStatus = inv.Status
			m.Token = inv.Token
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].CreatedAt.After(members[j].CreatedAt)
	})
	return members, nil
}

func (s *Memory) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.RefreshToken] = &cp
	return nil
}

func (s *Memory) SessionByRefreshToken(ctx context.Context, refresh string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[refresh]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Memory) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

func (s *Memory) CreatePost(ctx context.Context, p *models.Post, recipientIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.posts[p.ID] = &cp
	if len(recipientIDs) > 0 {
		set := make(map[string]bool, len(recipientIDs))
		for _, uid := range recipientIDs {
			set[uid] = true
		}
		s.recipients[p.ID] = set
	}
	return nil
}

func (s *Memory) PostsForMember(ctx context.Context, userID string) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := []models.Post{}
	for _, p := range s.posts {
		if p.Broadcast || s.recipients[p.ID][userID] {
			posts = append(posts, *p)
		}
	}
	sortPosts(posts)
	return posts, nil
}

func (s *Memory) PostsByAuthor(ctx context.Context, authorID string) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := []models.Post{}
	for _, p := range s.posts {
		if p.AuthorID == authorID {
			posts = append(posts, *p)
		}
	}
	sortPosts(posts)
	return posts, nil
}

func sortPosts(posts []models.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].Pinned != posts[j].Pinned {
			return posts[i].Pinned
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

func (s *Memory) PinPost(ctx context.Context, id, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.AuthorID != authorID {
		return ErrNotFound
	}
	p.Pinned = !p.Pinned
	return nil
}

func (s *Memory) DeletePost(ctx context.Context, id, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.AuthorID != authorID {
		return ErrNotFound
	}
	delete(s.posts, id)
	delete(s.recipients, id)
	return nil
}

var _ Store = (*Memory)(nil)
