package store

import (
	"context"
	"errors"

	"onboard-api/models"
)

var (
	// ErrNotFound: unknown token or id.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a conditional transition observed a different status than
	// expected, or a uniqueness rule was violated. The caller should re-read
	// current state before deciding what to do next.
	ErrConflict = errors.New("conflict")
)

// ProvisionFunc builds the account row for an approved submission. It runs
// inside the approval transaction: returning an error rolls the status
// transition back and the invitation stays PENDING.
type ProvisionFunc func(sub *models.Submission) (*models.User, error)

// InviteStore persists invitations and their submissions. All status
// mutations are conditional writes: they apply only if the stored status
// matches the expected prior value, and report ErrConflict otherwise.
type InviteStore interface {
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	InvitationByToken(ctx context.Context, token string) (*models.Invitation, error)
	InvitationByID(ctx context.Context, id string) (*models.Invitation, error)

	// SaveSubmission records the visitor's form and applies
	// ISSUED|REJECTED -> PENDING in one transaction. A resubmission after a
	// rejection replaces the previous form data.
	SaveSubmission(ctx context.Context, invitationID string, sub *models.Submission) error

	SubmissionByID(ctx context.Context, id string) (*models.Submission, error)
	ListSubmissions(ctx context.Context, status string) ([]models.SubmissionDetail, error)

	// ApproveSubmission applies PENDING -> APPROVED to the submission's
	// invitation and persists the provisioned account in the same
	// transaction. Returns the invitation as committed.
	ApproveSubmission(ctx context.Context, submissionID string, provision ProvisionFunc) (*models.Invitation, *models.User, error)

	// RejectSubmission applies PENDING -> REJECTED.
	RejectSubmission(ctx context.Context, submissionID string) (*models.Invitation, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	ListMembers(ctx context.Context) ([]models.User, error)
	MembersWithForm(ctx context.Context) ([]models.MemberWithForm, error)

	// UpdateTOTP stores a user's TOTP secret and whether 2FA is active.
	// Enrollment writes the secret with enabled=false; confirmation flips it.
	UpdateTOTP(ctx context.Context, userID, secret string, enabled bool) error

	CreateSession(ctx context.Context, s *models.Session) error
	SessionByRefreshToken(ctx context.Context, refresh string) (*models.Session, error)
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

type PostStore interface {
	CreatePost(ctx context.Context, p *models.Post, recipientIDs []string) error
	PostsForMember(ctx context.Context, userID string) ([]models.Post, error)
	PostsByAuthor(ctx context.Context, authorID string) ([]models.Post, error)
	PinPost(ctx context.Context, id, authorID string) error
	DeletePost(ctx context.Context, id, authorID string) error
}

// Store is the full persistence surface the API is wired against.
type Store interface {
	InviteStore
	UserStore
	PostStore
}
