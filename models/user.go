package models

import "time"

// Roles carried in the access token's claim and checked by the access gate.
// The SPA's CLIENT routes map to admin, MEMBER routes to member.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// LandingPath is where a caller of the wrong role gets redirected instead of
// a hard error page.
func LandingPath(role string) string {
	if role == RoleAdmin {
		return "/dashboard"
	}
	return "/wall"
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	SubmissionID string    `json:"submission_id,omitempty"`
	PasswordHash string    `json:"-"`
	TOTPSecret   string    `json:"-"`
	TOTPEnabled  bool      `json:"totp_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Account is what the provisioner hands back on approval: the credentials to
// deliver to the new member. InitialSecret is only ever held in memory.
type Account struct {
	Username      string `json:"username"`
	InitialSecret string `json:"-"`
	Role          string `json:"role"`
}

// MemberWithForm joins a provisioned member with the submission and
// invitation that produced it, for the admin members listing.
type MemberWithForm struct {
	User
	Submission   *Submission `json:"submission,omitempty"`
	InviteStatus string      `json:"invite_status,omitempty"`
	Token        string      `json:"token,omitempty"`
}

type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code,omitempty"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// TokenResponse mirrors the shape the SPA stores after login.
type TokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Role    string `json:"role"`
}
