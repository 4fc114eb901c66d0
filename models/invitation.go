package models

import "time"

// Invitation lifecycle statuses. Transitions move along
// ISSUED -> PENDING -> {APPROVED, REJECTED}, with REJECTED -> PENDING
// reachable again through a replacement submission. EXPIRED is computed
// from expires_at at read time and is terminal.
const (
	StatusIssued   = "ISSUED"
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
	StatusExpired  = "EXPIRED"
)

type Invitation struct {
	ID          string    `json:"id"`
	Token       string    `json:"token"`
	Status      string    `json:"status"`
	TargetEmail string    `json:"target_email,omitempty"`
	InvitedBy   string    `json:"invited_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EffectiveStatus applies lazy expiry: an invitation past its TTL reads as
// EXPIRED unless it already reached APPROVED. The stored row is not
// rewritten on read.
func (inv *Invitation) EffectiveStatus(now time.Time) string {
	if inv.Status != StatusApproved && now.After(inv.ExpiresAt) {
		return StatusExpired
	}
	return inv.Status
}

// InviteView is what an unauthenticated visitor sees when resolving a token.
type InviteView struct {
	Status      string `json:"status"`
	TargetEmail string `json:"target_email,omitempty"`
}

type Submission struct {
	ID           string    `json:"id"`
	InvitationID string    `json:"invitation_id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	BirthDate    string    `json:"birth_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SubmissionDetail is the admin listing row: the submission joined with its
// invitation's current status and token.
type SubmissionDetail struct {
	Submission
	Status string `json:"status"`
	Token  string `json:"token"`
}

type IssueInviteRequest struct {
	TargetEmail string `json:"target_email,omitempty" binding:"omitempty,email"`
}

type SubmitRequest struct {
	FullName  string `json:"full_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required,min=6,max=20"`
	BirthDate string `json:"birth_date" binding:"required,datetime=2006-01-02"`
}
