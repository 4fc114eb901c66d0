package services

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"onboard-api/models"
	"onboard-api/store"
	"onboard-api/utils"
)

// ErrExpired: the invitation's TTL has passed. Terminal for the visitor;
// they need a fresh link.
var ErrExpired = errors.New("invitation expired")

// Notifier receives workflow events for live admin dashboards. Implemented
// by the websocket hub; may be nil.
type Notifier interface {
	SubmissionReceived(inv *models.Invitation, sub *models.Submission)
	StatusChanged(inv *models.Invitation)
}

// InviteService drives the invitation lifecycle: issuing tokens, taking
// submissions and running the approve/reject state machine. Per-invitation
// serialization comes entirely from the store's conditional writes; the
// service holds no locks.
type InviteService struct {
	store       store.InviteStore
	provisioner Provisioner
	notifier    Notifier
	ttl         time.Duration
	now         func() time.Time
}

func NewInviteService(st store.InviteStore, p Provisioner, n Notifier) *InviteService {
	ttl := 7 * 24 * time.Hour
	if v := os.Getenv("INVITE_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			ttl = time.Duration(hours) * time.Hour
		}
	}
	return &InviteService{
		store:       st,
		provisioner: p,
		notifier:    n,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Issue mints a fresh invitation in status ISSUED. Every call produces a
// distinct, cryptographically random token.
func (s *InviteService) Issue(ctx context.Context, requesterID, targetEmail string) (*models.Invitation, error) {
	token, err := utils.GenerateInviteToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	inv := &models.Invitation{
		ID:          uuid.New().String(),
		Token:       token,
		Status:      models.StatusIssued,
		TargetEmail: targetEmail,
		InvitedBy:   requesterID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		UpdatedAt:   now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Resolve returns the visitor view of an invitation, computing EXPIRED
// lazily from expires_at.
func (s *InviteService) Resolve(ctx context.Context, token string) (*models.InviteView, error) {
	inv, err := s.store.InvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &models.InviteView{
		Status:      inv.EffectiveStatus(s.now()),
		TargetEmail: inv.TargetEmail,
	}, nil
}

// Submit records the visitor's form and moves ISSUED|REJECTED -> PENDING.
// This is the only way an invitation enters PENDING. A submit against
// PENDING or APPROVED reports store.ErrConflict; against an expired link,
// ErrExpired.
func (s *InviteService) Submit(ctx context.Context, token string, req models.SubmitRequest) (*models.Submission, error) {
	inv, err := s.store.InvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.EffectiveStatus(s.now()) == models.StatusExpired {
		return nil, ErrExpired
	}

	now := s.now()
	sub := &models.Submission{
		ID:           uuid.New().String(),
		InvitationID: inv.ID,
		FullName:     req.FullName,
		Email:        req.Email,
		Phone:        req.Phone,
		BirthDate:    req.BirthDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveSubmission(ctx, inv.ID, sub); err != nil {
		return nil, err
	}

	inv.Status = models.StatusPending
	if s.notifier != nil {
		s.notifier.SubmissionReceived(inv, sub)
	}
	return sub, nil
}

// Approve applies PENDING -> APPROVED and provisions the member account in
// the same transaction. Under concurrent approve/reject exactly one caller
// wins; the rest observe store.ErrConflict and can re-read. The returned
// invitation reflects the committed state, so any resolve issued after this
// returns sees APPROVED.
func (s *InviteService) Approve(ctx context.Context, submissionID string) (*models.Invitation, *models.Account, error) {
	if err := s.checkNotExpired(ctx, submissionID); err != nil {
		return nil, nil, err
	}

	var acct *models.Account
	inv, _, err := s.store.ApproveSubmission(ctx, submissionID, func(sub *models.Submission) (*models.User, error) {
		user, a, err := s.provisioner.Provision(sub)
		if err != nil {
			return nil, err
		}
		acct = a
		return user, nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Credential delivery is best effort: the account exists either way and
	// the admin sees the invitation as APPROVED.
	if err := s.provisioner.Deliver(acct); err != nil {
		log.Printf("⚠️ Credential delivery failed for %s: %v", acct.Username, err)
	}
	if s.notifier != nil {
		s.notifier.StatusChanged(inv)
	}
	return inv, acct, nil
}

// Reject applies PENDING -> REJECTED under the same conditional-transition
// discipline. No account is provisioned; the visitor may submit again.
func (s *InviteService) Reject(ctx context.Context, submissionID string) (*models.Invitation, error) {
	if err := s.checkNotExpired(ctx, submissionID); err != nil {
		return nil, err
	}

	inv, err := s.store.RejectSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.StatusChanged(inv)
	}
	return inv, nil
}

func (s *InviteService) ListSubmissions(ctx context.Context, status string) ([]models.SubmissionDetail, error) {
	return s.store.ListSubmissions(ctx, status)
}

// checkNotExpired guards the admin decisions: an invitation whose TTL
// passed while PENDING already reads as EXPIRED, which is terminal, so a
// late approve or reject must not resurrect it.
func (s *InviteService) checkNotExpired(ctx context.Context, submissionID string) error {
	sub, err := s.store.SubmissionByID(ctx, submissionID)
	if err != nil {
		return err
	}
	inv, err := s.store.InvitationByID(ctx, sub.InvitationID)
	if err != nil {
		return err
	}
	if inv.EffectiveStatus(s.now()) == models.StatusExpired {
		return ErrExpired
	}
	return nil
}
