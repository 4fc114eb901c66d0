package services

import (
	"onboard-api/models"
	"onboard-api/utils"

	"github.com/google/uuid"
)

// Provisioner turns an approved submission into a member account. Provision
// runs inside the approval transaction; Deliver runs after commit and its
// failure does not undo the approval.
type Provisioner interface {
	Provision(sub *models.Submission) (*models.User, *models.Account, error)
	Deliver(acct *models.Account) error
}

// AccountProvisioner creates a member user with a random initial secret and
// emails the credentials.
type AccountProvisioner struct {
	Mailer *EmailService
}

func NewAccountProvisioner(mailer *EmailService) *AccountProvisioner {
	return &AccountProvisioner{Mailer: mailer}
}

func (p *AccountProvisioner) Provision(sub *models.Submission) (*models.User, *models.Account, error) {
	secret, err := utils.GenerateInitialSecret()
	if err != nil {
		return nil, nil, err
	}
	hash, err := utils.HashPassword(secret)
	if err != nil {
		return nil, nil, err
	}
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        sub.Email,
		Name:         sub.FullName,
		Role:         models.RoleMember,
		PasswordHash: hash,
		SubmissionID: sub.ID,
	}
	acct := &models.Account{
		Username:      sub.Email,
		InitialSecret: secret,
		Role:          models.RoleMember,
	}
	return user, acct, nil
}

func (p *AccountProvisioner) Deliver(acct *models.Account) error {
	if p.Mailer == nil {
		return nil
	}
	return p.Mailer.SendCredentials(acct.Username, acct.InitialSecret)
}
