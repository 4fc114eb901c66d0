package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"onboard-api/models"
)

// Postgres implements Store over database/sql + lib/pq. Status changes go
// through conditional UPDATEs (WHERE status = expected) so concurrent
// writers race on RowsAffected, never on a blind overwrite.
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

func (s *Postgres) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO invitations (id, token, status, target_email, invited_by, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, '')::uuid, $6, $7, $8)
	`, inv.ID, inv.Token, inv.Status, inv.TargetEmail, inv.InvitedBy, inv.CreatedAt, inv.ExpiresAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

func (s *Postgres) InvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	return scanInvitation(s.DB.QueryRowContext(ctx, `
		SELECT id, token, status, COALESCE(target_email, ''), COALESCE(invited_by::text, ''),
		       created_at, expires_at, updated_at
		FROM invitations
		WHERE token = $1
	`, token))
}

func (s *Postgres) InvitationByID(ctx context.Context, id string) (*models.Invitation, error) {
	return s.invitationByID(ctx, s.DB, id)
}

func (s *Postgres) invitationByID(ctx context.Context, q queryRower, id string) (*models.Invitation, error) {
	return scanInvitation(q.QueryRowContext(ctx, `
		SELECT id, token, status, COALESCE(target_email, ''), COALESCE(invited_by::text, ''),
		       created_at, expires_at, updated_at
		FROM invitations
		WHERE id = $1
	`, id))
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanInvitation(row *sql.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(&inv.ID, &inv.Token, &inv.Status, &inv.TargetEmail, &inv.InvitedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Postgres) SaveSubmission(ctx context.Context, invitationID string, sub *models.Submission) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Conditional transition: only ISSUED or REJECTED invitations accept a
	// submission. A concurrent duplicate submit loses the race here.
	res, err := tx.ExecContext(ctx, `
		UPDATE invitations
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`, models.StatusPending, invitationID, models.StatusIssued, models.StatusRejected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.invitationByID(ctx, tx, invitationID); err != nil {
			return err
		}
		return ErrConflict
	}

	// One live submission per invitation: a retry after rejection replaces
	// the previous form but keeps the original row id.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO submissions (id, invitation_id, full_name, email, phone, birth_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8)
		ON CONFLICT (invitation_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    birth_date = EXCLUDED.birth_date,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, sub.ID, invitationID, sub.FullName, sub.Email, sub.Phone, sub.BirthDate, sub.CreatedAt, sub.UpdatedAt).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const submissionColumns = `
	s.id, s.invitation_id, s.full_name, s.email, s.phone,
	to_char(s.birth_date, 'YYYY-MM-DD'), s.created_at, s.updated_at`

func (s *Postgres) SubmissionByID(ctx context.Context, id string) (*models.Submission, error) {
	var sub models.Submission
	err := s.DB.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions s
		WHERE s.id = $1
	`, id).Scan(&sub.ID, &sub.InvitationID, &sub.FullName, &sub.Email, &sub.Phone,
		&sub.BirthDate, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Postgres) ListSubmissions(ctx context.Context, status string) ([]models.SubmissionDetail, error) {
	query := `
		SELECT ` + submissionColumns + `, i.status, i.token
		FROM submissions s
		INNER JOIN invitations i ON s.invitation_id = i.id`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE i.status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY s.updated_at DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := []models.SubmissionDetail{}
	for rows.Next() {
		var d models.SubmissionDetail
		if err := rows.Scan(&d.ID, &d.InvitationID, &d.FullName, &d.Email, &d.Phone,
			&d.BirthDate, &d.CreatedAt, &d.UpdatedAt, &d.Status, &d.Token); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (s *Postgres) ApproveSubmission(ctx context.Context, submissionID string, provision ProvisionFunc) (*models.Invitation, *models.User, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var sub models.Submission
	err = tx.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions s
		WHERE s.id = $1
	`, submissionID).Scan(&sub.ID, &sub.InvitationID, &sub.FullName, &sub.Email, &sub.Phone,
		&sub.BirthDate, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	// At-most-one-winner: only the writer that observes PENDING applies the
	// transition, everyone else gets ErrConflict.
	res, err := tx.ExecContext(ctx, `
		UPDATE invitations
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.StatusApproved, sub.InvitationID, models.StatusPending)
	if err != nil {
		return nil, nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, ErrConflict
	}

	// Provisioning is part of the same transaction: a failure here rolls the
	// transition back and the invitation stays PENDING for retry.
	user, err := provision(&sub)
	if err != nil {
		return nil, nil, err
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, submission_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, user.ID, user.Email, user.PasswordHash, user.Name, user.Role, sub.ID)
	if err != nil {
		// A duplicate email is a provisioning failure, not a transition
		// race: the rollback leaves the invitation PENDING, so ErrConflict
		// (and its 409 re-read semantics) would mislead the admin.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, nil, fmt.Errorf("provision user: email %q already registered", user.Email)
		}
		return nil, nil, err
	}

	inv, err := s.invitationByID(ctx, tx, sub.InvitationID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return inv, user, nil
}

func (s *Postgres) RejectSubmission(ctx context.Context, submissionID string) (*models.Invitation, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var invitationID string
	err = tx.QueryRowContext(ctx, `SELECT invitation_id FROM submissions WHERE id = $1`, submissionID).Scan(&invitationID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE invitations
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.StatusRejected, invitationID, models.StatusPending)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrConflict
	}

	inv, err := s.invitationByID(ctx, tx, invitationID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inv, nil
}

// --- users & sessions ---

func (s *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, totp_secret, totp_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW(), NOW())
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.TOTPSecret, u.TOTPEnabled)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, role, COALESCE(totp_secret, ''), totp_enabled,
		       COALESCE(submission_id::text, ''), created_at, updated_at
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.TOTPSecret,
		&u.TOTPEnabled, &u.SubmissionID, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, role, COALESCE(totp_secret, ''), totp_enabled,
		       COALESCE(submission_id::text, ''), created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.TOTPSecret,
		&u.TOTPEnabled, &u.SubmissionID, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) UpdateTOTP(ctx context.Context, userID, secret string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE users SET totp_secret = NULLIF($1, ''), totp_enabled = $2, updated_at = NOW()
		WHERE id = $3
	`, secret, enabled, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListMembers(ctx context.Context) ([]models.User, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, email, name, role, created_at, updated_at
		FROM users
		WHERE role = $1
		ORDER BY created_at DESC
	`, models.RoleMember)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

func (s *Postgres) MembersWithForm(ctx context.Context) ([]models.MemberWithForm, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT u.id, u.email, u.name, u.role, u.created_at, u.updated_at,
		       s.id, s.invitation_id, s.full_name, s.email, s.phone,
		       to_char(s.birth_date, 'YYYY-MM-DD'),
		       i.status, i.token
		FROM users u
		LEFT JOIN submissions s ON u.submission_id = s.id
		LEFT JOIN invitations i ON s.invitation_id = i.id
		ORDER BY u.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.MemberWithForm{}
	for rows.Next() {
		var m models.MemberWithForm
		var subID, subInvID, fullName, email, phone, birthDate sql.NullString
		var invStatus, token sql.NullString
		err := rows.Scan(&m.ID, &m.Email, &m.Name, &m.Role, &m.CreatedAt, &m.UpdatedAt,
			&subID, &subInvID, &fullName, &email, &phone, &birthDate, &invStatus, &token)
		if err != nil {
			return nil, err
		}
		if subID.Valid {
			m.Submission = &models.Submission{
				ID:           subID.String,
				InvitationID: subInvID.String,
				FullName:     fullName.String,
				Email:        email.String,
				Phone:        phone.String,
				BirthDate:    birthDate.String,
			}
			m.SubmissionID = subID.String
		}
		m.InviteStatus = invStatus.String
		m.Token = token.String
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Postgres) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.ID, sess.UserID, sess.RefreshToken, sess.ExpiresAt, sess.CreatedAt)
	return err
}

func (s *Postgres) SessionByRefreshToken(ctx context.Context, refresh string) (*models.Session, error) {
	var sess models.Session
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, refresh_token, expires_at, created_at
		FROM sessions
		WHERE refresh_token = $1
	`, refresh).Scan(&sess.ID, &sess.UserID, &sess.RefreshToken, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Postgres) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- posts ---

func (s *Postgres) CreatePost(ctx context.Context, p *models.Post, recipientIDs []string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, title, body, broadcast, pinned, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, p.ID, p.AuthorID, p.Title, p.Body, p.Broadcast, p.Pinned, p.CreatedAt)
	if err != nil {
		return err
	}

	// Plain fan-out write for targeted posts.
	for _, uid := range recipientIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO post_recipients (post_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, p.ID, uid)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Postgres) PostsForMember(ctx context.Context, userID string) ([]models.Post, error) {
	return s.queryPosts(ctx, `
		SELECT p.id, p.author_id, COALESCE(p.title, ''), p.body, p.broadcast, p.pinned, p.created_at
		FROM posts p
		LEFT JOIN post_recipients pr ON p.id = pr.post_id AND pr.user_id = $1
		WHERE p.broadcast OR pr.user_id IS NOT NULL
		ORDER BY p.pinned DESC, p.created_at DESC
	`, userID)
}

func (s *Postgres) PostsByAuthor(ctx context.Context, authorID string) ([]models.Post, error) {
	return s.queryPosts(ctx, `
		SELECT p.id, p.author_id, COALESCE(p.title, ''), p.body, p.broadcast, p.pinned, p.created_at
		FROM posts p
		WHERE p.author_id = $1
		ORDER BY p.pinned DESC, p.created_at DESC
	`, authorID)
}

func (s *Postgres) queryPosts(ctx context.Context, query string, args ...interface{}) ([]models.Post, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Body, &p.Broadcast, &p.Pinned, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Postgres) PinPost(ctx context.Context, id, authorID string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE posts SET pinned = NOT pinned WHERE id = $1 AND author_id = $2
	`, id, authorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeletePost(ctx context.Context, id, authorID string) error {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM posts WHERE id = $1 AND author_id = $2
	`, id, authorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*Postgres)(nil)
