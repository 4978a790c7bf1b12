package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campusconnect/internal/model"
)

// ErrVersionConflict is returned when an optimistic update loses the race:
// the row's version no longer matches the one the caller read.
var ErrVersionConflict = errors.New("version conflict")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const identityColumns = `
	id, usn, email, password_hash, display_name, status,
	approved_by, approved_by_name, approved_at,
	rejected_by, rejected_by_name, rejected_at, rejection_reason,
	version, created_at, updated_at
`

func scanIdentity(row pgx.Row) (model.Identity, error) {
	var identity model.Identity
	err := row.Scan(
		&identity.ID,
		&identity.USN,
		&identity.Email,
		&identity.PasswordHash,
		&identity.DisplayName,
		&identity.Status,
		&identity.ApprovedBy,
		&identity.ApprovedByName,
		&identity.ApprovedAt,
		&identity.RejectedBy,
		&identity.RejectedByName,
		&identity.RejectedAt,
		&identity.RejectionReason,
		&identity.Version,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	return identity, err
}

func (s *Store) GetIdentityByID(ctx context.Context, userID string) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, userID)
	return scanIdentity(row)
}

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
	return scanIdentity(row)
}

func (s *Store) GetIdentityByUSN(ctx context.Context, usn string) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE usn = $1`, usn)
	return scanIdentity(row)
}

func (s *Store) GetRole(ctx context.Context, userID string) (model.Role, error) {
	role := model.Role{UserID: userID, UserType: "pending"}

	var status model.IdentityStatus
	if err := s.pool.QueryRow(ctx, `SELECT status FROM identities WHERE id = $1`, userID).Scan(&status); err != nil {
		return role, err
	}

	var branch string
	var semester int
	err := s.pool.QueryRow(ctx, `SELECT branch, semester FROM student_profiles WHERE user_id = $1`, userID).Scan(&branch, &semester)
	if err == nil {
		role.Branch = &branch
		role.Semester = &semester
		if status == model.StatusApproved {
			role.UserType = "student"
		}
		return role, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return role, err
	}

	var branches []string
	err = s.pool.QueryRow(ctx, `SELECT assigned_branches FROM faculty_profiles WHERE user_id = $1`, userID).Scan(&branches)
	if err == nil {
		role.AssignedBranches = branches
		if status == model.StatusApproved {
			role.UserType = "faculty"
		}
		return role, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return role, err
	}

	if exists(ctx, s.pool, `SELECT 1 FROM administrators WHERE user_id = $1`, userID) {
		if status == model.StatusApproved {
			role.UserType = "admin"
		}
		return role, nil
	}

	return role, nil
}

func (s *Store) GetStudentProfile(ctx context.Context, userID string) (model.StudentProfile, error) {
	var profile model.StudentProfile
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, usn, branch, semester
		FROM student_profiles
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&profile.UserID, &profile.USN, &profile.Branch, &profile.Semester)
	return profile, err
}

func (s *Store) GetFacultyProfile(ctx context.Context, userID string) (model.FacultyProfile, error) {
	var profile model.FacultyProfile
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, assigned_branches
		FROM faculty_profiles
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&profile.UserID, &profile.AssignedBranches)
	return profile, err
}

func (s *Store) CreateStudentRegistration(ctx context.Context, identity model.Identity, profile model.StudentProfile) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO identities (id, usn, email, password_hash, display_name, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, identity.ID, identity.USN, identity.Email, identity.PasswordHash, identity.DisplayName, identity.Status, identity.Version, identity.CreatedAt, identity.UpdatedAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO student_profiles (user_id, usn, branch, semester)
		VALUES ($1, $2, $3, $4)
	`, profile.UserID, profile.USN, profile.Branch, profile.Semester)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateFaculty(ctx context.Context, identity model.Identity, profile model.FacultyProfile) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertApprovedIdentity(ctx, tx, identity); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO faculty_profiles (user_id, assigned_branches)
		VALUES ($1, $2)
	`, profile.UserID, profile.AssignedBranches)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateAdmin(ctx context.Context, identity model.Identity) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertApprovedIdentity(ctx, tx, identity); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO administrators (user_id) VALUES ($1)`, identity.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertApprovedIdentity(ctx context.Context, tx pgx.Tx, identity model.Identity) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO identities (id, usn, email, password_hash, display_name, status,
			approved_by, approved_by_name, approved_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, identity.ID, identity.USN, identity.Email, identity.PasswordHash, identity.DisplayName, identity.Status,
		identity.ApprovedBy, identity.ApprovedByName, identity.ApprovedAt, identity.Version, identity.CreatedAt, identity.UpdatedAt)
	return err
}

func (s *Store) ListIdentitiesByStatus(ctx context.Context, status model.IdentityStatus, limit int) ([]model.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIdentities(rows)
}

func (s *Store) ListIdentities(ctx context.Context, limit int) ([]model.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIdentities(rows)
}

func collectIdentities(rows pgx.Rows) ([]model.Identity, error) {
	identities := make([]model.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

type IdentityUpdate struct {
	Email        *string
	DisplayName  *string
	PasswordHash *string
}

func (s *Store) UpdateIdentity(ctx context.Context, userID string, update IdentityUpdate) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE identities
		SET email = COALESCE($2, email),
			display_name = COALESCE($3, display_name),
			password_hash = COALESCE($4, password_hash),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+identityColumns+`
	`, userID, update.Email, update.DisplayName, update.PasswordHash)
	return scanIdentity(row)
}

// SetApproved flips the identity to approved, stamping the actor and clearing
// any rejection metadata. The version guard rejects concurrent reviews.
func (s *Store) SetApproved(ctx context.Context, userID, actorID, actorName string, at time.Time, version int64) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE identities
		SET status = 'approved',
			approved_by = $2, approved_by_name = $3, approved_at = $4,
			rejected_by = NULL, rejected_by_name = NULL, rejected_at = NULL, rejection_reason = NULL,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $5
		RETURNING `+identityColumns+`
	`, userID, actorID, actorName, at, version)
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity, versionConflictOrNotFound(ctx, s.pool, userID)
	}
	return identity, err
}

func (s *Store) SetRejected(ctx context.Context, userID, actorID, actorName, reason string, at time.Time, version int64) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE identities
		SET status = 'rejected',
			rejected_by = $2, rejected_by_name = $3, rejected_at = $4, rejection_reason = $5,
			approved_by = NULL, approved_by_name = NULL, approved_at = NULL,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $6
		RETURNING `+identityColumns+`
	`, userID, actorID, actorName, at, reason, version)
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity, versionConflictOrNotFound(ctx, s.pool, userID)
	}
	return identity, err
}

func versionConflictOrNotFound(ctx context.Context, pool *pgxpool.Pool, userID string) error {
	if exists(ctx, pool, `SELECT 1 FROM identities WHERE id = $1`, userID) {
		return ErrVersionConflict
	}
	return pgx.ErrNoRows
}

func (s *Store) DeleteIdentity(ctx context.Context, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func exists(ctx context.Context, pool *pgxpool.Pool, query string, arg string) bool {
	var exists bool
	_ = pool.QueryRow(ctx, `SELECT EXISTS (`+query+`)`, arg).Scan(&exists)
	return exists
}
