package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
	"github.com/sjsfi/lms/storage/database"
)

const userColumns = `id, name, email, is_active, password_hash, role, role_updated_at,
	profile_full_name, profile_email, profile_grade_level, profile_status,
	profile_enrollment_status, profile_student_number, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"name":       "LOWER(name)",
	"email":      "email",
	"role":       "role",
	"is_active":  "is_active",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID                      string     `db:"id"`
	Name                    string     `db:"name"`
	Email                   string     `db:"email"`
	IsActive                bool       `db:"is_active"`
	PasswordHash            null.Bytes `db:"password_hash"`
	Role                    string     `db:"role"`
	RoleUpdatedAt           null.Time  `db:"role_updated_at"`
	ProfileFullName         string     `db:"profile_full_name"`
	ProfileEmail            string     `db:"profile_email"`
	ProfileGradeLevel       string     `db:"profile_grade_level"`
	ProfileStatus           string     `db:"profile_status"`
	ProfileEnrollmentStatus string     `db:"profile_enrollment_status"`
	ProfileStudentNumber    string     `db:"profile_student_number"`
	CreatedAt               time.Time  `db:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at"`
	LastLogin               null.Time  `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	return userRow{
		ID:                      usr.ID,
		Name:                    usr.Name,
		Email:                   usr.Email,
		IsActive:                usr.IsActive,
		PasswordHash:            null.NewBytes(usr.PasswordHash, len(usr.PasswordHash) > 0),
		Role:                    string(usr.Role),
		RoleUpdatedAt:           nullTime(usr.RoleUpdatedAt),
		ProfileFullName:         usr.Profile.FullName,
		ProfileEmail:            usr.Profile.Email,
		ProfileGradeLevel:       usr.Profile.GradeLevel,
		ProfileStatus:           usr.Profile.Status,
		ProfileEnrollmentStatus: usr.Profile.EnrollmentStatus,
		ProfileStudentNumber:    usr.Profile.StudentNumber,
		CreatedAt:               usr.CreatedAt.UTC(),
		UpdatedAt:               usr.UpdatedAt.UTC(),
		LastLogin:               nullTime(usr.LastLogin),
	}
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		IsActive:      r.IsActive,
		PasswordHash:  r.PasswordHash.Bytes,
		Role:          access.ParseRole(r.Role),
		RoleUpdatedAt: r.RoleUpdatedAt.Time,
		Profile: user.Profile{
			FullName:         r.ProfileFullName,
			Email:            r.ProfileEmail,
			GradeLevel:       r.ProfileGradeLevel,
			Status:           r.ProfileStatus,
			EnrollmentStatus: r.ProfileEnrollmentStatus,
			StudentNumber:    r.ProfileStudentNumber,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		LastLogin: r.LastLogin.Time,
	}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	q := `INSERT INTO lms_user (` + userColumns + `) VALUES (
		:id, :name, :email, :is_active, :password_hash, :role, :role_updated_at,
		:profile_full_name, :profile_email, :profile_grade_level, :profile_status,
		:profile_enrollment_status, :profile_student_number, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, toUserRow(usr)); err != nil {
		if database.IsUniqueViolation(err, "lms_user_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if !validID(id) {
		return user.User{}, user.ErrNotFound
	}
	var row userRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM lms_user WHERE id = $1`, id)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user by ID")
	}
	return row.toUser(), nil
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM lms_user WHERE email = $1`, email)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user by email")
	}
	return row.toUser(), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// users with Name or Email matching the search keyword
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %s OR email ILIKE %s)", p, p))
	}
	if len(filter.Roles) > 0 {
		where = append(where, "role = ANY("+arg(pq.Array(filter.Roles))+")")
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = "+arg(*filter.IsActive))
	}

	q := `SELECT ` + userColumns + ` FROM lms_user`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += core.OrderBy(orderings, userOrderings, "created_at DESC")

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (repo *userRepository) SetUserPassword(ctx context.Context, id string, hash []byte, at time.Time) error {
	if !validID(id) {
		return user.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE lms_user SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, at.UTC())
	return mustAffect(res, err, user.ErrNotFound, "setting user password")
}

func (repo *userRepository) SetUserRole(ctx context.Context, id string, role access.Role, at time.Time) (user.User, error) {
	return repo.update(ctx, id, "setting user role",
		`UPDATE lms_user SET role = $2, role_updated_at = $3, updated_at = $3 WHERE id = $1`,
		string(role), at.UTC())
}

func (repo *userRepository) SetUserProfile(ctx context.Context, id string, profile user.Profile, at time.Time) (user.User, error) {
	return repo.update(ctx, id, "setting user profile",
		`UPDATE lms_user SET profile_full_name = $2, profile_email = $3, profile_grade_level = $4,
			profile_status = $5, profile_enrollment_status = $6, profile_student_number = $7, updated_at = $8
		WHERE id = $1`,
		profile.FullName, profile.Email, profile.GradeLevel, profile.Status,
		profile.EnrollmentStatus, profile.StudentNumber, at.UTC())
}

func (repo *userRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return user.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE lms_user SET last_login = $2 WHERE id = $1`, id, at.UTC())
	return mustAffect(res, err, user.ErrNotFound, "setting last login")
}

// update runs q with id as $1 followed by args, then returns the fresh row.
func (repo *userRepository) update(ctx context.Context, id, msg, q string, args ...interface{}) (user.User, error) {
	if !validID(id) {
		return user.User{}, user.ErrNotFound
	}
	var row userRow
	err := repo.db.GetContext(ctx, &row, q+` RETURNING `+userColumns, append([]interface{}{id}, args...)...)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, msg)
	}
	return row.toUser(), nil
}
