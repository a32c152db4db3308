package sqlxrepos

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/storage/database"
)

const enrolmentColumns = `id, user_id, subject_instance_id, full_name, email, grade_level,
	enrollment_status, status, has_new_content, created_at`

type enrolmentRow struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	InstanceID       string    `db:"subject_instance_id"`
	FullName         string    `db:"full_name"`
	Email            string    `db:"email"`
	GradeLevel       string    `db:"grade_level"`
	EnrollmentStatus string    `db:"enrollment_status"`
	Status           string    `db:"status"`
	HasNewContent    bool      `db:"has_new_content"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r enrolmentRow) toEnrolment() enrolment.Enrolment {
	return enrolment.Enrolment{
		ID:               r.ID,
		UserID:           r.UserID,
		InstanceID:       r.InstanceID,
		FullName:         r.FullName,
		Email:            r.Email,
		GradeLevel:       r.GradeLevel,
		EnrollmentStatus: r.EnrollmentStatus,
		Status:           r.Status,
		HasNewContent:    r.HasNewContent,
		CreatedAt:        r.CreatedAt,
	}
}

// enrolledRow is scanned from columns aliased "enrolment.*" and "instance.*".
type enrolledRow struct {
	Enrolment enrolmentRow      `db:"enrolment"`
	Instance  instanceDetailRow `db:"instance"`
}

type enrolmentRepository struct {
	db *sqlx.DB
}

var (
	_ enrolment.Repository = (*enrolmentRepository)(nil) // interface compliance check
	_ subject.Enrolments   = (*enrolmentRepository)(nil)
)

func NewEnrolmentRepository(db *sqlx.DB) *enrolmentRepository {
	return &enrolmentRepository{db: db}
}

func (repo *enrolmentRepository) EnrolmentExists(ctx context.Context, userID, instanceID string) (bool, error) {
	if !validID(userID) || !validID(instanceID) {
		return false, nil
	}
	var exists bool
	err := repo.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM enrolment WHERE user_id = $1 AND subject_instance_id = $2)`,
		userID, instanceID)
	if err != nil {
		return false, errors.Wrap(err, "checking enrolment")
	}
	return exists, nil
}

// CreateEnrolment relies on the (user_id, subject_instance_id) unique constraint:
// of concurrent inserts for the same pair, exactly one succeeds.
func (repo *enrolmentRepository) CreateEnrolment(ctx context.Context, e enrolment.Enrolment) (enrolment.Enrolment, error) {
	if !validID(e.InstanceID) {
		return enrolment.Enrolment{}, subject.ErrInstanceNotFound
	}
	var row enrolmentRow
	err := repo.db.GetContext(ctx, &row,
		`INSERT INTO enrolment (`+enrolmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+enrolmentColumns,
		uuid.New().String(), e.UserID, e.InstanceID, e.FullName, e.Email, e.GradeLevel,
		e.EnrollmentStatus, e.Status, e.HasNewContent, e.CreatedAt.UTC())
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, "enrolment_user_instance_key"):
			return enrolment.Enrolment{}, enrolment.ErrAlreadyEnrolled
		case database.IsForeignKeyViolation(err, "enrolment_subject_instance_id_fkey"):
			return enrolment.Enrolment{}, subject.ErrInstanceNotFound
		}
		return enrolment.Enrolment{}, errors.Wrap(err, "inserting enrolment")
	}
	return row.toEnrolment(), nil
}

func (repo *enrolmentRepository) QueryEnrolled(ctx context.Context, userID string) ([]enrolment.EnrolledInstance, error) {
	list := make([]enrolment.EnrolledInstance, 0)
	if !validID(userID) {
		return list, nil
	}
	q := `SELECT
		e.id AS "enrolment.id", e.user_id AS "enrolment.user_id",
		e.subject_instance_id AS "enrolment.subject_instance_id", e.full_name AS "enrolment.full_name",
		e.email AS "enrolment.email", e.grade_level AS "enrolment.grade_level",
		e.enrollment_status AS "enrolment.enrollment_status", e.status AS "enrolment.status",
		e.has_new_content AS "enrolment.has_new_content", e.created_at AS "enrolment.created_at",
		i.id AS "instance.id", i.subject_id AS "instance.subject_id", i.teacher_name AS "instance.teacher_name",
		i.grade AS "instance.grade", i.section AS "instance.section",
		i.enrollment_open AS "instance.enrollment_open", i.enrolment_code AS "instance.enrolment_code",
		i.icon AS "instance.icon", i.created_by_id AS "instance.created_by_id",
		i.created_at AS "instance.created_at", i.updated_at AS "instance.updated_at",
		s.name AS "instance.subject_name", s.code AS "instance.subject_code"
	FROM enrolment e
		JOIN subject_instance i ON i.id = e.subject_instance_id
		JOIN subject s ON s.id = i.subject_id
	WHERE e.user_id = $1
	ORDER BY e.created_at DESC`

	var rows []enrolledRow
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying enrolled instances")
	}
	for _, r := range rows {
		list = append(list, enrolment.EnrolledInstance{
			Enrolment: r.Enrolment.toEnrolment(),
			Instance:  r.Instance.toDetail(),
		})
	}
	return list, nil
}

func (repo *enrolmentRepository) ClearNewContent(ctx context.Context, userID, instanceID string) error {
	if !validID(userID) || !validID(instanceID) {
		return enrolment.ErrNotEnrolled
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE enrolment SET has_new_content = FALSE WHERE user_id = $1 AND subject_instance_id = $2`,
		userID, instanceID)
	return mustAffect(res, err, enrolment.ErrNotEnrolled, "clearing new content flag")
}

func (repo *enrolmentRepository) MarkNewContent(ctx context.Context, instanceID string) error {
	if !validID(instanceID) {
		return nil
	}
	_, err := repo.db.ExecContext(ctx,
		`UPDATE enrolment SET has_new_content = TRUE WHERE subject_instance_id = $1`, instanceID)
	return errors.Wrap(err, "marking new content")
}

func (repo *enrolmentRepository) QueryEnrolledAddresses(ctx context.Context, instanceID string) ([]mail.Address, error) {
	addrs := make([]mail.Address, 0)
	if !validID(instanceID) {
		return addrs, nil
	}
	var rows []struct {
		FullName string `db:"full_name"`
		Email    string `db:"email"`
	}
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT full_name, email FROM enrolment WHERE subject_instance_id = $1 ORDER BY email`, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrolled addresses")
	}
	for _, r := range rows {
		addrs = append(addrs, mail.Address{Name: r.FullName, Address: r.Email})
	}
	return addrs, nil
}
