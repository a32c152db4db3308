package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/storage/database"
)

const (
	instanceColumns = `i.id, i.subject_id, i.teacher_name, i.grade, i.section, i.enrollment_open,
	i.enrolment_code, i.icon, i.created_by_id, i.created_at, i.updated_at`
	instanceDetailQuery = `SELECT ` + instanceColumns + `, s.name AS subject_name, s.code AS subject_code
	FROM subject_instance i JOIN subject s ON s.id = i.subject_id`

	requirementColumns = `id, subject_instance_id, requirement_number, title, content, score_base,
	deadline, type, created_by_id, created_at, updated_at`
	submissionColumns = `id, requirement_id, user_id, title, content, file_path, graded, score,
	feedback, created_at, updated_at`

	// concurrent creations may compute the same requirement number
	numberingAttempts = 3
)

type subjectRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Code      string    `db:"code"`
	CreatedAt time.Time `db:"created_at"`
}

func (r subjectRow) toSubject() subject.Subject {
	return subject.Subject{ID: r.ID, Name: r.Name, Code: r.Code, CreatedAt: r.CreatedAt}
}

type instanceRow struct {
	ID             string      `db:"id"`
	SubjectID      string      `db:"subject_id"`
	TeacherName    string      `db:"teacher_name"`
	Grade          string      `db:"grade"`
	Section        string      `db:"section"`
	EnrollmentOpen bool        `db:"enrollment_open"`
	EnrolmentCode  int         `db:"enrolment_code"`
	Icon           null.String `db:"icon"`
	CreatedByID    string      `db:"created_by_id"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

func toInstanceRow(inst subject.Instance) instanceRow {
	return instanceRow{
		ID:             inst.ID,
		SubjectID:      inst.SubjectID,
		TeacherName:    inst.TeacherName,
		Grade:          inst.Grade,
		Section:        inst.Section,
		EnrollmentOpen: inst.EnrollmentOpen,
		EnrolmentCode:  inst.EnrolmentCode,
		Icon:           nullString(inst.Icon),
		CreatedByID:    inst.CreatedByID,
		CreatedAt:      inst.CreatedAt.UTC(),
		UpdatedAt:      inst.UpdatedAt.UTC(),
	}
}

func (r instanceRow) toInstance() subject.Instance {
	return subject.Instance{
		ID:             r.ID,
		SubjectID:      r.SubjectID,
		TeacherName:    r.TeacherName,
		Grade:          r.Grade,
		Section:        r.Section,
		EnrollmentOpen: r.EnrollmentOpen,
		EnrolmentCode:  r.EnrolmentCode,
		Icon:           r.Icon.String,
		CreatedByID:    r.CreatedByID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type instanceDetailRow struct {
	instanceRow
	SubjectName string `db:"subject_name"`
	SubjectCode string `db:"subject_code"`
}

func (r instanceDetailRow) toDetail() subject.InstanceDetail {
	return subject.InstanceDetail{
		Instance:    r.toInstance(),
		SubjectName: r.SubjectName,
		SubjectCode: r.SubjectCode,
	}
}

type requirementRow struct {
	ID          string    `db:"id"`
	InstanceID  string    `db:"subject_instance_id"`
	Number      int       `db:"requirement_number"`
	Title       string    `db:"title"`
	Content     string    `db:"content"`
	ScoreBase   int       `db:"score_base"`
	Deadline    null.Time `db:"deadline"`
	Type        string    `db:"type"`
	CreatedByID string    `db:"created_by_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r requirementRow) toRequirement() subject.Requirement {
	return subject.Requirement{
		ID:          r.ID,
		InstanceID:  r.InstanceID,
		Number:      r.Number,
		Title:       r.Title,
		Content:     r.Content,
		ScoreBase:   r.ScoreBase,
		Deadline:    r.Deadline.Ptr(),
		Type:        r.Type,
		CreatedByID: r.CreatedByID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type submissionRow struct {
	ID            string      `db:"id"`
	RequirementID string      `db:"requirement_id"`
	UserID        string      `db:"user_id"`
	Title         string      `db:"title"`
	Content       string      `db:"content"`
	FilePath      null.String `db:"file_path"`
	Graded        bool        `db:"graded"`
	Score         null.Int    `db:"score"`
	Feedback      null.String `db:"feedback"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

func (r submissionRow) toSubmission() subject.Submission {
	return subject.Submission{
		ID:            r.ID,
		RequirementID: r.RequirementID,
		UserID:        r.UserID,
		Title:         r.Title,
		Content:       r.Content,
		FilePath:      r.FilePath.String,
		Graded:        r.Graded,
		Score:         r.Score.Ptr(),
		Feedback:      r.Feedback.String,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type subjectRepository struct {
	db *sqlx.DB
}

var _ subject.Repository = (*subjectRepository)(nil) // interface compliance check

func NewSubjectRepository(db *sqlx.DB) *subjectRepository {
	return &subjectRepository{db: db}
}

// Subjects

func (repo *subjectRepository) CreateSubject(ctx context.Context, subj subject.Subject) (subject.Subject, error) {
	subj.ID = uuid.New().String()
	subj.CreatedAt = subj.CreatedAt.UTC()
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO subject (id, name, code, created_at) VALUES ($1, $2, $3, $4)`,
		subj.ID, subj.Name, subj.Code, subj.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "subject_code_key") {
			return subject.Subject{}, subject.ErrCodeExists
		}
		return subject.Subject{}, errors.Wrap(err, "inserting subject")
	}
	return subj, nil
}

func (repo *subjectRepository) QuerySubjects(ctx context.Context) ([]subject.Subject, error) {
	var rows []subjectRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT id, name, code, created_at FROM subject ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "querying subjects")
	}
	subjs := make([]subject.Subject, 0, len(rows))
	for _, r := range rows {
		subjs = append(subjs, r.toSubject())
	}
	return subjs, nil
}

func (repo *subjectRepository) GetSubject(ctx context.Context, id string) (subject.Subject, error) {
	if !validID(id) {
		return subject.Subject{}, subject.ErrSubjectNotFound
	}
	var row subjectRow
	err := repo.db.GetContext(ctx, &row, `SELECT id, name, code, created_at FROM subject WHERE id = $1`, id)
	if err != nil {
		return subject.Subject{}, trapNoRowsErr(err, subject.ErrSubjectNotFound, "finding subject")
	}
	return row.toSubject(), nil
}

// DeleteSubject deletes the subject; instances, enrolments, requirements and submissions cascade.
func (repo *subjectRepository) DeleteSubject(ctx context.Context, id string) error {
	if !validID(id) {
		return subject.ErrSubjectNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM subject WHERE id = $1`, id)
	return mustAffect(res, err, subject.ErrSubjectNotFound, "deleting subject")
}

// Instances

func (repo *subjectRepository) CreateInstance(ctx context.Context, inst subject.Instance) (subject.Instance, error) {
	if !validID(inst.SubjectID) {
		return subject.Instance{}, subject.ErrSubjectNotFound
	}
	inst.ID = uuid.New().String()
	q := `INSERT INTO subject_instance (id, subject_id, teacher_name, grade, section, enrollment_open,
		enrolment_code, icon, created_by_id, created_at, updated_at)
	VALUES (:id, :subject_id, :teacher_name, :grade, :section, :enrollment_open,
		:enrolment_code, :icon, :created_by_id, :created_at, :updated_at)`
	row := toInstanceRow(inst)
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if database.IsForeignKeyViolation(err, "subject_instance_subject_id_fkey") {
			return subject.Instance{}, subject.ErrSubjectNotFound
		}
		return subject.Instance{}, errors.Wrap(err, "inserting subject instance")
	}
	return row.toInstance(), nil
}

func (repo *subjectRepository) GetInstance(ctx context.Context, id string) (subject.Instance, error) {
	d, err := repo.GetInstanceDetail(ctx, id)
	if err != nil {
		return subject.Instance{}, err
	}
	return d.Instance, nil
}

func (repo *subjectRepository) GetInstanceDetail(ctx context.Context, id string) (subject.InstanceDetail, error) {
	if !validID(id) {
		return subject.InstanceDetail{}, subject.ErrInstanceNotFound
	}
	var row instanceDetailRow
	if err := repo.db.GetContext(ctx, &row, instanceDetailQuery+` WHERE i.id = $1`, id); err != nil {
		return subject.InstanceDetail{}, trapNoRowsErr(err, subject.ErrInstanceNotFound, "finding subject instance")
	}
	return row.toDetail(), nil
}

func (repo *subjectRepository) queryInstances(ctx context.Context, where string, args ...interface{}) ([]subject.InstanceDetail, error) {
	var rows []instanceDetailRow
	q := instanceDetailQuery + ` WHERE ` + where + ` ORDER BY i.created_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying subject instances")
	}
	insts := make([]subject.InstanceDetail, 0, len(rows))
	for _, r := range rows {
		insts = append(insts, r.toDetail())
	}
	return insts, nil
}

func (repo *subjectRepository) QueryInstancesByCreator(ctx context.Context, creatorID string) ([]subject.InstanceDetail, error) {
	if !validID(creatorID) {
		return []subject.InstanceDetail{}, nil
	}
	return repo.queryInstances(ctx, `i.created_by_id = $1`, creatorID)
}

func (repo *subjectRepository) QueryAvailableInstances(ctx context.Context, userID string) ([]subject.InstanceDetail, error) {
	if !validID(userID) {
		userID = uuid.Nil.String()
	}
	return repo.queryInstances(ctx, `i.enrollment_open AND NOT EXISTS (
		SELECT 1 FROM enrolment e WHERE e.subject_instance_id = i.id AND e.user_id = $1)`, userID)
}

func (repo *subjectRepository) UpdateInstance(ctx context.Context, inst subject.Instance) (subject.Instance, error) {
	if !validID(inst.ID) {
		return subject.Instance{}, subject.ErrInstanceNotFound
	}
	q := `UPDATE subject_instance SET teacher_name = :teacher_name, grade = :grade, section = :section,
		enrollment_open = :enrollment_open, enrolment_code = :enrolment_code, icon = :icon, updated_at = :updated_at
	WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, toInstanceRow(inst))
	if err = mustAffect(res, err, subject.ErrInstanceNotFound, "updating subject instance"); err != nil {
		return subject.Instance{}, err
	}
	return repo.GetInstance(ctx, inst.ID)
}

// Requirements

func (repo *subjectRepository) CreateRequirement(ctx context.Context, req subject.Requirement) (subject.Requirement, error) {
	if !validID(req.InstanceID) {
		return subject.Requirement{}, subject.ErrInstanceNotFound
	}
	q := `INSERT INTO requirement (` + requirementColumns + `)
	SELECT $1, $2, COALESCE(MAX(requirement_number), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $9
	FROM requirement WHERE subject_instance_id = $2 AND type = $7
	RETURNING ` + requirementColumns

	var (
		row requirementRow
		err error
	)
	for attempt := 0; attempt < numberingAttempts; attempt++ {
		err = repo.db.GetContext(ctx, &row, q,
			uuid.New().String(), req.InstanceID, req.Title, req.Content, req.ScoreBase,
			null.TimeFromPtr(req.Deadline), req.Type, req.CreatedByID, req.CreatedAt.UTC())
		if !database.IsUniqueViolation(err, "requirement_instance_type_number_key") {
			break
		}
	}
	if err != nil {
		if database.IsForeignKeyViolation(err, "requirement_subject_instance_id_fkey") {
			return subject.Requirement{}, subject.ErrInstanceNotFound
		}
		return subject.Requirement{}, errors.Wrap(err, "inserting requirement")
	}
	return row.toRequirement(), nil
}

func (repo *subjectRepository) GetRequirement(ctx context.Context, id string) (subject.Requirement, error) {
	if !validID(id) {
		return subject.Requirement{}, subject.ErrRequirementNotFound
	}
	var row requirementRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+requirementColumns+` FROM requirement WHERE id = $1`, id)
	if err != nil {
		return subject.Requirement{}, trapNoRowsErr(err, subject.ErrRequirementNotFound, "finding requirement")
	}
	return row.toRequirement(), nil
}

func (repo *subjectRepository) QueryRequirements(ctx context.Context, instanceID string) ([]subject.Requirement, error) {
	reqs := make([]subject.Requirement, 0)
	if !validID(instanceID) {
		return reqs, nil
	}
	var rows []requirementRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+requirementColumns+` FROM requirement WHERE subject_instance_id = $1 ORDER BY type, requirement_number`,
		instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "querying requirements")
	}
	for _, r := range rows {
		reqs = append(reqs, r.toRequirement())
	}
	return reqs, nil
}

func (repo *subjectRepository) UpdateRequirement(ctx context.Context, req subject.Requirement) (subject.Requirement, error) {
	if !validID(req.ID) {
		return subject.Requirement{}, subject.ErrRequirementNotFound
	}
	var row requirementRow
	err := repo.db.GetContext(ctx, &row,
		`UPDATE requirement SET title = $2, content = $3, score_base = $4, deadline = $5, updated_at = $6
		WHERE id = $1 RETURNING `+requirementColumns,
		req.ID, req.Title, req.Content, req.ScoreBase, null.TimeFromPtr(req.Deadline), req.UpdatedAt.UTC())
	if err != nil {
		return subject.Requirement{}, trapNoRowsErr(err, subject.ErrRequirementNotFound, "updating requirement")
	}
	return row.toRequirement(), nil
}

func (repo *subjectRepository) DeleteRequirement(ctx context.Context, id string) error {
	if !validID(id) {
		return subject.ErrRequirementNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM requirement WHERE id = $1`, id)
	return mustAffect(res, err, subject.ErrRequirementNotFound, "deleting requirement")
}

// Submissions

// UpsertSubmission inserts the submission or replaces the caller's ungraded one.
// A graded submission makes the conditional update skip the row, which comes back as no rows.
func (repo *subjectRepository) UpsertSubmission(ctx context.Context, sub subject.Submission) (subject.Submission, error) {
	if !validID(sub.RequirementID) {
		return subject.Submission{}, subject.ErrRequirementNotFound
	}
	q := `INSERT INTO submission (id, requirement_id, user_id, title, content, file_path, graded, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
	ON CONFLICT ON CONSTRAINT submission_requirement_user_key DO UPDATE
		SET title = EXCLUDED.title, content = EXCLUDED.content, file_path = EXCLUDED.file_path,
			updated_at = EXCLUDED.updated_at
		WHERE NOT submission.graded
	RETURNING ` + submissionColumns

	var row submissionRow
	err := repo.db.GetContext(ctx, &row, q,
		uuid.New().String(), sub.RequirementID, sub.UserID, sub.Title, sub.Content,
		nullString(sub.FilePath), sub.CreatedAt.UTC(), sub.UpdatedAt.UTC())
	if err != nil {
		if database.IsForeignKeyViolation(err, "submission_requirement_id_fkey") {
			return subject.Submission{}, subject.ErrRequirementNotFound
		}
		return subject.Submission{}, trapNoRowsErr(err, subject.ErrAlreadyGraded, "upserting submission")
	}
	return row.toSubmission(), nil
}

func (repo *subjectRepository) GetSubmission(ctx context.Context, requirementID, userID string) (subject.Submission, error) {
	if !validID(requirementID) || !validID(userID) {
		return subject.Submission{}, subject.ErrSubmissionNotFound
	}
	var row submissionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT `+submissionColumns+` FROM submission WHERE requirement_id = $1 AND user_id = $2`,
		requirementID, userID)
	if err != nil {
		return subject.Submission{}, trapNoRowsErr(err, subject.ErrSubmissionNotFound, "finding submission")
	}
	return row.toSubmission(), nil
}

func (repo *subjectRepository) GetSubmissionByID(ctx context.Context, id string) (subject.Submission, error) {
	if !validID(id) {
		return subject.Submission{}, subject.ErrSubmissionNotFound
	}
	var row submissionRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+submissionColumns+` FROM submission WHERE id = $1`, id)
	if err != nil {
		return subject.Submission{}, trapNoRowsErr(err, subject.ErrSubmissionNotFound, "finding submission")
	}
	return row.toSubmission(), nil
}

func (repo *subjectRepository) QuerySubmissions(ctx context.Context, requirementID string) ([]subject.Submission, error) {
	subs := make([]subject.Submission, 0)
	if !validID(requirementID) {
		return subs, nil
	}
	var rows []submissionRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+submissionColumns+` FROM submission WHERE requirement_id = $1 ORDER BY created_at`, requirementID)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	for _, r := range rows {
		subs = append(subs, r.toSubmission())
	}
	return subs, nil
}

func (repo *subjectRepository) GradeSubmission(ctx context.Context, id string, score int, feedback string, at time.Time) (subject.Submission, error) {
	if !validID(id) {
		return subject.Submission{}, subject.ErrSubmissionNotFound
	}
	var row submissionRow
	err := repo.db.GetContext(ctx, &row,
		`UPDATE submission SET graded = TRUE, score = $2, feedback = $3, updated_at = $4
		WHERE id = $1 RETURNING `+submissionColumns,
		id, score, nullString(feedback), at.UTC())
	if err != nil {
		return subject.Submission{}, trapNoRowsErr(err, subject.ErrSubmissionNotFound, "grading submission")
	}
	return row.toSubmission(), nil
}
