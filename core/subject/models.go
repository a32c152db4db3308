package subject

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sjsfi/lms/core"
)

// Requirement types.
const (
	TypeForum      = "Forum"
	TypeAssignment = "Assignment"
	TypeActivity   = "Activity"
	TypeQuiz       = "Quiz"
)

var RequirementTypes = []string{TypeForum, TypeAssignment, TypeActivity, TypeQuiz}

// SubmissionStatus of a student's work on a requirement.
type SubmissionStatus string

const (
	StatusGraded       SubmissionStatus = "GRADED"
	StatusSubmitted    SubmissionStatus = "SUBMITTED"
	StatusNotSubmitted SubmissionStatus = "NOT_SUBMITTED"
)

type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

type NewSubject struct {
	Name string `json:"name" validate:"required,notblank"`
	Code string `json:"code" validate:"required,max=32,alphanum_"`
}

func (ns *NewSubject) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Code = core.CleanString(ns.Code)
	return validate.Struct(ns)
}

// Instance is a scheduled offering of a Subject by a teacher for a grade and section.
type Instance struct {
	ID             string    `json:"id"`
	SubjectID      string    `json:"subject_id"`
	TeacherName    string    `json:"teacher_name"`
	Grade          string    `json:"grade"`
	Section        string    `json:"section"`
	EnrollmentOpen bool      `json:"enrollment_open"`
	EnrolmentCode  int       `json:"enrolment_code"`
	Icon           string    `json:"icon,omitempty"`
	CreatedByID    string    `json:"created_by_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InstanceDetail is an Instance with its subject, as listed on dashboards.
// The enrolment code is hidden from students.
type InstanceDetail struct {
	Instance
	SubjectName string `json:"subject_name"`
	SubjectCode string `json:"subject_code"`
}

// HideCode blanks the enrolment code.
func (d InstanceDetail) HideCode() InstanceDetail {
	d.EnrolmentCode = 0
	return d
}

type NewInstance struct {
	SubjectID     string `json:"subject_id" validate:"required"`
	TeacherName   string `json:"teacher_name" validate:"required,notblank"`
	Grade         string `json:"grade" validate:"required,notblank"`
	Section       string `json:"section" validate:"required,notblank"`
	EnrolmentCode int    `json:"enrolment_code" validate:"required,enrolcode"`
	Icon          string `json:"icon"`
}

func (ni *NewInstance) Validate(validate *validator.Validate) error {
	ni.TeacherName = core.CleanString(ni.TeacherName)
	ni.Grade = core.CleanString(ni.Grade)
	ni.Section = core.CleanString(ni.Section)
	return validate.Struct(ni)
}

// UpdateInstance defines what may be provided to modify an existing Instance. Nil fields are kept.
type UpdateInstance struct {
	TeacherName    *string `json:"teacher_name" validate:"omitempty,notblank"`
	Grade          *string `json:"grade" validate:"omitempty,notblank"`
	Section        *string `json:"section" validate:"omitempty,notblank"`
	EnrollmentOpen *bool   `json:"enrollment_open"`
	EnrolmentCode  *int    `json:"enrolment_code" validate:"omitempty,enrolcode"`
	Icon           *string `json:"icon"`
}

func (ui *UpdateInstance) Validate(validate *validator.Validate) error {
	return validate.Struct(ui)
}

func (ui UpdateInstance) apply(inst *Instance) {
	if ui.TeacherName != nil {
		inst.TeacherName = core.CleanString(*ui.TeacherName)
	}
	if ui.Grade != nil {
		inst.Grade = core.CleanString(*ui.Grade)
	}
	if ui.Section != nil {
		inst.Section = core.CleanString(*ui.Section)
	}
	if ui.EnrollmentOpen != nil {
		inst.EnrollmentOpen = *ui.EnrollmentOpen
	}
	if ui.EnrolmentCode != nil {
		inst.EnrolmentCode = *ui.EnrolmentCode
	}
	if ui.Icon != nil {
		inst.Icon = *ui.Icon
	}
}

type Requirement struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"subject_instance_id"`
	Number      int        `json:"requirement_number"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	ScoreBase   int        `json:"score_base"`
	Deadline    *time.Time `json:"deadline"`
	Type        string     `json:"type"`
	CreatedByID string     `json:"created_by_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type NewRequirement struct {
	Title     string     `json:"title" validate:"required,notblank,max=255"`
	Content   string     `json:"content"`
	ScoreBase int        `json:"score_base" validate:"required,gt=0"`
	Deadline  *time.Time `json:"deadline"`
	Type      string     `json:"type" validate:"required,reqtype"`
}

func (nr *NewRequirement) Validate(validate *validator.Validate) error {
	nr.Title = core.CleanString(nr.Title)
	nr.Type = normalizeType(nr.Type)
	return validate.Struct(nr)
}

type UpdateRequirement struct {
	Title     *string    `json:"title" validate:"omitempty,notblank,max=255"`
	Content   *string    `json:"content"`
	ScoreBase *int       `json:"score_base" validate:"omitempty,gt=0"`
	Deadline  *time.Time `json:"deadline"`
}

func (ur *UpdateRequirement) Validate(validate *validator.Validate) error {
	return validate.Struct(ur)
}

func (ur UpdateRequirement) apply(req *Requirement) {
	if ur.Title != nil {
		req.Title = core.CleanString(*ur.Title)
	}
	if ur.Content != nil {
		req.Content = *ur.Content
	}
	if ur.ScoreBase != nil {
		req.ScoreBase = *ur.ScoreBase
	}
	if ur.Deadline != nil {
		req.Deadline = ur.Deadline
	}
}

type Submission struct {
	ID            string    `json:"id"`
	RequirementID string    `json:"requirement_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	FilePath      string    `json:"file_path,omitempty"`
	Graded        bool      `json:"graded"`
	Score         *int      `json:"score"`
	Feedback      string    `json:"feedback,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Submission) Status() SubmissionStatus {
	switch {
	case s == nil:
		return StatusNotSubmitted
	case s.Graded:
		return StatusGraded
	default:
		return StatusSubmitted
	}
}

type NewSubmission struct {
	Title    string `json:"title" validate:"required,notblank,max=255"`
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.Title = core.CleanString(ns.Title)
	ns.FilePath = core.CleanString(ns.FilePath)
	return validate.Struct(ns)
}

type Grade struct {
	Score    int    `json:"score" validate:"gte=0"`
	Feedback string `json:"feedback"`
}

// RequirementDetail is a requirement as seen by a student, with their own submission.
type RequirementDetail struct {
	Requirement Requirement      `json:"requirement"`
	Submission  *Submission      `json:"submission"`
	Status      SubmissionStatus `json:"status"`
}
