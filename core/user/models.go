package user

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
)

// Profile statuses that make a student account active.
const (
	StatusActive             = "active"
	EnrollmentStatusEnrolled = "enrolled"
)

type User struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	IsActive      bool        `json:"is_active"`
	Role          access.Role `json:"role"`
	RoleUpdatedAt time.Time   `json:"-"` // UTC
	Profile       Profile     `json:"profile"`
	PasswordHash  []byte      `json:"-"`
	CreatedAt     time.Time   `json:"created_at"` // UTC
	UpdatedAt     time.Time   `json:"updated_at"` // UTC
	LastLogin     time.Time   `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsAdmin() bool   { return u.Role == access.RoleAdmin }
func (u *User) IsFaculty() bool { return u.Role == access.RoleFaculty }
func (u *User) IsStudent() bool { return u.Role == access.RoleStudent }

// Profile is the canonical student profile kept in the user metadata.
// FullName, Email, GradeLevel and Status are required; EnrollmentStatus is optional but,
// when the student information system reports one, it must be "enrolled" for the account to be active.
type Profile struct {
	FullName         string `json:"full_name" validate:"required,notblank"`
	Email            string `json:"email" validate:"required,email"`
	GradeLevel       string `json:"grade_level" validate:"required,notblank"`
	Status           string `json:"status" validate:"required,notblank"`
	EnrollmentStatus string `json:"enrollment_status,omitempty"`
	StudentNumber    string `json:"student_number,omitempty"`
}

func (p *Profile) Clean() {
	p.FullName = core.CleanString(p.FullName)
	p.Email = core.CleanString(p.Email, true /* lower */)
	p.GradeLevel = core.CleanString(p.GradeLevel)
	p.Status = core.CleanString(p.Status, true /* lower */)
	p.EnrollmentStatus = core.CleanString(p.EnrollmentStatus, true /* lower */)
	p.StudentNumber = core.CleanString(p.StudentNumber)
}

func (p Profile) Validate(validate *validator.Validate) error {
	p.Clean()
	return validate.Struct(p)
}

// Complete reports whether every required field is set.
func (p Profile) Complete() bool {
	return strings.TrimSpace(p.FullName) != "" &&
		strings.TrimSpace(p.Email) != "" &&
		strings.TrimSpace(p.GradeLevel) != "" &&
		strings.TrimSpace(p.Status) != ""
}

// IsActive reports whether the profile allows enrolments. Incomplete profiles are inactive.
func (p Profile) IsActive() bool {
	if !p.Complete() {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(p.Status), StatusActive) {
		return false
	}
	es := strings.TrimSpace(p.EnrollmentStatus)
	return es == "" || strings.EqualFold(es, EnrollmentStatusEnrolled)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required,notblank"`
	Email           string `json:"email" validate:"required,email"`
	Role            string `json:"role" validate:"omitempty,role"`
	Password        string `json:"password" validate:"required,pwdminlen,pwdnospace,pwdnotallnum,pwdnocommon"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role, true /* lower */)
	return validate.Struct(nu)
}

type QueryFilter struct {
	Search   string   `query:"search"`
	Roles    []string `query:"role"`
	IsActive *bool    `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	for i, r := range qf.Roles {
		qf.Roles[i] = core.CleanString(r, true /* lower */)
	}
}
