package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
	logsvc "github.com/sjsfi/lms/services/logger"
)

// NewLogger returns a disabled, silent RollbarLogger.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

// NewValidator returns a validator with every app tag registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	subject.InitValidators(validate, translator)
	return validate, translator
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	role access.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if role != access.RoleNone {
		usr.RoleUpdatedAt = tstamp
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// ActiveProfile returns a complete, active student profile.
func ActiveProfile(name, email string) user.Profile {
	return user.Profile{
		FullName:         name,
		Email:            email,
		GradeLevel:       "7",
		Status:           user.StatusActive,
		EnrollmentStatus: user.EnrollmentStatusEnrolled,
	}
}

// CreateStudent creates a user with the student role and the given profile.
func CreateStudent(t *testing.T, repo user.Repository, name, email string, profile user.Profile) user.User {
	usr := CreateUser(t, repo, name, email, "", access.RoleStudent, true)
	usr, err := repo.SetUserProfile(context.Background(), usr.ID, profile, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return usr
}

// CreateInstance creates a subject with the given code and one instance of it owned by creatorID.
func CreateInstance(t *testing.T, repo subject.Repository, code, creatorID string, enrolmentCode int) subject.Instance {
	ctx := context.Background()
	now := time.Now().UTC()

	subj, err := repo.CreateSubject(ctx, subject.Subject{Name: code + " subject", Code: code, CreatedAt: now})
	if err != nil {
		t.Fatalf("CreateInstance() failed: %v", err)
	}
	inst, err := repo.CreateInstance(ctx, subject.Instance{
		SubjectID:      subj.ID,
		TeacherName:    "Mrs. Santos",
		Grade:          "7",
		Section:        "St. Joseph",
		EnrollmentOpen: true,
		EnrolmentCode:  enrolmentCode,
		CreatedByID:    creatorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateInstance() failed: %v", err)
	}
	return inst
}
