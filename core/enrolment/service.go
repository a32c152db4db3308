package enrolment

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/metrics"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrAlreadyEnrolled = core.NewCodedError(core.CodeAlreadyEnrolled, "already enrolled")
	ErrNotEnrolled     = core.NewCodedError(core.CodeNotFound, "enrolment not found")
)

type (
	Repository interface {
		EnrolmentExists(ctx context.Context, userID, instanceID string) (bool, error)
		// CreateEnrolment returns ErrAlreadyEnrolled when (UserID, InstanceID) is taken.
		CreateEnrolment(ctx context.Context, e Enrolment) (Enrolment, error)
		// QueryEnrolled lists the enrolments of userID, newest first.
		QueryEnrolled(ctx context.Context, userID string) ([]EnrolledInstance, error)
		ClearNewContent(ctx context.Context, userID, instanceID string) error
		MarkNewContent(ctx context.Context, instanceID string) error
		QueryEnrolledAddresses(ctx context.Context, instanceID string) ([]mail.Address, error)
	}

	// InstanceFinder returns subject.ErrInstanceNotFound for unknown ids.
	InstanceFinder interface {
		GetInstanceDetail(ctx context.Context, id string) (subject.InstanceDetail, error)
	}

	// ProfileSource returns the canonical profile of a user.
	ProfileSource interface {
		GetProfile(ctx context.Context, userID string) (user.Profile, error)
	}

	// Limiter throttles enrolment attempts per caller.
	Limiter interface {
		Allow(ctx context.Context, key string) (bool, error)
	}

	Option func(*Service)

	Service struct {
		repo      Repository
		instances InstanceFinder
		profiles  ProfileSource
		mailSvc   core.EmailService
		logger    core.Logger
		limiter   Limiter
	}
)

// WithLimiter turns attempt throttling on.
func WithLimiter(l Limiter) Option {
	return func(svc *Service) {
		svc.limiter = l
	}
}

func NewService(
	repo Repository,
	instances InstanceFinder,
	profiles ProfileSource,
	mailSvc core.EmailService,
	logger core.Logger,
	opts ...Option,
) (*Service, error) {
	err := vala.BeginValidation().Validate(
		core.IsNotNil(repo, "repo"),
		core.IsNotNil(instances, "instances"),
		core.IsNotNil(profiles, "profiles"),
		core.IsNotNil(mailSvc, "mailSvc"),
		core.IsNotNil(logger, "logger"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "creating enrolment service")
	}

	svc := &Service{repo: repo, instances: instances, profiles: profiles, mailSvc: mailSvc, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Enrol enrols the caller in an instance when every check passes, in order:
// caller, attempt budget, instance, code, existing enrolment, profile.
// Failures come back as a Result; the error is reserved for storage failures.
// No enrolment is written on any failure path.
func (svc *Service) Enrol(ctx context.Context, callerID, instanceID, code string) (res Result, err error) {
	defer func() {
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case !res.Success:
			result = string(res.Error)
		}
		metrics.EnrolmentAttempts.WithLabelValues(result).Inc()
	}()

	if callerID == "" {
		return failure(core.CodeUnauthenticated), nil
	}

	if svc.limiter != nil {
		ok, err := svc.limiter.Allow(ctx, callerID)
		if err != nil {
			return Result{}, errors.Wrap(err, "checking attempt budget")
		}
		if !ok {
			return failure(core.CodeRateLimited), nil
		}
	}

	inst, err := svc.instances.GetInstanceDetail(ctx, instanceID)
	if err != nil {
		if errors.Cause(err) == subject.ErrInstanceNotFound {
			return failure(core.CodeNotFound), nil
		}
		return Result{}, errors.Wrap(err, "finding subject instance")
	}

	if n, ok := parseCode(code); !ok || n != inst.EnrolmentCode {
		return failure(core.CodeInvalidCode), nil
	}

	exists, err := svc.repo.EnrolmentExists(ctx, callerID, instanceID)
	if err != nil {
		return Result{}, errors.Wrap(err, "checking enrolment")
	}
	if exists {
		return failure(core.CodeAlreadyEnrolled), nil
	}

	profile, err := svc.profiles.GetProfile(ctx, callerID)
	if err != nil {
		switch core.ErrorCodeOf(err) {
		case core.CodeNotFound:
			return failure(core.CodeAccountInactive), nil
		case core.CodeUpstreamUnavailable:
			return failure(core.CodeUpstreamUnavailable), nil
		}
		return Result{}, errors.Wrap(err, "fetching profile")
	}
	if !profile.IsActive() {
		return failure(core.CodeAccountInactive), nil
	}

	e, err := svc.repo.CreateEnrolment(ctx, Enrolment{
		UserID:           callerID,
		InstanceID:       instanceID,
		FullName:         profile.FullName,
		Email:            profile.Email,
		GradeLevel:       profile.GradeLevel,
		EnrollmentStatus: profile.EnrollmentStatus,
		Status:           profile.Status,
		CreatedAt:        nowFunc().UTC(),
	})
	if err != nil {
		// lost a race: a concurrent attempt enrolled first, or the instance was deleted meanwhile
		switch errors.Cause(err) {
		case ErrAlreadyEnrolled:
			return failure(core.CodeAlreadyEnrolled), nil
		case subject.ErrInstanceNotFound:
			return failure(core.CodeNotFound), nil
		}
		return Result{}, errors.Wrap(err, "inserting enrolment")
	}

	svc.sendConfirmation(e, inst)
	return Result{Success: true, Enrolment: &e, Refresh: []string{ViewSubjects, ViewDashboard}}, nil
}

// parseCode accepts positive base 10 integers only.
func parseCode(code string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (svc *Service) sendConfirmation(e Enrolment, inst subject.InstanceDetail) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: e.FullName, Address: e.Email}},
		Subject:      fmt.Sprintf("Enrolled in %s", inst.SubjectName),
		TemplateName: "enrolment_confirmed",
		TemplateData: map[string]interface{}{
			"FullName":    e.FullName,
			"SubjectName": inst.SubjectName,
			"Grade":       inst.Grade,
			"Section":     inst.Section,
			"TeacherName": inst.TeacherName,
		},
	})
}

// ListEnrolled lists the caller's enrolled instances, newest enrolment first.
func (svc *Service) ListEnrolled(ctx context.Context, p access.Principal) (list []EnrolledInstance, err error) {
	err = access.Guard(ctx, p, access.Require(access.RoleStudent), func() error {
		list, err = svc.repo.QueryEnrolled(ctx, p.CallerID)
		for i := range list {
			list[i].Instance = list[i].Instance.HideCode()
		}
		return err
	})
	return list, err
}

// Acknowledge clears the new content flag of the caller's enrolment in instanceID.
func (svc *Service) Acknowledge(ctx context.Context, p access.Principal, instanceID string) error {
	return access.Guard(ctx, p, access.Require(access.RoleStudent), func() error {
		return svc.repo.ClearNewContent(ctx, p.CallerID, instanceID)
	})
}
