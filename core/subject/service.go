package subject

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrSubjectNotFound     = core.NewCodedError(core.CodeNotFound, "subject not found")
	ErrInstanceNotFound    = core.NewCodedError(core.CodeNotFound, "subject instance not found")
	ErrRequirementNotFound = core.NewCodedError(core.CodeNotFound, "requirement not found")
	ErrSubmissionNotFound  = core.NewCodedError(core.CodeNotFound, "submission not found")
	ErrCodeExists          = errors.New("a subject with this code already exists")
	ErrAlreadyGraded       = errors.New("submission has already been graded")
	ErrScoreAboveBase      = errors.New("score cannot exceed the requirement's score base")
)

type (
	Repository interface {
		CreateSubject(ctx context.Context, subj Subject) (Subject, error) // ErrCodeExists on duplicate code
		QuerySubjects(ctx context.Context) ([]Subject, error)
		GetSubject(ctx context.Context, id string) (Subject, error)
		DeleteSubject(ctx context.Context, id string) error

		CreateInstance(ctx context.Context, inst Instance) (Instance, error)
		GetInstance(ctx context.Context, id string) (Instance, error)
		GetInstanceDetail(ctx context.Context, id string) (InstanceDetail, error)
		QueryInstancesByCreator(ctx context.Context, creatorID string) ([]InstanceDetail, error)
		// QueryAvailableInstances returns the instances open for enrolment that userID is not enrolled in.
		QueryAvailableInstances(ctx context.Context, userID string) ([]InstanceDetail, error)
		UpdateInstance(ctx context.Context, inst Instance) (Instance, error)

		// CreateRequirement numbers the requirement after the existing ones of the same type.
		CreateRequirement(ctx context.Context, req Requirement) (Requirement, error)
		GetRequirement(ctx context.Context, id string) (Requirement, error)
		// QueryRequirements orders by type, then number.
		QueryRequirements(ctx context.Context, instanceID string) ([]Requirement, error)
		UpdateRequirement(ctx context.Context, req Requirement) (Requirement, error)
		DeleteRequirement(ctx context.Context, id string) error

		// UpsertSubmission replaces an ungraded submission; ErrAlreadyGraded otherwise.
		UpsertSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, requirementID, userID string) (Submission, error)
		GetSubmissionByID(ctx context.Context, id string) (Submission, error)
		QuerySubmissions(ctx context.Context, requirementID string) ([]Submission, error)
		GradeSubmission(ctx context.Context, id string, score int, feedback string, at time.Time) (Submission, error)
	}

	// Enrolments is what the subject service needs to know about enrolments.
	Enrolments interface {
		EnrolmentExists(ctx context.Context, userID, instanceID string) (bool, error)
		MarkNewContent(ctx context.Context, instanceID string) error
		QueryEnrolledAddresses(ctx context.Context, instanceID string) ([]mail.Address, error)
	}

	Service struct {
		repo       Repository
		enrolments Enrolments
		mailSvc    core.EmailService
		validate   *validator.Validate
		logger     core.Logger
	}
)

func NewService(
	repo Repository,
	enrolments Enrolments,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
) (*Service, error) {
	err := vala.BeginValidation().Validate(
		core.IsNotNil(repo, "repo"),
		core.IsNotNil(enrolments, "enrolments"),
		core.IsNotNil(mailSvc, "mailSvc"),
		core.IsNotNil(validate, "validate"),
		core.IsNotNil(logger, "logger"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "creating subject service")
	}
	return &Service{repo: repo, enrolments: enrolments, mailSvc: mailSvc, validate: validate, logger: logger}, nil
}

var (
	staff     = access.Require(access.RoleFaculty, access.RoleAdmin)
	anyone    = access.Require()
	adminOnly = access.Require(access.RoleAdmin)
	students  = access.Require(access.RoleStudent)
)

// ownsInstance is the ownership predicate of every faculty operation on an instance.
func (svc *Service) ownsInstance(id string) access.OwnershipFunc {
	return func(ctx context.Context, p access.Principal) (bool, error) {
		inst, err := svc.repo.GetInstance(ctx, id)
		if err != nil {
			return false, err
		}
		return inst.CreatedByID == p.CallerID, nil
	}
}

// enrolledOrOwner lets the instance owner and the students enrolled in it through.
func (svc *Service) enrolledOrOwner(id string) access.OwnershipFunc {
	return func(ctx context.Context, p access.Principal) (bool, error) {
		if p.Role == access.RoleStudent {
			if _, err := svc.repo.GetInstance(ctx, id); err != nil {
				return false, err
			}
			return svc.enrolments.EnrolmentExists(ctx, p.CallerID, id)
		}
		return svc.ownsInstance(id)(ctx, p)
	}
}

// requirementOwner applies owns to the instance of requirement id. A requirement that does not
// exist is owned by nobody: non-admins get ErrForbidden for it, as for someone else's.
func (svc *Service) requirementOwner(id string, owns func(instanceID string) access.OwnershipFunc) access.OwnershipFunc {
	return func(ctx context.Context, p access.Principal) (bool, error) {
		req, err := svc.repo.GetRequirement(ctx, id)
		if err != nil {
			if errors.Cause(err) == ErrRequirementNotFound {
				return false, nil
			}
			return false, err
		}
		return owns(req.InstanceID)(ctx, p)
	}
}

// submissionOwner lets the owner of the instance a submission was made in through.
func (svc *Service) submissionOwner(id string) access.OwnershipFunc {
	return func(ctx context.Context, p access.Principal) (bool, error) {
		sub, err := svc.repo.GetSubmissionByID(ctx, id)
		if err != nil {
			if errors.Cause(err) == ErrSubmissionNotFound {
				return false, nil
			}
			return false, err
		}
		return svc.requirementOwner(sub.RequirementID, svc.ownsInstance)(ctx, p)
	}
}

// Subjects

func (svc *Service) CreateSubject(ctx context.Context, p access.Principal, ns NewSubject) (subj Subject, err error) {
	err = access.Guard(ctx, p, staff, func() error {
		if err := ns.Validate(svc.validate); err != nil {
			return err
		}
		subj, err = svc.repo.CreateSubject(ctx, Subject{Name: ns.Name, Code: ns.Code, CreatedAt: nowFunc().UTC()})
		if errors.Cause(err) == ErrCodeExists {
			return core.NewValidationError(err, core.FieldError{Field: "code", Error: err.Error()})
		}
		return errors.Wrap(err, "creating subject")
	})
	return subj, err
}

func (svc *Service) ListSubjects(ctx context.Context, p access.Principal) (subjs []Subject, err error) {
	err = access.Guard(ctx, p, anyone, func() error {
		subjs, err = svc.repo.QuerySubjects(ctx)
		return err
	})
	return subjs, err
}

func (svc *Service) DeleteSubject(ctx context.Context, p access.Principal, id string) error {
	return access.Guard(ctx, p, adminOnly, func() error {
		if _, err := svc.repo.GetSubject(ctx, id); err != nil {
			return err
		}
		return svc.repo.DeleteSubject(ctx, id)
	})
}

// Instances

func (svc *Service) CreateInstance(ctx context.Context, p access.Principal, ni NewInstance) (inst Instance, err error) {
	err = access.Guard(ctx, p, staff, func() error {
		if err := ni.Validate(svc.validate); err != nil {
			return err
		}
		if _, err := svc.repo.GetSubject(ctx, ni.SubjectID); err != nil {
			if errors.Cause(err) == ErrSubjectNotFound {
				return core.NewValidationError(err, core.FieldError{Field: "subject_id", Error: err.Error()})
			}
			return err
		}

		now := nowFunc().UTC()
		inst, err = svc.repo.CreateInstance(ctx, Instance{
			SubjectID:      ni.SubjectID,
			TeacherName:    ni.TeacherName,
			Grade:          ni.Grade,
			Section:        ni.Section,
			EnrollmentOpen: true,
			EnrolmentCode:  ni.EnrolmentCode,
			Icon:           ni.Icon,
			CreatedByID:    p.CallerID,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return errors.Wrap(err, "creating subject instance")
	})
	return inst, err
}

// ListOwnInstances lists the instances created by the caller.
func (svc *Service) ListOwnInstances(ctx context.Context, p access.Principal) (insts []InstanceDetail, err error) {
	err = access.Guard(ctx, p, staff, func() error {
		insts, err = svc.repo.QueryInstancesByCreator(ctx, p.CallerID)
		return err
	})
	return insts, err
}

func (svc *Service) GetOwnInstance(ctx context.Context, p access.Principal, id string) (inst InstanceDetail, err error) {
	err = access.Guard(ctx, p, staff.Owned(svc.ownsInstance(id)), func() error {
		inst, err = svc.repo.GetInstanceDetail(ctx, id)
		return err
	})
	return inst, err
}

func (svc *Service) UpdateInstance(ctx context.Context, p access.Principal, id string, ui UpdateInstance) (inst Instance, err error) {
	err = access.Guard(ctx, p, staff.Owned(svc.ownsInstance(id)), func() error {
		if err := ui.Validate(svc.validate); err != nil {
			return err
		}
		if inst, err = svc.repo.GetInstance(ctx, id); err != nil {
			return err
		}
		ui.apply(&inst)
		inst.UpdatedAt = nowFunc().UTC()
		inst, err = svc.repo.UpdateInstance(ctx, inst)
		return errors.Wrap(err, "updating subject instance")
	})
	return inst, err
}

// ListAvailable lists the instances a student can still enrol in. Enrolment codes are hidden.
func (svc *Service) ListAvailable(ctx context.Context, p access.Principal) (insts []InstanceDetail, err error) {
	err = access.Guard(ctx, p, students, func() error {
		insts, err = svc.repo.QueryAvailableInstances(ctx, p.CallerID)
		for i := range insts {
			insts[i] = insts[i].HideCode()
		}
		return err
	})
	return insts, err
}

// Requirements

// CreateRequirement posts a requirement on an instance, flags the enrolments as having new
// content and notifies the enrolled students.
func (svc *Service) CreateRequirement(ctx context.Context, p access.Principal, instanceID string, nr NewRequirement) (req Requirement, err error) {
	err = access.Guard(ctx, p, staff.Owned(svc.ownsInstance(instanceID)), func() error {
		if err := nr.Validate(svc.validate); err != nil {
			return err
		}

		now := nowFunc().UTC()
		req, err = svc.repo.CreateRequirement(ctx, Requirement{
			InstanceID:  instanceID,
			Title:       nr.Title,
			Content:     nr.Content,
			ScoreBase:   nr.ScoreBase,
			Deadline:    nr.Deadline,
			Type:        nr.Type,
			CreatedByID: p.CallerID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return errors.Wrap(err, "creating requirement")
		}
		if err = svc.enrolments.MarkNewContent(ctx, instanceID); err != nil {
			return errors.Wrap(err, "marking new content")
		}
		svc.notifyNewRequirement(ctx, req)
		return nil
	})
	return req, err
}

func (svc *Service) notifyNewRequirement(ctx context.Context, req Requirement) {
	addrs, err := svc.enrolments.QueryEnrolledAddresses(ctx, req.InstanceID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("querying enrolled addresses of %s: %v", req.InstanceID, err), err)
		return
	}
	if len(addrs) == 0 {
		return
	}

	var deadline string
	if req.Deadline != nil {
		deadline = req.Deadline.Format("Jan 2, 2006 15:04 MST")
	}
	invite := deadlineEvent(req, nowFunc())
	msgs := make([]*core.EmailMessage, 0, len(addrs))
	for _, addr := range addrs {
		msg := &core.EmailMessage{
			To:           []mail.Address{addr},
			Subject:      fmt.Sprintf("New %s: %s", req.Type, req.Title),
			TemplateName: "new_requirement",
			TemplateData: map[string]interface{}{
				"Type":       req.Type,
				"Title":      req.Title,
				"Deadline":   deadline,
				"InstanceID": req.InstanceID,
			},
		}
		if invite != "" {
			if err = msg.Attach(strings.NewReader(invite), "deadline.ics", "text/calendar; charset=utf-8; method=PUBLISH"); err != nil {
				svc.logger.Error(fmt.Sprintf("attaching deadline of %s: %v", req.ID, err), err)
			}
		}
		msgs = append(msgs, msg)
	}
	svc.mailSvc.SendMessages(msgs...)
}

func (svc *Service) ListRequirements(ctx context.Context, p access.Principal, instanceID string) (reqs []Requirement, err error) {
	err = access.Guard(ctx, p, anyone.Owned(svc.enrolledOrOwner(instanceID)), func() error {
		reqs, err = svc.repo.QueryRequirements(ctx, instanceID)
		return err
	})
	return reqs, err
}

func (svc *Service) UpdateRequirement(ctx context.Context, p access.Principal, id string, ur UpdateRequirement) (req Requirement, err error) {
	err = access.Guard(ctx, p, staff.Owned(svc.requirementOwner(id, svc.ownsInstance)), func() error {
		if err := ur.Validate(svc.validate); err != nil {
			return err
		}
		if req, err = svc.repo.GetRequirement(ctx, id); err != nil {
			return err
		}
		ur.apply(&req)
		req.UpdatedAt = nowFunc().UTC()
		req, err = svc.repo.UpdateRequirement(ctx, req)
		return errors.Wrap(err, "updating requirement")
	})
	return req, err
}

func (svc *Service) DeleteRequirement(ctx context.Context, p access.Principal, id string) error {
	return access.Guard(ctx, p, staff.Owned(svc.requirementOwner(id, svc.ownsInstance)), func() error {
		return svc.repo.DeleteRequirement(ctx, id)
	})
}

// GetRequirementDetail returns a requirement with the caller's submission, if any.
func (svc *Service) GetRequirementDetail(ctx context.Context, p access.Principal, id string) (detail RequirementDetail, err error) {
	err = access.Guard(ctx, p, anyone.Owned(svc.requirementOwner(id, svc.enrolledOrOwner)), func() error {
		if detail.Requirement, err = svc.repo.GetRequirement(ctx, id); err != nil {
			return err
		}
		sub, err := svc.repo.GetSubmission(ctx, id, p.CallerID)
		switch errors.Cause(err) {
		case nil:
			detail.Submission = &sub
		case ErrSubmissionNotFound:
		default:
			return err
		}
		detail.Status = detail.Submission.Status()
		return nil
	})
	return detail, err
}

// Submissions

func (svc *Service) Submit(ctx context.Context, p access.Principal, requirementID string, ns NewSubmission) (sub Submission, err error) {
	err = access.Guard(ctx, p, students.Owned(svc.requirementOwner(requirementID, svc.enrolledOrOwner)), func() error {
		if err := ns.Validate(svc.validate); err != nil {
			return err
		}
		now := nowFunc().UTC()
		sub, err = svc.repo.UpsertSubmission(ctx, Submission{
			RequirementID: requirementID,
			UserID:        p.CallerID,
			Title:         ns.Title,
			Content:       ns.Content,
			FilePath:      ns.FilePath,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if errors.Cause(err) == ErrAlreadyGraded {
			return core.NewValidationError(err)
		}
		return errors.Wrap(err, "submitting")
	})
	return sub, err
}

func (svc *Service) ListSubmissions(ctx context.Context, p access.Principal, requirementID string) (subs []Submission, err error) {
	err = access.Guard(ctx, p, staff.Owned(svc.requirementOwner(requirementID, svc.ownsInstance)), func() error {
		if _, err = svc.repo.GetRequirement(ctx, requirementID); err != nil {
			return err
		}
		subs, err = svc.repo.QuerySubmissions(ctx, requirementID)
		return err
	})
	return subs, err
}

func (svc *Service) GradeSubmission(ctx context.Context, p access.Principal, submissionID string, g Grade) (sub Submission, err error) {
	err = access.Guard(ctx, p, staff.Owned(svc.submissionOwner(submissionID)), func() error {
		if sub, err = svc.repo.GetSubmissionByID(ctx, submissionID); err != nil {
			return err
		}
		req, err := svc.repo.GetRequirement(ctx, sub.RequirementID)
		if err != nil {
			return err
		}
		if err = svc.validate.Struct(g); err != nil {
			return err
		}
		if g.Score > req.ScoreBase {
			return core.NewValidationError(ErrScoreAboveBase, core.FieldError{Field: "score", Error: ErrScoreAboveBase.Error()})
		}
		sub, err = svc.repo.GradeSubmission(ctx, submissionID, g.Score, core.CleanString(g.Feedback), nowFunc().UTC())
		return errors.Wrap(err, "grading submission")
	})
	return sub, err
}
