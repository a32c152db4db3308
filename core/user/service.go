package user

import (
	"context"
	"fmt"
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
	ErrNotFound             = core.NewCodedError(core.CodeNotFound, "user not found")
	ErrEmailExists          = errors.New("a user with this email already exists")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountDeactivated   = core.NewCodedError(core.CodeAccountInactive, "account deactivated")
	ErrProfileNotFound      = core.NewCodedError(core.CodeNotFound, "student profile not found")
	ErrRoleNotSyncable      = core.NewCodedError(core.CodeForbidden, "only faculty or admin roles can be synced")
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name or User.Email.
		FilterUsers(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		SetUserPassword(ctx context.Context, id string, hash []byte, at time.Time) error
		SetUserRole(ctx context.Context, id string, role access.Role, at time.Time) (User, error)
		SetUserProfile(ctx context.Context, id string, profile Profile, at time.Time) (User, error)
		SetLastLogin(ctx context.Context, id string, at time.Time) error
	}

	// ProfileFetcher reads a student's record from the student information system.
	ProfileFetcher interface {
		FetchProfile(ctx context.Context, email string) (Profile, error)
	}

	Option func(*Service)

	Service struct {
		repo     Repository
		roles    access.RoleResolver
		profiles ProfileFetcher
		validate *validator.Validate
		logger   core.Logger

		// password reset; nil mailSvc means disabled
		resetTokens resetTokens
		mailSvc     core.EmailService
	}
)

func NewService(
	repo Repository,
	roles access.RoleResolver,
	profiles ProfileFetcher,
	validate *validator.Validate,
	logger core.Logger,
	opts ...Option,
) (*Service, error) {
	err := vala.BeginValidation().Validate(
		core.IsNotNil(repo, "repo"),
		core.IsNotNil(roles, "roles"),
		core.IsNotNil(profiles, "profiles"),
		core.IsNotNil(validate, "validate"),
		core.IsNotNil(logger, "logger"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "creating user service")
	}
	svc := &Service{repo: repo, roles: roles, profiles: profiles, validate: validate, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(svc.validate); err != nil {
		return User{}, err
	}
	if _, err := svc.repo.GetUserByEmail(ctx, nu.Email); err == nil {
		return User{}, core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	} else if errors.Cause(err) != ErrNotFound {
		return User{}, errors.Wrap(err, "checking email uniqueness")
	}

	now := nowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Email:     nu.Email,
		IsActive:  true,
		Role:      access.ParseRole(nu.Role),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if usr.Role != access.RoleNone {
		usr.RoleUpdatedAt = now
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	return usr, errors.Wrap(err, "creating user")
}

// Authenticate checks the credentials and records the login.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrAuthenticationFailed
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if len(usr.PasswordHash) == 0 || usr.CheckPassword(pwd) != nil {
		return User{}, ErrAuthenticationFailed
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	usr.LastLogin = nowFunc().UTC()
	if err = svc.repo.SetLastLogin(ctx, usr.ID, usr.LastLogin); err != nil {
		return User{}, errors.Wrap(err, "setting last login")
	}
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error) {
	filter.Clean()
	return svc.repo.FilterUsers(ctx, filter, orderings...)
}

// GetProfile returns the stored profile of a user, as is. Callers decide on completeness.
func (svc *Service) GetProfile(ctx context.Context, id string) (Profile, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return usr.Profile, nil
}

// SetPassword replaces the password of user id, provided pwd passes the password policy.
func (svc *Service) SetPassword(ctx context.Context, id, pwd string) error {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if tag := checkPassword(pwd, usr.Name, usr.Email); tag != "" {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: pwdTexts[tag]})
	}
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	return svc.repo.SetUserPassword(ctx, id, usr.PasswordHash, nowFunc().UTC())
}

// SetRole stores role in the user metadata, as an administrator would.
func (svc *Service) SetRole(ctx context.Context, id string, role access.Role) (User, error) {
	if !role.Valid() {
		return User{}, core.NewValidationError(nil, core.FieldError{Field: "role", Error: roleText})
	}
	return svc.repo.SetUserRole(ctx, id, role, nowFunc().UTC())
}

// SyncRole looks the user's role up in the HR system and stores it.
// Only staff roles are synced this way; students go through SyncStudentProfile.
func (svc *Service) SyncRole(ctx context.Context, id string) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}

	role, err := svc.roles.ResolveRole(ctx, usr.Email)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("syncing role of %s: %v", usr.ID, err), err, usr)
		return User{}, access.ErrUpstreamUnavailable
	}
	if role == access.RoleNone {
		return User{}, access.ErrNoRole
	}
	if !role.In(access.RoleFaculty, access.RoleAdmin) {
		return User{}, ErrRoleNotSyncable
	}
	return svc.repo.SetUserRole(ctx, usr.ID, role, nowFunc().UTC())
}

// SyncStudentProfile fetches the user's record from the student information system, checks it
// against the canonical Profile shape and stores it together with the student role.
func (svc *Service) SyncStudentProfile(ctx context.Context, id string) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}

	profile, err := svc.profiles.FetchProfile(ctx, usr.Email)
	if err != nil {
		if errors.Cause(err) == ErrProfileNotFound {
			return User{}, ErrProfileNotFound
		}
		svc.logger.Warn(fmt.Sprintf("fetching profile of %s: %v", usr.ID, err), err, usr)
		return User{}, access.ErrUpstreamUnavailable
	}
	profile.Clean()
	if err = svc.validate.Struct(profile); err != nil {
		return User{}, err
	}

	now := nowFunc().UTC()
	if _, err = svc.repo.SetUserProfile(ctx, usr.ID, profile, now); err != nil {
		return User{}, errors.Wrap(err, "storing profile")
	}
	return svc.repo.SetUserRole(ctx, usr.ID, access.RoleStudent, now)
}
