package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
)

type pages struct {
	users      *user.Service
	subjects   *subject.Service
	enrolments *enrolment.Service
}

func registerPages(e *echo.Echo, opts *Options) {
	p := pages{
		users:      opts.UserSvc,
		subjects:   opts.SubjectSvc,
		enrolments: opts.EnrolmentSvc,
	}

	e.GET(access.PathRoot, p.home)
	e.GET(access.PathUnauthorized, p.unauthorized)

	// the gate only lets the matching role in
	e.GET("/admin/dashboard", p.adminDashboard)
	e.GET("/faculty/dashboard", p.facultyDashboard)
	e.GET("/student/dashboard", p.studentDashboard)
}

type (
	HomePage struct {
		SignIn string `json:"sign_in"`
	}

	UnauthorizedPage struct {
		Error   string `json:"error"`
		SignOut string `json:"sign_out"`
	}

	AdminDashboard struct {
		User     user.User         `json:"user"`
		Subjects []subject.Subject `json:"subjects"`
		Users    map[string]int    `json:"users"` // count per role
	}

	FacultyDashboard struct {
		User      user.User                `json:"user"`
		Instances []subject.InstanceDetail `json:"instances"`
	}

	StudentDashboard struct {
		User      user.User                    `json:"user"`
		Enrolled  []enrolment.EnrolledInstance `json:"enrolled"`
		Available []subject.InstanceDetail     `json:"available"`
	}
)

// home is the sign-in entry; signed in callers holding a role never reach it.
func (p *pages) home(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, HomePage{SignIn: "/auth/sign-in"})
}

func (p *pages) unauthorized(ctx echo.Context) error {
	return ctx.JSON(http.StatusForbidden, UnauthorizedPage{
		Error:   "You are not allowed to access this page.",
		SignOut: "/auth/sign-out",
	})
}

func (p *pages) contextUser(ctx echo.Context) (user.User, error) {
	sess, err := getContextSession(ctx)
	if err != nil {
		return user.User{}, err
	}
	usr, err := p.users.GetByID(ctx.Request().Context(), sess.CallerID)
	return usr, errors.Wrap(err, "finding context user")
}

func (p *pages) adminDashboard(ctx echo.Context) error {
	usr, err := p.contextUser(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()

	subjs, err := p.subjects.ListSubjects(rctx, getContextPrincipal(ctx))
	if err != nil {
		return errors.Wrap(err, "listing subjects")
	}
	users, err := p.users.Filter(rctx, user.QueryFilter{})
	if err != nil {
		return errors.Wrap(err, "listing users")
	}
	counts := make(map[string]int, len(access.Roles)+1)
	for _, u := range users {
		counts[u.Role.String()]++
	}
	return ctx.JSON(http.StatusOK, AdminDashboard{User: usr, Subjects: subjs, Users: counts})
}

func (p *pages) facultyDashboard(ctx echo.Context) error {
	usr, err := p.contextUser(ctx)
	if err != nil {
		return err
	}
	insts, err := p.subjects.ListOwnInstances(ctx.Request().Context(), getContextPrincipal(ctx))
	if err != nil {
		return errors.Wrap(err, "listing own instances")
	}
	return ctx.JSON(http.StatusOK, FacultyDashboard{User: usr, Instances: insts})
}

func (p *pages) studentDashboard(ctx echo.Context) error {
	usr, err := p.contextUser(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	principal := getContextPrincipal(ctx)

	enrolled, err := p.enrolments.ListEnrolled(rctx, principal)
	if err != nil {
		return errors.Wrap(err, "listing enrolled instances")
	}
	available, err := p.subjects.ListAvailable(rctx, principal)
	if err != nil {
		return errors.Wrap(err, "listing available instances")
	}
	return ctx.JSON(http.StatusOK, StudentDashboard{User: usr, Enrolled: enrolled, Available: available})
}
