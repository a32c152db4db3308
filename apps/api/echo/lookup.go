package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/services/lookup"
)

type (
	// RoleLookup is implemented by lookup.HRMSClient.
	RoleLookup interface {
		RawRole(ctx context.Context, email string) (string, error)
	}

	// StudentLookup is implemented by lookup.SISClient.
	StudentLookup interface {
		FetchStudent(ctx context.Context, email string) (lookup.StudentRecord, error)
	}
)

type lookupApi struct {
	roles    RoleLookup
	students StudentLookup
	routes   access.RouteTable
	validate *validator.Validate
}

// registerLookupAPI registers the public proxies to the HR and student information systems.
func registerLookupAPI(g *echo.Group, opts *Options) {
	api := lookupApi{
		roles:    opts.Roles,
		students: opts.Students,
		routes:   opts.Gate.Routes(),
		validate: opts.Validate,
	}

	g.GET("/fetch-roles", api.fetchRole)
	g.POST("/fetch-roles", api.fetchRole)
	g.GET("/fetch-students", api.fetchStudent)
	g.POST("/fetch-students", api.fetchStudent)
}

type (
	EmailRequest struct {
		Email string `json:"email" query:"email" validate:"required,email"`
	}

	RoleResponse struct {
		Email string `json:"email"`
		Role  string `json:"role"`
		Home  string `json:"home,omitempty"`
	}
)

func (er *EmailRequest) Validate(validate *validator.Validate) error {
	er.Email = core.CleanString(er.Email, true /* lower */)
	return validate.Struct(er)
}

func (api *lookupApi) bindEmail(ctx echo.Context) (string, error) {
	var data EmailRequest
	if err := ctx.Bind(&data); err != nil {
		return "", errors.Wrap(err, "binding to EmailRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return "", err
	}
	return data.Email, nil
}

func (api *lookupApi) fetchRole(ctx echo.Context) error {
	email, err := api.bindEmail(ctx)
	if err != nil {
		return err
	}
	role, err := api.roles.RawRole(ctx.Request().Context(), email)
	if err != nil {
		return errors.Wrap(err, "fetching role")
	}

	resp := RoleResponse{Email: email, Role: role}
	if r := access.ParseRole(role); r.Valid() {
		resp.Home = api.routes.Home(r)
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *lookupApi) fetchStudent(ctx echo.Context) error {
	email, err := api.bindEmail(ctx)
	if err != nil {
		return err
	}
	rec, err := api.students.FetchStudent(ctx.Request().Context(), email)
	if err != nil {
		return errors.Wrap(err, "fetching student")
	}
	return ctx.JSON(http.StatusOK, rec)
}
