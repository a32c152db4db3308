package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
)

type userApi struct {
	svc      *user.Service
	tokens   *TokenIssuer
	routes   access.RouteTable
	validate *validator.Validate
	secure   bool // session cookies over HTTPS only
}

func newUserApi(opts *Options) *userApi {
	return &userApi{
		svc:      opts.UserSvc,
		tokens:   opts.Tokens,
		routes:   opts.Gate.Routes(),
		validate: opts.Validate,
		secure:   !(opts.Debug || opts.TestMode),
	}
}

// registerAuthAPI registers the public sign-in endpoints.
func registerAuthAPI(g *echo.Group, opts *Options) {
	api := newUserApi(opts)

	g.POST("/sign-in", api.signIn)
	g.GET("/sign-out", api.signOut)
	g.POST("/sign-out", api.signOut)
	g.POST("/token-refresh", api.refreshToken)
	g.POST("/password-reset", api.requestPasswordReset)
	g.POST("/password-reset/confirm", api.resetPassword)
}

func registerUserAPI(g *echo.Group, opts *Options) {
	api := newUserApi(opts)

	mg := g.Group("/me")
	mg.GET("", api.me)
	mg.POST("/role/sync", api.syncRole)
	mg.POST("/student/sync", api.syncStudent)

	ug := g.Group("/users", roleMiddleware(access.RoleAdmin))
	ug.GET("", api.query)
	ug.POST("", api.create)
	ug.PUT("/:id/role", api.setRole)
}

// Handlers

func (api *userApi) signIn(ctx echo.Context) error {
	var data SignInRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SignInRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.Authenticate(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		if errors.Cause(err) == user.ErrAccountDeactivated {
			return errAccountDeactivated
		}
		return errors.Wrap(err, "authenticating")
	}
	token, err := api.tokens.GenerateToken(api.tokens.UserClaims(usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	ctx.SetCookie(api.tokens.Cookie(token, api.secure))
	return ctx.JSON(http.StatusOK, SignInResponse{Token: token, Home: api.home(usr)})
}

func (api *userApi) signOut(ctx echo.Context) error {
	ctx.SetCookie(api.tokens.Cookie("", api.secure))
	return ctx.Redirect(http.StatusSeeOther, api.routes.SignIn)
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	claims, err := api.tokens.ParseToken(requestToken(ctx.Request()))
	if err != nil {
		return errUnauthorized
	}
	usr, err := api.svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return errUnauthorized
		}
		return errors.Wrap(err, "finding user by ID")
	}

	token, err := api.tokens.Refresh(*claims, usr)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	ctx.SetCookie(api.tokens.Cookie(token, api.secure))
	return ctx.JSON(http.StatusOK, SignInResponse{Token: token, Home: api.home(usr)})
}

// requestPasswordReset always succeeds unless the service is down, whether or not the email is known.
func (api *userApi) requestPasswordReset(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); err != nil {
		if errors.Cause(err) == user.ErrPasswordResetDisabled {
			return errHttpNotFound
		}
		return errors.Wrap(err, "requesting password reset")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "if the account exists, a reset link is on its way"})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetConfirmRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetConfirmRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	err := api.svc.ResetPassword(ctx.Request().Context(), data.UID, data.Token, data.Password)
	if err != nil {
		switch errors.Cause(err) {
		case user.ErrPasswordResetDisabled:
			return errHttpNotFound
		case user.ErrAccountDeactivated:
			return errAccountDeactivated
		}
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "password updated"})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

// syncRole stores the caller's staff role as held by the HR system.
func (api *userApi) syncRole(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	usr, err := api.svc.SyncRole(ctx.Request().Context(), sess.CallerID)
	if err != nil {
		return errors.Wrap(err, "syncing role")
	}
	return api.synced(ctx, usr)
}

// syncStudent stores the caller's student profile as held by the student information system.
func (api *userApi) syncStudent(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	usr, err := api.svc.SyncStudentProfile(ctx.Request().Context(), sess.CallerID)
	if err != nil {
		return errors.Wrap(err, "syncing student profile")
	}
	return api.synced(ctx, usr)
}

// synced re-issues the session so that it carries the new role.
func (api *userApi) synced(ctx echo.Context, usr user.User) error {
	token, err := api.tokens.GenerateToken(api.tokens.UserClaims(usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	ctx.SetCookie(api.tokens.Cookie(token, api.secure))
	return ctx.JSON(http.StatusOK, SyncResponse{User: usr, Token: token, Home: api.home(usr)})
}

func (api *userApi) query(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := api.svc.Filter(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	usr, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) setRole(ctx echo.Context) error {
	var data SetRoleRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetRoleRequest")
	}
	usr, err := api.svc.SetRole(ctx.Request().Context(), ctx.Param("id"), access.ParseRole(data.Role))
	if err != nil {
		return errors.Wrap(err, "setting role")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) contextUser(ctx echo.Context) (user.User, error) {
	sess, err := getContextSession(ctx)
	if err != nil {
		return user.User{}, err
	}
	usr, err := api.svc.GetByID(ctx.Request().Context(), sess.CallerID)
	return usr, errors.Wrap(err, "finding context user")
}

// home is where usr lands after signing in; users without a role land on the sign-in page.
func (api *userApi) home(usr user.User) string {
	if !usr.Role.Valid() {
		return api.routes.SignIn
	}
	return api.routes.Home(usr.Role)
}

type (
	SignInRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	SignInResponse struct {
		Token string `json:"token"`
		Home  string `json:"home"`
	}

	SyncResponse struct {
		User  user.User `json:"user"`
		Token string    `json:"token"`
		Home  string    `json:"home"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	PasswordResetConfirmRequest struct {
		UID             string `json:"uid" validate:"required"`
		Token           string `json:"token" validate:"required"`
		Password        string `json:"password" validate:"required,pwdminlen,pwdnospace,pwdnotallnum,pwdnocommon"`
		PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	}

	SetRoleRequest struct {
		Role string `json:"role"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (sr *SignInRequest) Validate(validate *validator.Validate) error {
	sr.Email = core.CleanString(sr.Email, true /* lower */)
	return validate.Struct(sr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
