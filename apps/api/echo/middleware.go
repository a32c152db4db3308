package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sjsfi/lms/core/access"
)

const apiPrefix = "/api/"

// gateMiddleware runs the access gate on every request. Redirects are answered with
// 303 See Other; allowed requests carry the session and, on API routes, the principal.
func gateMiddleware(gate *access.Gate, sessions *sessionReader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			sess := sessions.read(req.Context(), req)

			d := gate.Decide(req.Context(), req.URL.Path, sess)
			if d.Redirects() {
				return ctx.Redirect(http.StatusSeeOther, d.Location)
			}
			if !sess.Authenticated() {
				return next(ctx)
			}

			ctx.Set(contextSessionKey, sess)
			role := d.Role
			if !role.Valid() && strings.HasPrefix(req.URL.Path, apiPrefix) {
				role, _ = gate.ResolveRole(req.Context(), sess)
			}
			ctx.Set(contextPrincipalKey, access.Principal{CallerID: sess.CallerID, Role: role})
			return next(ctx)
		}
	}
}

// roleMiddleware lets through the principals holding one of roles.
func roleMiddleware(roles ...access.Role) echo.MiddlewareFunc {
	pol := access.Require(roles...)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if err := access.Authorize(ctx.Request().Context(), getContextPrincipal(ctx), pol); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}
