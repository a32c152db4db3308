package access

import (
	"context"
	"fmt"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/metrics"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrUnauthenticated     = core.NewCodedError(core.CodeUnauthenticated, "user not authenticated")
	ErrNoRole              = core.NewCodedError(core.CodeNoRole, "no role assigned")
	ErrForbidden           = core.NewCodedError(core.CodeForbidden, "permission denied")
	ErrUpstreamUnavailable = core.NewCodedError(core.CodeUpstreamUnavailable, "role service unavailable")
)

// Outcome is what the Gate tells the transport to do with a request.
type Outcome int

const (
	Allow Outcome = iota
	RedirectSignIn
	RedirectUnauthorized
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectSignIn:
		return "redirect_sign_in"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	case RedirectHome:
		return "redirect_home"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Decision struct {
	Outcome  Outcome
	Location string // redirect target, empty on Allow
	Role     Role   // resolved role, RoleNone when not resolved
	Reason   core.ErrorCode
}

func (d Decision) Redirects() bool { return d.Outcome != Allow }

// Session is the authentication context of a request, as read from the identity provider's token.
type Session struct {
	CallerID     string
	Email        string
	Role         Role      // role claim, may be absent
	RoleIssuedAt time.Time // when the role claim was minted
}

func (s *Session) Authenticated() bool {
	return s != nil && s.CallerID != ""
}

// RoleResolver looks up a caller's role in the external HR system.
// Implementations must return an error wrapping ErrUpstreamUnavailable when the service cannot answer.
type RoleResolver interface {
	ResolveRole(ctx context.Context, email string) (Role, error)
}

// Gate decides, for every request, whether to let it through or where to redirect it.
// It keeps no state between requests.
type Gate struct {
	routes   RouteTable
	resolver RoleResolver
	timeout  time.Duration
	claimTTL time.Duration
	logger   core.Logger
}

// NewGate returns a Gate. Role lookups are cut off after timeout; role claims older than claimTTL
// are looked up again (claimTTL <= 0 trusts claims for the session's lifetime).
func NewGate(routes RouteTable, resolver RoleResolver, timeout, claimTTL time.Duration, logger core.Logger) (*Gate, error) {
	err := vala.BeginValidation().Validate(
		core.IsNotNil(resolver, "resolver"),
		core.IsNotNil(logger, "logger"),
		vala.GreaterThan(int(timeout), 0, "timeout"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "creating access gate")
	}
	return &Gate{
		routes:   routes,
		resolver: resolver,
		timeout:  timeout,
		claimTTL: claimTTL,
		logger:   logger,
	}, nil
}

func (g *Gate) Routes() RouteTable { return g.routes }

// Decide never fails: every problem resolves to a redirect.
func (g *Gate) Decide(ctx context.Context, path string, sess *Session) Decision {
	d := g.decide(ctx, path, sess)
	metrics.GateDecisions.WithLabelValues(d.Outcome.String()).Inc()
	return d
}

func (g *Gate) decide(ctx context.Context, path string, sess *Session) Decision {
	public := g.routes.IsPublic(path)
	if !public && !sess.Authenticated() {
		return Decision{Outcome: RedirectSignIn, Location: g.routes.SignIn, Reason: core.CodeUnauthenticated}
	}
	if !sess.Authenticated() {
		return Decision{Outcome: Allow}
	}

	prefix, scoped := g.routes.ScopedPrefix(path)
	login := g.routes.IsLoginPage(path)
	if !scoped && !login {
		return Decision{Outcome: Allow}
	}

	role, reason := g.ResolveRole(ctx, sess)
	if scoped {
		if role == RoleNone {
			return Decision{Outcome: RedirectUnauthorized, Location: g.routes.Unauthorized, Reason: reason}
		}
		if !g.routes.Allows(role, prefix) {
			return Decision{Outcome: RedirectUnauthorized, Location: g.routes.Unauthorized, Role: role, Reason: core.CodeForbidden}
		}
		return Decision{Outcome: Allow, Role: role}
	}

	// authenticated caller on a login page
	if role != RoleNone {
		return Decision{Outcome: RedirectHome, Location: g.routes.Home(role), Role: role}
	}
	return Decision{Outcome: Allow, Reason: reason}
}

// ResolveRole returns the caller's role: the session claim when present and fresh, the HR system's
// answer otherwise. A failed or timed out lookup resolves to RoleNone with CodeUpstreamUnavailable.
func (g *Gate) ResolveRole(ctx context.Context, sess *Session) (Role, core.ErrorCode) {
	if !sess.Authenticated() {
		return RoleNone, core.CodeUnauthenticated
	}
	if sess.Role.Valid() && g.claimFresh(sess) {
		return sess.Role, ""
	}
	if sess.Email == "" {
		return RoleNone, core.CodeNoRole
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	role, err := g.resolver.ResolveRole(ctx, sess.Email)
	if err != nil {
		g.logger.Warn(fmt.Sprintf("resolving role of %s: %v", sess.CallerID, err), err, Principal{CallerID: sess.CallerID})
		return RoleNone, core.CodeUpstreamUnavailable
	}
	if !role.Valid() {
		return RoleNone, core.CodeNoRole
	}
	return role, ""
}

func (g *Gate) claimFresh(sess *Session) bool {
	if g.claimTTL <= 0 {
		return true
	}
	if sess.RoleIssuedAt.IsZero() {
		return false
	}
	return nowFunc().Sub(sess.RoleIssuedAt) <= g.claimTTL
}
