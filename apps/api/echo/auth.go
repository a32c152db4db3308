package echoapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
)

const (
	SessionCookie = "lms_session"
	audience      = "lms"

	contextSessionKey   = "session"
	contextPrincipalKey = "principal"
)

var nowFunc = time.Now // mockable

// Claims represents the authorization claims transmitted via a JWT.
// Role is a copy of the user's role taken at RoleIssuedAt; the gate trusts it for RoleClaimTTL.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	RoleIssuedAt int64  `json:"role_iat,omitempty"`
}

// Session returns the authentication context carried by the claims.
func (c Claims) Session() *access.Session {
	sess := &access.Session{
		CallerID: c.Subject,
		Email:    c.Email,
		Role:     access.ParseRole(c.Role),
	}
	if c.RoleIssuedAt > 0 {
		sess.RoleIssuedAt = time.Unix(c.RoleIssuedAt, 0)
	}
	return sess
}

// TokenIssuer mints and reads the HS256 session tokens.
type TokenIssuer struct {
	issuer        string
	signingKey    []byte
	expiry        time.Duration
	refreshExpiry time.Duration
}

func NewTokenIssuer(conf *core.Config) *TokenIssuer {
	return &TokenIssuer{
		issuer:        conf.AppName,
		signingKey:    []byte(conf.SecretKey),
		expiry:        conf.Server.SessionExpirationDelta,
		refreshExpiry: conf.Server.SessionRefreshExpirationDelta,
	}
}

func (ti *TokenIssuer) UserClaims(usr user.User, origIat ...int64) *Claims {
	now := nowFunc()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ti.issuer,
			Subject:   usr.ID,
			Audience:  audience,
			ExpiresAt: now.Add(ti.expiry).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Name:         usr.Name,
		Email:        usr.Email,
	}
	if usr.Role.Valid() {
		claims.Role = string(usr.Role)
		claims.RoleIssuedAt = nownix
	}
	return claims
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func (ti *TokenIssuer) GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(ti.signingKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (ti *TokenIssuer) ParseToken(raw string) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != middleware.AlgorithmHS256 {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return ti.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || !claims.VerifyAudience(audience, true) {
		return nil, errUnauthorized
	}
	return claims, nil
}

// Refresh re-issues a token for usr, keeping the original issue time of claims.
func (ti *TokenIssuer) Refresh(claims Claims, usr user.User) (string, error) {
	// check if user is still active
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(ti.refreshExpiry)
	if nowFunc().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := ti.GenerateToken(ti.UserClaims(usr, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}

// Cookie returns the session cookie holding token; an empty token expires the cookie.
func (ti *TokenIssuer) Cookie(token string, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		c.MaxAge = -1
	} else {
		c.Expires = nowFunc().Add(ti.expiry)
	}
	return c
}

// requestToken reads the bearer token, falling back to the session cookie.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get(echo.HeaderAuthorization); auth != "" {
		if scheme := "Bearer "; len(auth) > len(scheme) && strings.EqualFold(auth[:len(scheme)], scheme) {
			return auth[len(scheme):]
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

type userFinder interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

// sessionReader turns request tokens into sessions. A role claim older than claimTTL is
// refreshed from the user's stored role before the gate sees it.
type sessionReader struct {
	tokens   *TokenIssuer
	users    userFinder
	claimTTL time.Duration
	logger   core.Logger
}

// read returns nil when the request carries no valid session.
func (sr *sessionReader) read(ctx context.Context, r *http.Request) *access.Session {
	raw := requestToken(r)
	if raw == "" {
		return nil
	}
	claims, err := sr.tokens.ParseToken(raw)
	if err != nil {
		return nil
	}
	sess := claims.Session()
	if sess.Role.Valid() && !sr.stale(sess) {
		return sess
	}

	usr, err := sr.users.GetByID(ctx, sess.CallerID)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			sr.logger.Error("reading session user", errors.Wrap(err, "reading session user"))
		}
		return nil
	}
	if !usr.IsActive {
		return nil
	}
	sess.Email = usr.Email
	sess.Role = usr.Role
	sess.RoleIssuedAt = time.Time{}
	if usr.Role.Valid() {
		sess.RoleIssuedAt = nowFunc()
	}
	return sess
}

func (sr *sessionReader) stale(sess *access.Session) bool {
	if sr.claimTTL <= 0 {
		return false
	}
	return sess.RoleIssuedAt.IsZero() || nowFunc().Sub(sess.RoleIssuedAt) > sr.claimTTL
}

func getContextSession(ctx echo.Context) (*access.Session, error) {
	if sess, ok := ctx.Get(contextSessionKey).(*access.Session); ok && sess.Authenticated() {
		return sess, nil
	}
	return nil, errUnauthorized
}

// getContextPrincipal returns the caller the request runs on behalf of. The role is RoleNone
// when it could not be resolved; the domain services refuse such principals.
func getContextPrincipal(ctx echo.Context) access.Principal {
	if p, ok := ctx.Get(contextPrincipalKey).(access.Principal); ok {
		return p
	}
	if sess, err := getContextSession(ctx); err == nil {
		return access.Principal{CallerID: sess.CallerID}
	}
	return access.Principal{}
}
