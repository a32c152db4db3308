package access

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjsfi/lms/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type resolverMock struct {
	roles map[string]Role
	err   error
	block bool
	calls int32
}

func (r *resolverMock) ResolveRole(ctx context.Context, email string) (Role, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.block {
		<-ctx.Done()
		return RoleNone, ctx.Err()
	}
	if r.err != nil {
		return RoleNone, r.err
	}
	return r.roles[email], nil
}

func newTestGate(t *testing.T, resolver RoleResolver) *Gate {
	gate, err := NewGate(DefaultRouteTable(), resolver, 50*time.Millisecond, 15*time.Minute, nopLogger{})
	require.NoError(t, err)
	return gate
}

func TestNewGate(t *testing.T) {
	_, err := NewGate(DefaultRouteTable(), nil, time.Second, 0, nopLogger{})
	assert.Error(t, err)

	_, err = NewGate(DefaultRouteTable(), &resolverMock{}, 0, 0, nopLogger{})
	assert.Error(t, err)

	var noResolver *resolverMock
	_, err = NewGate(DefaultRouteTable(), noResolver, time.Second, 0, nopLogger{})
	assert.Error(t, err)

	_, err = NewGate(DefaultRouteTable(), &resolverMock{}, time.Second, 0, nil)
	assert.Error(t, err)

	// loggers and resolvers may be plain values
	gate, err := NewGate(DefaultRouteTable(), &resolverMock{}, time.Second, 0, nopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, gate)
}

func TestGate_Decide(t *testing.T) {
	resolver := &resolverMock{roles: map[string]Role{
		"admin@sjsfi.edu.ph":   RoleAdmin,
		"faculty@sjsfi.edu.ph": RoleFaculty,
		"student@sjsfi.edu.ph": RoleStudent,
	}}
	gate := newTestGate(t, resolver)

	now := time.Now()
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	withClaim := func(role Role, issued time.Time) *Session {
		return &Session{CallerID: "u-" + string(role), Email: string(role) + "@sjsfi.edu.ph", Role: role, RoleIssuedAt: issued}
	}
	noClaim := func(email string) *Session {
		return &Session{CallerID: "u-" + email, Email: email}
	}

	tests := []struct {
		name         string
		path         string
		sess         *Session
		wantOutcome  Outcome
		wantLocation string
		wantReason   core.ErrorCode
	}{
		// public allowlist
		{name: "public root, unauthenticated", path: "/", wantOutcome: Allow},
		{name: "public role lookup, unauthenticated", path: PathFetchRoles, wantOutcome: Allow},
		{name: "public student fetch, unauthenticated", path: PathFetchStudent, wantOutcome: Allow},
		{name: "public unauthorized page, unauthenticated", path: PathUnauthorized, wantOutcome: Allow},
		{name: "public auth prefix, unauthenticated", path: "/auth/sign-in", wantOutcome: Allow},

		// unauthenticated
		{name: "dashboard, unauthenticated", path: "/student/dashboard", wantOutcome: RedirectSignIn, wantLocation: "/", wantReason: core.CodeUnauthenticated},
		{name: "api, unauthenticated", path: "/api/enrolments", wantOutcome: RedirectSignIn, wantLocation: "/", wantReason: core.CodeUnauthenticated},
		{name: "empty caller id", path: "/admin", sess: &Session{Email: "admin@sjsfi.edu.ph"}, wantOutcome: RedirectSignIn, wantLocation: "/", wantReason: core.CodeUnauthenticated},

		// role scoped prefixes
		{name: "faculty on admin", path: "/admin/users", sess: withClaim(RoleFaculty, now), wantOutcome: RedirectUnauthorized, wantLocation: "/unauthorized", wantReason: core.CodeForbidden},
		{name: "student on faculty", path: "/faculty/dashboard", sess: withClaim(RoleStudent, now), wantOutcome: RedirectUnauthorized, wantLocation: "/unauthorized", wantReason: core.CodeForbidden},
		{name: "admin on student", path: "/student", sess: withClaim(RoleAdmin, now), wantOutcome: RedirectUnauthorized, wantLocation: "/unauthorized", wantReason: core.CodeForbidden},
		{name: "student on student dashboard", path: "/student/dashboard", sess: withClaim(RoleStudent, now), wantOutcome: Allow},
		{name: "admin on admin", path: "/admin", sess: withClaim(RoleAdmin, now), wantOutcome: Allow},
		{name: "prefix is segment bound", path: "/administrator", sess: withClaim(RoleStudent, now), wantOutcome: Allow},
		{name: "unscoped api path", path: "/api/subjects", sess: withClaim(RoleStudent, now), wantOutcome: Allow},

		// role resolved by lookup
		{name: "no claim, looked up", path: "/faculty/dashboard", sess: noClaim("faculty@sjsfi.edu.ph"), wantOutcome: Allow},
		{name: "no claim, unknown email", path: "/faculty/dashboard", sess: noClaim("ghost@sjsfi.edu.ph"), wantOutcome: RedirectUnauthorized, wantLocation: "/unauthorized", wantReason: core.CodeNoRole},
		{name: "stale claim, looked up", path: "/admin", sess: &Session{CallerID: "u1", Email: "student@sjsfi.edu.ph", Role: RoleAdmin, RoleIssuedAt: now.Add(-time.Hour)}, wantOutcome: RedirectUnauthorized, wantLocation: "/unauthorized", wantReason: core.CodeForbidden},

		// login page
		{name: "login page, authenticated student", path: "/", sess: withClaim(RoleStudent, now), wantOutcome: RedirectHome, wantLocation: "/student/dashboard"},
		{name: "login page, authenticated faculty", path: "/", sess: noClaim("faculty@sjsfi.edu.ph"), wantOutcome: RedirectHome, wantLocation: "/faculty/dashboard"},
		{name: "login page, authenticated without role", path: "/", sess: noClaim("ghost@sjsfi.edu.ph"), wantOutcome: Allow, wantReason: core.CodeNoRole},
		{name: "unauthorized page, authenticated", path: "/unauthorized", sess: withClaim(RoleStudent, now), wantOutcome: Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Decide(context.Background(), tt.path, tt.sess)
			if d.Outcome != tt.wantOutcome {
				t.Errorf("Decide() outcome = %v, want %v", d.Outcome, tt.wantOutcome)
			}
			if d.Location != tt.wantLocation {
				t.Errorf("Decide() location = %q, want %q", d.Location, tt.wantLocation)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Decide() reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestGate_Decide_freshClaimSkipsLookup(t *testing.T) {
	resolver := &resolverMock{err: errors.New("must not be called")}
	gate := newTestGate(t, resolver)

	sess := &Session{CallerID: "u1", Email: "s@sjsfi.edu.ph", Role: RoleStudent, RoleIssuedAt: time.Now()}
	d := gate.Decide(context.Background(), "/student/dashboard", sess)

	assert.Equal(t, Allow, d.Outcome)
	assert.Equal(t, RoleStudent, d.Role)
	assert.Equal(t, int32(0), atomic.LoadInt32(&resolver.calls))
}

func TestGate_Decide_failsClosed(t *testing.T) {
	tests := []struct {
		name     string
		resolver *resolverMock
	}{
		{name: "upstream error", resolver: &resolverMock{err: ErrUpstreamUnavailable}},
		{name: "upstream timeout", resolver: &resolverMock{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newTestGate(t, tt.resolver)
			sess := &Session{CallerID: "u1", Email: "faculty@sjsfi.edu.ph"}

			start := time.Now()
			d := gate.Decide(context.Background(), "/faculty/dashboard", sess)

			assert.Equal(t, RedirectUnauthorized, d.Outcome)
			assert.Equal(t, PathUnauthorized, d.Location)
			assert.Equal(t, core.CodeUpstreamUnavailable, d.Reason)
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, int32(1), atomic.LoadInt32(&tt.resolver.calls), "no retries")
		})
	}
}

func TestGate_Decide_unauthenticatedNeverReachesContent(t *testing.T) {
	gate := newTestGate(t, &resolverMock{})
	paths := []string{"/admin", "/admin/dashboard", "/faculty/x", "/student/dashboard", "/api/me", "/api/enrolments", "/foo", "/unauthorized/x"}
	for _, path := range paths {
		d := gate.Decide(context.Background(), path, nil)
		if d.Outcome != RedirectSignIn {
			t.Errorf("Decide(%q) outcome = %v, want %v", path, d.Outcome, RedirectSignIn)
		}
	}
}
