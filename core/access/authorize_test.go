package access

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestAuthorize(t *testing.T) {
	errLookup := errors.New("lookup failed")
	owns := func(ok bool, err error) OwnershipFunc {
		return func(context.Context, Principal) (bool, error) { return ok, err }
	}

	admin := Principal{CallerID: "a", Role: RoleAdmin}
	faculty := Principal{CallerID: "f", Role: RoleFaculty}
	student := Principal{CallerID: "s", Role: RoleStudent}

	tests := []struct {
		name    string
		p       Principal
		pol     Policy
		wantErr error
	}{
		{name: "anonymous", p: Principal{}, pol: Require(), wantErr: ErrUnauthenticated},
		{name: "no role", p: Principal{CallerID: "x"}, pol: Require(), wantErr: ErrNoRole},
		{name: "any role", p: student, pol: Require()},
		{name: "role mismatch", p: student, pol: Require(RoleFaculty, RoleAdmin), wantErr: ErrForbidden},
		{name: "role match", p: faculty, pol: Require(RoleFaculty, RoleAdmin)},
		{name: "owner", p: faculty, pol: Require(RoleFaculty).Owned(owns(true, nil))},
		{name: "not owner", p: faculty, pol: Require(RoleFaculty).Owned(owns(false, nil)), wantErr: ErrForbidden},
		{name: "ownership lookup error", p: faculty, pol: Require(RoleFaculty).Owned(owns(false, errLookup)), wantErr: errLookup},
		{name: "admin bypasses ownership", p: admin, pol: Require(RoleFaculty, RoleAdmin).Owned(owns(false, nil))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(context.Background(), tt.p, tt.pol)
			if pkgerrors.Cause(err) != tt.wantErr {
				t.Errorf("Authorize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGuard(t *testing.T) {
	var ran bool
	op := func() error { ran = true; return nil }

	if err := Guard(context.Background(), Principal{CallerID: "s", Role: RoleStudent}, Require(RoleAdmin), op); err != ErrForbidden {
		t.Errorf("Guard() error = %v, wantErr %v", err, ErrForbidden)
	}
	if ran {
		t.Error("Guard() ran op for an unauthorized principal")
	}

	if err := Guard(context.Background(), Principal{CallerID: "a", Role: RoleAdmin}, Require(RoleAdmin), op); err != nil {
		t.Errorf("Guard() unexpected error = %v", err)
	}
	if !ran {
		t.Error("Guard() did not run op")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{in: "Admin", want: RoleAdmin},
		{in: " FACULTY ", want: RoleFaculty},
		{in: "student", want: RoleStudent},
		{in: "teacher", want: RoleNone},
		{in: "", want: RoleNone},
	}
	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRouteTable_IsPublic(t *testing.T) {
	rt := DefaultRouteTable()
	tests := []struct {
		path string
		want bool
	}{
		{path: "/", want: true},
		{path: "/api/fetch-roles", want: true},
		{path: "/api/fetch-roles/extra", want: false},
		{path: "/api/fetch-students", want: true},
		{path: "/unauthorized", want: true},
		{path: "/auth", want: true},
		{path: "/auth/sign-in", want: true},
		{path: "/authx", want: false},
		{path: "/student/dashboard", want: false},
	}
	for _, tt := range tests {
		if got := rt.IsPublic(tt.path); got != tt.want {
			t.Errorf("IsPublic(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
