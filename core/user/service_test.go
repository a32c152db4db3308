package user_test

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
	inmemdb "github.com/sjsfi/lms/storage/database/inmem"
	"github.com/sjsfi/lms/tests"
)

type rolesMock struct {
	roles map[string]access.Role
	err   error
}

func (m rolesMock) ResolveRole(_ context.Context, email string) (access.Role, error) {
	if m.err != nil {
		return access.RoleNone, m.err
	}
	return m.roles[email], nil
}

type profilesMock struct {
	profiles map[string]user.Profile
	err      error
}

func (m profilesMock) FetchProfile(_ context.Context, email string) (user.Profile, error) {
	if m.err != nil {
		return user.Profile{}, m.err
	}
	p, ok := m.profiles[email]
	if !ok {
		return user.Profile{}, user.ErrProfileNotFound
	}
	return p, nil
}

func setup(t *testing.T, roles access.RoleResolver, profiles user.ProfileFetcher) (*user.Service, user.Repository) {
	conf := core.NewTestConfig()
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	validate, _ := testutil.NewValidator()
	svc, err := user.NewService(repo, roles, profiles, validate, testutil.NewLogger(conf))
	require.NoError(t, err)
	return svc, repo
}

func TestNewService(t *testing.T) {
	_, err := user.NewService(nil, nil, nil, nil, nil)
	assert.Error(t, err)

	// collaborators may be plain struct values
	svc, _ := setup(t, rolesMock{}, profilesMock{})
	assert.NotNil(t, svc)
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, rolesMock{}, profilesMock{})

	valid := user.NewUser{Name: "Jose", Email: "JOSE@sjsfi.edu.ph ", Password: "rizal1896", PasswordConfirm: "rizal1896"}
	with := func(fn func(nu *user.NewUser)) user.NewUser {
		nu := valid
		fn(&nu)
		return nu
	}

	tests := []struct {
		name    string
		data    user.NewUser
		wantErr bool
	}{
		{name: "ok", data: valid},
		{name: "email exists", data: valid, wantErr: true},
		{name: "bad email", data: with(func(nu *user.NewUser) { nu.Email = "jose" }), wantErr: true},
		{name: "short password", data: with(func(nu *user.NewUser) {
			nu.Email = "a@sjsfi.edu.ph"
			nu.Password, nu.PasswordConfirm = "short", "short"
		}), wantErr: true},
		{name: "passwords differ", data: with(func(nu *user.NewUser) {
			nu.Email = "b@sjsfi.edu.ph"
			nu.PasswordConfirm = "rizal1897"
		}), wantErr: true},
		{name: "common password", data: with(func(nu *user.NewUser) {
			nu.Email = "e@sjsfi.edu.ph"
			nu.Password, nu.PasswordConfirm = "iloveyou", "iloveyou"
		}), wantErr: true},
		{name: "password like the name", data: with(func(nu *user.NewUser) {
			nu.Email = "f@sjsfi.edu.ph"
			nu.Name = "Jose Rizal"
			nu.Password, nu.PasswordConfirm = "joserizal1", "joserizal1"
		}), wantErr: true},
		{name: "bad role", data: with(func(nu *user.NewUser) {
			nu.Email = "c@sjsfi.edu.ph"
			nu.Role = "principal"
		}), wantErr: true},
		{name: "with role", data: with(func(nu *user.NewUser) {
			nu.Email = "d@sjsfi.edu.ph"
			nu.Role = "Faculty"
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := svc.Create(ctx, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, usr.ID)
			assert.True(t, usr.IsActive)
			assert.NoError(t, usr.CheckPassword(tt.data.Password))
		})
	}

	usr, err := svc.GetByEmail(ctx, "d@sjsfi.edu.ph")
	require.NoError(t, err)
	assert.Equal(t, access.RoleFaculty, usr.Role)
	assert.False(t, usr.RoleUpdatedAt.IsZero())
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t, rolesMock{}, profilesMock{})
	active := testutil.CreateUser(t, repo, "Active", "active@sjsfi.edu.ph", "password1", access.RoleStudent, true)
	testutil.CreateUser(t, repo, "Gone", "gone@sjsfi.edu.ph", "password1", access.RoleStudent, false)
	testutil.CreateUser(t, repo, "NoPwd", "nopwd@sjsfi.edu.ph", "", access.RoleStudent, true)

	tests := []struct {
		name    string
		email   string
		pwd     string
		wantErr error
	}{
		{name: "unknown", email: "lol@sjsfi.edu.ph", pwd: "password1", wantErr: user.ErrAuthenticationFailed},
		{name: "wrong password", email: "active@sjsfi.edu.ph", pwd: "password2", wantErr: user.ErrAuthenticationFailed},
		{name: "no password", email: "nopwd@sjsfi.edu.ph", pwd: "", wantErr: user.ErrAuthenticationFailed},
		{name: "deactivated", email: "gone@sjsfi.edu.ph", pwd: "password1", wantErr: user.ErrAccountDeactivated},
		{name: "ok", email: " Active@SJSFI.edu.ph", pwd: "password1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := svc.Authenticate(ctx, tt.email, tt.pwd)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, pkgerrors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, active.ID, usr.ID)
			assert.False(t, usr.LastLogin.IsZero())
		})
	}
}

func TestService_SetRole(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t, rolesMock{}, profilesMock{})
	usr := testutil.CreateUser(t, repo, "User", "user@sjsfi.edu.ph", "", access.RoleNone, true)

	_, err := svc.SetRole(ctx, usr.ID, access.Role("principal"))
	assert.Error(t, err)
	_, err = svc.SetRole(ctx, "lol", access.RoleAdmin)
	assert.Equal(t, user.ErrNotFound, err)

	usr, err = svc.SetRole(ctx, usr.ID, access.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, usr.IsAdmin())
}

func TestService_SetPassword(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t, rolesMock{}, profilesMock{})
	usr := testutil.CreateUser(t, repo, "User", "user@sjsfi.edu.ph", "password1", access.RoleStudent, true)

	tests := []struct {
		name    string
		pwd     string
		wantMsg string
	}{
		{name: "too short", pwd: "short", wantMsg: "password must contain at least 8 characters"},
		{name: "whitespace", pwd: "tejeros 1897", wantMsg: "password must not contain whitespace"},
		{name: "all numeric", pwd: "18971898", wantMsg: "password cannot be entirely numeric"},
		{name: "like the email", pwd: "user@sjsfi", wantMsg: "password cannot be similar to the user's name or email"},
		{name: "common", pwd: "Password2", wantMsg: "password is too common"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SetPassword(ctx, usr.ID, tt.pwd)
			vErr, ok := pkgerrors.Cause(err).(*core.ValidationError)
			require.True(t, ok, "error = %v", err)
			require.Len(t, vErr.Fields, 1)
			assert.Equal(t, "password", vErr.Fields[0].Field)
			assert.Equal(t, tt.wantMsg, vErr.Fields[0].Error)
		})
	}

	assert.Equal(t, user.ErrNotFound, pkgerrors.Cause(svc.SetPassword(ctx, "lol", "tejeros1897")))
	require.NoError(t, svc.SetPassword(ctx, usr.ID, "tejeros1897"))

	_, err := svc.Authenticate(ctx, usr.Email, "tejeros1897")
	assert.NoError(t, err)
}

func TestService_SyncRole(t *testing.T) {
	ctx := context.Background()
	roles := rolesMock{roles: map[string]access.Role{
		"teacher@sjsfi.edu.ph": access.RoleFaculty,
		"admin@sjsfi.edu.ph":   access.RoleAdmin,
		"student@sjsfi.edu.ph": access.RoleStudent,
	}}
	svc, repo := setup(t, roles, profilesMock{})

	tests := []struct {
		name     string
		email    string
		wantRole access.Role
		wantErr  error
	}{
		{name: "faculty", email: "teacher@sjsfi.edu.ph", wantRole: access.RoleFaculty},
		{name: "admin", email: "admin@sjsfi.edu.ph", wantRole: access.RoleAdmin},
		{name: "student is not synced this way", email: "student@sjsfi.edu.ph", wantErr: user.ErrRoleNotSyncable},
		{name: "no role", email: "nobody@sjsfi.edu.ph", wantErr: access.ErrNoRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr := testutil.CreateUser(t, repo, tt.name, tt.email, "", access.RoleNone, true)
			got, err := svc.SyncRole(ctx, usr.ID)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				stored, gErr := repo.GetUserByID(ctx, usr.ID)
				require.NoError(t, gErr)
				assert.Equal(t, access.RoleNone, stored.Role)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, got.Role)
		})
	}

	down, _ := setup(t, rolesMock{err: errors.New("timeout")}, profilesMock{})
	_, err := down.SyncRole(ctx, "lol")
	assert.Equal(t, user.ErrNotFound, err)
}

func TestService_SyncRole_upstreamDown(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t, rolesMock{err: errors.New("timeout")}, profilesMock{})
	usr := testutil.CreateUser(t, repo, "Teacher", "teacher@sjsfi.edu.ph", "", access.RoleNone, true)

	_, err := svc.SyncRole(ctx, usr.ID)
	assert.Equal(t, access.ErrUpstreamUnavailable, err)
}

func TestService_SyncStudentProfile(t *testing.T) {
	ctx := context.Background()
	profiles := profilesMock{profiles: map[string]user.Profile{
		"maria@sjsfi.edu.ph": {
			FullName: " Maria Clara ", Email: "Maria@sjsfi.edu.ph", GradeLevel: "8",
			Status: "ACTIVE", EnrollmentStatus: "enrolled", StudentNumber: "2024-0001",
		},
		"broken@sjsfi.edu.ph": {FullName: "Broken", Email: "broken@sjsfi.edu.ph", Status: "active"},
	}}
	svc, repo := setup(t, rolesMock{}, profiles)

	maria := testutil.CreateUser(t, repo, "Maria", "maria@sjsfi.edu.ph", "", access.RoleNone, true)
	broken := testutil.CreateUser(t, repo, "Broken", "broken@sjsfi.edu.ph", "", access.RoleNone, true)
	ghost := testutil.CreateUser(t, repo, "Ghost", "ghost@sjsfi.edu.ph", "", access.RoleNone, true)

	usr, err := svc.SyncStudentProfile(ctx, maria.ID)
	require.NoError(t, err)
	assert.Equal(t, access.RoleStudent, usr.Role)
	assert.Equal(t, "Maria Clara", usr.Profile.FullName)
	assert.Equal(t, "maria@sjsfi.edu.ph", usr.Profile.Email)
	assert.Equal(t, "active", usr.Profile.Status)
	assert.True(t, usr.Profile.IsActive())

	profile, err := svc.GetProfile(ctx, maria.ID)
	require.NoError(t, err)
	assert.Equal(t, usr.Profile, profile)

	// missing grade level: rejected at the boundary, nothing stored
	_, err = svc.SyncStudentProfile(ctx, broken.ID)
	assert.Error(t, err)
	stored, err := repo.GetUserByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, access.RoleNone, stored.Role)
	assert.False(t, stored.Profile.Complete())

	_, err = svc.SyncStudentProfile(ctx, ghost.ID)
	assert.Equal(t, user.ErrProfileNotFound, err)

	down, downRepo := setup(t, rolesMock{}, profilesMock{err: errors.New("502")})
	usr = testutil.CreateUser(t, downRepo, "Maria", "maria@sjsfi.edu.ph", "", access.RoleNone, true)
	_, err = down.SyncStudentProfile(ctx, usr.ID)
	assert.Equal(t, access.ErrUpstreamUnavailable, err)
}

func TestProfile_IsActive(t *testing.T) {
	complete := user.Profile{FullName: "A", Email: "a@sjsfi.edu.ph", GradeLevel: "7", Status: "active"}
	with := func(fn func(p *user.Profile)) user.Profile {
		p := complete
		fn(&p)
		return p
	}

	tests := []struct {
		name    string
		profile user.Profile
		want    bool
	}{
		{name: "complete, no enrollment status", profile: complete, want: true},
		{name: "enrolled", profile: with(func(p *user.Profile) { p.EnrollmentStatus = "Enrolled" }), want: true},
		{name: "dropped", profile: with(func(p *user.Profile) { p.EnrollmentStatus = "dropped" })},
		{name: "inactive", profile: with(func(p *user.Profile) { p.Status = "inactive" })},
		{name: "no name", profile: with(func(p *user.Profile) { p.FullName = " " })},
		{name: "no email", profile: with(func(p *user.Profile) { p.Email = "" })},
		{name: "no grade", profile: with(func(p *user.Profile) { p.GradeLevel = "" })},
		{name: "no status", profile: with(func(p *user.Profile) { p.Status = "" })},
		{name: "zero", profile: user.Profile{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.profile.IsActive())
		})
	}
}
