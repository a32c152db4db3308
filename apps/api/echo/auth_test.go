package echoapi_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/sjsfi/lms/apps/api/echo"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
	"github.com/sjsfi/lms/services/lookup"
	"github.com/sjsfi/lms/tests"
)

func TestGate(t *testing.T) {
	e := setup(t)

	admin := testutil.CreateUser(t, e.usrRepo, "Admin", "admin@sjsfi.edu.ph", "", access.RoleAdmin, true)
	faculty := testutil.CreateUser(t, e.usrRepo, "Teacher", "teacher@sjsfi.edu.ph", "", access.RoleFaculty, true)
	student := testutil.CreateStudent(t, e.usrRepo, "Juan", "juan@sjsfi.edu.ph", testutil.ActiveProfile("Juan", "juan@sjsfi.edu.ph"))
	hired := testutil.CreateUser(t, e.usrRepo, "New Hire", "hire@sjsfi.edu.ph", "", access.RoleNone, true)
	nobody := testutil.CreateUser(t, e.usrRepo, "Nobody", "nobody@sjsfi.edu.ph", "", access.RoleNone, true)
	e.hrms.roles[hired.Email] = "faculty"

	adminToken := e.getToken(t, admin)
	facultyToken := e.getToken(t, faculty)
	studentToken := e.getToken(t, student)

	tests := []httpTest{
		// public paths
		{name: "root", path: "/", wantData: marshallObj(t, echoapi.HomePage{SignIn: "/auth/sign-in"})},
		{name: "unauthorized page", path: "/unauthorized", wantCode: http.StatusForbidden},
		{
			name: "role lookup is public", path: "/api/fetch-roles?email=hire@sjsfi.edu.ph",
			wantData: marshallObj(t, echoapi.RoleResponse{Email: "hire@sjsfi.edu.ph", Role: "faculty", Home: "/faculty/dashboard"}),
		},

		// unauthenticated
		{name: "dashboard requires a session", path: "/admin/dashboard", wantCode: http.StatusSeeOther, wantLocation: "/"},
		{name: "api requires a session", path: "/api/me", wantCode: http.StatusSeeOther, wantLocation: "/"},
		{name: "unknown path requires a session", path: "/lol", wantCode: http.StatusSeeOther, wantLocation: "/"},
		{name: "garbage token", path: "/student/dashboard", token: "lol", wantCode: http.StatusSeeOther, wantLocation: "/"},

		// role scoped
		{name: "faculty on /admin", path: "/admin/dashboard", token: facultyToken, wantCode: http.StatusSeeOther, wantLocation: "/unauthorized"},
		{name: "student on /faculty", path: "/faculty/dashboard", token: studentToken, wantCode: http.StatusSeeOther, wantLocation: "/unauthorized"},
		{name: "student on /student", path: "/student/dashboard", token: studentToken},
		{name: "faculty on /faculty", path: "/faculty/dashboard", token: facultyToken},
		{name: "admin on /admin", path: "/admin/dashboard", token: adminToken},
		{name: "admin on /student", path: "/student/dashboard", token: adminToken, wantCode: http.StatusSeeOther, wantLocation: "/unauthorized"},
		{name: "prefix matches on segments", path: "/administrator", token: facultyToken, wantCode: http.StatusNotFound},

		// roles resolved from HRMS
		{name: "role from HRMS", path: "/faculty/dashboard", token: e.getToken(t, hired)},
		{name: "no role anywhere", path: "/faculty/dashboard", token: e.getToken(t, nobody), wantCode: http.StatusSeeOther, wantLocation: "/unauthorized"},

		// login page
		{name: "admin on root", path: "/", token: adminToken, wantCode: http.StatusSeeOther, wantLocation: "/admin/dashboard"},
		{name: "student on root", path: "/", token: studentToken, wantCode: http.StatusSeeOther, wantLocation: "/student/dashboard"},
		{name: "no role on root", path: "/", token: e.getToken(t, nobody)},
	}
	runHTTPTests(t, e, tests)
}

func TestGate_upstreamDown(t *testing.T) {
	e := setup(t)
	hired := testutil.CreateUser(t, e.usrRepo, "New Hire", "hire@sjsfi.edu.ph", "", access.RoleNone, true)
	student := testutil.CreateStudent(t, e.usrRepo, "Juan", "juan@sjsfi.edu.ph", testutil.ActiveProfile("Juan", "juan@sjsfi.edu.ph"))
	e.hrms.roles[hired.Email] = "faculty"
	e.hrms.setDown(true)

	tests := []httpTest{
		{name: "fails closed", path: "/faculty/dashboard", token: e.getToken(t, hired), wantCode: http.StatusSeeOther, wantLocation: "/unauthorized"},
		{name: "stored role needs no lookup", path: "/student/dashboard", token: e.getToken(t, student)},
		{
			name: "role lookup endpoint", path: "/api/fetch-roles?email=hire@sjsfi.edu.ph", wantCode: http.StatusServiceUnavailable,
			wantData: marshallObj(t, codedErr{Error: "role service unavailable", Code: "UPSTREAM_UNAVAILABLE"}),
		},
	}
	runHTTPTests(t, e, tests)
}

func TestAuth_signIn(t *testing.T) {
	e := setup(t)
	testutil.CreateUser(t, e.usrRepo, "Ghost", "ghost@sjsfi.edu.ph", "password1", access.RoleStudent, false)
	usr := testutil.CreateUser(t, e.usrRepo, "Maria", "maria@sjsfi.edu.ph", "password1", access.RoleStudent, true)

	body := func(email, pwd string) []byte {
		return marshallObj(t, echoapi.SignInRequest{Email: email, Password: pwd})
	}

	runHTTPTests(t, e, []httpTest{
		{
			name: "missing fields", method: http.MethodPost, path: "/auth/sign-in", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"email": "this field is required", "password": "this field is required"}`),
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/auth/sign-in", body: body("maria@sjsfi.edu.ph", "nope"),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "unknown email", method: http.MethodPost, path: "/auth/sign-in", body: body("who@sjsfi.edu.ph", "password1"),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/auth/sign-in", body: body("ghost@sjsfi.edu.ph", "password1"),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "account deactivated"}),
		},
	})

	req, rec := newRequest(http.MethodPost, "/auth/sign-in", body(" MARIA@sjsfi.edu.ph ", "password1"))
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp echoapi.SignInResponse
	decode(t, rec, &resp)
	assert.Equal(t, "/student/dashboard", resp.Home)
	claims, err := e.tokens.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, usr.ID, claims.Subject)
	assert.Equal(t, "student", claims.Role)

	// the session cookie is honoured by the gate
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, echoapi.SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req, rec = newRequest(http.MethodGet, "/student/dashboard")
	req.AddCookie(cookies[0])
	e.serve(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)

	// signing out expires it
	req, rec = newRequest(http.MethodPost, "/auth/sign-out")
	req.AddCookie(cookies[0])
	e.serve(req, rec)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.True(t, strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0"))
}

func TestAuth_refreshToken(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.usrRepo, "Maria", "maria@sjsfi.edu.ph", "", access.RoleFaculty, true)
	token := e.getToken(t, usr)

	req, rec := newAuthRequest(http.MethodPost, "/auth/token-refresh", token)
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp echoapi.SignInResponse
	decode(t, rec, &resp)
	assert.Equal(t, "/faculty/dashboard", resp.Home)

	req, rec = newRequest(http.MethodPost, "/auth/token-refresh")
	e.serve(req, rec)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_passwordReset(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.usrRepo, "Maria", "maria@sjsfi.edu.ph", "password1", access.RoleStudent, true)

	runHTTPTests(t, e, []httpTest{
		{
			name: "missing email", method: http.MethodPost, path: "/auth/password-reset", body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"email": "this field is required"}`),
		},
		{
			name: "unknown email", method: http.MethodPost, path: "/auth/password-reset", body: []byte(`{"email": "who@sjsfi.edu.ph"}`),
			wantData: []byte(`{"success": "if the account exists, a reset link is on its way"}`),
		},
	})
	assert.Empty(t, e.mailSvc.Sent())

	req, rec := newRequest(http.MethodPost, "/auth/password-reset", []byte(`{"email": "Maria@sjsfi.edu.ph"}`))
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := e.mailSvc.Sent()
	require.Len(t, sent, 1)
	data := sent[0].TemplateData.(map[string]interface{})
	uid, token := data["UID"].(string), data["Token"].(string)
	assert.Equal(t, user.EncodeUID(usr), uid)

	confirm := func(token, pwd, pwdConfirm string) []byte {
		return marshallObj(t, echoapi.PasswordResetConfirmRequest{UID: uid, Token: token, Password: pwd, PasswordConfirm: pwdConfirm})
	}
	runHTTPTests(t, e, []httpTest{
		{
			name: "mismatch", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token, "malolos1898", "malolos1899"), wantCode: http.StatusBadRequest,
		},
		{
			name: "short", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token, "pwd", "pwd"), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"password": "password must contain at least 8 characters"}`),
		},
		{
			name: "bad token", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token+"x", "malolos1898", "malolos1898"), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"token": "invalid or expired password reset link"}`),
		},
		{
			name: "common", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token, "Password1", "Password1"), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"password": "password is too common"}`),
		},
		{
			name: "numeric", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token, "18961898", "18961898"), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"password": "password cannot be entirely numeric"}`),
		},
		{
			name: "like the name", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token, "maria1234", "maria1234"), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"password": "password cannot be similar to the user's name or email"}`),
		},
		{
			name: "ok", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token, "malolos1898", "malolos1898"), wantData: []byte(`{"success": "password updated"}`),
		},
		{
			name: "spent", method: http.MethodPost, path: "/auth/password-reset/confirm",
			body: confirm(token, "biaknabato1897", "biaknabato1897"), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"token": "invalid or expired password reset link"}`),
		},
		{
			name: "sign in", method: http.MethodPost, path: "/auth/sign-in",
			body: marshallObj(t, echoapi.SignInRequest{Email: usr.Email, Password: "malolos1898"}),
		},
	})
}

func TestUserAPI_sync(t *testing.T) {
	e := setup(t)
	hired := testutil.CreateUser(t, e.usrRepo, "New Hire", "hire@sjsfi.edu.ph", "", access.RoleNone, true)
	pupil := testutil.CreateUser(t, e.usrRepo, "Pupil", "pupil@sjsfi.edu.ph", "", access.RoleNone, true)
	e.hrms.roles[hired.Email] = "admin"
	e.sis.records[pupil.Email] = lookup.StudentRecord{
		Name: "Pupil Reyes", Email: "pupil@sjsfi.edu.ph", GradeLevel: "8", Status: "Active", EnrollmentStatus: "enrolled",
	}

	req, rec := newAuthRequest(http.MethodPost, "/api/me/role/sync", e.getToken(t, hired))
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp echoapi.SyncResponse
	decode(t, rec, &resp)
	assert.Equal(t, access.RoleAdmin, resp.User.Role)
	assert.Equal(t, "/admin/dashboard", resp.Home)

	// the pupil is not staff
	req, rec = newAuthRequest(http.MethodPost, "/api/me/role/sync", e.getToken(t, pupil))
	e.serve(req, rec)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodPost, "/api/me/student/sync", e.getToken(t, pupil))
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = echoapi.SyncResponse{}
	decode(t, rec, &resp)
	assert.Equal(t, access.RoleStudent, resp.User.Role)
	assert.Equal(t, "Pupil Reyes", resp.User.Profile.FullName)
	assert.Equal(t, "active", resp.User.Profile.Status)

	// the new token opens the student dashboard
	req, rec = newAuthRequest(http.MethodGet, "/student/dashboard", resp.Token)
	e.serve(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)

	// not in the SIS
	req, rec = newAuthRequest(http.MethodPost, "/api/me/student/sync", e.getToken(t, hired))
	e.serve(req, rec)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserAPI_admin(t *testing.T) {
	e := setup(t)
	admin := testutil.CreateUser(t, e.usrRepo, "Admin", "admin@sjsfi.edu.ph", "", access.RoleAdmin, true)
	faculty := testutil.CreateUser(t, e.usrRepo, "Teacher", "teacher@sjsfi.edu.ph", "", access.RoleFaculty, true)
	adminToken := e.getToken(t, admin)

	runHTTPTests(t, e, []httpTest{
		{
			name: "admin required", path: "/api/users", token: e.getToken(t, faculty), wantCode: http.StatusForbidden,
			wantData: marshallObj(t, codedErr{Error: "permission denied", Code: "FORBIDDEN"}),
		},
		{name: "search", path: "/api/users?search=TEACH", token: adminToken, wantData: marshallObj(t, []interface{}{faculty})},
		{name: "ordered", path: "/api/users?ordering=email", token: adminToken, wantData: marshallObj(t, []interface{}{admin, faculty})},
		{
			name: "set role", method: http.MethodPut, path: "/api/users/" + faculty.ID + "/role", token: adminToken,
			body: []byte(`{"role": "lol"}`), wantCode: http.StatusBadRequest,
		},
	})

	req, rec := newAuthRequest(http.MethodPut, "/api/users/"+faculty.ID+"/role", adminToken, []byte(`{"role": "ADMIN"}`))
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// stale sessions pick the stored role up once the claim expires; a fresh one carries it at once
	usr, err := e.usrRepo.GetUserByID(req.Context(), faculty.ID)
	require.NoError(t, err)
	assert.Equal(t, access.RoleAdmin, usr.Role)
	req, rec = newAuthRequest(http.MethodGet, "/admin/dashboard", e.getToken(t, usr))
	e.serve(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
}
