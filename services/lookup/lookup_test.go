package lookup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
	"github.com/sjsfi/lms/tests"
)

func ctx() context.Context { return context.Background() }

func TestSigner(t *testing.T) {
	s := NewSigner("secret")
	body := []byte(`{"email":"juan@sjsfi.edu.ph"}`)

	sig := s.Sign(body, "1700000000000")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, s.Sign(body, "1700000000000"))
	assert.NotEqual(t, sig, s.Sign(body, "1700000000001"))
	assert.NotEqual(t, sig, NewSigner("other").Sign(body, "1700000000000"))

	assert.True(t, s.Verify(body, "1700000000000", sig))
	assert.False(t, s.Verify(body, "1700000000001", sig))
	assert.False(t, s.Verify(body, "1700000000000", "zz"))
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 6, 1, 0, 0, 0, 123456789, time.UTC)
	assert.Equal(t, "1717200000123", timestamp(ts))
}

type upstream struct {
	status int
	body   string
	delay  time.Duration

	gotPath    string
	gotHeaders http.Header
	gotBody    []byte
}

func (u *upstream) start(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.gotPath = r.URL.Path
		u.gotHeaders = r.Header.Clone()
		u.gotBody, _ = io.ReadAll(r.Body)
		if u.delay > 0 {
			time.Sleep(u.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.status)
		_, _ = io.WriteString(w, u.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newConf(hrmsURL, sisURL string) *core.Config {
	conf := core.NewTestConfig()
	conf.Lookup.HRMSBaseURL = hrmsURL
	conf.Lookup.SISBaseURL = sisURL
	conf.Lookup.Timeout = 200 * time.Millisecond
	return conf
}

func TestNewHRMSClient(t *testing.T) {
	conf := newConf("", "")
	logger := testutil.NewLogger(conf)

	_, err := NewHRMSClient(nil, logger)
	assert.Error(t, err)
	_, err = NewHRMSClient(conf, nil)
	assert.Error(t, err)
	_, err = NewHRMSClient(conf, logger) // no base URL
	assert.Error(t, err)

	conf.Lookup.HRMSBaseURL = "http://hrms.local/api/xr/"
	c, err := NewHRMSClient(conf, logger)
	require.NoError(t, err)
	assert.Equal(t, "http://hrms.local/api/xr", c.baseURL)

	conf.Lookup.SigningSecret = ""
	_, err = NewHRMSClient(conf, logger)
	assert.Error(t, err)
}

func TestHRMSClient_ResolveRole(t *testing.T) {
	defer func() { nowFunc = time.Now }()
	nowFunc = func() time.Time { return time.Unix(1717200000, 0) }

	tests := []struct {
		name     string
		status   int
		body     string
		wantRole access.Role
		wantRaw  string
		wantErr  error
	}{
		{name: "faculty", status: 200, body: `{"Role":["Faculty"]}`, wantRole: access.RoleFaculty, wantRaw: "faculty"},
		{name: "first role wins", status: 200, body: `{"Role":["admin","faculty"]}`, wantRole: access.RoleAdmin, wantRaw: "admin"},
		{name: "unknown role", status: 200, body: `{"Role":["janitor"]}`, wantRole: access.RoleNone, wantRaw: "janitor"},
		{name: "no roles", status: 200, body: `{"Role":[]}`, wantRole: access.RoleNone},
		{name: "not found", status: 404, body: `{"error":"not found"}`, wantRole: access.RoleNone},
		{name: "bad json", status: 200, body: `lol`, wantErr: access.ErrUpstreamUnavailable},
		{name: "unauthorized", status: 401, body: `{}`, wantErr: access.ErrUpstreamUnavailable},
		{name: "server error", status: 502, body: ``, wantErr: access.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &upstream{status: tt.status, body: tt.body}
			srv := up.start(t)
			conf := newConf(srv.URL+"/api/xr", "")
			c, err := NewHRMSClient(conf, testutil.NewLogger(conf))
			require.NoError(t, err)

			role, err := c.ResolveRole(ctx(), "teacher@sjsfi.edu.ph")
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				assert.Equal(t, access.RoleNone, role)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, role)

			raw, err := c.RawRole(ctx(), "teacher@sjsfi.edu.ph")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRaw, raw)

			// request shape
			assert.Equal(t, "/api/xr/user-access-lookup", up.gotPath)
			assert.JSONEq(t, `{"email":"teacher@sjsfi.edu.ph"}`, string(up.gotBody))
			assert.Equal(t, "Bearer test-bearer", up.gotHeaders.Get("Authorization"))
			assert.Equal(t, "application/json", up.gotHeaders.Get("Content-Type"))
			assert.Equal(t, "1717200000000", up.gotHeaders.Get("x-timestamp"))
			assert.True(t, NewSigner(conf.Lookup.SigningSecret).Verify(up.gotBody, "1717200000000", up.gotHeaders.Get("x-signature")))
		})
	}
}

func TestHRMSClient_timeout(t *testing.T) {
	up := &upstream{status: 200, body: `{"Role":["admin"]}`, delay: 500 * time.Millisecond}
	srv := up.start(t)
	conf := newConf(srv.URL, "")
	c, err := NewHRMSClient(conf, testutil.NewLogger(conf))
	require.NoError(t, err)

	role, err := c.ResolveRole(ctx(), "admin@sjsfi.edu.ph")
	assert.Equal(t, access.ErrUpstreamUnavailable, errors.Cause(err))
	assert.Equal(t, access.RoleNone, role)
}

func TestHRMSClient_callerDeadline(t *testing.T) {
	up := &upstream{status: 200, body: `{"Role":["admin"]}`, delay: 400 * time.Millisecond}
	srv := up.start(t)
	conf := newConf(srv.URL, "")
	conf.Lookup.Timeout = 5 * time.Second
	c, err := NewHRMSClient(conf, testutil.NewLogger(conf))
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.ResolveRole(cctx, "admin@sjsfi.edu.ph")
	assert.Equal(t, access.ErrUpstreamUnavailable, errors.Cause(err))
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestHRMSClient_unreachable(t *testing.T) {
	up := &upstream{status: 200}
	srv := up.start(t)
	url := srv.URL
	srv.Close()

	conf := newConf(url, "")
	c, err := NewHRMSClient(conf, testutil.NewLogger(conf))
	require.NoError(t, err)
	_, err = c.ResolveRole(ctx(), "admin@sjsfi.edu.ph")
	assert.Equal(t, access.ErrUpstreamUnavailable, errors.Cause(err))
}

func TestSISClient_FetchProfile(t *testing.T) {
	rec := StudentRecord{
		ID:               "42",
		Name:             " Juan Dela Cruz ",
		Email:            "Juan@sjsfi.edu.ph",
		Role:             "student",
		GradeLevel:       "7",
		Status:           "Active",
		EnrollmentStatus: "ENROLLED",
		StudentNumber:    "2024-0042",
		GuardianName:     "Maria Dela Cruz",
	}
	recJSON, err := json.Marshal(rec)
	require.NoError(t, err)

	tests := []struct {
		name        string
		status      int
		body        string
		wantProfile user.Profile
		wantErr     error
	}{
		{
			name:   "ok",
			status: 200,
			body:   string(recJSON),
			wantProfile: user.Profile{
				FullName:         "Juan Dela Cruz",
				Email:            "juan@sjsfi.edu.ph",
				GradeLevel:       "7",
				Status:           "active",
				EnrollmentStatus: "enrolled",
				StudentNumber:    "2024-0042",
			},
		},
		{name: "not found", status: 404, body: `{"error":"Student not found"}`, wantErr: user.ErrProfileNotFound},
		{name: "bad json", status: 200, body: `[`, wantErr: access.ErrUpstreamUnavailable},
		{name: "forbidden", status: 403, body: `{}`, wantErr: access.ErrUpstreamUnavailable},
		{name: "server error", status: 500, body: `{}`, wantErr: access.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &upstream{status: tt.status, body: tt.body}
			srv := up.start(t)
			conf := newConf("", srv.URL)
			c, err := NewSISClient(conf, testutil.NewLogger(conf))
			require.NoError(t, err)

			profile, err := c.FetchProfile(ctx(), "juan@sjsfi.edu.ph")
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProfile, profile)
			assert.True(t, profile.IsActive())
			assert.Equal(t, "/getStudent", up.gotPath)
			assert.NotEmpty(t, up.gotHeaders.Get("x-signature"))
		})
	}
}
