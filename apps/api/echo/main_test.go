package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/sjsfi/lms/apps/api/echo"
	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
	emailsvc "github.com/sjsfi/lms/services/email"
	"github.com/sjsfi/lms/services/lookup"
	"github.com/sjsfi/lms/services/objectstore"
	inmemdb "github.com/sjsfi/lms/storage/database/inmem"
	"github.com/sjsfi/lms/tests"
)

var (
	conf   *core.Config
	logger core.Logger
)

func TestMain(m *testing.M) {
	conf = core.NewTestConfig()
	logger = testutil.NewLogger(conf)
	core.ParseEmailTemplates(conf, logger)
	os.Exit(m.Run())
}

// hrmsStub stands in for the HR system.
type hrmsStub struct {
	mutex sync.Mutex
	roles map[string]string
	down  bool
	calls int
}

func (h *hrmsStub) RawRole(_ context.Context, email string) (string, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.calls++
	if h.down {
		return "", access.ErrUpstreamUnavailable
	}
	return h.roles[email], nil
}

func (h *hrmsStub) ResolveRole(ctx context.Context, email string) (access.Role, error) {
	raw, err := h.RawRole(ctx, email)
	return access.ParseRole(raw), err
}

func (h *hrmsStub) setDown(down bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.down = down
}

// sisStub stands in for the student information system.
type sisStub struct {
	records map[string]lookup.StudentRecord
	down    bool
}

func (s *sisStub) FetchStudent(_ context.Context, email string) (lookup.StudentRecord, error) {
	if s.down {
		return lookup.StudentRecord{}, access.ErrUpstreamUnavailable
	}
	rec, ok := s.records[email]
	if !ok {
		return lookup.StudentRecord{}, user.ErrProfileNotFound
	}
	return rec, nil
}

func (s *sisStub) FetchProfile(ctx context.Context, email string) (user.Profile, error) {
	rec, err := s.FetchStudent(ctx, email)
	return rec.Profile(), err
}

type env struct {
	app      echoapi.Server
	tokens   *echoapi.TokenIssuer
	usrRepo  user.Repository
	subjRepo subject.Repository
	enrRepo  enrolment.Repository
	mailSvc  *emailsvc.ConsoleServiceMock
	hrms     *hrmsStub
	sis      *sisStub
}

func setup(t *testing.T) *env {
	db := inmemdb.Open()
	e := &env{
		tokens:   echoapi.NewTokenIssuer(conf),
		usrRepo:  inmemdb.NewUserRepository(db),
		subjRepo: inmemdb.NewSubjectRepository(db),
		enrRepo:  inmemdb.NewEnrolmentRepository(db),
		mailSvc:  emailsvc.NewConsoleServiceMock(conf, logger),
		hrms:     &hrmsStub{roles: make(map[string]string)},
		sis:      &sisStub{records: make(map[string]lookup.StudentRecord)},
	}
	validate, translator := testutil.NewValidator()

	usrSvc, err := user.NewService(e.usrRepo, e.hrms, e.sis, validate, logger,
		user.WithPasswordReset(conf.SecretKey, 3*24*time.Hour, e.mailSvc))
	require.NoError(t, err)
	subjSvc, err := subject.NewService(e.subjRepo, e.enrRepo, e.mailSvc, validate, logger)
	require.NoError(t, err)
	enrSvc, err := enrolment.NewService(e.enrRepo, e.subjRepo, usrSvc, e.mailSvc, logger)
	require.NoError(t, err)
	gate, err := access.NewGate(access.DefaultRouteTable(), e.hrms, time.Second, conf.Server.RoleClaimTTL, logger)
	require.NoError(t, err)
	store, err := objectstore.NewDiskStore(t.TempDir(), conf.SecretKey)
	require.NoError(t, err)

	e.app, err = echoapi.NewServer(&echoapi.Options{
		TestMode:        true,
		DisableReqLogs:  true,
		RoleClaimTTL:    conf.Server.RoleClaimTTL,
		SignedURLExpiry: time.Hour,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		Tokens:          e.tokens,
		Gate:            gate,
		UserSvc:         usrSvc,
		SubjectSvc:      subjSvc,
		EnrolmentSvc:    enrSvc,
		Roles:           e.hrms,
		Students:        e.sis,
		Store:           store,
		Files:           store,
	})
	require.NoError(t, err)
	return e
}

func (e *env) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	e.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type codedErr struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type httpTest struct {
	name         string
	method       string
	path         string
	body         []byte
	token        string
	wantCode     int
	wantLocation string
	wantData     []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func (e *env) getToken(t *testing.T, usr user.User) string {
	token, err := e.tokens.GenerateToken(e.tokens.UserClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkResponse(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	if rec.Code != wantCode {
		t.Errorf("failed! code = %v; wantCode %v (body %s)", rec.Code, wantCode, rec.Body.String())
	}
	if tt.wantLocation != "" {
		assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
	}
	if tt.wantData != nil {
		ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
		if err != nil {
			t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
		}
		if !ok {
			t.Errorf("failed! data = %v; wantData %v", strings.TrimSpace(rec.Body.String()), string(tt.wantData))
		}
	}
}

func runHTTPTests(t *testing.T, e *env, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			e.serve(req, rec)
			checkResponse(t, tt, rec)
		})
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
