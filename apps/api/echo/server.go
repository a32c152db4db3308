package echoapi

import (
	"context"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
)

type (
	Options struct {
		Address         string
		Debug           bool
		TestMode        bool
		DisableReqLogs  bool
		RoleClaimTTL    time.Duration
		SignedURLExpiry time.Duration

		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Tokens     *TokenIssuer
		Gate       *access.Gate

		UserSvc      *user.Service
		SubjectSvc   *subject.Service
		EnrolmentSvc *enrolment.Service
		Roles        RoleLookup
		Students     StudentLookup
		Store        core.ObjectStore
		Files        FileServer // nil unless the store serves its own signed URLs

		// SignalShutdown is called when a handler fails with a core shutdown error.
		SignalShutdown func()
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) (Server, error) {
	err := vala.BeginValidation().Validate(
		core.IsNotNil(opts.Logger, "Logger"),
		core.IsNotNil(opts.Validate, "Validate"),
		core.IsNotNil(opts.Translator, "Translator"),
		core.IsNotNil(opts.Tokens, "Tokens"),
		core.IsNotNil(opts.Gate, "Gate"),
		core.IsNotNil(opts.UserSvc, "UserSvc"),
		core.IsNotNil(opts.SubjectSvc, "SubjectSvc"),
		core.IsNotNil(opts.EnrolmentSvc, "EnrolmentSvc"),
		core.IsNotNil(opts.Roles, "Roles"),
		core.IsNotNil(opts.Students, "Students"),
		core.IsNotNil(opts.Store, "Store"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "creating API server")
	}

	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s, nil
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.opts.Debug || s.opts.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	sessions := &sessionReader{
		tokens:   s.opts.Tokens,
		users:    s.opts.UserSvc,
		claimTTL: s.opts.RoleClaimTTL,
		logger:   s.opts.Logger,
	}
	s.app.Use(gateMiddleware(s.opts.Gate, sessions))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.opts.SignalShutdown)
	s.app.Debug = s.opts.Debug

	registerPages(s.app, s.opts)
	registerAuthAPI(s.app.Group("/auth"), s.opts)

	api := s.app.Group("/api")
	registerLookupAPI(api, s.opts)
	registerUserAPI(api, s.opts)
	registerSubjectAPI(api, s.opts)
	registerEnrolmentAPI(api, s.opts)
	registerFileAPI(s.app, api, s.opts)
}

func (s *server) Start() error {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}
