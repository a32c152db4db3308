package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/sjsfi/lms/apps/api/echo"
	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
	emailsvc "github.com/sjsfi/lms/services/email"
	logsvc "github.com/sjsfi/lms/services/logger"
	"github.com/sjsfi/lms/services/lookup"
	"github.com/sjsfi/lms/services/objectstore"
	"github.com/sjsfi/lms/services/throttle"
	"github.com/sjsfi/lms/storage/database"
	sqlxrepos "github.com/sjsfi/lms/storage/database/sqlx"
)

const limiterPrefix = "lms:enrol"

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// ShutdownChannel receives the signals that stop the API.
type ShutdownChannel chan os.Signal

type ServerParams struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Gate       *access.Gate
	HRMS       *lookup.HRMSClient
	SIS        *lookup.SISClient
	Store      core.ObjectStore
	UserSvc    *user.Service
	SubjectSvc *subject.Service
	EnrolSvc   *enrolment.Service
	Shutdown   ShutdownChannel
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		ctx := context.Background()
		if conf.Database.AdminUser != "" {
			if err := database.CreateIfNotExist(ctx, conf); err != nil {
				return nil, err
			}
		}

		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.Env == "DEV" || conf.Env == "TEST" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	subject.InitValidators(validate, translator)
	return validate, translator
}

func newGate(conf *core.Config, hrms *lookup.HRMSClient, logger core.Logger) (*access.Gate, error) {
	return access.NewGate(access.DefaultRouteTable(), hrms, conf.Lookup.Timeout, conf.Server.RoleClaimTTL, logger)
}

func newUserService(
	conf *core.Config,
	repo user.Repository,
	hrms *lookup.HRMSClient,
	sis *lookup.SISClient,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
) (*user.Service, error) {
	return user.NewService(repo, hrms, sis, validate, logger,
		user.WithPasswordReset(conf.SecretKey, conf.Server.PasswordResetTimeout, mailSvc))
}

func newSubjectService(
	repo subject.Repository,
	enrolments enrolment.Repository,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
) (*subject.Service, error) {
	return subject.NewService(repo, enrolments, mailSvc, validate, logger)
}

// newEnrolmentOptions turns attempt throttling on when configured: shared through redis when
// an address is set, per process otherwise.
func newEnrolmentOptions(conf *core.Config, logger core.Logger) ([]enrolment.Option, error) {
	perMinute := conf.Enrolment.MaxAttemptsPerMinute
	if perMinute <= 0 {
		return nil, nil
	}
	if conf.Redis.Addr == "" {
		logger.Info(fmt.Sprintf("throttling enrolments in memory: %d/min", perMinute))
		return []enrolment.Option{enrolment.WithLimiter(throttle.NewMemoryLimiter(perMinute, conf.Enrolment.Burst))}, nil
	}

	rdb, err := throttle.NewRedisClient(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("throttling enrolments in redis at %s: %d/min", conf.Redis.Addr, perMinute))
	return []enrolment.Option{enrolment.WithLimiter(throttle.NewRedisLimiter(rdb, limiterPrefix, perMinute))}, nil
}

func newEnrolmentService(
	repo enrolment.Repository,
	instances subject.Repository,
	users *user.Service,
	mailSvc core.EmailService,
	logger core.Logger,
	opts []enrolment.Option,
) (*enrolment.Service, error) {
	return enrolment.NewService(repo, instances, users, mailSvc, logger, opts...)
}

func newStore(conf *core.Config) (core.ObjectStore, error) {
	return objectstore.New(context.Background(), conf)
}

func newShutdownChannel() ShutdownChannel {
	return make(ShutdownChannel, 1)
}

func newServer(p ServerParams) (echoapi.Server, error) {
	opts := &echoapi.Options{
		Address:         p.Conf.Server.Host,
		Debug:           p.Conf.Debug,
		TestMode:        p.Conf.TestMode,
		RoleClaimTTL:    p.Conf.Server.RoleClaimTTL,
		SignedURLExpiry: p.Conf.ObjectStore.SignedURLExpiry,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		Tokens:          echoapi.NewTokenIssuer(p.Conf),
		Gate:            p.Gate,
		UserSvc:         p.UserSvc,
		SubjectSvc:      p.SubjectSvc,
		EnrolmentSvc:    p.EnrolSvc,
		Roles:           p.HRMS,
		Students:        p.SIS,
		Store:           p.Store,
		SignalShutdown: func() {
			p.Shutdown <- syscall.SIGTERM
		},
	}
	if ds, ok := p.Store.(*objectstore.DiskStore); ok {
		opts.Files = ds
	}
	return echoapi.NewServer(opts)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(newValidator))
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewSubjectRepository, dig.As(new(subject.Repository))))
	must(c.Provide(sqlxrepos.NewEnrolmentRepository, dig.As(new(enrolment.Repository))))
	must(c.Provide(lookup.NewHRMSClient))
	must(c.Provide(lookup.NewSISClient))
	must(c.Provide(newGate))
	must(c.Provide(newStore))
	must(c.Provide(newUserService))
	must(c.Provide(newSubjectService))
	must(c.Provide(newEnrolmentOptions))
	must(c.Provide(newEnrolmentService))
	must(c.Provide(newShutdownChannel))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
