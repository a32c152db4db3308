package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug            bool
		TestMode         bool
		Env              string
		Build            string
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridAPIKey   string
		RollbarToken     string

		Server      ServerConfig
		Database    DatabaseConfig
		Lookup      LookupConfig
		Enrolment   EnrolmentConfig
		Redis       RedisConfig
		ObjectStore ObjectStoreConfig
	}

	ServerConfig struct {
		Host                          string
		DebugHost                     string
		ShutdownTimeout               time.Duration
		SessionExpirationDelta        time.Duration
		SessionRefreshExpirationDelta time.Duration
		// RoleClaimTTL is how long a role claim carried by a session is trusted before the
		// role is looked up again.
		RoleClaimTTL time.Duration
		// PasswordResetTimeout is how long a password reset link stays valid. Rounded down to days.
		PasswordResetTimeout time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		Name          string
		DisableTLS    bool
	}

	// LookupConfig configures the signed calls made to the HR (roles) and student information systems.
	LookupConfig struct {
		HRMSBaseURL   string
		SISBaseURL    string
		BearerToken   string
		SigningSecret string
		Timeout       time.Duration
	}

	EnrolmentConfig struct {
		MaxAttemptsPerMinute int // 0 disables throttling
		Burst                int
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	ObjectStoreConfig struct {
		Driver          string // disk | minio
		Bucket          string
		Endpoint        string
		AccessKey       string
		SecretKey       string
		UseSSL          bool
		Root            string
		SignedURLExpiry time.Duration
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// NewConfig loads the app configuration from defaults, `config/.env.<env>` (if present) and the environment.
// Environment variables are prefixed with the upper-cased env name, e.g. `PROD_DATABASE_PASSWORD`.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "SJSFI LMS")
	v.SetDefault("secretKey", "k2v#9r!w@q6u*e0z^lm3x8$c1b7n5t4a-y&p+o(s)d=f_g")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("sendgridAPIKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.sessionExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.sessionRefreshExpirationDelta", 30*24*time.Hour)
	v.SetDefault("server.roleClaimTTL", 15*time.Minute)
	v.SetDefault("server.passwordResetTimeout", 3*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.user", "lms")
	v.SetDefault("database.password", "lms")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "lms")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("lookup.hrmsBaseURL", "https://hrms.localhost/api/xr")
	v.SetDefault("lookup.sisBaseURL", "https://sis.localhost/api/xr")
	v.SetDefault("lookup.bearerToken", "")
	v.SetDefault("lookup.signingSecret", "")
	v.SetDefault("lookup.timeout", 5*time.Second)

	v.SetDefault("enrolment.maxAttemptsPerMinute", 0)
	v.SetDefault("enrolment.burst", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("objectStore.driver", "disk")
	v.SetDefault("objectStore.bucket", "lms")
	v.SetDefault("objectStore.endpoint", "")
	v.SetDefault("objectStore.accessKey", "")
	v.SetDefault("objectStore.secretKey", "")
	v.SetDefault("objectStore.useSSL", true)
	v.SetDefault("objectStore.root", filepath.Join(os.TempDir(), "lms-objects"))
	v.SetDefault("objectStore.signedURLExpiry", time.Hour)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		Env:             env,
		Build:           v.GetString("build"),
		AppName:         v.GetString("appName"),
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		SendgridAPIKey:  v.GetString("sendgridAPIKey"),
		RollbarToken:    v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                          v.GetString("server.host"),
			DebugHost:                     v.GetString("server.debugHost"),
			ShutdownTimeout:               v.GetDuration("server.shutdownTimeout"),
			SessionExpirationDelta:        v.GetDuration("server.sessionExpirationDelta"),
			SessionRefreshExpirationDelta: v.GetDuration("server.sessionRefreshExpirationDelta"),
			RoleClaimTTL:                  v.GetDuration("server.roleClaimTTL"),
			PasswordResetTimeout:          v.GetDuration("server.passwordResetTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Lookup: LookupConfig{
			HRMSBaseURL:   v.GetString("lookup.hrmsBaseURL"),
			SISBaseURL:    v.GetString("lookup.sisBaseURL"),
			BearerToken:   v.GetString("lookup.bearerToken"),
			SigningSecret: v.GetString("lookup.signingSecret"),
			Timeout:       v.GetDuration("lookup.timeout"),
		},
		Enrolment: EnrolmentConfig{
			MaxAttemptsPerMinute: v.GetInt("enrolment.maxAttemptsPerMinute"),
			Burst:                v.GetInt("enrolment.burst"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		ObjectStore: ObjectStoreConfig{
			Driver:          v.GetString("objectStore.driver"),
			Bucket:          v.GetString("objectStore.bucket"),
			Endpoint:        v.GetString("objectStore.endpoint"),
			AccessKey:       v.GetString("objectStore.accessKey"),
			SecretKey:       v.GetString("objectStore.secretKey"),
			UseSSL:          v.GetBool("objectStore.useSSL"),
			Root:            v.GetString("objectStore.root"),
			SignedURLExpiry: v.GetDuration("objectStore.signedURLExpiry"),
		},
	}

	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatal(fmt.Errorf("config.defaultFromEmail: %v", err))
	}
	conf.DefaultFromEmail = *from
	return conf
}

// NewTestConfig returns the configuration used by tests: TEST mode, no external services.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.TestMode = true
	conf.Env = "TEST"
	conf.SecretKey = "test-secret"
	conf.Lookup.SigningSecret = "test-signing-secret"
	conf.Lookup.BearerToken = "test-bearer"
	conf.Lookup.Timeout = time.Second
	return conf
}
