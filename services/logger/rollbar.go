package logsvc

import (
	"context"
	"log"
	"regexp"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
)

const serverRoot = "github.com/sjsfi/lms"

// payload keys matching scrubFields are masked before leaving the process
var scrubFields = regexp.MustCompile(`(?i)password|secret|token|signature|uid|enrol(l)?ment_code`)

// RollbarLogger writes every entry to std and reports it to Rollbar.
// The person an entry concerns travels with that entry, never through client-wide state.
type RollbarLogger struct {
	std    *log.Logger
	client *rollbar.Client
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	client := rollbar.New(conf.RollbarToken, conf.Env, conf.Build, conf.Server.Host, serverRoot)
	client.SetStackTracer(rollbarerrors.StackTracer)
	client.SetScrubFields(scrubFields)
	return &RollbarLogger{std: std, client: client}
}

func (l *RollbarLogger) Enable(enabled bool) {
	l.client.SetEnabled(enabled)
}

// Close flushes pending reports.
func (l *RollbarLogger) Close() error {
	return l.client.Close()
}

// entry is a log call sorted out for Rollbar.
type entry struct {
	err    error
	extras map[string]interface{}
	person *rollbar.Person
}

// parseArgs sorts args (errors, map[string]interface{} extras, user.User, access.Principal, anything else).
// The first error is reported as such; a User wins over a Principal as the entry's person.
func parseArgs(args []interface{}) entry {
	e := entry{extras: make(map[string]interface{})}
	var others []interface{}
	for _, arg := range args {
		switch a := arg.(type) {
		case nil:
		case user.User:
			e.person = &rollbar.Person{Id: a.ID, Username: a.Name, Email: a.Email}
			if a.Role != access.RoleNone {
				e.extras["role"] = string(a.Role)
			}
		case access.Principal:
			if e.person == nil {
				e.person = &rollbar.Person{Id: a.CallerID}
			}
			if _, ok := e.extras["role"]; !ok && a.Role != access.RoleNone {
				e.extras["role"] = string(a.Role)
			}
		case error:
			if e.err == nil {
				e.err = a
				if code := core.ErrorCodeOf(a); code != "" {
					e.extras["code"] = string(code)
				}
			} else {
				others = append(others, a.Error())
			}
		case map[string]interface{}:
			for k, v := range a {
				e.extras[k] = v
			}
		default:
			others = append(others, a)
		}
	}
	if len(others) > 0 {
		e.extras["args"] = others
	}
	return e
}

func (l *RollbarLogger) report(level, msg string, args []interface{}) {
	e := parseArgs(args)
	ctx := context.Background()
	if e.person != nil {
		ctx = rollbar.NewPersonContext(ctx, e.person)
	}
	if e.err != nil {
		e.extras["message"] = msg
		l.client.ErrorWithExtrasAndContext(ctx, level, e.err, e.extras)
	} else {
		l.client.MessageWithExtrasAndContext(ctx, level, msg, e.extras)
	}
	l.print(msg, e)
}

func (l *RollbarLogger) print(msg string, e entry) {
	l.std.Println(msg)
	if e.person != nil {
		l.std.Printf("person: %s %s\n", e.person.Id, e.person.Email)
	}
	if e.err != nil {
		l.std.Printf("%+v\n", e.err)
	}
	for k, v := range e.extras {
		if k == "message" {
			continue
		}
		l.std.Printf("%s: %+v\n", k, v)
	}
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	l.report(rollbar.DEBUG, msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	l.report(rollbar.INFO, msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	l.report(rollbar.WARN, msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	l.report(rollbar.ERR, msg, args)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.CRIT, msg, args)
	_ = l.client.Close()
	l.std.Fatal(msg)
}
