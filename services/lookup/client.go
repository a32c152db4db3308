// Package lookup calls the school HR (HRMS) and student information (SIS) systems.
// Every call is a signed POST carrying a bearer token, a millisecond timestamp and an HMAC signature.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/metrics"
)

var nowFunc = time.Now // mockable

type emailBody struct {
	Email string `json:"email"`
}

type client struct {
	service string
	baseURL string
	bearer  string
	signer  Signer
	timeout time.Duration
	rest    *rest.Client
	logger  core.Logger
}

func newClient(service, baseURL string, conf *core.Config, logger core.Logger) (*client, error) {
	err := vala.BeginValidation().Validate(
		core.IsNotNil(conf, "conf"),
		core.IsNotNil(logger, "logger"),
	).Check()
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s client", service)
	}
	err = vala.BeginValidation().Validate(
		vala.StringNotEmpty(baseURL, service+" base URL"),
		vala.StringNotEmpty(conf.Lookup.SigningSecret, "signing secret"),
		vala.GreaterThan(int(conf.Lookup.Timeout), 0, "timeout"),
	).Check()
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s client", service)
	}

	return &client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		bearer:  conf.Lookup.BearerToken,
		signer:  NewSigner(conf.Lookup.SigningSecret),
		timeout: conf.Lookup.Timeout,
		rest:    &rest.Client{HTTPClient: &http.Client{Timeout: conf.Lookup.Timeout}},
		logger:  logger,
	}, nil
}

// post sends a signed JSON body to path. Transport errors and 5xx responses are
// reported as access.ErrUpstreamUnavailable; other statuses are left to the caller.
func (c *client) post(ctx context.Context, path string, body interface{}) (resp *rest.Response, err error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding body")
	}
	ts := timestamp(nowFunc())
	req := rest.Request{
		Method:  rest.Post,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.bearer,
			"Content-Type":  "application/json",
			"x-timestamp":   ts,
			"x-signature":   c.signer.Sign(raw, ts),
		},
		Body: raw,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.UpstreamLookups.WithLabelValues(c.service, outcome).Observe(time.Since(start).Seconds())
	}()

	resp, err = c.send(ctx, req)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("%s %s: %v", c.service, path, err), err)
		return nil, errors.Wrapf(access.ErrUpstreamUnavailable, "%s %s: %v", c.service, path, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Warn(fmt.Sprintf("%s %s: status %d", c.service, path, resp.StatusCode), resp.Body)
		return nil, errors.Wrapf(access.ErrUpstreamUnavailable, "%s %s: status %d", c.service, path, resp.StatusCode)
	}
	return resp, nil
}

// send is rest.Client.Send bound to ctx.
func (c *client) send(ctx context.Context, req rest.Request) (*rest.Response, error) {
	hreq, err := rest.BuildRequestObject(req)
	if err != nil {
		return nil, err
	}
	res, err := c.rest.MakeRequest(hreq.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return rest.BuildResponse(res)
}

func (c *client) unexpected(path string, resp *rest.Response) error {
	c.logger.Warn(fmt.Sprintf("%s %s: unexpected status %d", c.service, path, resp.StatusCode), resp.Body)
	return errors.Wrapf(access.ErrUpstreamUnavailable, "%s %s: unexpected status %d", c.service, path, resp.StatusCode)
}
