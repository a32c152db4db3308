package lookup

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
)

const hrmsRolePath = "/user-access-lookup"

// HRMSClient resolves staff roles.
type HRMSClient struct {
	*client
}

var _ access.RoleResolver = (*HRMSClient)(nil)

func NewHRMSClient(conf *core.Config, logger core.Logger) (*HRMSClient, error) {
	if conf == nil {
		return nil, errors.New("creating hrms client: conf is nil")
	}
	c, err := newClient("hrms", conf.Lookup.HRMSBaseURL, conf, logger)
	if err != nil {
		return nil, err
	}
	return &HRMSClient{c}, nil
}

type roleResponse struct {
	Role []string `json:"Role"`
}

// ResolveRole returns the first role HRMS holds for email.
// A person HRMS does not know, or knows without an LMS role, has access.RoleNone.
func (c *HRMSClient) ResolveRole(ctx context.Context, email string) (access.Role, error) {
	raw, err := c.RawRole(ctx, email)
	if err != nil {
		return access.RoleNone, err
	}
	return access.ParseRole(raw), nil
}

// RawRole returns the first HRMS role of email lower-cased, unknown values included,
// or "" when there is none. It backs the public role-lookup endpoint.
func (c *HRMSClient) RawRole(ctx context.Context, email string) (string, error) {
	resp, err := c.post(ctx, hrmsRolePath, emailBody{Email: email})
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", c.unexpected(hrmsRolePath, resp)
	}

	var data roleResponse
	if err = json.Unmarshal([]byte(resp.Body), &data); err != nil {
		return "", errors.Wrapf(access.ErrUpstreamUnavailable, "decoding hrms role: %v", err)
	}
	if len(data.Role) == 0 {
		return "", nil
	}
	return core.CleanString(data.Role[0], true /* lower */), nil
}
