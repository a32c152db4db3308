package lookup

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
)

const sisStudentPath = "/getStudent"

// StudentRecord is a student as the SIS returns it.
type StudentRecord struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	GradeLevel       string `json:"gradeLevel"`
	Status           string `json:"status"`
	EnrollmentStatus string `json:"enrollmentStatus,omitempty"`
	StudentNumber    string `json:"studentNumber"`
	DateOfBirth      string `json:"dateOfBirth,omitempty"`
	Gender           string `json:"gender,omitempty"`
	GuardianName     string `json:"guardianName,omitempty"`
	GuardianContact  string `json:"guardianContact,omitempty"`
	Address          string `json:"address,omitempty"`
}

// Profile maps the record onto the canonical student profile.
func (r StudentRecord) Profile() user.Profile {
	p := user.Profile{
		FullName:         r.Name,
		Email:            r.Email,
		GradeLevel:       r.GradeLevel,
		Status:           r.Status,
		EnrollmentStatus: r.EnrollmentStatus,
		StudentNumber:    r.StudentNumber,
	}
	p.Clean()
	return p
}

// SISClient reads student records.
type SISClient struct {
	*client
}

var _ user.ProfileFetcher = (*SISClient)(nil)

func NewSISClient(conf *core.Config, logger core.Logger) (*SISClient, error) {
	if conf == nil {
		return nil, errors.New("creating sis client: conf is nil")
	}
	c, err := newClient("sis", conf.Lookup.SISBaseURL, conf, logger)
	if err != nil {
		return nil, err
	}
	return &SISClient{c}, nil
}

// FetchStudent returns the SIS record of email, or user.ErrProfileNotFound.
func (c *SISClient) FetchStudent(ctx context.Context, email string) (StudentRecord, error) {
	resp, err := c.post(ctx, sisStudentPath, emailBody{Email: email})
	if err != nil {
		return StudentRecord{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return StudentRecord{}, user.ErrProfileNotFound
	default:
		return StudentRecord{}, c.unexpected(sisStudentPath, resp)
	}

	var rec StudentRecord
	if err = json.Unmarshal([]byte(resp.Body), &rec); err != nil {
		return StudentRecord{}, errors.Wrapf(access.ErrUpstreamUnavailable, "decoding sis student: %v", err)
	}
	return rec, nil
}

func (c *SISClient) FetchProfile(ctx context.Context, email string) (user.Profile, error) {
	rec, err := c.FetchStudent(ctx, email)
	if err != nil {
		return user.Profile{}, err
	}
	return rec.Profile(), nil
}
