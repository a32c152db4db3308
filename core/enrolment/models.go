package enrolment

import (
	"time"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/subject"
)

// Listing views to refresh after a successful enrolment.
const (
	ViewSubjects  = "/student/subjects"
	ViewDashboard = "/student/dashboard"
)

// Enrolment links a student to a subject instance. The profile fields are a snapshot taken at
// enrolment time and are never re-synced.
type Enrolment struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	InstanceID       string    `json:"subject_instance_id"`
	FullName         string    `json:"full_name"`
	Email            string    `json:"email"`
	GradeLevel       string    `json:"grade_level"`
	EnrollmentStatus string    `json:"enrollment_status,omitempty"`
	Status           string    `json:"status"`
	HasNewContent    bool      `json:"has_new_content"`
	CreatedAt        time.Time `json:"created_at"`
}

// EnrolledInstance is an entry of a student's "my subjects" listing.
type EnrolledInstance struct {
	Enrolment Enrolment              `json:"enrolment"`
	Instance  subject.InstanceDetail `json:"subject_instance"`
}

// Result is the outcome of an enrolment attempt, rendered inline by the client.
type Result struct {
	Success   bool           `json:"success"`
	Error     core.ErrorCode `json:"error,omitempty"`
	Message   string         `json:"message,omitempty"`
	Enrolment *Enrolment     `json:"data,omitempty"`
	Refresh   []string       `json:"refresh,omitempty"`
}

var messages = map[core.ErrorCode]string{
	core.CodeUnauthenticated:     "Unauthorized: Please sign in to enroll in subjects.",
	core.CodeRateLimited:         "Too many enrollment attempts. Please wait a minute and try again.",
	core.CodeNotFound:            "Subject instance not found.",
	core.CodeInvalidCode:         "Invalid enrollment code.",
	core.CodeAlreadyEnrolled:     "You are already enrolled in this subject.",
	core.CodeAccountInactive:     "Your account is not active. Please contact the administrator.",
	core.CodeUpstreamUnavailable: "Your student record could not be checked. Please try again later.",
}

func failure(code core.ErrorCode) Result {
	return Result{Error: code, Message: messages[code]}
}

// Message returns the user facing text of a failure code.
func Message(code core.ErrorCode) string {
	return messages[code]
}
