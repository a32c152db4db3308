package subject

import (
	"fmt"
	"strings"
	"time"
)

const icsTimeLayout = "20060102T150405Z"

var icsEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

// deadlineEvent renders an iCalendar invite for the deadline of req, or "" when it has none.
func deadlineEvent(req Requirement, stamp time.Time) string {
	if req.Deadline == nil {
		return ""
	}
	due := req.Deadline.UTC().Format(icsTimeLayout)
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//SJSFI//LMS//EN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		fmt.Sprintf("UID:%s@lms.sjsfi.edu.ph", req.ID),
		"DTSTAMP:" + stamp.UTC().Format(icsTimeLayout),
		"DTSTART:" + due,
		"DTEND:" + due,
		"SUMMARY:" + icsEscaper.Replace(fmt.Sprintf("%s %d due: %s", req.Type, req.Number, req.Title)),
		"END:VEVENT",
		"END:VCALENDAR",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}
