package subject

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/sjsfi/lms/core"
)

const (
	minEnrolmentCode = 1
	maxEnrolmentCode = 9999
)

var (
	enrolCodeTag  = "enrolcode"
	enrolCodeText = fmt.Sprintf("enrolment code must be a number between %d and %d", minEnrolmentCode, maxEnrolmentCode)

	reqTypeTag  = "reqtype"
	reqTypeText = "type must be one of " + strings.Join(RequirementTypes, ", ")
)

// InitValidators registers the subject validation tags. core.InitValidators must run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(enrolCodeTag, enrolCodeValidation)
	core.RegisterCustomTranslation(validate, translator, enrolCodeTag, enrolCodeText)

	_ = validate.RegisterValidation(reqTypeTag, reqTypeValidation)
	core.RegisterCustomTranslation(validate, translator, reqTypeTag, reqTypeText)
}

func enrolCodeValidation(fl validator.FieldLevel) bool {
	code := fl.Field().Int()
	return code >= minEnrolmentCode && code <= maxEnrolmentCode
}

func reqTypeValidation(fl validator.FieldLevel) bool {
	t := fl.Field().String()
	for _, rt := range RequirementTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// normalizeType turns "FORUM" or "forum" into "Forum".
func normalizeType(t string) string {
	t = core.CleanString(t, true /* lower */)
	if t == "" {
		return t
	}
	return strings.ToUpper(t[:1]) + t[1:]
}
