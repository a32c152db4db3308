package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"sort"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	appfs "github.com/sjsfi/lms/fs"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to the user's name or email"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "password is too common"
	commonPasswords = make([]string, 0, 128)

	pwdTexts = map[string]string{
		pwdMinLenTag:    pwdMinLenText,
		pwdNoSpaceTag:   pwdNoSpaceText,
		pwdNotAllNumTag: pwdNotAllNumText,
		pwdAttrSimTag:   pwdAttrSimText,
		pwdNoCommonTag:  pwdNoCommonText,
	}
)

func init() {
	loadCommonPasswords()
}

func loadCommonPasswords() {
	file, err := appfs.FS.Open("assets/common-passwords.txt.gz")
	if err != nil {
		return
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()
	if gzRdr, err := gzip.NewReader(file); err == nil {
		scanner := bufio.NewScanner(gzRdr)
		for scanner.Scan() {
			if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
				commonPasswords = append(commonPasswords, strings.ToLower(pwd))
			}
		}
	}
	sort.Strings(commonPasswords)
}

// InitValidators registers the user validation tags. core.InitValidators must run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	_ = validate.RegisterValidation(pwdMinLenTag, fieldPasswordRule(pwdMinLenOK))
	_ = validate.RegisterValidation(pwdNoSpaceTag, fieldPasswordRule(pwdNoSpaceOK))
	_ = validate.RegisterValidation(pwdNotAllNumTag, fieldPasswordRule(pwdNotAllNumOK))
	_ = validate.RegisterValidation(pwdNoCommonTag, fieldPasswordRule(pwdNoCommonOK))
	validate.RegisterStructValidation(newUserStructValidation, NewUser{})
	for tag, text := range pwdTexts {
		core.RegisterCustomTranslation(validate, translator, tag, text)
	}
}

// roleValidation checks that the field holds one of the LMS roles.
func roleValidation(fl validator.FieldLevel) bool {
	return access.Role(fl.Field().String()).Valid()
}

func fieldPasswordRule(ok func(pwd string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return ok(fl.Field().String())
	}
}

// newUserStructValidation rejects passwords resembling the new user's name or email.
func newUserStructValidation(sl validator.StructLevel) {
	nu, ok := sl.Current().Interface().(NewUser)
	if !ok || nu.Password == "" {
		return
	}
	if !pwdNotSimilarOK(nu.Password, nu.Name, nu.Email) {
		sl.ReportError(nu.Password, "password", "Password", pwdAttrSimTag, "")
	}
}

// checkPassword applies the password policy and returns the tag of the first rule pwd breaks, if any:
//   - minLen: 8
//   - no whitespace
//   - not all numeric
//   - not similar to the user's name or email
//   - not a common password
func checkPassword(pwd, name, email string) string {
	switch {
	case !pwdMinLenOK(pwd):
		return pwdMinLenTag
	case !pwdNoSpaceOK(pwd):
		return pwdNoSpaceTag
	case !pwdNotAllNumOK(pwd):
		return pwdNotAllNumTag
	case !pwdNotSimilarOK(pwd, name, email):
		return pwdAttrSimTag
	case !pwdNoCommonOK(pwd):
		return pwdNoCommonTag
	}
	return ""
}

func pwdMinLenOK(pwd string) bool {
	return len([]rune(pwd)) >= pwdMinLen
}

func pwdNoSpaceOK(pwd string) bool {
	return strings.IndexFunc(pwd, unicode.IsSpace) == -1
}

func pwdNotAllNumOK(pwd string) bool {
	return pwd == "" || strings.IndexFunc(pwd, func(r rune) bool { return !unicode.IsDigit(r) }) != -1
}

func pwdNotSimilarOK(pwd, name, email string) bool {
	attrs := []string{name, email}
	if at := strings.IndexByte(email, '@'); at > 0 {
		attrs = append(attrs, email[:at])
	}
	lpwd := strings.Split(strings.ToLower(pwd), "")
	for _, attr := range attrs {
		if attr == "" {
			continue
		}
		m := difflib.NewMatcher(lpwd, strings.Split(strings.ToLower(attr), ""))
		if m.QuickRatio() >= pwdMaxSim {
			return false
		}
	}
	return true
}

func pwdNoCommonOK(pwd string) bool {
	lpwd := strings.ToLower(pwd)
	idx := sort.SearchStrings(commonPasswords, lpwd)
	return idx == len(commonPasswords) || commonPasswords[idx] != lpwd
}
