package identity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/shulehq/shule/core"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	// secret policy; a superset of what the provider enforces, so weak
	// secrets are rejected before the cross-system write even starts
	secretMinLen     = 8
	secretMinLenTag  = "secretminlen"
	secretMinLenText = fmt.Sprintf("secret must contain at least %d characters", secretMinLen)

	secretNoSpaceTag  = "secretnospace"
	secretNoSpaceText = "secret must not contain whitespace"

	secretNotAllNumTag  = "secretnotallnum"
	secretNotAllNumText = "secret cannot be entirely numeric"

	secretComplexityTag  = "secretcplx"
	secretComplexityText = "secret must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex         = regexp.MustCompile("[^A-Za-z0-9]")

	secretMaxSim      = .7
	secretAttrSimTag  = "secrettoosim"
	secretAttrSimText = "secret cannot be similar to identity attributes"
)

// InitValidators registers the identity validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	validate.RegisterStructValidation(identityStructValidation, NewIdentity{})
	validate.RegisterStructValidation(identityStructValidation, ChangeSecret{})
	core.RegisterCustomTranslation(validate, translator, secretMinLenTag, secretMinLenText)
	core.RegisterCustomTranslation(validate, translator, secretNoSpaceTag, secretNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, secretNotAllNumTag, secretNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, secretComplexityTag, secretComplexityText)
	core.RegisterCustomTranslation(validate, translator, secretAttrSimTag, secretAttrSimText)
}

// ChangeSecret is the self-service secret change payload; the session token
// travels in the Authorization header, not here.
type ChangeSecret struct {
	NewSecret        string `json:"new_secret" validate:"required"`
	NewSecretConfirm string `json:"new_secret_confirm" validate:"required,eqfield=NewSecret"`
}

func (cs ChangeSecret) Validate(validate *validator.Validate) error {
	return validate.Struct(cs)
}

// Custom Validators

// roleValidation checks that the provided role is in the closed enumeration.
func roleValidation(fl validator.FieldLevel) bool {
	if role, ok := fl.Field().Interface().(Role); ok {
		return role.Valid()
	}
	return false
}

// identityStructValidation applies the secret policy where a secret appears.
func identityStructValidation(sl validator.StructLevel) {
	switch data := sl.Current().Interface().(type) {
	case NewIdentity:
		validateSecret(data.Secret, "secret", "Secret", sl, data.Name, data.Email)
	case ChangeSecret:
		validateSecret(data.NewSecret, "new_secret", "NewSecret", sl)
	}
}

// validateSecret applies the secret policy:
// - minLen: 8
// - no whitespace
// - not all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no similarity to identity attributes
func validateSecret(secret, jsonName, fieldName string, sl validator.StructLevel, attrs ...string) {
	reportErr := func(tag string) {
		sl.ReportError(secret, jsonName, fieldName, tag, "")
	}

	var (
		digitCount         int
		hasUpper, hasLower bool
		hasDig, hasSpecial bool
	)

	secretLen := len(secret)
	if secretLen < secretMinLen {
		reportErr(secretMinLenTag)
		return
	}
	for _, char := range []rune(secret) {
		if unicode.IsSpace(char) {
			reportErr(secretNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	if digitCount == secretLen {
		reportErr(secretNotAllNumTag)
		return
	}

	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(secret)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		reportErr(secretComplexityTag)
		return
	}

	getRatio := func(pass, attr string) float64 {
		if attr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(attr, "")).QuickRatio()
	}
	for _, attr := range attrs {
		if getRatio(secret, attr) >= secretMaxSim {
			reportErr(secretAttrSimTag)
			return
		}
	}
}
