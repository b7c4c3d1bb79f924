package verification

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/maker/core"
)

var (
	codeTag  = "vcode"
	codeText = "invalid verification code"
)

// InitValidators registers the verification validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(codeTag, codeValidation)
	core.RegisterCustomTranslation(validate, translator, codeTag, codeText)
}

// codeValidation accepts any input that normalizes to a well formed code.
func codeValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return IsValidCode(NormalizeCode(str))
	}
	return false
}
