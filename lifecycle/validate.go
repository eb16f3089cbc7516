package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var (
	validate   = validator.New(validator.WithRequiredStructEnabled())
	textPolicy = bluemonday.StrictPolicy()
)

// Validate 依struct tag檢查請求內容，失敗時回傳ValidationError
func Validate(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Invalid("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return Invalid("%s", strings.Join(msgs, "; "))
}

// Sanitize 移除使用者輸入文字中的所有HTML
func Sanitize(s string) string {
	return strings.TrimSpace(textPolicy.Sanitize(s))
}
