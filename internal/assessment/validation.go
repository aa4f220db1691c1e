package assessment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rpattn/assessor/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PayloadValidator returns the engine validator for payload type P. Field
// failures are reported together and wrapped in domain.ErrValidation.
func PayloadValidator[P any]() func(P) error {
	return func(payload P) error {
		err := validate.Struct(payload)
		if err == nil {
			return nil
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		messages := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			messages = append(messages, fmt.Sprintf("%s failed %s", fe.Namespace(), describeTag(fe)))
		}
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(messages, "; "))
	}
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
