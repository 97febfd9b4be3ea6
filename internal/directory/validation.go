package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/companydir/companydir/internal/shared"
)

// requestValidator turns validator failures into bad-request errors.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *requestValidator) Struct(target any) error {
	if err := v.validate.Struct(target); err != nil {
		return badRequest(err)
	}
	return nil
}

// Query requires a non-empty value. Whitespace is a valid substring query.
func (v *requestValidator) Query(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: query parameter %q is required", shared.ErrBadRequest, name)
	}
	return nil
}

func badRequest(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", shared.ErrBadRequest, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", shared.ErrBadRequest, strings.Join(parts, ", "))
}
