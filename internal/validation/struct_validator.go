package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	limiterrors "limitcli/internal/errors"
)

// structValidate is the shared validator instance. Initialized in init()
// with the custom rules below.
var structValidate *validator.Validate

func init() {
	structValidate = validator.New()

	// Report yaml names so messages match what users wrote
	structValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = structValidate.RegisterValidation("probability", validateProbability)
}

// validateProbability accepts values strictly inside (0, 1)
func validateProbability(fl validator.FieldLevel) bool {
	v := fl.Field().Float()
	return v > 0 && v < 1
}

// Struct validates s against its `validate` tags. Failures are returned as a
// single VALIDATION error listing every offending field.
func Struct(s interface{}) error {
	err := structValidate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return limiterrors.NewValidationError("validation failed", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Namespace())
		msgs = append(msgs, describe(fe))
	}
	return limiterrors.NewValidationError(strings.Join(msgs, "; "), err).
		WithContext("fields", strings.Join(fields, ","))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Namespace(), fe.Param(), fe.Value())
	case "probability":
		return fmt.Sprintf("%s must lie strictly between 0 and 1, got %v", fe.Namespace(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", fe.Namespace(), fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", fe.Namespace(), fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s, got %v", fe.Namespace(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag())
	}
}
